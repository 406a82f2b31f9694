package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

type YamlConf struct {
	Chain      string     `yaml:"chain"`
	ShareRPC   ShareRPC   `yaml:"share_rpc"`
	ZMQ        ZMQ        `yaml:"zmq"`
	Log        Log        `yaml:"log"`
	Enforcer   Enforcer   `yaml:"enforcer"`
	RPCService RPCService `yaml:"rpc_service"`
}

type ShareRPC struct {
	Bitcoin Bitcoin `yaml:"bitcoin"`
}

type Bitcoin struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type ZMQ struct {
	// Endpoint of bitcoind's zmqpubsequence publisher, e.g. tcp://127.0.0.1:28332
	Sequence string `yaml:"sequence"`
}

type Log struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

type Enforcer struct {
	// Admission policy: allow | node
	Mode string `yaml:"mode"`
	// Capacity of the rejected-txid cache
	RejectedCacheSize int `yaml:"rejected_cache_size"`
}

type RPCService struct {
	Addr    string `yaml:"addr"`
	Proxy   string `yaml:"proxy"`
	LogPath string `yaml:"log_path"`
}

const defaultConfigFile = "config.yaml"

func InitConfig(cfgPath string) *YamlConf {
	if cfgPath == "" {
		exePath, _ := os.Executable()
		cfgPath = filepath.Join(filepath.Dir(exePath), defaultConfigFile)
		if _, err := os.Stat(cfgPath); err != nil {
			cfgPath = defaultConfigFile
		}
	}

	conf, err := loadConf(cfgPath)
	if err != nil {
		fmt.Printf("load config %s failed: %v, using defaults\n", cfgPath, err)
		conf = &YamlConf{}
	}
	applyDefaults(conf)
	return conf
}

func loadConf(cfgPath string) (*YamlConf, error) {
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, err
	}
	conf := &YamlConf{}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

func applyDefaults(conf *YamlConf) {
	if conf.Chain == "" {
		conf.Chain = "mainnet"
	}
	if conf.ShareRPC.Bitcoin.Host == "" {
		conf.ShareRPC.Bitcoin.Host = "127.0.0.1"
	}
	if conf.ShareRPC.Bitcoin.Port == 0 {
		conf.ShareRPC.Bitcoin.Port = 8332
	}
	if conf.ZMQ.Sequence == "" {
		conf.ZMQ.Sequence = fmt.Sprintf("tcp://%s:28332", conf.ShareRPC.Bitcoin.Host)
	}
	if conf.Log.Level == "" {
		conf.Log.Level = "info"
	}
	if conf.Enforcer.Mode == "" {
		conf.Enforcer.Mode = "allow"
	}
	if conf.Enforcer.RejectedCacheSize == 0 {
		conf.Enforcer.RejectedCacheSize = 5000
	}
}
