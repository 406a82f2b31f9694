package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"

	"github.com/torkelrogstad/cusf-enforcer-mempool/common"
)

func InitLog(conf *YamlConf) error {
	var logPath string
	var lvl logrus.Level
	if conf != nil {
		logPath = conf.Log.Path
		var err error
		lvl, err = logrus.ParseLevel(conf.Log.Level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
	} else {
		lvl = logrus.InfoLevel
	}

	var writers []io.Writer
	writers = append(writers, os.Stdout)
	if logPath != "" {
		exePath, _ := os.Executable()
		executableName := filepath.Base(exePath)
		fileHook, err := rotatelogs.New(
			logPath+"/"+executableName+".%Y%m%d%H%M.log",
			rotatelogs.WithLinkName(logPath+"/"+executableName+".log"),
			rotatelogs.WithMaxAge(30*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return err
		}
		writers = append(writers, fileHook)
	}

	common.Log.SetOutput(io.MultiWriter(writers...))
	common.Log.SetLevel(lvl)
	return nil
}
