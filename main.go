package main

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/torkelrogstad/cusf-enforcer-mempool/common"
	"github.com/torkelrogstad/cusf-enforcer-mempool/config"
	"github.com/torkelrogstad/cusf-enforcer-mempool/enforcer"
	"github.com/torkelrogstad/cusf-enforcer-mempool/mempool"
	"github.com/torkelrogstad/cusf-enforcer-mempool/netsync"
	"github.com/torkelrogstad/cusf-enforcer-mempool/rpcserver"
	"github.com/torkelrogstad/cusf-enforcer-mempool/share/bitcoin_rpc"
	"github.com/torkelrogstad/cusf-enforcer-mempool/zmq"
)

func init() {
	config.InitSigInt()
}

func main() {
	yamlcfg := config.InitConfig("")
	config.InitLog(yamlcfg)

	common.Log.Info("Starting...")
	defer common.Log.Info("shut down")

	btccfg := yamlcfg.ShareRPC.Bitcoin
	err := bitcoin_rpc.InitBitconRpc(btccfg.Host, btccfg.Port, btccfg.User, btccfg.Password, false)
	if err != nil {
		common.Log.Error(err)
		return
	}

	listener, err := zmq.NewListener(yamlcfg.ZMQ.Sequence)
	if err != nil {
		common.Log.Error(err)
		return
	}
	live := listener.Run()

	pool := mempool.NewMempool()
	tipStr, err := bitcoin_rpc.ShareBitconRpc.GetBestBlockHash()
	if err != nil {
		common.Log.Error(err)
		return
	}
	tip, err := chainhash.NewHashFromStr(tipStr)
	if err != nil {
		common.Log.Error(err)
		return
	}
	pool.Chain.Tip = *tip

	// Seed after the listener is up: events that race the snapshot replay
	// from the live feed and reconcile on top of it.
	if err := bitcoin_rpc.LoadMempool(bitcoin_rpc.ShareBitconRpc, pool); err != nil {
		common.Log.Error(err)
		return
	}
	common.Log.Infof("tip %s", tip)

	var enf enforcer.Enforcer
	switch yamlcfg.Enforcer.Mode {
	case "node":
		enf = enforcer.NewNodePolicy(bitcoin_rpc.ShareBitconRpc)
	default:
		enf = enforcer.AllowAll{}
	}

	sync := netsync.New(enf, pool, bitcoin_rpc.NewFetcher(bitcoin_rpc.ShareBitconRpc),
		live, netsync.WithRejectedCacheSize(yamlcfg.Enforcer.RejectedCacheSize))

	if yamlcfg.RPCService.Addr != "" {
		rpc := rpcserver.NewRpc(sync)
		err = rpc.Start(yamlcfg.RPCService.Addr, yamlcfg.RPCService.Proxy, yamlcfg.RPCService.LogPath)
		if err != nil {
			common.Log.Error(err)
			return
		}
	}

	done := make(chan struct{})
	config.RegistSigIntFunc(func() {
		listener.Close()
		sync.Stop()
		close(done)
	})
	<-done
}
