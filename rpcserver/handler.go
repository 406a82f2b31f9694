package rpcserver

import (
	"net/http"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"

	"github.com/torkelrogstad/cusf-enforcer-mempool/mempool"
	"github.com/torkelrogstad/cusf-enforcer-mempool/netsync"
)

type BaseResp struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type HealthStatusResp struct {
	Status string `json:"status"`
	Tip    string `json:"tip"`
	TxNum  int    `json:"txnum"`
}

type TipResp struct {
	BaseResp
	Data string `json:"data"`
}

type MempoolTxidsResp struct {
	BaseResp
	Data []string `json:"data"`
}

type MempoolTxData struct {
	Txid     string `json:"txid"`
	FeeDelta string `json:"fee_delta"`
	Vin      int    `json:"vin"`
	Vout     int    `json:"vout"`
}

type MempoolTxResp struct {
	BaseResp
	Data *MempoolTxData `json:"data"`
}

type Service struct {
	sync *netsync.MempoolSync
}

func NewService(sync *netsync.MempoolSync) *Service {
	return &Service{sync: sync}
}

func (s *Service) getHealth(c *gin.Context) {
	rsp := &HealthStatusResp{Status: "ok"}
	if s.sync.PendingEvents() > 0 {
		rsp.Status = "syncing"
	}
	s.sync.WithMempool(func(pool *mempool.Mempool) {
		rsp.Tip = pool.Chain.Tip.String()
		rsp.TxNum = len(pool.Txs)
	})
	c.JSON(http.StatusOK, rsp)
}

func (s *Service) getTip(c *gin.Context) {
	resp := &TipResp{BaseResp: BaseResp{Code: 0, Msg: "ok"}}
	s.sync.WithMempool(func(pool *mempool.Mempool) {
		resp.Data = pool.Chain.Tip.String()
	})
	c.JSON(http.StatusOK, resp)
}

func (s *Service) getMempoolTxids(c *gin.Context) {
	resp := &MempoolTxidsResp{BaseResp: BaseResp{Code: 0, Msg: "ok"}}
	s.sync.WithMempool(func(pool *mempool.Mempool) {
		resp.Data = make([]string, 0, len(pool.Txs))
		for txid := range pool.Txs {
			resp.Data = append(resp.Data, txid.String())
		}
	})
	c.JSON(http.StatusOK, resp)
}

func (s *Service) getMempoolTx(c *gin.Context) {
	resp := &MempoolTxResp{BaseResp: BaseResp{Code: 0, Msg: "ok"}}
	txid, err := chainhash.NewHashFromStr(c.Param("txid"))
	if err != nil {
		resp.Code = -1
		resp.Msg = err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}
	s.sync.WithMempool(func(pool *mempool.Mempool) {
		entry, ok := pool.Txs[*txid]
		if !ok {
			resp.Code = -1
			resp.Msg = "tx not in mempool"
			return
		}
		resp.Data = &MempoolTxData{
			Txid:     txid.String(),
			FeeDelta: btcutil.Amount(entry.FeeDelta).String(),
			Vin:      len(entry.Tx.TxIn),
			Vout:     len(entry.Tx.TxOut),
		}
	})
	c.JSON(http.StatusOK, resp)
}
