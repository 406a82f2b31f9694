package bitcoin_rpc

import (
	"fmt"
	"time"

	"github.com/OLProtocol/go-bitcoind"
	retry "github.com/avast/retry-go"
	"github.com/pkg/errors"
)

func InitBitconRpc(host string, port int, user, passwd string, useSSL bool) error {
	rpc, err := bitcoind.New(
		host,
		port,
		user,
		passwd,
		useSSL,
		120,
	)
	if err != nil {
		return err
	}
	client := &BitcoindRPC{
		bitcoind: rpc,
	}

	// Probe connectivity before handing the client out.
	err = retry.Do(
		func() error {
			_, err := client.GetBlockCount()
			return err
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
	)
	if err != nil {
		return errors.Wrapf(err, "bitcoind unreachable at %s:%d", host, port)
	}

	ShareBitconRpc = client
	return nil
}

type BitcoindRPC struct {
	bitcoind *bitcoind.Bitcoind
}

func (p *BitcoindRPC) TestTx(signedTxHex string) (*bitcoind.TransactionTestResult, error) {
	resp, err := p.bitcoind.TestMempoolAccept(signedTxHex)
	if err != nil {
		return nil, err
	}
	ret, ok := resp.(bitcoind.TransactionTestResult)
	if !ok {
		return nil, fmt.Errorf("invalid TransactionTestResult type")
	}
	return &ret, nil
}

func (p *BitcoindRPC) GetRawTx(txid string) (string, error) {
	resp, err := p.bitcoind.GetRawTransaction(txid, false)
	if err != nil {
		return "", err
	}
	ret, ok := resp.(string)
	if !ok {
		return "", fmt.Errorf("invalid string type")
	}
	return ret, nil
}

func (p *BitcoindRPC) GetBlockCount() (uint64, error) {
	return p.bitcoind.GetBlockCount()
}

func (p *BitcoindRPC) GetBestBlockHash() (string, error) {
	return p.bitcoind.GetBestBlockhash()
}

func (p *BitcoindRPC) GetBlockVerbose(blockHash string) (*bitcoind.Block, error) {
	block, err := p.bitcoind.GetBlock(blockHash)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (p *BitcoindRPC) GetMemPool() ([]string, error) {
	return p.bitcoind.GetRawMempool()
}

func (p *BitcoindRPC) GetMemPoolEntry(txId string) (*bitcoind.MemPoolEntry, error) {
	return p.bitcoind.GetMemPoolEntry(txId)
}
