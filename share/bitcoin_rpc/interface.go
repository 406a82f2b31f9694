package bitcoin_rpc

import "github.com/OLProtocol/go-bitcoind"

type BitcoinRPC interface {
	TestTx(signedTxHex string) (*bitcoind.TransactionTestResult, error)

	GetRawTx(txid string) (string, error)

	GetBlockCount() (uint64, error)
	GetBestBlockHash() (string, error)
	GetBlockVerbose(blockHash string) (*bitcoind.Block, error)

	GetMemPool() (txId []string, err error)
	GetMemPoolEntry(txid string) (*bitcoind.MemPoolEntry, error)
}

var ShareBitconRpc BitcoinRPC
