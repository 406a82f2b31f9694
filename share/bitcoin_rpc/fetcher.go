package bitcoin_rpc

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/torkelrogstad/cusf-enforcer-mempool/common"
	"github.com/torkelrogstad/cusf-enforcer-mempool/mempool"
)

// Fetcher adapts the node RPC into the sync layer's fetch interface,
// decoding raw hex into wire types.
type Fetcher struct {
	rpc BitcoinRPC
}

func NewFetcher(rpc BitcoinRPC) *Fetcher {
	return &Fetcher{rpc: rpc}
}

func (f *Fetcher) FetchTx(txid chainhash.Hash) (*wire.MsgTx, error) {
	raw, err := f.rpc.GetRawTx(txid.String())
	if err != nil {
		return nil, errors.Wrapf(err, "getrawtransaction %s", txid)
	}
	return DecodeMsgTx(raw)
}

func (f *Fetcher) FetchBlock(hash chainhash.Hash) (*mempool.Block, error) {
	verbose, err := f.rpc.GetBlockVerbose(hash.String())
	if err != nil {
		return nil, errors.Wrapf(err, "getblock %s", hash)
	}

	block := &mempool.Block{
		Hash:   hash,
		Height: int64(verbose.Height),
		Txids:  make([]chainhash.Hash, 0, len(verbose.Tx)),
	}
	// The genesis block has no previous hash; the zero sentinel stands in.
	if verbose.Previousblockhash != "" {
		prev, err := chainhash.NewHashFromStr(verbose.Previousblockhash)
		if err != nil {
			return nil, errors.Wrapf(err, "bad previousblockhash of %s", hash)
		}
		block.PrevHash = *prev
	}
	for _, txidStr := range verbose.Tx {
		txid, err := chainhash.NewHashFromStr(txidStr)
		if err != nil {
			return nil, errors.Wrapf(err, "bad txid in block %s", hash)
		}
		block.Txids = append(block.Txids, *txid)
	}
	return block, nil
}

// DecodeMsgTx deserializes a hex-encoded raw transaction.
func DecodeMsgTx(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode raw tx hex")
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(err, "deserialize tx")
	}
	return tx, nil
}

// LoadMempool seeds the replica with the node's current mempool: txids from
// getrawmempool, each tx's fee from getmempoolentry, and the raw tx from
// getrawtransaction. Unconfirmed txs are always servable, so no -txindex is
// needed. A tx that leaves the node's mempool between calls is skipped; the
// live feed carries its removal.
func LoadMempool(rpc BitcoinRPC, pool *mempool.Mempool) error {
	txidStrs, err := rpc.GetMemPool()
	if err != nil {
		return errors.Wrap(err, "getrawmempool")
	}
	for _, txidStr := range txidStrs {
		entry, err := rpc.GetMemPoolEntry(txidStr)
		if err != nil {
			common.Log.Debugf("mempool entry %s gone: %v", txidStr, err)
			continue
		}
		raw, err := rpc.GetRawTx(txidStr)
		if err != nil {
			common.Log.Debugf("mempool tx %s gone: %v", txidStr, err)
			continue
		}
		tx, err := DecodeMsgTx(raw)
		if err != nil {
			return errors.Wrapf(err, "mempool tx %s", txidStr)
		}
		fee, err := btcutil.NewAmount(entry.Fees.Base)
		if err != nil {
			return errors.Wrapf(err, "bad fee of %s", txidStr)
		}
		if err := pool.Insert(tx, int64(fee)); err != nil {
			return errors.Wrapf(err, "seed %s", txidStr)
		}
	}
	common.Log.Infof("seeded replica with %d mempool txs", len(pool.Txs))
	return nil
}
