package mempool

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrTxInMempool is returned when inserting a txid that is already
	// tracked by the replica.
	ErrTxInMempool = errors.New("tx already exists in mempool")

	// ErrOutpointConflict is returned when an inserted tx spends an
	// outpoint that another tracked tx already spends.
	ErrOutpointConflict = errors.New("tx input conflicts with mempool tx")
)

// TxEntry is a tracked unconfirmed transaction together with its fee delta
// (total input value minus total output value, in sats).
type TxEntry struct {
	Tx       *wire.MsgTx
	FeeDelta int64
}

// Block is the subset of block data the replica needs: its position in the
// chain and the ordered txids it confirmed. Removed retains the mempool
// entries that were evicted when this block connected, so that a later
// disconnect of the same block can re-admit them with their fee deltas.
type Block struct {
	Hash     chainhash.Hash
	PrevHash chainhash.Hash
	Height   int64
	Txids    []chainhash.Hash

	Removed map[chainhash.Hash]*TxEntry
}

// Chain tracks the node's best block and every block fetched so far. Blocks
// is append-only for the lifetime of the process.
type Chain struct {
	Tip    chainhash.Hash
	Blocks map[chainhash.Hash]*Block
}

// Mempool is the in-process replica of the node's mempool and chain tip.
// It is a plain container: all synchronization is owned by the sync actor,
// which is the only writer. Readers go through the sync layer's accessor.
//
// spentUtxoMap indexes every input outpoint of every tracked tx, the same
// way the node itself detects in-mempool double spends.
type Mempool struct {
	Chain Chain
	Txs   map[chainhash.Hash]*TxEntry

	spentUtxoMap map[wire.OutPoint]chainhash.Hash
}

func NewMempool() *Mempool {
	return &Mempool{
		Chain: Chain{
			Blocks: make(map[chainhash.Hash]*Block),
		},
		Txs:          make(map[chainhash.Hash]*TxEntry),
		spentUtxoMap: make(map[wire.OutPoint]chainhash.Hash),
	}
}

// Insert adds a tx with its computed fee delta. The caller has already run
// the tx through the admission policy.
func (m *Mempool) Insert(tx *wire.MsgTx, feeDelta int64) error {
	txid := tx.TxHash()
	if _, ok := m.Txs[txid]; ok {
		return fmt.Errorf("%w: %s", ErrTxInMempool, txid)
	}
	for _, txIn := range tx.TxIn {
		if spender, ok := m.spentUtxoMap[txIn.PreviousOutPoint]; ok {
			return fmt.Errorf("%w: %s spent by %s",
				ErrOutpointConflict, txIn.PreviousOutPoint, spender)
		}
	}
	for _, txIn := range tx.TxIn {
		m.spentUtxoMap[txIn.PreviousOutPoint] = txid
	}
	m.Txs[txid] = &TxEntry{Tx: tx, FeeDelta: feeDelta}
	return nil
}

// Remove deletes a tx from the replica and returns the removed entry, or
// nil if the txid is not tracked. Removing an absent txid is not an error:
// removal notifications can race block connections.
func (m *Mempool) Remove(txid chainhash.Hash) *TxEntry {
	entry, ok := m.Txs[txid]
	if !ok {
		return nil
	}
	for _, txIn := range entry.Tx.TxIn {
		if m.spentUtxoMap[txIn.PreviousOutPoint] == txid {
			delete(m.spentUtxoMap, txIn.PreviousOutPoint)
		}
	}
	delete(m.Txs, txid)
	return entry
}

// LookupTx returns the tracked tx for txid, or nil.
func (m *Mempool) LookupTx(txid chainhash.Hash) *wire.MsgTx {
	if entry, ok := m.Txs[txid]; ok {
		return entry.Tx
	}
	return nil
}
