package mempool

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func makeTx(inputs []wire.OutPoint, outputValues ...int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, op := range inputs {
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}
	for _, v := range outputValues {
		tx.AddTxOut(wire.NewTxOut(v, nil))
	}
	return tx
}

func TestInsertRemove(t *testing.T) {
	pool := NewMempool()

	tx := makeTx(nil, 5000)
	require.NoError(t, pool.Insert(tx, 1000))
	txid := tx.TxHash()

	require.NotNil(t, pool.LookupTx(txid))
	require.Equal(t, int64(1000), pool.Txs[txid].FeeDelta)

	entry := pool.Remove(txid)
	require.NotNil(t, entry)
	require.Equal(t, int64(1000), entry.FeeDelta)
	require.Nil(t, pool.LookupTx(txid))
}

func TestInsertDuplicate(t *testing.T) {
	pool := NewMempool()

	tx := makeTx(nil, 5000)
	require.NoError(t, pool.Insert(tx, 1000))
	err := pool.Insert(tx, 1000)
	require.ErrorIs(t, err, ErrTxInMempool)
}

func TestInsertConflict(t *testing.T) {
	pool := NewMempool()

	parent := makeTx(nil, 10000)
	op := wire.OutPoint{Hash: parent.TxHash(), Index: 0}

	spender1 := makeTx([]wire.OutPoint{op}, 9000)
	spender2 := makeTx([]wire.OutPoint{op}, 8000)

	require.NoError(t, pool.Insert(spender1, 1000))
	err := pool.Insert(spender2, 2000)
	require.ErrorIs(t, err, ErrOutpointConflict)

	// Removing the first spender frees the outpoint.
	require.NotNil(t, pool.Remove(spender1.TxHash()))
	require.NoError(t, pool.Insert(spender2, 2000))
}

func TestRemoveAbsent(t *testing.T) {
	pool := NewMempool()
	var txid chainhash.Hash
	require.Nil(t, pool.Remove(txid))
}
