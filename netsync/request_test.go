package netsync

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func testTxid(b byte) chainhash.Hash {
	var hash chainhash.Hash
	hash[0] = b
	return hash
}

func drain(t *testing.T, q *RequestQueue) []RequestItem {
	t.Helper()
	var items []RequestItem
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for q.Len() > 0 {
		item, err := q.Next(ctx)
		require.NoError(t, err)
		items = append(items, item)
	}
	return items
}

func TestQueueDedup(t *testing.T) {
	q := NewRequestQueue()
	q.PushBack(TxRequest{Txid: testTxid(1), WantedInMempool: true})
	q.PushBack(TxRequest{Txid: testTxid(1), WantedInMempool: true})
	require.Equal(t, 1, q.Len())

	// A different wanted flag is a different item.
	q.PushBack(TxRequest{Txid: testTxid(1)})
	require.Equal(t, 2, q.Len())
}

func TestQueuePriority(t *testing.T) {
	q := NewRequestQueue()
	q.PushBack(TxRequest{Txid: testTxid(1), WantedInMempool: true})
	q.PushBack(BlockRequest{Hash: testTxid(2)})
	q.PushFront(TxRequest{Txid: testTxid(3)})

	items := drain(t, q)
	require.Equal(t, []RequestItem{
		TxRequest{Txid: testTxid(3)},
		TxRequest{Txid: testTxid(1), WantedInMempool: true},
		BlockRequest{Hash: testTxid(2)},
	}, items)
}

func TestQueuePushFrontRepositions(t *testing.T) {
	q := NewRequestQueue()
	q.PushBack(TxRequest{Txid: testTxid(1)})
	q.PushBack(TxRequest{Txid: testTxid(2)})
	q.PushFront(TxRequest{Txid: testTxid(2)})
	require.Equal(t, 2, q.Len())

	items := drain(t, q)
	require.Equal(t, TxRequest{Txid: testTxid(2)}, items[0])
}

func TestQueueRemove(t *testing.T) {
	q := NewRequestQueue()
	item := TxRequest{Txid: testTxid(1), WantedInMempool: true}
	q.PushBack(item)
	q.Remove(item)
	require.Equal(t, 0, q.Len())

	// Removing an absent item is a no-op.
	q.Remove(item)
	require.Equal(t, 0, q.Len())
}

func TestQueueNextBlocks(t *testing.T) {
	q := NewRequestQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueNextWakesOnPush(t *testing.T) {
	q := NewRequestQueue()
	got := make(chan RequestItem, 1)
	go func() {
		item, err := q.Next(context.Background())
		if err == nil {
			got <- item
		}
	}()
	time.Sleep(10 * time.Millisecond)
	q.PushBack(BlockRequest{Hash: testTxid(9)})
	select {
	case item := <-got:
		require.Equal(t, BlockRequest{Hash: testTxid(9)}, item)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestNextBatchCoalescesTxs(t *testing.T) {
	q := NewRequestQueue()
	q.PushBack(TxRequest{Txid: testTxid(1), WantedInMempool: true})
	q.PushBack(TxRequest{Txid: testTxid(2), WantedInMempool: true})
	q.PushBack(BlockRequest{Hash: testTxid(3)})
	q.PushBack(TxRequest{Txid: testTxid(4), WantedInMempool: true})

	ctx := context.Background()
	batch, err := q.NextBatch(ctx, 100)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	batch, err = q.NextBatch(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, []RequestItem{BlockRequest{Hash: testTxid(3)}}, batch)

	batch, err = q.NextBatch(ctx, 100)
	require.NoError(t, err)
	require.Len(t, batch, 1)
}
