package netsync

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/torkelrogstad/cusf-enforcer-mempool/mempool"
)

// maxTxBatch caps how many consecutive tx requests the fetch driver folds
// into one batch.
const maxTxBatch = 100

// Fetcher is the on-demand data-fetch channel to the node. Errors are fatal
// to the sync actor; there is no retry at this layer.
type Fetcher interface {
	FetchTx(txid chainhash.Hash) (*wire.MsgTx, error)
	FetchBlock(hash chainhash.Hash) (*mempool.Block, error)
}

// TxResponseItem is one fetched transaction and whether it was requested for
// mempool admission.
type TxResponseItem struct {
	Tx        *wire.MsgTx
	InMempool bool
}

// BatchedResponseItem is one result from the fetch stream: a block, a single
// tx, or a batch of txs.
type BatchedResponseItem interface {
	batchedResponseItem()
}

type ResponseBlock struct {
	Block *mempool.Block
}

type ResponseTx struct {
	TxResponseItem
}

type ResponseBatchTx struct {
	Txs []TxResponseItem
}

func (ResponseBlock) batchedResponseItem()   {}
func (ResponseTx) batchedResponseItem()      {}
func (ResponseBatchTx) batchedResponseItem() {}

// ResponseResult is one item of the response stream: a response or a fetch
// error. A fetch error terminates the stream.
type ResponseResult struct {
	Resp BatchedResponseItem
	Err  error
}

// runFetchLoop continuously takes the request queue's front and issues one
// fetch per dequeue, forwarding results on out. It stops on ctx cancellation
// or on the first fetch error.
func runFetchLoop(ctx context.Context, queue *RequestQueue, fetcher Fetcher, out chan<- ResponseResult) {
	for {
		batch, err := queue.NextBatch(ctx, maxTxBatch)
		if err != nil {
			return
		}
		resp, err := fetchBatch(fetcher, batch)
		result := ResponseResult{Resp: resp, Err: err}
		select {
		case out <- result:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func fetchBatch(fetcher Fetcher, batch []RequestItem) (BatchedResponseItem, error) {
	if len(batch) == 1 {
		if block, ok := batch[0].(BlockRequest); ok {
			fetched, err := fetcher.FetchBlock(block.Hash)
			if err != nil {
				return nil, err
			}
			return ResponseBlock{Block: fetched}, nil
		}
	}
	txs := make([]TxResponseItem, 0, len(batch))
	for _, item := range batch {
		req := item.(TxRequest)
		tx, err := fetcher.FetchTx(req.Txid)
		if err != nil {
			return nil, err
		}
		txs = append(txs, TxResponseItem{Tx: tx, InMempool: req.WantedInMempool})
	}
	if len(txs) == 1 {
		return ResponseTx{txs[0]}, nil
	}
	return ResponseBatchTx{Txs: txs}, nil
}
