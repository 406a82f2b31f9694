package netsync

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/emirpasic/gods/lists/doublylinkedlist"
)

// RequestItem identifies one piece of data to fetch from the node. Items are
// comparable values: the queue deduplicates and removes by structural
// equality of variant plus payload.
type RequestItem interface {
	requestItem()
}

// BlockRequest asks for a block by hash.
type BlockRequest struct {
	Hash chainhash.Hash
}

// TxRequest asks for a raw transaction. WantedInMempool marks txs that must
// be evaluated for admission once fetched, as opposed to txs fetched only to
// resolve another tx's input values.
type TxRequest struct {
	Txid            chainhash.Hash
	WantedInMempool bool
}

func (BlockRequest) requestItem() {}
func (TxRequest) requestItem()    {}

// RequestQueue is the ordered set of pending fetches. The front always
// determines the next outbound request. The sync actor appends, front-inserts
// and removes while the fetch driver blocks in Next, so the queue is
// internally synchronized.
type RequestQueue struct {
	mu      sync.Mutex
	items   *doublylinkedlist.List
	present map[RequestItem]struct{}
	notify  chan struct{}
}

func NewRequestQueue() *RequestQueue {
	return &RequestQueue{
		items:   doublylinkedlist.New(),
		present: make(map[RequestItem]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// PushBack appends item unless it is already queued.
func (q *RequestQueue) PushBack(item RequestItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.present[item]; ok {
		return
	}
	q.items.Add(item)
	q.present[item] = struct{}{}
	q.signal()
}

// PushFront inserts item at the front. An already-queued equal item is moved
// to the front instead of being duplicated.
func (q *RequestQueue) PushFront(item RequestItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.present[item]; ok {
		if idx := q.items.IndexOf(item); idx >= 0 {
			q.items.Remove(idx)
		}
	}
	q.items.Prepend(item)
	q.present[item] = struct{}{}
	q.signal()
}

// Remove deletes a queued item by structural equality. Removing an item that
// is not queued is a no-op.
func (q *RequestQueue) Remove(item RequestItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.present[item]; !ok {
		return
	}
	if idx := q.items.IndexOf(item); idx >= 0 {
		q.items.Remove(idx)
	}
	delete(q.present, item)
}

// Len returns the number of queued items.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

// Next blocks until an item is available or ctx is done, then pops and
// returns the front.
func (q *RequestQueue) Next(ctx context.Context) (RequestItem, error) {
	for {
		q.mu.Lock()
		if item, ok := q.popFrontLocked(); ok {
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// NextBatch pops the front item; if it is a tx request, consecutive tx
// requests behind it are drained into the same batch, up to max items.
func (q *RequestQueue) NextBatch(ctx context.Context, max int) ([]RequestItem, error) {
	first, err := q.Next(ctx)
	if err != nil {
		return nil, err
	}
	batch := []RequestItem{first}
	if _, ok := first.(TxRequest); !ok {
		return batch, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(batch) < max {
		front, ok := q.items.Get(0)
		if !ok {
			break
		}
		if _, isTx := front.(TxRequest); !isTx {
			break
		}
		item, _ := q.popFrontLocked()
		batch = append(batch, item)
	}
	return batch, nil
}

func (q *RequestQueue) popFrontLocked() (RequestItem, bool) {
	front, ok := q.items.Get(0)
	if !ok {
		return nil, false
	}
	q.items.Remove(0)
	item := front.(RequestItem)
	delete(q.present, item)
	return item, true
}

func (q *RequestQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
