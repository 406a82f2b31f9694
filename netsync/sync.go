package netsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/lru"
	"github.com/emirpasic/gods/sets/linkedhashset"
	pkgerrors "github.com/pkg/errors"

	"github.com/torkelrogstad/cusf-enforcer-mempool/common"
	"github.com/torkelrogstad/cusf-enforcer-mempool/enforcer"
	"github.com/torkelrogstad/cusf-enforcer-mempool/mempool"
	"github.com/torkelrogstad/cusf-enforcer-mempool/zmq"
)

var log = common.GetLoggerEntry("netsync")

var (
	// ErrCombinedStreamEnded reports that the merged notification/response
	// stream terminated; the actor cannot continue without it.
	ErrCombinedStreamEnded = errors.New("combined stream ended unexpectedly")

	// ErrFeeOverflow reports a tx whose resolved input value is below its
	// output value.
	// TODO: rename, this is an underflow.
	ErrFeeOverflow = errors.New("fee overflow")
)

// defaultRejectedCacheSize bounds the cache of txids the enforcer has
// rejected.
const defaultRejectedCacheSize = 5000

// SyncState is the actor's private reconciliation state: the pending fetch
// queue, the notifications received but not yet applied (in arrival order),
// and a cache of txs fetched only to resolve fee inputs. The tx cache is
// kept for the lifetime of the process.
type SyncState struct {
	requestQueue    *RequestQueue
	seqMessageQueue []zmq.SequenceMessage
	txCache         map[chainhash.Hash]*wire.MsgTx
	rejected        lru.Cache
}

func newSyncState(rejectedCacheSize int) *SyncState {
	return &SyncState{
		requestQueue: NewRequestQueue(),
		txCache:      make(map[chainhash.Hash]*wire.MsgTx),
		rejected:     lru.NewCache(uint(rejectedCacheSize)),
	}
}

// handleSeqMessage folds a notification into the request queue. It never
// touches the mempool tx set; the message is queued so its effects are
// applied strictly in feed order.
func (s *MempoolSync) handleSeqMessage(state *SyncState, msg zmq.SequenceMessage) {
	switch m := msg.(type) {
	case zmq.BlockConnected:
		log.Debugf("Adding block %s to req queue", m.Hash)
		state.requestQueue.PushBack(BlockRequest{Hash: m.Hash})
	case zmq.BlockDisconnected:
		s.mu.RLock()
		_, cached := s.mempool.Chain.Blocks[m.Hash]
		s.mu.RUnlock()
		if !cached {
			log.Debugf("Adding block %s to req queue", m.Hash)
			state.requestQueue.PushBack(BlockRequest{Hash: m.Hash})
		}
	case zmq.TxAdded:
		s.mu.RLock()
		inPool := s.mempool.LookupTx(m.Txid) != nil
		s.mu.RUnlock()
		// A tx seeded at startup needs no fetch; its announcement is consumed
		// by the apply loop as-is.
		if !inPool {
			log.Debugf("Added %s to req queue", m.Txid)
			state.requestQueue.PushBack(TxRequest{Txid: m.Txid, WantedInMempool: true})
		}
	case zmq.TxRemoved:
		log.Debugf("Remove tx %s from req queue", m.Txid)
		state.requestQueue.Remove(TxRequest{Txid: m.Txid, WantedInMempool: true})
	}
	state.seqMessageQueue = append(state.seqMessageQueue, msg)
	s.pending.Store(int64(len(state.seqMessageQueue)))
}

// handleRespTx caches a fetched tx for fee resolution.
func handleRespTx(state *SyncState, tx *wire.MsgTx) {
	state.txCache[tx.TxHash()] = tx
}

// handleRespBlock consumes a fetched block. If the front of the notification
// queue is the matching connect event, the block's txs leave the replica and
// the tip advances. If it is the matching disconnect event for the current
// tip, the retained entries are re-admitted and the tip rolls back. In
// either case the block is cached.
func handleRespBlock(pool *mempool.Mempool, state *SyncState, block *mempool.Block) error {
	if len(state.seqMessageQueue) > 0 {
		switch front := state.seqMessageQueue[0].(type) {
		case zmq.BlockConnected:
			if front.Hash == block.Hash {
				connectBlock(pool, state, block)
				state.seqMessageQueue = state.seqMessageQueue[1:]
			}
		case zmq.BlockDisconnected:
			if front.Hash == block.Hash && pool.Chain.Tip == block.Hash {
				if err := disconnectBlock(pool, block); err != nil {
					return err
				}
				state.seqMessageQueue = state.seqMessageQueue[1:]
			}
		}
	}
	pool.Chain.Blocks[block.Hash] = block
	return nil
}

// connectBlock removes the block's txs from the replica, retaining the
// removed entries on the block for a later disconnect, and advances the tip.
func connectBlock(pool *mempool.Mempool, state *SyncState, block *mempool.Block) {
	block.Removed = make(map[chainhash.Hash]*mempool.TxEntry)
	for _, txid := range block.Txids {
		if entry := pool.Remove(txid); entry != nil {
			block.Removed[txid] = entry
		}
		state.requestQueue.Remove(TxRequest{Txid: txid, WantedInMempool: true})
	}
	pool.Chain.Tip = block.Hash
}

// disconnectBlock re-admits the entries retained when the block connected
// and rolls the tip back to the block's parent. Txs confirmed before this
// process started have no retained entry; the node re-announces those as
// tx-added after the reorg.
func disconnectBlock(pool *mempool.Mempool, block *mempool.Block) error {
	for _, txid := range block.Txids {
		entry, ok := block.Removed[txid]
		if !ok {
			continue
		}
		if err := pool.Insert(entry.Tx, entry.FeeDelta); err != nil {
			if errors.Is(err, mempool.ErrTxInMempool) {
				continue
			}
			return err
		}
	}
	pool.Chain.Tip = block.PrevHash
	return nil
}

// tryAddTxFromCache attempts fee resolution and admission for txid. It
// reports progress (true) when the tx was admitted or rejected; a missing
// cache entry or unresolved input is a deferred-progress signal, not an
// error, and the missing inputs are scheduled as priority fetches.
func (s *MempoolSync) tryAddTxFromCache(state *SyncState, pool *mempool.Mempool, txid chainhash.Hash) (bool, error) {
	if state.rejected.Contains(txid) {
		return true, nil
	}
	if pool.LookupTx(txid) != nil {
		return true, nil
	}
	tx, ok := state.txCache[txid]
	if !ok {
		return false, nil
	}

	var valueIn int64
	resolved := true
	var inputTxsNeeded []chainhash.Hash
	for _, txIn := range tx.TxIn {
		prevOut := txIn.PreviousOutPoint
		inputTx, ok := state.txCache[prevOut.Hash]
		if !ok {
			inputTx = pool.LookupTx(prevOut.Hash)
		}
		if inputTx == nil {
			log.Tracef("Need %s for %s", prevOut.Hash, txid)
			resolved = false
			inputTxsNeeded = append(inputTxsNeeded, prevOut.Hash)
			continue
		}
		if int(prevOut.Index) >= len(inputTx.TxOut) {
			return false, fmt.Errorf("input %s of %s out of range", prevOut, txid)
		}
		valueIn += inputTx.TxOut[prevOut.Index].Value
	}
	for i := len(inputTxsNeeded) - 1; i >= 0; i-- {
		state.requestQueue.PushFront(TxRequest{Txid: inputTxsNeeded[i]})
	}
	if !resolved {
		return false, nil
	}

	var valueOut int64
	for _, txOut := range tx.TxOut {
		valueOut += txOut.Value
	}
	feeDelta := valueIn - valueOut
	if feeDelta < 0 {
		return false, ErrFeeOverflow
	}

	accept, err := s.enforcer.AcceptTx(tx)
	if err != nil {
		return false, pkgerrors.Wrap(err, "enforcer")
	}
	if accept {
		if err := pool.Insert(tx, feeDelta); err != nil {
			return false, err
		}
		log.Tracef("added %s to mempool", txid)
	} else {
		state.rejected.Add(txid)
		log.Tracef("rejecting %s", txid)
	}
	log.Debugf("Syncing... mempool txs: %d", len(pool.Txs))
	return true, nil
}

// tryApplyNextSeqMessage attempts once to consume the front of the
// notification queue. The event is popped only on progress; the caller loops
// until no progress is reported.
func (s *MempoolSync) tryApplyNextSeqMessage(state *SyncState, pool *mempool.Mempool) (bool, error) {
	if len(state.seqMessageQueue) == 0 {
		return false, nil
	}
	var progress bool
	switch msg := state.seqMessageQueue[0].(type) {
	case zmq.BlockDisconnected:
		if pool.Chain.Tip != msg.Hash {
			break
		}
		block, ok := pool.Chain.Blocks[msg.Hash]
		if !ok {
			break
		}
		if err := disconnectBlock(pool, block); err != nil {
			return false, err
		}
		progress = true
	case zmq.TxAdded:
		var err error
		progress, err = s.tryAddTxFromCache(state, pool, msg.Txid)
		if err != nil {
			return false, err
		}
	case zmq.TxRemoved:
		progress = pool.Remove(msg.Txid) != nil
	case zmq.BlockConnected:
		// Applied by handleRespBlock once the block data arrives.
	}
	if progress {
		state.seqMessageQueue = state.seqMessageQueue[1:]
	}
	return progress, nil
}

// handleResp folds fetched data into the cache and mempool, then drains the
// apply loop. The mempool write lock is held for the whole execution.
func (s *MempoolSync) handleResp(state *SyncState, resp BatchedResponseItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r := resp.(type) {
	case ResponseBatchTx:
		inputTxsNeeded := linkedhashset.New()
		for _, item := range r.Txs {
			collectMissingInputs(state, item, inputTxsNeeded)
			handleRespTx(state, item.Tx)
		}
		pushFrontReversed(state, inputTxsNeeded)
	case ResponseBlock:
		log.Debugf("Handling block %s", r.Block.Hash)
		if err := handleRespBlock(s.mempool, state, r.Block); err != nil {
			return err
		}
	case ResponseTx:
		inputTxsNeeded := linkedhashset.New()
		collectMissingInputs(state, r.TxResponseItem, inputTxsNeeded)
		handleRespTx(state, r.Tx)
		pushFrontReversed(state, inputTxsNeeded)
	}
	for {
		progress, err := s.tryApplyNextSeqMessage(state, s.mempool)
		if err != nil {
			return err
		}
		if !progress {
			break
		}
	}
	s.pending.Store(int64(len(state.seqMessageQueue)))
	return nil
}

// collectMissingInputs records the input txids of a mempool-wanted tx that
// are not yet in the tx cache.
func collectMissingInputs(state *SyncState, item TxResponseItem, needed *linkedhashset.Set) {
	if !item.InMempool {
		return
	}
	for _, txIn := range item.Tx.TxIn {
		inputTxid := txIn.PreviousOutPoint.Hash
		if _, ok := state.txCache[inputTxid]; !ok {
			needed.Add(inputTxid)
		}
	}
}

// pushFrontReversed schedules the collected input txids as priority fetches,
// front-inserted in reverse so the first-collected txid ends up first.
func pushFrontReversed(state *SyncState, needed *linkedhashset.Set) {
	values := needed.Values()
	for i := len(values) - 1; i >= 0; i-- {
		state.requestQueue.PushFront(TxRequest{Txid: values[i].(chainhash.Hash)})
	}
}

// task is the reconciliation actor: the single mutator of the mempool. It
// merges the notification feed with the response feed and dispatches one
// item at a time. Stream exhaustion and any handler error are fatal.
func (s *MempoolSync) task(ctx context.Context, state *SyncState, seqStream <-chan zmq.SequenceResult) error {
	respCh := make(chan ResponseResult)
	go runFetchLoop(ctx, state.requestQueue, s.fetcher, respCh)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-seqStream:
			if !ok {
				return ErrCombinedStreamEnded
			}
			if res.Err != nil {
				return res.Err
			}
			s.handleSeqMessage(state, res.Msg)
		case res, ok := <-respCh:
			if !ok {
				return ErrCombinedStreamEnded
			}
			if res.Err != nil {
				return res.Err
			}
			if err := s.handleResp(state, res.Resp); err != nil {
				return err
			}
		}
	}
}

// MempoolSync owns the mempool replica and the background actor keeping it
// consistent with the node. Readers access the replica through WithMempool;
// the actor is the only writer.
type MempoolSync struct {
	mu       sync.RWMutex
	mempool  *mempool.Mempool
	enforcer enforcer.Enforcer
	fetcher  Fetcher
	pending  atomic.Int64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// PendingEvents reports how many feed notifications are buffered but not yet
// applied to the replica. Zero means the replica has caught up.
func (s *MempoolSync) PendingEvents() int {
	return int(s.pending.Load())
}

// Option configures a MempoolSync.
type Option func(*options)

type options struct {
	rejectedCacheSize int
}

// WithRejectedCacheSize sets the capacity of the rejected-txid cache.
func WithRejectedCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.rejectedCacheSize = n
		}
	}
}

// New spawns the sync actor over an initial mempool. The actor runs until
// Stop is called or a fatal error terminates it; after a fatal error the
// replica keeps serving its last-written state.
func New(enf enforcer.Enforcer, pool *mempool.Mempool, fetcher Fetcher,
	seqStream <-chan zmq.SequenceResult, opts ...Option) *MempoolSync {

	o := &options{rejectedCacheSize: defaultRejectedCacheSize}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &MempoolSync{
		mempool:  pool,
		enforcer: enf,
		fetcher:  fetcher,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	state := newSyncState(o.rejectedCacheSize)
	go func() {
		defer close(s.done)
		if err := s.task(ctx, state, seqStream); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("mempool sync task failed: %v", err)
		}
	}()
	return s
}

// WithMempool runs f over the replica under a shared read lock. Any number
// of readers may run concurrently with each other.
func (s *MempoolSync) WithMempool(f func(pool *mempool.Mempool)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f(s.mempool)
}

// Stop cancels the actor without draining. Idempotent.
func (s *MempoolSync) Stop() {
	s.stopOnce.Do(s.cancel)
	<-s.done
}
