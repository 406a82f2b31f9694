package zmq

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"

	"github.com/torkelrogstad/cusf-enforcer-mempool/common"
)

var log = common.GetLoggerEntry("zmq")

// sequenceTopic is the topic bitcoind publishes on when configured with
// -zmqpubsequence.
const sequenceTopic = "sequence"

// Labels of the sequence message body, one byte after the 32-byte hash.
const (
	labelBlockConnect    = 'C'
	labelBlockDisconnect = 'D'
	labelTxAdded         = 'A'
	labelTxRemoved       = 'R'
)

// SequenceMessage is one notification from the node's sequence feed: a block
// (dis)connecting from the tip, or a tx entering or leaving the node's
// mempool. The feed is totally ordered as emitted.
type SequenceMessage interface {
	sequenceMessage()
}

// BlockConnected reports a new best block.
type BlockConnected struct {
	Hash   chainhash.Hash
	ZmqSeq uint32
}

// BlockDisconnected reports the tip being rolled back during a reorg.
type BlockDisconnected struct {
	Hash   chainhash.Hash
	ZmqSeq uint32
}

// TxAdded reports a tx accepted into the node's mempool.
type TxAdded struct {
	Txid       chainhash.Hash
	MempoolSeq uint64
	ZmqSeq     uint32
}

// TxRemoved reports a tx leaving the node's mempool for a reason other than
// block inclusion (eviction, replacement, expiry).
type TxRemoved struct {
	Txid       chainhash.Hash
	MempoolSeq uint64
	ZmqSeq     uint32
}

func (BlockConnected) sequenceMessage()    {}
func (BlockDisconnected) sequenceMessage() {}
func (TxAdded) sequenceMessage()           {}
func (TxRemoved) sequenceMessage()         {}

// SequenceResult is one item of the notification stream: a message or a
// transport error. A transport error terminates the stream.
type SequenceResult struct {
	Msg SequenceMessage
	Err error
}

// ParseSequenceMessage decodes the body of a zmqpubsequence message:
// 32-byte hash, one label byte, and for tx labels an 8-byte little-endian
// mempool sequence number.
func ParseSequenceMessage(body []byte, zmqSeq uint32) (SequenceMessage, error) {
	if len(body) < chainhash.HashSize+1 {
		return nil, fmt.Errorf("sequence message too short: %d bytes", len(body))
	}
	var hash chainhash.Hash
	copy(hash[:], body[:chainhash.HashSize])
	label := body[chainhash.HashSize]
	rest := body[chainhash.HashSize+1:]

	switch label {
	case labelBlockConnect:
		return BlockConnected{Hash: hash, ZmqSeq: zmqSeq}, nil
	case labelBlockDisconnect:
		return BlockDisconnected{Hash: hash, ZmqSeq: zmqSeq}, nil
	case labelTxAdded, labelTxRemoved:
		if len(rest) < 8 {
			return nil, fmt.Errorf("sequence message missing mempool seq, label %c", label)
		}
		mempoolSeq := binary.LittleEndian.Uint64(rest[:8])
		if label == labelTxAdded {
			return TxAdded{Txid: hash, MempoolSeq: mempoolSeq, ZmqSeq: zmqSeq}, nil
		}
		return TxRemoved{Txid: hash, MempoolSeq: mempoolSeq, ZmqSeq: zmqSeq}, nil
	default:
		return nil, fmt.Errorf("unknown sequence label %q", label)
	}
}

// Listener subscribes to bitcoind's sequence publisher and turns raw
// multipart messages into SequenceMessages.
type Listener struct {
	sock   zmq4.Socket
	cancel context.CancelFunc
}

// NewListener connects a SUB socket to endpoint and subscribes to the
// sequence topic.
func NewListener(endpoint string) (*Listener, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(endpoint); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "dial %s", endpoint)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, sequenceTopic); err != nil {
		cancel()
		sock.Close()
		return nil, errors.Wrap(err, "subscribe sequence")
	}
	return &Listener{sock: sock, cancel: cancel}, nil
}

// Run receives until the transport fails or Close is called, forwarding each
// decoded message on the returned channel. The channel is closed after a
// terminal error is emitted, which downstream treats as fatal.
func (l *Listener) Run() <-chan SequenceResult {
	out := make(chan SequenceResult)
	go func() {
		defer close(out)
		for {
			msg, err := l.sock.Recv()
			if err != nil {
				out <- SequenceResult{Err: errors.Wrap(err, "sequence stream")}
				return
			}
			// Multipart: topic, body, 4-byte LE publisher sequence.
			if len(msg.Frames) < 2 || string(msg.Frames[0]) != sequenceTopic {
				log.Warnf("dropping unexpected zmq message with %d frames", len(msg.Frames))
				continue
			}
			var zmqSeq uint32
			if len(msg.Frames) >= 3 && len(msg.Frames[2]) >= 4 {
				zmqSeq = binary.LittleEndian.Uint32(msg.Frames[2][:4])
			}
			seqMsg, err := ParseSequenceMessage(msg.Frames[1], zmqSeq)
			if err != nil {
				out <- SequenceResult{Err: err}
				return
			}
			out <- SequenceResult{Msg: seqMsg}
		}
	}()
	return out
}

// Close shuts the socket down. Pending Recv calls fail, which terminates Run.
func (l *Listener) Close() error {
	l.cancel()
	return l.sock.Close()
}
