package zmq

import (
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func seqBody(hash chainhash.Hash, label byte, mempoolSeq ...uint64) []byte {
	body := make([]byte, 0, chainhash.HashSize+9)
	body = append(body, hash[:]...)
	body = append(body, label)
	if len(mempoolSeq) > 0 {
		var seq [8]byte
		binary.LittleEndian.PutUint64(seq[:], mempoolSeq[0])
		body = append(body, seq[:]...)
	}
	return body
}

func testHash(b byte) chainhash.Hash {
	var hash chainhash.Hash
	hash[0] = b
	return hash
}

func TestParseBlockConnected(t *testing.T) {
	hash := testHash(1)
	msg, err := ParseSequenceMessage(seqBody(hash, 'C'), 7)
	require.NoError(t, err)
	require.Equal(t, BlockConnected{Hash: hash, ZmqSeq: 7}, msg)
}

func TestParseBlockDisconnected(t *testing.T) {
	hash := testHash(2)
	msg, err := ParseSequenceMessage(seqBody(hash, 'D'), 0)
	require.NoError(t, err)
	require.Equal(t, BlockDisconnected{Hash: hash}, msg)
}

func TestParseTxAdded(t *testing.T) {
	txid := testHash(3)
	msg, err := ParseSequenceMessage(seqBody(txid, 'A', 42), 1)
	require.NoError(t, err)
	require.Equal(t, TxAdded{Txid: txid, MempoolSeq: 42, ZmqSeq: 1}, msg)
}

func TestParseTxRemoved(t *testing.T) {
	txid := testHash(4)
	msg, err := ParseSequenceMessage(seqBody(txid, 'R', 43), 2)
	require.NoError(t, err)
	require.Equal(t, TxRemoved{Txid: txid, MempoolSeq: 43, ZmqSeq: 2}, msg)
}

func TestParseErrors(t *testing.T) {
	_, err := ParseSequenceMessage(nil, 0)
	require.Error(t, err)

	_, err = ParseSequenceMessage(seqBody(testHash(5), 'X'), 0)
	require.Error(t, err)

	// Tx labels need the mempool sequence suffix.
	_, err = ParseSequenceMessage(seqBody(testHash(6), 'A'), 0)
	require.Error(t, err)
}
