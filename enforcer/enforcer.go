package enforcer

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/torkelrogstad/cusf-enforcer-mempool/common"
	"github.com/torkelrogstad/cusf-enforcer-mempool/share/bitcoin_rpc"
)

var log = common.GetLoggerEntry("enforcer")

// Enforcer decides whether a fully-assembled transaction may enter the
// mempool replica, on top of the node's own validity rules. An error is
// fatal to the sync actor.
type Enforcer interface {
	AcceptTx(tx *wire.MsgTx) (bool, error)
}

// AllowAll admits every transaction.
type AllowAll struct{}

func (AllowAll) AcceptTx(*wire.MsgTx) (bool, error) {
	return true, nil
}

// NodePolicy defers the admission decision to the node's own
// testmempoolaccept check.
type NodePolicy struct {
	rpc bitcoin_rpc.BitcoinRPC
}

func NewNodePolicy(rpc bitcoin_rpc.BitcoinRPC) *NodePolicy {
	return &NodePolicy{rpc: rpc}
}

func (p *NodePolicy) AcceptTx(tx *wire.MsgTx) (bool, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return false, errors.Wrap(err, "serialize tx")
	}
	result, err := p.rpc.TestTx(hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return false, errors.Wrap(err, "testmempoolaccept")
	}
	if !result.Allowed {
		// Txs the node already tracks fail the check with this reason.
		if result.RejectReason == "txn-already-in-mempool" {
			return true, nil
		}
		log.Tracef("node policy rejected %s: %s", tx.TxHash(), result.RejectReason)
	}
	return result.Allowed, nil
}
