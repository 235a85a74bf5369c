package engine

import "github.com/kasperience/kdapp-sub000/episode"

// Message is the sealed set of things the proxy can send an engine.
type Message interface{ isEngineMessage() }

// AssociatedTx is one carrier transaction resolved for an accepting block,
// still carrying its header-prefixed payload exactly as it appeared on
// chain.
type AssociatedTx struct {
	TxID    episode.TxID
	Payload []byte
	Outputs []episode.TxOutputInfo // nil when the proxy build didn't resolve outputs
	Status  *episode.TxStatus
}

// BlkAccepted carries one accepting block's ordered sub-batch of
// transactions relevant to a single engine (already partitioned by the
// proxy via prefix/pattern).
type BlkAccepted struct {
	AcceptingHash episode.BlockHash
	AcceptingDAA  uint64
	AcceptingTime uint64
	AssociatedTxs []AssociatedTx
}

func (BlkAccepted) isEngineMessage() {}

// BlkReverted announces that accepting block AcceptingHash is no longer on
// the canonical chain. Unknown hashes are a no-op.
type BlkReverted struct {
	AcceptingHash episode.BlockHash
}

func (BlkReverted) isEngineMessage() {}

// Exit asks the engine to drain pending messages and stop.
type Exit struct{}

func (Exit) isEngineMessage() {}
