package httpapi

import (
	"context"

	"github.com/kasperience/kdapp-sub000/codec"
	"github.com/kasperience/kdapp-sub000/engine"
	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/payment"
)

// Submitter is how httpapi hands a command to the episode runtime.
// Building and broadcasting an actual chain transaction (input selection,
// fees, signing the carrier tx itself) is out of scope (spec.md §1's
// wallet/keychain exclusion); concrete production wiring satisfies this
// interface with whatever submits carrier transactions to the host chain.
type Submitter interface {
	SubmitSigned(ctx context.Context, episodeID episode.ID, pubKey episode.PubKey, signature episode.Signature, cmd payment.Command) error
	SubmitUnsigned(ctx context.Context, episodeID episode.ID, cmd payment.Command) error
}

// DirectSubmitter feeds commands straight into a payment engine by
// synthesizing a single-transaction BlkAccepted, bypassing the chain
// entirely. Grounded on kdapp-merchant's own sim_router.rs: a test/demo
// router that forwards directly into the engine channel rather than
// through a real chain connection. main.go always wires this; no Submitter
// that broadcasts a carrier transaction is part of this repository.
type DirectSubmitter struct {
	Engine *engine.Engine[*payment.State, payment.Command, payment.Rollback]
	Clock  func() uint64 // seconds; defaults to a monotonic counter if nil
}

func (d *DirectSubmitter) SubmitSigned(ctx context.Context, episodeID episode.ID, pubKey episode.PubKey, signature episode.Signature, cmd payment.Command) error {
	return d.submit(ctx, episodeID, cmd, pubKey, signature)
}

func (d *DirectSubmitter) SubmitUnsigned(ctx context.Context, episodeID episode.ID, cmd payment.Command) error {
	return d.submit(ctx, episodeID, cmd, nil, nil)
}

func (d *DirectSubmitter) submit(ctx context.Context, episodeID episode.ID, cmd payment.Command, pubKey episode.PubKey, signature episode.Signature) error {
	cmdBytes := payment.EncodeCommand(cmd)
	var body []byte
	if signature != nil {
		body = codec.EncodeSignedCommand(uint32(episodeID), pubKey, signature, cmdBytes)
	} else {
		body = codec.EncodeUnsignedCommand(uint32(episodeID), cmdBytes)
	}
	payload := codec.PackHeader(d.Engine.Prefix(), body)

	var txID episode.TxID
	tick := d.tick()
	txID[0], txID[1], txID[2], txID[3] = byte(tick), byte(tick>>8), byte(tick>>16), byte(tick>>24)

	msg := engine.BlkAccepted{
		AcceptingTime: tick,
		AssociatedTxs: []engine.AssociatedTx{{
			TxID:    txID,
			Payload: payload,
		}},
	}
	select {
	case d.Engine.Inbox() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DirectSubmitter) tick() uint64 {
	if d.Clock != nil {
		return d.Clock()
	}
	return directSubmitterClock()
}

var directSubmitterCounter uint64

// directSubmitterClock hands out a monotonically increasing stand-in for
// AcceptingTime when the caller supplies no Clock: DirectSubmitter has no
// real chain header to read a timestamp from.
func directSubmitterClock() uint64 {
	directSubmitterCounter++
	return directSubmitterCounter
}
