package httpapi

import (
	"github.com/kasperience/kdapp-sub000/engine"
	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/payment"
)

// EngineInvoiceReader adapts a running payment engine's per-episode
// snapshot to InvoiceReader, converting payment's internal Status enum to
// the wire string the original emitted via Rust's "{:?}" Debug format.
type EngineInvoiceReader struct {
	Engine    *engine.Engine[*payment.State, payment.Command, payment.Rollback]
	EpisodeID episode.ID
}

func (r *EngineInvoiceReader) Invoices() (map[uint64]InvoiceView, bool) {
	state, ok := r.Engine.Snapshot(r.EpisodeID)
	if !ok {
		return nil, false
	}
	out := make(map[uint64]InvoiceView, len(state.Invoices))
	for id, inv := range state.Invoices {
		out[id] = InvoiceView{
			ID: inv.ID, Amount: inv.Amount, Memo: inv.Memo, Status: inv.Status.String(),
			Payer: inv.Payer, CreatedAt: inv.CreatedAt, LastUpdate: inv.LastUpdate,
		}
	}
	return out, true
}

func (r *EngineInvoiceReader) Subscriptions() (map[uint64]SubscriptionView, bool) {
	state, ok := r.Engine.Snapshot(r.EpisodeID)
	if !ok {
		return nil, false
	}
	out := make(map[uint64]SubscriptionView, len(state.Subscriptions))
	for id, sub := range state.Subscriptions {
		out[id] = SubscriptionView{ID: sub.ID, Customer: sub.Customer, Amount: sub.Amount, Interval: sub.Interval, NextRun: sub.NextRun}
	}
	return out, true
}
