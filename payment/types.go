// Package payment implements the invoice/subscription episode: the
// receipt-and-recurring-payment state machine that validates on-chain
// payments against allowed merchant/guardian output scripts, enforces
// carrier-tx idempotency, and cooperates with the guardian protocol for
// dispute/refund (spec §4.5).
package payment

import "github.com/kasperience/kdapp-sub000/episode"

// Status is an invoice's lifecycle state. Transitions are
// Open -> {Paid, Canceled}, Paid -> {Acked, Canceled}; every other transition is
// rejected by Execute.
type Status int

const (
	StatusOpen Status = iota
	StatusPaid
	StatusAcked
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPaid:
		return "paid"
	case StatusAcked:
		return "acked"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Invoice is one payable line item. GuardianKeys is the subset of the
// episode's guardian set authorized to co-sign a merchant-guardian
// multisig output for this specific invoice.
type Invoice struct {
	ID           uint64
	Amount       uint64
	Memo         string
	Status       Status
	CreatedAt    uint64
	LastUpdate   uint64
	Payer        episode.PubKey
	CarrierTx    *episode.TxID
	GuardianKeys []episode.PubKey
}

// Subscription is a recurring-charge schedule. ProcessSubscription advances
// NextRun; actual invoices are materialized by an external scheduler that
// observes NextRun and submits CreateInvoice commands (spec §4.5).
type Subscription struct {
	ID       uint64
	Customer episode.PubKey
	Amount   uint64
	Interval uint64
	NextRun  uint64
}

// CustomerInfo is the materialized per-payer index.
type CustomerInfo struct {
	Invoices      []uint64
	Subscriptions []uint64
}

func cloneCustomerInfo(c *CustomerInfo) *CustomerInfo {
	if c == nil {
		return nil
	}
	out := &CustomerInfo{
		Invoices:      append([]uint64(nil), c.Invoices...),
		Subscriptions: append([]uint64(nil), c.Subscriptions...),
	}
	return out
}

func cloneInvoice(inv *Invoice) *Invoice {
	if inv == nil {
		return nil
	}
	out := *inv
	out.GuardianKeys = append([]episode.PubKey(nil), inv.GuardianKeys...)
	if inv.CarrierTx != nil {
		tx := *inv.CarrierTx
		out.CarrierTx = &tx
	}
	return &out
}
