package payment

import "github.com/kasperience/kdapp-sub000/episode"

// Rollback is the tagged-union inverse of Command, produced by Execute and
// consumed by Rollback. Every command yields a precise inverse (spec §4.5,
// "Rollback"); fields not relevant to Kind are left zero.
type Rollback struct {
	Kind RollbackKind

	InvoiceID      uint64
	SubscriptionID uint64

	// UndoMarkPaid: prior payer/carrier tx to clear back to, so rollback
	// restores Open with no payer regardless of what paid it.
	PrevPayer episode.PubKey
	CarrierTx episode.TxID
	// CustomerCreated records whether markPaid lazily created the payer's
	// CustomerInfo entry (it did not exist before this payment), so
	// UndoMarkPaid can remove it again and restore bit-for-bit pre-A state.
	CustomerCreated bool

	// UndoProcessSubscription
	PrevNextRun uint64

	// UndoCancelSubscription: the full subscription to reinsert.
	RestoredSubscription *Subscription

	// UndoCancelInvoice: the status to restore (Open or Paid — cancellation
	// of a paid invoice escalates a dispute rather than being rejected).
	PrevStatus Status
}

type RollbackKind uint8

const (
	UndoCreateInvoice RollbackKind = iota
	UndoMarkPaid
	UndoAckReceipt
	UndoCancelInvoice
	UndoCreateSubscription
	UndoProcessSubscription
	UndoCancelSubscription
)
