package payment

import "github.com/kasperience/kdapp-sub000/episode"

// Command is the tagged union of the payment episode's seven command
// variants (spec §4.5). Exactly one of the pointer fields matching Kind is
// non-nil; this mirrors the teacher's use of a discriminated envelope
// (codec.Envelope) over a Go interface-based sum type, since the episode
// engine needs one concrete, comparable C type parameter.
type Command struct {
	Kind CommandKind

	CreateInvoice       *CreateInvoiceCmd
	MarkPaid            *MarkPaidCmd
	AckReceipt          *AckReceiptCmd
	CancelInvoice       *CancelInvoiceCmd
	CreateSubscription  *CreateSubscriptionCmd
	ProcessSubscription *ProcessSubscriptionCmd
	CancelSubscription  *CancelSubscriptionCmd
}

type CommandKind uint8

const (
	KindCreateInvoice CommandKind = iota
	KindMarkPaid
	KindAckReceipt
	KindCancelInvoice
	KindCreateSubscription
	KindProcessSubscription
	KindCancelSubscription
)

type CreateInvoiceCmd struct {
	InvoiceID    uint64
	Amount       uint64
	Memo         string
	GuardianKeys []episode.PubKey
}

type MarkPaidCmd struct {
	InvoiceID uint64
	Payer     episode.PubKey
}

type AckReceiptCmd struct {
	InvoiceID uint64
}

type CancelInvoiceCmd struct {
	InvoiceID uint64
}

type CreateSubscriptionCmd struct {
	SubscriptionID uint64
	Customer       episode.PubKey
	Amount         uint64
	Interval       uint64
}

type ProcessSubscriptionCmd struct {
	SubscriptionID uint64
}

type CancelSubscriptionCmd struct {
	SubscriptionID uint64
}
