package payment

import "errors"

// Command-specific errors, surfaced as episode.InvalidCommand(err) — the
// command-error taxonomy from original_source's MerchantError, narrowed to
// what the invoice/subscription invariants require.
var (
	ErrInvoiceExists       = errors.New("payment: invoice already exists")
	ErrInvoiceNotFound     = errors.New("payment: invoice not found")
	ErrInvalidAmount       = errors.New("payment: invalid amount")
	ErrAlreadyPaid         = errors.New("payment: invoice already paid or acked")
	ErrAlreadyAcked        = errors.New("payment: invoice already acked")
	ErrAlreadyCanceled     = errors.New("payment: invoice already canceled")
	ErrInvalidScript       = errors.New("payment: no output matched an allowed policy")
	ErrDuplicatePayment    = errors.New("payment: carrier tx already used by another invoice")
	ErrSubscriptionExists  = errors.New("payment: subscription already exists")
	ErrSubscriptionNotFound = errors.New("payment: subscription not found")
	ErrValueOverflow       = errors.New("payment: output value sum overflowed")
	ErrInsufficientValue   = errors.New("payment: matching output value below invoice amount")
	ErrMissingTxOutputs    = errors.New("payment: metadata carried no tx outputs")
)
