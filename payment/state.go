package payment

import (
	"github.com/kasperience/kdapp-sub000/cryptoutil"
	"github.com/kasperience/kdapp-sub000/episode"
)

// State is the payment episode's state: merchant/guardian identity plus the
// invoice, subscription, and customer-index tables (spec §3 "Payment
// entities"). It implements episode.Episode[Command, Rollback].
type State struct {
	MerchantKeys []episode.PubKey
	GuardianKeys []episode.PubKey

	Invoices       map[uint64]*Invoice
	Subscriptions  map[uint64]*Subscription
	Customers      map[string]*CustomerInfo
	UsedCarrierTxs map[episode.TxID]struct{}
	Confirmations  map[episode.TxID]episode.TxStatus

	// Deterministic disables subscription jitter for reproducible tests
	// (spec §4.5, "jitter is deterministic in test mode (zero)").
	Deterministic bool
}

// NewFactory returns an episode.Factory[*State] building an empty State
// seeded with the creating transaction's participants as merchant_keys.
func NewFactory(deterministic bool) episode.Factory[*State] {
	return func(participants []episode.PubKey, _ *episode.PayloadMetadata) *State {
		return &State{
			MerchantKeys:   append([]episode.PubKey(nil), participants...),
			Invoices:       make(map[uint64]*Invoice),
			Subscriptions:  make(map[uint64]*Subscription),
			Customers:      make(map[string]*CustomerInfo),
			UsedCarrierTxs: make(map[episode.TxID]struct{}),
			Confirmations:  make(map[episode.TxID]episode.TxStatus),
			Deterministic:  deterministic,
		}
	}
}

func keyIndex(k episode.PubKey) string { return k.String() }

// Execute implements episode.Episode[Command, Rollback] (spec §4.5).
func (s *State) Execute(cmd Command, authorization episode.PubKey, meta *episode.PayloadMetadata) (Rollback, error) {
	switch cmd.Kind {
	case KindCreateInvoice:
		return s.createInvoice(cmd.CreateInvoice, authorization, meta)
	case KindMarkPaid:
		return s.markPaid(cmd.MarkPaid, authorization, meta)
	case KindAckReceipt:
		return s.ackReceipt(cmd.AckReceipt, meta)
	case KindCancelInvoice:
		return s.cancelInvoice(cmd.CancelInvoice, meta)
	case KindCreateSubscription:
		return s.createSubscription(cmd.CreateSubscription, authorization, meta)
	case KindProcessSubscription:
		return s.processSubscription(cmd.ProcessSubscription, meta)
	case KindCancelSubscription:
		return s.cancelSubscription(cmd.CancelSubscription)
	default:
		return Rollback{}, episode.InvalidCommand(ErrInvalidAmount)
	}
}

func (s *State) isMerchant(pk episode.PubKey) bool {
	return containsKey(s.MerchantKeys, pk)
}

func (s *State) createInvoice(c *CreateInvoiceCmd, authorization episode.PubKey, meta *episode.PayloadMetadata) (Rollback, error) {
	if authorization == nil || !s.isMerchant(authorization) {
		return Rollback{}, episode.Unauthorized()
	}
	if _, exists := s.Invoices[c.InvoiceID]; exists {
		return Rollback{}, episode.InvalidCommand(ErrInvoiceExists)
	}
	if c.Amount == 0 {
		return Rollback{}, episode.InvalidCommand(ErrInvalidAmount)
	}
	s.Invoices[c.InvoiceID] = &Invoice{
		ID:           c.InvoiceID,
		Amount:       c.Amount,
		Memo:         c.Memo,
		Status:       StatusOpen,
		CreatedAt:    meta.AcceptingTime,
		LastUpdate:   meta.AcceptingTime,
		GuardianKeys: append([]episode.PubKey(nil), c.GuardianKeys...),
	}
	s.GuardianKeys = append([]episode.PubKey(nil), c.GuardianKeys...)
	return Rollback{Kind: UndoCreateInvoice, InvoiceID: c.InvoiceID}, nil
}

func (s *State) markPaid(c *MarkPaidCmd, authorization episode.PubKey, meta *episode.PayloadMetadata) (Rollback, error) {
	if authorization == nil || !authorization.Equal(c.Payer) {
		return Rollback{}, episode.Unauthorized()
	}
	if _, used := s.UsedCarrierTxs[meta.TxID]; used {
		return Rollback{}, episode.InvalidCommand(ErrDuplicatePayment)
	}
	inv, ok := s.Invoices[c.InvoiceID]
	if !ok {
		return Rollback{}, episode.InvalidCommand(ErrInvoiceNotFound)
	}
	switch inv.Status {
	case StatusCanceled:
		return Rollback{}, episode.InvalidCommand(ErrAlreadyCanceled)
	case StatusPaid, StatusAcked:
		return Rollback{}, episode.InvalidCommand(ErrAlreadyPaid)
	}
	if meta.TxOutputs == nil {
		return Rollback{}, episode.InvalidCommand(ErrInvalidScript)
	}

	guardianKeys := inv.GuardianKeys
	if len(guardianKeys) == 0 {
		guardianKeys = s.GuardianKeys
	}
	if _, err := enforcePaymentPolicy(meta.TxOutputs, inv.Amount, s.MerchantKeys, guardianKeys); err != nil {
		return Rollback{}, episode.InvalidCommand(err)
	}

	inv.Status = StatusPaid
	inv.LastUpdate = meta.AcceptingTime
	inv.Payer = c.Payer
	txID := meta.TxID
	inv.CarrierTx = &txID
	s.UsedCarrierTxs[meta.TxID] = struct{}{}

	idx := keyIndex(c.Payer)
	info, ok := s.Customers[idx]
	customerCreated := !ok
	if !ok {
		info = &CustomerInfo{}
		s.Customers[idx] = info
	}
	alreadyIndexed := false
	for _, id := range info.Invoices {
		if id == c.InvoiceID {
			alreadyIndexed = true
			break
		}
	}
	if !alreadyIndexed {
		info.Invoices = append(info.Invoices, c.InvoiceID)
	}

	if meta.TxStatus != nil {
		s.Confirmations[meta.TxID] = *meta.TxStatus
	}

	return Rollback{Kind: UndoMarkPaid, InvoiceID: c.InvoiceID, CarrierTx: meta.TxID, CustomerCreated: customerCreated}, nil
}

func (s *State) ackReceipt(c *AckReceiptCmd, meta *episode.PayloadMetadata) (Rollback, error) {
	inv, ok := s.Invoices[c.InvoiceID]
	if !ok {
		return Rollback{}, episode.InvalidCommand(ErrInvoiceNotFound)
	}
	switch inv.Status {
	case StatusCanceled:
		return Rollback{}, episode.InvalidCommand(ErrAlreadyCanceled)
	case StatusAcked:
		return Rollback{}, episode.InvalidCommand(ErrAlreadyAcked)
	case StatusOpen:
		return Rollback{}, episode.InvalidCommand(ErrInvoiceNotFound)
	}
	inv.Status = StatusAcked
	inv.LastUpdate = meta.AcceptingTime
	return Rollback{Kind: UndoAckReceipt, InvoiceID: c.InvoiceID}, nil
}

// cancelInvoice cancels an Open or Paid invoice. Canceling a Paid invoice
// is a legal transition (it escalates a dispute rather than completing a
// receipt, spec §4.6 "on cancellation of a paid invoice") — only an
// already-Acked or already-Canceled invoice is terminal.
func (s *State) cancelInvoice(c *CancelInvoiceCmd, meta *episode.PayloadMetadata) (Rollback, error) {
	inv, ok := s.Invoices[c.InvoiceID]
	if !ok {
		return Rollback{}, episode.InvalidCommand(ErrInvoiceNotFound)
	}
	switch inv.Status {
	case StatusCanceled:
		return Rollback{}, episode.InvalidCommand(ErrAlreadyCanceled)
	case StatusAcked:
		return Rollback{}, episode.InvalidCommand(ErrAlreadyAcked)
	}
	prevStatus := inv.Status
	inv.Status = StatusCanceled
	inv.LastUpdate = meta.AcceptingTime
	return Rollback{Kind: UndoCancelInvoice, InvoiceID: c.InvoiceID, PrevStatus: prevStatus}, nil
}

func (s *State) createSubscription(c *CreateSubscriptionCmd, authorization episode.PubKey, meta *episode.PayloadMetadata) (Rollback, error) {
	if authorization == nil || !s.isMerchant(authorization) {
		return Rollback{}, episode.Unauthorized()
	}
	if _, exists := s.Subscriptions[c.SubscriptionID]; exists {
		return Rollback{}, episode.InvalidCommand(ErrSubscriptionExists)
	}
	if c.Amount == 0 || c.Interval == 0 {
		return Rollback{}, episode.InvalidCommand(ErrInvalidAmount)
	}
	nextRun := s.computeNextRun(meta, c.Customer, c.Interval)
	s.Subscriptions[c.SubscriptionID] = &Subscription{
		ID:       c.SubscriptionID,
		Customer: c.Customer,
		Amount:   c.Amount,
		Interval: c.Interval,
		NextRun:  nextRun,
	}
	idx := keyIndex(c.Customer)
	info, ok := s.Customers[idx]
	if !ok {
		info = &CustomerInfo{}
		s.Customers[idx] = info
	}
	info.Subscriptions = append(info.Subscriptions, c.SubscriptionID)
	return Rollback{Kind: UndoCreateSubscription, SubscriptionID: c.SubscriptionID}, nil
}

func (s *State) processSubscription(c *ProcessSubscriptionCmd, meta *episode.PayloadMetadata) (Rollback, error) {
	sub, ok := s.Subscriptions[c.SubscriptionID]
	if !ok {
		return Rollback{}, episode.InvalidCommand(ErrSubscriptionNotFound)
	}
	prev := sub.NextRun
	sub.NextRun = s.computeNextRun(meta, sub.Customer, sub.Interval)
	return Rollback{Kind: UndoProcessSubscription, SubscriptionID: c.SubscriptionID, PrevNextRun: prev}, nil
}

func (s *State) cancelSubscription(c *CancelSubscriptionCmd) (Rollback, error) {
	sub, ok := s.Subscriptions[c.SubscriptionID]
	if !ok {
		return Rollback{}, episode.InvalidCommand(ErrSubscriptionNotFound)
	}
	delete(s.Subscriptions, c.SubscriptionID)
	if info, ok := s.Customers[keyIndex(sub.Customer)]; ok {
		info.Subscriptions = removeID(info.Subscriptions, sub.ID)
	}
	restored := *sub
	return Rollback{Kind: UndoCancelSubscription, SubscriptionID: c.SubscriptionID, RestoredSubscription: &restored}, nil
}

// computeNextRun implements spec §4.5's "next_run = accepting_time +
// interval + jitter": zero jitter in deterministic/test mode, otherwise a
// bounded offset derived from the triggering transaction so production
// still satisfies the determinism invariant (§3) — no wall-clock RNG.
func (s *State) computeNextRun(meta *episode.PayloadMetadata, customer episode.PubKey, interval uint64) uint64 {
	base := meta.AcceptingTime + interval
	if s.Deterministic {
		return base
	}
	jitterMax := interval * 5 / 100
	if jitterMax == 0 {
		jitterMax = 1
	}
	entropy := cryptoutil.DeterministicEntropy(meta.TxID, meta.AcceptingHash, customer, []byte("next_run"))
	span := 2*jitterMax + 1
	raw := beUint64(entropy[:8]) % span
	offset := int64(raw) - int64(jitterMax)
	result := int64(base) + offset
	if result < int64(meta.AcceptingTime) {
		result = int64(meta.AcceptingTime)
	}
	return uint64(result)
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func removeID(ids []uint64, target uint64) []uint64 {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Rollback implements episode.Episode[Command, Rollback] (spec §4.5,
// "Rollback"). Every inverse is exact; an inconsistent token (missing
// target) returns false, which the engine treats as fatal for the episode.
func (s *State) Rollback(token Rollback) bool {
	switch token.Kind {
	case UndoCreateInvoice:
		if _, ok := s.Invoices[token.InvoiceID]; !ok {
			return false
		}
		delete(s.Invoices, token.InvoiceID)
		return true
	case UndoMarkPaid:
		inv, ok := s.Invoices[token.InvoiceID]
		if !ok {
			return false
		}
		if inv.Payer != nil {
			idx := keyIndex(inv.Payer)
			if info, ok := s.Customers[idx]; ok {
				info.Invoices = removeID(info.Invoices, token.InvoiceID)
				if token.CustomerCreated && len(info.Invoices) == 0 && len(info.Subscriptions) == 0 {
					delete(s.Customers, idx)
				}
			}
		}
		delete(s.UsedCarrierTxs, token.CarrierTx)
		delete(s.Confirmations, token.CarrierTx)
		inv.Status = StatusOpen
		inv.Payer = nil
		inv.CarrierTx = nil
		return true
	case UndoAckReceipt:
		inv, ok := s.Invoices[token.InvoiceID]
		if !ok {
			return false
		}
		inv.Status = StatusPaid
		return true
	case UndoCancelInvoice:
		inv, ok := s.Invoices[token.InvoiceID]
		if !ok {
			return false
		}
		inv.Status = token.PrevStatus
		return true
	case UndoCreateSubscription:
		sub, ok := s.Subscriptions[token.SubscriptionID]
		if !ok {
			return false
		}
		delete(s.Subscriptions, token.SubscriptionID)
		if info, ok := s.Customers[keyIndex(sub.Customer)]; ok {
			info.Subscriptions = removeID(info.Subscriptions, token.SubscriptionID)
		}
		return true
	case UndoProcessSubscription:
		sub, ok := s.Subscriptions[token.SubscriptionID]
		if !ok {
			return false
		}
		sub.NextRun = token.PrevNextRun
		return true
	case UndoCancelSubscription:
		if token.RestoredSubscription == nil {
			return false
		}
		sub := *token.RestoredSubscription
		s.Subscriptions[sub.ID] = &sub
		idx := keyIndex(sub.Customer)
		info, ok := s.Customers[idx]
		if !ok {
			info = &CustomerInfo{}
			s.Customers[idx] = info
		}
		found := false
		for _, id := range info.Subscriptions {
			if id == sub.ID {
				found = true
				break
			}
		}
		if !found {
			info.Subscriptions = append(info.Subscriptions, sub.ID)
		}
		return true
	default:
		return false
	}
}
