package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/handler"
	"github.com/kasperience/kdapp-sub000/payment"
)

// Event is one invoice-lifecycle notification broadcast to connected
// front-ends, matching WebhookEvent's field set so both sinks describe the
// same occurrence.
type Event struct {
	Event       string  `json:"event"`
	InvoiceID   uint64  `json:"invoice_id"`
	EpisodeID   uint32  `json:"episode_id"`
	Amount      uint64  `json:"amount"`
	Memo        string  `json:"memo,omitempty"`
	PayerPubKey *string `json:"payer_pubkey,omitempty"`
	Timestamp   uint64  `json:"timestamp"`
}

// Hub fans handler events out to every connected WebSocket client. Grounded
// on the "Domain: WebSocket fan-out" addition (SPEC_FULL.md §2): a handler
// observer (EventBroadcaster) pushes to Hub, which owns the client set
// behind its own mutex rather than sharing the engine's.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub constructs an empty Hub. The upgrader allows any origin: this is a
// development/demo front-end fan-out, not a hardened public endpoint (the
// HTTP surface itself is an out-of-scope external collaborator per spec.md
// §1; origin policy is left to whatever reverse proxy fronts it in
// production).
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and registers it until the client
// disconnects or a write fails.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("httpapi: websocket upgrade failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Drain and discard any client-sent frames; the first read error
	// removes the client. This endpoint is broadcast-only.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Broadcast sends ev to every connected client, dropping any that fail to
// write (they are removed; the caller never blocks on a slow client beyond
// one write-deadline).
func (h *Hub) Broadcast(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("httpapi: event marshal failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, body); err != nil {
			h.remove(c)
		}
	}
}

// EventBroadcaster is a payment episode observer that forwards invoice
// lifecycle events to Hub, a third independently-stacked
// handler.Handler[*payment.State, payment.Command] alongside
// payment.StoreHandler and guardian.CheckpointHandler.
type EventBroadcaster struct {
	handler.NopHandler[*payment.State, payment.Command]
	Hub   *Hub
	Clock func() uint64
}

func (b *EventBroadcaster) OnCommand(id episode.ID, state *payment.State, cmd payment.Command, _ episode.PubKey, meta *episode.PayloadMetadata) {
	var invoiceID uint64
	var name string
	switch cmd.Kind {
	case payment.KindCreateInvoice:
		invoiceID, name = cmd.CreateInvoice.InvoiceID, "invoice_created"
	case payment.KindMarkPaid:
		invoiceID, name = cmd.MarkPaid.InvoiceID, "invoice_paid"
	case payment.KindAckReceipt:
		invoiceID, name = cmd.AckReceipt.InvoiceID, "invoice_acked"
	case payment.KindCancelInvoice:
		invoiceID, name = cmd.CancelInvoice.InvoiceID, "invoice_cancelled"
	default:
		return
	}
	inv, ok := state.Invoices[invoiceID]
	if !ok {
		return
	}
	ts := meta.AcceptingTime
	if b.Clock != nil {
		ts = b.Clock()
	}
	ev := Event{
		Event:     name,
		InvoiceID: invoiceID,
		EpisodeID: uint32(id),
		Amount:    inv.Amount,
		Memo:      inv.Memo,
		Timestamp: ts,
	}
	if inv.Payer != nil {
		hex := inv.Payer.String()
		ev.PayerPubKey = &hex
	}
	b.Hub.Broadcast(ev)
}
