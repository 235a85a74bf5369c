package guardian

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/handler"
	"github.com/kasperience/kdapp-sub000/payment"
)

// Dispatcher resolves a guardian public key to a network destination and
// sends it a framed TLV message. Concrete UDP/TCP delivery is an external
// collaborator (spec §1); CheckpointHandler only depends on this interface.
type Dispatcher interface {
	Dispatch(guardian episode.PubKey, frame []byte) error
}

// SubDispute is the payload of a MsgSubDispute frame, grounded on
// tlv.rs's SubDispute{sub_id, invoice_id, reason, evidence_hash,
// proposed_refund_tx}. ProposedRefundTx is intentionally omitted: refund
// transaction construction is out of scope (spec.md §1's wallet/keychain
// exclusion; SPEC_FULL.md §4.6), so the dispute carries a reason and
// evidence hash only, never a signed chain transaction.
type SubDispute struct {
	InvoiceID    uint64   `json:"invoice_id"`
	Reason       string   `json:"reason"`
	EvidenceHash [32]byte `json:"evidence_hash"`
}

// CheckpointHandler is a payment episode observer that forwards invoice
// checkpoints to the invoice's guardians and escalates a dispute when a
// paid invoice is canceled before acknowledgment. Grounded on handler.rs's
// "on_command performs a one-time Handshake then forwards a Checkpoint"
// description and tlv.rs's SubDispute shape.
type CheckpointHandler struct {
	handler.NopHandler[*payment.State, payment.Command]

	Handshakes   *HandshakeStore
	Dispatcher   Dispatcher
	SharedSecret []byte
	Logger       *zap.Logger

	mu      sync.Mutex
	seq     map[uint64]uint64 // episode_id -> next Cmd/Checkpoint seq (0 reserved for New)
	newSent map[string]bool   // "episode_id:guardian_hex" -> New already delivered
}

// NewCheckpointHandler builds a CheckpointHandler from its collaborators.
func NewCheckpointHandler(handshakes *HandshakeStore, dispatcher Dispatcher, sharedSecret []byte, logger *zap.Logger) *CheckpointHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointHandler{
		Handshakes:   handshakes,
		Dispatcher:   dispatcher,
		SharedSecret: sharedSecret,
		Logger:       logger,
		seq:          make(map[uint64]uint64),
		newSent:      make(map[string]bool),
	}
}

func (h *CheckpointHandler) OnCommand(id episode.ID, state *payment.State, cmd payment.Command, _ episode.PubKey, meta *episode.PayloadMetadata) {
	switch cmd.Kind {
	case payment.KindCreateInvoice:
		h.checkpoint(id, state, cmd.CreateInvoice.InvoiceID, meta)
	case payment.KindMarkPaid:
		h.checkpoint(id, state, cmd.MarkPaid.InvoiceID, meta)
	case payment.KindAckReceipt:
		h.checkpoint(id, state, cmd.AckReceipt.InvoiceID, meta)
	case payment.KindCancelInvoice:
		h.maybeEscalate(id, state, cmd.CancelInvoice.InvoiceID, meta)
	}
}

func (h *CheckpointHandler) checkpoint(id episode.ID, state *payment.State, invoiceID uint64, meta *episode.PayloadMetadata) {
	inv, ok := state.Invoices[invoiceID]
	if !ok {
		return
	}
	guardians := inv.GuardianKeys
	if len(guardians) == 0 {
		guardians = state.GuardianKeys
	}
	if len(guardians) == 0 || h.Dispatcher == nil {
		return
	}
	var merchant episode.PubKey
	if len(state.MerchantKeys) > 0 {
		merchant = state.MerchantKeys[0]
	}
	snapshot, err := json.Marshal(inv)
	if err != nil {
		h.Logger.Warn("guardian: invoice snapshot marshal failed", zap.Error(err))
		return
	}
	hash := StateHash(snapshot)
	// One sequence number per checkpoint, shared by every guardian of the
	// episode rather than tracked per guardian. A guardian added to the set
	// after seq 1 receives New and then a later seq, which its router drops.
	seq := h.nextSeq(uint64(id))
	for _, g := range guardians {
		if merchant != nil && h.Handshakes != nil && !h.Handshakes.Known(merchant, g) {
			h.sendSeq(g, MsgHandshake, uint64(id), 0, [32]byte{}, nil)
			h.Handshakes.Record(merchant, g, meta.AcceptingTime)
		}
		h.ensureNew(uint64(id), g)
		h.sendSeq(g, MsgCheckpoint, uint64(id), seq, hash, snapshot)
	}
}

// maybeEscalate forwards a SubDispute iff the invoice was Paid at the
// moment of cancellation. A canceled invoice that was never paid has no
// Payer recorded; a canceled invoice that was paid retains its Payer
// (cancelInvoice never clears it), so Payer's presence distinguishes the
// two cases without threading the pre-command status through the handler.
func (h *CheckpointHandler) maybeEscalate(id episode.ID, state *payment.State, invoiceID uint64, meta *episode.PayloadMetadata) {
	inv, ok := state.Invoices[invoiceID]
	if !ok || inv.Payer == nil || inv.Status != payment.StatusCanceled {
		return
	}
	guardians := inv.GuardianKeys
	if len(guardians) == 0 {
		guardians = state.GuardianKeys
	}
	if len(guardians) == 0 || h.Dispatcher == nil {
		return
	}
	dispute := SubDispute{
		InvoiceID:    inv.ID,
		Reason:       "invoice canceled after payment",
		EvidenceHash: StateHash(invoiceSnapshot(inv)),
	}
	payload, err := json.Marshal(dispute)
	if err != nil {
		h.Logger.Warn("guardian: dispute payload marshal failed", zap.Error(err))
		return
	}
	for _, g := range guardians {
		h.sendSeq(g, MsgSubDispute, uint64(id), 0, StateHash(payload), payload)
	}
}

func invoiceSnapshot(inv *payment.Invoice) []byte {
	b, err := json.Marshal(inv)
	if err != nil {
		return nil
	}
	return b
}

// ensureNew delivers a one-time New frame (seq 0) to guardian for episodeID
// before its first Cmd/Checkpoint, satisfying the router's "New iff seq==0
// and no prior state" acceptance rule. Reserving seq 0 to New is tracked
// per (episode, guardian) since each guardian runs an independent router
// instance with its own last_seq map.
func (h *CheckpointHandler) ensureNew(episodeID uint64, g episode.PubKey) {
	key := fmt.Sprintf("%d:%s", episodeID, g.String())
	h.mu.Lock()
	if h.newSent[key] {
		h.mu.Unlock()
		return
	}
	h.newSent[key] = true
	if _, ok := h.seq[episodeID]; !ok {
		h.seq[episodeID] = 1
	}
	h.mu.Unlock()

	msg := Msg{Version: Version, Type: MsgNew, EpisodeID: episodeID}
	msg.Sign(h.SharedSecret)
	if err := h.Dispatcher.Dispatch(g, Encode(msg)); err != nil {
		h.Logger.Warn("guardian: dispatch failed", zap.Error(err))
	}
}

// nextSeq returns and consumes episodeID's next Cmd/Checkpoint sequence
// number (1, 2, 3, ... — 0 is reserved for New).
func (h *CheckpointHandler) nextSeq(episodeID uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.seq[episodeID]
	if next == 0 {
		next = 1
	}
	h.seq[episodeID] = next + 1
	return next
}

// sendSeq signs and sends one frame with an explicit seq: the checkpoint's
// sequence number for Checkpoint, and 0 for Handshake and SubDispute, which
// the router does not sequence-gate.
func (h *CheckpointHandler) sendSeq(guardian episode.PubKey, typ MsgType, episodeID, seq uint64, stateHash [32]byte, payload []byte) {
	msg := Msg{Version: Version, Type: typ, EpisodeID: episodeID, Seq: seq, StateHash: stateHash, Payload: payload}
	msg.Sign(h.SharedSecret)
	if err := h.Dispatcher.Dispatch(guardian, Encode(msg)); err != nil {
		h.Logger.Warn("guardian: dispatch failed", zap.Error(err))
	}
}
