package guardian

import (
	"encoding/json"

	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/kvstore"
)

// HandshakeRecord tracks that a merchant and guardian have exchanged a
// one-time Handshake message, grounded on
// original_source/examples/kdapp-guardian/src/handshake_db.rs's
// HandshakeRecord{merchant, guardian, last_seen}. Persistence here goes
// through the framework's own kvstore.Store rather than a dedicated
// embedded database (sled): nothing else in this module reaches for a
// standalone DB engine, and kvstore.Store already satisfies the same
// "durable, keyed, last-writer-wins" contract sled served in the original.
type HandshakeRecord struct {
	Merchant episode.PubKey `json:"merchant"`
	Guardian episode.PubKey `json:"guardian"`
	LastSeen uint64         `json:"last_seen"`
}

// HandshakeStore tracks which (merchant, guardian) pairs have completed a
// handshake, so the checkpoint forwarder only performs it once per pair.
type HandshakeStore struct {
	store kvstore.Store
}

// NewHandshakeStore wraps store.
func NewHandshakeStore(store kvstore.Store) *HandshakeStore {
	return &HandshakeStore{store: store}
}

// Known reports whether merchant and guardian have already shaken hands.
func (h *HandshakeStore) Known(merchant, guardian episode.PubKey) bool {
	_, ok := h.store.Get(kvstore.HandshakeKey(merchant.String(), guardian.String()))
	return ok
}

// Record persists that merchant and guardian completed a handshake at
// acceptingTime (the deterministic clock source, never wall time).
func (h *HandshakeStore) Record(merchant, guardian episode.PubKey, acceptingTime uint64) {
	rec := HandshakeRecord{Merchant: merchant, Guardian: guardian, LastSeen: acceptingTime}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	h.store.Put(kvstore.HandshakeKey(merchant.String(), guardian.String()), b)
}
