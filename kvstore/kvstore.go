// Package kvstore defines the persisted-state key/value contract (spec §6)
// and an in-memory reference implementation. The key layout mirrors
// erigon-lib/kv/tables.go's convention of documenting "key - ... -> value -
// ..." directly above each constant, and the backing store uses an ordered
// tree (google/btree, the same library erigon vendors for its own sorted
// in-memory indices) so range scans by key prefix come for free.
package kvstore

import (
	"bytes"
	"encoding/binary"

	"github.com/google/btree"
)

// Store is the narrow persistence contract the framework depends on: a
// sorted key-value map with per-key, last-writer-wins semantics (spec §5).
// Batching across one command is optional but must be atomic from the
// handler's perspective; the in-memory Memory implementation here is
// trivially atomic since writes are single-threaded per engine.
type Store interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte)
	Delete(key []byte)
	// IteratePrefix calls fn for every key with the given prefix, in
	// ascending key order, until fn returns false.
	IteratePrefix(prefix []byte, fn func(key, value []byte) bool)
}

// Key layout (spec §6):
//
//	e<be8:episode_id>                    -> serialized episode snapshot
//	c<be8:episode_id><be8:comment_id>     -> serialized comment row
//	r<be8:created_at><be8:episode_id>     -> empty (secondary index, recent)
//	m<utf8:pubkey>                        -> serialized list of episode ids
//
// Payment example additionally uses:
//
//	i<be8:invoice_id>                     -> serialized invoice snapshot
//	s<be8:subscription_id>                -> serialized subscription snapshot
//	u<utf8:pubkey>                        -> serialized customer index
//	f<32 bytes:tx_id>                     -> serialized confirmation record
//	h<utf8:merchant_pubkey><utf8:guardian_pubkey> -> serialized handshake record
const (
	prefixEpisode      = 'e'
	prefixComment      = 'c'
	prefixRecentIndex  = 'r'
	prefixPubkeyIndex  = 'm'
	prefixInvoice      = 'i'
	prefixSubscription = 's'
	prefixCustomer     = 'u'
	prefixConfirmation = 'f'
	prefixHandshake    = 'h'
)

func be8(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// EpisodeKey builds the `e<be8:episode_id>` key.
func EpisodeKey(episodeID uint64) []byte {
	return append([]byte{prefixEpisode}, be8(episodeID)...)
}

// CommentKey builds the `c<be8:episode_id><be8:comment_id>` key.
func CommentKey(episodeID, commentID uint64) []byte {
	key := append([]byte{prefixComment}, be8(episodeID)...)
	return append(key, be8(commentID)...)
}

// RecentIndexKey builds the `r<be8:created_at><be8:episode_id>` secondary
// index key. The value is always empty: existence plus ascending key order
// is the whole point.
func RecentIndexKey(createdAt, episodeID uint64) []byte {
	key := append([]byte{prefixRecentIndex}, be8(createdAt)...)
	return append(key, be8(episodeID)...)
}

// PubkeyIndexKey builds the `m<utf8:pubkey>` key.
func PubkeyIndexKey(pubkeyHex string) []byte {
	return append([]byte{prefixPubkeyIndex}, []byte(pubkeyHex)...)
}

// InvoiceKey builds the payment example's `i<be8:invoice_id>` key.
func InvoiceKey(invoiceID uint64) []byte {
	return append([]byte{prefixInvoice}, be8(invoiceID)...)
}

// SubscriptionKey builds the payment example's `s<be8:subscription_id>` key.
func SubscriptionKey(subscriptionID uint64) []byte {
	return append([]byte{prefixSubscription}, be8(subscriptionID)...)
}

// CustomerKey builds the payment example's `u<utf8:pubkey>` customer-index key.
func CustomerKey(pubkeyHex string) []byte {
	return append([]byte{prefixCustomer}, []byte(pubkeyHex)...)
}

// ConfirmationKey builds the payment example's `f<32 bytes:tx_id>` key.
func ConfirmationKey(txID [32]byte) []byte {
	return append([]byte{prefixConfirmation}, txID[:]...)
}

// HandshakeKey builds the guardian protocol's
// `h<utf8:merchant_pubkey><utf8:guardian_pubkey>` key.
func HandshakeKey(merchantHex, guardianHex string) []byte {
	key := append([]byte{prefixHandshake}, []byte(merchantHex)...)
	return append(key, []byte(guardianHex)...)
}

// item is the btree element: ordered by Key, carrying Value alongside.
type item struct {
	Key   []byte
	Value []byte
}

func (a item) Less(b btree.Item) bool {
	return bytes.Compare(a.Key, b.(item).Key) < 0
}

// Memory is an in-memory Store backed by a B-tree, suitable for tests and
// for applications that snapshot to disk themselves via handler callbacks.
type Memory struct {
	tree *btree.BTree
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tree: btree.New(32)}
}

func (m *Memory) Get(key []byte) ([]byte, bool) {
	found := m.tree.Get(item{Key: key})
	if found == nil {
		return nil, false
	}
	v := found.(item).Value
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (m *Memory) Put(key, value []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	m.tree.ReplaceOrInsert(item{Key: k, Value: v})
}

func (m *Memory) Delete(key []byte) {
	m.tree.Delete(item{Key: key})
}

func (m *Memory) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) {
	m.tree.AscendGreaterOrEqual(item{Key: prefix}, func(i btree.Item) bool {
		it := i.(item)
		if !bytes.HasPrefix(it.Key, prefix) {
			return false
		}
		return fn(it.Key, it.Value)
	})
}
