// Package episode defines the generic episode runtime: the deterministic
// state-machine contract that every kdapp application implements, plus the
// shared wire types (PubKey, PayloadMetadata, TxOutputInfo) that carry chain
// facts into Execute without letting episodes read wall-clock time or other
// non-deterministic sources directly.
package episode

import (
	"encoding/hex"
	"fmt"
)

// ID identifies an episode instance. Chosen by the creating transaction.
type ID uint32

// PubKey is a serialized public key (compressed secp256k1 point, 33 bytes,
// or an x-only 32-byte key for taproot outputs). The episode runtime treats
// it as an opaque authorization token; script policy code interprets the
// byte length to tell the two apart.
type PubKey []byte

func (k PubKey) String() string { return hex.EncodeToString(k) }

// Equal reports whether two keys carry the same bytes.
func (k PubKey) Equal(other PubKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// Signature is a serialized signature over command bytes.
type Signature []byte

// TxID is the 32-byte carrier transaction identity.
type TxID [32]byte

func (t TxID) String() string { return hex.EncodeToString(t[:]) }

// BlockHash is a 32-byte accepting-block identity.
type BlockHash [32]byte

func (h BlockHash) String() string { return hex.EncodeToString(h[:]) }

// TxOutputInfo describes one output of the carrier transaction. ScriptBytes
// is nil when the proxy build only summarizes outputs (feature-gated per the
// chain client) — callers that need script policy enforcement must treat a
// nil ScriptBytes on an otherwise-present output as "unknown", not "empty".
type TxOutputInfo struct {
	Value         uint64
	ScriptVersion uint16
	ScriptBytes   []byte
}

// TxStatus carries optional confirmation-tracking data for a carrier tx.
type TxStatus struct {
	AcceptingDAA  uint64
	Confirmations uint32
	Finality      bool
}

// PayloadMetadata is everything about the carrying transaction and its
// accepting block that Execute is allowed to depend on. It is the only
// source of non-determinism permitted inside an episode: no wall clock, no
// RNG, nothing but what is handed in here.
type PayloadMetadata struct {
	AcceptingHash BlockHash
	AcceptingDAA  uint64
	AcceptingTime uint64 // seconds, normalized from the chain header
	TxID          TxID
	TxOutputs     []TxOutputInfo // nil when the proxy did not resolve outputs
	TxStatus      *TxStatus      // nil unless confirmation tracking is enabled
}

// ErrorKind classifies why Execute rejected a command.
type ErrorKind int

const (
	// KindInvalidCommand wraps a command-specific validation error.
	KindInvalidCommand ErrorKind = iota
	// KindUnauthorized means the authorization did not satisfy the command's
	// required authority set.
	KindUnauthorized
	// KindInvalidSignature means a SignedCommand's signature failed to verify.
	KindInvalidSignature
	// KindNotFound means the command referenced an entity that does not exist.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCommand:
		return "invalid_command"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the result of a failed Execute call. It distinguishes the
// authorization/signature/not-found arms from an application-specific
// command error, which it wraps in Cause.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Unauthorized builds a KindUnauthorized error.
func Unauthorized() *Error { return &Error{Kind: KindUnauthorized} }

// InvalidSignature builds a KindInvalidSignature error.
func InvalidSignature() *Error { return &Error{Kind: KindInvalidSignature} }

// NotFound builds a KindNotFound error.
func NotFound() *Error { return &Error{Kind: KindNotFound} }

// InvalidCommand wraps a command-specific validation error.
func InvalidCommand(cause error) *Error {
	return &Error{Kind: KindInvalidCommand, Cause: cause}
}

// Episode is the generic state-machine contract. S is the concrete state
// type (a pointer receiver implementing this interface), C is the command
// type, and R is the rollback token type execute returns and rollback
// consumes. The engine never calls Execute/Rollback concurrently with
// itself: each episode instance has exactly one writer.
type Episode[C any, R any] interface {
	// Execute applies cmd to the receiver. authorization is the verified
	// signer for a SignedCommand, or nil for an UnsignedCommand. It must not
	// read anything but its receiver, cmd, authorization and meta.
	Execute(cmd C, authorization PubKey, meta *PayloadMetadata) (R, error)

	// Rollback inverts the state change produced by the Execute call that
	// returned token. It must restore the receiver to its exact prior state.
	// Returning false signals the token could not be applied and is fatal
	// to the episode.
	Rollback(token R) bool
}

// Factory constructs a new episode instance from its creating participants
// and the metadata of the NewEpisode transaction. It must be as pure as
// Execute: no clock, no randomness beyond what meta supplies.
type Factory[S any] func(participants []PubKey, meta *PayloadMetadata) S
