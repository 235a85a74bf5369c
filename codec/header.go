// Package codec implements the carrier-transaction wire format: the 4-byte
// prefix header every payload starts with, the transaction-id pattern
// filter, and the length-prefixed envelope that carries NewEpisode and
// Signed/UnsignedCommand messages. The binary layout follows the same
// fixed-width, big-endian convention erigon's key-value schema uses
// (erigon-lib/kv/tables.go): every integer field has an explicit documented
// width, nothing is varint-encoded, so two nodes with the same bytes always
// agree on the same structure.
package codec

import "encoding/binary"

// HeaderLen is the size in bytes of the prefix header.
const HeaderLen = 4

// PackHeader prepends the 4-byte big-endian prefix to body.
func PackHeader(prefix uint32, body []byte) []byte {
	out := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint32(out[:HeaderLen], prefix)
	copy(out[HeaderLen:], body)
	return out
}

// CheckHeader reports whether payload is long enough to carry a header and
// whether its first four bytes equal prefix.
func CheckHeader(payload []byte, prefix uint32) bool {
	if len(payload) < HeaderLen {
		return false
	}
	return binary.BigEndian.Uint32(payload[:HeaderLen]) == prefix
}

// StripHeader returns the payload with its header removed, or false if the
// payload is too short or does not match prefix.
func StripHeader(payload []byte, prefix uint32) ([]byte, bool) {
	if !CheckHeader(payload, prefix) {
		return nil, false
	}
	return payload[HeaderLen:], true
}
