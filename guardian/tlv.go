// Package guardian implements the off-chain TLV side channel: the framed,
// keyed-MAC-authenticated message format carrying checkpoints, handshakes,
// watchtower attestations, and subscription disputes between merchants,
// customers, and guardians, plus the router that accepts or drops them by
// sequence number per episode. Grounded on
// original_source/examples/kdapp-merchant/src/tlv.rs for wire layout and
// original_source/examples/kdapp-guardian for the handshake/dispute
// collaborators it forwards to.
package guardian

import (
	"encoding/binary"
	"errors"

	"github.com/kasperience/kdapp-sub000/cryptoutil"
	"github.com/kasperience/kdapp-sub000/episode"
)

// Version is the only TLV wire version this router understands.
const Version uint8 = 1

// MsgType discriminates the TLV payload shapes. Values and little-endian
// field order are fixed by the wire format (spec §4.6) and copied exactly
// from tlv.rs's MsgType enum: this is an external-transport detail, not
// something an implementer chooses.
type MsgType uint8

const (
	MsgNew MsgType = iota
	MsgCmd
	MsgAck
	MsgClose
	MsgAckClose
	MsgCheckpoint
	MsgHandshake
	MsgRefund
	MsgSubCharge
	MsgSubChargeAck
	MsgSubDispute
	MsgSubDisputeResolve
)

func (t MsgType) valid() bool { return t <= MsgSubDisputeResolve }

// headerLen is the fixed portion before the variable-length payload:
// version(1) + type(1) + episode_id(8) + seq(8) + state_hash(32) + payload_len(2).
const headerLen = 1 + 1 + 8 + 8 + 32 + 2

// authLen is the trailing keyed-MAC length.
const authLen = 32

var (
	// ErrTruncated is returned when raw is shorter than the frame it claims to carry.
	ErrTruncated = errors.New("guardian: truncated tlv frame")
	// ErrUnsupportedVersion is returned when the frame's version byte isn't Version.
	ErrUnsupportedVersion = errors.New("guardian: unsupported tlv version")
	// ErrUnknownType is returned when the frame's type byte doesn't match a MsgType.
	ErrUnknownType = errors.New("guardian: unknown tlv message type")
	// ErrBadAuth is returned by Verify when the keyed MAC doesn't match.
	ErrBadAuth = errors.New("guardian: tlv auth mismatch")
)

// Msg is one decoded TLV frame.
type Msg struct {
	Version   uint8
	Type      MsgType
	EpisodeID uint64
	Seq       uint64
	StateHash [32]byte
	Payload   []byte
	Auth      [32]byte
}

// signedBytes returns version..payload, the exact range the keyed MAC
// covers, per spec §4.6.
func (m Msg) signedBytes() []byte {
	buf := make([]byte, headerLen+len(m.Payload))
	buf[0] = m.Version
	buf[1] = byte(m.Type)
	binary.LittleEndian.PutUint64(buf[2:10], m.EpisodeID)
	binary.LittleEndian.PutUint64(buf[10:18], m.Seq)
	copy(buf[18:50], m.StateHash[:])
	binary.LittleEndian.PutUint16(buf[50:52], uint16(len(m.Payload)))
	copy(buf[52:], m.Payload)
	return buf
}

// Sign computes and stores the keyed MAC over m under sharedSecret.
func (m *Msg) Sign(sharedSecret []byte) {
	m.Auth = cryptoutil.KeyedMAC256(sharedSecret, m.signedBytes())
}

// Verify reports whether m's Auth field matches the keyed MAC of its
// signed bytes under sharedSecret.
func (m Msg) Verify(sharedSecret []byte) bool {
	want := cryptoutil.KeyedMAC256(sharedSecret, m.signedBytes())
	return want == m.Auth
}

// Encode serializes m to its wire form: signedBytes() followed by Auth.
func Encode(m Msg) []byte {
	return append(m.signedBytes(), m.Auth[:]...)
}

// Decode parses a wire frame. It validates structural well-formedness
// (version, known type, length) but not authentication — callers verify
// separately with the shared secret, mirroring tlv.rs's decode/verify split.
func Decode(raw []byte) (Msg, error) {
	if len(raw) < headerLen+authLen {
		return Msg{}, ErrTruncated
	}
	version := raw[0]
	if version != Version {
		return Msg{}, ErrUnsupportedVersion
	}
	typ := MsgType(raw[1])
	if !typ.valid() {
		return Msg{}, ErrUnknownType
	}
	episodeID := binary.LittleEndian.Uint64(raw[2:10])
	seq := binary.LittleEndian.Uint64(raw[10:18])
	var stateHash [32]byte
	copy(stateHash[:], raw[18:50])
	payloadLen := binary.LittleEndian.Uint16(raw[50:52])
	if len(raw) < headerLen+int(payloadLen)+authLen {
		return Msg{}, ErrTruncated
	}
	payload := append([]byte(nil), raw[headerLen:headerLen+int(payloadLen)]...)
	var auth [32]byte
	copy(auth[:], raw[headerLen+int(payloadLen):headerLen+int(payloadLen)+authLen])
	return Msg{
		Version:   version,
		Type:      typ,
		EpisodeID: episodeID,
		Seq:       seq,
		StateHash: stateHash,
		Payload:   payload,
		Auth:      auth,
	}, nil
}

// StateHash derives the state_hash field from an episode's serialized
// snapshot, wrapping cryptoutil.HashState.
func StateHash(serialized []byte) [32]byte { return cryptoutil.HashState(serialized) }

// episodeIDOf narrows an episode.ID down to the wire's u64 field.
func episodeIDOf(id episode.ID) uint64 { return uint64(id) }
