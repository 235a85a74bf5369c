package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageKind discriminates the three payload shapes a carrier transaction
// can hold.
type MessageKind uint8

const (
	KindNewEpisode MessageKind = iota
	KindSignedCommand
	KindUnsignedCommand
)

// ErrTruncated is returned (and otherwise must be handled by dropping the
// single offending message, never by crashing the engine) whenever a buffer
// runs out before a length-prefixed field can be read in full.
var ErrTruncated = errors.New("codec: truncated envelope")

// ErrUnknownKind is returned when the leading kind byte does not match one
// of the known MessageKind values.
var ErrUnknownKind = errors.New("codec: unknown message kind")

// Envelope is the decoded, but not yet command-typed, body of a carrier
// transaction payload (the header has already been stripped). CommandBytes
// carries the application's command encoding verbatim; callers decode it
// with their own command codec once they know the episode's command type.
type Envelope struct {
	Kind         MessageKind
	EpisodeID    uint32
	Participants [][]byte // only set for KindNewEpisode
	PubKey       []byte   // only set for KindSignedCommand
	Signature    []byte   // only set for KindSignedCommand
	CommandBytes []byte   // set for KindSignedCommand / KindUnsignedCommand
}

func putBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func takeBytes(buf []byte) (out, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return nil, nil, ErrTruncated
	}
	return buf[:n], buf[n:], nil
}

// EncodeNewEpisode builds the body for a NewEpisode message (prefix header
// not included; see PackHeader).
func EncodeNewEpisode(episodeID uint32, participants [][]byte) []byte {
	buf := make([]byte, 0, 5+4*len(participants))
	buf = append(buf, byte(KindNewEpisode))
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], episodeID)
	buf = append(buf, idBuf[:]...)
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(participants)))
	buf = append(buf, countBuf[:]...)
	for _, p := range participants {
		buf = putBytes(buf, p)
	}
	return buf
}

// EncodeSignedCommand builds the body for a SignedCommand message.
func EncodeSignedCommand(episodeID uint32, pubKey, signature, cmdBytes []byte) []byte {
	buf := make([]byte, 0, 5+len(pubKey)+len(signature)+len(cmdBytes)+12)
	buf = append(buf, byte(KindSignedCommand))
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], episodeID)
	buf = append(buf, idBuf[:]...)
	buf = putBytes(buf, pubKey)
	buf = putBytes(buf, signature)
	buf = putBytes(buf, cmdBytes)
	return buf
}

// EncodeUnsignedCommand builds the body for an UnsignedCommand message.
func EncodeUnsignedCommand(episodeID uint32, cmdBytes []byte) []byte {
	buf := make([]byte, 0, 5+len(cmdBytes)+4)
	buf = append(buf, byte(KindUnsignedCommand))
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], episodeID)
	buf = append(buf, idBuf[:]...)
	buf = putBytes(buf, cmdBytes)
	return buf
}

// DecodeEnvelope parses a header-stripped payload body. Any malformed input
// returns an error; callers must drop the single message and continue, not
// treat this as fatal.
func DecodeEnvelope(body []byte) (Envelope, error) {
	if len(body) < 5 {
		return Envelope{}, ErrTruncated
	}
	kind := MessageKind(body[0])
	episodeID := binary.BigEndian.Uint32(body[1:5])
	rest := body[5:]

	switch kind {
	case KindNewEpisode:
		if len(rest) < 2 {
			return Envelope{}, ErrTruncated
		}
		count := binary.BigEndian.Uint16(rest[:2])
		rest = rest[2:]
		participants := make([][]byte, 0, count)
		for i := uint16(0); i < count; i++ {
			var p []byte
			var err error
			p, rest, err = takeBytes(rest)
			if err != nil {
				return Envelope{}, err
			}
			participants = append(participants, p)
		}
		return Envelope{Kind: kind, EpisodeID: episodeID, Participants: participants}, nil

	case KindSignedCommand:
		pubKey, rest2, err := takeBytes(rest)
		if err != nil {
			return Envelope{}, err
		}
		sig, rest3, err := takeBytes(rest2)
		if err != nil {
			return Envelope{}, err
		}
		cmd, _, err := takeBytes(rest3)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Kind: kind, EpisodeID: episodeID, PubKey: pubKey, Signature: sig, CommandBytes: cmd}, nil

	case KindUnsignedCommand:
		cmd, _, err := takeBytes(rest)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Kind: kind, EpisodeID: episodeID, CommandBytes: cmd}, nil

	default:
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}
