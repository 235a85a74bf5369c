package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackCheckHeader(t *testing.T) {
	payload := PackHeader(0xCAFEBABE, []byte("body"))
	require.True(t, CheckHeader(payload, 0xCAFEBABE))
	require.False(t, CheckHeader(payload, 0xDEADBEEF))
	require.False(t, CheckHeader([]byte{1, 2}, 0xCAFEBABE))

	body, ok := StripHeader(payload, 0xCAFEBABE)
	require.True(t, ok)
	require.Equal(t, []byte("body"), body)
}

func TestEnvelopeRoundTripNewEpisode(t *testing.T) {
	participants := [][]byte{{1, 2, 3}, {4, 5, 6, 7}}
	body := EncodeNewEpisode(42, participants)
	env, err := DecodeEnvelope(body)
	require.NoError(t, err)
	require.Equal(t, KindNewEpisode, env.Kind)
	require.Equal(t, uint32(42), env.EpisodeID)
	require.Equal(t, participants, env.Participants)
}

func TestEnvelopeRoundTripSignedCommand(t *testing.T) {
	body := EncodeSignedCommand(7, []byte("pubkey"), []byte("sig"), []byte("cmd-bytes"))
	env, err := DecodeEnvelope(body)
	require.NoError(t, err)
	require.Equal(t, KindSignedCommand, env.Kind)
	require.Equal(t, uint32(7), env.EpisodeID)
	require.Equal(t, []byte("pubkey"), env.PubKey)
	require.Equal(t, []byte("sig"), env.Signature)
	require.Equal(t, []byte("cmd-bytes"), env.CommandBytes)
}

func TestEnvelopeRoundTripUnsignedCommand(t *testing.T) {
	body := EncodeUnsignedCommand(9, []byte("unsigned-cmd"))
	env, err := DecodeEnvelope(body)
	require.NoError(t, err)
	require.Equal(t, KindUnsignedCommand, env.Kind)
	require.Equal(t, uint32(9), env.EpisodeID)
	require.Equal(t, []byte("unsigned-cmd"), env.CommandBytes)
}

func TestDecodeEnvelopeTruncated(t *testing.T) {
	_, err := DecodeEnvelope([]byte{0, 0, 0, 0})
	require.ErrorIs(t, err, ErrTruncated)

	body := EncodeSignedCommand(1, []byte("pk"), []byte("sig"), []byte("cmd"))
	_, err = DecodeEnvelope(body[:len(body)-2])
	require.Error(t, err)
}

func TestDecodeEnvelopeUnknownKind(t *testing.T) {
	body := []byte{99, 0, 0, 0, 1}
	_, err := DecodeEnvelope(body)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestPatternMatches(t *testing.T) {
	var txID [32]byte
	txID[0] = 0b10000000 // MSB of byte 0 is 1

	p := Pattern{
		{BitIndex: 0, ExpectedBit: true},
		{BitIndex: 1, ExpectedBit: false},
		{BitIndex: 2, ExpectedBit: false},
		{BitIndex: 3, ExpectedBit: false},
		{BitIndex: 4, ExpectedBit: false},
		{BitIndex: 5, ExpectedBit: false},
		{BitIndex: 6, ExpectedBit: false},
		{BitIndex: 7, ExpectedBit: false},
		{BitIndex: 8, ExpectedBit: false},
		{BitIndex: 9, ExpectedBit: false},
	}
	require.True(t, p.Matches(txID))

	bad := Pattern{{BitIndex: 0, ExpectedBit: false}}
	require.False(t, bad.Matches(txID))
}
