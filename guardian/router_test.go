package guardian

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingForwarder struct {
	forwarded []Msg
}

func (f *recordingForwarder) Forward(msg Msg) error {
	f.forwarded = append(f.forwarded, msg)
	return nil
}

type recordingTransport struct {
	sent [][]byte
}

func (t *recordingTransport) Send(_ string, frame []byte) error {
	t.sent = append(t.sent, frame)
	return nil
}

func buildRouter(secret []byte) (*Router, *recordingForwarder, *recordingTransport) {
	fwd := &recordingForwarder{}
	tr := &recordingTransport{}
	r := NewRouter(Config{SharedSecret: secret, Forwarder: fwd, Transport: tr})
	return r, fwd, tr
}

func frame(secret []byte, typ MsgType, episodeID, seq uint64) []byte {
	m := Msg{Version: Version, Type: typ, EpisodeID: episodeID, Seq: seq}
	m.Sign(secret)
	return Encode(m)
}

// S5 — out-of-order message sequence: New, then Cmd(2) skipping Cmd(1),
// is rejected; the correct Cmd(1) then Cmd(2) sequence is accepted.
func TestRouterRejectsOutOfOrderSequence(t *testing.T) {
	secret := []byte("s")
	r, fwd, _ := buildRouter(secret)

	require.NoError(t, r.HandleFrame(frame(secret, MsgNew, 1, 0), ""))
	require.Len(t, fwd.forwarded, 1)

	err := r.HandleFrame(frame(secret, MsgCmd, 1, 2), "")
	require.ErrorIs(t, err, ErrStaleSequence)
	require.Len(t, fwd.forwarded, 1, "out-of-order message must not be forwarded")

	require.NoError(t, r.HandleFrame(frame(secret, MsgCmd, 1, 1), ""))
	require.Len(t, fwd.forwarded, 2)

	require.NoError(t, r.HandleFrame(frame(secret, MsgCmd, 1, 2), ""))
	require.Len(t, fwd.forwarded, 3)
}

func TestRouterRejectsDuplicateNew(t *testing.T) {
	secret := []byte("s")
	r, fwd, _ := buildRouter(secret)

	require.NoError(t, r.HandleFrame(frame(secret, MsgNew, 5, 0), ""))
	err := r.HandleFrame(frame(secret, MsgNew, 5, 0), "")
	require.ErrorIs(t, err, ErrStaleSequence)
	require.Len(t, fwd.forwarded, 1)
}

func TestRouterDropsBadAuth(t *testing.T) {
	r, fwd, _ := buildRouter([]byte("correct"))
	bad := frame([]byte("wrong"), MsgNew, 1, 0)
	err := r.HandleFrame(bad, "")
	require.ErrorIs(t, err, ErrBadAuth)
	require.Empty(t, fwd.forwarded)
}

func TestRouterAckOnlyAfterSuccessfulForward(t *testing.T) {
	secret := []byte("s")
	fwd := &recordingForwarder{}
	tr := &recordingTransport{}
	r := NewRouter(Config{SharedSecret: secret, Forwarder: fwd, Transport: tr})

	require.NoError(t, r.HandleFrame(frame(secret, MsgNew, 1, 0), "peer"))
	require.Len(t, tr.sent, 1)

	ack, err := Decode(tr.sent[0])
	require.NoError(t, err)
	require.Equal(t, MsgAck, ack.Type)
	require.Equal(t, uint64(0), ack.Seq)
}

func TestRouterCloseRemovesEpisodeState(t *testing.T) {
	secret := []byte("s")
	r, _, _ := buildRouter(secret)

	require.NoError(t, r.HandleFrame(frame(secret, MsgNew, 9, 0), ""))
	require.NoError(t, r.HandleFrame(frame(secret, MsgClose, 9, 1), ""))

	// A second New for the same episode id is legal again: Close removed it.
	require.NoError(t, r.HandleFrame(frame(secret, MsgNew, 9, 0), ""))
}
