package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kasperience/kdapp-sub000/codec"
	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/handler"
)

const testPrefix = 0x434f554e // "COUN"

// counterCmd is a minimal command: Delta added to the counter. Negative
// deltas are rejected when they'd take the counter below zero, to exercise
// the invalid-command error arm.
type counterCmd struct {
	Delta int64
}

func encodeCounterCmd(c counterCmd) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(c.Delta))
	return buf
}

func decodeCounterCmd(raw []byte) (counterCmd, error) {
	if len(raw) != 8 {
		return counterCmd{}, errors.New("bad counter command")
	}
	return counterCmd{Delta: int64(binary.BigEndian.Uint64(raw))}, nil
}

var errWouldGoNegative = errors.New("counter would go negative")

type counterState struct {
	Value int64
}

func (c *counterState) Execute(cmd counterCmd, _ episode.PubKey, _ *episode.PayloadMetadata) (int64, error) {
	if c.Value+cmd.Delta < 0 {
		return 0, episode.InvalidCommand(errWouldGoNegative)
	}
	prev := c.Value
	c.Value += cmd.Delta
	return prev, nil
}

func (c *counterState) Rollback(prev int64) bool {
	c.Value = prev
	return true
}

func newCounter(_ []episode.PubKey, _ *episode.PayloadMetadata) *counterState {
	return &counterState{}
}

type recordingHandler struct {
	initialized []episode.ID
	commands    []counterCmd
	errors      []error
	rollbacks   []episode.ID
	fatal       []episode.ID
}

func (r *recordingHandler) OnInitialize(id episode.ID, _ *counterState) {
	r.initialized = append(r.initialized, id)
}
func (r *recordingHandler) OnCommand(_ episode.ID, _ *counterState, cmd counterCmd, _ episode.PubKey, _ *episode.PayloadMetadata) {
	r.commands = append(r.commands, cmd)
}
func (r *recordingHandler) OnCommandError(_ episode.ID, _ counterCmd, err error) {
	r.errors = append(r.errors, err)
}
func (r *recordingHandler) OnRollback(id episode.ID, _ *counterState) {
	r.rollbacks = append(r.rollbacks, id)
}
func (r *recordingHandler) OnFatal(id episode.ID, _ error) {
	r.fatal = append(r.fatal, id)
}

func TestEngineForwardAndRollbackSymmetry(t *testing.T) {
	h := &recordingHandler{}
	e := New(Config[*counterState, counterCmd, int64]{
		Prefix:        testPrefix,
		NewEpisode:    newCounter,
		DecodeCommand: decodeCounterCmd,
		Handlers:      []handler.Handler[*counterState, counterCmd]{h},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	const id = episode.ID(1)
	hashA := episode.BlockHash{0xAA}
	newPayload := codec.PackHeader(testPrefix, codec.EncodeNewEpisode(uint32(id), nil))
	cmdPayload := codec.PackHeader(testPrefix, codec.EncodeUnsignedCommand(uint32(id), encodeCounterCmd(counterCmd{Delta: 5})))

	e.Inbox() <- BlkAccepted{
		AcceptingHash: hashA,
		AssociatedTxs: []AssociatedTx{
			{TxID: episode.TxID{1}, Payload: newPayload},
			{TxID: episode.TxID{2}, Payload: cmdPayload},
		},
	}

	require.Eventually(t, func() bool {
		s, ok := e.Snapshot(id)
		return ok && s.Value == 5
	}, time.Second, time.Millisecond)

	e.Inbox() <- BlkReverted{AcceptingHash: hashA}

	require.Eventually(t, func() bool {
		_, ok := e.Snapshot(id)
		return !ok
	}, time.Second, time.Millisecond)

	require.Equal(t, []episode.ID{id}, h.initialized)
	require.Len(t, h.commands, 1)
	require.Equal(t, int64(5), h.commands[0].Delta)
}

func TestEngineRejectsInvalidCommand(t *testing.T) {
	h := &recordingHandler{}
	e := New(Config[*counterState, counterCmd, int64]{
		Prefix:        testPrefix,
		NewEpisode:    newCounter,
		DecodeCommand: decodeCounterCmd,
		Handlers:      []handler.Handler[*counterState, counterCmd]{h},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	const id = episode.ID(2)
	hash := episode.BlockHash{0xBB}
	newPayload := codec.PackHeader(testPrefix, codec.EncodeNewEpisode(uint32(id), nil))
	badCmd := codec.PackHeader(testPrefix, codec.EncodeUnsignedCommand(uint32(id), encodeCounterCmd(counterCmd{Delta: -1})))

	e.Inbox() <- BlkAccepted{
		AcceptingHash: hash,
		AssociatedTxs: []AssociatedTx{
			{TxID: episode.TxID{3}, Payload: newPayload},
			{TxID: episode.TxID{4}, Payload: badCmd},
		},
	}

	require.Eventually(t, func() bool { return len(h.errors) == 1 }, time.Second, time.Millisecond)
	s, ok := e.Snapshot(id)
	require.True(t, ok)
	require.Equal(t, int64(0), s.Value)
}

func TestEngineUnknownRevertIsNoop(t *testing.T) {
	e := New(Config[*counterState, counterCmd, int64]{
		Prefix:        testPrefix,
		NewEpisode:    newCounter,
		DecodeCommand: decodeCounterCmd,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Inbox() <- BlkReverted{AcceptingHash: episode.BlockHash{0xFF}}
	time.Sleep(10 * time.Millisecond) // no panic, no effect
}

func TestEngineDropsMalformedPayload(t *testing.T) {
	h := &recordingHandler{}
	e := New(Config[*counterState, counterCmd, int64]{
		Prefix:        testPrefix,
		NewEpisode:    newCounter,
		DecodeCommand: decodeCounterCmd,
		Handlers:      []handler.Handler[*counterState, counterCmd]{h},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Inbox() <- BlkAccepted{
		AcceptingHash: episode.BlockHash{0x01},
		AssociatedTxs: []AssociatedTx{
			{TxID: episode.TxID{9}, Payload: []byte{0x00, 0x00}},            // too short for header
			{TxID: episode.TxID{10}, Payload: codec.PackHeader(0xDEAD, nil)}, // wrong prefix
		},
	}
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, h.initialized)
}
