package proxy

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kasperience/kdapp-sub000/chainclient"
	"github.com/kasperience/kdapp-sub000/codec"
	"github.com/kasperience/kdapp-sub000/engine"
	"github.com/kasperience/kdapp-sub000/episode"
)

type fakeClient struct {
	sink          string
	virtualChain  chainclient.VirtualChainResponse
	blocks        map[string]chainclient.Block
	callsVirtual  int
	virtualChains []chainclient.VirtualChainResponse // consumed one per call, last one repeats
}

func (f *fakeClient) GetBlockDAGInfo(context.Context) (chainclient.BlockDAGInfo, error) {
	return chainclient.BlockDAGInfo{Sink: f.sink}, nil
}

func (f *fakeClient) GetVirtualChainFromBlock(_ context.Context, _ string, _ bool) (chainclient.VirtualChainResponse, error) {
	idx := f.callsVirtual
	if idx >= len(f.virtualChains) {
		idx = len(f.virtualChains) - 1
	}
	f.callsVirtual++
	if idx < 0 {
		return chainclient.VirtualChainResponse{}, nil
	}
	return f.virtualChains[idx], nil
}

func (f *fakeClient) GetBlock(_ context.Context, hash string, _ bool) (chainclient.Block, error) {
	b, ok := f.blocks[hash]
	if !ok {
		return chainclient.Block{}, errNotFound
	}
	return b, nil
}

func (f *fakeClient) SubmitTransaction(context.Context, []byte, bool) error { return nil }

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "block not found" }

type fakeSink struct {
	prefix  uint32
	pattern codec.Pattern
	in      chan engine.Message
}

func newFakeSink(prefix uint32) *fakeSink {
	return &fakeSink{prefix: prefix, in: make(chan engine.Message, 16)}
}
func (s *fakeSink) Prefix() uint32            { return s.prefix }
func (s *fakeSink) Pattern() codec.Pattern    { return s.pattern }
func (s *fakeSink) Inbox() chan<- engine.Message { return s.in }

func hash32(b byte) [32]byte {
	var h [32]byte
	h[31] = b
	return h
}

func hexOf(h [32]byte) string { return hex.EncodeToString(h[:]) }

func TestProxyHappyPathDeliversBatch(t *testing.T) {
	const prefix = uint32(0x4B444150) // "KDAP"
	coinbaseID := hash32(0)
	txID := hash32(1)
	accBlockHash := hash32(2)
	mergedBlockHash := hash32(3)

	payload := codec.PackHeader(prefix, codec.EncodeUnsignedCommand(1, []byte("cmd")))

	client := &fakeClient{
		sink: hexOf(hash32(0)),
		virtualChains: []chainclient.VirtualChainResponse{
			{
				AcceptedTransactionIDs: []chainclient.AcceptedTransactionIDs{
					{
						AcceptingBlockHash:     hexOf(accBlockHash),
						AcceptedTransactionIDs: []string{hexOf(coinbaseID), hexOf(txID)},
					},
				},
			},
			{}, // subsequent ticks: nothing new
		},
		blocks: map[string]chainclient.Block{
			hexOf(accBlockHash): {
				Header: chainclient.BlockHeader{TimestampMs: 1000, DaaScore: 42},
				Verbose: chainclient.BlockVerboseData{
					MergeSetBluesHashes: []string{hexOf(mergedBlockHash)},
				},
			},
			hexOf(mergedBlockHash): {
				Transactions: []chainclient.Transaction{
					{
						Payload: payload,
						Outputs: []chainclient.TxOutput{{Value: 50}},
						Verbose: chainclient.TxVerboseData{TransactionID: hexOf(txID)},
					},
				},
			},
		},
	}

	sink := newFakeSink(prefix)
	p := New(Config{
		Client:       client,
		Sinks:        []EngineSink{sink},
		TickInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case msg := <-sink.in:
		accepted, ok := msg.(engine.BlkAccepted)
		require.True(t, ok)
		require.Equal(t, accBlockHash, [32]byte(accepted.AcceptingHash))
		require.Len(t, accepted.AssociatedTxs, 1)
		require.Equal(t, episode.TxID(txID), accepted.AssociatedTxs[0].TxID)
		require.Equal(t, uint64(1), accepted.AcceptingTime)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for BlkAccepted")
	}
}

func TestProxyDropsIncompleteMergeset(t *testing.T) {
	const prefix = uint32(0x4B444150)
	txID := hash32(1)
	accBlockHash := hash32(2)

	client := &fakeClient{
		sink: hexOf(hash32(0)),
		virtualChains: []chainclient.VirtualChainResponse{
			{
				AcceptedTransactionIDs: []chainclient.AcceptedTransactionIDs{
					{
						AcceptingBlockHash:     hexOf(accBlockHash),
						AcceptedTransactionIDs: []string{hexOf(hash32(0)), hexOf(txID)},
					},
				},
			},
			{},
		},
		blocks: map[string]chainclient.Block{
			hexOf(accBlockHash): {
				Header:  chainclient.BlockHeader{TimestampMs: 1000},
				Verbose: chainclient.BlockVerboseData{}, // no mergeset blocks at all
			},
		},
	}

	sink := newFakeSink(prefix)
	p := New(Config{
		Client:       client,
		Sinks:        []EngineSink{sink},
		TickInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case <-sink.in:
		t.Fatal("expected no delivery for incomplete mergeset")
	case <-time.After(50 * time.Millisecond):
		// expected: dropped silently
	}
}

func TestProxyBroadcastsRevertToAllSinks(t *testing.T) {
	const prefixA = uint32(0x41414141)
	const prefixB = uint32(0x42424242)
	revertHash := hash32(9)

	client := &fakeClient{
		sink: hexOf(hash32(0)),
		virtualChains: []chainclient.VirtualChainResponse{
			{RemovedChainBlockHashes: []string{hexOf(revertHash)}},
			{},
		},
		blocks: map[string]chainclient.Block{},
	}

	sinkA := newFakeSink(prefixA)
	sinkB := newFakeSink(prefixB)
	p := New(Config{
		Client:       client,
		Sinks:        []EngineSink{sinkA, sinkB},
		TickInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for _, s := range []*fakeSink{sinkA, sinkB} {
		select {
		case msg := <-s.in:
			rev, ok := msg.(engine.BlkReverted)
			require.True(t, ok)
			require.Equal(t, revertHash, [32]byte(rev.AcceptingHash))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for BlkReverted")
		}
	}
}
