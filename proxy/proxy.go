// Package proxy implements the VSPC follower: the long-running task that
// tracks the host chain's sink, reconstructs ordered per-engine transaction
// batches for each accepting block, and fans out BlkAccepted / BlkReverted
// to every registered engine. Reconnect-with-backoff follows the same tick
// loop + fixed-delay-retry shape as erigon's WaitForDownloader
// (turbo/snapshotsync/snapshotsync.go): a ticker drives the work, transient
// failures sleep and retry rather than propagating.
package proxy

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kasperience/kdapp-sub000/chainclient"
	"github.com/kasperience/kdapp-sub000/codec"
	"github.com/kasperience/kdapp-sub000/engine"
	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/metrics"
)

// EngineSink is what the proxy needs from a registered engine: where it
// lives in payload-prefix/pattern space, and where to push messages.
// engine.Engine[S,C,R] satisfies this directly.
type EngineSink interface {
	Prefix() uint32
	Pattern() codec.Pattern
	Inbox() chan<- engine.Message
}

// Config bundles the construction-time dependencies of a Proxy.
type Config struct {
	Client        chainclient.Client
	Sinks         []EngineSink
	InitialSink   string
	TickInterval  time.Duration
	ReconnectWait time.Duration
	CacheCapacity int
	Logger        *zap.Logger
	Metrics       *metrics.ProxyMetrics
}

// Proxy follows the host chain's accepted-transaction stream and dispatches
// ordered batches to registered engines. One Proxy serves one chain
// connection; it is not safe for concurrent Run calls.
type Proxy struct {
	client  chainclient.Client
	sinks   []EngineSink
	sink    string
	tick    time.Duration
	backoff func() backoff.BackOff
	cache   *OutputCache
	logger  *zap.Logger
	metrics *metrics.ProxyMetrics
}

// New constructs a Proxy from cfg.
func New(cfg Config) *Proxy {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	return &Proxy{
		client: cfg.Client,
		sinks:  cfg.Sinks,
		sink:   cfg.InitialSink,
		tick:   tickInterval,
		backoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(reconnectWait)
		},
		cache:   NewOutputCache(cfg.CacheCapacity, cfg.Metrics),
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Run drives the follower loop until ctx is cancelled, at which point it
// sends Exit to every registered engine and returns.
func (p *Proxy) Run(ctx context.Context) error {
	if p.sink == "" {
		info, err := p.client.GetBlockDAGInfo(ctx)
		if err != nil {
			return fmt.Errorf("proxy: initial sink lookup: %w", err)
		}
		p.sink = info.Sink
	}

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.sendExit()
			return ctx.Err()
		case <-ticker.C:
			if err := p.tickOnce(ctx); err != nil {
				p.logger.Warn("proxy tick failed, will retry with backoff", zap.Error(err))
				p.reconnect(ctx)
			}
		}
	}
}

func (p *Proxy) sendExit() {
	for _, s := range p.sinks {
		select {
		case s.Inbox() <- engine.Exit{}:
		default:
		}
	}
}

// reconnect blocks the follower loop for one fixed backoff interval. The
// proxy always resumes from p.sink, so lagging here is safe: no chain state
// is lost by waiting.
func (p *Proxy) reconnect(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.ReconnectAttempts.Inc()
	}
	b := p.backoff()
	d := b.NextBackOff()
	if d == backoff.Stop {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// tickOnce performs one virtual-chain poll: reverts first, then accepted
// blocks in order.
func (p *Proxy) tickOnce(ctx context.Context) error {
	resp, err := p.client.GetVirtualChainFromBlock(ctx, p.sink, true)
	if err != nil {
		return fmt.Errorf("get virtual chain from %s: %w", p.sink, err)
	}

	for _, removedHex := range resp.RemovedChainBlockHashes {
		hash, err := parseHash(removedHex)
		if err != nil {
			p.logger.Warn("skipping revert with unparsable hash", zap.String("hash", removedHex), zap.Error(err))
			continue
		}
		p.broadcastRevert(hash)
	}

	for _, accepted := range resp.AcceptedTransactionIDs {
		if err := p.processAcceptingBlock(ctx, accepted); err != nil {
			p.logger.Warn("dropping accepting block", zap.String("hash", accepted.AcceptingBlockHash), zap.Error(err))
			if p.metrics != nil {
				p.metrics.BlocksDropped.Inc()
			}
			continue
		}
		p.sink = accepted.AcceptingBlockHash
	}
	return nil
}

func (p *Proxy) broadcastRevert(hash episode.BlockHash) {
	msg := engine.BlkReverted{AcceptingHash: hash}
	for _, s := range p.sinks {
		s.Inbox() <- msg
	}
	if p.metrics != nil {
		p.metrics.BlocksReverted.Inc()
	}
}

// processAcceptingBlock resolves and delivers one accepting block's
// per-engine sub-batches. It returns an error (never partial delivery) when
// the node's own mergeset view could not account for every required
// transaction id — the caller drops the whole block in that case.
func (p *Proxy) processAcceptingBlock(ctx context.Context, accepted chainclient.AcceptedTransactionIDs) error {
	if len(accepted.AcceptedTransactionIDs) == 0 {
		return nil
	}

	// Skip the coinbase: spec §4.3 step 4a, "skip the coinbase (first)".
	candidateIDs := accepted.AcceptedTransactionIDs[1:]

	required := make(map[episode.TxID]struct{}, len(candidateIDs))
	for _, idHex := range candidateIDs {
		id, err := parseTxID(idHex)
		if err != nil {
			continue
		}
		if p.matchesAnySink(id) {
			required[id] = struct{}{}
		}
	}
	if len(required) == 0 {
		return nil
	}

	block, err := p.client.GetBlock(ctx, accepted.AcceptingBlockHash, false)
	if err != nil {
		return fmt.Errorf("get accepting block %s: %w", accepted.AcceptingBlockHash, err)
	}

	resolved := make(map[episode.TxID]resolvedTx, len(required))
	mergeSet := append(append([]string{}, block.Verbose.MergeSetBluesHashes...), block.Verbose.MergeSetRedsHashes...)
	for _, blockHash := range mergeSet {
		if len(resolved) == len(required) {
			break
		}
		merged, err := p.client.GetBlock(ctx, blockHash, true)
		if err != nil {
			return fmt.Errorf("get merged block %s: %w", blockHash, err)
		}
		for _, tx := range merged.Transactions {
			txID, err := parseTxID(tx.Verbose.TransactionID)
			if err != nil {
				continue
			}
			if _, want := required[txID]; !want {
				continue
			}
			if _, already := resolved[txID]; already {
				continue
			}
			resolved[txID] = resolvedTx{
				payload: tx.Payload,
				outputs: p.convertOutputs(txID, tx.Outputs),
			}
		}
	}

	if len(resolved) < len(required) {
		return fmt.Errorf("mergeset covers %d/%d required transactions", len(resolved), len(required))
	}

	acceptingHash, err := parseHash(accepted.AcceptingBlockHash)
	if err != nil {
		return fmt.Errorf("accepting block hash %s: %w", accepted.AcceptingBlockHash, err)
	}
	acceptingTime := normalizeTimestamp(block.Header.TimestampMs)

	for _, sink := range p.sinks {
		var batch []engine.AssociatedTx
		for _, idHex := range candidateIDs {
			id, err := parseTxID(idHex)
			if err != nil {
				continue
			}
			if !sink.Pattern().Matches(id) || !codec.CheckHeader(resolvedPayloadOf(resolved, id), sink.Prefix()) {
				continue
			}
			rtx := resolved[id]
			batch = append(batch, engine.AssociatedTx{
				TxID:    id,
				Payload: rtx.payload,
				Outputs: rtx.outputs,
			})
		}
		if len(batch) == 0 {
			continue
		}
		sink.Inbox() <- engine.BlkAccepted{
			AcceptingHash: acceptingHash,
			AcceptingDAA:  block.Header.DaaScore,
			AcceptingTime: acceptingTime,
			AssociatedTxs: batch,
		}
	}
	if p.metrics != nil {
		p.metrics.BlocksAccepted.Inc()
	}
	return nil
}

type resolvedTx struct {
	payload []byte
	outputs []episode.TxOutputInfo
}

func resolvedPayloadOf(resolved map[episode.TxID]resolvedTx, id episode.TxID) []byte {
	return resolved[id].payload
}

func (p *Proxy) matchesAnySink(id episode.TxID) bool {
	for _, s := range p.sinks {
		if s.Pattern().Matches(id) {
			return true
		}
	}
	return false
}

func (p *Proxy) convertOutputs(txID episode.TxID, outs []chainclient.TxOutput) []episode.TxOutputInfo {
	result := make([]episode.TxOutputInfo, len(outs))
	for i, o := range outs {
		if cached, ok := p.cache.get(txID, uint32(i)); ok {
			result[i] = episode.TxOutputInfo{
				Value:         cached.Value,
				ScriptVersion: cached.ScriptPublicKey.Version,
				ScriptBytes:   cached.ScriptPublicKey.Script,
			}
			continue
		}
		p.cache.put(txID, uint32(i), o)
		result[i] = episode.TxOutputInfo{
			Value:         o.Value,
			ScriptVersion: o.ScriptPublicKey.Version,
			ScriptBytes:   o.ScriptPublicKey.Script,
		}
	}
	return result
}

func parseHash(s string) (episode.BlockHash, error) {
	var h episode.BlockHash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("invalid hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func parseTxID(s string) (episode.TxID, error) {
	h, err := parseHash(s)
	return episode.TxID(h), err
}

// normalizeTimestamp converts a millisecond chain header timestamp to
// whole seconds, as spec §4.3 requires ("header timestamp is normalized to
// seconds before being handed to engines").
func normalizeTimestamp(ms int64) uint64 {
	if ms < 0 {
		return 0
	}
	return uint64(ms / 1000)
}
