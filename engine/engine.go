// Package engine implements the per-episode-type deterministic driver: it
// owns one episode map, consumes an ordered channel of BlkAccepted /
// BlkReverted / Exit messages from the proxy, and dispatches
// initialize/execute/rollback calls plus handler notifications. An engine
// is single-threaded per instance: Run never processes two messages
// concurrently, and nothing outside Run touches the episode map.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/kasperience/kdapp-sub000/codec"
	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/handler"
	"github.com/kasperience/kdapp-sub000/metrics"
)

// Decoder turns an application's raw command bytes into its typed command.
type Decoder[C any] func(raw []byte) (C, error)

// Verifier checks a signature over arbitrary bytes under a given key. It
// is the only cryptographic primitive the engine depends on; concrete sign
// implementations live in cryptoutil and are injected at construction.
type Verifier interface {
	Verify(pubKey episode.PubKey, msg []byte, sig episode.Signature) bool
}

type stackEntry[R any] struct {
	acceptingHash episode.BlockHash
	isInit        bool
	token         R
}

// Engine drives one episode type. S must be an Episode[C,R]; C is the
// command type; R is the rollback-token type Execute returns and Rollback
// consumes.
type Engine[S episode.Episode[C, R], C any, R any] struct {
	prefix        uint32
	pattern       codec.Pattern
	newEpisode    episode.Factory[S]
	decodeCommand Decoder[C]
	verifier      Verifier
	handlers      []handler.Handler[S, C]
	logger        *zap.Logger
	metrics       *metrics.EngineMetrics

	episodes map[episode.ID]S
	stacks   map[episode.ID][]stackEntry[R]

	in chan Message
}

// Config bundles the construction-time dependencies of an Engine.
type Config[S episode.Episode[C, R], C any, R any] struct {
	Prefix        uint32
	Pattern       codec.Pattern
	NewEpisode    episode.Factory[S]
	DecodeCommand Decoder[C]
	Verifier      Verifier
	Handlers      []handler.Handler[S, C]
	Logger        *zap.Logger
	Metrics       *metrics.EngineMetrics
	QueueDepth    int
}

// New constructs an Engine. QueueDepth bounds the proxy-to-engine channel;
// a slow engine naturally backpressures the proxy, which is safe because
// the proxy always resumes from its stored sink.
func New[S episode.Episode[C, R], C any, R any](cfg Config[S, C, R]) *Engine[S, C, R] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	return &Engine[S, C, R]{
		prefix:        cfg.Prefix,
		pattern:       cfg.Pattern,
		newEpisode:    cfg.NewEpisode,
		decodeCommand: cfg.DecodeCommand,
		verifier:      cfg.Verifier,
		handlers:      cfg.Handlers,
		logger:        logger,
		metrics:       cfg.Metrics,
		episodes:      make(map[episode.ID]S),
		stacks:        make(map[episode.ID][]stackEntry[R]),
		in:            make(chan Message, depth),
	}
}

// Prefix returns the 32-bit payload-family magic this engine serves.
func (e *Engine[S, C, R]) Prefix() uint32 { return e.prefix }

// Pattern returns the transaction-id pattern this engine's traffic must match.
func (e *Engine[S, C, R]) Pattern() codec.Pattern { return e.pattern }

// Inbox returns the send side of the engine's ordered message channel. The
// proxy is the only intended sender.
func (e *Engine[S, C, R]) Inbox() chan<- Message { return e.in }

// Snapshot returns a shallow copy of one episode's current state, or false
// if it does not exist. Intended for read-only external queries; callers
// must not mutate the returned value's pointee state.
func (e *Engine[S, C, R]) Snapshot(id episode.ID) (S, bool) {
	s, ok := e.episodes[id]
	return s, ok
}

// Run consumes the inbox until Exit arrives or ctx is cancelled. It never
// suspends mid-batch: each BlkAccepted/BlkReverted is processed to
// completion before the next message is read.
func (e *Engine[S, C, R]) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.in:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case BlkAccepted:
				e.applyBlkAccepted(m)
			case BlkReverted:
				e.applyBlkReverted(m)
			case Exit:
				e.drain()
				return
			}
		}
	}
}

// drain empties any messages still queued after Exit, discarding them: the
// engine is shutting down and must not apply further state changes.
func (e *Engine[S, C, R]) drain() {
	for {
		select {
		case <-e.in:
		default:
			return
		}
	}
}

func (e *Engine[S, C, R]) incApplied() {
	if e.metrics != nil {
		e.metrics.CommandsApplied.Inc()
	}
}
func (e *Engine[S, C, R]) incRejected() {
	if e.metrics != nil {
		e.metrics.CommandsRejected.Inc()
	}
}
func (e *Engine[S, C, R]) incInit() {
	if e.metrics != nil {
		e.metrics.Initialized.Inc()
	}
}
func (e *Engine[S, C, R]) incRollback() {
	if e.metrics != nil {
		e.metrics.Rollbacks.Inc()
	}
}
func (e *Engine[S, C, R]) incFatal() {
	if e.metrics != nil {
		e.metrics.FatalEpisodes.Inc()
	}
}
func (e *Engine[S, C, R]) incDropped() {
	if e.metrics != nil {
		e.metrics.MalformedDropped.Inc()
	}
}

func (e *Engine[S, C, R]) applyBlkAccepted(blk BlkAccepted) {
	for _, tx := range blk.AssociatedTxs {
		body, ok := codec.StripHeader(tx.Payload, e.prefix)
		if !ok {
			e.incDropped()
			continue
		}
		env, err := codec.DecodeEnvelope(body)
		if err != nil {
			e.logger.Warn("dropping malformed payload", zap.Error(err), zap.String("tx_id", tx.TxID.String()))
			e.incDropped()
			continue
		}

		meta := &episode.PayloadMetadata{
			AcceptingHash: blk.AcceptingHash,
			AcceptingDAA:  blk.AcceptingDAA,
			AcceptingTime: blk.AcceptingTime,
			TxID:          tx.TxID,
			TxOutputs:     tx.Outputs,
			TxStatus:      tx.Status,
		}

		id := episode.ID(env.EpisodeID)

		switch env.Kind {
		case codec.KindNewEpisode:
			if _, exists := e.episodes[id]; exists {
				e.logger.Debug("dropping NewEpisode for existing id", zap.Uint32("episode_id", uint32(id)))
				continue
			}
			participants := make([]episode.PubKey, len(env.Participants))
			for i, p := range env.Participants {
				participants[i] = episode.PubKey(p)
			}
			state := e.newEpisode(participants, meta)
			e.episodes[id] = state
			e.stacks[id] = append(e.stacks[id], stackEntry[R]{acceptingHash: blk.AcceptingHash, isInit: true})
			e.incInit()
			for _, h := range e.handlers {
				h.OnInitialize(id, state)
			}

		case codec.KindSignedCommand, codec.KindUnsignedCommand:
			state, exists := e.episodes[id]
			if !exists {
				e.logger.Debug("dropping command for unknown episode", zap.Uint32("episode_id", uint32(id)))
				continue
			}
			cmd, err := e.decodeCommand(env.CommandBytes)
			if err != nil {
				e.logger.Warn("dropping command with undecodable body", zap.Error(err))
				e.incDropped()
				continue
			}

			var auth episode.PubKey
			if env.Kind == codec.KindSignedCommand {
				if e.verifier == nil || !e.verifier.Verify(episode.PubKey(env.PubKey), env.CommandBytes, episode.Signature(env.Signature)) {
					e.incRejected()
					for _, h := range e.handlers {
						h.OnCommandError(id, cmd, episode.InvalidSignature())
					}
					continue
				}
				auth = episode.PubKey(env.PubKey)
			}

			token, execErr := state.Execute(cmd, auth, meta)
			if execErr != nil {
				e.incRejected()
				for _, h := range e.handlers {
					h.OnCommandError(id, cmd, execErr)
				}
				continue
			}
			e.episodes[id] = state
			e.stacks[id] = append(e.stacks[id], stackEntry[R]{acceptingHash: blk.AcceptingHash, token: token})
			e.incApplied()
			for _, h := range e.handlers {
				h.OnCommand(id, state, cmd, auth, meta)
			}
		}
	}
}

func (e *Engine[S, C, R]) applyBlkReverted(rev BlkReverted) {
	for id, stack := range e.stacks {
		for len(stack) > 0 && stack[len(stack)-1].acceptingHash == rev.AcceptingHash {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if top.isInit {
				state, exists := e.episodes[id]
				delete(e.episodes, id)
				if exists {
					for _, h := range e.handlers {
						h.OnRollback(id, state)
					}
				}
				continue
			}

			state, exists := e.episodes[id]
			if !exists {
				continue
			}
			if !state.Rollback(top.token) {
				e.logger.Error("rollback reported inconsistency, dropping episode", zap.Uint32("episode_id", uint32(id)))
				delete(e.episodes, id)
				e.incFatal()
				for _, h := range e.handlers {
					h.OnFatal(id, errInconsistentRollback)
				}
				stack = nil
				break
			}
			e.episodes[id] = state
			e.incRollback()
			for _, h := range e.handlers {
				h.OnRollback(id, state)
			}
		}
		if len(stack) == 0 {
			delete(e.stacks, id)
		} else {
			e.stacks[id] = stack
		}
	}
}
