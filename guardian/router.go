package guardian

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kasperience/kdapp-sub000/metrics"
)

// ErrStaleSequence is returned by the router when a message's seq does not
// extend the episode's last_seq by exactly one (or, for New, is nonzero).
var ErrStaleSequence = errors.New("guardian: stale or out-of-order sequence")

// Forwarder is what the router hands accepted messages to — typically an
// application's command decoder feeding an engine, injected so the router
// never depends on a concrete episode type.
type Forwarder interface {
	Forward(msg Msg) error
}

// Transport is the narrow send capability the router needs to emit acks
// and forwarded messages. Concrete UDP/TCP/WebSocket sockets are an
// external collaborator (spec §1); Router only depends on this interface.
type Transport interface {
	Send(dst string, frame []byte) error
}

// Config wires a Router's collaborators. Logger and Metrics default to
// no-ops when nil, matching the rest of the framework's constructor style.
type Config struct {
	SharedSecret []byte
	Transport    Transport
	Forwarder    Forwarder
	Logger       *zap.Logger
	Metrics      *metrics.GuardianMetrics
}

// Router implements the TLV sequence-checked forwarding policy of spec
// §4.6: per-episode monotonic last_seq behind a mutex held only for the
// validation critical section, at-least-once forward / at-most-once ack.
// Grounded on tlv.rs's framing plus the router semantics spec.md states
// directly (no single original_source file implements the router itself).
type Router struct {
	sharedSecret []byte
	transport    Transport
	forwarder    Forwarder
	logger       *zap.Logger
	metrics      *metrics.GuardianMetrics

	mu       sync.Mutex
	lastSeq  map[uint64]uint64
	episodes map[uint64]struct{}
}

// NewRouter builds a Router from cfg.
func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		sharedSecret: cfg.SharedSecret,
		transport:    cfg.Transport,
		forwarder:    cfg.Forwarder,
		logger:       logger,
		metrics:      cfg.Metrics,
		lastSeq:      make(map[uint64]uint64),
		episodes:     make(map[uint64]struct{}),
	}
}

// HandleFrame decodes, authenticates, and sequence-checks raw, forwarding
// it and emitting an ack on success. Replyto, when non-empty, is where the
// ack is sent via the router's Transport.
func (r *Router) HandleFrame(raw []byte, replyTo string) error {
	msg, err := Decode(raw)
	if err != nil {
		r.logger.Warn("guardian: dropping malformed frame", zap.Error(err))
		r.count(r.metrics, func(m *metrics.GuardianMetrics) { m.Dropped.Inc() })
		return err
	}
	if !msg.Verify(r.sharedSecret) {
		r.logger.Warn("guardian: dropping frame with bad auth", zap.Uint64("episode_id", msg.EpisodeID))
		r.count(r.metrics, func(m *metrics.GuardianMetrics) { m.AuthFailures.Inc() })
		return ErrBadAuth
	}
	if err := r.accept(msg); err != nil {
		r.logger.Info("guardian: dropping out-of-sequence frame",
			zap.Uint64("episode_id", msg.EpisodeID), zap.Uint64("seq", msg.Seq))
		r.count(r.metrics, func(m *metrics.GuardianMetrics) { m.Dropped.Inc() })
		return err
	}
	r.count(r.metrics, func(m *metrics.GuardianMetrics) { m.Accepted.Inc() })

	if r.forwarder == nil {
		return nil
	}
	if err := r.forwarder.Forward(msg); err != nil {
		r.logger.Warn("guardian: forward failed, no ack sent", zap.Error(err))
		return err
	}
	if replyTo != "" && r.transport != nil && msg.Type != MsgClose {
		ack := Msg{Version: Version, Type: MsgAck, EpisodeID: msg.EpisodeID, Seq: msg.Seq}
		ack.Sign(r.sharedSecret)
		if err := r.transport.Send(replyTo, Encode(ack)); err == nil {
			r.count(r.metrics, func(m *metrics.GuardianMetrics) { m.AcksSent.Inc() })
		}
	}
	if msg.Type == MsgClose {
		r.closeEpisode(msg.EpisodeID)
		if replyTo != "" && r.transport != nil {
			ack := Msg{Version: Version, Type: MsgAckClose, EpisodeID: msg.EpisodeID, Seq: msg.Seq}
			ack.Sign(r.sharedSecret)
			if err := r.transport.Send(replyTo, Encode(ack)); err == nil {
				r.count(r.metrics, func(m *metrics.GuardianMetrics) { m.AcksSent.Inc() })
			}
		}
	}
	return nil
}

// accept applies the sequence policy: New iff seq==0 and no prior state;
// Cmd/Close/Checkpoint iff seq==last_seq+1. Other message types (Ack,
// AckClose, Handshake, attestation/dispute variants) are not sequence
// gated — they are point-to-point acknowledgements or advisory messages,
// not episode-ordered commands.
func (r *Router) accept(msg Msg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch msg.Type {
	case MsgNew:
		if _, exists := r.episodes[msg.EpisodeID]; exists || msg.Seq != 0 {
			return ErrStaleSequence
		}
		r.episodes[msg.EpisodeID] = struct{}{}
		r.lastSeq[msg.EpisodeID] = 0
		return nil
	case MsgCmd, MsgClose, MsgCheckpoint:
		last, known := r.lastSeq[msg.EpisodeID]
		if !known || msg.Seq != last+1 {
			return ErrStaleSequence
		}
		r.lastSeq[msg.EpisodeID] = msg.Seq
		return nil
	default:
		return nil
	}
}

func (r *Router) closeEpisode(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastSeq, id)
	delete(r.episodes, id)
}

func (r *Router) count(m *metrics.GuardianMetrics, f func(*metrics.GuardianMetrics)) {
	if m != nil {
		f(m)
	}
}
