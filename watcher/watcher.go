// Package watcher implements the fee/congestion policy engine: a current
// (max_fee, congestion_threshold) pair and a two-phase change workflow —
// a client requests new values, a background reconciler applies them once
// a matching mempool snapshot is observed, and an unmatched request times
// out and can be manually rolled back (spec §4.7).
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kasperience/kdapp-sub000/metrics"
)

// DefaultMinFee is the floor fee (sompi-equivalent units) below which the
// policy never selects, mirroring the original's MIN_FEE baseline used to
// seed mempool snapshots in its own config-change tests.
const DefaultMinFee uint64 = 1000

// DefaultChangeTimeout is how long a Pending config change waits for a
// matching mempool snapshot before becoming TimedOut.
const DefaultChangeTimeout = 2 * time.Second

var (
	// ErrChangeInProgress is returned by RequestChange when an operation is
	// already Pending or TimedOut and awaiting manual rollback.
	ErrChangeInProgress = errors.New("watcher: a config change is already pending")
	// ErrNoSuchOperation is returned by Rollback when op_id does not match
	// the current pending operation.
	ErrNoSuchOperation = errors.New("watcher: no pending operation with that id")
)

// OpStatus is the lifecycle state of a two-phase config-change operation.
type OpStatus string

const (
	StatusPending    OpStatus = "pending"
	StatusApplied    OpStatus = "applied"
	StatusTimedOut   OpStatus = "timed_out"
	StatusRolledBack OpStatus = "rolled_back"
)

// MempoolSnapshot is one observation of chain fee/congestion conditions fed
// to the reconciler; the external mempool-watching collaborator is outside
// this package (spec §1's chain-follower boundary).
type MempoolSnapshot struct {
	EstBaseFee      uint64
	CongestionRatio float64
	MinFee          uint64
	MaxFee          uint64
}

// Policy is the current effective (max_fee, congestion_threshold) pair.
// Both fields are nil until the first config change is Applied.
type Policy struct {
	MaxFee              *uint64
	CongestionThreshold *float64
}

// Op is one config-change request and its outcome.
type Op struct {
	OpID                uuid.UUID
	TargetMaxFee              *uint64
	TargetCongestionThreshold *float64
	Status                    OpStatus
	CreatedAt                 time.Time
}

// Snapshot is the query response shape: current policy plus pending
// operation and full history.
type Snapshot struct {
	Current Policy
	Pending *Op
	History []Op
}

// Watcher holds the policy mutex described in spec §5: "a single mutex
// around (current, pending, history)".
type Watcher struct {
	mu      sync.Mutex
	current Policy
	pending *Op
	history []Op

	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.WatcherMetrics
}

// Config bundles Watcher's construction-time dependencies.
type Config struct {
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.WatcherMetrics
}

// New constructs a Watcher with an empty (unset) current policy.
func New(cfg Config) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultChangeTimeout
	}
	return &Watcher{timeout: timeout, logger: logger, metrics: cfg.Metrics}
}

// RequestChange starts a two-phase config change toward target. Only one
// operation may be in flight (Pending or TimedOut-awaiting-rollback) at a
// time; callers must Rollback a stuck operation before requesting another.
func (w *Watcher) RequestChange(target Policy) (Op, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		return Op{}, ErrChangeInProgress
	}
	op := Op{
		OpID:                      uuid.New(),
		TargetMaxFee:              target.MaxFee,
		TargetCongestionThreshold: target.CongestionThreshold,
		Status:                    StatusPending,
		CreatedAt:                 now(),
	}
	w.pending = &op
	out := op
	return out, nil
}

// Observe feeds one mempool snapshot to the reconciler. If an operation is
// Pending and the snapshot's max_fee equals the requested max_fee (or none
// was requested), the operation becomes Applied and current takes every
// requested value. The snapshot's congestion ratio is not compared.
func (w *Watcher) Observe(snapshot MempoolSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil || w.pending.Status != StatusPending {
		return
	}
	if !matches(w.pending, snapshot) {
		return
	}
	if w.pending.TargetMaxFee != nil {
		w.current.MaxFee = w.pending.TargetMaxFee
	}
	if w.pending.TargetCongestionThreshold != nil {
		w.current.CongestionThreshold = w.pending.TargetCongestionThreshold
	}
	applied := *w.pending
	applied.Status = StatusApplied
	w.history = append(w.history, applied)
	w.pending = nil
	if w.metrics != nil {
		w.metrics.ConfigChangesApplied.Inc()
	}
}

func matches(op *Op, snap MempoolSnapshot) bool {
	if op.TargetMaxFee != nil && *op.TargetMaxFee != snap.MaxFee {
		return false
	}
	return true
}

// CheckTimeouts flips any Pending operation older than the configured
// timeout to TimedOut. TimedOut operations stay in Pending's slot — only
// Rollback clears them (spec §4.7 step 3).
func (w *Watcher) CheckTimeouts() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil || w.pending.Status != StatusPending {
		return
	}
	if now().Sub(w.pending.CreatedAt) < w.timeout {
		return
	}
	w.pending.Status = StatusTimedOut
	if w.metrics != nil {
		w.metrics.ConfigChangesTimedOut.Inc()
	}
}

// Rollback manually resolves a Pending or TimedOut operation matching
// opID: it is marked RolledBack, moved to history, and current is left
// unchanged (spec §4.7: "leaves prior policy unchanged").
func (w *Watcher) Rollback(opID uuid.UUID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil || w.pending.OpID != opID {
		return ErrNoSuchOperation
	}
	rolled := *w.pending
	rolled.Status = StatusRolledBack
	w.history = append(w.history, rolled)
	w.pending = nil
	if w.metrics != nil {
		w.metrics.ConfigChangesRolled.Inc()
	}
	return nil
}

// Snapshot returns the current policy, pending operation (if any), and
// full history, suitable for the GET /watcher-config response.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	var pending *Op
	if w.pending != nil {
		p := *w.pending
		pending = &p
	}
	return Snapshot{
		Current: w.current,
		Pending: pending,
		History: append([]Op(nil), w.history...),
	}
}

// Run drives the background reconciler: it applies incoming snapshots and
// periodically checks for timed-out operations until ctx is cancelled.
// Grounded on engine.Engine.Run's single select-loop shape, generalized to
// this package's two event sources (a channel plus a ticker) since the
// reconciler has no ordered-message-bus input of its own.
func (w *Watcher) Run(ctx context.Context, snapshots <-chan MempoolSnapshot) {
	ticker := time.NewTicker(w.timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			w.Observe(snap)
		case <-ticker.C:
			w.CheckTimeouts()
		}
	}
}

// now is the wall-clock source for operation timestamps. Unlike episode
// Execute, the watcher runs outside the deterministic replay path (spec
// §4.1's determinism invariant binds engine state transitions, not this
// off-chain advisory component), so reading the host clock directly is
// correct here.
func now() time.Time { return time.Now() }
