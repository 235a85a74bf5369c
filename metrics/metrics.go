// Package metrics wires the framework's Prometheus instrumentation. Every
// long-running component (engine, proxy, watcher, guardian router) gets a
// small set of counters/gauges registered against a caller-supplied
// registry, the same pattern erigon uses for its per-subsystem metrics
// (client_golang counters registered once at construction, incremented on
// the hot path with no allocation).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics instruments one engine instance.
type EngineMetrics struct {
	CommandsApplied  prometheus.Counter
	CommandsRejected prometheus.Counter
	Initialized      prometheus.Counter
	Rollbacks        prometheus.Counter
	FatalEpisodes    prometheus.Counter
	MalformedDropped prometheus.Counter
}

// NewEngineMetrics registers an EngineMetrics under reg, labelled by prefix
// (the engine's payload-family identifier, formatted as hex by the caller).
func NewEngineMetrics(reg prometheus.Registerer, prefixLabel string) *EngineMetrics {
	constLabels := prometheus.Labels{"prefix": prefixLabel}
	m := &EngineMetrics{
		CommandsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "engine", Name: "commands_applied_total",
			Help: "Commands successfully executed.", ConstLabels: constLabels,
		}),
		CommandsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "engine", Name: "commands_rejected_total",
			Help: "Commands that failed execute (unauthorized, invalid signature, invalid command).", ConstLabels: constLabels,
		}),
		Initialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "engine", Name: "episodes_initialized_total",
			Help: "NewEpisode messages successfully applied.", ConstLabels: constLabels,
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "engine", Name: "rollbacks_total",
			Help: "Rollback tokens successfully applied.", ConstLabels: constLabels,
		}),
		FatalEpisodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "engine", Name: "fatal_episodes_total",
			Help: "Episodes dropped after rollback reported inconsistency.", ConstLabels: constLabels,
		}),
		MalformedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "engine", Name: "malformed_dropped_total",
			Help: "Payloads dropped for failing header check or envelope decode.", ConstLabels: constLabels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CommandsApplied, m.CommandsRejected, m.Initialized, m.Rollbacks, m.FatalEpisodes, m.MalformedDropped)
	}
	return m
}

// ProxyMetrics instruments the chain proxy.
type ProxyMetrics struct {
	BlocksAccepted    prometheus.Counter
	BlocksDropped     prometheus.Counter
	BlocksReverted    prometheus.Counter
	ReconnectAttempts prometheus.Counter
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
}

// NewProxyMetrics registers a ProxyMetrics under reg.
func NewProxyMetrics(reg prometheus.Registerer) *ProxyMetrics {
	m := &ProxyMetrics{
		BlocksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "proxy", Name: "blocks_accepted_total",
			Help: "Accepting blocks successfully delivered to at least one engine.",
		}),
		BlocksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "proxy", Name: "blocks_dropped_total",
			Help: "Accepting blocks dropped due to an incomplete mergeset view.",
		}),
		BlocksReverted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "proxy", Name: "blocks_reverted_total",
			Help: "Reorg-induced BlkReverted messages sent.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "proxy", Name: "reconnect_attempts_total",
			Help: "Chain client reconnect attempts after a transient failure.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "proxy", Name: "output_cache_hits_total",
			Help: "Output-lookup cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "proxy", Name: "output_cache_misses_total",
			Help: "Output-lookup cache misses.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.BlocksAccepted, m.BlocksDropped, m.BlocksReverted, m.ReconnectAttempts, m.CacheHits, m.CacheMisses)
	}
	return m
}

// WatcherMetrics instruments the watcher policy engine.
type WatcherMetrics struct {
	ConfigChangesApplied  prometheus.Counter
	ConfigChangesTimedOut prometheus.Counter
	ConfigChangesRolled   prometheus.Counter
}

// NewWatcherMetrics registers a WatcherMetrics under reg.
func NewWatcherMetrics(reg prometheus.Registerer) *WatcherMetrics {
	m := &WatcherMetrics{
		ConfigChangesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "watcher", Name: "config_changes_applied_total",
			Help: "Two-phase config changes that reached Applied.",
		}),
		ConfigChangesTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "watcher", Name: "config_changes_timed_out_total",
			Help: "Two-phase config changes that reached TimedOut.",
		}),
		ConfigChangesRolled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "watcher", Name: "config_changes_rolled_back_total",
			Help: "Two-phase config changes manually rolled back.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ConfigChangesApplied, m.ConfigChangesTimedOut, m.ConfigChangesRolled)
	}
	return m
}

// GuardianMetrics instruments the off-chain TLV router.
type GuardianMetrics struct {
	Accepted     prometheus.Counter
	Dropped      prometheus.Counter
	AuthFailures prometheus.Counter
	AcksSent     prometheus.Counter
	Attestations prometheus.Counter
	Disputes     prometheus.Counter
}

// NewGuardianMetrics registers a GuardianMetrics under reg.
func NewGuardianMetrics(reg prometheus.Registerer) *GuardianMetrics {
	m := &GuardianMetrics{
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "guardian", Name: "messages_accepted_total",
			Help: "TLV messages that passed sequence and MAC validation.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "guardian", Name: "messages_dropped_total",
			Help: "TLV messages dropped for stale/out-of-order sequence or malformed framing.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "guardian", Name: "auth_failures_total",
			Help: "TLV messages dropped for failing MAC verification.",
		}),
		AcksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "guardian", Name: "acks_sent_total",
			Help: "Acks emitted after a successful forward to the engine.",
		}),
		Attestations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "guardian", Name: "attestations_verified_total",
			Help: "Watchtower fee/congestion attestations accepted after signature and membership checks.",
		}),
		Disputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "guardian", Name: "disputes_forwarded_total",
			Help: "SubDispute escalations forwarded to guardians.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Accepted, m.Dropped, m.AuthFailures, m.AcksSent, m.Attestations, m.Disputes)
	}
	return m
}

// HTTPMetrics instruments the HTTP surface: request outcomes by route plus
// webhook delivery results.
type HTTPMetrics struct {
	RequestsTotal    *prometheus.CounterVec
	Unauthorized     prometheus.Counter
	WebhookDelivered prometheus.Counter
	WebhookFailed    prometheus.Counter
}

// NewHTTPMetrics registers an HTTPMetrics under reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "httpapi", Name: "requests_total",
			Help: "HTTP requests handled, by route and status class.",
		}, []string{"route", "status"}),
		Unauthorized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "httpapi", Name: "unauthorized_total",
			Help: "Requests rejected for a missing or mismatched X-API-Key.",
		}),
		WebhookDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "httpapi", Name: "webhook_delivered_total",
			Help: "Webhook callbacks that received a successful HTTP response.",
		}),
		WebhookFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kdapp", Subsystem: "httpapi", Name: "webhook_failed_total",
			Help: "Webhook callbacks that exhausted their retry budget.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RequestsTotal, m.Unauthorized, m.WebhookDelivered, m.WebhookFailed)
	}
	return m
}
