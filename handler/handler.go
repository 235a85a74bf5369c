// Package handler declares the passive observer contract applications
// implement to react to episode lifecycle events. Handlers may not mutate
// episode state; they only see what the engine hands them after the fact.
package handler

import "github.com/kasperience/kdapp-sub000/episode"

// Handler receives episode lifecycle notifications from exactly one engine.
// Implementations must be non-blocking, or must maintain their own queue:
// the engine's throughput is bounded by the slowest synchronous handler.
type Handler[S any, C any] interface {
	// OnInitialize fires after a NewEpisode message successfully creates state.
	OnInitialize(id episode.ID, state S)

	// OnCommand fires after a command successfully executes.
	OnCommand(id episode.ID, state S, cmd C, authorization episode.PubKey, meta *episode.PayloadMetadata)

	// OnCommandError fires when a command was delivered to a known episode
	// but execute rejected it. The episode is unchanged.
	OnCommandError(id episode.ID, cmd C, err error)

	// OnRollback fires after a successful rollback of one command (or the
	// removal of an episode whose creation is being undone).
	OnRollback(id episode.ID, state S)

	// OnFatal fires when rollback reported inconsistency and the episode was
	// dropped. The host operator must restart the engine from a snapshot.
	OnFatal(id episode.ID, err error)
}

// NopHandler implements Handler with no-ops. Embed it to satisfy the
// interface while overriding only the callbacks an application cares about.
type NopHandler[S any, C any] struct{}

func (NopHandler[S, C]) OnInitialize(episode.ID, S)                                       {}
func (NopHandler[S, C]) OnCommand(episode.ID, S, C, episode.PubKey, *episode.PayloadMetadata) {}
func (NopHandler[S, C]) OnCommandError(episode.ID, C, error)                              {}
func (NopHandler[S, C]) OnRollback(episode.ID, S)                                         {}
func (NopHandler[S, C]) OnFatal(episode.ID, error)                                        {}
