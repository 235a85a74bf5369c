package engine

import "errors"

// errInconsistentRollback is reported to handlers via OnFatal when an
// episode's Rollback returns false. It is fatal to the episode, not to the
// engine: the episode is dropped and the operator must restart it from a
// snapshot, while the engine keeps serving every other episode.
var errInconsistentRollback = errors.New("engine: rollback reported inconsistent state")
