// logging.go - structured logging for the runtime.
//
// Logging is per-instance, configured via WithLogger, and uses logiface so
// that any backend (stumpy, zerolog, logrus, slog) may be plugged in. Every
// entry carries a category ("sched", "poll", "pool", "net") and the runtime
// id, plus the coroutine id where one is involved.

package coro

import (
	"github.com/joeycumines/logiface"
)

// Log categories.
const (
	logCategorySched = "sched"
	logCategoryPoll  = "poll"
	logCategoryPool  = "pool"
	logCategoryNet   = "net"
)

// logBuild starts a log entry, returning nil if logging is disabled at the
// given level. All builder methods are nil safe.
func (r *Runtime) logBuild(level logiface.Level, category string) *logiface.Builder[logiface.Event] {
	return r.logger.Build(level).
		Str("category", category).
		Uint64("runtime", r.id)
}

func (r *Runtime) logCrit(category string) *logiface.Builder[logiface.Event] {
	return r.logBuild(logiface.LevelCritical, category)
}

func (r *Runtime) logErr(category string) *logiface.Builder[logiface.Event] {
	return r.logBuild(logiface.LevelError, category)
}

func (r *Runtime) logWarning(category string) *logiface.Builder[logiface.Event] {
	return r.logBuild(logiface.LevelWarning, category)
}

func (r *Runtime) logDebug(category string) *logiface.Builder[logiface.Event] {
	return r.logBuild(logiface.LevelDebug, category)
}
