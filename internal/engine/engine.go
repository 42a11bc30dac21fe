// Package engine implements the delta-sync pipelines: paginated pull,
// per-item idempotent push with conflict detection, and conflict
// resolution. It owns the sync semantics; the HTTP layer only decodes
// requests and encodes results.
package engine

import (
	"log/slog"
	"time"

	"github.com/calderon/ventasync/internal/store"
)

// DefaultPageSize caps how many changes a single pull returns.
const DefaultPageSize = 1000

// pullEpoch is the checkpoint for a device that has never synced.
var pullEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Engine runs sync operations against the store.
type Engine struct {
	store    *store.Store
	logger   *slog.Logger
	pageSize int
}

// New creates an engine with the default page size.
func New(st *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, logger: logger, pageSize: DefaultPageSize}
}

// WithPageSize overrides the pull page size. Values below 1 keep the
// current size.
func (e *Engine) WithPageSize(n int) *Engine {
	if n > 0 {
		e.pageSize = n
	}
	return e
}
