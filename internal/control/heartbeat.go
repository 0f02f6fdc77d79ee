package control

import (
	"context"

	"github.com/willschipp/resmgr/internal/pool"
	"github.com/willschipp/resmgr/internal/queuemgr"
)

// CatalogWriter is the full catalog persistence surface the control loop
// drives: segment_configuration rows plus resource queue DDL, the union
// pool.CatalogWriter and queuemgr.CatalogWriter each ask for separately.
type CatalogWriter interface {
	pool.CatalogWriter
	queuemgr.CatalogWriter
}

// SetCatalog attaches the catalog writer segment registration and queue
// DDL persist through. Nil, the default, runs fully in-memory.
func (l *Loop) SetCatalog(c CatalogWriter) {
	l.catalog = c
}

// Heartbeats returns the channel callers push segment heartbeat reports
// onto: phase (b)'s intake buffer, fed by the fault-tolerance subsystem
// the same way internal/rpc feeds phase (a) from the client wire
// protocol. Handing off a SegmentSpec here is the full extent of that
// collaborator's contract; the transport carrying it to this process is
// out of scope.
func (l *Loop) Heartbeats() chan<- pool.SegmentSpec {
	return l.heartbeats
}

// handleHeartbeat is phase (b): register a new segment or refresh an
// already-registered one's advertised capacity.
func (l *Loop) handleHeartbeat(ctx context.Context, spec pool.SegmentSpec) {
	_, _, _ = l.pool.RegisterSegment(ctx, spec, l.catalog)
}
