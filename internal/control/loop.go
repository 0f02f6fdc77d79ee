// Package control runs the single-threaded cooperative core loop: RPC
// intake, heartbeat intake, provider responses, the dispatch pass, the
// timeout sweep, and breathe-out, interleaved on one goroutine with no
// shared-memory locking on core state (spec §5). Concurrency lives only
// at the edges it explicitly hands buffers across: internal/rpc's
// accept/read/write loops and internal/pool's liveness prober.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/willschipp/resmgr/internal/broker"
	"github.com/willschipp/resmgr/internal/conntrack"
	"github.com/willschipp/resmgr/internal/pool"
	"github.com/willschipp/resmgr/internal/queuemgr"
	"github.com/willschipp/resmgr/internal/rpc"
	"github.com/willschipp/resmgr/pkg/errors"
	"github.com/willschipp/resmgr/pkg/logger"
	"github.com/willschipp/resmgr/pkg/metrics"
)

// connEntry pairs the wire-level connection identity with the domain
// track the control loop mutates.
type connEntry struct {
	track *conntrack.Track
}

// Loop owns every piece of core mutable state and is the only goroutine
// allowed to touch it, per spec §5.
type Loop struct {
	rpc     *rpc.Server
	pool    *pool.Pool
	tree    *queuemgr.Tree
	rb      broker.ResourceBroker
	sweeper *conntrack.TimeoutSweeper
	metrics *metrics.Registry
	audit   *logger.AuditLogger
	cron    *cron.Cron

	conns map[uint64]*connEntry

	catalog    CatalogWriter
	heartbeats chan pool.SegmentSpec

	sweepInterval time.Duration

	// segQuotaMB/segCorePerSeg are the cluster-wide per-vseg memory and
	// core quota (rm_seg_resource_quota_mb): HAWQ fixes the shape of a
	// virtual segment cluster-wide rather than letting a client dictate
	// it, so every track is sized from these rather than from the wire
	// request.
	segQuotaMB    int
	segCorePerSeg int
}

// New wires a Loop over the already-constructed subsystems; none of them
// start their own background goroutines for core state (the RPC server's
// accept/IO loops are the sole exception, since they never touch core
// state directly, only MessageBuff/ConnToSend).
func New(server *rpc.Server, p *pool.Pool, tree *queuemgr.Tree, rb broker.ResourceBroker, sweeper *conntrack.TimeoutSweeper, reg *metrics.Registry, audit *logger.AuditLogger) *Loop {
	c := cron.New(cron.WithSeconds())
	return &Loop{
		rpc:           server,
		pool:          p,
		tree:          tree,
		rb:            rb,
		sweeper:       sweeper,
		metrics:       reg,
		audit:         audit,
		cron:          c,
		conns:         make(map[uint64]*connEntry),
		heartbeats:    make(chan pool.SegmentSpec, 64),
		sweepInterval: 5 * time.Second,
	}
}

// SetSegmentResourceQuota sets the cluster-wide per-vseg memory (MB) and
// core quota new tracks are sized from, and that capacity refresh
// divides queue memory by to derive ClusterSegNumber(Max). Zero values
// fall back to defaults.
func (l *Loop) SetSegmentResourceQuota(memMB, core int) {
	l.segQuotaMB = memMB
	l.segCorePerSeg = core
}

// SetSweeper attaches the idle-connection sweeper after construction.
// Callers build the sweeper with this Loop as its Evictor, which means
// the sweeper can only exist once the Loop already does; such callers
// pass nil as New's sweeper argument and attach the sweeper here.
func (l *Loop) SetSweeper(s *conntrack.TimeoutSweeper) {
	l.sweeper = s
}

// EvictConnection implements conntrack.Evictor: it is the timeout
// sweeper's only way back into core state, and always runs on the
// control-loop goroutine (the sweep runs inside periodicPhases, which
// Run's select invokes when cron signals a tick; cron's job runner never
// touches pool/tree itself).
func (l *Loop) EvictConnection(connID string) error {
	for wireID, ce := range l.conns {
		if ce.track.ConnID != connID {
			continue
		}
		l.releaseTrack(ce.track)
		switch ce.track.State {
		case conntrack.ResourceQueueAllocWait:
			_ = ce.track.Transition(conntrack.TimeoutFail)
		case conntrack.ResourceQueueAllocDone:
			_ = ce.track.Transition(conntrack.RegisterDone)
			_ = ce.track.Transition(conntrack.Closed)
		default:
			_ = ce.track.Transition(conntrack.Closed)
		}
		delete(l.conns, wireID)
		if l.rpc != nil {
			l.rpc.CloseConn(wireID)
		}
		return nil
	}
	return fmt.Errorf("control: connection %s not tracked", connID)
}

// Run drains RPC intake and runs the remaining phases on every
// iteration until ctx is cancelled. A cron job gates the timeout sweep
// and breathe-out to the 5-second cadence spec §5 mandates, independent
// of how often RPC traffic wakes the select: it only signals the select,
// which then runs those phases on this goroutine.
func (l *Loop) Run(ctx context.Context) error {
	ticks := make(chan struct{}, 1)
	if _, err := l.cron.AddFunc("@every 5s", func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}); err != nil {
		return fmt.Errorf("control: schedule periodic phases: %w", err)
	}
	l.cron.Start()
	defer l.cron.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			l.periodicPhases(ctx)
		case env := <-l.rpc.Inbound():
			l.handleEnvelope(ctx, env)
			l.dispatchPass(ctx)
		case spec := <-l.heartbeats:
			l.handleHeartbeat(ctx, spec)
			l.dispatchPass(ctx)
		}
	}
}

// periodicPhases runs the timeout sweep and breathe-out phases (e) and
// (f); Run's select invokes it whenever the cron job signals a tick, so
// it runs on the control-loop goroutine, never concurrently with Run's
// other select cases touching the same maps.
func (l *Loop) periodicPhases(ctx context.Context) {
	l.sweeper.Sweep()

	ratio := l.pool.MajorityRatio()
	if ratio > 0 {
		returned := l.pool.Breathe(ratio, 0)
		for _, rc := range returned {
			if l.rb != nil {
				_ = l.rb.Release(ctx, []string{rc.Container.ID})
			}
		}
	}
	l.dispatchPass(ctx)
}

// poolSizer adapts *pool.Pool to queuemgr.ClusterSizer.
type poolSizer struct {
	p       *pool.Pool
	quotaMB int
}

func (s poolSizer) TotalMemoryMB() int { memMB, _ := s.p.TotalCapacity(); return memMB }
func (s poolSizer) TotalCore() int     { _, core := s.p.TotalCapacity(); return core }
func (s poolSizer) SegResourceQuotaMemoryMB() int {
	if s.quotaMB > 0 {
		return s.quotaMB
	}
	return defaultSegQuotaMB
}

const (
	defaultSegQuotaMB    = 1024
	defaultSegCorePerSeg = 1
)

// dispatchPass runs phase (d): capacity counters are recomputed before
// the tree is read, per spec §5's ordering guarantee.
func (l *Loop) dispatchPass(ctx context.Context) {
	l.tree.RefreshPercentageCapacity(poolSizer{l.pool, l.segQuotaMB})
	outcomes := l.tree.DispatchResourceToQueries(l.pool, l.audit)
	for _, o := range outcomes {
		l.deliverOutcome(ctx, o)
	}
}

// deliverOutcome translates one dispatch decision into a wire response.
// On grant it transitions the track and sends the allocation back; on
// denial it fails the track and notifies the client; a deadlock-victim
// outcome instead forcibly releases an already-running connection's
// resource to free it for someone else's head-of-line request.
func (l *Loop) deliverOutcome(ctx context.Context, o queuemgr.DispatchOutcome) {
	wireID, ce, ok := l.findByTrackConnID(o.ConnID)
	if !ok {
		return
	}

	if !o.Granted {
		l.denyOutcome(ctx, wireID, ce, o)
		return
	}

	if err := ce.track.Transition(conntrack.ResourceQueueAllocDone); err != nil {
		return
	}
	ce.track.Result = o.Result

	resp := rpc.AcquireResourceResponse{Result: 0, SegMemMB: uint32(ce.track.MemPerSegMB), SegCore: uint32(ce.track.CorePerSeg)}
	for _, seg := range o.Result {
		resp.SegCount += uint32(seg.VsegCount)
		resp.HDFSIndex = append(resp.HDFSIndex, uint32(seg.HDFSNameIndex))
		if segment, ok := l.pool.Segment(seg.SegmentID); ok {
			resp.HostOffsets = append(resp.HostOffsets, uint32(len(resp.HostInfo)))
			resp.HostInfo = append(resp.HostInfo, segment.Hostname)
		}
	}
	resp.HostCount = uint32(len(resp.HostInfo))

	if l.rpc != nil {
		_ = l.rpc.Send(wireID, rpc.Frame{Mark: rpc.MarkResponseAcquireResource, Body: rpc.EncodeAcquireResourceResponse(resp)})
	}
}

// denyOutcome reports a non-granted dispatch outcome back to its
// connection. A Victim outcome names a connection that was already
// running and holding resource (ResourceQueueAllocDone); that
// connection's resource is released, it is sent Result!=0, and it is
// then dropped from the connection table and closed at once. A plain
// denial instead fails a still-waiting connection outright.
func (l *Loop) denyOutcome(ctx context.Context, wireID uint64, ce *connEntry, o queuemgr.DispatchOutcome) {
	if o.Victim {
		l.releaseTrack(ce.track)
	}

	switch ce.track.State {
	case conntrack.ResourceQueueAllocWait:
		_ = ce.track.Transition(conntrack.ResourceAcquireFail)
	case conntrack.ResourceQueueAllocDone:
		_ = ce.track.Transition(conntrack.RegisterDone)
		_ = ce.track.Transition(conntrack.Closed)
	}

	if l.audit != nil {
		queueName := ""
		if tracker, ok := l.tree.Tracker(ce.track.QueueOID); ok {
			if q := tracker.Queue(); q != nil {
				queueName = q.Name
			}
		}
		l.audit.LogResourceDenied(ctx, ce.track.ConnID, queueName, errors.CodeOf(o.Err))
		if o.Victim {
			// A victim's connection is torn down out from under it by
			// the deadlock detector rather than by its own request, so
			// this is worth a security-relevant line beyond the audit
			// trail entry above.
			l.audit.Log().WithSessionID(ce.track.SessionID).SecurityEvent(ctx, "deadlock_victim_cancelled",
				slog.String("conn_id", ce.track.ConnID), slog.String("queue", queueName))
		}
	}

	if l.rpc != nil {
		_ = l.rpc.Send(wireID, rpc.Frame{Mark: rpc.MarkResponseAcquireResource, Body: rpc.EncodeAcquireResourceResponse(rpc.AcquireResourceResponse{Result: 1})})
	}

	if o.Victim {
		delete(l.conns, wireID)
		if l.rpc != nil {
			l.rpc.CloseConn(wireID)
		}
	}
}

func (l *Loop) findByTrackConnID(connID string) (uint64, *connEntry, bool) {
	for wireID, ce := range l.conns {
		if ce.track.ConnID == connID {
			return wireID, ce, true
		}
	}
	return 0, nil, false
}

// releaseTrack returns any resources a track was holding back to the
// pool and clears its deadlock lock, used on REQUEST_QD_RETURN_RESOURCE
// and on forced eviction alike.
func (l *Loop) releaseTrack(tr *conntrack.Track) {
	if len(tr.Result) == 0 {
		return
	}
	segs := make([]pool.ReturnedSeg, 0, len(tr.Result))
	for _, r := range tr.Result {
		segs = append(segs, pool.ReturnedSeg{SegmentID: r.SegmentID, VsegCount: r.VsegCount})
	}
	l.pool.ReturnResource(tr.MemPerSegMB, tr.CorePerSeg, tr.SliceCount, segs)

	if tracker, ok := l.tree.Tracker(tr.QueueOID); ok {
		tracker.Deadlock().MinusSessionInUse(tr.SessionID)
		tracker.Deadlock().UnlockSessionResource(tr.SessionID)
		tracker.ReleaseUsage(tr.SegNum * tr.MemPerSegMB)
		tracker.MarkFinished()
	}
	tr.Result = nil
}
