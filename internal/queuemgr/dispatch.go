package queuemgr

import (
	"context"

	"github.com/willschipp/resmgr/internal/conntrack"
	"github.com/willschipp/resmgr/internal/pool"
	"github.com/willschipp/resmgr/pkg/errors"
	"github.com/willschipp/resmgr/pkg/logger"
)

// DispatchOutcome reports what happened to one connection during a
// dispatch pass. Most outcomes describe a pending request that was
// granted or denied resource; a deadlock-cancelled outcome instead
// names an already-running connection chosen as a victim and forcibly
// released to free resource for someone else's head-of-line request
// (spec §4.5).
type DispatchOutcome struct {
	ConnID  string
	Granted bool
	Victim  bool
	Result  []conntrack.AllocationResult
	Err     error
}

// DispatchResourceToQueries runs one dispatch pass over every leaf queue
// in the tree, implementing dispatchResourceToQueries: queues sharing
// the cluster's memory first redistribute free capacity among
// themselves (spec §4.3 steps 1-3), then each leaf processes its own
// pending FIFO against the budget that redistribution gave it (step 4).
func (t *Tree) DispatchResourceToQueries(p *pool.Pool, audit *logger.AuditLogger) []DispatchOutcome {
	t.mu.RLock()
	leaves := make([]*Tracker, 0, len(t.byOID))
	for oid, q := range t.byOID {
		if q.IsLeaf {
			leaves = append(leaves, t.trackers[oid])
		}
	}
	forceFIFO := t.forceFIFO
	t.mu.RUnlock()

	availNodeCount := p.SegmentCount()

	t.redistributeAvailMemory(leaves)

	var outcomes []DispatchOutcome
	for _, tr := range leaves {
		outcomes = append(outcomes, tr.dispatchOne(p, audit, availNodeCount, forceFIFO)...)
	}
	return outcomes
}

// redistributeAvailMemory implements spec §4.3 steps 1-3. A queue
// already using at or above its own operating-capacity share is pinned
// at its current usage and excluded from redistribution; the remaining
// cluster memory is split among the rest proportional to their
// ClusterMemoryMB weight, each capped at its own ClusterMemoryMaxMB and
// at its own outstanding demand (TotalRequestMB); a queue that still
// could not be fully served is marked expectMoreResource, and any
// leftover remainder goes to one round-robin-chosen such queue.
func (t *Tree) redistributeAvailMemory(leaves []*Tracker) {
	var underTarget []*Tracker
	totalWeight := 0
	pinnedMB := 0
	clusterCapMB := 0

	for _, tr := range leaves {
		tr.mu.Lock()
		clusterCapMB += tr.ClusterMemoryMaxMB
		overUsing := tr.ClusterMemoryMB > 0 && tr.TotalUsedMB >= tr.ClusterMemoryMB
		if overUsing {
			tr.TotalAllocatedMB = tr.TotalUsedMB
			tr.expectMoreResource = false
			pinnedMB += tr.TotalUsedMB
			tr.mu.Unlock()
			continue
		}
		weight := tr.ClusterMemoryMB
		tr.mu.Unlock()

		underTarget = append(underTarget, tr)
		totalWeight += weight
	}

	free := clusterCapMB - pinnedMB
	if free < 0 {
		free = 0
	}

	allocatedMB := 0
	var troubled []*Tracker
	for _, tr := range underTarget {
		tr.mu.Lock()
		demand := tr.TotalRequestMB
		if demand < tr.TotalUsedMB {
			demand = tr.TotalUsedMB
		}

		share := 0
		if totalWeight > 0 {
			share = free * tr.ClusterMemoryMB / totalWeight
		}
		if share > tr.ClusterMemoryMaxMB {
			share = tr.ClusterMemoryMaxMB
		}
		if share > demand {
			share = demand
		}

		tr.TotalAllocatedMB = share
		tr.expectMoreResource = share < demand
		allocatedMB += share
		if tr.expectMoreResource {
			troubled = append(troubled, tr)
		}
		tr.mu.Unlock()
	}

	if len(troubled) == 0 {
		return
	}

	leftover := free - allocatedMB
	if leftover <= 0 {
		return
	}

	victim := troubled[t.nextRoundRobin(len(troubled))]
	victim.mu.Lock()
	room := victim.ClusterMemoryMaxMB - victim.TotalAllocatedMB
	if room > leftover {
		room = leftover
	}
	if room > 0 {
		victim.TotalAllocatedMB += room
		victim.expectMoreResource = victim.TotalAllocatedMB < victim.TotalRequestMB
	}
	victim.mu.Unlock()
}

// dispatchOne processes one leaf queue's share of a dispatch pass:
// AllocatePolicy picks which pending requests are candidates this
// round (FIFO admits only the head, EVEN admits up to ActiveStatements
// concurrently), and requests already marked troubled by a prior
// failed attempt are retried first so a stuck head doesn't starve
// behind newer arrivals that happen to fit.
func (tr *Tracker) dispatchOne(p *pool.Pool, audit *logger.AuditLogger, availNodeCount int, forceFIFO bool) []DispatchOutcome {
	pending := tr.PendingSnapshot()
	if len(pending) == 0 {
		return nil
	}

	limit := tr.queue.ActiveStatements
	if limit <= 0 {
		limit = len(pending)
	}

	var candidates []*conntrack.Track
	switch tr.queue.AllocatePolicy {
	case PolicyEven:
		room := limit
		if tr.queue.ActiveStatements > 0 {
			room -= tr.NumOfRunningQueries()
		}
		for i := 0; i < len(pending) && i < room; i++ {
			candidates = append(candidates, pending[i])
		}
	default: // PolicyFIFO
		if tr.NumOfRunningQueries() < limit {
			candidates = append(candidates, pending[0])
		}
	}
	candidates = orderTroubledFirst(candidates)

	var outcomes []DispatchOutcome
	for _, req := range candidates {
		outcome, granted := tr.dispatchRequest(p, audit, req, availNodeCount)
		outcomes = append(outcomes, outcome...)
		if granted {
			continue
		}

		// computeQueryQuota/Allocate failed to find a fit this pass
		// (as opposed to a structural deadlock, which already removed
		// req itself from the FIFO): mark it troubled and requeue
		// instead of dropping it (spec §4.3 step 4).
		if tr.Remove(req.ConnID) == nil {
			continue
		}
		tr.mu.Lock()
		req.TroubledByFragment = true
		// Remove subtracted req's demand; it is outstanding again once
		// requeued.
		tr.TotalRequestMB += req.VsegMax * req.MemPerSegMB
		tr.mu.Unlock()

		if forceFIFO {
			tr.RequeueFront(req)
			break
		}
		tr.RequeueBack(req)
	}
	return outcomes
}

// orderTroubledFirst moves requests already marked troubled ahead of
// fresh arrivals within a dispatch round, so a statement that already
// failed once gets first crack at newly freed capacity.
func orderTroubledFirst(candidates []*conntrack.Track) []*conntrack.Track {
	ordered := make([]*conntrack.Track, 0, len(candidates))
	var rest []*conntrack.Track
	for _, c := range candidates {
		if c.TroubledByFragment {
			ordered = append(ordered, c)
		} else {
			rest = append(rest, c)
		}
	}
	return append(ordered, rest...)
}

// dispatchRequest attempts to satisfy a single request against this
// queue's currently allocated budget. When the request's minimum
// demand can never fit even inside ClusterMemoryMaxMB, it runs victim
// selection (spec §4.5) before giving up: cancelling in-use holders
// frees their locked resource for the next pass, and if even aborting
// every eligible holder still isn't enough the request itself is the
// deadlock and is cancelled with RESQUEMGR_DEADLOCK_DETECTED.
func (tr *Tracker) dispatchRequest(p *pool.Pool, audit *logger.AuditLogger, req *conntrack.Track, availNodeCount int) ([]DispatchOutcome, bool) {
	tr.mu.Lock()
	maxMemMB := tr.ClusterMemoryMaxMB
	tr.mu.Unlock()

	neededMemMB := req.VsegMin * req.MemPerSegMB
	neededCore := req.VsegMin * req.CorePerSeg

	if neededMemMB > 0 && neededMemMB > maxMemMB {
		victims, deadlocked := tr.deadlock.SelectVictims(req.SessionID, neededMemMB, neededCore)

		if len(victims) == 0 {
			// No in-use holder exists to cancel: this request simply
			// cannot fit, not a deadlock. Fall through to the ordinary
			// capacity-exceeded rejection below instead of cancelling
			// a head-of-line request that was never in contention.
		} else {
			var victimOutcomes []DispatchOutcome
			for _, v := range victims {
				tr.deadlock.UnlockSessionResource(v.SessionID)
				victimOutcomes = append(victimOutcomes, DispatchOutcome{
					ConnID:  v.ConnID,
					Granted: false,
					Victim:  true,
					Err:     errors.Newf("RESQUEMGR_DEADLOCK_DETECTED", "session %s cancelled to free resource for queue %q", v.SessionID, tr.queue.Name),
				})
				if audit != nil {
					audit.LogDeadlockResolved(context.Background(), v.ConnID)
				}
			}

			if deadlocked {
				tr.Remove(req.ConnID)
				err := errors.Newf("RESQUEMGR_DEADLOCK_DETECTED", "queue %q cannot free enough resource for session %s even after cancelling every in-use holder", tr.queue.Name, req.SessionID)
				if audit != nil {
					connIDs := make([]string, 0, len(victims)+1)
					for _, v := range victims {
						connIDs = append(connIDs, v.ConnID)
					}
					connIDs = append(connIDs, req.ConnID)
					audit.LogDeadlockDetected(context.Background(), connIDs)
				}
				errors.TrackFailure("queuemgr", "dispatch", err, map[string]interface{}{"queue": tr.queue.Name, "conn_id": req.ConnID})
				victimOutcomes = append(victimOutcomes, DispatchOutcome{ConnID: req.ConnID, Granted: false, Err: err})
				return victimOutcomes, true // treat as handled: req already removed, don't requeue it
			}

			// Victims cancelled; retry this request against freed
			// capacity on the very next dispatch pass rather than
			// assuming the pool has already caught up within this one.
			return victimOutcomes, false
		}
	}

	if err := computeQueryQuota(tr, req, availNodeCount); err != nil {
		tr.denyAndLog(audit, req, err)
		return []DispatchOutcome{{ConnID: req.ConnID, Granted: false, Err: err}}, false
	}

	demandMB := req.SegNum * req.MemPerSegMB
	tr.mu.Lock()
	freeMB := tr.TotalAllocatedMB - tr.TotalUsedMB
	tr.mu.Unlock()
	if demandMB > freeMB {
		err := errors.Newf("RESQUEMGR_NO_RESOURCE", "queue %q has %dMB free against a %dMB request", tr.queue.Name, freeMB, demandMB)
		tr.denyAndLog(audit, req, err)
		return []DispatchOutcome{{ConnID: req.ConnID, Granted: false, Err: err}}, false
	}

	hosts := make([]string, 0, len(req.PreferredHosts))
	scans := make([]int64, 0, len(req.PreferredHosts))
	for _, ph := range req.PreferredHosts {
		hosts = append(hosts, ph.Host)
		scans = append(scans, ph.ScanSize)
	}

	result, err := p.Allocate(pool.AllocateRequest{
		VsegCount:          req.SegNum,
		MinVseg:            req.SegNumMin,
		MemPerSegMB:        req.MemPerSegMB,
		CorePerSeg:         req.CorePerSeg,
		IOBytes:            req.IOBytes,
		Slice:              req.SliceCount,
		VsegLimitPerSeg:    req.VsegLimitPerSeg,
		SliceLimitPerSeg:   req.VsegLimitPerSeg,
		PreferredHosts:     hosts,
		PreferredScanSizes: scans,
	})
	if err != nil {
		tr.denyAndLog(audit, req, err)
		return []DispatchOutcome{{ConnID: req.ConnID, Granted: false, Err: err}}, false
	}

	tr.Remove(req.ConnID)
	tr.MarkRunning()

	allocResults := make([]conntrack.AllocationResult, 0, len(result.Segments))
	for _, s := range result.Segments {
		allocResults = append(allocResults, conntrack.AllocationResult{
			SegmentID: s.SegmentID, VsegCount: s.VsegCount, HDFSNameIndex: s.HDFSNameIndex,
		})
	}
	req.Result = allocResults
	req.TroubledByFragment = false

	tr.mu.Lock()
	tr.TotalUsedMB += demandMB
	tr.mu.Unlock()

	tr.deadlock.CreateAndLockSessionResource(req.SessionID, req.ConnID, demandMB, req.SegNum*req.CorePerSeg)
	tr.deadlock.AddSessionInUse(req.SessionID)

	if audit != nil {
		audit.LogResourceGranted(context.Background(), req.ConnID, tr.queue.Name, result.TotalVseg, result.TotalVseg*req.MemPerSegMB)
	}
	errors.TrackSuccess("queuemgr", "dispatch", map[string]interface{}{"queue": tr.queue.Name, "conn_id": req.ConnID, "vsegs": result.TotalVseg})

	return []DispatchOutcome{{ConnID: req.ConnID, Granted: true, Result: allocResults}}, true
}

// denyAndLog logs a denial through the audit trail and the component
// diagnostic tracker, rate-limiting repeated identical-code denials
// through the sampling registry so one flapping queue doesn't flood
// the log.
func (tr *Tracker) denyAndLog(audit *logger.AuditLogger, req *conntrack.Track, err error) {
	te, ok := err.(*errors.TracedError)
	if ok {
		errors.GlobalRecord(te)
		if !errors.GlobalShouldNotify(te) {
			return
		}
	}
	if audit != nil {
		audit.LogResourceDenied(context.Background(), req.ConnID, tr.queue.Name, errors.CodeOf(err))
	}
	errors.TrackFailure("queuemgr", "dispatch", err, map[string]interface{}{"queue": tr.queue.Name, "conn_id": req.ConnID})
}
