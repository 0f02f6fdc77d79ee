package queuemgr

import (
	"math"

	"github.com/willschipp/resmgr/internal/conntrack"
	"github.com/willschipp/resmgr/pkg/errors"
)

// computeQueryQuota derives the vseg count (SegNum) and its floor
// (SegNumMin) a request may receive from its queue, implementing
// computeQueryQuota's EVEN/FIFO policy split and three-case Gmin/Gmax
// reconciliation against the request's own (VsegMin, VsegMax) (spec
// §4.3). availNodeCount bounds RmaxL, the hard per-statement ceiling of
// vseg_limit_per_seg vsegs on every live node in the cluster.
//
// Per spec §9 open question 3, req.SegNum/req.SegNumMin are written
// regardless of the outcome; callers must treat a non-nil error as
// authoritative and not read those fields after one.
func computeQueryQuota(tr *Tracker, req *conntrack.Track, availNodeCount int) error {
	q := tr.queue

	if req.MemPerSegMB <= 0 {
		return errors.New("RESQUEMGR_WRONG_ATTRVALUE", "mem_per_seg must be positive")
	}

	tr.mu.Lock()
	clusterSegNumber := tr.ClusterSegNumber
	clusterSegNumberMax := tr.ClusterSegNumberMax
	tr.mu.Unlock()

	gmax := clusterSegNumberMax
	if q.VSegUpperLimit > 0 && q.VSegUpperLimit < gmax {
		gmax = q.VSegUpperLimit
	}
	if gmax < 0 {
		gmax = 0
	}

	var gmin int
	switch q.AllocatePolicy {
	case PolicyEven:
		denom := q.ActiveStatements
		if denom <= 0 {
			denom = 1
		}
		gmin = clusterSegNumber / denom
		if gmin < 1 {
			gmin = 1
		}
	default: // PolicyFIFO: one statement at a time claims the whole queue
		gmin = clusterSegNumber
	}

	// RmaxL: the hard cluster-wide ceiling a single statement can reach
	// regardless of queue share.
	rmaxL := math.MaxInt32
	if req.VsegLimitPerSeg > 0 && availNodeCount > 0 {
		rmaxL = req.VsegLimitPerSeg * availNodeCount
	}

	var segNumMin, segNum int
	var fixedShortfall bool
	switch {
	case gmin == 1:
		segNumMin = minOf(gmax, req.VsegMin, rmaxL)
		segNum = minOf(gmax, rmaxL)
	case gmin == gmax:
		// Fixed segment count: the queue demands exactly gmax vsegs,
		// no negotiation against the request's own range.
		segNumMin = gmax
		segNum = gmax
		fixedShortfall = req.VsegMax < gmax
	default:
		segNumMin = minOf(maxOf(gmin, req.VsegMin), gmax)
		segNum = minOf(maxOf(minOf(rmaxL, gmax), gmin), req.VsegMax)
	}

	if q.VSegUpperLimit > 0 {
		segNumMin = minOf(segNumMin, q.VSegUpperLimit)
		segNum = minOf(segNum, q.VSegUpperLimit)
	}
	segNumMin = maxOf(segNumMin, 0)
	segNum = maxOf(segNum, 0)

	req.SegNum = segNum
	req.SegNumMin = segNumMin

	if fixedShortfall {
		return errors.Newf("RESQUEMGR_NO_RESOURCE", "queue %q requires a fixed %d vsegs per statement but request allows at most %d", q.Name, gmax, req.VsegMax)
	}
	if segNumMin > segNum {
		return errors.Newf("RESQUEMGR_TOO_MANY_FIXED_SEGNUM", "queue %q cannot satisfy minimum %d vsegs against allotted %d", q.Name, segNumMin, segNum)
	}
	if req.VsegLimitPerSeg > 0 && req.SliceCount > req.VsegLimitPerSeg {
		return errors.Newf("RESQUEMGR_TOO_MANY_FIXED_SEGNUM", "slice count %d exceeds per-segment vseg limit %d", req.SliceCount, req.VsegLimitPerSeg)
	}

	return nil
}

func minOf(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
