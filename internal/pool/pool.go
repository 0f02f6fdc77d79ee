package pool

import (
	"sync"

	"github.com/willschipp/resmgr/internal/pool/index"
	"github.com/willschipp/resmgr/pkg/logger"
)

// Pool is the aggregate resource pool over every registered segment: the
// segment registry, the per-ratio container sets, the ordered BBST
// indices, and the container-acceptance pipeline buffers.
type Pool struct {
	mu sync.RWMutex

	segments     map[int]*Segment
	hostNameIdx  map[string]int
	hostAddrIdx  map[string]int
	grmHostIdx   map[string]int
	nextID       int

	freeIndex  map[int]*index.Index // per ratio, descending by Available
	allocIndex map[int]*index.Index // per ratio, descending by Allocated
	ioIndex    *index.Index          // global, ascending by cumulative scan bytes

	ioWorkload map[int]int64 // segmentID -> cumulative scan bytes

	ratioTrackers map[int]*RatioTracker

	// majorityRatio is the Boyer-Moore majority-vote candidate across all
	// registered segments' ratios.
	majorityRatio int
	majorityVotes int

	pipeline Pipeline

	audit *logger.AuditLogger
}

// New creates an empty resource pool.
func New(audit *logger.AuditLogger) *Pool {
	return &Pool{
		segments:      make(map[int]*Segment),
		hostNameIdx:   make(map[string]int),
		hostAddrIdx:   make(map[string]int),
		grmHostIdx:    make(map[string]int),
		freeIndex:     make(map[int]*index.Index),
		allocIndex:    make(map[int]*index.Index),
		ioIndex:       index.New(index.Ascending),
		ioWorkload:    make(map[int]int64),
		ratioTrackers: make(map[int]*RatioTracker),
		audit:         audit,
	}
}

func (p *Pool) indicesForRatio(ratio int) (free, alloc *index.Index) {
	free, ok := p.freeIndex[ratio]
	if !ok {
		free = index.New(index.Descending)
		p.freeIndex[ratio] = free
	}
	alloc, ok = p.allocIndex[ratio]
	if !ok {
		alloc = index.New(index.Descending)
		p.allocIndex[ratio] = alloc
	}
	return free, alloc
}

// AcquireRatioTracker returns the tracker for a ratio, creating it (at
// refcount 1) if this is the first queue to use that ratio, or bumping
// the refcount of an existing one. A newly created tracker's
// TotalAllocated is seeded from the containers already admitted at that
// ratio.
func (p *Pool) AcquireRatioTracker(ratio int) *RatioTracker {
	p.mu.Lock()
	defer p.mu.Unlock()

	rt, ok := p.ratioTrackers[ratio]
	if !ok {
		rt = NewRatioTracker(ratio)
		for _, seg := range p.segments {
			seg.mu.RLock()
			if cs, has := seg.ContainerSets[ratio]; has {
				allocated, _ := cs.Snapshot()
				rt.TotalAllocated += allocated
			}
			seg.mu.RUnlock()
		}
		p.ratioTrackers[ratio] = rt
		return rt
	}
	rt.Acquire()
	return rt
}

// ReleaseRatioTracker decrements a ratio tracker's refcount, dropping it
// from the pool once no queue references it anymore.
func (p *Pool) ReleaseRatioTracker(ratio int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rt, ok := p.ratioTrackers[ratio]
	if !ok {
		return
	}
	if rt.Release() {
		delete(p.ratioTrackers, ratio)
	}
}

// RatioTrackerFor returns the tracker for a ratio without affecting its
// refcount, or nil if no queue currently uses that ratio.
func (p *Pool) RatioTrackerFor(ratio int) *RatioTracker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ratioTrackers[ratio]
}

// MajorityRatio returns the cluster-wide majority memory/core ratio.
func (p *Pool) MajorityRatio() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.majorityRatio
}

// Segment returns a registered segment by id.
func (p *Pool) Segment(id int) (*Segment, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.segments[id]
	return s, ok
}

// SegmentCount returns the number of registered segments.
func (p *Pool) SegmentCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.segments)
}

// TotalCapacity sums FTS-reported memory and core capacity across every
// usable segment, the input to the queue tree's percentage-capacity
// refresh (spec §4.3's refreshResourceQueuePercentageCapacity).
func (p *Pool) TotalCapacity() (memMB, core int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.segments {
		if !s.Usable() {
			continue
		}
		memMB += s.FTSTotalMemoryMB
		core += s.FTSTotalCore
	}
	return memMB, core
}

// TotalAllocatedMB sums Allocated across every segment and ratio, used
// for the cluster-wide Sigma invariant check.
func (p *Pool) TotalAllocatedMB() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, s := range p.segments {
		total += s.TotalAllocatedMB()
	}
	return total
}
