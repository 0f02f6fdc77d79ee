package pool

import "github.com/willschipp/resmgr/pkg/errors"

// AllocateRequest is the input to Allocate (allocateResourceFromResourcePoolIOBytes
// in spec §4.2).
type AllocateRequest struct {
	VsegCount          int
	MinVseg            int
	MemPerSegMB        int
	CorePerSeg         int
	IOBytes            int64
	Slice              int
	VsegLimitPerSeg    int
	SliceLimitPerSeg   int
	PreferredHosts     []string
	PreferredScanSizes []int64
	FixNodeCount       bool
}

// AllocatedSeg is one host's share of a satisfied AllocateRequest.
type AllocatedSeg struct {
	SegmentID     int
	VsegCount     int
	HDFSNameIndex int // index into PreferredHosts, or len(PreferredHosts) for "no match"
}

// AllocateResult is the output of Allocate.
type AllocateResult struct {
	Segments    []AllocatedSeg
	TotalVseg   int
	VsegIOBytes int64
}

type allocDelta struct {
	segmentID int
	memMB     int
	slice     int
}

// Allocate runs the locality stage followed by the round-robin stage,
// and (when FixNodeCount is set) rolls back a partial allocation rather
// than returning it, per spec §4.2.
func (p *Pool) Allocate(req AllocateRequest) (*AllocateResult, error) {
	if req.CorePerSeg <= 0 {
		return nil, errors.New("RESOURCEPOOL_NO_RATIO", "core per segment must be positive")
	}
	ratio := req.MemPerSegMB / req.CorePerSeg

	p.mu.Lock()
	defer p.mu.Unlock()

	free, ok := p.freeIndex[ratio]
	if !ok {
		return nil, errors.New("RESOURCEPOOL_NO_RATIO", "no segments registered at this ratio")
	}
	alloc := p.allocIndex[ratio]

	chosen := make(map[int]int)     // segmentID -> vsegs granted on that host
	hdfsIndex := make(map[int]int)  // segmentID -> preferred-list index, or "no match"
	var deltas []allocDelta
	totalVseg := 0

	// Stage 1: locality. At most one vseg per preferred host.
	for i, host := range req.PreferredHosts {
		if totalVseg >= req.VsegCount {
			break
		}
		segID, ok := p.resolveHost(host)
		if !ok {
			continue
		}
		if _, already := chosen[segID]; already {
			continue
		}
		seg := p.segments[segID]
		if seg == nil || !seg.Usable() {
			continue
		}
		cs := seg.ContainerSetFor(ratio)
		if _, available := cs.Snapshot(); available < req.MemPerSegMB {
			continue
		}
		seg.mu.Lock()
		if seg.SliceWorkload+req.Slice > req.SliceLimitPerSeg {
			seg.mu.Unlock()
			continue
		}
		seg.SliceWorkload += req.Slice
		seg.mu.Unlock()

		cs.Reserve(req.MemPerSegMB)
		chosen[segID] = 1
		hdfsIndex[segID] = i
		deltas = append(deltas, allocDelta{segID, req.MemPerSegMB, req.Slice})
		totalVseg++

		free.Reorder(segID, freeKey(cs, true))
		if alloc != nil {
			alloc.Reorder(segID, allocKey(cs, true))
		}
		p.ioIndex.Reorder(segID, ioKey(p.ioWorkload[segID], true))
	}

	// Stage 2: round-robin over the IO-workload BBST.
	noMatch := len(req.PreferredHosts)
	noProgressPasses := 0
	allowPreferred := false

	for totalVseg < req.VsegCount {
		var temp []int
		progressed := false

		for {
			segID, ok := p.ioIndex.PopLeftmost()
			if !ok {
				break
			}
			temp = append(temp, segID)
			if totalVseg >= req.VsegCount {
				continue
			}
			if !allowPreferred {
				if _, isPreferred := chosen[segID]; isPreferred {
					continue
				}
			}
			seg := p.segments[segID]
			if seg == nil || !seg.Usable() {
				continue
			}
			cs := seg.ContainerSetFor(ratio)
			if _, available := cs.Snapshot(); available < req.MemPerSegMB {
				continue
			}
			seg.mu.Lock()
			if !req.FixNodeCount && seg.SliceWorkload+req.Slice > req.SliceLimitPerSeg {
				seg.mu.Unlock()
				continue
			}
			if chosen[segID] >= req.VsegLimitPerSeg {
				seg.mu.Unlock()
				continue
			}
			seg.SliceWorkload += req.Slice
			seg.mu.Unlock()

			cs.Reserve(req.MemPerSegMB)
			chosen[segID]++
			if _, has := hdfsIndex[segID]; !has {
				hdfsIndex[segID] = noMatch
			}
			deltas = append(deltas, allocDelta{segID, req.MemPerSegMB, req.Slice})
			totalVseg++
			progressed = true

			free.Reorder(segID, freeKey(cs, true))
			if alloc != nil {
				alloc.Reorder(segID, allocKey(cs, true))
			}
		}

		for _, segID := range temp {
			p.ioIndex.Insert(segID, ioKey(p.ioWorkload[segID], true))
		}

		if totalVseg >= req.VsegCount {
			break
		}
		if !progressed {
			if allowPreferred {
				noProgressPasses++
				if noProgressPasses >= 3 {
					break
				}
			} else {
				allowPreferred = true
			}
		} else {
			noProgressPasses = 0
		}
		if len(temp) == 0 {
			break
		}
	}

	if req.FixNodeCount && totalVseg < req.VsegCount {
		p.rollbackLocked(ratio, deltas)
		return nil, errors.New("RESQUEMGR_NO_RESOURCE", "fixed segment count could not be satisfied")
	}
	if totalVseg < req.MinVseg {
		p.rollbackLocked(ratio, deltas)
		return nil, errors.New("RESQUEMGR_NO_RESOURCE", "minimum segment count could not be satisfied")
	}

	result := &AllocateResult{TotalVseg: totalVseg}
	if totalVseg > 0 {
		result.VsegIOBytes = req.IOBytes / int64(totalVseg)
	}
	for segID, count := range chosen {
		idx, ok := hdfsIndex[segID]
		if !ok {
			idx = noMatch
		}
		result.Segments = append(result.Segments, AllocatedSeg{
			SegmentID:     segID,
			VsegCount:     count,
			HDFSNameIndex: idx,
		})
		p.ioWorkload[segID] += result.VsegIOBytes * int64(count)
	}

	return result, nil
}

// rollbackLocked undoes every delta recorded during a failed allocation
// attempt, restoring Available, SliceWorkload, and the BBST keys. Caller
// must already hold p.mu.
func (p *Pool) rollbackLocked(ratio int, deltas []allocDelta) {
	free := p.freeIndex[ratio]
	alloc := p.allocIndex[ratio]

	for _, d := range deltas {
		seg, ok := p.segments[d.segmentID]
		if !ok {
			continue
		}
		cs := seg.ContainerSetFor(ratio)
		cs.Release(d.memMB)

		seg.mu.Lock()
		seg.SliceWorkload -= d.slice
		if seg.SliceWorkload < 0 {
			seg.SliceWorkload = 0
		}
		seg.mu.Unlock()

		if free != nil {
			free.Reorder(d.segmentID, freeKey(cs, seg.Usable()))
		}
		if alloc != nil {
			alloc.Reorder(d.segmentID, allocKey(cs, seg.Usable()))
		}
		p.ioIndex.Reorder(d.segmentID, ioKey(p.ioWorkload[d.segmentID], seg.Usable()))
	}
}
