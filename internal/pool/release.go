package pool

// ReturnedSeg is one segment's share of a query's allocation being given
// back, mirroring AllocatedSeg at release time.
type ReturnedSeg struct {
	SegmentID int
	VsegCount int
}

// ReturnResource gives back containers a completed or cancelled query
// was holding, the explicit counterpart to Breathe's idle-based return:
// this always runs on REQUEST_QD_RETURN_RESOURCE or connection teardown,
// regardless of whether the ratio's pending queue is empty.
func (p *Pool) ReturnResource(memPerSegMB, corePerSeg, slice int, segs []ReturnedSeg) {
	if corePerSeg <= 0 {
		return
	}
	ratio := memPerSegMB / corePerSeg

	p.mu.Lock()
	defer p.mu.Unlock()

	free := p.freeIndex[ratio]
	alloc := p.allocIndex[ratio]
	rt := p.ratioTrackers[ratio]

	freedMB := 0
	for _, s := range segs {
		seg, ok := p.segments[s.SegmentID]
		if !ok {
			continue
		}
		cs := seg.ContainerSetFor(ratio)
		memMB := memPerSegMB * s.VsegCount
		cs.Release(memMB)
		freedMB += memMB

		seg.mu.Lock()
		seg.SliceWorkload -= slice * s.VsegCount
		if seg.SliceWorkload < 0 {
			seg.SliceWorkload = 0
		}
		seg.mu.Unlock()

		if free != nil {
			free.Reorder(s.SegmentID, freeKey(cs, seg.Usable()))
		}
		if alloc != nil {
			alloc.Reorder(s.SegmentID, allocKey(cs, seg.Usable()))
		}
		p.ioIndex.Reorder(s.SegmentID, ioKey(p.ioWorkload[s.SegmentID], seg.Usable()))
	}

	if rt != nil && freedMB > 0 {
		rt.mu.Lock()
		rt.TotalAllocated -= freedMB
		if rt.TotalAllocated < 0 {
			rt.TotalAllocated = 0
		}
		rt.mu.Unlock()
	}
}
