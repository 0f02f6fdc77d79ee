package pool

// ReturnedContainer describes one container breathed back to the
// provider.
type ReturnedContainer struct {
	SegmentID int
	Container *Container
}

// Breathe implements idle-container return: for a ratio with no pending
// or outstanding request, compute how much allocated resource exceeds
// the water mark (or idleReserve, whichever is higher) and return that
// many containers, taken preferentially from the most-allocated segments,
// while leaving each segment at least segMinNum containers (spec §4.2).
func (p *Pool) Breathe(ratio int, idleReserveCore int) []ReturnedContainer {
	p.mu.Lock()
	defer p.mu.Unlock()

	rt, ok := p.ratioTrackers[ratio]
	if !ok {
		return nil
	}
	rt.mu.Lock()
	hasPending := rt.TotalPending > 0
	totalAllocatedCore := rt.TotalAllocated / max(ratio, 1)
	rt.mu.Unlock()
	if hasPending {
		return nil
	}
	_, wmCore := rt.WaterMarkCeiling()

	floor := wmCore
	if idleReserveCore > floor {
		floor = idleReserveCore
	}

	retCore := totalAllocatedCore - floor
	if retCore <= 0 {
		return nil
	}

	segMinNum := 0
	if wmCore > 0 {
		segMinNum = 2
	}

	alloc, ok := p.allocIndex[ratio]
	if !ok {
		return nil
	}

	var returned []ReturnedContainer
	var visited []int

	alloc.TraverseMidOrder(func(segmentID int, key int64) bool {
		if retCore <= 0 {
			return false
		}
		visited = append(visited, segmentID)

		seg, ok := p.segments[segmentID]
		if !ok {
			return true
		}
		cs := seg.ContainerSetFor(ratio)

		for _, c := range snapshotContainers(cs) {
			if retCore <= 0 {
				break
			}
			if cs.Count() <= segMinNum {
				break
			}
			allocated, available := cs.Snapshot()
			if available < c.MemoryMB {
				// removing this container would push Available negative
				continue
			}
			_ = allocated
			removed, ok := cs.Remove(c.ID, false)
			if !ok {
				continue
			}
			retCore -= removed.Core
			returned = append(returned, ReturnedContainer{SegmentID: segmentID, Container: removed})
		}
		return true
	})

	for _, segID := range visited {
		seg, ok := p.segments[segID]
		if !ok {
			continue
		}
		cs := seg.ContainerSetFor(ratio)
		alloc.Reorder(segID, allocKey(cs, seg.Usable()))
		if free, ok := p.freeIndex[ratio]; ok {
			free.Reorder(segID, freeKey(cs, seg.Usable()))
		}
	}

	for _, rc := range returned {
		rt.mu.Lock()
		rt.TotalAllocated -= rc.Container.MemoryMB
		rt.mu.Unlock()
	}

	return returned
}

func snapshotContainers(cs *ContainerSet) []*Container {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*Container, 0, len(cs.Containers))
	for _, c := range cs.Containers {
		out = append(out, c)
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
