package pool

import "sync"

// Pipeline holds the four container-acceptance buffers: a container
// never skips a stage (spec §5 ordering guarantee: ToAccept -> Accepted
// -> in-pool -> ToKick -> Kicked).
type Pipeline struct {
	mu       sync.Mutex
	toAccept []*Container
	accepted []*Container
	toKick   []*Container
	kicked   []*Container
}

// EnqueueToAccept records a container the provider just granted. The
// segment's IncPending-equivalent accounting happens at the call site
// that asks the on-segment enforcer to raise its quota; the pipeline
// only orders the transition.
func (p *Pool) EnqueueToAccept(c *Container) {
	p.pipeline.mu.Lock()
	defer p.pipeline.mu.Unlock()
	p.pipeline.toAccept = append(p.pipeline.toAccept, c)
}

// PromoteAccepted moves every container awaiting enforcer acknowledgment
// into AcceptedContainers, returning them so the caller can drive the
// admit-into-pool step on the next dispatch tick.
func (p *Pool) PromoteAccepted() []*Container {
	p.pipeline.mu.Lock()
	defer p.pipeline.mu.Unlock()
	moved := p.pipeline.toAccept
	p.pipeline.toAccept = nil
	p.pipeline.accepted = append(p.pipeline.accepted, moved...)
	return moved
}

// AdmitAccepted drains AcceptedContainers into the pool proper: each
// container is added to its segment's container set and the BBSTs are
// reordered.
func (p *Pool) AdmitAccepted() {
	p.pipeline.mu.Lock()
	pending := p.pipeline.accepted
	p.pipeline.accepted = nil
	p.pipeline.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range pending {
		seg, ok := p.segments[c.SegmentID]
		if !ok {
			continue
		}
		ratio := c.MemoryMB / max(c.Core, 1)
		cs := seg.ContainerSetFor(ratio)
		cs.Add(c)

		free, alloc := p.indicesForRatio(ratio)
		free.Reorder(c.SegmentID, freeKey(cs, seg.Usable()))
		alloc.Reorder(c.SegmentID, allocKey(cs, seg.Usable()))

		if rt, ok := p.ratioTrackers[ratio]; ok {
			rt.mu.Lock()
			rt.TotalAllocated += c.MemoryMB
			rt.mu.Unlock()
		}
	}
}

// MarkToKick schedules a container for return to the provider.
func (p *Pool) MarkToKick(c *Container) {
	p.pipeline.mu.Lock()
	defer p.pipeline.mu.Unlock()
	c.DecPending = true
	p.pipeline.toKick = append(p.pipeline.toKick, c)
	if p.audit != nil {
		p.audit.Log().WithContainerID(c.ID).Debug("container scheduled for return", "segment_id", c.SegmentID)
	}
}

// PromoteKicked moves every container awaiting enforcer lowering
// acknowledgment into KickedContainers.
func (p *Pool) PromoteKicked() []*Container {
	p.pipeline.mu.Lock()
	defer p.pipeline.mu.Unlock()
	moved := p.pipeline.toKick
	p.pipeline.toKick = nil
	p.pipeline.kicked = append(p.pipeline.kicked, moved...)
	return moved
}

// DiscardKicked removes a container from KickedContainers and the pool
// proper after the provider acknowledges the release, and discards it.
func (p *Pool) DiscardKicked(containerID string) {
	p.pipeline.mu.Lock()
	idx := -1
	for i, c := range p.pipeline.kicked {
		if c.ID == containerID {
			idx = i
			break
		}
	}
	var removed *Container
	if idx >= 0 {
		removed = p.pipeline.kicked[idx]
		p.pipeline.kicked = append(p.pipeline.kicked[:idx], p.pipeline.kicked[idx+1:]...)
	}
	p.pipeline.mu.Unlock()

	if removed == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	seg, ok := p.segments[removed.SegmentID]
	if !ok {
		return
	}
	ratio := removed.MemoryMB / max(removed.Core, 1)
	cs := seg.ContainerSetFor(ratio)
	cs.Remove(removed.ID, false)

	free, alloc := p.indicesForRatio(ratio)
	free.Reorder(removed.SegmentID, freeKey(cs, seg.Usable()))
	alloc.Reorder(removed.SegmentID, allocKey(cs, seg.Usable()))

	if rt, ok := p.ratioTrackers[ratio]; ok {
		rt.mu.Lock()
		rt.TotalAllocated -= removed.MemoryMB
		rt.mu.Unlock()
	}
}

// PipelineCounts reports the number of containers in each stage, used
// for metrics and tests.
func (p *Pool) PipelineCounts() (toAccept, accepted, toKick, kicked int) {
	p.pipeline.mu.Lock()
	defer p.pipeline.mu.Unlock()
	return len(p.pipeline.toAccept), len(p.pipeline.accepted), len(p.pipeline.toKick), len(p.pipeline.kicked)
}
