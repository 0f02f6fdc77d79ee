package queuemgr

// ClusterSizer reports the cluster's total usable resource and its
// per-vseg memory quantum, the inputs to the percentage-capacity
// refresh.
type ClusterSizer interface {
	TotalMemoryMB() int
	TotalCore() int

	// SegResourceQuotaMemoryMB is the memory a single virtual segment
	// consumes (rm_seg_resource_quota_mb), the divisor that turns a
	// queue's memory capacity into its vseg count.
	SegResourceQuotaMemoryMB() int
}

// RefreshPercentageCapacity recomputes every percent-mode queue's
// operating capacity (ClusterMemoryMB/ClusterVCore) and upper-bound
// capacity (ClusterMemoryMaxMB/ClusterVCoreMax, its share scaled by
// ResourceUpperFactor and clamped to what the parent itself owns) from
// the cluster's current total size, implementing
// refreshResourceQueuePercentageCapacity. A queue's capacity is its
// percent share of its parent's already-refreshed capacity, so the walk
// must proceed root to leaves. ClusterSegNumber/ClusterSegNumberMax fall
// out of dividing both capacities by the per-vseg memory quota.
func (t *Tree) RefreshPercentageCapacity(sizer ClusterSizer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, ok := t.byOID[1]
	if !ok {
		return
	}

	quota := sizer.SegResourceQuotaMemoryMB()
	if quota <= 0 {
		quota = 1
	}

	rootTr := t.trackers[root.OID]
	rootTr.mu.Lock()
	rootTr.ClusterMemoryMB = sizer.TotalMemoryMB()
	rootTr.ClusterVCore = sizer.TotalCore()
	rootTr.ClusterMemoryMaxMB = rootTr.ClusterMemoryMB
	rootTr.ClusterVCoreMax = rootTr.ClusterVCore
	rootTr.ClusterSegNumber = rootTr.ClusterMemoryMB / quota
	rootTr.ClusterSegNumberMax = rootTr.ClusterMemoryMaxMB / quota
	rootMemMB, rootCore := rootTr.ClusterMemoryMB, rootTr.ClusterVCore
	rootTr.mu.Unlock()

	t.refreshChildren(root.OID, rootMemMB, rootCore, quota)
}

func (t *Tree) refreshChildren(parentOID, parentMemMB, parentCore, quotaMB int) {
	for _, childOID := range t.children[parentOID] {
		q := t.byOID[childOID]
		tr := t.trackers[childOID]

		var memMB, core int
		if q.ClusterMemoryPercent > 0 {
			memMB = int(float64(parentMemMB) * q.ClusterMemoryPercent / 100)
		}
		if q.ClusterVCorePercent > 0 {
			core = int(float64(parentCore) * q.ClusterVCorePercent / 100)
		}

		// A queue may never borrow past what its parent itself owns, no
		// matter how large ResourceUpperFactor is set: "clamp at 100%"
		// means 100% of the parent's own capacity.
		factor := q.ResourceUpperFactor
		if factor < 1 {
			factor = 1
		}
		memMaxMB := int(float64(memMB) * factor)
		if memMaxMB > parentMemMB {
			memMaxMB = parentMemMB
		}
		coreMax := int(float64(core) * factor)
		if coreMax > parentCore {
			coreMax = parentCore
		}

		tr.mu.Lock()
		tr.ClusterMemoryMB = memMB
		tr.ClusterVCore = core
		tr.ClusterMemoryMaxMB = memMaxMB
		tr.ClusterVCoreMax = coreMax
		tr.ClusterSegNumber = memMB / quotaMB
		tr.ClusterSegNumberMax = memMaxMB / quotaMB
		tr.mu.Unlock()

		t.refreshChildren(childOID, memMB, core, quotaMB)
	}
}
