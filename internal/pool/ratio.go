package pool

import (
	"sync"
	"time"
)

// WaterMark is a one-second-resolution sample of peak usage for a ratio,
// aged out after rm_resource_timeout and used to decide how much idle
// resource breathing may return.
type WaterMark struct {
	MemoryMB  int
	Core      int
	Timestamp time.Time
}

// RatioTracker aggregates allocated/requested/used/pending resource
// across every queue sharing one memory/core ratio. It is reference
// counted by queue trackers: allocated on the first queue with that
// ratio, freed on the last (spec §3 lifecycle).
type RatioTracker struct {
	Ratio int

	TotalAllocated int
	TotalRequest   int
	TotalUsed      int
	TotalPending   int

	// PendingSince is zero when TotalPending is zero; the timeout
	// supervisor compares it against rm_query_resource_noresource_timeout.
	PendingSince time.Time

	waterMarks []WaterMark
	rrCursor   int
	refCount   int

	mu sync.Mutex
}

// NewRatioTracker creates a tracker for a ratio with a refcount of 1.
func NewRatioTracker(ratio int) *RatioTracker {
	return &RatioTracker{Ratio: ratio, refCount: 1}
}

// Acquire increments the tracker's reference count.
func (rt *RatioTracker) Acquire() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.refCount++
}

// Release decrements the reference count and reports whether it reached
// zero, meaning the caller should drop the tracker from the pool.
func (rt *RatioTracker) Release() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.refCount--
	return rt.refCount <= 0
}

// MarkPending records that this ratio now has an outstanding request, if
// it did not already.
func (rt *RatioTracker) MarkPending() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.TotalPending == 0 {
		rt.PendingSince = time.Now()
	}
	rt.TotalPending++
}

// ClearPending records that one outstanding request against this ratio
// has been resolved (dispatched, cancelled, or timed out).
func (rt *RatioTracker) ClearPending() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.TotalPending > 0 {
		rt.TotalPending--
	}
	if rt.TotalPending == 0 {
		rt.PendingSince = time.Time{}
	}
}

// AddWaterMark records a new peak-usage sample, pruning marks older than
// maxAge and dropping any existing mark dominated by the new one (both
// its memory and core are <= the new mark's), keeping the water-mark
// list down to its Pareto frontier.
func (rt *RatioTracker) AddWaterMark(memMB, core int, maxAge time.Duration) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	kept := rt.waterMarks[:0]
	for _, wm := range rt.waterMarks {
		if now.Sub(wm.Timestamp) > maxAge {
			continue
		}
		if wm.MemoryMB <= memMB && wm.Core <= core {
			continue // dominated by the new mark
		}
		kept = append(kept, wm)
	}
	kept = append(kept, WaterMark{MemoryMB: memMB, Core: core, Timestamp: now})
	rt.waterMarks = kept
}

// WaterMarkCeiling returns the highest memory/core pair currently
// retained, the envelope breathing compares allocated resource against.
func (rt *RatioTracker) WaterMarkCeiling() (memMB, core int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, wm := range rt.waterMarks {
		if wm.MemoryMB > memMB {
			memMB = wm.MemoryMB
		}
		if wm.Core > core {
			core = wm.Core
		}
	}
	return memMB, core
}

// NextRoundRobin advances and returns the tracker's round-robin cursor,
// used to pick which single expectMoreResource queue receives a leftover
// remainder during a dispatch pass.
func (rt *RatioTracker) NextRoundRobin(queueCount int) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if queueCount <= 0 {
		return 0
	}
	cur := rt.rrCursor % queueCount
	rt.rrCursor++
	return cur
}
