package queuemgr

import (
	"sync"
	"time"

	"github.com/willschipp/resmgr/internal/conntrack"
)

// Tracker holds a single queue's live dispatch state: its computed
// capacity, the FIFO of requests waiting for resource, and the deadlock
// detector guarding its head of line (spec §4.3, §4.5).
type Tracker struct {
	mu sync.Mutex

	queue *Queue

	ClusterMemoryMB int
	ClusterVCore    int

	// ClusterMemoryMaxMB/ClusterVCoreMax are the queue's upper-bound
	// capacity (ClusterMemoryMB/ClusterVCore scaled by
	// ResourceUpperFactor and clamped to the parent's own capacity); a
	// queue may grow into this much but never allocates operating
	// capacity beyond it. ClusterSegNumber(Max) are the same two figures
	// expressed in vsegs of SegResourceQuotaMemoryMB each.
	ClusterMemoryMaxMB  int
	ClusterVCoreMax     int
	ClusterSegNumber    int
	ClusterSegNumberMax int

	TotalAllocatedMB int
	TotalRequestMB   int
	TotalUsedMB      int

	// expectMoreResource marks a queue that was only partially served
	// during redistribution and should receive any round-robin
	// remainder in the same dispatch pass (spec §4.3 step 3).
	expectMoreResource bool

	pending []*conntrack.Track

	PauseAllocation    bool
	TroubledByFragment bool

	deadlock *conntrack.Detector

	runningQueries int
}

// NewTracker creates a tracker bound to a queue definition.
func NewTracker(q *Queue) *Tracker {
	return &Tracker{
		queue:    q,
		deadlock: conntrack.NewDetector(q.OID),
	}
}

// Queue returns the tracker's bound queue definition.
func (t *Tracker) Queue() *Queue {
	return t.queue
}

// Deadlock returns the tracker's per-queue deadlock detector.
func (t *Tracker) Deadlock() *conntrack.Detector {
	return t.deadlock
}

// Enqueue appends a request to the queue's pending FIFO, stamping its
// head-of-queue arrival time on first becoming the head.
func (t *Tracker) Enqueue(tr *conntrack.Track) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		tr.HeadOfQueueTime = time.Now()
	}
	t.pending = append(t.pending, tr)
	t.TotalRequestMB += tr.VsegMax * tr.MemPerSegMB
}

// RequeueFront puts a request back at the front of the FIFO, used when a
// dispatch attempt fails and rm_force_fifo_queue demands the head keep
// blocking the queue rather than yielding to requests behind it.
func (t *Tracker) RequeueFront(tr *conntrack.Track) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr.HeadOfQueueTime = time.Now()
	t.pending = append([]*conntrack.Track{tr}, t.pending...)
}

// RequeueBack puts a request back at the end of the FIFO after a failed
// dispatch attempt, giving requests behind it a chance to be tried first
// on the next pass.
func (t *Tracker) RequeueBack(tr *conntrack.Track) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		tr.HeadOfQueueTime = time.Now()
	}
	t.pending = append(t.pending, tr)
}

// Head returns the request at the front of the FIFO without removing it.
func (t *Tracker) Head() *conntrack.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return nil
	}
	return t.pending[0]
}

// Dequeue removes and returns the request at the front of the FIFO.
func (t *Tracker) Dequeue() *conntrack.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return nil
	}
	tr := t.pending[0]
	t.pending = t.pending[1:]
	t.TotalRequestMB -= tr.VsegMax * tr.MemPerSegMB
	if len(t.pending) > 0 {
		t.pending[0].HeadOfQueueTime = time.Now()
	}
	return tr
}

// Remove drops a specific request from the pending FIFO (used to evict a
// timed-out or deadlock-victim request without disturbing FIFO order of
// the rest).
func (t *Tracker) Remove(connID string) *conntrack.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, tr := range t.pending {
		if tr.ConnID == connID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			t.TotalRequestMB -= tr.VsegMax * tr.MemPerSegMB
			if len(t.pending) > 0 {
				t.pending[0].HeadOfQueueTime = time.Now()
			}
			return tr
		}
	}
	return nil
}

// PendingCount reports how many requests are waiting.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// PendingSnapshot returns a copy of the pending FIFO in order, for
// iteration by the dispatch pass without holding the tracker lock.
func (t *Tracker) PendingSnapshot() []*conntrack.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*conntrack.Track, len(t.pending))
	copy(out, t.pending)
	return out
}

// NumOfRunningQueries reports how many statements currently hold
// resource from this queue.
func (t *Tracker) NumOfRunningQueries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runningQueries
}

// MarkRunning increments the running-query count when a request is
// granted resource.
func (t *Tracker) MarkRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runningQueries++
}

// MarkFinished decrements the running-query count when a statement
// releases its resource.
func (t *Tracker) MarkFinished() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runningQueries > 0 {
		t.runningQueries--
	}
}

// ReleaseUsage subtracts a finished statement's memory back out of
// TotalUsedMB, the dispatch pass's view of how much of this queue's
// allocated budget is actually held rather than just reserved.
func (t *Tracker) ReleaseUsage(memMB int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TotalUsedMB -= memMB
	if t.TotalUsedMB < 0 {
		t.TotalUsedMB = 0
	}
}
