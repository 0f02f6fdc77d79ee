// Package queuemgr implements the resource queue tree: DDL-driven queue
// definitions, percentage-capacity refresh against the live cluster size,
// per-query quota computation, and the dispatch pass that hands pending
// requests off to the resource pool.
package queuemgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/willschipp/resmgr/pkg/errors"
	"github.com/willschipp/resmgr/pkg/logger"
)

// AllocatePolicy selects how a leaf queue orders concurrent pending
// requests for dispatch (spec §4.3).
type AllocatePolicy string

const (
	PolicyEven  AllocatePolicy = "even"
	PolicyFIFO  AllocatePolicy = "fifo"
)

// Queue is one node of the resource queue tree, mirroring the DDL
// attributes HAWQ's CREATE/ALTER RESOURCE QUEUE statements set.
type Queue struct {
	OID      int
	Name     string
	ParentOID int // 0 means this is pg_root, the tree root

	IsRoot    bool
	IsDefault bool // pg_default, the fallback leaf for unassigned roles
	IsLeaf    bool // leaves accept queries directly; branches only hold capacity

	ClusterMemoryPercent float64 // 0 when capacity is expressed in absolute units
	ClusterVCorePercent  float64

	ResourceUpperFactor float64 // multiplier above a queue's own share it may borrow
	VSegUpperLimit      int     // 0 means unbounded
	VSegUpperLimitPerSeg int
	AllocatePolicy      AllocatePolicy

	ActiveStatements int // concurrency cap, 0 means unbounded
}

// Tree is the in-memory resource queue tree plus per-queue trackers. It
// implements the DDL surface (createQueue/alterQueue/dropQueue) with a
// validate-then-commit-to-catalog contract mirroring the config package's
// Validate-before-Save pattern: a create or alter is validated, applied
// to the in-memory tree, then written to the catalog, and is rolled back
// in memory if the write fails; a drop is removed from the in-memory tree
// only after the catalog delete succeeds.
type Tree struct {
	mu       sync.RWMutex
	byOID    map[int]*Queue
	byName   map[string]*Queue
	children map[int][]int
	trackers map[int]*Tracker
	nextOID  int
	limit    int
	audit    *logger.AuditLogger

	// forceFIFO mirrors cluster.rm_force_fifo_queue: when set, a request
	// that fails to dispatch is requeued at the head of its queue so it
	// keeps blocking later arrivals instead of yielding to them.
	forceFIFO bool

	// rrCursor is the round-robin cursor used to pick which
	// under-served queue receives a dispatch pass's leftover memory
	// remainder (spec §4.3 step 3).
	rrCursor int
}

// nextRoundRobin advances and returns the tree-wide round-robin cursor
// modulo n, used to rotate which queue receives a leftover remainder
// across dispatch passes rather than always favoring the same one.
func (t *Tree) nextRoundRobin(n int) int {
	if n <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.rrCursor % n
	t.rrCursor++
	return idx
}

// SetForceFIFOQueue mirrors cluster.rm_force_fifo_queue: when set, a
// request that fails to dispatch is requeued at the head of its queue
// instead of the tail, so it keeps blocking everything behind it rather
// than letting later arrivals cut in line.
func (t *Tree) SetForceFIFOQueue(force bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forceFIFO = force
}

// SetMaxQueues bounds how many queues the tree will accept, mirroring
// cluster.rm_max_resource_queue_number. Zero leaves the default in place.
func (t *Tree) SetMaxQueues(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit = n
}

// CatalogWriter persists queue DDL; Tree works with a nil CatalogWriter in
// tests that don't care about persistence.
type CatalogWriter interface {
	PersistQueueInsert(ctx context.Context, q Queue) error
	PersistQueueUpdate(ctx context.Context, q Queue) error
	PersistQueueDelete(ctx context.Context, oid int) error
}

// NewTree creates a queue tree seeded with pg_root and pg_default, the
// two bootstrap queues every HAWQ cluster starts with.
func NewTree(audit *logger.AuditLogger) *Tree {
	t := &Tree{
		byOID:    make(map[int]*Queue),
		byName:   make(map[string]*Queue),
		children: make(map[int][]int),
		trackers: make(map[int]*Tracker),
		audit:    audit,
	}

	root := &Queue{OID: 1, Name: "pg_root", IsRoot: true, AllocatePolicy: PolicyEven}
	t.byOID[root.OID] = root
	t.byName[root.Name] = root
	t.trackers[root.OID] = NewTracker(root)

	def := &Queue{
		OID: 2, Name: "pg_default", ParentOID: 1, IsDefault: true, IsLeaf: true,
		ClusterMemoryPercent: 100, ClusterVCorePercent: 100, AllocatePolicy: PolicyFIFO,
	}
	t.byOID[def.OID] = def
	t.byName[def.Name] = def
	t.children[root.OID] = append(t.children[root.OID], def.OID)
	t.trackers[def.OID] = NewTracker(def)

	t.nextOID = 3
	return t
}

// Queue looks up a queue by name.
func (t *Tree) Queue(name string) (*Queue, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.byName[name]
	return q, ok
}

// Tracker returns the dispatch tracker for a queue OID.
func (t *Tree) Tracker(oid int) (*Tracker, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.trackers[oid]
	return tr, ok
}

// Default returns the pg_default leaf queue.
func (t *Tree) Default() *Queue {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byName["pg_default"]
}

// CreateQueue validates and inserts a new leaf or branch queue under an
// existing parent, implementing createResourceQueue.
func (t *Tree) CreateQueue(ctx context.Context, q Queue, catalog CatalogWriter) (*Queue, error) {
	t.mu.Lock()

	if q.Name == "" {
		t.mu.Unlock()
		return nil, errors.New("RESQUEMGR_NO_QUENAME", "resource queue name is required")
	}
	if _, exists := t.byName[q.Name]; exists {
		t.mu.Unlock()
		return nil, errors.New("RESQUEMGR_DUPLICATE_QUENAME", fmt.Sprintf("resource queue %q already exists", q.Name))
	}
	parent, ok := t.byOID[q.ParentOID]
	if !ok {
		t.mu.Unlock()
		return nil, errors.New("RESQUEMGR_WRONG_PARENT_QUEUE", fmt.Sprintf("parent queue %d does not exist", q.ParentOID))
	}
	if parent.IsLeaf {
		t.mu.Unlock()
		return nil, errors.New("RESQUEMGR_WRONG_PARENT_QUEUE", fmt.Sprintf("parent queue %q is a leaf and cannot have children", parent.Name))
	}
	if len(t.byOID) >= maxResourceQueueNumber(t) {
		t.mu.Unlock()
		return nil, errors.New("RESQUEMGR_EXCEED_MAX_QUEUE_NUMBER", "cluster resource queue limit reached")
	}

	q.OID = t.nextOID
	if q.AllocatePolicy == "" {
		q.AllocatePolicy = PolicyFIFO
	}

	// Validation is done; insert into the tree now and undo the insert
	// if persistence (if any) fails.
	t.byOID[q.OID] = &q
	t.byName[q.Name] = &q
	t.children[q.ParentOID] = append(t.children[q.ParentOID], q.OID)
	t.trackers[q.OID] = NewTracker(&q)
	t.nextOID++
	t.mu.Unlock()

	if catalog != nil {
		if err := catalog.PersistQueueInsert(ctx, q); err != nil {
			t.rollbackCreate(q.OID, q.Name, q.ParentOID)
			if t.audit != nil {
				t.audit.LogCatalogPersistFailure(ctx, q.Name, "insert", "RESQUEMGR_LACK_ATTR")
			}
			return nil, errors.Wrap("RESQUEMGR_LACK_ATTR", err)
		}
	}

	if t.audit != nil {
		t.audit.LogQueueCreate(ctx, q.Name, parent.Name)
	}
	return &q, nil
}

func (t *Tree) rollbackCreate(oid int, name string, parentOID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byOID, oid)
	delete(t.byName, name)
	delete(t.trackers, oid)
	kids := t.children[parentOID]
	for i, id := range kids {
		if id == oid {
			t.children[parentOID] = append(kids[:i], kids[i+1:]...)
			break
		}
	}
}

// AlterQueue mutates a single attribute on an existing queue, implementing
// alterResourceQueue's validate-then-commit contract.
func (t *Tree) AlterQueue(ctx context.Context, name, attrName string, mutate func(q *Queue) error, catalog CatalogWriter) error {
	t.mu.Lock()
	q, ok := t.byName[name]
	if !ok {
		t.mu.Unlock()
		return errors.New("RESQUEMGR_NO_QUENAME", fmt.Sprintf("resource queue %q does not exist", name))
	}

	prior := *q
	if err := mutate(q); err != nil {
		*q = prior
		t.mu.Unlock()
		return errors.Wrap("RESQUEMGR_WRONG_ATTRVALUE", err)
	}
	updated := *q
	t.mu.Unlock()

	if catalog != nil {
		if err := catalog.PersistQueueUpdate(ctx, updated); err != nil {
			t.mu.Lock()
			*q = prior
			t.mu.Unlock()
			if t.audit != nil {
				t.audit.LogCatalogPersistFailure(ctx, name, "update", "RESQUEMGR_WRONG_ATTRVALUE")
			}
			return errors.Wrap("RESQUEMGR_WRONG_ATTRVALUE", err)
		}
	}

	if t.audit != nil {
		t.audit.LogQueueAlter(ctx, name, attrName, "", "")
	}
	return nil
}

// DropQueue removes a leaf queue with no active statements, implementing
// dropResourceQueue.
func (t *Tree) DropQueue(ctx context.Context, name string, catalog CatalogWriter) error {
	t.mu.Lock()
	q, ok := t.byName[name]
	if !ok {
		t.mu.Unlock()
		return errors.New("RESQUEMGR_NO_QUENAME", fmt.Sprintf("resource queue %q does not exist", name))
	}
	if q.IsRoot || q.IsDefault {
		t.mu.Unlock()
		return errors.New("RESQUEMGR_IN_USE", fmt.Sprintf("resource queue %q cannot be dropped", name))
	}
	if len(t.children[q.OID]) > 0 {
		t.mu.Unlock()
		return errors.New("RESQUEMGR_IN_USE", fmt.Sprintf("resource queue %q still has child queues", name))
	}
	tr := t.trackers[q.OID]
	if tr != nil && tr.NumOfRunningQueries() > 0 {
		t.mu.Unlock()
		return errors.New("RESQUEMGR_IN_USE", fmt.Sprintf("resource queue %q has active statements", name))
	}
	t.mu.Unlock()

	if catalog != nil {
		if err := catalog.PersistQueueDelete(ctx, q.OID); err != nil {
			if t.audit != nil {
				t.audit.LogCatalogPersistFailure(ctx, name, "delete", "RESQUEMGR_IN_USE")
			}
			return errors.Wrap("RESQUEMGR_IN_USE", err)
		}
	}

	t.mu.Lock()
	delete(t.byOID, q.OID)
	delete(t.byName, name)
	delete(t.trackers, q.OID)
	kids := t.children[q.ParentOID]
	for i, id := range kids {
		if id == q.OID {
			t.children[q.ParentOID] = append(kids[:i], kids[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	if t.audit != nil {
		t.audit.LogQueueDrop(ctx, name)
	}
	return nil
}

// maxResourceQueueNumber is a small indirection so tests can shrink the
// cluster limit without touching package config; production wiring passes
// cluster.rm_max_resource_queue_number from pkg/config.
func maxResourceQueueNumber(t *Tree) int {
	if t.limit > 0 {
		return t.limit
	}
	return 128
}
