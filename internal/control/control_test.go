package control

import (
	"context"
	"net"
	"testing"

	"github.com/willschipp/resmgr/internal/broker"
	"github.com/willschipp/resmgr/internal/conntrack"
	"github.com/willschipp/resmgr/internal/pool"
	"github.com/willschipp/resmgr/internal/queuemgr"
	"github.com/willschipp/resmgr/internal/rpc"
)

// newTestLoop builds a Loop directly (bypassing New's cron setup, which
// this test never drives) over a pool with one registered, admitted
// segment and an empty queue tree, wired to itself as the sweeper's
// Evictor.
func newTestLoop(t *testing.T, memMB, core int) *Loop {
	t.Helper()

	p := pool.New(nil)
	seg, _, err := p.RegisterSegment(context.Background(), pool.SegmentSpec{
		Hostname: "h1", Port: 5432, IPs: []string{"10.0.0.1"},
		FTSTotalMemoryMB: memMB, FTSTotalCore: core,
		GRMTotalMemoryMB: memMB, GRMTotalCore: core,
		Ratio: memMB / core,
	}, nil)
	if err != nil {
		t.Fatalf("RegisterSegment failed: %v", err)
	}
	p.EnqueueToAccept(&pool.Container{ID: "c1", MemoryMB: memMB, Core: core, SegmentID: seg.ID})
	p.PromoteAccepted()
	p.AdmitAccepted()

	tree := queuemgr.NewTree(nil)

	l := &Loop{
		pool:  p,
		tree:  tree,
		rb:    broker.SelfContained{},
		conns: make(map[uint64]*connEntry),
	}
	l.sweeper = conntrack.NewTimeoutSweeper(0, l, nil)
	return l
}

func registerAndAcquire(t *testing.T, l *Loop, wireID, connID uint64, vsegMin, vsegMax uint32) {
	t.Helper()
	regReq := rpc.RegisterRequest{ConnID: connID, UserName: "gpadmin"}
	l.handleEnvelope(context.Background(), rpc.Envelope{
		ConnID: wireID,
		Frame:  rpc.Frame{Mark: rpc.MarkRequestRegister, Body: rpc.EncodeRegisterRequest(regReq)},
	})

	acqReq := rpc.AcquireResourceRequest{
		ConnID: connID, SessionID: 1,
		MaxSegCountFix: vsegMax, MinSegCountFix: vsegMin,
		VsegLimitPerSeg: 8, SliceSize: 1,
	}
	l.handleEnvelope(context.Background(), rpc.Envelope{
		ConnID: wireID,
		Frame:  rpc.Frame{Mark: rpc.MarkRequestAcquireResource, Body: rpc.EncodeAcquireResourceRequest(acqReq)},
	})
}

func TestHandleRegisterTracksConnectionOnDefaultQueue(t *testing.T) {
	l := newTestLoop(t, 16384, 16)

	regReq := rpc.RegisterRequest{ConnID: 42, UserName: "gpadmin"}
	l.handleEnvelope(context.Background(), rpc.Envelope{
		ConnID: 1,
		Frame:  rpc.Frame{Mark: rpc.MarkRequestRegister, Body: rpc.EncodeRegisterRequest(regReq)},
	})

	ce, ok := l.conns[1]
	if !ok {
		t.Fatal("expected connection 1 to be tracked after register")
	}
	if ce.track.State != conntrack.RegisterDone {
		t.Errorf("expected RegisterDone, got %v", ce.track.State)
	}
	if ce.track.QueueOID != l.tree.Default().OID {
		t.Errorf("expected track assigned to pg_default, got queue %d", ce.track.QueueOID)
	}
}

func TestAcquireThenDispatchGrantsAndRespondsOverWire(t *testing.T) {
	l := newTestLoop(t, 16384, 16)

	sockPath := t.TempDir() + "/ctl.sock"
	srv := rpc.NewServer(sockPath, 1000, 10, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("rpc server start: %v", err)
	}
	defer srv.Stop()
	l.rpc = srv

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	registerAndAcquire(t, l, 1, 7, 1, 4)

	var ce *connEntry
	for _, c := range l.conns {
		ce = c
	}
	if ce == nil {
		t.Fatal("expected a tracked connection after register+acquire")
	}
	if ce.track.State != conntrack.ResourceQueueAllocWait {
		t.Fatalf("expected ResourceQueueAllocWait before dispatch, got %v", ce.track.State)
	}

	l.dispatchPass(context.Background())

	if ce.track.State != conntrack.ResourceQueueAllocDone {
		t.Fatalf("expected ResourceQueueAllocDone after dispatch, got %v", ce.track.State)
	}
	if len(ce.track.Result) == 0 {
		t.Fatal("expected a non-empty allocation result after grant")
	}
}

func TestReturnResourceReleasesPoolAndQueueAccounting(t *testing.T) {
	l := newTestLoop(t, 16384, 16)
	registerAndAcquire(t, l, 1, 7, 1, 4)
	l.dispatchPass(context.Background())

	var wireID uint64
	var ce *connEntry
	for id, c := range l.conns {
		wireID, ce = id, c
	}
	if ce.track.State != conntrack.ResourceQueueAllocDone {
		t.Fatalf("expected grant before testing return, got %v", ce.track.State)
	}

	retReq := rpc.ReturnResourceRequest{ConnID: 7}
	l.handleEnvelope(context.Background(), rpc.Envelope{
		ConnID: wireID,
		Frame:  rpc.Frame{Mark: rpc.MarkRequestReturnResource, Body: rpc.EncodeReturnResourceRequest(retReq)},
	})

	if ce.track.State != conntrack.RegisterDone {
		t.Errorf("expected RegisterDone after return, got %v", ce.track.State)
	}
	if len(ce.track.Result) != 0 {
		t.Errorf("expected track's held result cleared after return, got %+v", ce.track.Result)
	}

	tracker, _ := l.tree.Tracker(ce.track.QueueOID)
	if tracker.NumOfRunningQueries() != 0 {
		t.Errorf("expected 0 running queries after return, got %d", tracker.NumOfRunningQueries())
	}
}

func TestEvictConnectionTornsDownTrackAndReleasesHeldResources(t *testing.T) {
	l := newTestLoop(t, 16384, 16)
	registerAndAcquire(t, l, 1, 7, 1, 4)
	l.dispatchPass(context.Background())

	var ce *connEntry
	for _, c := range l.conns {
		ce = c
	}
	if len(ce.track.Result) == 0 {
		t.Fatal("expected a grant before testing eviction")
	}

	if err := l.EvictConnection(ce.track.ConnID); err != nil {
		t.Fatalf("EvictConnection failed: %v", err)
	}
	if len(l.conns) != 0 {
		t.Errorf("expected connection removed from tracking after eviction, got %d left", len(l.conns))
	}
}

func TestEvictConnectionUnknownConnReturnsError(t *testing.T) {
	l := newTestLoop(t, 16384, 16)
	if err := l.EvictConnection("does-not-exist"); err == nil {
		t.Error("expected an error evicting an untracked connection")
	}
}

func ddlEnvelope(req rpc.DDLManipulateQueueRequest) rpc.Envelope {
	return rpc.Envelope{
		Frame: rpc.Frame{Mark: rpc.MarkRequestDDLManipulateQueue, Body: rpc.EncodeDDLManipulateQueueRequest(req)},
	}
}

func TestHandleDDLQueueCreatesQueueUnderNamedParent(t *testing.T) {
	l := newTestLoop(t, 16384, 16)

	req := rpc.DDLManipulateQueueRequest{
		Action: rpc.DDLCreate,
		Name:   "batch",
		Attrs: []rpc.DDLAttr{
			{Key: "parent", Value: "pg_root"},
			{Key: "memory_limit_cluster", Value: "50%"},
			{Key: "active_statements", Value: "10"},
			{Key: "allocation_policy", Value: "even"},
		},
	}
	l.handleEnvelope(context.Background(), ddlEnvelope(req))

	q, ok := l.tree.Queue("batch")
	if !ok {
		t.Fatal("expected queue 'batch' to exist after create")
	}
	if q.ParentOID != l.tree.Default().ParentOID {
		t.Errorf("expected parent pg_root, got parent OID %d", q.ParentOID)
	}
	if q.ClusterMemoryPercent != 50 {
		t.Errorf("expected ClusterMemoryPercent 50, got %v", q.ClusterMemoryPercent)
	}
	if q.ActiveStatements != 10 {
		t.Errorf("expected ActiveStatements 10, got %d", q.ActiveStatements)
	}
	if q.AllocatePolicy != queuemgr.PolicyEven {
		t.Errorf("expected PolicyEven, got %v", q.AllocatePolicy)
	}
}

func TestHandleDDLQueueAltersExistingQueue(t *testing.T) {
	l := newTestLoop(t, 16384, 16)
	l.handleEnvelope(context.Background(), ddlEnvelope(rpc.DDLManipulateQueueRequest{
		Action: rpc.DDLCreate, Name: "batch",
		Attrs: []rpc.DDLAttr{{Key: "parent", Value: "pg_root"}},
	}))

	l.handleEnvelope(context.Background(), ddlEnvelope(rpc.DDLManipulateQueueRequest{
		Action: rpc.DDLAlter, Name: "batch",
		Attrs: []rpc.DDLAttr{{Key: "active_statements", Value: "5"}},
	}))

	q, _ := l.tree.Queue("batch")
	if q.ActiveStatements != 5 {
		t.Errorf("expected ActiveStatements 5 after alter, got %d", q.ActiveStatements)
	}
}

func TestHandleDDLQueueDropRemovesQueue(t *testing.T) {
	l := newTestLoop(t, 16384, 16)
	l.handleEnvelope(context.Background(), ddlEnvelope(rpc.DDLManipulateQueueRequest{
		Action: rpc.DDLCreate, Name: "adhoc",
		Attrs: []rpc.DDLAttr{{Key: "parent", Value: "pg_root"}},
	}))
	l.handleEnvelope(context.Background(), ddlEnvelope(rpc.DDLManipulateQueueRequest{
		Action: rpc.DDLDrop, Name: "adhoc",
	}))

	if _, ok := l.tree.Queue("adhoc"); ok {
		t.Error("expected queue 'adhoc' to be gone after drop")
	}
}
