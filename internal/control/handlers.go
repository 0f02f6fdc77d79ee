package control

import (
	"context"
	"fmt"
	"strconv"

	"github.com/willschipp/resmgr/internal/conntrack"
	"github.com/willschipp/resmgr/internal/queuemgr"
	"github.com/willschipp/resmgr/internal/rpc"
)

// handleEnvelope is phase (a): decode one inbound frame and mutate core
// state accordingly. It never blocks on I/O; responses go out through
// rpc.Server.Send, which only enqueues onto ConnToSend.
func (l *Loop) handleEnvelope(ctx context.Context, env rpc.Envelope) {
	switch env.Frame.Mark {
	case rpc.MarkRequestRegister:
		l.handleRegister(ctx, env)
	case rpc.MarkRequestAcquireResource:
		l.handleAcquire(ctx, env)
	case rpc.MarkRequestReturnResource:
		l.handleReturn(ctx, env)
	case rpc.MarkRequestDDLManipulateQueue:
		l.handleDDLQueue(ctx, env)
	}
}

func (l *Loop) handleRegister(ctx context.Context, env rpc.Envelope) {
	req, err := rpc.DecodeRegisterRequest(env.Frame.Body)
	if err != nil {
		return
	}

	connID := fmt.Sprintf("%d", req.ConnID)
	if l.audit != nil {
		l.audit.LogConnRegisterAttempt(ctx, connID, req.UserName)
	}

	tr := conntrack.NewTrack(connID)
	if err := tr.Transition(conntrack.RegisterDone); err != nil {
		if l.audit != nil {
			l.audit.LogConnRegisterRejected(ctx, connID, req.UserName, err.Error())
		}
		return
	}
	tr.QueueOID = l.tree.Default().OID
	queueName := l.tree.Default().Name

	l.conns[env.ConnID] = &connEntry{track: tr}
	l.sweeper.Register(connID, req.UserName, queueName, nil)

	if l.audit != nil {
		l.audit.LogConnRegisterSuccess(ctx, connID, req.UserName, queueName)
	}
}

func (l *Loop) handleAcquire(ctx context.Context, env rpc.Envelope) {
	ce, ok := l.conns[env.ConnID]
	if !ok {
		return
	}
	req, err := rpc.DecodeAcquireResourceRequest(env.Frame.Body)
	if err != nil {
		return
	}

	tr := ce.track
	tr.SessionID = fmt.Sprintf("%d", req.SessionID)
	// The cluster, not the client, fixes a virtual segment's shape
	// uniformly (AcquireResourceResponse reports SegMemMB/SegCore back
	// from these, not from anything the client proposed).
	tr.MemPerSegMB = l.segQuotaMB
	if tr.MemPerSegMB <= 0 {
		tr.MemPerSegMB = defaultSegQuotaMB
	}
	tr.CorePerSeg = l.segCorePerSeg
	if tr.CorePerSeg <= 0 {
		tr.CorePerSeg = defaultSegCorePerSeg
	}
	tr.VsegMax = int(req.MaxSegCountFix)
	tr.VsegMin = int(req.MinSegCountFix)
	tr.VsegLimitPerSeg = int(req.VsegLimitPerSeg)
	tr.VsegLimitTotal = int(req.VsegLimit)
	tr.SliceCount = int(req.SliceSize)
	tr.IOBytes = int64(req.IOBytes)
	tr.PreferredHosts = tr.PreferredHosts[:0]
	for i, h := range req.PreferredHosts {
		scanSize := int64(0)
		if i < len(req.PreferredScanSizes) {
			scanSize = int64(req.PreferredScanSizes[i])
		}
		tr.PreferredHosts = append(tr.PreferredHosts, conntrack.PreferredHost{Host: h, ScanSize: scanSize})
	}

	if err := tr.Transition(conntrack.ResourceQueueAllocWait); err != nil {
		return
	}

	tracker, ok := l.tree.Tracker(tr.QueueOID)
	if !ok {
		return
	}
	tracker.Enqueue(tr)
	// The session's resource lock is created at grant time (dispatchOne),
	// once the actual vseg count it holds is known, not at enqueue time.

	if l.audit != nil {
		queueName := ""
		if q := tracker.Queue(); q != nil {
			queueName = q.Name
		}
		l.audit.LogResourceRequest(ctx, tr.ConnID, queueName, tr.VsegMax)
		l.audit.Log().WithRequestID(fmt.Sprintf("%d", env.ConnID)).Debug("resource request enqueued",
			"conn_id", tr.ConnID, "vseg_min", tr.VsegMin, "vseg_max", tr.VsegMax)
	}
}

func (l *Loop) handleReturn(ctx context.Context, env rpc.Envelope) {
	ce, ok := l.conns[env.ConnID]
	if !ok {
		return
	}
	if _, err := rpc.DecodeReturnResourceRequest(env.Frame.Body); err != nil {
		return
	}

	vsegCount := 0
	for _, r := range ce.track.Result {
		vsegCount += r.VsegCount
	}
	queueName := ""
	if tracker, ok := l.tree.Tracker(ce.track.QueueOID); ok {
		if q := tracker.Queue(); q != nil {
			queueName = q.Name
		}
	}

	l.releaseTrack(ce.track)
	_ = ce.track.Transition(conntrack.RegisterDone)
	if l.audit != nil {
		l.audit.LogResourceReturned(ctx, ce.track.ConnID, queueName, vsegCount)
	}
}

func (l *Loop) handleDDLQueue(ctx context.Context, env rpc.Envelope) {
	req, err := rpc.DecodeDDLManipulateQueueRequest(env.Frame.Body)
	if err != nil {
		return
	}

	switch req.Action {
	case rpc.DDLDrop:
		_ = l.tree.DropQueue(ctx, req.Name, l.catalog)
	case rpc.DDLCreate:
		l.handleCreateQueue(ctx, req)
	case rpc.DDLAlter:
		l.handleAlterQueue(ctx, req)
	}
}

// handleCreateQueue builds a queuemgr.Queue from the DDL attribute list
// and validates/commits it, implementing createResourceQueue's attribute
// grammar (parent, active_statements, memory_limit_cluster, ...).
func (l *Loop) handleCreateQueue(ctx context.Context, req rpc.DDLManipulateQueueRequest) {
	q := queuemgr.Queue{Name: req.Name, IsLeaf: true}
	for _, a := range req.Attrs {
		if a.Key == "parent" {
			if parent, ok := l.tree.Queue(a.Value); ok {
				q.ParentOID = parent.OID
			}
			continue
		}
		_ = applyDDLAttr(&q, a)
	}
	if q.ParentOID == 0 {
		q.ParentOID = l.tree.Default().ParentOID
	}
	_, _ = l.tree.CreateQueue(ctx, q, l.catalog)
}

// handleAlterQueue applies each altered attribute in turn, matching
// alterResourceQueue's one-statement-per-attribute persistence.
func (l *Loop) handleAlterQueue(ctx context.Context, req rpc.DDLManipulateQueueRequest) {
	for _, a := range req.Attrs {
		attr := a
		_ = l.tree.AlterQueue(ctx, req.Name, attr.Key, func(q *queuemgr.Queue) error {
			return applyDDLAttr(q, attr)
		}, l.catalog)
	}
}

// applyDDLAttr sets one DDL attribute (by HAWQ's resource queue attribute
// names) onto q.
func applyDDLAttr(q *queuemgr.Queue, a rpc.DDLAttr) error {
	switch a.Key {
	case "active_statements":
		n, err := strconv.Atoi(a.Value)
		if err != nil {
			return fmt.Errorf("control: active_statements attribute: %w", err)
		}
		q.ActiveStatements = n
	case "memory_limit_cluster", "vcore_limit_cluster":
		pct, err := strconv.ParseFloat(trimPercent(a.Value), 64)
		if err != nil {
			return fmt.Errorf("control: %s attribute: %w", a.Key, err)
		}
		if a.Key == "memory_limit_cluster" {
			q.ClusterMemoryPercent = pct
		} else {
			q.ClusterVCorePercent = pct
		}
	case "resource_upper_factor":
		f, err := strconv.ParseFloat(a.Value, 64)
		if err != nil {
			return fmt.Errorf("control: resource_upper_factor attribute: %w", err)
		}
		q.ResourceUpperFactor = f
	case "vseg_upper_limit":
		n, err := strconv.Atoi(a.Value)
		if err != nil {
			return fmt.Errorf("control: vseg_upper_limit attribute: %w", err)
		}
		q.VSegUpperLimit = n
	case "vseg_upper_limit_per_seg":
		n, err := strconv.Atoi(a.Value)
		if err != nil {
			return fmt.Errorf("control: vseg_upper_limit_per_seg attribute: %w", err)
		}
		q.VSegUpperLimitPerSeg = n
	case "allocation_policy":
		switch a.Value {
		case string(queuemgr.PolicyEven):
			q.AllocatePolicy = queuemgr.PolicyEven
		case string(queuemgr.PolicyFIFO):
			q.AllocatePolicy = queuemgr.PolicyFIFO
		default:
			return fmt.Errorf("control: unknown allocation_policy %q", a.Value)
		}
	}
	return nil
}

// trimPercent strips a trailing "%" HAWQ's DDL grammar allows on
// memory_limit_cluster/vcore_limit_cluster values.
func trimPercent(v string) string {
	if len(v) > 0 && v[len(v)-1] == '%' {
		return v[:len(v)-1]
	}
	return v
}
