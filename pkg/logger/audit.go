// Package logger provides audit-specific logging helpers for the resource
// manager: every DDL mutation, dispatch decision and deadlock resolution
// flows through here so the catalog's history can be reconstructed from the
// log stream alone.
package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEventType identifies a kind of auditable decision made by the
// resource manager's control loop.
type AuditEventType string

const (
	// Connection registration events
	ConnRegisterAttempt AuditEventType = "conn_register_attempt"
	ConnRegisterSuccess AuditEventType = "conn_register_success"
	ConnRegisterRejected AuditEventType = "conn_register_rejected"
	ConnUnregister      AuditEventType = "conn_unregister"

	// Resource queue DDL events
	QueueCreate    AuditEventType = "queue_create"
	QueueAlter     AuditEventType = "queue_alter"
	QueueDrop      AuditEventType = "queue_drop"
	QueueDDLRejected AuditEventType = "queue_ddl_rejected"

	// Admission and dispatch events
	ResourceRequest  AuditEventType = "resource_request"
	ResourceGranted  AuditEventType = "resource_granted"
	ResourceDenied   AuditEventType = "resource_denied"
	ResourceReturned AuditEventType = "resource_returned"

	// Container lifecycle events
	ContainerAllocated AuditEventType = "container_allocated"
	ContainerRecycled  AuditEventType = "container_recycled"
	ContainerKilled    AuditEventType = "container_killed"

	// Deadlock and timeout events
	DeadlockDetected  AuditEventType = "deadlock_detected"
	DeadlockResolved  AuditEventType = "deadlock_resolved"
	NoResourceTimeout AuditEventType = "noresource_timeout"
	NoActionTimeout   AuditEventType = "noaction_timeout"

	// Segment and cluster membership events
	SegmentUp      AuditEventType = "segment_up"
	SegmentDown    AuditEventType = "segment_down"
	ClusterBreathe AuditEventType = "cluster_breathe"

	// Catalog persistence events
	CatalogPersistFailure AuditEventType = "catalog_persist_failure"
)

// AuditLogger provides structured logging for resource manager decisions
// that need to survive as a queryable trail: queue DDL, admission
// outcomes, container dispatch, and deadlock resolution.
type AuditLogger struct {
	logger *Logger
}

// NewAuditLogger creates a new audit logger scoped to the "audit" component.
func NewAuditLogger(baseLogger *Logger) *AuditLogger {
	return &AuditLogger{
		logger: baseLogger.WithComponent("audit"),
	}
}

// Log exposes the underlying component logger for callers that need a
// log line shaped outside the fixed AuditEventType vocabulary above, such
// as an ErrorEvent for a failure the audit trail doesn't have a typed
// event for, or a session/request-scoped child logger.
func (al *AuditLogger) Log() *Logger {
	return al.logger
}

// LogConnRegisterAttempt logs a connection registration attempt.
func (al *AuditLogger) LogConnRegisterAttempt(ctx context.Context, connID, userName string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.String("user_name", userName),
	}
	al.logger.AuditEvent(ctx, string(ConnRegisterAttempt), append(baseAttrs, attrs...)...)
}

// LogConnRegisterSuccess logs a successful connection registration with the
// queue it was assigned to.
func (al *AuditLogger) LogConnRegisterSuccess(ctx context.Context, connID, userName, queueName string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.String("user_name", userName),
		slog.String("queue_name", queueName),
	}
	al.logger.AuditEvent(ctx, string(ConnRegisterSuccess), append(baseAttrs, attrs...)...)
}

// LogConnRegisterRejected logs a rejected connection registration.
func (al *AuditLogger) LogConnRegisterRejected(ctx context.Context, connID, userName, code string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.String("user_name", userName),
		slog.String("error_code", code),
	}
	al.logger.AuditEvent(ctx, string(ConnRegisterRejected), append(baseAttrs, attrs...)...)
}

// LogConnUnregister logs a connection teardown.
func (al *AuditLogger) LogConnUnregister(ctx context.Context, connID, reason string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.String("reason", reason),
	}
	al.logger.AuditEvent(ctx, string(ConnUnregister), append(baseAttrs, attrs...)...)
}

// LogQueueCreate logs creation of a resource queue.
func (al *AuditLogger) LogQueueCreate(ctx context.Context, queueName, parentName string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("queue_name", queueName),
		slog.String("parent_name", parentName),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	al.logger.AuditEvent(ctx, string(QueueCreate), append(baseAttrs, attrs...)...)
}

// LogQueueAlter logs a mutation of a resource queue's attributes.
func (al *AuditLogger) LogQueueAlter(ctx context.Context, queueName, attrName, oldValue, newValue string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("queue_name", queueName),
		slog.String("attr_name", attrName),
		slog.String("old_value", oldValue),
		slog.String("new_value", newValue),
	}
	al.logger.AuditEvent(ctx, string(QueueAlter), append(baseAttrs, attrs...)...)
}

// LogQueueDrop logs removal of a resource queue.
func (al *AuditLogger) LogQueueDrop(ctx context.Context, queueName string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("queue_name", queueName),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	al.logger.AuditEvent(ctx, string(QueueDrop), append(baseAttrs, attrs...)...)
}

// LogQueueDDLRejected logs a rejected DDL statement with the validation
// error code that caused the rejection.
func (al *AuditLogger) LogQueueDDLRejected(ctx context.Context, queueName, code, reason string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("queue_name", queueName),
		slog.String("error_code", code),
		slog.String("reason", reason),
	}
	al.logger.AuditEvent(ctx, string(QueueDDLRejected), append(baseAttrs, attrs...)...)
}

// LogResourceRequest logs an incoming resource request before admission.
func (al *AuditLogger) LogResourceRequest(ctx context.Context, connID, queueName string, vsegCount int, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.String("queue_name", queueName),
		slog.Int("vseg_count", vsegCount),
	}
	al.logger.AuditEvent(ctx, string(ResourceRequest), append(baseAttrs, attrs...)...)
}

// LogResourceGranted logs a successful admission.
func (al *AuditLogger) LogResourceGranted(ctx context.Context, connID, queueName string, vsegCount, memMB int, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.String("queue_name", queueName),
		slog.Int("vseg_count", vsegCount),
		slog.Int("mem_mb", memMB),
	}
	al.logger.AuditEvent(ctx, string(ResourceGranted), append(baseAttrs, attrs...)...)
}

// LogResourceDenied logs a denied admission along with the error code.
func (al *AuditLogger) LogResourceDenied(ctx context.Context, connID, queueName, code string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.String("queue_name", queueName),
		slog.String("error_code", code),
	}
	al.logger.AuditEvent(ctx, string(ResourceDenied), append(baseAttrs, attrs...)...)
}

// LogResourceReturned logs a connection returning resources to the pool.
func (al *AuditLogger) LogResourceReturned(ctx context.Context, connID, queueName string, vsegCount int, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.String("queue_name", queueName),
		slog.Int("vseg_count", vsegCount),
	}
	al.logger.AuditEvent(ctx, string(ResourceReturned), append(baseAttrs, attrs...)...)
}

// LogContainerAllocated logs a container being bound to a segment and a
// connection.
func (al *AuditLogger) LogContainerAllocated(ctx context.Context, containerID, segmentHost, connID string, memMB, core int, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("container_id", containerID),
		slog.String("segment_host", segmentHost),
		slog.String("conn_id", connID),
		slog.Int("mem_mb", memMB),
		slog.Int("core", core),
	}
	al.logger.AuditEvent(ctx, string(ContainerAllocated), append(baseAttrs, attrs...)...)
}

// LogContainerRecycled logs a container being returned to the free BBST for
// reuse instead of being killed.
func (al *AuditLogger) LogContainerRecycled(ctx context.Context, containerID, segmentHost string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("container_id", containerID),
		slog.String("segment_host", segmentHost),
	}
	al.logger.AuditEvent(ctx, string(ContainerRecycled), append(baseAttrs, attrs...)...)
}

// LogContainerKilled logs a container being torn down.
func (al *AuditLogger) LogContainerKilled(ctx context.Context, containerID, segmentHost, reason string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("container_id", containerID),
		slog.String("segment_host", segmentHost),
		slog.String("reason", reason),
	}
	al.logger.AuditEvent(ctx, string(ContainerKilled), append(baseAttrs, attrs...)...)
}

// LogDeadlockDetected logs detection of a cross-connection resource
// deadlock.
func (al *AuditLogger) LogDeadlockDetected(ctx context.Context, connIDs []string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.Any("conn_ids", connIDs),
	}
	al.logger.AuditEvent(ctx, string(DeadlockDetected), append(baseAttrs, attrs...)...)
}

// LogDeadlockResolved logs resolution of a detected deadlock, naming the
// connection chosen as the victim.
func (al *AuditLogger) LogDeadlockResolved(ctx context.Context, victimConnID string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("victim_conn_id", victimConnID),
	}
	al.logger.AuditEvent(ctx, string(DeadlockResolved), append(baseAttrs, attrs...)...)
}

// LogNoResourceTimeout logs a connection's request expiring while waiting
// for resources.
func (al *AuditLogger) LogNoResourceTimeout(ctx context.Context, connID, queueName string, waitedSec int, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.String("queue_name", queueName),
		slog.Int("waited_sec", waitedSec),
	}
	al.logger.AuditEvent(ctx, string(NoResourceTimeout), append(baseAttrs, attrs...)...)
}

// LogNoActionTimeout logs an idle connection being evicted for exceeding
// rm_resource_noaction_timeout.
func (al *AuditLogger) LogNoActionTimeout(ctx context.Context, connID string, idleSec int, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.Int("idle_sec", idleSec),
	}
	al.logger.AuditEvent(ctx, string(NoActionTimeout), append(baseAttrs, attrs...)...)
}

// LogSegmentUp logs a segment joining the cluster pool.
func (al *AuditLogger) LogSegmentUp(ctx context.Context, segmentHost string, memMB, core int, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("segment_host", segmentHost),
		slog.Int("mem_mb", memMB),
		slog.Int("core", core),
	}
	al.logger.AuditEvent(ctx, string(SegmentUp), append(baseAttrs, attrs...)...)
}

// LogSegmentDown logs a segment dropping out of liveness tracking.
func (al *AuditLogger) LogSegmentDown(ctx context.Context, segmentHost, reason string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("segment_host", segmentHost),
		slog.String("reason", reason),
	}
	al.logger.AuditEvent(ctx, string(SegmentDown), append(baseAttrs, attrs...)...)
}

// LogClusterBreathe logs a breathing pass that returned containers to the
// global resource manager.
func (al *AuditLogger) LogClusterBreathe(ctx context.Context, returnedCount, returnedMemMB int, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.Int("returned_count", returnedCount),
		slog.Int("returned_mem_mb", returnedMemMB),
	}
	al.logger.AuditEvent(ctx, string(ClusterBreathe), append(baseAttrs, attrs...)...)
}

// LogCatalogPersistFailure logs a failed catalog write, identifying the
// queue, the operation, and the resource manager error code reported for it.
func (al *AuditLogger) LogCatalogPersistFailure(ctx context.Context, queueName, operation, code string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("queue_name", queueName),
		slog.String("operation", operation),
		slog.String("error_code", code),
	}
	al.logger.AuditEvent(ctx, string(CatalogPersistFailure), append(baseAttrs, attrs...)...)
}

// LogAuditEvent logs a generic audit event with a custom event type. This
// keeps the audit trail extensible for decisions that don't fit the
// predefined categories above.
func (al *AuditLogger) LogAuditEvent(eventType string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event_type", eventType),
	}
	al.logger.AuditEvent(context.Background(), eventType, append(baseAttrs, attrs...)...)
}
