// Package errors provides structured error handling for the resource
// manager core: traced errors with call stacks and state snapshots,
// a flat error-code registry matching the client-facing RPC taxonomy,
// and a sampling registry to rate-limit repeated notifications.
//
// # Quick Start
//
//	err := errors.NewBuilder("RESQUEMGR_NO_RESOURCE").
//	    WithFunction("allocateResourceFromResourcePoolIOBytes").
//	    WithInputs(map[string]any{"queue_oid": queueOid}).
//	    WithState(map[string]any{"cluster_mem_mb": clusterMemMB}).
//	    Build()
//
// # Error Codes
//
// Codes are the literal symbols clients see at the RPC boundary
// (RESQUEMGR_NO_RESOURCE, RESOURCEPOOL_UNRESOLVED_HOST, LIBPQ_FAIL_EXECUTE,
// ...). Each carries a Category used for metrics labeling and log
// filtering, and a Severity.
//
// # Severity Levels
//
//   - Warning: expected admission/timeout outcome, reported to the client
//   - Error: operation failed, control loop continues
//   - Critical: internal invariant violated; per spec this is always a
//     fatal assertion, not a recoverable condition
//
// # Notification rate limiting
//
// The SamplingRegistry lets a component report the same code repeatedly
// (e.g. a flapping segment) without flooding the audit log: first
// occurrence logs immediately, repeats within the configured window are
// counted, and the first occurrence after the window has passed is
// notified carrying the accumulated count as its RepeatCount.
//
// # Component tracking
//
// Each subsystem keeps a RingBuffer of recent ComponentLogEntry values so
// a fatal assertion can attach the events leading up to it:
//
//	tracker := errors.GetComponentTracker("resourcepool")
//	tracker.Event("reorder_bbst", map[string]any{"segment_id": id})
package errors
