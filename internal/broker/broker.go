package broker

import (
	"context"
	"time"
)

// Mode selects which capability a ResourceBroker provides, the spec's
// ImpType branch (NONE vs YARN_LIBYARN).
type Mode string

const (
	ModeNone        Mode = "NONE"
	ModeYARNLibYARN Mode = "YARN_LIBYARN"
)

// GrantedContainer is one unit of resource a provider has granted,
// independent of internal/pool's Container so this package never imports
// the pool (the pool imports nothing from broker; broker feeds it).
type GrantedContainer struct {
	ID        string
	SegmentID int
	MemoryMB  int
	Core      int
}

// AcquireRequest asks a provider for containers on one segment.
type AcquireRequest struct {
	SegmentID int
	MemoryMB  int
	Core      int
	Count     int
}

// ContainerStatus is one line of a provider's periodic status report,
// used to detect containers the provider revoked without an explicit
// release (spec §4.6 failure semantics).
type ContainerStatus struct {
	ID    string
	Alive bool
}

// ResourceBroker is the abstraction spec §1 calls out as an external
// collaborator: the concrete wire protocol to the cluster's resource
// provider is out of scope here, only the acquire/release/status-report
// contract the control loop drives.
type ResourceBroker interface {
	Mode() Mode
	Acquire(ctx context.Context, req AcquireRequest) ([]GrantedContainer, error)
	Release(ctx context.Context, containerIDs []string) error
	ContainerStatusReport(ctx context.Context) ([]ContainerStatus, error)
}

// SelfContained implements ModeNone: segment capacity is the segment's
// own FTS totals, containers are never returned to any provider, and
// breathing is a no-op (spec §9's ImpType note). Acquire/Release always
// succeed since there is nothing external to fail.
type SelfContained struct{}

func (SelfContained) Mode() Mode { return ModeNone }

func (SelfContained) Acquire(ctx context.Context, req AcquireRequest) ([]GrantedContainer, error) {
	out := make([]GrantedContainer, req.Count)
	for i := range out {
		out[i] = GrantedContainer{SegmentID: req.SegmentID, MemoryMB: req.MemoryMB, Core: req.Core}
	}
	return out, nil
}

func (SelfContained) Release(ctx context.Context, containerIDs []string) error { return nil }

func (SelfContained) ContainerStatusReport(ctx context.Context) ([]ContainerStatus, error) {
	return nil, nil
}

// ExternalClient is the concrete wire call to a YARN_LIBYARN-style
// provider; its implementation is an external collaborator out of scope
// here (spec §1).
type ExternalClient interface {
	Acquire(ctx context.Context, req AcquireRequest) ([]GrantedContainer, error)
	Release(ctx context.Context, containerIDs []string) error
	ContainerStatusReport(ctx context.Context) ([]ContainerStatus, error)
}

// External implements ModeYARNLibYARN: capacity comes from the provider's
// own totals and containers flow through the four-stage pipeline. Every
// call to the underlying client is gated by a circuit breaker so a flaky
// provider doesn't stall the control loop on every tick.
type External struct {
	client  ExternalClient
	breaker *Breaker
}

// NewExternal wraps a provider client with circuit-breaker protection.
func NewExternal(client ExternalClient, cfg Config) *External {
	return &External{client: client, breaker: New(cfg)}
}

func (e *External) Mode() Mode { return ModeYARNLibYARN }

// ErrBrokerOpen is returned when the circuit breaker is open and the call
// was short-circuited without reaching the provider.
type ErrBrokerOpen struct{}

func (ErrBrokerOpen) Error() string { return "resource broker circuit open" }

func (e *External) Acquire(ctx context.Context, req AcquireRequest) ([]GrantedContainer, error) {
	if !e.breaker.CanProceed() {
		return nil, ErrBrokerOpen{}
	}
	containers, err := e.client.Acquire(ctx, req)
	e.record(err)
	return containers, err
}

func (e *External) Release(ctx context.Context, containerIDs []string) error {
	if !e.breaker.CanProceed() {
		return ErrBrokerOpen{}
	}
	err := e.client.Release(ctx, containerIDs)
	e.record(err)
	return err
}

func (e *External) ContainerStatusReport(ctx context.Context) ([]ContainerStatus, error) {
	if !e.breaker.CanProceed() {
		return nil, ErrBrokerOpen{}
	}
	statuses, err := e.client.ContainerStatusReport(ctx)
	e.record(err)
	return statuses, err
}

func (e *External) record(err error) {
	if err != nil {
		e.breaker.RecordFailure()
		return
	}
	e.breaker.RecordSuccess()
}

// Status exposes the breaker's current state for metrics/diagnostics.
func (e *External) Status() State {
	return e.breaker.Status()
}

// PollInterval is how often the control loop should call
// ContainerStatusReport in external mode; self-contained mode never polls.
const PollInterval = 10 * time.Second
