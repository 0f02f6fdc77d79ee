// Package pool implements the resource pool: segment registration, the
// free/allocated/IO-workload BBSTs over containers, the ratio tracker, and
// the liveness sweep that reports segments whose FTS heartbeat has gone
// stale.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/willschipp/resmgr/pkg/logger"
)

// SegmentProber answers whether a segment's fault-tolerance-service
// heartbeat is still current. It is the only way LivenessMonitor learns
// about segment state; it never talks to the network itself.
type SegmentProber interface {
	IsAlive(segmentHost string) (bool, error)
}

// LivenessMonitor tracks per-segment FTS heartbeat health and reports
// segments whose heartbeat has gone stale past MaxFailures consecutive
// checks to its failure handler; it removes no segment itself.
type LivenessMonitor struct {
	prober        SegmentProber
	checkInterval time.Duration
	maxFailures   int
	segments      map[string]*SegmentHealth
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	audit         *logger.AuditLogger
	onFailure     FailureHandler
}

// SegmentHealth holds heartbeat status for one segment host.
type SegmentHealth struct {
	Host         string
	State        string
	FailureCount int
	LastCheck    time.Time
	LastHealthy  time.Time
	mu           sync.RWMutex
}

// Copy returns a copy of the SegmentHealth without the mutex.
func (h *SegmentHealth) Copy() *SegmentHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return &SegmentHealth{
		Host:         h.Host,
		State:        h.State,
		FailureCount: h.FailureCount,
		LastCheck:    h.LastCheck,
		LastHealthy:  h.LastHealthy,
	}
}

// FailureHandler is called when a segment's heartbeat has failed too
// many consecutive checks.
type FailureHandler func(segmentHost, reason string)

// LivenessConfig holds configuration for segment liveness monitoring.
type LivenessConfig struct {
	CheckInterval time.Duration
	MaxFailures   int
	MaxStaleness  time.Duration
}

// DefaultLivenessConfig returns the default liveness configuration.
func DefaultLivenessConfig() LivenessConfig {
	return LivenessConfig{
		CheckInterval: 30 * time.Second,
		MaxFailures:   3,
		MaxStaleness:  5 * time.Minute,
	}
}

// NewLivenessMonitor creates a new segment liveness monitor.
func NewLivenessMonitor(prober SegmentProber, config LivenessConfig, audit *logger.AuditLogger) *LivenessMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	if config.CheckInterval == 0 {
		config.CheckInterval = DefaultLivenessConfig().CheckInterval
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = DefaultLivenessConfig().MaxFailures
	}

	return &LivenessMonitor{
		prober:        prober,
		checkInterval: config.CheckInterval,
		maxFailures:   config.MaxFailures,
		segments:      make(map[string]*SegmentHealth),
		ctx:           ctx,
		cancel:        cancel,
		audit:         audit,
	}
}

// SetFailureHandler sets a custom handler invoked when a segment is
// declared down.
func (m *LivenessMonitor) SetFailureHandler(handler FailureHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = handler
}

// Start begins the background liveness sweep.
func (m *LivenessMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wg.Add(1)
	go m.monitorLoop()
	return nil
}

// Stop stops the liveness sweep and waits for it to exit.
func (m *LivenessMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Register adds a segment host to liveness tracking.
func (m *LivenessMonitor) Register(segmentHost string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.segments[segmentHost] = &SegmentHealth{
		Host:        segmentHost,
		State:       "unknown",
		LastCheck:   time.Now(),
		LastHealthy: time.Now(),
	}
}

// Unregister removes a segment host from liveness tracking.
func (m *LivenessMonitor) Unregister(segmentHost string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.segments, segmentHost)
}

// UpdateHealth directly sets a segment's health state, used when the FTS
// heartbeat is pushed rather than polled.
func (m *LivenessMonitor) UpdateHealth(segmentHost, state string, isHealthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	health, exists := m.segments[segmentHost]
	if !exists {
		return
	}

	health.mu.Lock()
	defer health.mu.Unlock()

	health.State = state
	health.LastCheck = time.Now()

	if isHealthy {
		health.FailureCount = 0
		health.LastHealthy = time.Now()
	}
}

// GetHealth returns a segment's tracked health.
func (m *LivenessMonitor) GetHealth(segmentHost string) (*SegmentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health, exists := m.segments[segmentHost]
	if !exists {
		return nil, false
	}
	return health.Copy(), true
}

// ListHealth returns the health of all tracked segments.
func (m *LivenessMonitor) ListHealth() []*SegmentHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*SegmentHealth, 0, len(m.segments))
	for _, health := range m.segments {
		list = append(list, health.Copy())
	}
	return list
}

func (m *LivenessMonitor) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkAllSegments()
		}
	}
}

func (m *LivenessMonitor) checkAllSegments() {
	m.mu.RLock()
	hosts := make([]string, 0, len(m.segments))
	for host := range m.segments {
		hosts = append(hosts, host)
	}
	m.mu.RUnlock()

	for _, host := range hosts {
		m.checkSegment(host)
	}
}

func (m *LivenessMonitor) checkSegment(segmentHost string) {
	m.mu.RLock()
	health, exists := m.segments[segmentHost]
	m.mu.RUnlock()

	if !exists {
		return
	}

	alive, err := m.prober.IsAlive(segmentHost)
	health.mu.Lock()
	defer health.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.FailureCount++
		health.State = "error"

		if health.FailureCount >= m.maxFailures {
			m.handleFailure(segmentHost, "heartbeat_check_error")
		}
		return
	}

	if !alive {
		health.FailureCount++
		health.State = "down"

		if health.FailureCount >= m.maxFailures {
			m.handleFailure(segmentHost, "heartbeat_expired")
		}
		return
	}

	health.State = "up"
	health.FailureCount = 0
	health.LastHealthy = time.Now()
}

func (m *LivenessMonitor) handleFailure(segmentHost, reason string) {
	if m.audit != nil {
		m.audit.LogSegmentDown(context.Background(), segmentHost, reason)
	}

	if m.onFailure != nil {
		m.onFailure(segmentHost, fmt.Sprintf("%s: %s", reason, segmentHost))
	}
}

// GetStats returns monitoring statistics across all tracked segments.
func (m *LivenessMonitor) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]interface{}{
		"monitored_segments": len(m.segments),
		"check_interval":     m.checkInterval.String(),
		"max_failures":       m.maxFailures,
	}

	upCount := 0
	downCount := 0
	unknownCount := 0

	for _, health := range m.segments {
		health.mu.RLock()
		switch health.State {
		case "up":
			upCount++
		case "down", "error":
			downCount++
		default:
			unknownCount++
		}
		health.mu.RUnlock()
	}

	stats["up"] = upCount
	stats["down"] = downCount
	stats["unknown"] = unknownCount

	return stats
}
