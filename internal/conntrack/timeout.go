// Package conntrack tracks registered connections and enforces the
// resource-manager's idle eviction policy: a connection holding resources
// without submitting a statement for rm_resource_noaction_timeout seconds
// has its resources returned and the connection torn down.
package conntrack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/willschipp/resmgr/pkg/logger"
)

// ConnState tracks a registered connection's resource-holding activity.
type ConnState struct {
	ConnID     string
	UserName   string
	QueueName  string
	LastActive time.Time
	CreatedAt  time.Time
	Labels     map[string]string
}

// Evictor releases a connection's held resources and tears down its RPC
// session. TimeoutSweeper never touches the resource pool or the wire
// connection directly; it only decides when a connection has gone idle.
type Evictor interface {
	EvictConnection(connID string) error
}

// TimeoutSweeper periodically evicts connections idle longer than
// idleTimeout, implementing rm_resource_noaction_timeout.
type TimeoutSweeper struct {
	idleTimeout   time.Duration
	checkInterval time.Duration
	conns         map[string]*ConnState
	mutex         sync.RWMutex
	evictor       Evictor
	ctx           context.Context
	cancel        context.CancelFunc
	audit         *logger.AuditLogger
}

// NewTimeoutSweeper creates a new idle-connection sweeper.
func NewTimeoutSweeper(idleTimeout time.Duration, evictor Evictor, audit *logger.AuditLogger) *TimeoutSweeper {
	ctx, cancel := context.WithCancel(context.Background())

	return &TimeoutSweeper{
		idleTimeout:   idleTimeout,
		checkInterval: 30 * time.Second,
		conns:         make(map[string]*ConnState),
		evictor:       evictor,
		ctx:           ctx,
		cancel:        cancel,
		audit:         audit,
	}
}

// Register begins idle tracking for a connection.
func (s *TimeoutSweeper) Register(connID, userName, queueName string, labels map[string]string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	s.conns[connID] = &ConnState{
		ConnID:     connID,
		UserName:   userName,
		QueueName:  queueName,
		LastActive: now,
		CreatedAt:  now,
		Labels:     labels,
	}
}

// Unregister stops idle tracking for a connection.
func (s *TimeoutSweeper) Unregister(connID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.conns, connID)
}

// Heartbeat marks a connection as having submitted a statement, resetting
// its idle clock.
func (s *TimeoutSweeper) Heartbeat(connID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state, exists := s.conns[connID]
	if !exists {
		return fmt.Errorf("connection not registered: %s", connID)
	}

	state.LastActive = time.Now()
	return nil
}

// GetState returns a copy of a connection's tracked state.
func (s *TimeoutSweeper) GetState(connID string) (*ConnState, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	state, exists := s.conns[connID]
	if !exists {
		return nil, fmt.Errorf("connection not registered: %s", connID)
	}

	copy := *state
	return &copy, nil
}

// GetIdleTime returns how long a connection has been idle.
func (s *TimeoutSweeper) GetIdleTime(connID string) (time.Duration, error) {
	state, err := s.GetState(connID)
	if err != nil {
		return 0, err
	}
	return time.Since(state.LastActive), nil
}

// Start begins the background sweep loop.
func (s *TimeoutSweeper) Start() {
	go s.sweepLoop()
}

// Stop gracefully shuts down the sweeper.
func (s *TimeoutSweeper) Stop() {
	s.cancel()
}

func (s *TimeoutSweeper) sweepLoop() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepIdleConns()
		}
	}
}

// Sweep runs one idle-eviction pass immediately, for callers (the
// cooperative control loop) that drive phases explicitly rather than
// relying on Start's background ticker.
func (s *TimeoutSweeper) Sweep() {
	s.sweepIdleConns()
}

func (s *TimeoutSweeper) sweepIdleConns() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()

	for connID, state := range s.conns {
		idleTime := now.Sub(state.LastActive)
		if idleTime <= s.idleTimeout {
			continue
		}

		if err := s.evictor.EvictConnection(connID); err != nil {
			continue
		}

		delete(s.conns, connID)
		if s.audit != nil {
			s.audit.LogNoActionTimeout(context.Background(), connID, int(idleTime.Seconds()))
		}
	}
}

// ForceEvict immediately evicts a connection regardless of idle time.
func (s *TimeoutSweeper) ForceEvict(connID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.conns[connID]; !exists {
		return fmt.Errorf("connection not registered: %s", connID)
	}

	if err := s.evictor.EvictConnection(connID); err != nil {
		return fmt.Errorf("failed to evict connection: %w", err)
	}

	delete(s.conns, connID)
	return nil
}

// GetConnCount returns the number of tracked connections.
func (s *TimeoutSweeper) GetConnCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.conns)
}

// GetActiveConns returns the IDs of all tracked connections.
func (s *TimeoutSweeper) GetActiveConns() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	conns := make([]string, 0, len(s.conns))
	for connID := range s.conns {
		conns = append(conns, connID)
	}
	return conns
}

// GetIdleConns returns connections idle longer than threshold.
func (s *TimeoutSweeper) GetIdleConns(threshold time.Duration) []*ConnState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := time.Now()
	idle := make([]*ConnState, 0)

	for _, state := range s.conns {
		if now.Sub(state.LastActive) > threshold {
			copy := *state
			idle = append(idle, &copy)
		}
	}
	return idle
}

// ExtendIdleTime extends a connection's last-active timestamp; used by
// tests that simulate elapsed idle time without sleeping.
func (s *TimeoutSweeper) ExtendIdleTime(connID string, additionalTime time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state, exists := s.conns[connID]
	if !exists {
		return fmt.Errorf("connection not registered: %s", connID)
	}

	state.LastActive = state.LastActive.Add(additionalTime)
	return nil
}

// SetIdleTimeout updates the sweeper's idle timeout.
func (s *TimeoutSweeper) SetIdleTimeout(timeout time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.idleTimeout = timeout
}

// GetIdleTimeout returns the current idle timeout.
func (s *TimeoutSweeper) GetIdleTimeout() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.idleTimeout
}

// GetStats returns summary statistics about tracked connections.
func (s *TimeoutSweeper) GetStats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := time.Now()
	activeCount := 0
	idleCount := 0
	totalAge := time.Duration(0)

	for _, state := range s.conns {
		idleTime := now.Sub(state.LastActive)
		totalAge += now.Sub(state.CreatedAt)

		if idleTime > s.idleTimeout {
			idleCount++
		} else {
			activeCount++
		}
	}

	avgAge := time.Duration(0)
	if len(s.conns) > 0 {
		avgAge = totalAge / time.Duration(len(s.conns))
	}

	return map[string]interface{}{
		"total_conns":  len(s.conns),
		"active_conns": activeCount,
		"idle_conns":   idleCount,
		"idle_timeout": s.idleTimeout.String(),
		"average_age":  avgAge.String(),
	}
}
