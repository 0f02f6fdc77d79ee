package pool

import "sync"

// Segment is a registered host carrying resource: heartbeat-reported FTS
// capacity, provider-reported GRM capacity, and the container sets it
// currently holds, one per active memory/core ratio.
type Segment struct {
	ID               int
	Hostname         string
	Port             int
	IPs              []string
	ProviderHostname string
	Rack             string

	FTSTotalMemoryMB int
	FTSTotalCore     int
	GRMTotalMemoryMB int
	GRMTotalCore     int

	FTSAvailable   bool
	GRMAvailable   bool
	RUAlivePending bool

	GRMContainerCount int
	SliceWorkload     int

	// OldInuse accumulates Allocated-minus-Available on a lost-heartbeat
	// segment (spec §4.6). Running queries still return through the
	// normal path; an isOld return subtracts from OldInuse instead of
	// restoring Available, per spec §9 open question 2.
	OldInuse int

	ContainerSets map[int]*ContainerSet // keyed by ratio

	mu sync.RWMutex
}

// Usable reports whether the segment may receive new allocations.
func (s *Segment) Usable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.FTSAvailable && !s.RUAlivePending
}

// ContainerSetFor returns the segment's container set for a ratio,
// creating an empty one if this is the segment's first container at
// that ratio.
func (s *Segment) ContainerSetFor(ratio int) *ContainerSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ContainerSets == nil {
		s.ContainerSets = make(map[int]*ContainerSet)
	}
	cs, ok := s.ContainerSets[ratio]
	if !ok {
		cs = &ContainerSet{Ratio: ratio, Containers: make(map[string]*Container)}
		s.ContainerSets[ratio] = cs
	}
	return cs
}

// TotalAllocatedMB sums Allocated across all of the segment's container
// sets, used for the Sigma segments.Allocated invariant.
func (s *Segment) TotalAllocatedMB() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, cs := range s.ContainerSets {
		total += cs.Allocated
	}
	return total
}
