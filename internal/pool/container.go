package pool

import "sync"

// Container is a unit of provider-granted resource on one segment.
type Container struct {
	ID         string
	MemoryMB   int
	Core       int
	SegmentID  int
	DecPending bool
}

// ContainerSet is the per-(segment, ratio) bag of containers. Invariant:
// Available <= Allocated, and Allocated == sum of container memory.
type ContainerSet struct {
	Ratio      int
	Containers map[string]*Container
	Allocated  int
	Available  int
	mu         sync.Mutex
}

// Add admits a container into the set, growing both Allocated and
// Available by its memory.
func (cs *ContainerSet) Add(c *Container) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.Containers == nil {
		cs.Containers = make(map[string]*Container)
	}
	cs.Containers[c.ID] = c
	cs.Allocated += c.MemoryMB
	cs.Available += c.MemoryMB
}

// Remove drops a container from the set, shrinking Allocated. If isOld is
// true (the container belonged to a now-lost-heartbeat segment) Available
// is left untouched per spec §9 open question 2 and the caller is
// expected to account the memory against Segment.OldInuse instead.
func (cs *ContainerSet) Remove(id string, isOld bool) (*Container, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.Containers[id]
	if !ok {
		return nil, false
	}
	delete(cs.Containers, id)
	cs.Allocated -= c.MemoryMB
	if !isOld {
		cs.Available -= c.MemoryMB
		if cs.Available < 0 {
			cs.Available = 0
		}
	}
	if cs.Allocated < 0 {
		cs.Allocated = 0
	}
	return c, true
}

// Reserve consumes memory from Available for a freshly dispatched
// vseg, without touching Allocated (the containers remain granted; the
// memory is simply in use).
func (cs *ContainerSet) Reserve(memMB int) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.Available < memMB {
		return false
	}
	cs.Available -= memMB
	return true
}

// Release returns mem previously reserved via Reserve back to Available.
func (cs *ContainerSet) Release(memMB int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.Available += memMB
	if cs.Available > cs.Allocated {
		cs.Available = cs.Allocated
	}
}

// Snapshot returns the current (Allocated, Available) pair.
func (cs *ContainerSet) Snapshot() (allocated, available int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.Allocated, cs.Available
}

// Count returns the number of containers currently in the set.
func (cs *ContainerSet) Count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.Containers)
}
