package pool

import (
	"context"
	"log/slog"
	"math"
)

// ctx returns a background context for audit calls made outside of an
// RPC request's own context (heartbeat-driven state transitions).
func ctx() context.Context {
	return context.Background()
}

// SegmentSpec is the heartbeat/registration payload for one host, the
// input to RegisterSegment (addHAWQSegWithSegStat in spec §4.2).
type SegmentSpec struct {
	Hostname         string
	Port             int
	IPs              []string
	ProviderHostname string
	Rack             string
	FTSTotalMemoryMB int
	FTSTotalCore     int
	GRMTotalMemoryMB int
	GRMTotalCore     int
	Ratio            int // memory-per-core ratio this segment reports
}

// CatalogWriter persists segment_configuration rows; nil is accepted by
// RegisterSegment for tests that don't care about catalog side effects.
type CatalogWriter interface {
	UpsertSegment(ctx context.Context, segmentID int, hostname string, status string) error
}

// RegisterSegment implements addHAWQSegWithSegStat: identify an existing
// segment by hostname, else by IP (skipping 127.0.0.1 when the host
// publishes more than one address), else register a new one. Returns the
// segment and whether it was newly created.
func (p *Pool) RegisterSegment(ctx context.Context, spec SegmentSpec, catalog CatalogWriter) (*Segment, bool, error) {
	p.mu.Lock()

	segID, found := p.resolveHostLocked(spec.Hostname, spec.IPs)
	if found {
		seg := p.segments[segID]
		p.mu.Unlock()
		p.updateSegment(seg, spec)
		if catalog != nil {
			if err := catalog.UpsertSegment(ctx, seg.ID, seg.Hostname, "u"); err != nil && p.audit != nil {
				p.audit.Log().ErrorEvent(ctx, "segment catalog refresh failed", err, slog.String("hostname", seg.Hostname))
			}
		}
		return seg, false, nil
	}

	p.nextID++
	seg := &Segment{
		ID:                p.nextID,
		Hostname:          spec.Hostname,
		Port:              spec.Port,
		IPs:               spec.IPs,
		ProviderHostname:  spec.ProviderHostname,
		Rack:              spec.Rack,
		FTSTotalMemoryMB:  spec.FTSTotalMemoryMB,
		FTSTotalCore:      spec.FTSTotalCore,
		GRMTotalMemoryMB:  spec.GRMTotalMemoryMB,
		GRMTotalCore:      spec.GRMTotalCore,
		FTSAvailable:      true,
		ContainerSets:     make(map[int]*ContainerSet),
	}

	p.segments[seg.ID] = seg
	p.hostNameIdx[spec.Hostname] = seg.ID
	for _, ip := range dedupIPs(spec.Hostname, spec.IPs) {
		p.hostAddrIdx[ip] = seg.ID
	}
	if spec.ProviderHostname != "" {
		p.grmHostIdx[spec.ProviderHostname] = seg.ID
	}

	free, alloc := p.indicesForRatio(spec.Ratio)
	free.Insert(seg.ID, 0)
	alloc.Insert(seg.ID, 0)
	p.ioIndex.Insert(seg.ID, 0)

	p.voteRatioLocked(spec.Ratio)

	p.mu.Unlock()

	if catalog != nil {
		if err := catalog.UpsertSegment(ctx, seg.ID, seg.Hostname, "u"); err != nil {
			return seg, true, err
		}
	}

	return seg, true, nil
}

// dedupIPs returns the IPs to index, skipping 127.0.0.1 when the host
// publishes more than one address (the only correct way to distinguish
// genuinely local setups from colocated multi-address nodes, per spec
// §4.2).
func dedupIPs(hostname string, ips []string) []string {
	if len(ips) <= 1 {
		return ips
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if ip == "127.0.0.1" {
			continue
		}
		out = append(out, ip)
	}
	return out
}

func (p *Pool) resolveHostLocked(hostname string, ips []string) (int, bool) {
	if id, ok := p.hostNameIdx[hostname]; ok {
		return id, true
	}
	for _, ip := range dedupIPs(hostname, ips) {
		if id, ok := p.hostAddrIdx[ip]; ok {
			return id, true
		}
	}
	return 0, false
}

// resolveHost looks up a segment by the host string a client supplied as
// a preferred host (hostname or IP), used by the allocator's locality
// stage.
func (p *Pool) resolveHost(host string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if id, ok := p.hostNameIdx[host]; ok {
		return id, true
	}
	if id, ok := p.hostAddrIdx[host]; ok {
		return id, true
	}
	if id, ok := p.grmHostIdx[host]; ok {
		return id, true
	}
	return 0, false
}

func (p *Pool) updateSegment(seg *Segment, spec SegmentSpec) {
	seg.mu.Lock()
	wasDown := !seg.FTSAvailable
	seg.FTSTotalMemoryMB = spec.FTSTotalMemoryMB
	seg.FTSTotalCore = spec.FTSTotalCore
	seg.GRMTotalMemoryMB = spec.GRMTotalMemoryMB
	seg.GRMTotalCore = spec.GRMTotalCore
	seg.FTSAvailable = true
	seg.mu.Unlock()

	p.mu.Lock()
	p.voteRatioLocked(spec.Ratio)
	p.mu.Unlock()

	if wasDown && p.audit != nil {
		p.audit.LogSegmentUp(ctx(), seg.Hostname, spec.FTSTotalMemoryMB, spec.FTSTotalCore)
	}
}

// voteRatioLocked advances the Boyer-Moore majority vote over segment
// ratios; p.mu must already be held.
func (p *Pool) voteRatioLocked(ratio int) {
	if p.majorityVotes == 0 {
		p.majorityRatio = ratio
		p.majorityVotes = 1
		return
	}
	if ratio == p.majorityRatio {
		p.majorityVotes++
	} else {
		p.majorityVotes--
		if p.majorityVotes == 0 {
			p.majorityRatio = ratio
			p.majorityVotes = 1
		}
	}
}

// MarkSegmentDown flips a segment FTS-unavailable on a lost heartbeat,
// subtracting its allocated resource from cluster totals by moving the
// allocated-but-not-yet-returned memory into OldInuse rather than
// zeroing Available outright (spec §4.6, §9 open question 2).
func (p *Pool) MarkSegmentDown(segID int) {
	p.mu.RLock()
	seg, ok := p.segments[segID]
	p.mu.RUnlock()
	if !ok {
		return
	}

	seg.mu.Lock()
	seg.FTSAvailable = false
	oldInuse := 0
	for _, cs := range seg.ContainerSets {
		oldInuse += cs.Allocated - cs.Available
	}
	seg.OldInuse += oldInuse
	seg.mu.Unlock()

	if p.audit != nil {
		p.audit.LogSegmentDown(ctx(), seg.Hostname, "heartbeat_lost")
	}
}

func freeKey(cs *ContainerSet, usable bool) int64 {
	if !usable {
		return math.MinInt64
	}
	_, available := cs.Snapshot()
	return int64(available)
}

func allocKey(cs *ContainerSet, usable bool) int64 {
	if !usable {
		return math.MinInt64
	}
	allocated, _ := cs.Snapshot()
	return int64(allocated)
}

func ioKey(workload int64, usable bool) int64 {
	if !usable {
		return math.MinInt64
	}
	return workload
}

