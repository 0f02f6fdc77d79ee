package pool

import (
	"context"
	"testing"
)

func testSpec(hostname string, memMB, cores int) SegmentSpec {
	return SegmentSpec{
		Hostname:         hostname,
		Port:             5432,
		IPs:              []string{"10.0.0.1"},
		FTSTotalMemoryMB: memMB,
		FTSTotalCore:     cores,
		GRMTotalMemoryMB: memMB,
		GRMTotalCore:     cores,
		Ratio:            memMB / cores,
	}
}

func grantContainer(t *testing.T, p *Pool, segID int, id string, memMB, core int) {
	t.Helper()
	p.EnqueueToAccept(&Container{ID: id, MemoryMB: memMB, Core: core, SegmentID: segID})
	p.PromoteAccepted()
	p.AdmitAccepted()
}

func TestRegisterSegmentNewAndIdempotent(t *testing.T) {
	p := New(nil)
	ctx := context.Background()

	seg1, created, err := p.RegisterSegment(ctx, testSpec("h1", 16384, 16), nil)
	if err != nil {
		t.Fatalf("RegisterSegment failed: %v", err)
	}
	if !created {
		t.Error("expected first registration to create a new segment")
	}

	seg2, created2, err := p.RegisterSegment(ctx, testSpec("h1", 16384, 16), nil)
	if err != nil {
		t.Fatalf("RegisterSegment (repeat) failed: %v", err)
	}
	if created2 {
		t.Error("expected second registration of same host to be idempotent")
	}
	if seg1.ID != seg2.ID {
		t.Errorf("expected stable segment id across re-registration, got %d then %d", seg1.ID, seg2.ID)
	}
	if p.SegmentCount() != 1 {
		t.Errorf("expected 1 registered segment, got %d", p.SegmentCount())
	}
}

func TestRegisterSegmentSkipsLoopbackWithMultipleIPs(t *testing.T) {
	p := New(nil)
	ctx := context.Background()

	spec := testSpec("h1", 16384, 16)
	spec.IPs = []string{"127.0.0.1", "10.0.0.5"}
	seg, _, err := p.RegisterSegment(ctx, spec, nil)
	if err != nil {
		t.Fatalf("RegisterSegment failed: %v", err)
	}

	again := testSpec("h2-alias", 16384, 16)
	again.Hostname = "different-name"
	again.IPs = []string{"10.0.0.5"}
	seg2, created, err := p.RegisterSegment(ctx, again, nil)
	if err != nil {
		t.Fatalf("RegisterSegment (by IP) failed: %v", err)
	}
	if created {
		t.Error("expected lookup-by-IP to resolve to the existing segment")
	}
	if seg.ID != seg2.ID {
		t.Errorf("expected same segment resolved by shared non-loopback IP, got %d vs %d", seg.ID, seg2.ID)
	}
}

func TestAllocateSingleHost(t *testing.T) {
	p := New(nil)
	ctx := context.Background()

	seg, _, err := p.RegisterSegment(ctx, testSpec("h1", 16384, 16), nil)
	if err != nil {
		t.Fatalf("RegisterSegment failed: %v", err)
	}
	grantContainer(t, p, seg.ID, "c1", 16384, 16)

	result, err := p.Allocate(AllocateRequest{
		VsegCount:        4,
		MinVseg:          1,
		MemPerSegMB:      1024,
		CorePerSeg:       1,
		Slice:            1,
		VsegLimitPerSeg:  8,
		SliceLimitPerSeg: 100,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if result.TotalVseg != 4 {
		t.Errorf("expected 4 vsegs allocated, got %d", result.TotalVseg)
	}
	if len(result.Segments) != 1 || result.Segments[0].SegmentID != seg.ID {
		t.Fatalf("expected all vsegs on segment %d, got %+v", seg.ID, result.Segments)
	}

	cs := seg.ContainerSetFor(1024)
	_, available := cs.Snapshot()
	if available != 16384-4*1024 {
		t.Errorf("expected available %d, got %d", 16384-4*1024, available)
	}
}

func TestAllocateLocalityPreferredHost(t *testing.T) {
	p := New(nil)
	ctx := context.Background()

	var segs []*Segment
	for i := 0; i < 4; i++ {
		hostname := []string{"h1", "h2", "h3", "h4"}[i]
		spec := testSpec(hostname, 16384, 16)
		spec.IPs = []string{"10.0.0." + string(rune('1'+i))}
		seg, _, err := p.RegisterSegment(ctx, spec, nil)
		if err != nil {
			t.Fatalf("RegisterSegment(%s) failed: %v", hostname, err)
		}
		grantContainer(t, p, seg.ID, hostname+"-c1", 16384, 16)
		segs = append(segs, seg)
	}

	result, err := p.Allocate(AllocateRequest{
		VsegCount:        4,
		MinVseg:          1,
		MemPerSegMB:      1024,
		CorePerSeg:       1,
		Slice:            1,
		VsegLimitPerSeg:  8,
		SliceLimitPerSeg: 100,
		PreferredHosts:   []string{"h2"},
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if result.TotalVseg != 4 {
		t.Errorf("expected 4 vsegs, got %d", result.TotalVseg)
	}

	var h2Found bool
	var zeroIndexCount int
	for _, s := range result.Segments {
		if s.SegmentID == segs[1].ID {
			h2Found = true
		}
		if s.HDFSNameIndex == 0 {
			zeroIndexCount++
		}
	}
	if !h2Found {
		t.Error("expected preferred host h2 to receive at least one vseg")
	}
	if zeroIndexCount != 1 {
		t.Errorf("expected exactly one segment with hdfs index 0 (the locality match), got %d", zeroIndexCount)
	}
}

func TestAllocateFixNodeCountRollsBackOnShortfall(t *testing.T) {
	p := New(nil)
	ctx := context.Background()

	seg, _, _ := p.RegisterSegment(ctx, testSpec("h1", 2048, 2), nil)
	grantContainer(t, p, seg.ID, "c1", 2048, 2)

	_, err := p.Allocate(AllocateRequest{
		VsegCount:        4,
		MinVseg:          4,
		MemPerSegMB:      1024,
		CorePerSeg:       1,
		Slice:            1,
		VsegLimitPerSeg:  8,
		SliceLimitPerSeg: 100,
		FixNodeCount:     true,
	})
	if err == nil {
		t.Fatal("expected fixed allocation to fail when cluster cannot satisfy full count")
	}

	cs := seg.ContainerSetFor(1024)
	_, available := cs.Snapshot()
	if available != 2048 {
		t.Errorf("expected rollback to restore full availability, got %d", available)
	}
}

func TestBreatheReturnsIdleContainers(t *testing.T) {
	p := New(nil)
	ctx := context.Background()

	seg, _, _ := p.RegisterSegment(ctx, testSpec("h1", 12288, 12), nil)
	for i := 0; i < 12; i++ {
		grantContainer(t, p, seg.ID, string(rune('a'+i)), 1024, 1)
	}

	rt := p.AcquireRatioTracker(1024)
	rt.AddWaterMark(6144, 6, 0)

	returned := p.Breathe(1024, 0)
	if len(returned) == 0 {
		t.Fatal("expected breathing to return idle containers")
	}

	cs := seg.ContainerSetFor(1024)
	if cs.Count() < 2 {
		t.Errorf("expected segment to retain at least segMinNum containers, got %d", cs.Count())
	}
}

func TestPipelineOrdering(t *testing.T) {
	p := New(nil)
	ctx := context.Background()
	seg, _, _ := p.RegisterSegment(ctx, testSpec("h1", 16384, 16), nil)

	c := &Container{ID: "c1", MemoryMB: 1024, Core: 1, SegmentID: seg.ID}
	p.EnqueueToAccept(c)

	toAccept, accepted, _, _ := p.PipelineCounts()
	if toAccept != 1 || accepted != 0 {
		t.Fatalf("expected 1 toAccept, 0 accepted, got %d %d", toAccept, accepted)
	}

	p.PromoteAccepted()
	toAccept, accepted, _, _ = p.PipelineCounts()
	if toAccept != 0 || accepted != 1 {
		t.Fatalf("expected 0 toAccept, 1 accepted, got %d %d", toAccept, accepted)
	}

	p.AdmitAccepted()
	cs := seg.ContainerSetFor(1024)
	if cs.Count() != 1 {
		t.Errorf("expected container admitted into pool, count=%d", cs.Count())
	}

	p.MarkToKick(c)
	p.PromoteKicked()
	p.DiscardKicked(c.ID)
	if cs.Count() != 0 {
		t.Errorf("expected container discarded after kick, count=%d", cs.Count())
	}
}
