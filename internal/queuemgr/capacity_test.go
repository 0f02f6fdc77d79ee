package queuemgr

import (
	"context"
	"testing"
)

type fixedSizer struct {
	memMB int
	core  int
	quota int
}

func (f fixedSizer) TotalMemoryMB() int { return f.memMB }
func (f fixedSizer) TotalCore() int     { return f.core }
func (f fixedSizer) SegResourceQuotaMemoryMB() int {
	if f.quota > 0 {
		return f.quota
	}
	return 1024
}

func TestRefreshPercentageCapacityPropagatesDownTheTree(t *testing.T) {
	tree := NewTree(nil)
	root, _ := tree.Queue("pg_root")

	branch, err := tree.CreateQueue(context.Background(), Queue{
		Name: "analytics", ParentOID: root.OID,
		ClusterMemoryPercent: 50, ClusterVCorePercent: 50,
	}, nil)
	if err != nil {
		t.Fatalf("create branch failed: %v", err)
	}
	leaf, err := tree.CreateQueue(context.Background(), Queue{
		Name: "etl", ParentOID: branch.OID, IsLeaf: true,
		ClusterMemoryPercent: 40, ClusterVCorePercent: 40,
	}, nil)
	if err != nil {
		t.Fatalf("create leaf failed: %v", err)
	}

	tree.RefreshPercentageCapacity(fixedSizer{memMB: 100000, core: 100})

	branchTr, _ := tree.Tracker(branch.OID)
	if branchTr.ClusterMemoryMB != 50000 {
		t.Errorf("expected branch capacity 50000, got %d", branchTr.ClusterMemoryMB)
	}

	leafTr, _ := tree.Tracker(leaf.OID)
	if leafTr.ClusterMemoryMB != 20000 {
		t.Errorf("expected leaf capacity 20000 (40%% of 50000), got %d", leafTr.ClusterMemoryMB)
	}
	if leafTr.ClusterVCore != 20 {
		t.Errorf("expected leaf core capacity 20, got %d", leafTr.ClusterVCore)
	}
}

func TestRefreshPercentageCapacityComputesMaxAndSegNumber(t *testing.T) {
	tree := NewTree(nil)
	root, _ := tree.Queue("pg_root")

	branch, err := tree.CreateQueue(context.Background(), Queue{
		Name: "analytics", ParentOID: root.OID,
		ClusterMemoryPercent: 50, ClusterVCorePercent: 50, ResourceUpperFactor: 1.5,
	}, nil)
	if err != nil {
		t.Fatalf("create branch failed: %v", err)
	}

	tree.RefreshPercentageCapacity(fixedSizer{memMB: 100000, core: 100, quota: 1000})

	branchTr, _ := tree.Tracker(branch.OID)
	if branchTr.ClusterMemoryMaxMB != 75000 {
		t.Errorf("expected branch max capacity 75000 (50000*1.5), got %d", branchTr.ClusterMemoryMaxMB)
	}
	if branchTr.ClusterSegNumber != 50 {
		t.Errorf("expected branch ClusterSegNumber 50 (50000/1000), got %d", branchTr.ClusterSegNumber)
	}
	if branchTr.ClusterSegNumberMax != 75 {
		t.Errorf("expected branch ClusterSegNumberMax 75 (75000/1000), got %d", branchTr.ClusterSegNumberMax)
	}
}

func TestRefreshPercentageCapacityClampsMaxToParentCapacity(t *testing.T) {
	tree := NewTree(nil)
	root, _ := tree.Queue("pg_root")

	branch, err := tree.CreateQueue(context.Background(), Queue{
		Name: "analytics", ParentOID: root.OID,
		ClusterMemoryPercent: 50, ClusterVCorePercent: 50, ResourceUpperFactor: 10,
	}, nil)
	if err != nil {
		t.Fatalf("create branch failed: %v", err)
	}

	tree.RefreshPercentageCapacity(fixedSizer{memMB: 100000, core: 100})

	branchTr, _ := tree.Tracker(branch.OID)
	if branchTr.ClusterMemoryMaxMB != 100000 {
		t.Errorf("expected branch max capacity clamped to parent's 100000, got %d", branchTr.ClusterMemoryMaxMB)
	}
}
