package kgraph

import (
	"context"
	"testing"
)

// scenario 5 from spec §8: A.parent=B, B.parent=C, then C.parent=A
// must be rejected as a cycle, leaving A, B, C unchanged.
func TestSetEntityParentRejectsCycle(t *testing.T) {
	ctx := context.Background()
	store, idx := newTestStore(t)
	store.AppendEntity(ctx, newTestEntity("A", "t", nil, nil))
	store.AppendEntity(ctx, newTestEntity("B", "t", nil, nil))
	store.AppendEntity(ctx, newTestEntity("C", "t", nil, nil))

	if err := SetEntityParent(ctx, store, idx, "A", "B"); err != nil {
		t.Fatal(err)
	}
	if err := SetEntityParent(ctx, store, idx, "B", "C"); err != nil {
		t.Fatal(err)
	}

	err := SetEntityParent(ctx, store, idx, "C", "A")
	if err == nil {
		t.Fatal("expected cycle detection to reject C.parent=A")
	}
	if kind, ok := KindOf(err); !ok || kind != KindCycleDetected {
		t.Errorf("expected KindCycleDetected, got %v", kind)
	}

	c, ok := idx.GetByName("C")
	if !ok || c.ParentID != "" {
		t.Error("expected C's parent unchanged after rejected cycle")
	}
}

func TestSetEntityParentRejectsSelfParent(t *testing.T) {
	ctx := context.Background()
	store, idx := newTestStore(t)
	store.AppendEntity(ctx, newTestEntity("A", "t", nil, nil))

	err := SetEntityParent(ctx, store, idx, "A", "A")
	if kind, ok := KindOf(err); !ok || kind != KindCycleDetected {
		t.Errorf("expected self-parenting to be a cycle error, got %v", err)
	}
}

func TestHierarchyAncestorsChildrenAndDepth(t *testing.T) {
	ctx := context.Background()
	store, idx := newTestStore(t)
	store.AppendEntity(ctx, newTestEntity("Root", "t", nil, nil))
	store.AppendEntity(ctx, newTestEntity("Mid", "t", nil, nil))
	store.AppendEntity(ctx, newTestEntity("Leaf", "t", nil, nil))
	if err := SetEntityParent(ctx, store, idx, "Mid", "Root"); err != nil {
		t.Fatal(err)
	}
	if err := SetEntityParent(ctx, store, idx, "Leaf", "Mid"); err != nil {
		t.Fatal(err)
	}

	ancestors := GetAncestors(idx, "Leaf")
	if len(ancestors) != 2 || ancestors[0].Name != "Mid" || ancestors[1].Name != "Root" {
		t.Fatalf("expected ancestors [Mid Root] (root last), got %v", namesOf(ancestors))
	}

	if depth := GetEntityDepth(idx, "Leaf"); depth != 2 {
		t.Errorf("expected depth 2 for Leaf, got %d", depth)
	}
	if depth := GetEntityDepth(idx, "Root"); depth != 0 {
		t.Errorf("expected depth 0 for Root, got %d", depth)
	}

	g, err := store.LoadGraph(ctx)
	if err != nil {
		t.Fatal(err)
	}
	children := GetChildren(g, "Root")
	if len(children) != 1 || children[0].Name != "Mid" {
		t.Fatalf("expected Root's only child to be Mid, got %v", namesOf(children))
	}

	descendants := GetDescendants(g, "Root")
	if len(descendants) != 2 {
		t.Fatalf("expected 2 descendants of Root, got %d", len(descendants))
	}
}

func TestGetRootEntitiesIncludesOrphans(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	orphan := newTestEntity("Orphan", "t", nil, nil)
	orphan.ParentID = "Missing"
	store.AppendEntity(ctx, orphan)
	store.AppendEntity(ctx, newTestEntity("TrueRoot", "t", nil, nil))

	g, err := store.LoadGraph(ctx)
	if err != nil {
		t.Fatal(err)
	}
	roots := GetRootEntities(g)
	if len(roots) != 2 {
		t.Fatalf("expected both the true root and the orphan to count as roots, got %v", namesOf(roots))
	}
}

func TestGetParentReturnsNilForOrphan(t *testing.T) {
	ctx := context.Background()
	store, idx := newTestStore(t)
	orphan := newTestEntity("Orphan", "t", nil, nil)
	orphan.ParentID = "DoesNotExist"
	store.AppendEntity(ctx, orphan)

	if p := GetParent(idx, "Orphan"); p != nil {
		t.Errorf("expected nil parent for an orphaned parentId, got %v", p.Name)
	}
}

func TestGetSubtreeIncludesInnerRelations(t *testing.T) {
	ctx := context.Background()
	store, idx := newTestStore(t)
	store.AppendEntity(ctx, newTestEntity("Root", "t", nil, nil))
	store.AppendEntity(ctx, newTestEntity("Child", "t", nil, nil))
	if err := SetEntityParent(ctx, store, idx, "Child", "Root"); err != nil {
		t.Fatal(err)
	}
	store.AppendRelation(ctx, &Relation{From: "Root", To: "Child", RelationType: "owns"})

	g, err := store.LoadGraph(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := GetSubtree(g, "Root")
	if err != nil {
		t.Fatal(err)
	}
	if len(sub.Descendants) != 1 || sub.Descendants[0].Name != "Child" {
		t.Fatalf("expected subtree descendants [Child], got %v", namesOf(sub.Descendants))
	}
	if len(sub.Relations) != 1 {
		t.Fatalf("expected one inner relation in the subtree, got %d", len(sub.Relations))
	}
}
