package kgraph

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StoragePath = filepath.Join(t.TempDir(), "graph.jsonl")
	svc, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func TestServiceCreateEntityRejectsInvalidImportance(t *testing.T) {
	svc := newTestService(t)
	bad := 10.5
	err := svc.CreateEntity(context.Background(), &Entity{Name: "A", Importance: &bad})
	if kind, ok := KindOf(err); !ok || kind != KindInvalidImportance {
		t.Fatalf("expected KindInvalidImportance, got %v", err)
	}
}

func TestServiceCreateEntityRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	if err := svc.CreateEntity(ctx, &Entity{Name: "A", EntityType: "t"}); err != nil {
		t.Fatal(err)
	}
	err := svc.CreateEntity(ctx, &Entity{Name: "A", EntityType: "t"})
	if kind, ok := KindOf(err); !ok || kind != KindDuplicateEntity {
		t.Fatalf("expected KindDuplicateEntity, got %v", err)
	}
}

func TestServiceEndToEndLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if err := svc.CreateEntity(ctx, &Entity{Name: "Alice", EntityType: "person", Observations: []string{"loves pasta"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.CreateEntity(ctx, &Entity{Name: "Bob", EntityType: "person", Observations: []string{"manages Alice"}}); err != nil {
		t.Fatal(err)
	}
	if err := svc.CreateRelation(ctx, "Bob", "Alice", "manages"); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Basic(ctx, "pasta", nil, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 1 || res.Entities[0].Name != "Alice" {
		t.Fatalf("expected basic search to find Alice, got %v", namesOf(res.Entities))
	}

	if err := svc.AddObservations(ctx, "Alice", []string{"enjoys hiking"}); err != nil {
		t.Fatal(err)
	}
	g, err := svc.Graph(ctx)
	if err != nil {
		t.Fatal(err)
	}
	alice := findEntity(g, "Alice")
	if len(alice.Observations) != 2 {
		t.Fatalf("expected 2 observations after AddObservations, got %v", alice.Observations)
	}

	if err := svc.DeleteEntity(ctx, "Alice"); err != nil {
		t.Fatal(err)
	}
	g, err = svc.Graph(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Entities) != 1 || len(g.Relations) != 0 {
		t.Fatalf("expected Alice and her relation gone, got entities=%v relations=%d", namesOf(g.Entities), len(g.Relations))
	}
}

func TestServiceCreateRelationRequiresExistingEndpoints(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	if err := svc.CreateEntity(ctx, &Entity{Name: "A", EntityType: "t"}); err != nil {
		t.Fatal(err)
	}
	err := svc.CreateRelation(ctx, "A", "Ghost", "knows")
	if kind, ok := KindOf(err); !ok || kind != KindEntityNotFound {
		t.Fatalf("expected KindEntityNotFound for missing endpoint, got %v", err)
	}
}

func TestServiceSetImportanceValidatesRange(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	if err := svc.CreateEntity(ctx, &Entity{Name: "A", EntityType: "t"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetImportance(ctx, "A", 11); err == nil {
		t.Fatal("expected importance above 10 to be rejected")
	}
	if err := svc.SetImportance(ctx, "A", 5); err != nil {
		t.Fatal(err)
	}
}
