package kgraph

import (
	"context"
	"testing"
	"time"
)

// fakeEmbedder records every batch it was asked to embed, returning a
// constant-length vector per text, without ever failing.
type fakeEmbedder struct {
	batches [][]string
}

func (f *fakeEmbedder) IsReady(context.Context) bool { return true }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Metadata() EmbeddingMetadata {
	return EmbeddingMetadata{Provider: "fake", Model: "fake", Dimensions: 2}
}

// scenario 6 from spec §8: enqueue create(E1,"t1"), update(E1,"t2"),
// delete(E2) -> after flush, E1 is embedded from "t2" alone (the
// later op superseding the earlier for the same entity), E2 is
// absent, processed=2.
func TestIndexerCoalescesAndFlushesScenario6(t *testing.T) {
	store := NewInMemoryVectorStore()
	store.Add(context.Background(), "E2", []float32{1, 1})
	embedder := &fakeEmbedder{}
	ix := NewIndexer(store, embedder, 1000, time.Hour, 1000, nil)
	defer ix.Shutdown(context.Background())

	if err := ix.Enqueue(IndexOp{Type: IndexOpCreate, EntityName: "E1", Text: "t1"}); err != nil {
		t.Fatal(err)
	}
	if err := ix.Enqueue(IndexOp{Type: IndexOpUpdate, EntityName: "E1", Text: "t2"}); err != nil {
		t.Fatal(err)
	}
	if err := ix.Enqueue(IndexOp{Type: IndexOpDelete, EntityName: "E2"}); err != nil {
		t.Fatal(err)
	}

	result, err := ix.Flush(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 2 {
		t.Errorf("expected processed=2 (one embed op for E1, one delete for E2), got %d", result.Processed)
	}
	if result.Succeeded != 2 || result.Failed != 0 {
		t.Errorf("expected 2 successes 0 failures, got succeeded=%d failed=%d", result.Succeeded, result.Failed)
	}

	has, _ := store.Has(context.Background(), "E2")
	if has {
		t.Error("expected E2 removed from the vector store")
	}

	if len(embedder.batches) != 1 || len(embedder.batches[0]) != 1 || embedder.batches[0][0] != "t2" {
		t.Fatalf("expected a single batch embed call with text [t2], got %v", embedder.batches)
	}
}

func TestIndexerCreateAfterUpdateKeepsUpdateText(t *testing.T) {
	store := NewInMemoryVectorStore()
	embedder := &fakeEmbedder{}
	ix := NewIndexer(store, embedder, 1000, time.Hour, 1000, nil)
	defer ix.Shutdown(context.Background())

	ix.Enqueue(IndexOp{Type: IndexOpUpdate, EntityName: "E1", Text: "updated-text"})
	ix.Enqueue(IndexOp{Type: IndexOpCreate, EntityName: "E1", Text: "create-text"})

	if _, err := ix.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(embedder.batches) != 1 || embedder.batches[0][0] != "updated-text" {
		t.Fatalf("expected create-after-update to keep update's text, got %v", embedder.batches)
	}
}

func TestIndexerFlushReentrancyReturnsEmptyWhileInProgress(t *testing.T) {
	store := NewInMemoryVectorStore()
	embedder := &fakeEmbedder{}
	ix := NewIndexer(store, embedder, 1000, time.Hour, 1000, nil)
	defer ix.Shutdown(context.Background())

	ix.mu.Lock()
	ix.flushing = true
	ix.mu.Unlock()

	result, err := ix.Flush(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 0 {
		t.Errorf("expected an empty result when a flush is already in progress, got %+v", result)
	}

	ix.mu.Lock()
	ix.flushing = false
	ix.mu.Unlock()
}

func TestIndexerShutdownDrainsAndRejectsFurtherEnqueues(t *testing.T) {
	store := NewInMemoryVectorStore()
	embedder := &fakeEmbedder{}
	ix := NewIndexer(store, embedder, 1000, time.Hour, 1000, nil)

	ix.Enqueue(IndexOp{Type: IndexOpCreate, EntityName: "E1", Text: "final"})
	if _, err := ix.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	has, _ := store.Has(context.Background(), "E1")
	if !has {
		t.Error("expected shutdown to drain the pending op in a final flush")
	}

	if err := ix.Enqueue(IndexOp{Type: IndexOpCreate, EntityName: "E2", Text: "too-late"}); err == nil {
		t.Error("expected enqueue after shutdown to be rejected")
	}
}
