package kgraph

import "testing"

func TestIndexTokenInvariant(t *testing.T) {
	e := newTestEntity("A", "person", []string{"loves pasta"}, nil)
	g := buildTestGraph(e)
	idx := buildTestIndex(g)

	if !idx.ContainsToken("A", "loves") {
		t.Error("expected token 'loves' to be indexed for A")
	}
	if !idx.ContainsToken("A", "pasta") {
		t.Error("expected token 'pasta' to be indexed for A")
	}
	if idx.ContainsToken("A", "xyz") {
		t.Error("token not present in any observation should not be indexed")
	}
}

func TestIndexDropsShortTokens(t *testing.T) {
	e := newTestEntity("A", "person", []string{"a b cd efg"}, nil)
	g := buildTestGraph(e)
	idx := buildTestIndex(g)

	if idx.ContainsToken("A", "a") || idx.ContainsToken("A", "b") {
		t.Error("tokens shorter than 2 characters must be dropped")
	}
	if !idx.ContainsToken("A", "cd") {
		t.Error("2-character token should be retained")
	}
}

func TestIndexRemoveEntityCleansUpPostings(t *testing.T) {
	e := newTestEntity("A", "person", []string{"uniqueobservationword"}, nil)
	idx := NewIndex()
	idx.AddEntity(e)
	if !idx.ContainsToken("A", "uniqueobservationword") {
		t.Fatal("expected token indexed before removal")
	}
	idx.RemoveEntity("A")
	if idx.ContainsToken("A", "uniqueobservationword") {
		t.Error("token should be removed after entity removal")
	}
	if _, ok := idx.GetByName("A"); ok {
		t.Error("entity should no longer resolve by name after removal")
	}
}

func TestIndexTypeBucketCleanupOnLastRemoval(t *testing.T) {
	e := newTestEntity("A", "widget", nil, nil)
	idx := NewIndex()
	idx.AddEntity(e)
	if len(idx.GetByType("widget")) != 1 {
		t.Fatal("expected one entity of type widget")
	}
	idx.RemoveEntity("A")
	if len(idx.GetByType("widget")) != 0 {
		t.Error("expected empty-bucket cleanup after removing the last entity of a type")
	}
}

func TestIndexDocFreqTracksRemovalsAndAdds(t *testing.T) {
	idx := NewIndex()
	idx.AddEntity(newTestEntity("A", "t", []string{"shared term"}, nil))
	idx.AddEntity(newTestEntity("B", "t", []string{"shared term"}, nil))
	df, total := idx.DocFreq("shared")
	if df != 2 || total != 2 {
		t.Fatalf("expected df=2 total=2, got df=%d total=%d", df, total)
	}
	idx.RemoveEntity("A")
	df, total = idx.DocFreq("shared")
	if df != 1 || total != 1 {
		t.Fatalf("expected df=1 total=1 after removal, got df=%d total=%d", df, total)
	}
}

func TestIndexRelationsForDeduplicatesSelfLoop(t *testing.T) {
	idx := NewIndex()
	idx.AddEntity(newTestEntity("A", "t", nil, nil))
	r := &Relation{From: "A", To: "A", RelationType: "self"}
	idx.AddRelation(r)
	rels := idx.RelationsFor("A")
	if len(rels) != 1 {
		t.Errorf("expected a self-loop relation to appear once, got %d", len(rels))
	}
}

func TestIndexRebuildReplacesState(t *testing.T) {
	idx := NewIndex()
	idx.AddEntity(newTestEntity("Stale", "t", nil, nil))
	g := buildTestGraph(newTestEntity("Fresh", "t", nil, nil))
	idx.Rebuild(g)
	if _, ok := idx.GetByName("Stale"); ok {
		t.Error("rebuild should discard prior index state")
	}
	if _, ok := idx.GetByName("Fresh"); !ok {
		t.Error("rebuild should index the new graph's entities")
	}
}
