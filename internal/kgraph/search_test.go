package kgraph

import (
	"context"
	"testing"
)

func defaultLimits() SearchLimits {
	return SearchLimits{Min: 1, Max: 1000, Default: 50}
}

func namesOf(entities []*Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Name
	}
	return out
}

func containsName(entities []*Entity, name string) bool {
	for _, e := range entities {
		if e.Name == name {
			return true
		}
	}
	return false
}

// scenario 1 from spec §8: basic and boolean search over a small
// person graph with a manages relation.
func buildScenario1() (*Graph, *Index) {
	a := newTestEntity("A", "person", []string{"loves pasta"}, nil)
	b := newTestEntity("B", "person", []string{"manages A"}, nil)
	g := &Graph{
		Entities:  []*Entity{a, b},
		Relations: []*Relation{{From: "B", To: "A", RelationType: "manages"}},
	}
	idx := buildTestIndex(g)
	return g, idx
}

func TestBasicSearchScenario1(t *testing.T) {
	g, idx := buildScenario1()
	page := Paginate(0, 0, defaultLimits())
	res := BasicSearch(g, idx, "pasta", nil, page)
	if len(res.Entities) != 1 || res.Entities[0].Name != "A" {
		t.Fatalf("expected basic('pasta') -> [A], got %v", namesOf(res.Entities))
	}
}

func TestBooleanSearchScenario1(t *testing.T) {
	g, idx := buildScenario1()
	page := Paginate(0, 0, defaultLimits())

	res, err := BooleanSearch(g, idx, "pasta AND person", nil, page)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 1 || res.Entities[0].Name != "A" {
		t.Fatalf("expected boolean('pasta AND person') -> [A], got %v", namesOf(res.Entities))
	}

	res2, err := BooleanSearch(g, idx, "person NOT pasta", nil, page)
	if err != nil {
		t.Fatal(err)
	}
	if len(res2.Entities) != 1 || res2.Entities[0].Name != "B" {
		t.Fatalf("expected boolean('person NOT pasta') -> [B], got %v", namesOf(res2.Entities))
	}
}

func TestBooleanSearchPrecedenceAndParens(t *testing.T) {
	g, idx := buildScenario1()
	page := Paginate(0, 0, defaultLimits())
	// NOT binds tighter than AND: "NOT pasta AND person" == "(NOT pasta) AND person" -> B
	res, err := BooleanSearch(g, idx, "NOT pasta AND person", nil, page)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 1 || res.Entities[0].Name != "B" {
		t.Fatalf("expected [B], got %v", namesOf(res.Entities))
	}
}

func TestBooleanSearchPhrase(t *testing.T) {
	g, idx := buildScenario1()
	page := Paginate(0, 0, defaultLimits())
	res, err := BooleanSearch(g, idx, `"manages A"`, nil, page)
	if err != nil {
		t.Fatal(err)
	}
	if !containsName(res.Entities, "B") {
		t.Fatalf("expected phrase match to find B, got %v", namesOf(res.Entities))
	}
}

// scenario 2 from spec §8: TF-IDF ranking order D1 > D2 > D3.
func TestRankedSearchScenario2(t *testing.T) {
	d1 := newTestEntity("D1", "doc", []string{"red red red blue"}, nil)
	d2 := newTestEntity("D2", "doc", []string{"red blue blue"}, nil)
	d3 := newTestEntity("D3", "doc", []string{"green"}, nil)
	g := buildTestGraph(d1, d2, d3)
	idx := buildTestIndex(g)

	res := RankedSearch(g, idx, "red", nil, 10, defaultLimits())
	got := namesOf(res.Entities)
	if len(got) != 2 || got[0] != "D1" || got[1] != "D2" {
		t.Fatalf("expected ranked order [D1 D2] (D3 has zero tf for 'red'), got %v", got)
	}
}

// scenario 3 from spec §8: fuzzy "Alise" should match "Alice" with
// score around 0.8 at threshold 0.7.
func TestFuzzySearchScenario3(t *testing.T) {
	alice := newTestEntity("Alice", "person", nil, nil)
	g := buildTestGraph(alice)
	idx := buildTestIndex(g)

	res := FuzzySearch(context.Background(), g, idx, "Alise", 0.7, 200, nil, Paginate(0, 0, defaultLimits()))
	if len(res.Entities) != 1 || res.Entities[0].Name != "Alice" {
		t.Fatalf("expected fuzzy('Alise') -> [Alice], got %v", namesOf(res.Entities))
	}
}

func TestFuzzySearchThresholdOneExactOnly(t *testing.T) {
	alice := newTestEntity("Alice", "person", nil, nil)
	bob := newTestEntity("Alicia", "person", nil, nil)
	g := buildTestGraph(alice, bob)
	idx := buildTestIndex(g)

	res := FuzzySearch(context.Background(), g, idx, "Alice", 1.0, 200, nil, Paginate(0, 0, defaultLimits()))
	if len(res.Entities) != 1 || res.Entities[0].Name != "Alice" {
		t.Fatalf("expected threshold 1.0 to return only the exact match, got %v", namesOf(res.Entities))
	}
}

func TestProximitySearchDistanceZeroReturnsNothing(t *testing.T) {
	e := newTestEntity("A", "t", []string{"red fox jumps"}, nil)
	g := buildTestGraph(e)

	res, _ := ProximitySearch(g, []string{"red", "fox"}, 0, nil, Paginate(0, 0, defaultLimits()))
	if len(res.Entities) != 0 {
		t.Fatalf("expected proximity distance 0 to match nothing (adjacent terms are distance 1), got %v", namesOf(res.Entities))
	}
}

func TestProximitySearchAdjacentTermsDistanceOne(t *testing.T) {
	e := newTestEntity("A", "t", []string{"red fox jumps"}, nil)
	g := buildTestGraph(e)

	res, matches := ProximitySearch(g, []string{"red", "fox"}, 1, nil, Paginate(0, 0, defaultLimits()))
	if len(res.Entities) != 1 {
		t.Fatalf("expected adjacent terms to match at distance <= 1, got %v", namesOf(res.Entities))
	}
	if matches[0].Distance != 1 {
		t.Errorf("expected matched distance 1, got %d", matches[0].Distance)
	}
	if score := proximityScore(matches[0].Distance); score != 0.5 {
		t.Errorf("expected adjacent-term score 0.5, got %v", score)
	}
}

func TestBasicSearchOrderingNameBeforeTypeBeforeObservation(t *testing.T) {
	// "zeta" appears as a name, as a type, and as an observation word
	// on three different entities; name-matches must sort first.
	byName := newTestEntity("zeta", "widget", nil, nil)
	byType := newTestEntity("Bravo", "zeta-type", nil, nil)
	byObs := newTestEntity("Charlie", "widget", []string{"contains zeta here"}, nil)
	g := buildTestGraph(byObs, byType, byName)
	idx := buildTestIndex(g)

	res := BasicSearch(g, idx, "zeta", nil, Paginate(0, 0, defaultLimits()))
	got := namesOf(res.Entities)
	if len(got) != 3 || got[0] != "zeta" || got[1] != "Bravo" || got[2] != "Charlie" {
		t.Fatalf("expected order [zeta Bravo Charlie], got %v", got)
	}
}

func TestSearchResultsRespectFilter(t *testing.T) {
	a := newTestEntity("A", "person", []string{"red apple"}, []string{"fruit"})
	b := newTestEntity("B", "fruit", []string{"red apple"}, nil)
	g := buildTestGraph(a, b)
	idx := buildTestIndex(g)

	f := &Filter{EntityType: "person"}
	res := BasicSearch(g, idx, "red", f, Paginate(0, 0, defaultLimits()))
	if len(res.Entities) != 1 || res.Entities[0].Name != "A" {
		t.Fatalf("expected filter to restrict results to entityType=person, got %v", namesOf(res.Entities))
	}
}

func TestHybridSearchFusesAndSortsDescending(t *testing.T) {
	a := newTestEntity("A", "person", []string{"red red red blue"}, nil)
	b := newTestEntity("B", "person", []string{"blue"}, nil)
	g := buildTestGraph(a, b)
	idx := buildTestIndex(g)

	scored, err := HybridSearch(context.Background(), g, idx, nil, nil, "red", HybridOptions{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(scored) == 0 {
		t.Fatal("expected at least one fused result")
	}
	for i := 1; i < len(scored); i++ {
		if scored[i-1].Score < scored[i].Score {
			t.Fatalf("expected descending score order, got %v", scored)
		}
	}
}
