package kgraph

import "testing"

func TestFilterImportanceBoundsInclusive(t *testing.T) {
	min, max := 0.0, 10.0
	f := &Filter{MinImportance: &min, MaxImportance: &max}

	zero := newTestEntity("A", "thing", nil, nil)
	z := 0.0
	zero.Importance = &z

	ten := newTestEntity("B", "thing", nil, nil)
	tn := 10.0
	ten.Importance = &tn

	tooHigh := newTestEntity("C", "thing", nil, nil)
	th := 10.0001
	tooHigh.Importance = &th

	if !f.Matches(zero) {
		t.Error("importance exactly 0 should pass [0,10]")
	}
	if !f.Matches(ten) {
		t.Error("importance exactly 10 should pass [0,10]")
	}
	if f.Matches(tooHigh) {
		t.Error("importance 10.0001 should be rejected by max bound 10")
	}
}

func TestFilterMissingImportanceOnlyPassesZeroBounds(t *testing.T) {
	e := newTestEntity("A", "thing", nil, nil)

	zero := 0.0
	f := &Filter{MinImportance: &zero, MaxImportance: &zero}
	if !f.Matches(e) {
		t.Error("entity without importance should pass a [0,0] filter")
	}

	min := 5.0
	f2 := &Filter{MinImportance: &min}
	if f2.Matches(e) {
		t.Error("entity without importance should fail a non-zero-inclusive bound")
	}
}

func TestFilterTagsCaseInsensitive(t *testing.T) {
	e := newTestEntity("A", "thing", nil, []string{"Urgent", "Work"})
	f := &Filter{Tags: []string{"urgent"}}
	if !f.Matches(e) {
		t.Error("tag matching should be case-insensitive")
	}
	if e.Tags[0] != "Urgent" {
		t.Error("original tag case must be preserved on the entity")
	}
}

func TestFilterEntityTypeExact(t *testing.T) {
	e := newTestEntity("A", "Person", nil, nil)
	f := &Filter{EntityType: "person"}
	if !f.Matches(e) {
		t.Error("entity type match should be case-insensitive per EqualFold")
	}
	f2 := &Filter{EntityType: "company"}
	if f2.Matches(e) {
		t.Error("mismatched entity type should fail")
	}
}

func TestFilterNoActiveFilterPassesEverything(t *testing.T) {
	e := newTestEntity("A", "thing", nil, nil)
	f := &Filter{}
	if !f.Matches(e) {
		t.Error("an empty filter should match any entity")
	}
}

func TestPaginateClampsLimitAboveMax(t *testing.T) {
	limits := SearchLimits{Min: 1, Max: 1000, Default: 50}
	p := Paginate(0, 5000, limits)
	if p.Limit != 1000 {
		t.Errorf("expected limit clamped to 1000, got %d", p.Limit)
	}
}

func TestPaginateNegativeOffsetClampedToZero(t *testing.T) {
	limits := SearchLimits{Min: 1, Max: 1000, Default: 50}
	p := Paginate(-5, 10, limits)
	if p.Offset != 0 {
		t.Errorf("expected offset clamped to 0, got %d", p.Offset)
	}
}

func TestPaginateZeroLimitUsesDefault(t *testing.T) {
	limits := SearchLimits{Min: 1, Max: 1000, Default: 50}
	p := Paginate(0, 0, limits)
	if p.Limit != 50 {
		t.Errorf("expected default limit 50, got %d", p.Limit)
	}
}

func TestPageHasMore(t *testing.T) {
	p := Page{Offset: 0, Limit: 10}
	if !p.HasMore(15) {
		t.Error("expected HasMore true when total exceeds offset+limit")
	}
	if p.HasMore(10) {
		t.Error("expected HasMore false when total equals offset+limit")
	}
}
