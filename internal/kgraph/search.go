package kgraph

import (
	"sort"
	"strings"
)

// SearchResult is the common return shape for the C4 lexical search
// family: the matching entities plus any relation whose endpoints are
// both present in Entities.
type SearchResult struct {
	Entities  []*Entity
	Relations []*Relation
}

// ScoredEntity pairs an entity with a search or fusion score.
type ScoredEntity struct {
	Entity *Entity
	Score  float64
}

// relationsAmong returns every relation in g with both endpoints
// present in names.
func relationsAmong(g *Graph, names map[string]bool) []*Relation {
	var out []*Relation
	for _, r := range g.Relations {
		if names[r.From] && names[r.To] {
			out = append(out, r)
		}
	}
	return out
}

func namesSet(entities []*Entity) map[string]bool {
	set := make(map[string]bool, len(entities))
	for _, e := range entities {
		set[e.Name] = true
	}
	return set
}

// BasicSearch implements §4.4's basic search: case-insensitive
// substring or prefix match against name, type, tag, or any
// observation. Results are ordered name-match first (alphabetical
// ties), then type, then tag, then observation.
func BasicSearch(g *Graph, idx *Index, query string, f *Filter, page Page) SearchResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return SearchResult{}
	}

	var byName, byType, byTag, byObs []*Entity
	for _, e := range g.Entities {
		lc, ok := idx.Lowercase(e.Name)
		if !ok {
			continue
		}
		switch {
		case strings.Contains(lc.nameLower, q):
			byName = append(byName, e)
		case strings.Contains(lc.typeLower, q):
			byType = append(byType, e)
		case containsAny(lc.tagsLower, q):
			byTag = append(byTag, e)
		case containsAny(lc.observationsLower, q):
			byObs = append(byObs, e)
		}
	}
	sortByName(byName)
	sortByName(byType)
	sortByName(byTag)
	sortByName(byObs)

	ordered := append(append(append(byName, byType...), byTag...), byObs...)
	filtered := FilterEntities(ordered, f)
	paged := page.Apply(filtered)
	return SearchResult{
		Entities:  paged,
		Relations: relationsAmong(g, namesSet(paged)),
	}
}

func containsAny(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.Contains(h, needle) {
			return true
		}
	}
	return false
}

func sortByName(entities []*Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Name < entities[j].Name
	})
}
