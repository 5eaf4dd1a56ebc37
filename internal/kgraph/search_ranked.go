package kgraph

import (
	"math"
	"sort"
	"strings"
)

// RankedSearch implements §4.4's TF-IDF ranked search over the union
// of inverted-index postings for the query's tokens.
func RankedSearch(g *Graph, idx *Index, query string, f *Filter, limit int, limits SearchLimits) SearchResult {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return SearchResult{}
	}

	candidates := make(map[string]bool)
	for _, t := range queryTokens {
		for name := range idx.PostingsFor(t) {
			candidates[name] = true
		}
	}

	var scored []ScoredEntity
	for name := range candidates {
		e, ok := idx.GetByName(name)
		if !ok {
			continue
		}
		score := tfIDFScore(idx, e, queryTokens)
		if score > 0 {
			scored = append(scored, ScoredEntity{Entity: e, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entity.Name < scored[j].Entity.Name
	})

	entities := make([]*Entity, len(scored))
	for i, s := range scored {
		entities[i] = s.Entity
	}
	filtered := FilterEntities(entities, f)

	if limit <= 0 {
		limit = 10
	}
	if limit > limits.Max {
		limit = limits.Max
	}
	if limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return SearchResult{Entities: filtered, Relations: relationsAmong(g, namesSet(filtered))}
}

// tfIDFScore computes Σ_t tf(t,d)·idf(t) over name+type+tag+
// observations concatenated as the document.
func tfIDFScore(idx *Index, e *Entity, queryTokens []string) float64 {
	doc := strings.Join(append(append([]string{e.Name, e.EntityType}, e.Tags...), e.Observations...), " ")
	docTokens := tokenize(doc)
	tf := make(map[string]int, len(docTokens))
	for _, t := range docTokens {
		tf[t]++
	}

	var score float64
	for _, qt := range queryTokens {
		count := tf[qt]
		if count == 0 {
			continue
		}
		df, totalDocs := idx.DocFreq(qt)
		idf := math.Log(float64(totalDocs+1)/float64(df+1)) + 1
		score += float64(count) * idf
	}
	return score
}
