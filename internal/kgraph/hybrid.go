package kgraph

import (
	"context"
	"sort"
)

// HybridOptions configures a hybrid fusion search, per §4.6.
type HybridOptions struct {
	Weights HybridWeights
	Filter  *Filter
	Limit   int
}

// symbolicScore scores an entity by the fraction of query tokens that
// exact-match its type, tags, or name tokens — a cheap
// non-lexical, non-vector structural-agreement signal. Recovered from
// the teacher's keyword-rule classifier idiom (see DESIGN.md).
func symbolicScore(e *Entity, queryTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	fieldTokens := make(map[string]bool)
	for _, t := range tokenize(e.Name) {
		fieldTokens[t] = true
	}
	for _, t := range tokenize(e.EntityType) {
		fieldTokens[t] = true
	}
	for _, tag := range e.Tags {
		for _, t := range tokenize(tag) {
			fieldTokens[t] = true
		}
	}
	hits := 0
	for _, qt := range queryTokens {
		if fieldTokens[qt] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// normalizeScores maps scores to [0,1] by dividing by the top score
// (or 1 if the top score is zero), per §4.6.
func normalizeScores(scored []ScoredEntity) map[string]float64 {
	out := make(map[string]float64, len(scored))
	top := 0.0
	for _, s := range scored {
		if s.Score > top {
			top = s.Score
		}
	}
	if top == 0 {
		top = 1
	}
	for _, s := range scored {
		out[s.Entity.Name] = s.Score / top
	}
	return out
}

// HybridSearch implements §4.6: per-strategy top-K gathering,
// min-max-to-[0,1] normalisation (here, divide-by-top since negative
// lexical/symbolic/semantic scores do not occur in this engine),
// weighted linear combination, C3 filter, sort descending, truncate.
func HybridSearch(ctx context.Context, g *Graph, idx *Index, store VectorStore, embedder EmbeddingProvider, query string, opts HybridOptions) ([]ScoredEntity, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	weights := opts.Weights
	if weights.Semantic+weights.Lexical+weights.Symbolic <= 0 {
		weights = HybridWeights{Semantic: 0.5, Lexical: 0.3, Symbolic: 0.2}
	}
	k := limit
	if k < 20 {
		k = 20
	}

	limits := SearchLimits{Min: 1, Max: k, Default: k}
	lexicalResult := RankedSearch(g, idx, query, nil, k, limits)
	var lexicalScored []ScoredEntity
	for _, e := range lexicalResult.Entities {
		lexicalScored = append(lexicalScored, ScoredEntity{Entity: e, Score: tfIDFScore(idx, e, tokenize(query))})
	}
	lexicalNorm := normalizeScores(lexicalScored)

	var semanticScored []ScoredEntity
	if store != nil && embedder != nil {
		sem, err := SemanticSearch(ctx, idx, store, embedder, query, 0, k)
		if err == nil {
			semanticScored = sem
		}
	}
	semanticNorm := normalizeScores(semanticScored)

	queryTokens := tokenize(query)
	var symbolicScored []ScoredEntity
	for _, e := range g.Entities {
		if s := symbolicScore(e, queryTokens); s > 0 {
			symbolicScored = append(symbolicScored, ScoredEntity{Entity: e, Score: s})
		}
	}
	sort.SliceStable(symbolicScored, func(i, j int) bool { return symbolicScored[i].Score > symbolicScored[j].Score })
	if len(symbolicScored) > k {
		symbolicScored = symbolicScored[:k]
	}
	symbolicNorm := normalizeScores(symbolicScored)

	candidateNames := make(map[string]*Entity)
	for _, s := range lexicalScored {
		candidateNames[s.Entity.Name] = s.Entity
	}
	for _, s := range semanticScored {
		candidateNames[s.Entity.Name] = s.Entity
	}
	for _, s := range symbolicScored {
		candidateNames[s.Entity.Name] = s.Entity
	}

	var fused []ScoredEntity
	for name, e := range candidateNames {
		score := weights.Semantic*semanticNorm[name] + weights.Lexical*lexicalNorm[name] + weights.Symbolic*symbolicNorm[name]
		fused = append(fused, ScoredEntity{Entity: e, Score: score})
	}

	entities := make([]*Entity, len(fused))
	for i, s := range fused {
		entities[i] = s.Entity
	}
	filteredSet := namesSet(FilterEntities(entities, opts.Filter))
	final := fused[:0]
	for _, s := range fused {
		if filteredSet[s.Entity.Name] {
			final = append(final, s)
		}
	}
	sort.SliceStable(final, func(i, j int) bool {
		if final[i].Score != final[j].Score {
			return final[i].Score > final[j].Score
		}
		return final[i].Entity.Name < final[j].Entity.Name
	})
	if len(final) > limit {
		final = final[:limit]
	}
	return final, nil
}
