package kgraph

import (
	"context"
	"sort"
	"strings"

	"github.com/quantumflow/kgraph/internal/workerpool"
)

// fuzzyPoolID names the process-wide worker pool used to dispatch
// fuzzy-search chunks, per §5's "process-wide singleton keyed by pool
// ID".
const fuzzyPoolID = "kgraph.fuzzy"

// FuzzySearch implements §4.4's fuzzy search: per-entity best-of
// name/observation similarity, threshold-filtered, dispatched across
// a worker pool once the graph is large enough to be worth it.
func FuzzySearch(ctx context.Context, g *Graph, idx *Index, query string, threshold float64, workerMinEntities int, f *Filter, page Page) SearchResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return SearchResult{}
	}
	if threshold <= 0 {
		threshold = 0.7
	}

	var scored []ScoredEntity
	if len(g.Entities) >= workerMinEntities {
		scored = fuzzyScanParallel(ctx, g.Entities, idx, q, threshold)
	} else {
		scored = fuzzyScanChunk(g.Entities, idx, q, threshold)
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
	paged := page.Apply(filtered)
	return SearchResult{Entities: paged, Relations: relationsAmong(g, namesSet(paged))}
}

func fuzzyScanChunk(entities []*Entity, idx *Index, q string, threshold float64) []ScoredEntity {
	var out []ScoredEntity
	for _, e := range entities {
		lc, ok := idx.Lowercase(e.Name)
		if !ok {
			continue
		}
		best := similarity(q, lc.nameLower)
		for _, o := range lc.observationsLower {
			if s := similarity(q, o); s > best {
				best = s
			}
		}
		if best >= threshold {
			out = append(out, ScoredEntity{Entity: e, Score: best})
		}
	}
	return out
}

// fuzzyScanParallel splits entities into chunks and dispatches one
// task per chunk over the process-wide fuzzy worker pool.
func fuzzyScanParallel(ctx context.Context, entities []*Entity, idx *Index, q string, threshold float64) []ScoredEntity {
	pool := workerpool.Get(fuzzyPoolID, workerpool.DefaultConfig())

	const chunkSize = 64
	var chunks [][]*Entity
	for i := 0; i < len(entities); i += chunkSize {
		end := i + chunkSize
		if end > len(entities) {
			end = len(entities)
		}
		chunks = append(chunks, entities[i:end])
	}

	results := make([][]ScoredEntity, len(chunks))
	type outcome struct {
		idx int
		val []ScoredEntity
	}
	done := make(chan outcome, len(chunks))
	for i, chunk := range chunks {
		i, chunk := i, chunk
		go func() {
			v, _ := pool.SubmitSync(ctx, func(ctx context.Context) (any, error) {
				return fuzzyScanChunk(chunk, idx, q, threshold), nil
			})
			scored, _ := v.([]ScoredEntity)
			done <- outcome{idx: i, val: scored}
		}()
	}
	for range chunks {
		o := <-done
		results[o.idx] = o.val
	}

	var out []ScoredEntity
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}
