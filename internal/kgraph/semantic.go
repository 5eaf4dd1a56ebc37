package kgraph

import (
	"context"
	"fmt"
	"strings"
)

// entityText builds the textual representation embedded for semantic
// search, per §4.5: name, type, first 10 observations, tags.
func entityText(e *Entity) string {
	obsCount := len(e.Observations)
	if obsCount > 10 {
		obsCount = 10
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", e.Name, e.EntityType)
	b.WriteString(strings.Join(e.Observations[:obsCount], ". "))
	b.WriteString("\nTags: ")
	b.WriteString(strings.Join(e.Tags, ", "))
	return b.String()
}

// SemanticSearch implements §4.5's semantic search: embed the query,
// retrieve 2x the requested limit from the vector store, drop results
// below minSimilarity, resolve names via the name index, cap at
// limit.
func SemanticSearch(ctx context.Context, idx *Index, store VectorStore, embedder EmbeddingProvider, query string, minSimilarity float64, limit int) ([]ScoredEntity, error) {
	if limit <= 0 {
		limit = 10
	}
	queryVec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, wrapErr(KindEmbeddingFailed, "embed query", err)
	}
	matches, err := store.Search(ctx, queryVec, limit*2)
	if err != nil {
		return nil, wrapErr(KindSearchFailed, "vector search", err)
	}

	out := make([]ScoredEntity, 0, limit)
	for _, m := range matches {
		if m.Similarity < minSimilarity {
			continue
		}
		e, ok := idx.GetByName(m.Name)
		if !ok {
			continue
		}
		out = append(out, ScoredEntity{Entity: e, Score: m.Similarity})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
