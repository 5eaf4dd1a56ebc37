package kgraph

import (
	"context"
	"fmt"
	"time"
)

// Service is the top-level orchestrator wiring C1-C9 together,
// grounded on the teacher's internal/memory.MemoryService: a struct
// composing every store, a constructor that wires components leaves-
// first and rolls back cleanly on partial failure, and a Close that
// aggregates every component's shutdown error.
type Service struct {
	cfg      *Config
	store    *Store
	index    *Index
	emitter  *Emitter
	vectors  VectorStore
	embedder EmbeddingProvider
	indexer  *Indexer
	logger   Logger
}

// NewService constructs every component in leaves-first order: index
// and emitter first (no dependencies), then the storage backend and
// Store, then the vector store, embedding provider and indexer. If
// any step fails, components already opened are closed before
// returning the error.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger{}
	}

	idx := NewIndex()
	emitter := NewEmitter(false, logger)

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	store := NewStore(backend, emitter, idx, cfg.CompactionThreshold, logger)

	if _, err := store.LoadGraph(ctx); err != nil {
		store.Close()
		return nil, err
	}

	vectors, err := newVectorStore(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	embedder, err := newEmbeddingProvider(cfg)
	if err != nil {
		vectors.Close()
		store.Close()
		return nil, err
	}

	indexer := NewIndexer(vectors, embedder, cfg.IndexerQueueThreshold,
		time.Duration(cfg.IndexerFlushInterval)*time.Second, cfg.IndexerRateLimitRPS, logger)

	return &Service{
		cfg: cfg, store: store, index: idx, emitter: emitter,
		vectors: vectors, embedder: embedder, indexer: indexer, logger: logger,
	}, nil
}

func newBackend(cfg *Config, logger Logger) (Backend, error) {
	switch cfg.StorageType {
	case "", StorageJSONL:
		return NewJSONLBackend(cfg.StoragePath, logger)
	case StorageSQLite:
		return NewSQLiteBackend(cfg.StoragePath)
	case StorageDgraph:
		return NewDgraphBackend(cfg.VectorPath)
	default:
		return nil, newErr(KindInvalidConfig, fmt.Sprintf("unknown storage type %q", cfg.StorageType))
	}
}

func newVectorStore(cfg *Config) (VectorStore, error) {
	switch cfg.VectorBackend {
	case "", VectorMemory:
		return NewInMemoryVectorStore(), nil
	case VectorBadger:
		return NewBadgerVectorStore(cfg.VectorPath)
	case VectorRedis:
		return NewRedisVectorStore(cfg.VectorPath)
	default:
		return nil, newErr(KindInvalidConfig, fmt.Sprintf("unknown vector backend %q", cfg.VectorBackend))
	}
}

func newEmbeddingProvider(cfg *Config) (EmbeddingProvider, error) {
	switch cfg.EmbeddingProvider {
	case "", "hash":
		return NewHashEmbeddingProvider(128), nil
	case "http":
		return NewHTTPEmbeddingProvider(cfg.EmbeddingURL, "default", 128), nil
	default:
		return nil, newErr(KindInvalidConfig, fmt.Sprintf("unknown embedding provider %q", cfg.EmbeddingProvider))
	}
}

// CreateEntity creates a new entity, setting CreatedAt/LastModified,
// rejecting a name collision.
func (s *Service) CreateEntity(ctx context.Context, e *Entity) error {
	if e.Name == "" {
		return newErr(KindValidationFailed, "entity name is required")
	}
	if e.Importance != nil && (*e.Importance < 0 || *e.Importance > 10) {
		return wrapErr(KindInvalidImportance, e.Name, nil)
	}
	if _, ok := s.index.GetByName(e.Name); ok {
		return wrapErr(KindDuplicateEntity, e.Name, nil)
	}
	now := time.Now().UTC()
	clone := e.Clone()
	clone.CreatedAt = now
	clone.LastModified = now
	clone.Observations = dedupeObservations(clone.Observations)
	if err := s.store.AppendEntity(ctx, clone); err != nil {
		return err
	}
	return s.indexer.Enqueue(IndexOp{Type: IndexOpCreate, EntityName: clone.Name, Text: entityText(clone)})
}

// CreateRelation creates a new relation. Both endpoints must already
// exist.
func (s *Service) CreateRelation(ctx context.Context, from, to, relationType string) error {
	if _, ok := s.index.GetByName(from); !ok {
		return wrapErr(KindEntityNotFound, from, nil)
	}
	if _, ok := s.index.GetByName(to); !ok {
		return wrapErr(KindEntityNotFound, to, nil)
	}
	now := time.Now().UTC()
	r := &Relation{From: from, To: to, RelationType: relationType, CreatedAt: now, LastModified: now}
	return s.store.AppendRelation(ctx, r)
}

// AddObservations implements DESIGN.md's Open Question 1 decision:
// the read-modify-write runs entirely inside the Store's mutation
// mutex via UpdateEntity, closing the lost-update race the spec flags
// as an accepted limitation in its source material.
func (s *Service) AddObservations(ctx context.Context, name string, obs []string) error {
	updated, err := s.store.UpdateEntity(ctx, name, func(e *Entity) error {
		existing := make(map[string]bool, len(e.Observations))
		for _, o := range e.Observations {
			existing[o] = true
		}
		for _, o := range obs {
			if !existing[o] {
				e.Observations = append(e.Observations, o)
				existing[o] = true
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.indexer.Enqueue(IndexOp{Type: IndexOpUpdate, EntityName: name, Text: entityText(updated)})
}

// DeleteObservations removes the given observations from name.
func (s *Service) DeleteObservations(ctx context.Context, name string, obs []string) error {
	remove := make(map[string]bool, len(obs))
	for _, o := range obs {
		remove[o] = true
	}
	updated, err := s.store.UpdateEntity(ctx, name, func(e *Entity) error {
		kept := e.Observations[:0:0]
		for _, o := range e.Observations {
			if !remove[o] {
				kept = append(kept, o)
			}
		}
		e.Observations = kept
		return nil
	})
	if err != nil {
		return err
	}
	return s.indexer.Enqueue(IndexOp{Type: IndexOpUpdate, EntityName: name, Text: entityText(updated)})
}

// SetImportance sets an entity's importance, rejecting out-of-range
// values.
func (s *Service) SetImportance(ctx context.Context, name string, importance float64) error {
	if importance < 0 || importance > 10 {
		return wrapErr(KindInvalidImportance, name, nil)
	}
	_, err := s.store.UpdateEntity(ctx, name, func(e *Entity) error {
		v := importance
		e.Importance = &v
		return nil
	})
	return err
}

// DeleteEntity removes an entity, cascading to its relations, and
// queues a vector-index delete for it, which supersedes any pending
// operation for the same entity.
func (s *Service) DeleteEntity(ctx context.Context, name string) error {
	if err := s.store.DeleteEntity(ctx, name); err != nil {
		return err
	}
	return s.indexer.Enqueue(IndexOp{Type: IndexOpDelete, EntityName: name})
}

// DeleteRelation removes the relation identified by the triple.
func (s *Service) DeleteRelation(ctx context.Context, from, to, relationType string) error {
	return s.store.DeleteRelation(ctx, RelationKey{From: from, To: to, RelationType: relationType})
}

// Graph returns a read-only snapshot of the current graph.
func (s *Service) Graph(ctx context.Context) (*Graph, error) {
	return s.store.LoadGraph(ctx)
}

// Index exposes the index layer for search package functions that
// operate on (*Graph, *Index) pairs.
func (s *Service) Index() *Index { return s.index }

// StoreHandle exposes the store for direct batch execution.
func (s *Service) StoreHandle() *Store { return s.store }

// Emitter exposes the event emitter for subscription.
func (s *Service) Emitter() *Emitter { return s.emitter }

// Vectors exposes the vector store for direct inspection.
func (s *Service) Vectors() VectorStore { return s.vectors }

// IndexerHandle exposes the incremental indexer, e.g. to force a Flush.
func (s *Service) IndexerHandle() *Indexer { return s.indexer }

// Basic performs a basic substring/prefix search.
func (s *Service) Basic(ctx context.Context, query string, f *Filter, offset, limit int) (SearchResult, error) {
	g, err := s.store.LoadGraph(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	page := Paginate(offset, limit, s.cfg.SearchLimits)
	return BasicSearch(g, s.index, query, f, page), nil
}

// Fuzzy performs a fuzzy Levenshtein-similarity search.
func (s *Service) Fuzzy(ctx context.Context, query string, f *Filter, offset, limit int) (SearchResult, error) {
	g, err := s.store.LoadGraph(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	page := Paginate(offset, limit, s.cfg.SearchLimits)
	return FuzzySearch(ctx, g, s.index, query, s.cfg.FuzzyThreshold, s.cfg.FuzzyWorkerMinEntities, f, page), nil
}

// Boolean performs a boolean-expression search.
func (s *Service) Boolean(ctx context.Context, query string, f *Filter, offset, limit int) (SearchResult, error) {
	g, err := s.store.LoadGraph(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	page := Paginate(offset, limit, s.cfg.SearchLimits)
	return BooleanSearch(g, s.index, query, f, page)
}

// Proximity performs a proximity search over the given terms.
func (s *Service) Proximity(ctx context.Context, terms []string, maxDistance int, f *Filter, offset, limit int) (SearchResult, []ProximityMatch, error) {
	g, err := s.store.LoadGraph(ctx)
	if err != nil {
		return SearchResult{}, nil, err
	}
	page := Paginate(offset, limit, s.cfg.SearchLimits)
	result, matches := ProximitySearch(g, terms, maxDistance, f, page)
	return result, matches, nil
}

// Ranked performs TF-IDF ranked search.
func (s *Service) Ranked(ctx context.Context, query string, f *Filter, limit int) (SearchResult, error) {
	g, err := s.store.LoadGraph(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	return RankedSearch(g, s.index, query, f, limit, s.cfg.SearchLimits), nil
}

// Semantic performs vector-similarity search.
func (s *Service) Semantic(ctx context.Context, query string, minSimilarity float64, limit int) ([]ScoredEntity, error) {
	return SemanticSearch(ctx, s.index, s.vectors, s.embedder, query, minSimilarity, limit)
}

// Hybrid performs fused semantic/lexical/symbolic search.
func (s *Service) Hybrid(ctx context.Context, query string, opts HybridOptions) ([]ScoredEntity, error) {
	g, err := s.store.LoadGraph(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Weights == (HybridWeights{}) {
		opts.Weights = s.cfg.HybridWeights
	}
	return HybridSearch(ctx, g, s.index, s.vectors, s.embedder, query, opts)
}

// IndexAll ensures every entity's textual representation is embedded
// and present in the vector store, for use before the first semantic
// search against a freshly loaded graph.
func (s *Service) IndexAll(ctx context.Context) error {
	g, err := s.store.LoadGraph(ctx)
	if err != nil {
		return err
	}
	for _, e := range g.Entities {
		if err := ctx.Err(); err != nil {
			return wrapErr(KindOperationCancelled, "IndexAll", err)
		}
		has, err := s.vectors.Has(ctx, e.Name)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if err := s.indexer.Enqueue(IndexOp{Type: IndexOpCreate, EntityName: e.Name, Text: entityText(e)}); err != nil {
			return err
		}
	}
	_, err = s.indexer.Flush(ctx)
	return err
}

// SetParent delegates to the C8 hierarchy primitives.
func (s *Service) SetParent(ctx context.Context, name, parent string) error {
	return SetEntityParent(ctx, s.store, s.index, name, parent)
}

// Close shuts down every component, draining the indexer's queue
// first, aggregating the first error encountered.
func (s *Service) Close(ctx context.Context) error {
	var firstErr error
	if _, err := s.indexer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.vectors.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func dedupeObservations(obs []string) []string {
	seen := make(map[string]bool, len(obs))
	out := obs[:0:0]
	for _, o := range obs {
		if !seen[o] {
			out = append(out, o)
			seen[o] = true
		}
	}
	return out
}
