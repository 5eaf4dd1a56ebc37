package kgraph

import (
	"context"
	"sync"
	"time"
)

// Backend is the storage capability set named in the engine's design
// notes: an explicit interface that every interchangeable persistence
// strategy (JSONL, SQLite, Dgraph) implements identically, chosen at
// construction instead of duck-typed.
type Backend interface {
	// Load streams the full persisted history and folds it into a
	// single graph snapshot (later records win on key collision).
	Load(ctx context.Context) (*Graph, error)
	// Save performs a full, atomic rewrite of the persisted form from g.
	Save(ctx context.Context, g *Graph) error
	// AppendEntity persists one incremental entity record (create or
	// full-snapshot update).
	AppendEntity(ctx context.Context, e *Entity) error
	// AppendRelation persists one incremental relation record.
	AppendRelation(ctx context.Context, r *Relation) error
	// DeleteEntity persists a tombstone for name so a reload does not
	// resurrect it.
	DeleteEntity(ctx context.Context, name string) error
	// DeleteRelation persists a tombstone for the given triple.
	DeleteRelation(ctx context.Context, key RelationKey) error
	Close() error
}

// Store is C1: the append-only record log plus its in-memory
// authoritative cache, mutation mutex, compaction policy and event
// emission, layered over any Backend.
type Store struct {
	backend   Backend
	emitter   *Emitter
	index     *Index
	threshold int
	logger    Logger

	mu          sync.Mutex
	cache       *Graph
	loaded      bool
	appendCount int
}

// NewStore constructs a Store over backend. The cache is built lazily
// on first access, per §4.1.
func NewStore(backend Backend, emitter *Emitter, idx *Index, compactionThreshold int, logger Logger) *Store {
	if logger == nil {
		logger = defaultLogger{}
	}
	if compactionThreshold <= 0 {
		compactionThreshold = 1000
	}
	return &Store{
		backend:   backend,
		emitter:   emitter,
		index:     idx,
		threshold: compactionThreshold,
		logger:    logger,
	}
}

// ensureLoaded lazily initialises the cache. Caller must hold s.mu.
func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	g, err := s.backend.Load(ctx)
	if err != nil {
		return wrapErr(KindStorageRead, "load graph", err)
	}
	if g == nil {
		g = &Graph{}
	}
	s.cache = g
	s.index.Rebuild(g)
	s.loaded = true
	s.emitter.Emit(Event{Type: EventGraphLoaded, Data: map[string]any{
		"entities":  len(g.Entities),
		"relations": len(g.Relations),
	}})
	return nil
}

// LoadGraph returns a read-only (deep-copied) view of the cache,
// lazily initialising it on first call.
func (s *Store) LoadGraph(ctx context.Context) (*Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.cache.Clone(), nil
}

// withMutation runs fn with the mutation mutex held and the cache
// loaded, used by every mutating entry point and by the transaction
// batch so a whole multi-op window is serialised atomically.
func (s *Store) withMutation(ctx context.Context, fn func(g *Graph) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	return fn(s.cache)
}

// SaveGraph performs a full atomic rewrite of g and replaces the
// cache with it, resetting the append counter.
func (s *Store) SaveGraph(ctx context.Context, g *Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Save(ctx, g); err != nil {
		return wrapErr(KindStorageWrite, "save graph", err)
	}
	s.cache = g.Clone()
	s.index.Rebuild(s.cache)
	s.appendCount = 0
	s.emitter.Emit(Event{Type: EventGraphSaved, Data: map[string]any{
		"entities":  len(g.Entities),
		"relations": len(g.Relations),
	}})
	return nil
}

// Compact performs save_graph(current_cache) and resets the counter.
func (s *Store) Compact(ctx context.Context) error {
	s.mu.Lock()
	cache := s.cache
	s.mu.Unlock()
	if cache == nil {
		return nil
	}
	return s.SaveGraph(ctx, cache)
}

// maybeCompactLocked triggers an implicit compaction once the append
// counter crosses threshold, per the compaction policy in §4.1.
// Caller must hold s.mu.
func (s *Store) maybeCompactLocked(ctx context.Context) {
	if s.appendCount < s.threshold {
		return
	}
	if err := s.backend.Save(ctx, s.cache); err != nil {
		s.logger.Printf("kgraph: implicit compaction failed: %v", err)
		return
	}
	s.appendCount = 0
}

// AppendEntity appends one entity record, updates the cache and
// index in place, and emits entity:created.
func (s *Store) AppendEntity(ctx context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := s.backend.AppendEntity(ctx, e); err != nil {
		return wrapErr(KindStorageWrite, "append entity", err)
	}
	s.cache.Entities = append(s.cache.Entities, e)
	s.index.AddEntity(e)
	s.appendCount++
	s.maybeCompactLocked(ctx)
	s.emitter.Emit(Event{Type: EventEntityCreated, Data: map[string]any{"name": e.Name}})
	return nil
}

// AppendRelation appends one relation record, updates the cache and
// index in place, and emits relation:created.
func (s *Store) AppendRelation(ctx context.Context, r *Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := s.backend.AppendRelation(ctx, r); err != nil {
		return wrapErr(KindStorageWrite, "append relation", err)
	}
	s.cache.Relations = append(s.cache.Relations, r)
	s.index.AddRelation(r)
	s.appendCount++
	s.maybeCompactLocked(ctx)
	s.emitter.Emit(Event{Type: EventRelationCreated, Data: map[string]any{
		"from": r.From, "to": r.To, "relationType": r.RelationType,
	}})
	return nil
}

// UpdateEntity locates name, applies mutate to a clone, bumps
// LastModified, appends the full new snapshot, and emits
// entity:updated carrying both previous and new values.
func (s *Store) UpdateEntity(ctx context.Context, name string, mutate func(*Entity) error) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	idx := -1
	for i, e := range s.cache.Entities {
		if e.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, wrapErr(KindEntityNotFound, name, nil)
	}
	previous := s.cache.Entities[idx].Clone()
	updated := previous.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}
	updated.LastModified = time.Now().UTC()
	if err := s.backend.AppendEntity(ctx, updated); err != nil {
		return nil, wrapErr(KindStorageWrite, "append entity", err)
	}
	s.cache.Entities[idx] = updated
	s.index.UpdateEntity(previous, updated)
	s.appendCount++
	s.maybeCompactLocked(ctx)
	s.emitter.Emit(Event{Type: EventEntityUpdated, Data: map[string]any{
		"name": name, "previous": previous, "current": updated,
	}})
	return updated, nil
}

// DeleteEntity removes name from the cache, cascades to delete every
// relation where it is an endpoint, and detaches child pointers.
// Idempotent: deleting a name that does not exist is a no-op.
func (s *Store) DeleteEntity(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	idx := -1
	for i, e := range s.cache.Entities {
		if e.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if err := s.backend.DeleteEntity(ctx, name); err != nil {
		return wrapErr(KindStorageWrite, "delete entity", err)
	}
	s.cache.Entities = append(s.cache.Entities[:idx], s.cache.Entities[idx+1:]...)
	s.index.RemoveEntity(name)

	kept := s.cache.Relations[:0:0]
	for _, r := range s.cache.Relations {
		if r.From == name || r.To == name {
			_ = s.backend.DeleteRelation(ctx, r.Key())
			s.index.RemoveRelation(r)
			continue
		}
		kept = append(kept, r)
	}
	s.cache.Relations = kept

	for _, e := range s.cache.Entities {
		if e.ParentID == name {
			e.ParentID = ""
		}
	}
	s.appendCount++
	s.maybeCompactLocked(ctx)
	s.emitter.Emit(Event{Type: EventEntityDeleted, Data: map[string]any{"name": name}})
	return nil
}

// DeleteRelation removes the relation identified by key. Idempotent.
func (s *Store) DeleteRelation(ctx context.Context, key RelationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	idx := -1
	for i, r := range s.cache.Relations {
		if r.Key() == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if err := s.backend.DeleteRelation(ctx, key); err != nil {
		return wrapErr(KindStorageWrite, "delete relation", err)
	}
	removed := s.cache.Relations[idx]
	s.cache.Relations = append(s.cache.Relations[:idx], s.cache.Relations[idx+1:]...)
	s.index.RemoveRelation(removed)
	s.appendCount++
	s.maybeCompactLocked(ctx)
	s.emitter.Emit(Event{Type: EventRelationDeleted, Data: map[string]any{
		"from": key.From, "to": key.To, "relationType": key.RelationType,
	}})
	return nil
}

// Close releases backend resources.
func (s *Store) Close() error {
	return s.backend.Close()
}
