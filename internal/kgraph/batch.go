package kgraph

import (
	"context"
	"time"
)

// BatchOpType names the seven operations a transaction batch can
// contain, per §4.7.
type BatchOpType string

const (
	OpCreateEntity      BatchOpType = "createEntity"
	OpCreateRelation    BatchOpType = "createRelation"
	OpUpdateEntity      BatchOpType = "updateEntity"
	OpDeleteEntity      BatchOpType = "deleteEntity"
	OpDeleteRelation    BatchOpType = "deleteRelation"
	OpAddObservations   BatchOpType = "addObservations"
	OpDeleteObservations BatchOpType = "deleteObservations"
)

// BatchOp is one operation in a transaction batch. Only the fields
// relevant to Type are consulted.
type BatchOp struct {
	Type         BatchOpType
	Entity       *Entity  // createEntity
	Name         string   // updateEntity/deleteEntity/addObservations/deleteObservations/createRelation(from)/deleteRelation(from)
	To           string   // createRelation/deleteRelation
	RelationType string   // createRelation/deleteRelation
	Updates      func(*Entity) error // updateEntity
	Observations []string // addObservations/deleteObservations
}

// Batch accumulates ordered operations for a single transactional
// execution window, per §4.7.
type Batch struct {
	ops []BatchOp
}

// NewBatch constructs an empty Batch.
func NewBatch() *Batch { return &Batch{} }

func (b *Batch) add(op BatchOp) *Batch {
	b.ops = append(b.ops, op)
	return b
}

// CreateEntity queues a createEntity operation.
func (b *Batch) CreateEntity(e *Entity) *Batch { return b.add(BatchOp{Type: OpCreateEntity, Entity: e}) }

// CreateRelation queues a createRelation operation.
func (b *Batch) CreateRelation(from, to, relationType string) *Batch {
	return b.add(BatchOp{Type: OpCreateRelation, Name: from, To: to, RelationType: relationType})
}

// UpdateEntity queues an updateEntity operation.
func (b *Batch) UpdateEntity(name string, mutate func(*Entity) error) *Batch {
	return b.add(BatchOp{Type: OpUpdateEntity, Name: name, Updates: mutate})
}

// DeleteEntity queues a deleteEntity operation.
func (b *Batch) DeleteEntity(name string) *Batch {
	return b.add(BatchOp{Type: OpDeleteEntity, Name: name})
}

// DeleteRelation queues a deleteRelation operation.
func (b *Batch) DeleteRelation(from, to, relationType string) *Batch {
	return b.add(BatchOp{Type: OpDeleteRelation, Name: from, To: to, RelationType: relationType})
}

// AddObservations queues an addObservations operation.
func (b *Batch) AddObservations(name string, obs []string) *Batch {
	return b.add(BatchOp{Type: OpAddObservations, Name: name, Observations: obs})
}

// DeleteObservations queues a deleteObservations operation.
func (b *Batch) DeleteObservations(name string, obs []string) *Batch {
	return b.add(BatchOp{Type: OpDeleteObservations, Name: name, Observations: obs})
}

// Size returns the number of queued operations.
func (b *Batch) Size() int { return len(b.ops) }

// Clear empties the batch.
func (b *Batch) Clear() { b.ops = nil }

// GetOperations returns a copy of the queued operations.
func (b *Batch) GetOperations() []BatchOp { return append([]BatchOp(nil), b.ops...) }

// AddOperations appends a list of operations built elsewhere.
func (b *Batch) AddOperations(ops []BatchOp) *Batch {
	b.ops = append(b.ops, ops...)
	return b
}

// BatchOptions controls batch execution.
type BatchOptions struct {
	Validate    bool // default true
	StopOnError bool // default true
}

// DefaultBatchOptions matches §4.7's defaults.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Validate: true, StopOnError: true}
}

// BatchResult reports the outcome of Batch.Execute.
type BatchResult struct {
	Success             bool
	OperationsExecuted  int
	EntitiesCreated     int
	EntitiesUpdated     int
	EntitiesDeleted     int
	RelationsCreated    int
	RelationsDeleted    int
	ExecutionTimeMs     int64
	Err                 error
	FailedOperationIndex int // -1 if none
}

// shadowView is a lightweight simulation of the cache used for
// pre-validation: names known to exist, relation keys known to
// exist, and parent edges staged so far, without mutating the real
// cache.
type shadowView struct {
	entityNames map[string]bool
	relations   map[RelationKey]bool
	parents     map[string]string
}

func newShadowView(g *Graph) *shadowView {
	sv := &shadowView{
		entityNames: make(map[string]bool, len(g.Entities)),
		relations:   make(map[RelationKey]bool, len(g.Relations)),
		parents:     make(map[string]string, len(g.Entities)),
	}
	for _, e := range g.Entities {
		sv.entityNames[e.Name] = true
		if e.ParentID != "" {
			sv.parents[e.Name] = e.ParentID
		}
	}
	for _, r := range g.Relations {
		sv.relations[r.Key()] = true
	}
	return sv
}

func (sv *shadowView) hasCycle(name, newParent string) bool {
	if name == newParent {
		return true
	}
	visited := map[string]bool{name: true}
	cur := newParent
	for cur != "" {
		if visited[cur] {
			return true
		}
		visited[cur] = true
		cur = sv.parents[cur]
	}
	return false
}

// validate simulates every op against a shadow view, returning the
// index of the first failing op (or -1) and the error.
func validateBatch(g *Graph, ops []BatchOp) (int, error) {
	sv := newShadowView(g)
	for i, op := range ops {
		switch op.Type {
		case OpCreateEntity:
			if op.Entity == nil || op.Entity.Name == "" {
				return i, newErr(KindValidationFailed, "createEntity requires a name")
			}
			if sv.entityNames[op.Entity.Name] {
				return i, wrapErr(KindDuplicateEntity, op.Entity.Name, nil)
			}
			sv.entityNames[op.Entity.Name] = true
			if op.Entity.ParentID != "" {
				sv.parents[op.Entity.Name] = op.Entity.ParentID
			}
		case OpCreateRelation:
			if !sv.entityNames[op.Name] {
				return i, wrapErr(KindEntityNotFound, op.Name, nil)
			}
			if !sv.entityNames[op.To] {
				return i, wrapErr(KindEntityNotFound, op.To, nil)
			}
			key := RelationKey{From: op.Name, To: op.To, RelationType: op.RelationType}
			if sv.relations[key] {
				return i, newErr(KindValidationFailed, "duplicate relation "+op.Name+"->"+op.To)
			}
			sv.relations[key] = true
		case OpUpdateEntity:
			if !sv.entityNames[op.Name] {
				return i, wrapErr(KindEntityNotFound, op.Name, nil)
			}
		case OpDeleteEntity:
			if !sv.entityNames[op.Name] {
				return i, wrapErr(KindEntityNotFound, op.Name, nil)
			}
			delete(sv.entityNames, op.Name)
		case OpDeleteRelation:
			key := RelationKey{From: op.Name, To: op.To, RelationType: op.RelationType}
			if !sv.relations[key] {
				return i, wrapErr(KindRelationNotFound, op.Name+"->"+op.To, nil)
			}
			delete(sv.relations, key)
		case OpAddObservations, OpDeleteObservations:
			if !sv.entityNames[op.Name] {
				return i, wrapErr(KindEntityNotFound, op.Name, nil)
			}
		default:
			return i, newErr(KindValidationFailed, "unknown batch operation type")
		}
	}
	return -1, nil
}

// Execute runs the batch: pre-validation (unless disabled), then a
// single mutex-guarded execution window against store, committing
// with one save_graph.
func (b *Batch) Execute(ctx context.Context, store *Store, opts BatchOptions) BatchResult {
	start := time.Now()
	result := BatchResult{FailedOperationIndex: -1}

	g, err := store.LoadGraph(ctx)
	if err != nil {
		result.Err = err
		return result
	}

	if opts.Validate {
		if idx, err := validateBatch(g, b.ops); err != nil {
			result.Err = err
			result.FailedOperationIndex = idx
			result.ExecutionTimeMs = time.Since(start).Milliseconds()
			return result
		}
	}

	err = store.withMutation(ctx, func(working *Graph) error {
		now := time.Now().UTC()
		for i, op := range b.ops {
			if err := applyBatchOp(working, op, now, &result, store.emitter); err != nil {
				result.FailedOperationIndex = i
				if opts.StopOnError {
					return err
				}
				continue
			}
			result.OperationsExecuted++
		}
		return nil
	})

	if err != nil {
		result.Err = err
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		return result
	}

	snapshot, err := store.LoadGraph(ctx)
	if err != nil {
		result.Err = err
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		return result
	}
	if err := store.SaveGraph(ctx, snapshot); err != nil {
		result.Err = err
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		return result
	}

	result.Success = result.Err == nil
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result
}

// applyBatchOp mutates the working graph for one op and, on success,
// emits the same typed event a direct Store call for that op would
// have produced, so listeners see a batch the same way they'd see
// the equivalent sequence of individual calls.
func applyBatchOp(g *Graph, op BatchOp, now time.Time, result *BatchResult, emitter *Emitter) error {
	switch op.Type {
	case OpCreateEntity:
		for _, e := range g.Entities {
			if e.Name == op.Entity.Name {
				return wrapErr(KindDuplicateEntity, op.Entity.Name, nil)
			}
		}
		e := op.Entity.Clone()
		e.CreatedAt = now
		e.LastModified = now
		g.Entities = append(g.Entities, e)
		result.EntitiesCreated++
		emitter.Emit(Event{Type: EventEntityCreated, Data: map[string]any{"name": e.Name}})
	case OpCreateRelation:
		if findEntity(g, op.Name) == nil {
			return wrapErr(KindEntityNotFound, op.Name, nil)
		}
		if findEntity(g, op.To) == nil {
			return wrapErr(KindEntityNotFound, op.To, nil)
		}
		r := &Relation{From: op.Name, To: op.To, RelationType: op.RelationType, CreatedAt: now, LastModified: now}
		g.Relations = append(g.Relations, r)
		result.RelationsCreated++
		emitter.Emit(Event{Type: EventRelationCreated, Data: map[string]any{
			"from": r.From, "to": r.To, "relationType": r.RelationType,
		}})
	case OpUpdateEntity:
		e := findEntity(g, op.Name)
		if e == nil {
			return wrapErr(KindEntityNotFound, op.Name, nil)
		}
		previous := e.Clone()
		if op.Updates != nil {
			if err := op.Updates(e); err != nil {
				return err
			}
		}
		e.LastModified = now
		result.EntitiesUpdated++
		emitter.Emit(Event{Type: EventEntityUpdated, Data: map[string]any{
			"name": op.Name, "previous": previous, "current": e,
		}})
	case OpDeleteEntity:
		idx := -1
		for i, e := range g.Entities {
			if e.Name == op.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return wrapErr(KindEntityNotFound, op.Name, nil)
		}
		g.Entities = append(g.Entities[:idx], g.Entities[idx+1:]...)
		kept := g.Relations[:0:0]
		for _, r := range g.Relations {
			if r.From != op.Name && r.To != op.Name {
				kept = append(kept, r)
			} else {
				result.RelationsDeleted++
			}
		}
		g.Relations = kept
		for _, e := range g.Entities {
			if e.ParentID == op.Name {
				e.ParentID = ""
			}
		}
		result.EntitiesDeleted++
		emitter.Emit(Event{Type: EventEntityDeleted, Data: map[string]any{"name": op.Name}})
	case OpDeleteRelation:
		idx := -1
		key := RelationKey{From: op.Name, To: op.To, RelationType: op.RelationType}
		for i, r := range g.Relations {
			if r.Key() == key {
				idx = i
				break
			}
		}
		if idx < 0 {
			return wrapErr(KindRelationNotFound, op.Name+"->"+op.To, nil)
		}
		g.Relations = append(g.Relations[:idx], g.Relations[idx+1:]...)
		result.RelationsDeleted++
		emitter.Emit(Event{Type: EventRelationDeleted, Data: map[string]any{
			"from": key.From, "to": key.To, "relationType": key.RelationType,
		}})
	case OpAddObservations:
		e := findEntity(g, op.Name)
		if e == nil {
			return wrapErr(KindEntityNotFound, op.Name, nil)
		}
		existing := make(map[string]bool, len(e.Observations))
		for _, o := range e.Observations {
			existing[o] = true
		}
		var added []string
		for _, o := range op.Observations {
			if !existing[o] {
				e.Observations = append(e.Observations, o)
				existing[o] = true
				added = append(added, o)
			}
		}
		e.LastModified = now
		result.EntitiesUpdated++
		emitter.Emit(Event{Type: EventObservationAdded, Data: map[string]any{
			"name": op.Name, "observations": added,
		}})
	case OpDeleteObservations:
		e := findEntity(g, op.Name)
		if e == nil {
			return wrapErr(KindEntityNotFound, op.Name, nil)
		}
		remove := make(map[string]bool, len(op.Observations))
		for _, o := range op.Observations {
			remove[o] = true
		}
		kept := e.Observations[:0:0]
		for _, o := range e.Observations {
			if !remove[o] {
				kept = append(kept, o)
			}
		}
		e.Observations = kept
		e.LastModified = now
		result.EntitiesUpdated++
		emitter.Emit(Event{Type: EventObservationDeleted, Data: map[string]any{
			"name": op.Name, "observations": op.Observations,
		}})
	default:
		return newErr(KindValidationFailed, "unknown batch operation type")
	}
	return nil
}

func findEntity(g *Graph, name string) *Entity {
	for _, e := range g.Entities {
		if e.Name == name {
			return e
		}
	}
	return nil
}
