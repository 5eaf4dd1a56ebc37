package kgraph

import (
	"strings"
	"sync"
)

// lowercaseFields is the precomputed LowercaseCache entry for one
// entity, per §4.2.
type lowercaseFields struct {
	nameLower         string
	typeLower         string
	observationsLower []string
	tagsLower         []string
}

// Index is C2: the set of secondary indices kept consistent with the
// Store's cache under every mutation. Rebuilt (via Rebuild) when the
// Store lazily loads its cache and after every SaveGraph, and
// maintained incrementally by the Store's single-record mutations.
type Index struct {
	mu sync.RWMutex

	byName map[string]*Entity
	byType map[string]map[string]bool // typeLower -> set<name>

	lowercase map[string]lowercaseFields // name -> fields

	relFrom map[string]map[RelationKey]*Relation
	relTo   map[string]map[RelationKey]*Relation

	observation map[string]map[string]bool // token -> set<name>
	wordsByName map[string]map[string]bool // name -> set<token>, for cheap removal

	docFreq   map[string]int // token -> number of entities containing it
	totalDocs int
}

// NewIndex constructs an empty Index.
func NewIndex() *Index {
	return &Index{
		byName:      make(map[string]*Entity),
		byType:      make(map[string]map[string]bool),
		lowercase:   make(map[string]lowercaseFields),
		relFrom:     make(map[string]map[RelationKey]*Relation),
		relTo:       make(map[string]map[RelationKey]*Relation),
		observation: make(map[string]map[string]bool),
		wordsByName: make(map[string]map[string]bool),
		docFreq:     make(map[string]int),
	}
}

// Rebuild discards all index state and recomputes it from g, used on
// bulk load and full rewrite.
func (idx *Index) Rebuild(g *Graph) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byName = make(map[string]*Entity)
	idx.byType = make(map[string]map[string]bool)
	idx.lowercase = make(map[string]lowercaseFields)
	idx.relFrom = make(map[string]map[RelationKey]*Relation)
	idx.relTo = make(map[string]map[RelationKey]*Relation)
	idx.observation = make(map[string]map[string]bool)
	idx.wordsByName = make(map[string]map[string]bool)
	idx.docFreq = make(map[string]int)
	idx.totalDocs = 0

	for _, e := range g.Entities {
		idx.addEntityLocked(e)
	}
	for _, r := range g.Relations {
		idx.addRelationLocked(r)
	}
}

func (idx *Index) addEntityLocked(e *Entity) {
	idx.byName[e.Name] = e

	typeLower := strings.ToLower(e.EntityType)
	if idx.byType[typeLower] == nil {
		idx.byType[typeLower] = make(map[string]bool)
	}
	idx.byType[typeLower][e.Name] = true

	obsLower := make([]string, len(e.Observations))
	for i, o := range e.Observations {
		obsLower[i] = strings.ToLower(o)
	}
	tagsLower := make([]string, len(e.Tags))
	for i, t := range e.Tags {
		tagsLower[i] = strings.ToLower(t)
	}
	idx.lowercase[e.Name] = lowercaseFields{
		nameLower:         strings.ToLower(e.Name),
		typeLower:         typeLower,
		observationsLower: obsLower,
		tagsLower:         tagsLower,
	}

	words := tokenizeObservations(e.Observations)
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[w] = true
	}
	idx.wordsByName[e.Name] = seen
	for w := range seen {
		if idx.observation[w] == nil {
			idx.observation[w] = make(map[string]bool)
		}
		idx.observation[w][e.Name] = true
		idx.docFreq[w]++
	}
	idx.totalDocs++
}

// AddEntity incorporates a newly created entity into every index.
func (idx *Index) AddEntity(e *Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addEntityLocked(e)
}

func (idx *Index) removeEntityLocked(name string) {
	e, ok := idx.byName[name]
	if !ok {
		return
	}
	delete(idx.byName, name)

	typeLower := strings.ToLower(e.EntityType)
	if set, ok := idx.byType[typeLower]; ok {
		delete(set, name)
		if len(set) == 0 {
			delete(idx.byType, typeLower)
		}
	}
	delete(idx.lowercase, name)

	if words, ok := idx.wordsByName[name]; ok {
		for w := range words {
			if set, ok := idx.observation[w]; ok {
				delete(set, name)
				if len(set) == 0 {
					delete(idx.observation, w)
				}
			}
			idx.docFreq[w]--
			if idx.docFreq[w] <= 0 {
				delete(idx.docFreq, w)
			}
		}
		delete(idx.wordsByName, name)
	}
	idx.totalDocs--
	if idx.totalDocs < 0 {
		idx.totalDocs = 0
	}
}

// RemoveEntity drops name from every index.
func (idx *Index) RemoveEntity(name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeEntityLocked(name)
}

// UpdateEntity replaces previous's index entries with updated's,
// preserving accurate document-frequency bookkeeping.
func (idx *Index) UpdateEntity(previous, updated *Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeEntityLocked(previous.Name)
	idx.addEntityLocked(updated)
}

func (idx *Index) addRelationLocked(r *Relation) {
	if idx.relFrom[r.From] == nil {
		idx.relFrom[r.From] = make(map[RelationKey]*Relation)
	}
	idx.relFrom[r.From][r.Key()] = r
	if idx.relTo[r.To] == nil {
		idx.relTo[r.To] = make(map[RelationKey]*Relation)
	}
	idx.relTo[r.To][r.Key()] = r
}

// AddRelation incorporates a newly created relation.
func (idx *Index) AddRelation(r *Relation) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addRelationLocked(r)
}

// RemoveRelation drops a relation from the dual from/to maps.
func (idx *Index) RemoveRelation(r *Relation) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if set, ok := idx.relFrom[r.From]; ok {
		delete(set, r.Key())
		if len(set) == 0 {
			delete(idx.relFrom, r.From)
		}
	}
	if set, ok := idx.relTo[r.To]; ok {
		delete(set, r.Key())
		if len(set) == 0 {
			delete(idx.relTo, r.To)
		}
	}
}

// GetByName returns the entity for name, if present.
func (idx *Index) GetByName(name string) (*Entity, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byName[name]
	return e, ok
}

// GetByType returns the names of every entity whose type matches
// (case-insensitive).
func (idx *Index) GetByType(entityType string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.byType[strings.ToLower(entityType)]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

// Lowercase returns the precomputed lowercase fields for name.
func (idx *Index) Lowercase(name string) (lowercaseFields, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	f, ok := idx.lowercase[name]
	return f, ok
}

// RelationsFor returns the union (self-loop-deduplicated) of
// relations where name is either endpoint.
func (idx *Index) RelationsFor(name string) []*Relation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	seen := make(map[RelationKey]*Relation)
	for k, r := range idx.relFrom[name] {
		seen[k] = r
	}
	for k, r := range idx.relTo[name] {
		seen[k] = r
	}
	out := make([]*Relation, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	return out
}

// RelationsFrom returns the relations whose From endpoint is name.
func (idx *Index) RelationsFrom(name string) []*Relation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.relFrom[name]
	out := make([]*Relation, 0, len(set))
	for _, r := range set {
		out = append(out, r)
	}
	return out
}

// PostingsFor returns the set of entity names whose observations
// contain token.
func (idx *Index) PostingsFor(token string) map[string]bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	src := idx.observation[token]
	out := make(map[string]bool, len(src))
	for k := range src {
		out[k] = true
	}
	return out
}

// ContainsToken reports whether e's observations contain t, per the
// universal invariant in §8.
func (idx *Index) ContainsToken(name, token string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.observation[token][name]
}

// DocFreq returns the document frequency of token and the total
// document count, for TF-IDF scoring.
func (idx *Index) DocFreq(token string) (df, totalDocs int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docFreq[token], idx.totalDocs
}

// AllNames returns every indexed entity name.
func (idx *Index) AllNames() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.byName))
	for name := range idx.byName {
		out = append(out, name)
	}
	return out
}

// Size returns the number of indexed entities.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byName)
}
