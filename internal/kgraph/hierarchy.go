package kgraph

import "context"

// SetEntityParent implements §4.8: validates both names exist (parent
// may be empty to clear), walks up from parent via ParentID checking
// for a cycle (self-parent included), then updates ParentID and
// LastModified. The cycle-detection walk is name-based — it follows
// ParentID string lookups, not pointers, per the design notes on
// encoding hierarchy with name-based foreign keys.
func SetEntityParent(ctx context.Context, store *Store, idx *Index, name, parent string) error {
	if _, ok := idx.GetByName(name); !ok {
		return wrapErr(KindEntityNotFound, name, nil)
	}
	if parent != "" {
		if _, ok := idx.GetByName(parent); !ok {
			return wrapErr(KindEntityNotFound, parent, nil)
		}
		if name == parent {
			return wrapErr(KindCycleDetected, name, nil)
		}
		visited := map[string]bool{name: true}
		cur := parent
		for cur != "" {
			if visited[cur] {
				return wrapErr(KindCycleDetected, name, nil)
			}
			visited[cur] = true
			e, ok := idx.GetByName(cur)
			if !ok {
				break // orphaned parent chain, not a cycle
			}
			cur = e.ParentID
		}
	}
	_, err := store.UpdateEntity(ctx, name, func(e *Entity) error {
		e.ParentID = parent
		return nil
	})
	return err
}

// GetParent returns name's parent entity, or nil if it has none or
// the parent name is orphaned (points at a non-existent entity).
func GetParent(idx *Index, name string) *Entity {
	e, ok := idx.GetByName(name)
	if !ok || e.ParentID == "" {
		return nil
	}
	parent, ok := idx.GetByName(e.ParentID)
	if !ok {
		return nil
	}
	return parent
}

// GetChildren returns every entity whose ParentID is name.
func GetChildren(g *Graph, name string) []*Entity {
	var out []*Entity
	for _, e := range g.Entities {
		if e.ParentID == name {
			out = append(out, e)
		}
	}
	return out
}

// GetAncestors returns the chain of ancestors from immediate parent
// to root, root last. Stops at the first orphaned or missing parent.
func GetAncestors(idx *Index, name string) []*Entity {
	var out []*Entity
	visited := map[string]bool{name: true}
	cur := name
	for {
		e, ok := idx.GetByName(cur)
		if !ok || e.ParentID == "" {
			return out
		}
		if visited[e.ParentID] {
			return out // defensive: a cycle should never reach here
		}
		parent, ok := idx.GetByName(e.ParentID)
		if !ok {
			return out
		}
		out = append(out, parent)
		visited[parent.Name] = true
		cur = parent.Name
	}
}

// GetDescendants returns every descendant of name in breadth-first
// order.
func GetDescendants(g *Graph, name string) []*Entity {
	var out []*Entity
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children := GetChildren(g, cur)
		for _, c := range children {
			out = append(out, c)
			queue = append(queue, c.Name)
		}
	}
	return out
}

// Subtree is an entity together with its descendants and the
// relations among them.
type Subtree struct {
	Root        *Entity
	Descendants []*Entity
	Relations   []*Relation
}

// GetSubtree returns name, its descendants, and the relations whose
// endpoints are both inside the subtree.
func GetSubtree(g *Graph, name string) (*Subtree, error) {
	root := findEntity(g, name)
	if root == nil {
		return nil, wrapErr(KindEntityNotFound, name, nil)
	}
	descendants := GetDescendants(g, name)
	names := namesSet(append([]*Entity{root}, descendants...))
	return &Subtree{Root: root, Descendants: descendants, Relations: relationsAmong(g, names)}, nil
}

// GetRootEntities returns every entity with no parent (including
// orphans whose ParentID points at a missing entity).
func GetRootEntities(g *Graph) []*Entity {
	names := namesSet(g.Entities)
	var out []*Entity
	for _, e := range g.Entities {
		if e.ParentID == "" || !names[e.ParentID] {
			out = append(out, e)
		}
	}
	return out
}

// GetEntityDepth returns the number of ancestors above name (0 for a
// root entity).
func GetEntityDepth(idx *Index, name string) int {
	return len(GetAncestors(idx, name))
}
