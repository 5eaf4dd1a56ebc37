package kgraph

import (
	"strings"
	"time"
)

// Filter is the uniform tag/importance/type/date filter consumed by
// every search (C3). All fields are optional; an entity must satisfy
// every specified field.
type Filter struct {
	Tags           []string // any-of, case-insensitive
	MinImportance  *float64
	MaxImportance  *float64
	EntityType     string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	ModifiedAfter  *time.Time
	ModifiedBefore *time.Time
}

// active reports whether any filter field is set, enabling the
// early-exit path when no filter is active.
func (f *Filter) active() bool {
	if f == nil {
		return false
	}
	return len(f.Tags) > 0 || f.MinImportance != nil || f.MaxImportance != nil ||
		f.EntityType != "" || f.CreatedAfter != nil || f.CreatedBefore != nil ||
		f.ModifiedAfter != nil || f.ModifiedBefore != nil
}

// Matches reports whether e satisfies every specified field of f.
func (f *Filter) Matches(e *Entity) bool {
	if !f.active() {
		return true
	}
	if len(f.Tags) > 0 && !matchesAnyTag(e.Tags, f.Tags) {
		return false
	}
	if f.MinImportance != nil || f.MaxImportance != nil {
		if e.Importance == nil {
			// An entity without importance passes only if both
			// bounds are absent or zero-inclusive, i.e. [0,0].
			zeroBounds := (f.MinImportance == nil || *f.MinImportance == 0) &&
				(f.MaxImportance == nil || *f.MaxImportance == 0)
			if !zeroBounds {
				return false
			}
		} else {
			v := *e.Importance
			if f.MinImportance != nil && v < *f.MinImportance {
				return false
			}
			if f.MaxImportance != nil && v > *f.MaxImportance {
				return false
			}
		}
	}
	if f.EntityType != "" && !strings.EqualFold(e.EntityType, f.EntityType) {
		return false
	}
	if f.CreatedAfter != nil {
		if e.CreatedAt.IsZero() || e.CreatedAt.Before(*f.CreatedAfter) {
			return false
		}
	}
	if f.CreatedBefore != nil {
		if e.CreatedAt.IsZero() || e.CreatedAt.After(*f.CreatedBefore) {
			return false
		}
	}
	if f.ModifiedAfter != nil {
		if e.LastModified.IsZero() || e.LastModified.Before(*f.ModifiedAfter) {
			return false
		}
	}
	if f.ModifiedBefore != nil {
		if e.LastModified.IsZero() || e.LastModified.After(*f.ModifiedBefore) {
			return false
		}
	}
	return true
}

// matchesAnyTag resolves tag aliases at this single comparison point
// (see DESIGN.md Open Question 3): tags are stored with original case
// preserved, and matched here case-insensitively against the filter's
// requested tags.
func matchesAnyTag(entityTags, wanted []string) bool {
	lower := make(map[string]bool, len(entityTags))
	for _, t := range entityTags {
		lower[strings.ToLower(t)] = true
	}
	for _, w := range wanted {
		if lower[strings.ToLower(w)] {
			return true
		}
	}
	return false
}

// FilterEntities returns the subset of entities matching f, preserving
// input order.
func FilterEntities(entities []*Entity, f *Filter) []*Entity {
	if !f.active() {
		return entities
	}
	out := make([]*Entity, 0, len(entities))
	for _, e := range entities {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Page describes validated, clamped pagination parameters.
type Page struct {
	Offset int
	Limit  int
}

// Paginate validates offset >= 0 and clamps limit into
// [limits.Min, limits.Max], defaulting to limits.Default when limit
// is zero.
func Paginate(offset, limit int, limits SearchLimits) Page {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = limits.Default
	}
	if limit < limits.Min {
		limit = limits.Min
	}
	if limit > limits.Max {
		limit = limits.Max
	}
	return Page{Offset: offset, Limit: limit}
}

// HasMore reports whether more results exist beyond this page, given
// the total number of matching results.
func (p Page) HasMore(total int) bool {
	return p.Offset+p.Limit < total
}

// Apply slices entities according to the page, clamping to bounds.
func (p Page) Apply(entities []*Entity) []*Entity {
	if p.Offset >= len(entities) {
		return nil
	}
	end := p.Offset + p.Limit
	if end > len(entities) {
		end = len(entities)
	}
	return entities[p.Offset:end]
}
