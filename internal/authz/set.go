// Package authz tracks which items have an observed, item-scoped
// delegated-authority grant.
package authz

import "sort"

// Set is an immutable set of item ids. Operations return new sets and never
// modify their receiver or arguments.
type Set struct {
	ids map[string]struct{}
}

// NewSet builds a set from ids.
func NewSet(ids ...string) Set {
	s := Set{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Contains reports membership.
func (s Set) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s.ids)
}

// IDs returns the members in sorted order.
func (s Set) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Union returns s ∪ o.
func (s Set) Union(o Set) Set {
	out := Set{ids: make(map[string]struct{}, len(s.ids)+len(o.ids))}
	for id := range s.ids {
		out.ids[id] = struct{}{}
	}
	for id := range o.ids {
		out.ids[id] = struct{}{}
	}
	return out
}

// Difference returns s \ o.
func (s Set) Difference(o Set) Set {
	out := Set{ids: make(map[string]struct{}, len(s.ids))}
	for id := range s.ids {
		if !o.Contains(id) {
			out.ids[id] = struct{}{}
		}
	}
	return out
}

// Intersect returns s ∩ o.
func (s Set) Intersect(o Set) Set {
	out := Set{ids: make(map[string]struct{}, len(s.ids))}
	for id := range s.ids {
		if o.Contains(id) {
			out.ids[id] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets have the same members.
func (s Set) Equal(o Set) bool {
	if len(s.ids) != len(o.ids) {
		return false
	}
	for id := range s.ids {
		if !o.Contains(id) {
			return false
		}
	}
	return true
}

// SubsetOf reports whether every member of s is in o.
func (s Set) SubsetOf(o Set) bool {
	for id := range s.ids {
		if !o.Contains(id) {
			return false
		}
	}
	return true
}
