// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package placement builds the static table of which processors must not
// share a host, derived once from the job model at startup.
package placement

import (
	"sort"

	"github.com/streamworkers/dispatchcore/internal/processor"
)

// Table maps a processor id to the set of sibling ids -- its active plus
// all of that active's standbys, minus itself -- that must never be
// co-located with it on the same host. Built once; read-only thereafter.
type Table struct {
	constraints map[processor.ID]map[processor.ID]struct{}
}

// Build partitions ids by active id (an active and all of its standbys
// form one family) and returns a Table where each id maps to the rest of
// its family.
func Build(ids []processor.ID) *Table {
	families := map[processor.ID][]processor.ID{}
	for _, id := range ids {
		active := processor.ActiveOf(id)
		families[active] = append(families[active], id)
	}

	t := &Table{constraints: make(map[processor.ID]map[processor.ID]struct{}, len(ids))}
	for _, members := range families {
		for _, id := range members {
			siblings := make(map[processor.ID]struct{}, len(members)-1)
			for _, other := range members {
				if other != id {
					siblings[other] = struct{}{}
				}
			}
			t.constraints[id] = siblings
		}
	}
	return t
}

// Siblings returns the set of processor ids that must not share a host
// with id. The returned map must not be mutated by the caller.
func (t *Table) Siblings(id processor.ID) map[processor.ID]struct{} {
	return t.constraints[id]
}

// SortedSiblings returns id's siblings in deterministic (sorted) order,
// so repeated failover attempts over the same family are reproducible.
func (t *Table) SortedSiblings(id processor.ID) []processor.ID {
	siblings := t.constraints[id]
	out := make([]processor.ID, 0, len(siblings))
	for s := range siblings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Conflicts reports whether id and other belong to the same family (are
// each other's sibling, or the same id).
func (t *Table) Conflicts(id, other processor.ID) bool {
	if id == other {
		return true
	}
	_, ok := t.constraints[id][other]
	return ok
}
