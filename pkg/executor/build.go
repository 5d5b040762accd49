package executor

import (
	"sort"

	"github.com/orf/docker-repack/pkg/planner"
)

// BuildOperations turns a completed plan into the list of Operations the
// executor will replay, one per PlannedItem in every bin.
func BuildOperations(plan *planner.Plan) []Operation {
	var ops []Operation
	for _, bin := range plan.Bins {
		for _, pi := range bin.Items {
			op := Operation{
				Source:       pi.Item.LayerID,
				HeaderOffset: pi.Item.HeaderOffset,
				Dest:         bin.ID,
				SortKey:      pi.Item.Kind,
			}
			if pi.IsChunk {
				op.Type = OpWritePartial
				op.Range = pi.Range
				op.NewPath = pi.SyntheticTo
			} else {
				op.Type = OpWriteWhole
			}
			ops = append(ops, op)
		}
	}
	sortOperations(ops)
	return ops
}

// sortOperations orders by (dest, sort_key, source), per original spec
// §4.5 step 1.
func sortOperations(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Dest != ops[j].Dest {
			return ops[i].Dest < ops[j].Dest
		}
		ri, rj := ops[i].SortKey.SortRank(), ops[j].SortKey.SortRank()
		if ri != rj {
			return ri < rj
		}
		return ops[i].Source < ops[j].Source
	})
}

// groupBySource partitions ops by source layer, preserving each source's
// relative order from the prior global sort (original spec §4.5 step 2).
func groupBySource(ops []Operation) map[int][]Operation {
	groups := make(map[int][]Operation)
	for _, op := range ops {
		key := int(op.Source)
		groups[key] = append(groups[key], op)
	}
	return groups
}
