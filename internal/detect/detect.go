package detect

import (
	"sort"

	"kai-model/internal/graph"
	"kai-model/internal/ids"
)

// Changes compares base and head. A node is changed when it was added or
// removed, when its weight differs, or when its outgoing edges differ. The
// result is ordered by id. A nil base is treated as empty.
func Changes(base, head *graph.WorkspaceSnapshotGraph) []Change {
	if base == nil {
		base = graph.New()
	}
	if head == nil {
		head = graph.New()
	}

	baseNodes := indexByID(base.NodeWeights())
	headNodes := indexByID(head.NodeWeights())

	var changes []Change
	for id, hw := range headNodes {
		bw, ok := baseNodes[id]
		switch {
		case !ok:
			changes = append(changes, Change{ID: id, EntityKind: hw.Kind(), Action: ActionAdded})
		case !bw.Equal(hw) || !sameEdges(base.OutgoingEdgeRecords(id), head.OutgoingEdgeRecords(id)):
			changes = append(changes, Change{ID: id, EntityKind: hw.Kind(), Action: ActionModified})
		}
	}
	for id, bw := range baseNodes {
		if _, ok := headNodes[id]; !ok {
			changes = append(changes, Change{ID: id, EntityKind: bw.Kind(), Action: ActionRemoved})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return ids.Compare(changes[i].ID, changes[j].ID) < 0
	})
	return changes
}

func indexByID(weights []graph.NodeWeight) map[ids.ID]graph.NodeWeight {
	m := make(map[ids.ID]graph.NodeWeight, len(weights))
	for _, w := range weights {
		m[w.ID()] = w
	}
	return m
}

func sameEdges(a, b []graph.EdgeRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
