package frame

import (
	"sort"

	"kai-model/internal/ids"
	"kai-model/internal/inferred"
	"kai-model/internal/wsevent"
)

type pairSet = map[inferred.SocketAttributeValuePair]struct{}

// difference returns the pairs of a missing from every one of others.
func difference(a pairSet, others ...pairSet) pairSet {
	out := make(pairSet)
	for p := range a {
		missing := true
		for _, o := range others {
			if _, ok := o[p]; ok {
				missing = false
				break
			}
		}
		if missing {
			out[p] = struct{}{}
		}
	}
	return out
}

func union(sets ...pairSet) pairSet {
	out := make(pairSet)
	for _, s := range sets {
		for p := range s {
			out[p] = struct{}{}
		}
	}
	return out
}

// inputValues returns the attribute values of the input side of each pair,
// deduplicated and ordered by id.
func inputValues(sets ...pairSet) []ids.AttributeValueID {
	seen := make(map[ids.AttributeValueID]struct{})
	var out []ids.AttributeValueID
	for _, s := range sets {
		for p := range s {
			av := p.Input.AttributeValueID
			if _, ok := seen[av]; ok {
				continue
			}
			seen[av] = struct{}{}
			out = append(out, av)
		}
	}
	sort.Slice(out, func(i, j int) bool { return ids.Compare(out[i], out[j]) < 0 })
	return out
}

func removedEdges(removed pairSet) []wsevent.InferredEdge {
	edges := make([]wsevent.InferredEdge, 0, len(removed))
	for p := range removed {
		edges = append(edges, wsevent.InferredEdge{
			FromComponentID: p.Output.ComponentID,
			FromSocketID:    p.Output.OutputSocketID,
			ToComponentID:   p.Input.ComponentID,
			ToSocketID:      p.Input.InputSocketID,
			ToDelete:        true, // always true in RemoveInferredEdges
		})
	}
	return edges
}
