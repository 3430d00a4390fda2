package traversal

import "github.com/viant/sapptrace/tracegraph"

// KindSet is a Payload mapping a taint-kind id to the set of leaf-kind ids
// propagating under it. It implements the feature-propagation memo
// discipline: once a (frame, kind, leaf) triple has been visited, it is
// never revisited, regardless of how many paths reach it.
type KindSet map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}

// IsEmpty implements Payload.
func (k KindSet) IsEmpty() bool { return len(k) == 0 }

// NewKindSet builds a KindSet from kind ids, each mapped to the same set of
// leaf ids - the shape produced when seeding a walk from a frame's caller
// leaf kinds.
func NewKindSet(kinds []tracegraph.LocalID, leaves map[tracegraph.LocalID]struct{}) KindSet {
	result := make(KindSet, len(kinds))
	for _, k := range kinds {
		result[k] = leaves
	}
	return result
}

// SetOfOne returns a single-element leaf set, a convenience for seeding.
func SetOfOne(id tracegraph.LocalID) map[tracegraph.LocalID]struct{} {
	return map[tracegraph.LocalID]struct{}{id: {}}
}

// FeatureMemo implements Memo using set subtraction: Subtract removes, for
// each kind, any leaf already recorded as visited for that frame+kind.
type FeatureMemo struct {
	visited map[tracegraph.LocalID]KindSet
}

// NewFeatureMemo returns an empty FeatureMemo.
func NewFeatureMemo() *FeatureMemo {
	return &FeatureMemo{visited: make(map[tracegraph.LocalID]KindSet)}
}

// Subtract implements Memo.
func (m *FeatureMemo) Subtract(frameID tracegraph.LocalID, payload Payload) Payload {
	toPropagate := payload.(KindSet)
	visited, ok := m.visited[frameID]
	if !ok {
		return toPropagate
	}
	result := make(KindSet)
	for kind, leaves := range toPropagate {
		remaining := leaves
		if visitedLeaves, ok := visited[kind]; ok {
			remaining = make(map[tracegraph.LocalID]struct{})
			for leaf := range leaves {
				if _, seen := visitedLeaves[leaf]; !seen {
					remaining[leaf] = struct{}{}
				}
			}
		}
		if len(remaining) > 0 {
			result[kind] = remaining
		}
	}
	return result
}

// Visit implements Memo.
func (m *FeatureMemo) Visit(frameID tracegraph.LocalID, payload Payload) {
	kindMap := payload.(KindSet)
	visited, ok := m.visited[frameID]
	if !ok {
		visited = make(KindSet)
		m.visited[frameID] = visited
	}
	for kind, leaves := range kindMap {
		existing, ok := visited[kind]
		if !ok {
			existing = make(map[tracegraph.LocalID]struct{})
			visited[kind] = existing
		}
		for leaf := range leaves {
			existing[leaf] = struct{}{}
		}
	}
}

// Visited returns everything recorded so far, for callers that need to
// materialize assocs once the walk is complete.
func (m *FeatureMemo) Visited() map[tracegraph.LocalID]KindSet {
	return m.visited
}

// DistancePayload is a Payload mapping a sink/source kind id to the set of
// leaf ids propagating under it. The trace length of the hop is not part of
// the payload; it is passed separately to SubtractAt/VisitAt.
type DistancePayload map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}

// IsEmpty implements Payload.
func (d DistancePayload) IsEmpty() bool { return len(d) == 0 }

const unvisitedDistance = 999999

// DistanceMemo implements Memo using min-combine: a (frame, kind, leaf)
// triple keeps the smallest trace length at which it was ever discovered.
// Features (as opposed to sources) are always recorded at distance 0,
// matching the upstream convention that feature propagation does not care
// about trace length.
type DistanceMemo struct {
	isFeature func(leafID tracegraph.LocalID) bool
	visited   map[tracegraph.LocalID]map[tracegraph.LocalID]map[tracegraph.LocalID]int
}

// NewDistanceMemo returns an empty DistanceMemo. isFeature classifies a
// SharedText id as a feature (distance pinned to 0) vs. a source/sink
// (distance tracked normally).
func NewDistanceMemo(isFeature func(leafID tracegraph.LocalID) bool) *DistanceMemo {
	return &DistanceMemo{
		isFeature: isFeature,
		visited:   make(map[tracegraph.LocalID]map[tracegraph.LocalID]map[tracegraph.LocalID]int),
	}
}

// distanceState pairs a payload with the trace length it arrived at; Walk's
// generic Payload interface only carries the kind map, so distance-aware
// callers track the length alongside and hand it to SubtractAt/VisitAt.
type distanceState struct {
	payload     DistancePayload
	traceLength int
}

// SubtractAt mirrors Memo.Subtract but additionally takes the trace length
// of the current hop, since distance propagation prunes based on whether
// the incoming trace is shorter than what is already recorded.
func (m *DistanceMemo) SubtractAt(frameID tracegraph.LocalID, traceLength int, payload DistancePayload) DistancePayload {
	visited, ok := m.visited[frameID]
	if !ok {
		return payload
	}
	result := make(DistancePayload)
	for kind, leaves := range payload {
		lengths, hasKind := visited[kind]
		remaining := make(map[tracegraph.LocalID]struct{}, len(leaves))
		for leaf := range leaves {
			best := unvisitedDistance
			if hasKind {
				if l, ok := lengths[leaf]; ok {
					best = l
				}
			}
			if traceLength < best {
				remaining[leaf] = struct{}{}
			}
		}
		if len(remaining) > 0 {
			result[kind] = remaining
		}
	}
	return result
}

// VisitAt records payload as visited for frameID at traceLength, pinning
// feature leaves to distance 0 regardless of the actual trace length.
func (m *DistanceMemo) VisitAt(frameID tracegraph.LocalID, traceLength int, payload DistancePayload) {
	visited, ok := m.visited[frameID]
	if !ok {
		visited = make(map[tracegraph.LocalID]map[tracegraph.LocalID]int)
		m.visited[frameID] = visited
	}
	for kind, leaves := range payload {
		lengths, ok := visited[kind]
		if !ok {
			lengths = make(map[tracegraph.LocalID]int)
			visited[kind] = lengths
		}
		for leaf := range leaves {
			useLength := traceLength
			if m.isFeature != nil && m.isFeature(leaf) {
				useLength = 0
			}
			if old, seen := lengths[leaf]; !seen || useLength < old {
				lengths[leaf] = useLength
			}
		}
	}
}

// Visited exposes the recorded state for assoc materialization.
func (m *DistanceMemo) Visited() map[tracegraph.LocalID]map[tracegraph.LocalID]map[tracegraph.LocalID]int {
	return m.visited
}

// Subtract and Visit satisfy the Memo interface for callers that only need
// untagged (non-distance-aware) pruning; distance-propagation callers
// should prefer SubtractAt/VisitAt directly since the generic Walk loop
// does not thread a trace length. PropagateSharedTexts implements its own
// queue loop rather than using Walk for this reason - see propagate package.
func (m *DistanceMemo) Subtract(frameID tracegraph.LocalID, payload Payload) Payload {
	return m.SubtractAt(frameID, 0, payload.(DistancePayload))
}

func (m *DistanceMemo) Visit(frameID tracegraph.LocalID, payload Payload) {
	m.VisitAt(frameID, 0, payload.(DistancePayload))
}
