package traversal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/sapptrace/tracegraph"
)

func TestWalk_ForwardPropagatesThroughLeafMapping(t *testing.T) {
	graph := tracegraph.NewStore()
	a := graph.GetOrAddSharedText(tracegraph.KindCallable, "a")
	b := graph.GetOrAddSharedText(tracegraph.KindCallable, "b")
	c := graph.GetOrAddSharedText(tracegraph.KindCallable, "c")
	leaf := graph.GetOrAddSharedText(tracegraph.KindSource, "UserInput")

	first := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: a.ID, CallerPort: "root", CalleeID: b.ID, CalleePort: "p1",
		LeafMapping: []tracegraph.LeafMapping{{CallerLeaf: leaf.ID, CalleeLeaf: leaf.ID, Transform: leaf.ID}},
	})
	second := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: b.ID, CallerPort: "p1", CalleeID: c.ID, CalleePort: "leaf",
		LeafMapping: []tracegraph.LeafMapping{{CallerLeaf: leaf.ID, CalleeLeaf: leaf.ID, Transform: leaf.ID}},
	})

	memo := NewFeatureMemo()
	visitedFrames := make(map[tracegraph.LocalID]bool)

	Walk(
		graph,
		Forward,
		[]queueSeed{Seed(first, NewKindSet([]tracegraph.LocalID{leaf.ID}, SetOfOne(leaf.ID)))},
		memo,
		func(frame *tracegraph.TraceFrame, payload Payload) Payload {
			ks := payload.(KindSet)
			next := make(KindSet)
			for _, lm := range frame.LeafMapping {
				if leaves, ok := ks[lm.CallerLeaf]; ok {
					next[lm.CalleeLeaf] = leaves
				}
			}
			return next
		},
		func(frame *tracegraph.TraceFrame, payload Payload) {
			visitedFrames[frame.ID] = true
		},
	)

	assert.True(t, visitedFrames[first.ID], "seed frame itself is visited")
	assert.True(t, visitedFrames[second.ID], "successor frame reached via leaf_mapping is visited")
}

func TestWalk_EmptyLeafMappingPrunesSubtree(t *testing.T) {
	graph := tracegraph.NewStore()
	a := graph.GetOrAddSharedText(tracegraph.KindCallable, "a")
	b := graph.GetOrAddSharedText(tracegraph.KindCallable, "b")
	c := graph.GetOrAddSharedText(tracegraph.KindCallable, "c")
	leaf := graph.GetOrAddSharedText(tracegraph.KindSource, "UserInput")

	first := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: a.ID, CallerPort: "root", CalleeID: b.ID, CalleePort: "p1",
		// no leaf_mapping: this frame forwards nothing
	})
	second := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: b.ID, CallerPort: "p1", CalleeID: c.ID, CalleePort: "leaf",
	})

	memo := NewFeatureMemo()
	visitedFrames := make(map[tracegraph.LocalID]bool)

	Walk(
		graph,
		Forward,
		[]queueSeed{Seed(first, NewKindSet([]tracegraph.LocalID{leaf.ID}, SetOfOne(leaf.ID)))},
		memo,
		func(frame *tracegraph.TraceFrame, payload Payload) Payload {
			ks := payload.(KindSet)
			next := make(KindSet)
			for _, lm := range frame.LeafMapping {
				if leaves, ok := ks[lm.CallerLeaf]; ok {
					next[lm.CalleeLeaf] = leaves
				}
			}
			return next
		},
		func(frame *tracegraph.TraceFrame, payload Payload) {
			visitedFrames[frame.ID] = true
		},
	)

	assert.True(t, visitedFrames[first.ID])
	assert.False(t, visitedFrames[second.ID], "empty leaf_mapping on first must prune the walk before reaching second")
}

func TestFeatureMemo_SubtractRemovesAlreadyVisitedLeaves(t *testing.T) {
	memo := NewFeatureMemo()
	frameID := tracegraph.LocalID(1)
	kind := tracegraph.LocalID(10)
	leafA := tracegraph.LocalID(100)
	leafB := tracegraph.LocalID(200)

	first := KindSet{kind: {leafA: {}, leafB: {}}}
	memo.Visit(frameID, first)

	remaining := memo.Subtract(frameID, KindSet{kind: {leafA: {}, leafB: {}}})
	assert.Empty(t, remaining.(KindSet), "both leaves already visited for this frame+kind")

	fresh := tracegraph.LocalID(300)
	partial := memo.Subtract(frameID, KindSet{kind: {leafA: {}, fresh: {}}})
	ks := partial.(KindSet)
	require.Contains(t, ks, kind)
	assert.Contains(t, ks[kind], fresh)
	assert.NotContains(t, ks[kind], leafA)
}

func TestDistanceMemo_MinCombineAndFeaturePinning(t *testing.T) {
	isFeature := func(id tracegraph.LocalID) bool { return id == 999 }
	memo := NewDistanceMemo(isFeature)
	frameID := tracegraph.LocalID(1)
	kind := tracegraph.LocalID(10)
	source := tracegraph.LocalID(100)
	feature := tracegraph.LocalID(999)

	memo.VisitAt(frameID, 5, DistancePayload{kind: {source: {}, feature: {}}})
	visited := memo.Visited()
	assert.Equal(t, 5, visited[frameID][kind][source])
	assert.Equal(t, 0, visited[frameID][kind][feature], "feature leaves pin to distance 0 regardless of hop count")

	// a shorter trace length should still be picked up as "remaining" work
	remaining := memo.SubtractAt(frameID, 2, DistancePayload{kind: {source: {}}})
	assert.Contains(t, remaining[kind], source, "shorter distance than the recorded minimum must still propagate")

	// an equal-or-longer trace length contributes nothing new
	noop := memo.SubtractAt(frameID, 5, DistancePayload{kind: {source: {}}})
	assert.Empty(t, noop)
}
