package propagate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/sapptrace/pipeline"
	"github.com/viant/sapptrace/tracegraph"
)

func TestPropagateContextToLeafFrames_AddsContextFeatureAtLeafPort(t *testing.T) {
	graph := tracegraph.NewStore()
	a := graph.GetOrAddSharedText(tracegraph.KindCallable, "a")
	b := graph.GetOrAddSharedText(tracegraph.KindCallable, "b")
	c := graph.GetOrAddSharedText(tracegraph.KindCallable, "c")
	category := graph.GetOrAddSharedText(tracegraph.KindSource, "cat")
	feature := graph.GetOrAddSharedText(tracegraph.KindFeature, "always-debug")

	issue := graph.AddIssue(tracegraph.Issue{Handle: "h1", Code: 1002})
	instance := graph.AddIssueInstance(tracegraph.IssueInstance{IssueID: issue.ID})
	graph.AttachInstanceSharedText(instance.ID, tracegraph.KindFeature, feature.ID)

	first := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: a.ID, CallerPort: "root", CalleeID: b.ID, CalleePort: "p1",
		LeafMapping: []tracegraph.LeafMapping{{CallerLeaf: category.ID, CalleeLeaf: category.ID}},
	})
	graph.AttachInstanceFrame(instance.ID, first.ID)

	leaf := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: b.ID, CallerPort: "p1", CalleeID: c.ID, CalleePort: "leaf",
	})

	step := NewPropagateContextToLeafFrames(nil, 1002, "always-debug", tracegraph.Postcondition)
	_, _, err := step.Run(graph, pipeline.NewSummary())
	require.NoError(t, err)

	expected := graph.GetOrAddSharedText(tracegraph.KindFeature, "context-debug")
	leaves := graph.GetTraceFrameLeaves(leaf.ID)
	assert.Contains(t, leaves, expected.ID)
}

func TestPropagateContextToLeafFrames_SkipsNonMatchingIssueCode(t *testing.T) {
	graph := tracegraph.NewStore()
	a := graph.GetOrAddSharedText(tracegraph.KindCallable, "a")
	b := graph.GetOrAddSharedText(tracegraph.KindCallable, "b")
	category := graph.GetOrAddSharedText(tracegraph.KindSource, "cat")
	feature := graph.GetOrAddSharedText(tracegraph.KindFeature, "always-debug")

	issue := graph.AddIssue(tracegraph.Issue{Handle: "h2", Code: 9999})
	instance := graph.AddIssueInstance(tracegraph.IssueInstance{IssueID: issue.ID})
	graph.AttachInstanceSharedText(instance.ID, tracegraph.KindFeature, feature.ID)

	leaf := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: a.ID, CallerPort: "root", CalleeID: b.ID, CalleePort: "leaf",
		LeafMapping: []tracegraph.LeafMapping{{CallerLeaf: category.ID, CalleeLeaf: category.ID}},
	})
	graph.AttachInstanceFrame(instance.ID, leaf.ID)

	step := NewPropagateContextToLeafFrames(nil, 1002, "always-debug", tracegraph.Postcondition)
	_, _, err := step.Run(graph, pipeline.NewSummary())
	require.NoError(t, err)

	assert.Empty(t, graph.GetTraceFrameLeaves(leaf.ID))
}
