package propagate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/sapptrace/pipeline"
	"github.com/viant/sapptrace/tracegraph"
)

func TestPropagateSharedTexts_PropagatesSourceKindToSinkFrame(t *testing.T) {
	graph := tracegraph.NewStore()
	a := graph.GetOrAddSharedText(tracegraph.KindCallable, "a")
	b := graph.GetOrAddSharedText(tracegraph.KindCallable, "b")
	c := graph.GetOrAddSharedText(tracegraph.KindCallable, "c")
	sourceLeaf := graph.GetOrAddSharedText(tracegraph.KindSource, "UserInput")
	sinkKind := graph.GetOrAddSharedText(tracegraph.KindSink, "SQL")

	issue := graph.AddIssue(tracegraph.Issue{Handle: "h1", Code: 1})
	instance := graph.AddIssueInstance(tracegraph.IssueInstance{IssueID: issue.ID})

	post := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: a.ID, CallerPort: "root", CalleeID: b.ID, CalleePort: "p1",
		LeafMapping: []tracegraph.LeafMapping{{CallerLeaf: sourceLeaf.ID, CalleeLeaf: sourceLeaf.ID}},
	})
	graph.AttachInstanceFrame(instance.ID, post.ID)

	pre := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Precondition, CallerID: b.ID, CallerPort: "p1", CalleeID: c.ID, CalleePort: "sink1",
		LeafMapping: []tracegraph.LeafMapping{{CallerLeaf: sinkKind.ID, CalleeLeaf: sinkKind.ID}},
	})
	graph.AttachInstanceFrame(instance.ID, pre.ID)

	step := NewPropagateSharedTexts(nil, true, false)
	_, _, err := step.Run(graph, pipeline.NewSummary())
	require.NoError(t, err)

	leaves := graph.GetTraceFrameLeaves(pre.ID)
	require.Contains(t, leaves, sourceLeaf.ID)
	require.NotNil(t, leaves[sourceLeaf.ID])
	assert.Equal(t, 0, *leaves[sourceLeaf.ID])
}

func TestPropagateSharedTexts_PinsFeatureOnAnchorPortOnly(t *testing.T) {
	graph := tracegraph.NewStore()
	b := graph.GetOrAddSharedText(tracegraph.KindCallable, "b")
	c := graph.GetOrAddSharedText(tracegraph.KindCallable, "c")
	sinkKind := graph.GetOrAddSharedText(tracegraph.KindSink, "SQL")
	feature := graph.GetOrAddSharedText(tracegraph.KindFeature, "always-debug")

	issue := graph.AddIssue(tracegraph.Issue{Handle: "h2", Code: 2})
	instance := graph.AddIssueInstance(tracegraph.IssueInstance{IssueID: issue.ID})
	graph.AttachInstanceSharedText(instance.ID, tracegraph.KindFeature, feature.ID)

	anchor := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Precondition, CallerID: b.ID, CallerPort: "p1", CalleeID: c.ID, CalleePort: "anchor:out",
		LeafMapping: []tracegraph.LeafMapping{{CallerLeaf: sinkKind.ID, CalleeLeaf: sinkKind.ID}},
	})
	graph.AttachInstanceFrame(instance.ID, anchor.ID)

	step := NewPropagateSharedTexts(nil, false, true)
	_, _, err := step.Run(graph, pipeline.NewSummary())
	require.NoError(t, err)

	leaves := graph.GetTraceFrameLeaves(anchor.ID)
	require.Contains(t, leaves, feature.ID)
	assert.Nil(t, leaves[feature.ID], "features pin at a distance-independent depth")
}
