package propagate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/sapptrace/pipeline"
	"github.com/viant/sapptrace/tracegraph"
)

func TestMarkPartialFlows_MarksMatchingSpotOnPartialTrace(t *testing.T) {
	graph := tracegraph.NewStore()
	x := graph.GetOrAddSharedText(tracegraph.KindCallable, "x")
	y := graph.GetOrAddSharedText(tracegraph.KindCallable, "y")
	a2 := graph.GetOrAddSharedText(tracegraph.KindCallable, "a2")
	b2 := graph.GetOrAddSharedText(tracegraph.KindCallable, "b2")
	other := graph.GetOrAddSharedText(tracegraph.KindCallable, "other")
	transformText := graph.GetOrAddSharedText(tracegraph.KindSource, "Tx:99")

	fullIssue := graph.AddIssue(tracegraph.Issue{Handle: "full", Code: 1001})
	fullInstance := graph.AddIssueInstance(tracegraph.IssueInstance{IssueID: fullIssue.ID})

	preFull := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Precondition, CallerID: x.ID, CallerPort: "p1", CalleeID: y.ID, CalleePort: "sink",
		LeafMapping: []tracegraph.LeafMapping{{Transform: transformText.ID}},
	})
	graph.AttachInstanceFrame(fullInstance.ID, preFull.ID)

	postFull := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: a2.ID, CallerPort: "root", CalleeID: b2.ID, CalleePort: "p2",
	})
	graph.AttachInstanceFrame(fullInstance.ID, postFull.ID)

	partialIssue := graph.AddIssue(tracegraph.Issue{Handle: "partial", Code: 1002})
	partialInstance := graph.AddIssueInstance(tracegraph.IssueInstance{IssueID: partialIssue.ID})
	partialFrame := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: a2.ID, CallerPort: "root", CalleeID: other.ID, CalleePort: "px",
	})
	graph.AttachInstanceFrame(partialInstance.ID, partialFrame.ID)

	step := NewMarkPartialFlows(nil, []PartialFlowToMark{{
		FullIssueCode:      1001,
		PartialIssueCode:   1002,
		FullIssueTransform: "Tx",
		IsPrefixFlow:       true,
		Feature:            "partial-of-1001",
	}})
	_, _, err := step.Run(graph, pipeline.NewSummary())
	require.NoError(t, err)

	feature := graph.GetOrAddSharedText(tracegraph.KindFeature, "partial-of-1001")
	assert.Contains(t, graph.GetTraceFrameLeaves(partialFrame.ID), feature.ID)

	var names []string
	for _, f := range graph.GetIssueInstanceSharedTexts(partialInstance.ID, tracegraph.KindFeature) {
		names = append(names, f.Contents)
	}
	assert.Contains(t, names, "partial-of-1001")
}

func TestMarkPartialFlows_NoOpWhenNoFlowsConfigured(t *testing.T) {
	graph := tracegraph.NewStore()
	step := NewMarkPartialFlows(nil, nil)
	out, _, err := step.Run(graph, pipeline.NewSummary())
	require.NoError(t, err)
	assert.Same(t, graph, out)
}
