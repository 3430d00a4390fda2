package propagate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/sapptrace/pipeline"
	"github.com/viant/sapptrace/tracegraph"
)

func TestAddReverseTraces_WalksOnlyFramesCarryingOrigLeaf(t *testing.T) {
	graph := tracegraph.NewStore()
	callable := graph.GetOrAddSharedText(tracegraph.KindCallable, "handler")
	issue := graph.AddIssue(tracegraph.Issue{Handle: "h1", Code: 1001})
	instance := graph.AddIssueInstance(tracegraph.IssueInstance{IssueID: issue.ID})

	origLeaf := graph.GetOrAddSharedText(tracegraph.KindSource, "UserInput")

	first := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: callable.ID, CallerPort: "root",
		CalleeID: callable.ID, CalleePort: "p1",
	})
	graph.AttachInstanceFrame(instance.ID, first.ID)
	graph.AddTraceFrameLeafAssoc(first, origLeaf.ID, nil)

	second := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: callable.ID, CallerPort: "p1",
		CalleeID: callable.ID, CalleePort: "leaf",
	})
	graph.AddTraceFrameLeafAssoc(second, origLeaf.ID, nil)

	// a sibling frame at a different call site that never carries orig_leaf
	unrelated := graph.AddTraceFrame(tracegraph.TraceFrame{
		Kind: tracegraph.Postcondition, CallerID: callable.ID, CallerPort: "p1",
		CalleeID: callable.ID, CalleePort: "other",
	})

	step := NewAddReverseTraces(nil, 1001, "UserInput", tracegraph.KindSource, "UserInputReverse", tracegraph.KindSink)
	_, _, err := step.Run(graph, pipeline.NewSummary())
	require.NoError(t, err)

	newLeaf := graph.GetOrAddSharedText(tracegraph.KindSink, "UserInputReverse")

	firstLeaves := graph.GetTraceFrameLeaves(first.ID)
	require.Contains(t, firstLeaves, newLeaf.ID)
	assert.Equal(t, 0, *firstLeaves[newLeaf.ID])

	secondLeaves := graph.GetTraceFrameLeaves(second.ID)
	require.Contains(t, secondLeaves, newLeaf.ID)
	assert.Equal(t, 1, *secondLeaves[newLeaf.ID])

	unrelatedLeaves := graph.GetTraceFrameLeaves(unrelated.ID)
	assert.NotContains(t, unrelatedLeaves, newLeaf.ID, "frames never carrying orig_leaf must not receive the reverse leaf")
}

func TestAddReverseTraces_IgnoresIssuesWithDifferentCode(t *testing.T) {
	graph := tracegraph.NewStore()
	callable := graph.GetOrAddSharedText(tracegraph.KindCallable, "handler")
	issue := graph.AddIssue(tracegraph.Issue{Handle: "h2", Code: 2002})
	instance := graph.AddIssueInstance(tracegraph.IssueInstance{IssueID: issue.ID})
	origLeaf := graph.GetOrAddSharedText(tracegraph.KindSource, "UserInput")

	frame := graph.AddTraceFrame(tracegraph.TraceFrame{Kind: tracegraph.Postcondition, CallerID: callable.ID, CallerPort: "root"})
	graph.AttachInstanceFrame(instance.ID, frame.ID)
	graph.AddTraceFrameLeafAssoc(frame, origLeaf.ID, nil)

	step := NewAddReverseTraces(nil, 1001, "UserInput", tracegraph.KindSource, "UserInputReverse", tracegraph.KindSink)
	_, _, err := step.Run(graph, pipeline.NewSummary())
	require.NoError(t, err)

	newLeaf := graph.GetOrAddSharedText(tracegraph.KindSink, "UserInputReverse")
	assert.NotContains(t, graph.GetTraceFrameLeaves(frame.ID), newLeaf.ID)
}
