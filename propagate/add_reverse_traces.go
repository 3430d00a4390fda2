// Package propagate implements the five post-processing passes that flesh
// out a freshly ingested trace graph before it is trimmed and persisted:
// AddReverseTraces, PropagateSharedTexts, PropagateContextToLeafFrames,
// PropagateExtraFeaturesToInstances and MarkPartialFlows.
package propagate

import (
	"container/list"

	"github.com/sirupsen/logrus"

	"github.com/viant/sapptrace/pipeline"
	"github.com/viant/sapptrace/tracegraph"
)

// AddReverseTraces adds, for every issue with the given Code, a new leaf
// kind along all traces reachable forward from frames already carrying
// OrigLeafName - useful for querying in the callee->caller direction when
// an upstream analyzer only recorded the caller->callee view. The recorded
// depth increases the further a frame is from the issue's first hop.
type AddReverseTraces struct {
	Log *logrus.Logger

	Code         int
	OrigLeafName string
	OrigLeafKind tracegraph.SharedTextKind
	NewLeafName  string
	NewLeafKind  tracegraph.SharedTextKind
}

// NewAddReverseTraces returns a ready-to-run AddReverseTraces step.
func NewAddReverseTraces(log *logrus.Logger, code int, origLeafName string, origLeafKind tracegraph.SharedTextKind, newLeafName string, newLeafKind tracegraph.SharedTextKind) *AddReverseTraces {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AddReverseTraces{
		Log:          log,
		Code:         code,
		OrigLeafName: origLeafName,
		OrigLeafKind: origLeafKind,
		NewLeafName:  newLeafName,
		NewLeafKind:  newLeafKind,
	}
}

// Name implements pipeline.Step.
func (a *AddReverseTraces) Name() string { return "AddReverseTraces" }

type reverseQueueEntry struct {
	frame *tracegraph.TraceFrame
	depth int
}

func carriesLeaf(graph *tracegraph.Store, frame *tracegraph.TraceFrame, leafID tracegraph.LocalID) bool {
	_, ok := graph.GetTraceFrameLeaves(frame.ID)[leafID]
	return ok
}

// Run implements pipeline.Step.
func (a *AddReverseTraces) Run(graph *tracegraph.Store, summary *pipeline.Summary) (*tracegraph.Store, *pipeline.Summary, error) {
	origLeaf, err := graph.GetSharedTextByLocalID(graph.GetOrAddSharedText(a.OrigLeafKind, a.OrigLeafName).ID)
	if err != nil {
		return graph, summary, nil
	}

	var firstHops []*tracegraph.TraceFrame
	for _, instance := range graph.GetIssueInstances() {
		issue, err := graph.GetIssue(instance.IssueID)
		if err != nil || issue.Code != a.Code {
			continue
		}
		firstHops = append(firstHops, graph.GetIssueInstanceTraceFrames(instance)...)
	}

	queue := list.New()
	for _, frame := range firstHops {
		if carriesLeaf(graph, frame, origLeaf.ID) {
			queue.PushBack(reverseQueueEntry{frame: frame, depth: 0})
		}
	}

	depthByFrameID := make(map[tracegraph.LocalID]int)
	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(reverseQueueEntry)
		if existing, ok := depthByFrameID[front.frame.ID]; ok && front.depth >= existing {
			continue
		}
		depthByFrameID[front.frame.ID] = front.depth

		for _, next := range graph.GetNextTraceFrames(front.frame) {
			if carriesLeaf(graph, next, origLeaf.ID) {
				queue.PushBack(reverseQueueEntry{frame: next, depth: front.depth + 1})
			}
		}
	}

	newLeaf := graph.GetOrAddSharedText(a.NewLeafKind, a.NewLeafName)

	a.Log.WithFields(logrus.Fields{"leaf": a.NewLeafName, "code": a.Code, "frames": len(depthByFrameID)}).Info("adding reverse trace leaves")

	for frameID, depth := range depthByFrameID {
		frame, err := graph.GetTraceFrameFromID(frameID)
		if err != nil {
			continue
		}
		if newLeaf.Kind == tracegraph.KindSource || newLeaf.Kind == tracegraph.KindSink {
			frame.LeafMapping = append(frame.LeafMapping, tracegraph.LeafMapping{CallerLeaf: newLeaf.ID, CalleeLeaf: newLeaf.ID, Transform: newLeaf.ID})
		}
		d := depth
		graph.AddTraceFrameLeafAssoc(frame, newLeaf.ID, &d)
	}

	return graph, summary, nil
}
