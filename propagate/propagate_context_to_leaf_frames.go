package propagate

import (
	"container/list"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/viant/sapptrace/pipeline"
	"github.com/viant/sapptrace/tracegraph"
)

// PropagateContextToLeafFrames propagates features matching a pattern from
// issues of a specific code onto every leaf frame of a chosen frame kind
// reachable from those issues, then mirrors the result onto sibling frames
// at the same call site so that context-providing and context-needing flows
// that share a root frame both see it.
type PropagateContextToLeafFrames struct {
	Log            *logrus.Logger
	IssueCode      int
	FeaturePattern string
	FrameKind      tracegraph.TraceKind

	visited            map[tracegraph.LocalID]map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}
	leafFeaturesAdded  int
	leafFrames         int
}

// NewPropagateContextToLeafFrames returns a ready-to-run step.
func NewPropagateContextToLeafFrames(log *logrus.Logger, issueCode int, featurePattern string, frameKind tracegraph.TraceKind) *PropagateContextToLeafFrames {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PropagateContextToLeafFrames{
		Log:            log,
		IssueCode:      issueCode,
		FeaturePattern: featurePattern,
		FrameKind:      frameKind,
		visited:        make(map[tracegraph.LocalID]map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}),
	}
}

// Name implements pipeline.Step.
func (p *PropagateContextToLeafFrames) Name() string { return "PropagateContextToLeafFrames" }

type contextQueueEntry struct {
	frame   *tracegraph.TraceFrame
	kindMap map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}
}

// Run implements pipeline.Step.
func (p *PropagateContextToLeafFrames) Run(graph *tracegraph.Store, summary *pipeline.Summary) (*tracegraph.Store, *pipeline.Summary, error) {
	p.Log.WithFields(logrus.Fields{
		"pattern": p.FeaturePattern, "code": p.IssueCode, "frameKind": p.FrameKind,
	}).Info("Propagating context to leaf frames")

	for _, instance := range graph.GetIssueInstances() {
		issue, err := graph.GetIssue(instance.IssueID)
		if err != nil || issue.Code != p.IssueCode {
			continue
		}
		p.propagateInstance(graph, instance)
	}

	for frameID, kindToState := range p.visited {
		frame, err := graph.GetTraceFrameFromID(frameID)
		if err != nil || !graph.IsLeafPort(frame.CalleePort) {
			continue
		}
		features := make(map[tracegraph.LocalID]struct{})
		for _, leaves := range kindToState {
			for leaf := range leaves {
				features[leaf] = struct{}{}
			}
		}
		p.leafFrames++
		p.addContextualFeaturesToFrame(graph, frame, features)
		p.addContextualFeaturesToNeighborFrames(graph, frame, features)
	}

	p.Log.WithFields(logrus.Fields{"added": p.leafFeaturesAdded, "frames": p.leafFrames}).
		Info("Added features to trace frames")

	return graph, summary, nil
}

func (p *PropagateContextToLeafFrames) featureMatches(text string) bool {
	return strings.Contains(text, p.FeaturePattern)
}

func (p *PropagateContextToLeafFrames) propagateInstance(graph *tracegraph.Store, instance *tracegraph.IssueInstance) {
	features := make(map[tracegraph.LocalID]struct{})
	for _, text := range graph.GetIssueInstanceSharedTexts(instance.ID, tracegraph.KindFeature) {
		if p.featureMatches(text.Contents) {
			features[text.ID] = struct{}{}
		}
	}
	if len(features) == 0 {
		return
	}

	var initialFrames []*tracegraph.TraceFrame
	for _, frame := range graph.GetIssueInstanceTraceFrames(instance) {
		if frame.Kind == p.FrameKind {
			initialFrames = append(initialFrames, frame)
		}
	}
	p.propagateAlongTraces(graph, initialFrames, features)
}

func (p *PropagateContextToLeafFrames) propagateAlongTraces(
	graph *tracegraph.Store,
	startFrames []*tracegraph.TraceFrame,
	features map[tracegraph.LocalID]struct{},
) {
	queue := list.New()
	for _, frame := range startFrames {
		kindMap := make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{})
		for _, kind := range graph.GetCallerLeafKindsOfFrame(frame) {
			kindMap[kind] = features
		}
		queue.PushBack(contextQueueEntry{frame: frame, kindMap: kindMap})
	}

	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(contextQueueEntry)
		if len(front.kindMap) == 0 {
			continue
		}

		kindMap := front.kindMap
		if _, seen := p.visited[front.frame.ID]; seen {
			kindMap = p.subtractKinds(front.frame.ID, kindMap)
			if len(kindMap) == 0 {
				continue
			}
		}

		p.updateVisited(front.frame.ID, kindMap)

		next := graph.GetNextTraceFrames(front.frame)
		for _, nextFrame := range next {
			nextKindMap := make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{})
			for _, lm := range front.frame.LeafMapping {
				if leaves, ok := kindMap[lm.CallerLeaf]; ok {
					nextKindMap[lm.CalleeLeaf] = leaves
				}
			}
			if len(nextKindMap) == 0 {
				continue
			}
			queue.PushBack(contextQueueEntry{frame: nextFrame, kindMap: nextKindMap})
		}
	}
}

func (p *PropagateContextToLeafFrames) subtractKinds(
	frameID tracegraph.LocalID,
	toPropagate map[tracegraph.LocalID]map[tracegraph.LocalID]struct{},
) map[tracegraph.LocalID]map[tracegraph.LocalID]struct{} {
	visited := p.visited[frameID]
	result := make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{})
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

func (p *PropagateContextToLeafFrames) updateVisited(
	frameID tracegraph.LocalID,
	kindMap map[tracegraph.LocalID]map[tracegraph.LocalID]struct{},
) {
	visited, ok := p.visited[frameID]
	if !ok {
		visited = make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{})
		p.visited[frameID] = visited
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

func (p *PropagateContextToLeafFrames) finalFeatureText(original string) string {
	return "context-" + strings.TrimPrefix(original, "always-")
}

func (p *PropagateContextToLeafFrames) addContextualFeaturesToFrame(
	graph *tracegraph.Store,
	frame *tracegraph.TraceFrame,
	features map[tracegraph.LocalID]struct{},
) {
	for featureID := range features {
		featureText, err := graph.GetSharedTextByLocalID(featureID)
		if err != nil {
			continue
		}
		toAdd := p.finalFeatureText(featureText.Contents)
		sharedText := graph.GetOrAddSharedText(tracegraph.KindFeature, toAdd)
		graph.AddTraceFrameLeafAssoc(frame, sharedText.ID, nil)
		p.leafFeaturesAdded++
	}
}

func (p *PropagateContextToLeafFrames) addContextualFeaturesToNeighborFrames(
	graph *tracegraph.Store,
	frame *tracegraph.TraceFrame,
	features map[tracegraph.LocalID]struct{},
) {
	candidates := graph.GetAllTraceFramesFromCaller(frame.Kind, frame.CallerID)
	isRoot := tracegraph.IsRootPort(frame.CallerPort)
	for _, candidate := range candidates {
		if candidate.CalleeLocation != frame.CalleeLocation ||
			candidate.CalleePort != frame.CalleePort ||
			candidate.CalleeID != frame.CalleeID {
			continue
		}
		if tracegraph.IsRootPort(candidate.CallerPort) || isRoot {
			p.addContextualFeaturesToFrame(graph, candidate, features)
		}
	}
}
