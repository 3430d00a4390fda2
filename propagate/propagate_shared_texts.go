package propagate

import (
	"container/list"

	"github.com/sirupsen/logrus"

	"github.com/viant/sapptrace/pipeline"
	"github.com/viant/sapptrace/tracegraph"
)

// PropagateSharedTexts propagates, for every issue instance, its source
// kinds and features forward along precondition frames towards sinks, and
// propagates features onto anchor-port sinks specifically. It is the
// distance-propagation pass: a (frame, sink-kind, shared-text) triple is
// only re-visited if the new trace length beats the shortest one already
// recorded, except for features, which always record at distance zero.
type PropagateSharedTexts struct {
	Log               *logrus.Logger
	PropagateSources  bool
	PropagateFeatures bool

	visited map[tracegraph.LocalID]map[tracegraph.LocalID]map[tracegraph.LocalID]int
}

// NewPropagateSharedTexts returns a ready-to-run step.
func NewPropagateSharedTexts(log *logrus.Logger, propagateSources, propagateFeatures bool) *PropagateSharedTexts {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PropagateSharedTexts{
		Log:               log,
		PropagateSources:  propagateSources,
		PropagateFeatures: propagateFeatures,
		visited:           make(map[tracegraph.LocalID]map[tracegraph.LocalID]map[tracegraph.LocalID]int),
	}
}

// Name implements pipeline.Step.
func (p *PropagateSharedTexts) Name() string { return "PropagateSharedTexts" }

const unvisitedTraceLength = 999999

type sharedTextQueueEntry struct {
	frame       *tracegraph.TraceFrame
	kindMap     map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}
	traceLength int
}

// Run implements pipeline.Step.
func (p *PropagateSharedTexts) Run(graph *tracegraph.Store, summary *pipeline.Summary) (*tracegraph.Store, *pipeline.Summary, error) {
	if !p.PropagateSources && !p.PropagateFeatures {
		return graph, summary, nil
	}

	if p.PropagateSources {
		p.Log.Info("Propagating source kinds to sinks")
	}
	if p.PropagateFeatures {
		p.Log.Info("Propagating features to anchor sinks")
	}

	for _, instance := range graph.GetIssueInstances() {
		p.propagateInstance(graph, instance)
	}

	sourceCount, featureCount, frameCount := 0, 0, 0
	for frameID, sinkToState := range p.visited {
		frameCount++
		frame, err := graph.GetTraceFrameFromID(frameID)
		if err != nil {
			continue
		}
		isAnchor := tracegraph.IsAnchorPort(frame.CalleePort)
		for _, lengths := range sinkToState {
			for sharedTextID, traceLength := range lengths {
				text, err := graph.GetSharedTextByLocalID(sharedTextID)
				if err != nil {
					continue
				}
				tl := traceLength
				switch text.Kind {
				case tracegraph.KindSource:
					if p.PropagateSources {
						graph.AddTraceFrameLeafAssoc(frame, sharedTextID, &tl)
						sourceCount++
					}
				case tracegraph.KindFeature:
					if p.PropagateFeatures && isAnchor {
						graph.AddTraceFrameLeafAssoc(frame, sharedTextID, nil)
						featureCount++
					}
				}
			}
		}
	}
	p.Log.WithFields(logrus.Fields{"sources": sourceCount, "features": featureCount, "frames": frameCount}).
		Info("Added source kinds and features")

	return graph, summary, nil
}

func (p *PropagateSharedTexts) propagateInstance(graph *tracegraph.Store, instance *tracegraph.IssueInstance) {
	features := make(map[tracegraph.LocalID]struct{})
	for _, text := range graph.GetIssueInstanceSharedTexts(instance.ID, tracegraph.KindFeature) {
		features[text.ID] = struct{}{}
	}

	var sourceFrames, sinkFrames []*tracegraph.TraceFrame
	for _, frame := range graph.GetIssueInstanceTraceFrames(instance) {
		switch frame.Kind {
		case tracegraph.Postcondition:
			sourceFrames = append(sourceFrames, frame)
		case tracegraph.Precondition:
			sinkFrames = append(sinkFrames, frame)
		}
	}

	kinds := make(map[tracegraph.LocalID]struct{})
	for leaf := range features {
		kinds[leaf] = struct{}{}
	}
	for _, frame := range sourceFrames {
		for _, leaf := range graph.GetCallerLeafKindsOfFrame(frame) {
			kinds[leaf] = struct{}{}
		}
	}
	if len(kinds) == 0 {
		return
	}

	initialTraceLength := 0
	if instance.MinTraceLengthToSources != nil {
		initialTraceLength = *instance.MinTraceLengthToSources
	}
	p.propagateAlongTraces(graph, sinkFrames, kinds, initialTraceLength)
}

func (p *PropagateSharedTexts) propagateAlongTraces(
	graph *tracegraph.Store,
	startFrames []*tracegraph.TraceFrame,
	toPropagate map[tracegraph.LocalID]struct{},
	initialTraceLength int,
) {
	queue := list.New()
	for _, frame := range startFrames {
		kindMap := make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{})
		for _, sinkID := range graph.GetCallerLeafKindsOfFrame(frame) {
			kindMap[sinkID] = toPropagate
		}
		queue.PushBack(sharedTextQueueEntry{frame: frame, kindMap: kindMap, traceLength: initialTraceLength})
	}

	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(sharedTextQueueEntry)
		if len(front.kindMap) == 0 {
			continue
		}

		kindMap := front.kindMap
		if _, seen := p.visited[front.frame.ID]; seen {
			kindMap = p.subtractKinds(front.frame.ID, front.traceLength, kindMap)
			if len(kindMap) == 0 {
				continue
			}
		}

		p.updateVisited(graph, front.frame.ID, front.traceLength, kindMap)

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
			queue.PushBack(sharedTextQueueEntry{frame: nextFrame, kindMap: nextKindMap, traceLength: front.traceLength + 1})
		}
	}
}

func (p *PropagateSharedTexts) subtractKinds(
	frameID tracegraph.LocalID,
	traceLength int,
	toPropagate map[tracegraph.LocalID]map[tracegraph.LocalID]struct{},
) map[tracegraph.LocalID]map[tracegraph.LocalID]struct{} {
	visited := p.visited[frameID]
	result := make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{})
	for sinkKind, sharedTexts := range toPropagate {
		lengths, hasKind := visited[sinkKind]
		remaining := make(map[tracegraph.LocalID]struct{})
		for text := range sharedTexts {
			best := unvisitedTraceLength
			if hasKind {
				if l, ok := lengths[text]; ok {
					best = l
				}
			}
			if traceLength < best {
				remaining[text] = struct{}{}
			}
		}
		if len(remaining) > 0 {
			result[sinkKind] = remaining
		}
	}
	return result
}

func (p *PropagateSharedTexts) updateVisited(
	graph *tracegraph.Store,
	frameID tracegraph.LocalID,
	traceLength int,
	kindMap map[tracegraph.LocalID]map[tracegraph.LocalID]struct{},
) {
	visited, ok := p.visited[frameID]
	if !ok {
		visited = make(map[tracegraph.LocalID]map[tracegraph.LocalID]int)
		p.visited[frameID] = visited
	}
	for sinkKind, sharedTexts := range kindMap {
		lengths, ok := visited[sinkKind]
		if !ok {
			lengths = make(map[tracegraph.LocalID]int)
			visited[sinkKind] = lengths
		}
		for text := range sharedTexts {
			useLength := traceLength
			if sharedText, err := graph.GetSharedTextByLocalID(text); err == nil && sharedText.Kind == tracegraph.KindFeature {
				useLength = 0
			}
			lengths[text] = useLength
		}
	}
}
