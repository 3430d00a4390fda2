package propagate

import (
	"container/list"

	"github.com/sirupsen/logrus"

	"github.com/viant/sapptrace/pipeline"
	"github.com/viant/sapptrace/tracegraph"
)

// PropagateExtraFeaturesToInstances propagates features added to leaf
// frames by earlier passes back up towards the issue instances that own
// them, so the UI and later filters can query on them without re-walking
// the whole trace. It walks backward from every frame registered via
// Store.RegisterExtraFeatureToPropagateUp, stopping either at a root frame
// (recording features directly on the owning instance) or at a
// subtrace_root frame, where - since kinds cannot yet be mapped across a
// subtrace boundary - features are inlined onto the parent frame that the
// subtrace's TraceFrameAnnotation hangs off of, and the walk continues from
// there.
type PropagateExtraFeaturesToInstances struct {
	Log *logrus.Logger

	visited                map[tracegraph.LocalID]map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}
	instanceFeatures       map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}
	parentFrameFeatures    map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}
	instanceFeaturesAdded  int
	instances              int
	parentFrames           int
	parentFrameFeaturesAdded int
}

// NewPropagateExtraFeaturesToInstances returns a ready-to-run step.
func NewPropagateExtraFeaturesToInstances(log *logrus.Logger) *PropagateExtraFeaturesToInstances {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PropagateExtraFeaturesToInstances{
		Log:                 log,
		visited:             make(map[tracegraph.LocalID]map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}),
		instanceFeatures:    make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}),
		parentFrameFeatures: make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}),
	}
}

// Name implements pipeline.Step.
func (p *PropagateExtraFeaturesToInstances) Name() string {
	return "PropagateExtraFeaturesToInstances"
}

type extraFeatureQueueEntry struct {
	frame   *tracegraph.TraceFrame
	kindMap map[tracegraph.LocalID]map[tracegraph.LocalID]struct{}
}

// Run implements pipeline.Step.
func (p *PropagateExtraFeaturesToInstances) Run(graph *tracegraph.Store, summary *pipeline.Summary) (*tracegraph.Store, *pipeline.Summary, error) {
	p.Log.Info("Propagating extra features from previous steps towards issues")

	markerFeature := graph.GetOrAddSharedText(tracegraph.KindFeature, "sapp-upward-propagated-breadcrumbs")

	for frameID, features := range graph.GetExtraFeaturesToPropagateUp() {
		frame, err := graph.GetTraceFrameFromID(frameID)
		if err != nil {
			continue
		}
		p.propagateAlongTraces(graph, frame, features)
	}

	for parentFrameID, features := range p.parentFrameFeatures {
		p.parentFrames++
		for featureID := range features {
			depth := 0
			graph.AddTraceFrameLeafAssocByID(parentFrameID, featureID, &depth)
			p.parentFrameFeaturesAdded++
		}
	}

	for instanceID, features := range p.instanceFeatures {
		p.instances++
		graph.AttachInstanceSharedTextByID(instanceID, markerFeature.ID)
		for featureID := range features {
			graph.AttachInstanceSharedTextByID(instanceID, featureID)
			p.instanceFeaturesAdded++
		}
	}

	p.Log.WithFields(logrus.Fields{
		"instanceFeatures":    p.instanceFeaturesAdded,
		"instances":           p.instances,
		"parentFrameFeatures": p.parentFrameFeaturesAdded,
		"parentFrames":        p.parentFrames,
	}).Info("Added features to instances and parent frames")

	return graph, summary, nil
}

func (p *PropagateExtraFeaturesToInstances) propagateAlongTraces(
	graph *tracegraph.Store,
	startFrame *tracegraph.TraceFrame,
	featuresToPropagate map[tracegraph.LocalID]struct{},
) {
	queue := list.New()
	kindMap := make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{})
	for _, kind := range graph.GetCallerLeafKindsOfFrame(startFrame) {
		kindMap[kind] = featuresToPropagate
	}
	queue.PushBack(extraFeatureQueueEntry{frame: startFrame, kindMap: kindMap})

	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(extraFeatureQueueEntry)
		if len(front.kindMap) == 0 {
			continue
		}

		entryKindMap := front.kindMap
		if _, seen := p.visited[front.frame.ID]; seen {
			entryKindMap = p.subtractKinds(front.frame.ID, entryKindMap)
			if len(entryKindMap) == 0 {
				continue
			}
		}
		p.updateVisited(front.frame.ID, entryKindMap)

		switch {
		case tracegraph.IsRootPort(front.frame.CallerPort):
			instanceIDs := graph.GetIssueInstancesForRootFrame(front.frame.ID)
			acceptable := make(map[tracegraph.LocalID]struct{})
			for _, kind := range graph.GetCallerLeafKindsOfFrame(front.frame) {
				acceptable[kind] = struct{}{}
			}
			features := make(map[tracegraph.LocalID]struct{})
			for kind, extra := range entryKindMap {
				if _, ok := acceptable[kind]; ok {
					for f := range extra {
						features[f] = struct{}{}
					}
				}
			}
			for _, instanceID := range instanceIDs {
				set := p.instanceFeatures[instanceID]
				if set == nil {
					set = make(map[tracegraph.LocalID]struct{})
					p.instanceFeatures[instanceID] = set
				}
				for f := range features {
					set[f] = struct{}{}
				}
			}

		case tracegraph.IsSubtraceRootPort(front.frame.CallerPort):
			parentFeatures := make(map[tracegraph.LocalID]struct{})
			for _, extra := range entryKindMap {
				for f := range extra {
					parentFeatures[f] = struct{}{}
				}
			}
			for _, annotation := range graph.GetTraceFrameAnnotations(front.frame.ID) {
				parentFrame, err := graph.GetTraceFrameFromID(annotation.TraceFrameID)
				if err != nil {
					continue
				}
				set := p.parentFrameFeatures[annotation.TraceFrameID]
				if set == nil {
					set = make(map[tracegraph.LocalID]struct{})
					p.parentFrameFeatures[annotation.TraceFrameID] = set
				}
				for f := range parentFeatures {
					set[f] = struct{}{}
				}

				parentKindMap := make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{})
				for _, lm := range parentFrame.LeafMapping {
					parentKindMap[lm.CallerLeaf] = parentFeatures
				}
				queue.PushBack(extraFeatureQueueEntry{frame: parentFrame, kindMap: parentKindMap})
			}

		default:
			prevFrames := graph.GetTraceFramesFromCallee(front.frame.Kind, front.frame.CallerID, front.frame.CallerPort)
			for _, prevFrame := range prevFrames {
				nextKindMap := make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{})
				for _, lm := range front.frame.LeafMapping {
					if leaves, ok := entryKindMap[lm.CalleeLeaf]; ok {
						nextKindMap[lm.CallerLeaf] = leaves
					}
				}
				if len(nextKindMap) == 0 {
					continue
				}
				queue.PushBack(extraFeatureQueueEntry{frame: prevFrame, kindMap: nextKindMap})
			}
		}
	}
}

func (p *PropagateExtraFeaturesToInstances) subtractKinds(
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

func (p *PropagateExtraFeaturesToInstances) updateVisited(
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
