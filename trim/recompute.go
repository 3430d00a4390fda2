package trim

import (
	"github.com/viant/sapptrace/tracegraph"
)

const (
	maxTraceLength      = 100
	infiniteTraceLength = 9999
)

// visited maps a frame id to, for each leaf id considered at that frame, the
// hop distance discovered so far. A negative value means "searched this many
// hops without success" - a lower bound on how far it would need to be
// retried before it's worth revisiting.
type visitedLeaves = map[tracegraph.LocalID]map[tracegraph.LocalID]int

// action is the tagged union pushed onto the explicit recompute stack:
// either "search my successors for these leaves" or "now that my successors
// are done, compute my own min distance to these leaves".
type action struct {
	isSearch bool

	frame           *tracegraph.TraceFrame
	remainingLength int
	leaves          map[tracegraph.LocalID]struct{}
}

// remainingLeaves narrows leaves down to the subset still worth visiting at
// frameID given remainingLength hops left, recording the attempt in visited.
// A leaf already recorded with a non-negative distance, or already searched
// with a budget of at least remainingLength hops, is dropped from the result.
func remainingLeaves(remainingLength int, leaves map[tracegraph.LocalID]struct{}, visited visitedLeaves, frameID tracegraph.LocalID) map[tracegraph.LocalID]struct{} {
	existing, ok := visited[frameID]
	if !ok {
		fresh := make(map[tracegraph.LocalID]int, len(leaves))
		for leaf := range leaves {
			fresh[leaf] = -remainingLength
		}
		visited[frameID] = fresh
		return leaves
	}

	result := make(map[tracegraph.LocalID]struct{})
	for leaf := range leaves {
		depth, seen := existing[leaf]
		if !seen || (depth < 0 && -depth < remainingLength) {
			result[leaf] = struct{}{}
			existing[leaf] = -remainingLength
		}
	}
	return result
}

func getSuccessorFrames(graph *tracegraph.Store, leaves map[tracegraph.LocalID]struct{}, frame *tracegraph.TraceFrame) ([]*tracegraph.TraceFrame, map[tracegraph.LocalID]struct{}) {
	kinds := tracegraph.ComputeNextLeafKinds(leaves, frame.LeafMapping)
	return graph.GetNextTraceFrames(frame), kinds
}

// recomputeTraceLengthAssociation searches graph starting from
// initialFrames, which must all be frames directly attached to an issue
// instance, for the shortest distance to a leaf of the given kind
// (KindSource or KindSink), via a two-phase non-recursive stack traversal:
// a SearchAction pushes its own ComputeMinAction first and its successors'
// SearchActions on top of it, so by the time a frame's ComputeMinAction is
// popped, every successor it could reach has already recorded its own min
// distances.
func recomputeTraceLengthAssociation(graph *tracegraph.Store, visited visitedLeaves, initialFrames map[tracegraph.LocalID]struct{}, leafKind tracegraph.SharedTextKind) int {
	var stack []action

	for frameID := range initialFrames {
		frame, err := graph.GetTraceFrameFromID(frameID)
		if err != nil {
			continue
		}
		leaves := make(map[tracegraph.LocalID]struct{})
		for _, leaf := range graph.GetCallerLeafKindsOfFrame(frame) {
			leaves[leaf] = struct{}{}
		}
		stack = append(stack, action{isSearch: true, frame: frame, remainingLength: maxTraceLength, leaves: leaves})
	}

	for len(stack) > 0 {
		todo := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if todo.isSearch {
			frameID := todo.frame.ID
			leaves := remainingLeaves(todo.remainingLength, todo.leaves, visited, frameID)
			if len(leaves) == 0 || todo.remainingLength <= 1 {
				continue
			}

			if graph.IsLeafPort(todo.frame.CalleePort) {
				bucket := visited[frameID]
				for _, leafID := range graph.GetTraceFrameLeafIDsByKind(todo.frame, leafKind) {
					text, err := graph.GetSharedTextByLocalID(leafID)
					if err != nil {
						continue
					}
					bucket[graph.TransformNormalizedKindID(text)] = 0
				}
				continue
			}

			successors, succLeafKinds := getSuccessorFrames(graph, leaves, todo.frame)
			stack = append(stack, action{isSearch: false, frame: todo.frame, leaves: leaves})
			if len(succLeafKinds) > 0 {
				for _, successor := range successors {
					stack = append(stack, action{isSearch: true, frame: successor, remainingLength: todo.remainingLength - 1, leaves: succLeafKinds})
				}
			}
			continue
		}

		visitResult := visited[todo.frame.ID]
		if visitResult == nil {
			visitResult = make(map[tracegraph.LocalID]int)
			visited[todo.frame.ID] = visitResult
		}

		for leafID := range todo.leaves {
			successors, succLeaves := getSuccessorFrames(graph, map[tracegraph.LocalID]struct{}{leafID: {}}, todo.frame)
			if len(succLeaves) == 0 {
				continue
			}
			for _, successor := range successors {
				for succLeafID, length := range visited[successor.ID] {
					if _, ok := succLeaves[succLeafID]; !ok {
						continue
					}
					current, has := visitResult[leafID]
					if length >= 0 {
						if !has || current < 0 || length+1 < current {
							visitResult[leafID] = length + 1
						}
					} else if !has || (current < 0 && length-1 > current) {
						visitResult[leafID] = length - 1
					}
				}
			}
		}

		frameResult := make(map[tracegraph.LocalID]int)
		for frameLeafID := range graph.GetTraceFrameLeaves(todo.frame.ID) {
			leafText, err := graph.GetSharedTextByLocalID(frameLeafID)
			if err != nil || (leafText.Kind != tracegraph.KindSource && leafText.Kind != tracegraph.KindSink) {
				continue
			}
			normID := graph.TransformNormalizedKindID(leafText)
			depth, ok := visitResult[normID]
			if !ok {
				continue
			}
			if depth < 0 {
				frameResult[frameLeafID] = infiniteTraceLength
			} else {
				frameResult[frameLeafID] = depth
			}
		}
		for leafID, depth := range frameResult {
			graph.SetTraceFrameLeafDepth(todo.frame.ID, leafID, depth)
		}
	}

	result := infiniteTraceLength
	for frameID := range initialFrames {
		for _, length := range visited[frameID] {
			if length >= 0 && length < result {
				result = length
			}
		}
	}
	return result
}

func firstHopFrameIDs(graph *tracegraph.Store, instance *tracegraph.IssueInstance, kind tracegraph.TraceKind) map[tracegraph.LocalID]struct{} {
	result := make(map[tracegraph.LocalID]struct{})
	for _, frame := range graph.GetIssueInstanceTraceFrames(instance) {
		if frame.Kind == kind {
			result[frame.ID] = struct{}{}
		}
	}
	return result
}

func getMinDepth(graph *tracegraph.Store, visited visitedLeaves, instance *tracegraph.IssueInstance, frameKind tracegraph.TraceKind, leafKind tracegraph.SharedTextKind, prior *int) *int {
	if prior == nil {
		return nil
	}
	frames := firstHopFrameIDs(graph, instance, frameKind)
	result := recomputeTraceLengthAssociation(graph, visited, frames, leafKind)
	return &result
}

// recomputeInstanceProperties recomputes every trimmed instance's
// min-trace-length-to-source/sink and callable count now that the full
// trace graph they were originally computed against may have been cut down.
func (b *Builder) recomputeInstanceProperties() {
	visited := make(visitedLeaves)

	callableCounts := make(map[tracegraph.LocalID]int)
	instances := b.trimmed.GetIssueInstances()
	for _, inst := range instances {
		callableCounts[inst.CallableID]++
	}

	for _, inst := range instances {
		inst.MinTraceLengthToSources = getMinDepth(b.trimmed, visited, inst, tracegraph.Postcondition, tracegraph.KindSource, inst.MinTraceLengthToSources)
		inst.MinTraceLengthToSinks = getMinDepth(b.trimmed, visited, inst, tracegraph.Precondition, tracegraph.KindSink, inst.MinTraceLengthToSinks)
		inst.CallableCount = callableCounts[inst.CallableID]
	}
}
