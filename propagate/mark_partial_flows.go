package propagate

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/viant/sapptrace/pipeline"
	"github.com/viant/sapptrace/tracegraph"
)

// PartialFlowToMark pairs a "full" issue (e.g. source-to-sink) with a
// "partial" issue (e.g. source-to-somewhere, or somewhere-to-sink) that
// shares a transform with it. Wherever the named transform occurs on the
// full issue's trace, the matching spot on the partial issue's trace - a
// frame with the same caller id and callee location - is marked with a
// feature breadcrumb, so a reviewer triaging the partial issue can tell it
// is part of a larger, already-tracked flow.
type PartialFlowToMark struct {
	FullIssueCode      int
	PartialIssueCode   int
	FullIssueTransform string
	// IsPrefixFlow indicates the partial issue is a prefix of the full flow
	// (source-to-somewhere): a transform found on any of the full issue's
	// precondition first-hop frames marks every one of its postcondition
	// first-hop frames, and the postcondition trace is searched for frames
	// whose local transforms include it.
	// When false, the partial issue is a suffix (somewhere-to-sink) and the
	// roles of precondition/postcondition are swapped.
	IsPrefixFlow bool
	Feature      string
}

// MarkPartialFlows marks frames on a "partial" flow's trace with a feature
// breadcrumb wherever the matching "full" flow exhibits a named kind
// transform at the corresponding call site, so partial issues that are
// really fragments of an already-reported full issue can be recognized and
// triaged accordingly.
type MarkPartialFlows struct {
	Log                *logrus.Logger
	PartialFlowsToMark []PartialFlowToMark

	partialFlowFrames int
}

// NewMarkPartialFlows returns a ready-to-run step.
func NewMarkPartialFlows(log *logrus.Logger, partialFlowsToMark []PartialFlowToMark) *MarkPartialFlows {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MarkPartialFlows{Log: log, PartialFlowsToMark: partialFlowsToMark}
}

// Name implements pipeline.Step.
func (m *MarkPartialFlows) Name() string { return "MarkPartialFlows" }

// frameKey is an issue-code-agnostic identifier for matching a frame in one
// issue's trace to the "same spot" in another issue's trace. callee_id is
// deliberately excluded: callee_location is unique enough on its own, and
// the two issues being compared may have reached the call site through
// different callees.
type frameKey struct {
	callerID       tracegraph.LocalID
	calleeLocation tracegraph.SourceLocation
}

func frameKeyOf(frame *tracegraph.TraceFrame) frameKey {
	return frameKey{callerID: frame.CallerID, calleeLocation: frame.CalleeLocation}
}

// fullFlowContext maps a partial issue code to the frame keys discovered on
// full-issue traces where the named transform occurred.
type fullFlowContext map[int]map[frameKey]struct{}

// Run implements pipeline.Step.
func (m *MarkPartialFlows) Run(graph *tracegraph.Store, summary *pipeline.Summary) (*tracegraph.Store, *pipeline.Summary, error) {
	if len(m.PartialFlowsToMark) == 0 {
		return graph, summary, nil
	}

	m.Log.Info("Marking partial flows")

	fullCodes := make(map[int]struct{})
	partialCodes := make(map[int]struct{})
	for _, p := range m.PartialFlowsToMark {
		fullCodes[p.FullIssueCode] = struct{}{}
		partialCodes[p.PartialIssueCode] = struct{}{}
	}

	issues := make(map[int][]*tracegraph.IssueInstance)
	for _, instance := range graph.GetIssueInstances() {
		issue, err := graph.GetIssue(instance.IssueID)
		if err != nil {
			continue
		}
		if _, ok := fullCodes[issue.Code]; ok {
			issues[issue.Code] = append(issues[issue.Code], instance)
		} else if _, ok := partialCodes[issue.Code]; ok {
			issues[issue.Code] = append(issues[issue.Code], instance)
		}
	}

	context := m.buildFullFlowContext(graph, issues)
	m.Log.Info("Built full flow context")
	m.markPartialFlows(graph, issues, context)
	m.Log.WithField("frames", m.partialFlowFrames).Info("Added partial flow features")

	return graph, summary, nil
}

// getTransforms returns the set of transform names frame performs, parsing
// the "T1:T2@T3:T4:S" encoding where transforms left of '@' are local to
// this frame and transforms right of '@' happened earlier in the flow.
// localOnly excludes the latter.
func getTransforms(graph *tracegraph.Store, frame *tracegraph.TraceFrame, localOnly bool) map[string]struct{} {
	transforms := make(map[string]struct{})
	for _, lm := range frame.LeafMapping {
		text, err := graph.GetSharedTextByLocalID(lm.Transform)
		if err != nil {
			continue
		}
		unparsed := text.Contents
		if strings.Contains(unparsed, "@") {
			parts := strings.SplitN(unparsed, "@", 2)
			for _, t := range strings.Split(parts[0], ":") {
				transforms[t] = struct{}{}
			}
			if !localOnly {
				globalParts := strings.Split(parts[1], ":")
				if len(globalParts) > 0 {
					globalParts = globalParts[:len(globalParts)-1]
				}
				for _, t := range globalParts {
					transforms[t] = struct{}{}
				}
			}
		} else if !localOnly {
			parts := strings.Split(unparsed, ":")
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
			for _, t := range parts {
				transforms[t] = struct{}{}
			}
		}
	}
	return transforms
}

func getLocalTransformFrameKey(graph *tracegraph.Store, frame *tracegraph.TraceFrame, desiredTransform string) (frameKey, bool) {
	local := getTransforms(graph, frame, true)
	if _, ok := local[desiredTransform]; ok {
		return frameKeyOf(frame), true
	}
	return frameKey{}, false
}

// dfsMarkPartialFlowsForFrameMemoized reports whether anything transitively
// reachable from frame (frame included) was marked with a breadcrumb. It
// uses an explicit two-pass stack instead of recursion: a frame is pushed
// once to queue its children, then pushed again (marked "children
// processed") to compute and memoize its own final result once every child
// is resolved.
func (m *MarkPartialFlows) dfsMarkPartialFlowsForFrameMemoized(
	graph *tracegraph.Store,
	start *tracegraph.TraceFrame,
	featureToAdd *tracegraph.SharedText,
	context map[frameKey]struct{},
	visited map[tracegraph.LocalID]bool,
) bool {
	type stackEntry struct {
		frame            *tracegraph.TraceFrame
		childrenProcessed bool
	}
	stack := []stackEntry{{frame: start, childrenProcessed: false}}

	for len(stack) > 0 {
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		frame := entry.frame
		frameID := frame.ID

		if !entry.childrenProcessed {
			if _, ok := visited[frameID]; ok {
				continue
			}
			visited[frameID] = false
			stack = append(stack, stackEntry{frame: frame, childrenProcessed: true})
			for _, next := range graph.GetNextTraceFrames(frame) {
				stack = append(stack, stackEntry{frame: next, childrenProcessed: false})
			}
			continue
		}

		key := frameKeyOf(frame)
		addedBreadcrumb := false
		if _, ok := context[key]; ok {
			graph.AddTraceFrameLeafAssoc(frame, featureToAdd.ID, nil)
			m.partialFlowFrames++
			addedBreadcrumb = true
		}
		for _, next := range graph.GetNextTraceFrames(frame) {
			if visited[next.ID] {
				addedBreadcrumb = true
			}
		}
		visited[frameID] = addedBreadcrumb
	}
	return visited[start.ID]
}

func (m *MarkPartialFlows) markPartialFlowsForCode(
	graph *tracegraph.Store,
	instances []*tracegraph.IssueInstance,
	featureName string,
	context map[frameKey]struct{},
) {
	featureToAdd := graph.GetOrAddSharedText(tracegraph.KindFeature, featureName)
	visited := make(map[tracegraph.LocalID]bool)
	for _, instance := range instances {
		frames := graph.GetIssueInstanceTraceFrames(instance)
		addedBreadcrumb := false
		for _, frame := range frames {
			if m.dfsMarkPartialFlowsForFrameMemoized(graph, frame, featureToAdd, context, visited) {
				addedBreadcrumb = true
			}
		}
		if addedBreadcrumb {
			graph.AttachInstanceSharedTextByID(instance.ID, featureToAdd.ID)
		}
	}
}

func (m *MarkPartialFlows) markPartialFlows(
	graph *tracegraph.Store,
	issues map[int][]*tracegraph.IssueInstance,
	context fullFlowContext,
) {
	visitedCodes := make(map[int]struct{})
	for _, p := range m.PartialFlowsToMark {
		if _, ok := visitedCodes[p.PartialIssueCode]; ok {
			continue
		}
		visitedCodes[p.PartialIssueCode] = struct{}{}
		m.markPartialFlowsForCode(graph, issues[p.PartialIssueCode], p.Feature, context[p.PartialIssueCode])
	}
}

// buildFlowContextBySearchingGraph does a BFS over the subgraph induced by
// issueInstanceFrames, adding a frame key to context at every frame where
// the local transform occurs.
func (m *MarkPartialFlows) buildFlowContextBySearchingGraph(
	graph *tracegraph.Store,
	issueInstanceFrames []*tracegraph.TraceFrame,
	context map[frameKey]struct{},
	visited map[tracegraph.LocalID]struct{},
	transform string,
) {
	queue := append([]*tracegraph.TraceFrame(nil), issueInstanceFrames...)
	for len(queue) > 0 {
		frame := queue[0]
		queue = queue[1:]
		if _, ok := visited[frame.ID]; ok {
			continue
		}
		visited[frame.ID] = struct{}{}

		next := graph.GetNextTraceFrames(frame)
		queue = append(queue, next...)

		if key, ok := getLocalTransformFrameKey(graph, frame, transform); ok {
			context[key] = struct{}{}
		}
	}
}

// buildCandidatesToTransformFromLargerIssue scans a single full-issue
// instance, updating context in place with the frame keys of its
// counterpart partial-issue trace where the named transform took place.
func (m *MarkPartialFlows) buildCandidatesToTransformFromLargerIssue(
	graph *tracegraph.Store,
	fullInstance *tracegraph.IssueInstance,
	context map[frameKey]struct{},
	isPrefixFlow bool,
	fullIssueTransform string,
	visited map[tracegraph.LocalID]struct{},
) {
	var postconditionFrames, preconditionFrames []*tracegraph.TraceFrame
	for _, frame := range graph.GetIssueInstanceTraceFrames(fullInstance) {
		if frame.Kind == tracegraph.Postcondition {
			postconditionFrames = append(postconditionFrames, frame)
		} else {
			preconditionFrames = append(preconditionFrames, frame)
		}
	}

	if isPrefixFlow {
		for _, frame := range preconditionFrames {
			transforms := getTransforms(graph, frame, false)
			if _, ok := transforms[fullIssueTransform]; ok {
				for _, postFrame := range postconditionFrames {
					context[frameKeyOf(postFrame)] = struct{}{}
				}
				break
			}
		}
		m.buildFlowContextBySearchingGraph(graph, postconditionFrames, context, visited, fullIssueTransform)
	} else {
		for _, frame := range postconditionFrames {
			transforms := getTransforms(graph, frame, false)
			if _, ok := transforms[fullIssueTransform]; ok {
				for _, preFrame := range preconditionFrames {
					context[frameKeyOf(preFrame)] = struct{}{}
				}
				break
			}
		}
		m.buildFlowContextBySearchingGraph(graph, preconditionFrames, context, visited, fullIssueTransform)
	}
}

func (m *MarkPartialFlows) buildFullFlowContext(
	graph *tracegraph.Store,
	issues map[int][]*tracegraph.IssueInstance,
) fullFlowContext {
	visited := make(map[tracegraph.LocalID]struct{})
	context := make(fullFlowContext)
	for _, p := range m.PartialFlowsToMark {
		set, ok := context[p.PartialIssueCode]
		if !ok {
			set = make(map[frameKey]struct{})
			context[p.PartialIssueCode] = set
		}
		for _, issue := range issues[p.FullIssueCode] {
			m.buildCandidatesToTransformFromLargerIssue(graph, issue, set, p.IsPrefixFlow, p.FullIssueTransform, visited)
		}
	}
	return context
}
