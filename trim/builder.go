// Package trim builds a trimmed trace graph: a subgraph of a full trace
// graph containing only the issues and traces relevant to a set of affected
// files, for fast incremental re-processing of a large analysis run.
package trim

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/viant/sapptrace/tracegraph"
)

// Builder constructs a trimmed tracegraph.Store from a full one, seeded by
// a set of affected file path prefixes.
type Builder struct {
	Log *logrus.Logger

	// AffectedFiles is a set of path prefixes; an issue instance or trace
	// frame whose filename starts with one of these is considered affected.
	AffectedFiles []string

	// AffectedIssuesOnly, when true, skips seeding from affected trace
	// frames (conditions) entirely and trims to exactly the issues whose
	// own reported location is affected.
	AffectedIssuesOnly bool

	source  *tracegraph.Store
	trimmed *tracegraph.Store

	visitedFrameIDs map[tracegraph.LocalID]struct{}
}

// NewBuilder returns a Builder seeded by affectedFiles.
func NewBuilder(log *logrus.Logger, affectedFiles []string, affectedIssuesOnly bool) *Builder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Builder{Log: log, AffectedFiles: affectedFiles, AffectedIssuesOnly: affectedIssuesOnly}
}

// Build populates a fresh Store from source, trimmed to the issues and
// traces relevant to Builder's affected files, and recomputes every copied
// instance's min-trace-length-to-source/sink now that unreachable branches
// have been dropped.
func (b *Builder) Build(source *tracegraph.Store) *tracegraph.Store {
	b.source = source
	b.trimmed = tracegraph.NewStore()
	b.visitedFrameIDs = make(map[tracegraph.LocalID]struct{})

	b.populateAffectedIssues()

	if !b.AffectedIssuesOnly {
		b.populateIssuesFromAffectedTraceFrames()

		var instanceIDs []tracegraph.LocalID
		for _, inst := range b.trimmed.GetIssueInstances() {
			instanceIDs = append(instanceIDs, inst.ID)
		}
		for _, instanceID := range instanceIDs {
			inst, err := b.trimmed.GetIssueInstance(instanceID)
			if err != nil {
				continue
			}
			hasForward, hasBackward := false, false
			for _, frame := range b.trimmed.GetIssueInstanceTraceFrames(inst) {
				if frame.Kind == tracegraph.Postcondition {
					hasForward = true
				}
				if frame.Kind == tracegraph.Precondition {
					hasBackward = true
				}
			}
			if !hasForward {
				b.populateIssueTrace(instanceID, kindPtr(tracegraph.Postcondition))
			}
			if !hasBackward {
				b.populateIssueTrace(instanceID, kindPtr(tracegraph.Precondition))
			}
		}
	}

	b.recomputeInstanceProperties()

	return b.trimmed
}

func kindPtr(k tracegraph.TraceKind) *tracegraph.TraceKind { return &k }

func isFilenamePrefixedWith(filename string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(filename, p) {
			return true
		}
	}
	return false
}

// populateAffectedIssues copies over every issue instance whose own
// reported filename is affected, together with its full trace.
func (b *Builder) populateAffectedIssues() {
	for _, instance := range b.source.GetIssueInstances() {
		if !isFilenamePrefixedWith(b.source.GetText(instance.FilenameID), b.AffectedFiles) {
			continue
		}
		if b.trimmed.HasIssueInstance(instance.ID) {
			continue
		}
		b.populateIssueAndTraces(instance.ID)
	}
}

func (b *Builder) getInstanceLeafIDs(instanceID tracegraph.LocalID) map[tracegraph.LocalID]struct{} {
	leaves := make(map[tracegraph.LocalID]struct{})
	for _, t := range b.source.GetIssueInstanceSharedTexts(instanceID, tracegraph.KindSource) {
		leaves[t.ID] = struct{}{}
	}
	for _, t := range b.source.GetIssueInstanceSharedTexts(instanceID, tracegraph.KindSink) {
		leaves[t.ID] = struct{}{}
	}
	return leaves
}

// populateIssuesFromAffectedTraceFrames finds every trace frame whose
// filename is affected and ensures the issues that reach it are copied in,
// trimmed to only the conditions that share a leaf with that frame.
func (b *Builder) populateIssuesFromAffectedTraceFrames() {
	var initial []*tracegraph.TraceFrame
	for _, frame := range b.source.AllTraceFrames() {
		if isFilenamePrefixedWith(b.source.GetText(frame.FilenameID), b.AffectedFiles) {
			initial = append(initial, frame)
		}
	}
	b.populateIssuesFromAffectedConditions(initial)
}

type conditionFrontier struct {
	frame  *tracegraph.TraceFrame
	leaves map[tracegraph.LocalID]struct{}
}

// populateIssuesFromAffectedConditions walks backward from initialConditions
// looking for issue instances whose source/sink leaves intersect the leaves
// reachable at each condition visited, copying in any instance found along
// with the (trimmed) trace leading to it.
func (b *Builder) populateIssuesFromAffectedConditions(initialConditions []*tracegraph.TraceFrame) {
	visited := make(map[tracegraph.LocalID]map[tracegraph.LocalID]struct{})

	stack := make([]conditionFrontier, 0, len(initialConditions))
	for _, frame := range initialConditions {
		leaves := make(map[tracegraph.LocalID]struct{})
		for _, leaf := range b.source.GetCallerLeafKindsOfFrame(frame) {
			leaves[leaf] = struct{}{}
		}
		stack = append(stack, conditionFrontier{frame: frame, leaves: leaves})
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		condID := top.frame.ID
		leaves := top.leaves
		if existing, ok := visited[condID]; ok {
			remaining := make(map[tracegraph.LocalID]struct{})
			for leaf := range leaves {
				if _, seen := existing[leaf]; !seen {
					remaining[leaf] = struct{}{}
				}
			}
			if len(remaining) == 0 {
				continue
			}
			for leaf := range remaining {
				existing[leaf] = struct{}{}
			}
			leaves = remaining
		} else {
			copySet := make(map[tracegraph.LocalID]struct{}, len(leaves))
			for leaf := range leaves {
				copySet[leaf] = struct{}{}
			}
			visited[condID] = copySet
		}

		for _, instanceID := range b.source.GetIssueInstancesForFrame(condID) {
			issueLeaves := b.getInstanceLeafIDs(instanceID)
			hasCommon := false
			for leaf := range issueLeaves {
				if _, ok := leaves[leaf]; ok {
					hasCommon = true
					break
				}
			}
			if !hasCommon {
				continue
			}
			if !b.trimmed.HasIssueInstance(instanceID) {
				b.populateIssue(instanceID)
			}
			b.trimmed.AttachInstanceFrame(instanceID, condID)
		}

		for _, predecessor := range b.source.GetPreviousTraceFrames(top.frame) {
			frameLeaves := tracegraph.ComputePrevLeafKinds(leaves, predecessor.LeafMapping)
			if len(frameLeaves) > 0 {
				stack = append(stack, conditionFrontier{frame: predecessor, leaves: frameLeaves})
			}
		}
	}

	initialIDs := make([]tracegraph.LocalID, len(initialConditions))
	for i, f := range initialConditions {
		initialIDs[i] = f.ID
	}
	b.populateTrace(initialIDs)
	for frameID := range visited {
		if frame, err := b.source.GetTraceFrameFromID(frameID); err == nil {
			b.addTraceFrame(frame)
		}
	}
}

func (b *Builder) populateIssueAndTraces(instanceID tracegraph.LocalID) {
	b.populateIssue(instanceID)
	b.populateIssueTrace(instanceID, nil)
}

// populateIssueTrace copies over every first-hop trace frame of instanceID
// whose kind matches kindFilter (or every one, if kindFilter is nil),
// together with the full trace reachable from them.
func (b *Builder) populateIssueTrace(instanceID tracegraph.LocalID, kindFilter *tracegraph.TraceKind) {
	instance, err := b.source.GetIssueInstance(instanceID)
	if err != nil {
		return
	}
	frames := b.source.GetIssueInstanceTraceFrames(instance)
	var filteredIDs []tracegraph.LocalID
	for _, frame := range frames {
		if kindFilter == nil || frame.Kind == *kindFilter {
			b.trimmed.AttachInstanceFrame(instanceID, frame.ID)
			filteredIDs = append(filteredIDs, frame.ID)
		}
	}
	b.populateTrace(filteredIDs)
}

// populateIssue copies an issue and its instance over from the source
// graph, including fix info and associated shared texts, but not its trace.
func (b *Builder) populateIssue(instanceID tracegraph.LocalID) {
	instance, err := b.source.GetIssueInstance(instanceID)
	if err != nil {
		return
	}
	issue, err := b.source.GetIssue(instance.IssueID)
	if err != nil {
		return
	}
	b.populateSharedText(instance.MessageID)
	b.populateSharedText(instance.FilenameID)
	b.populateSharedText(instance.CallableID)

	b.trimmed.PutIssueInstance(instance)
	b.trimmed.PutIssue(issue)

	if fixInfo, ok := b.source.GetIssueInstanceFixInfo(instanceID); ok {
		b.trimmed.PutIssueInstanceFixInfo(fixInfo)
	}

	for _, text := range b.source.GetAllIssueInstanceSharedTexts(instanceID) {
		if !b.trimmed.HasSharedText(text.ID) {
			b.trimmed.PutSharedText(text)
		}
		b.trimmed.AttachInstanceSharedText(instanceID, text.Kind, text.ID)
	}
}

// populateTrace copies the frames reachable from frameIDs (inclusive) by
// following next (callee-side) frames from the source graph into the trimmed
// graph; predecessor frames are not followed. The
// walk is depth-first via an explicit stack, matching the order in which
// the upstream implementation discovers frames.
func (b *Builder) populateTrace(frameIDs []tracegraph.LocalID) {
	stack := append([]tracegraph.LocalID(nil), frameIDs...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := b.visitedFrameIDs[id]; ok {
			continue
		}
		frame, err := b.source.GetTraceFrameFromID(id)
		if err != nil {
			continue
		}
		b.addTraceFrame(frame)
		b.visitedFrameIDs[id] = struct{}{}

		for _, next := range b.source.GetNextTraceFrames(frame) {
			if _, ok := b.visitedFrameIDs[next.ID]; !ok {
				stack = append(stack, next.ID)
			}
		}
	}
}

// addTraceFrame copies a single trace frame, its condition annotations (and
// their subtrace frames, recursively), and its full complement of
// trace-frame-leaf assocs - since at copy time we don't yet know which
// leaves a given issue instance will end up needing.
func (b *Builder) addTraceFrame(frame *tracegraph.TraceFrame) {
	b.trimmed.PutTraceFrame(frame)

	for _, annotation := range b.source.GetTraceFrameAnnotations(frame.ID) {
		b.addTraceAnnotation(annotation)
	}

	b.populateSharedText(frame.FilenameID)
	b.populateSharedText(frame.CallerID)
	b.populateSharedText(frame.CalleeID)

	for leafID, depth := range b.source.GetTraceFrameLeaves(frame.ID) {
		leaf, err := b.source.GetSharedTextByLocalID(leafID)
		if err != nil {
			continue
		}
		if !b.trimmed.HasSharedText(leafID) {
			b.trimmed.PutSharedText(leaf)
		}
		b.trimmed.AddTraceFrameLeafAssoc(frame, leafID, depth)
	}
}

func (b *Builder) populateSharedText(id tracegraph.LocalID) {
	if b.trimmed.HasSharedText(id) {
		return
	}
	text, err := b.source.GetSharedTextByLocalID(id)
	if err != nil {
		return
	}
	b.trimmed.PutSharedText(text)
}

// addTraceAnnotation copies annotation and the subtrace frames it points
// to (and everything reachable from them), but not the parent trace frame
// it hangs off of - that one is handled by the caller.
func (b *Builder) addTraceAnnotation(annotation *tracegraph.TraceFrameAnnotation) {
	b.trimmed.PutTraceFrameAnnotation(annotation)
	children := b.source.GetAnnotationSubtraceFrames(annotation.ID)
	childIDs := make([]tracegraph.LocalID, len(children))
	for i, child := range children {
		childIDs[i] = child.ID
		b.trimmed.AttachAnnotationSubtraceFrame(annotation.ID, child.ID)
	}
	b.populateTrace(childIDs)
}
