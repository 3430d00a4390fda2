package tracegraph

import (
	"fmt"
	"sort"
	"sync"
)

type internKey struct {
	kind     SharedTextKind
	contents string
}

type frameKindKey struct {
	kind TraceKind
	id   LocalID
	port string
}

type callerOnlyKey struct {
	kind TraceKind
	id   LocalID
}

// Store is the in-memory trace graph: interned shared text, issues, issue
// instances, trace frames and annotations, plus the many-to-many assoc
// tables and inverted indexes the traversal kernel and propagation passes
// depend on.
//
// Store is safe for concurrent reads. Mutating methods take a write lock;
// callers running propagation passes concurrently with each other is not a
// supported usage - passes run sequentially within a Pipeline.
type Store struct {
	mu sync.RWMutex

	nextID LocalID

	sharedTexts map[LocalID]*SharedText
	internIndex map[internKey]LocalID

	issues    map[LocalID]*Issue
	instances map[LocalID]*IssueInstance
	frames    map[LocalID]*TraceFrame
	annotations map[LocalID]*TraceFrameAnnotation
	fixInfo   map[LocalID]*IssueInstanceFixInfo

	// instanceFrames holds the first-hop frames directly reachable from an
	// issue instance (postcondition and precondition roots).
	instanceFrames map[LocalID][]LocalID
	instanceFrameSeen map[LocalID]map[LocalID]struct{}

	// frameInstances is the reverse of instanceFrames: every issue instance
	// that directly attaches to a given frame as a first hop or trimmed
	// condition.
	frameInstances map[LocalID][]LocalID

	// instanceSharedTexts maps an instance to the shared texts (messages,
	// features, etc.) directly associated with it.
	instanceSharedTexts map[LocalID]map[SharedTextKind][]LocalID

	// frameLeaves maps a frame to the leaf kinds reachable from it and the
	// minimum hop distance at which each was discovered (nil = feature,
	// distance-independent).
	frameLeaves map[LocalID]map[LocalID]*int

	// frameAnnotations maps a frame to the TraceFrameAnnotations that hang
	// off it (conditions).
	frameAnnotations map[LocalID][]LocalID

	// annotationFrames maps a TraceFrameAnnotation to the subtrace frames it
	// points to via its trace_key.
	annotationFrames map[LocalID][]LocalID

	// Forward index: frames whose CALLER matches (kind, id, port); queried
	// with a previous frame's callee fields to find successor frames.
	byCaller map[frameKindKey][]LocalID

	// Backward index: frames whose CALLEE matches (kind, id, port); queried
	// with a frame's caller fields to find predecessor frames.
	byCallee map[frameKindKey][]LocalID

	// byCallerID indexes frames by (kind, caller_id) only, ignoring port;
	// used to find all call-site siblings of a frame.
	byCallerID map[callerOnlyKey][]LocalID

	// rootFrameInstances maps a root frame to the issue instances it is the
	// first hop of, the reverse of instanceFrames for root ports.
	rootFrameInstances map[LocalID][]LocalID

	// extraFeaturesToPropagateUp registers frames (typically leaf frames
	// touched by a prior pass) whose features still need to climb back up
	// to the owning issue instance.
	extraFeaturesToPropagateUp map[LocalID]map[LocalID]struct{}

	leafPortPredicate LeafPortPredicate
}

// NewStore returns an empty trace graph store.
func NewStore() *Store {
	return &Store{
		sharedTexts:         make(map[LocalID]*SharedText),
		internIndex:         make(map[internKey]LocalID),
		issues:              make(map[LocalID]*Issue),
		instances:           make(map[LocalID]*IssueInstance),
		frames:              make(map[LocalID]*TraceFrame),
		annotations:         make(map[LocalID]*TraceFrameAnnotation),
		fixInfo:             make(map[LocalID]*IssueInstanceFixInfo),
		instanceFrames:      make(map[LocalID][]LocalID),
		instanceFrameSeen:   make(map[LocalID]map[LocalID]struct{}),
		frameInstances:      make(map[LocalID][]LocalID),
		instanceSharedTexts: make(map[LocalID]map[SharedTextKind][]LocalID),
		frameLeaves:         make(map[LocalID]map[LocalID]*int),
		frameAnnotations:    make(map[LocalID][]LocalID),
		annotationFrames:    make(map[LocalID][]LocalID),
		byCaller:            make(map[frameKindKey][]LocalID),
		byCallee:            make(map[frameKindKey][]LocalID),
		byCallerID:          make(map[callerOnlyKey][]LocalID),
		rootFrameInstances:  make(map[LocalID][]LocalID),
		extraFeaturesToPropagateUp: make(map[LocalID]map[LocalID]struct{}),
	}
}

// SetLeafPortPredicate overrides the default "leaf"/"leaf:*" convention used
// by IsLeafPort.
func (s *Store) SetLeafPortPredicate(p LeafPortPredicate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leafPortPredicate = p
}

// IsLeafPort reports whether port is a callee-side terminal port.
func (s *Store) IsLeafPort(port string) bool {
	s.mu.RLock()
	pred := s.leafPortPredicate
	s.mu.RUnlock()
	if pred != nil {
		return pred(port)
	}
	return DefaultIsLeafPort(port)
}

func (s *Store) allocID() LocalID {
	s.nextID++
	return s.nextID
}

// GetOrAddSharedText interns contents under kind, returning the existing
// entry if one was already interned with the same (kind, contents) pair.
func (s *Store) GetOrAddSharedText(kind SharedTextKind, contents string) *SharedText {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := internKey{kind: kind, contents: contents}
	if id, ok := s.internIndex[key]; ok {
		return s.sharedTexts[id]
	}
	id := s.allocID()
	text := &SharedText{ID: id, Kind: kind, Contents: contents}
	s.sharedTexts[id] = text
	s.internIndex[key] = id
	return text
}

// GetSharedTextByLocalID looks up an interned string by id.
func (s *Store) GetSharedTextByLocalID(id LocalID) (*SharedText, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.sharedTexts[id]
	if !ok {
		return nil, fmt.Errorf("tracegraph: no shared text with id %d", id)
	}
	return text, nil
}

// AddIssue registers an issue, assigning it an id.
func (s *Store) AddIssue(issue Issue) *Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue.ID = s.allocID()
	stored := issue
	s.issues[stored.ID] = &stored
	return &stored
}

// GetIssue returns the issue with the given id.
func (s *Store) GetIssue(id LocalID) (*Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issue, ok := s.issues[id]
	if !ok {
		return nil, fmt.Errorf("tracegraph: no issue with id %d", id)
	}
	return issue, nil
}

// AddIssueInstance registers an issue instance, assigning it an id.
func (s *Store) AddIssueInstance(instance IssueInstance) *IssueInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance.ID = s.allocID()
	stored := instance
	s.instances[stored.ID] = &stored
	return &stored
}

// GetIssueInstances returns every registered issue instance, ordered by id
// for determinism.
func (s *Store) GetIssueInstances() []*IssueInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*IssueInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		result = append(result, inst)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// GetIssueInstance looks up a single issue instance.
func (s *Store) GetIssueInstance(id LocalID) (*IssueInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("tracegraph: no issue instance with id %d", id)
	}
	return inst, nil
}

// AddTraceFrame registers a trace frame and indexes it for traversal.
func (s *Store) AddTraceFrame(frame TraceFrame) *TraceFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame.ID = s.allocID()
	stored := frame
	s.frames[stored.ID] = &stored

	callerKey := frameKindKey{kind: stored.Kind, id: stored.CallerID, port: stored.CallerPort}
	s.byCaller[callerKey] = append(s.byCaller[callerKey], stored.ID)

	calleeKey := frameKindKey{kind: stored.Kind, id: stored.CalleeID, port: stored.CalleePort}
	s.byCallee[calleeKey] = append(s.byCallee[calleeKey], stored.ID)

	callerIDKey := callerOnlyKey{kind: stored.Kind, id: stored.CallerID}
	s.byCallerID[callerIDKey] = append(s.byCallerID[callerIDKey], stored.ID)

	return &stored
}

// GetTraceFrameFromID looks up a trace frame by id.
func (s *Store) GetTraceFrameFromID(id LocalID) (*TraceFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frame, ok := s.frames[id]
	if !ok {
		return nil, fmt.Errorf("tracegraph: no trace frame with id %d", id)
	}
	return frame, nil
}

// GetTraceFramesFromCaller is the forward traversal step: given the
// (kind, callee_id, callee_port) of the PRECEDING frame, returns every
// frame whose own caller matches that identity - i.e. the next hops.
func (s *Store) GetTraceFramesFromCaller(kind TraceKind, calleeID LocalID, calleePort string) []*TraceFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCaller[frameKindKey{kind: kind, id: calleeID, port: calleePort}]
	return s.resolveFrames(ids)
}

// GetTraceFramesFromCallee is the backward traversal step: given the
// (kind, caller_id, caller_port) of the FOLLOWING frame, returns every
// frame whose own callee matches that identity - i.e. the previous hops.
func (s *Store) GetTraceFramesFromCallee(kind TraceKind, callerID LocalID, callerPort string) []*TraceFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCallee[frameKindKey{kind: kind, id: callerID, port: callerPort}]
	return s.resolveFrames(ids)
}

// GetAllTraceFramesFromCaller returns every frame whose caller matches
// (kind, callerID), regardless of port - used to find call-site siblings.
func (s *Store) GetAllTraceFramesFromCaller(kind TraceKind, callerID LocalID) []*TraceFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCallerID[callerOnlyKey{kind: kind, id: callerID}]
	return s.resolveFrames(ids)
}

// GetNextTraceFrames returns the frames reachable in one forward hop from frame.
func (s *Store) GetNextTraceFrames(frame *TraceFrame) []*TraceFrame {
	return s.GetTraceFramesFromCaller(frame.Kind, frame.CalleeID, frame.CalleePort)
}

// GetPreviousTraceFrames returns the frames reachable in one backward hop from frame.
func (s *Store) GetPreviousTraceFrames(frame *TraceFrame) []*TraceFrame {
	return s.GetTraceFramesFromCallee(frame.Kind, frame.CallerID, frame.CallerPort)
}

func (s *Store) resolveFrames(ids []LocalID) []*TraceFrame {
	if len(ids) == 0 {
		return nil
	}
	result := make([]*TraceFrame, 0, len(ids))
	for _, id := range ids {
		if f, ok := s.frames[id]; ok {
			result = append(result, f)
		}
	}
	return result
}

// AttachInstanceFrame records frame as a hop (first-hop or trimmed
// condition) reachable from instance, deduplicating repeat attachments of
// the same (instance, frame) pair. When frameID's caller port is a root
// port, the reverse index used by GetIssueInstancesForRootFrame is updated
// too.
func (s *Store) AttachInstanceFrame(instanceID, frameID LocalID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.instanceFrameSeen[instanceID]
	if seen == nil {
		seen = make(map[LocalID]struct{})
		s.instanceFrameSeen[instanceID] = seen
	}
	if _, ok := seen[frameID]; ok {
		return
	}
	seen[frameID] = struct{}{}
	s.instanceFrames[instanceID] = append(s.instanceFrames[instanceID], frameID)
	s.frameInstances[frameID] = append(s.frameInstances[frameID], instanceID)
	if frame, ok := s.frames[frameID]; ok && IsRootPort(frame.CallerPort) {
		s.rootFrameInstances[frameID] = append(s.rootFrameInstances[frameID], instanceID)
	}
}

// GetIssueInstancesForRootFrame returns the issue instances whose first hop
// is the root frame frameID.
func (s *Store) GetIssueInstancesForRootFrame(frameID LocalID) []LocalID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootFrameInstances[frameID]
}

// GetIssueInstancesForFrame returns every issue instance directly attached
// to frameID, regardless of port.
func (s *Store) GetIssueInstancesForFrame(frameID LocalID) []LocalID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameInstances[frameID]
}

// RegisterExtraFeatureToPropagateUp marks featureID on frameID as needing to
// climb back up to the issue instance(s) that own frameID, via
// PropagateExtraFeaturesToInstances.
func (s *Store) RegisterExtraFeatureToPropagateUp(frameID, featureID LocalID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.extraFeaturesToPropagateUp[frameID]
	if set == nil {
		set = make(map[LocalID]struct{})
		s.extraFeaturesToPropagateUp[frameID] = set
	}
	set[featureID] = struct{}{}
}

// GetExtraFeaturesToPropagateUp returns every frame registered via
// RegisterExtraFeatureToPropagateUp together with its pending feature set.
func (s *Store) GetExtraFeaturesToPropagateUp() map[LocalID]map[LocalID]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extraFeaturesToPropagateUp
}

// AttachInstanceSharedTextByID associates textID with instanceID under
// textID's own SharedText.Kind, looking the kind up from the store.
func (s *Store) AttachInstanceSharedTextByID(instanceID, textID LocalID) {
	s.mu.RLock()
	text, ok := s.sharedTexts[textID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.AttachInstanceSharedText(instanceID, text.Kind, textID)
}

// AddTraceFrameLeafAssocByID is AddTraceFrameLeafAssoc taking a frame id
// instead of a *TraceFrame, for callers threading ids only.
func (s *Store) AddTraceFrameLeafAssocByID(frameID, leafID LocalID, depth *int) {
	s.mu.RLock()
	frame, ok := s.frames[frameID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.AddTraceFrameLeafAssoc(frame, leafID, depth)
}

// GetTraceFrameAnnotationByID looks up a single annotation by id.
func (s *Store) GetTraceFrameAnnotationByID(id LocalID) (*TraceFrameAnnotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.annotations[id]
	if !ok {
		return nil, fmt.Errorf("tracegraph: no trace frame annotation with id %d", id)
	}
	return a, nil
}

// GetIssueInstanceTraceFrames returns the first-hop frames for instance.
func (s *Store) GetIssueInstanceTraceFrames(instance *IssueInstance) []*TraceFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveFrames(s.instanceFrames[instance.ID])
}

// AttachInstanceSharedText associates a shared text of the given kind with instance.
func (s *Store) AttachInstanceSharedText(instanceID LocalID, kind SharedTextKind, textID LocalID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKind := s.instanceSharedTexts[instanceID]
	if byKind == nil {
		byKind = make(map[SharedTextKind][]LocalID)
		s.instanceSharedTexts[instanceID] = byKind
	}
	byKind[kind] = append(byKind[kind], textID)
}

// GetIssueInstanceSharedTexts returns the shared texts of kind associated with instanceID.
func (s *Store) GetIssueInstanceSharedTexts(instanceID LocalID, kind SharedTextKind) []*SharedText {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.instanceSharedTexts[instanceID][kind]
	result := make([]*SharedText, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.sharedTexts[id]; ok {
			result = append(result, t)
		}
	}
	return result
}

// GetCallerLeafKindsOfFrame returns the set of leaf kind ids keyed on the
// CALLER side of frame's leaf mapping - the starting points for a traversal
// that walks forward along frame.
func (s *Store) GetCallerLeafKindsOfFrame(frame *TraceFrame) []LocalID {
	seen := make(map[LocalID]struct{}, len(frame.LeafMapping))
	result := make([]LocalID, 0, len(frame.LeafMapping))
	for _, lm := range frame.LeafMapping {
		if _, ok := seen[lm.CallerLeaf]; ok {
			continue
		}
		seen[lm.CallerLeaf] = struct{}{}
		result = append(result, lm.CallerLeaf)
	}
	return result
}

// AddTraceFrameLeafAssoc records that leafID is reachable from frameID at
// the given hop distance (nil distance marks a distance-independent
// propagation, used for features).
func (s *Store) AddTraceFrameLeafAssoc(frame *TraceFrame, leafID LocalID, depth *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	leaves := s.frameLeaves[frame.ID]
	if leaves == nil {
		leaves = make(map[LocalID]*int)
		s.frameLeaves[frame.ID] = leaves
	}
	existing, ok := leaves[leafID]
	if !ok || depth == nil || (existing != nil && *depth < *existing) {
		leaves[leafID] = depth
	}
}

// GetTraceFrameLeaves returns the leaf-kind -> min-distance map recorded for frameID.
func (s *Store) GetTraceFrameLeaves(frameID LocalID) map[LocalID]*int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameLeaves[frameID]
}

// AddTraceFrameAnnotation registers an annotation hanging off frameID.
func (s *Store) AddTraceFrameAnnotation(annotation TraceFrameAnnotation) *TraceFrameAnnotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	annotation.ID = s.allocID()
	stored := annotation
	s.annotations[stored.ID] = &stored
	s.frameAnnotations[stored.TraceFrameID] = append(s.frameAnnotations[stored.TraceFrameID], stored.ID)
	return &stored
}

// GetTraceFrameAnnotations returns the annotations hanging off frameID.
func (s *Store) GetTraceFrameAnnotations(frameID LocalID) []*TraceFrameAnnotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.frameAnnotations[frameID]
	result := make([]*TraceFrameAnnotation, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.annotations[id]; ok {
			result = append(result, a)
		}
	}
	return result
}

// AttachAnnotationSubtraceFrame records frameID as the root of the subtrace
// that annotationID's trace_key points at.
func (s *Store) AttachAnnotationSubtraceFrame(annotationID, frameID LocalID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotationFrames[annotationID] = append(s.annotationFrames[annotationID], frameID)
}

// GetAnnotationSubtraceFrames returns the subtrace root frames for annotationID.
func (s *Store) GetAnnotationSubtraceFrames(annotationID LocalID) []*TraceFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveFrames(s.annotationFrames[annotationID])
}

// AllTraceFrames returns every registered frame, ordered by id.
func (s *Store) AllTraceFrames() []*TraceFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*TraceFrame, 0, len(s.frames))
	for _, f := range s.frames {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
