package tracegraph

// This file provides identity-preserving "Put" variants of the Add*
// constructors, used when copying entities from one Store into another
// (the trim package's trimmed-graph builder) where cross-references must
// keep referring to the same LocalID rather than being renumbered.

func (s *Store) bumpNextID(id LocalID) {
	if id > s.nextID {
		s.nextID = id
	}
}

// PutSharedText inserts text at its existing id, as-is. A no-op if the id
// is already present.
func (s *Store) PutSharedText(text *SharedText) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sharedTexts[text.ID]; ok {
		return
	}
	stored := *text
	s.sharedTexts[stored.ID] = &stored
	s.internIndex[internKey{kind: stored.Kind, contents: stored.Contents}] = stored.ID
	s.bumpNextID(stored.ID)
}

// HasSharedText reports whether id has already been copied in.
func (s *Store) HasSharedText(id LocalID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sharedTexts[id]
	return ok
}

// PutIssue inserts issue at its existing id.
func (s *Store) PutIssue(issue *Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *issue
	s.issues[stored.ID] = &stored
	s.bumpNextID(stored.ID)
}

// PutIssueInstance inserts instance at its existing id.
func (s *Store) PutIssueInstance(instance *IssueInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *instance
	s.instances[stored.ID] = &stored
	s.bumpNextID(stored.ID)
}

// HasIssueInstance reports whether id has already been copied in.
func (s *Store) HasIssueInstance(id LocalID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.instances[id]
	return ok
}

// PutTraceFrame inserts frame at its existing id and rebuilds the
// caller/callee indexes for it. A no-op if the id is already present.
func (s *Store) PutTraceFrame(frame *TraceFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frames[frame.ID]; ok {
		return
	}
	stored := *frame
	s.frames[stored.ID] = &stored
	s.bumpNextID(stored.ID)

	callerKey := frameKindKey{kind: stored.Kind, id: stored.CallerID, port: stored.CallerPort}
	s.byCaller[callerKey] = append(s.byCaller[callerKey], stored.ID)

	calleeKey := frameKindKey{kind: stored.Kind, id: stored.CalleeID, port: stored.CalleePort}
	s.byCallee[calleeKey] = append(s.byCallee[calleeKey], stored.ID)

	callerIDKey := callerOnlyKey{kind: stored.Kind, id: stored.CallerID}
	s.byCallerID[callerIDKey] = append(s.byCallerID[callerIDKey], stored.ID)
}

// HasTraceFrame reports whether id has already been copied in.
func (s *Store) HasTraceFrame(id LocalID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.frames[id]
	return ok
}

// PutTraceFrameAnnotation inserts annotation at its existing id.
func (s *Store) PutTraceFrameAnnotation(annotation *TraceFrameAnnotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *annotation
	s.annotations[stored.ID] = &stored
	s.bumpNextID(stored.ID)
	s.frameAnnotations[stored.TraceFrameID] = append(s.frameAnnotations[stored.TraceFrameID], stored.ID)
}

// GetAllIssueInstanceSharedTexts returns every shared text attached to
// instanceID across every SharedTextKind, for use by callers copying an
// instance's full complement of shared text rather than one kind at a time.
func (s *Store) GetAllIssueInstanceSharedTexts(instanceID LocalID) []*SharedText {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKind := s.instanceSharedTexts[instanceID]
	result := make([]*SharedText, 0)
	for _, ids := range byKind {
		for _, id := range ids {
			if t, ok := s.sharedTexts[id]; ok {
				result = append(result, t)
			}
		}
	}
	return result
}

// PutIssueInstanceFixInfo inserts fix info at its existing id.
func (s *Store) PutIssueInstanceFixInfo(info *IssueInstanceFixInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *info
	if s.fixInfo == nil {
		s.fixInfo = make(map[LocalID]*IssueInstanceFixInfo)
	}
	s.fixInfo[stored.InstanceID] = &stored
	s.bumpNextID(stored.ID)
}

// GetIssueInstanceFixInfo returns the fix info recorded for instanceID, if any.
func (s *Store) GetIssueInstanceFixInfo(instanceID LocalID) (*IssueInstanceFixInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.fixInfo[instanceID]
	return info, ok
}
