package tracegraph

import "strings"

// ComputeNextLeafKinds projects a set of caller-side leaf ids through
// mapping to the callee-side leaf ids they transform into - the forward
// half of a frame's leaf_mapping.
func ComputeNextLeafKinds(leaves map[LocalID]struct{}, mapping []LeafMapping) map[LocalID]struct{} {
	result := make(map[LocalID]struct{})
	for _, lm := range mapping {
		if _, ok := leaves[lm.CallerLeaf]; ok {
			result[lm.CalleeLeaf] = struct{}{}
		}
	}
	return result
}

// ComputePrevLeafKinds projects a set of callee-side leaf ids back through
// mapping to the caller-side leaf ids that produce them - the backward half
// of a frame's leaf_mapping.
func ComputePrevLeafKinds(leaves map[LocalID]struct{}, mapping []LeafMapping) map[LocalID]struct{} {
	result := make(map[LocalID]struct{})
	for _, lm := range mapping {
		if _, ok := leaves[lm.CalleeLeaf]; ok {
			result[lm.CallerLeaf] = struct{}{}
		}
	}
	return result
}

// TransformNormalizedKindID interns and returns the id of leaf's contents
// with the local/global transform separator '@' normalized to ':', so that
// a leaf id discovered mid-flow (still carrying its local transform prefix)
// can be compared against one discovered at the actual terminal frame.
func (s *Store) TransformNormalizedKindID(leaf *SharedText) LocalID {
	normalized := strings.ReplaceAll(leaf.Contents, "@", ":")
	return s.GetOrAddSharedText(leaf.Kind, normalized).ID
}

// GetTraceFrameLeafIDsByKind returns the leaf ids recorded on frame whose
// underlying SharedText is of the given kind (typically KindSource or
// KindSink).
func (s *Store) GetTraceFrameLeafIDsByKind(frame *TraceFrame, kind SharedTextKind) []LocalID {
	leaves := s.GetTraceFrameLeaves(frame.ID)
	result := make([]LocalID, 0, len(leaves))
	for leafID := range leaves {
		text, err := s.GetSharedTextByLocalID(leafID)
		if err != nil || text.Kind != kind {
			continue
		}
		result = append(result, leafID)
	}
	return result
}

// GetText is a convenience for GetSharedTextByLocalID(id).Contents, returning
// an empty string on lookup failure rather than surfacing the error -
// appropriate only for ids known to have been populated already (e.g. a
// frame or instance's own filename_id).
func (s *Store) GetText(id LocalID) string {
	text, err := s.GetSharedTextByLocalID(id)
	if err != nil {
		return ""
	}
	return text.Contents
}

// SetTraceFrameLeafDepth unconditionally overwrites the recorded depth for
// (frameID, leafID), unlike AddTraceFrameLeafAssoc which only keeps the
// smaller of the old and new depth. Used by the trim recompute pass, which
// derives a final, authoritative depth rather than merging partial results.
func (s *Store) SetTraceFrameLeafDepth(frameID, leafID LocalID, depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	leaves := s.frameLeaves[frameID]
	if leaves == nil {
		leaves = make(map[LocalID]*int)
		s.frameLeaves[frameID] = leaves
	}
	d := depth
	leaves[leafID] = &d
}
