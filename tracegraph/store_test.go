package tracegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrAddSharedText_Interns(t *testing.T) {
	store := NewStore()

	first := store.GetOrAddSharedText(KindSource, "taint")
	second := store.GetOrAddSharedText(KindSource, "taint")

	assert.Equal(t, first.ID, second.ID)
	assert.Same(t, first, second)

	other := store.GetOrAddSharedText(KindSink, "taint")
	assert.NotEqual(t, first.ID, other.ID, "same contents but different kind must not collide")
}

func TestGetSharedTextByLocalID_UnknownID(t *testing.T) {
	store := NewStore()
	_, err := store.GetSharedTextByLocalID(999)
	assert.Error(t, err)
}

func TestAddTraceFrame_IndexesForwardAndBackward(t *testing.T) {
	store := NewStore()
	caller := store.GetOrAddSharedText(KindCallable, "a")
	callee := store.GetOrAddSharedText(KindCallable, "b")

	frame := store.AddTraceFrame(TraceFrame{
		Kind:       Postcondition,
		CallerID:   caller.ID,
		CallerPort: "root",
		CalleeID:   callee.ID,
		CalleePort: "leaf",
	})

	forward := store.GetTraceFramesFromCaller(Postcondition, callee.ID, "leaf")
	require.Len(t, forward, 0, "no frame has its caller side at (callee, leaf) yet")

	backward := store.GetTraceFramesFromCallee(Postcondition, callee.ID, "leaf")
	require.Len(t, backward, 1)
	assert.Equal(t, frame.ID, backward[0].ID)

	next := store.GetNextTraceFrames(frame)
	assert.Len(t, next, 0)
}

func TestGetNextTraceFrames_ChainsTwoFrames(t *testing.T) {
	store := NewStore()
	a := store.GetOrAddSharedText(KindCallable, "a")
	b := store.GetOrAddSharedText(KindCallable, "b")
	c := store.GetOrAddSharedText(KindCallable, "c")

	first := store.AddTraceFrame(TraceFrame{Kind: Postcondition, CallerID: a.ID, CallerPort: "root", CalleeID: b.ID, CalleePort: "p1"})
	second := store.AddTraceFrame(TraceFrame{Kind: Postcondition, CallerID: b.ID, CallerPort: "p1", CalleeID: c.ID, CalleePort: "leaf"})

	next := store.GetNextTraceFrames(first)
	require.Len(t, next, 1)
	assert.Equal(t, second.ID, next[0].ID)

	prev := store.GetPreviousTraceFrames(second)
	require.Len(t, prev, 1)
	assert.Equal(t, first.ID, prev[0].ID)
}

func TestAddTraceFrameLeafAssoc_KeepsSmallerDepth(t *testing.T) {
	store := NewStore()
	frame := store.AddTraceFrame(TraceFrame{Kind: Postcondition})
	leaf := store.GetOrAddSharedText(KindSource, "UserInput")

	ten, three := 10, 3
	store.AddTraceFrameLeafAssoc(frame, leaf.ID, &ten)
	store.AddTraceFrameLeafAssoc(frame, leaf.ID, &three)

	leaves := store.GetTraceFrameLeaves(frame.ID)
	require.Contains(t, leaves, leaf.ID)
	assert.Equal(t, 3, *leaves[leaf.ID])

	// a larger depth reported afterward must not regress the minimum
	store.AddTraceFrameLeafAssoc(frame, leaf.ID, &ten)
	assert.Equal(t, 3, *store.GetTraceFrameLeaves(frame.ID)[leaf.ID])
}

func TestAttachInstanceFrame_DedupesAndTracksRootFrames(t *testing.T) {
	store := NewStore()
	callable := store.GetOrAddSharedText(KindCallable, "a")
	frame := store.AddTraceFrame(TraceFrame{Kind: Postcondition, CallerID: callable.ID, CallerPort: "root"})
	instance := store.AddIssueInstance(IssueInstance{})

	store.AttachInstanceFrame(instance.ID, frame.ID)
	store.AttachInstanceFrame(instance.ID, frame.ID)

	frames := store.GetIssueInstanceTraceFrames(instance)
	require.Len(t, frames, 1, "repeat attachment of the same (instance, frame) pair must be idempotent")

	owners := store.GetIssueInstancesForRootFrame(frame.ID)
	require.Len(t, owners, 1)
	assert.Equal(t, instance.ID, owners[0])
}

func TestGetCallerLeafKindsOfFrame_Dedupes(t *testing.T) {
	store := NewStore()
	leaf := store.GetOrAddSharedText(KindSource, "X")
	frame := &TraceFrame{LeafMapping: []LeafMapping{
		{CallerLeaf: leaf.ID, CalleeLeaf: leaf.ID, Transform: leaf.ID},
		{CallerLeaf: leaf.ID, CalleeLeaf: leaf.ID, Transform: leaf.ID},
	}}

	kinds := store.GetCallerLeafKindsOfFrame(frame)
	assert.Equal(t, []LocalID{leaf.ID}, kinds)
}

func TestIsLeafPort_DefaultAndOverride(t *testing.T) {
	store := NewStore()
	assert.True(t, store.IsLeafPort("leaf"))
	assert.True(t, store.IsLeafPort("leaf:source"))
	assert.False(t, store.IsLeafPort("root"))

	store.SetLeafPortPredicate(func(port string) bool { return port == "custom-terminal" })
	assert.True(t, store.IsLeafPort("custom-terminal"))
	assert.False(t, store.IsLeafPort("leaf"), "overriding the predicate replaces the default entirely")
}

func TestSourceLocation_RoundTrip(t *testing.T) {
	loc := NewSourceLocation(10, 4, 4)
	encoded := loc.String()
	assert.Equal(t, "10|4|4", encoded)

	decoded, err := ParseSourceLocation(encoded)
	require.NoError(t, err)
	assert.Equal(t, loc, decoded)

	multi := NewSourceLocation(1, 2, 9)
	joined := JoinSourceLocations([]SourceLocation{loc, multi})
	roundTripped, err := ParseSourceLocations(joined)
	require.NoError(t, err)
	assert.Equal(t, []SourceLocation{loc, multi}, roundTripped)
}

func TestParseSourceLocation_Malformed(t *testing.T) {
	_, err := ParseSourceLocation("not-a-location")
	assert.Error(t, err)
}

func TestPortClassification(t *testing.T) {
	assert.True(t, IsRootPort("root"))
	assert.True(t, IsRootPort("root:0"))
	assert.False(t, IsRootPort("rootless"))

	assert.True(t, IsSubtraceRootPort("subtrace_root"))
	assert.True(t, IsSubtraceRootPort("subtrace_root:1"))

	assert.True(t, IsAnchorPort("anchor:foo"))
	assert.False(t, IsAnchorPort("anchor"))
}
