// Package traversal implements a generic forward/backward trace graph walk:
// a breadth-first queue of (frame, per-leaf-kind payload) pairs, threaded
// through a frame's leaf_mapping so that a payload keyed by a caller-side
// leaf is re-keyed to the matching callee-side leaf as the walk steps across
// a TraceFrame. The passes in package propagate do not call Walk; each runs
// its own queue loop of the same shape.
package traversal

import (
	"container/list"

	"github.com/viant/sapptrace/tracegraph"
)

// Direction selects which way the kernel steps across the graph.
type Direction int

const (
	// Forward steps away from an instance's first-hop frames (towards
	// sources on postcondition traces, towards sinks on precondition
	// traces), following each frame's callee side to find successors.
	Forward Direction = iota
	// Backward steps towards the root, following each frame's caller side
	// to find predecessors.
	Backward
)

// Payload is the per-leaf-kind state threaded alongside a frame during a
// walk. Implementations decide how payloads combine (set union for feature
// propagation, min-distance for distance propagation) and whether a
// re-visit of an already-visited frame can still contribute anything new.
type Payload interface {
	// IsEmpty reports whether there is nothing left to propagate.
	IsEmpty() bool
}

// Memo records, per frame, what has already been propagated there so that
// the walk can prune work a later queue entry would only repeat.
type Memo interface {
	// Subtract removes from payload anything already recorded as visited
	// for frameID, returning what remains to propagate. It must not mutate
	// the Visited state.
	Subtract(frameID tracegraph.LocalID, payload Payload) Payload
	// Visit merges payload into the recorded state for frameID.
	Visit(frameID tracegraph.LocalID, payload Payload)
}

// queueEntry is a frame paired with the payload arriving at it.
type queueEntry struct {
	frame   *tracegraph.TraceFrame
	payload Payload
}

// Walk runs a breadth-first traversal starting from startFrames, each paired
// with its initial payload, stepping via the graph's caller/callee indexes
// according to dir. visit is called once per (frame, non-empty remaining
// payload) pair that survives the memo's Subtract; rekey combines a frame's
// leaf_mapping with the incoming payload to produce the payload for the
// next hop.
func Walk(
	graph *tracegraph.Store,
	dir Direction,
	starts []queueSeed,
	memo Memo,
	rekey func(frame *tracegraph.TraceFrame, payload Payload) Payload,
	visit func(frame *tracegraph.TraceFrame, payload Payload),
) {
	queue := list.New()
	for _, seed := range starts {
		queue.PushBack(queueEntry{frame: seed.Frame, payload: seed.Payload})
	}

	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(queueEntry)
		frame, payload := front.frame, front.payload
		if payload == nil || payload.IsEmpty() {
			continue
		}

		remaining := memo.Subtract(frame.ID, payload)
		if remaining == nil || remaining.IsEmpty() {
			continue
		}

		memo.Visit(frame.ID, remaining)
		visit(frame, remaining)

		var next []*tracegraph.TraceFrame
		switch dir {
		case Forward:
			next = graph.GetTraceFramesFromCaller(frame.Kind, frame.CalleeID, frame.CalleePort)
		case Backward:
			next = graph.GetTraceFramesFromCallee(frame.Kind, frame.CallerID, frame.CallerPort)
		}

		for _, nextFrame := range next {
			nextPayload := rekey(frame, remaining)
			if nextPayload == nil || nextPayload.IsEmpty() {
				continue
			}
			queue.PushBack(queueEntry{frame: nextFrame, payload: nextPayload})
		}
	}
}

// queueSeed is a starting (frame, payload) pair for Walk.
type queueSeed struct {
	Frame   *tracegraph.TraceFrame
	Payload Payload
}

// Seed constructs a queueSeed; exported so callers outside the package can
// build the initial frontier.
func Seed(frame *tracegraph.TraceFrame, payload Payload) queueSeed {
	return queueSeed{Frame: frame, Payload: payload}
}
