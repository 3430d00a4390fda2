// Package persistence declares the collaborator interfaces the pipeline
// depends on for durable storage, without implementing them: primary-key
// reservation and per-entity merge, exactly as much surface as the graph
// transformation core needs to hand its result off to a database layer it
// does not own.
package persistence

import (
	"context"

	"github.com/viant/sapptrace/tracegraph"
)

// EntityKind enumerates the persisted entity types a Collaborator reserves
// ids for and merges, mirroring the upstream ORM's table set.
type EntityKind string

const (
	EntityIssue                EntityKind = "issue"
	EntityIssueInstance         EntityKind = "issue_instance"
	EntityIssueInstanceFixInfo  EntityKind = "issue_instance_fix_info"
	EntitySharedText            EntityKind = "shared_text"
	EntityRun                   EntityKind = "run"
	EntityTraceFrame             EntityKind = "trace_frame"
	EntityTraceFrameAnnotation  EntityKind = "trace_frame_annotation"
	EntityClassTypeInterval     EntityKind = "class_type_interval"
)

// IDReserver allocates a contiguous block of n primary keys for kind,
// returning the first id in the block. Implementations are expected to be
// safe across concurrent reservation requests from multiple pipeline runs.
type IDReserver interface {
	ReserveIDs(ctx context.Context, kind EntityKind, n int) (first int64, err error)
}

// Merger persists a batch of already-id-assigned entities of kind,
// reconciling with any existing row sharing the same natural key (e.g. an
// Issue's handle). A merge conflict - two entities sharing a key but
// disagreeing on an unmergeable attribute - is reported as an error naming
// the entity key; the caller aborts the save.
type Merger interface {
	Merge(ctx context.Context, kind EntityKind, items []any) error
}

// RunDeleter removes a Run and everything scoped to it (issue instances,
// trace frames, run-origin, meta-run assocs). Deletions other than the Run
// row itself proceed unconditionally; deleting a Run that does not exist is
// reported to the caller as an EmptyDeletion rather than treated as success.
type RunDeleter interface {
	DeleteRun(ctx context.Context, runID tracegraph.LocalID) error
}

// EmptyDeletionError reports that a RunDeleter found no matching run.
type EmptyDeletionError struct {
	RunID tracegraph.LocalID
}

func (e *EmptyDeletionError) Error() string {
	return "persistence: no run found to delete"
}

// Collaborator is the full persistence surface the pipeline hands its
// finished (or trimmed) graph off to. The graph-transformation core only
// ever depends on this interface, never on a concrete storage backend.
type Collaborator interface {
	IDReserver
	Merger
	RunDeleter
}

// BulkSaver accepts a fully populated Store for saving, id-reservation
// already applied to every entity within it. Implementations own their own
// retry policy; passes never retry a failed save themselves.
type BulkSaver interface {
	Save(ctx context.Context, graph *tracegraph.Store, collaborator Collaborator) error
}
