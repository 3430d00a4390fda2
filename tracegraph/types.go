// Package tracegraph implements the in-memory trace graph: the typed
// multigraph that links issue instances to call-graph trace frames, together
// with the interned string store and inverted indexes that back it.
package tracegraph

import (
	"fmt"
	"strconv"
	"strings"
)

// LocalID is a process-local primary key within the in-memory graph. It is
// distinct from any persisted database id and is only ever dense and stable
// for the lifetime of a single Store.
type LocalID int64

// SharedTextKind enumerates the kinds of interned text the graph carries.
type SharedTextKind string

const (
	KindFeature      SharedTextKind = "feature"
	KindMessage      SharedTextKind = "message"
	KindSource       SharedTextKind = "source"
	KindSink         SharedTextKind = "sink"
	KindCallable     SharedTextKind = "callable"
	KindFilename     SharedTextKind = "filename"
	KindSourceDetail SharedTextKind = "source_detail"
	KindSinkDetail   SharedTextKind = "sink_detail"
)

// SharedText is a deduplicated string interned on (kind, contents).
type SharedText struct {
	ID       LocalID        `yaml:"id"`
	Kind     SharedTextKind `yaml:"kind"`
	Contents string         `yaml:"contents"`
}

// TraceKind distinguishes which half of a trace a frame belongs to.
type TraceKind string

const (
	Precondition  TraceKind = "precondition"
	Postcondition TraceKind = "postcondition"
)

// Reachability records whether the analyzer thought a frame was reachable.
type Reachability string

const (
	Reachable   Reachability = "reachable"
	Unreachable Reachability = "unreachable"
)

// SourceLocation is a single point or range in a source file.
type SourceLocation struct {
	LineNo      int `yaml:"lineNo"`
	BeginColumn int `yaml:"beginColumn"`
	EndColumn   int `yaml:"endColumn"`
}

// NewSourceLocation mirrors SourceLocation.of: end defaults to begin when omitted.
func NewSourceLocation(lineNo, beginColumn int, endColumn ...int) SourceLocation {
	end := beginColumn
	if len(endColumn) > 0 && endColumn[0] != 0 {
		end = endColumn[0]
	}
	return SourceLocation{LineNo: lineNo, BeginColumn: beginColumn, EndColumn: end}
}

// String encodes the location as "line|begin|end".
func (l SourceLocation) String() string {
	return fmt.Sprintf("%d|%d|%d", l.LineNo, l.BeginColumn, l.EndColumn)
}

// ParseSourceLocation decodes a "line|begin|end" encoded location.
func ParseSourceLocation(s string) (SourceLocation, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return SourceLocation{}, fmt.Errorf("tracegraph: invalid source location %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return SourceLocation{}, fmt.Errorf("tracegraph: invalid source location %q: %w", s, err)
		}
		nums[i] = n
	}
	return SourceLocation{LineNo: nums[0], BeginColumn: nums[1], EndColumn: nums[2]}, nil
}

// JoinSourceLocations encodes a collection of locations, comma separated.
func JoinSourceLocations(locations []SourceLocation) string {
	parts := make([]string, len(locations))
	for i, l := range locations {
		parts[i] = l.String()
	}
	return strings.Join(parts, ",")
}

// ParseSourceLocations decodes a comma-separated list of "line|begin|end" locations.
func ParseSourceLocations(s string) ([]SourceLocation, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	locations := make([]SourceLocation, 0, len(parts))
	for _, p := range parts {
		loc, err := ParseSourceLocation(p)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// TypeInterval bounds the type context a frame preserves across a call.
type TypeInterval struct {
	Lower                int  `yaml:"lower"`
	Upper                int  `yaml:"upper"`
	PreservesTypeContext bool `yaml:"preservesTypeContext"`
}

// LeafMapping declares how a taint kind transforms across a TraceFrame: the
// caller-side leaf becomes the callee-side leaf, labeled by a transform.
type LeafMapping struct {
	CallerLeaf LocalID `yaml:"callerLeaf"`
	CalleeLeaf LocalID `yaml:"calleeLeaf"`
	Transform  LocalID `yaml:"transform"`
}

// TraceFrame is a directed edge in the call graph carrying taint-kind
// transform information between its caller and callee sides.
type TraceFrame struct {
	ID             LocalID        `yaml:"id"`
	Kind           TraceKind      `yaml:"kind"`
	CallerID       LocalID        `yaml:"callerId"`
	CallerPort     string         `yaml:"callerPort"`
	CalleeID       LocalID        `yaml:"calleeId"`
	CalleePort     string         `yaml:"calleePort"`
	CalleeLocation SourceLocation `yaml:"calleeLocation"`
	FilenameID     LocalID        `yaml:"filenameId"`
	RunID          LocalID        `yaml:"runId"`
	TypeInterval   TypeInterval   `yaml:"typeInterval"`
	Titos          []SourceLocation `yaml:"titos,omitempty"`
	Reachability   Reachability   `yaml:"reachability"`
	LeafMapping    []LeafMapping  `yaml:"leafMapping,omitempty"`
}

// Issue is the persistent bug identity, keyed externally by Handle.
type Issue struct {
	ID         LocalID `yaml:"id"`
	Handle     string  `yaml:"handle"`
	Code       int     `yaml:"code"`
	Status     string  `yaml:"status"`
	Severity   string  `yaml:"severity"`
	CallableID LocalID `yaml:"callableId"`
}

// IssueInstance is a single appearance of an Issue in one Run.
type IssueInstance struct {
	ID                      LocalID        `yaml:"id"`
	IssueID                 LocalID        `yaml:"issueId"`
	FilenameID              LocalID        `yaml:"filenameId"`
	CallableID              LocalID        `yaml:"callableId"`
	MessageID               LocalID        `yaml:"messageId"`
	Location                SourceLocation `yaml:"location"`
	RunID                   LocalID        `yaml:"runId"`
	MinTraceLengthToSources *int           `yaml:"minTraceLengthToSources,omitempty"`
	MinTraceLengthToSinks   *int           `yaml:"minTraceLengthToSinks,omitempty"`
	IsNewIssue              bool           `yaml:"isNewIssue"`
	PurgeStatus             string         `yaml:"purgeStatus"`
	CallableCount           int            `yaml:"callableCount"`
}

// TraceFrameAnnotation is an auxiliary edge hanging off a TraceFrame,
// possibly pointing into a subtrace rooted at a subtrace_root port.
type TraceFrameAnnotation struct {
	ID           LocalID        `yaml:"id"`
	TraceFrameID LocalID        `yaml:"traceFrameId"`
	Location     SourceLocation `yaml:"location"`
	Kind         string         `yaml:"kind"`
	Message      string         `yaml:"message"`
	LeafID       *LocalID       `yaml:"leafId,omitempty"`
	Link         *string        `yaml:"link,omitempty"`
	TraceKey     *string        `yaml:"traceKey,omitempty"`
}

// IssueInstanceFixInfo records suggested-fix metadata for an instance.
type IssueInstanceFixInfo struct {
	ID         LocalID `yaml:"id"`
	InstanceID LocalID `yaml:"instanceId"`
	FixInfo    string  `yaml:"fixInfo"`
}

func intPtr(v int) *int { return &v }
