// Package ingest converts parsed analyzer output into tracegraph entities:
// the typed ParseIssueTuple/ParseConditionTuple records at the head of the
// pipeline, the issue-instance de-duplication hash, and a worker-pool file
// parser that fans a directory of analyzer output out across goroutines.
package ingest

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/viant/sapptrace/tracegraph"
)

// ParseLeaf is a (kind, distance) pair as emitted by an upstream analyzer.
type ParseLeaf struct {
	Kind     string
	Distance int
}

// ParseIssueLeaf is a (callable, kind, distance) triple - a leaf as reported
// directly against an issue (rather than against a trace frame).
type ParseIssueLeaf struct {
	Callable string
	Kind     string
	Distance int
}

// ParseTraceFeature is a feature attached to a condition, optionally with
// the source locations that justify it.
type ParseTraceFeature struct {
	Name      string
	Locations []tracegraph.SourceLocation
}

// ParseTraceAnnotation mirrors TraceFrameAnnotation at the parse boundary,
// before local ids have been assigned.
type ParseTraceAnnotation struct {
	Location tracegraph.SourceLocation
	Kind     string
	Message  string
	Leaf     *ParseLeaf
	Link     *string
	TraceKey *string
}

// ParseIssueConditionTuple is one precondition or postcondition first-hop
// reported directly against an issue.
type ParseIssueConditionTuple struct {
	Callee       string
	Port         string
	Location     tracegraph.SourceLocation
	Leaves       []ParseLeaf
	Titos        []tracegraph.SourceLocation
	Features     []ParseTraceFeature
	TypeInterval *tracegraph.TypeInterval
	Annotations  []ParseTraceAnnotation
	RootPort     *string
}

// ParseConditionTuple is one precondition or postcondition trace frame
// reported independently of any particular issue, keyed for later lookup by
// handle or by (caller, caller_port).
type ParseConditionTuple struct {
	Kind            tracegraph.TraceKind
	Caller          string
	CallerPort      string
	Filename        string
	Callee          string
	CalleePort      string
	CalleeLocation  tracegraph.SourceLocation
	Leaves          []ParseLeaf
	TypeInterval    *tracegraph.TypeInterval
	Features        []ParseTraceFeature
	Titos           []tracegraph.SourceLocation
	Annotations     []ParseTraceAnnotation
}

// ParseIssueTuple is a single issue as reported by an analyzer, the unit of
// work ingestion fans out over.
type ParseIssueTuple struct {
	Code           int
	Message        string
	Callable       string
	Handle         string
	Filename       string
	Line           int
	Start          int
	End            int
	Preconditions  []ParseIssueConditionTuple
	Postconditions []ParseIssueConditionTuple
	InitialSources []ParseIssueLeaf
	FinalSinks     []ParseIssueLeaf
	Features       []string
	CallableLine   *int
	FixInfo        *string
}

// ConditionKey identifies a ParseConditionTuple bucket: either a handle, or
// a (caller, caller_port) pair when no handle is available.
type ConditionKey struct {
	Handle     string
	Caller     string
	CallerPort string
}

// DictEntries is the payload handed to the head of the pipeline: conditions
// bucketed for lookup during issue-instance construction, plus the flat
// list of issues to build instances from.
type DictEntries struct {
	Preconditions  map[ConditionKey][]ParseConditionTuple
	Postconditions map[ConditionKey][]ParseConditionTuple
	Issues         []ParseIssueTuple
}

func sortedUnique(values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	result := make([]string, 0, len(set))
	for v := range set {
		result = append(result, v)
	}
	sort.Strings(result)
	return result
}

// IssueInstanceHash computes the de-duplication hash for a parsed issue
// within a meta-run: xxh64 of the "$"-joined identity fields, followed by a
// "|"-joined block of sorted-set-stable leaf/feature summaries.
func IssueInstanceHash(issue ParseIssueTuple, minSourceDistance, minSinkDistance *int) uint64 {
	sourceKinds := make([]string, 0, len(issue.InitialSources))
	sourceCallables := make([]string, 0, len(issue.InitialSources))
	for _, leaf := range issue.InitialSources {
		sourceKinds = append(sourceKinds, leaf.Kind)
		sourceCallables = append(sourceCallables, leaf.Callable)
	}
	sinkKinds := make([]string, 0, len(issue.FinalSinks))
	sinkCallables := make([]string, 0, len(issue.FinalSinks))
	for _, leaf := range issue.FinalSinks {
		sinkKinds = append(sinkKinds, leaf.Kind)
		sinkCallables = append(sinkCallables, leaf.Callable)
	}

	identity := strings.Join([]string{
		issue.Handle,
		issue.Filename,
		strconv.Itoa(issue.Line),
		strconv.Itoa(issue.Start),
		strconv.Itoa(issue.End),
	}, "$")

	summary := strings.Join([]string{
		strings.Join(sortedUnique(sourceKinds), ","),
		strings.Join(sortedUnique(sinkKinds), ","),
		strings.Join(sortedUnique(sourceCallables), ","),
		strings.Join(sortedUnique(sinkCallables), ","),
		intPtrString(minSourceDistance),
		intPtrString(minSinkDistance),
		strings.Join(sortedUnique(issue.Features), ","),
	}, "|")

	return xxhash.Sum64String(identity + "$" + summary)
}

func intPtrString(v *int) string {
	if v == nil {
		return "None"
	}
	return strconv.Itoa(*v)
}
