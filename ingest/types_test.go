package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseIssue() ParseIssueTuple {
	return ParseIssueTuple{
		Code:     1001,
		Handle:   "issue-1",
		Filename: "src/a/handler.go",
		Line:     10,
		Start:    100,
		End:      120,
		InitialSources: []ParseIssueLeaf{
			{Callable: "readInput", Kind: "UserInput"},
		},
		FinalSinks: []ParseIssueLeaf{
			{Callable: "execQuery", Kind: "SQL"},
		},
		Features: []string{"always-debug"},
	}
}

func TestIssueInstanceHash_StableUnderFieldPermutation(t *testing.T) {
	issue := baseIssue()
	issue.InitialSources = append(issue.InitialSources, ParseIssueLeaf{Callable: "readFile", Kind: "FileInput"})
	issue.FinalSinks = append(issue.FinalSinks, ParseIssueLeaf{Callable: "runCommand", Kind: "Exec"})
	issue.Features = append(issue.Features, "via-cast")
	minSrc, minSink := 2, 3

	h1 := IssueInstanceHash(issue, &minSrc, &minSink)

	permuted := issue
	permuted.InitialSources = []ParseIssueLeaf{
		{Callable: "readFile", Kind: "FileInput"},
		{Callable: "readInput", Kind: "UserInput"},
	}
	permuted.FinalSinks = []ParseIssueLeaf{
		{Callable: "runCommand", Kind: "Exec"},
		{Callable: "execQuery", Kind: "SQL"},
	}
	permuted.Features = []string{"via-cast", "always-debug"}

	h2 := IssueInstanceHash(permuted, &minSrc, &minSink)
	assert.Equal(t, h1, h2)
}

func TestIssueInstanceHash_DiffersOnIdentity(t *testing.T) {
	issue := baseIssue()
	minSrc, minSink := 2, 3
	h1 := IssueInstanceHash(issue, &minSrc, &minSink)

	other := issue
	other.Line = 11
	h2 := IssueInstanceHash(other, &minSrc, &minSink)

	assert.NotEqual(t, h1, h2)
}

func TestIssueInstanceHash_DiffersOnMinDistances(t *testing.T) {
	issue := baseIssue()
	a, b := 2, 3
	h1 := IssueInstanceHash(issue, &a, &b)
	h2 := IssueInstanceHash(issue, nil, &b)
	assert.NotEqual(t, h1, h2)
}

func TestSortedUnique(t *testing.T) {
	got := sortedUnique([]string{"b", "a", "b", "c", "a"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
