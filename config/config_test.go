package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_ParsesRunConfigAndBuildsSteps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	writeFile(t, path, `
repoName: myorg/myrepo
jobId: job-1
addReverseTraces:
  - code: 1001
    origLeafName: UserInput
    origLeafKind: source
    newLeafName: UserInputReverse
    newLeafKind: sink
propagateSharedTexts:
  propagateSources: true
  propagateFeatures: false
propagateContext:
  - issueCode: 1002
    featurePattern: always-debug
    frameKind: postcondition
partialFlows:
  - fullIssueCode: 1001
    partialIssueCode: 1002
    fullIssueTransform: Tx
    isPrefixFlow: false
    feature: partial-flow-of-1001
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "myorg/myrepo", cfg.RepoName)
	require.Len(t, cfg.AddReverseTraces, 1)
	assert.Equal(t, 1001, cfg.AddReverseTraces[0].Code)

	steps := cfg.BuildSteps(nil)
	// reverse-traces, shared-texts, context, extra-features-up, mark-partial-flows
	require.Len(t, steps, 5)
	assert.Equal(t, "AddReverseTraces", steps[0].Name())
}

func TestLoad_DetectsRepoNameFromGoMod(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go.mod"), "module github.com/acme/widgets\n\ngo 1.23\n")

	cfgPath := filepath.Join(dir, "run.yaml")
	writeFile(t, cfgPath, "inputDir: "+dir+"\n")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "github.com/acme/widgets", cfg.RepoName)
}

func TestLoad_ExplicitRepoNameWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go.mod"), "module github.com/acme/widgets\n")

	cfgPath := filepath.Join(dir, "run.yaml")
	writeFile(t, cfgPath, "repoName: explicit-name\ninputDir: "+dir+"\n")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "explicit-name", cfg.RepoName)
}

func TestDetectRepoName_MissingGoMod(t *testing.T) {
	dir := t.TempDir()
	_, ok := DetectRepoName(dir)
	assert.False(t, ok)
}

func TestDetectRepoName_TolerantOfExtraWhitespace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go.mod"), "module  weirdly/spaced/path  \n")

	name, ok := DetectRepoName(dir)
	require.True(t, ok)
	assert.Contains(t, name, "weirdly")
}
