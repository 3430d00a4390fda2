package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingParser struct {
	mu    *sync.Mutex
	calls *[]string
}

func (c *countingParser) ParseFile(_ context.Context, path string, _ []byte) (DictEntries, error) {
	c.mu.Lock()
	*c.calls = append(*c.calls, path)
	c.mu.Unlock()
	return DictEntries{Issues: []ParseIssueTuple{{Handle: path}}}, nil
}

func TestParallelParser_SkipsByteIdenticalDuplicates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("AAAA"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("BBBB"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("AAAA"), 0o644))

	var mu sync.Mutex
	var calls []string
	parser := NewParallelParser(nil, func() FileParser {
		return &countingParser{mu: &mu, calls: &calls}
	})

	entries, err := parser.Parse(context.Background(), dir)
	require.NoError(t, err)

	assert.Len(t, entries.Issues, 2, "the byte-identical duplicate must be skipped")
	assert.Len(t, calls, 2, "the parser must only be invoked for distinct content")
}

func TestParallelParser_PropagatesFirstError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte("bad"), 0o644))

	parser := NewParallelParser(nil, func() FileParser {
		return failingParser{}
	})

	_, err := parser.Parse(context.Background(), dir)
	assert.Error(t, err)
}

type failingParser struct{}

func (failingParser) ParseFile(_ context.Context, _ string, _ []byte) (DictEntries, error) {
	return DictEntries{}, errors.New("parse failed")
}
