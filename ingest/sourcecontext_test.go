package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnclosingCallable_FindsFunctionDeclaration(t *testing.T) {
	src := []byte(`package sample

func ReadInput(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	return string(data), err
}
`)
	offset := strings.Index(string(src), "io.ReadAll")
	require.Greater(t, offset, 0)

	name, ok := EnclosingCallable(src, offset)
	require.True(t, ok)
	assert.Equal(t, "ReadInput", name)
}

func TestEnclosingCallable_FindsMethodDeclaration(t *testing.T) {
	src := []byte(`package sample

type Handler struct{}

func (h *Handler) Serve(w, r string) {
	execQuery(r)
}
`)
	offset := strings.Index(string(src), "execQuery")
	require.Greater(t, offset, 0)

	name, ok := EnclosingCallable(src, offset)
	require.True(t, ok)
	assert.Equal(t, "Serve", name)
}

func TestEnclosingCallable_OffsetOutsideAnyFunction(t *testing.T) {
	src := []byte(`package sample

var Global = 1
`)
	offset := strings.Index(string(src), "Global")
	require.Greater(t, offset, 0)

	_, ok := EnclosingCallable(src, offset)
	assert.False(t, ok)
}
