package builder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeware/codeforge/internal/fsiface"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildFile_GoSource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "package main\n\nfunc Run() {}\n")

	b := New(fsiface.NewReal())
	entry, err := b.BuildFile(path, "main.go")
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, "main.go", entry.URI)
	assert.Contains(t, entry.Symbols, "Run")
	assert.NotEmpty(t, entry.Snippet)
	assert.NotEmpty(t, entry.SnippetTokens)
}

func TestBuildFile_SkipsIneligibleExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "image.png", "not real png data")

	b := New(fsiface.NewReal())
	entry, err := b.BuildFile(path, "image.png")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestBuildFile_OverviewFilesAreEligible(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "README.md", "# Title\n\nSome docs.\n")

	b := New(fsiface.NewReal())
	entry, err := b.BuildFile(path, "README.md")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestBuildFile_LargeOverviewUsesWiderSnippet(t *testing.T) {
	dir := t.TempDir()
	longDoc := strings.Repeat("line of documentation text here\n", 60)
	path := writeFile(t, dir, "README.md", longDoc)

	b := New(fsiface.NewReal())
	entry, err := b.BuildFile(path, "README.md")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Greater(t, len(entry.Snippet), snippetCharsDefault)
}

func TestBuildFile_ChunksRespectCapAndOverlap(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("x", chunkChars*200)
	path := writeFile(t, dir, "big.go", big)

	b := New(fsiface.NewReal())
	entry, err := b.BuildFile(path, "big.go")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.LessOrEqual(t, len(entry.Chunks), maxChunksPerFile)
	assert.True(t, len(entry.Chunks) > 1)
	assert.Equal(t, entry.Chunks[0].Text[chunkChars-chunkOverlap:], entry.Chunks[1].Text[:chunkOverlap])
}

func TestShouldSkipDir(t *testing.T) {
	assert.True(t, ShouldSkipDir("node_modules", nil))
	assert.True(t, ShouldSkipDir(".git", nil))
	assert.False(t, ShouldSkipDir("src", nil))
	assert.True(t, ShouldSkipDir("generated", []string{"gen*", "generated"}))
}

type fakeEmbeddingService struct {
	enabled bool
	vectors [][]float32
}

func (f *fakeEmbeddingService) IsEnabled() bool { return f.enabled }
func (f *fakeEmbeddingService) Embed(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func TestBuildFile_AttachesEmbeddingsWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "package main\n\nfunc Run() {}\n")

	b := New(fsiface.NewReal())
	b.Embeddings = &fakeEmbeddingService{enabled: true}

	entry, err := b.BuildFile(path, "main.go")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.SnippetEmbedding)
}

func TestBuildFile_SkipsEmbeddingsWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "package main\n\nfunc Run() {}\n")

	b := New(fsiface.NewReal())
	b.Embeddings = &fakeEmbeddingService{enabled: false}

	entry, err := b.BuildFile(path, "main.go")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Empty(t, entry.SnippetEmbedding)
}
