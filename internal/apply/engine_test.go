package apply_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgeware/codeforge/internal/apply"
	"github.com/forgeware/codeforge/internal/audit"
	"github.com/forgeware/codeforge/internal/fsiface"
	"github.com/forgeware/codeforge/internal/model"
	"github.com/forgeware/codeforge/internal/snapshot"
)

func newEngine(t *testing.T, root string, chaos fsiface.ChaosConfig) (*apply.Engine, fsiface.FS) {
	t.Helper()
	real := fsiface.NewReal()
	var fs fsiface.FS = real
	fs = writeChaosFS{FS: real, chaos: fsiface.NewChaos(real, 1, chaos)}

	reader := apply.BaseReader{Root: root, FS: fs}
	store := snapshot.NewStore(reader, 0)
	auditLog := audit.Open(filepath.Join(root, ".codeforge-audit.jsonl"))

	eng := apply.NewEngine(apply.Options{
		WorkspaceRoot: root,
		FS:            fs,
		Snapshots:     store,
		Audit:         auditLog,
	})
	return eng, fs
}

// writeChaosFS sends WriteFileAtomic through a Chaos decorator and every
// other call straight to the underlying FS, so a FailOnPath target fails on
// write only while base capture, snapshot and re-check reads succeed.
type writeChaosFS struct {
	fsiface.FS
	chaos *fsiface.Chaos
}

func (w writeChaosFS) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return w.chaos.WriteFileAtomic(path, data, perm)
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

func readFile(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name))
	require.NoError(t, err)
	return string(data)
}

// Scenario 1: atomic two-file apply with injected failure on the second
// write leaves the first file untouched.
func TestApplyTransaction_AtomicOnInjectedFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a1")
	writeFile(t, root, "b.txt", "b1")

	eng, _ := newEngine(t, root, fsiface.ChaosConfig{
		WriteFileAtomicFailRate: 0,
		FailOnPath:              filepath.Join(root, "b.txt"),
	})

	result := eng.ApplyTransaction([]model.FileEditOperation{
		model.NewEditContent("a.txt", "a2"),
		model.NewEditContent("b.txt", "b2"),
	}, apply.ApplyOptions{})

	require.False(t, result.Success)
	require.Equal(t, model.ErrWriteFailure, result.ErrorCategory)
	require.Equal(t, "a1", readFile(t, root, "a.txt"))
	require.Equal(t, "b1", readFile(t, root, "b.txt"))
}

// Scenario 2: a base mismatch (external writer changes the file between
// capture and write) aborts with base_mismatch and never writes "z".
func TestApplyTransaction_BaseMismatchAbort(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "f.txt", "x")

	real := fsiface.NewReal()
	reader := apply.BaseReader{Root: root, FS: real}
	store := snapshot.NewStore(reader, 0)
	auditLog := audit.Open(filepath.Join(root, ".codeforge-audit.jsonl"))

	// raceInjectingFS rewrites the file out from under the engine on its
	// second ReadFile of it (the race re-check), simulating an external
	// writer between base capture and write.
	raceFS := &raceInjectingFS{FS: real, path: filepath.Join(root, "f.txt")}

	eng := apply.NewEngine(apply.Options{
		WorkspaceRoot: root,
		FS:            raceFS,
		Snapshots:     store,
		Audit:         auditLog,
	})

	result := eng.ApplyTransaction([]model.FileEditOperation{
		model.NewEditContent("f.txt", "z"),
	}, apply.ApplyOptions{})

	require.False(t, result.Success)
	require.Equal(t, model.ErrBaseMismatch, result.ErrorCategory)
	got := readFile(t, root, "f.txt")
	require.Contains(t, []string{"x", "y"}, got)
}

// raceInjectingFS wraps an FS and rewrites a target file the second time
// ReadFile is called against it (first call is base capture; second is the
// race re-check), simulating scenario 2's external writer.
type raceInjectingFS struct {
	fsiface.FS
	path  string
	count int
}

func (r *raceInjectingFS) ReadFile(path string) ([]byte, error) {
	if path == r.path {
		r.count++
		if r.count == 2 {
			_ = os.WriteFile(r.path, []byte("y"), 0o644)
		}
	}
	return r.FS.ReadFile(path)
}

// Scenario 3: files differing only in line endings normalize to equal
// base hashes and both edits succeed.
func TestApplyTransaction_CRLFNormalization(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "L1\r\nL2\r\n")
	writeFile(t, root, "b.txt", "L1\nL2\n")

	eng, _ := newEngine(t, root, fsiface.ChaosConfig{})

	result := eng.ApplyTransaction([]model.FileEditOperation{
		model.NewEditContent("a.txt", "L1\nL2\nL3"),
		model.NewEditContent("b.txt", "L1\nL2\nL3"),
	}, apply.ApplyOptions{})

	require.True(t, result.Success)
	require.Equal(t,
		model.ContentHash(readFile(t, root, "a.txt")),
		model.ContentHash(readFile(t, root, "b.txt")),
	)
}

// Scenario 4: an operation whose URI escapes the workspace root is
// rejected before any file is created.
func TestApplyTransaction_PathSafety(t *testing.T) {
	root := t.TempDir()
	eng, _ := newEngine(t, root, fsiface.ChaosConfig{})

	result := eng.ApplyTransaction([]model.FileEditOperation{
		model.NewCreate("../outside/x.txt", "hi"),
	}, apply.ApplyOptions{})

	require.False(t, result.Success)
	require.Equal(t, model.ErrWriteFailure, result.ErrorCategory)
	_, err := os.Stat(filepath.Join(filepath.Dir(root), "outside", "x.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestApplyTransaction_Determinism(t *testing.T) {
	root1, root2 := t.TempDir(), t.TempDir()
	writeFile(t, root1, "a.txt", "a1")
	writeFile(t, root1, "b.txt", "b1")
	writeFile(t, root2, "a.txt", "a1")
	writeFile(t, root2, "b.txt", "b1")

	eng1, _ := newEngine(t, root1, fsiface.ChaosConfig{})
	eng2, _ := newEngine(t, root2, fsiface.ChaosConfig{})

	ops1 := []model.FileEditOperation{
		model.NewEditContent("a.txt", "a2"),
		model.NewEditContent("b.txt", "b2"),
	}
	ops2 := []model.FileEditOperation{
		model.NewEditContent("b.txt", "b2"),
		model.NewEditContent("a.txt", "a2"),
	}

	r1 := eng1.ApplyTransaction(ops1, apply.ApplyOptions{})
	r2 := eng2.ApplyTransaction(ops2, apply.ApplyOptions{})

	require.True(t, r1.Success)
	require.True(t, r2.Success)
	require.Equal(t,
		model.ContentHash(readFile(t, root1, "a.txt")),
		model.ContentHash(readFile(t, root2, "a.txt")),
	)
	require.Equal(t,
		model.ContentHash(readFile(t, root1, "b.txt")),
		model.ContentHash(readFile(t, root2, "b.txt")),
	)
}
