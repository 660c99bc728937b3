package vcsstash

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in test environment")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644))
	run("add", "a.txt")
	run("commit", "-m", "initial")

	return dir
}

func TestIsWorkingTreeDirty(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	mgr := NewManager(dir, ModeAlways)

	dirty, err := mgr.IsWorkingTreeDirty()
	require.NoError(t, err)
	require.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("two\n"), 0o644))

	dirty, err = mgr.IsWorkingTreeDirty()
	require.NoError(t, err)
	require.True(t, dirty)
}

func TestCreateStash_ModeOffSkips(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	mgr := NewManager(dir, ModeOff)

	ref, err := mgr.CreateStash("op-1")
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestCreateStash_DirtyOnlySkipsCleanTree(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	mgr := NewManager(dir, ModeDirtyOnly)

	ref, err := mgr.CreateStash("op-2")
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestCreateStashAndRestore_RoundTrip(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	mgr := NewManager(dir, ModeAlways)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("modified\n"), 0o644))

	ref, err := mgr.CreateStash("op-3")
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, "op-3", ref.ID)

	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "one\n", string(content))

	require.NoError(t, mgr.RestoreStash(ref))

	content, err = os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "modified\n", string(content))
}

func TestFindStashIndex_NotFound(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	mgr := NewManager(dir, ModeAlways)

	_, err := mgr.findStashIndex("does-not-exist")
	require.Error(t, err)
}
