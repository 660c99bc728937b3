// Package vcsstash implements an optional fallback rollback path used
// when the in-memory rollback snapshot store is skipped or fails to
// restore. It shells out to the system git binary via os/exec rather
// than a VCS library.
package vcsstash

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/forgeware/codeforge/internal/model"
)

// Mode controls when createStash actually creates a stash.
type Mode string

const (
	ModeOff       Mode = "off"
	ModeDirtyOnly Mode = "dirty-only"
	ModeAlways    Mode = "always"
)

// Manager runs git plumbing commands rooted at workDir.
type Manager struct {
	workDir string
	mode    Mode
}

func NewManager(workDir string, mode Mode) *Manager {
	return &Manager{workDir: workDir, mode: mode}
}

func (m *Manager) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = m.workDir
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("vcsstash: git %s: %w: %s", strings.Join(args, " "), err, errOut.String())
	}
	return out.String(), nil
}

// IsWorkingTreeDirty reports whether there are uncommitted changes.
func (m *Manager) IsWorkingTreeDirty() (bool, error) {
	out, err := m.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// CreateStash creates a stash per Mode: ModeOff never creates one,
// ModeDirtyOnly skips on a clean tree, ModeAlways always stashes (using
// --include-untracked so newly created files are captured too).
//
// The returned ref's ID is a label pushed onto the stash message so
// RestoreStash can find it again by name rather than by numeric stash
// index, which shifts as other stashes are pushed/popped.
func (m *Manager) CreateStash(operationID string) (*model.StashRef, error) {
	if m.mode == ModeOff {
		return nil, nil
	}
	if m.mode == ModeDirtyOnly {
		dirty, err := m.IsWorkingTreeDirty()
		if err != nil {
			return nil, err
		}
		if !dirty {
			return nil, nil
		}
	}

	if operationID == "" {
		operationID = uuid.NewString()
	}
	label := stashLabel(operationID)

	if _, err := m.run("stash", "push", "--include-untracked", "-m", label); err != nil {
		return nil, err
	}

	return &model.StashRef{ID: operationID}, nil
}

// RestoreStash applies the stash identified by ref back onto the working
// tree. The stash is kept, never auto-dropped — a failed
// apply leaves a last-resort recovery point even after restore.
func (m *Manager) RestoreStash(ref *model.StashRef) error {
	if ref == nil {
		return nil
	}
	idx, err := m.findStashIndex(ref.ID)
	if err != nil {
		return err
	}
	_, err = m.run("stash", "apply", idx)
	return err
}

// DropStash permanently removes the stash. Not called automatically by
// this package — callers invoke it explicitly when the user asks to clear
// recovery history.
func (m *Manager) DropStash(ref *model.StashRef) error {
	if ref == nil {
		return nil
	}
	idx, err := m.findStashIndex(ref.ID)
	if err != nil {
		return err
	}
	_, err = m.run("stash", "drop", idx)
	return err
}

func (m *Manager) findStashIndex(operationID string) (string, error) {
	out, err := m.run("stash", "list")
	if err != nil {
		return "", err
	}
	label := stashLabel(operationID)
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, label) {
			idx := line[:strings.Index(line, ":")]
			return idx, nil
		}
	}
	return "", fmt.Errorf("vcsstash: no stash found for operation %s", operationID)
}

func stashLabel(operationID string) string {
	return "codeforge-apply-" + operationID
}
