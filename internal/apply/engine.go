// Package apply implements an atomic, hash-verified multi-file
// transaction with snapshot- and VCS-stash-backed rollback: capture base
// content, validate and write every operation, verify the resulting
// content hashes, and roll back the whole batch if any step fails.
package apply

import (
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/forgeware/codeforge/internal/fsiface"
	"github.com/forgeware/codeforge/internal/model"
	"github.com/forgeware/codeforge/internal/pathsafety"
	"github.com/forgeware/codeforge/internal/snapshot"
	"github.com/forgeware/codeforge/internal/vcsstash"
)

// AuditAppender is the subset of the audit log the engine writes to.
type AuditAppender interface {
	Append(evt model.AuditEvent) error
}

// Stash is the subset of vcsstash.Manager the engine depends on.
type Stash interface {
	CreateStash(operationID string) (*model.StashRef, error)
	RestoreStash(ref *model.StashRef) error
}

var _ Stash = (*vcsstash.Manager)(nil)

// Options configure a single Engine instance; all fields are required
// except Stash, which may be nil to disable the VCS fallback entirely.
type Options struct {
	WorkspaceRoot string
	FS fsiface.FS
	Buffers fsiface.BufferResolver
	Snapshots *snapshot.Store
	Stash Stash
	Audit AuditAppender
}

// Engine applies batches of FileEditOperation values as a single
// all-or-nothing transaction.
type Engine struct {
	root string
	fs fsiface.FS
	buffers fsiface.BufferResolver
	snapshots *snapshot.Store
	stash Stash
	audit AuditAppender
}

func NewEngine(opts Options) *Engine {
	return &Engine{
		root: opts.WorkspaceRoot,
		fs: opts.FS,
		buffers: opts.Buffers,
		snapshots: opts.Snapshots,
		stash: opts.Stash,
		audit: opts.Audit,
	}
}

// ApplyOptions carries the optional operationId used to correlate audit
// events and stash labels across a single call.
type ApplyOptions struct {
	OperationID string
}

// ApplyTransaction validates, captures, writes, verifies, and commits (or
// rolls back) a batch of file operations as a single transaction.
func (e *Engine) ApplyTransaction(ops []model.FileEditOperation, opts ApplyOptions) model.ApplyResult {
	if opts.OperationID == "" {
		opts.OperationID = uuid.NewString()
	}

	// Step 1: path safety. No operation executes if any URI escapes the
	// workspace.
	resolved := make(map[string]pathsafety.Resolution, len(ops))
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return model.ApplyResult{Success: false, Err: err, ErrorCategory: model.ErrWriteFailure}
		}
		res, err := pathsafety.ResolveURI(e.root, op.URI)
		if err != nil {
			return model.ApplyResult{Success: false, Err: err, ErrorCategory: model.ErrWriteFailure, FailedFile: op.URI}
		}
		resolved[op.URI] = res
	}

	// Step 2: deterministic ordering by resolved absolute path.
	sorted := make([]model.FileEditOperation, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(i, j int) bool {
		return resolved[sorted[i].URI].AbsPath < resolved[sorted[j].URI].AbsPath
	})

	// Step 3: base capture.
	bases := make(map[string]model.FileBaseSignature, len(sorted))
	for _, op := range sorted {
		if op.Kind == model.OpCreate {
			continue
		}
		sig, err := e.captureBase(op.URI, resolved[op.URI].AbsPath)
		if err != nil {
			return model.ApplyResult{Success: false, Err: err, ErrorCategory: model.ErrWriteFailure, FailedFile: op.URI}
		}
		bases[op.URI] = sig
	}

	// Step 5 (computed ahead of the write phase so the race re-check and
	// post-verify share the same expected results): synthesize expected
	// post-content hashes.
	expected := make(map[string]model.ExpectedFileResult, len(sorted))
	postContent := make(map[string]string, len(sorted))
	for _, op := range sorted {
		content, isDelete := e.computePostContent(op, bases)
		postContent[op.URI] = content
		if !isDelete {
			expected[op.URI] = model.ExpectedFileResult{URI: op.URI, ExpectedContentHash: model.ContentHash(content)}
		}
	}

	// Step 6: snapshot & stash, covering every non-create URI.
	var touchedPaths []string
	for _, op := range sorted {
		if op.Kind != model.OpCreate {
			touchedPaths = append(touchedPaths, op.URI)
		}
	}

	var snap *model.Snapshot
	if e.snapshots != nil && len(touchedPaths) > 0 {
		s, err := e.snapshots.CreateSnapshot(touchedPaths)
		if err == nil {
			snap = s
		}
		e.auditSnapshotCreate(touchedPaths, snap)
	}

	var stashRef *model.StashRef
	if e.stash != nil {
		ref, _ := e.stash.CreateStash(opts.OperationID)
		stashRef = ref
	}

	// Step 4: race re-check, immediately before writing.
	for uri, base := range bases {
		fresh, err := e.captureBase(uri, resolved[uri].AbsPath)
		if err != nil {
			return e.fail(sorted, snap, stashRef, uri, model.ErrBaseMismatch, err)
		}
		if fresh.ContentHash != base.ContentHash {
			return e.fail(sorted, snap, stashRef, uri, model.ErrBaseMismatch, errBaseMismatch)
		}
	}

	// Step 7: write phase, in sorted order; abort on first error.
	var applied []string
	for _, op := range sorted {
		res := resolved[op.URI]
		if err := e.writeOne(op, res, postContent[op.URI]); err != nil {
			return e.fail(sorted, snap, stashRef, op.URI, model.ErrWriteFailure, err)
		}
		applied = append(applied, op.URI)
	}

	// Step 8: post-verify.
	for _, op := range sorted {
		if op.Kind == model.OpDelete {
			continue
		}
		exp := expected[op.URI]
		got, err := e.captureBase(op.URI, resolved[op.URI].AbsPath)
		if err != nil || got.ContentHash != exp.ExpectedContentHash {
			return e.fail(sorted, snap, stashRef, op.URI, model.ErrVerificationFailure, errVerification)
		}
	}

	// Step 9: commit.
	if snap != nil {
		e.snapshots.Discard(snap.ID)
	}
	e.auditApply(applied, true, nil)

	return model.ApplyResult{Success: true, AppliedFiles: applied}
}

// fail runs the rollback path (restore snapshot, falling back to the
// stash) and returns the structured failure result.
func (e *Engine) fail(ops []model.FileEditOperation, snap *model.Snapshot, stashRef *model.StashRef, failedURI string, category model.ErrorCategory, cause error) model.ApplyResult {
	result := model.ApplyResult{
		Success: false,
		FailedFile: failedURI,
		Err: cause,
		ErrorCategory: category,
	}

	if snap == nil && stashRef == nil {
		e.auditApply(nil, false, &result)
		return result
	}

	result.RollbackAttempted = true

	var restoreErr error
	if snap != nil && !snap.Skipped {
		restoreErr = e.snapshots.RestoreSnapshot(snap.ID, restoreAdapter{e: e})
		e.auditRestore(snap.ID, restoreErr == nil)
	}

	if (snap == nil || snap.Skipped || restoreErr != nil) && stashRef != nil {
		restoreErr = e.stash.RestoreStash(stashRef)
		e.auditGitRestore(restoreErr == nil)
	}

	result.RollbackSuccess = restoreErr == nil
	e.auditApply(nil, false, &result)
	return result
}

// restoreAdapter satisfies snapshot.FileWriter using the engine's own
// fsiface/buffer dependencies.
type restoreAdapter struct{ e *Engine }

func (r restoreAdapter) RestoreFile(uri, content string, existed, wasDirty bool) error {
	res, err := pathsafety.ResolveURI(r.e.root, uri)
	if err != nil {
		return err
	}
	if !existed {
		return r.e.fs.Remove(res.AbsPath)
	}
	if wasDirty && r.e.buffers != nil {
		if tm, err := r.e.buffers.ResolveModel(uri); err == nil && !tm.IsDisposed() {
			tm.SetValue(content)
		}
	}
	return r.e.fs.WriteFileAtomic(res.AbsPath, []byte(content), 0o644)
}

func (e *Engine) captureBase(uri, absPath string) (model.FileBaseSignature, error) {
	if e.buffers != nil {
		if tm, err := e.buffers.ResolveModel(uri); err == nil && !tm.IsDisposed() {
			content := tm.GetValue()
			return model.FileBaseSignature{URI: uri, ContentHash: model.ContentHash(content), IsDirty: true}, nil
		}
	}
	data, err := e.fs.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return model.FileBaseSignature{URI: uri, ContentHash: model.ContentHash(""), IsDirty: false}, nil
		}
		return model.FileBaseSignature{}, err
	}
	return model.FileBaseSignature{URI: uri, ContentHash: model.ContentHash(string(data)), IsDirty: false}, nil
}

// computePostContent synthesizes the content an operation should produce,
// applying text edits against the already-captured base when present.
// isDelete is true for delete operations, which have no post content.
func (e *Engine) computePostContent(op model.FileEditOperation, bases map[string]model.FileBaseSignature) (string, bool) {
	switch op.Kind {
	case model.OpCreate:
		return *op.Content, false
	case model.OpDelete:
		return "", true
	case model.OpEdit:
		if op.Content != nil {
			return *op.Content, false
		}
		base := e.readRawBase(op.URI)
		return ApplyTextEdits(model.NormalizeLineEndings(base), op.TextEdits), false
	}
	return "", false
}

// readRawBase re-reads current content (buffer or disk) for text-edit
// splicing. Hash comparisons use model.ContentHash on normalized content,
// so the small inefficiency of reading twice (once for the hash, once
// here) does not affect correctness.
func (e *Engine) readRawBase(uri string) string {
	if e.buffers != nil {
		if tm, err := e.buffers.ResolveModel(uri); err == nil && !tm.IsDisposed() {
			return tm.GetValue()
		}
	}
	res, err := pathsafety.ResolveURI(e.root, uri)
	if err != nil {
		return ""
	}
	data, err := e.fs.ReadFile(res.AbsPath)
	if err != nil {
		return ""
	}
	return string(data)
}

func (e *Engine) writeOne(op model.FileEditOperation, res pathsafety.Resolution, content string) error {
	switch op.Kind {
	case model.OpDelete:
		if op.Recursive || op.IsFolder {
			return e.fs.RemoveAll(res.AbsPath)
		}
		return e.fs.Remove(res.AbsPath)
	default:
		if e.buffers != nil {
			if tm, err := e.buffers.ResolveModel(op.URI); err == nil && !tm.IsDisposed() {
				tm.SetValue(content)
			}
		}
		return e.fs.WriteFileAtomic(res.AbsPath, []byte(content), 0o644)
	}
}

func (e *Engine) auditSnapshotCreate(paths []string, snap *model.Snapshot) {
	if e.audit == nil {
		return
	}
	ok := snap != nil && !snap.Skipped
	_ = e.audit.Append(model.AuditEvent{Timestamp: time.Now(), Action: model.AuditSnapshotCreate, Files: paths, OK: ok})
}

func (e *Engine) auditRestore(snapID string, ok bool) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Append(model.AuditEvent{Timestamp: time.Now(), Action: model.AuditSnapshotRestore, OK: ok, Meta: map[string]interface{}{"snapshotId": snapID}})
}

func (e *Engine) auditGitRestore(ok bool) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Append(model.AuditEvent{Timestamp: time.Now(), Action: model.AuditGitRestore, OK: ok})
}

func (e *Engine) auditApply(files []string, ok bool, failure *model.ApplyResult) {
	if e.audit == nil {
		return
	}
	meta := map[string]interface{}{}
	if failure != nil {
		meta["errorCategory"] = string(failure.ErrorCategory)
		meta["failedFile"] = failure.FailedFile
		meta["rollbackAttempted"] = failure.RollbackAttempted
		meta["rollbackSuccess"] = failure.RollbackSuccess
	}
	_ = e.audit.Append(model.AuditEvent{Timestamp: time.Now(), Action: model.AuditApply, Files: files, OK: ok, Meta: meta})
}

type applyError string

func (e applyError) Error() string { return string(e) }

const (
	errBaseMismatch applyError = "apply: base content changed since capture"
	errVerification applyError = "apply: post-write content does not match expected hash"
)
