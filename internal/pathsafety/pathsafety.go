// Package pathsafety is the single source of truth for validating
// external input shared by every edit/read tool: workspace-rooted URI
// resolution, line/column bounds, and the small set of boolean/page-number
// validators the tool-call surface needs.
//
// Every validator here is pure: no filesystem access, no global state.
package pathsafety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolution is the outcome of resolving a tool-supplied URI against a
// workspace root.
type Resolution struct {
	// AbsPath is the cleaned, absolute filesystem path when valid.
	AbsPath string
	// RelPath is AbsPath relative to the workspace root, using forward
	// slashes regardless of host OS.
	RelPath string
}

// ResolveURI resolves a tool-supplied URI against workspaceRoot, rejecting
// anything that would escape the workspace.
//
// It accepts three shapes, matching real LLM tool-call behavior:
//   - a path relative to the workspace root ("src/a.go")
//   - an absolute path already inside the workspace
//   - a "scheme://" URI (file://, untitled:, vscode-remote:, ...), whose
//     path component is extracted and resolved the same way
//
// It also special-cases the single most common LLM mistake: prefixing the
// relative path with the workspace folder's own base name, e.g. requesting
// "myproject/src/a.go" against a workspace rooted at ".../myproject".
func ResolveURI(workspaceRoot, uri string) (Resolution, error) {
	if strings.TrimSpace(workspaceRoot) == "" {
		return Resolution{}, fmt.Errorf("pathsafety: empty workspace root")
	}
	if strings.TrimSpace(uri) == "" {
		return Resolution{}, fmt.Errorf("pathsafety: empty uri")
	}

	root := filepath.Clean(workspaceRoot)
	raw := stripScheme(uri)
	raw = filepath.FromSlash(raw)

	// Common LLM mistake: uri is workspace-relative but prefixed with the
	// workspace folder's own base name ("myproject/src/a.go"). This is
	// checked first because such a path otherwise resolves, still inside
	// the workspace, to a "myproject/" subfolder of the root.
	base := filepath.Base(root)
	if !filepath.IsAbs(raw) {
		prefix := base + string(filepath.Separator)
		if strings.HasPrefix(raw, prefix) {
			retry := filepath.Clean(filepath.Join(root, strings.TrimPrefix(raw, prefix)))
			if rel, ok := relIfWithin(root, retry); ok {
				return Resolution{AbsPath: retry, RelPath: rel}, nil
			}
		}
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	if rel, ok := relIfWithin(root, candidate); ok {
		return Resolution{AbsPath: candidate, RelPath: rel}, nil
	}

	return Resolution{}, fmt.Errorf("pathsafety: uri %q resolves outside workspace root %q", uri, workspaceRoot)
}

// stripScheme removes a leading "scheme://" or "scheme:" prefix, returning
// the path component unchanged otherwise.
func stripScheme(uri string) string {
	if idx := strings.Index(uri, "://"); idx >= 0 {
		return uri[idx+3:]
	}
	if idx := strings.Index(uri, ":"); idx >= 0 && idx < 12 && !strings.ContainsAny(uri[:idx], `\/`) {
		// e.g. "untitled:Untitled-1" — only strip single-colon schemes,
		// never a Windows drive letter ("C:\...").
		if idx != 1 {
			return uri[idx+1:]
		}
	}
	return uri
}

// relIfWithin reports whether candidate lies at or under root, returning
// the slash-separated relative path when it does.
func relIfWithin(root, candidate string) (string, bool) {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ValidatePositiveInt validates a 1-indexed line/column value.
func ValidatePositiveInt(name string, v int) error {
	if v < 1 {
		return fmt.Errorf("pathsafety: %s must be >= 1, got %d", name, v)
	}
	return nil
}

// ValidateBool is a no-op placeholder kept for symmetry with the other
// validators and for call sites that validate a decoded JSON value's type
// before use; Go's type system makes a runtime bool check unnecessary, so
// this only documents the contract.
func ValidateBool(name string, _ bool) error {
	return nil
}

// ValidatePageNumber validates a 1-indexed page number against a bounded
// default when the caller passes zero.
func ValidatePageNumber(page, defaultPage, maxPage int) (int, error) {
	if page == 0 {
		page = defaultPage
	}
	if page < 1 {
		return 0, fmt.Errorf("pathsafety: page must be >= 1, got %d", page)
	}
	if maxPage > 0 && page > maxPage {
		return 0, fmt.Errorf("pathsafety: page %d exceeds max %d", page, maxPage)
	}
	return page, nil
}
