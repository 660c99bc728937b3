// Package builder implements the Indexer Builder: walks a
// workspace, and for each eligible file extracts symbols, imports, a
// citation snippet, and content chunks, with optional embeddings.
//
// Symbol/import extraction prefers an AST parser (smacker/go-tree-sitter)
// when a grammar is registered for the file's language, falling back to
// regex extraction otherwise.
package builder

import (
	"regexp"
	"sort"
)

// SymbolExtractor pulls declared symbol names out of source text for one
// language. AST-backed extractors are registered per extension in
// Builder.Extractors; RegexExtractor is the universal fallback.
type SymbolExtractor interface {
	ExtractSymbols(source string) []string
	ExtractImports(source string) (symbols []string, from []string)
}

// RegexExtractor is the fallback used when no AST parser is registered for
// a file's extension, or when parsing fails. It recognizes common
// declaration and import/require shapes across C-like, Python, and Go-like
// languages via regex rather than a full parse.
type RegexExtractor struct{}

var (
	declPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*func\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=`),
		regexp.MustCompile(`(?m)^\s*def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
		regexp.MustCompile(`(?m)^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`(?m)^\s*type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface)`),
	}

	importPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*import\s+(?:\{([^}]*)\}|([A-Za-z_$][A-Za-z0-9_$]*))\s+from\s+['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?m)^\s*(?:const|let|var)\s+(?:\{([^}]*)\}|([A-Za-z_$][A-Za-z0-9_$]*))\s*=\s*require\(\s*['"]([^'"]+)['"]\s*\)`),
		regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z0-9_.]+)\s+import\s+(.+)`),
		regexp.MustCompile(`(?m)^\s*import\s+([A-Za-z0-9_.]+)`),
		regexp.MustCompile(`(?m)^\s*"([A-Za-z0-9_./\-]+)"`), // Go import block line
	}
)

func (RegexExtractor) ExtractSymbols(source string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, pat := range declPatterns {
		for _, m := range pat.FindAllStringSubmatch(source, -1) {
			name := m[1]
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (RegexExtractor) ExtractImports(source string) ([]string, []string) {
	var symbols []string
	var from []string
	seenFrom := make(map[string]struct{})

	addFrom := func(path string) {
		if !isLocalOrRelative(path) {
			return
		}
		if _, dup := seenFrom[path]; dup {
			return
		}
		seenFrom[path] = struct{}{}
		from = append(from, path)
	}

	for _, m := range importPatterns[0].FindAllStringSubmatch(source, -1) {
		named, def, path := m[1], m[2], m[3]
		symbols = append(symbols, splitNamedImports(named)...)
		if def != "" {
			symbols = append(symbols, def)
		}
		addFrom(path)
	}
	for _, m := range importPatterns[1].FindAllStringSubmatch(source, -1) {
		named, def, path := m[1], m[2], m[3]
		symbols = append(symbols, splitNamedImports(named)...)
		if def != "" {
			symbols = append(symbols, def)
		}
		addFrom(path)
	}
	for _, m := range importPatterns[2].FindAllStringSubmatch(source, -1) {
		module, names := m[1], m[2]
		addFrom(module)
		symbols = append(symbols, splitNamedImports(names)...)
	}

	return symbols, from
}

func splitNamedImports(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	cur := ""
	for _, r := range s {
		switch r {
		case ',':
			if t := trim(cur); t != "" {
				out = append(out, t)
			}
			cur = ""
		default:
			cur += string(r)
		}
	}
	if t := trim(cur); t != "" {
		out = append(out, t)
	}
	return out
}

func trim(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

func isLocalOrRelative(path string) bool {
	if path == "" {
		return false
	}
	if path[0] == '.' || path[0] == '/' {
		return true
	}
	// Treat dotted module paths (Python) and slash-free single-segment
	// stdlib/third-party names as non-local; anything with a path
	// separator and no registry-style prefix is package-relative enough
	// to index.
	for _, r := range path {
		if r == '/' {
			return true
		}
	}
	return false
}
