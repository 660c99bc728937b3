package builder

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/forgeware/codeforge/internal/fsiface"
	"github.com/forgeware/codeforge/internal/indexer"
	"github.com/forgeware/codeforge/internal/model"
)

const (
	snippetCharsDefault = 400
	snippetCharsOverview = 1200
	chunkChars = 400
	chunkOverlap = 100
	maxChunksPerFile = 64
)

var overviewNames = map[string]bool{
	"readme.md": true, "readme": true, "overview.md": true,
	"architecture.md": true, "contributing.md": true,
}

var ignoredDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	"node_modules": true, "vendor": true, ".venv": true, "venv": true,
	"dist": true, "build": true, "target": true, "out": true,
	".cache": true, ".next": true, ".turbo": true, ".pytest_cache": true,
	"__pycache__": true, ".idea": true, ".vscode": true,
}

var codeExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rb": true, ".java": true, ".kt": true, ".rs": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cs": true,
	".php": true, ".swift": true, ".scala": true, ".sh": true,
}

// EmbeddingService is consumed optionally. A nil EmbeddingService
// disables embeddings entirely (equivalent to the service reporting
// IsEnabled()==false).
type EmbeddingService interface {
	IsEnabled() bool
	Embed(texts []string) ([][]float32, error)
}

// SecretDetector redacts likely secrets out of text before it is sent
// to an embedding service.
type SecretDetector interface {
	Detect(text string) (hasSecrets bool, redacted string)
}

// OfflineGate reports whether network-bound work (embeddings) is
// currently disallowed.
type OfflineGate interface {
	Offline() bool
}

// SecretMode controls how attachEmbeddings reacts to text a SecretDetector
// flags. A nil Secrets detector always skips detection, regardless of mode.
type SecretMode string

const (
	SecretModeOff    SecretMode = "off"
	SecretModeRedact SecretMode = "redact"
	SecretModeBlock  SecretMode = "block"
)

// ChunkExtractor optionally produces AST-aligned chunks for an extractor
// backed by a real parser. Returns ok=false when the source can't be
// chunked this way (parse failure, no qualifying top-level nodes), so the
// caller falls back to character-windowed chunks.
type ChunkExtractor interface {
	ExtractChunks(source string) (chunks []model.IndexChunk, ok bool)
}

// Builder walks a workspace and produces IndexEntry values.
type Builder struct {
	FS fsiface.FS
	Extractors map[string]SymbolExtractor // by extension, e.g. ".go"
	Embeddings EmbeddingService
	Secrets SecretDetector
	SecretMode SecretMode
	Offline OfflineGate
}

func New(fs fsiface.FS) *Builder {
	return &Builder{
		FS: fs,
		Extractors: map[string]SymbolExtractor{
			".go": NewGoExtractor(),
		},
		SecretMode: SecretModeRedact,
	}
}

// BuildFile reads and analyzes a single file, returning nil if the path is
// not eligible for indexing (wrong extension, directory, etc).
func (b *Builder) BuildFile(absPath, relURI string) (*model.IndexEntry, error) {
	ext := strings.ToLower(filepath.Ext(absPath))
	base := strings.ToLower(filepath.Base(absPath))
	if !codeExtensions[ext] && !overviewNames[base] {
		return nil, nil
	}

	data, err := b.FS.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	source := model.NormalizeLineEndings(string(data))

	extractor, ok := b.Extractors[ext]
	if !ok {
		extractor = RegexExtractor{}
	}

	symbols := dedup(extractor.ExtractSymbols(source))
	importedSymbols, importedFrom := extractor.ExtractImports(source)

	snippet, snipStart, snipEnd := buildSnippet(source, overviewNames[base])
	chunks := buildChunks(extractor, source)

	entry := &model.IndexEntry{
		URI: relURI,
		Symbols: symbols,
		Snippet: snippet,
		SnippetStartLine: snipStart,
		SnippetEndLine: snipEnd,
		Chunks: chunks,
		SnippetTokens: indexer.Tokenize(snippet),
		URITokens: indexer.Tokenize(relURI),
		SymbolTokens: indexer.Tokenize(strings.Join(symbols, " ")),
		ImportedSymbols: dedup(importedSymbols),
		ImportedFrom: dedup(importedFrom),
	}

	b.attachEmbeddings(entry)

	return entry, nil
}

// ShouldSkipDir reports whether a directory name should be excluded from
// the workspace walk, per the ignored-directory list above.
func ShouldSkipDir(name string, extraGlobs []string) bool {
	if ignoredDirs[strings.ToLower(name)] {
		return true
	}
	for _, g := range extraGlobs {
		if ok, _ := filepath.Match(g, name); ok {
			return true
		}
	}
	return false
}

func buildSnippet(source string, overview bool) (string, int, int) {
	limit := snippetCharsDefault
	if overview {
		limit = snippetCharsOverview
	}
	lines := strings.Split(source, "\n")

	var sb strings.Builder
	endLine := 0
	for i, line := range lines {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
		endLine = i + 1
		if sb.Len() >= limit {
			break
		}
	}
	return sb.String(), 1, endLine
}

// buildChunks prefers AST-aligned chunks from extractor when it implements
// ChunkExtractor and the parse succeeds; otherwise it falls back to
// overlapping character windows.
func buildChunks(extractor SymbolExtractor, source string) []model.IndexChunk {
	if ce, ok := extractor.(ChunkExtractor); ok {
		if chunks, ok := ce.ExtractChunks(source); ok {
			return chunks
		}
	}
	return windowChunks(source)
}

func windowChunks(source string) []model.IndexChunk {
	lines := strings.Split(source, "\n")
	lineOffsets := make([]int, len(lines)+1)
	for i, l := range lines {
		lineOffsets[i+1] = lineOffsets[i] + len(l) + 1
	}
	lineForOffset := func(off int) int {
		idx := sort.Search(len(lineOffsets), func(i int) bool { return lineOffsets[i] > off })
		if idx == 0 {
			return 1
		}
		return idx
	}

	var chunks []model.IndexChunk
	step := chunkChars - chunkOverlap
	if step <= 0 {
		step = chunkChars
	}
	for start := 0; start < len(source) && len(chunks) < maxChunksPerFile; start += step {
		end := start + chunkChars
		if end > len(source) {
			end = len(source)
		}
		text := source[start:end]
		chunks = append(chunks, model.IndexChunk{
			Text: text,
			StartLine: lineForOffset(start),
			EndLine: lineForOffset(end),
			Tokens: indexer.Tokenize(text),
		})
		if end == len(source) {
			break
		}
	}
	return chunks
}

func (b *Builder) attachEmbeddings(entry *model.IndexEntry) {
	if b.Embeddings == nil || !b.Embeddings.IsEnabled() {
		return
	}
	if b.Offline != nil && b.Offline.Offline() {
		return
	}

	// targets[i] is -1 for the snippet, or a Chunks index; texts[i] is the
	// (possibly redacted) text to embed for that target. Text the secret
	// detector flags in block mode is omitted entirely rather than
	// redacted, so it is never embedded in any form.
	texts := make([]string, 0, 1+len(entry.Chunks))
	targets := make([]int, 0, 1+len(entry.Chunks))

	if t, ok := b.screenText(entry.Snippet); ok {
		texts = append(texts, t)
		targets = append(targets, -1)
	}
	for i, c := range entry.Chunks {
		if t, ok := b.screenText(c.Text); ok {
			texts = append(texts, t)
			targets = append(targets, i)
		}
	}
	if len(texts) == 0 {
		return
	}

	vectors, err := b.Embeddings.Embed(texts)
	if err != nil || len(vectors) != len(texts) {
		return
	}

	for i, target := range targets {
		if target == -1 {
			entry.SnippetEmbedding = vectors[i]
		} else {
			entry.Chunks[target].Embedding = vectors[i]
		}
	}
}

// screenText applies SecretMode to text before it is sent to an embedding
// service. ok=false means the text must not be embedded in any form
// (block mode with a match).
func (b *Builder) screenText(text string) (screened string, ok bool) {
	if b.Secrets == nil || b.SecretMode == SecretModeOff {
		return text, true
	}
	has, redacted := b.Secrets.Detect(text)
	if !has {
		return text, true
	}
	if b.SecretMode == SecretModeBlock {
		return "", false
	}
	return redacted, true
}
