// Package store implements the Indexer Store: holds entries
// plus their inverted indexes in memory, and persists a compacted JSON
// serialization to per-workspace storage.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/forgeware/codeforge/internal/model"
)

// persistedEntry mirrors model.IndexEntry but with embeddings/optional
// fields omitted when empty.
type persistedEntry struct {
	ID int `json:"id"`
	URI string `json:"uri"`
	Symbols []string `json:"symbols,omitempty"`
	Snippet string `json:"snippet"`
	SnippetStartLine int `json:"snippetStartLine"`
	SnippetEndLine int `json:"snippetEndLine"`
	SnippetTokens []string `json:"snippetTokens,omitempty"`
	URITokens []string `json:"uriTokens,omitempty"`
	SymbolTokens []string `json:"symbolTokens,omitempty"`
	ImportedSymbols []string `json:"importedSymbols,omitempty"`
	ImportedFrom []string `json:"importedFrom,omitempty"`
	Chunks []persistedChunk `json:"chunks,omitempty"`
	SnippetEmbedding []float32 `json:"snippetEmbedding,omitempty"`
}

type persistedChunk struct {
	Text string `json:"text"`
	StartLine int `json:"startLine"`
	EndLine int `json:"endLine"`
	Tokens []string `json:"tokens,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

type persistedBlob struct {
	Version int `json:"version"`
	Entries []persistedEntry `json:"entries"`
}

const currentVersion = 1

// Store holds the in-memory index: entries addressed by integer id, a URI
// index for lookup/removal, and the inverted indexes the query engine
// reads. Mutated only by the maintenance loop.
type Store struct {
	mu sync.RWMutex
	path string
	nextID int
	entries map[int]*model.IndexEntry
	byURI map[string]int
	inverted *model.InvertedIndexes
}

func New(persistPath string) *Store {
	return &Store{
		path: persistPath,
		entries: make(map[int]*model.IndexEntry),
		byURI: make(map[string]int),
		inverted: model.NewInvertedIndexes(),
	}
}

// Upsert inserts or replaces the entry for entry.URI, updating every
// inverted index. Returns the assigned entry ID.
func (s *Store) Upsert(entry *model.IndexEntry) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byURI[entry.URI]; ok {
		s.removeLocked(existingID)
	}

	s.nextID++
	id := s.nextID
	entry.ID = id
	s.entries[id] = entry
	s.byURI[entry.URI] = id
	s.indexLocked(entry)
	return id
}

// Remove deletes the entry for uri, if present, updating every inverted
// index immediately.
func (s *Store) Remove(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byURI[uri]; ok {
		s.removeLocked(id)
		delete(s.byURI, uri)
	}
}

func (s *Store) removeLocked(id int) {
	entry, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)

	for _, t := range entry.SnippetTokens {
		deleteFromSet(s.inverted.Term, t, id)
	}
	for _, c := range entry.Chunks {
		for _, t := range c.Tokens {
			deleteFromSet(s.inverted.Term, t, id)
		}
	}
	for _, sym := range entry.Symbols {
		deleteFromSet(s.inverted.Symbol, sym, id)
	}
	if path, ok := s.inverted.Path[entry.URI]; ok && path == id {
		delete(s.inverted.Path, entry.URI)
	}
	ext := extOf(entry.URI)
	deleteFromSet(s.inverted.Extension, ext, id)
	for _, prefix := range pathPrefixes(entry.URI) {
		deleteFromSet(s.inverted.PathPrefix, prefix, id)
	}
	for _, sym := range entry.ImportedSymbols {
		deleteFromSet(s.inverted.ImportedSymbol, sym, id)
	}
}

func (s *Store) indexLocked(entry *model.IndexEntry) {
	addToSet(s.inverted.Term, entry.SnippetTokens, entry.ID)
	for _, c := range entry.Chunks {
		addToSet(s.inverted.Term, c.Tokens, entry.ID)
	}
	addToSet(s.inverted.Symbol, entry.Symbols, entry.ID)
	s.inverted.Path[entry.URI] = entry.ID
	addToSet(s.inverted.Extension, []string{extOf(entry.URI)}, entry.ID)
	addToSet(s.inverted.PathPrefix, pathPrefixes(entry.URI), entry.ID)
	addToSet(s.inverted.ImportedSymbol, entry.ImportedSymbols, entry.ID)
}

func addToSet(m map[string]map[int]struct{}, keys []string, id int) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		set, ok := m[k]
		if !ok {
			set = make(map[int]struct{})
			m[k] = set
		}
		set[id] = struct{}{}
	}
}

func deleteFromSet(m map[string]map[int]struct{}, key string, id int) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

func extOf(uri string) string { return filepath.Ext(uri) }

func pathPrefixes(uri string) []string {
	dir := filepath.Dir(filepath.ToSlash(uri))
	if dir == "." {
		return nil
	}
	var prefixes []string
	for dir != "." && dir != "/" && dir != "" {
		prefixes = append(prefixes, dir)
		dir = filepath.Dir(dir)
	}
	return prefixes
}

// Entries returns a stable-ordered snapshot of live entry references.
// Entries are immutable once added, so concurrent reads against
// the returned slice are safe without further locking.
func (s *Store) Entries() []*model.IndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.IndexEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Inverted returns the live inverted indexes. Callers (the query engine)
// must only read; mutation is the maintenance loop's exclusive right.
func (s *Store) Inverted() *model.InvertedIndexes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inverted
}

// Persist writes a compacted JSON serialization to s.path.
func (s *Store) Persist() error {
	s.mu.RLock()
	entries := make([]persistedEntry, 0, len(s.entries))
	ids := make([]int, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		entries = append(entries, toPersisted(s.entries[id]))
	}
	s.mu.RUnlock()

	blob := persistedBlob{Version: currentVersion, Entries: entries}
	data, err := json.Marshal(blob)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Load deserializes the persisted blob and rebuilds every in-memory index,
// tolerating legacy fields and missing token arrays by recomputing them.
// A missing file is not an error: it means "empty index."
func Load(path string, tokenize func(string) []string) (*Store, error) {
	s := New(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	var blob persistedBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, err
	}

	maxID := 0
	for _, pe := range blob.Entries {
		entry := fromPersisted(pe, tokenize)
		s.entries[entry.ID] = entry
		s.byURI[entry.URI] = entry.ID
		s.indexLocked(entry)
		if entry.ID > maxID {
			maxID = entry.ID
		}
	}
	s.nextID = maxID

	return s, nil
}

// LoadMigrating behaves like Load, except that when path does not exist yet
// it also checks legacyPaths (older in-workspace locations, searched in
// order) and, on the first hit, loads from there, rewrites the result to
// path, and removes the legacy file. This lets a workspace that predates
// per-workspace storage carry its index forward without a full rebuild.
func LoadMigrating(path string, legacyPaths []string, tokenize func(string) []string) (*Store, error) {
	if _, err := os.Stat(path); err == nil || !os.IsNotExist(err) {
		return Load(path, tokenize)
	}

	for _, legacy := range legacyPaths {
		if _, err := os.Stat(legacy); err != nil {
			continue
		}
		s, err := Load(legacy, tokenize)
		if err != nil {
			return nil, err
		}
		s.path = path
		if err := s.Persist(); err != nil {
			return nil, err
		}
		os.Remove(legacy)
		return s, nil
	}

	return Load(path, tokenize)
}

func toPersisted(e *model.IndexEntry) persistedEntry {
	chunks := make([]persistedChunk, len(e.Chunks))
	for i, c := range e.Chunks {
		chunks[i] = persistedChunk{Text: c.Text, StartLine: c.StartLine, EndLine: c.EndLine, Tokens: c.Tokens, Embedding: c.Embedding}
	}
	return persistedEntry{
		ID: e.ID, URI: e.URI, Symbols: e.Symbols,
		Snippet: e.Snippet, SnippetStartLine: e.SnippetStartLine, SnippetEndLine: e.SnippetEndLine,
		SnippetTokens: e.SnippetTokens, URITokens: e.URITokens, SymbolTokens: e.SymbolTokens,
		ImportedSymbols: e.ImportedSymbols, ImportedFrom: e.ImportedFrom,
		Chunks: chunks, SnippetEmbedding: e.SnippetEmbedding,
	}
}

func fromPersisted(pe persistedEntry, tokenize func(string) []string) *model.IndexEntry {
	snippetTokens := pe.SnippetTokens
	if len(snippetTokens) == 0 && tokenize != nil {
		snippetTokens = tokenize(pe.Snippet)
	}
	uriTokens := pe.URITokens
	if len(uriTokens) == 0 && tokenize != nil {
		uriTokens = tokenize(pe.URI)
	}
	symbolTokens := pe.SymbolTokens
	if len(symbolTokens) == 0 && tokenize != nil {
		for _, sym := range pe.Symbols {
			symbolTokens = append(symbolTokens, tokenize(sym)...)
		}
	}

	chunks := make([]model.IndexChunk, len(pe.Chunks))
	for i, c := range pe.Chunks {
		tokens := c.Tokens
		if len(tokens) == 0 && tokenize != nil {
			tokens = tokenize(c.Text)
		}
		chunks[i] = model.IndexChunk{Text: c.Text, StartLine: c.StartLine, EndLine: c.EndLine, Tokens: tokens, Embedding: c.Embedding}
	}

	return &model.IndexEntry{
		ID: pe.ID, URI: pe.URI, Symbols: pe.Symbols,
		Snippet: pe.Snippet, SnippetStartLine: pe.SnippetStartLine, SnippetEndLine: pe.SnippetEndLine,
		SnippetTokens: snippetTokens, URITokens: uriTokens, SymbolTokens: symbolTokens,
		ImportedSymbols: pe.ImportedSymbols, ImportedFrom: pe.ImportedFrom,
		Chunks: chunks, SnippetEmbedding: pe.SnippetEmbedding,
	}
}
