// Package query implements the Indexer Query Engine: BM25
// scoring over candidate entries/chunks with an optional dense-vector
// hybrid blend, an LRU result cache, a hard wall-clock deadline, and a
// self-regulating degraded mode triggered by sustained latency regression.
package query

import (
	"container/heap"
	"math"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/forgeware/codeforge/internal/indexer"
	"github.com/forgeware/codeforge/internal/indexer/store"
	"github.com/forgeware/codeforge/internal/model"
)

const (
	bm25K1 = 1.2
	bm25B = 0.75

	defaultCacheSize = 256
	defaultCacheTTL = 30 * time.Second

	defaultTimeout = 150 * time.Millisecond
	candidateCheckBatch = 256
	earlyTerminateHighScores = 50

	// intersectionMinCandidates: below this, the engine widens an
	// intersection to a union for better recall.
	intersectionMinCandidates = 3

	chunkGateThreshold = 0.15

	// degradedModeWindow is how many recent query latencies feed the
	// rolling mean used for self-regulation.
	degradedModeWindow = 50
)

// Embedder optionally produces a query embedding for the hybrid blend.
type Embedder interface {
	IsEnabled() bool
	EmbedQuery(text string) ([]float32, error)
}

// HybridWeights controls the BM25/vector blend; fields must sum to 1.0.
type HybridWeights struct {
	BM25 float64
	Vector float64
}

var DefaultHybridWeights = HybridWeights{BM25: 0.6, Vector: 0.4}

// Options configures an Engine.
type Options struct {
	Store *store.Store
	Embedder Embedder
	Timeout time.Duration
	HybridWeights HybridWeights
	CacheSize int
	CacheTTL time.Duration
	DegradedCeiling time.Duration // rolling-mean ceiling before self-disable
}

// DegradedReason distinguishes two different "disabled" states that
// need separate diagnostics: a config off-switch vs. a runtime
// self-disable on latency regression.
type DegradedReason int

const (
	NotDegraded DegradedReason = iota
	DegradedByConfig
	DegradedBySelfRegulation
)

type cacheKey struct {
	text string
	k int
}

// Engine serves query(text, k) via a staged candidate-select,
// score, blend, dedup, and top-k extraction pipeline.
type Engine struct {
	store *store.Store
	embedder Embedder
	timeout time.Duration
	weights HybridWeights
	cache *lru.LRU[cacheKey, model.QueryResult]
	degradedCfg bool
	ceiling time.Duration
	latencies []time.Duration
	latIdx int
	selfDegraded bool
}

func New(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.HybridWeights == (HybridWeights{}) {
		opts.HybridWeights = DefaultHybridWeights
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}

	return &Engine{
		store: opts.Store,
		embedder: opts.Embedder,
		timeout: opts.Timeout,
		weights: opts.HybridWeights,
		cache: lru.NewLRU[cacheKey, model.QueryResult](opts.CacheSize, nil, opts.CacheTTL),
		ceiling: opts.DegradedCeiling,
	}
}

// SetEnabled toggles the configuration off-switch independent of the
// runtime self-disable state.
func (e *Engine) SetEnabled(enabled bool) { e.degradedCfg = !enabled }

// DegradedState reports which, if either, disabled state is active.
func (e *Engine) DegradedState() DegradedReason {
	if e.degradedCfg {
		return DegradedByConfig
	}
	if e.selfDegraded {
		return DegradedBySelfRegulation
	}
	return NotDegraded
}

// ClearSelfDegraded resets the self-regulation degraded flag. It is the
// only way the flag is cleared: latency recovering on its own does not.
func (e *Engine) ClearSelfDegraded() { e.selfDegraded = false }

// Query serves a single query, checking the cache and degraded-mode
// state before falling through to candidate selection and scoring.
func (e *Engine) Query(text string, k int) model.QueryResult {
	start := time.Now()
	deadline := start.Add(e.timeout)
	normalized := strings.TrimSpace(strings.ToLower(text))
	key := cacheKey{text: normalized, k: k}

	// Step 1: cache.
	if cached, ok := e.cache.Get(key); ok {
		return cached
	}

	if e.degradedCfg {
		return model.QueryResult{Metrics: model.QueryMetrics{}}
	}

	if e.selfDegraded {
		result := e.fallbackResult(k)
		e.recordLatency(time.Since(start))
		return result
	}

	tokens := indexer.Tokenize(text)
	if len(tokens) == 0 {
		return model.QueryResult{}
	}

	// Step 2: candidate selection.
	candidates := e.selectCandidates(tokens)

	// Step 3/4: score + BM25 rerank, with deadline/early-termination
	// checkpoints (step 8).
	scored, timedOut, earlyTerminated := e.scoreCandidates(candidates, tokens, deadline)

	// Step 5: optional hybrid blend.
	hybridUsed := false
	var embedLatency *float64
	if e.embedder != nil && e.embedder.IsEnabled() && !timedOut {
		embedStart := time.Now()
		if qvec, err := e.embedder.EmbedQuery(text); err == nil {
			e.blendVectors(scored, qvec)
			hybridUsed = true
		}
		ms := float64(time.Since(embedStart).Milliseconds())
		embedLatency = &ms
	}

	// Step 6: dedup (at most one result per URI, highest-scoring chunk).
	deduped := dedupByURI(scored)

	// Step 7: top-k extraction via bounded min-heap.
	top := topK(deduped, k)

	elapsed := time.Since(start)
	e.recordLatency(elapsed)

	var topScore *float64
	if len(top) > 0 {
		s := top[0].Score
		topScore = &s
	}

	result := model.QueryResult{
		Results: top,
		Metrics: model.QueryMetrics{
			RetrievalLatencyMs: float64(elapsed.Microseconds()) / 1000.0,
			ResultsCount: len(top),
			TopScore: topScore,
			TimedOut: timedOut,
			EarlyTerminated: earlyTerminated,
			EmbeddingLatencyMs: embedLatency,
			HybridSearchUsed: hybridUsed,
		},
	}

	e.cache.Add(key, result)
	return result
}

// fallbackResult is the degraded-mode response: bypass scoring entirely
// and return the most recently indexed entries.
func (e *Engine) fallbackResult(k int) model.QueryResult {
	entries := e.store.Entries()
	if k > 0 && k < len(entries) {
		entries = entries[len(entries)-k:]
	}
	results := make([]model.ScoredResult, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		results = append(results, model.ScoredResult{Entry: entries[i], ChunkIndex: -1})
	}
	return model.QueryResult{Results: results, Metrics: model.QueryMetrics{ResultsCount: len(results)}}
}

func (e *Engine) recordLatency(d time.Duration) {
	if e.ceiling <= 0 {
		return
	}
	if e.latencies == nil {
		e.latencies = make([]time.Duration, 0, degradedModeWindow)
	}
	if len(e.latencies) < degradedModeWindow {
		e.latencies = append(e.latencies, d)
	} else {
		e.latencies[e.latIdx] = d
		e.latIdx = (e.latIdx + 1) % degradedModeWindow
	}

	var total time.Duration
	for _, l := range e.latencies {
		total += l
	}
	mean := total / time.Duration(len(e.latencies))
	if mean > e.ceiling {
		e.selfDegraded = true
	}
}

type candidate struct {
	entryID int
	entry *model.IndexEntry
	chunkIndex int // -1 for file-level
}

func (e *Engine) selectCandidates(tokens []string) []candidate {
	inv := e.store.Inverted()

	if len(tokens) == 1 {
		return idsToCandidates(e.store, setFor(inv.Term, tokens[0]))
	}

	sets := make([]map[int]struct{}, 0, len(tokens))
	for _, t := range tokens {
		if s := inv.Term[t]; len(s) > 0 {
			sets = append(sets, s)
		}
	}
	if len(sets) == 0 {
		return nil
	}

	inter := intersect(sets)
	if len(inter) >= intersectionMinCandidates {
		return idsToCandidates(e.store, inter)
	}
	return idsToCandidates(e.store, union(sets))
}

func setFor(m map[string]map[int]struct{}, key string) map[int]struct{} { return m[key] }

func intersect(sets []map[int]struct{}) map[int]struct{} {
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })
	out := make(map[int]struct{}, len(sets[0]))
	for id := range sets[0] {
		out[id] = struct{}{}
	}
	for _, s := range sets[1:] {
		for id := range out {
			if _, ok := s[id]; !ok {
				delete(out, id)
			}
		}
	}
	return out
}

func union(sets []map[int]struct{}) map[int]struct{} {
	out := make(map[int]struct{})
	for _, s := range sets {
		for id := range s {
			out[id] = struct{}{}
		}
	}
	return out
}

func idsToCandidates(s *store.Store, ids map[int]struct{}) []candidate {
	entries := s.Entries()
	byID := make(map[int]*model.IndexEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	out := make([]candidate, 0, len(ids))
	for id := range ids {
		if entry, ok := byID[id]; ok {
			out = append(out, candidate{entryID: id, entry: entry, chunkIndex: -1})
		}
	}
	return out
}

// scoreCandidates computes composite + BM25 scores, checking the deadline
// every candidateCheckBatch candidates and early-terminating once enough
// high-scoring candidates have been seen.
func (e *Engine) scoreCandidates(candidates []candidate, queryTokens []string, deadline time.Time) ([]model.ScoredResult, bool, bool) {
	docFreq := buildDocFreq(candidates, queryTokens)
	n := len(candidates)

	var out []model.ScoredResult
	highScoreCount := 0
	timedOut := false
	earlyTerminated := false

	for i, c := range candidates {
		if i%candidateCheckBatch == 0 && time.Now().After(deadline) {
			timedOut = true
			break
		}

		composite := compositeScore(c.entry, queryTokens)
		bm25 := bm25Score(c.entry.SnippetTokens, queryTokens, docFreq, n, avgDocLen(candidates))
		score := composite + bm25

		if score > chunkGateThreshold {
			for idx, chunk := range c.entry.Chunks {
				chunkScore := bm25Score(chunk.Tokens, queryTokens, docFreq, n, avgDocLen(candidates))
				out = append(out, model.ScoredResult{Entry: c.entry, Chunk: &c.entry.Chunks[idx], ChunkIndex: idx, Score: chunkScore})
			}
		}

		out = append(out, model.ScoredResult{Entry: c.entry, ChunkIndex: -1, Score: score})

		if score > 1.0 {
			highScoreCount++
			if highScoreCount >= earlyTerminateHighScores {
				earlyTerminated = true
				break
			}
		}
	}

	return out, timedOut, earlyTerminated
}

func buildDocFreq(candidates []candidate, queryTokens []string) map[string]int {
	df := make(map[string]int, len(queryTokens))
	for _, t := range queryTokens {
		for _, c := range candidates {
			if containsToken(c.entry.SnippetTokens, t) {
				df[t]++
			}
		}
	}
	return df
}

func containsToken(tokens []string, target string) bool {
	for _, t := range tokens {
		if t == target {
			return true
		}
	}
	return false
}

func avgDocLen(candidates []candidate) float64 {
	if len(candidates) == 0 {
		return 1
	}
	total := 0
	for _, c := range candidates {
		total += len(c.entry.SnippetTokens)
	}
	avg := float64(total) / float64(len(candidates))
	if avg == 0 {
		return 1
	}
	return avg
}

// bm25Score applies the classic Okapi BM25 formula with k1=1.2, b=0.75.
func bm25Score(docTokens, queryTokens []string, docFreq map[string]int, n int, avgLen float64) float64 {
	if len(docTokens) == 0 || n == 0 {
		return 0
	}
	tf := make(map[string]int)
	for _, t := range docTokens {
		tf[t]++
	}

	var score float64
	dl := float64(len(docTokens))
	for _, qt := range queryTokens {
		f := float64(tf[qt])
		if f == 0 {
			continue
		}
		df := docFreq[qt]
		if df == 0 {
			df = 1
		}
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
		numer := f * (bm25K1 + 1)
		denom := f + bm25K1*(1-bm25B+bm25B*dl/avgLen)
		score += idf * numer / denom
	}
	return score
}

// compositeScore ranks candidates by a fixed priority ladder: exact
// symbol match >> substring symbol match >> URI token overlap >> snippet
// token overlap >> phrase occurrence.
func compositeScore(entry *model.IndexEntry, queryTokens []string) float64 {
	var score float64
	joined := strings.Join(queryTokens, " ")

	for _, qt := range queryTokens {
		for _, sym := range entry.SymbolTokens {
			if sym == qt {
				score += 10
			} else if strings.Contains(sym, qt) {
				score += 4
			}
		}
		for _, ut := range entry.URITokens {
			if ut == qt {
				score += 2
			}
		}
		for _, st := range entry.SnippetTokens {
			if st == qt {
				score += 0.5
			}
		}
	}
	if joined != "" && strings.Contains(strings.ToLower(entry.Snippet), joined) {
		score += 0.25
	}
	return score
}

func (e *Engine) blendVectors(results []model.ScoredResult, queryVec []float32) {
	for i := range results {
		var vec []float32
		if results[i].Chunk != nil {
			vec = results[i].Chunk.Embedding
		} else {
			vec = results[i].Entry.SnippetEmbedding
		}
		if len(vec) == 0 {
			continue
		}
		cos := cosineSimilarity(vec, queryVec)
		results[i].Score = e.weights.BM25*normalizeScore(results[i].Score) + e.weights.Vector*cos
	}
}

func normalizeScore(s float64) float64 {
	return s / (1 + s)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// dedupByURI keeps at most one result per URI: the highest-scoring chunk
// (or file-level score if no chunk exceeds it).
func dedupByURI(results []model.ScoredResult) []model.ScoredResult {
	best := make(map[string]model.ScoredResult)
	for _, r := range results {
		uri := r.Entry.URI
		cur, ok := best[uri]
		if !ok || r.Score > cur.Score {
			best[uri] = r
		}
	}
	out := make([]model.ScoredResult, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	return out
}

// topK extracts the k highest-scoring results in O(n log k) via a bounded
// min-heap, with a stable tie-break on URI for deterministic ordering.
func topK(results []model.ScoredResult, k int) []model.ScoredResult {
	if k <= 0 || k >= len(results) {
		sort.Slice(results, func(i, j int) bool {
			if results[i].Score != results[j].Score {
				return results[i].Score > results[j].Score
			}
			return results[i].Entry.URI < results[j].Entry.URI
		})
		return results
	}

	h := &resultHeap{}
	heap.Init(h)
	for _, r := range results {
		heap.Push(h, r)
		if h.Len() > k {
			heap.Pop(h)
		}
	}

	out := make([]model.ScoredResult, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(model.ScoredResult)
	}
	return out
}

// resultHeap is a min-heap on Score (with URI tie-break) so the top-k loop
// evicts the worst candidate seen so far.
type resultHeap []model.ScoredResult

func (h resultHeap) Len() int { return len(h) }
func (h resultHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Entry.URI > h[j].Entry.URI
}
func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(model.ScoredResult)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
