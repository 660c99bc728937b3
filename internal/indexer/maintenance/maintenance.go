// Package maintenance implements incremental index maintenance: a
// filesystem watcher translates raw events into debounced dirty markers,
// which a throttled refresh loop processes in parallel batches and
// persists on a second debounce.
package maintenance

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/forgeware/codeforge/internal/fsiface"
	"github.com/forgeware/codeforge/internal/indexer/builder"
	"github.com/forgeware/codeforge/internal/indexer/store"
	"github.com/forgeware/codeforge/internal/model"
)

const (
	defaultRefreshDebounce = 3 * time.Second
	defaultPersistDebounce = 5 * time.Second
	defaultParallelism = 2
	defaultCPUBudget = 0.20 // fraction of one core
	cpuBudgetCheckInterval = 100 * time.Millisecond
)

// Options configures a Loop.
type Options struct {
	Root string
	FS fsiface.FS
	Store *store.Store
	Builder *builder.Builder
	ExcludeGlobs []string
	RefreshDebounce time.Duration
	PersistDebounce time.Duration
	Parallelism int
	CPUBudget float64
}

// Loop owns the fsnotify watcher, the dirty-URI set, and the throttled
// refresh/persist goroutines. Maintenance events for the same URI are
// serialized (a later event simply re-marks the URI dirty, so a pending
// refresh always processes the latest state when it runs); events for
// different URIs may run concurrently within a refresh batch.
type Loop struct {
	opts Options

	mu sync.Mutex
	dirty map[string]struct{}
	lastHash map[string]uint64
	persistDue bool

	watcher *fsnotify.Watcher
	cancel context.CancelFunc
	wg sync.WaitGroup
}

func New(opts Options) *Loop {
	if opts.RefreshDebounce <= 0 {
		opts.RefreshDebounce = defaultRefreshDebounce
	}
	if opts.PersistDebounce <= 0 {
		opts.PersistDebounce = defaultPersistDebounce
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	if opts.CPUBudget <= 0 {
		opts.CPUBudget = defaultCPUBudget
	}
	return &Loop{
		opts: opts,
		dirty: make(map[string]struct{}),
		lastHash: make(map[string]uint64),
	}
}

// Start installs the recursive watcher and launches the debounce/refresh
// and debounce/persist goroutines. Call Stop to tear down.
func (l *Loop) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	l.watcher = w

	if err := l.addRecursive(l.opts.Root); err != nil {
		w.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(3)
	go l.watchEvents(runCtx)
	go l.refreshLoop(runCtx)
	go l.persistLoop(runCtx)

	return nil
}

func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.watcher != nil {
		l.watcher.Close()
	}
	l.wg.Wait()
}

func (l *Loop) addRecursive(root string) error {
	entries, err := l.opts.FS.ReadDir(root)
	if err != nil {
		return err
	}
	if err := l.watcher.Add(root); err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if builder.ShouldSkipDir(entry.Name(), l.opts.ExcludeGlobs) {
			continue
		}
		if err := l.addRecursive(filepath.Join(root, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) watchEvents(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(evt)
		case <-l.watcher.Errors:
			// Indexer errors are entirely local to maintenance; watcher
			// errors are dropped and the loop continues ((vi)).
		}
	}
}

func (l *Loop) handleEvent(evt fsnotify.Event) {
	rel, err := filepath.Rel(l.opts.Root, evt.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case evt.Op&fsnotify.Remove == fsnotify.Remove, evt.Op&fsnotify.Rename == fsnotify.Rename:
		l.opts.Store.Remove(rel)
		l.mu.Lock()
		delete(l.dirty, rel)
		delete(l.lastHash, rel)
		l.persistDue = true
		l.mu.Unlock()
	default:
		l.mu.Lock()
		l.dirty[rel] = struct{}{}
		l.mu.Unlock()
	}
}

func (l *Loop) refreshLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.opts.RefreshDebounce)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.drainDirty(ctx)
		}
	}
}

func (l *Loop) drainDirty(ctx context.Context) {
	l.mu.Lock()
	if len(l.dirty) == 0 {
		l.mu.Unlock()
		return
	}
	uris := make([]string, 0, len(l.dirty))
	for u := range l.dirty {
		uris = append(uris, u)
	}
	l.dirty = make(map[string]struct{})
	l.mu.Unlock()

	sem := make(chan struct{}, l.opts.Parallelism)
	var wg sync.WaitGroup
	budget := newCPUThrottle(l.opts.CPUBudget)

	for _, uri := range uris {
		sem <- struct{}{}
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			defer func() { <-sem }()
			budget.throttleIfNeeded(ctx)
			l.refreshOne(uri)
		}(uri)
	}
	wg.Wait()

	l.mu.Lock()
	l.persistDue = true
	l.mu.Unlock()
}

func (l *Loop) refreshOne(uri string) {
	abs := filepath.Join(l.opts.Root, filepath.FromSlash(uri))
	entry, err := l.opts.Builder.BuildFile(abs, uri)
	if err != nil || entry == nil {
		l.opts.Store.Remove(uri)
		return
	}

	contentHash := hashEntry(entry)
	l.mu.Lock()
	unchanged := l.lastHash[uri] == contentHash && contentHash != 0
	l.lastHash[uri] = contentHash
	l.mu.Unlock()
	if unchanged {
		return
	}

	l.opts.Store.Upsert(entry)
}

// hashEntry fingerprints an entry's content-derived fields with xxhash so
// refreshOne can skip a store mutation when a filesystem event fired but
// the file's indexable content didn't actually change (e.g. a touch, or a
// metadata-only rewrite).
func hashEntry(e *model.IndexEntry) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(e.Snippet)
	for _, c := range e.Chunks {
		_, _ = h.WriteString(c.Text)
	}
	return h.Sum64()
}

func (l *Loop) persistLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.opts.PersistDebounce)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			due := l.persistDue
			l.persistDue = false
			l.mu.Unlock()
			if due {
				_ = l.opts.Store.Persist()
			}
		}
	}
}

// cpuThrottle is consulted before each file refresh: when accumulated work
// time exceeds the configured fraction of elapsed wall time, it sleeps for
// cpuBudgetCheckInterval before the refresh runs. The ratio is evaluated
// only at those calls, not on a periodic timer.
type cpuThrottle struct {
	budget float64
	start time.Time
	workStart time.Time
	workTime time.Duration
	mu sync.Mutex
}

func newCPUThrottle(budget float64) *cpuThrottle {
	now := time.Now()
	return &cpuThrottle{budget: budget, start: now, workStart: now}
}

func (c *cpuThrottle) throttleIfNeeded(ctx context.Context) {
	c.mu.Lock()
	c.workTime += time.Since(c.workStart)
	elapsed := time.Since(c.start)
	over := elapsed > 0 && float64(c.workTime)/float64(elapsed) > c.budget
	c.mu.Unlock()

	if over {
		select {
		case <-time.After(cpuBudgetCheckInterval):
		case <-ctx.Done():
		}
	}

	c.mu.Lock()
	c.workStart = time.Now()
	c.mu.Unlock()
}

// xxhashString is exposed for tests verifying content-change detection.
func xxhashString(s string) uint64 { return xxhash.Sum64String(s) }
