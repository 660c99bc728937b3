package cmd

import (
	"os"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgeware/codeforge/internal/apply"
	"github.com/forgeware/codeforge/internal/audit"
	"github.com/forgeware/codeforge/internal/config"
	"github.com/forgeware/codeforge/internal/embedding"
	"github.com/forgeware/codeforge/internal/fsiface"
	"github.com/forgeware/codeforge/internal/indexer/builder"
	"github.com/forgeware/codeforge/internal/indexer/maintenance"
	"github.com/forgeware/codeforge/internal/indexer/query"
	"github.com/forgeware/codeforge/internal/indexer/store"
	"github.com/forgeware/codeforge/internal/secretscan"
	"github.com/forgeware/codeforge/internal/snapshot"
	"github.com/forgeware/codeforge/internal/vcsstash"
)

// stateDir holds per-workspace persisted state: config, the index, and logs.
func stateDir(root string) string { return filepath.Join(root, ".codeforge") }

func loadConfig(root string) config.Config {
	cfg, err := config.Load(filepath.Join(stateDir(root), "config.json"))
	if err != nil {
		return config.Default()
	}
	return cfg
}

func newApplyEngine(root string, cfg config.Config) *apply.Engine {
	fs := fsiface.NewReal()
	reader := apply.BaseReader{Root: root, FS: fs}
	snapStore := snapshot.NewStore(reader, cfg.ApplyEngine.SnapshotMaxBytes)

	var stashMgr apply.Stash
	if cfg.ApplyEngine.GitAutoStashMode != config.GitAutoStashOff {
		stashMgr = vcsstash.NewManager(root, vcsstash.Mode(cfg.ApplyEngine.GitAutoStashMode))
	}

	auditLog := audit.Open(filepath.Join(stateDir(root), "audit.jsonl"))

	return apply.NewEngine(apply.Options{
		WorkspaceRoot: root,
		FS: fs,
		Snapshots: snapStore,
		Stash: stashMgr,
		Audit: auditLog,
	})
}

func indexPath(root string) string { return filepath.Join(stateDir(root), "index.json") }

// legacyIndexPaths lists in-workspace index locations predating the
// .codeforge/ state directory, searched in order by newIndexStore.
func legacyIndexPaths(root string) []string {
	return []string{
		filepath.Join(root, ".codeforge-index.json"),
		filepath.Join(root, ".codeforge.index.json"),
	}
}

func newIndexStore(root string) (*store.Store, error) {
	return store.LoadMigrating(indexPath(root), legacyIndexPaths(root), tokenizeForLoad)
}

// newEmbeddingService constructs the optional embedding service when an API
// key is configured, returning nil otherwise so callers leave the consuming
// interface nil rather than holding a disabled non-nil implementation.
func newEmbeddingService() *embedding.Service {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil
	}
	return embedding.NewService(openai.NewClient(key), openai.SmallEmbedding3)
}

func newBuilder(cfg config.Config) *builder.Builder {
	fs := fsiface.NewReal()
	b := builder.New(fs)
	b.SecretMode = builder.SecretMode(cfg.SecretDetection.Mode)
	if cfg.SecretDetection.Mode != config.SecretModeOff {
		b.Secrets = secretscan.Detector{}
	}
	b.Offline = offlineGate{offline: cfg.Privacy.Offline}
	if svc := newEmbeddingService(); svc != nil {
		b.Embeddings = svc
	}
	return b
}

func newQueryEngine(root string, cfg config.Config, idx *store.Store) *query.Engine {
	opts := query.Options{
		Store: idx,
		Timeout: time.Duration(cfg.Indexer.QueryTimeoutMs) * time.Millisecond,
		HybridWeights: query.HybridWeights{
			BM25: cfg.Indexer.HybridWeights.BM25,
			Vector: cfg.Indexer.HybridWeights.Vector,
		},
	}
	if svc := newEmbeddingService(); svc != nil {
		opts.Embedder = svc
	}

	engine := query.New(opts)
	engine.SetEnabled(cfg.Indexer.Enabled)
	return engine
}

func newMaintenanceLoop(root string, cfg config.Config, idx *store.Store, b *builder.Builder) *maintenance.Loop {
	return maintenance.New(maintenance.Options{
		Root: root,
		FS: fsiface.NewReal(),
		Store: idx,
		Builder: b,
		ExcludeGlobs: cfg.Indexer.ExcludeGlobs,
		Parallelism: cfg.Indexer.Parallelism,
		CPUBudget: cfg.Indexer.CPUBudget,
	})
}

// offlineGate adapts the privacy.offline config flag to builder.OfflineGate.
type offlineGate struct{ offline bool }

func (g offlineGate) Offline() bool { return g.offline }
