package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgeware/codeforge/internal/indexer/builder"
	"github.com/forgeware/codeforge/internal/indexer/store"
)

var indexCmd = &cobra.Command{
	Use: "index",
	Short: "Manage the repo index",
}

var rebuildCmd = &cobra.Command{
	Use: "rebuild",
	Short: "Walk the workspace and rebuild the index from scratch",
	RunE: func(c *cobra.Command, args []string) error {
		cfg := loadConfig(workspaceRoot)
		idx := store.New(indexPath(workspaceRoot))
		b := newBuilder(cfg)

		n, err := walkAndIndex(workspaceRoot, cfg.Indexer.ExcludeGlobs, idx, b)
		if err != nil {
			return err
		}
		if err := idx.Persist(); err != nil {
			return err
		}
		fmt.Printf("indexed %d files\n", n)
		return nil
	},
}

var warmCmd = &cobra.Command{
	Use: "warm",
	Short: "Load (or build, if absent) the index into memory ahead of the first query",
	RunE: func(c *cobra.Command, args []string) error {
		idx, err := newIndexStore(workspaceRoot)
		if err != nil {
			return err
		}
		if idx.Len() == 0 {
			return rebuildCmd.RunE(c, args)
		}
		fmt.Printf("index warm: %d entries loaded\n", idx.Len())
		return nil
	},
}

func init() {
	indexCmd.AddCommand(rebuildCmd)
	indexCmd.AddCommand(warmCmd)
}

func walkAndIndex(root string, excludeGlobs []string, idx *store.Store, b *builder.Builder) (int, error) {
	count := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // walk errors are per-path; skip and continue
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if info.IsDir() {
			if rel != "." && builder.ShouldSkipDir(info.Name(), excludeGlobs) {
				return filepath.SkipDir
			}
			return nil
		}

		entry, buildErr := b.BuildFile(path, filepath.ToSlash(rel))
		if buildErr != nil || entry == nil {
			return nil
		}
		idx.Upsert(entry)
		count++
		return nil
	})
	return count, err
}
