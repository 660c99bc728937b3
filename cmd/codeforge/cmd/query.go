package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var queryK int
var queryShowMetrics bool

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Query the repo index",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		cfg := loadConfig(workspaceRoot)
		idx, err := newIndexStore(workspaceRoot)
		if err != nil {
			return err
		}
		engine := newQueryEngine(workspaceRoot, cfg, idx)

		result := engine.Query(args[0], queryK)

		type hit struct {
			URI   string  `json:"uri"`
			Start int     `json:"startLine,omitempty"`
			End   int     `json:"endLine,omitempty"`
			Score float64 `json:"score"`
		}
		hits := make([]hit, 0, len(result.Results))
		for _, r := range result.Results {
			h := hit{URI: r.Entry.URI, Score: r.Score}
			if r.Chunk != nil {
				h.Start, h.End = r.Chunk.StartLine, r.Chunk.EndLine
			}
			hits = append(hits, h)
		}

		payload := map[string]interface{}{"results": hits}
		if queryShowMetrics {
			payload["metrics"] = result.Metrics
		}

		out, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryK, "k", 10, "number of results to return")
	queryCmd.Flags().BoolVar(&queryShowMetrics, "metrics", false, "include query metrics in output")
}
