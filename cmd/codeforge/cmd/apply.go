package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgeware/codeforge/internal/apply"
	"github.com/forgeware/codeforge/internal/model"
)

// opSpec is one element of the ops file callers (typically the LLM
// tool-dispatch layer) write before invoking `codeforge apply`: a plain
// JSON array of operations, mirroring FileEditOperation variants.
type opSpec struct {
	Kind string `json:"kind"`
	URI string `json:"uri"`
	Content *string `json:"content,omitempty"`
	TextEdits []model.TextEdit `json:"textEdits,omitempty"`
	Recursive bool `json:"recursive,omitempty"`
	IsFolder bool `json:"isFolder,omitempty"`
}

var applyOpsPath string

var applyCmd = &cobra.Command{
	Use: "apply",
	Short: "Apply a transaction of file edit operations atomically",
	RunE: func(c *cobra.Command, args []string) error {
		data, err := os.ReadFile(applyOpsPath)
		if err != nil {
			return fmt.Errorf("reading ops file: %w", err)
		}

		var specs []opSpec
		if err := json.Unmarshal(data, &specs); err != nil {
			return fmt.Errorf("parsing ops file: %w", err)
		}

		ops := make([]model.FileEditOperation, 0, len(specs))
		for _, s := range specs {
			op, err := toOperation(s)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}

		cfg := loadConfig(workspaceRoot)
		engine := newApplyEngine(workspaceRoot, cfg)

		result := engine.ApplyTransaction(ops, apply.ApplyOptions{})
		return printApplyResult(result)
	},
}

func init() {
	applyCmd.Flags().StringVar(&applyOpsPath, "ops", "", "path to a JSON file of file edit operations")
	applyCmd.MarkFlagRequired("ops")
}

func toOperation(s opSpec) (model.FileEditOperation, error) {
	switch model.OperationKind(s.Kind) {
	case model.OpCreate:
		if s.Content == nil {
			return model.FileEditOperation{}, fmt.Errorf("create %q missing content", s.URI)
		}
		return model.NewCreate(s.URI, *s.Content), nil
	case model.OpEdit:
		if s.Content != nil {
			return model.NewEditContent(s.URI, *s.Content), nil
		}
		return model.NewEditTextEdits(s.URI, s.TextEdits), nil
	case model.OpDelete:
		return model.NewDelete(s.URI, s.Recursive, s.IsFolder), nil
	default:
		return model.FileEditOperation{}, fmt.Errorf("unknown operation kind %q", s.Kind)
	}
}

func printApplyResult(r model.ApplyResult) error {
	out, _ := json.MarshalIndent(map[string]interface{}{
		"success": r.Success,
		"appliedFiles": r.AppliedFiles,
		"failedFile": r.FailedFile,
		"errorCategory": r.ErrorCategory,
		"rollbackAttempted": r.RollbackAttempted,
		"rollbackSuccess": r.RollbackSuccess,
	}, "", " ")
	fmt.Println(string(out))
	if !r.Success {
		return fmt.Errorf("apply failed: %s", r.ErrorCategory)
	}
	return nil
}
