package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/forgeware/codeforge/internal/audit"
)

// checkStatus mirrors CheckStatus enum (shared/doctor.go)
// used to drive the doctor table's pass/warn/fail coloring.
type checkStatus string

const (
	statusOK checkStatus = "ok"
	statusWarn checkStatus = "warn"
	statusFail checkStatus = "fail"
)

type healthCheck struct {
	Name string
	Status checkStatus
	Message string
}

var doctorCmd = &cobra.Command{
	Use: "doctor",
	Short: "Check workspace health for apply engine and indexer state",
	Run: func(c *cobra.Command, args []string) {
		checks := runDoctorChecks(workspaceRoot)
		printDoctorTable(checks)
	},
}

func runDoctorChecks(root string) []healthCheck {
	var checks []healthCheck

	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		checks = append(checks, healthCheck{"workspace root", statusFail, "not a directory: " + root})
	} else {
		checks = append(checks, healthCheck{"workspace root", statusOK, root})
	}

	checks = append(checks, checkAuditLog(root))
	checks = append(checks, checkIndex(root))
	checks = append(checks, checkGit(root))

	return checks
}

func checkAuditLog(root string) healthCheck {
	path := filepath.Join(stateDir(root), "audit.jsonl")
	events, err := audit.ReadAll(path)
	if err != nil {
		return healthCheck{"audit log", statusFail, err.Error()}
	}
	return healthCheck{"audit log", statusOK, fmt.Sprintf("%d events", len(events))}
}

func checkIndex(root string) healthCheck {
	idx, err := newIndexStore(root)
	if err != nil {
		return healthCheck{"repo index", statusFail, err.Error()}
	}
	if idx.Len() == 0 {
		return healthCheck{"repo index", statusWarn, "empty — run `codeforge index rebuild`"}
	}
	return healthCheck{"repo index", statusOK, fmt.Sprintf("%d entries", idx.Len())}
}

func checkGit(root string) healthCheck {
	cmd := exec.Command("git", "-C", root, "rev-parse", "--is-inside-work-tree")
	if err := cmd.Run(); err != nil {
		return healthCheck{"git auto-stash", statusWarn, "not a git working tree; stash fallback disabled"}
	}
	return healthCheck{"git auto-stash", statusOK, "available"}
}

func printDoctorTable(checks []healthCheck) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Check", "Status", "Detail"})

	for _, c := range checks {
		badge := string(c.Status)
		switch c.Status {
		case statusFail:
			badge = color.New(color.FgRed).Sprint(badge)
		case statusWarn:
			badge = color.New(color.FgYellow).Sprint(badge)
		}
		row := []string{c.Name, badge, c.Message}
		table.Append(row)
	}
	table.Render()
}
