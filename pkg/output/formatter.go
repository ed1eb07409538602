package output

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/kjall/promptfold/pkg/transform"
)

// PrintFoldReport prints a formatted transformation report with colors.
func PrintFoldReport(w io.Writer, source string, stats transform.Stats) {
	// Color definitions
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	// Header
	bold.Fprintln(w, "promptfold - Transformation Report")
	bold.Fprintln(w, "==================================")
	fmt.Fprintf(w, "Source: %s\n", source)
	fmt.Fprintf(w, "Nodes: %d\n", stats.TotalNodes)

	if stats.Aborted {
		red.Fprintln(w, "ABORTED: graph returned unmodified")
		yellow.Fprintf(w, "  Reason: %s\n", stats.AbortReason)
		return
	}

	// Candidate / fold stats with colors
	cyan.Fprintf(w, "Switch candidates: %d\n", stats.SwitchCandidates)
	if stats.FoldableSwitches > 0 {
		green.Fprintf(w, "Folded switches: %d\n", stats.FoldableSwitches)
		green.Fprintf(w, "Rewritten nodes: %d\n", stats.RewrittenNodes)
	} else {
		fmt.Fprintf(w, "Folded switches: 0\n")
	}
	if stats.PrunedNodes > 0 {
		yellow.Fprintf(w, "Pruned nodes: %d\n", stats.PrunedNodes)
	} else {
		fmt.Fprintf(w, "Pruned nodes: 0\n")
	}

	// Summary line colored by how much work happened
	summaryColor := green
	if stats.FoldableSwitches == 0 {
		summaryColor = yellow
	}
	summaryColor.Fprintf(w, "Summary: %d/%d switches folded in %.2fms\n",
		stats.FoldableSwitches, stats.SwitchCandidates, stats.ElapsedMillis)
}
