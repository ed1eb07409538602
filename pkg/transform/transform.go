// Package transform orchestrates one graph rewrite: classification,
// fold fixpoint, optional pruning. The contract with the host is
// fail-open: Transform never panics and never returns a partially
// rewritten graph; any internal inconsistency yields the original
// input with the abort flag set.
package transform

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kjall/promptfold/pkg/cycles"
	"github.com/kjall/promptfold/pkg/fold"
	"github.com/kjall/promptfold/pkg/graph"
	"github.com/kjall/promptfold/pkg/logging"
	"github.com/kjall/promptfold/pkg/prune"
	"github.com/kjall/promptfold/pkg/resolve"
	"github.com/kjall/promptfold/pkg/schema"
)

// Options carries the per-invocation engine configuration. No global
// state: every component receives the value it needs by parameter.
type Options struct {
	Enabled         bool
	Prune           bool
	Verbose         bool
	ConstClassTypes string // regex over class names; empty selects the default
}

// DefaultOptions returns the engine defaults: enabled, no pruning.
func DefaultOptions() Options {
	return Options{Enabled: true}
}

// Stats summarizes one invocation for observability. It never affects
// correctness.
type Stats struct {
	TotalNodes       int     `json:"total_nodes"`
	SwitchCandidates int     `json:"switch_candidates"`
	FoldableSwitches int     `json:"foldable_switches"`
	RewrittenNodes   int     `json:"rewritten_nodes"`
	PrunedNodes      int     `json:"pruned_nodes"`
	ElapsedMillis    float64 `json:"elapsed_ms"`
	Aborted          bool    `json:"aborted"`
	AbortReason      string  `json:"abort_reason,omitempty"`
}

// Result is the rewritten graph plus its stats. On abort, Graph is the
// submitted input, untouched.
type Result struct {
	Graph graph.RawGraph
	Stats Stats
}

// InvariantError reports an internal inconsistency that aborts the
// transformation.
type InvariantError struct {
	Phase  string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation during %s: %s", e.Phase, e.Reason)
}

type phase int

const (
	phaseIdle phase = iota
	phaseClassifying
	phaseFolding
	phasePruning
	phaseDone
	phaseAborted
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseClassifying:
		return "classifying"
	case phaseFolding:
		return "folding"
	case phasePruning:
		return "pruning"
	case phaseDone:
		return "done"
	case phaseAborted:
		return "aborted"
	}
	return "unknown"
}

// Transform rewrites one submitted graph. It owns a freshly loaded
// model for the duration of the call and never mutates raw, so hosts
// may keep reading the submitted structure concurrently.
func Transform(raw graph.RawGraph, targets []graph.NodeID, opts Options, sch schema.NodeClassSchema) Result {
	if !opts.Enabled {
		return Result{Graph: raw}
	}
	if sch == nil {
		sch = schema.Default()
	}

	start := time.Now()
	result, err := run(raw, targets, opts, sch, start)
	if err != nil {
		logging.Warn("transform aborted, returning original graph", "error", err)
		return Result{
			Graph: raw,
			Stats: Stats{
				Aborted:       true,
				AbortReason:   err.Error(),
				ElapsedMillis: elapsedMillis(start),
			},
		}
	}
	return result
}

// run performs the actual rewrite. A recover guard converts panics into
// aborts; a corrupted output graph is never acceptable, a missed
// optimization always is.
func run(raw graph.RawGraph, targets []graph.NodeID, opts Options, sch schema.NodeClassSchema, start time.Time) (result Result, err error) {
	state := phaseIdle
	defer func() {
		if r := recover(); r != nil {
			err = &InvariantError{Phase: state.String(), Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	m, loadErr := graph.Load(raw)
	if loadErr != nil {
		return Result{}, loadErr
	}

	stats := Stats{TotalNodes: m.Len()}

	state = phaseClassifying
	logging.Debug("transform start", "nodes", m.Len(), "prune", opts.Prune)
	if opts.Verbose {
		if cyclic := cycles.FindLinkCycles(m); len(cyclic) > 0 {
			logging.Trace("graph contains link cycles", "count", len(cyclic))
		}
	}

	resolver := resolve.New(m, constClassPattern(opts))
	engine := fold.New(m, sch, resolver)

	state = phaseFolding
	rewritten := make(map[graph.NodeID]struct{})
	// One extra pass is needed to observe the fixpoint; anything beyond
	// nodes+1 passes means folding is not converging.
	maxPasses := m.Len() + 1
	for pass := 0; ; pass++ {
		if pass >= maxPasses {
			return Result{}, &InvariantError{Phase: state.String(), Reason: "fold fixpoint exceeded iteration cap"}
		}
		outcome, foldErr := engine.FoldOnce()
		if foldErr != nil {
			return Result{}, foldErr
		}
		if pass == 0 {
			stats.SwitchCandidates = outcome.Candidates
		}
		if opts.Verbose {
			for _, msg := range outcome.Skipped {
				logging.Trace(msg)
			}
		}
		stats.FoldableSwitches += outcome.Folded
		for id := range outcome.Rewritten {
			rewritten[id] = struct{}{}
		}
		if !outcome.DidFold() {
			break
		}
		logging.Debug("fold pass complete", "pass", pass, "folded", outcome.Folded)
	}
	stats.RewrittenNodes = len(rewritten)

	if stats.FoldableSwitches == 0 {
		// Nothing changed; hand the submitted graph back untouched.
		stats.ElapsedMillis = elapsedMillis(start)
		logSummary(stats)
		return Result{Graph: raw, Stats: stats}, nil
	}

	if opts.Prune {
		state = phasePruning
		pruneTargets := targets
		if len(pruneTargets) == 0 {
			pruneTargets = outputTargets(m, sch)
		}
		if len(pruneTargets) == 0 {
			logging.Debug("prune skipped: no execution targets known")
		} else {
			removed, pruneErr := prune.Prune(m, pruneTargets)
			if pruneErr != nil {
				return Result{}, &InvariantError{Phase: state.String(), Reason: pruneErr.Error()}
			}
			stats.PrunedNodes = len(removed)
		}
	}

	state = phaseDone
	out, exportErr := m.Export()
	if exportErr != nil {
		return Result{}, &InvariantError{Phase: state.String(), Reason: exportErr.Error()}
	}
	stats.ElapsedMillis = elapsedMillis(start)
	logSummary(stats)
	return Result{Graph: out, Stats: stats}, nil
}

// outputTargets derives default execution targets from the schema's
// output-node classes, mirroring how the host picks its own outputs
// when no partial-execution list is submitted.
func outputTargets(m *graph.Model, sch schema.NodeClassSchema) []graph.NodeID {
	var out []graph.NodeID
	for _, id := range m.IDs() {
		n, ok := m.Node(id)
		if ok && sch.IsOutputNode(n.ClassType) {
			out = append(out, id)
		}
	}
	return out
}

func constClassPattern(opts Options) *regexp.Regexp {
	if opts.ConstClassTypes == "" {
		return nil // resolver falls back to its default
	}
	re, err := regexp.Compile(opts.ConstClassTypes)
	if err != nil {
		logging.Warn("invalid const_class_types pattern, using default", "pattern", opts.ConstClassTypes, "error", err)
		return nil
	}
	return re
}

func logSummary(s Stats) {
	logging.Debug("transform complete",
		"nodes", s.TotalNodes,
		"candidates", s.SwitchCandidates,
		"folded", s.FoldableSwitches,
		"rewritten", s.RewrittenNodes,
		"pruned", s.PrunedNodes,
		"durationMs", s.ElapsedMillis,
	)
}

func elapsedMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
