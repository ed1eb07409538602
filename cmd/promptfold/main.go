package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kjall/promptfold/pkg/config"
	"github.com/kjall/promptfold/pkg/graph"
	"github.com/kjall/promptfold/pkg/logging"
	"github.com/kjall/promptfold/pkg/output"
	"github.com/kjall/promptfold/pkg/schema"
	"github.com/kjall/promptfold/pkg/transform"
	"github.com/kjall/promptfold/pkg/watcher"
	"github.com/kjall/promptfold/pkg/web"
)

func main() {
	flags := pflag.NewFlagSet("promptfold", pflag.ExitOnError)
	flags.Bool("enabled", true, "Run the transformation (false passes graphs through untouched)")
	flags.Bool("prune", false, "Remove nodes unreachable from the execution targets after folding")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Bool("verbose", false, "Enable per-node fold diagnostics")
	flags.String("const_class_types", "", "Regex over class names that qualify as constant sources")
	flags.Bool("serve", false, "Run the HTTP sidecar instead of transforming a file")
	flags.Int("port", 8188, "Port for the sidecar (only used with --serve)")
	flags.Bool("watch", false, "Re-run the transform whenever the input file changes")
	flags.String("schema", "", "Path to a node-class schema JSON file")
	flags.Bool("json_logs", false, "Emit logs as JSON instead of compact console lines")
	outputPath := flags.StringP("output", "o", "", "Write the rewritten graph here instead of stdout")
	report := flags.Bool("report", false, "Print a colorized transformation report to stderr")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := logging.LevelFromFlags(cfg.Debug, cfg.Verbose)
	if cfg.JSONLogs {
		logging.SetJSONOutput(level)
	} else {
		logging.SetLevel(level)
	}

	sch, err := loadSchema(cfg.Schema)
	if err != nil {
		logging.Fatal("failed to load schema", "error", err)
	}

	if cfg.Serve {
		server := web.NewServer(cfg.Options(), sch)
		if err := server.Start(cfg.Port); err != nil {
			logging.Fatal("sidecar failed", "error", err)
		}
		return
	}

	input := "-"
	if args := flags.Args(); len(args) > 0 {
		input = args[0]
	}

	if cfg.Watch {
		if input == "-" {
			fmt.Fprintln(os.Stderr, "Error: --watch requires a file path")
			os.Exit(2)
		}
		runWatch(cfg, sch, input, *outputPath, *report)
		return
	}

	if err := runOnce(cfg, sch, input, *outputPath, *report); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadSchema(path string) (schema.NodeClassSchema, error) {
	if path == "" {
		return schema.Default(), nil
	}
	return schema.LoadFile(path)
}

func runOnce(cfg *config.Config, sch schema.NodeClassSchema, input, outputPath string, report bool) error {
	body, sourceName, err := readInput(input)
	if err != nil {
		return err
	}

	raw, targets, err := graph.ParseEnvelope(body)
	if err != nil {
		return err
	}

	result := transform.Transform(raw, targets, cfg.Options(), sch)

	rewritten, err := graph.ReplacePrompt(body, result.Graph)
	if err != nil {
		return err
	}
	if err := writeOutput(outputPath, rewritten); err != nil {
		return err
	}

	if report || cfg.Debug || cfg.Verbose {
		output.PrintFoldReport(os.Stderr, sourceName, result.Stats)
	}
	return nil
}

func runWatch(cfg *config.Config, sch schema.NodeClassSchema, input, outputPath string, report bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pw, err := watcher.NewPromptWatcher(input)
	if err != nil {
		logging.Fatal("failed to watch input", "error", err)
	}
	defer pw.Close()

	if err := pw.Start(ctx); err != nil {
		logging.Fatal("failed to start watcher", "error", err)
	}

	debouncer := watcher.NewDebouncer(pw.Events(), 200*time.Millisecond, 2*time.Second)
	debouncer.Start(ctx)

	// Transform once up front, then on every change.
	if err := runOnce(cfg, sch, input, outputPath, report); err != nil {
		logging.Error("transform failed", "error", err)
	}
	for range debouncer.Output() {
		if err := runOnce(cfg, sch, input, outputPath, report); err != nil {
			logging.Error("transform failed", "error", err)
		}
	}
}

func readInput(input string) (body []byte, sourceName string, err error) {
	if input == "-" {
		body, err = io.ReadAll(os.Stdin)
		return body, "stdin", err
	}
	body, err = os.ReadFile(input)
	return body, input, err
}

func writeOutput(outputPath string, data []byte) error {
	if outputPath == "" {
		_, err := fmt.Fprintln(os.Stdout, string(data))
		return err
	}
	return os.WriteFile(outputPath, append(data, '\n'), 0o644)
}
