package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/rag"
)

var stageDescriptions = map[string]string{
	rag.StageLoad:  "📄 Loading document...",
	rag.StageSplit: "🔄 Splitting into chunks...",
	rag.StageEmbed: "💾 Embedding and storing...",
}

// newPipeline is replaced in tests.
var newPipeline = func(cfg *config.Config) (*rag.Pipeline, error) {
	return rag.New(cfg, rag.Components{})
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, "Usage: ingest [flags] <file-or-url>\n\n")
	fmt.Fprintf(w, "Supported file types: %s, or an http(s) URL\n\nFlags:\n", strings.Join(loader.Supported(), ", "))
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "Path to config file")
	reset := fs.Bool("reset", false, "Delete all stored chunks before ingesting")

	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		usage(fs, stderr)
		return 1
	}
	source := fs.Arg(0)

	errorf := color.New(color.FgRed).FprintfFunc()
	successf := color.New(color.FgGreen).FprintfFunc()

	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		errorf(stderr, "Error: %v\n", err)
		return 1
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			errorf(stderr, "Config error: %v\n", e)
		}
		return 1
	}
	logger.Init(cfg.Log.Debug, stderr)

	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") && !loader.IsSupported(source) {
		err := &loader.UnsupportedTypeError{Ext: strings.ToLower(filepath.Ext(source))}
		errorf(stderr, "Error: %v (supported: %s)\n", err, strings.Join(loader.Supported(), ", "))
		return 1
	}

	pipeline, err := newPipeline(cfg)
	if err != nil {
		errorf(stderr, "Error: failed to initialize pipeline: %v\n", err)
		return 1
	}
	defer pipeline.Close()

	ctx := context.Background()

	if *reset {
		if err := pipeline.Reset(ctx); err != nil {
			errorf(stderr, "Error: failed to reset store: %v\n", err)
			return 1
		}
		successf(stdout, "✓ Cleared %s\n", storeLocation(cfg))
	}

	color.New(color.FgBlue).Fprintf(stdout, "Ingesting %s\n", source)

	spinner := getSpinner(stderr, "Starting...")
	report, err := pipeline.IngestSource(ctx, source, func(stage string) {
		if desc, ok := stageDescriptions[stage]; ok {
			spinner.Describe(color.CyanString(desc))
		}
	})
	spinner.Finish()
	fmt.Fprintln(stderr)

	if err != nil {
		if errors.Is(err, loader.ErrUnsupportedType) {
			errorf(stderr, "Error: %v (supported: %s)\n", err, strings.Join(loader.Supported(), ", "))
		} else {
			errorf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	successf(stdout, "✓ Loaded %d documents, split into %d chunks\n", report.Documents, report.Chunks)
	successf(stdout, "✓ Stored %d chunks in %s", report.Stored, storeLocation(cfg))
	if report.Skipped > 0 {
		fmt.Fprintf(stdout, " (%d already present)", report.Skipped)
	}
	fmt.Fprintln(stdout)
	return 0
}

func getSpinner(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func storeLocation(cfg *config.Config) string {
	if cfg.Store.Backend == "pgvector" {
		return "table " + cfg.Database.TableName
	}
	return cfg.Store.Dir
}
