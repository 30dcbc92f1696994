package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/rag"
)

// newPipeline is replaced in tests.
var newPipeline = func(cfg *config.Config) (*rag.Pipeline, error) {
	return rag.New(cfg, rag.Components{})
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	stream := fs.Bool("stream", false, "Stream answers as they are generated (overrides ui.streaming)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	errorf := color.New(color.FgRed).FprintfFunc()

	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		errorf(stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.APIKey() == "" {
		errorf(stderr, "Error: %s is not set. Add it to your environment or a .env file.\n", cfg.LLM.APIKeyEnv)
		return 1
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			errorf(stderr, "Config error: %v\n", e)
		}
		return 1
	}
	logger.Init(cfg.Log.Debug, stderr)

	pipeline, err := newPipeline(cfg)
	if err != nil {
		errorf(stderr, "Error: failed to initialize pipeline: %v\n", err)
		return 1
	}
	defer pipeline.Close()

	ctx := context.Background()
	count, err := pipeline.Count(ctx)
	if err != nil {
		errorf(stderr, "Error: %v\n", err)
		return 1
	}
	if count == 0 {
		color.New(color.FgYellow).Fprintf(stdout, "The knowledge base is empty. Run ingest first.\n")
	}

	streaming := cfg.UI.Streaming || *stream
	chat(ctx, pipeline, cfg, streaming, stdin, stdout, stderr)
	return 0
}

func chat(ctx context.Context, pipeline *rag.Pipeline, cfg *config.Config, streaming bool, stdin io.Reader, stdout, stderr io.Writer) {
	color.New(color.FgCyan).Fprintf(stdout, "\nChat with your document (type 'exit' or 'quit' to leave)\n")

	scanner := bufio.NewScanner(stdin)
	userPrompt := color.New(color.FgGreen).FprintfFunc()
	assistantPrompt := color.New(color.FgCyan).FprintfFunc()
	contextLine := color.New(color.FgHiBlack).FprintfFunc()
	errorf := color.New(color.FgRed).FprintfFunc()

	for {
		userPrompt(stdout, "\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(query, "exit") || strings.EqualFold(query, "quit") {
			break
		}
		if query == "" {
			continue
		}

		chunks, err := pipeline.Retrieve(ctx, query, cfg.Retrieval.TopK)
		if err != nil {
			errorf(stderr, "Error querying documents: %v\n", err)
			continue
		}

		if len(chunks) == 0 {
			assistantPrompt(stdout, "Assistant: %s\n", llm.NoContextAnswer)
			continue
		}

		fmt.Fprintln(stdout, "\nRelevant context:")
		for i, chunk := range chunks {
			contextLine(stdout, "[%d] %s...\n", i+1, chunk.Excerpt(cfg.Retrieval.ExcerptLen))
		}

		if streaming {
			assistantPrompt(stdout, "\nAssistant: ")
			_, err := pipeline.Answer(ctx, query, chunks, func(chunk string) {
				fmt.Fprint(stdout, chunk)
			})
			fmt.Fprintln(stdout)
			if err != nil {
				errorf(stderr, "Error: %v\n", err)
			}
			continue
		}

		spinner := getSpinner(stderr, "🤖 Generating response...")
		answer, err := pipeline.Answer(ctx, query, chunks, nil)
		spinner.Finish()
		fmt.Fprint(stderr, "\r")
		if err != nil {
			errorf(stderr, "Error: %v\n", err)
			continue
		}
		assistantPrompt(stdout, "\nAssistant: %s\n", answer)
	}
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
