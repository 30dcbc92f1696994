package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/scraper"
)

var (
	// ErrUnsupportedType is matched by every *UnsupportedTypeError.
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyDocument   = errors.New("document has no text content")
)

// UnsupportedTypeError carries the offending extension.
type UnsupportedTypeError struct {
	Ext string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Ext == "" {
		return "unsupported file type: (no extension)"
	}
	return fmt.Sprintf("unsupported file type: %s", e.Ext)
}

func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}

// Strategy parses an opened file into documents.
type Strategy func(ctx context.Context, f *os.File, size int64) ([]schema.Document, error)

var strategies = map[string]Strategy{
	".txt":  loadText,
	".pdf":  loadPDF,
	".html": loadHTMLFile,
}

// Supported returns the accepted file extensions, sorted.
func Supported() []string {
	exts := make([]string, 0, len(strategies))
	for ext := range strategies {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// IsSupported reports whether name has a loadable extension.
func IsSupported(name string) bool {
	_, ok := strategies[strings.ToLower(filepath.Ext(name))]
	return ok
}

type LoaderConfig struct {
	Scraper scraper.ScraperConfig
}

type Loader struct {
	config LoaderConfig
}

func NewWithConfig(config LoaderConfig) *Loader {
	return &Loader{config: config}
}

func New() *Loader {
	return NewWithConfig(LoaderConfig{})
}

// Load reads source, a file path or an http(s) URL, into documents.
// File dispatch is on the lowercased extension; unknown extensions fail before the file is opened.
func (l *Loader) Load(ctx context.Context, source string) ([]models.Document, error) {
	if isURL(source) {
		return l.loadURL(ctx, source)
	}

	ext := strings.ToLower(filepath.Ext(source))
	strategy, ok := strategies[ext]
	if !ok {
		return nil, &UnsupportedTypeError{Ext: ext}
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", source, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", source, err)
	}

	raw, err := strategy(ctx, f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}

	docs := toDocuments(raw, source)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrEmptyDocument)
	}
	logger.Debug("Loaded %d documents from %s", len(docs), source)
	return docs, nil
}

func (l *Loader) loadURL(ctx context.Context, source string) ([]models.Document, error) {
	s, err := scraper.NewWithConfig(l.config.Scraper)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	pages, err := s.Scrape(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", source, err)
	}

	var docs []models.Document
	for _, page := range pages {
		raw, err := parseHTML(page.Body, htmlPage)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", page.URL, err)
		}
		docs = append(docs, toDocuments(raw, page.URL)...)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrEmptyDocument)
	}
	return docs, nil
}

func loadText(ctx context.Context, f *os.File, _ int64) ([]schema.Document, error) {
	return documentloaders.NewText(f).Load(ctx)
}

func loadPDF(ctx context.Context, f *os.File, size int64) ([]schema.Document, error) {
	return documentloaders.NewPDF(f, size).Load(ctx)
}

func loadHTMLFile(_ context.Context, f *os.File, _ int64) ([]schema.Document, error) {
	return parseHTMLReader(f, htmlFile)
}

// toDocuments drops blank pages and stamps the source onto the metadata.
func toDocuments(raw []schema.Document, source string) []models.Document {
	docs := make([]models.Document, 0, len(raw))
	for _, d := range raw {
		if strings.TrimSpace(d.PageContent) == "" {
			continue
		}
		meta := models.CopyMetadata(d.Metadata)
		meta["source"] = source
		docs = append(docs, models.Document{
			Content:  d.PageContent,
			Metadata: meta,
		})
	}
	return docs
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
