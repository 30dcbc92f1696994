package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/docqa/internal/logger"
	"golang.org/x/time/rate"
)

type ScraperConfig struct {
	MaxDepth       int     // 0 fetches only the given page
	RateLimit      float64 // requests per second
	IgnorePatterns []string
	// AllowedExtensions filters followed links by path suffix. "/" matches directory
	// paths and "" matches paths whose last segment has no extension.
	AllowedExtensions []string
	Timeout           time.Duration
	MaxBodyBytes      int64
	OnProgress        func(url string)
}

// Page is one fetched HTML page.
type Page struct {
	URL         string
	Body        []byte
	ContentType string
	Depth       int
}

type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth cannot be negative")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = 10 << 20
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

func New() *Scraper {
	s, _ := NewWithConfig(ScraperConfig{})
	return s
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	// Check if URL is from the same host
	if parsedURL.Host != s.baseHost {
		return false
	}

	if !s.allowedPath(parsedURL.Path) {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func (s *Scraper) allowedPath(p string) bool {
	p = strings.ToLower(p)
	for _, allowed := range s.config.AllowedExtensions {
		switch allowed {
		case "":
			if p == "" || (!strings.HasSuffix(p, "/") && path.Ext(p) == "") {
				return true
			}
		default:
			if strings.HasSuffix(p, allowed) {
				return true
			}
		}
	}
	return false
}

// Scrape fetches rawURL and, up to MaxDepth, the same-host pages it links to.
// An error fetching the first page is returned; errors on linked pages are logged and skipped.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) ([]Page, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s", parsedURL.Scheme)
	}
	s.baseHost = parsedURL.Host
	s.visited = make(map[string]bool)

	var pages []Page
	if err := s.scrapeRecursive(ctx, rawURL, 0, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, pages *[]Page) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}

	// The entry page is always fetched, filters only apply to followed links.
	if depth > 0 && !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	page, err := s.fetch(ctx, urlStr, depth)
	if err != nil {
		return err
	}
	*pages = append(*pages, page)

	if depth >= s.config.MaxDepth {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return err
	}

	// Find and follow links
	base, err := url.Parse(urlStr)
	if err != nil {
		return err
	}
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, exists := selection.Attr("href")
		if !exists {
			return
		}

		link, err := url.Parse(href)
		if err != nil {
			logger.Debug("Error parsing URL %q: %v", href, err)
			return
		}
		link = base.ResolveReference(link)
		link.Fragment = ""

		if err := s.scrapeRecursive(ctx, link.String(), depth+1, pages); err != nil {
			logger.Error("Error scraping URL %s: %v", link, err)
		}
	})

	return nil
}

func (s *Scraper) fetch(ctx context.Context, urlStr string, depth int) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return Page{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("failed to read %s: %w", urlStr, err)
	}

	return Page{
		URL:         urlStr,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Depth:       depth,
	}, nil
}
