// Package scrape fetches guideline pages and extracts their main
// textual content for indexing.
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/auditkit/guideline-rag/internal/apperr"
)

// DefaultUserAgent identifies the scraper to origin servers.
const DefaultUserAgent = "guideline-rag/1.0"

// DefaultMinContentChars is the rejection threshold for extracted
// text. Login walls and bot-check pages typically extract far less.
const DefaultMinContentChars = 200

const maxBodyBytes = 10 << 20

// Page is the extraction result for one URL.
type Page struct {
	URL     string
	Domain  string
	Title   string
	Content string
}

// Scraper fetches pages with a shared rate limit so bulk refresh
// runs stay polite to origin servers.
type Scraper struct {
	client   *http.Client
	ua       string
	minChars int
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Config tunes the scraper.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	MinContentChars   int
	RequestsPerSecond float64
}

// New creates a scraper.
func New(cfg Config, logger *slog.Logger) *Scraper {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = DefaultMinContentChars
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		client:   &http.Client{Timeout: cfg.Timeout},
		ua:       cfg.UserAgent,
		minChars: cfg.MinContentChars,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:   logger,
	}
}

// Scrape fetches a URL and extracts its title and main content.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (Page, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Page{}, apperr.Invalid("scrape.fetch", fmt.Sprintf("invalid url %q", rawURL))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Page{}, apperr.Invalid("scrape.fetch", fmt.Sprintf("unsupported scheme %q", parsed.Scheme))
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return Page{}, apperr.Unavailable("scrape.fetch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, apperr.Invalid("scrape.fetch", err.Error())
	}
	req.Header.Set("User-Agent", s.ua)

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, apperr.Unavailable("scrape.fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, apperr.Unavailable("scrape.fetch",
			fmt.Errorf("%s returned status %d", rawURL, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, apperr.Unavailable("scrape.fetch", err)
	}

	title, content, err := Extract(string(body))
	if err != nil {
		return Page{}, err
	}
	if len(content) < s.minChars {
		return Page{}, apperr.Invalid("scrape.extract",
			fmt.Sprintf("extracted only %d chars from %s", len(content), rawURL))
	}

	s.logger.Info("scraped page", "url", rawURL, "title", title, "chars", len(content))
	return Page{URL: rawURL, Domain: parsed.Host, Title: title, Content: content}, nil
}

// Extract parses HTML and returns the page title and main content as
// markdown-like text: headings become #-prefixed lines, paragraphs
// keep their text, list items become "- " lines. Boilerplate regions
// (nav, footer, scripts) are stripped first. Pages without any
// structural nodes fall back to the region's flattened text.
func Extract(html string) (title, content string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindInvalid, "scrape.extract", err)
	}

	title = extractTitle(doc)

	doc.Find("script, style, nav, footer, header, aside, form").Remove()

	region := doc.Find("main").First()
	if region.Length() == 0 {
		region = doc.Find("article").First()
	}
	if region.Length() == 0 {
		region = doc.Find("div.content").First()
	}
	if region.Length() == 0 {
		region = doc.Find("body").First()
	}
	if region.Length() == 0 {
		region = doc.Selection
	}

	content = structuredText(region)
	if content == "" {
		content = flattenedText(region)
	}
	return title, content, nil
}

// structuredText keeps the heading hierarchy so downstream section
// splitting sees the page's real structure.
func structuredText(region *goquery.Selection) string {
	var lines []string

	region.Find("h1, h2, h3, h4, h5, h6, p, li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch name := goquery.NodeName(s); name {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(name[1] - '0')
			lines = append(lines, fmt.Sprintf("\n%s %s\n", strings.Repeat("#", level), text))
		case "p":
			lines = append(lines, text+"\n")
		case "li":
			lines = append(lines, "- "+text)
		}
	})

	return strings.Join(lines, "\n")
}

func flattenedText(region *goquery.Selection) string {
	var lines []string
	for _, line := range strings.Split(region.Text(), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n")
}

// extractTitle tries <title>, then og:title, then the first h1.
func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if t := strings.TrimSpace(og); t != "" {
			return t
		}
	}
	if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	return "Untitled"
}
