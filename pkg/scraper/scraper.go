package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/xhad/askdocs/internal/models"
)

type ScraperConfig struct {
	BaseURL        string
	MaxDepth       int
	RateLimit      float64 // requests per second
	IgnorePatterns []string
	PageExtensions []string
	MaxFileSize    int64
	Timeout        time.Duration
	OnProgress     func(url string)
}

// Artifact is a downloaded document ready to be uploaded.
type Artifact struct {
	URL         string
	Filename    string
	ContentType string
	Data        []byte
}

// Scraper walks HTML index pages on one host and downloads every linked
// document whose extension the processor can ingest.
type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	limiter  *rate.Limiter
	baseHost string
	logger   arbor.ILogger

	visited   map[string]bool
	artifacts []Artifact
	names     map[string]bool
}

func NewWithConfig(config ScraperConfig, logger arbor.ILogger) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 1
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.PageExtensions) == 0 {
		config.PageExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.MaxFileSize == 0 {
		config.MaxFileSize = 50 << 20
	}
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", config.BaseURL)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		logger:   logger,
	}, nil
}

func (s *Scraper) ignored(urlStr string) bool {
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return true
		}
	}
	return false
}

func (s *Scraper) isPage(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	for _, ext := range s.config.PageExtensions {
		if ext == "" {
			if path.Ext(p) == "" {
				return true
			}
			continue
		}
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

func isArtifact(u *url.URL) bool {
	_, ok := models.MediaTypeFromFilename(u.Path)
	return ok
}

// Harvest downloads the artifact at startURL, or crawls it as an index page
// and downloads every artifact linked within MaxDepth hops. Failures on
// individual links are logged and skipped.
func (s *Scraper) Harvest(ctx context.Context, startURL string) ([]Artifact, error) {
	s.visited = make(map[string]bool)
	s.names = make(map[string]bool)
	s.artifacts = nil

	u, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", startURL, err)
	}
	if isArtifact(u) {
		if err := s.download(ctx, u); err != nil {
			return nil, err
		}
		return s.artifacts, nil
	}

	if err := s.crawl(ctx, u, 0); err != nil {
		return s.artifacts, err
	}
	return s.artifacts, nil
}

func (s *Scraper) crawl(ctx context.Context, pageURL *url.URL, depth int) error {
	key := pageURL.String()
	if depth > s.config.MaxDepth || s.visited[key] {
		return nil
	}
	if pageURL.Host != s.baseHost || !s.isPage(pageURL) || s.ignored(key) {
		return nil
	}
	s.visited[key] = true

	resp, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}

	var pages []*url.URL
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			s.logger.Debug().Str("href", href).Err(err).Msg("Skipping unparseable link")
			return
		}
		link := pageURL.ResolveReference(ref)
		link.Fragment = ""

		if isArtifact(link) {
			if link.Host != s.baseHost || s.ignored(link.String()) {
				return
			}
			if err := s.download(ctx, link); err != nil {
				s.logger.Warn().Str("url", link.String()).Err(err).Msg("Failed to download artifact")
			}
			return
		}
		pages = append(pages, link)
	})

	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.crawl(ctx, p, depth+1); err != nil {
			s.logger.Warn().Str("url", p.String()).Err(err).Msg("Failed to crawl page")
		}
	}
	return nil
}

func (s *Scraper) download(ctx context.Context, u *url.URL) error {
	key := u.String()
	if s.visited[key] {
		return nil
	}
	s.visited[key] = true

	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if s.names[name] {
		s.logger.Debug().Str("url", key).Str("filename", name).Msg("Skipping duplicate filename")
		return nil
	}

	resp, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if int64(len(data)) > s.config.MaxFileSize {
		return fmt.Errorf("%s exceeds the %d byte limit", key, s.config.MaxFileSize)
	}

	s.names[name] = true
	s.artifacts = append(s.artifacts, Artifact{
		URL:         key,
		Filename:    name,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	})
	s.logger.Debug().Str("url", key).Int("bytes", len(data)).Msg("Artifact downloaded")
	return nil
}

func (s *Scraper) get(ctx context.Context, urlStr string) (*http.Response, error) {
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}
	return resp, nil
}
