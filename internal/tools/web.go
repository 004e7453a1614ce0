package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"crmpilot/internal/tool"
)

const (
	crawlConcurrency = 4
	maxCrawlPages    = 20
	maxPageText      = 20_000
	userAgent        = "crmpilot/1.0"
)

// Web fetches and extracts page content for research steps.
type Web struct {
	client *http.Client
}

func NewWeb(timeout time.Duration) *Web {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Web{client: &http.Client{Timeout: timeout}}
}

// RegisterWeb wires the web_* capabilities.
func RegisterWeb(r *tool.Runner, w *Web) error {
	if err := r.Register("web_scrape_page", w.scrapePage); err != nil {
		return err
	}
	return r.Register("web_crawl_site", w.crawlSite)
}

type page struct {
	URL   string   `json:"url"`
	Title string   `json:"title"`
	Text  string   `json:"text"`
	Links []string `json:"links"`
}

func (w *Web) fetch(ctx context.Context, rawURL string) (*page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, tool.NonRetryable(fmt.Errorf("invalid url %q", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, tool.NonRetryable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
		if resp.StatusCode < 500 {
			return nil, tool.NonRetryable(err)
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	doc.Find("script, style, noscript").Remove()

	p := &page{
		URL:   u.String(),
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  collapse(doc.Text()),
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if abs := absolute(u, href); abs != "" {
			p.Links = append(p.Links, abs)
		}
	})
	return p, nil
}

func (w *Web) scrapePage(ctx context.Context, args map[string]any) (any, error) {
	rawURL, err := tool.StringArg(args, "url")
	if err != nil {
		return nil, err
	}
	p, err := w.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":   p.URL,
		"title": p.Title,
		"text":  p.Text,
		"links": p.Links,
	}, nil
}

// crawlSite fetches the start page plus same-host links, breadth first,
// bounded by max_pages. Individual page failures do not fail the crawl as
// long as the start page loads.
func (w *Web) crawlSite(ctx context.Context, args map[string]any) (any, error) {
	rawURL, err := tool.StringArg(args, "url")
	if err != nil {
		return nil, err
	}
	limit := tool.OptionalIntArg(args, "max_pages", 5)
	if limit < 1 {
		limit = 1
	}
	if limit > maxCrawlPages {
		limit = maxCrawlPages
	}

	start, err := w.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	host := hostOf(start.URL)

	pages := []*page{start}
	seen := map[string]bool{start.URL: true}
	queue := sameHostLinks(start.Links, host, seen)

	for len(pages) < limit && len(queue) > 0 {
		batch := queue
		if room := limit - len(pages); len(batch) > room {
			batch = batch[:room]
		}
		queue = queue[len(batch):]

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(crawlConcurrency)
		for _, link := range batch {
			link := link
			g.Go(func() error {
				p, err := w.fetch(gctx, link)
				if err != nil {
					return nil // skip broken pages
				}
				mu.Lock()
				pages = append(pages, p)
				queue = append(queue, sameHostLinks(p.Links, host, seen)...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	out := make([]map[string]any, 0, len(pages))
	for _, p := range pages {
		out = append(out, map[string]any{
			"url":   p.URL,
			"title": p.Title,
			"text":  p.Text,
		})
	}
	return map[string]any{"pages": out, "page_count": len(out)}, nil
}

func sameHostLinks(links []string, host string, seen map[string]bool) []string {
	var out []string
	for _, l := range links {
		if hostOf(l) != host || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func absolute(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	resolved.Fragment = ""
	return resolved.String()
}

func collapse(text string) string {
	fields := strings.Fields(text)
	out := strings.Join(fields, " ")
	if len(out) > maxPageText {
		out = out[:maxPageText]
	}
	return out
}
