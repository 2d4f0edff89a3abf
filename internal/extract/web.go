package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Crawler fetches a seed URL and follows same-domain links up to a small
// depth/breadth limit, concatenating every usable page into one text blob.
type Crawler struct {
	client     *http.Client
	maxDepth   int
	maxBreadth int
	budget     time.Duration
}

func NewCrawler(requestTimeout, budget time.Duration, maxDepth, maxBreadth int) *Crawler {
	if requestTimeout <= 0 {
		requestTimeout = 20 * time.Second
	}
	if budget <= 0 {
		budget = 60 * time.Second
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	if maxBreadth <= 0 {
		maxBreadth = 8
	}
	return &Crawler{
		client:     &http.Client{Timeout: requestTimeout},
		maxDepth:   maxDepth,
		maxBreadth: maxBreadth,
		budget:     budget,
	}
}

type page struct {
	url   string
	title string
	text  string
}

// stripWWW reduces a host to its registrable form for domain comparison.
func stripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// Extract crawls the seed URL's domain and returns the concatenated page text.
// Network failure, a non-2xx seed response, or zero usable pages all produce
// Success=false with the error captured; nothing is raised past this boundary.
func (c *Crawler) Extract(ctx context.Context, rawURL string) SourceResult {
	seed, err := url.Parse(rawURL)
	if err != nil || seed.Host == "" {
		return failure(SourceWeb, rawURL, fmt.Errorf("invalid url %q", rawURL))
	}
	domain := stripWWW(seed.Host)

	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	type frontier struct {
		url   string
		depth int
	}

	queue := []frontier{{url: seed.String(), depth: 0}}
	seen := map[string]bool{seed.String(): true}
	var pages []page
	var firstErr error

	for len(queue) > 0 {
		if ctx.Err() != nil {
			break
		}
		item := queue[0]
		queue = queue[1:]

		p, links, err := c.fetchPage(ctx, item.url)
		if err != nil {
			slog.WarnContext(ctx, "page fetch failed", "url", item.url, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		pages = append(pages, p)

		if item.depth >= c.maxDepth {
			continue
		}
		enqueued := 0
		for _, link := range links {
			if enqueued >= c.maxBreadth {
				break
			}
			lu, err := url.Parse(link)
			if err != nil || stripWWW(lu.Host) != domain {
				continue
			}
			lu.Fragment = ""
			normalized := lu.String()
			if seen[normalized] {
				continue
			}
			seen[normalized] = true
			queue = append(queue, frontier{url: normalized, depth: item.depth + 1})
			enqueued++
		}
	}

	combined := combinePages(pages)
	if combined == "" {
		if firstErr == nil {
			firstErr = errors.New("no usable pages found")
		}
		return failure(SourceWeb, rawURL, firstErr)
	}

	slog.InfoContext(ctx, "crawl completed", "url", rawURL, "pages", len(pages), "chars", len(combined))
	return SourceResult{Kind: SourceWeb, Success: true, Text: combined, Origin: rawURL}
}

func (c *Crawler) fetchPage(ctx context.Context, pageURL string) (page, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return page{}, nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return page{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return page{}, nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, pageURL)
	}

	base := resp.Request.URL
	title, text, links, err := parsePage(resp.Body, base)
	if err != nil {
		return page{}, nil, err
	}
	return page{url: pageURL, title: title, text: text}, links, nil
}

// parsePage walks the HTML tree collecting the title, the visible text
// (script/style subtrees skipped), and all resolved anchor targets.
func parsePage(r io.Reader, base *url.URL) (title, text string, links []string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", nil, err
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case "a":
				for _, attr := range n.Attr {
					if attr.Key == "href" {
						if ref, err := base.Parse(attr.Val); err == nil {
							links = append(links, ref.String())
						}
					}
				}
			}
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return title, sb.String(), links, nil
}

// combinePages joins usable pages into one blob; pages without text are dropped.
func combinePages(pages []page) string {
	var blocks []string
	for _, p := range pages {
		if strings.TrimSpace(p.text) == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Page: %s\nURL: %s\n\n%s", p.title, p.url, p.text))
	}
	return strings.Join(blocks, "\n\n")
}
