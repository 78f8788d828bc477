// Package linkpreview fetches a page and extracts the metadata shown on a
// link card: title, description and preview image.
package linkpreview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	apperrors "github.com/kimhsiao/curio/internal/errors"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
	maxTitleLen    = 300
	maxDescLen     = 500
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Preview is the metadata of a linked page.
type Preview struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
}

// Fetcher retrieves previews over HTTP.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewFetcher creates a Fetcher. A zero timeout uses the default.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{
		client:    &http.Client{},
		timeout:   timeout,
		userAgent: "Curio/1.0 (+link preview)",
	}
}

// WithClient replaces the HTTP client, mainly for tests.
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

// Fetch downloads rawURL and extracts its preview. Only http and https
// URLs are accepted.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Preview, error) {
	pageURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") || pageURL.Host == "" {
		return nil, apperrors.New(apperrors.ErrValidation, fmt.Sprintf("not an http(s) url: %q", rawURL))
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPreviewFailed, "build request", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPreviewFailed, "fetch page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.New(apperrors.ErrPreviewFailed, fmt.Sprintf("fetch page: status %d", resp.StatusCode))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, apperrors.New(apperrors.ErrPreviewFailed, fmt.Sprintf("unsupported content type %q", ct))
	}

	// Redirects change the base for relative image urls.
	base := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	return Extract(io.LimitReader(resp.Body, maxBodyBytes), base)
}

// Extract parses an HTML document. The title comes from og:title, then
// <title>, then the first <h1>, then the host name. Relative image urls
// are resolved against pageURL.
func Extract(r io.Reader, pageURL *url.URL) (*Preview, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPreviewFailed, "parse html", err)
	}

	p := &Preview{URL: pageURL.String()}

	p.Title = metaProperty(doc, "og:title")
	if p.Title == "" {
		p.Title = textOf(doc, "title")
	}
	if p.Title == "" {
		p.Title = textOf(doc, "h1")
	}
	if p.Title = truncate(cleanText(p.Title), maxTitleLen); p.Title == "" {
		p.Title = pageURL.Hostname()
	}

	p.Description = metaProperty(doc, "og:description")
	if p.Description == "" {
		p.Description = metaName(doc, "description")
	}
	p.Description = truncate(cleanText(p.Description), maxDescLen)

	p.SiteName = cleanText(metaProperty(doc, "og:site_name"))

	image := metaProperty(doc, "og:image")
	if image == "" {
		image = metaName(doc, "twitter:image")
	}
	if image != "" {
		if ref, err := url.Parse(strings.TrimSpace(image)); err == nil {
			p.Image = pageURL.ResolveReference(ref).String()
		}
	}

	return p, nil
}

// metaProperty returns the content of <meta property=...>.
func metaProperty(doc *html.Node, property string) string {
	return findMeta(doc, "property", property)
}

// metaName returns the content of <meta name=...>.
func metaName(doc *html.Node, name string) string {
	return findMeta(doc, "name", name)
}

func findMeta(doc *html.Node, key, value string) string {
	var content string

	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var matched bool
			var metaContent string
			for _, attr := range n.Attr {
				if attr.Key == key && strings.EqualFold(attr.Val, value) {
					matched = true
				}
				if attr.Key == "content" {
					metaContent = attr.Val
				}
			}
			if matched && strings.TrimSpace(metaContent) != "" {
				content = metaContent
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
			if content != "" {
				return
			}
		}
	}
	f(doc)

	return content
}

// textOf returns the text of the first element named tag.
func textOf(doc *html.Node, tag string) string {
	var text string

	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			var b strings.Builder
			collectText(n, &b)
			text = strings.TrimSpace(b.String())
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
			if text != "" {
				return
			}
		}
	}
	f(doc)

	return text
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// cleanText normalizes whitespace in text.
func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// truncate cuts s to at most maxLen runes, at a word boundary when possible.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	cut := string(runes[:maxLen])
	if i := strings.LastIndex(cut, " "); i > 0 {
		return cut[:i] + "..."
	}
	return cut + "..."
}
