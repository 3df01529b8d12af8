// Package readurl provides the read_url tool: fetch a page, extract
// its readable content (HTML via readability, PDF via text
// extraction) and return a markdown-ish rendition the model can quote.
package readurl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	"github.com/deepsearch-ai/deepsearch"
	"github.com/deepsearch-ai/deepsearch/cache"
)

const (
	userAgent   = "Mozilla/5.0 (compatible; DeepSearchBot/1.0)"
	maxBodySize = 4 << 20 // 4MB
	maxContent  = 16_000  // runes returned to the model
	cacheTTL    = 24 * time.Hour
)

// Option configures the read_url tool.
type Option func(*Tool)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// WithCache enables page-content caching.
func WithCache(c cache.Cache) Option {
	return func(t *Tool) { t.cache = c }
}

// WithCacheTTL replaces the default 24h page lifetime.
func WithCacheTTL(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.ttl = d
		}
	}
}

// Tool implements read_url.
type Tool struct {
	client *http.Client
	cache  cache.Cache
	ttl    time.Duration
}

var _ deepsearch.Tool = (*Tool)(nil)

func New(opts ...Option) *Tool {
	t := &Tool{
		client: &http.Client{Timeout: 20 * time.Second},
		cache:  cache.Nop{},
		ttl:    cacheTTL,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Descriptor() deepsearch.ToolDescriptor {
	return deepsearch.ToolDescriptor{
		Name:        "read_url",
		Description: "Fetch a URL and return its readable text content. Handles articles, documentation and PDF files.",
		Inputs: map[string]deepsearch.ParamSpec{
			"url": {Type: deepsearch.TypeString, Required: true,
				Description: "Absolute http(s) URL to read"},
		},
		OutputType: "object",
	}
}

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	rawURL, _ := args["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("url must be absolute http(s), got %q", rawURL)
	}

	key := cache.Key("read_url", rawURL)
	if blob, ok, _ := t.cache.Get(ctx, key); ok {
		return map[string]any{"url": rawURL, "content": string(blob), "cached": true}, nil
	}

	content, title, err := t.fetch(ctx, parsed)
	if err != nil {
		return nil, err
	}
	_ = t.cache.Put(ctx, key, []byte(content), t.ttl)

	out := map[string]any{"url": rawURL, "content": content}
	if title != "" {
		out["title"] = title
	}
	return out, nil
}

func (t *Tool) fetch(ctx context.Context, u *url.URL) (content, title string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, u)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", u, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/pdf" || strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		text, err := extractPDF(body)
		if err != nil {
			return "", "", err
		}
		return clip(text), "", nil
	}

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return clip(renderArticle(article)), article.Title, nil
	}
	// Fallback: raw body minus tags is better than nothing.
	return clip(stripTags(string(body))), "", nil
}

// renderArticle joins the readability extraction into markdown-ish
// text: title heading, byline, then paragraphs.
func renderArticle(a readability.Article) string {
	var b strings.Builder
	if a.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", a.Title)
	}
	if a.Byline != "" {
		fmt.Fprintf(&b, "_%s_\n\n", a.Byline)
	}
	b.WriteString(strings.TrimSpace(a.TextContent))
	return b.String()
}

func extractPDF(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty PDF body")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return text.String(), nil
}

// stripTags removes markup, collapsing whitespace. Last-resort path
// when readability finds no article.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func clip(s string) string {
	runes := []rune(s)
	if len(runes) <= maxContent {
		return s
	}
	return string(runes[:maxContent]) + "\n... (truncated)"
}
