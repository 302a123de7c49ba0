package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/promtior/rag-assistant/internal/httpx"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxChars     = 20000
)

// Page is the cleaned result of fetching one source.
type Page struct {
	URL         string
	Title       string
	Text        string
	ContentHash string
}

// Fetcher retrieves and extracts readable text from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// NewFetcher returns a headless-browser fetcher when renderJS is set,
// otherwise a plain HTTP one.
func NewFetcher(renderJS bool, timeout time.Duration, maxChars int) Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	if renderJS {
		return &ChromedpFetcher{Timeout: timeout, MaxChars: maxChars}
	}
	return &HTTPFetcher{Client: httpx.NewClient(timeout, 0, 0), MaxChars: maxChars}
}

// HTTPFetcher downloads the page over plain HTTP and extracts the
// article text with readability.
type HTTPFetcher struct {
	Client   *httpx.Client
	MaxChars int
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Page{}, errors.New("invalid url")
	}
	body, err := f.Client.Get(ctx, rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return extractPage(rawURL, string(body), f.MaxChars)
}

// ChromedpFetcher renders the page in headless Chrome first, for sources
// that build their content client-side.
type ChromedpFetcher struct {
	Timeout  time.Duration
	MaxChars int
}

func (f *ChromedpFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Page{}, errors.New("invalid url")
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	html, err := renderHTML(ctx, rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}
	return extractPage(rawURL, html, f.MaxChars)
}

func renderHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("PromtiorAssistant/1.0 (+hello@promtior.ai)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func extractPage(rawURL, html string, maxChars int) (Page, error) {
	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return Page{}, fmt.Errorf("extract %s: %w", rawURL, err)
	}
	// readability leaves the text clean already; the strict policy pass
	// drops anything that slipped through (inline scripts, event handlers)
	text := bluemonday.StrictPolicy().Sanitize(article.TextContent)
	text = strings.TrimSpace(text)
	if len(text) > maxChars {
		text = text[:maxChars]
	}

	sum := sha1.Sum([]byte(html))

	return Page{
		URL:         rawURL,
		Title:       strings.TrimSpace(article.Title),
		Text:        text,
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
