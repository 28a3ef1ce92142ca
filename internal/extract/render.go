package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/iago/link-collector-back/internal/domain"
)

// RenderTimeout caps a headless page load.
const RenderTimeout = 30 * time.Second

// Renderer loads a page in a real browser and returns the rendered HTML.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

type ChromeRendererConfig struct {
	ProxyURL  string
	UserAgent string
	ExecPath  string
	Timeout   time.Duration
}

// ChromeRenderer drives a headless Chrome through chromedp. Each call gets
// its own browser process so concurrent renders share no state.
type ChromeRenderer struct {
	proxyURL  string
	userAgent string
	execPath  string
	timeout   time.Duration
}

func NewChromeRenderer(config ChromeRendererConfig) *ChromeRenderer {
	if config.Timeout <= 0 || config.Timeout > RenderTimeout {
		config.Timeout = RenderTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = BrowserUserAgent
	}
	return &ChromeRenderer{
		proxyURL:  strings.TrimSpace(config.ProxyURL),
		userAgent: config.UserAgent,
		execPath:  strings.TrimSpace(config.ExecPath),
		timeout:   config.Timeout,
	}
}

func (r *ChromeRenderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	options := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	options = append(options, chromedp.UserAgent(r.userAgent))
	if r.proxyURL != "" {
		options = append(options, chromedp.ProxyServer(r.proxyURL))
	}
	if r.execPath != "" {
		options = append(options, chromedp.ExecPath(r.execPath))
	}
	return options
}

func (r *ChromeRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", renderError(pageURL, err)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, r.timeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return "", renderError(pageURL, timeoutCtx.Err())
		}
		return "", renderError(pageURL, err)
	}
	return html, nil
}

func renderError(pageURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("render %s: %w", pageURL, domain.ErrUpstreamTimeout)
	}
	return fmt.Errorf("render %s: %w", pageURL, err)
}
