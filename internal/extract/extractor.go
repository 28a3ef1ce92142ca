package extract

import (
	"context"
	"log"
	"strings"

	"github.com/iago/link-collector-back/internal/cascade"
	"github.com/iago/link-collector-back/internal/domain"
	"github.com/iago/link-collector-back/internal/offload"
)

type Dependencies struct {
	Fetcher  Fetcher
	Renderer Renderer
	Scraper  Scraper
	Pool     *offload.Pool
	Logger   *log.Logger
}

// Extractor turns a web page URL into readable text using progressively
// heavier strategies: a static fetch, a headless render and finally a
// managed scraping service.
type Extractor struct {
	fetcher  Fetcher
	renderer Renderer
	scraper  Scraper
	pool     *offload.Pool
	logger   *log.Logger
}

func NewExtractor(deps Dependencies) *Extractor {
	return &Extractor{
		fetcher:  deps.Fetcher,
		renderer: deps.Renderer,
		scraper:  deps.Scraper,
		pool:     deps.Pool,
		logger:   deps.Logger,
	}
}

// Extract never fails: when no tier yields text it reports MethodFailed
// with empty content.
func (e *Extractor) Extract(ctx context.Context, pageURL string) domain.ExtractionResult {
	text, outcome, err := cascade.Run(ctx, e.logger, e.tiers(pageURL))
	if err != nil {
		e.logf("web extraction exhausted url=%s tiers=%d", pageURL, len(outcome.Failures))
		return domain.FailedExtraction()
	}
	return domain.ExtractionResult{
		Method:  domain.ExtractionMethod(outcome.Tier),
		Content: text,
	}
}

func (e *Extractor) tiers(pageURL string) []cascade.Tier[string] {
	tiers := make([]cascade.Tier[string], 0, 3)
	if e.fetcher != nil {
		tiers = append(tiers, cascade.Tier[string]{
			Name:   string(domain.MethodStaticFetch),
			Usable: hasText,
			Run: func(ctx context.Context) (string, error) {
				html, err := e.fetcher.Fetch(ctx, pageURL)
				if err != nil {
					return "", err
				}
				return Readable(html, pageURL)
			},
		})
	}
	if e.renderer != nil {
		tiers = append(tiers, cascade.Tier[string]{
			Name:   string(domain.MethodRenderedFetch),
			Usable: hasText,
			Run: func(ctx context.Context) (string, error) {
				html, err := offload.Do(ctx, e.pool, func(ctx context.Context) (string, error) {
					return e.renderer.Render(ctx, pageURL)
				})
				if err != nil {
					return "", err
				}
				return Readable([]byte(html), pageURL)
			},
		})
	}
	if e.scraper != nil && e.scraper.Available() {
		tiers = append(tiers, cascade.Tier[string]{
			Name:   string(domain.MethodManagedScrape),
			Usable: hasText,
			Run: func(ctx context.Context) (string, error) {
				return e.scraper.Scrape(ctx, pageURL)
			},
		})
	}
	return tiers
}

func (e *Extractor) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func hasText(value string) bool {
	return strings.TrimSpace(value) != ""
}
