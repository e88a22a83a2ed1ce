package pagination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/routing-export/pkg/logging"
	"github.com/Sternrassler/routing-export/pkg/routing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for pagination runs.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routing_export_pages_fetched_total",
		Help: "Total number of institution pages fetched",
	})

	institutionsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routing_export_institutions_fetched_total",
		Help: "Total number of institutions accumulated across pages",
	})

	upstreamTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "routing_export_upstream_total",
		Help: "Institution total reported by the most recent page",
	})
)

// TotalPolicy decides which upstream-reported total ends the loop when pages disagree.
type TotalPolicy string

const (
	// TotalLatest uses the total from the most recent page.
	TotalLatest TotalPolicy = "latest"

	// TotalFirst uses the total from the first page and ignores later values.
	TotalFirst TotalPolicy = "first"

	// TotalMax uses the largest total seen so far.
	TotalMax TotalPolicy = "max"
)

// ParseTotalPolicy parses a policy name; the empty string maps to TotalLatest.
func ParseTotalPolicy(s string) (TotalPolicy, error) {
	switch TotalPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", TotalLatest:
		return TotalLatest, nil
	case TotalFirst:
		return TotalFirst, nil
	case TotalMax:
		return TotalMax, nil
	default:
		return "", fmt.Errorf("unknown total policy %q (want latest, first or max)", s)
	}
}

// Config holds paginator configuration.
type Config struct {
	// PageSize is the count sent with every request.
	// Plaid accepts at most 500.
	PageSize int

	// Delay is the pause between consecutive page requests.
	Delay time.Duration

	TotalPolicy TotalPolicy

	// Limit caps the number of institutions fetched (0 = unlimited).
	Limit int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:    500,
		Delay:       30 * time.Second,
		TotalPolicy: TotalLatest,
	}
}

// PageFetcher fetches a single page of institutions.
type PageFetcher interface {
	FetchPage(ctx context.Context, req routing.PageRequest) (*routing.Page, error)
}

// Paginator accumulates every page of the institutions listing.
type Paginator struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger

	// sleep waits between pages; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPaginator creates a new paginator.
func NewPaginator(fetcher PageFetcher, config Config) *Paginator {
	if config.PageSize <= 0 {
		config.PageSize = 500
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	if config.TotalPolicy == "" {
		config.TotalPolicy = TotalLatest
	}
	if config.Limit < 0 {
		config.Limit = 0
	}

	return &Paginator{
		fetcher: fetcher,
		config:  config,
		logger:  logging.NewLogger("paginator"),
		sleep:   sleepContext,
	}
}

// Config returns the effective configuration.
func (p *Paginator) Config() Config {
	return p.config
}

// FetchAll fetches pages until offset >= total and returns every institution
// in accumulation order. routingNumbers narrows the query when non-empty.
// Any fetch failure aborts the run and returns nil institutions.
func (p *Paginator) FetchAll(ctx context.Context, routingNumbers []string) ([]routing.Institution, error) {
	start := time.Now()

	var (
		institutions []routing.Institution
		offset       int
		total        int
	)

	for iteration := 1; ; iteration++ {
		p.logger.Info().
			Int("iteration", iteration).
			Int("offset", offset).
			Msg("Fetching institutions")

		page, err := p.fetcher.FetchPage(ctx, routing.PageRequest{
			Count:          p.config.PageSize,
			Offset:         offset,
			RoutingNumbers: routingNumbers,
		})
		if err != nil {
			p.logger.Warn().
				Err(err).
				Int("iteration", iteration).
				Int("offset", offset).
				Int("accumulated", len(institutions)).
				Msg("Page fetch failed, discarding accumulated institutions")
			return nil, fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}

		institutions = append(institutions, page.Institutions...)
		pagesFetchedTotal.Inc()
		institutionsFetchedTotal.Add(float64(len(page.Institutions)))
		upstreamTotal.Set(float64(page.Total))

		total = p.resolveTotal(iteration, total, page.Total)
		if p.config.Limit > 0 && total > p.config.Limit {
			total = p.config.Limit
		}
		offset += p.config.PageSize

		if offset >= total {
			break
		}

		if err := p.sleep(ctx, p.config.Delay); err != nil {
			return nil, fmt.Errorf("wait before offset %d: %w", offset, err)
		}
	}

	if p.config.Limit > 0 && len(institutions) > p.config.Limit {
		institutions = institutions[:p.config.Limit]
	}

	if p.config.Limit == 0 && len(institutions) != total {
		p.logger.Warn().
			Int("accumulated", len(institutions)).
			Int("total", total).
			Msg("Accumulated institutions differ from upstream total")
	}

	p.logger.Info().
		Int("institutions", len(institutions)).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return institutions, nil
}

// resolveTotal applies the TotalPolicy to the running and newly reported totals.
func (p *Paginator) resolveTotal(iteration, current, reported int) int {
	switch p.config.TotalPolicy {
	case TotalFirst:
		if iteration == 1 {
			return reported
		}
		return current
	case TotalMax:
		return max(current, reported)
	default:
		return reported
	}
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
