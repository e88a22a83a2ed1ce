// Package institutions wires the Plaid client, paginator and exporter into the
// programmatic entry points used by the CLI and by library callers.
// Failures are returned unlogged; the caller reports them.
package institutions

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/routing-export/pkg/client"
	"github.com/Sternrassler/routing-export/pkg/export"
	"github.com/Sternrassler/routing-export/pkg/logging"
	"github.com/Sternrassler/routing-export/pkg/pagination"
	"github.com/Sternrassler/routing-export/pkg/routing"
)

// Config combines the client and paginator configuration for one run.
type Config struct {
	Client     client.Config
	Pagination pagination.Config
}

// DefaultConfig returns the default run configuration for the given credentials.
func DefaultConfig(clientID, secret string) Config {
	return Config{
		Client:     client.DefaultConfig(clientID, secret),
		Pagination: pagination.DefaultConfig(),
	}
}

// ExportResult summarizes an export run.
type ExportResult struct {
	Path         string
	Institutions int
	Rows         int
	Duration     time.Duration
}

// newPaginator builds the per-run HTTP client and paginator.
func newPaginator(cfg Config) (*pagination.Paginator, error) {
	c, err := client.New(cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("create plaid client: %w", err)
	}
	return pagination.NewPaginator(c, cfg.Pagination), nil
}

// FetchAllInstitutions returns every institution without writing a file.
func FetchAllInstitutions(ctx context.Context, cfg Config) ([]routing.Institution, error) {
	logger := logging.NewLogger("institutions")

	p, err := newPaginator(cfg)
	if err != nil {
		return nil, err
	}

	all, err := p.FetchAll(ctx, nil)
	if err != nil {
		return nil, err
	}

	logger.Info().Int("count", len(all)).Msg("Total institutions retrieved")
	return all, nil
}

// FetchInstitutionsByRoutingNumbers returns the institutions matching any of
// routingNumbers. An empty list behaves like FetchAllInstitutions.
func FetchInstitutionsByRoutingNumbers(ctx context.Context, cfg Config, routingNumbers []string) ([]routing.Institution, error) {
	logger := logging.NewLogger("institutions")

	p, err := newPaginator(cfg)
	if err != nil {
		return nil, err
	}

	matched, err := p.FetchAll(ctx, routingNumbers)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int("count", len(matched)).
		Strs("routing_numbers", routingNumbers).
		Msg("Institutions with specified routing numbers retrieved")
	return matched, nil
}

// ExportRoutingNumbers fetches institutions (optionally filtered) and writes
// the routing-number CSV to path. Nothing is written when the fetch fails.
func ExportRoutingNumbers(ctx context.Context, cfg Config, path string, routingNumbers []string) (*ExportResult, error) {
	start := time.Now()
	if path == "" {
		path = export.DefaultPath
	}

	found, err := FetchInstitutionsByRoutingNumbers(ctx, cfg, routingNumbers)
	if err != nil {
		return nil, err
	}

	rows, err := export.WriteRoutingNumbers(path, found)
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		Path:         path,
		Institutions: len(found),
		Rows:         rows,
		Duration:     time.Since(start),
	}, nil
}
