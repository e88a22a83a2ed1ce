// Package metrics provides the Prometheus registry used by the exporter and a
// textfile dump for batch runs. Metrics are defined in their respective
// packages (client, pagination, export) via promauto.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by all packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// WriteTextfile writes all gathered metrics to path in the text exposition
// format, for node_exporter's textfile collector. The write is atomic.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Client Metrics (pkg/client):
//   - plaid_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - plaid_request_duration_seconds{endpoint} (Histogram): Request duration
//   - plaid_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, malformed, unexpected_status)
//   - plaid_retries_total{error_class} (Counter): Rate-limit retry attempts
//
// Pagination Metrics (pkg/pagination):
//   - routing_export_pages_fetched_total (Counter): Pages fetched
//   - routing_export_institutions_fetched_total (Counter): Institutions accumulated
//   - routing_export_upstream_total (Gauge): Total reported by the latest page
//
// Export Metrics (pkg/export):
//   - routing_export_rows_written_total (Counter): CSV rows written
//
// Example Prometheus Queries:
//
//   # Rows exported by the last run
//   routing_export_rows_written_total
//
//   # Upstream error rate
//   rate(plaid_errors_total[1h])
