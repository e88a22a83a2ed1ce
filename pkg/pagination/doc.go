// Package pagination drives a single-page fetcher over Plaid's offset-based
// institutions listing until the upstream-reported total is exhausted.
//
// Example usage:
//
//	c, _ := client.New(client.DefaultConfig(clientID, secret))
//	p := pagination.NewPaginator(c, pagination.DefaultConfig())
//	institutions, err := p.FetchAll(ctx, nil)
//
// The paginator:
//   - Fetches pages strictly one at a time, starting at offset 0
//   - Always issues at least one request, even when total is 0
//   - Stops once offset >= total, using the configured TotalPolicy
//   - Waits Delay between pages (not after the last one)
//   - Aborts on the first fetch error and returns no partial result
package pagination
