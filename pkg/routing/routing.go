// Package routing defines the institution records returned by the Plaid
// institutions API and the routing-number rows derived from them.
package routing

// Institution is a financial institution as returned by /institutions/get.
type Institution struct {
	Name           string   `json:"name" yaml:"name"`
	InstitutionID  string   `json:"institution_id" yaml:"institution_id"`
	RoutingNumbers []string `json:"routing_numbers" yaml:"routing_numbers"`
	CountryCodes   []string `json:"country_codes,omitempty" yaml:"country_codes,omitempty"`
	Products       []string `json:"products,omitempty" yaml:"products,omitempty"`
	OAuth          bool     `json:"oauth,omitempty" yaml:"oauth,omitempty"`
}

// PageRequest selects one page of institutions.
type PageRequest struct {
	// Count is the page size (must be > 0).
	Count int

	// Offset is the number of records to skip (must be >= 0).
	Offset int

	// RoutingNumbers narrows the query when non-empty.
	RoutingNumbers []string
}

// Page is one batch of institutions plus the upstream-reported total.
type Page struct {
	Institutions []Institution `json:"institutions"`

	// Total is the record count across all pages as reported by upstream.
	Total int `json:"total"`

	// Offset is the offset that produced this page.
	Offset int `json:"-"`

	RequestID string `json:"request_id,omitempty"`
}

// RoutingRow is one (institution, routing number) pair.
type RoutingRow struct {
	Name          string
	InstitutionID string
	RoutingNumber string
}

// Flatten projects institutions into one row per routing number.
// Rows keep the institutions' order, then each institution's own
// routing-number order. Institutions without routing numbers produce no rows.
func Flatten(institutions []Institution) []RoutingRow {
	n := 0
	for _, inst := range institutions {
		n += len(inst.RoutingNumbers)
	}

	rows := make([]RoutingRow, 0, n)
	for _, inst := range institutions {
		for _, rn := range inst.RoutingNumbers {
			rows = append(rows, RoutingRow{
				Name:          inst.Name,
				InstitutionID: inst.InstitutionID,
				RoutingNumber: rn,
			})
		}
	}
	return rows
}
