// Package export writes routing-number tables derived from institutions.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Sternrassler/routing-export/pkg/logging"
	"github.com/Sternrassler/routing-export/pkg/routing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultPath is the default CSV output path.
const DefaultPath = "bank_routing_numbers.csv"

// Header is the fixed CSV header row.
var Header = []string{"Bank Name", "Institution ID", "Routing Number"}

var rowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "routing_export_rows_written_total",
	Help: "Total number of routing-number rows written to CSV",
})

// FileWriteError is returned when the CSV file cannot be written.
type FileWriteError struct {
	Path string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *FileWriteError) Error() string {
	return fmt.Sprintf("write %s: %s: %v", e.Path, e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FileWriteError) Unwrap() error {
	return e.Err
}

// Write serializes rows as CSV with the fixed header.
func Write(w io.Writer, rows []routing.RoutingRow) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write([]string{row.Name, row.InstitutionID, row.RoutingNumber}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteRoutingNumbers flattens institutions and writes them to path,
// replacing any existing file. The file is written next to path and renamed
// into place, so an earlier file survives a failed write. Returns the number
// of data rows written.
func WriteRoutingNumbers(path string, institutions []routing.Institution) (int, error) {
	rows := routing.Flatten(institutions)
	logger := logging.NewLogger("exporter")

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, &FileWriteError{Path: path, Op: "create", Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := Write(tmp, rows); err != nil {
		return 0, &FileWriteError{Path: path, Op: "write", Err: err}
	}
	if err := tmp.Chmod(0o644); err != nil {
		return 0, &FileWriteError{Path: path, Op: "chmod", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return 0, &FileWriteError{Path: path, Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, &FileWriteError{Path: path, Op: "rename", Err: err}
	}
	committed = true

	rowsWrittenTotal.Add(float64(len(rows)))
	logger.Info().
		Str("path", path).
		Int("institutions", len(institutions)).
		Int("rows", len(rows)).
		Msg("Routing numbers saved")

	return len(rows), nil
}
