package logbook

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/micrologger/internal/stats"
	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
)

func cleanFilter(f store.RowFilter) store.RowFilter {
	return store.RowFilter{
		TableDate:      strings.TrimSpace(f.TableDate),
		Product:        validate.SanitizeString(f.Product, validate.MaxProduct),
		Code:           validate.SanitizeString(f.Code, validate.MaxCode),
		ExpirationDate: strings.TrimSpace(f.ExpirationDate),
	}
}

// SearchRows finds rows across all sheets. At least one filter is required.
func (s *Service) SearchRows(ctx context.Context, f store.RowFilter) ([]Entry, error) {
	ctx, span := s.tracer.Start(ctx, "logbook.search_rows")
	defer span.End()

	f = cleanFilter(f)
	if f.Empty() {
		return nil, fail(span, ErrNoFilter)
	}
	s.add(ctx, s.searches, 1, metric.WithAttributes(attribute.String("kind", "rows")))

	rows, err := s.store.SearchRows(ctx, f)
	if err != nil {
		return nil, fail(span, fmt.Errorf("search rows: %w", err))
	}
	span.SetAttributes(attribute.Int("rows.found", len(rows)))

	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{Row: r, Flags: stats.Flags(r)}
	}
	return out, nil
}

// SearchTables returns whole sheets dated date, grouped by name and date.
func (s *Service) SearchTables(ctx context.Context, date, nameLike string) ([]Sheet, error) {
	ctx, span := s.tracer.Start(ctx, "logbook.search_tables")
	defer span.End()

	date = strings.TrimSpace(date)
	if date == "" {
		return nil, fail(span, ErrDateRequired)
	}
	s.add(ctx, s.searches, 1, metric.WithAttributes(attribute.String("kind", "tables")))

	rows, err := s.store.SearchTables(ctx, date, validate.SanitizeString(nameLike, validate.MaxTableName))
	if err != nil {
		return nil, fail(span, fmt.Errorf("search tables: %w", err))
	}
	span.SetAttributes(attribute.Int("rows.found", len(rows)))
	if len(rows) == 0 {
		return []Sheet{}, nil
	}
	return groupSheets(rows), nil
}

var csvHeader = []string{
	"table_name", "table_date", "row_index", "product", "code", "expiration_date",
	"enterobacteriacea", "tmc_30", "yeasts_molds", "bacillus",
	"eval_2nd", "eval_3rd", "eval_4th", "stress_test", "comments", "out_of_spec",
}

// ExportCSV writes the result of a row search to w as CSV and returns the
// number of data rows written.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, f store.RowFilter) (int, error) {
	entries, err := s.SearchRows(ctx, f)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	d := validate.Deref
	for _, e := range entries {
		if err := cw.Write([]string{
			e.TableName, e.TableDate, strconv.Itoa(e.RowIndex), e.Product, e.Code, d(e.ExpirationDate),
			d(e.Entero), d(e.TMC30), d(e.YeastsMolds), d(e.Bacillus),
			e.Eval2nd, e.Eval3rd, e.Eval4th, e.StressTest, e.Comments, flagList(e.Flags),
		}); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(entries), nil
}

func flagList(f stats.RowFlags) string {
	var out []string
	if f.Entero {
		out = append(out, "enterobacteriacea")
	}
	if f.YeastsMolds {
		out = append(out, "yeasts_molds")
	}
	if f.Bacillus {
		out = append(out, "bacillus")
	}
	return strings.Join(out, " ")
}
