package logbook

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/audit"
	"github.com/fyrsmithlabs/micrologger/internal/incubation"
	"github.com/fyrsmithlabs/micrologger/internal/stats"
	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
)

// CreateSheet validates and stores a new log sheet and returns the number of
// rows written. Blank rows are dropped; a blank row index is filled with the
// row's position among the kept rows.
func (s *Service) CreateSheet(ctx context.Context, form SheetForm) (int, error) {
	ctx, span := s.tracer.Start(ctx, "logbook.create_sheet")
	defer span.End()

	header := store.Header{
		TableName:        validate.SanitizeString(form.TableName, validate.MaxTableName),
		TableDescription: validate.SanitizeString(form.Description, validate.MaxDescription),
		TableDate:        strings.TrimSpace(form.TableDate),
	}
	if err := validate.Struct(validate.SheetHeader{TableName: header.TableName, TableDate: header.TableDate}); err != nil {
		return 0, fail(span, err)
	}

	profiles := make([]string, 0, len(form.Profiles))
	for _, p := range form.Profiles {
		profiles = append(profiles, validate.SanitizeString(p, validate.MaxProfileKey))
	}
	header.IncubationProfile = incubation.JoinProfileKeys(profiles)

	rows := make([]store.Row, 0, len(form.Rows))
	for _, rf := range form.Rows {
		r, idx := sanitizeRow(rf)
		if rowEmpty(r) {
			continue
		}
		r.RowIndex = idx
		if r.RowIndex <= 0 {
			r.RowIndex = len(rows) + 1
		}
		rows = append(rows, r)
	}
	span.SetAttributes(
		attribute.String("table.name", header.TableName),
		attribute.String("table.date", header.TableDate),
		attribute.Int("rows.submitted", len(form.Rows)),
		attribute.Int("rows.kept", len(rows)),
	)
	if len(rows) == 0 {
		return 0, fail(span, ErrNoRows)
	}

	n, err := s.store.InsertSheet(ctx, header, rows)
	if err != nil {
		return 0, fail(span, fmt.Errorf("insert sheet: %w", err))
	}

	s.audit.Log(ctx, audit.Entry{
		Action: audit.ActionCreateLog,
		Table:  audit.TableLogs,
		New: map[string]any{
			"table_name":    header.TableName,
			"table_date":    header.TableDate,
			"rows_inserted": n,
		},
	})
	s.add(ctx, s.sheetsCreated, 1)
	s.add(ctx, s.rowsInserted, int64(n))
	s.logger.Info("log sheet created",
		zap.String("table_name", header.TableName),
		zap.String("table_date", header.TableDate),
		zap.String("profiles", header.IncubationProfile),
		zap.Int("rows", n))
	return n, nil
}

// UpdateRows applies edits to stored rows. Edits without a valid id, for
// rows that no longer exist, or that change nothing are skipped.
func (s *Service) UpdateRows(ctx context.Context, edits []RowEdit) (int, error) {
	ctx, span := s.tracer.Start(ctx, "logbook.update_rows")
	defer span.End()
	span.SetAttributes(attribute.Int("rows.submitted", len(edits)))

	ids := make([]int64, 0, len(edits))
	for _, e := range edits {
		if e.ID > 0 {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	current, err := s.store.GetRows(ctx, ids)
	if err != nil {
		return 0, fail(span, fmt.Errorf("load rows: %w", err))
	}

	updated := 0
	for _, e := range edits {
		old, ok := current[e.ID]
		if e.ID <= 0 || !ok {
			continue
		}
		next, idx := sanitizeRow(e.RowForm)
		next.ID = old.ID
		next.Header = old.Header
		next.CreatedAt = old.CreatedAt
		next.RowIndex = old.RowIndex
		if idx > 0 {
			next.RowIndex = idx
		}
		if sameRow(old, next) {
			continue
		}
		if err := s.store.UpdateRow(ctx, next); err != nil {
			return updated, fail(span, fmt.Errorf("update row %d: %w", e.ID, err))
		}
		s.audit.LogUpdate(ctx, audit.TableLogs, e.ID, auditValues(old), auditValues(next))
		updated++
	}

	span.SetAttributes(attribute.Int("rows.updated", updated))
	s.add(ctx, s.rowsUpdated, int64(updated))
	if updated > 0 {
		s.logger.Info("rows updated", zap.Int("rows", updated))
	}
	return updated, nil
}

// SheetRows returns the sheets dated date, optionally narrowed by a sheet
// name substring, with the creator of each sheet and the last editor of
// each row.
func (s *Service) SheetRows(ctx context.Context, date, nameLike string) ([]Sheet, error) {
	ctx, span := s.tracer.Start(ctx, "logbook.sheet_rows")
	defer span.End()

	date = strings.TrimSpace(date)
	if date == "" {
		return nil, fail(span, ErrDateRequired)
	}
	span.SetAttributes(attribute.String("table.date", date))

	rows, err := s.store.RowsByDate(ctx, date, strings.TrimSpace(nameLike))
	if err != nil {
		return nil, fail(span, fmt.Errorf("rows by date: %w", err))
	}
	return s.decorate(ctx, rows)
}

// decorate groups rows by sheet and attaches editors and creators.
func (s *Service) decorate(ctx context.Context, rows []store.Row) ([]Sheet, error) {
	if len(rows) == 0 {
		return []Sheet{}, nil
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	editors, err := s.store.LastEditors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("last editors: %w", err)
	}
	creators, err := s.store.TableCreators(ctx)
	if err != nil {
		return nil, fmt.Errorf("table creators: %w", err)
	}

	sheets := groupSheets(rows)
	for i := range sheets {
		sheets[i].Creator = creators[sheets[i].Key]
		for j := range sheets[i].Entries {
			sheets[i].Entries[j].LastEditor = editors[sheets[i].Entries[j].ID]
		}
	}
	return sheets, nil
}

// groupSheets splits rows into sheets keyed by name and date, keeping the
// order in which each sheet first appears.
func groupSheets(rows []store.Row) []Sheet {
	var out []Sheet
	index := map[string]int{}
	for _, r := range rows {
		key := store.SheetKey(r.TableName, r.TableDate)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Sheet{
				Key:         key,
				TableName:   r.TableName,
				TableDate:   r.TableDate,
				Description: r.TableDescription,
				Profiles:    incubation.ParseProfileKeys(r.IncubationProfile),
			})
		}
		out[i].Entries = append(out[i].Entries, Entry{Row: r, Flags: stats.Flags(r)})
	}
	return out
}

func sanitizeRow(f RowForm) (store.Row, int) {
	idx, err := strconv.Atoi(strings.TrimSpace(f.RowIndex))
	if err != nil || idx < 0 {
		idx = 0
	}
	return store.Row{
		Product:        validate.SanitizeString(f.Product, validate.MaxProduct),
		Code:           validate.SanitizeString(f.Code, validate.MaxCode),
		ExpirationDate: validate.SanitizeDate(f.ExpirationDate),
		Entero:         validate.SanitizeNumeric(f.Entero),
		TMC30:          validate.SanitizeNumeric(f.TMC30),
		YeastsMolds:    validate.SanitizeNumeric(f.YeastsMolds),
		Bacillus:       validate.SanitizeNumeric(f.Bacillus),
		Eval2nd:        validate.SanitizeString(f.Eval2nd, validate.MaxEval),
		Eval3rd:        validate.SanitizeString(f.Eval3rd, validate.MaxEval),
		Eval4th:        validate.SanitizeString(f.Eval4th, validate.MaxEval),
		StressTest:     validate.SanitizeString(f.StressTest, validate.MaxStressTest),
		Comments:       validate.SanitizeString(f.Comments, validate.MaxComments),
	}, idx
}

func rowEmpty(r store.Row) bool {
	return r.Product == "" && r.Code == "" && r.ExpirationDate == nil &&
		r.Entero == nil && r.TMC30 == nil && r.YeastsMolds == nil && r.Bacillus == nil &&
		r.Eval2nd == "" && r.Eval3rd == "" && r.Eval4th == "" &&
		r.StressTest == "" && r.Comments == ""
}

func sameRow(a, b store.Row) bool {
	d := validate.Deref
	return a.RowIndex == b.RowIndex && a.Product == b.Product && a.Code == b.Code &&
		d(a.ExpirationDate) == d(b.ExpirationDate) &&
		d(a.Entero) == d(b.Entero) && d(a.TMC30) == d(b.TMC30) &&
		d(a.YeastsMolds) == d(b.YeastsMolds) && d(a.Bacillus) == d(b.Bacillus) &&
		a.Eval2nd == b.Eval2nd && a.Eval3rd == b.Eval3rd && a.Eval4th == b.Eval4th &&
		a.StressTest == b.StressTest && a.Comments == b.Comments
}

func auditValues(r store.Row) map[string]any {
	return map[string]any{
		"product":           r.Product,
		"enterobacteriacea": r.Entero,
		"yeasts_molds":      r.YeastsMolds,
		"bacillus":          r.Bacillus,
	}
}
