package logbook

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/micrologger/internal/audit"
	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/telemetry"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
)

type fixture struct {
	svc   *Service
	store *store.Store
	tel   *telemetry.TestTelemetry
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{
		Driver: store.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "logbook.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return newFixtureWith(t, st, st)
}

func newFixtureWith(t *testing.T, st *store.Store, backend Store) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	tel := telemetry.NewTestTelemetry()

	svc, err := NewService(Config{
		Tracer: tel.Tracer(instrumentationName),
		Meter:  tel.Meter(instrumentationName),
	}, backend, audit.NewRecorder(st, logger), logger)
	require.NoError(t, err)
	return &fixture{svc: svc, store: st, tel: tel, logs: logs}
}

func actorCtx(id int64) context.Context {
	return audit.WithActor(context.Background(), audit.Actor{UserID: id, IP: "10.0.0.5", UserAgent: "test"})
}

func sheetForm() SheetForm {
	return SheetForm{
		TableName:   " Line A ",
		TableDate:   "2025-06-02",
		Description: "<b>morning</b> run",
		Profiles:    []string{"enterobacteriacea", "yeasts_molds", "enterobacteriacea", " "},
		Rows: []RowForm{
			{Product: "Feta", Code: "F-1", Entero: "0", YeastsMolds: "12,5", Bacillus: "0"},
			{},
			{RowIndex: "  ", Comments: "   "},
			{Product: "Yoghurt", Code: "Y-7", Entero: "3", YeastsMolds: "<10", ExpirationDate: "2025-07-01"},
			{RowIndex: "9", Product: "Kefir", Bacillus: "1.0"},
		},
	}
}

func TestNewService_Requires(t *testing.T) {
	_, err := NewService(Config{}, nil, audit.NewRecorder(nil, nil), nil)
	require.EqualError(t, err, "store is required")

	st := &store.Store{}
	_, err = NewService(Config{}, st, nil, nil)
	require.EqualError(t, err, "audit recorder is required")
}

func TestCreateSheet(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx(4)

	n, err := f.svc.CreateSheet(ctx, sheetForm())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := f.store.RowsByDate(ctx, "2025-06-02", "")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byProduct := map[string]store.Row{}
	for _, r := range rows {
		byProduct[r.Product] = r
	}
	feta := byProduct["Feta"]
	assert.Equal(t, "Line A", feta.TableName)
	assert.Equal(t, "morning run", feta.TableDescription)
	assert.Equal(t, "enterobacteriacea,yeasts_molds", feta.IncubationProfile)
	assert.Equal(t, 1, feta.RowIndex)
	assert.Equal(t, "12.5", *feta.YeastsMolds)

	yog := byProduct["Yoghurt"]
	assert.Equal(t, 2, yog.RowIndex)
	assert.Nil(t, yog.YeastsMolds)
	assert.Equal(t, "2025-07-01", *yog.ExpirationDate)

	assert.Equal(t, 9, byProduct["Kefir"].RowIndex)
	assert.Equal(t, "1", *byProduct["Kefir"].Bacillus)

	creators, err := f.store.TableCreators(ctx)
	require.NoError(t, err)
	assert.Contains(t, creators, store.SheetKey("Line A", "2025-06-02"))

	assert.Equal(t, int64(1), f.tel.CounterValue(t, "micrologger.logbook.sheets_created_total"))
	assert.Equal(t, int64(3), f.tel.CounterValue(t, "micrologger.logbook.rows_inserted_total"))
	assert.Equal(t, int64(3), f.tel.SpanAttr(t, "logbook.create_sheet", "rows.kept").AsInt64())
	assert.Equal(t, 1, f.logs.FilterMessage("log sheet created").Len())
}

func TestCreateSheet_Rejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		edit func(*SheetForm)
		want string
	}{
		{"missing name", func(s *SheetForm) { s.TableName = "  " }, "Table name is required"},
		{"markup only name", func(s *SheetForm) { s.TableName = "<script></script>" }, "Table name is required"},
		{"missing date", func(s *SheetForm) { s.TableDate = "" }, "Table date is required"},
		{"bad date", func(s *SheetForm) { s.TableDate = "2025-02-30" }, "Table date must be a valid date (YYYY-MM-DD)"},
		{"no rows", func(s *SheetForm) { s.Rows = []RowForm{{}, {Entero: "abc"}} }, ErrNoRows.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := sheetForm()
			tt.edit(&form)
			_, err := f.svc.CreateSheet(context.Background(), form)
			require.Error(t, err)
			if verrs, ok := err.(validate.Errors); ok {
				assert.Equal(t, tt.want, verrs.First())
			} else {
				assert.EqualError(t, err, tt.want)
			}
		})
	}

	n, err := f.store.CountRows(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateRows(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx(7)
	_, err := f.svc.CreateSheet(ctx, sheetForm())
	require.NoError(t, err)

	rows, err := f.store.RowsByDate(ctx, "2025-06-02", "")
	require.NoError(t, err)
	first := rows[0]

	edits := []RowEdit{
		{ID: first.ID, RowForm: RowForm{Product: first.Product, Code: first.Code, Entero: "2", YeastsMolds: "12.5", Bacillus: "0"}},
		{ID: rows[1].ID, RowForm: formOf(rows[1])},
		{ID: 0, RowForm: RowForm{Product: "ignored"}},
		{ID: 99999, RowForm: RowForm{Product: "gone"}},
	}
	n, err := f.svc.UpdateRows(ctx, edits)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetRows(ctx, []int64{first.ID})
	require.NoError(t, err)
	assert.Equal(t, "2", *got[first.ID].Entero)
	assert.Equal(t, first.RowIndex, got[first.ID].RowIndex)
	assert.Equal(t, first.TableName, got[first.ID].TableName)

	history, err := f.store.AuditHistory(ctx, audit.TableLogs, first.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, audit.ActionUpdate, history[0].Action)
	assert.JSONEq(t, `{"product":"Feta","enterobacteriacea":"0","yeasts_molds":"12.5","bacillus":"0"}`, string(history[0].Old))
	assert.JSONEq(t, `{"product":"Feta","enterobacteriacea":"2","yeasts_molds":"12.5","bacillus":"0"}`, string(history[0].New))

	assert.Equal(t, int64(1), f.tel.CounterValue(t, "micrologger.logbook.rows_updated_total"))

	n, err = f.svc.UpdateRows(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func formOf(r store.Row) RowForm {
	d := validate.Deref
	return RowForm{
		Product: r.Product, Code: r.Code, ExpirationDate: d(r.ExpirationDate),
		Entero: d(r.Entero), TMC30: d(r.TMC30), YeastsMolds: d(r.YeastsMolds), Bacillus: d(r.Bacillus),
		Eval2nd: r.Eval2nd, Eval3rd: r.Eval3rd, Eval4th: r.Eval4th,
		StressTest: r.StressTest, Comments: r.Comments,
	}
}

func TestSheetRows(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx(0)

	_, err := f.svc.SheetRows(ctx, " ", "")
	require.ErrorIs(t, err, ErrDateRequired)

	_, err = f.svc.CreateSheet(ctx, sheetForm())
	require.NoError(t, err)
	other := sheetForm()
	other.TableName = "Line B"
	_, err = f.svc.CreateSheet(ctx, other)
	require.NoError(t, err)

	sheets, err := f.svc.SheetRows(ctx, "2025-06-02", "")
	require.NoError(t, err)
	require.Len(t, sheets, 2)
	assert.Equal(t, "Line A", sheets[0].TableName)
	assert.Equal(t, []string{"enterobacteriacea", "yeasts_molds"}, sheets[0].Profiles)
	require.Len(t, sheets[0].Entries, 3)

	var yog Entry
	for _, e := range sheets[0].Entries {
		if e.Product == "Yoghurt" {
			yog = e
		}
	}
	assert.True(t, yog.Flags.Entero)

	sheets, err = f.svc.SheetRows(ctx, "2025-06-02", "line b")
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Equal(t, "Line B", sheets[0].TableName)

	sheets, err = f.svc.SheetRows(ctx, "2025-06-03", "")
	require.NoError(t, err)
	assert.Empty(t, sheets)
}

func TestSearchRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateSheet(ctx, sheetForm())
	require.NoError(t, err)

	_, err = f.svc.SearchRows(ctx, store.RowFilter{Product: "   "})
	require.ErrorIs(t, err, ErrNoFilter)

	got, err := f.svc.SearchRows(ctx, store.RowFilter{Product: "yog"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Y-7", got[0].Code)
	assert.True(t, got[0].Flags.Any())

	assert.Equal(t, int64(1), f.tel.CounterValue(t, "micrologger.logbook.searches_total"))
}

func TestSearchTables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SearchTables(ctx, "", "Line")
	require.ErrorIs(t, err, ErrDateRequired)

	_, err = f.svc.CreateSheet(ctx, sheetForm())
	require.NoError(t, err)
	b := sheetForm()
	b.TableName = "Line B"
	b.Rows = b.Rows[:1]
	_, err = f.svc.CreateSheet(ctx, b)
	require.NoError(t, err)

	sheets, err := f.svc.SearchTables(ctx, "2025-06-02", "Line")
	require.NoError(t, err)
	require.Len(t, sheets, 2)
	assert.Equal(t, store.SheetKey("Line A", "2025-06-02"), sheets[0].Key)
	assert.Len(t, sheets[0].Entries, 3)
	assert.Len(t, sheets[1].Entries, 1)

	sheets, err = f.svc.SearchTables(ctx, "2024-01-01", "")
	require.NoError(t, err)
	assert.Empty(t, sheets)
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateSheet(ctx, sheetForm())
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = f.svc.ExportCSV(ctx, &buf, store.RowFilter{})
	require.ErrorIs(t, err, ErrNoFilter)
	assert.Zero(t, buf.Len())

	n, err := f.svc.ExportCSV(ctx, &buf, store.RowFilter{TableDate: "2025-06-02"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, csvHeader, records[0])
	for _, rec := range records[1:] {
		if rec[3] == "Yoghurt" {
			assert.Equal(t, "enterobacteriacea", rec[15])
		}
		if rec[3] == "Feta" {
			assert.Equal(t, "", rec[15])
		}
	}
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	form := sheetForm()
	form.TableDate = now.Format("2006-01-02")
	_, err := f.svc.CreateSheet(ctx, form)
	require.NoError(t, err)

	old := sheetForm()
	old.TableName = "Archive"
	old.TableDate = now.AddDate(0, 0, -60).Format("2006-01-02")
	old.Profiles = nil
	_, err = f.svc.CreateSheet(ctx, old)
	require.NoError(t, err)

	v, err := f.svc.Dashboard(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 6, v.TotalRows)
	assert.Equal(t, 3, v.TodayRows)
	assert.Equal(t, 3, v.WeekRows)
	assert.Equal(t, 3, v.Products)
	assert.Equal(t, 1, v.OutOfSpec.Entero)
	assert.Equal(t, 1, v.OutOfSpec.Bacillus)
	require.Len(t, v.Recent, 2)
	assert.Equal(t, "Line A", v.Recent[0].TableName)

	require.Len(t, v.Calendar.Days, 7)
	assert.Equal(t, 2, v.Calendar.Total())
	tomorrow := now.AddDate(0, 0, 1).Format("2006-01-02")
	require.Len(t, v.Calendar.Events[tomorrow], 1)
	assert.Equal(t, "enterobacteriacea", v.Calendar.Events[tomorrow][0].ProfileKey)
}

func TestCalendar_WindowInPast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateSheet(ctx, sheetForm())
	require.NoError(t, err)

	cal, err := f.svc.Calendar(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Len(t, cal.Events, 7)
	assert.Zero(t, cal.Total())
	assert.Equal(t, int64(0), f.tel.SpanAttr(t, "logbook.calendar", "events").AsInt64())
}

type badTimestampStore struct {
	*store.Store
}

func (b badTimestampStore) CalendarSheets(ctx context.Context) ([]store.CalendarSheet, error) {
	sheets, err := b.Store.CalendarSheets(ctx)
	if err != nil {
		return nil, err
	}
	return append(sheets, store.CalendarSheet{
		TableName:         "Broken",
		TableDate:         "2025-06-02",
		IncubationProfile: "bacillus",
		CreatedAt:         "yesterday-ish",
	}), nil
}

func TestCalendar_SkipsUnreadableCreatedAt(t *testing.T) {
	st, err := store.Open(context.Background(), store.Config{
		Driver: store.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "logbook.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f := newFixtureWith(t, st, badTimestampStore{st})

	ctx := context.Background()
	_, err = f.svc.CreateSheet(ctx, sheetForm())
	require.NoError(t, err)

	cal, err := f.svc.Calendar(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, cal.Total())

	skipped := f.logs.FilterMessage("skipping sheet with unreadable creation time").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "Broken", skipped[0].ContextMap()["table_name"])
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := actorCtx(0)
	_, err := f.svc.CreateSheet(ctx, sheetForm())
	require.NoError(t, err)

	v, err := f.svc.Statistics(ctx, store.StatsFilter{From: "2025-06-01", To: "not-a-date"})
	require.NoError(t, err)
	assert.Equal(t, "", v.Filter.To)
	require.Len(t, v.Summaries, 3)
	assert.Equal(t, "Feta", v.Summaries[0].Product)
	assert.Len(t, v.Entries, 3)

	v, err = f.svc.Statistics(ctx, store.StatsFilter{Product: "kef"})
	require.NoError(t, err)
	require.Len(t, v.Summaries, 1)
	assert.Equal(t, 100.0, v.Summaries[0].PctBacillus)

	v, err = f.svc.Statistics(ctx, store.StatsFilter{From: "2030-01-01"})
	require.NoError(t, err)
	assert.Empty(t, v.Summaries)
	assert.Empty(t, v.Entries)
}
