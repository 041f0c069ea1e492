package logbook

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/incubation"
	"github.com/fyrsmithlabs/micrologger/internal/stats"
	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
)

// Dashboard assembles the home page for the lab day containing now. Dates
// are taken in now's location.
func (s *Service) Dashboard(ctx context.Context, now time.Time) (*DashboardView, error) {
	ctx, span := s.tracer.Start(ctx, "logbook.dashboard")
	defer span.End()

	today := dateKey(now)
	v := &DashboardView{GeneratedFor: today}

	var err error
	if v.TotalRows, err = s.store.CountRows(ctx); err != nil {
		return nil, fail(span, fmt.Errorf("count rows: %w", err))
	}
	if v.TodayRows, err = s.store.CountRowsOnDate(ctx, today); err != nil {
		return nil, fail(span, fmt.Errorf("count today: %w", err))
	}
	if v.WeekRows, err = s.store.CountRowsSince(ctx, dateKey(now.AddDate(0, 0, -7))); err != nil {
		return nil, fail(span, fmt.Errorf("count week: %w", err))
	}
	if v.Products, err = s.store.CountDistinctProducts(ctx); err != nil {
		return nil, fail(span, fmt.Errorf("count products: %w", err))
	}

	values, err := s.store.AnalyteValuesSince(ctx, dateKey(now.AddDate(0, 0, -30)))
	if err != nil {
		return nil, fail(span, fmt.Errorf("analyte values: %w", err))
	}
	v.OutOfSpec = stats.OutOfSpecCounts(values)

	if v.Recent, err = s.store.RecentSheets(ctx, s.recent); err != nil {
		return nil, fail(span, fmt.Errorf("recent sheets: %w", err))
	}

	cal, err := s.calendar(ctx, now)
	if err != nil {
		return nil, fail(span, err)
	}
	v.Calendar = cal

	span.SetAttributes(
		attribute.Int("rows.total", v.TotalRows),
		attribute.Int("out_of_spec.total", v.OutOfSpec.Total()),
	)
	return v, nil
}

// Calendar projects the readings due in the seven days starting today.
func (s *Service) Calendar(ctx context.Context, now time.Time) (CalendarView, error) {
	ctx, span := s.tracer.Start(ctx, "logbook.calendar")
	defer span.End()

	cal, err := s.calendar(ctx, now)
	if err != nil {
		return CalendarView{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int("events", cal.Total()))
	return cal, nil
}

func (s *Service) calendar(ctx context.Context, now time.Time) (CalendarView, error) {
	stored, err := s.store.CalendarSheets(ctx)
	if err != nil {
		return CalendarView{}, fmt.Errorf("calendar sheets: %w", err)
	}

	loc := now.Location()
	sheets := make([]incubation.LogSheet, 0, len(stored))
	for _, cs := range stored {
		created, err := store.ParseTime(cs.CreatedAt)
		if err != nil {
			s.logger.Warn("skipping sheet with unreadable creation time",
				zap.String("table_name", cs.TableName),
				zap.String("table_date", cs.TableDate),
				zap.String("created_at", cs.CreatedAt))
			continue
		}
		sheets = append(sheets, incubation.LogSheet{
			TableName:   cs.TableName,
			TableDate:   cs.TableDate,
			Description: cs.TableDescription,
			ProfileKeys: incubation.ParseProfileKeys(cs.IncubationProfile),
			CreatedAt:   created.In(loc),
		})
	}

	start := incubation.StartOfDay(now)
	cal := CalendarView{
		Days:   incubation.Days(start),
		Events: incubation.ProjectDueEvents(sheets, start),
	}
	if s.calendarEvents != nil {
		s.calendarEvents.Record(ctx, int64(cal.Total()))
	}
	return cal, nil
}

// Statistics summarizes rows per product for the filter, lists the rows
// with their flags and reports what each user has done.
func (s *Service) Statistics(ctx context.Context, f store.StatsFilter) (*StatisticsView, error) {
	ctx, span := s.tracer.Start(ctx, "logbook.statistics")
	defer span.End()

	f = store.StatsFilter{
		Product: validate.SanitizeString(f.Product, validate.MaxProduct),
		From:    validate.Deref(validate.SanitizeDate(f.From)),
		To:      validate.Deref(validate.SanitizeDate(f.To)),
	}
	span.SetAttributes(
		attribute.String("filter.product", f.Product),
		attribute.String("filter.from", f.From),
		attribute.String("filter.to", f.To),
	)

	rows, err := s.store.RowsForStatistics(ctx, f)
	if err != nil {
		return nil, fail(span, fmt.Errorf("statistics rows: %w", err))
	}
	activity, err := s.store.UserActivity(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("user activity: %w", err))
	}

	v := &StatisticsView{
		Filter:    f,
		Summaries: stats.ProductStats(rows),
		Entries:   make([]Entry, len(rows)),
		Activity:  activity,
	}
	for i, r := range rows {
		v.Entries[i] = Entry{Row: r, Flags: stats.Flags(r)}
	}
	return v, nil
}
