// Package logbook is the application layer of micrologger: it turns submitted
// forms into stored log sheets and assembles the dashboard, calendar,
// search and statistics views.
package logbook

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/audit"
	"github.com/fyrsmithlabs/micrologger/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/micrologger/internal/logbook"

var (
	// ErrNoRows is returned when a submitted sheet has no non-empty row.
	ErrNoRows = errors.New("at least one row with data is required")
	// ErrNoFilter is returned by a row search without any criteria.
	ErrNoFilter = errors.New("at least one search filter is required")
	// ErrDateRequired is returned by date-scoped lookups called without a date.
	ErrDateRequired = errors.New("date is required")
)

// Store is the persistence the service needs.
type Store interface {
	InsertSheet(ctx context.Context, h store.Header, rows []store.Row) (int, error)
	UpdateRow(ctx context.Context, r store.Row) error
	GetRows(ctx context.Context, ids []int64) (map[int64]store.Row, error)
	RowsByDate(ctx context.Context, date, nameLike string) ([]store.Row, error)
	SearchRows(ctx context.Context, f store.RowFilter) ([]store.Row, error)
	SearchTables(ctx context.Context, date, nameLike string) ([]store.Row, error)
	RowsForStatistics(ctx context.Context, f store.StatsFilter) ([]store.Row, error)
	RecentSheets(ctx context.Context, n int) ([]store.SheetSummary, error)
	CalendarSheets(ctx context.Context) ([]store.CalendarSheet, error)
	CountRows(ctx context.Context) (int, error)
	CountRowsOnDate(ctx context.Context, date string) (int, error)
	CountRowsSince(ctx context.Context, date string) (int, error)
	CountDistinctProducts(ctx context.Context) (int, error)
	AnalyteValuesSince(ctx context.Context, date string) ([]store.AnalyteValues, error)
	LastEditors(ctx context.Context, ids []int64) (map[int64]string, error)
	TableCreators(ctx context.Context) (map[string]string, error)
	UserActivity(ctx context.Context) ([]store.UserActivity, error)
}

// Config configures the service. Tracer and Meter default to the global
// OpenTelemetry providers.
type Config struct {
	RecentSheets int
	Tracer       trace.Tracer
	Meter        metric.Meter
}

// Service implements the log sheet workflows.
type Service struct {
	store  Store
	audit  *audit.Recorder
	logger *zap.Logger
	recent int

	tracer         trace.Tracer
	meter          metric.Meter
	sheetsCreated  metric.Int64Counter
	rowsInserted   metric.Int64Counter
	rowsUpdated    metric.Int64Counter
	searches       metric.Int64Counter
	calendarEvents metric.Int64Histogram
}

// NewService wires the service.
func NewService(cfg Config, st Store, rec *audit.Recorder, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if rec == nil {
		return nil, errors.New("audit recorder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecentSheets <= 0 {
		cfg.RecentSheets = 5
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(instrumentationName)
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter(instrumentationName)
	}

	s := &Service{
		store:  st,
		audit:  rec,
		logger: logger,
		recent: cfg.RecentSheets,
		tracer: cfg.Tracer,
		meter:  cfg.Meter,
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.sheetsCreated, err = s.meter.Int64Counter(
		"micrologger.logbook.sheets_created_total",
		metric.WithDescription("Log sheets created"),
		metric.WithUnit("{sheet}"),
	)
	if err != nil {
		s.logger.Warn("failed to create sheets counter", zap.Error(err))
	}

	s.rowsInserted, err = s.meter.Int64Counter(
		"micrologger.logbook.rows_inserted_total",
		metric.WithDescription("Rows inserted with new log sheets"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		s.logger.Warn("failed to create inserted counter", zap.Error(err))
	}

	s.rowsUpdated, err = s.meter.Int64Counter(
		"micrologger.logbook.rows_updated_total",
		metric.WithDescription("Rows changed through the documents page"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		s.logger.Warn("failed to create updated counter", zap.Error(err))
	}

	s.searches, err = s.meter.Int64Counter(
		"micrologger.logbook.searches_total",
		metric.WithDescription("Row and table searches"),
		metric.WithUnit("{search}"),
	)
	if err != nil {
		s.logger.Warn("failed to create search counter", zap.Error(err))
	}

	s.calendarEvents, err = s.meter.Int64Histogram(
		"micrologger.logbook.calendar_events",
		metric.WithDescription("Due readings per projected calendar"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		s.logger.Warn("failed to create calendar histogram", zap.Error(err))
	}
}

func (s *Service) add(ctx context.Context, c metric.Int64Counter, n int64, opts ...metric.AddOption) {
	if c != nil {
		c.Add(ctx, n, opts...)
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// dateKey formats t as a table date.
func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
