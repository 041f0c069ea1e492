package logbook

import (
	"github.com/fyrsmithlabs/micrologger/internal/incubation"
	"github.com/fyrsmithlabs/micrologger/internal/stats"
	"github.com/fyrsmithlabs/micrologger/internal/store"
)

// SheetForm is a new log sheet as submitted by the create page.
type SheetForm struct {
	TableName   string
	TableDate   string
	Description string
	Profiles    []string
	Rows        []RowForm
}

// RowForm holds the raw text of one row. RowIndex may be blank.
type RowForm struct {
	RowIndex       string
	Product        string
	Code           string
	ExpirationDate string
	Entero         string
	TMC30          string
	YeastsMolds    string
	Bacillus       string
	Eval2nd        string
	Eval3rd        string
	Eval4th        string
	StressTest     string
	Comments       string
}

// RowEdit is a change to a stored row.
type RowEdit struct {
	ID int64
	RowForm
}

// Entry is a stored row decorated for display.
type Entry struct {
	store.Row
	LastEditor string
	Flags      stats.RowFlags
}

// Sheet is the rows of one log sheet, in display order.
type Sheet struct {
	Key         string
	TableName   string
	TableDate   string
	Description string
	Profiles    []string
	Creator     string
	Entries     []Entry
}

// DashboardView feeds the home page.
type DashboardView struct {
	TotalRows    int
	TodayRows    int
	WeekRows     int
	Products     int
	OutOfSpec    stats.Counts
	Recent       []store.SheetSummary
	Calendar     CalendarView
	GeneratedFor string
}

// CalendarView is the seven day incubation calendar.
type CalendarView struct {
	Days   []incubation.Day                 `json:"days"`
	Events map[string][]incubation.DueEvent `json:"events"`
}

// Total counts events across all days.
func (c CalendarView) Total() int {
	n := 0
	for _, ev := range c.Events {
		n += len(ev)
	}
	return n
}

// StatisticsView feeds the statistics page.
type StatisticsView struct {
	Filter    store.StatsFilter
	Summaries []stats.ProductSummary
	Entries   []Entry
	Activity  []store.UserActivity
}
