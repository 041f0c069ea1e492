package incubation

import (
	"sort"
	"time"
)

// WindowDays is the number of calendar days covered by a projection.
const WindowDays = 7

// DayKeyLayout formats the calendar bucket of a due event.
const DayKeyLayout = "2006-01-02"

// LogSheet is the part of a stored log sheet the projector needs.
// A zero CreatedAt marks a sheet whose creation time could not be read.
type LogSheet struct {
	TableName   string    `json:"table_name"`
	TableDate   string    `json:"table_date"`
	Description string    `json:"description"`
	ProfileKeys []string  `json:"incubation_profile"`
	CreatedAt   time.Time `json:"created_at"`
}

// DueEvent is a reading that falls due inside the window.
type DueEvent struct {
	TableName    string    `json:"table_name"`
	TableDate    string    `json:"table_date"`
	Description  string    `json:"description"`
	ProfileKey   string    `json:"profile_key"`
	ProfileLabel string    `json:"profile_label"`
	DueAt        time.Time `json:"due_at"`
}

// Day is one column of the calendar.
type Day struct {
	Key   string    `json:"key"`
	Label string    `json:"label"`
	Date  time.Time `json:"date"`
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Window returns the inclusive bounds of the projection window that starts
// at windowStart: the last bound is 23:59:59 of the seventh day.
func Window(windowStart time.Time) (start, end time.Time) {
	y, m, d := windowStart.Date()
	end = time.Date(y, m, d+WindowDays-1, 23, 59, 59, 0, windowStart.Location())
	return windowStart, end
}

// Days enumerates the calendar days of the window starting at windowStart.
func Days(windowStart time.Time) []Day {
	y, m, d := windowStart.Date()
	loc := windowStart.Location()
	days := make([]Day, 0, WindowDays)
	for i := 0; i < WindowDays; i++ {
		date := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		days = append(days, Day{
			Key:   date.Format(DayKeyLayout),
			Label: date.Format("Mon 02/01"),
			Date:  date,
		})
	}
	return days
}

// ProjectDueEvents computes every reading that falls due between windowStart
// and the end of the sixth following day, keyed by due day.
//
// All seven day keys are present in the result; days without events map to
// an empty slice. Events within a day are ordered by due time, ties keeping
// input order. Sheets without profiles or without a creation time, and
// unknown profile keys, contribute nothing.
func ProjectDueEvents(sheets []LogSheet, windowStart time.Time) map[string][]DueEvent {
	start, end := Window(windowStart)
	loc := windowStart.Location()

	out := make(map[string][]DueEvent, WindowDays)
	for _, day := range Days(windowStart) {
		out[day.Key] = []DueEvent{}
	}

	for _, c := range candidates(sheets, start, end) {
		if c.skip != skipNone {
			continue
		}
		key := c.event.DueAt.In(loc).Format(DayKeyLayout)
		out[key] = append(out[key], c.event)
	}

	for key := range out {
		events := out[key]
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].DueAt.Before(events[j].DueAt)
		})
	}
	return out
}

// skipReason explains why a (sheet, profile) pair produced no event.
type skipReason int

const (
	skipNone skipReason = iota
	skipNoProfiles
	skipNoCreatedAt
	skipUnknownProfile
	skipOutsideWindow
)

type candidate struct {
	event DueEvent
	skip  skipReason
}

// candidates expands sheets into one result per (sheet, profile key) pair,
// or one skipped result for a sheet that cannot be projected at all.
func candidates(sheets []LogSheet, start, end time.Time) []candidate {
	var out []candidate
	for _, sheet := range sheets {
		if len(sheet.ProfileKeys) == 0 {
			out = append(out, candidate{skip: skipNoProfiles})
			continue
		}
		if sheet.CreatedAt.IsZero() {
			out = append(out, candidate{skip: skipNoCreatedAt})
			continue
		}
		for _, key := range sheet.ProfileKeys {
			profile, ok := Lookup(key)
			if !ok {
				out = append(out, candidate{skip: skipUnknownProfile})
				continue
			}
			dueAt := sheet.CreatedAt.Add(time.Duration(profile.HoursUntilDue) * time.Hour)
			ev := DueEvent{
				TableName:    sheet.TableName,
				TableDate:    sheet.TableDate,
				Description:  sheet.Description,
				ProfileKey:   profile.Key,
				ProfileLabel: profile.Label,
				DueAt:        dueAt,
			}
			if dueAt.Before(start) || dueAt.After(end) {
				out = append(out, candidate{event: ev, skip: skipOutsideWindow})
				continue
			}
			out = append(out, candidate{event: ev})
		}
	}
	return out
}
