// Package stats aggregates stored rows for the dashboard and the statistics
// page. Everything here is pure.
package stats

import (
	"math"
	"sort"

	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/threshold"
)

// Counts are out-of-spec findings per flagged analyte.
type Counts struct {
	Entero      int `json:"entero"`
	YeastsMolds int `json:"yeastsMolds"`
	Bacillus    int `json:"bacillus"`
}

// Total sums the three analytes.
func (c Counts) Total() int { return c.Entero + c.YeastsMolds + c.Bacillus }

// Series summarizes the numeric values of one analyte. Empty when no row
// carried a number.
type Series struct {
	N   int     `json:"n"`
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (s *Series) add(v float64) {
	if s.N == 0 || v < s.Min {
		s.Min = v
	}
	if s.N == 0 || v > s.Max {
		s.Max = v
	}
	// Avg holds the running sum until finish.
	s.Avg += v
	s.N++
}

func (s *Series) finish() {
	if s.N > 0 {
		s.Avg /= float64(s.N)
	}
}

// ProductSummary is one line of the statistics table.
type ProductSummary struct {
	Product     string  `json:"product"`
	Rows        int     `json:"rows"`
	FirstDate   string  `json:"firstDate"`
	LastDate    string  `json:"lastDate"`
	Entero      Series  `json:"entero"`
	YeastsMolds Series  `json:"yeastsMolds"`
	Bacillus    Series  `json:"bacillus"`
	OutOfSpec   Counts  `json:"outOfSpec"`
	PctEntero   float64 `json:"pctEntero"`
	PctYeasts   float64 `json:"pctYeastsMolds"`
	PctBacillus float64 `json:"pctBacillus"`
}

// ProductStats groups rows by product, ordered by product name.
func ProductStats(rows []store.Row) []ProductSummary {
	byProduct := map[string]*ProductSummary{}
	for _, r := range rows {
		g, ok := byProduct[r.Product]
		if !ok {
			g = &ProductSummary{Product: r.Product, FirstDate: r.TableDate, LastDate: r.TableDate}
			byProduct[r.Product] = g
		}
		g.Rows++
		if r.TableDate < g.FirstDate {
			g.FirstDate = r.TableDate
		}
		if r.TableDate > g.LastDate {
			g.LastDate = r.TableDate
		}
		addValue(&g.Entero, r.Entero)
		addValue(&g.YeastsMolds, r.YeastsMolds)
		addValue(&g.Bacillus, r.Bacillus)
		g.OutOfSpec.add(r.Entero, r.YeastsMolds, r.Bacillus)
	}

	out := make([]ProductSummary, 0, len(byProduct))
	for _, g := range byProduct {
		g.Entero.finish()
		g.YeastsMolds.finish()
		g.Bacillus.finish()
		g.PctEntero = Percent(g.OutOfSpec.Entero, g.Rows)
		g.PctYeasts = Percent(g.OutOfSpec.YeastsMolds, g.Rows)
		g.PctBacillus = Percent(g.OutOfSpec.Bacillus, g.Rows)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product < out[j].Product })
	return out
}

func addValue(s *Series, raw *string) {
	if raw == nil {
		return
	}
	if v, ok := threshold.ParseDecimal(*raw); ok {
		s.add(v)
	}
}

func (c *Counts) add(entero, yeasts, bacillus *string) {
	if threshold.IsOutOfSpec(threshold.Entero, entero) {
		c.Entero++
	}
	if threshold.IsOutOfSpec(threshold.YeastsMolds, yeasts) {
		c.YeastsMolds++
	}
	if threshold.IsOutOfSpec(threshold.Bacillus, bacillus) {
		c.Bacillus++
	}
}

// OutOfSpecCounts counts flagged values.
func OutOfSpecCounts(values []store.AnalyteValues) Counts {
	var c Counts
	for _, v := range values {
		c.add(v.Entero, v.YeastsMolds, v.Bacillus)
	}
	return c
}

// Percent is flagged/total as a percentage with one decimal, 0 for no rows.
func Percent(flagged, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(flagged)*1000/float64(total)) / 10
}

// RowFlags marks which cells of a row are out of spec.
type RowFlags struct {
	Entero      bool `json:"entero"`
	YeastsMolds bool `json:"yeastsMolds"`
	Bacillus    bool `json:"bacillus"`
}

// Any reports whether at least one cell is flagged.
func (f RowFlags) Any() bool { return f.Entero || f.YeastsMolds || f.Bacillus }

// Flags classifies the analytes of r.
func Flags(r store.Row) RowFlags {
	return RowFlags{
		Entero:      threshold.IsOutOfSpec(threshold.Entero, r.Entero),
		YeastsMolds: threshold.IsOutOfSpec(threshold.YeastsMolds, r.YeastsMolds),
		Bacillus:    threshold.IsOutOfSpec(threshold.Bacillus, r.Bacillus),
	}
}
