package stats

import (
	"testing"

	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func row(product, date string, entero, yeasts, bacillus *string) store.Row {
	return store.Row{
		Header:      store.Header{TableDate: date},
		Product:     product,
		Entero:      entero,
		YeastsMolds: yeasts,
		Bacillus:    bacillus,
	}
}

func TestProductStats(t *testing.T) {
	rows := []store.Row{
		row("Yoghurt", "2025-06-03", strp("0"), strp("10"), nil),
		row("Feta", "2025-06-02", strp("2"), strp("50"), strp("0")),
		row("Feta", "2025-05-30", strp("0"), strp("<10"), strp("1")),
		row("Feta", "2025-06-04", nil, strp("41"), strp("abc")),
	}

	got := ProductStats(rows)
	require.Len(t, got, 2)

	feta := got[0]
	assert.Equal(t, "Feta", feta.Product)
	assert.Equal(t, 3, feta.Rows)
	assert.Equal(t, "2025-05-30", feta.FirstDate)
	assert.Equal(t, "2025-06-04", feta.LastDate)
	assert.Equal(t, Series{N: 2, Avg: 1, Min: 0, Max: 2}, feta.Entero)
	assert.Equal(t, Series{N: 2, Avg: 45.5, Min: 41, Max: 50}, feta.YeastsMolds)
	assert.Equal(t, Counts{Entero: 1, YeastsMolds: 2, Bacillus: 1}, feta.OutOfSpec)
	assert.Equal(t, 33.3, feta.PctEntero)
	assert.Equal(t, 66.7, feta.PctYeasts)
	assert.Equal(t, 33.3, feta.PctBacillus)

	yog := got[1]
	assert.Equal(t, Series{}, yog.Bacillus)
	assert.Equal(t, 0.0, yog.PctYeasts)
}

func TestProductStats_Empty(t *testing.T) {
	assert.Empty(t, ProductStats(nil))
}

func TestOutOfSpecCounts(t *testing.T) {
	c := OutOfSpecCounts([]store.AnalyteValues{
		{Entero: strp("1"), YeastsMolds: strp("40"), Bacillus: strp("0,5")},
		{Entero: strp("0.99"), YeastsMolds: strp("40,1"), Bacillus: strp("1,0")},
		{},
	})
	assert.Equal(t, Counts{Entero: 1, YeastsMolds: 1, Bacillus: 1}, c)
	assert.Equal(t, 3, c.Total())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(0, 0))
	assert.Equal(t, 0.0, Percent(3, 0))
	assert.Equal(t, 100.0, Percent(4, 4))
	assert.Equal(t, 12.5, Percent(1, 8))
	assert.Equal(t, 14.3, Percent(1, 7))
}

func TestFlags(t *testing.T) {
	f := Flags(row("x", "", strp("1"), strp("40"), nil))
	assert.Equal(t, RowFlags{Entero: true}, f)
	assert.True(t, f.Any())
	assert.False(t, Flags(store.Row{}).Any())
}
