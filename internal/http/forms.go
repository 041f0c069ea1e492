package http

import (
	"net/url"
	"strconv"

	"github.com/fyrsmithlabs/micrologger/internal/logbook"
	"github.com/fyrsmithlabs/micrologger/internal/store"
)

// Row inputs repeat once per table row; blank inputs still post an empty
// value so the slices stay aligned.
const (
	fieldRowIndex   = "row_index"
	fieldProduct    = "product"
	fieldCode       = "code"
	fieldExpiration = "expiration_date"
	fieldEntero     = "enterobacteriacea"
	fieldTMC30      = "tmc_30"
	fieldYeasts     = "yeasts_molds"
	fieldBacillus   = "bacillus"
	fieldEval2nd    = "eval_2nd"
	fieldEval3rd    = "eval_3rd"
	fieldEval4th    = "eval_4th"
	fieldStressTest = "stress_test"
	fieldComments   = "comments"
	fieldID         = "id"
)

var rowFields = []string{
	fieldRowIndex, fieldProduct, fieldCode, fieldExpiration, fieldEntero, fieldTMC30,
	fieldYeasts, fieldBacillus, fieldEval2nd, fieldEval3rd, fieldEval4th, fieldStressTest, fieldComments,
}

func at(form url.Values, key string, i int) string {
	vals := form[key]
	if i < len(vals) {
		return vals[i]
	}
	return ""
}

func rowCount(form url.Values, extra ...string) int {
	n := 0
	for _, k := range append(rowFields, extra...) {
		if l := len(form[k]); l > n {
			n = l
		}
	}
	return n
}

func rowForm(form url.Values, i int) logbook.RowForm {
	return logbook.RowForm{
		RowIndex:       at(form, fieldRowIndex, i),
		Product:        at(form, fieldProduct, i),
		Code:           at(form, fieldCode, i),
		ExpirationDate: at(form, fieldExpiration, i),
		Entero:         at(form, fieldEntero, i),
		TMC30:          at(form, fieldTMC30, i),
		YeastsMolds:    at(form, fieldYeasts, i),
		Bacillus:       at(form, fieldBacillus, i),
		Eval2nd:        at(form, fieldEval2nd, i),
		Eval3rd:        at(form, fieldEval3rd, i),
		Eval4th:        at(form, fieldEval4th, i),
		StressTest:     at(form, fieldStressTest, i),
		Comments:       at(form, fieldComments, i),
	}
}

func sheetForm(form url.Values) logbook.SheetForm {
	f := logbook.SheetForm{
		TableName:   form.Get("table_name"),
		TableDate:   form.Get("table_date"),
		Description: form.Get("table_description"),
		Profiles:    form["incubation_profile"],
	}
	n := rowCount(form)
	for i := 0; i < n; i++ {
		f.Rows = append(f.Rows, rowForm(form, i))
	}
	return f
}

func rowEdits(form url.Values) []logbook.RowEdit {
	n := len(form[fieldID])
	edits := make([]logbook.RowEdit, 0, n)
	for i := 0; i < n; i++ {
		id, err := strconv.ParseInt(at(form, fieldID, i), 10, 64)
		if err != nil {
			continue
		}
		edits = append(edits, logbook.RowEdit{ID: id, RowForm: rowForm(form, i)})
	}
	return edits
}

func rowFilter(q url.Values) store.RowFilter {
	return store.RowFilter{
		TableDate:      q.Get("table_date"),
		Product:        q.Get("product"),
		Code:           q.Get("code"),
		ExpirationDate: q.Get("expiration_date"),
	}
}
