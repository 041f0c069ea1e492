package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/incubation"
	"github.com/fyrsmithlabs/micrologger/internal/logbook"
	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/threshold"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
)

func (s *Server) today() string {
	return s.now().Format(validate.DateLayout)
}

// internalError logs err and hides it from the user.
func (s *Server) internalError(c echo.Context, msg string, err error) error {
	s.logger.Error(msg, zap.Error(err), zap.String("path", c.Request().URL.Path))
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

func (s *Server) handleDashboard(c echo.Context) error {
	v, err := s.deps.Logbook.Dashboard(c.Request().Context(), s.now())
	if err != nil {
		return s.internalError(c, "dashboard unavailable", err)
	}
	return s.render(c, http.StatusOK, "dashboard", page{
		Title:  "Dashboard",
		Active: "dashboard",
		Data: dashboardData{
			DashboardView: v,
			Rules:         threshold.Rules(),
		},
	})
}

type dashboardData struct {
	*logbook.DashboardView
	Rules []threshold.Rule
}

type createData struct {
	Form     logbook.SheetForm
	Profiles []incubation.Profile
	Products []store.Product
	Rows     []logbook.RowForm
}

func (s *Server) renderCreate(c echo.Context, code int, form logbook.SheetForm, msg string) error {
	products, err := s.deps.Catalog.Products(c.Request().Context())
	if err != nil {
		s.logger.Warn("product list unavailable", zap.Error(err))
	}
	rows := form.Rows
	for len(rows) < 10 {
		rows = append(rows, logbook.RowForm{})
	}
	return s.render(c, code, "create", page{
		Title:  "New log sheet",
		Active: "create",
		Error:  msg,
		Data: createData{
			Form:     form,
			Profiles: incubation.Catalog(),
			Products: products,
			Rows:     rows,
		},
	})
}

func (s *Server) handleCreatePage(c echo.Context) error {
	return s.renderCreate(c, http.StatusOK, logbook.SheetForm{TableDate: s.today()}, "")
}

func (s *Server) handleCreate(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form")
	}
	sf := sheetForm(form)

	n, err := s.deps.Logbook.CreateSheet(c.Request().Context(), sf)
	if err != nil {
		var verrs validate.Errors
		switch {
		case errors.As(err, &verrs):
			return s.renderCreate(c, http.StatusUnprocessableEntity, sf, verrs.First())
		case errors.Is(err, logbook.ErrNoRows):
			return s.renderCreate(c, http.StatusUnprocessableEntity, sf, "Add at least one row with data.")
		default:
			return s.internalError(c, "could not save log sheet", err)
		}
	}

	q := url.Values{}
	q.Set("date", validate.Deref(validate.SanitizeDate(sf.TableDate)))
	q.Set("created", strconv.Itoa(n))
	return c.Redirect(http.StatusSeeOther, "/documents?"+q.Encode())
}

type documentsData struct {
	Date   string
	Name   string
	Sheets []logbook.Sheet
}

func (s *Server) handleDocuments(c echo.Context) error {
	date := c.QueryParam("date")
	if validate.SanitizeDate(date) == nil {
		date = s.today()
	}
	name := c.QueryParam("name")

	sheets, err := s.deps.Logbook.SheetRows(c.Request().Context(), date, name)
	if err != nil {
		return s.internalError(c, "could not load log sheets", err)
	}

	var flash string
	if n := c.QueryParam("created"); n != "" {
		flash = fmt.Sprintf("Log sheet saved with %s row(s).", n)
	}
	if n := c.QueryParam("updated"); n != "" {
		flash = fmt.Sprintf("%s row(s) updated.", n)
	}
	return s.render(c, http.StatusOK, "documents", page{
		Title:  "Documents",
		Active: "documents",
		Flash:  flash,
		Data:   documentsData{Date: date, Name: name, Sheets: sheets},
	})
}

func (s *Server) handleDocumentsUpdate(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form")
	}
	n, err := s.deps.Logbook.UpdateRows(c.Request().Context(), rowEdits(form))
	if err != nil {
		return s.internalError(c, "could not update rows", err)
	}

	q := url.Values{}
	if d := validate.SanitizeDate(form.Get("date")); d != nil {
		q.Set("date", *d)
	}
	if name := form.Get("name"); name != "" {
		q.Set("name", name)
	}
	q.Set("updated", strconv.Itoa(n))
	return c.Redirect(http.StatusSeeOther, "/documents?"+q.Encode())
}

type dataData struct {
	Mode    string
	Filter  store.RowFilter
	Date    string
	Name    string
	Entries []logbook.Entry
	Sheets  []logbook.Sheet
	Query   string
	Ran     bool
}

// handleData searches rows across sheets (mode=rows) or lists whole sheets
// of one day (mode=tables). Without criteria it shows the empty form.
func (s *Server) handleData(c echo.Context) error {
	ctx := c.Request().Context()
	q := c.QueryParams()
	d := dataData{Mode: q.Get("mode"), Filter: rowFilter(q), Date: q.Get("date"), Name: q.Get("name"), Query: q.Encode()}
	if d.Mode != "tables" {
		d.Mode = "rows"
	}

	var (
		msg string
		err error
	)
	switch d.Mode {
	case "tables":
		if d.Date != "" {
			d.Ran = true
			d.Sheets, err = s.deps.Logbook.SearchTables(ctx, d.Date, d.Name)
		}
	default:
		if !d.Filter.Empty() {
			d.Ran = true
			d.Entries, err = s.deps.Logbook.SearchRows(ctx, d.Filter)
		}
	}
	switch {
	case errors.Is(err, logbook.ErrNoFilter):
		msg, d.Ran = "Enter at least one search criterion.", false
	case errors.Is(err, logbook.ErrDateRequired):
		msg, d.Ran = "Select a date.", false
	case err != nil:
		return s.internalError(c, "search failed", err)
	}

	return s.render(c, http.StatusOK, "data", page{
		Title:  "Data",
		Active: "data",
		Error:  msg,
		Data:   d,
	})
}

type printData struct {
	Date    string
	Name    string
	Sheets  []logbook.Sheet
	Printed string
}

func (s *Server) handlePrint(c echo.Context) error {
	date := c.QueryParam("date")
	name := c.QueryParam("name")
	sheets, err := s.deps.Logbook.SearchTables(c.Request().Context(), date, name)
	if errors.Is(err, logbook.ErrDateRequired) {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	if err != nil {
		return s.internalError(c, "print view failed", err)
	}
	return c.Render(http.StatusOK, "print", printData{
		Date:    date,
		Name:    name,
		Sheets:  sheets,
		Printed: s.now().Format("02/01/2006 15:04"),
	})
}

func (s *Server) handleExport(c echo.Context) error {
	var buf bytes.Buffer
	_, err := s.deps.Logbook.ExportCSV(c.Request().Context(), &buf, rowFilter(c.QueryParams()))
	if errors.Is(err, logbook.ErrNoFilter) {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one search filter is required")
	}
	if err != nil {
		return s.internalError(c, "export failed", err)
	}
	name := fmt.Sprintf("micrologger-%s.csv", s.now().Format("20060102-1504"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) handleStatistics(c echo.Context) error {
	v, err := s.deps.Logbook.Statistics(c.Request().Context(), store.StatsFilter{
		Product: c.QueryParam("product"),
		From:    c.QueryParam("from"),
		To:      c.QueryParam("to"),
	})
	if err != nil {
		return s.internalError(c, "statistics unavailable", err)
	}
	return s.render(c, http.StatusOK, "statistics", page{
		Title:  "Statistics",
		Active: "statistics",
		Data:   v,
	})
}
