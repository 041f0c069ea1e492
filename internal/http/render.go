package http

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/micrologger/internal/threshold"
)

//go:embed templates/*.html
var templateFS embed.FS

// standalone templates do not use the shared layout.
var standalone = map[string]bool{"print": true}

// views renders one template set per page.
type views struct {
	pages map[string]*template.Template
}

func newViews(loc *time.Location) (*views, error) {
	funcs := templateFuncs(loc)

	base, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, err
	}

	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	v := &views{pages: map[string]*template.Template{}}
	for _, f := range files {
		name := strings.TrimSuffix(path.Base(f), ".html")
		if name == "layout" {
			continue
		}
		var t *template.Template
		if standalone[name] {
			t, err = template.New(path.Base(f)).Funcs(funcs).ParseFS(templateFS, f)
		} else {
			t, err = template.Must(base.Clone()).ParseFS(templateFS, f)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		v.pages[name] = t
	}
	return v, nil
}

// Render implements echo.Renderer.
func (v *views) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	t, ok := v.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	if standalone[name] {
		return t.ExecuteTemplate(w, name, data)
	}
	return t.ExecuteTemplate(w, "layout", data)
}

func templateFuncs(loc *time.Location) template.FuncMap {
	return template.FuncMap{
		"outOfSpec": func(kind string, v *string) bool {
			return threshold.IsOutOfSpec(threshold.AnalyteKind(kind), v)
		},
		"rule": func(kind string) string {
			if r, ok := threshold.RuleFor(threshold.AnalyteKind(kind)); ok {
				return r.String()
			}
			return ""
		},
		"dmy":   dmy,
		"deref": func(p *string) string { return derefOr(p, "") },
		"dash":  func(p *string) string { return derefOr(p, "-") },
		"when": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.In(loc).Format("02/01/2006 15:04")
		},
		"clock": func(t time.Time) string { return t.In(loc).Format("15:04") },
		"pct":   func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
		"num": func(f float64) string {
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
		},
		"contains": func(list []string, s string) bool {
			for _, x := range list {
				if x == s {
					return true
				}
			}
			return false
		},
		"inc": func(i int) int { return i + 1 },
	}
}

// dmy formats a stored YYYY-MM-DD date as DD/MM/YYYY; anything else is
// returned unchanged.
func dmy(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("02/01/2006")
}

func derefOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// page is the data every template receives.
type page struct {
	Title   string
	Active  string
	Session sessionView
	CSRF    string
	Flash   string
	Error   string
	Data    any
}

type sessionView struct {
	Authenticated bool
	Username      string
	FullName      string
	Admin         bool
}

func (s *Server) render(c echo.Context, code int, name string, p page) error {
	sess := session(c)
	p.CSRF = sess.CSRFToken
	p.Session = sessionView{
		Authenticated: sess.Authenticated(),
		Username:      sess.Username,
		FullName:      sess.FullName,
		Admin:         sess.IsAdmin(),
	}
	return c.Render(code, name, p)
}
