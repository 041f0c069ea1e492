package http

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/micrologger/internal/audit"
	"github.com/fyrsmithlabs/micrologger/internal/auth"
	"github.com/fyrsmithlabs/micrologger/internal/catalog"
	"github.com/fyrsmithlabs/micrologger/internal/incubation"
	"github.com/fyrsmithlabs/micrologger/internal/logbook"
	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
)

const (
	adminPass   = "admin-pass-1"
	analystPass = "analyst-pass-1"
	sheetDate   = "2025-06-02"
)

type harness struct {
	srv      *Server
	ts       *httptest.Server
	deps     Deps
	store    *store.Store
	sessions *auth.Sessions
	logs     *observer.ObservedLogs
	analyst  int64
}

func newHarness(t *testing.T, tune ...func(*Config)) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.Config{
		Driver: store.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "micrologger.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	rec := audit.NewRecorder(st, logger)

	authSvc, err := auth.NewService(st, auth.NewLockout(3, 15*time.Minute), rec, logger)
	require.NoError(t, err)
	created, err := authSvc.EnsureAdmin(ctx, "admin", adminPass)
	require.NoError(t, err)
	require.True(t, created)
	analyst, err := authSvc.CreateUser(ctx, validate.NewUser{
		FullName: "Maria Analyst", Username: "analyst", Password: analystPass, Role: auth.RoleUser,
	})
	require.NoError(t, err)

	lb, err := logbook.NewService(logbook.Config{}, st, rec, logger)
	require.NoError(t, err)
	syncer, err := catalog.NewSyncer(catalog.Config{}, st, logger)
	require.NoError(t, err)

	deps := Deps{
		Logbook:  lb,
		Auth:     authSvc,
		Sessions: auth.NewSessions(time.Hour, logger),
		Catalog:  syncer,
		DB:       st,
	}
	cfg := &Config{LoginRate: 100, LoginBurst: 100, Location: time.UTC, Version: "test"}
	for _, fn := range tune {
		fn(cfg)
	}
	srv, err := NewServer(deps, logger, cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{
		srv:      srv,
		ts:       ts,
		deps:     deps,
		store:    st,
		sessions: deps.Sessions,
		logs:     logs,
		analyst:  analyst,
	}
}

// client is a browser stand-in: it keeps cookies, does not follow
// redirects, and remembers the last CSRF token it was handed.
type client struct {
	t    *testing.T
	base string
	http *http.Client
	csrf string
}

func (h *harness) client(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{
		t:    t,
		base: h.ts.URL,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type response struct {
	*http.Response
	body string
}

func (c *client) do(req *http.Request) response {
	c.t.Helper()
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if tok := resp.Header.Get(auth.CSRFHeader); tok != "" {
		c.csrf = tok
	}
	return response{Response: resp, body: string(b)}
}

func (c *client) get(path string) response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	require.NoError(c.t, err)
	return c.do(req)
}

// post submits form with the current CSRF token unless form already carries
// one.
func (c *client) post(path string, form url.Values) response {
	c.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	if _, ok := form[auth.CSRFField]; !ok && c.csrf != "" {
		form.Set(auth.CSRFField, c.csrf)
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *client) postJSON(path string, body any) response {
	c.t.Helper()
	b, err := json.Marshal(body)
	require.NoError(c.t, err)
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(b))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.csrf != "" {
		req.Header.Set(auth.CSRFHeader, c.csrf)
	}
	return c.do(req)
}

func (c *client) login(username, password string) response {
	c.t.Helper()
	c.get("/login")
	return c.post("/login", url.Values{"username": {username}, "password": {password}})
}

func (h *harness) signedIn(t *testing.T, username, password string) *client {
	t.Helper()
	c := h.client(t)
	resp := c.login(username, password)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode, resp.body)
	require.Equal(t, "/", resp.Header.Get("Location"))
	c.get("/")
	return c
}

func sheetValues(date string, profiles ...string) url.Values {
	v := url.Values{
		"table_name":         {"Line A"},
		"table_date":         {date},
		"table_description":  {"morning run"},
		"incubation_profile": profiles,
	}
	rows := [][]string{
		// row_index, product, code, expiration_date, entero, tmc_30, yeasts_molds, bacillus
		{"", "Feta", "F-1", "", "0", "120", "12,5", "0"},
		{"", "", "", "", "", "", "", ""},
		{"", "Yoghurt", "Y-7", "2025-07-01", "3", "", "<10", ""},
	}
	for _, r := range rows {
		for i, k := range []string{fieldRowIndex, fieldProduct, fieldCode, fieldExpiration, fieldEntero, fieldTMC30, fieldYeasts, fieldBacillus} {
			v.Add(k, r[i])
		}
		for _, k := range []string{fieldEval2nd, fieldEval3rd, fieldEval4th, fieldStressTest, fieldComments} {
			v.Add(k, "")
		}
	}
	return v
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestNewServer_Requires(t *testing.T) {
	h := newHarness(t)

	_, err := NewServer(h.deps, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")

	cases := map[string]func(*Deps){
		"logbook service is required": func(d *Deps) { d.Logbook = nil },
		"auth service is required":    func(d *Deps) { d.Auth = nil },
		"session store is required":   func(d *Deps) { d.Sessions = nil },
		"catalog syncer is required":  func(d *Deps) { d.Catalog = nil },
		"database pinger is required": func(d *Deps) { d.DB = nil },
	}
	for want, drop := range cases {
		t.Run(want, func(t *testing.T) {
			d := h.deps
			drop(&d)
			_, err := NewServer(d, zap.NewNop(), nil)
			require.EqualError(t, err, want)
		})
	}
}

func TestNewServer_Defaults(t *testing.T) {
	h := newHarness(t)
	srv, err := NewServer(h.deps, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, "localhost", srv.config.Host)
	assert.Equal(t, 8080, srv.config.Port)
	assert.Equal(t, auth.DefaultCookieName, srv.config.CookieName)
	assert.Equal(t, 10*time.Second, srv.config.ShutdownTimeout)
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newHarness(t)
		resp := h.client(t).get("/health")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body HealthResponse
		require.NoError(t, json.Unmarshal([]byte(resp.body), &body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "ok", body.Database)
		assert.Equal(t, "test", body.Version)
		assert.Nil(t, body.Telemetry)
		assert.Empty(t, resp.Cookies(), "probes must not get a session")
	})

	t.Run("database down", func(t *testing.T) {
		h := newHarness(t)
		d := h.deps
		d.DB = failingPinger{}
		srv, err := NewServer(d, zap.NewNop(), &Config{})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unavailable", body.Status)
		assert.Equal(t, "unreachable", body.Database)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	resp := h.client(t).get("/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.body, "micrologger_catalog_products")
	assert.Empty(t, resp.Cookies())
}

func TestRequireAuth(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)

	for _, path := range []string{"/", "/create", "/documents", "/data", "/statistics", "/users"} {
		resp := c.get(path)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, path)
		assert.Equal(t, "/login", resp.Header.Get("Location"), path)
	}

	resp := c.get("/api/v1/calendar")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, c.csrf, "every session response carries its CSRF token")
}

func TestAnonymousAPICallsDoNotCreateSessions(t *testing.T) {
	h := newHarness(t)
	before := h.sessions.Len()

	for i := 0; i < 5; i++ {
		c := h.client(t)
		resp := c.get("/api/v1/calendar")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, resp.Cookies())
		assert.Empty(t, resp.Header.Get(auth.CSRFHeader))

		resp = c.postJSON("/api/v1/classify", ClassifyRequest{Kind: "entero", Values: []string{"1"}})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
	assert.Equal(t, before, h.sessions.Len())

	// Pages still hand out a session so the login form carries a token.
	c := h.client(t)
	c.get("/login")
	assert.Equal(t, before+1, h.sessions.Len())
	assert.NotEmpty(t, c.csrf)
}

func TestCSRF(t *testing.T) {
	h := newHarness(t)

	t.Run("login without token", func(t *testing.T) {
		c := h.client(t)
		c.get("/login")
		resp := c.post("/login", url.Values{
			auth.CSRFField: {"forged"},
			"username":     {"admin"},
			"password":     {adminPass},
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("form and api without token", func(t *testing.T) {
		c := h.signedIn(t, "analyst", analystPass)
		good := c.csrf

		c.csrf = ""
		resp := c.post("/create", sheetValues(sheetDate))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		c.csrf = ""
		resp = c.postJSON("/api/v1/classify", ClassifyRequest{Kind: "entero", Values: []string{"1"}})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		c.csrf = good
		resp = c.postJSON("/api/v1/classify", ClassifyRequest{Kind: "entero", Values: []string{"1"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	found := false
	for _, e := range h.logs.FilterMessage("csrf token rejected").All() {
		if e.ContextMap()["path"] == "/login" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLogin(t *testing.T) {
	t.Run("success rotates the session", func(t *testing.T) {
		h := newHarness(t)
		c := h.client(t)
		c.get("/login")
		anonToken := c.csrf

		resp := c.post("/login", url.Values{"username": {"analyst"}, "password": {analystPass}})
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)

		resp = c.get("/")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.body, "Maria Analyst")
		assert.NotEqual(t, anonToken, c.csrf)

		resp = c.get("/login")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "signed-in users skip the login form")
	})

	t.Run("wrong password then lockout", func(t *testing.T) {
		h := newHarness(t)
		c := h.client(t)

		resp := c.login("analyst", "nope-nope")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, resp.body, "Invalid username or password. 2 attempt(s) remaining.")
		assert.Contains(t, resp.body, `value="analyst"`)

		resp = c.post("/login", url.Values{"username": {"analyst"}, "password": {"nope-nope"}})
		assert.Contains(t, resp.body, "1 attempt(s) remaining.")

		resp = c.post("/login", url.Values{"username": {"analyst"}, "password": {"nope-nope"}})
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Contains(t, resp.body, "Too many failed attempts. Try again in 15 minute(s).")

		resp = c.post("/login", url.Values{"username": {"analyst"}, "password": {analystPass}})
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "correct password is refused while locked")

		other := h.client(t)
		resp = other.login("admin", adminPass)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "other accounts are not locked")
	})

	t.Run("unknown user", func(t *testing.T) {
		h := newHarness(t)
		resp := h.client(t).login("ghost", "whatever1")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, resp.body, "Invalid username or password.")
	})

	t.Run("missing fields", func(t *testing.T) {
		h := newHarness(t)
		resp := h.client(t).login("analyst", "")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("disabled account", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.SetUserActive(context.Background(), h.analyst, false))
		resp := h.client(t).login("analyst", analystPass)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Contains(t, resp.body, "This account has been disabled.")
	})

	t.Run("rate limited", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.LoginRate, c.LoginBurst = 0.001, 1 })
		c := h.client(t)
		c.login("analyst", "nope-nope")
		resp := c.post("/login", url.Values{"username": {"analyst"}, "password": {analystPass}})
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Contains(t, resp.body, "Too many login attempts.")
	})
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	c := h.signedIn(t, "analyst", analystPass)
	before := h.sessions.Len()

	resp := c.get("/logout")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	assert.Equal(t, before-1, h.sessions.Len())

	resp = c.get("/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestCreateSheetAndDocuments(t *testing.T) {
	h := newHarness(t)
	c := h.signedIn(t, "analyst", analystPass)

	resp := c.get("/create")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, p := range incubation.Catalog() {
		assert.Contains(t, resp.body, `value="`+p.Key+`"`)
	}
	assert.Equal(t, 10, strings.Count(resp.body, `name="product"`), "blank form offers ten rows")

	resp = c.post("/create", sheetValues(sheetDate, "enterobacteriacea"))
	require.Equal(t, http.StatusSeeOther, resp.StatusCode, resp.body)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/documents", loc.Path)
	assert.Equal(t, "2", loc.Query().Get("created"))
	assert.Equal(t, sheetDate, loc.Query().Get("date"))

	resp = c.get(loc.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.body, "Log sheet saved with 2 row(s).")
	assert.Contains(t, resp.body, "Feta")
	assert.Contains(t, resp.body, "Yoghurt")
	assert.Contains(t, resp.body, "created by analyst")
	assert.Equal(t, 1, strings.Count(resp.body, `class="oos"`), "only Yoghurt's enterobacteriacea is out of spec")

	rows, err := h.store.RowsByDate(context.Background(), sheetDate, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].RowIndex)
	assert.Equal(t, 2, rows[1].RowIndex, "blank indexes count kept rows")
	require.NotNil(t, rows[0].YeastsMolds)
	assert.Equal(t, "12.5", *rows[0].YeastsMolds)

	t.Run("no rows", func(t *testing.T) {
		v := sheetValues(sheetDate)
		for _, k := range rowFields {
			v.Del(k)
		}
		resp := c.post("/create", v)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, resp.body, "Add at least one row with data.")
	})

	t.Run("missing name", func(t *testing.T) {
		v := sheetValues(sheetDate)
		v.Set("table_name", "  ")
		resp := c.post("/create", v)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, resp.body, "morning run", "form is re-rendered with the submitted values")
	})

	t.Run("empty day", func(t *testing.T) {
		resp := c.get("/documents?date=2025-01-01")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.body, "No log sheets for 01/01/2025.")
	})
}

func TestDocumentsUpdate(t *testing.T) {
	h := newHarness(t)
	c := h.signedIn(t, "analyst", analystPass)
	require.Equal(t, http.StatusSeeOther, c.post("/create", sheetValues(sheetDate)).StatusCode)

	rows, err := h.store.RowsByDate(context.Background(), sheetDate, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	form := url.Values{"date": {sheetDate}}
	for _, r := range rows {
		entero := validate.Deref(r.Entero)
		if r.Product == "Yoghurt" {
			entero = "0"
		}
		form.Add(fieldID, strconv.FormatInt(r.ID, 10))
		form.Add(fieldRowIndex, strconv.Itoa(r.RowIndex))
		form.Add(fieldProduct, r.Product)
		form.Add(fieldCode, r.Code)
		form.Add(fieldExpiration, validate.Deref(r.ExpirationDate))
		form.Add(fieldEntero, entero)
		form.Add(fieldTMC30, validate.Deref(r.TMC30))
		form.Add(fieldYeasts, validate.Deref(r.YeastsMolds))
		form.Add(fieldBacillus, validate.Deref(r.Bacillus))
		for _, k := range []string{fieldEval2nd, fieldEval3rd, fieldEval4th, fieldStressTest, fieldComments} {
			form.Add(k, "")
		}
	}

	resp := c.post("/documents", form)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode, resp.body)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "1", loc.Query().Get("updated"))

	resp = c.get(loc.String())
	assert.Contains(t, resp.body, "1 row(s) updated.")
	assert.NotContains(t, resp.body, `class="oos"`)
	assert.Contains(t, resp.body, "<td>analyst</td>", "last editor is shown")
}

func TestDataPages(t *testing.T) {
	h := newHarness(t)
	c := h.signedIn(t, "analyst", analystPass)
	require.Equal(t, http.StatusSeeOther, c.post("/create", sheetValues(sheetDate)).StatusCode)

	t.Run("empty form", func(t *testing.T) {
		resp := c.get("/data")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotContains(t, resp.body, "Export CSV")
	})

	t.Run("row search", func(t *testing.T) {
		resp := c.get("/data?mode=rows&product=fet")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.body, "1 row(s)")
		assert.Contains(t, resp.body, "Feta")
		assert.NotContains(t, resp.body, "Yoghurt")
	})

	t.Run("sheets by date", func(t *testing.T) {
		resp := c.get("/data?mode=tables&date=" + sheetDate)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.body, "Line A")
		assert.Contains(t, resp.body, "Yoghurt")
	})

	t.Run("print", func(t *testing.T) {
		resp := c.get("/data/print?date=" + sheetDate)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.body, "Microbiology log sheets, 02/06/2025")
		assert.NotContains(t, resp.body, "<nav>", "print view has no layout")
		assert.Equal(t, 1, strings.Count(resp.body, `class="oos"`))
	})

	t.Run("export", func(t *testing.T) {
		resp := c.get("/data/export.csv")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = c.get("/data/export.csv?table_date=" + sheetDate)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "micrologger-")

		records, err := csv.NewReader(strings.NewReader(resp.body)).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "table_name", records[0][0])
		assert.Equal(t, "out_of_spec", records[0][len(records[0])-1])
	})

	t.Run("statistics", func(t *testing.T) {
		resp := c.get("/statistics?product=Yoghurt")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.body, "Yoghurt")
		assert.Contains(t, resp.body, "100.0%")
		assert.NotContains(t, resp.body, "<td>Feta</td>")
	})

	t.Run("dashboard", func(t *testing.T) {
		resp := c.get("/")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.body, "Line A")
		assert.Contains(t, resp.body, "rows recorded")
	})
}

func TestClassifyAPI(t *testing.T) {
	h := newHarness(t)
	c := h.signedIn(t, "analyst", analystPass)

	resp := c.postJSON("/api/v1/classify", ClassifyRequest{
		Kind:   "yeastsMolds",
		Values: []string{"40", "40,5", "<10", ""},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.body)

	var body ClassifyResponse
	require.NoError(t, json.Unmarshal([]byte(resp.body), &body))
	assert.Equal(t, "yeastsMolds", body.Kind)
	assert.Equal(t, "> 40", body.Rule)
	require.Len(t, body.Results, 4)
	assert.False(t, body.Results[0].OutOfSpec)
	assert.True(t, body.Results[1].OutOfSpec)
	require.NotNil(t, body.Results[1].Parsed)
	assert.InDelta(t, 40.5, *body.Results[1].Parsed, 1e-9)
	assert.False(t, body.Results[2].Numeric)
	assert.False(t, body.Results[3].OutOfSpec)

	resp = c.postJSON("/api/v1/classify", ClassifyRequest{Kind: "tmc30", Values: []string{"100000"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tmc ClassifyResponse
	require.NoError(t, json.Unmarshal([]byte(resp.body), &tmc))
	assert.Equal(t, "tmc30", tmc.Kind)
	assert.Empty(t, tmc.Rule)
	require.Len(t, tmc.Results, 1)
	assert.False(t, tmc.Results[0].OutOfSpec, "tmc30 is never flagged")

	resp = c.postJSON("/api/v1/classify", ClassifyRequest{Kind: "listeria", Values: []string{"1"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCalendarAPI(t *testing.T) {
	h := newHarness(t)
	c := h.signedIn(t, "analyst", analystPass)

	today := time.Now().UTC().Format(incubation.DayKeyLayout)
	require.Equal(t, http.StatusSeeOther, c.post("/create", sheetValues(today, "enterobacteriacea")).StatusCode)

	resp := c.get("/api/v1/calendar")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cal logbook.CalendarView
	require.NoError(t, json.Unmarshal([]byte(resp.body), &cal))
	require.Len(t, cal.Days, incubation.WindowDays)
	assert.Equal(t, today, cal.Days[0].Key)
	require.Equal(t, 1, cal.Total())

	for _, events := range cal.Events {
		for _, ev := range events {
			assert.Equal(t, "Line A", ev.TableName)
			assert.Equal(t, "enterobacteriacea", ev.ProfileKey)
		}
	}
}

func TestUsersAdmin(t *testing.T) {
	h := newHarness(t)
	analyst := h.signedIn(t, "analyst", analystPass)
	admin := h.signedIn(t, "admin", adminPass)

	resp := analyst.get("/users")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = admin.get("/users")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.body, "Maria Analyst")

	newUser := url.Values{"fullname": {"Nikos Tech"}, "username": {"nikos"}, "password": {"nikos-pass-1"}, "role": {"user"}}
	resp = admin.post("/users", newUser)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode, resp.body)
	assert.Equal(t, "/users?created=1", resp.Header.Get("Location"))
	assert.Contains(t, admin.get("/users?created=1").body, "User created.")

	resp = admin.post("/users", newUser)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, resp.body, "Username already exists.")

	resp = admin.post("/users", url.Values{"username": {"shorty"}, "password": {"short"}, "role": {"user"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	adminUser, err := h.store.UserByName(context.Background(), "admin")
	require.NoError(t, err)
	resp = admin.post("/users/"+strconv.FormatInt(adminUser.ID, 10)+"/active", url.Values{"active": {"0"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, resp.body, "You cannot disable your own account.")

	resp = admin.post("/users/9999/active", url.Values{"active": {"0"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = admin.post("/users/"+strconv.FormatInt(h.analyst, 10)+"/active", url.Values{"active": {"0"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = analyst.get("/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "disabling signs the user out")
	u, err := h.store.UserByID(context.Background(), h.analyst)
	require.NoError(t, err)
	assert.False(t, u.Active)
}

func TestProductsAPI(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.UpsertProducts(context.Background(), []store.Product{
		{Code: "F-1", Name: "Feta PDO", Group: "10"},
		{Code: "Y-7", Name: "Greek Yoghurt"},
	})
	require.NoError(t, err)

	analyst := h.signedIn(t, "analyst", analystPass)
	resp := analyst.get("/api/v1/products?q=FETA")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var products []ProductResponse
	require.NoError(t, json.Unmarshal([]byte(resp.body), &products))
	require.Len(t, products, 1)
	assert.Equal(t, ProductResponse{Code: "F-1", Name: "Feta PDO", Group: "10"}, products[0])

	resp = analyst.postJSON("/api/v1/products/sync", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := h.signedIn(t, "admin", adminPass)
	resp = admin.postJSON("/api/v1/products/sync", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var sync SyncResponse
	require.NoError(t, json.Unmarshal([]byte(resp.body), &sync))
	assert.True(t, sync.Fallback)
	assert.NotEmpty(t, sync.Error)

	n, err := h.store.CountProducts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "fallback keeps the cache")
}

func TestServer_StartAndShutdown(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Host = "127.0.0.1"
		c.Port = 0
	})
	h.srv.config.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.Start(ctx) }()

	addr := "http://127.0.0.1:" + strconv.Itoa(h.srv.config.Port) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(addr)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}
