package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/catalog"
	"github.com/fyrsmithlabs/micrologger/internal/threshold"
)

// ClassifyRequest is the body of POST /api/v1/classify.
type ClassifyRequest struct {
	Kind   string   `json:"kind"`
	Values []string `json:"values"`
}

// ClassifyResult is the verdict for one value.
type ClassifyResult struct {
	Value     string   `json:"value"`
	Numeric   bool     `json:"numeric"`
	Parsed    *float64 `json:"parsed,omitempty"`
	OutOfSpec bool     `json:"out_of_spec"`
}

// ClassifyResponse is the response body for POST /api/v1/classify.
type ClassifyResponse struct {
	Kind    string           `json:"kind"`
	Rule    string           `json:"rule,omitempty"`
	Results []ClassifyResult `json:"results"`
}

const maxClassifyValues = 500

func (s *Server) handleClassify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid classify request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	kind, ok := threshold.ParseKind(req.Kind)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown analyte kind")
	}
	if len(req.Values) > maxClassifyValues {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too many values")
	}

	resp := ClassifyResponse{Kind: string(kind), Results: make([]ClassifyResult, 0, len(req.Values))}
	if r, ok := threshold.RuleFor(kind); ok {
		resp.Rule = r.String()
	}
	for _, v := range req.Values {
		res := ClassifyResult{Value: v, OutOfSpec: threshold.IsOutOfSpecString(kind, v)}
		if f, ok := threshold.ParseDecimal(v); ok {
			res.Numeric, res.Parsed = true, &f
		}
		resp.Results = append(resp.Results, res)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCalendar(c echo.Context) error {
	cal, err := s.deps.Logbook.Calendar(c.Request().Context(), s.now())
	if err != nil {
		return s.internalError(c, "calendar unavailable", err)
	}
	return c.JSON(http.StatusOK, cal)
}

// ProductResponse is one catalog entry in GET /api/v1/products.
type ProductResponse struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Group string `json:"group,omitempty"`
}

// handleProducts lists cached products, optionally filtered by a
// case-insensitive substring of code or name.
func (s *Server) handleProducts(c echo.Context) error {
	products, err := s.deps.Catalog.Products(c.Request().Context())
	if err != nil {
		return s.internalError(c, "products unavailable", err)
	}
	term := strings.ToLower(strings.TrimSpace(c.QueryParam("q")))
	out := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		if term != "" && !strings.Contains(strings.ToLower(p.Code+" "+p.Name), term) {
			continue
		}
		out = append(out, ProductResponse{Code: p.Code, Name: p.Name, Group: p.Group})
	}
	return c.JSON(http.StatusOK, out)
}

// SyncResponse is the response body for POST /api/v1/products/sync.
type SyncResponse struct {
	Synced   int    `json:"synced"`
	Fallback bool   `json:"fallback"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleSyncProducts(c echo.Context) error {
	n, err := s.deps.Catalog.Sync(c.Request().Context())
	if errors.Is(err, catalog.ErrFallback) {
		s.logger.Warn("manual product sync fell back to cache", zap.Error(err))
		return c.JSON(http.StatusBadGateway, SyncResponse{Fallback: true, Error: err.Error()})
	}
	if err != nil {
		return s.internalError(c, "product sync failed", err)
	}
	return c.JSON(http.StatusOK, SyncResponse{Synced: n})
}
