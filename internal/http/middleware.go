package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/micrologger/internal/audit"
	"github.com/fyrsmithlabs/micrologger/internal/auth"
	"github.com/fyrsmithlabs/micrologger/internal/logging"
)

const sessionKey = "session"

// sessionless paths are probed by monitoring and never get a cookie.
func sessionless(path string) bool {
	return path == "/health" || path == "/metrics"
}

// loadSession resolves the session cookie, creating an anonymous session
// when it is missing or expired, and puts the caller into the request
// context for logging and auditing. API calls without a live session are
// bound to a transient anonymous session that is never stored; API clients
// sign in through /login first.
func (s *Server) loadSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if sessionless(c.Request().URL.Path) {
			return next(c)
		}
		var (
			sess auth.Session
			ok   bool
		)
		if ck, err := c.Cookie(s.config.CookieName); err == nil {
			sess, ok = s.deps.Sessions.Get(ck.Value)
		}
		if !ok && isAPI(c) {
			s.bindSession(c, auth.Session{})
			return next(c)
		}
		if !ok {
			sess = s.deps.Sessions.New()
			c.SetCookie(auth.Cookie(s.config.CookieName, sess.ID, s.config.SecureCookie))
		}
		s.bindSession(c, sess)
		return next(c)
	}
}

func (s *Server) bindSession(c echo.Context, sess auth.Session) {
	c.Set(sessionKey, sess)
	if sess.CSRFToken != "" {
		c.Response().Header().Set(auth.CSRFHeader, sess.CSRFToken)
	}

	req := c.Request()
	ctx := logging.WithSessionID(req.Context(), sess.ID)
	ctx = logging.WithRequestID(ctx, c.Response().Header().Get(echo.HeaderXRequestID))
	if sess.Authenticated() {
		ctx = logging.WithUser(ctx, logging.User{ID: sess.UserID, Name: sess.Username, Role: sess.Role})
	}
	ctx = audit.WithActor(ctx, audit.Actor{UserID: sess.UserID, IP: c.RealIP(), UserAgent: req.UserAgent()})
	c.SetRequest(req.WithContext(ctx))
}

func session(c echo.Context) auth.Session {
	sess, _ := c.Get(sessionKey).(auth.Session)
	return sess
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// checkCSRF rejects state-changing requests without the session token, read
// from the X-CSRF-Token header or the csrf_token form field.
func (s *Server) checkCSRF(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !unsafeMethod(c.Request().Method) || sessionless(c.Request().URL.Path) {
			return next(c)
		}
		token := c.Request().Header.Get(auth.CSRFHeader)
		if token == "" {
			token = c.FormValue(auth.CSRFField)
		}
		if !auth.ValidCSRF(session(c), token) {
			s.logger.Warn("csrf token rejected",
				append(logging.ContextFields(c.Request().Context()),
					zap.String("path", c.Request().URL.Path))...)
			return echo.NewHTTPError(http.StatusForbidden, "invalid or missing CSRF token")
		}
		return next(c)
	}
}

func isAPI(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/api/")
}

// requireAuth sends anonymous page requests to the login form and answers
// anonymous API calls with 401.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if session(c).Authenticated() {
			return next(c)
		}
		if isAPI(c) {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		return c.Redirect(http.StatusSeeOther, "/login")
	}
}

func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !session(c).IsAdmin() {
			return echo.NewHTTPError(http.StatusForbidden, "admin role required")
		}
		return next(c)
	}
}

// loginLimiter throttles sign-in attempts per client address, ahead of the
// per-account lockout.
func (s *Server) loginLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.config.LoginRate),
			Burst:     s.config.LoginBurst,
			ExpiresIn: 5 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			s.logger.Warn("login rate limited", zap.String("ip", identifier))
			return s.renderLogin(c, http.StatusTooManyRequests, "Too many login attempts. Please wait a moment and try again.", "")
		},
	})
}
