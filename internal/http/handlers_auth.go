package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/auth"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
)

type loginData struct {
	Username string
}

func (s *Server) renderLogin(c echo.Context, code int, msg, username string) error {
	return s.render(c, code, "login", page{
		Title: "Sign in",
		Error: msg,
		Data:  loginData{Username: username},
	})
}

func (s *Server) handleLoginPage(c echo.Context) error {
	if session(c).Authenticated() {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	return s.renderLogin(c, http.StatusOK, "", "")
}

func (s *Server) handleLogin(c echo.Context) error {
	form := validate.LoginForm{
		Username: c.FormValue("username"),
		Password: c.FormValue("password"),
	}
	if err := validate.Struct(form); err != nil {
		var verrs validate.Errors
		if errors.As(err, &verrs) {
			return s.renderLogin(c, http.StatusUnprocessableEntity, verrs.First(), form.Username)
		}
		return err
	}

	ctx := c.Request().Context()
	u, err := s.deps.Auth.Login(ctx, form.Username, form.Password, c.RealIP())
	if err != nil {
		var (
			invalid *auth.InvalidCredentialsError
			locked  *auth.LockedOutError
		)
		switch {
		case errors.As(err, &locked):
			mins := auth.MinutesLeft(locked.Until, s.nowFunc())
			return s.renderLogin(c, http.StatusTooManyRequests,
				fmt.Sprintf("Too many failed attempts. Try again in %d minute(s).", mins), form.Username)
		case errors.As(err, &invalid):
			return s.renderLogin(c, http.StatusUnauthorized,
				fmt.Sprintf("Invalid username or password. %d attempt(s) remaining.", invalid.Remaining), form.Username)
		case errors.Is(err, auth.ErrInactive):
			return s.renderLogin(c, http.StatusForbidden, "This account has been disabled.", form.Username)
		case errors.Is(err, auth.ErrMissingCredentials):
			return s.renderLogin(c, http.StatusUnprocessableEntity, "Enter username and password.", form.Username)
		default:
			s.logger.Error("login failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
		}
	}

	old := session(c)
	sess := s.deps.Sessions.Login(old.ID, u.ID, u.Name, u.FullName, u.Role)
	c.SetCookie(auth.Cookie(s.config.CookieName, sess.ID, s.config.SecureCookie))
	return c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleLogout(c echo.Context) error {
	s.deps.Sessions.Destroy(session(c).ID)
	c.SetCookie(auth.ExpiredCookie(s.config.CookieName, s.config.SecureCookie))
	return c.Redirect(http.StatusSeeOther, "/login")
}
