package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
)

type usersData struct {
	Users []store.User
	Form  validate.NewUser
	Self  int64
}

func (s *Server) renderUsers(c echo.Context, code int, form validate.NewUser, flash, msg string) error {
	users, err := s.deps.Auth.ListUsers(c.Request().Context())
	if err != nil {
		return s.internalError(c, "could not list users", err)
	}
	form.Password = ""
	return s.render(c, code, "users", page{
		Title:  "Users",
		Active: "users",
		Flash:  flash,
		Error:  msg,
		Data:   usersData{Users: users, Form: form, Self: session(c).UserID},
	})
}

func (s *Server) handleUsers(c echo.Context) error {
	var flash string
	if c.QueryParam("created") != "" {
		flash = "User created."
	}
	return s.renderUsers(c, http.StatusOK, validate.NewUser{Role: "user"}, flash, "")
}

func (s *Server) handleCreateUser(c echo.Context) error {
	form := validate.NewUser{
		FullName: c.FormValue("fullname"),
		Username: c.FormValue("username"),
		Password: c.FormValue("password"),
		Role:     c.FormValue("role"),
	}
	_, err := s.deps.Auth.CreateUser(c.Request().Context(), form)
	if err != nil {
		var verrs validate.Errors
		switch {
		case errors.As(err, &verrs):
			return s.renderUsers(c, http.StatusUnprocessableEntity, form, "", verrs.First())
		case errors.Is(err, store.ErrDuplicate):
			return s.renderUsers(c, http.StatusConflict, form, "", "Username already exists.")
		default:
			return s.internalError(c, "could not create user", err)
		}
	}
	return c.Redirect(http.StatusSeeOther, "/users?created=1")
}

// handleSetActive enables or disables an account. Disabling signs the user
// out everywhere. Admins cannot disable themselves.
func (s *Server) handleSetActive(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	active := c.FormValue("active") == "1"
	if !active && id == session(c).UserID {
		return s.renderUsers(c, http.StatusUnprocessableEntity, validate.NewUser{Role: "user"}, "", "You cannot disable your own account.")
	}

	if err := s.deps.Auth.SetActive(c.Request().Context(), id, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return s.internalError(c, "could not update user", err)
	}
	if !active {
		n := s.deps.Sessions.DestroyUser(id)
		s.logger.Info("user disabled", zap.Int64("user_id", id), zap.Int("sessions_closed", n))
	}
	return c.Redirect(http.StatusSeeOther, "/users")
}
