package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/micrologger/internal/audit"
	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInactive is returned when a disabled account signs in.
	ErrInactive = errors.New("account disabled")
	// ErrMissingCredentials is returned for blank username or password.
	ErrMissingCredentials = errors.New("enter username and password")
)

// InvalidCredentialsError reports a failed login with attempts left.
type InvalidCredentialsError struct {
	Remaining int
}

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials, %d attempt(s) remaining", e.Remaining)
}

// LockedOutError reports an active lockout.
type LockedOutError struct {
	Until time.Time
}

func (e *LockedOutError) Error() string {
	return "too many failed attempts, locked until " + e.Until.Format(time.Kitchen)
}

// UserStore is the persistence auth needs.
type UserStore interface {
	UserByName(ctx context.Context, name string) (*store.User, error)
	CreateUser(ctx context.Context, u store.User) (int64, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	SetUserActive(ctx context.Context, id int64, active bool) error
}

// Service authenticates and manages users.
type Service struct {
	users   UserStore
	lockout *Lockout
	audit   *audit.Recorder
	logger  *zap.Logger
}

// NewService wires the auth service.
func NewService(users UserStore, lockout *Lockout, rec *audit.Recorder, logger *zap.Logger) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if lockout == nil {
		return nil, fmt.Errorf("lockout is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, lockout: lockout, audit: rec, logger: logger}, nil
}

// Login checks username and password for the client at clientIP.
func (s *Service) Login(ctx context.Context, username, password, clientIP string) (*store.User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	key := LockKey(clientIP, username)
	if until, locked := s.lockout.Locked(key); locked {
		return nil, &LockedOutError{Until: until}
	}

	u, err := s.users.UserByName(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		burnCompare(password)
		return nil, s.fail(ctx, key, username, clientIP)
	case err != nil:
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if !isMismatch(err) {
			s.logger.Warn("stored password hash unreadable", zap.Int64("user_id", u.ID), zap.Error(err))
		}
		return nil, s.fail(ctx, key, username, clientIP)
	}
	if !u.Active {
		return nil, ErrInactive
	}

	s.lockout.Reset(key)
	ctx = audit.WithActor(ctx, withUser(audit.ActorFrom(ctx), u.ID))
	s.record(ctx, audit.Entry{Action: audit.ActionLogin, Table: audit.TableUsers, RecordID: &u.ID})
	s.logger.Info("user signed in", zap.Int64("user_id", u.ID), zap.String("username", u.Name))
	return u, nil
}

func (s *Service) fail(ctx context.Context, key, username, clientIP string) error {
	remaining, until := s.lockout.Fail(key)
	s.record(ctx, audit.Entry{
		Action: audit.ActionLoginFailed,
		Table:  audit.TableUsers,
		New:    map[string]any{"username": username},
	})
	s.logger.Warn("login failed", zap.String("username", username), zap.String("ip", clientIP))
	if !until.IsZero() {
		return &LockedOutError{Until: until}
	}
	return &InvalidCredentialsError{Remaining: remaining}
}

// CreateUser validates and stores a new account.
func (s *Service) CreateUser(ctx context.Context, in validate.NewUser) (int64, error) {
	in.FullName = validate.SanitizeString(in.FullName, validate.MaxFullName)
	in.Username = validate.SanitizeString(in.Username, validate.MaxUsername)
	in.Password = strings.TrimSpace(in.Password)
	if in.Role == "" {
		in.Role = RoleUser
	}
	if err := validate.Struct(in); err != nil {
		return 0, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return 0, err
	}
	id, err := s.users.CreateUser(ctx, store.User{
		Name:         in.Username,
		FullName:     in.FullName,
		PasswordHash: hash,
		Role:         in.Role,
		Active:       true,
	})
	if err != nil {
		return 0, err
	}
	s.record(ctx, audit.Entry{
		Action:   audit.ActionUserCreate,
		Table:    audit.TableUsers,
		RecordID: &id,
		New:      map[string]any{"name": in.Username, "role": in.Role},
	})
	return id, nil
}

// EnsureAdmin creates an admin when no account exists yet.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	n, err := s.users.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := s.CreateUser(ctx, validate.NewUser{
		FullName: "Administrator",
		Username: username,
		Password: password,
		Role:     RoleAdmin,
	}); err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	s.logger.Info("bootstrap admin created", zap.String("username", username))
	return true, nil
}

// ListUsers returns every account.
func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.users.ListUsers(ctx)
}

// SetActive enables or disables an account.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.users.SetUserActive(ctx, id, active); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		Action:   audit.ActionUpdate,
		Table:    audit.TableUsers,
		RecordID: &id,
		New:      map[string]any{"active": active},
	})
	return nil
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if s.audit != nil {
		s.audit.Log(ctx, e)
	}
}

func withUser(a audit.Actor, id int64) audit.Actor {
	a.UserID = id
	return a
}
