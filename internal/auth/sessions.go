package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCookieName is the session cookie.
const DefaultCookieName = "MICAPPSESSID"

// Session is the server side state behind a session cookie.
type Session struct {
	ID        string
	UserID    int64
	Username  string
	FullName  string
	Role      string
	CSRFToken string
	LoginAt   time.Time
	LastSeen  time.Time
}

// Authenticated reports whether a user is signed in.
func (s Session) Authenticated() bool { return s.UserID > 0 }

// IsAdmin reports whether the signed-in user is an admin.
func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

// Sessions is an in-memory session store with a sliding idle timeout.
type Sessions struct {
	mu     sync.Mutex
	byID   map[string]*Session
	idle   time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewSessions returns a store that expires sessions idle for longer than idle.
func NewSessions(idle time.Duration, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{byID: map[string]*Session{}, idle: idle, now: time.Now, logger: logger}
}

// New creates an anonymous session carrying only a CSRF token.
func (s *Sessions) New() Session {
	now := s.now()
	sess := &Session{ID: uuid.NewString(), CSRFToken: newToken(), LastSeen: now}
	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.mu.Unlock()
	return *sess
}

// Get returns the live session for id and slides its expiry.
func (s *Sessions) Get(id string) (Session, bool) {
	if id == "" {
		return Session{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return Session{}, false
	}
	now := s.now()
	if now.Sub(sess.LastSeen) > s.idle {
		delete(s.byID, id)
		return Session{}, false
	}
	sess.LastSeen = now
	return *sess, true
}

// Login replaces oldID with a fresh session id bound to the user. The CSRF
// token is rotated too.
func (s *Sessions) Login(oldID string, userID int64, username, fullName, role string) Session {
	now := s.now()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		FullName:  fullName,
		Role:      role,
		CSRFToken: newToken(),
		LoginAt:   now,
		LastSeen:  now,
	}
	s.mu.Lock()
	delete(s.byID, oldID)
	s.byID[sess.ID] = sess
	s.mu.Unlock()
	return *sess
}

// Destroy removes id.
func (s *Sessions) Destroy(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// DestroyUser removes every session of userID, used when an account is disabled.
func (s *Sessions) DestroyUser(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.byID {
		if sess.UserID == userID {
			delete(s.byID, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Sessions) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.byID {
		if now.Sub(sess.LastSeen) > s.idle {
			delete(s.byID, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done. A non-positive interval
// disables sweeping.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired sessions swept", zap.Int("count", n))
			}
		}
	}
}

// Cookie builds the session cookie for id.
func Cookie(name, id string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie clears the session cookie.
func ExpiredCookie(name string, secure bool) *http.Cookie {
	c := Cookie(name, "", secure)
	c.MaxAge = -1
	return c
}

func newToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
