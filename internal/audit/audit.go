// Package audit records who changed what. Writes are best effort: a failed
// audit insert is logged and never fails the user's request.
package audit

import (
	"context"
	"encoding/json"

	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
	"go.uber.org/zap"
)

// Actions written to the trail.
const (
	ActionCreate      = "CREATE"
	ActionUpdate      = "UPDATE"
	ActionDelete      = "DELETE"
	ActionCreateLog   = "CREATE_LOG"
	ActionLogin       = "LOGIN"
	ActionLoginFailed = "LOGIN_FAILED"
	ActionUserCreate  = "USER_CREATE"
)

// Tables referenced by entries.
const (
	TableLogs  = "microbiology_logs"
	TableUsers = "users"
)

const maxUserAgent = 500

// Actor identifies who is acting, carried in the request context.
type Actor struct {
	UserID    int64
	IP        string
	UserAgent string
}

type actorKey struct{}

// WithActor stores a in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor in ctx, or the zero Actor with IP "unknown".
func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{IP: "unknown"}
}

// Entry is one change to record. Old and New are marshalled to JSON.
type Entry struct {
	Action   string
	Table    string
	RecordID *int64
	Old      map[string]any
	New      map[string]any
}

// Store is the persistence the recorder needs.
type Store interface {
	InsertAudit(ctx context.Context, e store.AuditEntry) error
	AuditHistory(ctx context.Context, table string, recordID int64, limit int) ([]store.AuditRecord, error)
}

// Recorder writes audit entries.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// NewRecorder returns a recorder over st.
func NewRecorder(st Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: st, logger: logger}
}

// Log writes e with the actor found in ctx.
func (r *Recorder) Log(ctx context.Context, e Entry) {
	actor := ActorFrom(ctx)
	ua := validate.Truncate(actor.UserAgent, maxUserAgent)

	rec := store.AuditEntry{
		UserID:    actor.UserID,
		Action:    e.Action,
		TableName: e.Table,
		RecordID:  e.RecordID,
		IP:        actor.IP,
		UserAgent: ua,
	}
	var err error
	if rec.Old, err = marshal(e.Old); err == nil {
		rec.New, err = marshal(e.New)
	}
	if err == nil {
		err = r.store.InsertAudit(ctx, rec)
	}
	if err != nil {
		r.logger.Warn("audit write failed",
			zap.String("action", e.Action),
			zap.String("table", e.Table),
			zap.Error(err))
	}
}

// LogUpdate records an UPDATE of recordID.
func (r *Recorder) LogUpdate(ctx context.Context, table string, recordID int64, before, after map[string]any) {
	r.Log(ctx, Entry{Action: ActionUpdate, Table: table, RecordID: &recordID, Old: before, New: after})
}

// History returns up to limit entries for one record, newest first.
func (r *Recorder) History(ctx context.Context, table string, recordID int64, limit int) ([]store.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.store.AuditHistory(ctx, table, recordID, limit)
}

func marshal(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
