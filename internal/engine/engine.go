package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/engine/auth"
	"siteline/internal/events"
	"siteline/internal/feed"
	"siteline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Guard  auth.Guard
	Log    *zap.Logger
	Now    func() time.Time

	inflight *inflightSet
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Config:   cfg,
		Guard:    auth.Guard{Policy: auth.PolicyFromConfig(cfg)},
		Log:      log,
		Now:      time.Now,
		inflight: &inflightSet{keys: map[string]struct{}{}},
	}
	e.Events = events.Writer{Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

// opContext bounds one engine operation by the configured store timeout.
func (e Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.Config.StoreTimeout())
}

func (e Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// fail logs a rejected or failed mutation and returns err unchanged.
func (e Engine) fail(op string, actor domain.Actor, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("op", op), zap.String("actor_id", actor.ID), zap.Error(err))
	e.logger().Warn("operation failed", fields...)
	return err
}

// newRecordID returns a time-sortable id for append-only records.
func (e Engine) newRecordID() string {
	return ulid.MustNew(ulid.Timestamp(e.now()), ulid.DefaultEntropy()).String()
}

// WorkCreateOptions are parameters for creating a work item.
type WorkCreateOptions struct {
	ID             string
	ObjectID       string
	ObjectName     string
	Title          string
	ContractorID   string
	ContractorName string
	PlannedStart   string
	PlannedEnd     string
}

func (e Engine) CreateWork(ctx context.Context, actor domain.Actor, opts WorkCreateOptions) (domain.Work, error) {
	if err := e.Guard.Require(actor, auth.PermWorkCreate); err != nil {
		return domain.Work{}, e.fail("work.create", actor, err)
	}
	opts.Title = strings.TrimSpace(opts.Title)
	opts.ObjectID = strings.TrimSpace(opts.ObjectID)
	if opts.Title == "" {
		return domain.Work{}, invalid("title", "is required")
	}
	if opts.ObjectID == "" {
		return domain.Work{}, invalid("object_id", "is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	w := domain.Work{
		ID:             opts.ID,
		ObjectID:       opts.ObjectID,
		ObjectName:     strings.TrimSpace(opts.ObjectName),
		Title:          opts.Title,
		Status:         domain.WorkPlanned,
		ContractorID:   strings.TrimSpace(opts.ContractorID),
		ContractorName: strings.TrimSpace(opts.ContractorName),
		PlannedStart:   optionalString(opts.PlannedStart),
		PlannedEnd:     optionalString(opts.PlannedEnd),
		CreatedAt:      e.stamp(),
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	err := e.Repo.InTx(ctx, "create work", func(tx *sql.Tx) error {
		if err := e.Repo.InsertWork(ctx, tx, w); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.WorkCreate, "work", w.ID, actor.ID, events.EventPayload{
			"object_id": w.ObjectID, "contractor_id": w.ContractorID,
		})
	})
	if err != nil {
		return domain.Work{}, e.fail("work.create", actor, storeErr("create work", err))
	}
	e.logger().Info("work created", zap.String("work_id", w.ID), zap.String("actor_id", actor.ID))
	return w, nil
}

func (e Engine) GetWork(ctx context.Context, actor domain.Actor, id string) (domain.Work, error) {
	if err := e.Guard.Require(actor, auth.PermWorkRead); err != nil {
		return domain.Work{}, err
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	return e.Repo.GetWork(ctx, id)
}

func (e Engine) ListWorks(ctx context.Context, actor domain.Actor, f repo.WorkFilter) ([]domain.Work, error) {
	if err := e.Guard.Require(actor, auth.PermWorkRead); err != nil {
		return nil, err
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	return e.Repo.ListWorks(ctx, f)
}

// ReportOptions describe one progress-log entry.
type ReportOptions struct {
	WorkID        string
	Description   string
	Volume        *float64
	Unit          string
	Materials     []string
	Photos        []string
	CompletionPct *int

	IsWorkStart           bool
	IsInspectionStart     bool
	IsInspectionCompleted bool
}

// AddWorkReport appends a report and moves the work's progress fields.
func (e Engine) AddWorkReport(ctx context.Context, actor domain.Actor, opts ReportOptions) (domain.WorkReport, error) {
	if err := e.Guard.Require(actor, auth.PermReportCreate); err != nil {
		return domain.WorkReport{}, e.fail("report.create", actor, err)
	}
	flags := 0
	for _, f := range []bool{opts.IsWorkStart, opts.IsInspectionStart, opts.IsInspectionCompleted} {
		if f {
			flags++
		}
	}
	if flags > 1 {
		return domain.WorkReport{}, invalid("flags", "at most one of work start, inspection start, inspection completed")
	}
	if opts.IsInspectionStart || opts.IsInspectionCompleted {
		return domain.WorkReport{}, invalid("flags", "inspection reports are written by inspection transitions")
	}
	if opts.CompletionPct != nil && (*opts.CompletionPct < 0 || *opts.CompletionPct > 100) {
		return domain.WorkReport{}, invalid("completion_pct", "must be between 0 and 100")
	}
	if opts.Volume != nil && *opts.Volume < 0 {
		return domain.WorkReport{}, invalid("volume", "must not be negative")
	}
	if strings.TrimSpace(opts.Description) == "" && opts.Volume == nil && opts.CompletionPct == nil && !opts.IsWorkStart {
		return domain.WorkReport{}, invalid("description", "is required")
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	now := e.stamp()
	rep := domain.WorkReport{
		ID:            e.newRecordID(),
		WorkID:        opts.WorkID,
		AuthorID:      actor.ID,
		AuthorName:    actor.Name,
		AuthorRole:    actor.Role,
		CreatedAt:     now,
		Description:   strings.TrimSpace(opts.Description),
		Volume:        opts.Volume,
		Unit:          strings.TrimSpace(opts.Unit),
		Materials:     feed.JoinList(opts.Materials),
		Photos:        feed.JoinList(opts.Photos),
		CompletionPct: opts.CompletionPct,
		IsWorkStart:   opts.IsWorkStart,
	}
	err := e.Repo.InTx(ctx, "add work report", func(tx *sql.Tx) error {
		w, err := e.Repo.GetWorkTx(ctx, tx, opts.WorkID)
		if err != nil {
			return err
		}
		if err := e.Guard.RequireOnWork(actor, auth.PermReportCreate, w); err != nil {
			return err
		}
		if opts.IsWorkStart && w.Status != domain.WorkPlanned {
			return ForbiddenTransitionError{Entity: "work", From: w.Status, To: domain.WorkInProgress}
		}
		if w.Status == domain.WorkCompleted {
			return ForbiddenTransitionError{Entity: "work", From: w.Status, To: w.Status}
		}
		if err := e.Repo.InsertWorkReport(ctx, tx, rep); err != nil {
			return err
		}
		if advanceWork(&w, rep, now) {
			if err := e.Repo.UpdateWorkProgress(ctx, tx, w); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, events.ReportAppend, "work", w.ID, actor.ID, events.EventPayload{
			"report_id": rep.ID, "work_start": rep.IsWorkStart, "status": w.Status, "completion_pct": w.CompletionPct,
		})
	})
	if err != nil {
		return domain.WorkReport{}, e.fail("report.create", actor, storeErr("add work report", err), zap.String("work_id", opts.WorkID))
	}
	return rep, nil
}

// advanceWork applies a report to the work's status and progress and
// reports whether anything changed.
func advanceWork(w *domain.Work, rep domain.WorkReport, now string) bool {
	changed := false
	if rep.IsWorkStart && w.Status == domain.WorkPlanned {
		w.Status = domain.WorkInProgress
		w.ActualStart = &now
		changed = true
	}
	if rep.CompletionPct != nil && *rep.CompletionPct != w.CompletionPct {
		w.CompletionPct = *rep.CompletionPct
		if w.Status == domain.WorkPlanned {
			w.Status = domain.WorkInProgress
			w.ActualStart = &now
		}
		if w.CompletionPct == 100 {
			w.Status = domain.WorkCompleted
			w.ActualEnd = &now
		}
		changed = true
	}
	return changed
}

func (e Engine) PostChatMessage(ctx context.Context, actor domain.Actor, workID, message string) (domain.ChatMessage, error) {
	if err := e.Guard.Require(actor, auth.PermChatPost); err != nil {
		return domain.ChatMessage{}, e.fail("chat.post", actor, err)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.ChatMessage{}, invalid("message", "is required")
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	m := domain.ChatMessage{
		ID:         e.newRecordID(),
		WorkID:     workID,
		AuthorID:   actor.ID,
		AuthorName: actor.Name,
		AuthorRole: actor.Role,
		CreatedAt:  e.stamp(),
		Message:    message,
	}
	err := e.Repo.InTx(ctx, "post chat message", func(tx *sql.Tx) error {
		w, err := e.Repo.GetWorkTx(ctx, tx, workID)
		if err != nil {
			return err
		}
		if err := e.Guard.RequireOnWork(actor, auth.PermChatPost, w); err != nil {
			return err
		}
		if err := e.Repo.InsertChatMessage(ctx, tx, m); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ChatPost, "work", workID, actor.ID, events.EventPayload{"message_id": m.ID})
	})
	if err != nil {
		return domain.ChatMessage{}, e.fail("chat.post", actor, storeErr("post chat message", err), zap.String("work_id", workID))
	}
	return m, nil
}

// GrantRole binds an actor to a site role.
func (e Engine) GrantRole(ctx context.Context, actor domain.Actor, actorID, name string, role domain.Role) error {
	if err := e.Guard.Require(actor, auth.PermRBACManage); err != nil {
		return e.fail("rbac.grant", actor, err)
	}
	if strings.TrimSpace(actorID) == "" {
		return invalid("actor_id", "is required")
	}
	if !role.IsValid() {
		return invalid("role", "must be one of client, admin, contractor")
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	err := e.Repo.InTx(ctx, "grant role", func(tx *sql.Tx) error {
		if err := e.Repo.EnsureActor(ctx, tx, actorID, name, e.stamp()); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, actorID, string(role)); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RoleGrant, "actor", actorID, actor.ID, events.EventPayload{"role": role})
	})
	if err != nil {
		return e.fail("rbac.grant", actor, storeErr("grant role", err))
	}
	return nil
}

// RevokeRole removes an actor's role binding.
func (e Engine) RevokeRole(ctx context.Context, actor domain.Actor, actorID string, role domain.Role) error {
	if err := e.Guard.Require(actor, auth.PermRBACManage); err != nil {
		return e.fail("rbac.revoke", actor, err)
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	err := e.Repo.InTx(ctx, "revoke role", func(tx *sql.Tx) error {
		if err := e.Repo.RevokeRole(ctx, tx, actorID, string(role)); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RoleRevoke, "actor", actorID, actor.ID, events.EventPayload{"role": role})
	})
	if err != nil {
		return e.fail("rbac.revoke", actor, storeErr("revoke role", err))
	}
	return nil
}

// CreateAPIKey issues a new key for actorID and returns the raw key once.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.Actor, actorID, name string) (domain.APIKey, string, error) {
	if strings.TrimSpace(actorID) == "" {
		actorID = actor.ID
	}
	if actorID == "" {
		return domain.APIKey{}, "", invalid("actor_id", "is required")
	}
	if actorID != actor.ID {
		if err := e.Guard.Require(actor, auth.PermRBACManage); err != nil {
			return domain.APIKey{}, "", e.fail("apikey.create", actor, err)
		}
	}
	raw := "sl_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	key := domain.APIKey{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	err := e.Repo.InTx(ctx, "create api key", func(tx *sql.Tx) error {
		if err := e.Repo.EnsureActor(ctx, tx, actorID, "", key.CreatedAt); err != nil {
			return err
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyCreate, "api_key", key.ID, actor.ID, events.EventPayload{"actor_id": actorID})
	})
	if err != nil {
		return domain.APIKey{}, "", storeErr("create api key", err)
	}
	return key, raw, nil
}

// AuditEvents lists the audit log, newest first.
func (e Engine) AuditEvents(ctx context.Context, actor domain.Actor, entityKind, entityID string, limit int) ([]domain.AuditEvent, error) {
	if err := e.Guard.Require(actor, auth.PermRBACManage); err != nil {
		return nil, e.fail("events.list", actor, err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	return e.Repo.ListEvents(ctx, entityKind, entityID, limit)
}

type inflightSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// acquire claims key, returning false if it is already held.
func (s *inflightSet) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *inflightSet) release(key string) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// storeErr classifies err unless it is already one of the engine's
// caller-facing errors.
func storeErr(op string, err error) error {
	var (
		ve ValidationError
		fe ForbiddenTransitionError
		ae auth.AuthorizationError
	)
	if errors.As(err, &ve) || errors.As(err, &fe) || errors.As(err, &ae) || errors.Is(err, ErrSubmissionInFlight) {
		return err
	}
	return repo.Wrap(op, err)
}
