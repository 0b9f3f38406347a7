package project

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/emergent-company/orchestrator/domain/messagebuilder"
	"github.com/emergent-company/orchestrator/domain/plan"
	"github.com/emergent-company/orchestrator/pkg/apperror"
	"github.com/emergent-company/orchestrator/pkg/logger"
)

// planRow is kb.orch_plans: one row per project, overwritten on every
// revision (spec §6 "plan.json ... overwritten on each revision"),
// grounded on the teacher's jsonb-column convention in domain/projects/entity.go
// (AutoExtractConfig) rather than a normalized per-task table.
type planRow struct {
	bun.BaseModel `bun:"table:kb.orch_plans,alias:pl"`

	ProjectID string      `bun:"project_id,pk,type:uuid"`
	Goal      string      `bun:"goal,notnull"`
	Version   int         `bun:"version,notnull"`
	Tasks     []plan.Task `bun:"tasks,type:jsonb"`
	UpdatedAt time.Time   `bun:"updated_at,notnull,default:now()"`
}

// messageRow is kb.orch_messages: append-only, one row per Message (spec §6
// "messages.jsonl one Message per line, append-only").
type messageRow struct {
	bun.BaseModel `bun:"table:kb.orch_messages,alias:m"`

	ID        string                `bun:"id,pk,type:uuid"`
	ProjectID string                `bun:"project_id,notnull,type:uuid"`
	Role      string                `bun:"role,notnull"`
	Timestamp time.Time             `bun:"timestamp,notnull"`
	Parts     []messagebuilder.Part `bun:"parts,type:jsonb"`
	Content   string                `bun:"content,notnull"`
	TaskID    string                `bun:"task_id,type:uuid"`
}

// Store persists the Project aggregate and its owned Plan/conversation,
// grounded on the teacher's domain/workspace/store.go bun repository idiom.
type Store struct {
	db  bun.IDB
	log *slog.Logger
}

// NewStore constructs a Store.
func NewStore(db bun.IDB, log *slog.Logger) *Store {
	return &Store{db: db, log: log.With(logger.Scope("project.store"))}
}

// CreateProject inserts a new project row.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	_, err := s.db.NewInsert().
		Model(p).
		Returning("id, created_at, updated_at").
		Exec(ctx)
	if err != nil {
		s.log.Error("failed to create project", logger.Error(err))
		return apperror.ErrInternal.WithInternal(err)
	}
	return nil
}

// GetProject returns a project by id, or ErrProjectNotFound.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p := new(Project)
	err := s.db.NewSelect().Model(p).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrProjectNotFound.WithDetails(map[string]any{"projectId": id})
		}
		s.log.Error("failed to get project", logger.Error(err), slog.String("project_id", id))
		return nil, apperror.ErrInternal.WithInternal(err)
	}
	return p, nil
}

// UpdateStatus transitions a project's status and bumps updated_at.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, err := s.db.NewUpdate().
		Model((*Project)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		s.log.Error("failed to update project status", logger.Error(err), slog.String("project_id", id))
		return apperror.ErrInternal.WithInternal(err)
	}
	return nil
}

// DeleteProject removes the project row. Owned rows (plan, messages) are
// removed by ON DELETE CASCADE foreign keys, per the migration.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	_, err := s.db.NewDelete().Model((*Project)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		s.log.Error("failed to delete project", logger.Error(err), slog.String("project_id", id))
		return apperror.ErrInternal.WithInternal(err)
	}
	return nil
}

// ListStuckRunning returns the ids of projects that have sat in
// StatusRunning since before cutoff, for internal/jobs's stale-project
// sweep.
func (s *Store) ListStuckRunning(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*Project)(nil)).
		Column("id").
		Where("status = ?", StatusRunning).
		Where("updated_at < ?", cutoff).
		Scan(ctx, &ids)
	if err != nil {
		s.log.Error("failed to list stuck projects", logger.Error(err))
		return nil, apperror.ErrInternal.WithInternal(err)
	}
	return ids, nil
}

// ListTerminalBefore returns the ids of projects that reached a terminal
// status (completed or failed) before cutoff, for internal/jobs's artifact
// GC sweep.
func (s *Store) ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*Project)(nil)).
		Column("id").
		Where("status IN (?, ?)", StatusCompleted, StatusFailed).
		Where("updated_at < ?", cutoff).
		Scan(ctx, &ids)
	if err != nil {
		s.log.Error("failed to list terminal projects", logger.Error(err))
		return nil, apperror.ErrInternal.WithInternal(err)
	}
	return ids, nil
}

// SavePlan upserts the project's plan snapshot (§3 "replaced only by a
// revision"), overwriting the prior row entirely.
func (s *Store) SavePlan(ctx context.Context, projectID string, p *plan.Plan) error {
	row := &planRow{
		ProjectID: projectID,
		Goal:      p.Goal,
		Version:   p.Version,
		Tasks:     p.Tasks(),
		UpdatedAt: time.Now().UTC(),
	}

	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (project_id) DO UPDATE").
		Set("goal = EXCLUDED.goal").
		Set("version = EXCLUDED.version").
		Set("tasks = EXCLUDED.tasks").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		s.log.Error("failed to save plan", logger.Error(err), slog.String("project_id", projectID))
		return apperror.ErrInternal.WithInternal(err)
	}
	return nil
}

// LoadPlan rehydrates the project's plan snapshot, or returns (nil, nil) if
// no plan has been generated yet (§4.G start: "does not yet generate a plan").
func (s *Store) LoadPlan(ctx context.Context, projectID string) (*plan.Plan, error) {
	row := new(planRow)
	err := s.db.NewSelect().Model(row).Where("project_id = ?", projectID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.log.Error("failed to load plan", logger.Error(err), slog.String("project_id", projectID))
		return nil, apperror.ErrInternal.WithInternal(err)
	}
	return plan.FromSnapshot(row.Goal, row.Version, row.Tasks), nil
}

// AppendMessage inserts one conversation message (append-only, §3).
func (s *Store) AppendMessage(ctx context.Context, projectID string, msg messagebuilder.Message) error {
	row := &messageRow{
		ID:        msg.ID,
		ProjectID: projectID,
		Role:      string(msg.Role),
		Timestamp: msg.Timestamp,
		Parts:     msg.Parts,
		Content:   msg.Content,
		TaskID:    msg.TaskID,
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	if err != nil {
		s.log.Error("failed to append message", logger.Error(err), slog.String("project_id", projectID))
		return apperror.ErrInternal.WithInternal(err)
	}
	return nil
}

// ListMessages returns a project's full conversation in publication order.
func (s *Store) ListMessages(ctx context.Context, projectID string) ([]messagebuilder.Message, error) {
	var rows []messageRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("project_id = ?", projectID).
		Order("timestamp ASC").
		Scan(ctx)
	if err != nil {
		s.log.Error("failed to list messages", logger.Error(err), slog.String("project_id", projectID))
		return nil, apperror.ErrInternal.WithInternal(err)
	}

	out := make([]messagebuilder.Message, len(rows))
	for i, r := range rows {
		out[i] = messagebuilder.Message{
			ID:        r.ID,
			Role:      messagebuilder.Role(r.Role),
			Timestamp: r.Timestamp,
			Parts:     r.Parts,
			Content:   r.Content,
			TaskID:    r.TaskID,
		}
	}
	return out, nil
}
