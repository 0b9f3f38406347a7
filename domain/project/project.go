// Package project implements the Project aggregate (spec §3): the root
// object owning a Plan, conversation, event topic, and workspace handle for
// one orchestration run. Grounded on the teacher's domain/projects/entity.go
// bun-entity-plus-DTO pattern, reshaped around the spec's own attribute set
// (goal/configRef/plan/conversation in place of the teacher's KB-specific
// columns).
package project

import (
	"time"

	"github.com/uptrace/bun"
)

// Status is a Project's lifecycle position (§3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Project is the kb.orch_projects row. Plan and conversation are owned by
// this aggregate but persisted in their own tables (kb.orch_plans,
// kb.orch_messages) behind Store, not inlined here, matching the teacher's
// convention of keeping large nested state in sibling tables rather than
// jsonb blobs on the root row.
type Project struct {
	bun.BaseModel `bun:"table:kb.orch_projects,alias:p"`

	ID        string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID    string    `bun:"user_id,notnull,type:uuid" json:"userId"`
	Goal      string    `bun:"goal,notnull" json:"goal"`
	ConfigRef string    `bun:"config_ref,notnull" json:"configRef"`
	Status    Status    `bun:"status,notnull,default:'pending'" json:"status"`
	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// New constructs a Project in its initial pending state (§4.G start).
func New(userID, goal, configRef string) *Project {
	now := time.Now().UTC()
	return &Project{
		UserID:    userID,
		Goal:      goal,
		ConfigRef: configRef,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DTO is the response shape for the §6 GetProject operation.
type DTO struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Goal      string    `json:"goal"`
	ConfigRef string    `json:"configRef"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ToDTO converts p to its wire representation. Plan/conversation are
// attached by the caller (coordinator), since they're loaded separately.
func (p *Project) ToDTO() DTO {
	return DTO{
		ID:        p.ID,
		UserID:    p.UserID,
		Goal:      p.Goal,
		ConfigRef: p.ConfigRef,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
