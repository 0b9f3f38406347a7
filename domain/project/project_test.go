package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultsToPending(t *testing.T) {
	p := New("u1", "write a haiku", "cfg_two_agents")

	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "write a haiku", p.Goal)
	assert.Equal(t, "cfg_two_agents", p.ConfigRef)
	assert.Equal(t, StatusPending, p.Status)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Equal(t, p.CreatedAt, p.UpdatedAt)
}

func TestProject_ToDTO(t *testing.T) {
	p := New("u1", "goal", "cfg")
	p.ID = "p1"
	p.Status = StatusRunning

	dto := p.ToDTO()

	assert.Equal(t, "p1", dto.ID)
	assert.Equal(t, "u1", dto.UserID)
	assert.Equal(t, StatusRunning, dto.Status)
}
