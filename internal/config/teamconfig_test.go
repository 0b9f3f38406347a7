package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/orchestrator/pkg/apperror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func writeTeamConfig(t *testing.T, dir, configRef, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configRef+".yaml"), []byte(body), 0o644))
}

const validTeamYAML = `
name: research-team
maxRounds: 5
maxConcurrent: 2
initialAgent: researcher
completionSentinel: DONE
agents:
  - name: researcher
    description: finds things
    promptTemplate: "you are a researcher"
    tools: [search]
  - name: writer
    description: writes things
    promptTemplate: writer.txt
    tools: [write_file]
`

func TestTeamConfigStore_Load_CachesResult(t *testing.T) {
	dir := t.TempDir()
	writeTeamConfig(t, dir, "team-a", validTeamYAML)
	s := NewTeamConfigStore(testLogger(), &Config{TeamConfigDir: dir})

	tc, err := s.Load("team-a")
	require.NoError(t, err)
	assert.Equal(t, "research-team", tc.Name)
	assert.Len(t, tc.Agents, 2)

	// Remove the file; a cached Load must still succeed.
	require.NoError(t, os.Remove(filepath.Join(dir, "team-a.yaml")))
	tc2, err := s.Load("team-a")
	require.NoError(t, err)
	assert.Same(t, tc, tc2)
}

func TestTeamConfigStore_Load_MissingFile(t *testing.T) {
	s := NewTeamConfigStore(testLogger(), &Config{TeamConfigDir: t.TempDir()})

	_, err := s.Load("ghost")
	require.Error(t, err)
	assert.Equal(t, apperror.ErrProjectNotFound.Code, err.(*apperror.Error).Code)
}

func TestTeamConfigStore_Load_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeTeamConfig(t, dir, "broken", "name: [this is not: valid")
	s := NewTeamConfigStore(testLogger(), &Config{TeamConfigDir: dir})

	_, err := s.Load("broken")
	require.Error(t, err)
	assert.Equal(t, apperror.ErrInvalidPlan.Code, err.(*apperror.Error).Code)
}

func TestTeamConfigStore_Load_NoAgentsRejected(t *testing.T) {
	dir := t.TempDir()
	writeTeamConfig(t, dir, "empty", "name: empty-team\nagents: []\n")
	s := NewTeamConfigStore(testLogger(), &Config{TeamConfigDir: dir})

	_, err := s.Load("empty")
	require.Error(t, err)
	assert.Equal(t, apperror.ErrInvalidPlan.Code, err.(*apperror.Error).Code)
}

func TestTeamConfigStore_ResolveAgentCatalog_InlineAndFilePrompts(t *testing.T) {
	dir := t.TempDir()
	writeTeamConfig(t, dir, "team-a", validTeamYAML)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "writer.txt"), []byte("you are a writer"), 0o644))
	s := NewTeamConfigStore(testLogger(), &Config{TeamConfigDir: dir})

	catalog, maxConcurrent, err := s.ResolveAgentCatalog("team-a")
	require.NoError(t, err)
	assert.Equal(t, 2, maxConcurrent)
	require.Contains(t, catalog, "researcher")
	require.Contains(t, catalog, "writer")

	researcher := catalog["researcher"]
	assert.Equal(t, "you are a researcher", researcher.SystemPrompt)
	assert.Equal(t, []string{"search"}, researcher.AllowedTools)
	assert.Equal(t, "DONE", researcher.CompletionSentinel)
	assert.Equal(t, 5, researcher.MaxRounds)

	writer := catalog["writer"]
	assert.Equal(t, "you are a writer", writer.SystemPrompt)
	assert.Equal(t, []string{"write_file"}, writer.AllowedTools)
}

func TestTeamConfigStore_ResolveAgentCatalog_ZeroMaxConcurrentLeftForCallerDefault(t *testing.T) {
	dir := t.TempDir()
	writeTeamConfig(t, dir, "no-cap", "name: t\ncompletionSentinel: DONE\nagents:\n  - name: solo\n    promptTemplate: inline prompt\n")
	s := NewTeamConfigStore(testLogger(), &Config{TeamConfigDir: dir})

	_, maxConcurrent, err := s.ResolveAgentCatalog("no-cap")
	require.NoError(t, err)
	assert.Equal(t, 0, maxConcurrent)
}
