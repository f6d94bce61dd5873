package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithNoPathReturnsBuiltinDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BuiltinDefaults().Defaults.StateDir, s.Defaults.StateDir)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestLoadMergesUserSettingsOverDefaults(t *testing.T) {
	doc := `
defaults:
  state_dir: ./custom-state
  max_concurrent_clusters: 2
  max_concurrent_agents: 4
  trigger_budget: 500ms
  stale_after: 5m
templates:
  solo:
    id: solo
    agents:
      triage:
        name: triage
        prompt: "You triage incoming issues."
        triggers:
          - topic: USER_INPUT
            action: execute_task
        model:
          static: small
`
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./custom-state", s.Defaults.StateDir)
	tmpl, ok := s.Template("solo")
	require.True(t, ok)
	assert.Contains(t, tmpl.Agents, "triage")
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("MESHRUN_TEST_STATE_DIR", "/tmp/meshrun-test")
	doc := `
defaults:
  state_dir: ${MESHRUN_TEST_STATE_DIR}
  max_concurrent_clusters: 1
  max_concurrent_agents: 1
  trigger_budget: 1s
  stale_after: 1m
`
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/meshrun-test", s.Defaults.StateDir)
}
