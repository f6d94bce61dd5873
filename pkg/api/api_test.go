package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrun/meshrun/pkg/config"
	"github.com/meshrun/meshrun/pkg/models"
	"github.com/meshrun/meshrun/pkg/orchestrator"
	"github.com/meshrun/meshrun/pkg/runner"
)

type fakeRunner struct{}

func (fakeRunner) Run(ctx context.Context, req runner.Request) (runner.Result, error) {
	return runner.Result{Output: "done"}, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	settings := &config.Settings{
		Defaults: config.Defaults{
			StateDir:              t.TempDir(),
			MaxConcurrentClusters: 4,
			MaxConcurrentAgents:   4,
			TriggerBudget:         time.Second,
			StaleAfter:            time.Minute,
		},
		Templates: map[string]config.ClusterTemplate{
			"solo": {
				ID: "solo",
				Agents: map[string]models.AgentDefinition{
					"triage": {
						Name:   "triage",
						Prompt: "triage incoming issues",
						Triggers: []models.Trigger{
							{Topic: models.MessageUserInput, Action: models.ActionExecuteTask},
						},
						Model:  models.ModelPolicy{Static: "small"},
						Output: models.OutputPolicy{Streaming: true},
					},
				},
			},
		},
	}
	orch := orchestrator.New(settings, func() runner.Runner { return fakeRunner{} }, nil)
	return NewServer(orch, nil)
}

func TestHealthzReportsOK(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartThenStatusThenStop(t *testing.T) {
	s := testServer(t)

	body, err := json.Marshal(map[string]any{"template": "solo"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/clusters", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var cluster models.Cluster
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cluster))
	require.NotEmpty(t, cluster.ID)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/clusters/"+cluster.ID, nil)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/clusters/"+cluster.ID+"/stop", nil)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStartSeedsIssueOpenedFromInput(t *testing.T) {
	s := testServer(t)

	body, err := json.Marshal(map[string]any{"template": "solo", "input": "build is broken", "input_source": "issue"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/clusters", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var cluster models.Cluster
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cluster))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/clusters/"+cluster.ID+"/logs", nil)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	dec := json.NewDecoder(rec.Body)
	var sawIssueOpened bool
	for {
		var msg models.Message
		if err := dec.Decode(&msg); err != nil {
			break
		}
		if msg.Type == models.MessageIssueOpened {
			sawIssueOpened = true
			assert.Equal(t, "issue", msg.Metadata[models.MetaSource])
		}
	}
	assert.True(t, sawIssueOpened)
}

func TestStatusUnknownClusterIsNotFound(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/clusters/does-not-exist", nil)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurgeRunningClusterIsConflict(t *testing.T) {
	s := testServer(t)

	body, err := json.Marshal(map[string]any{"template": "solo"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/clusters", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var cluster models.Cluster
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cluster))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/clusters/"+cluster.ID, nil)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
