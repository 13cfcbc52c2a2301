package opserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelyard/modelyard/pkg/api"
	"github.com/modelyard/modelyard/pkg/config"
	"github.com/modelyard/modelyard/pkg/fileops"
	"github.com/modelyard/modelyard/pkg/opserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "op-token"

// scriptedRunner fakes git invocations keyed by subcommand.
type scriptedRunner struct {
	outputs map[string][]byte
	errs    map[string]error
}

func (s *scriptedRunner) run(args []string) ([]byte, error) {
	key := ""
	if len(args) > 0 {
		key = args[0]
	}
	return s.outputs[key], s.errs[key]
}

func (s *scriptedRunner) CombinedOutput(_ context.Context, _ string, _ string, args ...string) ([]byte, error) {
	return s.run(args)
}

func (s *scriptedRunner) Output(_ context.Context, _ string, _ string, args ...string) ([]byte, error) {
	return s.run(args)
}

// statusRecorder collects project status callbacks on a channel.
type statusRecorder struct {
	updates chan api.ProjectStatusUpdate
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{updates: make(chan api.ProjectStatusUpdate, 4)}
}

func (r *statusRecorder) UpdateProjectStatus(_ context.Context, _ int64, status, message, localPath string) error {
	r.updates <- api.ProjectStatusUpdate{Status: status, Message: message, LocalPath: localPath}
	return nil
}

func newTestServer(t *testing.T, runner *scriptedRunner) (http.Handler, *config.Config, *statusRecorder) {
	t.Helper()
	if runner == nil {
		runner = &scriptedRunner{outputs: map[string][]byte{}, errs: map[string]error{}}
	}

	cfg := &config.Config{
		NodeName:     "worker-001",
		ProjectsPath: t.TempDir(),
		AgentToken:   testToken,
		APIPort:      0,
	}

	recorder := newStatusRecorder()
	git := fileops.NewGit(runner, zap.NewNop())
	server := opserver.New(cfg, git, recorder, zap.NewNop())
	return server.Routes(), cfg, recorder
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("X-Agent-Token", token)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth_NoAuthRequired(t *testing.T) {
	handler, _, _ := newTestServer(t, nil)

	rec := doRequest(t, handler, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "worker-001", resp["node_name"])
}

func TestAuth_MissingOrWrongTokenRejected(t *testing.T) {
	handler, _, _ := newTestServer(t, nil)
	body := api.DeleteRequest{ProjectPath: "x"}

	rec := doRequest(t, handler, http.MethodDelete, "/api/v1/projects/1", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/projects/1", "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClone_Accepted(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string][]byte{}, errs: map[string]error{}}
	handler, cfg, recorder := newTestServer(t, runner)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/projects/clone", testToken, api.CloneRequest{
		ProjectID:  42,
		GitURL:     "https://example.com/repo.git",
		TargetPath: "team/repo",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted api.CloneAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.True(t, accepted.Success)
	assert.NotEmpty(t, accepted.OperationID)
	assert.Equal(t, filepath.Join(cfg.ProjectsPath, "team", "repo"), accepted.LocalPath)

	select {
	case update := <-recorder.updates:
		assert.Equal(t, "active", update.Status)
		assert.Equal(t, accepted.LocalPath, update.LocalPath)
	case <-time.After(5 * time.Second):
		t.Fatal("clone completion was never reported")
	}
}

func TestClone_FailureReportsError(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string][]byte{"clone": []byte("fatal: repository not found")},
		errs:    map[string]error{"clone": errors.New("exit status 128")},
	}
	handler, _, recorder := newTestServer(t, runner)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/projects/clone", testToken, api.CloneRequest{
		ProjectID:  42,
		GitURL:     "https://example.com/missing.git",
		TargetPath: "missing",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case update := <-recorder.updates:
		assert.Equal(t, "error", update.Status)
		assert.Contains(t, update.Message, "fatal")
	case <-time.After(5 * time.Second):
		t.Fatal("clone failure was never reported")
	}
}

func TestClone_PathTraversalRejected(t *testing.T) {
	handler, _, _ := newTestServer(t, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/projects/clone", testToken, api.CloneRequest{
		GitURL:     "https://example.com/repo.git",
		TargetPath: "../../etc/cron.d",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClone_ExistingTargetConflicts(t *testing.T) {
	handler, cfg, _ := newTestServer(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.ProjectsPath, "existing"), 0755))

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/projects/clone", testToken, api.CloneRequest{
		GitURL:     "https://example.com/repo.git",
		TargetPath: "existing",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClone_MissingFieldsRejected(t *testing.T) {
	handler, _, _ := newTestServer(t, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/projects/clone", testToken, api.CloneRequest{
		GitURL: "https://example.com/repo.git",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPull_NotARepository(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string][]byte{},
		errs:    map[string]error{"rev-parse": errors.New("not a git repository")},
	}
	handler, cfg, _ := newTestServer(t, runner)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.ProjectsPath, "plain"), 0755))

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/projects/1/pull", testToken, api.PullRequest{
		ProjectPath: "plain",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPull_Success(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string][]byte{
			"rev-parse": []byte(".git"),
			"pull":      []byte("Already up to date."),
		},
		errs: map[string]error{},
	}
	handler, cfg, _ := newTestServer(t, runner)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.ProjectsPath, "repo"), 0755))

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/projects/1/pull", testToken, api.PullRequest{
		ProjectPath: "repo",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result fileops.PullResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "Already up to date.", result.Message)
}

func TestStatus_GitRepository(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string][]byte{
			"rev-parse": []byte(".git"),
			"branch":    []byte("main\n"),
			"status":    []byte(""),
			"rev-list":  []byte("0\t0\n"),
			"log":       []byte("0123456789abcdef|Init\n"),
		},
		errs: map[string]error{},
	}
	handler, cfg, _ := newTestServer(t, runner)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.ProjectsPath, "repo"), 0755))

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/projects/1/status?project_path=repo", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status fileops.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "main", status.Branch)
	assert.True(t, status.Clean)
}

func TestStatus_MissingPathNotFound(t *testing.T) {
	handler, _, _ := newTestServer(t, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/projects/1/status?project_path=absent", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus_MissingQueryParameter(t *testing.T) {
	handler, _, _ := newTestServer(t, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/projects/1/status", testToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelete_RemovesPath(t *testing.T) {
	handler, cfg, _ := newTestServer(t, nil)
	target := filepath.Join(cfg.ProjectsPath, "doomed")
	require.NoError(t, os.MkdirAll(target, 0755))

	rec := doRequest(t, handler, http.MethodDelete, "/api/v1/projects/1", testToken, api.DeleteRequest{
		ProjectPath: "doomed",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, fileops.PathExists(target))
}

func TestDelete_AbsentPathIsIdempotent(t *testing.T) {
	handler, _, _ := newTestServer(t, nil)

	rec := doRequest(t, handler, http.MethodDelete, "/api/v1/projects/1", testToken, api.DeleteRequest{
		ProjectPath: "never-existed",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result api.OperationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
}

func TestDelete_PathTraversalRejected(t *testing.T) {
	handler, _, _ := newTestServer(t, nil)

	rec := doRequest(t, handler, http.MethodDelete, "/api/v1/projects/1", testToken, api.DeleteRequest{
		ProjectPath: "../../etc",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
