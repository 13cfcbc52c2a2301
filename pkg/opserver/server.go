// Package opserver exposes the local operation API the coordinator uses to
// push clone/pull/status/delete work onto this node.
package opserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/modelyard/modelyard/pkg/api"
	"github.com/modelyard/modelyard/pkg/config"
	"github.com/modelyard/modelyard/pkg/fileops"
	"github.com/modelyard/modelyard/pkg/observability"
	"go.uber.org/zap"
)

// ProjectStatusReporter is the slice of the coordinator client the async
// clone path needs for its completion callback.
type ProjectStatusReporter interface {
	UpdateProjectStatus(ctx context.Context, projectID int64, status, message, localPath string) error
}

// Server is the inbound HTTP API of the node agent.
type Server struct {
	cfg      *config.Config
	git      *fileops.Git
	reporter ProjectStatusReporter
	logger   *zap.Logger

	httpServer *http.Server
}

// New creates the operation server.
func New(cfg *config.Config, git *fileops.Git, reporter ProjectStatusReporter, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		git:      git,
		reporter: reporter,
		logger:   logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Routes builds the router. Exposed separately so tests can drive handlers
// through httptest without binding a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/api/v1/projects/clone", s.handleClone)
		r.Post("/api/v1/projects/{projectID}/pull", s.handlePull)
		r.Get("/api/v1/projects/{projectID}/status", s.handleStatus)
		r.Delete("/api/v1/projects/{projectID}", s.handleDelete)
	})

	return r
}

// Start begins serving. Blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("Starting operation server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"node_name": s.cfg.NodeName,
		"timestamp": time.Now().Unix(),
	})
}

// handleClone validates the request synchronously, then runs the clone in a
// supervised background task. The response decouples the HTTP lifetime from
// the potentially multi-minute clone; completion arrives at the coordinator
// via the project status callback.
func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	var req api.CloneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.GitURL == "" || req.TargetPath == "" {
		writeError(w, http.StatusBadRequest, "git_url and target_path are required")
		return
	}

	fullPath, err := fileops.ValidatePath(s.cfg.ProjectsPath, req.TargetPath)
	if err != nil {
		observability.ProjectOperationsTotal.WithLabelValues("clone", "rejected").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if fileops.PathExists(fullPath) {
		writeError(w, http.StatusConflict, "target path already exists")
		return
	}

	operationID := uuid.NewString()
	go s.runClone(operationID, req, fullPath)

	writeJSON(w, http.StatusAccepted, api.CloneAccepted{
		ProjectID:   req.ProjectID,
		OperationID: operationID,
		Success:     true,
		Message:     "Clone started",
		LocalPath:   fullPath,
	})
}

// runClone is the background clone task. It always reports a terminal status
// to the coordinator, including after a panic in the git layer.
func (s *Server) runClone(operationID string, req api.CloneRequest, fullPath string) {
	ctx := context.Background()
	logger := s.logger.With(
		zap.String("operation_id", operationID),
		zap.Int64("project_id", req.ProjectID),
	)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Clone task panicked", zap.Any("panic", rec))
			observability.ProjectOperationsTotal.WithLabelValues("clone", "failure").Inc()
			s.reportProjectStatus(ctx, logger, req.ProjectID, "error",
				fmt.Sprintf("internal error: %v", rec), fullPath)
		}
	}()

	logger.Info("Starting clone",
		zap.String("url", req.GitURL),
		zap.String("target", fullPath),
	)

	result := s.git.Clone(ctx, fileops.CloneOptions{
		URL:        req.GitURL,
		Branch:     req.Branch,
		TargetPath: fullPath,
	})

	// Status values are lowercase to match the coordinator's project enum.
	status := "active"
	message := ""
	outcome := "success"
	if !result.Success {
		status = "error"
		outcome = "failure"
		message = result.Error
		if result.Message != "" {
			message = result.Message
		}
		logger.Error("Clone failed", zap.String("message", message))
	} else {
		logger.Info("Clone completed", zap.String("path", fullPath))
	}
	observability.ProjectOperationsTotal.WithLabelValues("clone", outcome).Inc()

	s.reportProjectStatus(ctx, logger, req.ProjectID, status, message, fullPath)
}

func (s *Server) reportProjectStatus(ctx context.Context, logger *zap.Logger, projectID int64, status, message, localPath string) {
	if err := s.reporter.UpdateProjectStatus(ctx, projectID, status, message, localPath); err != nil {
		logger.Error("Failed to report project status", zap.Error(err))
	}
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req api.PullRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fullPath, err := fileops.ValidatePath(s.cfg.ProjectsPath, req.ProjectPath)
	if err != nil {
		observability.ProjectOperationsTotal.WithLabelValues("pull", "rejected").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.git.IsGitRepo(r.Context(), fullPath) {
		writeError(w, http.StatusBadRequest, "not a git repository")
		return
	}

	result := s.git.Pull(r.Context(), fileops.PullOptions{
		RepoPath: fullPath,
		Branch:   req.Branch,
	})

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	observability.ProjectOperationsTotal.WithLabelValues("pull", outcome).Inc()

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	projectPath := r.URL.Query().Get("project_path")
	if projectPath == "" {
		writeError(w, http.StatusBadRequest, "project_path query parameter required")
		return
	}

	fullPath, err := fileops.ValidatePath(s.cfg.ProjectsPath, projectPath)
	if err != nil {
		observability.ProjectOperationsTotal.WithLabelValues("status", "rejected").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !fileops.PathExists(fullPath) {
		writeError(w, http.StatusNotFound, "project path not found")
		return
	}

	if s.git.IsGitRepo(r.Context(), fullPath) {
		status, err := s.git.GetStatus(r.Context(), fullPath)
		if err != nil {
			observability.ProjectOperationsTotal.WithLabelValues("status", "failure").Inc()
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		observability.ProjectOperationsTotal.WithLabelValues("status", "success").Inc()
		writeJSON(w, http.StatusOK, status)
		return
	}

	info, err := fileops.GetInfo(fullPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	observability.ProjectOperationsTotal.WithLabelValues("status", "success").Inc()
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fullPath, err := fileops.ValidatePath(s.cfg.ProjectsPath, req.ProjectPath)
	if err != nil {
		observability.ProjectOperationsTotal.WithLabelValues("delete", "rejected").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !fileops.PathExists(fullPath) {
		// Already gone; delete is idempotent.
		observability.ProjectOperationsTotal.WithLabelValues("delete", "success").Inc()
		writeJSON(w, http.StatusOK, api.OperationResult{
			Success: true,
			Message: "path already deleted",
		})
		return
	}

	if err := fileops.RemoveAll(fullPath); err != nil {
		observability.ProjectOperationsTotal.WithLabelValues("delete", "failure").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("Deleted project path", zap.String("path", fullPath))
	observability.ProjectOperationsTotal.WithLabelValues("delete", "success").Inc()

	writeJSON(w, http.StatusOK, api.OperationResult{
		Success: true,
		Message: "deleted successfully",
	})
}
