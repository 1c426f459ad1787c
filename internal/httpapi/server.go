// Package httpapi exposes the webhook endpoints and the administrative
// mapping API over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gitmirror/gitmirror/internal/storage"
	syncengine "github.com/gitmirror/gitmirror/internal/sync"
	"github.com/gitmirror/gitmirror/internal/types"
)

// maxWebhookBody bounds inbound payload reads. GitHub caps webhook payloads
// at 25 MB; anything larger is not a legitimate delivery.
const maxWebhookBody = 25 << 20

// Server serves the webhook receivers, the admin mapping API, and the
// health endpoint.
type Server struct {
	addr    string
	engine  *syncengine.Engine
	store   storage.Storage
	version string
	logger  *log.Logger

	mu            sync.RWMutex
	adminPassword string

	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
}

// NewServer builds a server. The admin password may be empty, in which case
// /api/auth always rejects.
func NewServer(addr string, engine *syncengine.Engine, store storage.Storage, adminPassword, version string, logger *log.Logger) *Server {
	s := &Server{
		addr:          addr,
		engine:        engine,
		store:         store,
		version:       version,
		adminPassword: adminPassword,
		logger:        logger,
		ready:         make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/gitee", s.handleGiteeWebhook)
	mux.HandleFunc("POST /webhook/github", s.handleGitHubWebhook)
	mux.HandleFunc("POST /api/auth", s.handleAuth)
	mux.HandleFunc("GET /api/repository-mappings", s.handleListMappings)
	mux.HandleFunc("POST /api/repository-mappings", s.handleCreateMapping)
	mux.HandleFunc("DELETE /api/repository-mappings/{id}", s.handleDeleteMapping)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleHealth)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetAdminPassword replaces the admin password, for config reloads.
func (s *Server) SetAdminPassword(password string) {
	s.mu.Lock()
	s.adminPassword = password
	s.mu.Unlock()
}

// Start listens and serves until ctx is canceled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	close(s.ready)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("listening on %s", listener.Addr())
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WaitReady returns a channel closed once the listener is accepting.
func (s *Server) WaitReady() <-chan struct{} {
	return s.ready
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound listen address, once ready.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// apiResponse is the envelope for admin API responses.
type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// resultStatus maps an engine result to its HTTP status. The source
// platform's redelivery machinery keys off non-2xx responses, so transient
// failures must not look like successes.
func resultStatus(result syncengine.Result) int {
	if result.Success {
		return http.StatusOK
	}
	if result.Code == syncengine.CodeAuthFailed {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}

func (s *Server) handleGiteeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "failed to read request body"})
		return
	}

	result := s.engine.HandleGiteeWebhook(r.Context(), body)
	if !result.Success {
		s.logger.Printf("gitee webhook rejected (%s): %s", result.Code, result.Error)
	}
	writeJSON(w, resultStatus(result), result)
}

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "failed to read request body"})
		return
	}

	result := s.engine.HandleGitHubWebhook(r.Context(),
		r.Header.Get("X-GitHub-Event"),
		r.Header.Get("X-GitHub-Delivery"),
		r.Header.Get("X-Hub-Signature-256"),
		body)
	if !result.Success {
		s.logger.Printf("github webhook rejected (%s): %s", result.Code, result.Error)
	}
	writeJSON(w, resultStatus(result), result)
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid request body"})
		return
	}

	s.mu.RLock()
	password := s.adminPassword
	s.mu.RUnlock()

	valid := password != "" &&
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(password)) == 1
	if !valid {
		writeJSON(w, http.StatusUnauthorized, apiResponse{Error: "invalid password"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.store.ListRepositoryMappings(r.Context())
	if err != nil {
		s.logger.Printf("failed to list repository mappings: %v", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Error: "failed to list repository mappings"})
		return
	}
	if mappings == nil {
		mappings = []*types.RepositoryMapping{}
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: mappings})
}

func (s *Server) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GiteeOwner  string `json:"gitee_owner"`
		GiteeRepo   string `json:"gitee_repo"`
		GitHubOwner string `json:"github_owner"`
		GitHubRepo  string `json:"github_repo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid request body"})
		return
	}
	if req.GiteeOwner == "" || req.GiteeRepo == "" || req.GitHubOwner == "" || req.GitHubRepo == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "all four owner/repo fields are required"})
		return
	}

	id, err := s.store.CreateRepositoryMapping(r.Context(), &types.RepositoryMapping{
		GiteeOwner:  req.GiteeOwner,
		GiteeRepo:   req.GiteeRepo,
		GitHubOwner: req.GitHubOwner,
		GitHubRepo:  req.GitHubRepo,
	})
	if err != nil {
		if errors.Is(err, storage.ErrMappingExists) {
			writeJSON(w, http.StatusConflict, apiResponse{Error: "a mapping for this repository already exists"})
			return
		}
		s.logger.Printf("failed to create repository mapping: %v", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Error: "failed to create repository mapping"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: map[string]int64{"id": id}})
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid mapping id"})
		return
	}

	switch err := s.store.DeleteRepositoryMapping(r.Context(), id); {
	case err == nil:
		writeJSON(w, http.StatusOK, apiResponse{Success: true})
	case errors.Is(err, storage.ErrMappingInUse):
		writeJSON(w, http.StatusConflict, apiResponse{
			Error: "cannot delete: this repository mapping has mirrored issues; deleting it would orphan their cross-references",
		})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiResponse{Error: "repository mapping not found"})
	default:
		s.logger.Printf("failed to delete repository mapping %d: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Error: "failed to delete repository mapping"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}
