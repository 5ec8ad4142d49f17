package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/valyala/fastjson"

	"github.com/robbiemu-homelab/keyvault/internal/model"
	"github.com/robbiemu-homelab/keyvault/internal/pkg/searchql"
	"github.com/robbiemu-homelab/keyvault/internal/snapshot"
	"github.com/robbiemu-homelab/keyvault/internal/store"
)

// SecretStore is the storage surface the HTTP layer needs. *store.Store
// implements it; tests substitute a fake.
type SecretStore interface {
	Get(ctx context.Context, project, key string) (json.RawMessage, error)
	Upsert(ctx context.Context, project, key string, value json.RawMessage) error
	Delete(ctx context.Context, project, key string) error
	Search(ctx context.Context, project, query string) ([]model.Secret, error)
	List(ctx context.Context, project string, opts store.ListOptions) ([]string, error)
	Stats(ctx context.Context, project string) (store.Stats, error)
	ExportAll(ctx context.Context, project string) ([]model.Secret, error)
	ImportAll(ctx context.Context, project string, secrets []model.Secret) error
	Ping(ctx context.Context) error
}

var _ SecretStore = (*store.Store)(nil)

// Config carries the server's authentication material.
type Config struct {
	ReadKey  string
	WriteKey string

	// BackupPassphrase enables the backup/restore endpoints when non-empty.
	BackupPassphrase string
}

type Server struct {
	store      SecretStore
	readKey    string
	writeKey   string
	snapWriter *snapshot.Writer
	snapReader *snapshot.Reader
	srv        *http.Server
	parser     fastjson.ParserPool
}

func NewServer(st SecretStore, cfg Config) (*Server, error) {
	s := &Server{
		store:    st,
		readKey:  cfg.ReadKey,
		writeKey: cfg.WriteKey,
	}

	if cfg.BackupPassphrase != "" {
		writer, err := snapshot.NewWriter(cfg.BackupPassphrase)
		if err != nil {
			return nil, err
		}
		reader, err := snapshot.NewReader(cfg.BackupPassphrase)
		if err != nil {
			return nil, err
		}
		s.snapWriter = writer
		s.snapReader = reader
	}

	return s, nil
}

// Start runs the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// routes builds the full handler chain: gzip > CORS > request ID > access
// log > method-routed mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("GET /secrets/{key}", s.requireKey(readAccess, s.handleGetSecret))
	mux.Handle("PUT /secrets/{key}", s.requireKey(writeAccess, s.handlePutSecret))
	mux.Handle("DELETE /secrets/{key}", s.requireKey(writeAccess, s.handleDeleteSecret))
	mux.Handle("POST /secrets", s.requireKey(writeAccess, s.handleUpsertSecret))
	mux.Handle("GET /secrets", s.requireKey(readAccess, s.handleListSecrets))
	mux.Handle("POST /search", s.requireKey(readAccess, s.handleSearch))
	mux.Handle("GET /stats", s.requireKey(readAccess, s.handleStats))

	mux.Handle("GET /backup", s.requireKey(writeAccess, s.handleBackup))
	mux.Handle("POST /restore", s.requireKey(writeAccess, s.handleRestore))

	return gzhttp.GzipHandler(withCORS(withRequestID(withAccessLog(mux))))
}

type accessLevel int

const (
	readAccess accessLevel = iota
	writeAccess
)

// requireKey guards a route behind the x-api-key header. Read routes accept
// either key; write routes demand the write key.
func (s *Server) requireKey(level accessLevel, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-api-key")
		if !s.allowed(level, key) {
			http.Error(w, "Unauthorized: invalid API key", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func (s *Server) allowed(level accessLevel, key string) bool {
	if key == "" {
		return false
	}
	if level == writeAccess {
		return equalKeys(key, s.writeKey)
	}
	return equalKeys(key, s.readKey) || equalKeys(key, s.writeKey)
}

func equalKeys(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// project extracts the mandatory x-project-key header, writing the 400 reply
// itself when it is missing.
func (s *Server) project(w http.ResponseWriter, r *http.Request) (string, bool) {
	project := r.Header.Get("x-project-key")
	if project == "" {
		http.Error(w, "Missing x-project-key header", http.StatusBadRequest)
		return "", false
	}
	return project, true
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "error", err, "request_id", requestID(r.Context()))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")

	value, err := s.store.Get(r.Context(), project, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Secret not found", http.StatusNotFound)
			return
		}
		s.serverError(w, r, "failed to fetch secret", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(value)
}

// handleUpsertSecret processes POST /secrets with a {"key": ..., "value": ...}
// body.
func (s *Server) handleUpsertSecret(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}

	key, value, ok := s.readSecretBody(w, r, "")
	if !ok {
		return
	}

	if err := s.store.Upsert(r.Context(), project, key, value); err != nil {
		s.serverError(w, r, "failed to upsert secret", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePutSecret processes PUT /secrets/{key} with a {"value": ...} body.
func (s *Server) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}

	key, value, ok := s.readSecretBody(w, r, r.PathValue("key"))
	if !ok {
		return
	}

	if err := s.store.Upsert(r.Context(), project, key, value); err != nil {
		s.serverError(w, r, "failed to upsert secret", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readSecretBody parses an upsert payload. When pathKey is empty the body
// must carry the key itself. The value is returned re-marshaled, exactly as
// it will be stored.
func (s *Server) readSecretBody(w http.ResponseWriter, r *http.Request, pathKey string) (string, json.RawMessage, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return "", nil, false
	}
	defer r.Body.Close()

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return "", nil, false
	}

	key := pathKey
	if key == "" {
		key = string(v.GetStringBytes("key"))
		if key == "" {
			http.Error(w, "Missing or empty \"key\" field", http.StatusBadRequest)
			return "", nil, false
		}
	}

	value := v.Get("value")
	if value == nil {
		http.Error(w, "Missing \"value\" field", http.StatusBadRequest)
		return "", nil, false
	}

	return key, value.MarshalTo(nil), true
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}

	if err := s.store.Delete(r.Context(), project, r.PathValue("key")); err != nil {
		s.serverError(w, r, "failed to delete secret", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := store.ListOptions{Prefix: q.Get("prefix"), Limit: 100}
	if limitStr := q.Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed > 0 {
			opts.Offset = parsed
		}
	}

	keys, err := s.store.List(r.Context(), project, opts)
	if err != nil {
		s.serverError(w, r, "failed to list secrets", err)
		return
	}
	if keys == nil {
		keys = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(keys); err != nil {
		slog.Error("JSON encode error", "error", err)
	}
}

// handleSearch compiles the query, runs it against the project scope, and
// returns the matching rows. A malformed query is the caller's fault (400);
// a compiler invariant failure is ours (500, logged as a defect).
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}

	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	secrets, err := s.store.Search(r.Context(), project, req.Query)
	if err != nil {
		var syntaxErr *searchql.SyntaxError
		if errors.As(err, &syntaxErr) {
			http.Error(w, syntaxErr.Error(), http.StatusBadRequest)
			return
		}
		var internalErr *searchql.InternalError
		if errors.As(err, &internalErr) {
			slog.Error("query compiler defect", "error", internalErr, "request_id", requestID(r.Context()))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		s.serverError(w, r, "search failed", err)
		return
	}
	if secrets == nil {
		secrets = []model.Secret{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(secrets); err != nil {
		slog.Error("JSON encode error", "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}

	stats, err := s.store.Stats(r.Context(), project)
	if err != nil {
		s.serverError(w, r, "failed to compute stats", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		slog.Error("JSON encode error", "error", err)
	}
}

// handleBackup streams an encrypted archive of the project's secrets.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if s.snapWriter == nil {
		http.Error(w, "Backups are not configured", http.StatusServiceUnavailable)
		return
	}
	project, ok := s.project(w, r)
	if !ok {
		return
	}

	secrets, err := s.store.ExportAll(r.Context(), project)
	if err != nil {
		s.serverError(w, r, "failed to export secrets", err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", project+".snap"))
	if err := s.snapWriter.WriteArchive(w, secrets); err != nil {
		// Headers are gone; all we can do is log.
		slog.Error("failed to write archive", "error", err, "request_id", requestID(r.Context()))
	}
}

// handleRestore upserts the secrets from an uploaded archive into the
// caller's project scope.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if s.snapReader == nil {
		http.Error(w, "Backups are not configured", http.StatusServiceUnavailable)
		return
	}
	project, ok := s.project(w, r)
	if !ok {
		return
	}

	secrets, err := s.snapReader.ReadArchive(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid snapshot: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.store.ImportAll(r.Context(), project, secrets); err != nil {
		s.serverError(w, r, "failed to import secrets", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type requestIDKey struct{}

// requestID returns the identifier tagged onto the request, or "" outside
// the middleware chain.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID tags every request with a UUID for log correlation and
// echoes it in the X-Request-Id response header.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"request_id", requestID(r.Context()),
		)
	})
}

// withCORS applies the permissive policy the service's browser clients rely
// on and short-circuits preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-api-key, x-project-key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
