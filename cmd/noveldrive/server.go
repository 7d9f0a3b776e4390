package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokoroten/noveldrive/config"
	"github.com/tokoroten/noveldrive/conversation"
	"github.com/tokoroten/noveldrive/document"
	"github.com/tokoroten/noveldrive/internal/metrics"
	"github.com/tokoroten/noveldrive/llm"
	"github.com/tokoroten/noveldrive/llm/openai"
	"github.com/tokoroten/noveldrive/session"
)

// Server wires the orchestrator behind a JSON API plus an optional
// metrics listener.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	store   session.Store
	matcher *document.Matcher
	orch    *conversation.Orchestrator

	api     *http.Server
	metrics *http.Server
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	store, err := session.NewStore(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	s.store = store

	var collector *metrics.Collector
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		collector = metrics.NewCollector(cfg.Metrics.Namespace, registry)
	}

	provider, err := buildProvider(cfg.LLM, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	s.matcher = document.NewMatcher(cfg.Matcher, logger)
	applier := document.NewApplier(s.matcher, logger)

	summaryModel := cfg.Summarizer.Model
	if summaryModel == "" {
		summaryModel = cfg.LLM.Model
	}
	summarizer := conversation.NewSummarizer(provider, summaryModel,
		cfg.Summarizer.Threshold, cfg.Summarizer.KeepRecent, logger)

	orch, err := conversation.New(context.Background(), conversation.Config{
		ObserverMode:        cfg.Orchestrator.ObserverMode,
		UserTurnGracePeriod: cfg.Orchestrator.UserTurnGracePeriod,
		PersistDebounce:     cfg.Orchestrator.PersistDebounce,
		Model:               cfg.LLM.Model,
		MaxContextTokens:    cfg.Orchestrator.MaxContextTokens,
		TokenizerModel:      cfg.Orchestrator.TokenizerModel,
		InitialRoster:       cfg.InitialRoster(),
	}, conversation.Deps{
		Provider:   provider,
		Store:      store,
		Applier:    applier,
		Summarizer: summarizer,
		Metrics:    collector,
		Logger:     logger,
		Agents:     cfg.Agents,
	})
	if err != nil {
		s.matcher.Close()
		store.Close()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	s.orch = orch

	s.api = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		s.metrics = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return s, nil
}

func buildProvider(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
	var provider llm.Provider
	switch cfg.Provider {
	case "openai", "":
		provider = openai.NewProvider(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)
	case "mock":
		provider = llm.NewMockProvider()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if cfg.RequestsPerSecond > 0 {
		provider = llm.NewRateLimitedProvider(provider, cfg.RequestsPerSecond, cfg.Burst)
	}
	return provider, nil
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("api listening", zap.String("addr", s.api.Addr))
		if err := s.api.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s.metrics != nil {
		g.Go(func() error {
			s.logger.Info("metrics listening", zap.String("addr", s.metrics.Addr))
			if err := s.metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.api.Shutdown(shutdownCtx)
		if s.metrics != nil {
			s.metrics.Shutdown(shutdownCtx)
		}
		return nil
	})

	err := g.Wait()

	s.orch.Close()
	s.matcher.Close()
	if cerr := s.store.Close(); cerr != nil {
		s.logger.Warn("store close failed", zap.Error(cerr))
	}
	return err
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/current", s.handleCurrentSession)
	mux.HandleFunc("POST /api/sessions/{id}/load", s.handleLoadSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/versions", s.handleVersions)
	mux.HandleFunc("POST /api/message", s.handleMessage)
	mux.HandleFunc("PUT /api/document", s.handleDocument)
	mux.HandleFunc("PUT /api/roster", s.handleRoster)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.GetAllSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.orch.CreateSession(r.Context(), req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	sess := s.orch.CurrentSession()
	if sess == nil {
		writeError(w, http.StatusNotFound, conversation.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.LoadSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.store.GetDocumentVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text          string `json:"text"`
		TargetAgentID string `json:"target_agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.orch.SubmitUserMessage(req.Text, req.TargetAgentID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.orch.UpdateDocument(req.Content); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentIDs []string `json:"agent_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.orch.SetRoster(req.AgentIDs); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.orch.StartConversation(req.AgentID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.orch.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrUnknownAgent), errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
