// Package main implements the FloatChat query API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/FloatChatAI/floatchat-engine/engine/compose"
	"github.com/FloatChatAI/floatchat-engine/engine/domain"
	"github.com/FloatChatAI/floatchat-engine/engine/query"
	"github.com/FloatChatAI/floatchat-engine/engine/relational"
	"github.com/FloatChatAI/floatchat-engine/engine/retrieval"
	"github.com/FloatChatAI/floatchat-engine/engine/semantic"
	"github.com/FloatChatAI/floatchat-engine/engine/session"
	"github.com/FloatChatAI/floatchat-engine/engine/sqlagent"
	"github.com/FloatChatAI/floatchat-engine/pkg/llm"
	"github.com/FloatChatAI/floatchat-engine/pkg/metrics"
	"github.com/FloatChatAI/floatchat-engine/pkg/mid"
)

var met = metrics.New()

var (
	mQuestions = func(mode string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("floatchat_questions_total", "mode", mode), "Questions answered by mode")
	}
	mQueryErrors = func(kind string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("floatchat_query_errors_total", "kind", kind), "Query errors by kind")
	}
	mQueryDur = met.Histogram("floatchat_query_duration_seconds", "End-to-end question latency", nil)
	mSessions = met.Gauge("floatchat_sessions_active", "Live sessions")
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	MetricsPort  int
	DBPath       string
	QdrantURL    string
	Collection   string
	OllamaURL    string
	ChatModel    string
	EmbedModel   string
	CORSOrigin   string
	QueryTimeout time.Duration
	TopK         int
}

func loadConfig() Config {
	_ = godotenv.Load()
	return Config{
		Port:         envOr("PORT", "8080"),
		MetricsPort:  envInt("METRICS_PORT", 9091),
		DBPath:       envOr("DB_PATH", "floatchat.db"),
		QdrantURL:    envOr("QDRANT_URL", "localhost:6334"),
		Collection:   envOr("QDRANT_COLLECTION", "floatchat_profiles"),
		OllamaURL:    envOr("OLLAMA_URL", "http://localhost:11434"),
		ChatModel:    envOr("CHAT_MODEL", "llama3"),
		EmbedModel:   envOr("EMBED_MODEL", "nomic-embed-text"),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
		QueryTimeout: envDur("QUERY_TIMEOUT", 30*time.Second),
		TopK:         envInt("RETRIEVAL_TOP_K", 10),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := relational.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	defer store.Close()

	vectors, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()

	model := llm.New(llm.Opts{
		BaseURL:    cfg.OllamaURL,
		ChatModel:  cfg.ChatModel,
		EmbedModel: cfg.EmbedModel,
	})

	sessions := session.NewStore()
	svc := query.New(
		sessions,
		sqlagent.New(model, store, logger),
		store,
		retrieval.New(model, vectors, store, store, cfg.TopK),
		compose.New(model, logger),
		cfg.QueryTimeout,
		logger,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/ask", handleAsk(svc, logger))
	mux.HandleFunc("POST /api/region", handleRegion(svc, sessions))
	mux.HandleFunc("DELETE /api/session/{id}", handleEndSession(svc, sessions))
	mux.HandleFunc("GET /api/batches", handleBatches(store, logger))
	mux.HandleFunc("GET /api/profiles", handleProfiles(svc, store, logger))
	mux.HandleFunc("GET /api/trajectory/{float}", handleTrajectory(store, logger))
	mux.HandleFunc("GET /api/stats", handleStats(svc, store, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("floatchat-api"),
	)

	met.ServeAsync(cfg.MetricsPort)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

// AskResponse is the JSON response for POST /api/ask.
type AskResponse struct {
	SessionID string `json:"session_id"`
	compose.Answer
}

func handleAsk(svc *query.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Question == "" {
			writeError(w, http.StatusBadRequest, "question is required")
			return
		}
		// A client without a session id gets one minted here and echoed
		// back; follow-up requests must carry it or context inheritance
		// never triggers.
		if req.SessionID == "" {
			req.SessionID = svc.Session("").ID
		}

		start := time.Now()
		ans, err := svc.Ask(r.Context(), req.SessionID, req.Question)
		mQueryDur.Since(start)
		if err != nil {
			writeQueryError(w, err, logger)
			return
		}
		mQuestions(string(ans.Mode)).Inc()
		writeJSON(w, http.StatusOK, AskResponse{SessionID: req.SessionID, Answer: ans})
	}
}

func writeQueryError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, domain.ErrMissingRegion):
		mQueryErrors("missing_region").Inc()
		writeError(w, http.StatusBadRequest, "select a region on the map or name one in the question first")
	case errors.Is(err, domain.ErrQueryGeneration):
		mQueryErrors("generation").Inc()
		writeError(w, http.StatusUnprocessableEntity, "could not turn the question into a valid query; try rephrasing it")
	case errors.Is(err, domain.ErrRetrievalTimeout):
		mQueryErrors("timeout").Inc()
		writeError(w, http.StatusGatewayTimeout, "the query timed out; try again")
	default:
		mQueryErrors("internal").Inc()
		logger.Error("query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// RegionRequest selects the active region for a session: either one of the
// named basins or an explicit polygon.
type RegionRequest struct {
	SessionID string         `json:"session_id"`
	Name      string         `json:"name,omitempty"`
	Vertices  []domain.Point `json:"vertices,omitempty"`
}

func handleRegion(svc *query.Service, sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var region domain.Region
		switch {
		case req.Name != "":
			named := domain.RegionFromText(req.Name)
			if named == nil {
				writeError(w, http.StatusBadRequest, "unknown region name")
				return
			}
			region = *named
		case len(req.Vertices) > 0:
			region = domain.Region{Name: "custom", Vertices: req.Vertices}
		default:
			writeError(w, http.StatusBadRequest, "name or vertices required")
			return
		}

		if req.SessionID == "" {
			req.SessionID = svc.Session("").ID
		}
		if err := svc.SelectRegion(req.SessionID, region); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mSessions.Set(int64(sessions.Len()))
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "ok",
			"region":     region.Name,
			"session_id": req.SessionID,
		})
	}
}

func handleEndSession(svc *query.Service, sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.EndSession(r.PathValue("id"))
		mSessions.Set(int64(sessions.Len()))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleBatches(store *relational.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batches, err := store.Batches(r.Context(), envInt("BATCH_LIST_LIMIT", 50))
		if err != nil {
			logger.Error("list batches", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, batches)
	}
}

// sessionRegion resolves the active region for the session named in the
// request query, for the map-support endpoints below.
func sessionRegion(svc *query.Service, r *http.Request) *domain.Region {
	return svc.Session(r.URL.Query().Get("session_id")).Region
}

func handleProfiles(svc *query.Service, store *relational.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		region := sessionRegion(svc, r)
		if region == nil {
			writeError(w, http.StatusBadRequest, "select a region first")
			return
		}
		limit := envInt("PROFILE_LIST_LIMIT", 200)
		recs, err := store.ProfilesInRegion(r.Context(), *region, limit)
		if err != nil {
			logger.Error("list profiles", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleTrajectory(store *relational.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := store.Trajectory(r.Context(), r.PathValue("float"))
		if err != nil {
			logger.Error("trajectory", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if len(recs) == 0 {
			writeError(w, http.StatusNotFound, "unknown float")
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleStats(svc *query.Service, store *relational.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		region := sessionRegion(svc, r)
		if region == nil {
			writeError(w, http.StatusBadRequest, "select a region first")
			return
		}
		st, err := store.Stats(r.Context(), *region)
		if err != nil {
			logger.Error("region stats", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
