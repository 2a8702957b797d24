// Command ingestd runs the periodic ingestion pipeline: fetch remote profile
// files, convert them to records, embed their summaries, and commit each
// batch to the relational and vector stores together.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/FloatChatAI/floatchat-engine/engine/ingest"
	"github.com/FloatChatAI/floatchat-engine/engine/relational"
	"github.com/FloatChatAI/floatchat-engine/engine/semantic"
	"github.com/FloatChatAI/floatchat-engine/engine/sync"
	"github.com/FloatChatAI/floatchat-engine/pkg/llm"
	"github.com/FloatChatAI/floatchat-engine/pkg/metrics"
	"github.com/FloatChatAI/floatchat-engine/pkg/natsutil"
)

var met = metrics.New()

var (
	mBatches = func(status string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("floatchat_ingest_batches_total", "status", status), "Batches by terminal status")
	}
	mProfiles   = met.Counter("floatchat_ingest_profiles_total", "Profiles committed")
	mFiles      = met.Counter("floatchat_ingest_files_total", "Source files ingested")
	mRecovered  = met.Counter("floatchat_ingest_recovered_errors_total", "Per-file and per-record errors recovered")
	mLastCommit = met.Gauge("floatchat_ingest_last_commit_timestamp", "Epoch of last committed batch")
)

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

// natsEvents publishes batch lifecycle events over NATS.
type natsEvents struct{ nc *nats.Conn }

func (p natsEvents) Publish(ctx context.Context, subject string, v any) error {
	return natsutil.Publish(ctx, p.nc, subject, v)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	_ = godotenv.Load()

	var (
		sourceURL   = flag.String("source", envOr("SOURCE_URL", ""), "HTTP directory of raw profile files")
		dbPath      = flag.String("db", envOr("DB_PATH", "floatchat.db"), "relational store path")
		qdrantURL   = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection  = flag.String("collection", envOr("QDRANT_COLLECTION", "floatchat_profiles"), "Qdrant collection")
		ollamaURL   = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		embedModel  = flag.String("embed-model", envOr("EMBED_MODEL", "nomic-embed-text"), "embedding model")
		natsURL     = flag.String("nats", envOr("NATS_URL", ""), "NATS server URL (empty disables events)")
		interval    = flag.Duration("interval", 7*24*time.Hour, "time between ingestion runs")
		metricsPort = flag.Int("metrics-port", envInt("METRICS_PORT", 9092), "Prometheus metrics port")
		once        = flag.Bool("once", false, "run a single batch and exit")
	)
	flag.Parse()

	if *sourceURL == "" {
		logger.Error("missing -source / SOURCE_URL")
		os.Exit(1)
	}
	if err := run(runCfg{
		sourceURL:   *sourceURL,
		dbPath:      *dbPath,
		qdrantURL:   *qdrantURL,
		collection:  *collection,
		ollamaURL:   *ollamaURL,
		embedModel:  *embedModel,
		natsURL:     *natsURL,
		interval:    *interval,
		metricsPort: *metricsPort,
		once:        *once,
	}, logger); err != nil {
		logger.Error("ingestd exited with error", "err", err)
		os.Exit(1)
	}
}

type runCfg struct {
	sourceURL   string
	dbPath      string
	qdrantURL   string
	collection  string
	ollamaURL   string
	embedModel  string
	natsURL     string
	interval    time.Duration
	metricsPort int
	once        bool
}

func run(cfg runCfg, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := relational.Open(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	defer store.Close()

	vectors, err := semantic.New(cfg.qdrantURL, cfg.collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx, envInt("VECTOR_DIMS", 768)); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	model := llm.New(llm.Opts{
		BaseURL:    cfg.ollamaURL,
		EmbedModel: cfg.embedModel,
	})

	var events ingest.Publisher
	if cfg.natsURL != "" {
		nc, err := nats.Connect(cfg.natsURL, nats.Name("floatchat-ingestd"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		events = natsEvents{nc: nc}
	}

	committer := sync.New(store, vectors, logger)
	runner := ingest.NewRunner(
		ingest.NewHTTPSource(cfg.sourceURL),
		store, committer, model, events, logger,
	)

	met.ServeAsync(cfg.metricsPort)

	if cfg.once {
		return observe(runner.Run(ctx))
	}

	logger.Info("ingestd starting", "source", cfg.sourceURL, "interval", cfg.interval)
	sched := ingest.NewScheduler(runner, cfg.interval, logger)
	sched.OnDone = func(out ingest.Outcome, err error) { _ = observe(out, err) }
	sched.Start(ctx)
	return nil
}

func observe(out ingest.Outcome, err error) error {
	mBatches(string(out.Status)).Inc()
	mProfiles.Add(int64(out.Profiles))
	mFiles.Add(int64(len(out.Files)))
	mRecovered.Add(int64(len(out.Errors)))
	if err == nil {
		mLastCommit.Set(time.Now().Unix())
	}
	return err
}
