// Package ingest runs the periodic pipeline that turns remote profile files
// into committed records in both stores. One batch walks
// Idle → Fetching → Converting → Transforming → Loading → Committed, or
// Failed from any non-terminal state. A malformed file or an embedding
// failure never aborts the batch; a store failure always does.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/FloatChatAI/floatchat-engine/engine/argo"
	"github.com/FloatChatAI/floatchat-engine/engine/domain"
	"github.com/FloatChatAI/floatchat-engine/engine/semantic"
	"github.com/FloatChatAI/floatchat-engine/pkg/fn"
)

// NATS subjects for batch lifecycle events.
const (
	SubjectCommitted = "floatchat.ingest.committed"
	SubjectFailed    = "floatchat.ingest.failed"
)

// BatchEvent is published on every terminal batch transition.
type BatchEvent struct {
	BatchID  string   `json:"batch_id"`
	Status   string   `json:"status"`
	Files    []string `json:"files"`
	Profiles int      `json:"profiles"`
	Errors   []string `json:"errors,omitempty"`
}

// Ledger is the relational store's batch bookkeeping surface.
type Ledger interface {
	CreateBatch(ctx context.Context, b domain.Batch) error
	SetBatchStatus(ctx context.Context, batchID string, status domain.BatchStatus, detail string) error
	IsIngested(ctx context.Context, checksum string) (bool, error)
	RecordFile(ctx context.Context, checksum, filename, batchID string) error
}

// Committer applies one batch to both stores atomically.
type Committer interface {
	Commit(ctx context.Context, batchID string, records []domain.ProfileRecord, vectors []semantic.VectorRecord) error
}

// Embedder derives one vector per profile summary.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Version() string
}

// Publisher emits batch lifecycle events. May be nil.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Runner executes ingestion batches.
type Runner struct {
	source    Source
	ledger    Ledger
	committer Committer
	embedder  Embedder
	events    Publisher
	log       *slog.Logger

	// Batches are serialized: only one may be between Fetching and
	// Loading at a time.
	mu gosync.Mutex
}

// NewRunner wires an ingestion runner. events may be nil.
func NewRunner(source Source, ledger Ledger, committer Committer, embedder Embedder, events Publisher, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		source:    source,
		ledger:    ledger,
		committer: committer,
		embedder:  embedder,
		events:    events,
		log:       log,
	}
}

// Outcome summarizes one completed batch run.
type Outcome struct {
	BatchID  string
	Status   domain.BatchStatus
	Files    []string
	Profiles int
	// Errors holds the recovered per-file and per-record errors; the batch
	// still commits with these present.
	Errors []error
}

// Run executes one full batch. A batch that finds nothing new commits empty.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := otel.Tracer("engine/ingest").Start(ctx, "ingest.run")
	defer span.End()

	out := Outcome{BatchID: uuid.NewString()}
	if err := r.ledger.CreateBatch(ctx, domain.Batch{
		ID:        out.BatchID,
		Status:    domain.BatchIdle,
		StartedAt: time.Now(),
	}); err != nil {
		return out, fmt.Errorf("ingest: create batch: %w", err)
	}

	// Fetching.
	r.setStatus(ctx, out.BatchID, domain.BatchFetching)
	names, err := r.source.List(ctx)
	if err != nil {
		return r.fail(ctx, out, fmt.Errorf("ingest: list source: %w", err))
	}

	workdir, err := os.MkdirTemp("", "floatchat-ingest-*")
	if err != nil {
		return r.fail(ctx, out, fmt.Errorf("ingest: workdir: %w", err))
	}
	defer os.RemoveAll(workdir)

	type fetched struct {
		name, path, checksum string
	}
	var files []fetched
	fetchFailures := 0
	fetchRetry := fn.RetryOpts{MaxAttempts: 3, InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Jitter: true}
	for _, name := range names {
		path, ferr := fn.Retry(ctx, fetchRetry, func(ctx context.Context) fn.Result[string] {
			return fn.FromPair(r.source.Fetch(ctx, name, workdir))
		}).Unwrap()
		if ferr != nil {
			// Transient: the file stays unrecorded and is retried on the
			// next tick.
			fetchFailures++
			out.Errors = append(out.Errors, ferr)
			r.log.Warn("fetch failed", "file", name, "error", ferr)
			continue
		}
		sum, serr := Checksum(path)
		if serr != nil {
			out.Errors = append(out.Errors, serr)
			continue
		}
		done, ierr := r.ledger.IsIngested(ctx, sum)
		if ierr != nil {
			return r.fail(ctx, out, fmt.Errorf("ingest: checksum lookup: %w", ierr))
		}
		if done {
			r.log.Debug("already ingested", "file", name)
			continue
		}
		files = append(files, fetched{name: name, path: path, checksum: sum})
	}
	if len(names) > 0 && fetchFailures == len(names) {
		return r.fail(ctx, out, fmt.Errorf("ingest: all %d fetches failed", len(names)))
	}

	// Converting: a file that cannot be parsed is recorded and skipped.
	r.setStatus(ctx, out.BatchID, domain.BatchConverting)
	var records []domain.ProfileRecord
	var ingestedFiles []fetched
	for _, f := range files {
		recs, perr := argo.ParseFile(f.path)
		if perr != nil {
			cerr := &domain.ConversionError{File: f.name, Err: perr}
			out.Errors = append(out.Errors, cerr)
			r.log.Warn("conversion failed", "file", f.name, "error", perr)
			continue
		}
		kept := 0
		for _, rec := range recs {
			if verr := domain.ValidateProfile(rec); verr != nil {
				out.Errors = append(out.Errors, &domain.ConversionError{File: f.name, Err: verr})
				continue
			}
			rec.BatchID = out.BatchID
			records = append(records, rec)
			kept++
		}
		out.Files = append(out.Files, f.name)
		ingestedFiles = append(ingestedFiles, f)
		r.log.Info("file converted", "file", f.name, "profiles", kept)
	}

	// Transforming: one embedding per record; a failed embedding excludes
	// only that record, keeping the two stores 1:1.
	r.setStatus(ctx, out.BatchID, domain.BatchTransforming)
	var committed []domain.ProfileRecord
	var vectors []semantic.VectorRecord
	for _, rec := range records {
		vec, eerr := r.embedder.Embed(ctx, Summary(rec))
		if eerr != nil {
			out.Errors = append(out.Errors, &domain.EmbeddingError{ProfileID: rec.ID(), Err: eerr})
			r.log.Warn("embedding failed", "profile", rec.ID(), "error", eerr)
			continue
		}
		committed = append(committed, rec)
		vectors = append(vectors, semantic.VectorRecord{
			ProfileID: rec.ID(),
			BatchID:   out.BatchID,
			Version:   r.embedder.Version(),
			Summary:   Summary(rec),
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			Embedding: vec,
		})
	}

	// Loading.
	r.setStatus(ctx, out.BatchID, domain.BatchLoading)
	for _, f := range ingestedFiles {
		if err := r.ledger.RecordFile(ctx, f.checksum, f.name, out.BatchID); err != nil {
			return r.fail(ctx, out, fmt.Errorf("ingest: record file %s: %w", f.name, err))
		}
	}
	if err := r.committer.Commit(ctx, out.BatchID, committed, vectors); err != nil {
		// The committer already compensated and marked the batch failed.
		out.Status = domain.BatchFailed
		r.publish(ctx, SubjectFailed, out, err)
		return out, err
	}

	out.Status = domain.BatchCommitted
	out.Profiles = len(committed)
	if len(out.Errors) > 0 {
		r.appendDetail(ctx, out)
	}
	r.publish(ctx, SubjectCommitted, out, nil)
	r.log.Info("batch done", "batch", out.BatchID, "files", len(out.Files),
		"profiles", out.Profiles, "recovered_errors", len(out.Errors))
	return out, nil
}

func (r *Runner) setStatus(ctx context.Context, batchID string, status domain.BatchStatus) {
	if err := r.ledger.SetBatchStatus(ctx, batchID, status, ""); err != nil {
		r.log.Error("status transition failed", "batch", batchID, "status", status, "error", err)
	}
}

func (r *Runner) fail(ctx context.Context, out Outcome, err error) (Outcome, error) {
	out.Status = domain.BatchFailed
	if serr := r.ledger.SetBatchStatus(ctx, out.BatchID, domain.BatchFailed, err.Error()); serr != nil {
		r.log.Error("marking batch failed", "batch", out.BatchID, "error", serr)
	}
	r.publish(ctx, SubjectFailed, out, err)
	return out, err
}

// appendDetail writes recovered errors into the already-terminal batch's
// audit detail via the event log only; terminal rows are immutable.
func (r *Runner) appendDetail(ctx context.Context, out Outcome) {
	msgs := fn.Map(out.Errors, func(e error) string { return e.Error() })
	r.log.Info("batch committed with recovered errors", "batch", out.BatchID, "detail", strings.Join(msgs, "; "))
}

func (r *Runner) publish(ctx context.Context, subject string, out Outcome, cause error) {
	if r.events == nil {
		return
	}
	ev := BatchEvent{
		BatchID:  out.BatchID,
		Status:   string(out.Status),
		Files:    out.Files,
		Profiles: out.Profiles,
		Errors:   fn.Map(out.Errors, func(e error) string { return e.Error() }),
	}
	if cause != nil {
		ev.Errors = append(ev.Errors, cause.Error())
	}
	if err := r.events.Publish(ctx, subject, ev); err != nil {
		r.log.Warn("event publish failed", "subject", subject, "error", err)
	}
}

// Scheduler triggers ingestion runs on a fixed interval, starting with an
// immediate run.
type Scheduler struct {
	runner   *Runner
	interval time.Duration
	log      *slog.Logger

	// OnDone, when set, observes every completed run.
	OnDone func(Outcome, error)
}

// NewScheduler creates a Scheduler. interval <= 0 defaults to a week.
func NewScheduler(runner *Runner, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{runner: runner, interval: interval, log: log}
}

// Start blocks, running batches until ctx is cancelled. Batch errors are
// logged and swallowed: a failed batch is retried on the next tick with the
// same candidate files.
func (s *Scheduler) Start(ctx context.Context) {
	s.tick(ctx)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	out, err := s.runner.Run(ctx)
	if err != nil {
		s.log.Error("scheduled batch failed", "batch", out.BatchID, "error", err)
	}
	if s.OnDone != nil {
		s.OnDone(out, err)
	}
}
