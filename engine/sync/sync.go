// Package sync commits each ingestion batch to the relational and vector
// stores together: either both halves become visible or neither does.
package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
	"github.com/FloatChatAI/floatchat-engine/engine/semantic"
)

// RelationalStore is the structured half of the commit.
type RelationalStore interface {
	StageProfiles(ctx context.Context, batchID string, records []domain.ProfileRecord) error
	DeleteBatch(ctx context.Context, batchID string) error
	SetBatchStatus(ctx context.Context, batchID string, status domain.BatchStatus, detail string) error
}

// VectorStore is the semantic half of the commit.
type VectorStore interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
	DeleteBatch(ctx context.Context, batchID string) error
}

// Committer applies a batch to both stores with compensation on failure.
type Committer struct {
	relational RelationalStore
	vectors    VectorStore
	log        *slog.Logger
}

// New creates a Committer over the two stores.
func New(relational RelationalStore, vectors VectorStore, log *slog.Logger) *Committer {
	if log == nil {
		log = slog.Default()
	}
	return &Committer{relational: relational, vectors: vectors, log: log}
}

// Commit stages the batch relationally, upserts its vectors, then flips the
// batch to committed. Rows staged relationally stay invisible to readers
// until that final status change, and the retrieval path drops vector
// matches whose batch is not committed, so the flip is the single point of
// visibility for both stores. A reader never observes a half-applied batch;
// the remaining failure modes only need compensating deletes for hygiene.
func (c *Committer) Commit(ctx context.Context, batchID string, records []domain.ProfileRecord, vectors []semantic.VectorRecord) error {
	if err := c.relational.StageProfiles(ctx, batchID, records); err != nil {
		c.fail(ctx, batchID, fmt.Sprintf("relational stage: %v", err))
		return fmt.Errorf("sync: stage batch %s: %w", batchID, err)
	}

	if err := c.vectors.Upsert(ctx, vectors); err != nil {
		c.log.Error("vector upsert failed, compensating", "batch", batchID, "error", err)
		if derr := c.relational.DeleteBatch(ctx, batchID); derr != nil {
			// The batch stays failed either way; staged rows are invisible
			// to readers and will be reaped by a later compensation retry.
			c.log.Error("compensating delete failed", "batch", batchID, "error", derr)
		}
		c.fail(ctx, batchID, fmt.Sprintf("vector upsert: %v", err))
		return fmt.Errorf("sync: upsert vectors for batch %s: %w", batchID, err)
	}

	if err := c.relational.SetBatchStatus(ctx, batchID, domain.BatchCommitted, ""); err != nil {
		c.log.Error("commit flip failed, compensating both stores", "batch", batchID, "error", err)
		if derr := c.vectors.DeleteBatch(ctx, batchID); derr != nil {
			c.log.Error("vector compensation failed", "batch", batchID, "error", derr)
		}
		if derr := c.relational.DeleteBatch(ctx, batchID); derr != nil {
			c.log.Error("relational compensation failed", "batch", batchID, "error", derr)
		}
		return fmt.Errorf("sync: commit batch %s: %w", batchID, err)
	}

	c.log.Info("batch committed", "batch", batchID, "profiles", len(records), "vectors", len(vectors))
	return nil
}

func (c *Committer) fail(ctx context.Context, batchID, detail string) {
	if err := c.relational.SetBatchStatus(ctx, batchID, domain.BatchFailed, detail); err != nil {
		c.log.Error("marking batch failed", "batch", batchID, "error", err)
	}
}
