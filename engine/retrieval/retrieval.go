// Package retrieval embeds questions and finds the nearest profile
// summaries, optionally pre-filtered to a region's candidate set.
package retrieval

import (
	"context"
	"fmt"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
	"github.com/FloatChatAI/floatchat-engine/engine/semantic"
	"github.com/FloatChatAI/floatchat-engine/pkg/fn"
)

// Embedder turns text into a vector under a named embedding version.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Version() string
}

// Searcher is the vector store's query surface.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, version string, eligible []string) ([]semantic.Match, error)
}

// RegionIndex resolves a region to the profile ids located inside it.
type RegionIndex interface {
	IDsInRegion(ctx context.Context, region domain.Region) ([]string, error)
}

// BatchLedger reports which ingestion batches have committed.
type BatchLedger interface {
	BatchCommitted(ctx context.Context, batchID string) (bool, error)
}

// Engine runs similarity retrieval.
type Engine struct {
	embedder Embedder
	searcher Searcher
	index    RegionIndex
	ledger   BatchLedger
	topK     int
}

// New creates an Engine. topK <= 0 defaults to 10.
func New(embedder Embedder, searcher Searcher, index RegionIndex, ledger BatchLedger, topK int) *Engine {
	if topK <= 0 {
		topK = 10
	}
	return &Engine{embedder: embedder, searcher: searcher, index: index, ledger: ledger, topK: topK}
}

// Retrieve embeds text and returns the nearest matches. With a region, the
// candidate set is narrowed to in-region profiles before ranking, never
// after: points that rank poorly globally but are the only ones in-region
// must still surface. An empty in-region candidate set short-circuits to no
// matches.
func (e *Engine) Retrieve(ctx context.Context, text string, region *domain.Region) ([]semantic.Match, error) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed question: %w", err)
	}

	var eligible []string
	if region != nil {
		eligible, err = e.index.IDsInRegion(ctx, *region)
		if err != nil {
			return nil, fmt.Errorf("retrieval: region candidates: %w", err)
		}
		if len(eligible) == 0 {
			return nil, nil
		}
	}

	matches, err := e.searcher.Search(ctx, vec, e.topK, e.embedder.Version(), eligible)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	for _, m := range matches {
		if m.Version != "" && m.Version != e.embedder.Version() {
			return nil, fmt.Errorf("%w: stored %s, query %s",
				domain.ErrVersionMismatch, m.Version, e.embedder.Version())
		}
	}

	// Points are searchable the moment they are upserted, which is before
	// their batch flips to committed. Matches from a batch mid-commit or
	// mid-compensation are dropped here so the vector read path honors the
	// same commit barrier as the relational view.
	committed := map[string]bool{}
	for _, m := range matches {
		if _, ok := committed[m.BatchID]; ok {
			continue
		}
		ok, lerr := e.ledger.BatchCommitted(ctx, m.BatchID)
		if lerr != nil {
			return nil, fmt.Errorf("retrieval: batch status: %w", lerr)
		}
		committed[m.BatchID] = ok
	}
	return fn.Filter(matches, func(m semantic.Match) bool { return committed[m.BatchID] }), nil
}
