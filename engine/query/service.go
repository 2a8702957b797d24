// Package query orchestrates one question end to end: route, generate and
// run retrieval, compose the answer, update session context.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/FloatChatAI/floatchat-engine/engine/compose"
	"github.com/FloatChatAI/floatchat-engine/engine/domain"
	"github.com/FloatChatAI/floatchat-engine/engine/relational"
	"github.com/FloatChatAI/floatchat-engine/engine/router"
	"github.com/FloatChatAI/floatchat-engine/engine/semantic"
	"github.com/FloatChatAI/floatchat-engine/engine/session"
	"github.com/FloatChatAI/floatchat-engine/pkg/fn"
)

// SQLGenerator produces a validated SQL statement for a question.
type SQLGenerator interface {
	Generate(ctx context.Context, question string, region *domain.Region) (string, error)
}

// RowQuerier executes validated statements against the committed view.
type RowQuerier interface {
	Query(ctx context.Context, query string) (*relational.RowSet, error)
}

// Retriever finds profiles similar to the question text.
type Retriever interface {
	Retrieve(ctx context.Context, text string, region *domain.Region) ([]semantic.Match, error)
}

// Service handles the caller-facing query API.
type Service struct {
	sessions  *session.Store
	agent     SQLGenerator
	rows      RowQuerier
	retriever Retriever
	composer  *compose.Composer
	timeout   time.Duration
	log       *slog.Logger
}

// New creates a Service. timeout bounds one turn's store and model calls;
// zero means 30s.
func New(sessions *session.Store, agent SQLGenerator, rows RowQuerier, retriever Retriever, composer *compose.Composer, timeout time.Duration, log *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		sessions:  sessions,
		agent:     agent,
		rows:      rows,
		retriever: retriever,
		composer:  composer,
		timeout:   timeout,
		log:       log,
	}
}

// Ask answers one question within a session. Turns within a session are
// processed strictly in arrival order; the per-session lock is held for the
// whole exchange. On any error the turn is not recorded, so session context
// never reflects a failed or timed-out exchange.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (compose.Answer, error) {
	ctx, span := otel.Tracer("engine/query").Start(ctx, "query.ask")
	defer span.End()

	sess := s.sessions.Get(sessionID)
	sess.Lock()
	defer sess.Unlock()

	plan, err := router.Plan(question, sess.Snapshot())
	if err != nil {
		return compose.Answer{}, err
	}
	s.log.Info("question routed", "session", sess.ID(), "mode", plan.Mode)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows *relational.RowSet
	var matches []semantic.Match
	switch plan.Mode {
	case domain.ModeSpatial:
		rows, err = s.runSpatial(ctx, plan)
	case domain.ModeSemantic:
		matches, err = s.retriever.Retrieve(ctx, plan.Text, plan.Region)
	case domain.ModeHybrid:
		// Both engines run concurrently; either failure fails the turn.
		results := fn.FanOut(
			func() error {
				var rerr error
				rows, rerr = s.runSpatial(ctx, plan)
				return rerr
			},
			func() error {
				var merr error
				matches, merr = s.retriever.Retrieve(ctx, plan.Text, plan.Region)
				return merr
			},
		)
		err = errors.Join(results...)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return compose.Answer{}, fmt.Errorf("%w: %v", domain.ErrRetrievalTimeout, err)
		}
		return compose.Answer{}, err
	}

	return s.composer.Compose(ctx, sess, plan, rows, matches), nil
}

func (s *Service) runSpatial(ctx context.Context, plan domain.QueryPlan) (*relational.RowSet, error) {
	stmt, err := s.agent.Generate(ctx, plan.Text, plan.Region)
	if err != nil {
		return nil, err
	}
	return s.rows.Query(ctx, stmt)
}

// SelectRegion validates and stores a drawn region as the session's active
// region, superseding any previous one.
func (s *Service) SelectRegion(sessionID string, region domain.Region) error {
	if err := region.Validate(); err != nil {
		return err
	}
	s.sessions.Get(sessionID).SelectRegion(region)
	return nil
}

// EndSession discards a session and its context.
func (s *Service) EndSession(sessionID string) {
	s.sessions.End(sessionID)
}

// Session returns the current session snapshot, creating the session if
// needed.
func (s *Service) Session(sessionID string) session.Snapshot {
	return s.sessions.Get(sessionID).Snapshot()
}
