// Package sqlagent turns a natural-language question into a validated SQL
// statement over the committed measurement view. The language model proposes
// a query against a fixed, pre-declared schema; nothing unvalidated is ever
// executed.
package sqlagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
	"github.com/FloatChatAI/floatchat-engine/engine/relational"
)

// ChatClient is the hosted language model used as a bounded reasoning tool.
type ChatClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// RegionIndex resolves a region to the exact committed profile ids inside it.
type RegionIndex interface {
	IDsInRegion(ctx context.Context, region domain.Region) ([]string, error)
}

// Agent generates validated SELECT statements.
type Agent struct {
	client ChatClient
	index  RegionIndex
	log    *slog.Logger
}

// New creates an Agent. index may be nil, in which case every region falls
// back to its bounding box.
func New(client ChatClient, index RegionIndex, log *slog.Logger) *Agent {
	if log == nil {
		log = slog.Default()
	}
	return &Agent{client: client, index: index, log: log}
}

const systemPrompt = `You translate oceanographic questions into SQLite SELECT statements.

The only table is argo_measurements with columns:
  profile_id TEXT  -- "<float_id>:<cycle>"
  float_id   TEXT
  cycle      INTEGER
  timestamp  TEXT  -- RFC 3339 UTC
  latitude   REAL  -- degrees north
  longitude  REAL  -- degrees east
  pres       REAL  -- pressure in dbar; doubles as depth, surface is pres <= 10
  psal       REAL  -- salinity in PSU
  temp       REAL  -- temperature in degrees C

Each row is one measurement level; a profile has many rows.
Rules: respond with exactly one SELECT statement and nothing else.
No comments, no explanations, no other tables, no writes.`

// Generate produces a validated SQL statement for the question. When a region
// is present its spatial predicate is injected explicitly instead of leaving
// the model to infer coordinates from prose. An invalid statement is retried
// once with the validation error as feedback; a second failure surfaces
// ErrQueryGeneration.
func (a *Agent) Generate(ctx context.Context, question string, region *domain.Region) (string, error) {
	user := question
	if region != nil {
		pred, err := a.spatialPredicate(ctx, *region)
		if err != nil {
			return "", err
		}
		user = fmt.Sprintf(
			"%s\n\nRestrict to the selected area with exactly this predicate:\n%s",
			question, pred)
	}

	reply, err := a.client.Chat(ctx, systemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrQueryGeneration, err)
	}
	query := extractSQL(reply)
	verr := relational.ValidateQuery(query)
	if verr == nil {
		return query, nil
	}

	a.log.Warn("generated query rejected, retrying", "error", verr, "query", query)
	feedback := fmt.Sprintf("%s\n\nYour previous answer was rejected: %v\nPrevious answer:\n%s\nReturn a corrected SELECT statement.", user, verr, query)
	reply, err = a.client.Chat(ctx, systemPrompt, feedback)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrQueryGeneration, err)
	}
	query = extractSQL(reply)
	if verr := relational.ValidateQuery(query); verr != nil {
		return "", verr
	}
	return query, nil
}

// spatialPredicate renders a region as SQL. A rectangle becomes a coordinate
// range; any other polygon resolves to its exact in-region profile id set,
// since a bounding box over a drawn polygon would admit out-of-region points
// into aggregates.
func (a *Agent) spatialPredicate(ctx context.Context, region domain.Region) (string, error) {
	if region.IsBox() || a.index == nil {
		minLat, maxLat, minLon, maxLon := region.Bounds()
		return fmt.Sprintf("latitude BETWEEN %g AND %g AND longitude BETWEEN %g AND %g",
			minLat, maxLat, minLon, maxLon), nil
	}
	ids, err := a.index.IDsInRegion(ctx, region)
	if err != nil {
		return "", fmt.Errorf("sqlagent: resolve region %s: %w", region.Name, err)
	}
	if len(ids) == 0 {
		// Matches nothing; the answer states an empty result instead of
		// silently widening to the bounding box.
		return "profile_id IN ('')", nil
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + strings.ReplaceAll(id, "'", "''") + "'"
	}
	return "profile_id IN (" + strings.Join(quoted, ", ") + ")", nil
}

// extractSQL pulls the statement out of a model reply, tolerating markdown
// code fences and leading prose.
func extractSQL(reply string) string {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "sql")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	if i := strings.Index(strings.ToLower(s), "select"); i > 0 {
		s = s[i:]
	}
	return strings.TrimSpace(s)
}
