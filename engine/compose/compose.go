// Package compose merges structured rows and semantic matches into one
// answer payload and records the completed turn in the session.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
	"github.com/FloatChatAI/floatchat-engine/engine/relational"
	"github.com/FloatChatAI/floatchat-engine/engine/semantic"
	"github.com/FloatChatAI/floatchat-engine/engine/session"
)

// Answer is the caller-facing query result. In hybrid mode Rows and Records
// are separate labeled groups, never interleaved.
type Answer struct {
	Summary string            `json:"summary"`
	Mode    domain.QueryMode  `json:"mode"`
	Rows    *relational.RowSet `json:"rows,omitempty"`
	Records []semantic.Match  `json:"records,omitempty"`
}

// Rephraser optionally restates the deterministic summary in plain prose.
type Rephraser interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Composer builds answers. rephrase may be nil, in which case the
// deterministic summary is returned as-is.
type Composer struct {
	rephrase Rephraser
	log      *slog.Logger
}

// New creates a Composer.
func New(rephrase Rephraser, log *slog.Logger) *Composer {
	if log == nil {
		log = slog.Default()
	}
	return &Composer{rephrase: rephrase, log: log}
}

const rephrasePrompt = `You restate oceanographic query results for a chat user.
Use ONLY the numbers and facts given. Never invent values, never extrapolate.
Reply with one short paragraph.`

// Compose merges the result groups into an answer and appends the turn to
// the session. The summary always derives from the actual returned values;
// the language model may only restate it, and any rephrase failure falls
// back to the deterministic text.
func (c *Composer) Compose(ctx context.Context, sess *session.Session, plan domain.QueryPlan, rows *relational.RowSet, matches []semantic.Match) Answer {
	summary := c.summarize(plan, rows, matches)
	if c.rephrase != nil && summary != "" {
		if text, err := c.rephrase.Chat(ctx, rephrasePrompt, summary); err == nil && strings.TrimSpace(text) != "" {
			summary = strings.TrimSpace(text)
		} else if err != nil {
			c.log.Warn("summary rephrase failed, using deterministic text", "error", err)
		}
	}

	ans := Answer{Summary: summary, Mode: plan.Mode}
	switch plan.Mode {
	case domain.ModeSpatial:
		ans.Rows = rows
	case domain.ModeSemantic:
		ans.Records = matches
	case domain.ModeHybrid:
		ans.Rows = rows
		ans.Records = matches
	}

	sess.AppendTurn(session.Turn{
		Question: plan.Text,
		Answer:   summary,
		Mode:     plan.Mode,
		Region:   plan.Region,
	})
	return ans
}

func (c *Composer) summarize(plan domain.QueryPlan, rows *relational.RowSet, matches []semantic.Match) string {
	var parts []string
	if plan.Mode == domain.ModeSpatial || plan.Mode == domain.ModeHybrid {
		parts = append(parts, summarizeRows(rows, plan.Region))
	}
	if plan.Mode == domain.ModeSemantic || plan.Mode == domain.ModeHybrid {
		parts = append(parts, summarizeMatches(matches))
	}
	if plan.Mode == domain.ModeHybrid {
		return "Structured results: " + parts[0] + "\nSimilar profiles: " + parts[1]
	}
	return parts[0]
}

func summarizeRows(rows *relational.RowSet, region *domain.Region) string {
	if rows == nil || len(rows.Rows) == 0 {
		return "No measurements matched the query" + inRegion(region) + "."
	}
	if len(rows.Rows) == 1 && len(rows.Columns) <= 3 {
		// Aggregate-style result: quote the values directly.
		pairs := make([]string, len(rows.Columns))
		for i, col := range rows.Columns {
			pairs[i] = fmt.Sprintf("%s = %s", col, formatValue(rows.Rows[0][i]))
		}
		return strings.Join(pairs, ", ") + inRegion(region) + "."
	}
	return fmt.Sprintf("%d rows over columns %s%s.",
		len(rows.Rows), strings.Join(rows.Columns, ", "), inRegion(region))
}

func summarizeMatches(matches []semantic.Match) string {
	if len(matches) == 0 {
		return "No similar profiles found."
	}
	top := matches
	if len(top) > 3 {
		top = top[:3]
	}
	ids := make([]string, len(top))
	for i, m := range top {
		ids[i] = fmt.Sprintf("%s (score %.2f)", m.ProfileID, m.Score)
	}
	return fmt.Sprintf("%d similar profiles, closest: %s.", len(matches), strings.Join(ids, ", "))
}

func inRegion(region *domain.Region) string {
	if region == nil || region.Name == "" {
		return ""
	}
	return " in " + region.Name
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case float64:
		return fmt.Sprintf("%.3g", t)
	default:
		return fmt.Sprint(t)
	}
}
