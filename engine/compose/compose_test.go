package compose

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
	"github.com/FloatChatAI/floatchat-engine/engine/relational"
	"github.com/FloatChatAI/floatchat-engine/engine/semantic"
	"github.com/FloatChatAI/floatchat-engine/engine/session"
)

type failingRephraser struct{}

func (failingRephraser) Chat(context.Context, string, string) (string, error) {
	return "", errors.New("model unavailable")
}

func bengalPlan(mode domain.QueryMode) domain.QueryPlan {
	r := domain.NamedRegions["bay of bengal"]
	return domain.QueryPlan{Mode: mode, Region: &r, Text: "average temperature here"}
}

func aggRows() *relational.RowSet {
	return &relational.RowSet{
		Columns: []string{"avg_temp"},
		Rows:    [][]any{{28.4}},
	}
}

func TestSpatialSummaryQuotesActualValues(t *testing.T) {
	sess := session.NewStore().Get("s1")
	ans := New(nil, nil).Compose(context.Background(), sess, bengalPlan(domain.ModeSpatial), aggRows(), nil)

	if ans.Mode != domain.ModeSpatial || ans.Rows == nil || ans.Records != nil {
		t.Fatalf("answer groups wrong: %+v", ans)
	}
	if !strings.Contains(ans.Summary, "28.4") {
		t.Fatalf("summary does not quote the returned value: %q", ans.Summary)
	}
	if !strings.Contains(ans.Summary, "Bay of Bengal") {
		t.Fatalf("summary does not name the region: %q", ans.Summary)
	}
}

func TestHybridKeepsGroupsSeparate(t *testing.T) {
	sess := session.NewStore().Get("s1")
	matches := []semantic.Match{{ProfileID: "2902746:12", Score: 0.91}}
	ans := New(nil, nil).Compose(context.Background(), sess, bengalPlan(domain.ModeHybrid), aggRows(), matches)

	if ans.Rows == nil || len(ans.Records) != 1 {
		t.Fatalf("hybrid answer missing a group: %+v", ans)
	}
	if !strings.Contains(ans.Summary, "Structured results") || !strings.Contains(ans.Summary, "Similar profiles") {
		t.Fatalf("hybrid summary not labeled: %q", ans.Summary)
	}
}

func TestEmptyResultsStatedPlainly(t *testing.T) {
	sess := session.NewStore().Get("s1")
	ans := New(nil, nil).Compose(context.Background(), sess, bengalPlan(domain.ModeSpatial),
		&relational.RowSet{Columns: []string{"avg_temp"}}, nil)
	if !strings.Contains(ans.Summary, "No measurements") {
		t.Fatalf("summary = %q", ans.Summary)
	}
}

func TestRephraseFailureFallsBack(t *testing.T) {
	sess := session.NewStore().Get("s1")
	ans := New(failingRephraser{}, nil).Compose(context.Background(), sess, bengalPlan(domain.ModeSpatial), aggRows(), nil)
	if !strings.Contains(ans.Summary, "28.4") {
		t.Fatalf("fallback summary lost the data: %q", ans.Summary)
	}
}

func TestComposeAppendsTurn(t *testing.T) {
	sess := session.NewStore().Get("s1")
	New(nil, nil).Compose(context.Background(), sess, bengalPlan(domain.ModeSpatial), aggRows(), nil)

	turns := sess.Snapshot().Turns
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if turns[0].Question != "average temperature here" || turns[0].Mode != domain.ModeSpatial {
		t.Fatalf("turn = %+v", turns[0])
	}
	if turns[0].Region == nil || turns[0].Region.Name != "Bay of Bengal" {
		t.Fatalf("turn does not record the resolved region: %+v", turns[0].Region)
	}
}
