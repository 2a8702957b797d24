// Package router classifies incoming questions into spatial, semantic, or
// hybrid query plans and merges them with session context.
package router

import (
	"fmt"
	"strings"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
	"github.com/FloatChatAI/floatchat-engine/engine/session"
)

// spatialVocab marks aggregation/comparison questions answered by the
// structured store.
var spatialVocab = []string{
	"average", "avg", "mean", "how many", "count", "maximum", "max",
	"minimum", "min", "sum", "total", "deepest", "shallowest", "warmest",
	"coldest", "saltiest", "trend", "range", "between", "nearest",
	"trajectory", "statistics", "compare",
}

// semanticVocab marks open-ended or descriptive questions answered by
// similarity search.
var semanticVocab = []string{
	"similar", "like", "describe", "description", "characterize",
	"conditions", "typical", "unusual", "anomal", "interesting",
	"pattern", "resemble", "summary", "summarize", "what is it like",
	"tell me about",
}

// Plan resolves a question against the session snapshot into a query plan.
//
// Region resolution: a location named in the question wins; otherwise the
// session's active region is inherited. Spatial and hybrid plans require a
// region; when none resolves the caller gets ErrMissingRegion and should
// prompt the user instead of guessing.
func Plan(question string, snap session.Snapshot) (domain.QueryPlan, error) {
	plan := domain.QueryPlan{Text: question}

	spatial := containsAny(question, spatialVocab)
	semantic := containsAny(question, semanticVocab)
	switch {
	case spatial && semantic:
		plan.Mode = domain.ModeHybrid
	case spatial:
		plan.Mode = domain.ModeSpatial
	default:
		// Open-ended questions with no aggregation signal go to
		// similarity search.
		plan.Mode = domain.ModeSemantic
	}

	if r := domain.RegionFromText(question); r != nil {
		plan.Region = r
	} else if snap.Region != nil {
		r := *snap.Region
		plan.Region = &r
	}

	if plan.Region == nil && plan.Mode != domain.ModeSemantic {
		return domain.QueryPlan{}, fmt.Errorf(
			"%w: %s question needs a region, none selected or named", domain.ErrMissingRegion, plan.Mode)
	}
	return plan, nil
}

func containsAny(text string, vocab []string) bool {
	lower := strings.ToLower(text)
	for _, w := range vocab {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
