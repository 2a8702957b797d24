package relational

import (
	"fmt"
	"strings"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
)

// queryColumns are the only columns the generated SQL may reference. They
// mirror the committed read view exactly.
var queryColumns = []string{
	"profile_id", "float_id", "cycle", "timestamp",
	"latitude", "longitude", "pres", "temp", "psal",
}

// allowedWords is the SQL vocabulary a generated statement may use beyond
// column names, numbers, and quoted strings.
var allowedWords = map[string]bool{
	"select": true, "from": true, "where": true, "and": true, "or": true,
	"not": true, "in": true, "between": true, "like": true, "is": true,
	"null": true, "as": true, "on": true, "by": true, "group": true,
	"order": true, "having": true, "limit": true, "offset": true,
	"asc": true, "desc": true, "distinct": true, "case": true, "when": true,
	"then": true, "else": true, "end": true, "cast": true, "real": true,
	"integer": true, "text": true,

	"count": true, "avg": true, "min": true, "max": true, "sum": true,
	"round": true, "abs": true, "coalesce": true, "strftime": true,
	"date": true, "julianday": true, "length": true, "lower": true,
	"upper": true,

	QueryTable: true,
}

var forbiddenWords = []string{
	"insert", "update", "delete", "drop", "create", "alter", "attach",
	"detach", "pragma", "vacuum", "reindex", "replace", "union",
	"sqlite_master", "sqlite_schema",
}

// ValidateQuery checks a generated SQL statement against the query contract:
// a single SELECT over the committed measurement view, no writes, no schema
// access, no statement chaining. It returns nil when the statement may run.
func ValidateQuery(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return fmt.Errorf("%w: empty statement", domain.ErrQueryGeneration)
	}
	q = strings.TrimSuffix(q, ";")
	if strings.Contains(q, ";") {
		return fmt.Errorf("%w: multiple statements", domain.ErrQueryGeneration)
	}
	if strings.Contains(q, "--") || strings.Contains(q, "/*") {
		return fmt.Errorf("%w: comments are not allowed", domain.ErrQueryGeneration)
	}

	words := tokenize(q)
	if len(words) == 0 || words[0] != "select" {
		return fmt.Errorf("%w: only SELECT statements are allowed", domain.ErrQueryGeneration)
	}

	lower := strings.ToLower(q)
	for _, w := range forbiddenWords {
		if containsWord(words, w) || strings.Contains(lower, w+"(") {
			return fmt.Errorf("%w: forbidden keyword %q", domain.ErrQueryGeneration, w)
		}
	}
	if !containsWord(words, QueryTable) {
		return fmt.Errorf("%w: query must read from %s", domain.ErrQueryGeneration, QueryTable)
	}

	cols := map[string]bool{}
	for _, c := range queryColumns {
		cols[c] = true
	}
	for _, w := range words {
		if allowedWords[w] || cols[w] {
			continue
		}
		if isNumber(w) {
			continue
		}
		return fmt.Errorf("%w: unknown identifier %q", domain.ErrQueryGeneration, w)
	}
	return nil
}

// tokenize lowercases the statement and splits it into bare words, dropping
// string literals, numbers stay as-is. Aliases introduced with AS count as
// identifiers and are rejected unless they match a known word, which keeps
// the validator simple at the cost of disallowing exotic aliasing.
func tokenize(q string) []string {
	var words []string
	var cur strings.Builder
	inString := false
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range q {
		switch {
		case r == '\'':
			inString = !inString
			flush()
		case inString:
			// literal contents are opaque
		case r == '_' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	out := words[:0]
	for _, w := range words {
		// Qualified references like a.temp split into their parts.
		for _, part := range strings.Split(w, ".") {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func containsWord(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

func isNumber(w string) bool {
	for _, r := range w {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(w) > 0
}
