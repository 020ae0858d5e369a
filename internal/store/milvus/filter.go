package milvus

import (
	"fmt"
	"strings"
	"time"

	"semstore/internal/core"
)

// buildFilterExpr compiles a MetadataFilter into a Milvus boolean
// expression. Fields present are ANDed; a zero filter compiles to the
// empty expression (match everything). The same expression is used by
// search, delete and scan so the three paths can never disagree on what
// a filter matches.
func buildFilterExpr(f *core.MetadataFilter) (string, error) {
	if f.IsZero() {
		return "", nil
	}

	var terms []string
	if f.DocumentID != "" {
		terms = append(terms, eqExpr(FieldDocumentID, f.DocumentID))
	}
	if f.Source != "" {
		terms = append(terms, eqExpr(FieldSource, string(f.Source)))
	}
	if f.SourceID != "" {
		terms = append(terms, eqExpr(FieldSourceID, f.SourceID))
	}
	if f.Author != "" {
		terms = append(terms, eqExpr(FieldAuthor, f.Author))
	}
	if f.URL != "" {
		terms = append(terms, eqExpr(FieldURL, f.URL))
	}
	if f.StartDate != "" {
		t, err := core.ParseTime(f.StartDate)
		if err != nil {
			return "", core.Validationf("invalid start_date %q: %v", f.StartDate, err)
		}
		terms = append(terms, fmt.Sprintf("%s >= %d", FieldCreatedAt, t.Unix()))
	}
	if f.EndDate != "" {
		t, err := core.ParseTime(f.EndDate)
		if err != nil {
			return "", core.Validationf("invalid end_date %q: %v", f.EndDate, err)
		}
		terms = append(terms, fmt.Sprintf("%s <= %d", FieldCreatedAt, t.Unix()))
	}
	return strings.Join(terms, " and "), nil
}

func eqExpr(field, value string) string {
	return fmt.Sprintf(`%s == "%s"`, field, escapeString(value))
}

func inExpr(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + escapeString(v) + `"`
	}
	return fmt.Sprintf("%s in [%s]", field, strings.Join(quoted, ", "))
}

// escapeString keeps caller-supplied values from breaking out of the
// quoted literal in an expression.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func unixOrZero(rfc3339 string) int64 {
	if rfc3339 == "" {
		return 0
	}
	t, err := core.ParseTime(rfc3339)
	if err != nil {
		return 0
	}
	return t.Unix()
}

func rfc3339OrEmpty(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
