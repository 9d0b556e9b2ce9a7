package portal

import (
	"regexp"
	"strings"
	"time"
)

var whitespaceExpr = regexp.MustCompile(`\s+`)

// CleanText collapses runs of whitespace and trims the result. goquery
// already decodes entities, so this is purely whitespace normalization.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(whitespaceExpr.ReplaceAllString(text, " "))
}

// dateLayouts covers the formats the portals emit. UK portals write
// day-first numeric dates.
var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"2006-01-02",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

var datePortionExpr = regexp.MustCompile(
	`\d{1,2}[/-]\d{1,2}[/-]\d{4}|\d{4}-\d{1,2}-\d{1,2}|\d{1,2} [A-Za-z]+ \d{4}|[A-Za-z]+ \d{1,2},? \d{4}`,
)

// NormalizeDate parses a portal date string and returns it as ISO-8601
// (YYYY-MM-DD). Unparsable input yields "", never an error.
func NormalizeDate(raw string) string {
	cleaned := CleanText(raw)
	if cleaned == "" {
		return ""
	}
	portion := datePortionExpr.FindString(cleaned)
	if portion == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, portion); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
