// Package portal implements the HTTP and HTML layer of borough planning
// portals: a polite session-keeping client plus per-family adapters that
// turn search pages into candidate records.
package portal

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/planwatch/planwatch/internal/scraper"
)

// SearchRequest is the concrete exchange an adapter wants the client to
// perform for one keyword search.
type SearchRequest struct {
	URL    string
	Method string
	Fields map[string]string
}

// Adapter encapsulates one portal family's page structure: how to submit a
// search and how to read the listing and detail pages that come back.
type Adapter interface {
	// BuildSearchRequest prepares the keyword search submission. The CSRF
	// token comes from priming the search page and may be empty.
	BuildSearchRequest(searchURL, keyword, csrfToken string) SearchRequest

	// ParseListing extracts candidates from a results page and classifies
	// the listing outcome.
	ParseListing(doc *goquery.Document) ([]scraper.Candidate, scraper.ListingOutcome)

	// DetailText extracts the descriptive text block of a detail page.
	DetailText(doc *goquery.Document) string
}

// NewAdapter selects the adapter for a portal family. Family names are
// validated at config load, so an unknown family here is a programming error.
func NewAdapter(family string) (Adapter, error) {
	switch family {
	case "idox":
		return &idoxAdapter{}, nil
	case "cards":
		return &cardsAdapter{}, nil
	default:
		return nil, fmt.Errorf("unknown portal family %q", family)
	}
}

// projectIDExpr accepts reference-like identifiers: at least one run of four
// or more alphanumerics, so "25/03344/LBC" passes and stray link text like
// "OK" does not.
var projectIDExpr = regexp.MustCompile(`[A-Za-z0-9]{4,}`)

// ValidProjectID reports whether the extracted reference looks like a real
// planning reference rather than navigation chrome.
func ValidProjectID(id string) bool {
	return projectIDExpr.MatchString(id)
}

// tooBroadMarkers and noResultMarkers are the portal sentinel phrases,
// matched case-insensitively anywhere in the page body.
var (
	tooBroadMarkers = []string{"too many results", "refine your search"}
	noResultMarkers = []string{"no results", "no applications found"}
)

func classifyEmptyListing(doc *goquery.Document) scraper.ListingOutcome {
	body := strings.ToLower(doc.Find("body").Text())
	for _, marker := range tooBroadMarkers {
		if strings.Contains(body, marker) {
			return scraper.ListingTooBroad
		}
	}
	for _, marker := range noResultMarkers {
		if strings.Contains(body, marker) {
			return scraper.ListingNoResults
		}
	}
	return scraper.ListingNoResults
}

// detailSelectors are tried in order; the first non-empty match wins. The
// final "body" fallback means malformed detail pages still yield text.
var detailSelectors = []string{
	"div.content",
	"#main",
	"div.main-content",
	"main",
	"body",
}

func extractDetailText(doc *goquery.Document) string {
	for _, sel := range detailSelectors {
		if text := CleanText(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// AbsoluteURL resolves href against base, tolerating already-absolute hrefs.
func AbsoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
