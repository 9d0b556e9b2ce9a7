// Package scraper defines the core pipeline types shared across subsystems.
package scraper

import (
	"context"
	"time"
)

// SessionStatus is the terminal outcome recorded for a borough scrape.
type SessionStatus string

// Session status values persisted in the scrape log.
const (
	SessionSuccess SessionStatus = "success"
	SessionError   SessionStatus = "error"
)

// PlanningApplication is the primary output record of the pipeline. A record
// is only ever produced when DetectedKeywords is non-empty, and is immutable
// once built; the store's insert-or-ignore discipline handles duplicates on
// (ProjectID, Borough).
type PlanningApplication struct {
	ProjectID        string    `json:"project_id"`
	Borough          string    `json:"borough"`
	Title            string    `json:"title"`
	Address          string    `json:"address"`
	SubmissionDate   string    `json:"submission_date,omitempty"`
	ApplicationURL   string    `json:"application_url"`
	DetectedKeywords []string  `json:"detected_keywords"`
	SourceURL        string    `json:"source_url"`
	ScrapedAt        time.Time `json:"scraped_timestamp"`
}

// ScrapeSession records one invocation of one borough's scraper.
type ScrapeSession struct {
	ID         string        `json:"id"`
	Borough    string        `json:"borough"`
	Keywords   []string      `json:"keywords"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	TotalFound int           `json:"total_found"`
	NewFound   int           `json:"new_found"`
	Requests   int           `json:"requests"`
	Status     SessionStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
}

// BoroughConfig describes one jurisdiction's portal.
type BoroughConfig struct {
	Name         string `mapstructure:"name" json:"name"`
	BaseURL      string `mapstructure:"base_url" json:"base_url"`
	SearchURL    string `mapstructure:"search_url" json:"search_url"`
	PortalFamily string `mapstructure:"portal_family" json:"portal_family"`
}

// Candidate is a row or card extracted from a search-results listing, not
// yet confirmed to contain monitoring keywords.
type Candidate struct {
	ID          string
	DetailURL   string
	TitleHint   string
	AddressHint string
	DateHint    string
}

// ListingOutcome classifies what a results listing said, beyond the
// candidates it yielded.
type ListingOutcome int

// Listing outcomes. TooBroad is the portal's own "too many results" message
// and is treated as zero usable candidates; it is logged distinctly from a
// plain empty listing.
const (
	ListingResults ListingOutcome = iota
	ListingNoResults
	ListingTooBroad
)

// String implements fmt.Stringer for log and metric labels.
func (o ListingOutcome) String() string {
	switch o {
	case ListingNoResults:
		return "no_results"
	case ListingTooBroad:
		return "too_broad"
	default:
		return "results"
	}
}

// SearchResult is the yield of one keyword search. Requests counts the
// portal exchanges actually issued, so a search that failed while priming
// reports 1, not the full prime+submit pair.
type SearchResult struct {
	Candidates []Candidate
	Outcome    ListingOutcome
	Requests   int
}

// PortalVariant is the closed capability set every portal family commits to.
// Implementations are selected by a factory keyed on portal family; call
// sites never probe for optional capabilities. Search returns a valid
// Requests count even when err is non-nil.
type PortalVariant interface {
	Search(ctx context.Context, keyword string) (SearchResult, error)
	FetchDetail(ctx context.Context, url string) (string, error)
	Shutdown()
}

// Result is the orchestrator's per-borough outcome. A failed borough is a
// Result with Success=false and a non-empty Error, never a panic.
type Result struct {
	Borough  string        `json:"borough"`
	Success  bool          `json:"success"`
	Session  ScrapeSession `json:"session"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// QueryFilter narrows application queries. Zero values mean "no filter";
// dates are ISO-8601 strings compared against the submission date.
type QueryFilter struct {
	Borough  string
	Keyword  string
	DateFrom string
	DateTo   string
}

// Statistics summarizes stored applications for the dashboard.
type Statistics struct {
	TotalApplications int                  `json:"total_applications"`
	ByBorough         map[string]int       `json:"by_borough"`
	ByKeyword         map[string]int       `json:"by_keyword"`
	LastSessions      map[string]time.Time `json:"last_scrape_per_borough"`
}

// Store is the persistence collaborator consumed by the pipeline.
type Store interface {
	BulkInsert(ctx context.Context, apps []PlanningApplication) (total, inserted int, err error)
	LogSession(ctx context.Context, session ScrapeSession) error
	Statistics(ctx context.Context) (Statistics, error)
}
