package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/planwatch/planwatch/internal/detect"
	"github.com/planwatch/planwatch/internal/metrics"
	"github.com/planwatch/planwatch/internal/policy/ratelimit"
	"github.com/planwatch/planwatch/internal/status"
)

// ErrStopped is returned when a scrape is interrupted by a stop request.
var ErrStopped = errors.New("scraper: stopped")

// BoroughScraper runs the keyword search loop for one borough. Individual
// keyword and candidate failures are logged and skipped; only cancellation,
// a stop request, or a store failure abort the session.
type BoroughScraper struct {
	borough  BoroughConfig
	keywords []string
	variant  PortalVariant
	store    Store
	registry *status.Registry
	pacer    *ratelimit.Limiter
	logger   *zap.Logger
	stopped  func() bool
}

// BoroughScraperConfig assembles a BoroughScraper.
type BoroughScraperConfig struct {
	Borough  BoroughConfig
	Keywords []string
	Variant  PortalVariant
	Store    Store
	Registry *status.Registry
	Pacer    *ratelimit.Limiter
	Logger   *zap.Logger
	// Stopped is polled between units of work; nil means never stopped.
	Stopped func() bool
}

// NewBoroughScraper wires one borough's scrape loop.
func NewBoroughScraper(cfg BoroughScraperConfig) *BoroughScraper {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stopped := cfg.Stopped
	if stopped == nil {
		stopped = func() bool { return false }
	}
	return &BoroughScraper{
		borough:  cfg.Borough,
		keywords: cfg.Keywords,
		variant:  cfg.Variant,
		store:    cfg.Store,
		registry: cfg.Registry,
		pacer:    cfg.Pacer,
		logger:   logger.With(zap.String("borough", cfg.Borough.Name)),
		stopped:  stopped,
	}
}

// Scrape runs every configured keyword against the portal, persists the
// matched applications, and logs the session. The returned session is valid
// even when err is non-nil.
func (s *BoroughScraper) Scrape(ctx context.Context) (ScrapeSession, error) {
	session := ScrapeSession{
		ID:        uuid.NewString(),
		Borough:   s.borough.Name,
		Keywords:  s.keywords,
		StartedAt: time.Now().UTC(),
		Status:    SessionSuccess,
	}
	s.registry.Update(s.borough.Name, func(st *status.BoroughStatus) {
		st.State = status.StateRunning
		st.KeywordIndex = 0
		st.KeywordTotal = len(s.keywords)
		st.Requests = 0
		st.Pages = 0
		st.Found = 0
		st.LastError = ""
	})

	apps, requests, err := s.searchAllKeywords(ctx, &session)
	session.Requests = requests

	if err == nil {
		err = s.persist(ctx, &session, apps)
	}

	session.FinishedAt = time.Now().UTC()
	if err != nil {
		session.Status = SessionError
		session.Error = err.Error()
	}
	s.finalize(ctx, session, err)
	return session, err
}

func (s *BoroughScraper) searchAllKeywords(ctx context.Context, session *ScrapeSession) ([]PlanningApplication, int, error) {
	var (
		apps     []PlanningApplication
		requests int
	)
	// every candidate is marked on first sight, so an application matched
	// under one keyword is never refetched under another
	seen := make(map[string]struct{})

	for i, keyword := range s.keywords {
		if err := ctx.Err(); err != nil {
			return apps, requests, err
		}
		if s.stopped() {
			return apps, requests, ErrStopped
		}
		if err := s.pacer.Wait(ctx, s.borough.Name); err != nil {
			return apps, requests, err
		}

		s.registry.Update(s.borough.Name, func(st *status.BoroughStatus) {
			st.KeywordIndex = i + 1
		})

		res, err := s.variant.Search(ctx, keyword)
		requests += res.Requests
		s.registry.Update(s.borough.Name, func(st *status.BoroughStatus) {
			st.Requests = requests
			st.Pages++
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return apps, requests, err
			}
			metrics.ObserveKeywordSearch(s.borough.Name, "error")
			s.logger.Warn("keyword search failed",
				zap.String("keyword", keyword),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveKeywordSearch(s.borough.Name, res.Outcome.String())
		if res.Outcome == ListingTooBroad {
			s.logger.Warn("portal reported too many results",
				zap.String("keyword", keyword),
			)
			continue
		}

		matched, fetched := s.examineCandidates(ctx, res.Candidates, seen)
		requests += fetched
		apps = append(apps, matched...)

		s.registry.Update(s.borough.Name, func(st *status.BoroughStatus) {
			st.Requests = requests
			st.Found = len(apps)
		})
	}
	return apps, requests, nil
}

// examineCandidates fetches each unseen candidate's detail page and keeps
// those whose text contains at least one configured keyword.
func (s *BoroughScraper) examineCandidates(ctx context.Context, candidates []Candidate, seen map[string]struct{}) ([]PlanningApplication, int) {
	var (
		matched []PlanningApplication
		fetched int
	)
	for _, candidate := range candidates {
		if ctx.Err() != nil || s.stopped() {
			return matched, fetched
		}
		if _, ok := seen[candidate.ID]; ok {
			continue
		}
		seen[candidate.ID] = struct{}{}

		text, err := s.variant.FetchDetail(ctx, candidate.DetailURL)
		fetched++
		if err != nil {
			s.logger.Warn("detail fetch failed",
				zap.String("project_id", candidate.ID),
				zap.String("url", candidate.DetailURL),
				zap.Error(err),
			)
			continue
		}

		combined := candidate.TitleHint + " " + candidate.AddressHint + " " + text
		found := detect.Detect(combined, s.keywords)
		if len(found) == 0 {
			continue
		}
		matched = append(matched, PlanningApplication{
			ProjectID:        candidate.ID,
			Borough:          s.borough.Name,
			Title:            candidate.TitleHint,
			Address:          candidate.AddressHint,
			SubmissionDate:   candidate.DateHint,
			ApplicationURL:   candidate.DetailURL,
			DetectedKeywords: found,
			SourceURL:        s.borough.SearchURL,
			ScrapedAt:        time.Now().UTC(),
		})
		s.logger.Info("application matched",
			zap.String("project_id", candidate.ID),
			zap.Strings("keywords", found),
		)
	}
	return matched, fetched
}

func (s *BoroughScraper) persist(ctx context.Context, session *ScrapeSession, apps []PlanningApplication) error {
	if len(apps) == 0 {
		return nil
	}
	total, inserted, err := s.store.BulkInsert(ctx, apps)
	if err != nil {
		return fmt.Errorf("persist applications: %w", err)
	}
	session.TotalFound = total
	session.NewFound = inserted
	metrics.ObserveApplicationsFound(s.borough.Name, inserted)
	return nil
}

func (s *BoroughScraper) finalize(ctx context.Context, session ScrapeSession, scrapeErr error) {
	metrics.ObserveSession(string(session.Status))
	s.registry.Update(s.borough.Name, func(st *status.BoroughStatus) {
		if scrapeErr != nil {
			st.State = status.StateError
			st.LastError = scrapeErr.Error()
		} else {
			st.State = status.StateCompleted
		}
		st.LastRun = session.FinishedAt
	})

	// the session log must survive cancellation of the scrape context
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.LogSession(logCtx, session); err != nil {
		s.logger.Error("failed to log scrape session",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("scrape session finished",
		zap.String("session_id", session.ID),
		zap.String("status", string(session.Status)),
		zap.Int("total_found", session.TotalFound),
		zap.Int("new_found", session.NewFound),
		zap.Int("requests", session.Requests),
		zap.Duration("duration", session.FinishedAt.Sub(session.StartedAt)),
	)
}
