package api

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/planwatch/planwatch/internal/scraper"
)

// statusResponse augments the run snapshot with the stored-corpus summary.
type statusResponse struct {
	scraper.StatusSnapshot
	Statistics *scraper.Statistics `json:"statistics,omitempty"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{StatusSnapshot: s.orchestrator.Status()}
	if stats, err := s.store.Statistics(r.Context()); err != nil {
		s.logger.Warn("statistics unavailable for status", zap.Error(err))
	} else {
		resp.Statistics = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		s.logger.Error("statistics query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func filterFromQuery(r *http.Request) scraper.QueryFilter {
	q := r.URL.Query()
	return scraper.QueryFilter{
		Borough:  q.Get("borough"),
		Keyword:  q.Get("keyword"),
		DateFrom: q.Get("from"),
		DateTo:   q.Get("to"),
	}
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.Query(r.Context(), filterFromQuery(r))
	if err != nil {
		s.logger.Error("application query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query applications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":        len(apps),
		"applications": apps,
	})
}

var exportHeader = []string{
	"project_id", "borough", "title", "address", "submission_date",
	"application_url", "detected_keywords", "source_url", "scraped_at",
}

func (s *Server) exportApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.Query(r.Context(), filterFromQuery(r))
	if err != nil {
		s.logger.Error("application export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query applications")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="applications.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	for _, app := range apps {
		_ = cw.Write([]string{
			app.ProjectID,
			app.Borough,
			app.Title,
			app.Address,
			app.SubmissionDate,
			app.ApplicationURL,
			strings.Join(app.DetectedKeywords, ", "),
			app.SourceURL,
			app.ScrapedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Error("csv export write failed", zap.Error(err))
	}
}

func (s *Server) startScrapeAll(w http.ResponseWriter, _ *http.Request) {
	// detached from the request context so the run outlives the response;
	// the reservation itself happens synchronously, so the 409 is not racy
	if err := s.orchestrator.StartAll(context.Background()); err != nil {
		if errors.Is(err, scraper.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "a scrape run is already in progress")
			return
		}
		s.logger.Error("scrape start failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start scrape")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) startScrapeOne(w http.ResponseWriter, r *http.Request) {
	borough := chi.URLParam(r, "borough")
	if err := s.orchestrator.StartOne(context.Background(), borough); err != nil {
		switch {
		case errors.Is(err, scraper.ErrUnknownBorough):
			writeError(w, http.StatusNotFound, "unknown borough")
		case errors.Is(err, scraper.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "a scrape run is already in progress")
		default:
			s.logger.Error("borough scrape start failed",
				zap.String("borough", borough),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "failed to start scrape")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"borough": borough,
	})
}

func (s *Server) stopScrape(w http.ResponseWriter, _ *http.Request) {
	s.orchestrator.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}
