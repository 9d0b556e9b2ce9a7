package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/planwatch/planwatch/internal/metrics"
	"github.com/planwatch/planwatch/internal/scraper"
)

// Renderer fetches a page through a real browser. Used as a fallback when a
// portal serves 403 to plain HTTP clients.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// VariantConfig assembles one borough's portal variant.
type VariantConfig struct {
	Borough       scraper.BoroughConfig
	MaxCandidates int
	Client        ClientConfig
	Renderer      Renderer
	Logger        *zap.Logger
}

// variant binds a session client to a family adapter for one borough.
type variant struct {
	borough       scraper.BoroughConfig
	maxCandidates int
	client        *Client
	adapter       Adapter
	renderer      Renderer
	logger        *zap.Logger
}

// NewVariant builds the PortalVariant for the borough's portal family.
func NewVariant(cfg VariantConfig) (scraper.PortalVariant, error) {
	adapter, err := NewAdapter(cfg.Borough.PortalFamily)
	if err != nil {
		return nil, err
	}
	client, err := NewClient(cfg.Client)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 10
	}
	return &variant{
		borough:       cfg.Borough,
		maxCandidates: maxCandidates,
		client:        client,
		adapter:       adapter,
		renderer:      cfg.Renderer,
		logger:        logger,
	}, nil
}

// Search primes the search form for a fresh CSRF token, submits the keyword,
// and returns validated candidates capped at the per-search limit. The
// result's Requests field counts only the exchanges that were issued.
func (v *variant) Search(ctx context.Context, keyword string) (scraper.SearchResult, error) {
	res := scraper.SearchResult{Outcome: scraper.ListingNoResults}

	token, err := v.client.Prime(ctx, v.borough.SearchURL)
	res.Requests++
	if err != nil {
		metrics.ObservePortalRequest(v.borough.Name, "error")
		return res, err
	}
	metrics.ObservePortalRequest(v.borough.Name, "success")

	req := v.adapter.BuildSearchRequest(v.borough.SearchURL, keyword, token)
	page, err := v.submit(ctx, req)
	res.Requests++
	if err != nil {
		metrics.ObservePortalRequest(v.borough.Name, "error")
		return res, err
	}
	metrics.ObservePortalRequest(v.borough.Name, "success")

	doc, err := page.Document()
	if err != nil {
		return res, err
	}

	candidates, outcome := v.adapter.ParseListing(doc)
	res.Candidates = v.filterCandidates(candidates)
	res.Outcome = outcome
	return res, nil
}

func (v *variant) submit(ctx context.Context, req SearchRequest) (*Page, error) {
	if req.Method == http.MethodPost {
		return v.client.PostForm(ctx, req.URL, req.Fields)
	}
	target := req.URL
	if len(req.Fields) > 0 {
		values := url.Values{}
		for key, value := range req.Fields {
			values.Set(key, value)
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + values.Encode()
	}
	return v.client.Get(ctx, target)
}

// filterCandidates drops rows whose extracted reference fails validation,
// resolves relative detail links, normalizes dates to ISO-8601, and caps
// the batch.
func (v *variant) filterCandidates(candidates []scraper.Candidate) []scraper.Candidate {
	out := make([]scraper.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.DetailURL == "" || !ValidProjectID(c.ID) {
			v.logger.Debug("dropping invalid candidate",
				zap.String("borough", v.borough.Name),
				zap.String("id", c.ID),
			)
			continue
		}
		c.DetailURL = AbsoluteURL(v.borough.BaseURL, c.DetailURL)
		c.DateHint = NormalizeDate(c.DateHint)
		out = append(out, c)
		if len(out) >= v.maxCandidates {
			break
		}
	}
	return out
}

// FetchDetail fetches a detail page and extracts its descriptive text. A 403
// triggers the headless fallback when a renderer is configured.
func (v *variant) FetchDetail(ctx context.Context, detailURL string) (string, error) {
	page, err := v.client.Get(ctx, detailURL)
	if err != nil {
		if errors.Is(err, ErrBlocked) && v.renderer != nil {
			metrics.ObservePortalRequest(v.borough.Name, "blocked")
			return v.fetchDetailHeadless(ctx, detailURL)
		}
		metrics.ObservePortalRequest(v.borough.Name, "error")
		return "", err
	}
	metrics.ObservePortalRequest(v.borough.Name, "success")

	doc, err := page.Document()
	if err != nil {
		return "", err
	}
	return v.adapter.DetailText(doc), nil
}

func (v *variant) fetchDetailHeadless(ctx context.Context, detailURL string) (string, error) {
	v.logger.Info("falling back to headless fetch",
		zap.String("borough", v.borough.Name),
		zap.String("url", detailURL),
	)
	html, err := v.renderer.Render(ctx, detailURL)
	if err != nil {
		return "", fmt.Errorf("headless fetch %s: %w", detailURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse headless page %s: %w", detailURL, err)
	}
	return v.adapter.DetailText(doc), nil
}

// Shutdown releases the session's transport resources.
func (v *variant) Shutdown() {
	v.client.Shutdown()
}
