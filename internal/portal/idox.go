package portal

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/planwatch/planwatch/internal/scraper"
)

// idoxAdapter reads the tabular Idox Public Access listing: one
// table.searchresults row per application, reference in the linked first
// cell, date in the last.
type idoxAdapter struct{}

func (a *idoxAdapter) BuildSearchRequest(searchURL, keyword, csrfToken string) SearchRequest {
	fields := map[string]string{
		"action":                  "search",
		"searchCriteria.proposal": keyword,
	}
	if csrfToken != "" {
		fields["_csrf"] = csrfToken
	}
	return SearchRequest{URL: searchURL, Method: "POST", Fields: fields}
}

func (a *idoxAdapter) ParseListing(doc *goquery.Document) ([]scraper.Candidate, scraper.ListingOutcome) {
	var candidates []scraper.Candidate
	doc.Find("table.searchresults tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		link := cells.First().Find("a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		c := scraper.Candidate{
			ID:        CleanText(link.Text()),
			DetailURL: href,
		}
		if cells.Length() >= 2 {
			c.AddressHint = CleanText(cells.Eq(1).Text())
		}
		if cells.Length() >= 3 {
			c.TitleHint = CleanText(cells.Eq(2).Text())
		}
		c.DateHint = CleanText(cells.Last().Text())
		candidates = append(candidates, c)
	})
	if len(candidates) == 0 {
		return nil, classifyEmptyListing(doc)
	}
	return candidates, scraper.ListingResults
}

func (a *idoxAdapter) DetailText(doc *goquery.Document) string {
	return extractDetailText(doc)
}
