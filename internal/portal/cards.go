package portal

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"github.com/planwatch/planwatch/internal/scraper"
)

// cardsAdapter reads the card-style Idox listing: ul#searchresults holds one
// li.searchresult per application, with the proposal as the summary link text
// and the reference buried in the metaInfo line.
type cardsAdapter struct{}

var (
	refExpr      = regexp.MustCompile(`Ref\. No:\s*([^|]+)`)
	receivedExpr = regexp.MustCompile(`Received:\s*([^|]+)`)
)

func (a *cardsAdapter) BuildSearchRequest(searchURL, keyword, csrfToken string) SearchRequest {
	fields := map[string]string{
		"action":                  "search",
		"searchCriteria.proposal": keyword,
	}
	if csrfToken != "" {
		fields["_csrf"] = csrfToken
	}
	return SearchRequest{URL: searchURL, Method: "POST", Fields: fields}
}

func (a *cardsAdapter) ParseListing(doc *goquery.Document) ([]scraper.Candidate, scraper.ListingOutcome) {
	var candidates []scraper.Candidate
	doc.Find("ul#searchresults li.searchresult").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a.summaryLink").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		c := scraper.Candidate{
			DetailURL:   href,
			TitleHint:   CleanText(link.Text()),
			AddressHint: CleanText(card.Find("p.address").First().Text()),
		}
		meta := CleanText(card.Find("p.metaInfo").First().Text())
		if m := refExpr.FindStringSubmatch(meta); m != nil {
			c.ID = CleanText(m[1])
		}
		if m := receivedExpr.FindStringSubmatch(meta); m != nil {
			c.DateHint = CleanText(m[1])
		}
		candidates = append(candidates, c)
	})
	if len(candidates) == 0 {
		return nil, classifyEmptyListing(doc)
	}
	return candidates, scraper.ListingResults
}

func (a *cardsAdapter) DetailText(doc *goquery.Document) string {
	return extractDetailText(doc)
}
