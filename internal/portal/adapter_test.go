package portal

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/planwatch/planwatch/internal/scraper"
)

func docFromHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestValidProjectID(t *testing.T) {
	require.True(t, ValidProjectID("25/03344/LBC"))
	require.True(t, ValidProjectID("APP123456"))
	require.False(t, ValidProjectID("OK"))
	require.False(t, ValidProjectID("a/b"))
	require.False(t, ValidProjectID(""))
}

const idoxListing = `
<html><body>
<table class="searchresults">
<tr>
  <td><a href="/online-applications/applicationDetails.do?keyVal=ABC123">25/03344/LBC</a></td>
  <td>Palace Of Westminster, London SW1A 0AA</td>
  <td>Structural monitoring survey during basement works</td>
  <td>14/08/2025</td>
</tr>
<tr>
  <td><a href="/detail/2">OK</a></td>
  <td>Navigation chrome row</td>
  <td>Help</td>
  <td></td>
</tr>
</table>
</body></html>`

func TestIdoxAdapterParseListing(t *testing.T) {
	adapter := &idoxAdapter{}
	candidates, outcome := adapter.ParseListing(docFromHTML(t, idoxListing))
	require.Equal(t, scraper.ListingResults, outcome)
	require.Len(t, candidates, 2)

	first := candidates[0]
	require.Equal(t, "25/03344/LBC", first.ID)
	require.Equal(t, "/online-applications/applicationDetails.do?keyVal=ABC123", first.DetailURL)
	require.Equal(t, "Palace Of Westminster, London SW1A 0AA", first.AddressHint)
	require.Equal(t, "Structural monitoring survey during basement works", first.TitleHint)
	require.Equal(t, "14/08/2025", first.DateHint)

	// the chrome row survives parsing; validation happens in the variant
	require.Equal(t, "OK", candidates[1].ID)
}

func TestIdoxAdapterListingOutcomes(t *testing.T) {
	adapter := &idoxAdapter{}

	candidates, outcome := adapter.ParseListing(docFromHTML(t,
		`<html><body><p>Too many results found. Please refine your search.</p></body></html>`))
	require.Empty(t, candidates)
	require.Equal(t, scraper.ListingTooBroad, outcome)

	candidates, outcome = adapter.ParseListing(docFromHTML(t,
		`<html><body><p>No results found for your search.</p></body></html>`))
	require.Empty(t, candidates)
	require.Equal(t, scraper.ListingNoResults, outcome)
}

const cardsListing = `
<html><body>
<ul id="searchresults">
  <li class="searchresult">
    <a class="summaryLink" href="/planning/detail?id=991">Installation of vibration monitoring equipment</a>
    <p class="address">1 Borough High Street, London SE1 1AA</p>
    <p class="metaInfo">Ref. No: 25/AP/1234 | Received: 03/07/2025 | Status: Pending</p>
  </li>
  <li class="searchresult">
    <a class="summaryLink" href="/planning/detail?id=992">Single storey rear extension</a>
    <p class="address">2 Long Lane, London SE1 4PG</p>
    <p class="metaInfo">Ref. No: 25/AP/5678 | Received: 05/07/2025 | Status: Registered</p>
  </li>
</ul>
</body></html>`

func TestCardsAdapterParseListing(t *testing.T) {
	adapter := &cardsAdapter{}
	candidates, outcome := adapter.ParseListing(docFromHTML(t, cardsListing))
	require.Equal(t, scraper.ListingResults, outcome)
	require.Len(t, candidates, 2)

	first := candidates[0]
	require.Equal(t, "25/AP/1234", first.ID)
	require.Equal(t, "/planning/detail?id=991", first.DetailURL)
	require.Equal(t, "Installation of vibration monitoring equipment", first.TitleHint)
	require.Equal(t, "1 Borough High Street, London SE1 1AA", first.AddressHint)
	require.Equal(t, "03/07/2025", first.DateHint)
}

func TestAdapterBuildSearchRequest(t *testing.T) {
	for _, family := range []string{"idox", "cards"} {
		t.Run(family, func(t *testing.T) {
			adapter, err := NewAdapter(family)
			require.NoError(t, err)

			req := adapter.BuildSearchRequest("https://example.org/search.do", "monitoring", "tok-123")
			require.Equal(t, "POST", req.Method)
			require.Equal(t, "https://example.org/search.do", req.URL)
			require.Equal(t, "search", req.Fields["action"])
			require.Equal(t, "monitoring", req.Fields["searchCriteria.proposal"])
			require.Equal(t, "tok-123", req.Fields["_csrf"])

			req = adapter.BuildSearchRequest("https://example.org/search.do", "monitoring", "")
			_, present := req.Fields["_csrf"]
			require.False(t, present)
		})
	}

	_, err := NewAdapter("wordpress")
	require.Error(t, err)
}

func TestDetailTextSelectorFallback(t *testing.T) {
	adapter := &idoxAdapter{}

	doc := docFromHTML(t, `<html><body><div class="content">Structural monitoring survey.</div></body></html>`)
	require.Equal(t, "Structural monitoring survey.", adapter.DetailText(doc))

	doc = docFromHTML(t, `<html><body><main>Main block text.</main></body></html>`)
	require.Equal(t, "Main block text.", adapter.DetailText(doc))

	doc = docFromHTML(t, `<html><body>Bare body text.</body></html>`)
	require.Equal(t, "Bare body text.", adapter.DetailText(doc))
}

func TestAbsoluteURL(t *testing.T) {
	require.Equal(t,
		"https://example.org/online-applications/detail.do?id=1",
		AbsoluteURL("https://example.org/online-applications/", "detail.do?id=1"))
	require.Equal(t,
		"https://other.org/x",
		AbsoluteURL("https://example.org/", "https://other.org/x"))
	require.Equal(t, "", AbsoluteURL("https://example.org/", ""))
}
