package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/planwatch/planwatch/internal/scraper"
)

func portalServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search.do", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`<html><body><form>` +
				`<input type="hidden" name="_csrf" value="tok-99"/></form></body></html>`))
			return
		}
		require.NoError(t, r.ParseForm())
		require.Equal(t, "tok-99", r.PostFormValue("_csrf"))
		require.Equal(t, "search", r.PostFormValue("action"))

		if r.PostFormValue("searchCriteria.proposal") != "monitoring" {
			_, _ = w.Write([]byte(`<html><body><p>No results found.</p></body></html>`))
			return
		}
		_, _ = w.Write([]byte(`<html><body><table class="searchresults">
			<tr>
			  <td><a href="/applicationDetails.do?keyVal=XYZ">25/03344/LBC</a></td>
			  <td>Palace Of Westminster, London SW1A 0AA</td>
			  <td>Works to listed building</td>
			  <td>14/08/2025</td>
			</tr>
			<tr>
			  <td><a href="/help">OK</a></td>
			  <td>chrome</td>
			  <td>chrome</td>
			  <td></td>
			</tr>
			</table></body></html>`))
	})
	mux.HandleFunc("/applicationDetails.do", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="content">` +
			`Structural monitoring survey required during basement excavation.` +
			`</div></body></html>`))
	})
	return httptest.NewServer(mux)
}

func testVariant(t *testing.T, srv *httptest.Server, renderer Renderer) scraper.PortalVariant {
	t.Helper()
	v, err := NewVariant(VariantConfig{
		Borough: scraper.BoroughConfig{
			Name:         "Westminster",
			BaseURL:      srv.URL,
			SearchURL:    srv.URL + "/search.do",
			PortalFamily: "idox",
		},
		MaxCandidates: 10,
		Client: ClientConfig{
			UserAgent:    "planwatch-test/1.0",
			Timeout:      5 * time.Second,
			RequestDelay: 0,
			Retry:        NewRetryPolicy(1, 5*time.Millisecond),
		},
		Renderer: renderer,
	})
	require.NoError(t, err)
	t.Cleanup(v.Shutdown)
	return v
}

func TestVariantSearchAndFetchDetail(t *testing.T) {
	srv := portalServer(t)
	defer srv.Close()

	v := testVariant(t, srv, nil)

	res, err := v.Search(context.Background(), "monitoring")
	require.NoError(t, err)
	require.Equal(t, scraper.ListingResults, res.Outcome)
	require.Equal(t, 2, res.Requests, "prime and submit")
	require.Len(t, res.Candidates, 1, "the chrome row must be filtered out")
	require.Equal(t, "25/03344/LBC", res.Candidates[0].ID)
	require.Equal(t, srv.URL+"/applicationDetails.do?keyVal=XYZ", res.Candidates[0].DetailURL)
	require.Equal(t, "2025-08-14", res.Candidates[0].DateHint)

	text, err := v.FetchDetail(context.Background(), res.Candidates[0].DetailURL)
	require.NoError(t, err)
	require.Contains(t, text, "Structural monitoring survey")
}

func TestVariantSearchNoResults(t *testing.T) {
	srv := portalServer(t)
	defer srv.Close()

	v := testVariant(t, srv, nil)

	res, err := v.Search(context.Background(), "heliport")
	require.NoError(t, err)
	require.Empty(t, res.Candidates)
	require.Equal(t, scraper.ListingNoResults, res.Outcome)
}

func TestVariantSearchCountsFailedPrime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone away", http.StatusNotFound)
	}))
	defer srv.Close()

	v := testVariant(t, srv, nil)

	res, err := v.Search(context.Background(), "monitoring")
	require.Error(t, err)
	require.Equal(t, 1, res.Requests, "the submit was never issued")
}

func TestVariantCandidateCap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search.do", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`<html><body><form></form></body></html>`))
			return
		}
		fmt.Fprint(w, `<html><body><table class="searchresults">`)
		for i := 0; i < 25; i++ {
			fmt.Fprintf(w, `<tr><td><a href="/d/%d">25/0%02d00/FUL</a></td><td>addr</td><td>prop</td><td>01/01/2025</td></tr>`, i, i)
		}
		fmt.Fprint(w, `</table></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v, err := NewVariant(VariantConfig{
		Borough: scraper.BoroughConfig{
			Name:         "Camden",
			BaseURL:      srv.URL,
			SearchURL:    srv.URL + "/search.do",
			PortalFamily: "idox",
		},
		MaxCandidates: 10,
		Client: ClientConfig{
			Timeout:      5 * time.Second,
			RequestDelay: 0,
			Retry:        NewRetryPolicy(1, 5*time.Millisecond),
		},
	})
	require.NoError(t, err)
	defer v.Shutdown()

	res, err := v.Search(context.Background(), "monitoring")
	require.NoError(t, err)
	require.Equal(t, scraper.ListingResults, res.Outcome)
	require.Len(t, res.Candidates, 10)
}

type stubRenderer struct {
	html string
	err  error
}

func (r *stubRenderer) Render(_ context.Context, _ string) (string, error) {
	return r.html, r.err
}

func TestVariantHeadlessFallbackOnBlocked(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/detail", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	mux.HandleFunc("/search.do", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	renderer := &stubRenderer{
		html: `<html><body><div class="content">Rendered dust monitoring condition.</div></body></html>`,
	}
	v := testVariant(t, srv, renderer)

	text, err := v.FetchDetail(context.Background(), srv.URL+"/detail")
	require.NoError(t, err)
	require.Contains(t, text, "dust monitoring")

	// without a renderer the same fetch surfaces ErrBlocked
	bare := testVariant(t, srv, nil)
	_, err = bare.FetchDetail(context.Background(), srv.URL+"/detail")
	require.ErrorIs(t, err, ErrBlocked)
}
