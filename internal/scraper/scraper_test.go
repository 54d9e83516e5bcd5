package scraper_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/septivank/usage-rollup-worker/internal/scraper"
)

const listingPage = `<html><body>
<a class="nav" href="/about">About</a>
<div class="card">
  <a class="btn btn-default" href="/news-and-advisories/lower-rates-this-march">Read more</a>
</div>
<div class="card">
  <a class="btn btn-default" href="/news-and-advisories/older">Read more</a>
</div>
</body></html>`

const articlePage = `<html><head><script>var overall = "overall rate P99";</script></head><body>
<p>This month's overall rate went down to
P11.4139 per kWh.</p>
</body></html>`

func TestFindArticleLink(t *testing.T) {
	href, err := scraper.FindArticleLink(strings.NewReader(listingPage))
	require.NoError(t, err)
	require.Equal(t, "/news-and-advisories/lower-rates-this-march", href)
}

func TestFindArticleLink_None(t *testing.T) {
	_, err := scraper.FindArticleLink(strings.NewReader(`<a class="btn" href="/x">x</a>`))
	require.ErrorIs(t, err, scraper.ErrNoArticle)
}

func TestParseOverallRate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{name: "same line", text: "The overall rate is now P11.4139/kWh", want: 11.4139},
		{name: "across lines", text: "OVERALL RATE for residential\ncustomers: P9.85", want: 9.85},
		{name: "trailing period", text: "the overall rate settled at P12.", want: 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := scraper.ParseOverallRate(tt.text)
			require.NoError(t, err)
			require.Equal(t, tt.want, rate)
		})
	}
}

func TestParseOverallRate_Missing(t *testing.T) {
	_, err := scraper.ParseOverallRate("rates are unchanged this month")
	require.True(t, errors.Is(err, scraper.ErrNoRate))
}

func TestScrape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/news-and-advisories", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage)
	})
	mux.HandleFunc("/news-and-advisories/lower-rates-this-march", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articlePage)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := scraper.NewRateScraper(srv.Client(), srv.URL+"/news-and-advisories", srv.URL)
	result, err := s.Scrape(context.Background())
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/news-and-advisories/lower-rates-this-march", result.ArticleURL)
	require.Equal(t, 11.4139, result.Rate)
}

func TestScrape_ArticleNotOK(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/news-and-advisories", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage)
	})
	mux.HandleFunc("/news-and-advisories/lower-rates-this-march", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := scraper.NewRateScraper(srv.Client(), srv.URL+"/news-and-advisories", srv.URL)
	_, err := s.Scrape(context.Background())
	require.ErrorContains(t, err, "unexpected status 410")
}

func TestLatestArticleURL_Absolute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a class="btn btn-default" href="https://example.com/article">x</a>`)
	}))
	defer srv.Close()

	s := scraper.NewRateScraper(srv.Client(), srv.URL, "https://unused.example.com")
	articleURL, err := s.LatestArticleURL(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://example.com/article", articleURL)
}
