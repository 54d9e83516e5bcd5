// Package scraper extracts the overall kWh rate from the utility's public
// rate announcements.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/septivank/usage-rollup-worker/internal/validator"
)

var (
	// ErrNoArticle is returned when the listing page has no article link
	ErrNoArticle = errors.New("no article link found")
	// ErrNoRate is returned when the article does not announce an overall rate
	ErrNoRate = errors.New("no overall rate found")
)

var overallRatePattern = regexp.MustCompile(`(?is)overall rate .*?P([\d.]+)`)

// Result is a scraped rate and the article it came from
type Result struct {
	ArticleURL string
	Rate       float64
}

// RateScraper fetches the listing page, follows the newest article and
// extracts the overall rate from it
type RateScraper struct {
	client     *http.Client
	listingURL string
	baseURL    string
}

// NewRateScraper creates a scraper. Relative article links are resolved
// against baseURL.
func NewRateScraper(client *http.Client, listingURL, baseURL string) *RateScraper {
	return &RateScraper{
		client:     client,
		listingURL: listingURL,
		baseURL:    baseURL,
	}
}

// Scrape returns the rate announced in the newest article
func (s *RateScraper) Scrape(ctx context.Context) (Result, error) {
	articleURL, err := s.LatestArticleURL(ctx)
	if err != nil {
		return Result{}, err
	}

	rate, err := s.ExtractRate(ctx, articleURL)
	if err != nil {
		return Result{}, err
	}

	return Result{ArticleURL: articleURL, Rate: rate}, nil
}

// LatestArticleURL returns the absolute URL of the first article link on the
// listing page
func (s *RateScraper) LatestArticleURL(ctx context.Context) (string, error) {
	body, err := s.get(ctx, s.listingURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	href, err := FindArticleLink(body)
	if err != nil {
		return "", err
	}
	return s.resolve(href)
}

// ExtractRate fetches the article and parses the overall rate out of its text
func (s *RateScraper) ExtractRate(ctx context.Context, articleURL string) (float64, error) {
	body, err := s.get(ctx, articleURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	text, err := ExtractText(body)
	if err != nil {
		return 0, err
	}
	return ParseOverallRate(text)
}

func (s *RateScraper) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", target, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %d", target, resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *RateScraper) resolve(href string) (string, error) {
	if strings.HasPrefix(href, "http") {
		return href, nil
	}
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", s.baseURL, err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid article link %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// FindArticleLink returns the href of the first anchor styled as an article
// button (classes btn and btn-default)
func FindArticleLink(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse listing page: %w", err)
	}

	var found string
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "a" && hasClasses(n, "btn", "btn-default") {
			if href := attr(n, "href"); href != "" {
				found = href
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}

	if !walk(doc) {
		return "", ErrNoArticle
	}
	return found, nil
}

// ExtractText returns the concatenated text content of an HTML document,
// without script and style bodies
func ExtractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %w", err)
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String(), nil
}

// ParseOverallRate finds the first "overall rate ... P<number>" phrase
func ParseOverallRate(text string) (float64, error) {
	match := overallRatePattern.FindStringSubmatch(text)
	if match == nil {
		return 0, ErrNoRate
	}

	// A sentence-ending period is matched by [\d.]
	raw := strings.TrimRight(match[1], ".")
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &validator.ParseError{Field: "overall rate", Value: match[1], Err: err}
	}
	return rate, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func hasClasses(n *html.Node, want ...string) bool {
	classes := strings.Fields(attr(n, "class"))
	for _, w := range want {
		found := false
		for _, c := range classes {
			if c == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
