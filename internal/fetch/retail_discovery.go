package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Discovery strategy names recorded on the quote.
const (
	StrategyDirectURL      = "direct-url"
	StrategySiteSearch     = "site-search"
	StrategyCategoryBrowse = "category-browse"
)

// discovered is a located product page ready for price extraction.
type discovered struct {
	doc       *goquery.Document
	url       string
	strategy  string
	attempted []string
}

// discoverProductPage walks the dealer's strategies in order and returns
// the first page that loads. The attempted URL list is preserved on
// failure for the audit record.
func discoverProductPage(ctx context.Context, client *resty.Client, limiter *rate.Limiter, dealer DealerConfig) (*discovered, error) {
	var attempted []string

	fetch := func(pageURL, strategy string) (*discovered, error) {
		attempted = append(attempted, pageURL)
		doc, err := fetchDocument(ctx, client, limiter, pageURL)
		if err != nil {
			return nil, err
		}
		if !pageMatchesProduct(doc, dealer.ProductKeywords) {
			return nil, fmt.Errorf("page %s does not mention the product", pageURL)
		}
		return &discovered{doc: doc, url: pageURL, strategy: strategy, attempted: attempted}, nil
	}

	if dealer.DirectURL != "" {
		if d, err := fetch(dealer.DirectURL, StrategyDirectURL); err == nil {
			return d, nil
		}
	}

	if dealer.SearchURL != "" {
		searchURL := fmt.Sprintf(dealer.SearchURL, url.QueryEscape(dealer.SearchQuery))
		attempted = append(attempted, searchURL)
		if doc, err := fetchDocument(ctx, client, limiter, searchURL); err == nil {
			if link := firstMatchingLink(doc, dealer.BaseURL, dealer.ProductKeywords); link != "" {
				if d, err := fetch(link, StrategySiteSearch); err == nil {
					return d, nil
				}
			}
		}
	}

	if dealer.CategoryURL != "" {
		attempted = append(attempted, dealer.CategoryURL)
		if doc, err := fetchDocument(ctx, client, limiter, dealer.CategoryURL); err == nil {
			if link := firstMatchingLink(doc, dealer.BaseURL, dealer.ProductKeywords); link != "" {
				if d, err := fetch(link, StrategyCategoryBrowse); err == nil {
					return d, nil
				}
			}
		}
	}

	return &discovered{attempted: attempted}, fmt.Errorf("no product page found after %d attempts", len(attempted))
}

func fetchDocument(ctx context.Context, client *resty.Client, limiter *rate.Limiter, pageURL string) (*goquery.Document, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := client.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
}

// pageMatchesProduct verifies a candidate page actually describes the
// product: at least two of the configured keywords must appear in the page
// text. Dealers with fewer than two keywords skip the check.
func pageMatchesProduct(doc *goquery.Document, keywords []string) bool {
	if len(keywords) < 2 {
		return true
	}
	text := strings.ToLower(doc.Text())
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			hits++
		}
	}
	return hits >= 2
}

// firstMatchingLink scans anchors for one whose text or href contains every
// keyword, and resolves it against the dealer's base URL.
func firstMatchingLink(doc *goquery.Document, baseURL string, keywords []string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		haystack := strings.ToLower(sel.Text() + " " + href)
		for _, kw := range keywords {
			if !strings.Contains(haystack, strings.ToLower(kw)) {
				return true
			}
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		found = base.ResolveReference(ref).String()
		return false
	})
	return found
}
