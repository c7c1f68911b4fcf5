package fetch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extracted is a price pulled from a product page with the evidence that
// produced it.
type extracted struct {
	PriceEur float64
	Excerpt  string
}

// extractPrice pulls the EUR price from a product page. It prefers
// structured data (JSON-LD offers), then the dealer's CSS selectors, then
// a euro-amount pattern over the page text.
func extractPrice(doc *goquery.Document, selectors []string) (*extracted, error) {
	if e := extractJSONLD(doc); e != nil {
		return e, nil
	}
	if e := extractSelectors(doc, selectors); e != nil {
		return e, nil
	}
	if e := extractEuroPattern(doc); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("no price found on page")
}

// jsonLDProduct covers the schema.org shapes dealers actually emit: offers
// as an object or an array, price as a string or a number.
type jsonLDProduct struct {
	Type   string          `json:"@type"`
	Offers json.RawMessage `json:"offers"`
}

type jsonLDOffer struct {
	Price         json.RawMessage `json:"price"`
	PriceCurrency string          `json:"priceCurrency"`
}

func extractJSONLD(doc *goquery.Document) *extracted {
	var result *extracted
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw := sel.Text()
		var product jsonLDProduct
		if err := json.Unmarshal([]byte(raw), &product); err != nil {
			return true
		}
		if !strings.EqualFold(product.Type, "Product") || len(product.Offers) == 0 {
			return true
		}

		offers := []jsonLDOffer{}
		var single jsonLDOffer
		if err := json.Unmarshal(product.Offers, &single); err == nil {
			offers = append(offers, single)
		} else if err := json.Unmarshal(product.Offers, &offers); err != nil {
			return true
		}

		for _, offer := range offers {
			if offer.PriceCurrency != "" && !strings.EqualFold(offer.PriceCurrency, "EUR") {
				continue
			}
			if price, ok := parseJSONPrice(offer.Price); ok && price > 0 {
				excerpt := raw
				if len(excerpt) > 300 {
					excerpt = excerpt[:300]
				}
				result = &extracted{PriceEur: price, Excerpt: excerpt}
				return false
			}
		}
		return true
	})
	return result
}

func parseJSONPrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, true
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(asString), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func extractSelectors(doc *goquery.Document, selectors []string) *extracted {
	for _, selector := range selectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		// Meta tags and data attributes carry the machine-readable value.
		for _, attr := range []string{"content", "data-price"} {
			if v, ok := sel.Attr(attr); ok {
				if price, err := parseEuroAmount(v); err == nil {
					return &extracted{PriceEur: price, Excerpt: selector + ": " + v}
				}
			}
		}
		text := strings.TrimSpace(sel.Text())
		if price, err := parseEuroAmount(text); err == nil {
			return &extracted{PriceEur: price, Excerpt: selector + ": " + text}
		}
	}
	return nil
}

var euroAmountPattern = regexp.MustCompile(`(?:€|EUR)\s*([0-9][0-9.,]*[0-9])|([0-9][0-9.,]*[0-9])\s*(?:€|EUR)`)

func extractEuroPattern(doc *goquery.Document) *extracted {
	text := doc.Find("body").Text()
	m := euroAmountPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	amount := m[1]
	if amount == "" {
		amount = m[2]
	}
	price, err := parseEuroAmount(amount)
	if err != nil {
		return nil
	}
	return &extracted{PriceEur: price, Excerpt: strings.TrimSpace(m[0])}
}

// parseEuroAmount handles both "1.234,56" and "1,234.56" digit grouping.
func parseEuroAmount(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "€")
	s = strings.TrimSuffix(s, "€")
	s = strings.ReplaceAll(s, "EUR", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma > lastDot:
		// European: dots group thousands, the comma is decimal.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma == -1 && lastDot != -1 && len(s)-lastDot == 4:
		// European grouping without a decimal part: "1.050" is 1050,
		// not 1.05. A dot followed by exactly three trailing digits is
		// a thousands separator.
		s = strings.ReplaceAll(s, ".", "")
	default:
		// Anglo: commas group thousands.
		s = strings.ReplaceAll(s, ",", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable amount %q", raw)
	}
	if v <= 0 {
		return 0, fmt.Errorf("non-positive amount %q", raw)
	}
	return v, nil
}
