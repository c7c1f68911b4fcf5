package fetch

// DealerConfig describes one retail dealer and the product tracked there.
// Discovery tries the strategies in order: a pinned product URL, the site
// search, then browsing the category page for a link matching the keywords.
type DealerConfig struct {
	Name    string
	BaseURL string

	// Product identity.
	Product string
	// FineOz is the fine silver content of the product in troy ounces.
	FineOz float64

	// DirectURL, when set, is tried before any discovery.
	DirectURL string
	// SearchURL is a template with a %s placeholder for the query.
	SearchURL   string
	SearchQuery string
	// CategoryURL is the listing page scanned as a last resort.
	CategoryURL string

	// ProductKeywords must all appear (case-insensitive) in a candidate
	// link's text or href for it to be followed.
	ProductKeywords []string
	// PriceSelectors are CSS selectors tried in order on the product page.
	PriceSelectors []string
}

// kilobarFineOz is the fine content of a 1 kg bar in troy ounces.
const kilobarFineOz = 32.1507

// DefaultDealers returns the built-in dealer set. Quotes are EUR-priced
// 1 kg bars, the most liquid retail proxy for physical availability.
func DefaultDealers() []DealerConfig {
	return []DealerConfig{
		{
			Name:        "stonex-bullion",
			BaseURL:     "https://www.stonexbullion.com",
			Product:     "silver-bar-1kg",
			FineOz:      kilobarFineOz,
			DirectURL:   "https://www.stonexbullion.com/en/silver-bar-1-kg",
			SearchURL:   "https://www.stonexbullion.com/en/search?q=%s",
			SearchQuery: "silver bar 1 kg",
			CategoryURL: "https://www.stonexbullion.com/en/silver/bars",
			ProductKeywords: []string{"silver", "1 kg"},
			PriceSelectors: []string{
				`meta[itemprop="price"]`,
				`[data-price]`,
				".product-price",
				".price",
			},
		},
		{
			Name:        "goldsilver-shop",
			BaseURL:     "https://www.gold-silber-shop.de",
			Product:     "silver-bar-1kg",
			FineOz:      kilobarFineOz,
			SearchURL:   "https://www.gold-silber-shop.de/search?sSearch=%s",
			SearchQuery: "silberbarren 1kg",
			CategoryURL: "https://www.gold-silber-shop.de/silber/barren",
			ProductKeywords: []string{"silber", "1kg"},
			PriceSelectors: []string{
				`meta[itemprop="price"]`,
				".price--default",
				".product--price",
				".price",
			},
		},
	}
}
