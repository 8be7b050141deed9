// Package marketplace defines the boundaries to the marketplace sites
// themselves. The DOM work (scraping a source page, filling the
// destination form) happens in the browser extension; this repository
// only consumes and produces the structured data on either side.
package marketplace

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"closethopper/internal/listing"
)

// Page is the raw payload captured from a source marketplace page,
// handed over by the extension.
type Page struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
	HTML     string `json:"html,omitempty"`
	// Fields holds the structured values the extension already
	// extracted client-side.
	Fields map[string]string `json:"fields,omitempty"`
}

// Scraper extracts a marketplace-neutral listing from a captured page.
type Scraper interface {
	Scrape(ctx context.Context, page Page) (*listing.Listing, error)
}

// FormFiller renders a destination form from a mapped listing. The
// extension consumes the result to drive the destination site's UI.
type FormFiller interface {
	Fill(ctx context.Context, form *listing.Form) error
}

// FieldScraper builds a listing from the structured fields the
// extension's content script extracted in-page. It never parses HTML;
// if a field is missing here the extension did not capture it.
type FieldScraper struct{}

// NewFieldScraper creates the default scraper.
func NewFieldScraper() *FieldScraper {
	return &FieldScraper{}
}

// Scrape converts captured page fields into a listing. The listing
// comes back in the downloaded state with its source recorded; the
// caller persists it.
func (fs *FieldScraper) Scrape(_ context.Context, page Page) (*listing.Listing, error) {
	get := func(key string) string {
		return strings.TrimSpace(page.Fields[key])
	}

	id := get("id")
	if id == "" {
		return nil, fmt.Errorf("page has no item id")
	}

	price, err := parsePrice(get("price"))
	if err != nil {
		return nil, fmt.Errorf("bad price %q: %w", get("price"), err)
	}

	l := &listing.Listing{
		SKU:          skuFor(page.Platform, id),
		Title:        get("title"),
		Description:  get("description"),
		Brand:        get("brand"),
		Size:         get("size"),
		Condition:    get("condition"),
		Gender:       get("gender"),
		ListPrice:    price,
		Colors:       splitList(get("colors")),
		Material:     splitList(get("material")),
		Style:        splitList(get("style")),
		Images:       splitList(get("images")),
		Status:       listing.StatusDownloaded,
		DownloadedAt: time.Now(),
		Source: listing.Source{
			Platform: page.Platform,
			ID:       id,
			URL:      page.URL,
		},
	}

	if original := get("originalPrice"); original != "" {
		if cents, err := parsePrice(original); err == nil {
			l.OriginalPrice = cents
		}
	}
	if category := get("category"); category != "" {
		l.CategoryGuess = listing.GuessCategory(category)
	}

	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// skuFor derives the local SKU from the source coordinates, keeping
// re-downloads of the same item idempotent.
func skuFor(platform, id string) string {
	prefix := strings.ToUpper(platform)
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	if prefix == "" {
		prefix = "XX"
	}
	return prefix + "-" + id
}

// parsePrice converts a scraped price string ("$18.50", "18.50", "18")
// into cents.
func parsePrice(s string) (int, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	dollars, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if dollars <= 0 {
		return 0, fmt.Errorf("price must be positive")
	}
	return int(dollars*100 + 0.5), nil
}

// splitList splits a comma- or newline-separated captured field.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
