package marketplace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"closethopper/internal/listing"
)

func capturedPage() Page {
	return Page{
		Platform: "ebay",
		URL:      "https://www.ebay.com/itm/123456789",
		Fields: map[string]string{
			"id":            "123456789",
			"title":         "Nike Running Shorts",
			"description":   "Lightly worn running shorts.",
			"brand":         "Nike",
			"size":          "small",
			"condition":     "like new",
			"price":         "$18.50",
			"originalPrice": "45",
			"colors":        "black, white",
			"style":         "athletic\ncasual",
			"images":        "https://img.example.com/1.jpg, https://img.example.com/2.jpg",
			"category":      "Women's Clothing",
		},
	}
}

func TestFieldScraper(t *testing.T) {
	l, err := NewFieldScraper().Scrape(context.Background(), capturedPage())
	require.NoError(t, err)

	assert.Equal(t, "EB-123456789", l.SKU)
	assert.Equal(t, "Nike Running Shorts", l.Title)
	assert.Equal(t, 1850, l.ListPrice)
	assert.Equal(t, 4500, l.OriginalPrice)
	assert.Equal(t, []string{"black", "white"}, l.Colors)
	assert.Equal(t, []string{"athletic", "casual"}, l.Style)
	assert.Equal(t, []string{"Women", "Clothing"}, l.CategoryGuess)
	assert.Len(t, l.Images, 2)
	assert.Equal(t, listing.StatusDownloaded, l.Status)
	assert.Equal(t, listing.Source{
		Platform: "ebay",
		ID:       "123456789",
		URL:      "https://www.ebay.com/itm/123456789",
	}, l.Source)
	assert.False(t, l.DownloadedAt.IsZero())
}

func TestFieldScraperRejectsIncompletePages(t *testing.T) {
	scraper := NewFieldScraper()

	page := capturedPage()
	delete(page.Fields, "id")
	_, err := scraper.Scrape(context.Background(), page)
	assert.Error(t, err, "no item id")

	page = capturedPage()
	page.Fields["price"] = "free"
	_, err = scraper.Scrape(context.Background(), page)
	assert.Error(t, err, "unparseable price")

	page = capturedPage()
	delete(page.Fields, "images")
	_, err = scraper.Scrape(context.Background(), page)
	assert.Error(t, err, "a listing needs at least one image")
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"$18.50", 1850, true},
		{"18", 1800, true},
		{" 1,234.99 ", 123499, true},
		{"0", 0, false},
		{"-5", 0, false},
		{"free", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := parsePrice(tt.in)
		if tt.ok {
			require.NoError(t, err, "price %q", tt.in)
			assert.Equal(t, tt.want, got, "price %q", tt.in)
		} else {
			assert.Error(t, err, "price %q", tt.in)
		}
	}
}

func TestSKUFor(t *testing.T) {
	assert.Equal(t, "EB-123", skuFor("ebay", "123"))
	assert.Equal(t, "PO-9", skuFor("poshmark", "9"))
	assert.Equal(t, "XX-1", skuFor("", "1"))
}
