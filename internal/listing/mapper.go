package listing

import (
	"strings"
)

// Normalization tables for marketplace field mismatches: eBay free-text
// values on the left, the destination's canonical spellings on the
// right.

var brandMap = map[string]string{
	"nike":             "Nike",
	"adidas":           "Adidas",
	"lululemon":        "Lululemon",
	"zara":             "Zara",
	"h&m":              "H&M",
	"forever 21":       "Forever 21",
	"urban outfitters": "Urban Outfitters",
	"anthropologie":    "Anthropologie",
	"free people":      "Free People",
	"madewell":         "Madewell",
	"j.crew":           "J.Crew",
	"banana republic":  "Banana Republic",
	"gap":              "Gap",
	"old navy":         "Old Navy",
	"target":           "Target",
	"walmart":          "Walmart",
	"amazon":           "Amazon",
	"shein":            "SHEIN",
	"asos":             "ASOS",
	"boohoo":           "Boohoo",
}

var sizeMap = map[string]string{
	"xs":     "XS",
	"small":  "S",
	"medium": "M",
	"large":  "L",
	"xl":     "XL",
	"xxl":    "XXL",
	"xxxl":   "XXXL",
}

// conditionMap folds eBay condition phrasing onto the destination's
// four-value condition enum.
var conditionMap = map[string]string{
	"new with tags":    "new",
	"new without tags": "new",
	"new":              "new",
	"like new":         "like_new",
	"excellent":        "like_new",
	"very good":        "good",
	"good":             "good",
	"fair":             "fair",
	"poor":             "fair",
	"pre-owned":        "good",
}

var categoryMap = map[string][]string{
	"women's clothing": {"Women", "Clothing"},
	"men's clothing":   {"Men", "Clothing"},
	"women's shoes":    {"Women", "Shoes"},
	"men's shoes":      {"Men", "Shoes"},
	"shoes":            {"Women", "Shoes"},
	"handbags":         {"Women", "Bags"},
	"jewelry":          {"Women", "Accessories", "Jewelry"},
	"accessories":      {"Women", "Accessories"},
}

// destinationColors is the destination's closed color list; anything
// else is dropped in the mapped form.
var destinationColors = map[string]bool{
	"Red": true, "Pink": true, "Orange": true, "Yellow": true,
	"Green": true, "Blue": true, "Purple": true, "Gold": true,
	"Silver": true, "Black": true, "Gray": true, "White": true,
	"Cream": true, "Brown": true, "Tan": true,
}

const (
	maxTitleLen       = 80
	maxDescriptionLen = 1500
	maxColors         = 2
	maxStyleTags      = 3
)

// NormalizeBrand maps a scraped brand onto the destination's spelling,
// passing unknown brands through untouched.
func NormalizeBrand(brand string) string {
	if brand == "" {
		return ""
	}
	if mapped, ok := brandMap[strings.ToLower(strings.TrimSpace(brand))]; ok {
		return mapped
	}
	return brand
}

// NormalizeSize canonicalizes letter sizes and passes numeric sizes
// through.
func NormalizeSize(size string) string {
	if size == "" {
		return ""
	}
	clean := strings.ToLower(strings.TrimSpace(size))
	if mapped, ok := sizeMap[clean]; ok {
		return mapped
	}
	return strings.ToUpper(strings.TrimSpace(size))
}

// NormalizeCondition folds a free-text condition onto the destination
// enum, defaulting to "good" for anything unrecognized.
func NormalizeCondition(condition string) string {
	if mapped, ok := conditionMap[strings.ToLower(strings.TrimSpace(condition))]; ok {
		return mapped
	}
	return "good"
}

// GuessCategory maps a source category onto the destination's category
// path. Returns nil when no mapping applies; the user picks by hand
// then.
func GuessCategory(category string) []string {
	if path, ok := categoryMap[strings.ToLower(strings.TrimSpace(category))]; ok {
		return append([]string(nil), path...)
	}
	return nil
}

// Form is the destination listing form, ready for the form filler.
type Form struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Brand       string   `json:"brand,omitempty"`
	Size        string   `json:"size,omitempty"`
	Category    []string `json:"category,omitempty"`
	Condition   string   `json:"condition"`
	NewWithTags bool     `json:"newWithTags"`
	Price       int      `json:"price"`
	Colors      []string `json:"colors,omitempty"`
	StyleTags   []string `json:"styleTags,omitempty"`
	Photos      []string `json:"photos"`
}

// BuildForm maps a stored listing onto the destination form, applying
// the field limits and normalization tables.
func BuildForm(l *Listing) *Form {
	form := &Form{
		Title:       truncate(l.Title, maxTitleLen),
		Description: truncate(l.Description, maxDescriptionLen),
		Brand:       NormalizeBrand(l.Brand),
		Size:        NormalizeSize(l.Size),
		Condition:   NormalizeCondition(l.Condition),
		NewWithTags: l.NewWithTags || strings.EqualFold(strings.TrimSpace(l.Condition), "new with tags"),
		Price:       l.ListPrice,
		Photos:      append([]string(nil), l.Images...),
	}

	if len(l.CategoryGuess) > 0 {
		form.Category = append([]string(nil), l.CategoryGuess...)
	}

	for _, c := range l.Colors {
		canon := capitalize(strings.TrimSpace(c))
		if destinationColors[canon] {
			form.Colors = append(form.Colors, canon)
		}
		if len(form.Colors) == maxColors {
			break
		}
	}

	for _, s := range l.Style {
		if s = strings.TrimSpace(s); s != "" {
			form.StyleTags = append(form.StyleTags, s)
		}
		if len(form.StyleTags) == maxStyleTags {
			break
		}
	}

	return form
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max])
}
