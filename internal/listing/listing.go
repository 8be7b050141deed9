// Package listing models the product listings the companion moves
// between marketplaces and their local persistence between download
// and relist.
package listing

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Status tracks a listing through the relist workflow.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusEdited     Status = "edited"
	StatusListed     Status = "listed"
	StatusArchived   Status = "archived"
)

// Source identifies where a listing was downloaded from.
type Source struct {
	Platform string `json:"platform" validate:"required"`
	ID       string `json:"id" validate:"required"`
	URL      string `json:"url,omitempty"`
}

// Listing is the marketplace-neutral listing record. Prices are in
// cents. Field limits follow the destination form: title 80 chars,
// description 1500, at most two colors and three style tags.
type Listing struct {
	SKU           string    `json:"sku" validate:"required,max=64"`
	Title         string    `json:"title" validate:"required,max=80"`
	Description   string    `json:"description" validate:"required,max=1500"`
	Brand         string    `json:"brand,omitempty"`
	CategoryGuess []string  `json:"categoryGuess,omitempty" validate:"max=3"`
	Size          string    `json:"size,omitempty"`
	Colors        []string  `json:"colors,omitempty" validate:"max=2"`
	Condition     string    `json:"condition,omitempty"`
	OriginalPrice int       `json:"originalPrice,omitempty" validate:"omitempty,gt=0"`
	ListPrice     int       `json:"listPrice" validate:"required,gt=0"`
	Images        []string  `json:"images" validate:"required,min=1,dive,url"`
	Material      []string  `json:"material,omitempty"`
	Style         []string  `json:"style,omitempty" validate:"max=3"`
	Gender        string    `json:"gender,omitempty"`
	NewWithTags   bool      `json:"newWithTags"`
	Status        Status    `json:"status"`
	Source        Source    `json:"source" validate:"required"`
	DownloadedAt  time.Time `json:"downloadedAt"`
	ListedAt      time.Time `json:"listedAt,omitempty"`
}

var validate = validator.New()

// Validate checks the listing against its field constraints.
func (l *Listing) Validate() error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("invalid listing: %w", err)
	}
	return nil
}

// allowed status transitions through the relist workflow
var transitions = map[Status][]Status{
	StatusDownloaded: {StatusEdited, StatusListed, StatusArchived},
	StatusEdited:     {StatusListed, StatusArchived},
	StatusListed:     {StatusArchived},
	StatusArchived:   {},
}

// TransitionTo moves the listing to a new workflow status, rejecting
// moves the workflow does not allow (a listed item cannot go back to
// downloaded).
func (l *Listing) TransitionTo(next Status) error {
	for _, allowed := range transitions[l.Status] {
		if next == allowed {
			l.Status = next
			if next == StatusListed {
				l.ListedAt = time.Now()
			}
			return nil
		}
	}
	return fmt.Errorf("cannot transition listing from %q to %q", l.Status, next)
}
