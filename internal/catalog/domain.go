// internal/catalog/domain.go
package catalog

import (
	"regexp"
	"time"

	"libralend/internal/domain"
)

const minPublishedYear = 1000

var isbnPattern = regexp.MustCompile(`^\d{13}$`)

// Item represents a book or other library item with one or more physical copies.
type Item struct {
	ISBN          string `json:"isbn"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	PublishedYear int    `json:"published_year"`
	TotalCopies   int    `json:"total_copies"`
	Available     int    `json:"available"`
	LoanCount     int    `json:"loan_count"`
}

// NewItem validates the attributes and returns an item with every copy available.
func NewItem(isbn, title, author string, publishedYear, totalCopies int) (Item, error) {
	return NewItemAsOf(time.Now(), isbn, title, author, publishedYear, totalCopies)
}

// NewItemAsOf is NewItem with the publication year bounded by now's year
// rather than the wall clock.
func NewItemAsOf(now time.Time, isbn, title, author string, publishedYear, totalCopies int) (Item, error) {
	if !isbnPattern.MatchString(isbn) {
		return Item{}, domain.Errorf(domain.KindInvalidIdentifier, "identifier must have exactly 13 digits: %q", isbn)
	}
	if currentYear := now.Year(); publishedYear < minPublishedYear || publishedYear > currentYear {
		return Item{}, domain.Errorf(domain.KindInvalidYear, "invalid publication year: %d", publishedYear)
	}
	if totalCopies < 1 {
		return Item{}, domain.Errorf(domain.KindInvalidCopies, "total copies must be at least one, got %d", totalCopies)
	}

	return Item{
		ISBN:          isbn,
		Title:         title,
		Author:        author,
		PublishedYear: publishedYear,
		TotalCopies:   totalCopies,
		Available:     totalCopies,
	}, nil
}

// IsAvailable reports whether at least one copy can be lent.
func (i Item) IsAvailable() bool {
	return i.Available > 0
}

// ItemAddedEvent is published when a new item is added.
type ItemAddedEvent struct {
	ISBN          string `json:"isbn"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	PublishedYear int    `json:"published_year"`
	TotalCopies   int    `json:"total_copies"`
}

// Event types and aggregate type recorded in the journal for items.
const (
	AggregateType      = "item"
	EventTypeItemAdded = "ItemAdded"
)
