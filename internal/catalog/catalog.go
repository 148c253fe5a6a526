// internal/catalog/catalog.go
package catalog

import (
	"sort"
	"strings"

	"libralend/internal/domain"
)

// Catalog holds items keyed by ISBN and remembers insertion order so listings
// are stable. It is not safe for concurrent use: the lending service
// serializes every call.
type Catalog struct {
	items map[string]*Item
	order []string
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		items: make(map[string]*Item),
	}
}

// Add inserts a new item. A second item with the same ISBN is rejected.
func (c *Catalog) Add(item Item) error {
	if _, exists := c.items[item.ISBN]; exists {
		return domain.Errorf(domain.KindItemAlreadyExists, "item %s already exists", item.ISBN)
	}
	stored := item
	c.items[item.ISBN] = &stored
	c.order = append(c.order, item.ISBN)
	return nil
}

// Get returns a copy of the item with the given ISBN.
func (c *Catalog) Get(isbn string) (Item, bool) {
	item, ok := c.items[isbn]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// SearchByTitle returns items whose title contains query, ignoring case.
func (c *Catalog) SearchByTitle(query string) []Item {
	needle := strings.ToLower(query)
	return c.filter(func(item *Item) bool {
		return strings.Contains(strings.ToLower(item.Title), needle)
	})
}

// Available returns every item with at least one copy on the shelf.
func (c *Catalog) Available() []Item {
	return c.filter(func(item *Item) bool { return item.IsAvailable() })
}

// All returns every item in insertion order.
func (c *Catalog) All() []Item {
	return c.filter(func(*Item) bool { return true })
}

// Len returns the number of items.
func (c *Catalog) Len() int {
	return len(c.order)
}

// TopBorrowed returns up to n items ordered by lifetime loan count, highest
// first. Equal counts are ordered by ISBN ascending.
func (c *Catalog) TopBorrowed(n int) []Item {
	if n <= 0 {
		return []Item{}
	}

	result := c.All()
	sort.Slice(result, func(i, j int) bool {
		if result[i].LoanCount != result[j].LoanCount {
			return result[i].LoanCount > result[j].LoanCount
		}
		return result[i].ISBN < result[j].ISBN
	})

	if len(result) > n {
		result = result[:n]
	}
	return result
}

// CheckoutUnit takes one copy off the shelf and bumps the loan counter.
func (c *Catalog) CheckoutUnit(isbn string) error {
	item, ok := c.items[isbn]
	if !ok {
		return domain.Errorf(domain.KindItemNotFound, "item %s not found", isbn)
	}
	if !item.IsAvailable() {
		return domain.Errorf(domain.KindItemUnavailable, "no copies available of %q", item.Title)
	}
	item.Available--
	item.LoanCount++
	return nil
}

// ReturnUnit puts one copy back. Returning more copies than were lent is a
// consistency fault.
func (c *Catalog) ReturnUnit(isbn string) error {
	if err := c.CanReturnUnit(isbn); err != nil {
		return err
	}
	c.items[isbn].Available++
	return nil
}

// CanReturnUnit reports the fault ReturnUnit would raise, without changing
// anything.
func (c *Catalog) CanReturnUnit(isbn string) error {
	item, ok := c.items[isbn]
	if !ok {
		return domain.Errorf(domain.KindConsistencyFault, "return of unknown item %s", isbn)
	}
	if item.Available >= item.TotalCopies {
		return domain.Errorf(domain.KindConsistencyFault,
			"cannot return more copies than were lent: item %s has %d of %d available",
			isbn, item.Available, item.TotalCopies)
	}
	return nil
}

// Restore puts back a snapshot taken with Get. Only items already in the
// catalog are restored.
func (c *Catalog) Restore(snapshot Item) {
	if _, ok := c.items[snapshot.ISBN]; ok {
		restored := snapshot
		c.items[snapshot.ISBN] = &restored
	}
}

func (c *Catalog) filter(keep func(*Item) bool) []Item {
	result := make([]Item, 0, len(c.order))
	for _, isbn := range c.order {
		item := c.items[isbn]
		if keep(item) {
			result = append(result, *item)
		}
	}
	return result
}
