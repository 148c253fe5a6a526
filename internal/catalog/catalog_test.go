package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"libralend/internal/domain"
)

func mustItem(t *testing.T, isbn, title string, copies int) Item {
	t.Helper()
	item, err := NewItem(isbn, title, "Author", 1967, copies)
	require.NoError(t, err)
	return item
}

func TestNewItemValidation(t *testing.T) {
	cases := []struct {
		name   string
		isbn   string
		year   int
		copies int
		want   error
	}{
		{name: "valid", isbn: "9788437604947", year: 1967, copies: 5},
		{name: "short identifier", isbn: "123", year: 1967, copies: 1, want: domain.ErrInvalidIdentifier},
		{name: "letters in identifier", isbn: "97884376049ab", year: 1967, copies: 1, want: domain.ErrInvalidIdentifier},
		{name: "fourteen digits", isbn: "97884376049471", year: 1967, copies: 1, want: domain.ErrInvalidIdentifier},
		{name: "year too early", isbn: "9788437604947", year: 999, copies: 1, want: domain.ErrInvalidYear},
		{name: "year in the future", isbn: "9788437604947", year: time.Now().Year() + 1, copies: 1, want: domain.ErrInvalidYear},
		{name: "current year", isbn: "9788437604947", year: time.Now().Year(), copies: 1},
		{name: "lower year bound", isbn: "9788437604947", year: 1000, copies: 1},
		{name: "no copies", isbn: "9788437604947", year: 1967, copies: 0, want: domain.ErrInvalidCopies},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item, err := NewItem(tc.isbn, "Title", "Author", tc.year, tc.copies)
			if tc.want != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.want), "got %v", err)
				assert.Equal(t, Item{}, item)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.copies, item.Available)
			assert.Equal(t, 0, item.LoanCount)
		})
	}
}

func TestCatalogAddRejectsDuplicates(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(mustItem(t, "9788437604947", "Cien años de soledad", 5)))

	err := c.Add(mustItem(t, "9788437604947", "Another title", 1))
	assert.True(t, errors.Is(err, domain.ErrItemAlreadyExists))

	stored, ok := c.Get("9788437604947")
	require.True(t, ok)
	assert.Equal(t, "Cien años de soledad", stored.Title)
	assert.Equal(t, 1, c.Len())
}

func TestCatalogGetReturnsCopy(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(mustItem(t, "9788497593798", "1984", 4)))

	item, ok := c.Get("9788497593798")
	require.True(t, ok)
	item.Available = 0

	again, _ := c.Get("9788497593798")
	assert.Equal(t, 4, again.Available)

	_, ok = c.Get("0000000000000")
	assert.False(t, ok)
}

func TestCatalogSearchByTitle(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(mustItem(t, "9788437604947", "Cien años de soledad", 5)))
	require.NoError(t, c.Add(mustItem(t, "9788408268521", "El Quijote", 3)))
	require.NoError(t, c.Add(mustItem(t, "9788466338141", "Harry Potter y la piedra filosofal", 6)))

	found := c.SearchByTitle("QUIJOTE")
	require.Len(t, found, 1)
	assert.Equal(t, "9788408268521", found[0].ISBN)

	found = c.SearchByTitle("A")
	require.Len(t, found, 2)
	assert.Equal(t, "9788437604947", found[0].ISBN)
	assert.Equal(t, "9788466338141", found[1].ISBN)

	assert.Empty(t, c.SearchByTitle("dune"))
}

func TestNewItemAsOfBoundsYearByClock(t *testing.T) {
	past := time.Date(1990, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := NewItemAsOf(past, "9788466338141", "Harry Potter", "J.K. Rowling", 1997, 6)
	assert.True(t, errors.Is(err, domain.ErrInvalidYear), "got %v", err)

	item, err := NewItemAsOf(past, "9788437604947", "Cien años de soledad", "GGM", 1990, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Available)

	future := time.Date(time.Now().Year()+3, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = NewItemAsOf(future, "9788437604947", "Later", "Author", time.Now().Year()+2, 1)
	assert.NoError(t, err)
}

func TestCatalogRestoreAndCanReturnUnit(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(mustItem(t, "9788408268521", "El Quijote", 2)))
	assert.True(t, domain.IsConsistencyFault(c.CanReturnUnit("9788408268521")), "nothing lent yet")
	assert.True(t, domain.IsConsistencyFault(c.CanReturnUnit("1111111111111")))

	snapshot, _ := c.Get("9788408268521")
	require.NoError(t, c.CheckoutUnit("9788408268521"))
	assert.NoError(t, c.CanReturnUnit("9788408268521"))

	c.Restore(snapshot)
	item, _ := c.Get("9788408268521")
	assert.Equal(t, snapshot, item)

	c.Restore(mustItem(t, "1111111111111", "Ghost", 1))
	_, ok := c.Get("1111111111111")
	assert.False(t, ok, "restore never adds items")
}

func TestCatalogCheckoutAndReturnUnit(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(mustItem(t, "9788408268521", "El Quijote", 1)))

	require.NoError(t, c.CheckoutUnit("9788408268521"))
	item, _ := c.Get("9788408268521")
	assert.Equal(t, 0, item.Available)
	assert.Equal(t, 1, item.LoanCount)
	assert.Empty(t, c.Available())

	err := c.CheckoutUnit("9788408268521")
	assert.True(t, errors.Is(err, domain.ErrItemUnavailable))
	item, _ = c.Get("9788408268521")
	assert.Equal(t, 1, item.LoanCount, "failed checkout must not bump the counter")

	require.NoError(t, c.ReturnUnit("9788408268521"))
	err = c.ReturnUnit("9788408268521")
	assert.True(t, domain.IsConsistencyFault(err))
	item, _ = c.Get("9788408268521")
	assert.Equal(t, 1, item.Available)

	assert.True(t, errors.Is(c.CheckoutUnit("1111111111111"), domain.ErrItemNotFound))
	assert.True(t, domain.IsConsistencyFault(c.ReturnUnit("1111111111111")))
}

func TestCatalogTopBorrowed(t *testing.T) {
	c := New()
	require.NoError(t, c.Add(mustItem(t, "2222222222222", "B", 20)))
	require.NoError(t, c.Add(mustItem(t, "1111111111111", "A", 20)))
	require.NoError(t, c.Add(mustItem(t, "3333333333333", "C", 20)))

	for i := 0; i < 10; i++ {
		require.NoError(t, c.CheckoutUnit("1111111111111"))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, c.CheckoutUnit("2222222222222"))
		require.NoError(t, c.CheckoutUnit("3333333333333"))
	}

	top := c.TopBorrowed(5)
	require.Len(t, top, 3)
	assert.Equal(t, "1111111111111", top[0].ISBN)
	// Equal counts fall back to ISBN order.
	assert.Equal(t, "2222222222222", top[1].ISBN)
	assert.Equal(t, "3333333333333", top[2].ISBN)

	assert.Len(t, c.TopBorrowed(1), 1)
	assert.Empty(t, c.TopBorrowed(0))
}

func TestCatalogAvailabilityStaysInBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := New()
		total := rapid.IntRange(1, 5).Draw(t, "total")
		item, err := NewItem("9788497593798", "1984", "George Orwell", 1949, total)
		if err != nil {
			t.Fatalf("new item: %v", err)
		}
		if err := c.Add(item); err != nil {
			t.Fatalf("add: %v", err)
		}

		ops := rapid.SliceOf(rapid.Bool()).Draw(t, "ops")
		for _, checkout := range ops {
			if checkout {
				_ = c.CheckoutUnit(item.ISBN)
			} else {
				_ = c.ReturnUnit(item.ISBN)
			}
			got, _ := c.Get(item.ISBN)
			if got.Available < 0 || got.Available > got.TotalCopies {
				t.Fatalf("available %d out of [0, %d]", got.Available, got.TotalCopies)
			}
		}
	})
}
