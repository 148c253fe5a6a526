package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"libralend/internal/catalog"
)

type seedItem struct {
	isbn, title, author string
	year, copies        int
}

var seedItems = []seedItem{
	{"9788437604947", "Cien años de soledad", "Gabriel García Márquez", 1967, 5},
	{"9788408268521", "El Quijote", "Miguel de Cervantes", 1605, 3},
	{"9788497593798", "1984", "George Orwell", 1949, 4},
	{"9788466338141", "Harry Potter y la piedra filosofal", "J.K. Rowling", 1997, 6},
}

var seedMembers = []struct{ name, email string }{
	{"Ana García", "ana@email.com"},
	{"Carlos López", "carlos@email.com"},
}

// Seed loads the sample catalog and members.
func (a *App) Seed(ctx context.Context) error {
	for _, s := range seedItems {
		item, err := catalog.NewItem(s.isbn, s.title, s.author, s.year, s.copies)
		if err != nil {
			return fmt.Errorf("seed item %s: %w", s.isbn, err)
		}
		if _, err := a.Service.AddItem(ctx, item); err != nil {
			return fmt.Errorf("seed item %s: %w", s.isbn, err)
		}
	}
	for _, m := range seedMembers {
		if _, err := a.Service.RegisterMember(ctx, m.name, m.email); err != nil {
			return fmt.Errorf("seed member %s: %w", m.email, err)
		}
	}
	a.logger.WithFields(log.Fields{
		"items":   len(seedItems),
		"members": len(seedMembers),
	}).Info("sample data loaded")
	return nil
}
