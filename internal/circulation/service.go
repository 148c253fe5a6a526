// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"libralend/internal/catalog"
	"libralend/internal/eventstore"
	"libralend/internal/membership"
)

// Service defines the interface for the lending service. It is the only
// entry point that mutates the catalog, the member registry and the loan
// ledger, and it is safe for concurrent use.
type Service interface {
	AddItem(ctx context.Context, item catalog.Item) (catalog.Item, error)
	RegisterMember(ctx context.Context, name, email string) (membership.Member, error)
	Checkout(ctx context.Context, isbn string, memberID int64) (Loan, error)
	ReturnItem(ctx context.Context, isbn string, memberID int64) (Loan, error)
	SweepOverdueLoans(ctx context.Context, today time.Time) (int, error)
	SettlePenalties(ctx context.Context, memberID int64) (decimal.Decimal, error)

	GetItem(ctx context.Context, isbn string) (catalog.Item, error)
	SearchItems(ctx context.Context, title string) []catalog.Item
	AvailableItems(ctx context.Context) []catalog.Item
	TopBorrowedItems(ctx context.Context, n int) []catalog.Item
	GetMember(ctx context.Context, id int64) (membership.Member, error)
	MembersWithPenalties(ctx context.Context) []membership.Member
	LoansOfMember(ctx context.Context, id int64) ([]Loan, error)
	OpenLoans(ctx context.Context) []Loan
	History(ctx context.Context, aggregateID string) ([]eventstore.Event, error)
	ConsistencyViolations(ctx context.Context) []error
}
