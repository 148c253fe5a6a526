// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libralend/internal/domain"
)

// LoanPeriodDays is how long a member may keep an item.
const LoanPeriodDays = 14

// DailyFine is charged for every calendar day an item is returned late.
var DailyFine = decimal.NewFromInt(500)

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	StatusActive   LoanStatus = "active"
	StatusOverdue  LoanStatus = "overdue"
	StatusReturned LoanStatus = "returned"
)

// Loan represents one copy of an item lent to a member.
type Loan struct {
	ID           uuid.UUID       `json:"id"`
	ISBN         string          `json:"isbn"`
	MemberID     int64           `json:"member_id"`
	CheckoutDate time.Time       `json:"checkout_date"`
	DueDate      time.Time       `json:"due_date"`
	ReturnDate   *time.Time      `json:"return_date,omitempty"`
	Status       LoanStatus      `json:"status"`
	Fine         decimal.Decimal `json:"fine"`
}

// IsOpen reports whether the loan still holds a copy.
func (l Loan) IsOpen() bool {
	return l.Status == StatusActive || l.Status == StatusOverdue
}

// IsPastDue reports whether today is after the due date.
func (l Loan) IsPastDue(today time.Time) bool {
	return domain.Date(today).After(l.DueDate)
}

func (l Loan) clone() Loan {
	if l.ReturnDate != nil {
		returned := *l.ReturnDate
		l.ReturnDate = &returned
	}
	return l
}

// DueDateFor returns the due date of a loan that starts on start.
func DueDateFor(start time.Time) time.Time {
	return domain.Date(start).AddDate(0, 0, LoanPeriodDays)
}

// FineFor returns the fine for an item due on due and returned on returned:
// DailyFine per calendar day late, zero when returned on or before due.
func FineFor(due, returned time.Time) decimal.Decimal {
	daysLate := domain.DaysBetween(due, returned)
	if daysLate <= 0 {
		return decimal.Zero
	}
	return DailyFine.Mul(decimal.NewFromInt(int64(daysLate)))
}

// ItemCheckedOutEvent is published when an item is checked out.
type ItemCheckedOutEvent struct {
	LoanID   uuid.UUID `json:"loan_id"`
	MemberID int64     `json:"member_id"`
	ISBN     string    `json:"isbn"`
	DueDate  time.Time `json:"due_date"`
}

// ItemReturnedEvent is published when an item is returned.
type ItemReturnedEvent struct {
	LoanID     uuid.UUID       `json:"loan_id"`
	MemberID   int64           `json:"member_id"`
	ISBN       string          `json:"isbn"`
	ReturnDate time.Time       `json:"return_date"`
	Fine       decimal.Decimal `json:"fine"`
}

// LoanMarkedOverdueEvent is published when the sweeper flags a loan.
type LoanMarkedOverdueEvent struct {
	LoanID   uuid.UUID `json:"loan_id"`
	MemberID int64     `json:"member_id"`
	ISBN     string    `json:"isbn"`
	DueDate  time.Time `json:"due_date"`
}

// Event types and aggregate type recorded in the journal for loans.
const (
	AggregateType              = "loan"
	EventTypeItemCheckedOut    = "ItemCheckedOut"
	EventTypeItemReturned      = "ItemReturned"
	EventTypeLoanMarkedOverdue = "LoanMarkedOverdue"
)
