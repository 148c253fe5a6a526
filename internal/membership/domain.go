// internal/membership/domain.go
package membership

import (
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"libralend/internal/domain"
)

// Borrowing limits. A member may take a new loan only while holding fewer than
// MaxHeldItems items and owing less than MaxPenaltyBalance.
const (
	MaxHeldItems = 3
)

var (
	MaxPenaltyBalance = decimal.NewFromInt(5000)

	emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@(.+)$`)
)

// Member represents a registered library member.
type Member struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	HeldItems      []string        `json:"held_items"`
	PenaltyBalance decimal.Decimal `json:"penalty_balance"`
	RegisteredAt   time.Time       `json:"registered_at"`
}

// IsEligible reports whether the member may take another loan.
func (m Member) IsEligible() bool {
	return len(m.HeldItems) < MaxHeldItems && m.PenaltyBalance.LessThan(MaxPenaltyBalance)
}

// HasPenalty reports whether the member owes anything.
func (m Member) HasPenalty() bool {
	return m.PenaltyBalance.IsPositive()
}

// Holds reports whether isbn is among the member's held items.
func (m Member) Holds(isbn string) bool {
	for _, held := range m.HeldItems {
		if held == isbn {
			return true
		}
	}
	return false
}

func (m Member) clone() Member {
	held := make([]string, len(m.HeldItems))
	copy(held, m.HeldItems)
	m.HeldItems = held
	return m
}

// ValidateEmail checks the basic local@domain shape.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return domain.Errorf(domain.KindInvalidEmail, "invalid email: %q", email)
	}
	return nil
}

// MemberRegisteredEvent is published when a new member registers.
type MemberRegisteredEvent struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// PenaltiesSettledEvent is published when a member pays off the balance.
type PenaltiesSettledEvent struct {
	ID     int64           `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// Event types and aggregate type recorded in the journal for members.
const (
	AggregateType             = "member"
	EventTypeMemberRegistered = "MemberRegistered"
	EventTypePenaltiesSettled = "PenaltiesSettled"
)

// AggregateID is the journal key of a member. The prefix keeps member keys
// apart from item ISBNs.
func AggregateID(id int64) string {
	return "member-" + strconv.FormatInt(id, 10)
}
