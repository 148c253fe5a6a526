// internal/membership/registry.go
package membership

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"libralend/internal/domain"
)

// Registry owns the member records and the id sequence. Like the catalog it
// is not safe for concurrent use on its own.
type Registry struct {
	members map[int64]*Member
	lastID  int64
}

// NewRegistry creates an empty registry whose first member gets id 1.
func NewRegistry() *Registry {
	return &Registry{
		members: make(map[int64]*Member),
	}
}

// NextID returns the id the next registration will receive.
func (r *Registry) NextID() int64 {
	return r.lastID + 1
}

// Register validates the email and stores a new member under the next id.
func (r *Registry) Register(name, email string, now time.Time) (Member, error) {
	if err := ValidateEmail(email); err != nil {
		return Member{}, err
	}

	r.lastID++
	member := &Member{
		ID:             r.lastID,
		Name:           name,
		Email:          email,
		HeldItems:      []string{},
		PenaltyBalance: decimal.Zero,
		RegisteredAt:   now,
	}
	r.members[member.ID] = member
	return member.clone(), nil
}

// Get returns a copy of the member.
func (r *Registry) Get(id int64) (Member, bool) {
	member, ok := r.members[id]
	if !ok {
		return Member{}, false
	}
	return member.clone(), true
}

// IsEligible reports whether the member exists and may take another loan.
func (r *Registry) IsEligible(id int64) bool {
	member, ok := r.members[id]
	return ok && member.IsEligible()
}

// RecordLoan appends isbn to the member's held items.
func (r *Registry) RecordLoan(id int64, isbn string) error {
	member, err := r.lookup(id)
	if err != nil {
		return err
	}
	if !member.IsEligible() {
		return domain.Errorf(domain.KindMemberOverLimit,
			"member %d cannot borrow more items: holds %d of %d, owes %s",
			id, len(member.HeldItems), MaxHeldItems, member.PenaltyBalance.StringFixed(2))
	}
	member.HeldItems = append(member.HeldItems, isbn)
	return nil
}

// ReleaseLoan removes the first occurrence of isbn from the held items.
func (r *Registry) ReleaseLoan(id int64, isbn string) error {
	member, err := r.lookup(id)
	if err != nil {
		return err
	}
	for i, held := range member.HeldItems {
		if held == isbn {
			member.HeldItems = append(member.HeldItems[:i], member.HeldItems[i+1:]...)
			return nil
		}
	}
	return domain.Errorf(domain.KindConsistencyFault, "member %d does not hold item %s", id, isbn)
}

// Restore puts back a snapshot taken with Get. Only registered members are
// restored.
func (r *Registry) Restore(snapshot Member) {
	if _, ok := r.members[snapshot.ID]; ok {
		restored := snapshot.clone()
		r.members[snapshot.ID] = &restored
	}
}

// AddPenalty adds a non-negative amount to the member's balance.
func (r *Registry) AddPenalty(id int64, amount decimal.Decimal) error {
	member, err := r.lookup(id)
	if err != nil {
		return err
	}
	if amount.IsNegative() {
		return domain.Errorf(domain.KindConsistencyFault, "negative penalty %s for member %d", amount, id)
	}
	member.PenaltyBalance = member.PenaltyBalance.Add(amount)
	return nil
}

// SettlePenalties resets the balance and returns the amount that was owed.
func (r *Registry) SettlePenalties(id int64) (decimal.Decimal, error) {
	member, err := r.lookup(id)
	if err != nil {
		return decimal.Zero, err
	}
	settled := member.PenaltyBalance
	member.PenaltyBalance = decimal.Zero
	return settled, nil
}

// WithOutstandingPenalty returns members owing a positive balance, by id.
func (r *Registry) WithOutstandingPenalty() []Member {
	result := make([]Member, 0)
	for _, member := range r.members {
		if member.HasPenalty() {
			result = append(result, member.clone())
		}
	}
	sortByID(result)
	return result
}

// All returns every member ordered by id.
func (r *Registry) All() []Member {
	result := make([]Member, 0, len(r.members))
	for _, member := range r.members {
		result = append(result, member.clone())
	}
	sortByID(result)
	return result
}

func (r *Registry) lookup(id int64) (*Member, error) {
	member, ok := r.members[id]
	if !ok {
		return nil, domain.Errorf(domain.KindMemberNotFound, "member %d not found", id)
	}
	return member, nil
}

func sortByID(members []Member) {
	sort.Slice(members, func(i, j int) bool {
		return members[i].ID < members[j].ID
	})
}
