// internal/circulation/consistency.go
package circulation

import (
	"context"

	"libralend/internal/domain"
	"libralend/internal/membership"
)

// ConsistencyViolations cross-checks the catalog, the registry and the
// ledger. It returns one ConsistencyFault per broken invariant and an empty
// slice when everything agrees.
func (s *service) ConsistencyViolations(ctx context.Context) []error {
	_, span := s.tracer.Start(ctx, "circulation.consistency_check")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	violations := make([]error, 0)
	fault := func(format string, args ...interface{}) {
		violations = append(violations, domain.Errorf(domain.KindConsistencyFault, format, args...))
	}

	openByItem := make(map[string]int)
	openByHolding := make(map[holding]int)
	for _, loan := range s.ledger.OpenLoans() {
		openByItem[loan.ISBN]++
		openByHolding[holding{loan.ISBN, loan.MemberID}]++
		if _, ok := s.catalog.Get(loan.ISBN); !ok {
			fault("loan %s references unknown item %s", loan.ID, loan.ISBN)
		}
		if _, ok := s.registry.Get(loan.MemberID); !ok {
			fault("loan %s references unknown member %d", loan.ID, loan.MemberID)
		}
	}

	for _, item := range s.catalog.All() {
		if item.Available < 0 || item.Available > item.TotalCopies {
			fault("item %s has %d of %d copies available", item.ISBN, item.Available, item.TotalCopies)
		}
		if lent := item.TotalCopies - item.Available; lent != openByItem[item.ISBN] {
			fault("item %s has %d copies out but %d open loans", item.ISBN, lent, openByItem[item.ISBN])
		}
	}

	heldByHolding := make(map[holding]int)
	for _, member := range s.registry.All() {
		if len(member.HeldItems) > membership.MaxHeldItems {
			fault("member %d holds %d items, limit is %d", member.ID, len(member.HeldItems), membership.MaxHeldItems)
		}
		if member.PenaltyBalance.IsNegative() {
			fault("member %d has negative balance %s", member.ID, member.PenaltyBalance)
		}
		for _, isbn := range member.HeldItems {
			heldByHolding[holding{isbn, member.ID}]++
		}
	}

	for h, held := range heldByHolding {
		if open := openByHolding[h]; open != held {
			fault("member %d holds item %s %d times but has %d open loans of it", h.memberID, h.isbn, held, open)
		}
	}
	for h, open := range openByHolding {
		if _, ok := heldByHolding[h]; !ok {
			fault("member %d has %d open loans of item %s it does not hold", h.memberID, open, h.isbn)
		}
	}

	return violations
}
