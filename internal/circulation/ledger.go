// internal/circulation/ledger.go
package circulation

import (
	"time"

	"github.com/google/uuid"

	"libralend/internal/domain"
)

// Ledger records every loan ever opened. Loans are never removed; closing one
// only changes its status. Not safe for concurrent use on its own.
type Ledger struct {
	loans map[uuid.UUID]*Loan
	order []uuid.UUID
	// open loans per (item, member), oldest first
	open map[holding][]uuid.UUID
}

type holding struct {
	isbn     string
	memberID int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		loans: make(map[uuid.UUID]*Loan),
		open:  make(map[holding][]uuid.UUID),
	}
}

// Open records a new active loan starting today and due LoanPeriodDays later.
func (l *Ledger) Open(isbn string, memberID int64, today time.Time) Loan {
	return l.OpenWithID(uuid.New(), isbn, memberID, today)
}

// OpenWithID is Open with a caller-chosen loan id, for callers that need the
// id before the loan exists.
func (l *Ledger) OpenWithID(id uuid.UUID, isbn string, memberID int64, today time.Time) Loan {
	start := domain.Date(today)
	loan := &Loan{
		ID:           id,
		ISBN:         isbn,
		MemberID:     memberID,
		CheckoutDate: start,
		DueDate:      DueDateFor(start),
		Status:       StatusActive,
	}
	l.loans[loan.ID] = loan
	l.order = append(l.order, loan.ID)
	key := holding{isbn: isbn, memberID: memberID}
	l.open[key] = append(l.open[key], loan.ID)
	return *loan
}

// Close marks the loan returned on returnDate and computes its fine.
func (l *Ledger) Close(loanID uuid.UUID, returnDate time.Time) (Loan, error) {
	loan, ok := l.loans[loanID]
	if !ok {
		return Loan{}, domain.Errorf(domain.KindLoanNotFound, "loan %s not found", loanID)
	}
	if !loan.IsOpen() {
		return Loan{}, domain.Errorf(domain.KindConsistencyFault, "loan %s is already %s", loanID, loan.Status)
	}

	returned := domain.Date(returnDate)
	loan.ReturnDate = &returned
	loan.Status = StatusReturned
	loan.Fine = FineFor(loan.DueDate, returned)
	l.unindex(loan)
	return loan.clone(), nil
}

// Restore puts back a snapshot taken with Get or FindOpen, reopening the loan
// if the snapshot was open. Unknown loans are ignored.
func (l *Ledger) Restore(snapshot Loan) {
	if _, ok := l.loans[snapshot.ID]; !ok {
		return
	}
	restored := snapshot.clone()
	l.loans[snapshot.ID] = &restored
	l.reindex(holding{isbn: snapshot.ISBN, memberID: snapshot.MemberID})
}

// MarkOverdueIfPastDue flips an active loan to overdue once today is after its
// due date. It reports whether the status changed.
func (l *Ledger) MarkOverdueIfPastDue(loanID uuid.UUID, today time.Time) bool {
	loan, ok := l.loans[loanID]
	if !ok || loan.Status != StatusActive || !loan.IsPastDue(today) {
		return false
	}
	loan.Status = StatusOverdue
	return true
}

// Get returns a copy of the loan.
func (l *Ledger) Get(loanID uuid.UUID) (Loan, bool) {
	loan, ok := l.loans[loanID]
	if !ok {
		return Loan{}, false
	}
	return loan.clone(), true
}

// FindOpen returns the oldest open loan of isbn held by memberID.
func (l *Ledger) FindOpen(isbn string, memberID int64) (Loan, bool) {
	ids := l.open[holding{isbn: isbn, memberID: memberID}]
	if len(ids) == 0 {
		return Loan{}, false
	}
	return l.loans[ids[0]].clone(), true
}

// LoansOf returns every loan of the member, in the order they were opened.
func (l *Ledger) LoansOf(memberID int64) []Loan {
	return l.filter(func(loan *Loan) bool { return loan.MemberID == memberID })
}

// OpenLoans returns every active or overdue loan.
func (l *Ledger) OpenLoans() []Loan {
	return l.filter(func(loan *Loan) bool { return loan.IsOpen() })
}

// All returns every loan ever opened.
func (l *Ledger) All() []Loan {
	return l.filter(func(*Loan) bool { return true })
}

func (l *Ledger) unindex(loan *Loan) {
	key := holding{isbn: loan.ISBN, memberID: loan.MemberID}
	ids := l.open[key]
	for i, id := range ids {
		if id == loan.ID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(l.open, key)
		return
	}
	l.open[key] = ids
}

func (l *Ledger) reindex(key holding) {
	var ids []uuid.UUID
	for _, id := range l.order {
		loan := l.loans[id]
		if loan.IsOpen() && loan.ISBN == key.isbn && loan.MemberID == key.memberID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		delete(l.open, key)
		return
	}
	l.open[key] = ids
}

func (l *Ledger) filter(keep func(*Loan) bool) []Loan {
	result := make([]Loan, 0)
	for _, id := range l.order {
		loan := l.loans[id]
		if keep(loan) {
			result = append(result, loan.clone())
		}
	}
	return result
}
