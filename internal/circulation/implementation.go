// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"libralend/internal/catalog"
	"libralend/internal/domain"
	"libralend/internal/eventstore"
	"libralend/internal/membership"
	"libralend/internal/metrics"
)

// service implements the Service interface. mu guards the catalog, the
// registry and the ledger together: every mutation holds it for the whole
// check-then-act sequence.
type service struct {
	mu       sync.RWMutex
	catalog  *catalog.Catalog
	registry *membership.Registry
	ledger   *Ledger

	journal *eventstore.EventStore
	limiter *rate.Limiter
	now     func() time.Time
	logger  *log.Entry
	metrics *metrics.LendingMetrics
	tracer  trace.Tracer
}

var _ Service = (*service)(nil)

// Option configures the lending service.
type Option func(*service)

// WithClock sets the time source used for checkout and return dates.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.LendingMetrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithEventStore sets the journal that receives domain events.
func WithEventStore(es *eventstore.EventStore) Option {
	return func(s *service) {
		if es != nil {
			s.journal = es
		}
	}
}

// WithRegistrationLimiter throttles RegisterMember. A nil limiter disables
// throttling.
func WithRegistrationLimiter(limiter *rate.Limiter) Option {
	return func(s *service) {
		s.limiter = limiter
	}
}

// WithTracer overrides the tracer used for service spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewService creates a lending service with an empty catalog, registry and
// ledger.
func NewService(opts ...Option) Service {
	s := &service{
		catalog:  catalog.New(),
		registry: membership.NewRegistry(),
		ledger:   NewLedger(),
		now:      time.Now,
		logger:   log.WithField("component", "lending"),
		tracer:   otel.Tracer("libralend/circulation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.journal == nil {
		s.journal = eventstore.NewEventStore()
	}
	return s
}

// AddItem validates item and adds it to the catalog with all copies on the
// shelf.
func (s *service) AddItem(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.add_item",
		trace.WithAttributes(attribute.String("item.isbn", item.ISBN)),
	)
	defer span.End()
	defer s.observe("add_item", time.Now())

	fresh, err := catalog.NewItemAsOf(s.now(), item.ISBN, item.Title, item.Author, item.PublishedYear, item.TotalCopies)
	if err != nil {
		return catalog.Item{}, s.fail(span, "add_item", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.catalog.Get(fresh.ISBN); exists {
		return catalog.Item{}, s.fail(span, "add_item",
			domain.Errorf(domain.KindItemAlreadyExists, "item %s already exists", fresh.ISBN))
	}

	if err := s.record(ctx, fresh.ISBN, catalog.AggregateType, catalog.EventTypeItemAdded, catalog.ItemAddedEvent{
		ISBN:          fresh.ISBN,
		Title:         fresh.Title,
		Author:        fresh.Author,
		PublishedYear: fresh.PublishedYear,
		TotalCopies:   fresh.TotalCopies,
	}); err != nil {
		return catalog.Item{}, s.fail(span, "add_item", err)
	}

	if err := s.catalog.Add(fresh); err != nil {
		return catalog.Item{}, s.fail(span, "add_item", err)
	}

	s.logger.WithFields(log.Fields{
		"isbn":   fresh.ISBN,
		"title":  fresh.Title,
		"copies": fresh.TotalCopies,
	}).Info("item added")
	return fresh, nil
}

// RegisterMember validates the email and registers a new member under the
// next id.
func (s *service) RegisterMember(ctx context.Context, name, email string) (membership.Member, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.register_member")
	defer span.End()
	defer s.observe("register_member", time.Now())

	if s.limiter != nil && !s.limiter.Allow() {
		return membership.Member{}, s.fail(span, "register_member",
			domain.Errorf(domain.KindRegistrationThrottled, "too many registrations, try again later"))
	}
	if err := membership.ValidateEmail(email); err != nil {
		return membership.Member{}, s.fail(span, "register_member", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.registry.NextID()
	if err := s.record(ctx, membership.AggregateID(id), membership.AggregateType, membership.EventTypeMemberRegistered,
		membership.MemberRegisteredEvent{ID: id, Email: email, Name: name}); err != nil {
		return membership.Member{}, s.fail(span, "register_member", err)
	}

	member, err := s.registry.Register(name, email, s.now())
	if err != nil {
		return membership.Member{}, s.fail(span, "register_member", err)
	}

	span.SetAttributes(attribute.Int64("member.id", member.ID))
	s.metrics.RecordRegistration()
	s.logger.WithFields(log.Fields{"member_id": member.ID, "email": member.Email}).Info("member registered")
	return member, nil
}

// Checkout lends one copy of isbn to the member.
func (s *service) Checkout(ctx context.Context, isbn string, memberID int64) (Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.checkout",
		trace.WithAttributes(
			attribute.String("item.isbn", isbn),
			attribute.Int64("member.id", memberID),
		),
	)
	defer span.End()
	defer s.observe("checkout", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	loan, err := s.checkout(ctx, isbn, memberID)
	s.metrics.RecordCheckout(err == nil)
	if err != nil {
		return Loan{}, s.fail(span, "checkout", err)
	}

	span.SetAttributes(attribute.String("loan.id", loan.ID.String()))
	s.logger.WithFields(log.Fields{
		"loan_id":   loan.ID,
		"isbn":      isbn,
		"member_id": memberID,
		"due_date":  loan.DueDate.Format(time.DateOnly),
	}).Info("item checked out")
	return loan, nil
}

func (s *service) checkout(ctx context.Context, isbn string, memberID int64) (Loan, error) {
	item, ok := s.catalog.Get(isbn)
	if !ok {
		return Loan{}, domain.Errorf(domain.KindItemNotFound, "item %s not found", isbn)
	}
	member, ok := s.registry.Get(memberID)
	if !ok {
		return Loan{}, domain.Errorf(domain.KindMemberNotFound, "member %d not found", memberID)
	}
	if !item.IsAvailable() {
		return Loan{}, domain.Errorf(domain.KindItemUnavailable, "no copies available of %q", item.Title)
	}
	if !member.IsEligible() {
		return Loan{}, domain.Errorf(domain.KindMemberOverLimit,
			"member %d cannot borrow more items: holds %d of %d, owes %s",
			memberID, len(member.HeldItems), membership.MaxHeldItems, member.PenaltyBalance.StringFixed(2))
	}

	today := domain.Date(s.now())
	loanID := uuid.New()
	if err := s.record(ctx, loanID.String(), AggregateType, EventTypeItemCheckedOut, ItemCheckedOutEvent{
		LoanID:   loanID,
		MemberID: memberID,
		ISBN:     isbn,
		DueDate:  DueDateFor(today),
	}); err != nil {
		return Loan{}, err
	}

	if err := s.catalog.CheckoutUnit(isbn); err != nil {
		s.compensate("checkout", item, member, nil)
		return Loan{}, err
	}
	if err := s.registry.RecordLoan(memberID, isbn); err != nil {
		s.compensate("checkout", item, member, nil)
		return Loan{}, err
	}
	return s.ledger.OpenWithID(loanID, isbn, memberID, today), nil
}

// ReturnItem closes the member's open loan of isbn, dated today. A late
// return adds the fine to the member's penalty balance.
func (s *service) ReturnItem(ctx context.Context, isbn string, memberID int64) (Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return_item",
		trace.WithAttributes(
			attribute.String("item.isbn", isbn),
			attribute.Int64("member.id", memberID),
		),
	)
	defer span.End()
	defer s.observe("return_item", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	loan, err := s.returnItem(ctx, isbn, memberID)
	s.metrics.RecordReturn(err == nil, loan.Fine)
	if err != nil {
		return Loan{}, s.fail(span, "return_item", err)
	}

	span.SetAttributes(
		attribute.String("loan.id", loan.ID.String()),
		attribute.String("loan.fine", loan.Fine.String()),
	)
	entry := s.logger.WithFields(log.Fields{
		"loan_id":   loan.ID,
		"isbn":      isbn,
		"member_id": memberID,
	})
	if loan.Fine.IsPositive() {
		entry = entry.WithField("fine", loan.Fine.StringFixed(2))
	}
	entry.Info("item returned")
	return loan, nil
}

func (s *service) returnItem(ctx context.Context, isbn string, memberID int64) (Loan, error) {
	open, ok := s.ledger.FindOpen(isbn, memberID)
	if !ok {
		return Loan{}, domain.Errorf(domain.KindLoanNotFound, "member %d has no open loan of item %s", memberID, isbn)
	}

	// Every component step below must be known to succeed before the journal
	// records the return.
	item, ok := s.catalog.Get(isbn)
	if !ok {
		return Loan{}, domain.Errorf(domain.KindConsistencyFault, "open loan %s references unknown item %s", open.ID, isbn)
	}
	if err := s.catalog.CanReturnUnit(isbn); err != nil {
		return Loan{}, err
	}
	member, ok := s.registry.Get(memberID)
	if !ok {
		return Loan{}, domain.Errorf(domain.KindConsistencyFault, "open loan %s references unknown member %d", open.ID, memberID)
	}
	if !member.Holds(isbn) {
		return Loan{}, domain.Errorf(domain.KindConsistencyFault, "member %d does not hold item %s", memberID, isbn)
	}

	today := domain.Date(s.now())
	fine := FineFor(open.DueDate, today)
	if err := s.record(ctx, open.ID.String(), AggregateType, EventTypeItemReturned, ItemReturnedEvent{
		LoanID:     open.ID,
		MemberID:   memberID,
		ISBN:       isbn,
		ReturnDate: today,
		Fine:       fine,
	}); err != nil {
		return Loan{}, err
	}

	if err := s.catalog.ReturnUnit(isbn); err != nil {
		s.compensate("return_item", item, member, &open)
		return Loan{}, err
	}
	if err := s.registry.ReleaseLoan(memberID, isbn); err != nil {
		s.compensate("return_item", item, member, &open)
		return Loan{}, err
	}
	closed, err := s.ledger.Close(open.ID, today)
	if err != nil {
		s.compensate("return_item", item, member, &open)
		return Loan{}, err
	}
	if closed.Fine.IsPositive() {
		if err := s.registry.AddPenalty(memberID, closed.Fine); err != nil {
			s.compensate("return_item", item, member, &open)
			return Loan{}, err
		}
	}
	return closed, nil
}

// compensate rolls the components back to the snapshots taken before a
// transaction started changing them.
func (s *service) compensate(operation string, item catalog.Item, member membership.Member, loan *Loan) {
	s.logger.WithFields(log.Fields{
		"operation": operation,
		"isbn":      item.ISBN,
		"member_id": member.ID,
	}).Warn("rolling back partial update")
	s.catalog.Restore(item)
	s.registry.Restore(member)
	if loan != nil {
		s.ledger.Restore(*loan)
	}
}

// SweepOverdueLoans flags every active loan whose due date is before today.
func (s *service) SweepOverdueLoans(ctx context.Context, today time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.sweep_overdue",
		trace.WithAttributes(attribute.String("today", domain.Date(today).Format(time.DateOnly))),
	)
	defer span.End()
	defer s.observe("sweep_overdue", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	flipped := 0
	for _, loan := range s.ledger.OpenLoans() {
		if loan.Status != StatusActive || !loan.IsPastDue(today) {
			continue
		}
		if err := s.record(ctx, loan.ID.String(), AggregateType, EventTypeLoanMarkedOverdue, LoanMarkedOverdueEvent{
			LoanID:   loan.ID,
			MemberID: loan.MemberID,
			ISBN:     loan.ISBN,
			DueDate:  loan.DueDate,
		}); err != nil {
			s.metrics.RecordLoansMarkedOverdue(flipped)
			return flipped, s.fail(span, "sweep_overdue", err)
		}
		if s.ledger.MarkOverdueIfPastDue(loan.ID, today) {
			flipped++
		}
	}

	span.SetAttributes(attribute.Int("loans.flipped", flipped))
	s.metrics.RecordLoansMarkedOverdue(flipped)
	if flipped > 0 {
		s.logger.WithField("count", flipped).Info("loans marked overdue")
	}
	return flipped, nil
}

// SettlePenalties pays off the member's whole balance and returns the amount.
func (s *service) SettlePenalties(ctx context.Context, memberID int64) (decimal.Decimal, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.settle_penalties",
		trace.WithAttributes(attribute.Int64("member.id", memberID)),
	)
	defer span.End()
	defer s.observe("settle_penalties", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.registry.Get(memberID)
	if !ok {
		return decimal.Zero, s.fail(span, "settle_penalties",
			domain.Errorf(domain.KindMemberNotFound, "member %d not found", memberID))
	}
	if !member.HasPenalty() {
		return decimal.Zero, nil
	}

	if err := s.record(ctx, membership.AggregateID(memberID), membership.AggregateType, membership.EventTypePenaltiesSettled,
		membership.PenaltiesSettledEvent{ID: memberID, Amount: member.PenaltyBalance}); err != nil {
		return decimal.Zero, s.fail(span, "settle_penalties", err)
	}

	settled, err := s.registry.SettlePenalties(memberID)
	if err != nil {
		return decimal.Zero, s.fail(span, "settle_penalties", err)
	}

	s.metrics.RecordPenaltiesSettled(settled)
	s.logger.WithFields(log.Fields{
		"member_id": memberID,
		"amount":    settled.StringFixed(2),
	}).Info("penalties settled")
	return settled, nil
}

// GetItem returns the item with the given ISBN.
func (s *service) GetItem(ctx context.Context, isbn string) (catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.catalog.Get(isbn)
	if !ok {
		return catalog.Item{}, domain.Errorf(domain.KindItemNotFound, "item %s not found", isbn)
	}
	return item, nil
}

func (s *service) SearchItems(ctx context.Context, title string) []catalog.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.SearchByTitle(title)
}

func (s *service) AvailableItems(ctx context.Context) []catalog.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Available()
}

func (s *service) TopBorrowedItems(ctx context.Context, n int) []catalog.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.TopBorrowed(n)
}

// GetMember returns the member with the given id.
func (s *service) GetMember(ctx context.Context, id int64) (membership.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, ok := s.registry.Get(id)
	if !ok {
		return membership.Member{}, domain.Errorf(domain.KindMemberNotFound, "member %d not found", id)
	}
	return member, nil
}

func (s *service) MembersWithPenalties(ctx context.Context) []membership.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.WithOutstandingPenalty()
}

// LoansOfMember returns every loan of the member, returned ones included.
func (s *service) LoansOfMember(ctx context.Context, id int64) ([]Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.registry.Get(id); !ok {
		return nil, domain.Errorf(domain.KindMemberNotFound, "member %d not found", id)
	}
	return s.ledger.LoansOf(id), nil
}

func (s *service) OpenLoans(ctx context.Context) []Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.OpenLoans()
}

// History returns the journal events recorded for one aggregate: an ISBN, a
// loan id or a membership.AggregateID.
func (s *service) History(ctx context.Context, aggregateID string) ([]eventstore.Event, error) {
	events, err := s.journal.LoadEvents(ctx, aggregateID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", aggregateID, err)
	}
	return events, nil
}

// record appends one event at the aggregate's current version. Callers hold
// the write lock, so a version conflict means the journal was written
// elsewhere.
func (s *service) record(ctx context.Context, aggregateID, aggregateType, eventType string, payload interface{}) error {
	if err := s.journal.Append(ctx, aggregateID, aggregateType, eventType, payload); err != nil {
		return &domain.Error{
			Kind:    domain.KindConsistencyFault,
			Message: fmt.Sprintf("record %s for %s %s", eventType, aggregateType, aggregateID),
			Err:     err,
		}
	}
	return nil
}

func (s *service) fail(span trace.Span, operation string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"kind":      domain.KindOf(err),
	})
	if domain.IsConsistencyFault(err) {
		s.metrics.RecordConsistencyFault()
		entry.Error("consistency fault")
	} else {
		entry.Warn("operation rejected")
	}
	return err
}

func (s *service) observe(operation string, start time.Time) {
	s.metrics.RecordOperationDuration(operation, time.Since(start))
}
