package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"libralend/internal/catalog"
	"libralend/internal/circulation"
	"libralend/internal/domain"
	"libralend/internal/membership"
)

const defaultObservation = 2 * time.Second

// RegisterExperiments registers all predefined chaos experiments with the engine.
func (ce *ChaosEngine) RegisterExperiments() {
	ce.RegisterExperiment(ce.ConcurrentCheckoutRaceConditionTest(100))
	ce.RegisterExperiment(ce.MemberLimitSaturationExperiment(membership.MaxHeldItems + 3))
	ce.RegisterExperiment(ce.CheckoutReturnChurnExperiment(16, 50))
}

// ConcurrentCheckoutRaceConditionTest has many members race for the single
// copy of one item.
func (ce *ChaosEngine) ConcurrentCheckoutRaceConditionTest(concurrency int) ChaosExperiment {
	var (
		isbn    string
		members []int64
	)

	return ChaosExperiment{
		Name:       "concurrent-checkout-race-condition",
		Hypothesis: "System prevents double-booking when multiple checkouts occur simultaneously",
		SteadyState: []Metric{
			ce.consistencyMetric(),
			{
				Name: "open_loans_of_item",
				Query: func(ctx context.Context) (float64, error) {
					return float64(ce.openLoansOf(ctx, isbn)), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:       "provision",
				Target:     "catalog",
				Parameters: map[string]interface{}{"copies": 1, "members": concurrency},
				Execute: func(ctx context.Context) error {
					var err error
					if isbn, err = ce.provisionItem(ctx, "Race Condition", 1); err != nil {
						return err
					}
					members, err = ce.provisionMembers(ctx, concurrency)
					return err
				},
			},
			{
				Type:       "concurrent-requests",
				Target:     "circulation-service",
				Parameters: map[string]interface{}{"concurrency": concurrency},
				Execute: func(ctx context.Context) error {
					var (
						wg        sync.WaitGroup
						succeeded int64
						errs      = make(chan error, len(members))
					)
					for _, id := range members {
						wg.Add(1)
						go func(id int64) {
							defer wg.Done()
							_, err := ce.svc.Checkout(ctx, isbn, id)
							switch {
							case err == nil:
								atomic.AddInt64(&succeeded, 1)
							case errors.Is(err, domain.ErrItemUnavailable):
							default:
								errs <- err
							}
						}(id)
					}
					wg.Wait()
					close(errs)

					if err := drain(errs); err != nil {
						return err
					}
					if succeeded != 1 {
						return fmt.Errorf("%d checkouts succeeded for a single copy", succeeded)
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "restore",
				Target: "circulation-service",
				Execute: func(ctx context.Context) error {
					return ce.returnAll(ctx, isbn)
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "data_consistency",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No data inconsistencies should occur",
			},
			{
				Metric:    "open_loans_of_item",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one member should hold the copy",
			},
		},
		Duration:    defaultObservation,
		BlastRadius: 0.1,
	}
}

// MemberLimitSaturationExperiment has one member try to borrow more items
// than the loan limit allows, all at once.
func (ce *ChaosEngine) MemberLimitSaturationExperiment(items int) ChaosExperiment {
	var (
		isbns    []string
		memberID int64
	)

	return ChaosExperiment{
		Name:       "member-limit-saturation",
		Hypothesis: "A member never holds more than the loan limit under concurrent checkouts",
		SteadyState: []Metric{
			ce.consistencyMetric(),
			{
				Name: "held_items",
				Query: func(ctx context.Context) (float64, error) {
					if memberID == 0 {
						return 0, nil
					}
					m, err := ce.svc.GetMember(ctx, memberID)
					if err != nil {
						return 0, err
					}
					return float64(len(m.HeldItems)), nil
				},
				Threshold: Threshold{Operator: "<=", Value: membership.MaxHeldItems},
			},
		},
		Method: []Action{
			{
				Type:       "provision",
				Target:     "catalog",
				Parameters: map[string]interface{}{"items": items},
				Execute: func(ctx context.Context) error {
					isbns = make([]string, 0, items)
					for i := 0; i < items; i++ {
						isbn, err := ce.provisionItem(ctx, fmt.Sprintf("Saturation %d", i+1), 2)
						if err != nil {
							return err
						}
						isbns = append(isbns, isbn)
					}
					ids, err := ce.provisionMembers(ctx, 1)
					if err != nil {
						return err
					}
					memberID = ids[0]
					return nil
				},
			},
			{
				Type:       "concurrent-requests",
				Target:     "circulation-service",
				Parameters: map[string]interface{}{"concurrency": items},
				Execute: func(ctx context.Context) error {
					var (
						wg        sync.WaitGroup
						succeeded int64
						errs      = make(chan error, len(isbns))
					)
					for _, isbn := range isbns {
						wg.Add(1)
						go func(isbn string) {
							defer wg.Done()
							_, err := ce.svc.Checkout(ctx, isbn, memberID)
							switch {
							case err == nil:
								atomic.AddInt64(&succeeded, 1)
							case errors.Is(err, domain.ErrMemberOverLimit):
							default:
								errs <- err
							}
						}(isbn)
					}
					wg.Wait()
					close(errs)

					if err := drain(errs); err != nil {
						return err
					}
					if succeeded != membership.MaxHeldItems {
						return fmt.Errorf("%d checkouts succeeded, want %d", succeeded, membership.MaxHeldItems)
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "restore",
				Target: "circulation-service",
				Execute: func(ctx context.Context) error {
					for _, isbn := range isbns {
						if err := ce.returnAll(ctx, isbn); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "held_items",
				Condition: func(v float64) bool { return v == membership.MaxHeldItems },
				Message:   "The member should hold exactly the loan limit",
			},
			{
				Metric:    "data_consistency",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No data inconsistencies should occur",
			},
		},
		Duration:    defaultObservation,
		BlastRadius: 0.2,
	}
}

// CheckoutReturnChurnExperiment has workers repeatedly borrow and return
// copies of one item, then checks the journal still accounts for every
// open loan.
func (ce *ChaosEngine) CheckoutReturnChurnExperiment(workers, rounds int) ChaosExperiment {
	copies := workers / 2
	if copies < 1 {
		copies = 1
	}
	var (
		isbn    string
		members []int64
	)

	return ChaosExperiment{
		Name:       "checkout-return-churn",
		Hypothesis: "Copies and journal stay balanced while loans open and close concurrently",
		SteadyState: []Metric{
			ce.consistencyMetric(),
			ce.journalBalanceMetric(),
			{
				Name: "copies_missing",
				Query: func(ctx context.Context) (float64, error) {
					if isbn == "" {
						return 0, nil
					}
					item, err := ce.svc.GetItem(ctx, isbn)
					if err != nil {
						return 0, err
					}
					return float64(item.TotalCopies - item.Available), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:       "provision",
				Target:     "catalog",
				Parameters: map[string]interface{}{"copies": copies, "members": workers},
				Execute: func(ctx context.Context) error {
					var err error
					if isbn, err = ce.provisionItem(ctx, "Churn", copies); err != nil {
						return err
					}
					members, err = ce.provisionMembers(ctx, workers)
					return err
				},
			},
			{
				Type:       "churn",
				Target:     "circulation-service",
				Parameters: map[string]interface{}{"workers": workers, "rounds": rounds},
				Execute: func(ctx context.Context) error {
					var wg sync.WaitGroup
					errs := make(chan error, len(members))
					for _, id := range members {
						wg.Add(1)
						go func(id int64) {
							defer wg.Done()
							for r := 0; r < rounds; r++ {
								if ctx.Err() != nil {
									return
								}
								_, err := ce.svc.Checkout(ctx, isbn, id)
								if errors.Is(err, domain.ErrItemUnavailable) {
									continue
								}
								if err == nil {
									_, err = ce.svc.ReturnItem(ctx, isbn, id)
								}
								if err != nil {
									errs <- err
									return
								}
							}
						}(id)
					}
					wg.Wait()
					close(errs)
					return drain(errs)
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "journal_balance",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Journal checkouts minus returns should equal open loans",
			},
			{
				Metric:    "copies_missing",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Every copy should be back on the shelf",
			},
			{
				Metric:    "data_consistency",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No data inconsistencies should occur",
			},
		},
		Duration:    defaultObservation,
		BlastRadius: 0.1,
	}
}

func (ce *ChaosEngine) consistencyMetric() Metric {
	return Metric{
		Name: "data_consistency",
		Query: func(ctx context.Context) (float64, error) {
			return float64(len(ce.svc.ConsistencyViolations(ctx))), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// journalBalanceMetric replays the journal and compares checkouts minus
// returns against the loans the ledger reports open.
func (ce *ChaosEngine) journalBalanceMetric() Metric {
	return Metric{
		Name: "journal_balance",
		Query: func(ctx context.Context) (float64, error) {
			if ce.journal == nil {
				return 0, errors.New("no journal attached")
			}
			balance := 0
			var fromID int64
			for {
				batch, err := ce.journal.StreamEvents(ctx, fromID, 256)
				if err != nil {
					return 0, err
				}
				if len(batch) == 0 {
					break
				}
				for _, e := range batch {
					switch e.EventType {
					case circulation.EventTypeItemCheckedOut:
						balance++
					case circulation.EventTypeItemReturned:
						balance--
					}
				}
				fromID = batch[len(batch)-1].ID
			}
			return float64(balance - len(ce.svc.OpenLoans(ctx))), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func (ce *ChaosEngine) openLoansOf(ctx context.Context, isbn string) int {
	if isbn == "" {
		return 0
	}
	n := 0
	for _, loan := range ce.svc.OpenLoans(ctx) {
		if loan.ISBN == isbn {
			n++
		}
	}
	return n
}

func (ce *ChaosEngine) returnAll(ctx context.Context, isbn string) error {
	if isbn == "" {
		return nil
	}
	for _, loan := range ce.svc.OpenLoans(ctx) {
		if loan.ISBN != isbn {
			continue
		}
		if _, err := ce.svc.ReturnItem(ctx, isbn, loan.MemberID); err != nil {
			return err
		}
	}
	return nil
}

// provisionItem adds a fresh item under a 979-prefixed identifier unique to
// this engine.
func (ce *ChaosEngine) provisionItem(ctx context.Context, title string, copies int) (string, error) {
	isbn := fmt.Sprintf("979%010d", atomic.AddInt64(&ce.seq, 1))
	item, err := catalog.NewItem(isbn, title, "Chaos Engine", time.Now().Year(), copies)
	if err != nil {
		return "", err
	}
	if _, err := ce.svc.AddItem(ctx, item); err != nil {
		return "", err
	}
	return isbn, nil
}

func (ce *ChaosEngine) provisionMembers(ctx context.Context, n int) ([]int64, error) {
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		seq := atomic.AddInt64(&ce.seq, 1)
		m, err := ce.svc.RegisterMember(ctx, fmt.Sprintf("Chaos Member %d", seq), fmt.Sprintf("chaos-%d@example.com", seq))
		if err != nil {
			return nil, err
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func drain(errs <-chan error) error {
	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}
