package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Result labels for checkout and return counters.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// LendingMetrics holds the Prometheus collectors of the lending engine. A nil
// *LendingMetrics is valid and records nothing.
type LendingMetrics struct {
	checkouts *prometheus.CounterVec
	returns   *prometheus.CounterVec

	finesAccrued       prometheus.Counter
	penaltiesSettled   prometheus.Counter
	loansMarkedOverdue prometheus.Counter
	registrations      prometheus.Counter
	consistencyFaults  prometheus.Counter

	activeLoans prometheus.Gauge

	operationDuration *prometheus.HistogramVec
}

// NewLendingMetrics registers the lending collectors on registerer, or on the
// default registerer when it is nil.
func NewLendingMetrics(registerer prometheus.Registerer) *LendingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LendingMetrics{
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "libralend_checkouts_total",
			Help: "Checkout attempts by result",
		}, []string{"result"}),
		returns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "libralend_returns_total",
			Help: "Return attempts by result",
		}, []string{"result"}),
		finesAccrued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "libralend_fines_accrued_total",
			Help: "Sum of late-return fines charged to members",
		}),
		penaltiesSettled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "libralend_penalties_settled_total",
			Help: "Sum of penalty balances paid off by members",
		}),
		loansMarkedOverdue: registerCounter(registerer, prometheus.CounterOpts{
			Name: "libralend_loans_marked_overdue_total",
			Help: "Loans flipped to overdue by the sweeper",
		}),
		registrations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "libralend_member_registrations_total",
			Help: "Members registered",
		}),
		consistencyFaults: registerCounter(registerer, prometheus.CounterOpts{
			Name: "libralend_consistency_faults_total",
			Help: "Broken internal invariants detected",
		}),
		activeLoans: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "libralend_open_loans",
			Help: "Loans currently open (active or overdue)",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "libralend_operation_duration_seconds",
			Help:    "Duration of lending service operations in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"operation"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCheckout counts a checkout attempt. A successful one also opens a loan.
func (m *LendingMetrics) RecordCheckout(success bool) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result(success)).Inc()
	if success {
		m.activeLoans.Inc()
	}
}

// RecordReturn counts a return attempt and adds the fine charged, if any.
func (m *LendingMetrics) RecordReturn(success bool, fine decimal.Decimal) {
	if m == nil {
		return
	}
	m.returns.WithLabelValues(result(success)).Inc()
	if !success {
		return
	}
	m.activeLoans.Dec()
	if fine.IsPositive() {
		m.finesAccrued.Add(fine.InexactFloat64())
	}
}

// RecordPenaltiesSettled adds a settled amount.
func (m *LendingMetrics) RecordPenaltiesSettled(amount decimal.Decimal) {
	if m == nil || !amount.IsPositive() {
		return
	}
	m.penaltiesSettled.Add(amount.InexactFloat64())
}

// RecordLoansMarkedOverdue adds n loans flipped to overdue.
func (m *LendingMetrics) RecordLoansMarkedOverdue(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.loansMarkedOverdue.Add(float64(n))
}

// RecordRegistration counts a registered member.
func (m *LendingMetrics) RecordRegistration() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}

// RecordConsistencyFault counts a broken invariant.
func (m *LendingMetrics) RecordConsistencyFault() {
	if m == nil {
		return
	}
	m.consistencyFaults.Inc()
}

// RecordOperationDuration observes how long a service operation took.
func (m *LendingMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func result(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}
