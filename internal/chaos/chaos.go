// Package chaos runs in-process experiments against the lending service and
// checks that its invariants survive concurrent pressure.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libralend/internal/circulation"
	"libralend/internal/eventstore"
)

// ErrSteadyStateInvalid aborts an experiment whose steady state does not hold
// before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// ChaosExperiment defines a chaos engineering test
type ChaosExperiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
	BlastRadius float64 // 0.0 to 1.0 (share of the catalog touched)
}

// Metric defines a measurable system property
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action represents a fault injection or recovery action
type Action struct {
	Type       string // provision, concurrent-requests, churn, restore
	Target     string
	Parameters map[string]interface{}
	Execute    func(context.Context) error
}

// Assertion validates experiment outcome
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// ExperimentResult captures experiment execution data
type ExperimentResult struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// ChaosEngine orchestrates chaos experiments
type ChaosEngine struct {
	tracer  trace.Tracer
	logger  *log.Entry
	out     io.Writer
	svc     circulation.Service
	journal *eventstore.EventStore

	sampleInterval time.Duration
	pause          time.Duration

	experiments []ChaosExperiment
	results     []ExperimentResult
	seq         int64
	mu          sync.Mutex
}

// Option configures a ChaosEngine.
type Option func(*ChaosEngine)

// WithLogger sets the logger.
func WithLogger(logger *log.Entry) Option {
	return func(ce *ChaosEngine) {
		ce.logger = logger
	}
}

// WithOutput sets where game day reports are written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(ce *ChaosEngine) {
		ce.out = w
	}
}

// WithSampleInterval sets how often steady state metrics are sampled while
// an experiment is observed.
func WithSampleInterval(d time.Duration) Option {
	return func(ce *ChaosEngine) {
		if d > 0 {
			ce.sampleInterval = d
		}
	}
}

// WithPause sets the wait between game day experiments.
func WithPause(d time.Duration) Option {
	return func(ce *ChaosEngine) {
		ce.pause = d
	}
}

// WithTracer sets the tracer used for experiment spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(ce *ChaosEngine) {
		ce.tracer = tracer
	}
}

// NewChaosEngine creates an engine targeting svc. The journal must be the one
// svc appends to; experiments read it back to check the event history.
func NewChaosEngine(svc circulation.Service, journal *eventstore.EventStore, opts ...Option) *ChaosEngine {
	ce := &ChaosEngine{
		tracer:         otel.Tracer("libralend/chaos"),
		logger:         log.WithField("component", "chaos"),
		out:            os.Stdout,
		svc:            svc,
		journal:        journal,
		sampleInterval: 250 * time.Millisecond,
		experiments:    make([]ChaosExperiment, 0),
		results:        make([]ExperimentResult, 0),
	}
	for _, opt := range opts {
		opt(ce)
	}
	return ce
}

// RegisterExperiment adds an experiment to the test suite
func (ce *ChaosEngine) RegisterExperiment(exp ChaosExperiment) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.experiments = append(ce.experiments, exp)
}

// GetExperiments returns the list of registered experiments.
func (ce *ChaosEngine) GetExperiments() []ChaosExperiment {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	out := make([]ChaosExperiment, len(ce.experiments))
	copy(out, ce.experiments)
	return out
}

// Results returns the results of every experiment run so far.
func (ce *ChaosEngine) Results() []ExperimentResult {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	out := make([]ExperimentResult, len(ce.results))
	copy(out, ce.results)
	return out
}

// RunExperiment executes a single chaos experiment
func (ce *ChaosEngine) RunExperiment(ctx context.Context, exp ChaosExperiment) (*ExperimentResult, error) {
	ctx, span := ce.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(
			attribute.String("experiment.name", exp.Name),
			attribute.Float64("experiment.blast_radius", exp.BlastRadius),
		),
	)
	defer span.End()

	logger := ce.logger.WithField("experiment", exp.Name)
	result := &ExperimentResult{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	span.AddEvent("validating_steady_state")
	if valid, violations := ce.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.Violations = violations
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		span.SetStatus(codes.Error, ErrSteadyStateInvalid.Error())
		logger.WithField("violations", len(violations)).Warn("steady state does not hold")
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		actionLogger := logger.WithFields(log.Fields{"action": action.Type, "target": action.Target})
		for k, v := range action.Parameters {
			actionLogger = actionLogger.WithField(k, v)
		}
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
			actionLogger.WithError(err).Warn("action failed")
			continue
		}
		actionLogger.Debug("action executed")
	}

	span.AddEvent("observing_system")
	ce.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
			logger.WithError(err).Warn("rollback failed")
		}
	}

	span.AddEvent("validating_assertions")
	result.FailedAssertions = ce.validateAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0 && len(result.ErrorEvents) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	ce.mu.Lock()
	ce.results = append(ce.results, *result)
	ce.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	logger.WithFields(log.Fields{
		"hypothesis_held": result.HypothesisHeld,
		"violations":      len(result.Violations),
		"errors":          len(result.ErrorEvents),
	}).Info("experiment finished")

	return result, nil
}

// observe samples the steady state metrics once straight away and then on
// every tick until the experiment's duration has passed.
func (ce *ChaosEngine) observe(ctx context.Context, exp ChaosExperiment, result *ExperimentResult) {
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	var recoveryStart time.Time
	recovered := false

	sample := func() {
		for _, metric := range exp.SteadyState {
			value, err := metric.Query(ctx)
			now := time.Now()
			if err != nil {
				result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
					Timestamp: now,
					Error:     err.Error(),
					Component: metric.Name,
				})
				continue
			}

			result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: now, Value: value})

			if !evaluateThreshold(value, metric.Threshold) {
				if recoveryStart.IsZero() {
					recoveryStart = now
				}
				result.Violations = append(result.Violations, MetricViolation{
					MetricName: metric.Name,
					Expected:   metric.Threshold.Value,
					Actual:     value,
					Timestamp:  now,
				})
			} else if !recoveryStart.IsZero() && !recovered {
				mttr := now.Sub(recoveryStart)
				result.MTTR = &mttr
				recovered = true
			}
		}
	}

	sample()
	ticker := time.NewTicker(ce.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (ce *ChaosEngine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	violations := make([]MetricViolation, 0)

	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     -1,
				Timestamp:  time.Now(),
			})
			continue
		}

		if !evaluateThreshold(value, metric.Threshold) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}

	return len(violations) == 0, violations
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

// validateAssertions checks each assertion against the last observation of
// its metric and returns the messages of those that failed.
func (ce *ChaosEngine) validateAssertions(assertions []Assertion, result *ExperimentResult) []string {
	var failed []string
	for _, assertion := range assertions {
		observations := result.Observations[assertion.Metric]
		if len(observations) == 0 {
			failed = append(failed, fmt.Sprintf("%s (no observations of %s)", assertion.Message, assertion.Metric))
			continue
		}
		if !assertion.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, assertion.Message)
		}
	}
	return failed
}

// GameDay orchestrates a series of chaos experiments.
type GameDay struct {
	Name         string
	Date         time.Time
	Scenarios    []ChaosExperiment
	Participants []string
}

// ExecuteGameDay runs every scenario in order and prints a report for each.
// It returns an error naming how many scenarios did not hold.
func (ce *ChaosEngine) ExecuteGameDay(ctx context.Context, gameDay GameDay) error {
	ctx, span := ce.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(
			attribute.String("gameday.name", gameDay.Name),
			attribute.Int("gameday.scenarios", len(gameDay.Scenarios)),
		),
	)
	defer span.End()

	ce.printf("🎮 Starting Game Day: %s\n", gameDay.Name)
	ce.printf("📅 Date: %s\n", gameDay.Date.Format(time.DateOnly))
	if len(gameDay.Participants) > 0 {
		ce.printf("👥 Participants: %v\n", gameDay.Participants)
	}

	failed := 0
	for i, scenario := range gameDay.Scenarios {
		if i > 0 && ce.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ce.pause):
			}
		}

		ce.printf("\n🔬 Experiment %d/%d: %s\n", i+1, len(gameDay.Scenarios), scenario.Name)
		ce.printf("💡 Hypothesis: %s\n", scenario.Hypothesis)

		result, err := ce.RunExperiment(ctx, scenario)
		if err != nil {
			ce.printf("❌ Experiment failed: %v\n", err)
			failed++
			continue
		}
		if !result.HypothesisHeld {
			failed++
		}
		ce.printExperimentResult(result)
	}

	if failed > 0 {
		err := fmt.Errorf("%d of %d experiments did not hold", failed, len(gameDay.Scenarios))
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (ce *ChaosEngine) printExperimentResult(result *ExperimentResult) {
	if result.HypothesisHeld {
		ce.printf("✅ Hypothesis held - System behaved as expected\n")
	} else {
		ce.printf("❌ Hypothesis violated - Unexpected behavior observed\n")
	}

	if len(result.Violations) > 0 {
		ce.printf("⚠️  Violations detected: %d\n", len(result.Violations))
		for _, v := range result.Violations {
			ce.printf("   - %s: expected %.2f, got %.2f\n", v.MetricName, v.Expected, v.Actual)
		}
	}
	for _, e := range result.ErrorEvents {
		ce.printf("   ! %s: %s\n", e.Component, e.Error)
	}
	for _, msg := range result.FailedAssertions {
		ce.printf("   ✗ %s\n", msg)
	}

	if result.MTTR != nil {
		ce.printf("⏱️  MTTR: %s\n", *result.MTTR)
	}

	ce.printf("📊 Duration: %s\n", result.Duration.Round(time.Millisecond))
}

func (ce *ChaosEngine) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(ce.out, format, args...)
}
