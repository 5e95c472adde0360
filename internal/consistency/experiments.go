// internal/consistency/experiments.go
package consistency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hdlend/internal/errs"
	"hdlend/internal/inventory"
)

// ErrSteadyState aborts an experiment whose pre-check found violations.
var ErrSteadyState = errors.New("steady state invalid - aborting experiment")

// Experiment drives concurrent load against the engine and reports what it
// observed.
type Experiment struct {
	Name       string
	Hypothesis string
	Method     func(context.Context) (map[string]float64, error)
	Validation []Assertion
}

// Assertion validates one observation of an experiment.
type Assertion struct {
	Observation string
	Condition   func(float64) bool
	Message     string
}

// ExperimentResult captures one experiment run.
type ExperimentResult struct {
	ExperimentName   string             `json:"experiment_name"`
	Hypothesis       string             `json:"hypothesis"`
	StartTime        time.Time          `json:"start_time"`
	EndTime          time.Time          `json:"end_time"`
	Duration         time.Duration      `json:"duration"`
	HypothesisHeld   bool               `json:"hypothesis_held"`
	SteadyStateValid bool               `json:"steady_state_valid"`
	Observations     map[string]float64 `json:"observations"`
	Failed           []string           `json:"failed_assertions,omitempty"`
	Violations       []Violation        `json:"violations"`
}

// RunExperiment checks the steady state, runs the method, re-checks the
// steady state, and evaluates the assertions.
func (c *Checker) RunExperiment(ctx context.Context, exp Experiment) (*ExperimentResult, error) {
	ctx, span := c.tracer.Start(ctx, "consistency.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &ExperimentResult{
		ExperimentName: exp.Name,
		Hypothesis:     exp.Hypothesis,
		StartTime:      time.Now(),
	}

	span.AddEvent("validating_steady_state")
	before, err := c.Verify(ctx)
	if err != nil {
		return result, err
	}
	if !before.Healthy() {
		result.Violations = before.Violations
		return result, ErrSteadyState
	}
	result.SteadyStateValid = true

	span.AddEvent("running_method")
	observations, err := exp.Method(ctx)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("experiment %s: %w", exp.Name, err)
	}
	result.Observations = observations

	span.AddEvent("validating_assertions")
	after, err := c.Verify(ctx)
	if err != nil {
		return result, err
	}
	result.Violations = after.Violations
	result.HypothesisHeld = after.Healthy()
	for _, a := range exp.Validation {
		value, ok := observations[a.Observation]
		if !ok || !a.Condition(value) {
			result.HypothesisHeld = false
			result.Failed = append(result.Failed, a.Message)
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	c.logger.InfoContext(ctx, "experiment finished",
		"experiment", exp.Name,
		"hypothesis_held", result.HypothesisHeld,
		"duration", result.Duration,
	)
	return result, nil
}

// Experiments returns the race experiments with the given concurrency.
func (c *Checker) Experiments(workers int) []Experiment {
	return []Experiment{
		c.ConcurrentAssignExperiment(workers),
		c.ConcurrentStartExperiment(workers),
		c.ConcurrentAddSlotsExperiment(workers),
	}
}

// PrintResult writes a human summary of result to w.
func PrintResult(w io.Writer, result *ExperimentResult) {
	fmt.Fprintf(w, "%s\n  hypothesis: %s\n", result.ExperimentName, result.Hypothesis)
	if result.HypothesisHeld {
		fmt.Fprintf(w, "  ✓ hypothesis held\n")
	} else {
		fmt.Fprintf(w, "  ✗ hypothesis violated\n")
	}
	for _, msg := range result.Failed {
		fmt.Fprintf(w, "    - %s\n", msg)
	}
	for _, v := range result.Violations {
		fmt.Fprintf(w, "    - %s: expected %s, got %g\n", v.Probe, v.Expected, v.Actual)
	}
	fmt.Fprintf(w, "  duration: %s\n", result.Duration)
}

// fixture creates a title with n slots and one ready unit.
func (c *Checker) fixture(ctx context.Context, n int) (*inventory.Title, []*inventory.Slot, *inventory.Unit, error) {
	title, slots, err := c.service.CreateTitle(ctx, "race-"+uuid.NewString()[:8], n)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create title: %w", err)
	}
	unit, err := c.service.RegisterUnit(ctx, "")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("register unit: %w", err)
	}
	if unit, err = c.service.Certify(ctx, unit.ID); err != nil {
		return nil, nil, nil, fmt.Errorf("certify unit: %w", err)
	}
	return title, slots, unit, nil
}

// tally counts outcomes of concurrent calls by error code.
type tally struct {
	mu         sync.Mutex
	successes  int
	rejected   int
	unexpected int
}

func (t *tally) record(err error, expected ...errs.Code) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.successes++
		return
	}
	code := errs.CodeOf(err)
	for _, want := range expected {
		if code == want {
			t.rejected++
			return
		}
	}
	t.unexpected++
}

func race(workers int, fn func(i int)) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn(i)
		}()
	}
	close(start)
	wg.Wait()
}

// ConcurrentAssignExperiment binds one unit to many slots at once.
func (c *Checker) ConcurrentAssignExperiment(workers int) Experiment {
	return Experiment{
		Name:       "concurrent-assign-race",
		Hypothesis: "Exactly one of many concurrent assignments of the same unit succeeds",
		Method: func(ctx context.Context) (map[string]float64, error) {
			_, slots, unit, err := c.fixture(ctx, workers)
			if err != nil {
				return nil, err
			}
			var t tally
			race(workers, func(i int) {
				_, err := c.service.AssignUnit(ctx, slots[i].ID, unit.ID)
				t.record(err, errs.CodeConflict, errs.CodePrecondition)
			})
			return map[string]float64{
				"successes":  float64(t.successes),
				"rejected":   float64(t.rejected),
				"unexpected": float64(t.unexpected),
			}, nil
		},
		Validation: []Assertion{
			{Observation: "successes", Condition: func(v float64) bool { return v == 1 }, Message: "exactly one assignment should win"},
			{Observation: "unexpected", Condition: func(v float64) bool { return v == 0 }, Message: "losers should see conflict or precondition errors"},
		},
	}
}

// ConcurrentStartExperiment starts one assigned slot from many callers.
func (c *Checker) ConcurrentStartExperiment(workers int) Experiment {
	return Experiment{
		Name:       "concurrent-start-race",
		Hypothesis: "A slot started concurrently is started once and counted once",
		Method: func(ctx context.Context) (map[string]float64, error) {
			title, slots, unit, err := c.fixture(ctx, 1)
			if err != nil {
				return nil, err
			}
			if _, err := c.service.AssignUnit(ctx, slots[0].ID, unit.ID); err != nil {
				return nil, fmt.Errorf("assign unit: %w", err)
			}
			var t tally
			race(workers, func(int) {
				_, err := c.service.StartSlot(ctx, slots[0].ID)
				t.record(err, errs.CodePrecondition)
			})
			after, err := c.service.GetTitle(ctx, title.ID)
			if err != nil {
				return nil, fmt.Errorf("get title: %w", err)
			}
			return map[string]float64{
				"successes":     float64(t.successes),
				"unexpected":    float64(t.unexpected),
				"started_count": float64(after.StartedCount),
			}, nil
		},
		Validation: []Assertion{
			{Observation: "successes", Condition: func(v float64) bool { return v == 1 }, Message: "exactly one start should win"},
			{Observation: "started_count", Condition: func(v float64) bool { return v == 1 }, Message: "startedCount should increase by one"},
			{Observation: "unexpected", Condition: func(v float64) bool { return v == 0 }, Message: "losers should see precondition errors"},
		},
	}
}

// ConcurrentAddSlotsExperiment appends slots to one title from many callers.
func (c *Checker) ConcurrentAddSlotsExperiment(workers int) Experiment {
	return Experiment{
		Name:       "concurrent-add-slots",
		Hypothesis: "Concurrent slot appends produce contiguous, unique indexes",
		Method: func(ctx context.Context) (map[string]float64, error) {
			title, _, _, err := c.fixture(ctx, 1)
			if err != nil {
				return nil, err
			}
			// room for every append under the strict capacity policy
			capacity := workers + 1
			if _, err := c.service.UpdateTitle(ctx, title.ID, inventory.TitleUpdate{SlotCapacity: &capacity}); err != nil {
				return nil, fmt.Errorf("raise capacity: %w", err)
			}
			var t tally
			race(workers, func(int) {
				_, _, err := c.service.AddSlots(ctx, title.ID, 1, "")
				t.record(err)
			})
			slots, err := c.service.ListSlots(ctx, inventory.SlotFilter{TitleID: &title.ID})
			if err != nil {
				return nil, fmt.Errorf("list slots: %w", err)
			}
			maxIndex := 0
			for _, s := range slots {
				maxIndex = max(maxIndex, s.SlotIndex)
			}
			return map[string]float64{
				"successes":  float64(t.successes),
				"unexpected": float64(t.unexpected),
				"slots":      float64(len(slots)),
				"gaps":       float64(maxIndex - len(slots)),
			}, nil
		},
		Validation: []Assertion{
			{Observation: "unexpected", Condition: func(v float64) bool { return v == 0 }, Message: "every append should succeed"},
			{Observation: "slots", Condition: func(v float64) bool { return v == float64(workers+1) }, Message: "every append should add one slot"},
			{Observation: "gaps", Condition: func(v float64) bool { return v == 0 }, Message: "slot indexes should be contiguous"},
		},
	}
}
