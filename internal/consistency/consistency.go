// internal/consistency/consistency.go

// Package consistency checks the lending invariants across a whole data set
// and runs race experiments against a live engine.
package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hdlend/internal/inventory"
)

// Threshold is the bound a probe value must satisfy.
type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Probe measures one steady-state property over a snapshot. Offenders names
// the records that break it.
type Probe struct {
	Name      string
	Query     func(*Snapshot) (value float64, offenders []string)
	Threshold Threshold
}

// Snapshot is every title, unit, and slot read from the engine. Reads are not
// atomic across the three lists, so probes are exact only on a quiescent
// data set.
type Snapshot struct {
	Titles []*inventory.Title
	Units  []*inventory.Unit
	Slots  []*inventory.Slot
	Taken  time.Time
}

// Violation records a probe outside its threshold.
type Violation struct {
	Probe     string    `json:"probe"`
	Expected  string    `json:"expected"`
	Actual    float64   `json:"actual"`
	Offenders []string  `json:"offenders,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the outcome of one Verify run.
type Report struct {
	CheckedAt  time.Time          `json:"checked_at"`
	Titles     int                `json:"titles"`
	Units      int                `json:"units"`
	Slots      int                `json:"slots"`
	Values     map[string]float64 `json:"values"`
	Violations []Violation        `json:"violations"`
}

// Healthy reports whether every probe held.
func (r *Report) Healthy() bool {
	return len(r.Violations) == 0
}

// Checker evaluates probes against an engine.
type Checker struct {
	service inventory.Service
	policy  inventory.Policy
	probes  []Probe
	tracer  trace.Tracer
	logger  *slog.Logger
}

func NewChecker(service inventory.Service, policy inventory.Policy, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		service: service,
		policy:  policy,
		probes:  DefaultProbes(policy),
		tracer:  otel.Tracer("hdlend/consistency"),
		logger:  logger,
	}
}

// Probes returns the registered probes.
func (c *Checker) Probes() []Probe {
	return c.probes
}

// Snapshot reads the full data set.
func (c *Checker) Snapshot(ctx context.Context) (*Snapshot, error) {
	titles, err := c.service.ListTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}
	units, err := c.service.ListUnits(ctx, inventory.UnitFilter{})
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	slots, err := c.service.ListSlots(ctx, inventory.SlotFilter{})
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return &Snapshot{Titles: titles, Units: units, Slots: slots, Taken: time.Now()}, nil
}

// Verify takes a snapshot and evaluates every probe against it.
func (c *Checker) Verify(ctx context.Context) (*Report, error) {
	ctx, span := c.tracer.Start(ctx, "consistency.verify")
	defer span.End()

	snap, err := c.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &Report{
		CheckedAt: snap.Taken,
		Titles:    len(snap.Titles),
		Units:     len(snap.Units),
		Slots:     len(snap.Slots),
		Values:    make(map[string]float64, len(c.probes)),
	}
	for _, probe := range c.probes {
		value, offenders := probe.Query(snap)
		report.Values[probe.Name] = value
		if !evaluateThreshold(value, probe.Threshold) {
			report.Violations = append(report.Violations, Violation{
				Probe:     probe.Name,
				Expected:  fmt.Sprintf("%s %g", probe.Threshold.Operator, probe.Threshold.Value),
				Actual:    value,
				Offenders: offenders,
				Timestamp: snap.Taken,
			})
			c.logger.WarnContext(ctx, "consistency probe violated",
				"probe", probe.Name,
				"actual", value,
				"offenders", len(offenders),
			)
		}
	}

	span.SetAttributes(
		attribute.Int("consistency.slots", report.Slots),
		attribute.Int("consistency.violations", len(report.Violations)),
	)
	return report, nil
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

var none = Threshold{Operator: "==", Value: 0}

// DefaultProbes returns the invariant probes for the given policy.
func DefaultProbes(policy inventory.Policy) []Probe {
	return []Probe{
		{Name: "counter_ordering", Query: counterOrdering, Threshold: none},
		{Name: "counter_drift", Query: counterDrift, Threshold: none},
		{Name: "completed_without_start", Query: completedWithoutStart, Threshold: none},
		{Name: "duplicate_slot_index", Query: duplicateSlotIndex, Threshold: none},
		{Name: "multiple_open_slots", Query: multipleOpenSlots, Threshold: none},
		{Name: "availability_mismatch", Query: availabilityMismatch(policy), Threshold: none},
	}
}

// completedCount never exceeds startedCount.
func counterOrdering(s *Snapshot) (float64, []string) {
	var offenders []string
	for _, t := range s.Titles {
		if t.CompletedCount > t.StartedCount || t.CompletedCount < 0 {
			offenders = append(offenders, t.ID.String())
		}
	}
	return float64(len(offenders)), offenders
}

// The counters match the number of started and closed slots.
func counterDrift(s *Snapshot) (float64, []string) {
	started := make(map[uuid.UUID]int)
	closed := make(map[uuid.UUID]int)
	for _, slot := range s.Slots {
		switch slot.State() {
		case inventory.StateActive:
			started[slot.TitleID]++
		case inventory.StateClosed:
			started[slot.TitleID]++
			closed[slot.TitleID]++
		}
	}
	var offenders []string
	for _, t := range s.Titles {
		if t.StartedCount != started[t.ID] || t.CompletedCount != closed[t.ID] {
			offenders = append(offenders, t.ID.String())
		}
	}
	return float64(len(offenders)), offenders
}

// completedAt implies startedAt, and never precedes it.
func completedWithoutStart(s *Snapshot) (float64, []string) {
	var offenders []string
	for _, slot := range s.Slots {
		if slot.CompletedAt == nil {
			continue
		}
		if slot.StartedAt == nil || slot.CompletedAt.Before(*slot.StartedAt) {
			offenders = append(offenders, slot.ID.String())
		}
	}
	return float64(len(offenders)), offenders
}

func duplicateSlotIndex(s *Snapshot) (float64, []string) {
	type key struct {
		title uuid.UUID
		index int
	}
	seen := make(map[key]bool, len(s.Slots))
	var offenders []string
	for _, slot := range s.Slots {
		k := key{slot.TitleID, slot.SlotIndex}
		if seen[k] {
			offenders = append(offenders, slot.ID.String())
		}
		seen[k] = true
	}
	return float64(len(offenders)), offenders
}

// A unit is bound to at most one open slot.
func multipleOpenSlots(s *Snapshot) (float64, []string) {
	open := make(map[uuid.UUID]int)
	for _, slot := range s.Slots {
		if slot.Open() {
			open[*slot.UnitID]++
		}
	}
	var offenders []string
	for unitID, n := range open {
		if n > 1 {
			offenders = append(offenders, unitID.String())
		}
	}
	slices.Sort(offenders)
	return float64(len(offenders)), offenders
}

// availabilityMismatch counts units whose available flag disagrees with their
// slots. Under ReserveOnStart a unit is unavailable exactly while it has an
// active slot; under ReserveOnAssign, while it has any open slot.
func availabilityMismatch(policy inventory.Policy) func(*Snapshot) (float64, []string) {
	holds := func(slot *inventory.Slot) bool {
		if policy.Availability == inventory.ReserveOnAssign {
			return slot.Open()
		}
		return slot.State() == inventory.StateActive
	}
	return func(s *Snapshot) (float64, []string) {
		held := make(map[uuid.UUID]bool)
		for _, slot := range s.Slots {
			if holds(slot) {
				held[*slot.UnitID] = true
			}
		}
		var offenders []string
		for _, u := range s.Units {
			if u.Available == held[u.ID] {
				offenders = append(offenders, u.ID.String())
			}
		}
		return float64(len(offenders)), offenders
	}
}
