// internal/inventory/slots.go
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"hdlend/internal/errs"
)

// AssignUnit binds a unit to a slot that has not started. Rebinding an
// Assigned slot to a different unit is allowed.
func (s *service) AssignUnit(ctx context.Context, slotID, unitID uuid.UUID) (*Transition, error) {
	var result *Transition
	err := s.run(ctx, "assign_unit", []attribute.KeyValue{
		attribute.String("slot.id", slotID.String()),
		attribute.String("unit.id", unitID.String()),
	}, func(ctx context.Context, tx Tx) error {
		slot, err := tx.Slot(ctx, slotID)
		if err != nil {
			return notFound(err, "slot %s not found", slotID)
		}
		switch slot.State() {
		case StateClosed:
			return errs.Conflict("cannot assign a unit to a closed slot")
		case StateActive:
			return errs.Precondition("slot already started")
		}

		unit, err := tx.Unit(ctx, unitID)
		if err != nil {
			return notFound(err, "unit %s not found", unitID)
		}
		if !unit.Ready {
			return errs.Precondition("unit not ready")
		}

		if slot.BoundTo(unitID) {
			result = &Transition{Slot: slot, Unit: unit}
			return nil
		}

		if !unit.Available {
			return errs.Precondition("unit not available")
		}
		open, err := tx.Slots(ctx, SlotFilter{UnitID: &unitID, States: []SlotState{StateAssigned, StateActive}})
		if err != nil {
			return fmt.Errorf("list open slots: %w", err)
		}
		for _, other := range open {
			if other.ID != slot.ID {
				return errs.Precondition("unit already bound to another open slot")
			}
		}

		if s.policy.Availability == ReserveOnAssign && slot.UnitID != nil {
			if err := s.releaseUnit(ctx, tx, *slot.UnitID); err != nil {
				return err
			}
		}

		slot.UnitID = &unitID
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return errs.Precondition("unit already bound to another open slot")
			}
			return fmt.Errorf("update slot: %w", err)
		}

		if s.policy.Availability == ReserveOnAssign {
			unit.Available = false
			if err := tx.UpdateUnit(ctx, unit); err != nil {
				return fmt.Errorf("update unit: %w", err)
			}
		}

		result = &Transition{Slot: slot, Unit: unit}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StartSlot moves an Assigned slot to Active.
func (s *service) StartSlot(ctx context.Context, slotID uuid.UUID) (*Transition, error) {
	var result *Transition
	err := s.run(ctx, "start_slot", []attribute.KeyValue{
		attribute.String("slot.id", slotID.String()),
	}, func(ctx context.Context, tx Tx) error {
		slot, err := tx.Slot(ctx, slotID)
		if err != nil {
			return notFound(err, "slot %s not found", slotID)
		}
		result, err = s.start(ctx, tx, slot)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CloseSlot returns the unit of an Active slot and closes the slot.
func (s *service) CloseSlot(ctx context.Context, slotID uuid.UUID) (*Transition, error) {
	var result *Transition
	err := s.run(ctx, "close_slot", []attribute.KeyValue{
		attribute.String("slot.id", slotID.String()),
	}, func(ctx context.Context, tx Tx) error {
		slot, err := tx.Slot(ctx, slotID)
		if err != nil {
			return notFound(err, "slot %s not found", slotID)
		}
		result, err = s.close(ctx, tx, slot)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StartByTag starts the Assigned slot bound to the unit carrying tag.
func (s *service) StartByTag(ctx context.Context, tag string) (*Transition, error) {
	return s.byTag(ctx, "start_by_tag", tag, StateAssigned, "unit has no assigned slot", s.start)
}

// CloseByTag closes the Active slot bound to the unit carrying tag.
func (s *service) CloseByTag(ctx context.Context, tag string) (*Transition, error) {
	return s.byTag(ctx, "close_by_tag", tag, StateActive, "unit has no active slot", s.close)
}

// BatchStart starts each slot in its own transaction. A failed member does
// not stop the batch.
func (s *service) BatchStart(ctx context.Context, slotIDs []uuid.UUID) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Unavailable("batch start cancelled", err)
	}

	result := &BatchResult{
		Started:  make([]*Transition, 0, len(slotIDs)),
		Rejected: make([]Rejection, 0),
	}
	for _, id := range slotIDs {
		tr, err := s.StartSlot(ctx, id)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{
				SlotID: id,
				Code:   string(errs.CodeOf(err)),
				Reason: errs.MessageOf(err),
			})
			continue
		}
		result.Started = append(result.Started, tr)
	}
	return result, nil
}

// SetSlotNote replaces the free-text note of a slot.
func (s *service) SetSlotNote(ctx context.Context, slotID uuid.UUID, note string) (*Slot, error) {
	var slot *Slot
	err := s.run(ctx, "set_slot_note", []attribute.KeyValue{
		attribute.String("slot.id", slotID.String()),
	}, func(ctx context.Context, tx Tx) error {
		sl, err := tx.Slot(ctx, slotID)
		if err != nil {
			return notFound(err, "slot %s not found", slotID)
		}
		sl.Note = note
		if err := tx.UpdateSlot(ctx, sl); err != nil {
			return fmt.Errorf("update slot: %w", err)
		}
		slot = sl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// GetSlot retrieves a slot by its ID.
func (s *service) GetSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	var slot *Slot
	err := s.run(ctx, "get_slot", []attribute.KeyValue{
		attribute.String("slot.id", slotID.String()),
	}, func(ctx context.Context, tx Tx) error {
		sl, err := tx.Slot(ctx, slotID)
		if err != nil {
			return notFound(err, "slot %s not found", slotID)
		}
		slot = sl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// ListSlots returns the slots matching filter ordered by title and index.
func (s *service) ListSlots(ctx context.Context, filter SlotFilter) ([]*Slot, error) {
	var slots []*Slot
	err := s.run(ctx, "list_slots", nil, func(ctx context.Context, tx Tx) error {
		if filter.TitleID != nil {
			if _, err := tx.Title(ctx, *filter.TitleID); err != nil {
				return notFound(err, "title %s not found", *filter.TitleID)
			}
		}
		var err error
		slots, err = tx.Slots(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (s *service) start(ctx context.Context, tx Tx, slot *Slot) (*Transition, error) {
	switch slot.State() {
	case StateClosed:
		return nil, errs.Precondition("slot already closed")
	case StateActive:
		return nil, errs.Precondition("slot already started")
	case StateUnassigned:
		return nil, errs.Precondition("no unit bound")
	}

	unit, err := tx.Unit(ctx, *slot.UnitID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, errs.Precondition("bound unit not found")
		}
		return nil, fmt.Errorf("load unit: %w", err)
	}
	if !unit.Ready {
		return nil, errs.Precondition("unit not ready")
	}
	if s.policy.Availability == ReserveOnStart && !unit.Available {
		return nil, errs.Precondition("unit not available")
	}

	now := s.timestamp(nil)
	slot.StartedAt = &now
	if err := tx.UpdateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("update slot: %w", err)
	}

	unit.Available = false
	if err := tx.UpdateUnit(ctx, unit); err != nil {
		return nil, fmt.Errorf("update unit: %w", err)
	}

	title, err := tx.IncrementStarted(ctx, slot.TitleID)
	if err != nil {
		return nil, notFound(err, "title %s not found", slot.TitleID)
	}

	return &Transition{Slot: slot, Unit: unit, Title: title}, nil
}

func (s *service) close(ctx context.Context, tx Tx, slot *Slot) (*Transition, error) {
	switch slot.State() {
	case StateClosed:
		return nil, errs.Precondition("slot already closed")
	case StateUnassigned, StateAssigned:
		return nil, errs.Precondition("slot not started")
	}

	var unit *Unit
	if slot.UnitID != nil {
		u, err := tx.Unit(ctx, *slot.UnitID)
		switch {
		case err == nil:
			unit = u
		case !errors.Is(err, ErrNoRecord):
			return nil, fmt.Errorf("load unit: %w", err)
		}
	}

	title, err := tx.IncrementCompleted(ctx, slot.TitleID)
	if err != nil {
		if errors.Is(err, ErrCounterBound) {
			return nil, errs.Invariant("completed count would exceed started count")
		}
		return nil, notFound(err, "title %s not found", slot.TitleID)
	}

	now := s.timestamp(slot.StartedAt)
	slot.CompletedAt = &now
	if err := tx.UpdateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("update slot: %w", err)
	}

	if unit != nil {
		unit.Available = true
		unit.Ready = false
		if err := tx.UpdateUnit(ctx, unit); err != nil {
			return nil, fmt.Errorf("update unit: %w", err)
		}
	}

	return &Transition{Slot: slot, Unit: unit, Title: title}, nil
}

type transitionFunc func(context.Context, Tx, *Slot) (*Transition, error)

// byTag resolves the slot in state bound to the tagged unit and applies fn.
func (s *service) byTag(ctx context.Context, op, tag string, state SlotState, missing string, fn transitionFunc) (*Transition, error) {
	normalized, err := NormalizeTag(tag)
	if err != nil {
		return nil, errs.NotFoundf("no unit with tag %q", tag)
	}

	var result *Transition
	err = s.run(ctx, op, []attribute.KeyValue{
		attribute.String("unit.tag", normalized),
	}, func(ctx context.Context, tx Tx) error {
		unit, err := tx.UnitByTag(ctx, normalized)
		if err != nil {
			return notFound(err, "no unit with tag %q", normalized)
		}
		candidates, err := tx.Slots(ctx, SlotFilter{UnitID: &unit.ID, States: []SlotState{state}})
		if err != nil {
			return fmt.Errorf("list unit slots: %w", err)
		}
		if len(candidates) == 0 {
			return errs.Precondition(missing)
		}

		slot, err := tx.Slot(ctx, candidates[0].ID)
		if err != nil {
			return notFound(err, "slot %s not found", candidates[0].ID)
		}
		if !slot.BoundTo(unit.ID) || slot.State() != state {
			return errs.Precondition(missing)
		}
		result, err = fn(ctx, tx, slot)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// releaseUnit makes a previously bound unit available again. A dangling
// reference to a deleted unit is ignored.
func (s *service) releaseUnit(ctx context.Context, tx Tx, unitID uuid.UUID) error {
	prev, err := tx.Unit(ctx, unitID)
	if errors.Is(err, ErrNoRecord) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load previous unit: %w", err)
	}
	prev.Available = true
	if err := tx.UpdateUnit(ctx, prev); err != nil {
		return fmt.Errorf("update previous unit: %w", err)
	}
	return nil
}
