// internal/inventory/units.go
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"hdlend/internal/errs"
)

// RegisterUnit creates a unit that is not yet ready and is available. An
// empty tag registers the unit untagged.
func (s *service) RegisterUnit(ctx context.Context, tag string) (*Unit, error) {
	unit := &Unit{
		ID:        uuid.New(),
		Available: true,
		CreatedAt: s.now().UTC(),
	}
	if tag != "" {
		normalized, err := NormalizeTag(tag)
		if err != nil {
			return nil, err
		}
		unit.Tag = &normalized
	}

	err := s.run(ctx, "register_unit", []attribute.KeyValue{
		attribute.String("unit.id", unit.ID.String()),
	}, func(ctx context.Context, tx Tx) error {
		if err := tx.CreateUnit(ctx, unit); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return errs.Conflictf("tag %s is already registered", *unit.Tag)
			}
			return fmt.Errorf("insert unit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// AttachTag sets or replaces a unit's tag.
func (s *service) AttachTag(ctx context.Context, unitID uuid.UUID, tag string) (*Unit, error) {
	normalized, err := NormalizeTag(tag)
	if err != nil {
		return nil, err
	}

	return s.mutateUnit(ctx, "attach_tag", unitID, func(ctx context.Context, tx Tx, u *Unit) error {
		if u.Tag != nil && *u.Tag == normalized {
			return nil
		}
		u.Tag = &normalized
		if err := tx.UpdateUnit(ctx, u); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return errs.Conflictf("tag %s is already registered", normalized)
			}
			return fmt.Errorf("update unit: %w", err)
		}
		return nil
	})
}

// Certify marks a unit fit for lending.
func (s *service) Certify(ctx context.Context, unitID uuid.UUID) (*Unit, error) {
	return s.mutateUnit(ctx, "certify", unitID, func(ctx context.Context, tx Tx, u *Unit) error {
		if u.Ready {
			return errs.Conflict("unit already ready")
		}
		u.Ready = true
		return tx.UpdateUnit(ctx, u)
	})
}

// Decertify withdraws a unit's lending certification.
func (s *service) Decertify(ctx context.Context, unitID uuid.UUID) (*Unit, error) {
	return s.mutateUnit(ctx, "decertify", unitID, func(ctx context.Context, tx Tx, u *Unit) error {
		active, err := tx.Slots(ctx, SlotFilter{UnitID: &unitID, States: []SlotState{StateActive}})
		if err != nil {
			return fmt.Errorf("list active slots: %w", err)
		}
		if len(active) > 0 {
			return errs.Precondition("unit has an active slot")
		}
		if !u.Ready {
			return errs.Conflict("unit already not ready")
		}
		u.Ready = false
		return tx.UpdateUnit(ctx, u)
	})
}

// DeleteUnit removes a unit that is not on an active loan. Slots that still
// reference it keep the dangling reference.
func (s *service) DeleteUnit(ctx context.Context, unitID uuid.UUID) error {
	_, err := s.mutateUnit(ctx, "delete_unit", unitID, func(ctx context.Context, tx Tx, u *Unit) error {
		active, err := tx.Slots(ctx, SlotFilter{UnitID: &unitID, States: []SlotState{StateActive}})
		if err != nil {
			return fmt.Errorf("list active slots: %w", err)
		}
		if len(active) > 0 {
			return errs.Precondition("unit has an active slot")
		}
		return tx.DeleteUnit(ctx, unitID)
	})
	return err
}

// FindUnitByTag looks a unit up by its normalized tag.
func (s *service) FindUnitByTag(ctx context.Context, tag string) (*Unit, error) {
	normalized, err := NormalizeTag(tag)
	if err != nil {
		return nil, errs.NotFoundf("no unit with tag %q", tag)
	}

	var unit *Unit
	err = s.run(ctx, "find_unit_by_tag", []attribute.KeyValue{
		attribute.String("unit.tag", normalized),
	}, func(ctx context.Context, tx Tx) error {
		u, err := tx.UnitByTag(ctx, normalized)
		if err != nil {
			return notFound(err, "no unit with tag %q", normalized)
		}
		unit = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// UnitStatus reports a unit's flags and whether it is on an open or closed loan.
func (s *service) UnitStatus(ctx context.Context, unitID uuid.UUID) (*UnitStatus, error) {
	var status *UnitStatus
	err := s.run(ctx, "unit_status", []attribute.KeyValue{
		attribute.String("unit.id", unitID.String()),
	}, func(ctx context.Context, tx Tx) error {
		u, err := tx.Unit(ctx, unitID)
		if err != nil {
			return notFound(err, "unit %s not found", unitID)
		}
		slots, err := tx.Slots(ctx, SlotFilter{UnitID: &unitID})
		if err != nil {
			return fmt.Errorf("list unit slots: %w", err)
		}

		st := &UnitStatus{UnitID: u.ID, Ready: u.Ready, Available: u.Available}
		closed := false
		for _, slot := range slots {
			if slot.Open() {
				id := slot.ID
				st.HasOpenSlot = true
				st.OpenSlotID = &id
			} else if slot.State() == StateClosed {
				closed = true
			}
		}
		// At most one slot per unit is open, so when none is the most
		// recent binding is a closed one.
		st.IsClosed = !st.HasOpenSlot && closed
		status = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// GetUnit retrieves a unit by its ID.
func (s *service) GetUnit(ctx context.Context, unitID uuid.UUID) (*Unit, error) {
	var unit *Unit
	err := s.run(ctx, "get_unit", []attribute.KeyValue{
		attribute.String("unit.id", unitID.String()),
	}, func(ctx context.Context, tx Tx) error {
		u, err := tx.Unit(ctx, unitID)
		if err != nil {
			return notFound(err, "unit %s not found", unitID)
		}
		unit = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// ListUnits returns the units matching filter.
func (s *service) ListUnits(ctx context.Context, filter UnitFilter) ([]*Unit, error) {
	var units []*Unit
	err := s.run(ctx, "list_units", nil, func(ctx context.Context, tx Tx) error {
		var err error
		units, err = tx.Units(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// mutateUnit locks the unit and hands it to fn inside one transaction.
func (s *service) mutateUnit(ctx context.Context, op string, unitID uuid.UUID, fn func(context.Context, Tx, *Unit) error) (*Unit, error) {
	var unit *Unit
	err := s.run(ctx, op, []attribute.KeyValue{
		attribute.String("unit.id", unitID.String()),
	}, func(ctx context.Context, tx Tx) error {
		u, err := tx.Unit(ctx, unitID)
		if err != nil {
			return notFound(err, "unit %s not found", unitID)
		}
		if err := fn(ctx, tx, u); err != nil {
			return err
		}
		unit = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}
