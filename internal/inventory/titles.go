// internal/inventory/titles.go
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"hdlend/internal/errs"
)

// CreateTitle creates a title together with its initial unbound slots.
func (s *service) CreateTitle(ctx context.Context, name string, slotCapacity int) (*Title, []*Slot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, errs.Validation("title name is required")
	}
	if slotCapacity < 1 {
		return nil, nil, errs.Validationf("slot capacity must be at least 1, got %d", slotCapacity)
	}

	now := s.now().UTC()
	title := &Title{
		ID:           uuid.New(),
		Name:         name,
		SlotCapacity: slotCapacity,
		CreatedAt:    now,
	}

	var slots []*Slot
	err := s.run(ctx, "create_title", []attribute.KeyValue{
		attribute.String("title.name", name),
		attribute.Int("title.slot_capacity", slotCapacity),
	}, func(ctx context.Context, tx Tx) error {
		if err := tx.CreateTitle(ctx, title); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return errs.Validationf("title %q already exists", name)
			}
			return fmt.Errorf("insert title: %w", err)
		}

		created, err := createSlots(ctx, tx, title.ID, 1, slotCapacity, "", now)
		if err != nil {
			return err
		}
		slots = created
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return title, slots, nil
}

// AddSlots appends count slots after the title's highest slot index.
func (s *service) AddSlots(ctx context.Context, titleID uuid.UUID, count int, note string) (*Title, []*Slot, error) {
	if count < 1 {
		return nil, nil, errs.Validationf("slot count must be at least 1, got %d", count)
	}

	var (
		title *Title
		slots []*Slot
	)
	err := s.run(ctx, "add_slots", []attribute.KeyValue{
		attribute.String("title.id", titleID.String()),
		attribute.Int("slot.count", count),
	}, func(ctx context.Context, tx Tx) error {
		t, err := tx.Title(ctx, titleID)
		if err != nil {
			return notFound(err, "title %s not found", titleID)
		}

		last, err := tx.MaxSlotIndex(ctx, titleID)
		if err != nil {
			return fmt.Errorf("max slot index: %w", err)
		}
		if s.policy.Capacity == CapacityStrict && last+count > t.SlotCapacity {
			return errs.Precondition(fmt.Sprintf("adding %d slots would exceed slot capacity %d", count, t.SlotCapacity))
		}

		created, err := createSlots(ctx, tx, titleID, last+1, count, note, s.now().UTC())
		if err != nil {
			return err
		}

		if s.policy.Capacity == CapacityGrow {
			t.SlotCapacity += count
			if err := tx.UpdateTitle(ctx, t); err != nil {
				return fmt.Errorf("update title capacity: %w", err)
			}
		}

		title, slots = t, created
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return title, slots, nil
}

// CreateSlot creates a single slot at an explicit index.
func (s *service) CreateSlot(ctx context.Context, titleID uuid.UUID, slotIndex int, note string) (*Slot, error) {
	if slotIndex < 1 {
		return nil, errs.Validationf("slot index must be at least 1, got %d", slotIndex)
	}

	var slot *Slot
	err := s.run(ctx, "create_slot", []attribute.KeyValue{
		attribute.String("title.id", titleID.String()),
		attribute.Int("slot.index", slotIndex),
	}, func(ctx context.Context, tx Tx) error {
		t, err := tx.Title(ctx, titleID)
		if err != nil {
			return notFound(err, "title %s not found", titleID)
		}
		if s.policy.Capacity == CapacityStrict && slotIndex > t.SlotCapacity {
			return errs.Precondition(fmt.Sprintf("slot index %d exceeds slot capacity %d", slotIndex, t.SlotCapacity))
		}

		created, err := createSlots(ctx, tx, titleID, slotIndex, 1, note, s.now().UTC())
		if err != nil {
			return err
		}

		if s.policy.Capacity == CapacityGrow && slotIndex > t.SlotCapacity {
			t.SlotCapacity = slotIndex
			if err := tx.UpdateTitle(ctx, t); err != nil {
				return fmt.Errorf("update title capacity: %w", err)
			}
		}

		slot = created[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// UpdateTitle applies a partial update of name and slot capacity.
func (s *service) UpdateTitle(ctx context.Context, titleID uuid.UUID, update TitleUpdate) (*Title, error) {
	var name string
	if update.Name != nil {
		name = strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, errs.Validation("title name is required")
		}
	}
	if update.SlotCapacity != nil && *update.SlotCapacity < 1 {
		return nil, errs.Validationf("slot capacity must be at least 1, got %d", *update.SlotCapacity)
	}

	var title *Title
	err := s.run(ctx, "update_title", []attribute.KeyValue{
		attribute.String("title.id", titleID.String()),
	}, func(ctx context.Context, tx Tx) error {
		t, err := tx.Title(ctx, titleID)
		if err != nil {
			return notFound(err, "title %s not found", titleID)
		}

		if update.SlotCapacity != nil {
			last, err := tx.MaxSlotIndex(ctx, titleID)
			if err != nil {
				return fmt.Errorf("max slot index: %w", err)
			}
			if *update.SlotCapacity < last {
				return errs.Precondition(fmt.Sprintf("slot capacity %d is below highest slot index %d", *update.SlotCapacity, last))
			}
			t.SlotCapacity = *update.SlotCapacity
		}
		if update.Name != nil {
			t.Name = name
		}

		if err := tx.UpdateTitle(ctx, t); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return errs.Conflictf("title %q already exists", name)
			}
			return fmt.Errorf("update title: %w", err)
		}
		title = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return title, nil
}

// GetTitle retrieves a title by its ID.
func (s *service) GetTitle(ctx context.Context, titleID uuid.UUID) (*Title, error) {
	var title *Title
	err := s.run(ctx, "get_title", []attribute.KeyValue{
		attribute.String("title.id", titleID.String()),
	}, func(ctx context.Context, tx Tx) error {
		t, err := tx.Title(ctx, titleID)
		if err != nil {
			return notFound(err, "title %s not found", titleID)
		}
		title = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return title, nil
}

// ListTitles returns all titles ordered by name.
func (s *service) ListTitles(ctx context.Context) ([]*Title, error) {
	var titles []*Title
	err := s.run(ctx, "list_titles", nil, func(ctx context.Context, tx Tx) error {
		var err error
		titles, err = tx.Titles(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return titles, nil
}

// TitleStats counts a title's slots by lifecycle state.
func (s *service) TitleStats(ctx context.Context, titleID uuid.UUID) (*TitleStats, error) {
	var stats *TitleStats
	err := s.run(ctx, "title_stats", []attribute.KeyValue{
		attribute.String("title.id", titleID.String()),
	}, func(ctx context.Context, tx Tx) error {
		t, err := tx.Title(ctx, titleID)
		if err != nil {
			return notFound(err, "title %s not found", titleID)
		}
		slots, err := tx.Slots(ctx, SlotFilter{TitleID: &titleID})
		if err != nil {
			return fmt.Errorf("list slots: %w", err)
		}

		st := &TitleStats{
			TitleID:        t.ID,
			SlotCapacity:   t.SlotCapacity,
			StartedCount:   t.StartedCount,
			CompletedCount: t.CompletedCount,
			Total:          len(slots),
		}
		for _, slot := range slots {
			switch slot.State() {
			case StateUnassigned:
				st.Unassigned++
			case StateAssigned:
				st.Assigned++
			case StateActive:
				st.Active++
			case StateClosed:
				st.Closed++
			}
		}
		stats = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// TitleUnits returns the distinct units referenced by a title's slots, in
// slot index order. References to deleted units are skipped.
func (s *service) TitleUnits(ctx context.Context, titleID uuid.UUID) ([]*Unit, error) {
	var units []*Unit
	err := s.run(ctx, "title_units", []attribute.KeyValue{
		attribute.String("title.id", titleID.String()),
	}, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Title(ctx, titleID); err != nil {
			return notFound(err, "title %s not found", titleID)
		}
		slots, err := tx.Slots(ctx, SlotFilter{TitleID: &titleID})
		if err != nil {
			return fmt.Errorf("list slots: %w", err)
		}

		var ids []uuid.UUID
		seen := make(map[uuid.UUID]bool)
		for _, slot := range slots {
			if slot.UnitID == nil || seen[*slot.UnitID] {
				continue
			}
			seen[*slot.UnitID] = true
			ids = append(ids, *slot.UnitID)
		}
		if len(ids) == 0 {
			units = []*Unit{}
			return nil
		}

		found, err := tx.Units(ctx, UnitFilter{IDs: ids})
		if err != nil {
			return fmt.Errorf("list units: %w", err)
		}
		byID := make(map[uuid.UUID]*Unit, len(found))
		for _, u := range found {
			byID[u.ID] = u
		}
		units = make([]*Unit, 0, len(ids))
		for _, id := range ids {
			if u, ok := byID[id]; ok {
				units = append(units, u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

func createSlots(ctx context.Context, tx Tx, titleID uuid.UUID, first, count int, note string, now time.Time) ([]*Slot, error) {
	slots := make([]*Slot, 0, count)
	for i := first; i < first+count; i++ {
		slot := &Slot{
			ID:        uuid.New(),
			TitleID:   titleID,
			SlotIndex: i,
			Note:      note,
			CreatedAt: now,
		}
		if err := tx.CreateSlot(ctx, slot); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return nil, errs.Conflictf("slot index %d already exists for title %s", i, titleID)
			}
			return nil, fmt.Errorf("insert slot %d: %w", i, err)
		}
		slots = append(slots, slot)
	}
	return slots, nil
}
