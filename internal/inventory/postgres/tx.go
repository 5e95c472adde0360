// internal/inventory/postgres/tx.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"hdlend/internal/inventory"
)

const (
	titleColumns = `id, name, slot_capacity, started_count, completed_count, created_at`
	unitColumns  = `id, tag, ready, available, created_at`
	slotColumns  = `id, title_id, slot_index, unit_id, started_at, completed_at, note, created_at`
)

// tx implements inventory.Tx over a single database transaction.
type tx struct {
	tx *sqlx.Tx
}

func (t *tx) CreateTitle(ctx context.Context, title *inventory.Title) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO titles (id, name, slot_capacity, started_count, completed_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, title.ID, title.Name, title.SlotCapacity, title.StartedCount, title.CompletedCount, title.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert title: %w", mapError(err))
	}
	return nil
}

func (t *tx) Title(ctx context.Context, id uuid.UUID) (*inventory.Title, error) {
	var title inventory.Title
	err := t.tx.GetContext(ctx, &title, `
		SELECT `+titleColumns+`
		FROM titles
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		return nil, fmt.Errorf("select title %s: %w", id, mapError(err))
	}
	return &title, nil
}

func (t *tx) UpdateTitle(ctx context.Context, title *inventory.Title) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE titles
		SET name = $2, slot_capacity = $3
		WHERE id = $1
	`, title.ID, title.Name, title.SlotCapacity)
	if err != nil {
		return fmt.Errorf("update title: %w", mapError(err))
	}
	return expectRow(res, "title", title.ID)
}

func (t *tx) IncrementStarted(ctx context.Context, id uuid.UUID) (*inventory.Title, error) {
	var title inventory.Title
	err := t.tx.GetContext(ctx, &title, `
		UPDATE titles
		SET started_count = started_count + 1
		WHERE id = $1
		RETURNING `+titleColumns, id)
	if err != nil {
		return nil, fmt.Errorf("increment started count: %w", mapError(err))
	}
	return &title, nil
}

func (t *tx) IncrementCompleted(ctx context.Context, id uuid.UUID) (*inventory.Title, error) {
	var title inventory.Title
	err := t.tx.GetContext(ctx, &title, `
		UPDATE titles
		SET completed_count = completed_count + 1
		WHERE id = $1 AND completed_count < started_count
		RETURNING `+titleColumns, id)
	if err == nil {
		return &title, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("increment completed count: %w", mapError(err))
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM titles WHERE id = $1)`, id); err != nil {
		return nil, fmt.Errorf("check title: %w", mapError(err))
	}
	if !exists {
		return nil, fmt.Errorf("%w: title %s", inventory.ErrNoRecord, id)
	}
	return nil, inventory.ErrCounterBound
}

func (t *tx) Titles(ctx context.Context) ([]*inventory.Title, error) {
	query, args, err := titlesQuery()
	if err != nil {
		return nil, err
	}
	titles := make([]*inventory.Title, 0)
	if err := t.tx.SelectContext(ctx, &titles, query, args...); err != nil {
		return nil, fmt.Errorf("select titles: %w", mapError(err))
	}
	return titles, nil
}

func (t *tx) CreateUnit(ctx context.Context, unit *inventory.Unit) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO units (id, tag, ready, available, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, unit.ID, unit.Tag, unit.Ready, unit.Available, unit.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert unit: %w", mapError(err))
	}
	return nil
}

func (t *tx) Unit(ctx context.Context, id uuid.UUID) (*inventory.Unit, error) {
	var unit inventory.Unit
	err := t.tx.GetContext(ctx, &unit, `
		SELECT `+unitColumns+`
		FROM units
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		return nil, fmt.Errorf("select unit %s: %w", id, mapError(err))
	}
	return &unit, nil
}

// UnitByTag does not lock; callers lock the slot first and the unit second.
func (t *tx) UnitByTag(ctx context.Context, tag string) (*inventory.Unit, error) {
	var unit inventory.Unit
	err := t.tx.GetContext(ctx, &unit, `
		SELECT `+unitColumns+`
		FROM units
		WHERE tag = $1
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("select unit by tag: %w", mapError(err))
	}
	return &unit, nil
}

func (t *tx) UpdateUnit(ctx context.Context, unit *inventory.Unit) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE units
		SET tag = $2, ready = $3, available = $4
		WHERE id = $1
	`, unit.ID, unit.Tag, unit.Ready, unit.Available)
	if err != nil {
		return fmt.Errorf("update unit: %w", mapError(err))
	}
	return expectRow(res, "unit", unit.ID)
}

func (t *tx) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM units WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete unit: %w", mapError(err))
	}
	return expectRow(res, "unit", id)
}

func (t *tx) Units(ctx context.Context, f inventory.UnitFilter) ([]*inventory.Unit, error) {
	query, args, err := unitsQuery(f)
	if err != nil {
		return nil, err
	}
	units := make([]*inventory.Unit, 0)
	if err := t.tx.SelectContext(ctx, &units, query, args...); err != nil {
		return nil, fmt.Errorf("select units: %w", mapError(err))
	}
	return units, nil
}

func (t *tx) CreateSlot(ctx context.Context, slot *inventory.Slot) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO slots (id, title_id, slot_index, unit_id, started_at, completed_at, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, slot.ID, slot.TitleID, slot.SlotIndex, slot.UnitID, slot.StartedAt, slot.CompletedAt, slot.Note, slot.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert slot: %w", mapError(err))
	}
	return nil
}

func (t *tx) Slot(ctx context.Context, id uuid.UUID) (*inventory.Slot, error) {
	var slot inventory.Slot
	err := t.tx.GetContext(ctx, &slot, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		return nil, fmt.Errorf("select slot %s: %w", id, mapError(err))
	}
	return &slot, nil
}

func (t *tx) UpdateSlot(ctx context.Context, slot *inventory.Slot) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE slots
		SET unit_id = $2, started_at = $3, completed_at = $4, note = $5
		WHERE id = $1
	`, slot.ID, slot.UnitID, slot.StartedAt, slot.CompletedAt, slot.Note)
	if err != nil {
		return fmt.Errorf("update slot: %w", mapError(err))
	}
	return expectRow(res, "slot", slot.ID)
}

func (t *tx) MaxSlotIndex(ctx context.Context, titleID uuid.UUID) (int, error) {
	var maxIndex int
	err := t.tx.GetContext(ctx, &maxIndex, `
		SELECT COALESCE(MAX(slot_index), 0)
		FROM slots
		WHERE title_id = $1
	`, titleID)
	if err != nil {
		return 0, fmt.Errorf("select max slot index: %w", mapError(err))
	}
	return maxIndex, nil
}

func (t *tx) Slots(ctx context.Context, f inventory.SlotFilter) ([]*inventory.Slot, error) {
	query, args, err := slotsQuery(f)
	if err != nil {
		return nil, err
	}
	slots := make([]*inventory.Slot, 0)
	if err := t.tx.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("select slots: %w", mapError(err))
	}
	return slots, nil
}

func expectRow(res sql.Result, kind string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", mapError(err))
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", inventory.ErrNoRecord, kind, id)
	}
	return nil
}
