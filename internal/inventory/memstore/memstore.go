// internal/inventory/memstore/memstore.go

// Package memstore is an in-process inventory.Store. Transactions are
// serialized by a single mutex and roll back by restoring a copy of the state
// taken when the transaction began. It backs tests and single-node
// development servers.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"hdlend/internal/inventory"
)

type state struct {
	titles map[uuid.UUID]inventory.Title
	units  map[uuid.UUID]inventory.Unit
	slots  map[uuid.UUID]inventory.Slot
}

func (st *state) clone() *state {
	return &state{
		titles: maps.Clone(st.titles),
		units:  maps.Clone(st.units),
		slots:  maps.Clone(st.slots),
	}
}

// Store is an in-memory inventory.Store.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty store.
func New() *Store {
	return &Store{
		state: &state{
			titles: make(map[uuid.UUID]inventory.Title),
			units:  make(map[uuid.UUID]inventory.Unit),
			slots:  make(map[uuid.UUID]inventory.Slot),
		},
	}
}

// WithTx runs fn with exclusive access to the state.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", inventory.ErrTransient, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.state.clone()
	if err := fn(&tx{st: s.state}); err != nil {
		s.state = backup
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// tx mutates the live state; the owning Store restores it on failure.
type tx struct {
	st *state
}

func (t *tx) CreateTitle(_ context.Context, title *inventory.Title) error {
	for _, existing := range t.st.titles {
		if existing.Name == title.Name {
			return fmt.Errorf("%w: title name %q", inventory.ErrDuplicate, title.Name)
		}
	}
	t.st.titles[title.ID] = *title
	return nil
}

func (t *tx) Title(_ context.Context, id uuid.UUID) (*inventory.Title, error) {
	title, ok := t.st.titles[id]
	if !ok {
		return nil, fmt.Errorf("%w: title %s", inventory.ErrNoRecord, id)
	}
	return &title, nil
}

func (t *tx) UpdateTitle(_ context.Context, title *inventory.Title) error {
	if _, ok := t.st.titles[title.ID]; !ok {
		return fmt.Errorf("%w: title %s", inventory.ErrNoRecord, title.ID)
	}
	for id, existing := range t.st.titles {
		if id != title.ID && existing.Name == title.Name {
			return fmt.Errorf("%w: title name %q", inventory.ErrDuplicate, title.Name)
		}
	}
	t.st.titles[title.ID] = *title
	return nil
}

func (t *tx) IncrementStarted(_ context.Context, id uuid.UUID) (*inventory.Title, error) {
	title, ok := t.st.titles[id]
	if !ok {
		return nil, fmt.Errorf("%w: title %s", inventory.ErrNoRecord, id)
	}
	title.StartedCount++
	t.st.titles[id] = title
	return &title, nil
}

func (t *tx) IncrementCompleted(_ context.Context, id uuid.UUID) (*inventory.Title, error) {
	title, ok := t.st.titles[id]
	if !ok {
		return nil, fmt.Errorf("%w: title %s", inventory.ErrNoRecord, id)
	}
	if title.CompletedCount >= title.StartedCount {
		return nil, inventory.ErrCounterBound
	}
	title.CompletedCount++
	t.st.titles[id] = title
	return &title, nil
}

func (t *tx) Titles(context.Context) ([]*inventory.Title, error) {
	titles := make([]*inventory.Title, 0, len(t.st.titles))
	for _, title := range t.st.titles {
		titles = append(titles, &title)
	}
	slices.SortFunc(titles, func(a, b *inventory.Title) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return titles, nil
}

func (t *tx) CreateUnit(_ context.Context, unit *inventory.Unit) error {
	if err := t.checkTag(unit); err != nil {
		return err
	}
	t.st.units[unit.ID] = cloneUnit(*unit)
	return nil
}

func (t *tx) Unit(_ context.Context, id uuid.UUID) (*inventory.Unit, error) {
	unit, ok := t.st.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: unit %s", inventory.ErrNoRecord, id)
	}
	u := cloneUnit(unit)
	return &u, nil
}

func (t *tx) UnitByTag(_ context.Context, tag string) (*inventory.Unit, error) {
	for _, unit := range t.st.units {
		if unit.Tag != nil && *unit.Tag == tag {
			u := cloneUnit(unit)
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: unit tag %s", inventory.ErrNoRecord, tag)
}

func (t *tx) UpdateUnit(_ context.Context, unit *inventory.Unit) error {
	if _, ok := t.st.units[unit.ID]; !ok {
		return fmt.Errorf("%w: unit %s", inventory.ErrNoRecord, unit.ID)
	}
	if err := t.checkTag(unit); err != nil {
		return err
	}
	t.st.units[unit.ID] = cloneUnit(*unit)
	return nil
}

func (t *tx) DeleteUnit(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.units[id]; !ok {
		return fmt.Errorf("%w: unit %s", inventory.ErrNoRecord, id)
	}
	delete(t.st.units, id)
	return nil
}

func (t *tx) Units(_ context.Context, f inventory.UnitFilter) ([]*inventory.Unit, error) {
	units := make([]*inventory.Unit, 0)
	for _, unit := range t.st.units {
		if !f.Match(&unit) {
			continue
		}
		u := cloneUnit(unit)
		units = append(units, &u)
	}
	slices.SortFunc(units, func(a, b *inventory.Unit) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return units, nil
}

func (t *tx) CreateSlot(_ context.Context, slot *inventory.Slot) error {
	if _, ok := t.st.titles[slot.TitleID]; !ok {
		return fmt.Errorf("%w: title %s", inventory.ErrNoRecord, slot.TitleID)
	}
	for _, existing := range t.st.slots {
		if existing.TitleID == slot.TitleID && existing.SlotIndex == slot.SlotIndex {
			return fmt.Errorf("%w: slot index %d", inventory.ErrDuplicate, slot.SlotIndex)
		}
	}
	if err := t.checkOpenBinding(slot); err != nil {
		return err
	}
	t.st.slots[slot.ID] = cloneSlot(*slot)
	return nil
}

func (t *tx) Slot(_ context.Context, id uuid.UUID) (*inventory.Slot, error) {
	slot, ok := t.st.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: slot %s", inventory.ErrNoRecord, id)
	}
	s := cloneSlot(slot)
	return &s, nil
}

func (t *tx) UpdateSlot(_ context.Context, slot *inventory.Slot) error {
	if _, ok := t.st.slots[slot.ID]; !ok {
		return fmt.Errorf("%w: slot %s", inventory.ErrNoRecord, slot.ID)
	}
	if err := t.checkOpenBinding(slot); err != nil {
		return err
	}
	t.st.slots[slot.ID] = cloneSlot(*slot)
	return nil
}

func (t *tx) MaxSlotIndex(_ context.Context, titleID uuid.UUID) (int, error) {
	maxIndex := 0
	for _, slot := range t.st.slots {
		if slot.TitleID == titleID && slot.SlotIndex > maxIndex {
			maxIndex = slot.SlotIndex
		}
	}
	return maxIndex, nil
}

func (t *tx) Slots(_ context.Context, f inventory.SlotFilter) ([]*inventory.Slot, error) {
	slots := make([]*inventory.Slot, 0)
	for _, slot := range t.st.slots {
		if !f.Match(&slot) {
			continue
		}
		s := cloneSlot(slot)
		slots = append(slots, &s)
	}
	slices.SortFunc(slots, func(a, b *inventory.Slot) int {
		if c := cmp.Compare(a.TitleID.String(), b.TitleID.String()); c != 0 {
			return c
		}
		return cmp.Compare(a.SlotIndex, b.SlotIndex)
	})
	return slots, nil
}

// checkTag mirrors the unique index on units.tag.
func (t *tx) checkTag(unit *inventory.Unit) error {
	if unit.Tag == nil {
		return nil
	}
	for id, existing := range t.st.units {
		if id != unit.ID && existing.Tag != nil && *existing.Tag == *unit.Tag {
			return fmt.Errorf("%w: unit tag %s", inventory.ErrDuplicate, *unit.Tag)
		}
	}
	return nil
}

// checkOpenBinding mirrors the partial unique index on open slots per unit.
func (t *tx) checkOpenBinding(slot *inventory.Slot) error {
	if slot.UnitID == nil || slot.CompletedAt != nil {
		return nil
	}
	for id, existing := range t.st.slots {
		if id != slot.ID && existing.CompletedAt == nil && existing.BoundTo(*slot.UnitID) {
			return fmt.Errorf("%w: open slot for unit %s", inventory.ErrDuplicate, *slot.UnitID)
		}
	}
	return nil
}

func cloneUnit(u inventory.Unit) inventory.Unit {
	if u.Tag != nil {
		tag := *u.Tag
		u.Tag = &tag
	}
	return u
}

func cloneSlot(s inventory.Slot) inventory.Slot {
	if s.UnitID != nil {
		id := *s.UnitID
		s.UnitID = &id
	}
	if s.StartedAt != nil {
		at := *s.StartedAt
		s.StartedAt = &at
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		s.CompletedAt = &at
	}
	return s
}
