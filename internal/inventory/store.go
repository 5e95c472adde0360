// internal/inventory/store.go
package inventory

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
)

// Store-level sentinels. Implementations wrap these so the service can map
// them onto domain error kinds.
var (
	ErrNoRecord     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate record")
	ErrCounterBound = errors.New("counter bound exceeded")
	ErrTransient    = errors.New("transient store failure")
)

// Store runs units of work against the backing records.
type Store interface {
	// WithTx runs fn in a single transaction. A nil return commits; any
	// error rolls back and is returned unchanged.
	WithTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is the record access available inside a transaction. Title, Unit and
// Slot lock the returned row until the transaction ends.
type Tx interface {
	CreateTitle(ctx context.Context, t *Title) error
	Title(ctx context.Context, id uuid.UUID) (*Title, error)
	UpdateTitle(ctx context.Context, t *Title) error
	// IncrementStarted adds one to started_count.
	IncrementStarted(ctx context.Context, id uuid.UUID) (*Title, error)
	// IncrementCompleted adds one to completed_count only while it stays at
	// or below started_count; otherwise it returns ErrCounterBound.
	IncrementCompleted(ctx context.Context, id uuid.UUID) (*Title, error)
	Titles(ctx context.Context) ([]*Title, error)

	CreateUnit(ctx context.Context, u *Unit) error
	Unit(ctx context.Context, id uuid.UUID) (*Unit, error)
	UnitByTag(ctx context.Context, tag string) (*Unit, error)
	UpdateUnit(ctx context.Context, u *Unit) error
	DeleteUnit(ctx context.Context, id uuid.UUID) error
	Units(ctx context.Context, f UnitFilter) ([]*Unit, error)

	CreateSlot(ctx context.Context, s *Slot) error
	Slot(ctx context.Context, id uuid.UUID) (*Slot, error)
	UpdateSlot(ctx context.Context, s *Slot) error
	MaxSlotIndex(ctx context.Context, titleID uuid.UUID) (int, error)
	Slots(ctx context.Context, f SlotFilter) ([]*Slot, error)
}

// SlotFilter narrows a slot listing. Zero values match everything.
type SlotFilter struct {
	TitleID *uuid.UUID  `json:"title_id,omitempty"`
	UnitID  *uuid.UUID  `json:"unit_id,omitempty"`
	States  []SlotState `json:"states,omitempty"`
}

// Match reports whether s passes the filter.
func (f SlotFilter) Match(s *Slot) bool {
	if f.TitleID != nil && s.TitleID != *f.TitleID {
		return false
	}
	if f.UnitID != nil && !s.BoundTo(*f.UnitID) {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	st := s.State()
	for _, want := range f.States {
		if st == want {
			return true
		}
	}
	return false
}

// UnitFilter narrows a unit listing.
type UnitFilter struct {
	IDs       []uuid.UUID `json:"ids,omitempty"`
	Ready     *bool       `json:"ready,omitempty"`
	Available *bool       `json:"available,omitempty"`
}

// Match reports whether u passes the filter.
func (f UnitFilter) Match(u *Unit) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, u.ID) {
		return false
	}
	if f.Ready != nil && u.Ready != *f.Ready {
		return false
	}
	if f.Available != nil && u.Available != *f.Available {
		return false
	}
	return true
}
