// internal/inventory/domain.go
package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Title is a catalog entry with a fixed number of lend slots.
type Title struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	SlotCapacity   int       `json:"slot_capacity" db:"slot_capacity"`
	StartedCount   int       `json:"started_count" db:"started_count"`
	CompletedCount int       `json:"completed_count" db:"completed_count"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Unit is a physical storage device that can be lent out.
type Unit struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Tag       *string   `json:"tag,omitempty" db:"tag"`
	Ready     bool      `json:"ready" db:"ready"`
	Available bool      `json:"available" db:"available"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Slot is one lend opportunity of a title.
type Slot struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	TitleID     uuid.UUID  `json:"title_id" db:"title_id"`
	SlotIndex   int        `json:"slot_index" db:"slot_index"`
	UnitID      *uuid.UUID `json:"unit_id,omitempty" db:"unit_id"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Note        string     `json:"note,omitempty" db:"note"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// SlotState is the lifecycle state derived from a slot's nullable fields.
type SlotState string

const (
	StateUnassigned SlotState = "unassigned"
	StateAssigned   SlotState = "assigned"
	StateActive     SlotState = "active"
	StateClosed     SlotState = "closed"
)

// ParseSlotState accepts the state names plus the "pending" alias used by
// older clients for assigned slots.
func ParseSlotState(s string) (SlotState, bool) {
	switch SlotState(s) {
	case StateUnassigned, StateAssigned, StateActive, StateClosed:
		return SlotState(s), true
	case "pending":
		return StateAssigned, true
	}
	return "", false
}

// State derives the lifecycle state. Closed wins over every other field.
func (s *Slot) State() SlotState {
	switch {
	case s.CompletedAt != nil:
		return StateClosed
	case s.StartedAt != nil:
		return StateActive
	case s.UnitID != nil:
		return StateAssigned
	default:
		return StateUnassigned
	}
}

// Open reports whether the slot is Assigned or Active.
func (s *Slot) Open() bool {
	st := s.State()
	return st == StateAssigned || st == StateActive
}

// BoundTo reports whether the slot references unitID.
func (s *Slot) BoundTo(unitID uuid.UUID) bool {
	return s.UnitID != nil && *s.UnitID == unitID
}

// UnitStatus summarizes a unit's lending position.
type UnitStatus struct {
	UnitID      uuid.UUID  `json:"unit_id"`
	Ready       bool       `json:"ready"`
	Available   bool       `json:"available"`
	HasOpenSlot bool       `json:"has_open_slot"`
	IsClosed    bool       `json:"is_closed"`
	OpenSlotID  *uuid.UUID `json:"open_slot_id,omitempty"`
}

// TitleUpdate carries the fields of a partial title update.
type TitleUpdate struct {
	Name         *string `json:"name,omitempty"`
	SlotCapacity *int    `json:"slot_capacity,omitempty"`
}

// TitleStats counts a title's slots per lifecycle state.
type TitleStats struct {
	TitleID        uuid.UUID `json:"title_id"`
	SlotCapacity   int       `json:"slot_capacity"`
	StartedCount   int       `json:"started_count"`
	CompletedCount int       `json:"completed_count"`
	Total          int       `json:"total"`
	Unassigned     int       `json:"unassigned"`
	Assigned       int       `json:"assigned"`
	Active         int       `json:"active"`
	Closed         int       `json:"closed"`
}

// Transition is the post-commit state of the records a slot transition touched.
type Transition struct {
	Slot  *Slot  `json:"slot"`
	Unit  *Unit  `json:"unit,omitempty"`
	Title *Title `json:"title,omitempty"`
}

// Rejection explains why one member of a batch was not applied.
type Rejection struct {
	SlotID uuid.UUID `json:"id"`
	Code   string    `json:"code"`
	Reason string    `json:"reason"`
}

// BatchResult reports a batch start. Rejected preserves input order.
type BatchResult struct {
	Started  []*Transition `json:"started"`
	Rejected []Rejection   `json:"rejected"`
}
