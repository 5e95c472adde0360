// internal/inventory/service.go
package inventory

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the operations of the lending inventory engine. Every
// mutating call runs as one transaction and either commits fully or returns
// a single *errs.Error.
type Service interface {
	CreateTitle(ctx context.Context, name string, slotCapacity int) (*Title, []*Slot, error)
	AddSlots(ctx context.Context, titleID uuid.UUID, count int, note string) (*Title, []*Slot, error)
	CreateSlot(ctx context.Context, titleID uuid.UUID, slotIndex int, note string) (*Slot, error)
	UpdateTitle(ctx context.Context, titleID uuid.UUID, update TitleUpdate) (*Title, error)
	GetTitle(ctx context.Context, titleID uuid.UUID) (*Title, error)
	ListTitles(ctx context.Context) ([]*Title, error)
	TitleStats(ctx context.Context, titleID uuid.UUID) (*TitleStats, error)
	TitleUnits(ctx context.Context, titleID uuid.UUID) ([]*Unit, error)

	AssignUnit(ctx context.Context, slotID, unitID uuid.UUID) (*Transition, error)
	StartSlot(ctx context.Context, slotID uuid.UUID) (*Transition, error)
	CloseSlot(ctx context.Context, slotID uuid.UUID) (*Transition, error)
	StartByTag(ctx context.Context, tag string) (*Transition, error)
	CloseByTag(ctx context.Context, tag string) (*Transition, error)
	BatchStart(ctx context.Context, slotIDs []uuid.UUID) (*BatchResult, error)
	SetSlotNote(ctx context.Context, slotID uuid.UUID, note string) (*Slot, error)
	GetSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error)
	ListSlots(ctx context.Context, filter SlotFilter) ([]*Slot, error)

	RegisterUnit(ctx context.Context, tag string) (*Unit, error)
	AttachTag(ctx context.Context, unitID uuid.UUID, tag string) (*Unit, error)
	Certify(ctx context.Context, unitID uuid.UUID) (*Unit, error)
	Decertify(ctx context.Context, unitID uuid.UUID) (*Unit, error)
	DeleteUnit(ctx context.Context, unitID uuid.UUID) error
	FindUnitByTag(ctx context.Context, tag string) (*Unit, error)
	UnitStatus(ctx context.Context, unitID uuid.UUID) (*UnitStatus, error)
	GetUnit(ctx context.Context, unitID uuid.UUID) (*Unit, error)
	ListUnits(ctx context.Context, filter UnitFilter) ([]*Unit, error)

	Ping(ctx context.Context) error
}
