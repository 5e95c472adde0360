package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdlend/internal/errs"
	"hdlend/internal/inventory"
	"hdlend/internal/inventory/memstore"
)

// stepClock advances by one second on every read.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newService(t *testing.T, opts ...inventory.Option) inventory.Service {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]inventory.Option{inventory.WithClock(clock.Now)}, opts...)
	return inventory.NewService(memstore.New(), opts...)
}

func readyUnit(t *testing.T, svc inventory.Service, tag string) *inventory.Unit {
	t.Helper()
	ctx := context.Background()
	unit, err := svc.RegisterUnit(ctx, tag)
	require.NoError(t, err)
	unit, err = svc.Certify(ctx, unit.ID)
	require.NoError(t, err)
	return unit
}

func TestAlphaLifecycle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	title, slots, err := svc.CreateTitle(ctx, "Alpha", 2)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 1, slots[0].SlotIndex)
	assert.Equal(t, 2, slots[1].SlotIndex)
	assert.Equal(t, 0, title.StartedCount)

	unit, err := svc.RegisterUnit(ctx, "AA11BB22")
	require.NoError(t, err)
	assert.False(t, unit.Ready)
	assert.True(t, unit.Available)

	unit, err = svc.Certify(ctx, unit.ID)
	require.NoError(t, err)
	assert.True(t, unit.Ready)

	tr, err := svc.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateAssigned, tr.Slot.State())

	tr, err = svc.StartSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Title.StartedCount)
	assert.False(t, tr.Unit.Available)
	require.NotNil(t, tr.Slot.StartedAt)

	_, err = svc.Decertify(ctx, unit.ID)
	assert.ErrorIs(t, err, errs.ErrPrecondition)

	tr, err = svc.CloseSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Title.CompletedCount)
	assert.True(t, tr.Unit.Available)
	assert.False(t, tr.Unit.Ready)
	require.NotNil(t, tr.Slot.CompletedAt)
	assert.True(t, tr.Slot.CompletedAt.After(*tr.Slot.StartedAt))

	_, err = svc.Decertify(ctx, unit.ID)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestStartRequiresReadyUnit(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
	require.NoError(t, err)
	unit := readyUnit(t, svc, "AA11BB22")
	_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)
	_, err = svc.Decertify(ctx, unit.ID)
	require.NoError(t, err)

	_, err = svc.StartSlot(ctx, slots[0].ID)
	require.ErrorIs(t, err, errs.ErrPrecondition)
	assert.Equal(t, "unit not ready", errs.MessageOf(err))

	slot, err := svc.GetSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	assert.Nil(t, slot.StartedAt)
}

func TestCloseRequiresStart(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
	require.NoError(t, err)

	_, err = svc.CloseSlot(ctx, slots[0].ID)
	assert.ErrorIs(t, err, errs.ErrPrecondition)

	unit := readyUnit(t, svc, "AA11BB22")
	_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)

	_, err = svc.CloseSlot(ctx, slots[0].ID)
	assert.ErrorIs(t, err, errs.ErrPrecondition)

	title, err := svc.GetTitle(ctx, slots[0].TitleID)
	require.NoError(t, err)
	assert.Equal(t, 0, title.CompletedCount)
}

func TestBatchStart(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	title, slots, err := svc.CreateTitle(ctx, "Alpha", 3)
	require.NoError(t, err)

	for i, tag := range []string{"00000001", "00000002", "00000003"} {
		unit := readyUnit(t, svc, tag)
		_, err := svc.AssignUnit(ctx, slots[i].ID, unit.ID)
		require.NoError(t, err)
		if i == 1 {
			_, err = svc.Decertify(ctx, unit.ID)
			require.NoError(t, err)
		}
	}

	result, err := svc.BatchStart(ctx, []uuid.UUID{slots[0].ID, slots[1].ID, slots[2].ID})
	require.NoError(t, err)

	require.Len(t, result.Started, 2)
	assert.Equal(t, slots[0].ID, result.Started[0].Slot.ID)
	assert.Equal(t, slots[2].ID, result.Started[1].Slot.ID)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, slots[1].ID, result.Rejected[0].SlotID)
	assert.Equal(t, "unit not ready", result.Rejected[0].Reason)
	assert.Equal(t, string(errs.CodePrecondition), result.Rejected[0].Code)

	got, err := svc.GetTitle(ctx, title.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.StartedCount)
}

func TestBatchStartUnknownSlot(t *testing.T) {
	svc := newService(t)

	missing := uuid.New()
	result, err := svc.BatchStart(context.Background(), []uuid.UUID{missing})
	require.NoError(t, err)
	assert.Empty(t, result.Started)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, string(errs.CodeNotFound), result.Rejected[0].Code)
}

func TestAssignGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown slot", func(t *testing.T) {
		svc := newService(t)
		unit := readyUnit(t, svc, "AA11BB22")
		_, err := svc.AssignUnit(ctx, uuid.New(), unit.ID)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("unknown unit", func(t *testing.T) {
		svc := newService(t)
		_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
		require.NoError(t, err)
		_, err = svc.AssignUnit(ctx, slots[0].ID, uuid.New())
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("unit not ready", func(t *testing.T) {
		svc := newService(t)
		_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
		require.NoError(t, err)
		unit, err := svc.RegisterUnit(ctx, "AA11BB22")
		require.NoError(t, err)
		_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
		assert.ErrorIs(t, err, errs.ErrPrecondition)
	})

	t.Run("active slot", func(t *testing.T) {
		svc := newService(t)
		_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
		require.NoError(t, err)
		unit := readyUnit(t, svc, "AA11BB22")
		_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
		require.NoError(t, err)
		_, err = svc.StartSlot(ctx, slots[0].ID)
		require.NoError(t, err)

		other := readyUnit(t, svc, "CC33DD44")
		_, err = svc.AssignUnit(ctx, slots[0].ID, other.ID)
		assert.ErrorIs(t, err, errs.ErrPrecondition)
	})

	t.Run("closed slot", func(t *testing.T) {
		svc := newService(t)
		_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
		require.NoError(t, err)
		unit := readyUnit(t, svc, "AA11BB22")
		_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
		require.NoError(t, err)
		_, err = svc.StartSlot(ctx, slots[0].ID)
		require.NoError(t, err)
		_, err = svc.CloseSlot(ctx, slots[0].ID)
		require.NoError(t, err)

		other := readyUnit(t, svc, "CC33DD44")
		_, err = svc.AssignUnit(ctx, slots[0].ID, other.ID)
		assert.ErrorIs(t, err, errs.ErrConflict)
	})

	t.Run("unit on active loan", func(t *testing.T) {
		svc := newService(t)
		_, slots, err := svc.CreateTitle(ctx, "Alpha", 2)
		require.NoError(t, err)
		unit := readyUnit(t, svc, "AA11BB22")
		_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
		require.NoError(t, err)
		_, err = svc.StartSlot(ctx, slots[0].ID)
		require.NoError(t, err)

		_, err = svc.AssignUnit(ctx, slots[1].ID, unit.ID)
		require.ErrorIs(t, err, errs.ErrPrecondition)
		assert.Equal(t, "unit not available", errs.MessageOf(err))
	})

	t.Run("unit bound to another open slot", func(t *testing.T) {
		svc := newService(t)
		_, slots, err := svc.CreateTitle(ctx, "Alpha", 2)
		require.NoError(t, err)
		unit := readyUnit(t, svc, "AA11BB22")
		_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
		require.NoError(t, err)

		_, err = svc.AssignUnit(ctx, slots[1].ID, unit.ID)
		assert.ErrorIs(t, err, errs.ErrPrecondition)
	})

	t.Run("same unit is a no-op", func(t *testing.T) {
		svc := newService(t)
		_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
		require.NoError(t, err)
		unit := readyUnit(t, svc, "AA11BB22")
		_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
		require.NoError(t, err)

		tr, err := svc.AssignUnit(ctx, slots[0].ID, unit.ID)
		require.NoError(t, err)
		assert.Equal(t, unit.ID, *tr.Slot.UnitID)
	})

	t.Run("rebind to another unit", func(t *testing.T) {
		svc := newService(t)
		_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
		require.NoError(t, err)
		first := readyUnit(t, svc, "AA11BB22")
		second := readyUnit(t, svc, "CC33DD44")
		_, err = svc.AssignUnit(ctx, slots[0].ID, first.ID)
		require.NoError(t, err)

		tr, err := svc.AssignUnit(ctx, slots[0].ID, second.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, *tr.Slot.UnitID)

		status, err := svc.UnitStatus(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, status.HasOpenSlot)
	})
}

func TestStartGuards(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, slots, err := svc.CreateTitle(ctx, "Alpha", 2)
	require.NoError(t, err)

	_, err = svc.StartSlot(ctx, slots[0].ID)
	require.ErrorIs(t, err, errs.ErrPrecondition)
	assert.Equal(t, "no unit bound", errs.MessageOf(err))

	unit := readyUnit(t, svc, "AA11BB22")
	_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)
	_, err = svc.StartSlot(ctx, slots[0].ID)
	require.NoError(t, err)

	_, err = svc.StartSlot(ctx, slots[0].ID)
	require.ErrorIs(t, err, errs.ErrPrecondition)
	assert.Equal(t, "slot already started", errs.MessageOf(err))

	_, err = svc.CloseSlot(ctx, slots[0].ID)
	require.NoError(t, err)

	_, err = svc.StartSlot(ctx, slots[0].ID)
	require.ErrorIs(t, err, errs.ErrPrecondition)
	assert.Equal(t, "slot already closed", errs.MessageOf(err))

	_, err = svc.CloseSlot(ctx, slots[0].ID)
	require.ErrorIs(t, err, errs.ErrPrecondition)
	assert.Equal(t, "slot already closed", errs.MessageOf(err))

	_, err = svc.StartSlot(ctx, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCreateTitleValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, _, err := svc.CreateTitle(ctx, "  ", 1)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, _, err = svc.CreateTitle(ctx, "Alpha", 0)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, _, err = svc.CreateTitle(ctx, "Alpha", 1)
	require.NoError(t, err)
	_, _, err = svc.CreateTitle(ctx, "Alpha", 3)
	assert.ErrorIs(t, err, errs.ErrValidation)

	titles, err := svc.ListTitles(ctx)
	require.NoError(t, err)
	assert.Len(t, titles, 1)
}

func TestUpdateTitle(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	title, _, err := svc.CreateTitle(ctx, "Alpha", 3)
	require.NoError(t, err)
	_, _, err = svc.CreateTitle(ctx, "Beta", 1)
	require.NoError(t, err)

	capacity := 2
	_, err = svc.UpdateTitle(ctx, title.ID, inventory.TitleUpdate{SlotCapacity: &capacity})
	assert.ErrorIs(t, err, errs.ErrPrecondition)

	name := "Beta"
	_, err = svc.UpdateTitle(ctx, title.ID, inventory.TitleUpdate{Name: &name})
	assert.ErrorIs(t, err, errs.ErrConflict)

	name, capacity = "Alpha Prime", 5
	got, err := svc.UpdateTitle(ctx, title.ID, inventory.TitleUpdate{Name: &name, SlotCapacity: &capacity})
	require.NoError(t, err)
	assert.Equal(t, "Alpha Prime", got.Name)
	assert.Equal(t, 5, got.SlotCapacity)

	_, err = svc.UpdateTitle(ctx, uuid.New(), inventory.TitleUpdate{Name: &name})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAddSlotsAndCreateSlot(t *testing.T) {
	ctx := context.Background()

	t.Run("grow", func(t *testing.T) {
		svc := newService(t)
		title, _, err := svc.CreateTitle(ctx, "Alpha", 2)
		require.NoError(t, err)

		title, added, err := svc.AddSlots(ctx, title.ID, 3, "restock")
		require.NoError(t, err)
		require.Len(t, added, 3)
		assert.Equal(t, []int{3, 4, 5}, []int{added[0].SlotIndex, added[1].SlotIndex, added[2].SlotIndex})
		assert.Equal(t, "restock", added[0].Note)
		assert.Equal(t, 5, title.SlotCapacity)

		slot, err := svc.CreateSlot(ctx, title.ID, 9, "")
		require.NoError(t, err)
		assert.Equal(t, 9, slot.SlotIndex)

		_, err = svc.CreateSlot(ctx, title.ID, 9, "")
		assert.ErrorIs(t, err, errs.ErrConflict)

		stats, err := svc.TitleStats(ctx, title.ID)
		require.NoError(t, err)
		assert.Equal(t, 6, stats.Total)
		assert.Equal(t, 6, stats.Unassigned)
		assert.Equal(t, 9, stats.SlotCapacity)

		capacity := stats.SlotCapacity
		title, err = svc.UpdateTitle(ctx, title.ID, inventory.TitleUpdate{SlotCapacity: &capacity})
		require.NoError(t, err)
		assert.Equal(t, 9, title.SlotCapacity)

		slot, err = svc.CreateSlot(ctx, title.ID, 7, "")
		require.NoError(t, err)
		assert.Equal(t, 7, slot.SlotIndex)
		got, err := svc.GetTitle(ctx, title.ID)
		require.NoError(t, err)
		assert.Equal(t, 9, got.SlotCapacity)
	})

	t.Run("strict", func(t *testing.T) {
		svc := newService(t, inventory.WithPolicy(inventory.Policy{
			Availability: inventory.ReserveOnStart,
			Capacity:     inventory.CapacityStrict,
		}))
		title, _, err := svc.CreateTitle(ctx, "Alpha", 2)
		require.NoError(t, err)

		_, _, err = svc.AddSlots(ctx, title.ID, 1, "")
		assert.ErrorIs(t, err, errs.ErrPrecondition)

		_, err = svc.CreateSlot(ctx, title.ID, 3, "")
		assert.ErrorIs(t, err, errs.ErrPrecondition)
	})

	t.Run("invalid", func(t *testing.T) {
		svc := newService(t)
		title, _, err := svc.CreateTitle(ctx, "Alpha", 1)
		require.NoError(t, err)

		_, _, err = svc.AddSlots(ctx, title.ID, 0, "")
		assert.ErrorIs(t, err, errs.ErrValidation)
		_, err = svc.CreateSlot(ctx, title.ID, 0, "")
		assert.ErrorIs(t, err, errs.ErrValidation)
		_, _, err = svc.AddSlots(ctx, uuid.New(), 1, "")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestReserveOnAssign(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, inventory.WithPolicy(inventory.Policy{
		Availability: inventory.ReserveOnAssign,
		Capacity:     inventory.CapacityGrow,
	}))

	_, slots, err := svc.CreateTitle(ctx, "Alpha", 2)
	require.NoError(t, err)
	first := readyUnit(t, svc, "AA11BB22")
	second := readyUnit(t, svc, "CC33DD44")

	tr, err := svc.AssignUnit(ctx, slots[0].ID, first.ID)
	require.NoError(t, err)
	assert.False(t, tr.Unit.Available)

	_, err = svc.AssignUnit(ctx, slots[1].ID, first.ID)
	assert.ErrorIs(t, err, errs.ErrPrecondition)

	_, err = svc.AssignUnit(ctx, slots[0].ID, second.ID)
	require.NoError(t, err)
	released, err := svc.GetUnit(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, released.Available)

	tr, err = svc.StartSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	assert.False(t, tr.Unit.Available)

	tr, err = svc.CloseSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	assert.True(t, tr.Unit.Available)
}

func TestTags(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	unit, err := svc.RegisterUnit(ctx, "aa11bb22")
	require.NoError(t, err)
	require.NotNil(t, unit.Tag)
	assert.Equal(t, "AA11BB22", *unit.Tag)

	_, err = svc.RegisterUnit(ctx, "AA11BB22")
	assert.ErrorIs(t, err, errs.ErrConflict)

	_, err = svc.RegisterUnit(ctx, "xyz")
	assert.ErrorIs(t, err, errs.ErrValidation)

	found, err := svc.FindUnitByTag(ctx, "aa11BB22")
	require.NoError(t, err)
	assert.Equal(t, unit.ID, found.ID)

	_, err = svc.FindUnitByTag(ctx, "not-a-tag")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.FindUnitByTag(ctx, "FFFFFFFF")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	untagged, err := svc.RegisterUnit(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, untagged.Tag)

	_, err = svc.AttachTag(ctx, untagged.ID, "aa11bb22")
	assert.ErrorIs(t, err, errs.ErrConflict)

	tagged, err := svc.AttachTag(ctx, untagged.ID, "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "0123456789ABCDEF", *tagged.Tag)

	same, err := svc.AttachTag(ctx, untagged.ID, "0123456789ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "0123456789ABCDEF", *same.Tag)
}

func TestCertifyTwice(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	unit := readyUnit(t, svc, "AA11BB22")
	_, err := svc.Certify(ctx, unit.ID)
	assert.ErrorIs(t, err, errs.ErrConflict)

	_, err = svc.Certify(ctx, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDeleteUnit(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	title, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
	require.NoError(t, err)
	unit := readyUnit(t, svc, "AA11BB22")
	_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)
	_, err = svc.StartSlot(ctx, slots[0].ID)
	require.NoError(t, err)

	err = svc.DeleteUnit(ctx, unit.ID)
	assert.ErrorIs(t, err, errs.ErrPrecondition)

	_, err = svc.CloseSlot(ctx, slots[0].ID)
	require.NoError(t, err)

	units, err := svc.TitleUnits(ctx, title.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, unit.ID, units[0].ID)

	require.NoError(t, svc.DeleteUnit(ctx, unit.ID))

	slot, err := svc.GetSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	require.NotNil(t, slot.UnitID)
	assert.Equal(t, unit.ID, *slot.UnitID)

	units, err = svc.TitleUnits(ctx, title.ID)
	require.NoError(t, err)
	assert.Empty(t, units)

	err = svc.DeleteUnit(ctx, unit.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCloseWithDeletedUnit(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
	require.NoError(t, err)
	unit := readyUnit(t, svc, "AA11BB22")
	_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUnit(ctx, unit.ID))

	_, err = svc.StartSlot(ctx, slots[0].ID)
	require.ErrorIs(t, err, errs.ErrPrecondition)
	assert.Equal(t, "bound unit not found", errs.MessageOf(err))
}

func TestTagTransitions(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	title, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
	require.NoError(t, err)
	unit := readyUnit(t, svc, "AA11BB22")

	_, err = svc.StartByTag(ctx, "aa11bb22")
	assert.ErrorIs(t, err, errs.ErrPrecondition)

	_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)

	_, err = svc.CloseByTag(ctx, "AA11BB22")
	assert.ErrorIs(t, err, errs.ErrPrecondition)

	tr, err := svc.StartByTag(ctx, "aa11bb22")
	require.NoError(t, err)
	assert.Equal(t, slots[0].ID, tr.Slot.ID)

	status, err := svc.UnitStatus(ctx, unit.ID)
	require.NoError(t, err)
	assert.True(t, status.HasOpenSlot)
	assert.False(t, status.IsClosed)
	require.NotNil(t, status.OpenSlotID)
	assert.Equal(t, slots[0].ID, *status.OpenSlotID)

	_, err = svc.CloseByTag(ctx, "AA11BB22")
	require.NoError(t, err)

	_, err = svc.StartByTag(ctx, "DEADBEEF")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.CloseByTag(ctx, "zz")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	got, err := svc.GetTitle(ctx, title.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.StartedCount)
	assert.Equal(t, 1, got.CompletedCount)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	title, slots, err := svc.CreateTitle(ctx, "Alpha", 3)
	require.NoError(t, err)
	first := readyUnit(t, svc, "AA11BB22")
	second := readyUnit(t, svc, "CC33DD44")
	_, err = svc.RegisterUnit(ctx, "EE55FF66")
	require.NoError(t, err)

	_, err = svc.AssignUnit(ctx, slots[0].ID, first.ID)
	require.NoError(t, err)
	_, err = svc.AssignUnit(ctx, slots[1].ID, second.ID)
	require.NoError(t, err)
	_, err = svc.StartSlot(ctx, slots[1].ID)
	require.NoError(t, err)

	pending, err := svc.ListSlots(ctx, inventory.SlotFilter{
		TitleID: &title.ID,
		States:  []inventory.SlotState{inventory.StateAssigned},
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, slots[0].ID, pending[0].ID)

	active, err := svc.ListSlots(ctx, inventory.SlotFilter{States: []inventory.SlotState{inventory.StateActive}})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, slots[1].ID, active[0].ID)

	missing := uuid.New()
	_, err = svc.ListSlots(ctx, inventory.SlotFilter{TitleID: &missing})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	ready := true
	units, err := svc.ListUnits(ctx, inventory.UnitFilter{Ready: &ready})
	require.NoError(t, err)
	assert.Len(t, units, 2)

	available := true
	units, err = svc.ListUnits(ctx, inventory.UnitFilter{Ready: &ready, Available: &available})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, first.ID, units[0].ID)
}

func TestSetSlotNote(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
	require.NoError(t, err)

	slot, err := svc.SetSlotNote(ctx, slots[0].ID, "scratched case")
	require.NoError(t, err)
	assert.Equal(t, "scratched case", slot.Note)

	_, err = svc.SetSlotNote(ctx, uuid.New(), "x")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCompletedAtNeverBeforeStartedAt(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	// create title, register unit, start, then a clock that stepped back
	times := []time.Time{base, base, base.Add(time.Hour), base}
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		if len(times) == 1 {
			return times[0]
		}
		next := times[0]
		times = times[1:]
		return next
	}
	svc := inventory.NewService(memstore.New(), inventory.WithClock(clock))

	_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
	require.NoError(t, err)
	unit, err := svc.RegisterUnit(ctx, "AA11BB22")
	require.NoError(t, err)
	_, err = svc.Certify(ctx, unit.ID)
	require.NoError(t, err)
	_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)

	tr, err := svc.StartSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	tr, err = svc.CloseSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), *tr.Slot.StartedAt)
	assert.Equal(t, *tr.Slot.StartedAt, *tr.Slot.CompletedAt)
}

func TestCancelledContext(t *testing.T) {
	svc := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.CreateTitle(ctx, "Alpha", 1)
	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.True(t, errs.CodeOf(err).Retryable())

	_, err = svc.BatchStart(ctx, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, errs.ErrUnavailable)
}

func TestConcurrentStart(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	title, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
	require.NoError(t, err)
	unit := readyUnit(t, svc, "AA11BB22")
	_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.StartSlot(ctx, slots[0].ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	got, err := svc.GetTitle(ctx, title.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.StartedCount)
}

func TestConcurrentAssignSameUnit(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, slots, err := svc.CreateTitle(ctx, "Alpha", 10)
	require.NoError(t, err)
	unit := readyUnit(t, svc, "AA11BB22")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, slot := range slots {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := svc.AssignUnit(ctx, id, unit.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(slot.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

// boundedStore refuses every completed-count increment.
type boundedStore struct {
	*memstore.Store
}

type boundedTx struct {
	inventory.Tx
}

func (s boundedStore) WithTx(ctx context.Context, fn func(inventory.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx inventory.Tx) error {
		return fn(boundedTx{tx})
	})
}

func (boundedTx) IncrementCompleted(context.Context, uuid.UUID) (*inventory.Title, error) {
	return nil, inventory.ErrCounterBound
}

func TestCloseCounterBound(t *testing.T) {
	ctx := context.Background()
	svc := inventory.NewService(boundedStore{memstore.New()})

	_, slots, err := svc.CreateTitle(ctx, "Alpha", 1)
	require.NoError(t, err)
	unit := readyUnit(t, svc, "AA11BB22")
	_, err = svc.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)
	_, err = svc.StartSlot(ctx, slots[0].ID)
	require.NoError(t, err)

	_, err = svc.CloseSlot(ctx, slots[0].ID)
	assert.ErrorIs(t, err, errs.ErrInvariant)

	slot, err := svc.GetSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	assert.Nil(t, slot.CompletedAt)
	assert.Equal(t, inventory.StateActive, slot.State())

	got, err := svc.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.False(t, got.Available)
}

func TestConcurrentCreateSlotSameIndex(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	title, _, err := svc.CreateTitle(ctx, "Alpha", 2)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSlot(ctx, title.ID, 7, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errs.CodeOf(err) == errs.CodeConflict:
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, conflicts)

	slots, err := svc.ListSlots(ctx, inventory.SlotFilter{TitleID: &title.ID})
	require.NoError(t, err)
	assert.Len(t, slots, 3)
}
