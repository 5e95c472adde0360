// cmd/hdlend/slot.go
package main

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hdlend/internal/inventory"
)

var slotCmd = &cobra.Command{
	Use:   "slot",
	Short: "Drive slot transitions on a remote server",
}

var (
	slotNote   string
	slotTitle  string
	slotUnit   string
	slotStatus string
)

var slotGetCmd = &cobra.Command{
	Use:   "get SLOT_ID",
	Short: "Show a slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "slot")
		if err != nil {
			return err
		}
		slot, err := remote().GetSlot(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, slot)
	},
}

var slotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List slots by title, unit, or state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter inventory.SlotFilter
		if slotTitle != "" {
			id, err := parseID(slotTitle, "title")
			if err != nil {
				return err
			}
			filter.TitleID = &id
		}
		if slotUnit != "" {
			id, err := parseID(slotUnit, "unit")
			if err != nil {
				return err
			}
			filter.UnitID = &id
		}
		states, err := parseStatesFlag(slotStatus)
		if err != nil {
			return err
		}
		filter.States = states

		slots, err := remote().ListSlots(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printJSON(cmd, slots)
	},
}

var slotCreateCmd = &cobra.Command{
	Use:   "create TITLE_ID INDEX",
	Short: "Create a slot at an explicit index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		titleID, err := parseID(args[0], "title")
		if err != nil {
			return err
		}
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		slot, err := remote().CreateSlot(cmd.Context(), titleID, index, slotNote)
		if err != nil {
			return err
		}
		return printJSON(cmd, slot)
	},
}

var slotAssignCmd = &cobra.Command{
	Use:   "assign SLOT_ID UNIT_ID",
	Short: "Bind a unit to a slot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		slotID, err := parseID(args[0], "slot")
		if err != nil {
			return err
		}
		unitID, err := parseID(args[1], "unit")
		if err != nil {
			return err
		}
		tr, err := remote().AssignUnit(cmd.Context(), slotID, unitID)
		if err != nil {
			return err
		}
		return printJSON(cmd, tr)
	},
}

var slotNoteCmd = &cobra.Command{
	Use:   "note SLOT_ID NOTE",
	Short: "Replace a slot's note",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "slot")
		if err != nil {
			return err
		}
		slot, err := remote().SetSlotNote(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, slot)
	},
}

var slotBatchStartCmd = &cobra.Command{
	Use:   "batch-start SLOT_ID...",
	Short: "Start several slots, reporting each rejection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]uuid.UUID, 0, len(args))
		for _, raw := range args {
			id, err := parseID(raw, "slot")
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		result, err := remote().BatchStart(cmd.Context(), ids)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

func slotTransition(use, short string, op func(inventory.Service, context.Context, uuid.UUID) (*inventory.Transition, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SLOT_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "slot")
			if err != nil {
				return err
			}
			tr, err := op(remote(), cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, tr)
		},
	}
}

// tagTransition resolves the open slot from a scanned tag.
func tagTransition(use, short string, op func(inventory.Service, context.Context, string) (*inventory.Transition, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " TAG",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := op(remote(), cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, tr)
		},
	}
}

func init() {
	slotListCmd.Flags().StringVar(&slotTitle, "title", "", "only slots of this title")
	slotListCmd.Flags().StringVar(&slotUnit, "unit", "", "only slots bound to this unit")
	slotListCmd.Flags().StringVar(&slotStatus, "status", "", "comma-separated states: unassigned, assigned, active, closed")
	slotCreateCmd.Flags().StringVar(&slotNote, "note", "", "note stored on the slot")

	slotCmd.AddCommand(
		slotGetCmd,
		slotListCmd,
		slotCreateCmd,
		slotAssignCmd,
		slotNoteCmd,
		slotBatchStartCmd,
		slotTransition("start", "Start the loan of an assigned slot", inventory.Service.StartSlot),
		slotTransition("close", "Return the unit of an active slot", inventory.Service.CloseSlot),
		tagTransition("start-tag", "Start the open slot bound to a tagged unit", inventory.Service.StartByTag),
		tagTransition("close-tag", "Return the active slot bound to a tagged unit", inventory.Service.CloseByTag),
	)
	rootCmd.AddCommand(slotCmd)
}
