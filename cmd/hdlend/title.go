// cmd/hdlend/title.go
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hdlend/internal/inventory"
)

var titleCmd = &cobra.Command{
	Use:   "title",
	Short: "Manage titles on a remote server",
}

var (
	titleCapacity int
	newCapacity   int
	titleName     string
	titleNote     string
	titleCount    int
	titleStatus   string
)

var titleCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a title with its initial slots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, slots, err := remote().CreateTitle(cmd.Context(), args[0], titleCapacity)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"title": title, "slots": slots})
	},
}

var titleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List titles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		titles, err := remote().ListTitles(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, titles)
	},
}

var titleGetCmd = &cobra.Command{
	Use:   "get TITLE_ID",
	Short: "Show a title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "title")
		if err != nil {
			return err
		}
		title, err := remote().GetTitle(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, title)
	},
}

var titleUpdateCmd = &cobra.Command{
	Use:   "update TITLE_ID",
	Short: "Rename a title or change its slot capacity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "title")
		if err != nil {
			return err
		}
		var update inventory.TitleUpdate
		if cmd.Flags().Changed("name") {
			update.Name = &titleName
		}
		if cmd.Flags().Changed("capacity") {
			update.SlotCapacity = &newCapacity
		}
		title, err := remote().UpdateTitle(cmd.Context(), id, update)
		if err != nil {
			return err
		}
		return printJSON(cmd, title)
	},
}

var titleStatsCmd = &cobra.Command{
	Use:   "stats TITLE_ID",
	Short: "Count a title's slots by state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "title")
		if err != nil {
			return err
		}
		stats, err := remote().TitleStats(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var titleUnitsCmd = &cobra.Command{
	Use:   "units TITLE_ID",
	Short: "List units bound to a title's slots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "title")
		if err != nil {
			return err
		}
		units, err := remote().TitleUnits(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, units)
	},
}

var titleSlotsCmd = &cobra.Command{
	Use:   "slots TITLE_ID",
	Short: "List a title's slots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "title")
		if err != nil {
			return err
		}
		states, err := parseStatesFlag(titleStatus)
		if err != nil {
			return err
		}
		slots, err := remote().ListSlots(cmd.Context(), inventory.SlotFilter{TitleID: &id, States: states})
		if err != nil {
			return err
		}
		return printJSON(cmd, slots)
	},
}

var titleAddSlotsCmd = &cobra.Command{
	Use:   "add-slots TITLE_ID",
	Short: "Append slots after the title's highest index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "title")
		if err != nil {
			return err
		}
		title, slots, err := remote().AddSlots(cmd.Context(), id, titleCount, titleNote)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"title": title, "slots": slots})
	},
}

// parseStatesFlag reads a comma-separated --status value.
func parseStatesFlag(raw string) ([]inventory.SlotState, error) {
	if raw == "" {
		return nil, nil
	}
	var states []inventory.SlotState
	for _, part := range strings.Split(raw, ",") {
		st, ok := inventory.ParseSlotState(strings.TrimSpace(part))
		if !ok {
			return nil, fmt.Errorf("unknown slot status %q", part)
		}
		states = append(states, st)
	}
	return states, nil
}

func init() {
	titleCreateCmd.Flags().IntVar(&titleCapacity, "capacity", 1, "number of slots to create")
	titleUpdateCmd.Flags().StringVar(&titleName, "name", "", "new title name")
	titleUpdateCmd.Flags().IntVar(&newCapacity, "capacity", 0, "new slot capacity")
	titleSlotsCmd.Flags().StringVar(&titleStatus, "status", "", "comma-separated states: unassigned, assigned, active, closed")
	titleAddSlotsCmd.Flags().IntVar(&titleCount, "count", 1, "number of slots to append")
	titleAddSlotsCmd.Flags().StringVar(&titleNote, "note", "", "note stored on each new slot")

	titleCmd.AddCommand(titleCreateCmd, titleListCmd, titleGetCmd, titleUpdateCmd,
		titleStatsCmd, titleUnitsCmd, titleSlotsCmd, titleAddSlotsCmd)
	rootCmd.AddCommand(titleCmd)
}
