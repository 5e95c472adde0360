// cmd/hdlend/unit.go
package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hdlend/internal/inventory"
)

var unitCmd = &cobra.Command{
	Use:   "unit",
	Short: "Manage hard-disk units on a remote server",
}

var (
	unitTag       string
	unitReady     string
	unitAvailable string
)

var unitRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a unit, optionally tagged",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		unit, err := remote().RegisterUnit(cmd.Context(), unitTag)
		if err != nil {
			return err
		}
		return printJSON(cmd, unit)
	},
}

var unitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List units",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter inventory.UnitFilter
		var err error
		if filter.Ready, err = optionalBool("ready", unitReady); err != nil {
			return err
		}
		if filter.Available, err = optionalBool("available", unitAvailable); err != nil {
			return err
		}
		units, err := remote().ListUnits(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printJSON(cmd, units)
	},
}

var unitFindCmd = &cobra.Command{
	Use:   "find TAG",
	Short: "Look a unit up by tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unit, err := remote().FindUnitByTag(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, unit)
	},
}

var unitTagCmd = &cobra.Command{
	Use:   "tag UNIT_ID TAG",
	Short: "Attach or replace a unit's tag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "unit")
		if err != nil {
			return err
		}
		unit, err := remote().AttachTag(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, unit)
	},
}

var unitStatusCmd = &cobra.Command{
	Use:   "status UNIT_ID",
	Short: "Show a unit's lending position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "unit")
		if err != nil {
			return err
		}
		status, err := remote().UnitStatus(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, status)
	},
}

var unitDeleteCmd = &cobra.Command{
	Use:   "delete UNIT_ID",
	Short: "Delete a unit that is not on loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "unit")
		if err != nil {
			return err
		}
		if err := remote().DeleteUnit(cmd.Context(), id); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "✓ deleted unit %s\n", id)
		return err
	},
}

// unitAction builds a command that applies one unit operation by ID.
func unitAction(use, short string, op func(inventory.Service, context.Context, uuid.UUID) (*inventory.Unit, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " UNIT_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "unit")
			if err != nil {
				return err
			}
			unit, err := op(remote(), cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, unit)
		},
	}
}

func optionalBool(name, raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("--%s must be true or false", name)
	}
	return &v, nil
}

func init() {
	unitRegisterCmd.Flags().StringVar(&unitTag, "tag", "", "hexadecimal tag, 8 to 24 characters")
	unitListCmd.Flags().StringVar(&unitReady, "ready", "", "filter by ready flag (true or false)")
	unitListCmd.Flags().StringVar(&unitAvailable, "available", "", "filter by available flag (true or false)")

	unitCmd.AddCommand(
		unitRegisterCmd,
		unitListCmd,
		unitFindCmd,
		unitTagCmd,
		unitStatusCmd,
		unitDeleteCmd,
		unitAction("get", "Show a unit", inventory.Service.GetUnit),
		unitAction("certify", "Mark a unit ready for lending", inventory.Service.Certify),
		unitAction("decertify", "Withdraw a unit's readiness", inventory.Service.Decertify),
	)
	rootCmd.AddCommand(unitCmd)
}
