// cmd/hdlend/admin.go
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"hdlend/internal/config"
	"hdlend/internal/consistency"
	"hdlend/internal/inventory"
	"hdlend/internal/inventory/postgres"
)

var (
	migrateDSN   string
	checkDirect  bool
	chaosWorkers int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("database-url") {
			cfg.DatabaseURL = migrateDSN
		}
		return postgres.Migrate(cfg.DatabaseURL, appLogger)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the lending invariants across all records",
	Long: `Verify reads every title, unit, and slot and evaluates the consistency
probes. It exits non-zero when any probe is violated. Run it against a quiet
system: the three listings are not read atomically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		checker, done, err := newChecker(cmd)
		if err != nil {
			return err
		}
		defer done()

		report, err := checker.Verify(cmd.Context())
		if err != nil {
			return err
		}
		if err := printJSON(cmd, report); err != nil {
			return err
		}
		if !report.Healthy() {
			return fmt.Errorf("%d consistency probe(s) violated", len(report.Violations))
		}
		return nil
	},
}

var chaosCmd = &cobra.Command{
	Use:   "chaos",
	Short: "Run concurrent race experiments against the engine",
	Long: `Chaos creates throwaway titles and units and races concurrent assign,
start, and slot-append calls against them, then re-checks the consistency
probes. Do not point it at production data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		checker, done, err := newChecker(cmd)
		if err != nil {
			return err
		}
		defer done()

		var failed int
		for _, exp := range checker.Experiments(chaosWorkers) {
			result, err := checker.RunExperiment(cmd.Context(), exp)
			if err != nil {
				if errors.Is(err, consistency.ErrSteadyState) {
					consistency.PrintResult(cmd.OutOrStdout(), result)
				}
				return err
			}
			consistency.PrintResult(cmd.OutOrStdout(), result)
			if !result.HypothesisHeld {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d experiment(s) violated their hypothesis", failed)
		}
		return nil
	},
}

// newChecker targets the configured server, or the store directly with
// --direct.
func newChecker(cmd *cobra.Command) (*consistency.Checker, func(), error) {
	var (
		svc  inventory.Service
		done = func() {}
	)
	if checkDirect {
		var err error
		svc, done, err = openLocal(cmd.Context())
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store == config.StoreMemory {
			appLogger.Warn("checking an empty in-memory store")
		}
	} else {
		svc = remote()
	}
	return consistency.NewChecker(svc, cfg.Policy, appLogger), done, nil
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDSN, "database-url", "", "Postgres connection string (default $DATABASE_URL)")

	for _, c := range []*cobra.Command{verifyCmd, chaosCmd} {
		c.Flags().BoolVar(&checkDirect, "direct", false, "open the configured store instead of calling the server")
	}
	chaosCmd.Flags().IntVar(&chaosWorkers, "workers", 8, "concurrent callers per experiment")

	rootCmd.AddCommand(migrateCmd, verifyCmd, chaosCmd)
}
