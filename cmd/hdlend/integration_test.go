// cmd/hdlend/integration_test.go
package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"hdlend/internal/clients"
	"hdlend/internal/config"
	"hdlend/internal/consistency"
	"hdlend/internal/errs"
	"hdlend/internal/inventory"
)

// setupStack runs the full server over a PostgreSQL container and returns a
// client for it. Skipped unless HDLEND_INTEGRATION is set.
func setupStack(t *testing.T) *clients.InventoryClient {
	t.Helper()

	if os.Getenv("HDLEND_INTEGRATION") == "" {
		t.Skip("skipping integration test: HDLEND_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("hdlend"),
		tcpostgres.WithUsername("hdlend"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	_, err = run(t, "", "migrate", "--database-url", dsn)
	require.NoError(t, err)

	appLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg = &config.Config{
		Store:       config.StorePostgres,
		DatabaseURL: dsn,
		StoreTries:  5,
		Policy:      inventory.DefaultPolicy(),
	}
	svc, closeStore, err := openLocal(ctx)
	require.NoError(t, err)
	t.Cleanup(closeStore)

	server := httptest.NewServer(newRouter(svc))
	t.Cleanup(server.Close)
	return clients.NewInventoryClient(server.URL, clients.WithHTTPClient(server.Client()), clients.WithLogger(appLogger))
}

func TestLendingFlowOverPostgres(t *testing.T) {
	c := setupStack(t)
	ctx := context.Background()

	_, slots, err := c.CreateTitle(ctx, "Pride and Prejudice", 5)
	require.NoError(t, err)

	unit, err := c.RegisterUnit(ctx, "9780141439518")
	require.NoError(t, err)
	_, err = c.Certify(ctx, unit.ID)
	require.NoError(t, err)

	_, err = c.AssignUnit(ctx, slots[0].ID, unit.ID)
	require.NoError(t, err)
	tr, err := c.StartSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	assert.False(t, tr.Unit.Available)

	tr, err = c.CloseByTag(ctx, "9780141439518")
	require.NoError(t, err)
	assert.True(t, tr.Unit.Available)
	assert.False(t, tr.Unit.Ready)
	assert.Equal(t, 1, tr.Title.CompletedCount)
}

func TestConcurrentAssignPreventsDoubleBooking(t *testing.T) {
	c := setupStack(t)
	ctx := context.Background()

	_, slots, err := c.CreateTitle(ctx, "The Great Gatsby", 10)
	require.NoError(t, err)
	unit, err := c.RegisterUnit(ctx, "")
	require.NoError(t, err)
	_, err = c.Certify(ctx, unit.ID)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, slot := range slots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.AssignUnit(ctx, slot.ID, unit.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			assert.Contains(t, []errs.Code{errs.CodePrecondition, errs.CodeConflict}, errs.CodeOf(err), err.Error())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestExperimentsHoldOverPostgres(t *testing.T) {
	c := setupStack(t)
	checker := consistency.NewChecker(c, inventory.DefaultPolicy(), appLogger)

	for _, exp := range checker.Experiments(10) {
		result, err := checker.RunExperiment(context.Background(), exp)
		require.NoError(t, err, exp.Name)
		assert.True(t, result.HypothesisHeld, "%s: %v %v", exp.Name, result.Failed, result.Violations)
	}
}
