package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundsettle/internal/config"
)

const (
	testPool  = "pool-1"
	testVault = "vault-1"
	refMint   = "REF"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func paperConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "paper"
	cfg.Pools = []config.PoolConfig{{
		ID:                testPool,
		Name:              "Test Pool",
		Operator:          "operator",
		Treasury:          "treasury",
		Vault:             testVault,
		ReferenceMint:     refMint,
		ReferenceDecimals: 6,
		ShareMint:         "SHARE",
		Assets:            []config.AssetConfig{{Mint: "SOLX", Symbol: "SOLX", Decimals: 9}},
	}}
	return &cfg
}

func newPaperApp(t *testing.T) (*App, *Dependencies) {
	t.Helper()
	cfg := paperConfig()
	a := New(cfg, testLogger())
	deps, cleanup, err := Wire(t.Context(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return a, deps
}

func TestWirePaperSeedsPools(t *testing.T) {
	a, deps := newPaperApp(t)

	require.NotNil(t, deps.PaperLedger)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Checks)

	pool, err := deps.Pools.GetByID(t.Context(), testPool)
	require.NoError(t, err)
	assert.Equal(t, testVault, pool.Vault)
	assert.Equal(t, uint32(100), pool.PlatformFeeBps, "settlement default applied")
	assert.Positive(t, pool.DustThreshold)

	// Seeding again keeps the stored pool.
	require.NoError(t, seedPools(t.Context(), deps.Pools, a.cfg, testLogger()))
}

func TestWireRejectsBadPool(t *testing.T) {
	cfg := paperConfig()
	cfg.Pools[0].DustThreshold = "not-a-number"

	_, _, err := Wire(t.Context(), cfg, testLogger())
	require.Error(t, err)
}

func TestPaperDepositCreditsVaultOnce(t *testing.T) {
	a, deps := newPaperApp(t)
	svc := a.buildServices(deps)
	ctx := t.Context()

	rec, err := svc.deposits.Deposit(ctx, testPool, "investor-a", 100_000_000, "wire-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), rec.SharesMinted)

	again, err := svc.deposits.Deposit(ctx, testPool, "investor-a", 100_000_000, "wire-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)

	bal, err := deps.PaperLedger.TokenBalance(ctx, testVault, refMint)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), bal)

	pool, err := deps.Pools.GetByID(ctx, testPool)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), pool.TotalShares)
}

func TestPaperDepositGeneratesFundingRef(t *testing.T) {
	a, deps := newPaperApp(t)
	svc := a.buildServices(deps)
	ctx := t.Context()

	first, err := svc.deposits.Deposit(ctx, testPool, "investor-a", 10_000_000, "")
	require.NoError(t, err)
	second, err := svc.deposits.Deposit(ctx, testPool, "investor-b", 10_000_000, "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.FundingRef, "paper-"))
	assert.NotEqual(t, first.ID, second.ID)
	// Equal deposits into an unchanged pool mint equal shares.
	assert.Equal(t, first.SharesMinted, second.SharesMinted)
}

func TestStartPipelineRegistersJobs(t *testing.T) {
	a, deps := newPaperApp(t)
	svc := a.buildServices(deps)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	g, gctx := errgroup.WithContext(ctx)

	jobs, err := a.startPipeline(gctx, g, deps, svc)
	require.NoError(t, err)
	assert.Equal(t, []string{"withdrawal_sweep", "nav_snapshot"}, jobs, "no archiver without blob storage")
	require.NoError(t, g.Wait())
}
