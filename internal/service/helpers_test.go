package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/amount"
	memcache "github.com/alanyoungcy/fundsettle/internal/cache/memory"
	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/ledger/memledger"
	memstore "github.com/alanyoungcy/fundsettle/internal/store/memory"
)

const (
	testPool  = "pool-1"
	vault     = "vault-authority"
	operator  = "operator"
	treasury  = "treasury"
	refMint   = "REF"
	solMint   = "SOLX"
	bonkMint  = "BONK"
	shareMint = "SHARE"

	investorA = "investor-a"
	investorB = "investor-b"

	// 120 REF per SOLX, REF has 6 decimals.
	solPrice  = 120_000_000
	bonkPrice = 20
)

var errAggregatorDown = errors.New("aggregator down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAggregator quotes at fixed prices per whole unit of the input asset.
type fakeAggregator struct {
	mu           sync.Mutex
	prices       map[string]uint64
	decimals     map[string]uint8
	noRoute      map[string]bool
	multiHopOnly map[string]bool
	down         bool
	failBuild    bool
	quotes       int
}

func newFakeAggregator() *fakeAggregator {
	return &fakeAggregator{
		prices:       map[string]uint64{solMint: solPrice, bonkMint: bonkPrice},
		decimals:     map[string]uint8{solMint: 9, bonkMint: 5},
		noRoute:      make(map[string]bool),
		multiHopOnly: make(map[string]bool),
	}
}

func (a *fakeAggregator) setNoRoute(mint string, v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.noRoute[mint] = v
}

func (a *fakeAggregator) setDown(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.down = v
}

func (a *fakeAggregator) quoteCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quotes
}

func (a *fakeAggregator) Quote(_ context.Context, req domain.QuoteRequest) (domain.Route, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotes++

	if a.down {
		return domain.Route{}, errAggregatorDown
	}
	price, ok := a.prices[req.InputMint]
	if !ok || a.noRoute[req.InputMint] {
		return domain.Route{}, domain.ErrNoRoute
	}
	hops := 1
	if a.multiHopOnly[req.InputMint] {
		if req.DirectOnly {
			return domain.Route{}, domain.ErrNoRoute
		}
		hops = 2
	}
	out, err := amount.Value(req.Amount, price, a.decimals[req.InputMint])
	if err != nil {
		return domain.Route{}, err
	}
	minOut, err := amount.MulDiv(out, uint64(domain.BpsDenominator-req.SlippageBps), domain.BpsDenominator)
	if err != nil {
		return domain.Route{}, err
	}
	return domain.Route{
		InputMint:    req.InputMint,
		OutputMint:   req.OutputMint,
		InAmount:     req.Amount,
		OutAmount:    out,
		MinOutAmount: minOut,
		SlippageBps:  req.SlippageBps,
		Hops:         hops,
		Raw:          []byte(`{}`),
	}, nil
}

func (a *fakeAggregator) BuildInstructions(_ context.Context, route domain.Route, owner string) ([]domain.Instruction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failBuild {
		return nil, errAggregatorDown
	}
	return []domain.Instruction{
		domain.ComputeBudgetStep{},
		domain.SwapStep{
			Owner:        owner,
			InputMint:    route.InputMint,
			OutputMint:   route.OutputMint,
			InAmount:     route.InAmount,
			OutAmount:    route.OutAmount,
			MinOutAmount: route.MinOutAmount,
		},
	}, nil
}

// recordingNotifier captures notifications by event type.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

// testEnv wires every settlement service over in-memory stores, caches and
// ledger.
type testEnv struct {
	db       *memstore.DB
	ledger   *memledger.Ledger
	agg      *fakeAggregator
	prices   *memcache.PriceCache
	docs     *memcache.DocumentStore
	locks    *memcache.LockManager
	bus      *memcache.SignalBus
	notifier *recordingNotifier

	oracle      *PriceOracle
	nav         *NAVEstimator
	settlements *SettlementLedger
	withdrawals *WithdrawalService
	batcher     *LiquidationBatcher
	deposits    *DepositService
}

func testPoolConfig() domain.Pool {
	return domain.Pool{
		ID:                testPool,
		Name:              "Test Pool",
		Operator:          operator,
		Treasury:          treasury,
		Vault:             vault,
		ReferenceMint:     refMint,
		ReferenceDecimals: 6,
		ShareMint:         shareMint,
		PerformanceFeeBps: 2000,
		PlatformFeeBps:    100,
		OperatorSplitBps:  8000,
		DustThreshold:     10_000,
		Assets: []domain.PoolAsset{
			{Mint: solMint, Symbol: "SOLX", Decimals: 9},
			{Mint: bonkMint, Symbol: "BONK", Decimals: 5},
			{Mint: shareMint, Symbol: "SHARE", Decimals: 6},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()

	e := &testEnv{
		db:       memstore.New(),
		ledger:   memledger.New(vault, solana.PublicKey{}),
		agg:      newFakeAggregator(),
		prices:   memcache.NewPriceCache(),
		docs:     memcache.NewDocumentStore(),
		locks:    memcache.NewLockManager(),
		bus:      memcache.NewSignalBus(),
		notifier: &recordingNotifier{},
	}
	require.NoError(t, e.db.Pools().Create(t.Context(), testPoolConfig()))

	e.oracle = NewPriceOracle(e.prices, e.agg, PriceOracleConfig{SlippageBps: 50}, logger)
	e.nav = NewNAVEstimator(e.db.Pools(), e.ledger, e.oracle, e.docs, e.bus, 0, logger)
	e.settlements = NewSettlementLedger(e.db.Receipts(), e.bus, e.db.Audit(), e.notifier, logger)
	e.withdrawals = NewWithdrawalService(WithdrawalDeps{
		Pools:       e.db.Pools(),
		Positions:   e.db.Positions(),
		Withdrawals: e.db.Withdrawals(),
		Ledger:      e.ledger,
		Aggregator:  e.agg,
		Oracle:      e.oracle,
		NAV:         e.nav,
		Settlements: e.settlements,
		Locks:       e.locks,
		Bus:         e.bus,
		Audit:       e.db.Audit(),
		Notifier:    e.notifier,
	}, WithdrawalConfig{}, logger)
	e.batcher = NewLiquidationBatcher(e.db.Withdrawals(), e.db.Pools(), e.withdrawals, 2, logger)
	e.deposits = NewDepositService(e.db.Deposits(), e.db.Pools(), e.nav, e.bus, e.db.Audit(), logger)
	return e
}

func (e *testEnv) balance(t *testing.T, owner, mint string) uint64 {
	t.Helper()
	bal, err := e.ledger.TokenBalance(t.Context(), owner, mint)
	require.NoError(t, err)
	return bal
}

func (e *testEnv) credit(t *testing.T, owner, mint string, amt uint64) {
	t.Helper()
	e.ledger.SetTokenBalance(owner, mint, e.balance(t, owner, mint)+amt)
}

// fund lands amt of the reference asset in the vault and deposits it for
// investor.
func (e *testEnv) fund(t *testing.T, investor string, amt uint64, ref string) domain.DepositRecord {
	t.Helper()
	e.credit(t, vault, refMint, amt)
	rec, err := e.deposits.Deposit(t.Context(), testPool, investor, amt, ref)
	require.NoError(t, err)
	return rec
}

func (e *testEnv) pool(t *testing.T) domain.Pool {
	t.Helper()
	p, err := e.db.Pools().GetByID(t.Context(), testPool)
	require.NoError(t, err)
	return p
}

func (e *testEnv) position(t *testing.T, investor string) domain.Position {
	t.Helper()
	p, err := e.db.Positions().Get(t.Context(), testPool, investor)
	require.NoError(t, err)
	return p
}

func (e *testEnv) request(t *testing.T, id string) domain.WithdrawalRequest {
	t.Helper()
	r, err := e.db.Withdrawals().GetByID(t.Context(), id)
	require.NoError(t, err)
	return r
}
