package domain

import "time"

// WithdrawalStatus is the lifecycle state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalInitiated       WithdrawalStatus = "initiated"
	WithdrawalLiquidating     WithdrawalStatus = "liquidating"
	WithdrawalReadyToFinalize WithdrawalStatus = "ready_to_finalize"
	WithdrawalCompleted       WithdrawalStatus = "completed"
	WithdrawalFailed          WithdrawalStatus = "failed"
)

// ActiveStatuses are the non-terminal withdrawal states.
var ActiveStatuses = []WithdrawalStatus{
	WithdrawalInitiated,
	WithdrawalLiquidating,
	WithdrawalReadyToFinalize,
}

// Terminal reports whether no further transition is possible.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed
}

// CanLiquidate reports whether assets may still be liquidated in this state.
func (s WithdrawalStatus) CanLiquidate() bool {
	return s == WithdrawalInitiated || s == WithdrawalLiquidating
}

// WithdrawalRequest is the per-(pool, investor) withdrawal record. The
// fraction and snapshots are frozen at initiation.
type WithdrawalRequest struct {
	ID                     string           `json:"id"`
	Address                string           `json:"address"`
	PoolID                 string           `json:"pool_id"`
	InvestorID             string           `json:"investor_id"`
	SharesToWithdraw       uint64           `json:"shares_to_withdraw"`
	FractionBps            uint32           `json:"fraction_bps"`
	TotalSharesSnapshot    uint64           `json:"total_shares_snapshot"`
	PositionSharesSnapshot uint64           `json:"position_shares_snapshot"`
	CostBasisSnapshot      uint64           `json:"cost_basis_snapshot"`
	BalanceSnapshot        Holdings         `json:"balance_snapshot"`
	Status                 WithdrawalStatus `json:"status"`
	SolAccumulated         uint64           `json:"sol_accumulated"`
	Attempts               int              `json:"attempts"`
	Settlement             *Settlement      `json:"settlement,omitempty"`
	PayoutRef              string           `json:"payout_ref,omitempty"`
	ReceiptID              string           `json:"receipt_id,omitempty"`
	FailureReason          string           `json:"failure_reason,omitempty"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// AssetProgress tracks how much of one asset a request has liquidated.
type AssetProgress struct {
	RequestID        string    `json:"request_id"`
	Mint             string    `json:"mint"`
	BalanceObserved  uint64    `json:"balance_observed"`
	AmountLiquidated uint64    `json:"amount_liquidated"`
	AmountOut        uint64    `json:"amount_out"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RouteKind describes how a liquidation leg was executed.
type RouteKind string

const (
	RouteDirect    RouteKind = "direct"
	RouteMultiHop  RouteKind = "multi_hop"
	RouteReference RouteKind = "reference"
)

// LiquidationStep is one executed liquidation leg.
type LiquidationStep struct {
	RequestID   string    `json:"request_id"`
	Mint        string    `json:"mint"`
	AmountIn    uint64    `json:"amount_in"`
	AmountOut   uint64    `json:"amount_out"`
	Route       RouteKind `json:"route"`
	OperationID string    `json:"operation_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// LiquidationOutcome classifies the result of one liquidateAsset call.
type LiquidationOutcome string

const (
	OutcomeSettled           LiquidationOutcome = "settled"
	OutcomeAlreadyLiquidated LiquidationOutcome = "already_liquidated"
	OutcomeDustSkipped       LiquidationOutcome = "dust_skipped"
	OutcomeNoRoute           LiquidationOutcome = "no_route"
	OutcomeExecutionFailed   LiquidationOutcome = "execution_failed"
)

// Done reports whether the asset needs no further liquidation attempts.
func (o LiquidationOutcome) Done() bool {
	switch o {
	case OutcomeSettled, OutcomeAlreadyLiquidated, OutcomeDustSkipped:
		return true
	}
	return false
}

// LiquidationResult is the outcome of liquidating a single asset.
type LiquidationResult struct {
	Mint      string             `json:"mint"`
	Outcome   LiquidationOutcome `json:"outcome"`
	AmountIn  uint64             `json:"amount_in"`
	AmountOut uint64             `json:"amount_out"`
	Detail    string             `json:"detail,omitempty"`
}

// Settlement is the fee decomposition committed before payout.
type Settlement struct {
	Gross          uint64 `json:"gross"`
	CostBasis      uint64 `json:"cost_basis"`
	PlatformFee    uint64 `json:"platform_fee"`
	Remainder      uint64 `json:"remainder"`
	PerformanceFee uint64 `json:"performance_fee"`
	OperatorShare  uint64 `json:"operator_share"`
	TreasuryShare  uint64 `json:"treasury_share"`
	Net            uint64 `json:"net"`
}

// TreasuryTotal is everything owed to the treasury.
func (s Settlement) TreasuryTotal() uint64 {
	return s.PlatformFee + s.TreasuryShare
}

// Completion carries the atomic burn-and-complete update for a request.
type Completion struct {
	RequestID         string
	PoolID            string
	InvestorID        string
	SharesBurned      uint64
	AssetsReleased    uint64
	NetPaid           uint64
	CostBasisReleased uint64
	FinalizeRef       string
	ReceiptID         string
	CompletedAt       time.Time
}

// Receipt is the immutable record of a completed withdrawal.
type Receipt struct {
	ID           string            `json:"id"`
	NaturalKey   string            `json:"natural_key"`
	RequestID    string            `json:"request_id"`
	PoolID       string            `json:"pool_id"`
	InvestorID   string            `json:"investor_id"`
	SharesBurned uint64            `json:"shares_burned"`
	FractionBps  uint32            `json:"fraction_bps"`
	Settlement   Settlement        `json:"settlement"`
	Liquidations []LiquidationStep `json:"liquidations"`
	FinalizeRef  string            `json:"finalize_ref"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ReceiptNaturalKey builds the idempotency key of a receipt.
func ReceiptNaturalKey(poolID, investorID, finalizeRef string) string {
	return poolID + ":" + investorID + ":" + finalizeRef
}
