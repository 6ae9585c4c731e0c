package domain

import "time"

// BpsDenominator is the basis-point scale used by fractions and fee rates.
const BpsDenominator = 10_000

// PoolAsset is one asset the pool may hold in a vault sub-account.
type PoolAsset struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Pool is a shared investment vault issuing fungible shares.
type Pool struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Operator          string      `json:"operator"`
	Treasury          string      `json:"treasury"`
	Vault             string      `json:"vault"`
	ReferenceMint     string      `json:"reference_mint"`
	ReferenceDecimals uint8       `json:"reference_decimals"`
	ShareMint         string      `json:"share_mint"`
	TotalShares       uint64      `json:"total_shares"`
	TotalAssets       uint64      `json:"total_assets"`
	ManagementFeeBps  uint32      `json:"management_fee_bps"`
	PerformanceFeeBps uint32      `json:"performance_fee_bps"`
	PlatformFeeBps    uint32      `json:"platform_fee_bps"`
	OperatorSplitBps  uint32      `json:"operator_split_bps"`
	DustThreshold     uint64      `json:"dust_threshold"`
	Assets            []PoolAsset `json:"assets"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// IsReference reports whether mint is the pool's reference asset.
func (p Pool) IsReference(mint string) bool {
	return mint == p.ReferenceMint
}

// Asset looks up a registered asset. The reference asset is always known.
func (p Pool) Asset(mint string) (PoolAsset, bool) {
	if mint == p.ReferenceMint {
		return PoolAsset{Mint: mint, Symbol: "REF", Decimals: p.ReferenceDecimals}, true
	}
	for _, a := range p.Assets {
		if a.Mint == mint {
			return a, true
		}
	}
	return PoolAsset{}, false
}

// Liquidatable returns the held assets eligible for liquidation: every
// registered asset except the share mint, with the reference asset last.
func (p Pool) Liquidatable() []PoolAsset {
	out := make([]PoolAsset, 0, len(p.Assets)+1)
	for _, a := range p.Assets {
		if a.Mint == p.ShareMint || a.Mint == p.ReferenceMint {
			continue
		}
		out = append(out, a)
	}
	ref, _ := p.Asset(p.ReferenceMint)
	return append(out, ref)
}

// Position is an investor's holding in a pool. Positions are never deleted.
type Position struct {
	PoolID          string    `json:"pool_id"`
	InvestorID      string    `json:"investor_id"`
	Shares          uint64    `json:"shares"`
	TotalDeposited  uint64    `json:"total_deposited"`
	TotalWithdrawn  uint64    `json:"total_withdrawn"`
	CostBasis       uint64    `json:"cost_basis"`
	FirstActivityAt time.Time `json:"first_activity_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// DepositIntent describes a deposit before shares are minted.
type DepositIntent struct {
	PoolID     string
	InvestorID string
	Amount     uint64
	NAVBefore  uint64
	FundingRef string
}

// DepositRecord is the persisted outcome of a deposit.
type DepositRecord struct {
	ID           string    `json:"id"`
	PoolID       string    `json:"pool_id"`
	InvestorID   string    `json:"investor_id"`
	Amount       uint64    `json:"amount"`
	SharesMinted uint64    `json:"shares_minted"`
	NAVBefore    uint64    `json:"nav_before"`
	FundingRef   string    `json:"funding_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AssetValue is one row of a NAV breakdown.
type AssetValue struct {
	Mint      string `json:"mint"`
	Balance   uint64 `json:"balance"`
	UnitPrice uint64 `json:"unit_price"`
	Value     uint64 `json:"value"`
	Priced    bool   `json:"priced"`
}

// NAV is a point-in-time valuation of a pool in reference base units.
type NAV struct {
	PoolID    string       `json:"pool_id"`
	Total     uint64       `json:"total"`
	Assets    []AssetValue `json:"assets"`
	Degraded  bool         `json:"degraded"`
	AsOf      time.Time    `json:"as_of"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Holdings maps asset mint to the pool's balance of that asset.
type Holdings map[string]uint64
