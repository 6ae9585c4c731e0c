package config

import (
	"fmt"

	"github.com/alanyoungcy/fundsettle/internal/amount"
	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// PoolConfig seeds a pool at startup. Zero fee fields fall back to the
// settlement defaults.
type PoolConfig struct {
	ID                string        `toml:"id"`
	Name              string        `toml:"name"`
	Operator          string        `toml:"operator"`
	Treasury          string        `toml:"treasury"`
	Vault             string        `toml:"vault"`
	ReferenceMint     string        `toml:"reference_mint"`
	ReferenceDecimals int           `toml:"reference_decimals"`
	ShareMint         string        `toml:"share_mint"`
	ManagementFeeBps  int           `toml:"management_fee_bps"`
	PerformanceFeeBps int           `toml:"performance_fee_bps"`
	PlatformFeeBps    int           `toml:"platform_fee_bps"`
	OperatorSplitBps  int           `toml:"operator_split_bps"`
	DustThreshold     string        `toml:"dust_threshold"`
	Assets            []AssetConfig `toml:"assets"`
}

// AssetConfig registers one asset a pool may hold.
type AssetConfig struct {
	Mint     string `toml:"mint"`
	Symbol   string `toml:"symbol"`
	Decimals int    `toml:"decimals"`
}

func (p PoolConfig) validate() []string {
	var errs []string
	if p.ID == "" {
		errs = append(errs, "id must not be empty")
	}
	if p.Vault == "" {
		errs = append(errs, "vault must not be empty")
	}
	if p.Operator == "" || p.Treasury == "" {
		errs = append(errs, "operator and treasury must be set")
	}
	if p.ReferenceMint == "" {
		errs = append(errs, "reference_mint must not be empty")
	}
	if p.ReferenceDecimals < 0 || p.ReferenceDecimals > 18 {
		errs = append(errs, fmt.Sprintf("reference_decimals must be 0-18, got %d", p.ReferenceDecimals))
	}
	if p.ShareMint != "" && p.ShareMint == p.ReferenceMint {
		errs = append(errs, "share_mint must differ from reference_mint")
	}
	for _, v := range []int{p.ManagementFeeBps, p.PerformanceFeeBps, p.PlatformFeeBps, p.OperatorSplitBps} {
		if !validBps(v) {
			errs = append(errs, fmt.Sprintf("fee bps must be 0-10000, got %d", v))
		}
	}
	if p.DustThreshold != "" {
		if _, err := amount.Parse(p.DustThreshold, uint8(p.ReferenceDecimals)); err != nil {
			errs = append(errs, fmt.Sprintf("dust_threshold: %v", err))
		}
	}
	for _, a := range p.Assets {
		if a.Mint == "" {
			errs = append(errs, "asset mint must not be empty")
		}
		if a.Decimals < 0 || a.Decimals > 18 {
			errs = append(errs, fmt.Sprintf("asset %s decimals must be 0-18", a.Mint))
		}
	}
	return errs
}

// ToDomain converts the seed into a pool, applying settlement defaults.
func (p PoolConfig) ToDomain(defaults SettlementConfig) (domain.Pool, error) {
	dustText := p.DustThreshold
	if dustText == "" {
		dustText = defaults.DustThreshold
	}
	dust, err := amount.Parse(dustText, uint8(p.ReferenceDecimals))
	if err != nil {
		return domain.Pool{}, fmt.Errorf("config: pool %s dust threshold: %w", p.ID, err)
	}

	platform := p.PlatformFeeBps
	if platform == 0 {
		platform = defaults.PlatformFeeBps
	}
	split := p.OperatorSplitBps
	if split == 0 {
		split = defaults.OperatorSplitBps
	}

	assets := make([]domain.PoolAsset, 0, len(p.Assets))
	for _, a := range p.Assets {
		assets = append(assets, domain.PoolAsset{
			Mint:     a.Mint,
			Symbol:   a.Symbol,
			Decimals: uint8(a.Decimals),
		})
	}

	return domain.Pool{
		ID:                p.ID,
		Name:              p.Name,
		Operator:          p.Operator,
		Treasury:          p.Treasury,
		Vault:             p.Vault,
		ReferenceMint:     p.ReferenceMint,
		ReferenceDecimals: uint8(p.ReferenceDecimals),
		ShareMint:         p.ShareMint,
		ManagementFeeBps:  uint32(p.ManagementFeeBps),
		PerformanceFeeBps: uint32(p.PerformanceFeeBps),
		PlatformFeeBps:    uint32(platform),
		OperatorSplitBps:  uint32(split),
		DustThreshold:     dust,
		Assets:            assets,
	}, nil
}
