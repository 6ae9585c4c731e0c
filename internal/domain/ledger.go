package domain

import "context"

// BalanceKey identifies an (owner, mint) balance in execution deltas.
func BalanceKey(owner, mint string) string {
	return owner + "/" + mint
}

// Execution is the confirmed result of a submitted ledger operation.
type Execution struct {
	OperationID string           `json:"operation_id"`
	Deltas      map[string]int64 `json:"deltas,omitempty"`
}

// Delta returns the signed balance change for owner's mint account.
func (e Execution) Delta(owner, mint string) (int64, bool) {
	d, ok := e.Deltas[BalanceKey(owner, mint)]
	return d, ok
}

// Ledger is the external system holding pool balances.
type Ledger interface {
	// NativeBalance returns the native-currency balance of an account.
	NativeBalance(ctx context.Context, account string) (uint64, error)
	// TokenBalance returns owner's balance of mint, zero if the account is absent.
	TokenBalance(ctx context.Context, owner, mint string) (uint64, error)
	// Submit applies the instructions all-or-nothing. Repeated calls with
	// the same key return the first execution instead of re-applying.
	Submit(ctx context.Context, key string, instructions []Instruction) (Execution, error)
	// DeriveAddress deterministically derives an address from seeds.
	DeriveAddress(seeds ...[]byte) (string, error)
	// Authority is the address that signs pool operations.
	Authority() string
}

// QuoteRequest asks the aggregator for a swap route.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps uint32
	DirectOnly  bool
}

// Route is a quoted swap path.
type Route struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	MinOutAmount   uint64
	SlippageBps    uint32
	PriceImpactPct string
	Hops           int
	Raw            []byte
}

// Kind reports whether the route is a single hop.
func (r Route) Kind() RouteKind {
	if r.Hops <= 1 {
		return RouteDirect
	}
	return RouteMultiHop
}

// Aggregator quotes swaps and builds their instructions.
type Aggregator interface {
	// Quote returns ErrNoRoute when no path exists.
	Quote(ctx context.Context, req QuoteRequest) (Route, error)
	// BuildInstructions returns the instructions executing route for owner.
	BuildInstructions(ctx context.Context, route Route, owner string) ([]Instruction, error)
}
