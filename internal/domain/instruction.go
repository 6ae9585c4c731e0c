package domain

// Instruction is a closed set of ledger operations. Only the variants in this
// file implement it; consumers switch on the concrete type.
type Instruction interface {
	isInstruction()
}

// AccountRef is an account reference within a program call.
type AccountRef struct {
	Address  string `json:"address"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// ProgramCall is a raw invocation of an on-chain program.
type ProgramCall struct {
	ProgramID string       `json:"program_id"`
	Accounts  []AccountRef `json:"accounts"`
	Data      []byte       `json:"data"`
}

// ComputeBudgetStep sets compute limits or priority fees.
type ComputeBudgetStep struct {
	ProgramCall
}

// SetupStep prepares accounts a swap needs (e.g. associated accounts).
type SetupStep struct {
	ProgramCall
}

// SwapStep executes a routed swap. The quote fields describe the expected
// effect and let non-chain ledgers simulate it.
type SwapStep struct {
	ProgramCall
	Owner        string   `json:"owner"`
	InputMint    string   `json:"input_mint"`
	OutputMint   string   `json:"output_mint"`
	InAmount     uint64   `json:"in_amount"`
	OutAmount    uint64   `json:"out_amount"`
	MinOutAmount uint64   `json:"min_out_amount"`
	LookupTables []string `json:"lookup_tables,omitempty"`
}

// CleanupStep closes temporary accounts after a swap.
type CleanupStep struct {
	ProgramCall
}

// EnsureTokenAccount creates the owner's associated account for mint if it
// does not exist yet.
type EnsureTokenAccount struct {
	Payer string `json:"payer"`
	Owner string `json:"owner"`
	Mint  string `json:"mint"`
}

// TokenTransfer moves amount of mint between two owners' accounts.
type TokenTransfer struct {
	Mint     string `json:"mint"`
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   uint64 `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// Memo tags an operation with a human readable reference.
type Memo struct {
	Text string `json:"text"`
}

func (ComputeBudgetStep) isInstruction()  {}
func (SetupStep) isInstruction()          {}
func (SwapStep) isInstruction()           {}
func (CleanupStep) isInstruction()        {}
func (EnsureTokenAccount) isInstruction() {}
func (TokenTransfer) isInstruction()      {}
func (Memo) isInstruction()               {}
