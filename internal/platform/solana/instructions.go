package solana

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/memo"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// createIdempotent is the associated-token-account instruction that succeeds
// when the account already exists.
const createIdempotent byte = 1

// compiled is a domain instruction batch lowered to chain instructions.
type compiled struct {
	instructions []solanago.Instruction
	lookupTables []solanago.PublicKey
}

// compile lowers domain instructions for a transaction signed by authority.
func compile(authority solanago.PublicKey, in []domain.Instruction) (compiled, error) {
	var out compiled
	seenTables := make(map[solanago.PublicKey]bool)

	for i, ix := range in {
		var (
			lowered solanago.Instruction
			err     error
		)
		switch v := ix.(type) {
		case domain.ComputeBudgetStep:
			lowered, err = programCall(v.ProgramCall)
		case domain.SetupStep:
			lowered, err = programCall(v.ProgramCall)
		case domain.CleanupStep:
			lowered, err = programCall(v.ProgramCall)
		case domain.SwapStep:
			lowered, err = programCall(v.ProgramCall)
			for _, t := range v.LookupTables {
				pk, perr := solanago.PublicKeyFromBase58(t)
				if perr != nil {
					return compiled{}, fmt.Errorf("instruction %d: lookup table %q: %w", i, t, perr)
				}
				if !seenTables[pk] {
					seenTables[pk] = true
					out.lookupTables = append(out.lookupTables, pk)
				}
			}
		case domain.EnsureTokenAccount:
			lowered, err = ensureTokenAccount(v)
		case domain.TokenTransfer:
			lowered, err = tokenTransfer(v)
		case domain.Memo:
			lowered = memo.NewMemoInstruction([]byte(v.Text), authority).Build()
		default:
			err = fmt.Errorf("unsupported instruction %T", ix)
		}
		if err != nil {
			return compiled{}, fmt.Errorf("instruction %d: %w", i, err)
		}
		out.instructions = append(out.instructions, lowered)
	}
	return out, nil
}

func programCall(pc domain.ProgramCall) (solanago.Instruction, error) {
	programID, err := solanago.PublicKeyFromBase58(pc.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id %q: %w", pc.ProgramID, err)
	}
	metas := make(solanago.AccountMetaSlice, 0, len(pc.Accounts))
	for _, a := range pc.Accounts {
		pk, err := solanago.PublicKeyFromBase58(a.Address)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Address, err)
		}
		metas = append(metas, solanago.NewAccountMeta(pk, a.Writable, a.Signer))
	}
	return solanago.NewInstruction(programID, metas, pc.Data), nil
}

func ensureTokenAccount(v domain.EnsureTokenAccount) (solanago.Instruction, error) {
	payer, err := solanago.PublicKeyFromBase58(v.Payer)
	if err != nil {
		return nil, fmt.Errorf("payer %q: %w", v.Payer, err)
	}
	owner, mint, err := ownerAndMint(v.Owner, v.Mint)
	if err != nil {
		return nil, err
	}
	ata, _, err := solanago.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("associated account %s/%s: %w", v.Owner, v.Mint, err)
	}
	metas := solanago.AccountMetaSlice{
		solanago.NewAccountMeta(payer, true, true),
		solanago.NewAccountMeta(ata, true, false),
		solanago.NewAccountMeta(owner, false, false),
		solanago.NewAccountMeta(mint, false, false),
		solanago.NewAccountMeta(solanago.SystemProgramID, false, false),
		solanago.NewAccountMeta(solanago.TokenProgramID, false, false),
	}
	return solanago.NewInstruction(solanago.SPLAssociatedTokenAccountProgramID, metas, []byte{createIdempotent}), nil
}

func tokenTransfer(v domain.TokenTransfer) (solanago.Instruction, error) {
	if v.Amount == 0 {
		return nil, fmt.Errorf("transfer of zero %s", v.Mint)
	}
	from, mint, err := ownerAndMint(v.From, v.Mint)
	if err != nil {
		return nil, err
	}
	to, err := solanago.PublicKeyFromBase58(v.To)
	if err != nil {
		return nil, fmt.Errorf("recipient %q: %w", v.To, err)
	}
	src, _, err := solanago.FindAssociatedTokenAddress(from, mint)
	if err != nil {
		return nil, fmt.Errorf("source account: %w", err)
	}
	dst, _, err := solanago.FindAssociatedTokenAddress(to, mint)
	if err != nil {
		return nil, fmt.Errorf("destination account: %w", err)
	}
	built, err := token.NewTransferInstruction(v.Amount, src, dst, from, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	return built, nil
}

func ownerAndMint(owner, mint string) (solanago.PublicKey, solanago.PublicKey, error) {
	o, err := solanago.PublicKeyFromBase58(owner)
	if err != nil {
		return solanago.PublicKey{}, solanago.PublicKey{}, fmt.Errorf("owner %q: %w", owner, err)
	}
	m, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return solanago.PublicKey{}, solanago.PublicKey{}, fmt.Errorf("mint %q: %w", mint, err)
	}
	return o, m, nil
}
