// Package memledger is an in-memory domain.Ledger used by paper mode and
// tests. Swaps fill at their quoted output unless a fill function says
// otherwise; transfers move balances between owners.
package memledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// FillFunc returns the realized output of a swap step.
type FillFunc func(step domain.SwapStep) (uint64, error)

// Ledger implements domain.Ledger over balance maps.
type Ledger struct {
	mu        sync.Mutex
	authority string
	programID solana.PublicKey
	native    map[string]uint64
	tokens    map[string]uint64
	accounts  map[string]bool
	executed  map[string]domain.Execution
	submits   int
	fill      FillFunc
	failNext  int
	log       [][]domain.Instruction
}

// New creates an empty ledger. programID seeds DeriveAddress; a zero key
// uses the system program.
func New(authority string, programID solana.PublicKey) *Ledger {
	if programID.IsZero() {
		programID = solana.SystemProgramID
	}
	return &Ledger{
		authority: authority,
		programID: programID,
		native:    make(map[string]uint64),
		tokens:    make(map[string]uint64),
		accounts:  make(map[string]bool),
		executed:  make(map[string]domain.Execution),
	}
}

// SetTokenBalance overwrites owner's balance of mint.
func (l *Ledger) SetTokenBalance(owner, mint string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[domain.BalanceKey(owner, mint)] = amount
	l.accounts[domain.BalanceKey(owner, mint)] = true
}

// SetNativeBalance overwrites an account's native balance.
func (l *Ledger) SetNativeBalance(account string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native[account] = amount
}

// SetFill replaces the swap fill function. Nil restores quoted fills.
func (l *Ledger) SetFill(f FillFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fill = f
}

// FailNext makes the next n new submissions fail without side effects.
func (l *Ledger) FailNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = n
}

// Submissions reports how many distinct keys were applied.
func (l *Ledger) Submissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submits
}

// Instructions returns the instruction batches applied so far, in order.
func (l *Ledger) Instructions() [][]domain.Instruction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]domain.Instruction(nil), l.log...)
}

// NativeBalance returns an account's native balance.
func (l *Ledger) NativeBalance(_ context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.native[account], nil
}

// TokenBalance returns owner's balance of mint, zero when absent.
func (l *Ledger) TokenBalance(_ context.Context, owner, mint string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens[domain.BalanceKey(owner, mint)], nil
}

// Authority returns the signing address.
func (l *Ledger) Authority() string {
	return l.authority
}

// DeriveAddress finds the program address for seeds, as the chain would.
func (l *Ledger) DeriveAddress(seeds ...[]byte) (string, error) {
	addr, _, err := solana.FindProgramAddress(seeds, l.programID)
	if err != nil {
		return "", fmt.Errorf("memledger: derive address: %w", err)
	}
	return addr.String(), nil
}

// Submit applies instructions atomically. A key seen before returns the
// stored execution without touching balances.
func (l *Ledger) Submit(_ context.Context, key string, instructions []domain.Instruction) (domain.Execution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if exec, ok := l.executed[key]; ok {
		return exec, nil
	}
	if l.failNext > 0 {
		l.failNext--
		return domain.Execution{}, fmt.Errorf("memledger: submit %s: %w", key, domain.ErrExecutionFailed)
	}

	next := maps.Clone(l.tokens)
	accounts := maps.Clone(l.accounts)
	deltas := make(map[string]int64)

	move := func(owner, mint string, delta int64) error {
		k := domain.BalanceKey(owner, mint)
		bal := next[k]
		if delta < 0 && bal < uint64(-delta) {
			return fmt.Errorf("insufficient %s balance for %s: have %d, need %d", mint, owner, bal, -delta)
		}
		next[k] = uint64(int64(bal) + delta)
		deltas[k] += delta
		return nil
	}

	for _, ix := range instructions {
		var err error
		switch in := ix.(type) {
		case domain.TokenTransfer:
			accounts[domain.BalanceKey(in.To, in.Mint)] = true
			if err = move(in.From, in.Mint, -int64(in.Amount)); err == nil {
				err = move(in.To, in.Mint, int64(in.Amount))
			}
		case domain.SwapStep:
			out := in.OutAmount
			if l.fill != nil {
				out, err = l.fill(in)
				if err != nil {
					break
				}
			}
			if out < in.MinOutAmount {
				err = fmt.Errorf("slippage: out %d below minimum %d", out, in.MinOutAmount)
				break
			}
			if err = move(in.Owner, in.InputMint, -int64(in.InAmount)); err == nil {
				err = move(in.Owner, in.OutputMint, int64(out))
			}
		case domain.EnsureTokenAccount:
			accounts[domain.BalanceKey(in.Owner, in.Mint)] = true
		case domain.Memo, domain.ComputeBudgetStep, domain.SetupStep, domain.CleanupStep:
		default:
			err = fmt.Errorf("unsupported instruction %T", ix)
		}
		if err != nil {
			return domain.Execution{}, fmt.Errorf("memledger: submit %s: %w", key, errors.Join(domain.ErrExecutionFailed, err))
		}
	}

	l.tokens = next
	l.accounts = accounts
	l.submits++
	l.log = append(l.log, instructions)

	sum := sha256.Sum256([]byte(key))
	exec := domain.Execution{OperationID: "mem-" + hex.EncodeToString(sum[:8]), Deltas: deltas}
	l.executed[key] = exec
	return exec, nil
}

// Compile-time interface check.
var _ domain.Ledger = (*Ledger)(nil)
