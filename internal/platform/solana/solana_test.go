package solana

import (
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundsettle/internal/domain"
)

func newKey(t *testing.T) solanago.PublicKey {
	t.Helper()
	k, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return k.PublicKey()
}

func TestCompile_EnsureTokenAccount(t *testing.T) {
	payer, owner, mint := newKey(t), newKey(t), newKey(t)

	c, err := compile(payer, []domain.Instruction{
		domain.EnsureTokenAccount{Payer: payer.String(), Owner: owner.String(), Mint: mint.String()},
	})
	require.NoError(t, err)
	require.Len(t, c.instructions, 1)

	ix := c.instructions[0]
	assert.Equal(t, solanago.SPLAssociatedTokenAccountProgramID, ix.ProgramID())
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{createIdempotent}, data)

	ata, _, err := solanago.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	accounts := ix.Accounts()
	require.Len(t, accounts, 6)
	assert.True(t, accounts[0].IsSigner)
	assert.Equal(t, ata, accounts[1].PublicKey)
	assert.True(t, accounts[1].IsWritable)
	assert.Equal(t, owner, accounts[2].PublicKey)
	assert.Equal(t, mint, accounts[3].PublicKey)
}

func TestCompile_TokenTransferUsesAssociatedAccounts(t *testing.T) {
	authority, to, mint := newKey(t), newKey(t), newKey(t)

	c, err := compile(authority, []domain.Instruction{
		domain.TokenTransfer{Mint: mint.String(), From: authority.String(), To: to.String(), Amount: 42, Decimals: 9},
	})
	require.NoError(t, err)
	require.Len(t, c.instructions, 1)

	ix := c.instructions[0]
	assert.Equal(t, solanago.TokenProgramID, ix.ProgramID())

	src, _, _ := solanago.FindAssociatedTokenAddress(authority, mint)
	dst, _, _ := solanago.FindAssociatedTokenAddress(to, mint)
	accounts := ix.Accounts()
	require.Len(t, accounts, 3)
	assert.Equal(t, src, accounts[0].PublicKey)
	assert.Equal(t, dst, accounts[1].PublicKey)
	assert.Equal(t, authority, accounts[2].PublicKey)
	assert.True(t, accounts[2].IsSigner)
}

func TestCompile_RejectsZeroTransfer(t *testing.T) {
	authority, mint := newKey(t), newKey(t)
	_, err := compile(authority, []domain.Instruction{
		domain.TokenTransfer{Mint: mint.String(), From: authority.String(), To: authority.String()},
	})
	assert.Error(t, err)
}

func TestCompile_SwapCollectsLookupTablesOnce(t *testing.T) {
	authority, program, acct, table := newKey(t), newKey(t), newKey(t), newKey(t)
	call := domain.ProgramCall{
		ProgramID: program.String(),
		Accounts:  []domain.AccountRef{{Address: acct.String(), Writable: true}},
		Data:      []byte{9, 9},
	}

	c, err := compile(authority, []domain.Instruction{
		domain.ComputeBudgetStep{ProgramCall: call},
		domain.SwapStep{ProgramCall: call, LookupTables: []string{table.String(), table.String()}},
		domain.Memo{Text: "withdrawal req-1"},
	})
	require.NoError(t, err)
	require.Len(t, c.instructions, 3)
	assert.Equal(t, []solanago.PublicKey{table}, c.lookupTables)

	data, err := c.instructions[1].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, data)
	assert.True(t, c.instructions[1].Accounts()[0].IsWritable)
	assert.Equal(t, solanago.MemoProgramID, c.instructions[2].ProgramID())
}

func TestCompile_InvalidAddress(t *testing.T) {
	authority := newKey(t)
	_, err := compile(authority, []domain.Instruction{
		domain.SetupStep{ProgramCall: domain.ProgramCall{ProgramID: "not-a-key"}},
	})
	assert.ErrorContains(t, err, "instruction 0")
}

func TestTokenDeltas(t *testing.T) {
	vault, investor := newKey(t), newKey(t)
	ref, other := newKey(t), newKey(t)

	bal := func(owner, mint solanago.PublicKey, amount string) rpc.TokenBalance {
		return rpc.TokenBalance{Owner: owner.ToPointer(), Mint: mint, UiTokenAmount: &rpc.UiTokenAmount{Amount: amount}}
	}
	pre := []rpc.TokenBalance{
		bal(vault, ref, "1000"),
		bal(vault, other, "500"),
	}
	post := []rpc.TokenBalance{
		bal(vault, ref, "1700"),
		bal(investor, ref, "0"),
	}

	deltas := tokenDeltas(pre, post)
	assert.Equal(t, int64(700), deltas[domain.BalanceKey(vault.String(), ref.String())])
	assert.Equal(t, int64(-500), deltas[domain.BalanceKey(vault.String(), other.String())])
	_, ok := deltas[domain.BalanceKey(investor.String(), ref.String())]
	assert.False(t, ok, "zero deltas are dropped")
}
