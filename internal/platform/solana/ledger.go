// Package solana implements domain.Ledger against a Solana RPC node. Each
// Submit becomes one signed transaction; a bbolt journal maps idempotency
// keys to signatures so a retry never signs a second transaction while the
// first may still land.
package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/ledger/journal"
)

// Config holds RPC and confirmation settings.
type Config struct {
	RPCURL            string
	Commitment        string
	ProgramID         string
	RequestsPerSecond float64
	Burst             int
	ConfirmTimeout    time.Duration
	PollInterval      time.Duration
}

// Ledger is the on-chain domain.Ledger.
type Ledger struct {
	rpc        *rpc.Client
	signer     solanago.PrivateKey
	authority  solanago.PublicKey
	programID  solanago.PublicKey
	commitment rpc.CommitmentType
	limiter    *rate.Limiter
	journal    *journal.Journal
	timeout    time.Duration
	poll       time.Duration
	logger     *slog.Logger
}

// New creates a Ledger signing with signer and journaling to j.
func New(cfg Config, signer solanago.PrivateKey, j *journal.Journal, logger *slog.Logger) (*Ledger, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("solana: rpc url is required")
	}
	if j == nil {
		return nil, errors.New("solana: journal is required")
	}
	if err := signer.Validate(); err != nil {
		return nil, fmt.Errorf("solana: signer: %w", err)
	}
	programID := solanago.SystemProgramID
	if cfg.ProgramID != "" {
		pk, err := solanago.PublicKeyFromBase58(cfg.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("solana: program id: %w", err)
		}
		programID = pk
	}
	commitment := rpc.CommitmentType(cfg.Commitment)
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &Ledger{
		rpc:        rpc.New(cfg.RPCURL),
		signer:     signer,
		authority:  signer.PublicKey(),
		programID:  programID,
		commitment: commitment,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		journal:    j,
		timeout:    timeout,
		poll:       poll,
		logger:     logger.With(slog.String("component", "solana_ledger")),
	}, nil
}

// Ping checks RPC connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := l.rpc.GetBlockHeight(ctx, l.commitment); err != nil {
		return fmt.Errorf("solana: ping: %w", err)
	}
	return nil
}

// Authority returns the signer's address.
func (l *Ledger) Authority() string {
	return l.authority.String()
}

// DeriveAddress returns the program address for seeds.
func (l *Ledger) DeriveAddress(seeds ...[]byte) (string, error) {
	addr, _, err := solanago.FindProgramAddress(seeds, l.programID)
	if err != nil {
		return "", fmt.Errorf("solana: derive address: %w", err)
	}
	return addr.String(), nil
}

// NativeBalance returns an account's lamports.
func (l *Ledger) NativeBalance(ctx context.Context, account string) (uint64, error) {
	pk, err := solanago.PublicKeyFromBase58(account)
	if err != nil {
		return 0, fmt.Errorf("solana: native balance %q: %w", account, err)
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	res, err := l.rpc.GetBalance(ctx, pk, l.commitment)
	if err != nil {
		return 0, fmt.Errorf("solana: native balance %s: %w", account, err)
	}
	return res.Value, nil
}

// TokenBalance returns owner's balance of mint in its associated account,
// zero when the account does not exist.
func (l *Ledger) TokenBalance(ctx context.Context, owner, mint string) (uint64, error) {
	o, m, err := ownerAndMint(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("solana: token balance: %w", err)
	}
	ata, _, err := solanago.FindAssociatedTokenAddress(o, m)
	if err != nil {
		return 0, fmt.Errorf("solana: token balance: %w", err)
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	res, err := l.rpc.GetTokenAccountBalance(ctx, ata, l.commitment)
	if err != nil {
		if isMissingAccount(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("solana: token balance %s/%s: %w", owner, mint, err)
	}
	if res == nil || res.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("solana: token balance %s/%s: parse %q: %w", owner, mint, res.Value.Amount, err)
	}
	return amount, nil
}

func isMissingAccount(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "Invalid param: not a Token account")
}

// Submit signs and sends instructions as one transaction and waits for
// confirmation. The journal makes it idempotent per key.
func (l *Ledger) Submit(ctx context.Context, key string, instructions []domain.Instruction) (domain.Execution, error) {
	entry, err := l.journal.Get(key)
	switch {
	case err == nil:
		switch entry.Status {
		case journal.StatusConfirmed:
			return entry.Execution, nil
		case journal.StatusPending:
			exec, resumeErr := l.resume(ctx, entry)
			if !errors.Is(resumeErr, errExpired) {
				return exec, resumeErr
			}
			l.logger.WarnContext(ctx, "pending submission expired, resending",
				slog.String("key", key),
				slog.String("signature", entry.Signature),
			)
		}
	case !errors.Is(err, journal.ErrNotFound):
		return domain.Execution{}, fmt.Errorf("solana: submit %s: %w", key, err)
	}

	return l.send(ctx, key, instructions)
}

var errExpired = fmt.Errorf("solana: blockhash expired before confirmation: %w", domain.ErrExecutionFailed)

func (l *Ledger) send(ctx context.Context, key string, instructions []domain.Instruction) (domain.Execution, error) {
	c, err := compile(l.authority, instructions)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("solana: submit %s: %w", key, err)
	}

	opts := []solanago.TransactionOption{solanago.TransactionPayer(l.authority)}
	if len(c.lookupTables) > 0 {
		tables, err := l.lookupTables(ctx, c.lookupTables)
		if err != nil {
			return domain.Execution{}, fmt.Errorf("solana: submit %s: %w", key, err)
		}
		opts = append(opts, solanago.TransactionAddressTables(tables))
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return domain.Execution{}, err
	}
	bh, err := l.rpc.GetLatestBlockhash(ctx, l.commitment)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("solana: submit %s: latest blockhash: %w", key, err)
	}

	tx, err := solanago.NewTransaction(c.instructions, bh.Value.Blockhash, opts...)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("solana: submit %s: build transaction: %w", key, err)
	}
	if _, err := tx.Sign(func(pk solanago.PublicKey) *solanago.PrivateKey {
		if pk.Equals(l.authority) {
			return &l.signer
		}
		return nil
	}); err != nil {
		return domain.Execution{}, fmt.Errorf("solana: submit %s: sign: %w", key, err)
	}

	// Journal the signature before sending so a crash after broadcast
	// resumes this transaction instead of signing a new one.
	entry := journal.Entry{
		Key:                  key,
		Signature:            tx.Signatures[0].String(),
		Status:               journal.StatusPending,
		LastValidBlockHeight: bh.Value.LastValidBlockHeight,
	}
	if err := l.journal.Put(entry); err != nil {
		return domain.Execution{}, fmt.Errorf("solana: submit %s: %w", key, err)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return domain.Execution{}, err
	}
	if _, err := l.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: l.commitment}); err != nil {
		// A JSON-RPC error means the node rejected the transaction; any other
		// failure leaves its fate unknown until the blockhash expires.
		var rpcErr *jsonrpc.RPCError
		if !errors.As(err, &rpcErr) {
			l.logger.WarnContext(ctx, "send failed, awaiting confirmation or expiry",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return l.resume(ctx, entry)
		}
		l.markFailed(entry, err)
		return domain.Execution{}, fmt.Errorf("solana: submit %s: %w: %v", key, domain.ErrExecutionFailed, err)
	}

	l.logger.InfoContext(ctx, "transaction sent",
		slog.String("key", key),
		slog.String("signature", entry.Signature),
		slog.Int("instructions", len(c.instructions)),
	)
	return l.resume(ctx, entry)
}

func (l *Ledger) lookupTables(ctx context.Context, keys []solanago.PublicKey) (map[solanago.PublicKey]solanago.PublicKeySlice, error) {
	tables := make(map[solanago.PublicKey]solanago.PublicKeySlice, len(keys))
	for _, k := range keys {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		state, err := addresslookuptable.GetAddressLookupTable(ctx, l.rpc, k)
		if err != nil {
			return nil, fmt.Errorf("lookup table %s: %w", k, err)
		}
		tables[k] = state.Addresses
	}
	return tables, nil
}

// resume waits for a journaled signature to confirm, fail or expire.
func (l *Ledger) resume(ctx context.Context, entry journal.Entry) (domain.Execution, error) {
	sig, err := solanago.SignatureFromBase58(entry.Signature)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("solana: journal signature %q: %w", entry.Signature, err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		done, txErr, err := l.status(ctx, sig)
		if err != nil {
			l.logger.WarnContext(ctx, "signature status poll failed",
				slog.String("signature", entry.Signature),
				slog.String("error", err.Error()),
			)
		}
		if done {
			if txErr != nil {
				l.markFailed(entry, fmt.Errorf("%v", txErr))
				return domain.Execution{}, fmt.Errorf("solana: %s: %w: %v", entry.Key, domain.ErrExecutionFailed, txErr)
			}
			exec, err := l.execution(ctx, sig)
			if err != nil {
				return domain.Execution{}, err
			}
			entry.Status = journal.StatusConfirmed
			entry.Execution = exec
			if err := l.journal.Put(entry); err != nil {
				l.logger.ErrorContext(ctx, "journal confirmed submission",
					slog.String("key", entry.Key),
					slog.String("error", err.Error()),
				)
			}
			return exec, nil
		}

		if expired, err := l.expired(ctx, entry.LastValidBlockHeight); err == nil && expired {
			// One last look: the transaction may have landed in the final slots.
			if done, txErr, err := l.status(ctx, sig); err == nil && done && txErr == nil {
				continue
			}
			l.markFailed(entry, errExpired)
			return domain.Execution{}, errExpired
		}

		select {
		case <-ctx.Done():
			return domain.Execution{}, fmt.Errorf("solana: confirm %s: %w", entry.Signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

// status reports whether sig reached the ledger commitment and, if so, its
// on-chain error.
func (l *Ledger) status(ctx context.Context, sig solanago.Signature) (bool, any, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return false, nil, err
	}
	res, err := l.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return false, nil, nil
	}
	st := res.Value[0]
	if st.Err != nil {
		return true, st.Err, nil
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return true, nil, nil
	case rpc.ConfirmationStatusConfirmed:
		return l.commitment != rpc.CommitmentFinalized, nil, nil
	}
	return false, nil, nil
}

func (l *Ledger) expired(ctx context.Context, lastValid uint64) (bool, error) {
	if lastValid == 0 {
		return false, nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return false, err
	}
	height, err := l.rpc.GetBlockHeight(ctx, l.commitment)
	if err != nil {
		return false, err
	}
	return height > lastValid, nil
}

// execution reads the token balance changes of a confirmed transaction.
func (l *Ledger) execution(ctx context.Context, sig solanago.Signature) (domain.Execution, error) {
	exec := domain.Execution{OperationID: sig.String()}

	if err := l.limiter.Wait(ctx); err != nil {
		return exec, err
	}
	maxVersion := uint64(0)
	res, err := l.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solanago.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		// The signature is confirmed; deltas are best effort.
		l.logger.WarnContext(ctx, "fetch confirmed transaction",
			slog.String("signature", sig.String()),
			slog.String("error", err.Error()),
		)
		return exec, nil
	}
	if res.Meta != nil {
		exec.Deltas = tokenDeltas(res.Meta.PreTokenBalances, res.Meta.PostTokenBalances)
	}
	return exec, nil
}

// tokenDeltas computes post-minus-pre balances keyed by (owner, mint).
func tokenDeltas(pre, post []rpc.TokenBalance) map[string]int64 {
	deltas := make(map[string]int64)
	add := func(balances []rpc.TokenBalance, sign int64) {
		for _, b := range balances {
			if b.Owner == nil || b.UiTokenAmount == nil {
				continue
			}
			amount, err := strconv.ParseInt(b.UiTokenAmount.Amount, 10, 64)
			if err != nil {
				continue
			}
			deltas[domain.BalanceKey(b.Owner.String(), b.Mint.String())] += sign * amount
		}
	}
	add(pre, -1)
	add(post, 1)
	for k, v := range deltas {
		if v == 0 {
			delete(deltas, k)
		}
	}
	return deltas
}

func (l *Ledger) markFailed(entry journal.Entry, cause error) {
	entry.Status = journal.StatusFailed
	entry.Error = cause.Error()
	if err := l.journal.Put(entry); err != nil {
		l.logger.Error("journal failed submission",
			slog.String("key", entry.Key),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time interface check.
var _ domain.Ledger = (*Ledger)(nil)
