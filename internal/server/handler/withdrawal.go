package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/service"
)

// WithdrawalService drives the withdrawal state machine.
type WithdrawalService interface {
	Initiate(ctx context.Context, poolID, investorID string, shares uint64) (domain.WithdrawalRequest, bool, error)
	Get(ctx context.Context, requestID string) (domain.WithdrawalRequest, []domain.AssetProgress, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.WithdrawalRequest, error)
	Finalize(ctx context.Context, requestID string) (domain.Receipt, bool, error)
	Fail(ctx context.Context, requestID, reason string) error
}

// BatchRunner makes one liquidation pass over a request.
type BatchRunner interface {
	RunBatch(ctx context.Context, requestID string) (service.BatchResult, error)
}

// WithdrawalHandler serves the withdrawal lifecycle endpoints.
type WithdrawalHandler struct {
	withdrawals WithdrawalService
	batcher     BatchRunner
	logger      *slog.Logger
}

// NewWithdrawalHandler creates a WithdrawalHandler.
func NewWithdrawalHandler(withdrawals WithdrawalService, batcher BatchRunner, logger *slog.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		batcher:     batcher,
		logger:      logHandler(logger, "withdrawal"),
	}
}

type initiateRequest struct {
	PoolID     string `json:"pool_id"`
	InvestorID string `json:"investor_id"`
	// Shares to withdraw; zero withdraws the whole position.
	Shares uint64 `json:"shares"`
}

type initiateResponse struct {
	Request domain.WithdrawalRequest `json:"request"`
	Resumed bool                     `json:"resumed"`
}

// Initiate opens a withdrawal, or returns the pair's active one. A new
// request answers 201, a resumed one 200.
// POST /api/withdrawals
func (h *WithdrawalHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var body initiateRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.PoolID == "" || body.InvestorID == "" {
		writeError(w, http.StatusBadRequest, "pool_id and investor_id are required")
		return
	}

	req, resumed, err := h.withdrawals.Initiate(r.Context(), body.PoolID, body.InvestorID, body.Shares)
	if err != nil {
		writeServiceError(w, h.logger, r, "initiate withdrawal", err)
		return
	}
	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, initiateResponse{Request: req, Resumed: resumed})
}

// ListActive returns requests that are not completed or failed.
// GET /api/withdrawals
func (h *WithdrawalHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.withdrawals.ListActive(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, h.logger, r, "list withdrawals", err)
		return
	}
	if reqs == nil {
		reqs = []domain.WithdrawalRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": reqs})
}

type withdrawalResponse struct {
	Request  domain.WithdrawalRequest `json:"request"`
	Progress []domain.AssetProgress   `json:"progress"`
}

// Get returns a request with its per-asset progress.
// GET /api/withdrawals/{id}
func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, progress, err := h.withdrawals.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, r, "get withdrawal", err)
		return
	}
	if progress == nil {
		progress = []domain.AssetProgress{}
	}
	writeJSON(w, http.StatusOK, withdrawalResponse{Request: req, Progress: progress})
}

// Liquidate runs one liquidation batch. Per-asset failures are reported in
// the outcomes, not as an error status.
// POST /api/withdrawals/{id}/liquidate
func (h *WithdrawalHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	res, err := h.batcher.RunBatch(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, r, "run batch", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type finalizeResponse struct {
	Receipt          domain.Receipt `json:"receipt"`
	AlreadyCompleted bool           `json:"already_completed"`
}

// Finalize settles a request and returns its receipt.
// POST /api/withdrawals/{id}/finalize
func (h *WithdrawalHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	receipt, already, err := h.withdrawals.Finalize(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, r, "finalize withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, finalizeResponse{Receipt: receipt, AlreadyCompleted: already})
}

type failRequest struct {
	Reason string `json:"reason"`
}

// Fail abandons an active request.
// POST /api/withdrawals/{id}/fail
func (h *WithdrawalHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var body failRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Reason == "" {
		body.Reason = "failed by operator"
	}

	id := pathParam(r, "id")
	if err := h.withdrawals.Fail(r.Context(), id, body.Reason); err != nil {
		writeServiceError(w, h.logger, r, "fail withdrawal", err)
		return
	}
	h.logger.InfoContext(r.Context(), "withdrawal failed by operator",
		slog.String("request_id", id),
		slog.String("reason", body.Reason),
	)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.WithdrawalFailed)})
}
