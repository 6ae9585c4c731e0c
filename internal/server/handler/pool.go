package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/fundsettle/internal/amount"
	"github.com/alanyoungcy/fundsettle/internal/domain"
)

// PoolReader is the pool lookup the handlers need.
type PoolReader interface {
	GetByID(ctx context.Context, id string) (domain.Pool, error)
	List(ctx context.Context) ([]domain.Pool, error)
}

// PositionReader reads investor positions.
type PositionReader interface {
	Get(ctx context.Context, poolID, investorID string) (domain.Position, error)
}

// NAVService values pools.
type NAVService interface {
	Latest(ctx context.Context, poolID string) (domain.NAV, error)
	Snapshot(ctx context.Context, poolID string) (domain.NAV, error)
}

// DepositService mints shares for deposits.
type DepositService interface {
	Deposit(ctx context.Context, poolID, investorID string, amt uint64, fundingRef string) (domain.DepositRecord, error)
	History(ctx context.Context, poolID, investorID string, opts domain.ListOpts) ([]domain.DepositRecord, error)
}

// PoolHandler serves pool, NAV, position and deposit endpoints.
type PoolHandler struct {
	pools     PoolReader
	positions PositionReader
	nav       NAVService
	deposits  DepositService
	logger    *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools PoolReader, positions PositionReader, nav NAVService, deposits DepositService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:     pools,
		positions: positions,
		nav:       nav,
		deposits:  deposits,
		logger:    logHandler(logger, "pool"),
	}
}

// ListPools returns every configured pool.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.pools.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, r, "list pools", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

// GetPool returns one pool.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.pools.GetByID(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, r, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// navResponse adds a human-readable total to a NAV.
type navResponse struct {
	domain.NAV
	TotalDisplay string `json:"total_display"`
}

// GetNAV returns the cached NAV, or a fresh snapshot with ?fresh=true.
// GET /api/pools/{id}/nav
func (h *PoolHandler) GetNAV(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	pool, err := h.pools.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, r, "get pool", err)
		return
	}

	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
	var nav domain.NAV
	if fresh {
		nav, err = h.nav.Snapshot(r.Context(), id)
	} else {
		nav, err = h.nav.Latest(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, h.logger, r, "estimate nav", err)
		return
	}
	writeJSON(w, http.StatusOK, navResponse{
		NAV:          nav,
		TotalDisplay: amount.Format(nav.Total, pool.ReferenceDecimals),
	})
}

// GetPosition returns an investor's position in a pool.
// GET /api/pools/{id}/positions/{investor}
func (h *PoolHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Get(r.Context(), pathParam(r, "id"), pathParam(r, "investor"))
	if err != nil {
		writeServiceError(w, h.logger, r, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// depositRequest is the body of a deposit. Exactly one of Amount (base
// units) and AmountDecimal (whole reference units, e.g. "12.5") is set.
type depositRequest struct {
	InvestorID    string `json:"investor_id"`
	Amount        uint64 `json:"amount"`
	AmountDecimal string `json:"amount_decimal"`
	FundingRef    string `json:"funding_ref"`
}

// Deposit mints shares for a contribution.
// POST /api/pools/{id}/deposits
func (h *PoolHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.InvestorID == "" {
		writeError(w, http.StatusBadRequest, "investor_id is required")
		return
	}
	if (req.Amount == 0) == (req.AmountDecimal == "") {
		writeError(w, http.StatusBadRequest, "set exactly one of amount and amount_decimal")
		return
	}

	poolID := pathParam(r, "id")
	amt := req.Amount
	if req.AmountDecimal != "" {
		pool, err := h.pools.GetByID(r.Context(), poolID)
		if err != nil {
			writeServiceError(w, h.logger, r, "get pool", err)
			return
		}
		if amt, err = amount.Parse(req.AmountDecimal, pool.ReferenceDecimals); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rec, err := h.deposits.Deposit(r.Context(), poolID, req.InvestorID, amt, req.FundingRef)
	if err != nil {
		writeServiceError(w, h.logger, r, "deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListDeposits returns an investor's deposits, newest first.
// GET /api/pools/{id}/deposits?investor=...
func (h *PoolHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	investor := r.URL.Query().Get("investor")
	if investor == "" {
		writeError(w, http.StatusBadRequest, "investor query parameter required")
		return
	}
	recs, err := h.deposits.History(r.Context(), pathParam(r, "id"), investor, parseListOpts(r))
	if err != nil {
		writeServiceError(w, h.logger, r, "list deposits", err)
		return
	}
	if recs == nil {
		recs = []domain.DepositRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": recs})
}
