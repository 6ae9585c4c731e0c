package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/service"
)

// ReceiptLedger reads settlement receipts.
type ReceiptLedger interface {
	Get(ctx context.Context, id string) (domain.Receipt, error)
	FindByInvestor(ctx context.Context, investorID string, opts domain.ListOpts) ([]domain.Receipt, error)
	FindByPool(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.Receipt, error)
}

// StatementExporter writes an investor statement to cold storage.
type StatementExporter interface {
	ExportStatement(ctx context.Context, investorID string) (string, error)
}

// ReceiptHandler serves receipt queries and statement export.
type ReceiptHandler struct {
	ledger     ReceiptLedger
	pools      PoolReader
	statements StatementExporter
	logger     *slog.Logger
}

// NewReceiptHandler creates a ReceiptHandler. statements may be nil when no
// blob storage is configured.
func NewReceiptHandler(ledger ReceiptLedger, pools PoolReader, statements StatementExporter, logger *slog.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		ledger:     ledger,
		pools:      pools,
		statements: statements,
		logger:     logHandler(logger, "receipt"),
	}
}

type receiptResponse struct {
	domain.Receipt
	Summary string `json:"summary,omitempty"`
}

// ListReceipts returns receipts for an investor or a pool, newest first.
// GET /api/receipts?investor=...|pool=...
func (h *ReceiptHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	investor, pool := q.Get("investor"), q.Get("pool")
	if (investor == "") == (pool == "") {
		writeError(w, http.StatusBadRequest, "exactly one of investor and pool query parameters required")
		return
	}

	var (
		rs  []domain.Receipt
		err error
	)
	if investor != "" {
		rs, err = h.ledger.FindByInvestor(r.Context(), investor, parseListOpts(r))
	} else {
		rs, err = h.ledger.FindByPool(r.Context(), pool, parseListOpts(r))
	}
	if err != nil {
		writeServiceError(w, h.logger, r, "list receipts", err)
		return
	}

	out := make([]receiptResponse, len(rs))
	for i, rc := range rs {
		out[i] = h.present(r.Context(), rc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": out})
}

// GetReceipt returns one receipt.
// GET /api/receipts/{id}
func (h *ReceiptHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := h.ledger.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, r, "get receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(r.Context(), rc))
}

// ExportStatement writes the investor's receipts to blob storage.
// POST /api/statements/{investor}
func (h *ReceiptHandler) ExportStatement(w http.ResponseWriter, r *http.Request) {
	if h.statements == nil {
		writeError(w, http.StatusNotImplemented, "statement export requires blob storage")
		return
	}
	investor := pathParam(r, "investor")
	path, err := h.statements.ExportStatement(r.Context(), investor)
	if err != nil {
		writeServiceError(w, h.logger, r, "export statement", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"investor_id": investor, "path": path})
}

// present attaches a human-readable summary when the pool is known.
func (h *ReceiptHandler) present(ctx context.Context, rc domain.Receipt) receiptResponse {
	out := receiptResponse{Receipt: rc}
	if h.pools == nil {
		return out
	}
	if pool, err := h.pools.GetByID(ctx, rc.PoolID); err == nil {
		out.Summary = service.Summary(rc, pool.ReferenceDecimals)
	}
	return out
}
