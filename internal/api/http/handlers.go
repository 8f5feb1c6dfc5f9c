package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/tayacoins-ledger/internal/ledger"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/metrics"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/models"
)

// Ledger is what the handlers need from the engine.
type Ledger interface {
	PurchaseSingle(ctx context.Context, buyerID, listingID int64, quantity int) (*models.Receipt, error)
	Checkout(ctx context.Context, buyerID int64, lines []models.CartLine) (*models.Receipt, error)
	Balance(ctx context.Context, accountID int64) (decimal.Decimal, error)
	History(ctx context.Context, userID int64) ([]models.HistoryEntry, error)
}

// maxBodyBytes caps request bodies; a cart of a few hundred lines fits easily.
const maxBodyBytes = 1 << 20

type App struct {
	ledger  Ledger
	metrics *metrics.ServerMetrics
	logger  *zap.Logger
	ready   func(context.Context) error
}

// NewApp wires the handlers. ready is called by /health and may be nil.
func NewApp(l Ledger, m *metrics.ServerMetrics, logger *zap.Logger, ready func(context.Context) error) *App {
	return &App{ledger: l, metrics: m, logger: logger, ready: ready}
}

type purchaseResponse struct {
	Message    string          `json:"message"`
	NewBalance decimal.Decimal `json:"newBalance"`
	Total      decimal.Decimal `json:"total"`
	EntryIDs   []string        `json:"transactionIds"`
}

func receiptResponse(message string, r *models.Receipt) purchaseResponse {
	ids := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		ids[i] = e.ID
	}
	return purchaseResponse{Message: message, NewBalance: r.NewBalance, Total: r.Total, EntryIDs: ids}
}

func (a *App) purchaseHandler(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BuyerID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "buyer_id is required")
		return
	}
	if req.ProductID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	receipt, err := a.ledger.PurchaseSingle(r.Context(), int64(req.BuyerID), int64(req.ProductID), int(req.Quantity))
	if err != nil {
		a.fail(w, r, "purchase", err)
		return
	}
	a.metrics.Purchase("purchase", "ok")
	writeJSON(w, http.StatusOK, receiptResponse("Purchase successful", receipt))
}

func (a *App) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BuyerID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "buyer_id is required")
		return
	}

	lines := make([]models.CartLine, len(req.Items))
	for i, item := range req.Items {
		lines[i] = models.CartLine{ListingID: int64(item.ProductID), Quantity: int(item.Quantity)}
	}

	receipt, err := a.ledger.Checkout(r.Context(), int64(req.BuyerID), lines)
	if err != nil {
		a.fail(w, r, "checkout", err)
		return
	}
	a.metrics.Purchase("checkout", "ok")
	writeJSON(w, http.StatusOK, receiptResponse("Checkout successful", receipt))
}

func (a *App) historyHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	history, err := a.ledger.History(r.Context(), userID)
	if err != nil {
		a.logger.Error("history failed", zap.Int64("user_id", userID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Error fetching transaction history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *App) balanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	balance, err := a.ledger.Balance(r.Context(), accountID)
	if err != nil {
		a.fail(w, r, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		AccountID int64           `json:"account_id"`
		Balance   decimal.Decimal `json:"balance"`
	}{accountID, balance})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(r.Context()); err != nil {
			a.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db_error"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail writes a refusal with its reason, or a generic 500 for anything the
// ledger did not classify. Internal causes are logged, never returned.
func (a *App) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := ledger.KindOf(err)
	if op != "balance" {
		a.metrics.Purchase(op, kind.String())
	}

	if kind == ledger.Internal {
		a.logger.Error("request failed",
			zap.String("op", op),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if kind == ledger.Transient {
		w.Header().Set("Retry-After", "1")
	}
	writeJSONError(w, statusFor(kind), err.Error())
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
