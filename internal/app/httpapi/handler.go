// Package httpapi exposes the ledger engine over a small REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	app "github.com/mypts-network/ledger/internal/app"
	"github.com/mypts-network/ledger/internal/app/metrics"
	lederr "github.com/mypts-network/ledger/internal/errors"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/hub", h.hub)
	mux.HandleFunc("/hub/movements", h.hubMovements)
	mux.HandleFunc("/profiles/", h.profileResources)
	mux.HandleFunc("/admin/award", h.adminAward)
	mux.HandleFunc("/admin/withdrawals", h.adminWithdrawals)
	mux.HandleFunc("/admin/settlements", h.settlements)
	mux.HandleFunc("/admin/settlements/", h.settlementResources)
	return metrics.InstrumentHTTP(mux)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) hub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state, err := h.app.Hub.State(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *handler) hubMovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	movements, err := h.app.Hub.Movements(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (h *handler) profileResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/profiles"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	profileID := parts[0]

	switch parts[1] {
	case "balance":
		h.profileBalance(w, r, profileID)
	case "transactions":
		h.profileTransactions(w, r, profileID, parts[2:])
	case "earn":
		h.profileEarn(w, r, profileID)
	case "buy":
		h.profileBuy(w, r, profileID)
	case "sell":
		h.profileSell(w, r, profileID)
	case "donate":
		h.profileDonate(w, r, profileID)
	case "purchase":
		h.profilePurchase(w, r, profileID)
	case "withdraw":
		h.profileWithdraw(w, r, profileID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) profileBalance(w http.ResponseWriter, r *http.Request, profileID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pl, err := h.app.MyPts.Balance(r.Context(), profileID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

func (h *handler) profileTransactions(w http.ResponseWriter, r *http.Request, profileID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		txns, err := h.app.MyPts.Transactions(r.Context(), profileID, queryLimit(r))
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, txns)
		return
	}

	if len(rest) == 2 && rest[1] == "finalize" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			PaymentMethodID string `json:"payment_method_id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		res, err := h.app.MyPts.FinalizeBuy(r.Context(), rest[0], payload.PaymentMethodID)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, buyResponse(res))
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) profileEarn(w http.ResponseWriter, r *http.Request, profileID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ActivityType string `json:"activity_type"`
		ReferenceID  string `json:"reference_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.MyPts.Earn(r.Context(), profileID, payload.ActivityType, payload.ReferenceID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resultResponse(res))
}

func (h *handler) profileBuy(w http.ResponseWriter, r *http.Request, profileID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Amount          int64  `json:"amount"`
		PaymentMethod   string `json:"payment_method"`
		PaymentMethodID string `json:"payment_method_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.MyPts.Buy(r.Context(), profileID, payload.Amount, payload.PaymentMethod, payload.PaymentMethodID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, buyResponse(res))
}

func (h *handler) profileSell(w http.ResponseWriter, r *http.Request, profileID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Amount         int64             `json:"amount"`
		PaymentMethod  string            `json:"payment_method"`
		AccountDetails map[string]string `json:"account_details"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.MyPts.Sell(r.Context(), profileID, payload.Amount, payload.PaymentMethod, payload.AccountDetails)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, resultResponse(res))
}

func (h *handler) profileDonate(w http.ResponseWriter, r *http.Request, profileID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ToProfileID string `json:"to_profile_id"`
		Amount      int64  `json:"amount"`
		Message     string `json:"message"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.MyPts.Donate(r.Context(), profileID, payload.ToProfileID, payload.Amount, payload.Message)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) profilePurchase(w http.ResponseWriter, r *http.Request, profileID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		SellerProfileID string `json:"seller_profile_id"`
		Amount          int64  `json:"amount"`
		ProductID       string `json:"product_id"`
		ProductName     string `json:"product_name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.MyPts.PurchaseProduct(r.Context(), profileID, payload.SellerProfileID, payload.Amount,
		payload.ProductID, payload.ProductName)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) profileWithdraw(w http.ResponseWriter, r *http.Request, profileID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.MyPts.Withdraw(r.Context(), profileID, payload.Amount, payload.Reason)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resultResponse(res))
}

func (h *handler) adminAward(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ProfileID string `json:"profile_id"`
		Amount    int64  `json:"amount"`
		Reason    string `json:"reason"`
		AdminID   string `json:"admin_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.MyPts.Award(r.Context(), payload.ProfileID, payload.Amount, payload.Reason, payload.AdminID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resultResponse(res))
}

func (h *handler) adminWithdrawals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ProfileID string `json:"profile_id"`
		Amount    int64  `json:"amount"`
		Reason    string `json:"reason"`
		AdminID   string `json:"admin_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.app.MyPts.AdminWithdraw(r.Context(), payload.ProfileID, payload.Amount, payload.Reason, payload.AdminID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resultResponse(res))
}

func (h *handler) settlements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pending, err := h.app.Settlement.Pending(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *handler) settlementResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/settlements"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	transactionID := parts[0]

	switch parts[1] {
	case "approve":
		var payload struct {
			AdminID          string `json:"admin_id"`
			PaymentReference string `json:"payment_reference"`
			Notes            string `json:"notes"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		txn, err := h.app.Settlement.Approve(r.Context(), transactionID, payload.AdminID, payload.PaymentReference, payload.Notes)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, txn)

	case "reject":
		var payload struct {
			AdminID string `json:"admin_id"`
			Reason  string `json:"reason"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		txn, err := h.app.Settlement.Reject(r.Context(), transactionID, payload.AdminID, payload.Reason)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, txn)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// statusForError maps domain errors to HTTP statuses.
func statusForError(err error) int {
	var (
		validation   *lederr.ValidationError
		activity     *lederr.InvalidActivityError
		insufficient *lederr.InsufficientBalanceError
		duplicate    *lederr.DuplicateRewardError
		capacity     *lederr.HubCapacityError
		external     *lederr.ExternalPaymentError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &activity):
		return http.StatusBadRequest
	case errors.As(err, &insufficient):
		return http.StatusPaymentRequired
	case errors.Is(err, lederr.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &duplicate), errors.As(err, &capacity), errors.Is(err, lederr.ErrVersionConflict):
		return http.StatusConflict
	case errors.As(err, &external):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
