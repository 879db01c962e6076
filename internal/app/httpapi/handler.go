// Package httpapi exposes the REST surface of the receipt layer: account and
// receipt CRUD, receipt capture, and the task polling endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/LoyaltyLabs/receipt_layer/internal/app"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/receipt"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/metrics"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/services/receipts"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// Options configures the HTTP surface.
type Options struct {
	// AuthSecret enables bearer-token auth when non-empty.
	AuthSecret string
}

// NewHandler returns the router exposing the core REST API.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/").Subrouter()
	api.Use(LoggingMiddleware(log))
	if opts.AuthSecret != "" {
		api.Use(AuthMiddleware(opts.AuthSecret))
	}

	api.HandleFunc("/accounts", h.createAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts", h.listAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", h.getAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", h.deleteAccount).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{id}/wallet", h.updateWallet).Methods(http.MethodPut)

	api.HandleFunc("/receipts", h.captureReceipt).Methods(http.MethodPost)
	api.HandleFunc("/receipts", h.listReceipts).Methods(http.MethodGet)
	api.HandleFunc("/receipts/{id}", h.getReceipt).Methods(http.MethodGet)
	api.HandleFunc("/receipts/{id}", h.deleteReceipt).Methods(http.MethodDelete)
	api.HandleFunc("/receipts/{id}/status", h.receiptStatus).Methods(http.MethodGet)
	api.HandleFunc("/receipts/{id}/history", h.receiptHistory).Methods(http.MethodGet)

	api.HandleFunc("/tasks/{id}", h.taskStatus).Methods(http.MethodGet)

	return metrics.InstrumentHandler(r)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Accounts ---------------------------------------------------------------

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner    string            `json:"owner"`
		Wallet   string            `json:"wallet"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Accounts.Create(r.Context(), payload.Owner, payload.Wallet, payload.Metadata)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.app.Accounts.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, accts)
}

func (h *handler) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Accounts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Accounts.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) updateWallet(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Accounts.UpdateWallet(r.Context(), mux.Vars(r)["id"], payload.Wallet)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Receipts ---------------------------------------------------------------

func (h *handler) captureReceipt(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AccountID  string                 `json:"account_id"`
		Merchant   string                 `json:"merchant"`
		Total      float64                `json:"total"`
		Currency   string                 `json:"currency"`
		ImageURL   string                 `json:"image_url"`
		Items      []receipt.LineItem     `json:"items"`
		Encryption *task.EncryptionBundle `json:"encryption"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rcpt, t, err := h.app.Receipts.Capture(r.Context(), receipts.CaptureRequest{
		AccountID:  payload.AccountID,
		Merchant:   payload.Merchant,
		Total:      payload.Total,
		Currency:   payload.Currency,
		ImageURL:   payload.ImageURL,
		Items:      payload.Items,
		Encryption: payload.Encryption,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"receipt": rcpt,
		"task_id": t.ID,
	})
}

func (h *handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	rcpts, err := h.app.Receipts.List(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpts)
}

func (h *handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	rcpt, err := h.app.Receipts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

func (h *handler) deleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Receipts.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Polling ----------------------------------------------------------------

// receiptStatus reports the saga's latest step. A failed saga is a normal
// response with failed=true, not a server error.
func (h *handler) receiptStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Pipeline.ReceiptStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) receiptHistory(w http.ResponseWriter, r *http.Request) {
	results, err := h.app.Pipeline.ReceiptHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *handler) taskStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Pipeline.TaskStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Helpers ----------------------------------------------------------------

func statusFor(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func decodeJSON(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
