// Package httpapi exposes the billing service over HTTP on a grpc-gateway mux.
package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	billingapp "github.com/tbeaudouin05/study-entitlements/api/services/billing/app"
)

// maxWebhookBytes bounds the webhook body; Stripe events are far smaller.
const maxWebhookBytes = 1 << 16

var (
	marshaler = &runtime.JSONBuiltin{}
	validate  = validator.New()
)

type handler struct {
	svc billingapp.Service
}

type route struct {
	method  string
	pattern string
	fn      runtime.HandlerFunc
}

// Register mounts every billing route on mux.
func Register(mux *runtime.ServeMux, svc billingapp.Service) error {
	h := handler{svc: svc}
	routes := []route{
		{http.MethodPost, "/api/receive-stripe-webhook", h.receiveWebhook},
		{http.MethodGet, "/api/plans", h.listPlans},
		{http.MethodGet, "/api/users/{user_id}/access", h.getAccess},
		{http.MethodGet, "/api/users/{user_id}/divisions/{division_id}/access", h.getDivisionAccess},
		{http.MethodGet, "/api/users/{user_id}/books/{book_id}/access", h.getBookAccess},
		{http.MethodGet, "/api/users/{user_id}/purchases", h.listPurchases},
		{http.MethodPost, "/api/validate-upgrade", h.validateUpgrade},
		{http.MethodPost, "/api/cancel-subscription", h.cancelSubscription},
		{http.MethodPost, "/api/reactivate-subscription", h.reactivateSubscription},
		{http.MethodPost, "/api/sync-subscription", h.syncSubscription},
		{http.MethodPost, "/api/cleanup-duplicate-subscriptions", h.cleanupDuplicates},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.fn); err != nil {
			return err
		}
	}
	return nil
}

type webhookResponse struct {
	Received bool               `json:"received"`
	EventID  string             `json:"eventId,omitempty"`
	Outcome  billingapp.Outcome `json:"outcome"`
}

func (h handler) receiveWebhook(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unable to read request body"})
		return
	}
	res, err := h.svc.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Received: true, EventID: res.EventID, Outcome: res.Outcome})
}

func (h handler) listPlans(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": h.svc.Plans()})
}

func (h handler) getAccess(w http.ResponseWriter, r *http.Request, params map[string]string) {
	info, err := h.svc.GetAccessInfo(r.Context(), params["user_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type divisionAccessResponse struct {
	UserID     string `json:"userId"`
	DivisionID string `json:"divisionId"`
	CanAccess  bool   `json:"canAccess"`
}

func (h handler) getDivisionAccess(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ok, err := h.svc.CanAccessDivision(r.Context(), params["user_id"], params["division_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, divisionAccessResponse{UserID: params["user_id"], DivisionID: params["division_id"], CanAccess: ok})
}

func (h handler) getBookAccess(w http.ResponseWriter, r *http.Request, params map[string]string) {
	total := 0
	if raw := r.URL.Query().Get("total_divisions"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "total_divisions must be a non-negative integer"})
			return
		}
		total = n
	}
	access, err := h.svc.GetBookAccess(r.Context(), params["user_id"], params["book_id"], total)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, access)
}

type purchaseView struct {
	BookID           string    `json:"bookId"`
	DivisionID       string    `json:"divisionId"`
	ExpiresAt        time.Time `json:"expiresAt"`
	PaymentReference string    `json:"paymentReference,omitempty"`
	PurchasedAt      time.Time `json:"purchasedAt"`
	Active           bool      `json:"active"`
}

func (h handler) listPurchases(w http.ResponseWriter, r *http.Request, params map[string]string) {
	purchases, err := h.svc.ListPurchases(r.Context(), params["user_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now()
	out := make([]purchaseView, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, purchaseView{
			BookID:           p.BookID,
			DivisionID:       p.DivisionID,
			ExpiresAt:        p.ExpiresAt,
			PaymentReference: p.PaymentReference,
			PurchasedAt:      p.CreatedAt,
			Active:           p.ActiveAt(now),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": out})
}

type validateUpgradeRequest struct {
	UserID                string `json:"userId"`
	CurrentSubscriptionID string `json:"currentSubscriptionId"`
	TargetPlanID          string `json:"targetPlanId" validate:"required"`
	// Set by the authenticating proxy in front of this service.
	IsAuthenticated bool `json:"isAuthenticated"`
}

func (h handler) validateUpgrade(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req validateUpgradeRequest
	if !decode(w, r, &req) {
		return
	}
	out := h.svc.ValidateUpgrade(r.Context(), billingapp.UpgradeRequest{
		UserID:                req.UserID,
		CurrentSubscriptionID: req.CurrentSubscriptionID,
		TargetPlanID:          req.TargetPlanID,
		Authenticated:         req.IsAuthenticated,
	})
	writeJSON(w, http.StatusOK, out)
}

type cancelRequest struct {
	UserID string `json:"userId" validate:"required"`
}

func (h handler) cancelSubscription(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.CancelSubscription(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelAtPeriodEnd": true})
}

func (h handler) reactivateSubscription(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.ReactivateSubscription(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelAtPeriodEnd": false})
}

func (h handler) syncSubscription(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req billingapp.SyncRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.SyncSubscription(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h handler) cleanupDuplicates(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req billingapp.CleanupRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.CleanupDuplicates(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type errorBody struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := marshaler.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}

// statusFor maps app errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, billingapp.ErrSignature), errors.Is(err, billingapp.ErrBadEvent), errors.Is(err, billingapp.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, billingapp.ErrNoSubscription):
		return http.StatusNotFound
	case errors.Is(err, billingapp.ErrConfirmationRequired):
		return http.StatusConflict
	case errors.Is(err, billingapp.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "err", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	slog.Info("request rejected", "status", status, "err", err)
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := marshaler.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", marshaler.ContentType(v))
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
