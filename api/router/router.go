package router

import (
	"log/slog"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	bootstrap "github.com/tbeaudouin05/study-entitlements/api/bootstrap"
	"github.com/tbeaudouin05/study-entitlements/api/services/billing/httpapi"
)

// NewRouter returns the central HTTP router for the API on a grpc-gateway mux.
func NewRouter() http.Handler {
	// Initialize app dependencies (non-fatal if it fails here; handlers need a service).
	if err := bootstrap.Ensure(); err != nil {
		slog.Error("bootstrap ensure failed", "err", err)
	}

	mux := runtime.NewServeMux()
	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		w.WriteHeader(http.StatusOK)
	}); err != nil {
		slog.Error("failed to register health route", "err", err)
	}
	svc := bootstrap.GetBillingService()
	if svc == nil {
		return mux
	}
	if err := httpapi.Register(mux, svc); err != nil {
		slog.Error("failed to register billing routes", "err", err)
	}
	return mux
}
