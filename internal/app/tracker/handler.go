package tracker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"mixfleet/internal/ports"
	"mixfleet/internal/shared/logger"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HTTPHandler adapts HTTP requests to the TrackingService.
type HTTPHandler struct {
	logger *logger.Logger
	svc    ports.TrackingService
	db     Pinger
	broker Pinger
}

// NewHandler wires an HTTP handler around the TrackingService. The
// pingers feed the health endpoint and may be nil.
func NewHandler(log *logger.Logger, svc ports.TrackingService, db, broker Pinger) *HTTPHandler {
	return &HTTPHandler{logger: log, svc: svc, db: db, broker: broker}
}

// Register mounts the tracking routes on the provided mux.
func (handler *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /fleet/status", handler.getFleetStatus)
	mux.HandleFunc("GET /orders/{id}/status", handler.getOrderStatus)
	mux.HandleFunc("GET /health", handler.getHealth)
}

// getFleetStatus handles GET /fleet/status and returns one view per truck.
func (handler *HTTPHandler) getFleetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	handler.logger.Debug(ctx, "request_received", "GET /fleet/status", nil)

	views, err := handler.svc.FleetStatus(ctx)
	if err != nil {
		handler.logger.Error(ctx, "fleet_query_failed", "Could not load fleet status", err)
		handler.writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	handler.writeJSON(w, http.StatusOK, views)
}

// getOrderStatus handles GET /orders/{id}/status.
func (handler *HTTPHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		handler.writeErr(w, http.StatusBadRequest, "invalid order id")
		return
	}
	handler.logger.Debug(ctx, "request_received", "GET /orders/{id}/status", map[string]any{"order_id": id})

	view, err := handler.svc.OrderStatus(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			handler.writeErr(w, http.StatusNotFound, "not found")
			return
		}
		handler.logger.Error(ctx, "order_query_failed", "Could not load order status", err)
		handler.writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	handler.writeJSON(w, http.StatusOK, view)
}

// getHealth handles GET /health, checking the backing dependencies.
func (handler *HTTPHandler) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	healthy := true

	if handler.db != nil {
		checks["database"] = "ok"
		if err := handler.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
	}
	if handler.broker != nil {
		checks["rabbitmq"] = "ok"
		if err := handler.broker.Ping(ctx); err != nil {
			checks["rabbitmq"] = err.Error()
			healthy = false
		}
	}

	code := http.StatusOK
	status := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	handler.writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

// --- Helpers ---

func (handler *HTTPHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (handler *HTTPHandler) writeErr(w http.ResponseWriter, code int, msg string) {
	handler.writeJSON(w, code, map[string]any{"error": msg})
}

// withReqID extracts or generates a request ID and adds it to the context.
func (handler *HTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = randID()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}

// randID generates a random 24-char hex string suitable for request IDs.
func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
