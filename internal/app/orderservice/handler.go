package orderservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/ports"
	"mixfleet/internal/shared/logger"
)

// HTTPHandler adapts dashboard HTTP requests to the OrderService.
type HTTPHandler struct {
	svc    ports.OrderService
	logger *logger.Logger
}

// NewHTTPHandler wires an HTTP handler around the OrderService.
func NewHTTPHandler(svc ports.OrderService, logger *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// Register mounts the order routes on the provided mux.
func (handler *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", handler.handleCreate)
	mux.HandleFunc("POST /orders/{id}/cancel", handler.handleCancel)
	mux.HandleFunc("POST /orders/{id}/assign", handler.handleAssign)
	mux.HandleFunc("GET /orders", handler.handleList)
	mux.HandleFunc("GET /orders/{id}", handler.handleGet)
}

// --- Request/Response DTOs (HTTP boundary) ---

type createOrderRequest struct {
	CustomerName  string  `json:"customer_name"`
	DistanceMiles float64 `json:"distance_miles"`
	PlantID       *int64  `json:"plant_id,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type assignOrderRequest struct {
	TruckID int64 `json:"truck_id"`
}

type orderResponse struct {
	OrderID       int64   `json:"order_id"`
	CustomerName  string  `json:"customer_name"`
	DistanceMiles float64 `json:"distance_miles"`
	Status        string  `json:"status"`
	PlantID       *int64  `json:"plant_id,omitempty"`
	TruckID       *int64  `json:"truck_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// --- Handlers ---

func (handler *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if !handler.decode(ctx, w, r, &req) {
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	order, err := handler.svc.PlaceOrder(ctxWithTimeout, ports.CreateOrderCommand{
		CustomerName:  req.CustomerName,
		DistanceMiles: req.DistanceMiles,
		PlantID:       req.PlantID,
	})
	if err != nil {
		handler.mapError(ctxWithTimeout, w, err)
		return
	}

	handler.jsonResponse(ctxWithTimeout, w, http.StatusCreated, toOrderResponse(order))
}

func (handler *HTTPHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := handler.pathID(ctx, w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !handler.decode(ctx, w, r, &req) {
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := handler.svc.CancelOrder(ctxWithTimeout, id, req.Reason); err != nil {
		handler.mapError(ctxWithTimeout, w, err)
		return
	}
	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, map[string]any{"order_id": id, "status": "cancelled"})
}

func (handler *HTTPHandler) handleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := handler.pathID(ctx, w, r)
	if !ok {
		return
	}

	var req assignOrderRequest
	if !handler.decode(ctx, w, r, &req) {
		return
	}
	if req.TruckID <= 0 {
		handler.httpError(ctx, w, http.StatusBadRequest, "truck_id is required", errors.New("missing truck_id"))
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := handler.svc.RequestAssignment(ctxWithTimeout, id, req.TruckID); err != nil {
		handler.mapError(ctxWithTimeout, w, err)
		return
	}
	handler.jsonResponse(ctxWithTimeout, w, http.StatusAccepted, map[string]any{"order_id": id, "truck_id": req.TruckID})
}

func (handler *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := handler.svc.ListOrders(ctx, limit)
	if err != nil {
		handler.mapError(ctx, w, err)
		return
	}

	out := make([]orderResponse, 0, len(list))
	for i := range list {
		out = append(out, toOrderResponse(&list[i]))
	}
	handler.jsonResponse(ctx, w, http.StatusOK, out)
}

func (handler *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := handler.pathID(ctx, w, r)
	if !ok {
		return
	}

	order, err := handler.svc.GetOrder(ctx, id)
	if err != nil {
		handler.mapError(ctx, w, err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, toOrderResponse(order))
}

// --- Helpers ---

func toOrderResponse(o *orders.Order) orderResponse {
	return orderResponse{
		OrderID:       o.ID,
		CustomerName:  o.CustomerName,
		DistanceMiles: o.DistanceMiles,
		Status:        string(o.Status),
		PlantID:       o.PlantID,
		TruckID:       o.TruckID,
		CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// decode strictly parses the JSON request body into dst.
func (handler *HTTPHandler) decode(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
	defer r.Body.Close()

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		handler.httpError(ctx, w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", errors.New("unsupported content type: "+ct))
		return false
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid JSON: "+err.Error(), err)
		return false
	}
	return true
}

// pathID parses the {id} path segment.
func (handler *HTTPHandler) pathID(ctx context.Context, w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid order id", err)
		return 0, false
	}
	return id, true
}

// mapError translates service errors into HTTP statuses.
func (handler *HTTPHandler) mapError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrTruckNotFound), errors.Is(err, ErrPlantNotFound):
		handler.httpError(ctx, w, http.StatusNotFound, err.Error(), err)
	case errors.Is(err, ErrOrderFinished):
		handler.httpError(ctx, w, http.StatusConflict, err.Error(), err)
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			handler.httpError(ctx, w, http.StatusInternalServerError, "database error", err)
			return
		}
		handler.httpError(ctx, w, http.StatusBadRequest, err.Error(), err)
	}
}

// httpError sends a JSON error response with a message.
func (handler *HTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	if status >= 500 {
		action = "http_internal_error"
	} else if status == http.StatusBadRequest {
		action = "validation_failed"
	}
	handler.logger.Error(ctx, action, msg, err)

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, status, errBody{Error: msg})
}

// jsonResponse encodes data to the HTTP response.
func (handler *HTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		handler.logger.Error(ctx, "response_encode_failed", "failed to encode response", err)
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}
