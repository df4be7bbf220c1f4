package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/ratelimit"
	"github.com/oakmart/storefront-backend/internal/repository"
	"github.com/oakmart/storefront-backend/internal/service"
)

// defaultCleanupTTLMinutes applies when the trigger omits ttlMinutes.
const defaultCleanupTTLMinutes = 60

// Handler handles HTTP requests for the application.
type Handler struct {
	tracker   *service.TrackerService
	cleanup   *service.CleanupService
	reminders *service.ReminderService
	orders    *service.OrderService
	products  repository.ProductRepository
	analytics repository.AnalyticsRepository
	auth      AuthConfig
	limiter   *ratelimit.Limiter
}

func NewHandler(
	tracker *service.TrackerService,
	cleanup *service.CleanupService,
	reminders *service.ReminderService,
	orders *service.OrderService,
	products repository.ProductRepository,
	analytics repository.AnalyticsRepository,
	auth AuthConfig,
	limiter *ratelimit.Limiter,
) *Handler {
	return &Handler{
		tracker:   tracker,
		cleanup:   cleanup,
		reminders: reminders,
		orders:    orders,
		products:  products,
		analytics: analytics,
		auth:      auth,
		limiter:   limiter,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/abandoned-carts/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("POST /api/cart-activity", h.handleCartActivity)

	mux.HandleFunc("GET /api/abandoned-carts/mark", h.schedulerOnly(h.handleMarkAbandoned))
	mux.HandleFunc("POST /api/abandoned-carts/mark", h.adminOnly(h.handleMarkAbandonedAdmin))

	mux.HandleFunc("GET /api/abandoned-carts/reminders", h.schedulerOnly(h.handleReminders))
	mux.HandleFunc("POST /api/abandoned-carts/reminders", h.adminOnly(h.handleRemindersAdmin))
	mux.HandleFunc("POST /api/abandoned-carts/send-reminders", h.adminOnly(h.handleRemindersAdmin))

	mux.HandleFunc("GET /api/analytics", h.adminOnly(h.handleAnalytics))

	mux.HandleFunc("GET /api/products", h.handleGetProducts)
	mux.HandleFunc("POST /api/orders", h.handleCreateOrder)
	mux.HandleFunc("GET /api/orders", h.handleGetOrders)
	mux.HandleFunc("PATCH /api/orders/{id}/status", h.adminOnly(h.handleUpdateOrderStatus))
}

// schedulerOnly admits an admin session, the pre-shared cron secret, or
// (when opted in) the hosting platform's scheduler. The matched mechanism
// is passed to the handler so the response can report how the run was
// authorized.
func (h *Handler) schedulerOnly(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		via, ok := h.auth.SchedulerAuth(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, via)
	}
}

func (h *Handler) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.auth.AdminAuth(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req service.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if !h.limiter.Allow(r.Context(), "hb:"+req.SessionID) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	status, err := h.tracker.Heartbeat(r.Context(), req)
	if err != nil {
		slog.Error("Heartbeat failed", "session_id", req.SessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) handleCartActivity(w http.ResponseWriter, r *http.Request) {
	var upd service.ActivityUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if upd.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if !h.limiter.Allow(r.Context(), "activity:"+upd.SessionID) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	cart, err := h.tracker.RecordActivity(r.Context(), upd)
	if err != nil {
		slog.Error("Failed to record cart activity", "session_id", upd.SessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	resp := map[string]any{"tracked": cart != nil}
	if cart != nil {
		resp["status"] = cart.Status
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMarkAbandoned(w http.ResponseWriter, r *http.Request, via string) {
	h.runCleanup(w, r, via)
}

func (h *Handler) handleMarkAbandonedAdmin(w http.ResponseWriter, r *http.Request) {
	h.runCleanup(w, r, ViaAdmin)
}

// runCleanup always answers 200 with an embedded summary: the external
// scheduler should see "job ran" even when individual records failed,
// otherwise a mostly-succeeding job causes a retry storm.
func (h *Handler) runCleanup(w http.ResponseWriter, r *http.Request, via string) {
	ttl := intParam(r, "ttlMinutes", defaultCleanupTTLMinutes)
	result := h.cleanup.Run(r.Context(), ttl)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"via":          via,
		"updated":      result.Updated,
		"deleted":      result.Deleted,
		"totalChecked": result.TotalChecked,
		"cutoff":       result.Cutoff,
		"errors":       result.Errors,
	})
}

func (h *Handler) handleReminders(w http.ResponseWriter, r *http.Request, via string) {
	results := h.reminders.Run(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"via":     via,
		"results": results,
	})
}

func (h *Handler) handleRemindersAdmin(w http.ResponseWriter, r *http.Request) {
	h.handleReminders(w, r, ViaAdmin)
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	snap, err := h.analytics.Snapshot(r.Context())
	if err != nil {
		slog.Error("Failed to build analytics snapshot", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleGetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.FindAll(r.Context())
	if err != nil {
		slog.Error("Failed to get products", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, products)
}

type CreateOrderRequest struct {
	SessionID     string             `json:"session_id"`
	CustomerEmail string             `json:"customer_email"`
	Items         []entity.OrderItem `json:"items"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "order must have at least one item")
		return
	}

	cmd := &service.PlaceOrderCommand{
		OrderID:       uuid.New().String(),
		SessionID:     req.SessionID,
		CustomerEmail: req.CustomerEmail,
		Items:         req.Items,
	}

	order, err := h.orders.PlaceOrder(r.Context(), cmd)
	if err != nil {
		slog.Error("Failed to place order", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to place order")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"order_id": order.ID,
		"status":   order.Status,
	})
}

func (h *Handler) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.GetRecentOrders(r.Context(), 50)
	if err != nil {
		slog.Error("Failed to get orders", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req UpdateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !entity.ValidOrderStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		slog.Error("Failed to update order status", "order_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to update order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// EnableCORS is a middleware to allow the storefront frontend to connect.
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-cron-secret")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func intParam(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
