package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-course-trade/internal/logx"
	"github.com/ariefcatur/go-course-trade/internal/orders"
	"github.com/ariefcatur/go-course-trade/internal/payments"
)

// HeaderUserID is set by the upstream gateway after authentication.
const HeaderUserID = "X-User-Id"

type OrderService interface {
	PlaceOrder(ctx context.Context, userID string, courseIDs []string) (orders.StatusView, error)
	EnrollFree(ctx context.Context, userID, courseID string) (orders.StatusView, error)
	CancelOrder(ctx context.Context, userID, orderID string) error
	DeleteOrder(ctx context.Context, userID, orderID string) error
	QueryOrderStatus(ctx context.Context, orderID string) (orders.StatusView, error)
	QueryMyOrders(ctx context.Context, q orders.ListQuery) (orders.OrderPage, error)
	QueryOrderDetail(ctx context.Context, userID, orderID, lineID string) (orders.OrderDetailView, error)
}

type PaymentApplier interface {
	Apply(ctx context.Context, n payments.Notification) error
}

type OrdersHandler struct {
	Orders       OrderService
	Payments     PaymentApplier
	// NotifySecret keys the signature on /pay/notify. When empty every
	// notification is rejected.
	NotifySecret []byte
	Log          *zap.Logger
}

type PlaceOrderReq struct {
	CourseIDs []string `json:"courseIds"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	h.Log = logx.OrNop(h.Log)
	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/orders", h.placeOrder)
		r.Post("/orders/free/{courseId}", h.enrollFree)
		r.Put("/orders/{id}/cancel", h.cancelOrder)
		r.Delete("/orders/{id}", h.deleteOrder)
		r.Get("/orders/page", h.myOrders)
		r.Get("/orders/{id}", h.orderDetail)
	})
	r.Get("/orders/{id}/status", h.orderStatus)
	r.With(h.requireSignature).Post("/pay/notify", h.payNotify)
}

const maxNotifyBody = 1 << 20

// requireSignature checks the gateway signature over the raw body and hands
// the body on unchanged.
func (h *OrdersHandler) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotifyBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, orders.ErrInvalidArgument.Code, "unreadable body")
			return
		}
		if !payments.Verify(h.NotifySecret, body, r.Header.Get(payments.HeaderSignature)) {
			h.Log.Warn("payment notification with bad signature rejected",
				zap.String("remote", r.RemoteAddr), zap.Int("bytes", len(body)))
			writeError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "missing or invalid "+payments.HeaderSignature)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if uid == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing "+HeaderUserID)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, uid)))
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(userKey{}).(string)
	return uid
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, orders.ErrInvalidArgument.Code, "invalid json")
		return
	}
	v, err := h.Orders.PlaceOrder(r.Context(), userID(r), req.CourseIDs)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *OrdersHandler) enrollFree(w http.ResponseWriter, r *http.Request) {
	v, err := h.Orders.EnrollFree(r.Context(), userID(r), chi.URLParam(r, "courseId"))
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.CancelOrder(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.DeleteOrder(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.Orders.QueryOrderStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.Orders.QueryMyOrders(r.Context(), orders.ListQuery{
		UserID:   userID(r),
		Status:   orders.Status(strings.ToUpper(q.Get("status"))),
		PageNo:   atoi(q.Get("pageNo")),
		PageSize: atoi(q.Get("pageSize")),
	})
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *OrdersHandler) orderDetail(w http.ResponseWriter, r *http.Request) {
	v, err := h.Orders.QueryOrderDetail(r.Context(), userID(r), chi.URLParam(r, "id"), r.URL.Query().Get("lineId"))
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) payNotify(w http.ResponseWriter, r *http.Request) {
	var n payments.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, orders.ErrInvalidArgument.Code, "invalid json")
		return
	}
	if err := h.Payments.Apply(r.Context(), n); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

// atoi returns 0 for anything unparsable; the service applies page defaults.
func atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}
