package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/farm-market-orders/internal/catalog"
	kafkax "github.com/ariefcatur/farm-market-orders/internal/kafka"
	"github.com/ariefcatur/farm-market-orders/internal/orders"
	"github.com/ariefcatur/farm-market-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

const maxBodyBytes = 1 << 20

type EventPublisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

type OrdersHandler struct {
	Orders   *orders.Coordinator
	Catalog  *catalog.Cache
	Producer EventPublisher
	Redis    redis.Cmdable // nil disables Idempotency-Key support
	Service  string
	Log      *slog.Logger
}

type errorBody struct {
	Success bool   `json:"success"`
	Kind    string `json:"errorKind"`
	Message string `json:"message"`
}

type orderBody struct {
	Success    bool         `json:"success"`
	Order      orders.Order `json:"order"`
	Idempotent bool         `json:"idempotent,omitempty"`
}

type statusReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.With(RequireRole(RoleConsumer)).Post("/orders", h.placeOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.With(RequireRole(RoleFarmer, RoleAdmin)).Patch("/orders/{id}/status", h.updateStatus)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := orders.KindOf(err)
	code := http.StatusInternalServerError
	msg := "internal error"
	switch kind {
	case orders.KindValidation:
		code, msg = http.StatusBadRequest, err.Error()
	case orders.KindProductNotFound, orders.KindOrderNotFound:
		code, msg = http.StatusNotFound, err.Error()
	case orders.KindInsufficientStock:
		code, msg = http.StatusConflict, err.Error()
	case orders.KindTransactionConflict:
		w.Header().Set("Retry-After", "1")
		code, msg = http.StatusServiceUnavailable, "order could not be placed due to concurrent checkouts, please retry"
	}
	writeJSON(w, code, errorBody{Kind: string(kind), Message: msg})
}

func decodeStrict(r *http.Request, w http.ResponseWriter, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &orders.Error{Kind: orders.KindValidation, Msg: "malformed request body", Err: err}
	}
	if dec.More() {
		return &orders.Error{Kind: orders.KindValidation, Msg: "malformed request body: trailing data"}
	}
	return nil
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req orders.PlaceOrderRequest
	if err := decodeStrict(r, w, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ConsumerID = p.ID
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	idemKey := ""
	if k := r.Header.Get("Idempotency-Key"); k != "" && h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyIdemOrderPlace, p.ID, k)
		claimed, current, err := redisx.ClaimOnce(ctx, h.Redis, key, redisx.IdemPending, redisx.TTLIdempotency)
		switch {
		case err != nil:
			h.Log.Warn("idempotency unavailable, placing without it", "error", err)
		case claimed:
			idemKey = key
		case current == redisx.IdemPending:
			writeJSON(w, http.StatusConflict, errorBody{
				Kind:    string(orders.KindTransactionConflict),
				Message: "a request with this Idempotency-Key is still in progress",
			})
			return
		default:
			o, err := h.Orders.GetOrder(ctx, current)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, orderBody{Success: true, Order: o, Idempotent: true})
			return
		}
	}

	o, err := h.Orders.PlaceOrder(ctx, req)
	if err != nil {
		if idemKey != "" {
			_ = h.Redis.Del(context.WithoutCancel(ctx), idemKey).Err()
		}
		writeError(w, err)
		return
	}
	if idemKey != "" {
		if err := h.Redis.Set(context.WithoutCancel(ctx), idemKey, o.ID, redisx.TTLIdempotency).Err(); err != nil {
			h.Log.Warn("idempotency record", "order_id", o.ID, "error", err)
		}
	}

	h.publish(r, o.ID, orders.EventOrderPlaced, orders.NewOrderPlacedPayload(o))
	writeJSON(w, http.StatusCreated, orderBody{Success: true, Order: o})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !canView(p, o) {
		// reported as missing to the caller
		writeError(w, notFound(o.ID))
		return
	}
	writeJSON(w, http.StatusOK, orderBody{Success: true, Order: o})
}

func notFound(id string) error {
	return &orders.Error{Kind: orders.KindOrderNotFound, Msg: "order " + id, Err: orders.ErrOrderNotFound}
}

func canView(p Principal, o orders.Order) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleConsumer:
		return o.ConsumerID == p.ID
	case RoleFarmer:
		for _, it := range o.Items {
			if it.FarmerID == p.ID {
				return true
			}
		}
	}
	return false
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req statusReq
	if err := decodeStrict(r, w, &req); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	current, err := h.Orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !canView(p, current) {
		writeError(w, notFound(id))
		return
	}

	o, err := h.Orders.AdvanceStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	h.publish(r, o.ID, orders.EventOrderStatusChanged, orders.OrderStatusChangedPayload{
		OrderID: o.ID, From: current.Status, To: o.Status,
	})
	writeJSON(w, http.StatusOK, orderBody{Success: true, Order: o})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Catalog.List(r.Context())
	if err != nil {
		h.Log.Error("list products", "error", err)
		writeError(w, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.Catalog.Product(r.Context(), id)
	if errors.Is(err, orders.ErrProductNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Kind: string(orders.KindProductNotFound), Message: "product " + id + " not found"})
		return
	}
	if err != nil {
		h.Log.Error("get product", "product_id", id, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// publish happens after commit and never changes the response.
func (h *OrdersHandler) publish(r *http.Request, orderID, eventType string, payload any) {
	if h.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       middleware.GetReqID(r.Context()),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), time.Second)
	defer cancel()
	if err := h.Producer.Publish(ctx, orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkax.EventHeaders(eventType, ev.EventVersion)...); err != nil {
		h.Log.Warn("event not queued", "order_id", orderID, "event", eventType, "error", err)
	}
}
