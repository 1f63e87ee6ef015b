package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/campusclub/api/internal/domain"
	"github.com/campusclub/api/internal/platform/auth"
	"github.com/campusclub/api/internal/platform/httpx"
	"github.com/campusclub/api/internal/repositories"
	"github.com/campusclub/api/internal/services"
)

const maxStoreOrderBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// StoreOrderHandlers exposes the merch order endpoints for authenticated members.
type StoreOrderHandlers struct {
	orders services.StoreOrderService
}

// NewStoreOrderHandlers constructs a new StoreOrderHandlers instance.
func NewStoreOrderHandlers(orders services.StoreOrderService) *StoreOrderHandlers {
	return &StoreOrderHandlers{orders: orders}
}

// Routes registers the /store/orders endpoints.
func (h *StoreOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/store/orders", func(g chi.Router) {
		g.Get("/", h.listOrders)
		g.Post("/", h.placeOrder)
		g.Post("/verify", h.verifyOrder)
		g.Get("/{orderID}", h.getOrder)
		g.Post("/{orderID}:cancel", h.cancelOrder)
		g.Post("/{orderID}:reschedule", h.rescheduleOrder)
		g.Post("/{orderID}:fulfill", h.fulfillOrder)
		g.Post("/{orderID}:missed", h.markOrderMissed)
	})
	r.Post("/store/orders:cancelPending", h.cancelPendingOrders)
}

type orderLinePayload struct {
	OptionID string `json:"option"`
	Quantity int    `json:"quantity"`
}

type placeOrderRequest struct {
	PickupEventID string             `json:"pickupEvent"`
	Items         []orderLinePayload `json:"items"`
}

type verifyOrderRequest struct {
	Items []orderLinePayload `json:"items"`
}

type fulfillItemPayload struct {
	ItemID string  `json:"item"`
	Notes  *string `json:"notes"`
}

type fulfillOrderRequest struct {
	Items []fulfillItemPayload `json:"items"`
}

type rescheduleOrderRequest struct {
	PickupEventID string `json:"pickupEvent"`
}

type orderResponse struct {
	Order domain.PublicOrder `json:"order"`
}

type orderListResponse struct {
	Items []domain.PublicOrder `json:"items"`
}

func (h *StoreOrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:        identity.UserID,
		PickupEventID: strings.TrimSpace(req.PickupEventID),
		Lines:         toOrderLines(req.Items),
	})
	if err != nil {
		writeStoreOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: domain.ToPublicOrder(order, nil)})
}

func (h *StoreOrderHandlers) verifyOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req verifyOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	if err := h.orders.VerifyOrder(ctx, services.VerifyOrderCommand{
		UserID: identity.UserID,
		Lines:  toOrderLines(req.Items),
	}); err != nil {
		writeStoreOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"valid": true})
}

func (h *StoreOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrders(ctx, identity.UserID)
	if err != nil {
		writeStoreOrderError(ctx, w, err)
		return
	}

	items := make([]domain.PublicOrder, 0, len(orders))
	for _, order := range orders {
		items = append(items, domain.ToPublicOrder(order, nil))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *StoreOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, identity.UserID)
	if err != nil {
		writeStoreOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: domain.ToPublicOrder(order, nil)})
}

func (h *StoreOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: identity.UserID,
	})
	if err != nil {
		writeStoreOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: domain.ToPublicOrder(order, nil)})
}

func (h *StoreOrderHandlers) rescheduleOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	var req rescheduleOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PickupEventID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pickupEvent is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.RescheduleOrderPickup(ctx, services.RescheduleOrderPickupCommand{
		OrderID:       orderID,
		UserID:        identity.UserID,
		PickupEventID: strings.TrimSpace(req.PickupEventID),
	})
	if err != nil {
		writeStoreOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: domain.ToPublicOrder(order, nil)})
}

func (h *StoreOrderHandlers) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	var req fulfillOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	updates := make([]services.FulfillItemUpdate, 0, len(req.Items))
	for _, item := range req.Items {
		updates = append(updates, services.FulfillItemUpdate{
			ItemID: strings.TrimSpace(item.ItemID),
			Notes:  item.Notes,
		})
	}

	order, err := h.orders.FulfillOrderItems(ctx, services.FulfillOrderItemsCommand{
		OrderID: orderID,
		ActorID: identity.UserID,
		Updates: updates,
	})
	if err != nil {
		writeStoreOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: domain.ToPublicOrder(order, nil)})
}

func (h *StoreOrderHandlers) markOrderMissed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	order, err := h.orders.MarkOrderAsMissed(ctx, services.MarkOrderMissedCommand{
		OrderID: orderID,
		ActorID: identity.UserID,
	})
	if err != nil {
		writeStoreOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: domain.ToPublicOrder(order, nil)})
}

func (h *StoreOrderHandlers) cancelPendingOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	cancelled, err := h.orders.CancelAllPendingOrders(ctx, services.CancelAllPendingOrdersCommand{
		ActorID: identity.UserID,
	})
	if err != nil {
		writeStoreOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

func toOrderLines(items []orderLinePayload) []services.OrderLine {
	lines := make([]services.OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, services.OrderLine{
			OptionID: strings.TrimSpace(item.OptionID),
			Quantity: item.Quantity,
		})
	}
	return lines
}

func writeStoreOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderValidation):
		httpx.WriteError(ctx, w, httpx.NewError("order_validation_failed", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case isRepositoryUnavailable(err):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

// Shared handler helpers --------------------------------------------------

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func requireURLParam(ctx context.Context, w http.ResponseWriter, r *http.Request, name, message string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
		return "", false
	}
	return value, true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxStoreOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxStoreOrderBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func isRepositoryUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
