package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/campusclub/api/internal/domain"
	"github.com/campusclub/api/internal/platform/httpx"
	"github.com/campusclub/api/internal/services"
)

// PickupEventHandlers exposes the pickup event endpoints.
type PickupEventHandlers struct {
	events services.PickupEventService
}

// NewPickupEventHandlers constructs a new PickupEventHandlers instance.
func NewPickupEventHandlers(events services.PickupEventService) *PickupEventHandlers {
	return &PickupEventHandlers{events: events}
}

// Routes registers the /store/pickup-events endpoints.
func (h *PickupEventHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/store/pickup-events", func(g chi.Router) {
		g.Get("/", h.listEvents)
		g.Post("/", h.createEvent)
		g.Get("/{eventID}", h.getEvent)
		g.Patch("/{eventID}", h.editEvent)
		g.Delete("/{eventID}", h.deleteEvent)
		g.Post("/{eventID}:cancel", h.cancelEvent)
		g.Post("/{eventID}:complete", h.completeEvent)
	})
}

type createPickupEventRequest struct {
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	OrderLimit    int       `json:"orderLimit"`
	LinkedEventID *string   `json:"linkedEvent"`
}

type editPickupEventRequest struct {
	Title         *string    `json:"title"`
	Description   *string    `json:"description"`
	Start         *time.Time `json:"start"`
	End           *time.Time `json:"end"`
	OrderLimit    *int       `json:"orderLimit"`
	LinkedEventID *string    `json:"linkedEvent"`
}

type pickupEventResponse struct {
	PickupEvent domain.PublicPickupEvent `json:"pickupEvent"`
}

type pickupEventListResponse struct {
	Items []domain.PublicPickupEvent `json:"items"`
}

func (h *PickupEventHandlers) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_service_unavailable", "pickup event service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	events, err := h.events.ListFuturePickupEvents(ctx)
	if err != nil {
		writePickupEventError(ctx, w, err)
		return
	}

	items := make([]domain.PublicPickupEvent, 0, len(events))
	for _, event := range events {
		items = append(items, domain.ToPublicPickupEvent(event))
	}
	writeJSONResponse(w, http.StatusOK, pickupEventListResponse{Items: items})
}

func (h *PickupEventHandlers) getEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_service_unavailable", "pickup event service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	eventID, ok := requireURLParam(ctx, w, r, "eventID", "pickup event id is required")
	if !ok {
		return
	}

	event, err := h.events.GetPickupEvent(ctx, eventID)
	if err != nil {
		writePickupEventError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, pickupEventResponse{PickupEvent: domain.ToPublicPickupEvent(event)})
}

func (h *PickupEventHandlers) createEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_service_unavailable", "pickup event service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createPickupEventRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	event, err := h.events.CreatePickupEvent(ctx, services.CreatePickupEventCommand{
		ActorID:       identity.UserID,
		Title:         req.Title,
		Description:   req.Description,
		Start:         req.Start,
		End:           req.End,
		OrderLimit:    req.OrderLimit,
		LinkedEventID: req.LinkedEventID,
	})
	if err != nil {
		writePickupEventError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, pickupEventResponse{PickupEvent: domain.ToPublicPickupEvent(event)})
}

func (h *PickupEventHandlers) editEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_service_unavailable", "pickup event service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	eventID, ok := requireURLParam(ctx, w, r, "eventID", "pickup event id is required")
	if !ok {
		return
	}

	var req editPickupEventRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	event, err := h.events.EditPickupEvent(ctx, services.EditPickupEventCommand{
		ActorID:       identity.UserID,
		EventID:       eventID,
		Title:         req.Title,
		Description:   req.Description,
		Start:         req.Start,
		End:           req.End,
		OrderLimit:    req.OrderLimit,
		LinkedEventID: req.LinkedEventID,
	})
	if err != nil {
		writePickupEventError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, pickupEventResponse{PickupEvent: domain.ToPublicPickupEvent(event)})
}

func (h *PickupEventHandlers) deleteEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_service_unavailable", "pickup event service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	eventID, ok := requireURLParam(ctx, w, r, "eventID", "pickup event id is required")
	if !ok {
		return
	}

	if err := h.events.DeletePickupEvent(ctx, services.DeletePickupEventCommand{
		ActorID: identity.UserID,
		EventID: eventID,
	}); err != nil {
		writePickupEventError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PickupEventHandlers) cancelEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_service_unavailable", "pickup event service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	eventID, ok := requireURLParam(ctx, w, r, "eventID", "pickup event id is required")
	if !ok {
		return
	}

	event, err := h.events.CancelPickupEvent(ctx, services.CancelPickupEventCommand{
		ActorID: identity.UserID,
		EventID: eventID,
	})
	if err != nil {
		writePickupEventError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, pickupEventResponse{PickupEvent: domain.ToPublicPickupEvent(event)})
}

func (h *PickupEventHandlers) completeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_service_unavailable", "pickup event service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	eventID, ok := requireURLParam(ctx, w, r, "eventID", "pickup event id is required")
	if !ok {
		return
	}

	event, err := h.events.CompletePickupEvent(ctx, services.CompletePickupEventCommand{
		ActorID: identity.UserID,
		EventID: eventID,
	})
	if err != nil {
		writePickupEventError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, pickupEventResponse{PickupEvent: domain.ToPublicPickupEvent(event)})
}

func writePickupEventError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPickupEventInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPickupEventValidation):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_validation_failed", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPickupEventNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrPickupEventForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrPickupEventInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPickupEventConflict):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_conflict", err.Error(), http.StatusConflict))
	case isRepositoryUnavailable(err):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("pickup_event_error", "failed to process pickup event request", http.StatusInternalServerError))
	}
}
