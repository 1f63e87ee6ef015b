package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/campusclub/api/internal/domain"
	"github.com/campusclub/api/internal/services"
)

type stubPickupEventService struct {
	createFn   func(context.Context, services.CreatePickupEventCommand) (services.OrderPickupEvent, error)
	editFn     func(context.Context, services.EditPickupEventCommand) (services.OrderPickupEvent, error)
	deleteFn   func(context.Context, services.DeletePickupEventCommand) error
	cancelFn   func(context.Context, services.CancelPickupEventCommand) (services.OrderPickupEvent, error)
	completeFn func(context.Context, services.CompletePickupEventCommand) (services.OrderPickupEvent, error)
	getFn      func(context.Context, string) (services.OrderPickupEvent, error)
	listFn     func(context.Context) ([]services.OrderPickupEvent, error)
}

func (s *stubPickupEventService) CreatePickupEvent(ctx context.Context, cmd services.CreatePickupEventCommand) (services.OrderPickupEvent, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.OrderPickupEvent{}, nil
}

func (s *stubPickupEventService) EditPickupEvent(ctx context.Context, cmd services.EditPickupEventCommand) (services.OrderPickupEvent, error) {
	if s.editFn != nil {
		return s.editFn(ctx, cmd)
	}
	return services.OrderPickupEvent{}, nil
}

func (s *stubPickupEventService) DeletePickupEvent(ctx context.Context, cmd services.DeletePickupEventCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return nil
}

func (s *stubPickupEventService) CancelPickupEvent(ctx context.Context, cmd services.CancelPickupEventCommand) (services.OrderPickupEvent, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.OrderPickupEvent{}, nil
}

func (s *stubPickupEventService) CompletePickupEvent(ctx context.Context, cmd services.CompletePickupEventCommand) (services.OrderPickupEvent, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, cmd)
	}
	return services.OrderPickupEvent{}, nil
}

func (s *stubPickupEventService) GetPickupEvent(ctx context.Context, eventID string) (services.OrderPickupEvent, error) {
	if s.getFn != nil {
		return s.getFn(ctx, eventID)
	}
	return services.OrderPickupEvent{}, nil
}

func (s *stubPickupEventService) ListFuturePickupEvents(ctx context.Context) ([]services.OrderPickupEvent, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

var _ services.PickupEventService = (*stubPickupEventService)(nil)

func pickupEventRouter(svc services.PickupEventService) chi.Router {
	r := chi.NewRouter()
	NewPickupEventHandlers(svc).Routes(r)
	return r
}

func sampleEvent() domain.OrderPickupEvent {
	return domain.OrderPickupEvent{
		ID:          "pev-1",
		Title:       "Spring pickup",
		Description: "Clubroom, bring your member card",
		Start:       time.Date(2026, 3, 13, 16, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 3, 13, 18, 0, 0, 0, time.UTC),
		OrderLimit:  20,
		Status:      domain.PickupEventStatusActive,
	}
}

func TestCreatePickupEventReturnsCreated(t *testing.T) {
	var captured services.CreatePickupEventCommand
	svc := &stubPickupEventService{
		createFn: func(_ context.Context, cmd services.CreatePickupEventCommand) (services.OrderPickupEvent, error) {
			captured = cmd
			return sampleEvent(), nil
		},
	}

	body := `{"title":"Spring pickup","description":"Clubroom","start":"2026-03-13T16:00:00Z","end":"2026-03-13T18:00:00Z","orderLimit":20,"linkedEvent":"cal-1"}`
	rec := httptest.NewRecorder()
	pickupEventRouter(svc).ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/store/pickup-events", body, "usr-mgr"))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.ActorID != "usr-mgr" || captured.Title != "Spring pickup" || captured.OrderLimit != 20 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.LinkedEventID == nil || *captured.LinkedEventID != "cal-1" {
		t.Fatalf("expected linked event, got %+v", captured.LinkedEventID)
	}

	var payload struct {
		PickupEvent struct {
			ID string `json:"uuid"`
		} `json:"pickupEvent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.PickupEvent.ID != "pev-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestEditPickupEventSendsOnlyProvidedFields(t *testing.T) {
	var captured services.EditPickupEventCommand
	svc := &stubPickupEventService{
		editFn: func(_ context.Context, cmd services.EditPickupEventCommand) (services.OrderPickupEvent, error) {
			captured = cmd
			return sampleEvent(), nil
		},
	}

	rec := httptest.NewRecorder()
	pickupEventRouter(svc).ServeHTTP(rec, authenticatedRequest(http.MethodPatch, "/store/pickup-events/pev-1", `{"orderLimit":5}`, "usr-mgr"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.EventID != "pev-1" {
		t.Fatalf("unexpected event id %s", captured.EventID)
	}
	if captured.OrderLimit == nil || *captured.OrderLimit != 5 {
		t.Fatalf("expected order limit update, got %+v", captured.OrderLimit)
	}
	if captured.Title != nil || captured.Start != nil || captured.LinkedEventID != nil {
		t.Fatalf("expected untouched fields to stay nil, got %+v", captured)
	}
}

func TestDeletePickupEventReturnsNoContent(t *testing.T) {
	svc := &stubPickupEventService{
		deleteFn: func(_ context.Context, cmd services.DeletePickupEventCommand) error {
			if cmd.EventID != "pev-1" || cmd.ActorID != "usr-mgr" {
				return fmt.Errorf("unexpected command %+v", cmd)
			}
			return nil
		},
	}

	rec := httptest.NewRecorder()
	pickupEventRouter(svc).ServeHTTP(rec, authenticatedRequest(http.MethodDelete, "/store/pickup-events/pev-1", "", "usr-mgr"))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteReferencedEventMapsConflict(t *testing.T) {
	svc := &stubPickupEventService{
		deleteFn: func(context.Context, services.DeletePickupEventCommand) error {
			return fmt.Errorf("%w: event pev-1 still has orders attached, cancel it instead", services.ErrPickupEventConflict)
		},
	}

	rec := httptest.NewRecorder()
	pickupEventRouter(svc).ServeHTTP(rec, authenticatedRequest(http.MethodDelete, "/store/pickup-events/pev-1", "", "usr-mgr"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pickup_event_conflict") {
		t.Fatalf("expected conflict code, got %s", rec.Body.String())
	}
}

func TestListFuturePickupEvents(t *testing.T) {
	svc := &stubPickupEventService{
		listFn: func(context.Context) ([]services.OrderPickupEvent, error) {
			return []services.OrderPickupEvent{sampleEvent()}, nil
		},
	}

	rec := httptest.NewRecorder()
	pickupEventRouter(svc).ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/store/pickup-events", "", "usr-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload pickupEventListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].ID != "pev-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCancelPickupEventRequiresIdentity(t *testing.T) {
	svc := &stubPickupEventService{
		cancelFn: func(context.Context, services.CancelPickupEventCommand) (services.OrderPickupEvent, error) {
			t.Fatal("service should not be called without an identity")
			return services.OrderPickupEvent{}, nil
		},
	}

	rec := httptest.NewRecorder()
	pickupEventRouter(svc).ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/store/pickup-events/pev-1:cancel", "", ""))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
