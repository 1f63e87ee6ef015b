package di

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campusclub/api/internal/notifications/smtp"
	"github.com/campusclub/api/internal/platform/config"
	"github.com/campusclub/api/internal/repositories"
	"github.com/campusclub/api/internal/repositories/postgres"
	"github.com/campusclub/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders       services.StoreOrderService
	PickupEvents services.PickupEventService
}

// Container wires the database, repositories, and services for runtime use.
type Container struct {
	Config   config.Config
	Provider *postgres.Provider
	Services Services
}

// NewContainer connects the database and assembles the service graph.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider, err := postgres.NewProvider(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
	if err != nil {
		return nil, fmt.Errorf("build postgres provider: %w", err)
	}

	userRepo, err := postgres.NewUserRepository(provider)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("build user repository: %w", err)
	}
	merchRepo, err := postgres.NewMerchItemRepository(provider)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("build merch repository: %w", err)
	}
	orderRepo, err := postgres.NewOrderRepository(provider)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	pickupRepo, err := postgres.NewPickupEventRepository(provider)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("build pickup event repository: %w", err)
	}
	activityRepo, err := postgres.NewActivityRepository(provider)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("build activity repository: %w", err)
	}

	var calendarRepo repositories.CalendarEventRepository
	if cfg.Calendar.LinkingEnabled {
		repo, err := postgres.NewCalendarEventRepository(provider)
		if err != nil {
			provider.Close()
			return nil, fmt.Errorf("build calendar event repository: %w", err)
		}
		calendarRepo = repo
	}

	var dispatcher services.NotificationDispatcher = services.NoopDispatcher{}
	if cfg.SMTP.Enabled() {
		d, err := smtp.NewDispatcher(smtp.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, logger.Named("smtp"))
		if err != nil {
			provider.Close()
			return nil, fmt.Errorf("build smtp dispatcher: %w", err)
		}
		dispatcher = d
	}

	orders, err := services.NewStoreOrderService(services.StoreOrderServiceDeps{
		Users:         userRepo,
		Merch:         merchRepo,
		Orders:        orderRepo,
		PickupEvents:  pickupRepo,
		Activities:    activityRepo,
		UnitOfWork:    provider,
		Notifications: dispatcher,
		Clock:         time.Now,
		Logger:        logger.Named("orders"),
	})
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("build store order service: %w", err)
	}

	events, err := services.NewPickupEventService(services.PickupEventServiceDeps{
		Users:          userRepo,
		Merch:          merchRepo,
		Orders:         orderRepo,
		PickupEvents:   pickupRepo,
		CalendarEvents: calendarRepo,
		UnitOfWork:     provider,
		Notifications:  dispatcher,
		Clock:          time.Now,
		Logger:         logger.Named("pickup-events"),
	})
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("build pickup event service: %w", err)
	}

	return &Container{
		Config:   cfg,
		Provider: provider,
		Services: Services{
			Orders:       orders,
			PickupEvents: events,
		},
	}, nil
}

// Close releases the database pool.
func (c *Container) Close() {
	if c == nil || c.Provider == nil {
		return
	}
	c.Provider.Close()
}
