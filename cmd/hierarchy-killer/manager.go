package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/hierarchy-killer/pkg/eventbus"
	"github.com/dukex/hierarchy-killer/pkg/hierarchy"
	"github.com/dukex/hierarchy-killer/pkg/hostbridge"
	"github.com/dukex/hierarchy-killer/pkg/reporter"
	"github.com/dukex/hierarchy-killer/pkg/web"
)

const shutdownTimeout = 10 * time.Second

// Manager owns the lifecycle of the daemon: it subscribes the dispatcher to
// the lifecycle topic, serves the API and tears everything down on exit.
type Manager struct {
	id         string
	bus        eventbus.EventBus
	dispatcher *hostbridge.Dispatcher
	tracker    *hierarchy.Tracker
	reporter   *reporter.Reporter
	api        *web.API
	port       int
	logger     *slog.Logger
}

func NewManager(
	id string,
	bus eventbus.EventBus,
	dispatcher *hostbridge.Dispatcher,
	tracker *hierarchy.Tracker,
	reporter *reporter.Reporter,
	api *web.API,
	port int,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		id:         id,
		bus:        bus,
		dispatcher: dispatcher,
		tracker:    tracker,
		reporter:   reporter,
		api:        api,
		port:       port,
		logger:     logger.With("module", "hierarchy-killer", "manager_id", id),
	}
}

// Run blocks until ctx is cancelled, SIGINT or SIGTERM is received, or the
// API server fails.
func (m *Manager) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m.logger.InfoContext(ctx, "Starting hierarchy killer")

	err := m.start(ctx)
	if err != nil {
		m.shutdown(ctx)

		return err
	}

	serverErr := make(chan error, 1)

	if m.api != nil && m.port > 0 {
		go func() {
			serverErr <- m.api.Start(m.port)
		}()
	}

	m.logger.InfoContext(ctx, "Hierarchy killer started", "port", m.port)

	var runErr error

	select {
	case <-ctx.Done():
		m.logger.InfoContext(ctx, "Shutting down gracefully...")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("api server failed: %w", err)
			m.logger.ErrorContext(ctx, "API server failed", "error", err)
		}
	}

	m.shutdown(ctx)

	return runErr
}

func (m *Manager) start(ctx context.Context) error {
	err := m.dispatcher.Register(m.bus)
	if err != nil {
		return err
	}

	err = m.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to lifecycle events: %w", err)
	}

	if m.reporter != nil {
		err = m.reporter.Start(ctx)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if m.api != nil {
		err := m.api.Shutdown()
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to stop API server", "error", err)
		}
	}

	if m.reporter != nil {
		m.reporter.Report(ctx)
		m.reporter.Stop(ctx)
	}

	m.tracker.Shutdown(ctx)

	err := m.bus.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	m.logger.InfoContext(ctx, "Hierarchy killer stopped")
}
