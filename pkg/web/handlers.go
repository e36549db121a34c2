package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/hierarchy-killer/pkg/eventbus"
	"github.com/dukex/hierarchy-killer/pkg/events"
	"github.com/dukex/hierarchy-killer/pkg/log"
	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// Controller is the operational surface of the tracker.
type Controller interface {
	AbortCount() int64
	TrackedCount() int
	Active() bool
	SetActive(active bool)
}

type APIHandlers struct {
	controller Controller
	ledger     persistence.Ledger
	publisher  eventbus.EventPublisher
	validator  *validator.Validate
	logger     *slog.Logger
}

func NewAPIHandlers(
	controller Controller,
	ledger persistence.Ledger,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		controller: controller,
		ledger:     ledger,
		publisher:  publisher,
		validator:  validator,
		logger:     logger.With("module", "api"),
	}
}

func (h *APIHandlers) GetStats(c fiber.Ctx) error {
	return c.JSON(h.stats())
}

func (h *APIHandlers) stats() StatsResponse {
	return StatsResponse{
		Active:   h.controller.Active(),
		Aborted:  h.controller.AbortCount(),
		Tracked:  h.controller.TrackedCount(),
		LogLevel: log.Level(),
	}
}

func (h *APIHandlers) SetActive(c fiber.Ctx) error {
	var req SetActiveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	h.controller.SetActive(*req.Active)
	h.logger.InfoContext(c.Context(), "Kill switch changed", "active", *req.Active)

	return c.JSON(h.stats())
}

func (h *APIHandlers) SetLogLevel(c fiber.Ctx) error {
	var req SetLogLevelRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := log.SetLevel(req.Level); err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(fiber.Map{"log_level": log.Level()})
}

func (h *APIHandlers) GetEntries(c fiber.Ctx) error {
	opts := persistence.ListOptions{RunID: models.RunID(c.Query("run_id"))}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		opts.Limit = limit
	}

	opts = opts.Normalize()

	entries, err := h.ledger.Entries(c.Context(), opts)
	if err != nil {
		return handleLedgerError(c, err)
	}

	return c.JSON(EntriesResponse{
		Entries: entries,
		Count:   len(entries),
		Limit:   opts.Limit,
	})
}

func (h *APIHandlers) GetEntry(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Entry ID is required")
	}

	entry, err := h.ledger.Entry(c.Context(), id)
	if err != nil {
		return handleLedgerError(c, err)
	}

	return c.JSON(entry)
}

// PushEvent accepts a lifecycle event from a host that cannot reach the bus
// and publishes it on the lifecycle topic.
func (h *APIHandlers) PushEvent(c fiber.Ctx) error {
	body := c.Body()

	if err := validateLifecycleEvent(body); err != nil {
		return badRequest(c, err.Error())
	}

	var envelope struct {
		Type events.EventType `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	event, ok := events.New(envelope.Type)
	if !ok {
		return badRequest(c, "Unknown event type "+string(envelope.Type))
	}

	if err := json.Unmarshal(body, event); err != nil {
		return badRequest(c, err.Error())
	}

	base := baseOf(event)
	if base.ID == "" {
		base.ID = uuid.New().String()
	}

	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now().UTC()
	}

	if err := h.validator.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	published, ok := event.(eventbus.Event)
	if !ok {
		return badRequest(c, "Unsupported event type "+string(envelope.Type))
	}

	if err := h.publisher.Publish(c.Context(), string(base.RunID), published); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AcceptedEventResponse{
		ID:        base.ID,
		Type:      string(envelope.Type),
		RunID:     string(base.RunID),
		Timestamp: base.Timestamp,
	})
}

func baseOf(event any) *events.BaseEvent {
	switch e := event.(type) {
	case *events.RunStarted:
		return &e.BaseEvent
	case *events.RunCompleted:
		return &e.BaseEvent
	case *events.RunFinalized:
		return &e.BaseEvent
	default:
		return &events.BaseEvent{}
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	ledgerCheck := "ok"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.ledger.HealthCheck(ctx); err != nil {
		ledgerCheck = err.Error()
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"active": h.controller.Active(),
		"checkers": fiber.Map{
			"ledger": ledgerCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
