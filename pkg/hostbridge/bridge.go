// Package hostbridge exposes a remote build host as a protocol.Host.
//
// The host shares two Redis keys with the bridge: a set of executing run ids
// and a hash of pending requests (request id to JSON encoded causes). Run
// metadata is cached from lifecycle events, and abort or cancel commands are
// published back to the host on the bus.
package hostbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/hierarchy-killer/pkg/eventbus"
	"github.com/dukex/hierarchy-killer/pkg/events"
	"github.com/dukex/hierarchy-killer/pkg/models"
	"github.com/dukex/hierarchy-killer/pkg/protocol"
	redis "github.com/redis/go-redis/v9"
)

const DefaultPrefix = "hierarchy-killer"

type runInfo struct {
	url     string
	causes  []models.Cause
	config  map[string]string
	outcome *models.Severity
}

var _ protocol.Host = (*Bridge)(nil)

type Bridge struct {
	client    redis.UniversalClient
	publisher eventbus.EventPublisher
	prefix    string
	logger    *slog.Logger

	mu   sync.RWMutex
	runs map[models.RunID]*runInfo
}

func NewBridge(client redis.UniversalClient, publisher eventbus.EventPublisher, prefix string, logger *slog.Logger) *Bridge {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Bridge{
		client:    client,
		publisher: publisher,
		prefix:    strings.TrimSuffix(prefix, ":"),
		logger:    logger.With("module", "host_bridge"),
		runs:      make(map[models.RunID]*runInfo),
	}
}

// Connect opens a Redis client from a redis:// URL and pings it.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (b *Bridge) executingKey() string {
	return b.prefix + ":executing"
}

func (b *Bridge) queueKey() string {
	return b.prefix + ":queue"
}

// Remember caches a started run and marks it executing.
func (b *Bridge) Remember(ctx context.Context, started *events.RunStarted) error {
	b.mu.Lock()
	b.runs[started.RunID] = &runInfo{
		url:    started.URL,
		causes: slices.Clone(started.Causes),
		config: started.Config,
	}
	b.mu.Unlock()

	err := b.client.SAdd(ctx, b.executingKey(), string(started.RunID)).Err()
	if err != nil {
		return fmt.Errorf("failed to mark run %s executing: %w", started.RunID, err)
	}

	return nil
}

// Complete records the outcome of a run and clears its executing mark.
func (b *Bridge) Complete(ctx context.Context, completed *events.RunCompleted) error {
	b.mu.Lock()

	info, ok := b.runs[completed.RunID]
	if !ok {
		info = &runInfo{}
		b.runs[completed.RunID] = info
	}

	info.outcome = completed.Outcome
	b.mu.Unlock()

	err := b.client.SRem(ctx, b.executingKey(), string(completed.RunID)).Err()
	if err != nil {
		return fmt.Errorf("failed to clear executing mark of run %s: %w", completed.RunID, err)
	}

	return nil
}

// Forget drops everything the bridge knows about a run.
func (b *Bridge) Forget(ctx context.Context, run models.RunID) error {
	b.mu.Lock()
	delete(b.runs, run)
	b.mu.Unlock()

	return b.client.SRem(ctx, b.executingKey(), string(run)).Err()
}

// Known reports how many runs are cached.
func (b *Bridge) Known() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.runs)
}

func (b *Bridge) info(run models.RunID) (runInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info, ok := b.runs[run]
	if !ok {
		return runInfo{}, false
	}

	return *info, true
}

func (b *Bridge) Causes(_ context.Context, run models.RunID) ([]models.Cause, error) {
	info, ok := b.info(run)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunUnknown, run)
	}

	return slices.Clone(info.causes), nil
}

func (b *Bridge) ConfigValue(_ context.Context, run models.RunID, key string) (string, bool, error) {
	info, ok := b.info(run)
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrRunUnknown, run)
	}

	value, ok := info.config[key]

	return value, ok, nil
}

func (b *Bridge) Outcome(_ context.Context, run models.RunID) (models.Severity, bool) {
	info, ok := b.info(run)
	if !ok || info.outcome == nil {
		return 0, false
	}

	return *info.outcome, true
}

func (b *Bridge) URL(_ context.Context, run models.RunID) string {
	info, ok := b.info(run)
	if !ok || info.url == "" {
		return string(run)
	}

	return info.url
}

func (b *Bridge) IsExecuting(ctx context.Context, run models.RunID) bool {
	executing, err := b.client.SIsMember(ctx, b.executingKey(), string(run)).Result()
	if err != nil {
		b.logger.WarnContext(ctx, "Failed to read executing state", "run", run, "error", err)

		return false
	}

	return executing
}

// Abort publishes an abort command. The host stops the run asynchronously.
func (b *Bridge) Abort(ctx context.Context, run models.RunID) error {
	err := b.publisher.Publish(ctx, string(run), events.AbortRequested{
		BaseEvent: events.NewBaseEvent(events.AbortRequestedEvent, run),
	})
	if err != nil {
		return fmt.Errorf("failed to publish abort of run %s: %w", run, err)
	}

	return nil
}

// Enqueue adds a request to the pending queue.
func (b *Bridge) Enqueue(ctx context.Context, request models.PendingRequest) error {
	causes, err := json.Marshal(request.Causes)
	if err != nil {
		return err
	}

	return b.client.HSet(ctx, b.queueKey(), request.ID, causes).Err()
}

// PendingRequests lists the queue ordered by request id. Entries whose causes
// cannot be decoded are skipped.
func (b *Bridge) PendingRequests(ctx context.Context) ([]models.PendingRequest, error) {
	entries, err := b.client.HGetAll(ctx, b.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read pending queue: %w", err)
	}

	requests := make([]models.PendingRequest, 0, len(entries))

	for id, payload := range entries {
		var causes []models.Cause

		err := json.Unmarshal([]byte(payload), &causes)
		if err != nil {
			b.logger.WarnContext(ctx, "Skipping undecodable pending request", "request", id, "error", err)

			continue
		}

		requests = append(requests, models.PendingRequest{ID: id, Causes: causes})
	}

	slices.SortFunc(requests, func(a, b models.PendingRequest) int {
		return strings.Compare(a.ID, b.ID)
	})

	return requests, nil
}

// Cancel removes the request from the queue and, if it was still there,
// tells the host to drop it.
func (b *Bridge) Cancel(ctx context.Context, request models.PendingRequest) error {
	removed, err := b.client.HDel(ctx, b.queueKey(), request.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to cancel request %s: %w", request.ID, err)
	}

	if removed == 0 {
		return nil
	}

	run, _ := models.SoleUpstream(request.Causes)

	event := events.CancelRequested{
		BaseEvent: events.NewBaseEvent(events.CancelRequestedEvent, run),
		RequestID: request.ID,
	}

	err = b.publisher.Publish(ctx, request.ID, event)
	if err != nil {
		return fmt.Errorf("failed to publish cancellation of request %s: %w", request.ID, err)
	}

	return nil
}
