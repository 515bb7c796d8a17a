package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/ports"
)

// StatusChannel represents a subscription channel for task events
type StatusChannel struct {
	ID     string
	Filter *StatusFilter
	Events chan *domain.TaskEvent
	Done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// StatusFilter filters task events
type StatusFilter struct {
	IntegrationID string            // Filter by integration
	EntityTypes   []domain.EntityType // Filter by entity types
}

// StatusBus fans out task lifecycle events to subscribers. Delivery is
// best effort: a subscriber with a full buffer misses the event.
type StatusBus struct {
	mu       sync.RWMutex
	channels map[string]*StatusChannel
	logger   zerolog.Logger
	nextID   int64
	idMu     sync.Mutex
}

// NewStatusBus creates a new task event bus
func NewStatusBus(logger zerolog.Logger) *StatusBus {
	return &StatusBus{
		channels: make(map[string]*StatusChannel),
		logger:   logger,
	}
}

// Subscribe creates a new subscription channel
func (b *StatusBus) Subscribe(ctx context.Context, filter *StatusFilter) *StatusChannel {
	b.idMu.Lock()
	id := b.generateID()
	b.idMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)

	channel := &StatusChannel{
		ID:     id,
		Filter: filter,
		Events: make(chan *domain.TaskEvent, 10), // Buffered channel
		Done:   make(chan struct{}),
		ctx:    subCtx,
		cancel: cancel,
	}

	b.mu.Lock()
	b.channels[id] = channel
	b.mu.Unlock()

	b.logger.Info().
		Str("channelId", id).
		Interface("filter", filter).
		Msg("Status subscription created")

	// Cleanup when context is cancelled
	go func() {
		<-subCtx.Done()
		b.Unsubscribe(id)
	}()

	return channel
}

// Unsubscribe removes a subscription channel
func (b *StatusBus) Unsubscribe(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channel, exists := b.channels[channelID]
	if !exists {
		return
	}

	close(channel.Events)
	close(channel.Done)
	channel.cancel()
	delete(b.channels, channelID)

	b.logger.Info().
		Str("channelId", channelID).
		Msg("Status subscription removed")
}

// Publish broadcasts a task event to all matching subscribers
func (b *StatusBus) Publish(event *domain.TaskEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	publishedCount := 0
	for _, channel := range b.channels {
		if b.matchesFilter(event, channel.Filter) {
			select {
			case channel.Events <- event:
				publishedCount++
			case <-channel.ctx.Done():
				// Channel is closed, skip
			default:
				// Channel buffer full, skip (non-blocking)
				b.logger.Warn().
					Str("channelId", channel.ID).
					Msg("Channel buffer full, dropping event")
			}
		}
	}

	if publishedCount > 0 {
		b.logger.Debug().
			Str("integrationId", event.IntegrationID).
			Str("entityType", string(event.EntityType)).
			Str("outcome", string(event.Outcome)).
			Int("subscribers", publishedCount).
			Msg("Published task event to subscribers")
	}
}

// matchesFilter checks if an event matches the subscription filter
func (b *StatusBus) matchesFilter(event *domain.TaskEvent, filter *StatusFilter) bool {
	if filter == nil {
		return true // No filter, match all
	}

	if filter.IntegrationID != "" && event.IntegrationID != filter.IntegrationID {
		return false
	}

	if len(filter.EntityTypes) > 0 {
		typeMatch := false
		for _, et := range filter.EntityTypes {
			if event.EntityType == et {
				typeMatch = true
				break
			}
		}
		if !typeMatch {
			return false
		}
	}

	return true
}

// generateID generates a unique channel ID
func (b *StatusBus) generateID() string {
	b.nextID++
	return fmt.Sprintf("channel-%d", b.nextID)
}

// GetStats returns pub/sub statistics
func (b *StatusBus) GetStats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return map[string]interface{}{
		"active_subscriptions": len(b.channels),
	}
}

var _ ports.EventSink = (*StatusBus)(nil)
