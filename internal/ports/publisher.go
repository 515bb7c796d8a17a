package ports

import (
	"context"
	"time"

	"channel-sync-core/internal/domain"
)

// Publisher delivers canonical entities to downstream order, inventory
// and product systems. Delivery is at-least-once; downstream consumers
// are expected to be idempotent on (internal ID, content hash).
type Publisher interface {
	Publish(ctx context.Context, entity *domain.CanonicalEntity, kind domain.ChangeKind) error
}

// DedupStore remembers submission keys for a bounded horizon.
// Remember returns true exactly once per key within the TTL, even under
// concurrent calls, which is what prevents duplicate admission during
// webhook storms.
type DedupStore interface {
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// EventSink receives terminal task events for status subscribers.
type EventSink interface {
	Publish(event *domain.TaskEvent)
}

// Clock abstracts time so retry and cooldown behavior is testable
// without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}
