package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"channel-sync-core/internal/domain"
)

func TestComputeHashIsDeterministic(t *testing.T) {
	entity := &domain.CanonicalEntity{
		ExternalID: "p-1",
		Type:       domain.EntityProduct,
		Payload: map[string]any{
			"id":    "p-1",
			"title": "Widget",
			"variants": []any{
				map[string]any{"sku": "W-1", "price": "9.99"},
			},
		},
	}

	first := entity.ComputeHash()
	assert.NotEmpty(t, first)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, entity.ComputeHash())
	}
}

func TestComputeHashIgnoresKeyInsertionOrder(t *testing.T) {
	a := &domain.CanonicalEntity{Payload: map[string]any{"x": 1.0, "y": 2.0, "z": 3.0}}
	b := &domain.CanonicalEntity{Payload: map[string]any{"z": 3.0, "y": 2.0, "x": 1.0}}
	assert.Equal(t, a.ComputeHash(), b.ComputeHash())
}

func TestComputeHashChangesWithPayload(t *testing.T) {
	a := &domain.CanonicalEntity{Payload: map[string]any{"title": "before"}}
	b := &domain.CanonicalEntity{Payload: map[string]any{"title": "after"}}
	assert.NotEqual(t, a.ComputeHash(), b.ComputeHash())
}

func TestDedupKeyScopes(t *testing.T) {
	webhook := &domain.SyncTask{
		IntegrationID: "int-1",
		EntityType:    domain.EntityProduct,
		Trigger:       domain.TriggerWebhook,
		EntityKey:     "p-1",
	}
	manual := &domain.SyncTask{
		IntegrationID: "int-1",
		EntityType:    domain.EntityProduct,
		Trigger:       domain.TriggerManual,
		Window: domain.Window{
			From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		},
	}

	// Same pair, different trigger semantics: distinct dedup scopes.
	assert.NotEqual(t, webhook.DedupKey(), manual.DedupKey())

	// An identical redelivery produces the same key.
	redelivery := *webhook
	assert.Equal(t, webhook.DedupKey(), redelivery.DedupKey())
}

func TestWindowClamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	wide := domain.Window{From: now.Add(-90 * 24 * time.Hour), To: now}
	clamped := wide.Clamp(now, 60*24*time.Hour)
	assert.Equal(t, now.Add(-60*24*time.Hour), clamped.From)
	assert.Equal(t, now, clamped.To)

	// Inside the limit: untouched.
	narrow := domain.Window{From: now.Add(-time.Hour), To: now}
	assert.Equal(t, narrow, narrow.Clamp(now, 60*24*time.Hour))

	// No limit: untouched.
	assert.Equal(t, wide, wide.Clamp(now, 0))
}

func TestWindowEqual(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	w := domain.Window{From: now.Add(-time.Hour), To: now}

	assert.True(t, w.Equal(w))
	assert.True(t, domain.Window{}.Equal(domain.Window{}))
	assert.False(t, w.Equal(domain.Window{}))
	assert.False(t, w.Equal(domain.Window{From: now.Add(-2 * time.Hour), To: now}))

	// Same instants in a different location still compare equal.
	shifted := domain.Window{From: w.From.In(time.FixedZone("UTC+2", 7200)), To: w.To}
	assert.True(t, w.Equal(shifted))
}
