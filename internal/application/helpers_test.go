package application_test

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/ports"
)

// fakeClock is a deterministic clock. After fires immediately and
// advances the clock by the waited duration, so cooldown waits and retry
// backoff take no wall time in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	at := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- at
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var _ ports.Clock = (*fakeClock)(nil)

// stubAdapter implements ports.PlatformAdapter with overridable
// function fields. The zero value answers every call successfully.
type stubAdapter struct {
	platform    string
	maxLookback time.Duration

	fetchEntities     func(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, entityType domain.EntityType, window domain.Window, cursor string) (*ports.FetchPage, error)
	fetchEntity       func(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, entityType domain.EntityType, externalID string) (*domain.CanonicalEntity, error)
	pushInventory     func(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, externalID string, quantity int) error
	refreshCredential func(ctx context.Context, integration *domain.Integration, current *domain.Credential) (*domain.Credential, error)
	registerWebhook   func(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, callbackURL string) error
	verifySignature   func(rawBody []byte, headers http.Header, secret string) bool
	parseWebhook      func(rawBody []byte, headers http.Header) (*ports.ParsedWebhook, error)
}

func (a *stubAdapter) Platform() string {
	if a.platform == "" {
		return "stub"
	}
	return a.platform
}

func (a *stubAdapter) MaxLookback() time.Duration { return a.maxLookback }

func (a *stubAdapter) FetchEntities(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, entityType domain.EntityType, window domain.Window, cursor string) (*ports.FetchPage, error) {
	if a.fetchEntities != nil {
		return a.fetchEntities(ctx, integration, auth, entityType, window, cursor)
	}
	return &ports.FetchPage{}, nil
}

func (a *stubAdapter) FetchEntity(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, entityType domain.EntityType, externalID string) (*domain.CanonicalEntity, error) {
	if a.fetchEntity != nil {
		return a.fetchEntity(ctx, integration, auth, entityType, externalID)
	}
	return &domain.CanonicalEntity{ExternalID: externalID, Type: entityType, Platform: a.Platform()}, nil
}

func (a *stubAdapter) PushInventory(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, externalID string, quantity int) error {
	if a.pushInventory != nil {
		return a.pushInventory(ctx, integration, auth, externalID, quantity)
	}
	return nil
}

func (a *stubAdapter) RefreshCredential(ctx context.Context, integration *domain.Integration, current *domain.Credential) (*domain.Credential, error) {
	if a.refreshCredential != nil {
		return a.refreshCredential(ctx, integration, current)
	}
	fresh := *current
	return &fresh, nil
}

func (a *stubAdapter) RegisterWebhook(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, callbackURL string) error {
	if a.registerWebhook != nil {
		return a.registerWebhook(ctx, integration, auth, callbackURL)
	}
	return nil
}

func (a *stubAdapter) VerifyWebhookSignature(rawBody []byte, headers http.Header, secret string) bool {
	if a.verifySignature != nil {
		return a.verifySignature(rawBody, headers, secret)
	}
	return true
}

func (a *stubAdapter) ParseWebhook(rawBody []byte, headers http.Header) (*ports.ParsedWebhook, error) {
	if a.parseWebhook != nil {
		return a.parseWebhook(rawBody, headers)
	}
	return &ports.ParsedWebhook{EntityType: domain.EntityProduct, ExternalID: "1", Kind: domain.ChangeUpdated}, nil
}

var _ ports.PlatformAdapter = (*stubAdapter)(nil)

// recordedPublish is one captured downstream emission.
type recordedPublish struct {
	Entity domain.CanonicalEntity
	Kind   domain.ChangeKind
}

// capturePublisher records every publish; fail can inject errors for the
// first N calls.
type capturePublisher struct {
	mu        sync.Mutex
	published []recordedPublish
	fail      func(call int) error
	calls     int
}

func (p *capturePublisher) Publish(_ context.Context, entity *domain.CanonicalEntity, kind domain.ChangeKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail != nil {
		if err := p.fail(p.calls); err != nil {
			return err
		}
	}
	p.published = append(p.published, recordedPublish{Entity: *entity, Kind: kind})
	return nil
}

func (p *capturePublisher) Published() []recordedPublish {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedPublish, len(p.published))
	copy(out, p.published)
	return out
}

func (p *capturePublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ ports.Publisher = (*capturePublisher)(nil)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
