package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"github.com/rs/zerolog"

	"channel-sync-core/internal/domain"
	"channel-sync-core/internal/ports"
)

const platformTag = "shopify"

// Shopify won't serve order history older than 60 days on standard API
// access; product listings are unrestricted but we clamp uniformly.
const maxLookback = 60 * 24 * time.Hour

var defaultWebhookTopics = []string{
	"products/create",
	"products/update",
	"products/delete",
	"orders/create",
	"orders/updated",
	"orders/cancelled",
	"inventory_levels/update",
	"refunds/create",
}

// Options tunes the adapter.
type Options struct {
	// PageSize is the per-page fetch limit (Shopify caps at 250).
	PageSize int
	// DefaultLocationID is the location inventory pushes target when the
	// external ID carries no location prefix.
	DefaultLocationID uint64
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{PageSize: 250}
}

// Adapter implements ports.PlatformAdapter against the Shopify Admin
// API. Stateless aside from app credentials: the per-integration access
// token arrives on every call.
type Adapter struct {
	app    goshopify.App
	opts   Options
	logger zerolog.Logger
}

// NewAdapter creates a Shopify adapter.
func NewAdapter(apiKey, apiSecret string, opts Options, logger zerolog.Logger) *Adapter {
	if opts.PageSize <= 0 || opts.PageSize > 250 {
		opts.PageSize = 250
	}
	return &Adapter{
		app:    goshopify.App{ApiKey: apiKey, ApiSecret: apiSecret},
		opts:   opts,
		logger: logger,
	}
}

func (a *Adapter) Platform() string {
	return platformTag
}

func (a *Adapter) MaxLookback() time.Duration {
	return maxLookback
}

// createClient is a helper to create a goshopify client bound to one
// shop and access token.
func (a *Adapter) createClient(integration *domain.Integration, auth domain.AuthHeader) (*goshopify.Client, error) {
	client, err := goshopify.NewClient(a.app, integration.ExternalAccount, auth.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

// FetchEntities pages by since_id: the cursor is the highest external ID
// seen so far, which makes resuming after a crash a plain continuation.
func (a *Adapter) FetchEntities(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, entityType domain.EntityType, window domain.Window, cursor string) (*ports.FetchPage, error) {
	client, err := a.createClient(integration, auth)
	if err != nil {
		return nil, domain.NewTransient("fetch", err)
	}

	options, err := a.listOptions(window, cursor)
	if err != nil {
		return nil, err
	}

	var raws []any
	switch entityType {
	case domain.EntityProduct:
		products, err := client.Product.List(ctx, options)
		if err != nil {
			return nil, mapError("fetch products", err)
		}
		for i := range products {
			raws = append(raws, products[i])
		}
	case domain.EntityOrder, domain.EntityReturn:
		// Returns ride the order stream: refunds are nested on orders.
		orders, err := client.Order.List(ctx, options)
		if err != nil {
			return nil, mapError("fetch orders", err)
		}
		for i := range orders {
			raws = append(raws, orders[i])
		}
	case domain.EntityInventory:
		levels, err := client.InventoryLevel.List(ctx, goshopify.InventoryLevelListOptions{
			LocationIds: []uint64{a.opts.DefaultLocationID},
			Limit:       a.opts.PageSize,
		})
		if err != nil {
			return nil, mapError("fetch inventory levels", err)
		}
		for i := range levels {
			raws = append(raws, levels[i])
		}
	default:
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}

	page := &ports.FetchPage{Cursor: cursor}
	for _, raw := range raws {
		entity, err := a.toCanonical(entityType, raw)
		if err != nil {
			return nil, err
		}
		page.Entities = append(page.Entities, *entity)
		page.Cursor = entity.ExternalID
	}
	// Inventory levels have no since_id pagination; one page covers the
	// configured location.
	page.HasMore = entityType != domain.EntityInventory && len(raws) == a.opts.PageSize

	return page, nil
}

// listOptions builds the since_id paging options for one fetch call.
func (a *Adapter) listOptions(window domain.Window, cursor string) (goshopify.ListOptions, error) {
	options := goshopify.ListOptions{
		Limit:        a.opts.PageSize,
		UpdatedAtMin: window.From,
		UpdatedAtMax: window.To,
	}
	if cursor != "" {
		sinceID, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return options, fmt.Errorf("malformed cursor %q: %w", cursor, err)
		}
		options.SinceId = &sinceID
	}
	return options, nil
}

// FetchEntity retrieves one entity by external ID.
func (a *Adapter) FetchEntity(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, entityType domain.EntityType, externalID string) (*domain.CanonicalEntity, error) {
	client, err := a.createClient(integration, auth)
	if err != nil {
		return nil, domain.NewTransient("fetch", err)
	}

	id, err := strconv.ParseUint(externalIDPart(externalID), 10, 64)
	if err != nil {
		return nil, domain.NewMalformedPayload("fetch entity", fmt.Errorf("bad external id %q: %w", externalID, err))
	}

	var raw any
	switch entityType {
	case domain.EntityProduct:
		product, err := client.Product.Get(ctx, id, nil)
		if err != nil {
			return nil, mapError("fetch product", err)
		}
		raw = product
	case domain.EntityOrder, domain.EntityReturn:
		order, err := client.Order.Get(ctx, id, nil)
		if err != nil {
			return nil, mapError("fetch order", err)
		}
		raw = order
	case domain.EntityInventory:
		levels, err := client.InventoryLevel.List(ctx, goshopify.InventoryLevelListOptions{
			InventoryItemIds: []uint64{id},
		})
		if err != nil {
			return nil, mapError("fetch inventory level", err)
		}
		if len(levels) == 0 {
			return nil, domain.NewNotFound("fetch inventory level", fmt.Errorf("inventory item %d has no levels", id))
		}
		raw = levels[0]
	default:
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}

	return a.toCanonical(entityType, raw)
}

// PushInventory sets the absolute available quantity, so repeating the
// same push is a remote no-op. The external ID is either
// "inventoryItemID" or "locationID:inventoryItemID".
func (a *Adapter) PushInventory(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, externalID string, quantity int) error {
	client, err := a.createClient(integration, auth)
	if err != nil {
		return domain.NewTransient("push inventory", err)
	}

	locationID, itemID, err := a.inventoryTarget(externalID)
	if err != nil {
		return err
	}

	_, err = client.InventoryLevel.Set(ctx, goshopify.InventoryLevel{
		InventoryItemId: itemID,
		LocationId:      locationID,
		Available:       quantity,
	})
	if err != nil {
		return mapError("push inventory", err)
	}
	return nil
}

// inventoryTarget splits the external ID into location and inventory
// item IDs, falling back to the configured default location when the ID
// carries no "locationID:" prefix.
func (a *Adapter) inventoryTarget(externalID string) (locationID, itemID uint64, err error) {
	locationID = a.opts.DefaultLocationID
	itemPart := externalID
	if loc, item, ok := strings.Cut(externalID, ":"); ok {
		itemPart = item
		locationID, err = strconv.ParseUint(loc, 10, 64)
		if err != nil {
			return 0, 0, domain.NewMalformedPayload("push inventory", fmt.Errorf("bad location in %q: %w", externalID, err))
		}
	}
	itemID, err = strconv.ParseUint(itemPart, 10, 64)
	if err != nil {
		return 0, 0, domain.NewMalformedPayload("push inventory", fmt.Errorf("bad inventory item in %q: %w", externalID, err))
	}
	return locationID, itemID, nil
}

// RefreshCredential validates the token with a lightweight shop call.
// Shopify offline access tokens don't expire unless revoked, so a
// "refresh" either confirms the current token or surfaces revocation.
func (a *Adapter) RefreshCredential(ctx context.Context, integration *domain.Integration, current *domain.Credential) (*domain.Credential, error) {
	client, err := a.createClient(integration, current.Header())
	if err != nil {
		return nil, domain.NewTransient("refresh", err)
	}

	if _, err := client.Shop.Get(ctx, nil); err != nil {
		return nil, mapError("refresh", err)
	}

	fresh := *current
	fresh.ExpiresAt = time.Time{}
	return &fresh, nil
}

// RegisterWebhook subscribes the default topics to the callback URL.
func (a *Adapter) RegisterWebhook(ctx context.Context, integration *domain.Integration, auth domain.AuthHeader, callbackURL string) error {
	client, err := a.createClient(integration, auth)
	if err != nil {
		return domain.NewTransient("register webhook", err)
	}

	for _, topic := range defaultWebhookTopics {
		webhook := goshopify.Webhook{
			Topic:   topic,
			Address: callbackURL,
			Format:  "json",
		}
		if _, err := client.Webhook.Create(ctx, webhook); err != nil {
			return mapError("register webhook "+topic, err)
		}
		a.logger.Debug().
			Str("shop", integration.ExternalAccount).
			Str("topic", topic).
			Msg("Webhook registered")
	}
	return nil
}

// VerifyWebhookSignature checks the X-Shopify-Hmac-SHA256 header in
// constant time.
func (a *Adapter) VerifyWebhookSignature(rawBody []byte, headers http.Header, secret string) bool {
	return NewWebhookVerifier(secret).Verify(rawBody, headers.Get("X-Shopify-Hmac-SHA256"))
}

// ParseWebhook maps the Shopify topic header plus body to the entity
// reference the dispatcher enqueues on.
func (a *Adapter) ParseWebhook(rawBody []byte, headers http.Header) (*ports.ParsedWebhook, error) {
	topic := headers.Get("X-Shopify-Topic")
	if topic == "" {
		return nil, domain.NewMalformedPayload("parse webhook", errors.New("missing X-Shopify-Topic header"))
	}

	entityType, kind, err := classifyTopic(topic)
	if err != nil {
		return nil, err
	}

	var body map[string]any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, domain.NewMalformedPayload("parse webhook", err)
	}

	idField := "id"
	switch entityType {
	case domain.EntityInventory:
		idField = "inventory_item_id"
	case domain.EntityReturn:
		// A refund payload's own id is useless for fetching: the sync
		// unit for returns is the order the refund belongs to.
		idField = "order_id"
	}
	externalID, ok := numericID(body[idField])
	if !ok {
		return nil, domain.NewMalformedPayload("parse webhook", fmt.Errorf("missing %s in %s payload", idField, topic))
	}

	return &ports.ParsedWebhook{
		EntityType: entityType,
		ExternalID: externalID,
		Kind:       kind,
	}, nil
}

func classifyTopic(topic string) (domain.EntityType, domain.ChangeKind, error) {
	switch topic {
	case "products/create":
		return domain.EntityProduct, domain.ChangeCreated, nil
	case "products/update":
		return domain.EntityProduct, domain.ChangeUpdated, nil
	case "products/delete":
		return domain.EntityProduct, domain.ChangeDeleted, nil
	case "orders/create":
		return domain.EntityOrder, domain.ChangeCreated, nil
	case "orders/updated", "orders/paid", "orders/fulfilled", "orders/cancelled":
		return domain.EntityOrder, domain.ChangeUpdated, nil
	case "inventory_levels/update":
		return domain.EntityInventory, domain.ChangeUpdated, nil
	case "refunds/create":
		return domain.EntityReturn, domain.ChangeCreated, nil
	}
	return "", "", domain.NewMalformedPayload("parse webhook", fmt.Errorf("unsupported topic %q", topic))
}

// toCanonical round-trips the SDK struct through JSON so the canonical
// payload is exactly what Shopify serves, and the content hash is stable
// across SDK versions.
func (a *Adapter) toCanonical(entityType domain.EntityType, raw any) (*domain.CanonicalEntity, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", entityType, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", entityType, err)
	}

	idField := "id"
	if entityType == domain.EntityInventory {
		idField = "inventory_item_id"
	}
	externalID, ok := numericID(payload[idField])
	if !ok {
		return nil, fmt.Errorf("%s payload has no %s", entityType, idField)
	}

	entity := &domain.CanonicalEntity{
		ExternalID: externalID,
		Platform:   platformTag,
		Type:       entityType,
		Payload:    payload,
	}
	entity.Hash = entity.ComputeHash()
	return entity, nil
}

func numericID(v any) (string, bool) {
	switch id := v.(type) {
	case float64:
		return strconv.FormatInt(int64(id), 10), true
	case string:
		if id != "" {
			return id, true
		}
	case json.Number:
		return id.String(), true
	}
	return "", false
}

func externalIDPart(externalID string) string {
	if _, item, ok := strings.Cut(externalID, ":"); ok {
		return item
	}
	return externalID
}

// mapError tags SDK errors with the shared taxonomy so the worker can
// decide retry vs terminal failure.
func mapError(op string, err error) error {
	var rateErr goshopify.RateLimitError
	if errors.As(err, &rateErr) {
		return domain.NewRateLimited(op, time.Duration(rateErr.RetryAfter)*time.Second)
	}

	var respErr goshopify.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.Status == http.StatusUnauthorized || respErr.Status == http.StatusForbidden:
			return domain.NewAuthExpired(op, err)
		case respErr.Status == http.StatusNotFound:
			return domain.NewNotFound(op, err)
		case respErr.Status == http.StatusConflict || respErr.Status == http.StatusUnprocessableEntity:
			return domain.NewConflict(op, err)
		}
		if respErr.Status >= 500 {
			return domain.NewTransient(op, err)
		}
		return domain.NewMalformedPayload(op, err)
	}

	// Network and timeout failures surface untyped.
	return domain.NewTransient(op, err)
}
