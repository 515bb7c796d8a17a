package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-sync-core/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookVerifier(t *testing.T) {
	payload := []byte(`{"id":123}`)
	verifier := NewWebhookVerifier("whsec")

	assert.True(t, verifier.Verify(payload, sign("whsec", payload)))
	assert.False(t, verifier.Verify(payload, sign("other-secret", payload)))
	assert.False(t, verifier.Verify(payload, "not-base64-hmac"))
	assert.False(t, verifier.Verify(payload, ""))

	// A tampered body fails against the original signature.
	signature := sign("whsec", payload)
	assert.False(t, verifier.Verify([]byte(`{"id":124}`), signature))
}

func webhookHeaders(topic string) http.Header {
	h := http.Header{}
	h.Set("X-Shopify-Topic", topic)
	return h
}

func TestParseWebhookTopics(t *testing.T) {
	adapter := NewAdapter("key", "secret", DefaultOptions(), testLogger())

	tests := []struct {
		topic      string
		body       string
		entityType domain.EntityType
		externalID string
		kind       domain.ChangeKind
	}{
		{"products/create", `{"id":42}`, domain.EntityProduct, "42", domain.ChangeCreated},
		{"products/update", `{"id":42}`, domain.EntityProduct, "42", domain.ChangeUpdated},
		{"products/delete", `{"id":42}`, domain.EntityProduct, "42", domain.ChangeDeleted},
		{"orders/create", `{"id":7001}`, domain.EntityOrder, "7001", domain.ChangeCreated},
		{"orders/paid", `{"id":7001}`, domain.EntityOrder, "7001", domain.ChangeUpdated},
		{"inventory_levels/update", `{"inventory_item_id":555,"available":3}`, domain.EntityInventory, "555", domain.ChangeUpdated},
		// The refund's own id is not fetchable; the order id is.
		{"refunds/create", `{"id":909,"order_id":7001}`, domain.EntityReturn, "7001", domain.ChangeCreated},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			parsed, err := adapter.ParseWebhook([]byte(tt.body), webhookHeaders(tt.topic))
			require.NoError(t, err)
			assert.Equal(t, tt.entityType, parsed.EntityType)
			assert.Equal(t, tt.externalID, parsed.ExternalID)
			assert.Equal(t, tt.kind, parsed.Kind)
		})
	}
}

func TestParseWebhookRejections(t *testing.T) {
	adapter := NewAdapter("key", "secret", DefaultOptions(), testLogger())

	tests := []struct {
		name    string
		body    string
		headers http.Header
	}{
		{"missing topic header", `{"id":42}`, http.Header{}},
		{"unsupported topic", `{"id":42}`, webhookHeaders("customers/create")},
		{"invalid json", `{"id":`, webhookHeaders("products/update")},
		{"missing id", `{"title":"Widget"}`, webhookHeaders("products/update")},
		{"missing inventory item id", `{"available":3}`, webhookHeaders("inventory_levels/update")},
		{"refund without order id", `{"id":909}`, webhookHeaders("refunds/create")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := adapter.ParseWebhook([]byte(tt.body), tt.headers)
			require.Error(t, err)
			assert.Equal(t, domain.ErrKindMalformedPayload, domain.KindOf(err))
		})
	}
}

func TestMapErrorTaxonomy(t *testing.T) {
	rateErr := goshopify.RateLimitError{RetryAfter: 7}
	err := mapError("fetch", rateErr)
	assert.Equal(t, domain.ErrKindRateLimited, domain.KindOf(err))
	assert.Equal(t, 7*time.Second, domain.RetryAfterOf(err))

	tests := []struct {
		status int
		kind   domain.ErrorKind
	}{
		{http.StatusUnauthorized, domain.ErrKindAuthExpired},
		{http.StatusForbidden, domain.ErrKindAuthExpired},
		{http.StatusNotFound, domain.ErrKindNotFound},
		{http.StatusConflict, domain.ErrKindConflict},
		{http.StatusUnprocessableEntity, domain.ErrKindConflict},
		{http.StatusBadGateway, domain.ErrKindTransient},
		{http.StatusBadRequest, domain.ErrKindMalformedPayload},
	}
	for _, tt := range tests {
		err := mapError("fetch", goshopify.ResponseError{Status: tt.status})
		assert.Equal(t, tt.kind, domain.KindOf(err), "status %d", tt.status)
	}

	// Untyped network failures stay retryable.
	err = mapError("fetch", errors.New("dial tcp: connection refused"))
	assert.Equal(t, domain.ErrKindTransient, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestNumericID(t *testing.T) {
	id, ok := numericID(float64(42))
	require.True(t, ok)
	assert.Equal(t, "42", id)

	id, ok = numericID("gid-42")
	require.True(t, ok)
	assert.Equal(t, "gid-42", id)

	_, ok = numericID(nil)
	assert.False(t, ok)

	_, ok = numericID("")
	assert.False(t, ok)
}

func TestExternalIDPart(t *testing.T) {
	assert.Equal(t, "555", externalIDPart("555"))
	assert.Equal(t, "555", externalIDPart("12:555"))
}

func TestListOptions(t *testing.T) {
	adapter := NewAdapter("key", "secret", DefaultOptions(), testLogger())

	options, err := adapter.listOptions(domain.Window{}, "")
	require.NoError(t, err)
	assert.Nil(t, options.SinceId, "no cursor means no since_id filter")
	assert.Equal(t, 250, options.Limit)

	options, err = adapter.listOptions(domain.Window{}, "42")
	require.NoError(t, err)
	require.NotNil(t, options.SinceId)
	assert.Equal(t, uint64(42), *options.SinceId)

	_, err = adapter.listOptions(domain.Window{}, "not-a-number")
	assert.Error(t, err)
}

func TestInventoryTarget(t *testing.T) {
	opts := DefaultOptions()
	opts.DefaultLocationID = 77
	adapter := NewAdapter("key", "secret", opts, testLogger())

	locationID, itemID, err := adapter.inventoryTarget("555")
	require.NoError(t, err)
	assert.Equal(t, uint64(77), locationID, "bare item ID targets the default location")
	assert.Equal(t, uint64(555), itemID)

	locationID, itemID, err = adapter.inventoryTarget("12:555")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), locationID)
	assert.Equal(t, uint64(555), itemID)

	_, _, err = adapter.inventoryTarget("loc:555")
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindMalformedPayload, domain.KindOf(err))

	_, _, err = adapter.inventoryTarget("12:widget")
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindMalformedPayload, domain.KindOf(err))
}
