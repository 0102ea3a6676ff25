package payment

import (
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testSecret = "whsec_test"

func signedHeader(t *testing.T, payload []byte) string {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testSecret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func TestVerifyWebhookCompletedSession(t *testing.T) {
	// The fixture carries an account-pinned api_version older than the
	// SDK's; verification must accept it.
	payload := []byte(`{
		"id": "evt_1",
		"api_version": "2023-10-16",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_123",
			"customer_details": {"email": "ana@example.com"},
			"metadata": {
				"shipping_details_id": "ship-1",
				"items": "[{\"v\":\"var-1\",\"q\":2}]",
				"discount_codes": "WELCOME10,SHIPFREE"
			}
		}}
	}`)

	s := NewStripe("sk_test", testSecret, "ron")
	confirmed, err := s.VerifyWebhook(payload, signedHeader(t, payload))
	require.NoError(t, err)

	assert.Equal(t, "cs_test_123", confirmed.SessionKey)
	assert.Equal(t, "ana@example.com", confirmed.CustomerEmail)
	assert.Equal(t, "ship-1", confirmed.ShippingDetailsID)
	require.Len(t, confirmed.Items, 1)
	assert.Equal(t, CartItem{VariantID: "var-1", Quantity: 2}, confirmed.Items[0])
	assert.Equal(t, []string{"WELCOME10", "SHIPFREE"}, confirmed.DiscountCodes)
}

func TestVerifyWebhookIgnoresOtherEvents(t *testing.T) {
	payload := []byte(`{"id": "evt_2", "api_version": "2023-10-16", "type": "payment_intent.created", "data": {"object": {}}}`)

	s := NewStripe("sk_test", testSecret, "ron")
	_, err := s.VerifyWebhook(payload, signedHeader(t, payload))
	require.ErrorIs(t, err, ErrIgnoredEvent)
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id": "evt_3", "type": "checkout.session.completed", "data": {"object": {}}}`)

	s := NewStripe("sk_test", testSecret, "ron")
	_, err := s.VerifyWebhook(payload, "t=1,v1=deadbeef")
	require.Error(t, err)
}

func TestParseConfirmedRejectsIncompleteMetadata(t *testing.T) {
	_, err := parseConfirmed(&stripe.CheckoutSession{
		ID:       "cs_test_456",
		Metadata: map[string]string{"shipping_details_id": "ship-1"},
	})
	require.Error(t, err)
}
