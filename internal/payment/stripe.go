// Package payment wraps the Stripe Checkout integration: session creation
// for card orders, webhook verification, and refunds.
package payment

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Metadata keys on the checkout session. The session carries the whole cart
// so the webhook can create the order without any server-side cart state.
const (
	metaShippingDetails = "shipping_details_id"
	metaItems           = "items"
	metaDiscountCodes   = "discount_codes"
)

// ErrIgnoredEvent marks webhook events this service does not act on.
var ErrIgnoredEvent = errors.New("ignored webhook event")

// CartItem is one cart line as carried through session metadata.
type CartItem struct {
	VariantID string `json:"v"`
	Quantity  int    `json:"q"`
}

// SessionLine is a display line for the hosted checkout page.
type SessionLine struct {
	Name string
	// AmountMinor is the unit price in bani.
	AmountMinor int64
	Quantity    int64
}

// SessionRequest describes a checkout session to create.
type SessionRequest struct {
	// Reference doubles as the Stripe idempotency key.
	Reference         string
	CustomerEmail     string
	ShippingDetailsID string
	Items             []CartItem
	DiscountCodes     []string
	Lines             []SessionLine
	SuccessURL        string
	CancelURL         string
}

// Session is a created checkout session; URL is where the customer pays.
type Session struct {
	ID  string
	URL string
}

// Confirmed is a verified payment confirmation extracted from the
// checkout.session.completed webhook. SessionKey is the idempotency key for
// order creation.
type Confirmed struct {
	SessionKey        string
	CustomerEmail     string
	ShippingDetailsID string
	Items             []CartItem
	DiscountCodes     []string
}

// Gateway is the payment provider surface the handlers depend on.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	VerifyWebhook(payload []byte, signature string) (*Confirmed, error)
	Refund(ctx context.Context, sessionKey string) error
}

var _ Gateway = (*Stripe)(nil)

// Stripe implements Gateway against the Stripe API.
type Stripe struct {
	sc            *client.API
	webhookSecret string
	currency      string
}

// NewStripe returns a Stripe gateway. Currency defaults to RON.
func NewStripe(apiKey, webhookSecret, currency string) *Stripe {
	if currency == "" {
		currency = "ron"
	}
	return &Stripe{
		sc:            client.New(apiKey, nil),
		webhookSecret: webhookSecret,
		currency:      strings.ToLower(currency),
	}
}

// CreateSession opens a hosted checkout session carrying the cart snapshot
// in metadata.
func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	items, err := json.Marshal(req.Items)
	if err != nil {
		return Session{}, errors.Wrap(err, "encode cart")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata: map[string]string{
			metaShippingDetails: req.ShippingDetailsID,
			metaItems:           string(items),
			metaDiscountCodes:   strings.Join(req.DiscountCodes, ","),
		},
	}
	params.Context = ctx
	if req.Reference != "" {
		params.SetIdempotencyKey(req.Reference)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for _, l := range req.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(l.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.currency),
				UnitAmount: stripe.Int64(l.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(l.Name),
				},
			},
		})
	}

	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, errors.Wrap(err, "create checkout session")
	}
	return Session{ID: sess.ID, URL: sess.URL}, nil
}

// VerifyWebhook checks the event signature and extracts the confirmation
// from a checkout.session.completed event. Other event types return
// ErrIgnoredEvent.
func (s *Stripe) VerifyWebhook(payload []byte, signature string) (*Confirmed, error) {
	// The event's api_version is pinned to the Stripe account, which can
	// lag behind the SDK's expected version.
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Wrap(err, "verify signature")
	}
	if event.Type != "checkout.session.completed" {
		return nil, errors.Wrapf(ErrIgnoredEvent, "type %s", event.Type)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	return parseConfirmed(&sess)
}

func parseConfirmed(sess *stripe.CheckoutSession) (*Confirmed, error) {
	c := &Confirmed{
		SessionKey:        sess.ID,
		ShippingDetailsID: sess.Metadata[metaShippingDetails],
	}
	if sess.CustomerEmail != "" {
		c.CustomerEmail = sess.CustomerEmail
	} else if sess.CustomerDetails != nil {
		c.CustomerEmail = sess.CustomerDetails.Email
	}
	if raw := sess.Metadata[metaItems]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Items); err != nil {
			return nil, errors.Wrap(err, "decode cart metadata")
		}
	}
	if raw := sess.Metadata[metaDiscountCodes]; raw != "" {
		c.DiscountCodes = strings.Split(raw, ",")
	}
	if c.SessionKey == "" || c.ShippingDetailsID == "" || len(c.Items) == 0 {
		return nil, errors.New("incomplete session metadata")
	}
	return c, nil
}

// Refund refunds the payment behind a checkout session in full.
func (s *Stripe) Refund(ctx context.Context, sessionKey string) error {
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	sess, err := s.sc.CheckoutSessions.Get(sessionKey, getParams)
	if err != nil {
		return errors.Wrap(err, "fetch checkout session")
	}
	if sess.PaymentIntent == nil {
		return errors.New("session has no payment intent")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(sess.PaymentIntent.ID),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + sessionKey)
	if _, err := s.sc.Refunds.New(params); err != nil {
		return errors.Wrap(err, "create refund")
	}
	return nil
}
