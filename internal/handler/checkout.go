package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atelierluna/fulfillment/internal/checkout"
	"github.com/atelierluna/fulfillment/internal/domain/catalog"
	"github.com/atelierluna/fulfillment/internal/domain/discount"
	"github.com/atelierluna/fulfillment/internal/domain/order"
	"github.com/atelierluna/fulfillment/internal/payment"
)

// checkoutRequest is the storefront's checkout submission. Reference is
// the storefront's checkout attempt id; resubmitting the same reference
// reuses the payment session at the provider instead of opening a new one.
type checkoutRequest struct {
	PaymentMethod     string             `json:"paymentMethod"`
	Reference         string             `json:"reference,omitempty"`
	ShippingDetailsID string             `json:"shippingDetailsId"`
	Email             string             `json:"email,omitempty"`
	Items             []checkoutItem     `json:"items"`
	DiscountCodes     []string           `json:"discountCodes,omitempty"`
	Lines             []checkoutLineInfo `json:"lines,omitempty"`
}

type checkoutItem struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// checkoutLineInfo carries display data for the hosted payment page.
type checkoutLineInfo struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// PostCheckout starts a checkout. Cash-on-delivery creates the order
// immediately (payment pending); card returns a hosted payment session URL
// and the order is created later by the webhook.
func (h *Handler) PostCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch order.PaymentMethod(req.PaymentMethod) {
	case order.MethodCashOnDelivery:
		h.createCashOnDelivery(w, r, req)
	case order.MethodCard:
		h.createCardSession(w, r, req)
	default:
		writeError(w, http.StatusBadRequest, "unsupported payment method")
	}
}

func (h *Handler) createCashOnDelivery(w http.ResponseWriter, r *http.Request, req checkoutRequest) {
	items := make([]checkout.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = checkout.ItemRequest{VariantID: it.VariantID, Quantity: it.Quantity}
	}

	result, err := h.checkout.CreateOrder(r.Context(), checkout.CreateRequest{
		PaymentMethod:     order.MethodCashOnDelivery,
		ShippingDetailsID: req.ShippingDetailsID,
		Items:             items,
		DiscountCodes:     req.DiscountCodes,
	})
	if err != nil {
		mapCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(result.Order))
}

func (h *Handler) createCardSession(w http.ResponseWriter, r *http.Request, req checkoutRequest) {
	cart := make([]payment.CartItem, len(req.Items))
	for i, it := range req.Items {
		cart[i] = payment.CartItem{VariantID: it.VariantID, Quantity: it.Quantity}
	}
	lines := make([]payment.SessionLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = payment.SessionLine{
			Name:        l.Name,
			AmountMinor: l.UnitPrice.Mul(decimal.NewFromInt(100)).IntPart(),
			Quantity:    int64(l.Quantity),
		}
	}

	sess, err := h.payments.CreateSession(r.Context(), payment.SessionRequest{
		Reference:         req.Reference,
		CustomerEmail:     req.Email,
		ShippingDetailsID: req.ShippingDetailsID,
		Items:             cart,
		DiscountCodes:     req.DiscountCodes,
		Lines:             lines,
		SuccessURL:        h.cfg.SuccessURL,
		CancelURL:         h.cfg.CancelURL,
	})
	if err != nil {
		zctx.From(r.Context()).Error("create payment session", zap.Error(err))
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId":   sess.ID,
		"redirectUrl": sess.URL,
	})
}

// PostPaymentWebhook receives payment-provider events. A verified
// checkout.session.completed event creates the order (idempotently, keyed by
// session) and runs the fulfillment steps. Replays return 200 with nothing
// written.
func (h *Handler) PostPaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	confirmed, err := h.payments.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrIgnoredEvent) {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid webhook")
		return
	}

	items := make([]checkout.ItemRequest, len(confirmed.Items))
	for i, it := range confirmed.Items {
		items[i] = checkout.ItemRequest{VariantID: it.VariantID, Quantity: it.Quantity}
	}
	result, err := h.checkout.CreateOrder(r.Context(), checkout.CreateRequest{
		SessionKey:        confirmed.SessionKey,
		PaymentMethod:     order.MethodCard,
		ShippingDetailsID: confirmed.ShippingDetailsID,
		Items:             items,
		DiscountCodes:     confirmed.DiscountCodes,
	})
	if err != nil {
		zctx.From(r.Context()).Error("create order from webhook",
			zap.String("session_key", confirmed.SessionKey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "order creation failed")
		return
	}

	if result.Created {
		h.runSaga(r, result.Order.ID)
	}
	w.WriteHeader(http.StatusOK)
}

// GetCheckoutSuccess is the success-page callback. For card orders it looks
// up the order by session; for cash-on-delivery it confirms payment and
// starts fulfillment exactly once. Revisits are safe.
func (h *Handler) GetCheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	if key := r.URL.Query().Get("session"); key != "" {
		o, err := h.checkout.GetBySessionKey(r.Context(), key)
		if err != nil {
			mapCheckoutError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderResponse(o))
		return
	}

	orderID := r.URL.Query().Get("order")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "session or order parameter required")
		return
	}
	o, confirmed, err := h.checkout.ConfirmCashOnDelivery(r.Context(), orderID)
	if err != nil {
		mapCheckoutError(w, err)
		return
	}
	if confirmed {
		h.runSaga(r, o.ID)
		// Reload: the saga recorded shipment and invoice references.
		if fresh, err := h.checkout.GetByID(r.Context(), o.ID); err == nil {
			o = fresh
		}
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// mapCheckoutError converts domain errors to HTTP error responses.
func mapCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkout.ErrEmptyItems),
		errors.Is(err, checkout.ErrShippingDetailsRequired):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, discount.ErrInvalidCode),
		errors.Is(err, discount.ErrExpired),
		errors.Is(err, discount.ErrUsageLimitReached),
		errors.Is(err, discount.ErrNotStackable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var iqErr *checkout.InvalidQuantityError
	if errors.As(err, &iqErr) {
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
		return
	}
	var vnfErr *catalog.NotFoundError
	if errors.As(err, &vnfErr) {
		writeError(w, http.StatusUnprocessableEntity, vnfErr.Error())
		return
	}
	var stockErr *order.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeError(w, http.StatusConflict, stockErr.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, "internal error")
}
