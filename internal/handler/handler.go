// Package handler exposes the HTTP surface: the storefront checkout flow,
// the payment webhook, and the authenticated admin operations.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atelierluna/fulfillment/internal/admin"
	"github.com/atelierluna/fulfillment/internal/checkout"
	"github.com/atelierluna/fulfillment/internal/domain/order"
	"github.com/atelierluna/fulfillment/internal/payment"
	"github.com/atelierluna/fulfillment/internal/saga"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// SuccessURL and CancelURL are where the payment provider sends the
	// customer after hosted checkout.
	SuccessURL string
	CancelURL  string
}

// DocumentFetcher downloads an issued invoice document by its URL.
type DocumentFetcher interface {
	DownloadDocument(ctx context.Context, url string) ([]byte, error)
}

// Handler wires HTTP routes to the checkout service, the saga, and the
// admin service.
type Handler struct {
	checkout  *checkout.Service
	saga      *saga.Saga
	admin     *admin.Service
	payments  payment.Gateway
	documents DocumentFetcher
	cfg       Config
}

// New constructs a Handler with the required dependencies.
func New(
	cfg Config,
	checkoutSvc *checkout.Service,
	sg *saga.Saga,
	adminSvc *admin.Service,
	payments payment.Gateway,
	documents DocumentFetcher,
) *Handler {
	return &Handler{
		checkout:  checkoutSvc,
		saga:      sg,
		admin:     adminSvc,
		payments:  payments,
		documents: documents,
		cfg:       cfg,
	}
}

// Routes mounts all endpoints on a chi router. Admin routes require the
// given security middleware.
func (h *Handler) Routes(r chi.Router, secured func(http.Handler) http.Handler) {
	r.Post("/checkout", h.PostCheckout)
	r.Get("/checkout/success", h.GetCheckoutSuccess)
	r.Post("/webhooks/payment", h.PostPaymentWebhook)

	r.Route("/admin/orders/{orderID}", func(r chi.Router) {
		r.Use(secured)
		r.Get("/", h.GetOrder)
		r.Post("/fulfill", h.PostFulfill)
		r.Post("/cancel", h.PostCancel)
		r.Post("/refund", h.PostRefund)
		r.Post("/retry-shipment", h.PostRetryShipment)
		r.Post("/retry-invoice", h.PostRetryInvoice)
		r.Get("/invoice", h.GetInvoiceDocument)
	})
}

// errorResponse is the uniform error payload.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

// orderResponse is the JSON view of an order.
type orderResponse struct {
	ID             string              `json:"id"`
	Number         string              `json:"number"`
	Subtotal       decimal.Decimal     `json:"subtotal"`
	Discount       decimal.Decimal     `json:"discount"`
	ShippingCost   decimal.Decimal     `json:"shippingCost"`
	Total          decimal.Decimal     `json:"total"`
	PaymentStatus  string              `json:"paymentStatus"`
	PaymentMethod  string              `json:"paymentMethod"`
	Status         string              `json:"status"`
	CourierName    string              `json:"courierName,omitempty"`
	TrackingID     string              `json:"trackingId,omitempty"`
	TrackingStatus string              `json:"trackingStatus,omitempty"`
	InvoiceNumber  string              `json:"invoiceNumber,omitempty"`
	Items          []orderItemResponse `json:"items"`
}

type orderItemResponse struct {
	VariantID string          `json:"variantId"`
	Name      string          `json:"name"`
	Size      string          `json:"size,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			VariantID: it.VariantID,
			Name:      it.Name,
			Size:      it.Size,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		}
	}
	return orderResponse{
		ID:             o.ID,
		Number:         o.Number,
		Subtotal:       o.Subtotal,
		Discount:       o.Discount,
		ShippingCost:   o.ShippingCost,
		Total:          o.Total,
		PaymentStatus:  string(o.PaymentStatus),
		PaymentMethod:  string(o.PaymentMethod),
		Status:         string(o.Status),
		CourierName:    o.CourierName,
		TrackingID:     o.TrackingID,
		TrackingStatus: o.TrackingStatus,
		InvoiceNumber:  o.InvoiceNumber,
		Items:          items,
	}
}

// runSaga runs the fulfillment steps for a freshly confirmed order. Step
// failures are already logged and recorded by the saga; the HTTP response
// does not depend on them.
func (h *Handler) runSaga(r *http.Request, orderID string) {
	if _, err := h.saga.Run(r.Context(), orderID); err != nil {
		zctx.From(r.Context()).Error("fulfillment run failed",
			zap.String("order_id", orderID), zap.Error(err))
	}
}
