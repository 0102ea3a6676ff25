package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/atelierluna/fulfillment/internal/admin"
	"github.com/atelierluna/fulfillment/internal/domain/order"
)

// GetOrder returns an order for admin inspection.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.admin.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		mapAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// PostFulfill marks an order fulfilled.
func (h *Handler) PostFulfill(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.admin.Fulfill)
}

// PostCancel cancels an order, its shipment, and returns stock.
func (h *Handler) PostCancel(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.admin.Cancel)
}

// PostRefund refunds the payment and marks the order refunded.
func (h *Handler) PostRefund(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.admin.Refund)
}

// PostRetryShipment re-runs shipment provisioning.
func (h *Handler) PostRetryShipment(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.admin.RetryShipment)
}

// PostRetryInvoice re-runs invoice issuing.
func (h *Handler) PostRetryInvoice(w http.ResponseWriter, r *http.Request) {
	h.adminAction(w, r, h.admin.RetryInvoice)
}

// GetInvoiceDocument streams the order's invoice PDF.
func (h *Handler) GetInvoiceDocument(w http.ResponseWriter, r *http.Request) {
	o, err := h.admin.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		mapAdminError(w, err)
		return
	}
	if o.InvoiceURL == "" {
		writeError(w, http.StatusNotFound, "order has no invoice")
		return
	}

	doc, err := h.documents.DownloadDocument(r.Context(), o.InvoiceURL)
	if err != nil {
		writeError(w, http.StatusBadGateway, "invoice provider unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+o.InvoiceNumber+`.pdf"`)
	_, _ = w.Write(doc)
}

func (h *Handler) adminAction(
	w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, id string) (*order.Order, error),
) {
	o, err := action(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		mapAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// mapAdminError converts admin domain errors to HTTP error responses.
func mapAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, admin.ErrTerminalStatus):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrVersionConflict):
		writeError(w, http.StatusConflict, "order changed concurrently, retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
