// Package invoice integrates with the invoicing service. Invoice issuance is
// a best-effort saga step: failures are recorded and surfaced to admins, but
// never abort fulfillment.
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atelierluna/fulfillment/internal/domain/order"
)

// Line is an invoice line item.
type Line struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// CreateRequest is the create-invoice payload. ClientCIF empty means the
// invoice is issued to an individual.
type CreateRequest struct {
	ClientName string
	ClientCIF  string
	ClientReg  string
	Email      string
	Address    string

	Lines     []Line
	Total     decimal.Decimal
	IssueDate time.Time
	Reference string
}

// Invoice identifies an issued invoice and its document.
type Invoice struct {
	ID     string
	Number string
	URL    string
}

// API is the invoicing surface consumed by the saga and admin handlers.
type API interface {
	CreateInvoice(ctx context.Context, req CreateRequest) (Invoice, error)
	// DownloadDocument fetches the invoice PDF from its document URL.
	DownloadDocument(ctx context.Context, url string) ([]byte, error)
}

// BuildRequest assembles the create-invoice payload from an order. Company
// billing fields on the shipping details switch the client identity from
// individual to fiscal entity.
func BuildRequest(o *order.Order, issuedAt time.Time) CreateRequest {
	req := CreateRequest{
		ClientName: o.Shipping.RecipientName(),
		Email:      o.Shipping.Email,
		Address: fmt.Sprintf("%s %s, %s, %s",
			o.Shipping.Street, o.Shipping.StreetNo, o.Shipping.City, o.Shipping.Country),
		Total:     o.Total,
		IssueDate: issuedAt,
		Reference: o.Number,
	}
	if o.Shipping.IsCompany() {
		req.ClientName = o.Shipping.CompanyName
		req.ClientCIF = o.Shipping.CompanyCIF
		req.ClientReg = o.Shipping.CompanyReg
	}

	req.Lines = make([]Line, len(o.Items))
	for i, it := range o.Items {
		name := it.Name
		if it.Size != "" {
			name = fmt.Sprintf("%s (%s)", it.Name, it.Size)
		}
		req.Lines[i] = Line{
			Name:      name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		}
	}
	return req
}
