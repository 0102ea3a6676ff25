// Package carrier integrates with the shipping carrier: location lookups,
// shipment creation/cancellation and tracking, plus the address-resolution
// fallback ladder that turns a free-text address into carrier identifiers.
package carrier

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/atelierluna/fulfillment/internal/domain/order"
)

// ErrNotFound is returned by location lookups when the carrier does not
// recognize the queried name.
var ErrNotFound = errors.New("carrier: not found")

// Address is the free-text shipping address as entered by the customer.
type Address struct {
	Country    string
	County     string
	City       string
	PostalCode string
	Street     string
	StreetNo   string
}

// Freeform renders the address as a single human-readable line. This is what
// lands in the shipment notes when resolution degrades.
func (a Address) Freeform() string {
	parts := []string{}
	if a.Street != "" {
		s := a.Street
		if a.StreetNo != "" {
			s += " nr. " + a.StreetNo
		}
		parts = append(parts, s)
	}
	if a.City != "" {
		parts = append(parts, a.City)
	}
	if a.County != "" {
		parts = append(parts, a.County)
	}
	if a.PostalCode != "" {
		parts = append(parts, a.PostalCode)
	}
	if a.Country != "" {
		parts = append(parts, a.Country)
	}
	return strings.Join(parts, ", ")
}

// CountryRef, LocalityRef and StreetRef are carrier location identifiers.
type (
	CountryRef struct {
		ID   int64
		Name string
	}
	LocalityRef struct {
		ID   int64
		Name string
	}
	StreetRef struct {
		ID   int64
		Name string
	}
)

// LocationAPI is the carrier's location-lookup surface, split out from the
// full client so the resolution ladder is testable in isolation.
type LocationAPI interface {
	GetCountry(ctx context.Context, name string) (CountryRef, error)
	// GetLocality disambiguates by postal code when the locality name is
	// ambiguous; postalCode may be empty.
	GetLocality(ctx context.Context, countryID int64, name, postalCode string) (LocalityRef, error)
	GetStreet(ctx context.Context, localityID int64, name string) (StreetRef, error)
	// GetMainStreet returns the carrier-recognized generic street for a
	// locality, used as a placeholder when the real street is unknown.
	GetMainStreet(ctx context.Context, localityID int64) (StreetRef, error)
}

// Contact identifies a shipment party.
type Contact struct {
	Name  string
	Phone string
	Email string
}

// ShipmentRequest is the carrier create-shipment payload.
type ShipmentRequest struct {
	Sender    Contact
	Recipient Contact

	CountryID  int64
	LocalityID int64
	StreetID   int64
	StreetNo   string
	PostalCode string

	Packages    int
	WeightKg    decimal.Decimal
	ServiceTier string
	// Contents carries the declared package contents. Degraded resolutions
	// embed the true delivery address here for manual handling.
	Contents string

	// CollectOnDelivery is the amount the courier collects from the
	// recipient; zero for prepaid card orders.
	CollectOnDelivery decimal.Decimal
	Reference         string
}

// ShipmentResponse identifies the created shipment.
type ShipmentResponse struct {
	ShipmentID string
	TrackingID string
}

// ShipmentAPI is the carrier's shipment surface.
type ShipmentAPI interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResponse, error)
	CancelShipment(ctx context.Context, shipmentID string) error
	// TrackShipment returns the latest human-readable tracking status.
	TrackShipment(ctx context.Context, shipmentID string) (string, error)
}

// API is the full carrier surface.
type API interface {
	LocationAPI
	ShipmentAPI
}

// minWeightKg is the carrier's minimum declared package weight.
var minWeightKg = decimal.NewFromInt(1)

// PackageWeight sums per-item weight × quantity across line items, floored
// at the carrier minimum of 1 kg.
func PackageWeight(items []order.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Weight.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if total.LessThan(minWeightKg) {
		return minWeightKg
	}
	return total
}

// APIError is a structured error payload from the carrier API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier api: status %d: %s", e.Status, e.Message)
}
