package carrier

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// ResolutionKind tags how far down the fallback ladder resolution got.
type ResolutionKind string

const (
	// Resolved means country, locality and street all matched; the shipment
	// carries a fully structured address.
	Resolved ResolutionKind = "resolved"
	// DegradedPlaceholderStreet means the street was not recognized; the
	// shipment uses the locality's generic main street and carries the true
	// address in its contents field.
	DegradedPlaceholderStreet ResolutionKind = "degraded_placeholder_street"
	// DegradedMinimal means even the locality (or its placeholder street)
	// could not be resolved; the shipment carries no structured address and
	// the full address travels in the contents field for manual handling.
	DegradedMinimal ResolutionKind = "degraded_minimal"
)

// Resolution is the outcome of the address-resolution ladder. Degraded
// kinds always preserve the true address in Notes.
type Resolution struct {
	Kind       ResolutionKind
	CountryID  int64
	LocalityID int64
	StreetID   int64
	// Notes holds the free-text address for degraded resolutions; empty
	// when fully resolved.
	Notes string
}

// ResolveAddress walks the fallback ladder: full resolution, then the
// placeholder-street downgrade, then the minimal shipment. Each rung is
// attempted once; a failed lookup downgrades, it is never retried. The
// function itself never fails. The worst case is a DegradedMinimal
// resolution.
func ResolveAddress(ctx context.Context, api LocationAPI, addr Address) Resolution {
	lg := zctx.From(ctx)
	minimal := Resolution{Kind: DegradedMinimal, Notes: addr.Freeform()}

	country, err := api.GetCountry(ctx, addr.Country)
	if err != nil {
		lg.Warn("country lookup failed, falling back to minimal shipment",
			zap.String("country", addr.Country), zap.Error(err))
		return minimal
	}

	locality, err := api.GetLocality(ctx, country.ID, addr.City, addr.PostalCode)
	if err != nil {
		lg.Warn("locality lookup failed, falling back to minimal shipment",
			zap.String("city", addr.City), zap.String("postal_code", addr.PostalCode), zap.Error(err))
		return minimal
	}

	street, err := api.GetStreet(ctx, locality.ID, addr.Street)
	if err == nil {
		return Resolution{
			Kind:       Resolved,
			CountryID:  country.ID,
			LocalityID: locality.ID,
			StreetID:   street.ID,
		}
	}

	lg.Warn("street lookup failed, trying placeholder street",
		zap.String("street", addr.Street), zap.Int64("locality_id", locality.ID), zap.Error(err))

	placeholder, err := api.GetMainStreet(ctx, locality.ID)
	if err != nil {
		lg.Warn("placeholder street lookup failed, falling back to minimal shipment",
			zap.Int64("locality_id", locality.ID), zap.Error(err))
		return minimal
	}

	return Resolution{
		Kind:       DegradedPlaceholderStreet,
		CountryID:  country.ID,
		LocalityID: locality.ID,
		StreetID:   placeholder.ID,
		Notes:      addr.Freeform(),
	}
}
