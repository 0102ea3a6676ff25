package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const defaultTimeout = 10 * time.Second

var _ API = (*Client)(nil)

// Client talks to the carrier's REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// ClientConfig configures a carrier Client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds every request; defaults to 10s.
	Timeout time.Duration
}

// NewClient constructs a carrier API client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type countryPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type localityPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type streetPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GetCountry resolves a country name to its carrier identifier.
func (c *Client) GetCountry(ctx context.Context, name string) (CountryRef, error) {
	q := url.Values{"name": {name}}
	var out []countryPayload
	if err := c.get(ctx, "/geolocation/countries", q, &out); err != nil {
		return CountryRef{}, err
	}
	if len(out) == 0 {
		return CountryRef{}, errors.Wrapf(ErrNotFound, "country %q", name)
	}
	return CountryRef{ID: out[0].ID, Name: out[0].Name}, nil
}

// GetLocality resolves a locality by name within a country. When the name is
// ambiguous the postal code picks the match; without one the first match wins.
func (c *Client) GetLocality(ctx context.Context, countryID int64, name, postalCode string) (LocalityRef, error) {
	q := url.Values{
		"country_id": {strconv.FormatInt(countryID, 10)},
		"name":       {name},
	}
	if postalCode != "" {
		q.Set("postal_code", postalCode)
	}
	var out []localityPayload
	if err := c.get(ctx, "/geolocation/localities", q, &out); err != nil {
		return LocalityRef{}, err
	}
	if len(out) == 0 {
		return LocalityRef{}, errors.Wrapf(ErrNotFound, "locality %q", name)
	}
	return LocalityRef{ID: out[0].ID, Name: out[0].Name}, nil
}

// GetStreet resolves a street by name within a locality.
func (c *Client) GetStreet(ctx context.Context, localityID int64, name string) (StreetRef, error) {
	if strings.TrimSpace(name) == "" {
		return StreetRef{}, errors.Wrap(ErrNotFound, "empty street name")
	}
	q := url.Values{
		"locality_id": {strconv.FormatInt(localityID, 10)},
		"name":        {name},
	}
	var out []streetPayload
	if err := c.get(ctx, "/geolocation/streets", q, &out); err != nil {
		return StreetRef{}, err
	}
	if len(out) == 0 {
		return StreetRef{}, errors.Wrapf(ErrNotFound, "street %q", name)
	}
	return StreetRef{ID: out[0].ID, Name: out[0].Name}, nil
}

// GetMainStreet returns the locality's generic placeholder street.
func (c *Client) GetMainStreet(ctx context.Context, localityID int64) (StreetRef, error) {
	q := url.Values{
		"locality_id": {strconv.FormatInt(localityID, 10)},
		"main":        {"true"},
	}
	var out []streetPayload
	if err := c.get(ctx, "/geolocation/streets", q, &out); err != nil {
		return StreetRef{}, err
	}
	if len(out) == 0 {
		return StreetRef{}, errors.Wrapf(ErrNotFound, "main street for locality %d", localityID)
	}
	return StreetRef{ID: out[0].ID, Name: out[0].Name}, nil
}

type shipmentPayload struct {
	Sender    contactPayload `json:"sender"`
	Recipient contactPayload `json:"recipient"`

	CountryID  int64  `json:"countryId"`
	LocalityID int64  `json:"localityId"`
	StreetID   int64  `json:"streetId"`
	StreetNo   string `json:"streetNo,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`

	Packages    int             `json:"packages"`
	WeightKg    decimal.Decimal `json:"weight"`
	ServiceTier string          `json:"service"`
	Contents    string          `json:"contents,omitempty"`

	CashOnDelivery decimal.Decimal `json:"cashOnDelivery"`
	Reference      string          `json:"reference,omitempty"`
}

type contactPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type shipmentResultPayload struct {
	ShipmentID string `json:"shipmentId"`
	Packages   []struct {
		TrackingID string `json:"trackingId"`
	} `json:"packages"`
}

// CreateShipment registers a shipment and returns its identifiers.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResponse, error) {
	payload := shipmentPayload{
		Sender:         contactPayload{Name: req.Sender.Name, Phone: req.Sender.Phone, Email: req.Sender.Email},
		Recipient:      contactPayload{Name: req.Recipient.Name, Phone: req.Recipient.Phone, Email: req.Recipient.Email},
		CountryID:      req.CountryID,
		LocalityID:     req.LocalityID,
		StreetID:       req.StreetID,
		StreetNo:       req.StreetNo,
		PostalCode:     req.PostalCode,
		Packages:       req.Packages,
		WeightKg:       req.WeightKg,
		ServiceTier:    req.ServiceTier,
		Contents:       req.Contents,
		CashOnDelivery: req.CollectOnDelivery,
		Reference:      req.Reference,
	}

	var out shipmentResultPayload
	if err := c.post(ctx, "/shipments", payload, &out); err != nil {
		return ShipmentResponse{}, err
	}

	resp := ShipmentResponse{ShipmentID: out.ShipmentID}
	if len(out.Packages) > 0 {
		resp.TrackingID = out.Packages[0].TrackingID
	}
	return resp, nil
}

// CancelShipment voids a shipment at the carrier.
func (c *Client) CancelShipment(ctx context.Context, shipmentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/shipments/"+url.PathEscape(shipmentID), nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.do(req, nil)
}

type trackingPayload struct {
	Status string `json:"status"`
}

// TrackShipment fetches the latest tracking status line.
func (c *Client) TrackShipment(ctx context.Context, shipmentID string) (string, error) {
	var out trackingPayload
	err := c.get(ctx, "/shipments/"+url.PathEscape(shipmentID)+"/tracking", nil, &out)
	if err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "carrier request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode carrier response: %w", err)
	}
	return nil
}
