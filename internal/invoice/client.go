package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const defaultTimeout = 10 * time.Second

var _ API = (*Client)(nil)

// Client talks to the invoicing service's REST API.
type Client struct {
	baseURL string
	apiKey  string
	series  string
	http    *http.Client
}

// ClientConfig configures an invoicing Client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// Series is the invoice number series issued for this shop.
	Series  string
	Timeout time.Duration
}

// NewClient constructs an invoicing API client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		series:  cfg.Series,
		http:    &http.Client{Timeout: timeout},
	}
}

type invoicePayload struct {
	Series string        `json:"series,omitempty"`
	Client clientPayload `json:"client"`
	Lines  []linePayload `json:"lines"`
	Total  decimal.Decimal `json:"total"`
	// IssueDate is formatted YYYY-MM-DD.
	IssueDate string `json:"issueDate"`
	Reference string `json:"reference,omitempty"`
}

type clientPayload struct {
	Name    string `json:"name"`
	CIF     string `json:"cif,omitempty"`
	RegNo   string `json:"regNo,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

type linePayload struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

type invoiceResultPayload struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	URL    string `json:"documentUrl"`
}

// CreateInvoice issues an invoice and returns its identifiers.
func (c *Client) CreateInvoice(ctx context.Context, req CreateRequest) (Invoice, error) {
	payload := invoicePayload{
		Series: c.series,
		Client: clientPayload{
			Name:    req.ClientName,
			CIF:     req.ClientCIF,
			RegNo:   req.ClientReg,
			Email:   req.Email,
			Address: req.Address,
		},
		Total:     req.Total,
		IssueDate: req.IssueDate.Format("2006-01-02"),
		Reference: req.Reference,
	}
	payload.Lines = make([]linePayload, len(req.Lines))
	for i, l := range req.Lines {
		payload.Lines[i] = linePayload{Name: l.Name, UnitPrice: l.UnitPrice, Quantity: l.Quantity}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Invoice{}, errors.Wrap(err, "marshal invoice")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return Invoice{}, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Invoice{}, errors.Wrap(err, "invoicing request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Invoice{}, fmt.Errorf("invoicing api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out invoiceResultPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Invoice{}, fmt.Errorf("decode invoice response: %w", err)
	}
	return Invoice{ID: out.ID, Number: out.Number, URL: out.URL}, nil
}

// DownloadDocument fetches the invoice PDF bytes from its document URL.
func (c *Client) DownloadDocument(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download invoice document")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("invoicing api: document status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
