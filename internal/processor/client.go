// Package processor talks to the external payment processor: checkout
// sessions, billing customers, processor-side invoices and their PDFs.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pmichalski/copydesk/internal/errs"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

type SessionRequest struct {
	AmountMinor   int64             `json:"amount"`
	Currency      string            `json:"currency"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	CustomerEmail string            `json:"customer_email"`
	Reference     string            `json:"client_reference_id,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type CustomerDetails struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrPaymentGateway, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s %s returned %d", errs.ErrPaymentGateway, method, path, resp.StatusCode)
	}
}

// CreateCheckoutSession opens a processor-hosted payment flow. The metadata
// bag must be sufficient to reconstruct the business intent on its own: the
// confirmation webhook may land on a different instance.
func (c *Client) CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", req, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (c *Client) CreateCustomer(ctx context.Context, details CustomerDetails) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/customers", details, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *Client) UpdateCustomer(ctx context.Context, id string, details CustomerDetails) error {
	return c.do(ctx, http.MethodPost, "/v1/customers/"+id, details, nil)
}

// CreateInvoice opens a processor-side invoice for the charged amount.
func (c *Client) CreateInvoice(ctx context.Context, customerID string, amountMinor int64, description string) (string, error) {
	payload := struct {
		Customer    string `json:"customer"`
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}{customerID, amountMinor, description}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/invoices", payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// FinalizeInvoice settles the processor invoice and returns the PDF URL.
func (c *Client) FinalizeInvoice(ctx context.Context, invoiceID string) (string, error) {
	var finalized struct {
		PDFURL string `json:"invoice_pdf"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/invoices/"+invoiceID+"/finalize", nil, &finalized); err != nil {
		return "", err
	}
	return finalized.PDFURL, nil
}

func (c *Client) GetInvoicePDF(ctx context.Context, invoiceID string) (string, error) {
	var inv struct {
		PDFURL string `json:"invoice_pdf"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/invoices/"+invoiceID, nil, &inv); err != nil {
		return "", err
	}
	return inv.PDFURL, nil
}
