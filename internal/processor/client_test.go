package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pmichalski/copydesk/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestCreateCheckoutSession(t *testing.T) {
	var got SessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Session{ID: "cs_1", URL: "https://pay.example/cs_1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")
	session, err := client.CreateCheckoutSession(context.Background(), SessionRequest{
		AmountMinor: 3000,
		Currency:    "pln",
		SuccessURL:  "https://app.example/success",
		CancelURL:   "https://app.example/cancel",
		Metadata:    map[string]string{"type": "order_payment"},
	})
	require.NoError(t, err)
	require.Equal(t, "cs_1", session.ID)
	require.Equal(t, "https://pay.example/cs_1", session.URL)
	require.Equal(t, int64(3000), got.AmountMinor)
	require.Equal(t, "order_payment", got.Metadata["type"])
}

func TestClientWrapsGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")
	_, err := client.CreateCheckoutSession(context.Background(), SessionRequest{})
	require.ErrorIs(t, err, errs.ErrPaymentGateway)

	srv.Close()
	_, err = client.CreateCheckoutSession(context.Background(), SessionRequest{})
	require.ErrorIs(t, err, errs.ErrPaymentGateway, "transport failures map to the gateway error too")
}

func TestCreateCustomer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var details CustomerDetails
		if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if details.TaxID != "5213003700" {
			t.Errorf("unexpected tax id %q", details.TaxID)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "cus_1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")
	id, err := client.CreateCustomer(context.Background(), CustomerDetails{
		Name:  "Ala Kowalska",
		Email: "ala@example.com",
		TaxID: "5213003700",
	})
	require.NoError(t, err)
	require.Equal(t, "cus_1", id)
}

func TestInvoiceLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/invoices":
			json.NewEncoder(w).Encode(map[string]string{"id": "in_1"})
		case "/v1/invoices/in_1/finalize":
			json.NewEncoder(w).Encode(map[string]string{"invoice_pdf": "https://pay.example/in_1.pdf"})
		case "/v1/invoices/in_1":
			json.NewEncoder(w).Encode(map[string]string{"invoice_pdf": "https://pay.example/in_1.pdf"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")

	id, err := client.CreateInvoice(context.Background(), "cus_1", 8000, "payment abc")
	require.NoError(t, err)
	require.Equal(t, "in_1", id)

	pdf, err := client.FinalizeInvoice(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/in_1.pdf", pdf)

	pdf, err = client.GetInvoicePDF(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/in_1.pdf", pdf)
}
