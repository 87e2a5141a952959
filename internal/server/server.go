package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/pmichalski/copydesk/internal/config"
	"github.com/pmichalski/copydesk/internal/deps"
	"github.com/pmichalski/copydesk/internal/errs"
	"github.com/pmichalski/copydesk/internal/middleware"
	"github.com/pmichalski/copydesk/internal/model"
	"github.com/pmichalski/copydesk/internal/processor"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

type Storage interface {
	CreateCustomer(ctx context.Context, login, passwordHash, email string) (int, error)
	GetCustomerByLogin(ctx context.Context, login string) (model.Customer, string, error)
	GetCustomerByID(ctx context.Context, id int) (model.Customer, error)
	GetBalance(ctx context.Context, customerID int) (decimal.Decimal, error)

	GetOrder(ctx context.Context, id, customerID int) (model.Order, error)
	GetCustomerOrders(ctx context.Context, customerID int) ([]model.Order, error)
	DeleteOrder(ctx context.Context, id, customerID int) error
	CompleteOrder(ctx context.Context, id, customerID int, deliveredAt time.Time) error
}

type OrdersService interface {
	Create(ctx context.Context, customer model.Customer, req model.CreateOrderRequest) (*model.Order, string, error)
	ResumePayment(ctx context.Context, customer model.Customer, orderID int) (string, error)
	TopUp(ctx context.Context, customer model.Customer, amount decimal.Decimal) (string, error)
}

type WebhookProcessor interface {
	Handle(ctx context.Context, event processor.Event) error
	RecordMalformed(err error)
	ErrorCount() int64
}

type InvoiceService interface {
	InvoiceURLByOrder(ctx context.Context, customer model.Customer, orderID int) (string, error)
	InvoiceURLBySession(ctx context.Context, sessionID string) (string, error)
}

type Server struct {
	storage  Storage
	orders   OrdersService
	webhooks WebhookProcessor
	invoices InvoiceService
	config   *config.Config
	deps     *deps.Deps
}

func NewServer(storage Storage, orders OrdersService, webhooks WebhookProcessor,
	invoices InvoiceService, config *config.Config, deps *deps.Deps) *Server {
	return &Server{
		storage:  storage,
		orders:   orders,
		webhooks: webhooks,
		invoices: invoices,
		config:   config,
		deps:     deps,
	}
}

func (srv *Server) buildRouter() http.Handler {
	router := chi.NewRouter()
	router.Use(chiMiddleware.StripSlashes)
	router.Use(middleware.LogMiddleware(srv.deps.Logger))
	router.Use(middleware.DecompressMiddleware)
	router.Use(middleware.CompressMiddleware(srv.deps.Logger))

	router.Post("/api/customer/register", srv.RegisterHandler)
	router.Post("/api/customer/login", srv.LoginHandler)
	router.Post("/api/webhook/payments", srv.WebhookHandler)
	router.Get("/api/status", srv.StatusHandler)

	router.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(srv.storage, srv.deps.TokenManager))

		r.Post("/api/orders", srv.CreateOrderHandler)
		r.Get("/api/orders", srv.ListOrdersHandler)
		r.Get("/api/orders/{id}", srv.GetOrderHandler)
		r.Delete("/api/orders/{id}", srv.DeleteOrderHandler)
		r.Post("/api/orders/{id}/payment", srv.ResumePaymentHandler)
		r.Post("/api/orders/{id}/delivery", srv.RecordDeliveryHandler)
		r.Get("/api/orders/{id}/invoice", srv.OrderInvoiceHandler)
		r.Get("/api/invoices/session/{sessionID}", srv.SessionInvoiceHandler)
		r.Post("/api/customer/topup", srv.TopUpHandler)
		r.Get("/api/customer/balance", srv.GetBalanceHandler)
	})

	return router
}

func (srv *Server) Run(ctx context.Context) error {
	router := srv.buildRouter()

	server := &http.Server{
		Addr:    srv.config.RunAddress,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srv.deps.Logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func customerFromContext(r *http.Request) (model.Customer, bool) {
	customer, ok := r.Context().Value(middleware.CustomerContextKey).(model.Customer)
	return customer, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials

	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if creds.Login == "" || creds.Password == "" {
		http.Error(w, "login and password required", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "hash error", http.StatusInternalServerError)
		return
	}

	id, err := s.storage.CreateCustomer(r.Context(), creds.Login, string(hash), creds.Email)
	if err != nil {
		if errors.Is(err, errs.ErrLoginAlreadyExists) {
			http.Error(w, "login taken", http.StatusConflict)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	token, err := s.deps.TokenManager.GenerateToken(id)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Authorization", "Bearer "+token)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials

	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if creds.Login == "" || creds.Password == "" {
		http.Error(w, "login and password required", http.StatusBadRequest)
		return
	}

	customer, hash, err := s.storage.GetCustomerByLogin(r.Context(), creds.Login)
	if err != nil {
		if errors.Is(err, errs.ErrCustomerNotFound) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.deps.TokenManager.GenerateToken(customer.ID)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Authorization", "Bearer "+token)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	order, paymentURL, err := s.orders.Create(r.Context(), customer, req)
	if err != nil {
		switch {
		case errs.IsValidation(err):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, errs.ErrCustomerNotFound):
			http.Error(w, "customer not found", http.StatusNotFound)
		case errors.Is(err, errs.ErrPaymentGateway):
			http.Error(w, "payment gateway unavailable", http.StatusBadGateway)
		default:
			http.Error(w, "order creation failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, model.OrderResponse{Order: order, PaymentURL: paymentURL})
}

func orderIDParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

func (s *Server) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orders, err := s.storage.GetCustomerOrders(r.Context(), customer.ID)
	if err != nil {
		http.Error(w, "failed to get orders", http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	order, err := s.storage.GetOrder(r.Context(), id, customer.ID)
	if err != nil {
		if errors.Is(err, errs.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to get order", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (s *Server) DeleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	err = s.storage.DeleteOrder(r.Context(), id, customer.ID)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrOrderNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.Is(err, errs.ErrOrderNotDeletable):
			http.Error(w, "order already paid", http.StatusConflict)
		default:
			http.Error(w, "delete failed", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ResumePaymentHandler(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	paymentURL, err := s.orders.ResumePayment(r.Context(), customer, id)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrOrderNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.Is(err, errs.ErrOrderAlreadyPaid):
			http.Error(w, "order already paid", http.StatusConflict)
		case errors.Is(err, errs.ErrPaymentGateway):
			http.Error(w, "payment gateway unavailable", http.StatusBadGateway)
		default:
			http.Error(w, "resume payment failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, model.TopUpResponse{PaymentURL: paymentURL})
}

func (s *Server) RecordDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	err = s.storage.CompleteOrder(r.Context(), id, customer.ID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrOrderNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.Is(err, errs.ErrInvariantViolation):
			http.Error(w, "order is not in progress", http.StatusConflict)
		default:
			http.Error(w, "delivery update failed", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) TopUpHandler(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	paymentURL, err := s.orders.TopUp(r.Context(), customer, req.Amount)
	if err != nil {
		switch {
		case errs.IsValidation(err):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, errs.ErrPaymentGateway):
			http.Error(w, "payment gateway unavailable", http.StatusBadGateway)
		default:
			http.Error(w, "top-up failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, model.TopUpResponse{PaymentURL: paymentURL})
}

func (s *Server) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	balance, err := s.storage.GetBalance(r.Context(), customer.ID)
	if err != nil {
		http.Error(w, "failed to get balance", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, model.BalanceResponse{Balance: balance})
}

// StatusHandler exposes the reconciliation error count so webhook
// processing failures are visible to operators without log scraping.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.StatusResponse{WebhookErrors: s.webhooks.ErrorCount()})
}

func (s *Server) OrderInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	invoiceURL, err := s.invoices.InvoiceURLByOrder(r.Context(), customer, id)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrOrderNotFound), errors.Is(err, errs.ErrInvoiceNotFound):
			http.Error(w, "invoice not found", http.StatusNotFound)
		case errors.Is(err, errs.ErrPaymentGateway):
			http.Error(w, "payment gateway unavailable", http.StatusBadGateway)
		default:
			http.Error(w, "invoice retrieval failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, model.InvoiceURLResponse{InvoiceURL: invoiceURL})
}

func (s *Server) SessionInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := customerFromContext(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	invoiceURL, err := s.invoices.InvoiceURLBySession(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrPaymentNotFound), errors.Is(err, errs.ErrInvoiceNotFound):
			http.Error(w, "invoice not found", http.StatusNotFound)
		case errors.Is(err, errs.ErrPaymentGateway):
			http.Error(w, "payment gateway unavailable", http.StatusBadGateway)
		default:
			http.Error(w, "invoice retrieval failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, model.InvoiceURLResponse{InvoiceURL: invoiceURL})
}
