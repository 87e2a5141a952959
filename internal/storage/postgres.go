package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pmichalski/copydesk/internal/errs"
	"github.com/pmichalski/copydesk/internal/model"
	"github.com/shopspring/decimal"
)

type PostgresStorage struct {
	db *pgxpool.Pool
}

func (store *PostgresStorage) initSchema(ctx context.Context) error {
	const initSchemaQuery = `
	CREATE TABLE IF NOT EXISTS customers (
		id SERIAL PRIMARY KEY,
		login TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		balance NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0),
		billing_name TEXT NOT NULL DEFAULT '',
		billing_address TEXT NOT NULL DEFAULT '',
		tax_id TEXT NOT NULL DEFAULT '',
		processor_customer_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		number BIGINT UNIQUE NOT NULL,
		customer_id INT NOT NULL REFERENCES customers(id),
		total_price NUMERIC NOT NULL,
		discount NUMERIC NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_status TEXT NOT NULL DEFAULT 'pending',
		declared_delivery DATE NOT NULL,
		actual_delivery DATE,
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id INT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		topic TEXT NOT NULL,
		length INT NOT NULL,
		unit_rate NUMERIC NOT NULL,
		price NUMERIC NOT NULL,
		content_type TEXT NOT NULL,
		language TEXT NOT NULL,
		guidelines TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY,
		customer_id INT NOT NULL REFERENCES customers(id),
		type TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		paid_amount NUMERIC NOT NULL,
		applied_discount NUMERIC NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		external_session_id TEXT UNIQUE,
		external_invoice_id TEXT,
		order_id INT REFERENCES orders(id),
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS payments_order_id_key
		ON payments(order_id) WHERE order_id IS NOT NULL;
	CREATE TABLE IF NOT EXISTS invoices (
		id SERIAL PRIMARY KEY,
		number TEXT UNIQUE NOT NULL,
		payment_id UUID UNIQUE NOT NULL REFERENCES payments(id),
		order_id INT REFERENCES orders(id),
		amount NUMERIC NOT NULL,
		paid_amount NUMERIC NOT NULL,
		status TEXT NOT NULL,
		paid_date TIMESTAMP NOT NULL,
		pdf_url TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	);`

	_, err := store.db.Exec(ctx, initSchemaQuery)
	return err
}

func NewPostgresStorage(ctx context.Context, databaseURI string) (*PostgresStorage, error) {
	db, err := pgxpool.New(ctx, databaseURI)
	if err != nil {
		return nil, err
	}

	storage := &PostgresStorage{db: db}

	if err := storage.Ping(ctx); err != nil {
		return nil, err
	}

	if err := storage.initSchema(ctx); err != nil {
		return nil, err
	}

	return storage, nil
}

func (store *PostgresStorage) Ping(ctx context.Context) error {
	return store.db.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// ---- customers ----

func (s *PostgresStorage) CreateCustomer(ctx context.Context, login, passwordHash, email string) (int, error) {
	const query = `
		INSERT INTO customers (login, password_hash, email)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int
	err := s.db.QueryRow(ctx, query, login, passwordHash, email).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errs.ErrLoginAlreadyExists
		}
		return 0, fmt.Errorf("insert customer: %w", err)
	}

	return id, nil
}

func (s *PostgresStorage) GetCustomerByLogin(ctx context.Context, login string) (model.Customer, string, error) {
	const query = `
		SELECT id, login, email, billing_name, billing_address, tax_id, processor_customer_id, password_hash
		FROM customers WHERE login = $1`

	var c model.Customer
	var hash string

	err := s.db.QueryRow(ctx, query, login).Scan(
		&c.ID, &c.Login, &c.Email, &c.BillingName, &c.BillingAddress, &c.TaxID, &c.ProcessorCustomerID, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Customer{}, "", errs.ErrCustomerNotFound
		}
		return model.Customer{}, "", fmt.Errorf("get customer by login: %w", err)
	}

	return c, hash, nil
}

func (s *PostgresStorage) GetCustomerByID(ctx context.Context, id int) (model.Customer, error) {
	const query = `
		SELECT id, login, email, billing_name, billing_address, tax_id, processor_customer_id
		FROM customers WHERE id = $1`

	var c model.Customer

	err := s.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Login, &c.Email, &c.BillingName, &c.BillingAddress, &c.TaxID, &c.ProcessorCustomerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Customer{}, errs.ErrCustomerNotFound
		}
		return model.Customer{}, fmt.Errorf("get customer by id: %w", err)
	}

	return c, nil
}

func (s *PostgresStorage) GetBalance(ctx context.Context, customerID int) (decimal.Decimal, error) {
	const query = `SELECT balance FROM customers WHERE id = $1`

	var balance decimal.Decimal
	err := s.db.QueryRow(ctx, query, customerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, errs.ErrCustomerNotFound
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}

	return balance, nil
}

func (s *PostgresStorage) SetProcessorCustomerID(ctx context.Context, customerID int, processorID string) error {
	const query = `UPDATE customers SET processor_customer_id = $1 WHERE id = $2`

	_, err := s.db.Exec(ctx, query, processorID, customerID)
	if err != nil {
		return fmt.Errorf("set processor customer id: %w", err)
	}
	return nil
}

// ---- counters ----

// nextCounter is the atomic increment-and-fetch behind all human-facing
// numbering. Never read-then-write: the upsert is a single statement.
func nextCounter(ctx context.Context, db querier, name string) (int64, error) {
	const query = `
		INSERT INTO counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value`

	var value int64
	err := db.QueryRow(ctx, query, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next counter %s: %w", name, err)
	}

	return value, nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStorage) NextOrderNumber(ctx context.Context) (int64, error) {
	return nextCounter(ctx, s.db, "orders")
}

func (s *PostgresStorage) NextInvoiceNumber(ctx context.Context, year int) (int64, error) {
	return nextCounter(ctx, s.db, fmt.Sprintf("invoices/%d", year))
}

// ---- orders ----

func insertOrder(ctx context.Context, tx pgx.Tx, order *model.Order) error {
	const insertOrderQuery = `
		INSERT INTO orders (number, customer_id, total_price, discount, status, payment_status, declared_delivery)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	const insertItemQuery = `
		INSERT INTO order_items (order_id, topic, length, unit_rate, price, content_type, language, guidelines)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	err := tx.QueryRow(ctx, insertOrderQuery,
		order.Number, order.CustomerID, order.TotalPrice, order.Discount,
		order.Status, order.PaymentStatus, order.DeclaredDelivery,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err := tx.Exec(ctx, insertItemQuery,
			order.ID, item.Topic, item.Length, item.UnitRate, item.Price,
			item.ContentType, item.Language, item.Guidelines)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

// CreatePendingOrder persists an order awaiting external payment. No balance
// movement happens here.
func (s *PostgresStorage) CreatePendingOrder(ctx context.Context, order *model.Order) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertOrder(ctx, tx, order); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreateFundedOrder persists a fully balance-covered order: the debit, the
// order row and the completed payment commit or roll back together.
func (s *PostgresStorage) CreateFundedOrder(ctx context.Context, order *model.Order, payment *model.Payment) error {
	const debitQuery = `
		UPDATE customers SET balance = balance - $1
		WHERE id = $2 AND balance >= $1`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx, debitQuery, order.TotalPrice, order.CustomerID)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return errs.ErrInsufficientFunds
	}

	if err := insertOrder(ctx, tx, order); err != nil {
		return err
	}

	payment.OrderID = &order.ID
	if err := insertPayment(ctx, tx, payment); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStorage) getOrderItems(ctx context.Context, orderID int) ([]model.OrderItem, error) {
	const query = `
		SELECT topic, length, unit_rate, price, content_type, language, guidelines
		FROM order_items WHERE order_id = $1 ORDER BY id`

	rows, err := s.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		err := rows.Scan(&it.Topic, &it.Length, &it.UnitRate, &it.Price, &it.ContentType, &it.Language, &it.Guidelines)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}

	return items, rows.Err()
}

func scanOrder(row pgx.Row, o *model.Order) error {
	return row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.TotalPrice, &o.Discount,
		&o.Status, &o.PaymentStatus, &o.DeclaredDelivery, &o.ActualDelivery, &o.CreatedAt)
}

const orderColumns = `id, number, customer_id, total_price, discount, status, payment_status, declared_delivery, actual_delivery, created_at`

func (s *PostgresStorage) GetOrder(ctx context.Context, id, customerID int) (model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND customer_id = $2`

	var o model.Order
	err := scanOrder(s.db.QueryRow(ctx, query, id, customerID), &o)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, errs.ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}

	o.Items, err = s.getOrderItems(ctx, o.ID)
	if err != nil {
		return model.Order{}, err
	}

	return o, nil
}

func (s *PostgresStorage) GetOrderByID(ctx context.Context, id int) (model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var o model.Order
	err := scanOrder(s.db.QueryRow(ctx, query, id), &o)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, errs.ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order by id: %w", err)
	}

	return o, nil
}

func (s *PostgresStorage) GetOrderByNumber(ctx context.Context, number int64) (model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`

	var o model.Order
	err := scanOrder(s.db.QueryRow(ctx, query, number), &o)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, errs.ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order by number: %w", err)
	}

	return o, nil
}

func (s *PostgresStorage) GetCustomerOrders(ctx context.Context, customerID int) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("get customer orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}

	return orders, nil
}

// DeleteOrder removes an order only while its payment is still pending.
func (s *PostgresStorage) DeleteOrder(ctx context.Context, id, customerID int) error {
	const query = `
		DELETE FROM orders
		WHERE id = $1 AND customer_id = $2 AND payment_status = 'pending'`

	cmdTag, err := s.db.Exec(ctx, query, id, customerID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		if _, err := s.GetOrder(ctx, id, customerID); err != nil {
			return err
		}
		return errs.ErrOrderNotDeletable
	}

	return nil
}

// CompleteOrder records delivery: in_progress -> completed.
func (s *PostgresStorage) CompleteOrder(ctx context.Context, id, customerID int, deliveredAt time.Time) error {
	const query = `
		UPDATE orders SET status = 'completed', actual_delivery = $1
		WHERE id = $2 AND customer_id = $3 AND status = 'in_progress'`

	cmdTag, err := s.db.Exec(ctx, query, deliveredAt, id, customerID)
	if err != nil {
		return fmt.Errorf("complete order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		if _, err := s.GetOrder(ctx, id, customerID); err != nil {
			return err
		}
		return errs.ErrInvariantViolation
	}

	return nil
}

// PayOrderFromBalance settles a pending order out of the current balance:
// conditional debit, pending->paid transition and the payment upsert commit
// together. Used by the resume-payment path when the balance has grown to
// cover the order since creation.
func (s *PostgresStorage) PayOrderFromBalance(ctx context.Context, order *model.Order, payment *model.Payment) error {
	const debitQuery = `
		UPDATE customers SET balance = balance - $1
		WHERE id = $2 AND balance >= $1`

	const markPaidQuery = `
		UPDATE orders SET status = 'in_progress', payment_status = 'paid'
		WHERE id = $1 AND payment_status = 'pending'`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx, debitQuery, order.TotalPrice, order.CustomerID)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return errs.ErrInsufficientFunds
	}

	cmdTag, err = tx.Exec(ctx, markPaidQuery, order.ID)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return errs.ErrInvariantViolation
	}

	payment.OrderID = &order.ID
	if err := insertPayment(ctx, tx, payment); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ---- payments ----

func insertPayment(ctx context.Context, tx pgx.Tx, p *model.Payment) error {
	const query = `
		INSERT INTO payments (id, customer_id, type, amount, paid_amount, applied_discount, status, external_session_id, external_invoice_id, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10)
		RETURNING created_at`

	err := tx.QueryRow(ctx, query,
		p.ID, p.CustomerID, p.Type, p.Amount, p.PaidAmount, p.AppliedDiscount,
		p.Status, p.ExternalSessionID, p.ExternalInvoiceID, p.OrderID,
	).Scan(&p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrDuplicatePayment
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func scanPayment(row pgx.Row, p *model.Payment) error {
	var sessionID, invoiceID *string
	err := row.Scan(&p.ID, &p.CustomerID, &p.Type, &p.Amount, &p.PaidAmount,
		&p.AppliedDiscount, &p.Status, &sessionID, &invoiceID, &p.OrderID, &p.CreatedAt)
	if err != nil {
		return err
	}
	if sessionID != nil {
		p.ExternalSessionID = *sessionID
	}
	if invoiceID != nil {
		p.ExternalInvoiceID = *invoiceID
	}
	return nil
}

const paymentColumns = `id, customer_id, type, amount, paid_amount, applied_discount, status, external_session_id, external_invoice_id, order_id, created_at`

func (s *PostgresStorage) GetPaymentBySessionID(ctx context.Context, sessionID string) (model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_session_id = $1`

	var p model.Payment
	err := scanPayment(s.db.QueryRow(ctx, query, sessionID), &p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payment{}, errs.ErrPaymentNotFound
		}
		return model.Payment{}, fmt.Errorf("get payment by session: %w", err)
	}

	return p, nil
}

func (s *PostgresStorage) GetPaymentByID(ctx context.Context, id uuid.UUID) (model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	var p model.Payment
	err := scanPayment(s.db.QueryRow(ctx, query, id), &p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payment{}, errs.ErrPaymentNotFound
		}
		return model.Payment{}, fmt.Errorf("get payment by id: %w", err)
	}

	return p, nil
}

func (s *PostgresStorage) SetPaymentExternalInvoice(ctx context.Context, paymentID uuid.UUID, externalInvoiceID string) error {
	const query = `UPDATE payments SET external_invoice_id = $1 WHERE id = $2`

	_, err := s.db.Exec(ctx, query, externalInvoiceID, paymentID)
	if err != nil {
		return fmt.Errorf("set payment external invoice: %w", err)
	}
	return nil
}

// ---- reconciliation ----

// ApplyTopUp records a confirmed top-up: the payment row and the balance
// credit commit together. A duplicate session id aborts with
// ErrDuplicatePayment before any money moves.
func (s *PostgresStorage) ApplyTopUp(ctx context.Context, payment *model.Payment) error {
	const creditQuery = `UPDATE customers SET balance = balance + $1 WHERE id = $2`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertPayment(ctx, tx, payment); err != nil {
		return err
	}

	cmdTag, err := tx.Exec(ctx, creditQuery, payment.Amount, payment.CustomerID)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return errs.ErrCustomerNotFound
	}

	return tx.Commit(ctx)
}

// ApplyOrderPayment records a confirmed combined top-up-and-pay event:
// payment row, the debit of the balance-covered part of the order, the
// extra top-up credit and the order's pending->paid transition commit
// together. The debit is conditional and the transition is guarded in SQL
// so a replay, an out-of-order event or a drained balance cannot settle
// the same order twice or drive the balance negative.
func (s *PostgresStorage) ApplyOrderPayment(ctx context.Context, payment *model.Payment, orderID int, debit, credit decimal.Decimal) error {
	const debitQuery = `
		UPDATE customers SET balance = balance - $1
		WHERE id = $2 AND balance >= $1`
	const creditQuery = `UPDATE customers SET balance = balance + $1 WHERE id = $2`
	const markPaidQuery = `
		UPDATE orders SET status = 'in_progress', payment_status = 'paid'
		WHERE id = $1 AND payment_status = 'pending'`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	payment.OrderID = &orderID
	if err := insertPayment(ctx, tx, payment); err != nil {
		return err
	}

	if debit.IsPositive() {
		cmdTag, err := tx.Exec(ctx, debitQuery, debit, payment.CustomerID)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return errs.ErrInsufficientFunds
		}
	}

	if credit.IsPositive() {
		if _, err := tx.Exec(ctx, creditQuery, credit, payment.CustomerID); err != nil {
			return fmt.Errorf("credit top-up: %w", err)
		}
	}

	cmdTag, err := tx.Exec(ctx, markPaidQuery, orderID)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return errs.ErrInvariantViolation
	}

	return tx.Commit(ctx)
}

// ApplyDirectOrderPayment handles the legacy event shape (no type in the
// metadata): upsert the payment keyed by the order and settle the order if
// it is still pending. Safe to run more than once.
func (s *PostgresStorage) ApplyDirectOrderPayment(ctx context.Context, payment *model.Payment, orderID int) error {
	const upsertQuery = `
		INSERT INTO payments (id, customer_id, type, amount, paid_amount, applied_discount, status, external_session_id, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		ON CONFLICT (order_id) WHERE order_id IS NOT NULL DO UPDATE
		SET status = EXCLUDED.status,
		    paid_amount = EXCLUDED.paid_amount,
		    external_session_id = COALESCE(payments.external_session_id, EXCLUDED.external_session_id)`

	const markPaidQuery = `
		UPDATE orders SET status = 'in_progress', payment_status = 'paid'
		WHERE id = $1 AND payment_status = 'pending'`

	const settleInvoiceQuery = `
		UPDATE invoices SET status = 'paid', paid_amount = $1, paid_date = $2
		WHERE order_id = $3`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	payment.OrderID = &orderID
	_, err = tx.Exec(ctx, upsertQuery,
		payment.ID, payment.CustomerID, payment.Type, payment.Amount, payment.PaidAmount,
		payment.AppliedDiscount, payment.Status, payment.ExternalSessionID, payment.OrderID)
	if err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}

	if _, err := tx.Exec(ctx, markPaidQuery, orderID); err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}

	if _, err := tx.Exec(ctx, settleInvoiceQuery, payment.PaidAmount, time.Now(), orderID); err != nil {
		return fmt.Errorf("settle invoice: %w", err)
	}

	return tx.Commit(ctx)
}

// ---- invoices ----

func (s *PostgresStorage) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	const query = `
		INSERT INTO invoices (number, payment_id, order_id, amount, paid_amount, status, paid_date, pdf_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := s.db.QueryRow(ctx, query,
		inv.Number, inv.PaymentID, inv.OrderID, inv.Amount, inv.PaidAmount,
		inv.Status, inv.PaidDate, inv.PDFURL,
	).Scan(&inv.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrInvariantViolation
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	return nil
}

func scanInvoice(row pgx.Row, inv *model.Invoice) error {
	return row.Scan(&inv.ID, &inv.Number, &inv.PaymentID, &inv.OrderID,
		&inv.Amount, &inv.PaidAmount, &inv.Status, &inv.PaidDate, &inv.PDFURL)
}

const invoiceColumns = `id, number, payment_id, order_id, amount, paid_amount, status, paid_date, pdf_url`

func (s *PostgresStorage) GetInvoiceByOrderID(ctx context.Context, orderID int) (model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE order_id = $1`

	var inv model.Invoice
	err := scanInvoice(s.db.QueryRow(ctx, query, orderID), &inv)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Invoice{}, errs.ErrInvoiceNotFound
		}
		return model.Invoice{}, fmt.Errorf("get invoice by order: %w", err)
	}

	return inv, nil
}

func (s *PostgresStorage) GetInvoiceByPaymentID(ctx context.Context, paymentID uuid.UUID) (model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE payment_id = $1`

	var inv model.Invoice
	err := scanInvoice(s.db.QueryRow(ctx, query, paymentID), &inv)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Invoice{}, errs.ErrInvoiceNotFound
		}
		return model.Invoice{}, fmt.Errorf("get invoice by payment: %w", err)
	}

	return inv, nil
}

func (s *PostgresStorage) SetInvoicePDF(ctx context.Context, invoiceID int, pdfURL string) error {
	const query = `UPDATE invoices SET pdf_url = $1 WHERE id = $2`

	_, err := s.db.Exec(ctx, query, pdfURL, invoiceID)
	if err != nil {
		return fmt.Errorf("set invoice pdf: %w", err)
	}
	return nil
}

// GetInvoicesMissingPDF feeds the backfill worker that retries PDF
// retrieval for invoices issued while the processor was unavailable.
func (s *PostgresStorage) GetInvoicesMissingPDF(ctx context.Context, limit int) ([]model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE pdf_url = '' ORDER BY id LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get invoices missing pdf: %w", err)
	}
	defer rows.Close()

	var list []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		if err := scanInvoice(rows, &inv); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		list = append(list, inv)
	}

	return list, rows.Err()
}
