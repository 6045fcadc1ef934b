package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/tar002a/boutique-app-v2/internal/domain"
	"github.com/tar002a/boutique-app-v2/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the tables on first run. Safe to call on every start.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS variants (
			id SERIAL PRIMARY KEY, name TEXT NOT NULL, color TEXT NOT NULL DEFAULT '',
			size TEXT NOT NULL DEFAULT '', cost NUMERIC NOT NULL DEFAULT 0,
			price NUMERIC NOT NULL DEFAULT 0, stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id SERIAL PRIMARY KEY, name TEXT NOT NULL, phone TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '', username TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id SERIAL PRIMARY KEY, customer_id INTEGER, variant_id INTEGER NOT NULL,
			product_name TEXT NOT NULL, qty INTEGER NOT NULL CHECK (qty > 0),
			total NUMERIC NOT NULL, profit NUMERIC NOT NULL, date TIMESTAMPTZ NOT NULL,
			invoice_id TEXT NOT NULL, delivery_duration TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id SERIAL PRIMARY KEY, amount NUMERIC NOT NULL, reason TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '', date TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS returns (
			id SERIAL PRIMARY KEY, sale_id INTEGER NOT NULL, variant_id INTEGER NOT NULL,
			customer_id INTEGER, product_name TEXT NOT NULL, product_details TEXT NOT NULL DEFAULT '',
			qty INTEGER NOT NULL, return_amount NUMERIC NOT NULL, return_date TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY, password TEXT NOT NULL, role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true, created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_invoice_id ON sales (invoice_id)`,
		`CREATE INDEX IF NOT EXISTS idx_returns_sale_id ON returns (sale_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrapDB("init schema", err)
		}
	}
	return nil
}

func (s *Store) ListVariants(ctx context.Context) ([]domain.Variant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, size, cost, price, stock
		FROM variants
		ORDER BY name, color, size
	`)
	if err != nil {
		return nil, wrapDB("list variants", err)
	}
	defer rows.Close()

	variants := make([]domain.Variant, 0, 128)
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.Name, &v.Color, &v.Size, &v.Cost, &v.Price, &v.Stock); err != nil {
			return nil, wrapDB("scan variant", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("list variants", err)
	}

	return variants, nil
}

func (s *Store) GetVariant(ctx context.Context, variantID int64) (*domain.Variant, error) {
	var v domain.Variant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, size, cost, price, stock
		FROM variants
		WHERE id = $1
	`, variantID).Scan(&v.ID, &v.Name, &v.Color, &v.Size, &v.Cost, &v.Price, &v.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDB("get variant", err)
	}
	return &v, nil
}

func (s *Store) CreateVariant(ctx context.Context, variant domain.Variant) (*domain.Variant, error) {
	if variant.Name == "" || variant.Stock < 0 || variant.Cost.IsNegative() || variant.Price.IsNegative() {
		return nil, store.ErrValidation
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO variants (name, color, size, cost, price, stock)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, variant.Name, variant.Color, variant.Size, variant.Cost, variant.Price, variant.Stock).Scan(&variant.ID)
	if err != nil {
		return nil, wrapDB("create variant", err)
	}

	created := variant
	return &created, nil
}

func (s *Store) UpdateVariant(ctx context.Context, variant domain.Variant) (*domain.Variant, error) {
	if variant.Name == "" || variant.Cost.IsNegative() || variant.Price.IsNegative() {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE variants
		SET name = $2, color = $3, size = $4, cost = $5, price = $6
		WHERE id = $1
	`, variant.ID, variant.Name, variant.Color, variant.Size, variant.Cost, variant.Price)
	if err != nil {
		return nil, wrapDB("update variant", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, wrapDB("update variant", err)
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := variant
	return &updated, nil
}

func (s *Store) GetStock(ctx context.Context, variantID int64) (int, error) {
	var stock int
	err := s.db.QueryRowContext(ctx, `
		SELECT stock FROM variants WHERE id = $1
	`, variantID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, wrapDB("get stock", err)
	}
	return stock, nil
}

// AdjustStock applies a delta to one variant under a row lock. Negative deltas
// are guarded decrements; positive deltas have no upper bound.
func (s *Store) AdjustStock(ctx context.Context, variantID int64, delta int) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, wrapDB("begin adjust stock", err)
	}
	defer func() { _ = tx.Rollback() }()

	stock, err := lockVariantStock(ctx, tx, variantID)
	if err != nil {
		return 0, err
	}
	if delta < 0 && stock < -delta {
		return 0, &store.InsufficientStockError{VariantID: variantID, Requested: -delta, Available: stock}
	}

	newStock := stock + delta
	if _, err := tx.ExecContext(ctx, `
		UPDATE variants SET stock = $2 WHERE id = $1
	`, variantID, newStock); err != nil {
		return 0, wrapDB("adjust stock", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapDB("commit adjust stock", err)
	}
	return newStock, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, address, username
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, wrapDB("list customers", err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.Username); err != nil {
			return nil, wrapDB("scan customer", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("list customers", err)
	}

	return customers, nil
}

func (s *Store) FindCustomerByID(ctx context.Context, customerID int64) (*domain.Customer, error) {
	return s.findCustomer(ctx, `id = $1`, customerID)
}

func (s *Store) FindCustomerByName(ctx context.Context, name string) (*domain.Customer, error) {
	return s.findCustomer(ctx, `name = $1`, name)
}

func (s *Store) findCustomer(ctx context.Context, where string, arg any) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, username
		FROM customers
		WHERE `+where+`
		ORDER BY id
		LIMIT 1
	`, arg).Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDB("find customer", err)
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrCustomerRequired
	}
	if customer.Username == "" {
		customer.Username = customer.Name
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (name, phone, address, username)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, customer.Name, customer.Phone, customer.Address, customer.Username).Scan(&customer.ID)
	if err != nil {
		return nil, wrapDB("create customer", err)
	}

	created := customer
	return &created, nil
}

// CheckoutCart commits one cart in one transaction: for each line, in
// ascending variant id order, it locks the variant row, verifies and
// decrements stock, and inserts a sale row carrying the shared invoice id.
// Any failure rolls back the whole cart; no line is ever partially applied.
// The unit cost frozen into each line's profit is the variant cost at the
// moment the row lock is held.
func (s *Store) CheckoutCart(ctx context.Context, cart domain.CartCheckout) ([]domain.SaleLine, error) {
	if len(cart.Lines) == 0 {
		return nil, store.ErrEmptyCart
	}
	if cart.InvoiceID == "" {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, wrapDB("begin checkout", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Lock variants in a fixed order so concurrent carts sharing items cannot
	// deadlock on each other.
	order := make([]int, len(cart.Lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cart.Lines[order[a]].VariantID < cart.Lines[order[b]].VariantID
	})

	committed := make([]domain.SaleLine, len(cart.Lines))
	for _, idx := range order {
		line := cart.Lines[idx]
		if line.Qty < 1 || line.UnitPrice.IsNegative() {
			return nil, store.ErrValidation
		}

		var productName string
		var cost decimal.Decimal
		var stock int
		err := tx.QueryRowContext(ctx, `
			SELECT name, cost, stock
			FROM variants
			WHERE id = $1
			FOR UPDATE
		`, line.VariantID).Scan(&productName, &cost, &stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("variant %d: %w", line.VariantID, store.ErrValidation)
			}
			return nil, wrapDB("lock variant", err)
		}

		if stock < line.Qty {
			return nil, &store.InsufficientStockError{VariantID: line.VariantID, Requested: line.Qty, Available: stock}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE variants SET stock = stock - $1 WHERE id = $2
		`, line.Qty, line.VariantID); err != nil {
			return nil, wrapDB("decrement stock", err)
		}

		qty := decimal.NewFromInt(int64(line.Qty))
		total := line.UnitPrice.Mul(qty)
		profit := line.UnitPrice.Sub(cost).Mul(qty)

		sale := domain.SaleLine{
			CustomerID:       cart.CustomerID,
			VariantID:        line.VariantID,
			ProductName:      productName,
			Qty:              line.Qty,
			Total:            total,
			Profit:           profit,
			Date:             cart.Date,
			InvoiceID:        cart.InvoiceID,
			DeliveryDuration: cart.DeliveryDuration,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO sales (customer_id, variant_id, product_name, qty, total, profit, date, invoice_id, delivery_duration)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id
		`, nullInt64(cart.CustomerID), sale.VariantID, sale.ProductName, sale.Qty, sale.Total, sale.Profit,
			sale.Date, sale.InvoiceID, sale.DeliveryDuration).Scan(&sale.ID)
		if err != nil {
			return nil, wrapDB("insert sale", err)
		}

		committed[idx] = sale
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDB("commit checkout", err)
	}

	return committed, nil
}

func (s *Store) GetSaleByID(ctx context.Context, saleID int64) (*domain.SaleLine, error) {
	var sale domain.SaleLine
	var customerID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, variant_id, product_name, qty, total, profit, date, invoice_id, delivery_duration
		FROM sales
		WHERE id = $1
	`, saleID).Scan(&sale.ID, &customerID, &sale.VariantID, &sale.ProductName, &sale.Qty,
		&sale.Total, &sale.Profit, &sale.Date, &sale.InvoiceID, &sale.DeliveryDuration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDB("get sale", err)
	}
	if customerID.Valid {
		sale.CustomerID = customerID.Int64
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.SaleLine, error) {
	if limit < 1 {
		limit = 100
	}
	return s.querySales(ctx, `ORDER BY date DESC, id DESC LIMIT $1`, limit)
}

func (s *Store) ListSalesByInvoice(ctx context.Context, invoiceID string) ([]domain.SaleLine, error) {
	return s.querySales(ctx, `WHERE invoice_id = $1 ORDER BY id ASC`, invoiceID)
}

func (s *Store) querySales(ctx context.Context, clause string, arg any) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, variant_id, product_name, qty, total, profit, date, invoice_id, delivery_duration
		FROM sales
	`+clause, arg)
	if err != nil {
		return nil, wrapDB("list sales", err)
	}
	defer rows.Close()

	sales := make([]domain.SaleLine, 0, 32)
	for rows.Next() {
		var sale domain.SaleLine
		var customerID sql.NullInt64
		if err := rows.Scan(&sale.ID, &customerID, &sale.VariantID, &sale.ProductName, &sale.Qty,
			&sale.Total, &sale.Profit, &sale.Date, &sale.InvoiceID, &sale.DeliveryDuration); err != nil {
			return nil, wrapDB("scan sale", err)
		}
		if customerID.Valid {
			sale.CustomerID = customerID.Int64
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("list sales", err)
	}

	return sales, nil
}

// UpdateSaleQuantity reconciles stock with the quantity change and updates the
// sale row in one transaction. Profit scales with the per-unit profit captured
// at sale time; it is never recomputed from the current catalog cost.
func (s *Store) UpdateSaleQuantity(ctx context.Context, saleID int64, newQty int, newTotal decimal.Decimal) (*domain.SaleLine, error) {
	if newQty < 1 || newTotal.IsNegative() {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, wrapDB("begin edit sale", err)
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := lockSale(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}
	if err := ensureNotReturned(ctx, tx, saleID); err != nil {
		return nil, err
	}

	delta := newQty - sale.Qty
	if delta != 0 {
		stock, err := lockVariantStock(ctx, tx, sale.VariantID)
		if err != nil {
			return nil, err
		}
		if delta > 0 && stock < delta {
			return nil, &store.InsufficientStockError{VariantID: sale.VariantID, Requested: delta, Available: stock}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE variants SET stock = stock - $1 WHERE id = $2
		`, delta, sale.VariantID); err != nil {
			return nil, wrapDB("reconcile stock", err)
		}
	}

	perUnitProfit := sale.Profit.Div(decimal.NewFromInt(int64(sale.Qty)))
	newProfit := perUnitProfit.Mul(decimal.NewFromInt(int64(newQty)))

	if _, err := tx.ExecContext(ctx, `
		UPDATE sales SET qty = $2, total = $3, profit = $4 WHERE id = $1
	`, saleID, newQty, newTotal, newProfit); err != nil {
		return nil, wrapDB("update sale", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDB("commit edit sale", err)
	}

	sale.Qty = newQty
	sale.Total = newTotal
	sale.Profit = newProfit
	return sale, nil
}

// DeleteSale restores the sale's quantity to its variant and removes the row,
// in one transaction.
func (s *Store) DeleteSale(ctx context.Context, saleID int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return wrapDB("begin delete sale", err)
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := lockSale(ctx, tx, saleID)
	if err != nil {
		return err
	}
	if err := ensureNotReturned(ctx, tx, saleID); err != nil {
		return err
	}

	if _, err := lockVariantStock(ctx, tx, sale.VariantID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE variants SET stock = stock + $1 WHERE id = $2
	`, sale.Qty, sale.VariantID); err != nil {
		return wrapDB("restore stock", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID); err != nil {
		return wrapDB("delete sale", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapDB("commit delete sale", err)
	}
	return nil
}

// CreateReturn reverses a committed sale: restores exactly the sale's recorded
// quantity to its variant, writes a Return row, and optionally a compensating
// expense, all in one transaction. A sale can be returned at most once.
func (s *Store) CreateReturn(ctx context.Context, saleID int64, compensateExpense bool, at time.Time) (*domain.Return, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, wrapDB("begin return", err)
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := lockSale(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}
	if err := ensureNotReturned(ctx, tx, saleID); err != nil {
		return nil, err
	}

	var color, size string
	err = tx.QueryRowContext(ctx, `
		SELECT color, size FROM variants WHERE id = $1 FOR UPDATE
	`, sale.VariantID).Scan(&color, &size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("variant %d: %w", sale.VariantID, store.ErrValidation)
		}
		return nil, wrapDB("lock variant", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE variants SET stock = stock + $1 WHERE id = $2
	`, sale.Qty, sale.VariantID); err != nil {
		return nil, wrapDB("restore stock", err)
	}

	ret := domain.Return{
		SaleID:         saleID,
		VariantID:      sale.VariantID,
		CustomerID:     sale.CustomerID,
		ProductName:    sale.ProductName,
		ProductDetails: fmt.Sprintf("%s (%s)", color, size),
		Qty:            sale.Qty,
		ReturnAmount:   sale.Total,
		ReturnDate:     at,
		Status:         domain.ReturnStatusReturned,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO returns (sale_id, variant_id, customer_id, product_name, product_details, qty, return_amount, return_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, ret.SaleID, ret.VariantID, nullInt64(ret.CustomerID), ret.ProductName, ret.ProductDetails,
		ret.Qty, ret.ReturnAmount, ret.ReturnDate, ret.Status).Scan(&ret.ID)
	if err != nil {
		return nil, wrapDB("insert return", err)
	}

	if compensateExpense {
		reason := fmt.Sprintf("return of sale %d (invoice %s)", saleID, sale.InvoiceID)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO expenses (amount, reason, category, date)
			VALUES ($1,$2,$3,$4)
		`, ret.ReturnAmount, reason, domain.ExpenseCategoryReturns, at); err != nil {
			return nil, wrapDB("insert compensating expense", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDB("commit return", err)
	}

	return &ret, nil
}

func (s *Store) ListReturns(ctx context.Context, limit int) ([]domain.Return, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, variant_id, customer_id, product_name, product_details, qty, return_amount, return_date, status
		FROM returns
		ORDER BY return_date DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrapDB("list returns", err)
	}
	defer rows.Close()

	returns := make([]domain.Return, 0, limit)
	for rows.Next() {
		var ret domain.Return
		var customerID sql.NullInt64
		if err := rows.Scan(&ret.ID, &ret.SaleID, &ret.VariantID, &customerID, &ret.ProductName,
			&ret.ProductDetails, &ret.Qty, &ret.ReturnAmount, &ret.ReturnDate, &ret.Status); err != nil {
			return nil, wrapDB("scan return", err)
		}
		if customerID.Valid {
			ret.CustomerID = customerID.Int64
		}
		returns = append(returns, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("list returns", err)
	}

	return returns, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.Amount.IsNegative() || strings.TrimSpace(expense.Reason) == "" {
		return nil, store.ErrValidation
	}
	if expense.Date.IsZero() {
		expense.Date = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO expenses (amount, reason, category, date)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, expense.Amount, expense.Reason, expense.Category, expense.Date).Scan(&expense.ID)
	if err != nil {
		return nil, wrapDB("create expense", err)
	}

	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context, limit int) ([]domain.Expense, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount, reason, category, date
		FROM expenses
		ORDER BY date DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrapDB("list expenses", err)
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, limit)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.Amount, &e.Reason, &e.Category, &e.Date); err != nil {
			return nil, wrapDB("scan expense", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("list expenses", err)
	}

	return expenses, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return wrapDB("create user", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
	`)
	if err != nil {
		return nil, wrapDB("list users", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, wrapDB("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("list users", err)
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return wrapDB("update user password", err)
	}
	return nil
}

// lockSale reads a sale row under FOR UPDATE so edits, deletes and returns of
// the same sale serialize against each other.
func lockSale(ctx context.Context, tx *sql.Tx, saleID int64) (*domain.SaleLine, error) {
	var sale domain.SaleLine
	var customerID sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT id, customer_id, variant_id, product_name, qty, total, profit, date, invoice_id, delivery_duration
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&sale.ID, &customerID, &sale.VariantID, &sale.ProductName, &sale.Qty,
		&sale.Total, &sale.Profit, &sale.Date, &sale.InvoiceID, &sale.DeliveryDuration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDB("lock sale", err)
	}
	if customerID.Valid {
		sale.CustomerID = customerID.Int64
	}
	return &sale, nil
}

func lockVariantStock(ctx context.Context, tx *sql.Tx, variantID int64) (int, error) {
	var stock int
	err := tx.QueryRowContext(ctx, `
		SELECT stock FROM variants WHERE id = $1 FOR UPDATE
	`, variantID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, wrapDB("lock variant", err)
	}
	return stock, nil
}

func ensureNotReturned(ctx context.Context, tx *sql.Tx, saleID int64) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM returns WHERE sale_id = $1)
	`, saleID).Scan(&exists)
	if err != nil {
		return wrapDB("check returns", err)
	}
	if exists {
		return fmt.Errorf("sale %d already returned: %w", saleID, store.ErrValidation)
	}
	return nil
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

// wrapDB classifies driver errors: lock and serialization conflicts become
// ErrConcurrentModification (safe to retry the whole operation), everything
// else a DatabaseError.
func wrapDB(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%s: %w", op, store.ErrConcurrentModification)
		}
	}
	return &store.DatabaseError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
