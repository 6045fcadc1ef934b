package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tar002a/boutique-app-v2/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrEmptyCart              = errors.New("empty cart")
	ErrCustomerRequired       = errors.New("customer required")
	ErrValidation             = errors.New("invalid input")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDatabase               = errors.New("database failure")
)

// InsufficientStockError reports the exact shortfall so the caller can re-show
// current stock and let the user adjust the quantity.
type InsufficientStockError struct {
	VariantID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: requested %d, available %d", e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// DatabaseError wraps a transient infrastructure failure. The transaction that
// produced it is guaranteed rolled back.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database: %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// Repository is the single source of truth for variants, customers, sales,
// expenses and returns. Every multi-row mutation runs inside exactly one
// transaction owned by the implementation; callers never see partial effects.
type Repository interface {
	ListVariants(ctx context.Context) ([]domain.Variant, error)
	GetVariant(ctx context.Context, variantID int64) (*domain.Variant, error)
	CreateVariant(ctx context.Context, variant domain.Variant) (*domain.Variant, error)
	UpdateVariant(ctx context.Context, variant domain.Variant) (*domain.Variant, error)
	GetStock(ctx context.Context, variantID int64) (int, error)
	AdjustStock(ctx context.Context, variantID int64, delta int) (int, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	FindCustomerByID(ctx context.Context, customerID int64) (*domain.Customer, error)
	FindCustomerByName(ctx context.Context, name string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	CheckoutCart(ctx context.Context, cart domain.CartCheckout) ([]domain.SaleLine, error)
	GetSaleByID(ctx context.Context, saleID int64) (*domain.SaleLine, error)
	ListSales(ctx context.Context, limit int) ([]domain.SaleLine, error)
	ListSalesByInvoice(ctx context.Context, invoiceID string) ([]domain.SaleLine, error)
	UpdateSaleQuantity(ctx context.Context, saleID int64, newQty int, newTotal decimal.Decimal) (*domain.SaleLine, error)
	DeleteSale(ctx context.Context, saleID int64) error

	CreateReturn(ctx context.Context, saleID int64, compensateExpense bool, at time.Time) (*domain.Return, error)
	ListReturns(ctx context.Context, limit int) ([]domain.Return, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, limit int) ([]domain.Expense, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
