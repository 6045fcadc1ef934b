package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is one color/size SKU of a product with its own cost, price and stock.
type Variant struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Color string          `json:"color"`
	Size  string          `json:"size"`
	Cost  decimal.Decimal `json:"cost"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type VariantCreateRequest struct {
	Name  string          `json:"name"`
	Color string          `json:"color"`
	Size  string          `json:"size"`
	Cost  decimal.Decimal `json:"cost"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type VariantUpdateRequest struct {
	Name  *string          `json:"name,omitempty"`
	Color *string          `json:"color,omitempty"`
	Size  *string          `json:"size,omitempty"`
	Cost  *decimal.Decimal `json:"cost,omitempty"`
	Price *decimal.Decimal `json:"price,omitempty"`
}

type StockAdjustRequest struct {
	Delta int `json:"delta"`
}

type StockAdjustResponse struct {
	VariantID int64 `json:"variant_id"`
	Stock     int   `json:"stock"`
}

type Customer struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Username string `json:"username,omitempty"`
}

type CustomerRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// CartLine is one entry of a checkout cart. UnitPrice is the price agreed at
// the register, which may differ from the variant's catalog price.
type CartLine struct {
	VariantID int64           `json:"variant_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CheckoutRequest carries the cart and the customer identity for one checkout.
// Either CustomerID references an existing customer, or CustomerName (with
// optional phone/address) identifies one to find or create.
type CheckoutRequest struct {
	CustomerID       int64      `json:"customer_id,omitempty"`
	CustomerName     string     `json:"customer_name,omitempty"`
	CustomerPhone    string     `json:"customer_phone,omitempty"`
	CustomerAddress  string     `json:"customer_address,omitempty"`
	DeliveryDuration string     `json:"delivery_duration,omitempty"`
	Lines            []CartLine `json:"lines"`
}

// CartCheckout is the persistence-layer view of a validated cart: the resolved
// customer, the allocated invoice id and the lines to commit atomically.
type CartCheckout struct {
	CustomerID       int64
	InvoiceID        string
	Date             time.Time
	DeliveryDuration string
	Lines            []CartLine
}

// SaleLine is one committed row of a checkout. ProductName freezes the variant
// name at sale time so later catalog edits do not corrupt history.
type SaleLine struct {
	ID               int64           `json:"id"`
	CustomerID       int64           `json:"customer_id,omitempty"`
	VariantID        int64           `json:"variant_id"`
	ProductName      string          `json:"product_name"`
	Qty              int             `json:"qty"`
	Total            decimal.Decimal `json:"total"`
	Profit           decimal.Decimal `json:"profit"`
	Date             time.Time       `json:"date"`
	InvoiceID        string          `json:"invoice_id"`
	DeliveryDuration string          `json:"delivery_duration,omitempty"`
}

type SaleEditRequest struct {
	NewQty   int             `json:"new_qty"`
	NewTotal decimal.Decimal `json:"new_total"`
}

type ReceiptLine struct {
	SaleID      int64           `json:"sale_id"`
	VariantID   int64           `json:"variant_id"`
	ProductName string          `json:"product_name"`
	Qty         int             `json:"qty"`
	Total       decimal.Decimal `json:"total"`
}

// Receipt is what a successful checkout hands back to the UI for rendering.
type Receipt struct {
	InvoiceID        string          `json:"invoice_id"`
	CustomerID       int64           `json:"customer_id"`
	CustomerName     string          `json:"customer_name"`
	CustomerAddress  string          `json:"customer_address,omitempty"`
	DeliveryDuration string          `json:"delivery_duration,omitempty"`
	Date             time.Time       `json:"date"`
	Lines            []ReceiptLine   `json:"lines"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
	Text             string          `json:"text"`
}

type Expense struct {
	ID       int64           `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
	Category string          `json:"category,omitempty"`
	Date     time.Time       `json:"date"`
}

type ExpenseCreateRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
	Category string          `json:"category,omitempty"`
}

type Return struct {
	ID             int64           `json:"id"`
	SaleID         int64           `json:"sale_id"`
	VariantID      int64           `json:"variant_id"`
	CustomerID     int64           `json:"customer_id,omitempty"`
	ProductName    string          `json:"product_name"`
	ProductDetails string          `json:"product_details,omitempty"`
	Qty            int             `json:"qty"`
	ReturnAmount   decimal.Decimal `json:"return_amount"`
	ReturnDate     time.Time       `json:"return_date"`
	Status         string          `json:"status"`
}

type ReturnRequest struct {
	CompensateExpense bool `json:"compensate_expense"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for staff auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const ReturnStatusReturned = "Returned"

// ExpenseCategoryReturns marks expenses written by the return processor to
// compensate for a refunded sale.
const ExpenseCategoryReturns = "returns"
