package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tar002a/boutique-app-v2/internal/domain"
	"github.com/tar002a/boutique-app-v2/internal/store"
)

func TestCheckoutAndReturnRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("BOUTIQUE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BOUTIQUE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	variant, err := s.CreateVariant(ctx, domain.Variant{
		Name:  "Abaya Integration",
		Color: "Black",
		Size:  "M",
		Cost:  decimal.NewFromInt(6000),
		Price: decimal.NewFromInt(10000),
		Stock: 5,
	})
	if err != nil {
		t.Fatalf("create variant: %v", err)
	}

	customer, err := s.CreateCustomer(ctx, domain.Customer{Name: "Integration Customer"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM expenses WHERE reason LIKE 'return of sale %'`)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM returns WHERE variant_id = $1`, variant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE variant_id = $1`, variant.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customer.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM variants WHERE id = $1`, variant.ID)
	})

	now := time.Now().UTC()
	sales, err := s.CheckoutCart(ctx, domain.CartCheckout{
		CustomerID: customer.ID,
		InvoiceID:  now.Format("200601021504"),
		Date:       now,
		Lines: []domain.CartLine{
			{VariantID: variant.ID, Qty: 3, UnitPrice: decimal.NewFromInt(10000)},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("expected 1 sale line, got %d", len(sales))
	}
	if !sales[0].Profit.Equal(decimal.NewFromInt(12000)) {
		t.Fatalf("expected profit 12000, got %s", sales[0].Profit)
	}

	stock, err := s.GetStock(ctx, variant.ID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if stock != 2 {
		t.Fatalf("expected stock 2 after checkout, got %d", stock)
	}

	// Oversell on the remaining stock must leave everything untouched.
	_, err = s.CheckoutCart(ctx, domain.CartCheckout{
		CustomerID: customer.ID,
		InvoiceID:  now.Format("200601021504"),
		Date:       now,
		Lines: []domain.CartLine{
			{VariantID: variant.ID, Qty: 99, UnitPrice: decimal.NewFromInt(10000)},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	ret, err := s.CreateReturn(ctx, sales[0].ID, true, time.Now().UTC())
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if !ret.ReturnAmount.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("expected return amount 30000, got %s", ret.ReturnAmount)
	}

	stock, err = s.GetStock(ctx, variant.ID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if stock != 5 {
		t.Fatalf("expected stock restored to 5 after return, got %d", stock)
	}

	if _, err := s.CreateReturn(ctx, sales[0].ID, false, time.Now().UTC()); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected second return rejected, got %v", err)
	}
}
