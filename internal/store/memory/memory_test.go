package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tar002a/boutique-app-v2/internal/domain"
	"github.com/tar002a/boutique-app-v2/internal/store"
)

func seedVariant(t *testing.T, s *Store, stock int) domain.Variant {
	t.Helper()
	v, err := s.CreateVariant(context.Background(), domain.Variant{
		Name:  "Abaya Classic",
		Color: "Black",
		Size:  "M",
		Cost:  decimal.NewFromInt(6000),
		Price: decimal.NewFromInt(10000),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("create variant: %v", err)
	}
	return *v
}

func TestCheckoutAggregatesDuplicateVariantLines(t *testing.T) {
	s := New()
	v := seedVariant(t, s, 5)

	// Two lines of the same variant must be checked against combined demand.
	_, err := s.CheckoutCart(context.Background(), domain.CartCheckout{
		CustomerID: 1,
		InvoiceID:  "202601020304",
		Date:       time.Now().UTC(),
		Lines: []domain.CartLine{
			{VariantID: v.ID, Qty: 3, UnitPrice: decimal.NewFromInt(10000)},
			{VariantID: v.ID, Qty: 3, UnitPrice: decimal.NewFromInt(10000)},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected combined demand to exceed stock, got %v", err)
	}

	stock, err := s.GetStock(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if stock != 5 {
		t.Fatalf("expected stock untouched at 5, got %d", stock)
	}
}

func TestCheckoutPreservesCartLineOrder(t *testing.T) {
	s := New()
	a := seedVariant(t, s, 5)
	b := seedVariant(t, s, 5)

	// Cart lists the higher id first; results must come back in cart order
	// even though locking happens in ascending variant id order.
	sales, err := s.CheckoutCart(context.Background(), domain.CartCheckout{
		CustomerID: 1,
		InvoiceID:  "202601020304",
		Date:       time.Now().UTC(),
		Lines: []domain.CartLine{
			{VariantID: b.ID, Qty: 1, UnitPrice: decimal.NewFromInt(10000)},
			{VariantID: a.ID, Qty: 2, UnitPrice: decimal.NewFromInt(10000)},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if sales[0].VariantID != b.ID || sales[1].VariantID != a.ID {
		t.Fatalf("expected results in cart order, got %d then %d", sales[0].VariantID, sales[1].VariantID)
	}
}

func TestCheckoutRejectsMissingInvoiceID(t *testing.T) {
	s := New()
	v := seedVariant(t, s, 5)

	_, err := s.CheckoutCart(context.Background(), domain.CartCheckout{
		CustomerID: 1,
		Date:       time.Now().UTC(),
		Lines:      []domain.CartLine{{VariantID: v.ID, Qty: 1, UnitPrice: decimal.NewFromInt(10000)}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation without invoice id, got %v", err)
	}
}

func TestAdjustStockGuardsNegativeResult(t *testing.T) {
	s := New()
	v := seedVariant(t, s, 2)

	if _, err := s.AdjustStock(context.Background(), v.ID, -3); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	stock, err := s.AdjustStock(context.Background(), v.ID, 4)
	if err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if stock != 6 {
		t.Fatalf("expected stock 6, got %d", stock)
	}
}
