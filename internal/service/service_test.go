package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tar002a/boutique-app-v2/internal/cache"
	"github.com/tar002a/boutique-app-v2/internal/domain"
	"github.com/tar002a/boutique-app-v2/internal/invoice"
	"github.com/tar002a/boutique-app-v2/internal/store"
	"github.com/tar002a/boutique-app-v2/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.New()
	return New(repo, cache.NoopReadCache{}, invoice.NewAllocator(time.UTC), time.Minute)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func seedVariant(t *testing.T, svc *Service, name string, cost int64, price int64, stock int) domain.Variant {
	t.Helper()
	created, err := svc.CreateVariant(adminCtx(), domain.VariantCreateRequest{
		Name:  name,
		Color: "Black",
		Size:  "M",
		Cost:  decimal.NewFromInt(cost),
		Price: decimal.NewFromInt(price),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("seed variant %s failed: %v", name, err)
	}
	return created
}

func TestCheckoutCommitsSaleAndDecrementsStock(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Abaya Classic", 6000, 10000, 5)

	receipt, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines: []domain.CartLine{
			{VariantID: v.ID, Qty: 3, UnitPrice: decimal.NewFromInt(10000)},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if receipt.InvoiceID == "" {
		t.Fatalf("expected invoice id on receipt")
	}
	if !receipt.GrandTotal.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("expected grand total 30000, got %s", receipt.GrandTotal)
	}
	if receipt.Text == "" {
		t.Fatalf("expected printable receipt text")
	}

	stock, err := svc.GetStock(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	if stock.Stock != 2 {
		t.Fatalf("expected stock 2 after checkout, got %d", stock.Stock)
	}

	sale, err := svc.GetSale(context.Background(), receipt.Lines[0].SaleID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if !sale.Total.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("expected total 30000, got %s", sale.Total)
	}
	if !sale.Profit.Equal(decimal.NewFromInt(12000)) {
		t.Fatalf("expected profit 12000, got %s", sale.Profit)
	}
	if sale.InvoiceID != receipt.InvoiceID {
		t.Fatalf("sale invoice id %s does not match receipt %s", sale.InvoiceID, receipt.InvoiceID)
	}
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{CustomerName: "Zainab"})
	if !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCheckoutRequiresCustomerIdentity(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Hijab Chiffon", 4000, 8000, 10)

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{VariantID: v.ID, Qty: 1, UnitPrice: decimal.NewFromInt(8000)},
		},
	})
	if !errors.Is(err, store.ErrCustomerRequired) {
		t.Fatalf("expected ErrCustomerRequired, got %v", err)
	}
}

func TestCheckoutReusesExistingCustomerByName(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Hijab Chiffon", 4000, 8000, 10)

	first, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Noor",
		Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 1, UnitPrice: decimal.NewFromInt(8000)}},
	})
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	second, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Noor",
		Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 1, UnitPrice: decimal.NewFromInt(8000)}},
	})
	if err != nil {
		t.Fatalf("second checkout failed: %v", err)
	}

	if first.CustomerID != second.CustomerID {
		t.Fatalf("expected same customer id, got %d and %d", first.CustomerID, second.CustomerID)
	}

	customers, err := svc.ListCustomers(context.Background())
	if err != nil {
		t.Fatalf("list customers failed: %v", err)
	}
	if len(customers) != 1 {
		t.Fatalf("expected 1 customer, got %d", len(customers))
	}
}

func TestCheckoutAbortsWholeCartOnInsufficientStock(t *testing.T) {
	svc := newTestService()
	a := seedVariant(t, svc, "Abaya Classic", 6000, 10000, 5)
	b := seedVariant(t, svc, "Evening Dress", 40000, 65000, 1)
	c := seedVariant(t, svc, "Hijab Chiffon", 4000, 8000, 10)

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines: []domain.CartLine{
			{VariantID: a.ID, Qty: 2, UnitPrice: decimal.NewFromInt(10000)},
			{VariantID: b.ID, Qty: 3, UnitPrice: decimal.NewFromInt(65000)},
			{VariantID: c.ID, Qty: 1, UnitPrice: decimal.NewFromInt(8000)},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected typed InsufficientStockError, got %T", err)
	}
	if stockErr.VariantID != b.ID || stockErr.Requested != 3 || stockErr.Available != 1 {
		t.Fatalf("unexpected shortfall detail: %+v", stockErr)
	}

	for _, v := range []struct {
		id   int64
		want int
	}{{a.ID, 5}, {b.ID, 1}, {c.ID, 10}} {
		stock, err := svc.GetStock(context.Background(), v.id)
		if err != nil {
			t.Fatalf("get stock failed: %v", err)
		}
		if stock.Stock != v.want {
			t.Fatalf("variant %d: expected untouched stock %d, got %d", v.id, v.want, stock.Stock)
		}
	}

	sales, err := svc.ListSales(context.Background(), 10)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sales after aborted checkout, got %d", len(sales))
	}
}

func TestInvoiceGroupsAllCartLines(t *testing.T) {
	svc := newTestService()
	a := seedVariant(t, svc, "Abaya Classic", 6000, 10000, 5)
	b := seedVariant(t, svc, "Hijab Chiffon", 4000, 8000, 10)

	receipt, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines: []domain.CartLine{
			{VariantID: a.ID, Qty: 1, UnitPrice: decimal.NewFromInt(10000)},
			{VariantID: b.ID, Qty: 2, UnitPrice: decimal.NewFromInt(8000)},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	sales, err := svc.GetInvoice(context.Background(), receipt.InvoiceID)
	if err != nil {
		t.Fatalf("get invoice failed: %v", err)
	}
	if len(sales) != 2 {
		t.Fatalf("expected 2 sale lines under invoice, got %d", len(sales))
	}
	for _, sale := range sales {
		if sale.InvoiceID != receipt.InvoiceID {
			t.Fatalf("sale %d carries invoice %s, want %s", sale.ID, sale.InvoiceID, receipt.InvoiceID)
		}
	}
}

func TestProfitFrozenAgainstLaterCostEdits(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Abaya Classic", 6000, 10000, 5)

	receipt, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 2, UnitPrice: decimal.NewFromInt(10000)}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	newCost := decimal.NewFromInt(9000)
	if _, err := svc.UpdateVariant(adminCtx(), v.ID, domain.VariantUpdateRequest{Cost: &newCost}); err != nil {
		t.Fatalf("cost edit failed: %v", err)
	}

	sale, err := svc.GetSale(context.Background(), receipt.Lines[0].SaleID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if !sale.Profit.Equal(decimal.NewFromInt(8000)) {
		t.Fatalf("expected profit frozen at 8000, got %s", sale.Profit)
	}
}

func TestEditSaleReconcilesStockAndProfit(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Abaya Classic", 6000, 10000, 10)

	receipt, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 3, UnitPrice: decimal.NewFromInt(10000)}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	saleID := receipt.Lines[0].SaleID

	// Increase takes the extra pieces from stock.
	updated, err := svc.EditSale(adminCtx(), saleID, domain.SaleEditRequest{
		NewQty:   5,
		NewTotal: decimal.NewFromInt(50000),
	})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if !updated.Profit.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("expected profit 20000 after increase, got %s", updated.Profit)
	}
	stock, _ := svc.GetStock(context.Background(), v.ID)
	if stock.Stock != 5 {
		t.Fatalf("expected stock 5 after increase, got %d", stock.Stock)
	}

	// Decrease restores the difference.
	updated, err = svc.EditSale(adminCtx(), saleID, domain.SaleEditRequest{
		NewQty:   1,
		NewTotal: decimal.NewFromInt(10000),
	})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if !updated.Profit.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("expected profit 4000 after decrease, got %s", updated.Profit)
	}
	stock, _ = svc.GetStock(context.Background(), v.ID)
	if stock.Stock != 9 {
		t.Fatalf("expected stock 9 after decrease, got %d", stock.Stock)
	}
}

func TestEditSaleRejectsIncreaseBeyondStock(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Evening Dress", 40000, 65000, 3)

	receipt, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 2, UnitPrice: decimal.NewFromInt(65000)}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	_, err = svc.EditSale(adminCtx(), receipt.Lines[0].SaleID, domain.SaleEditRequest{
		NewQty:   4,
		NewTotal: decimal.NewFromInt(260000),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestDeleteSaleRestoresStock(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Kimono Cardigan", 15000, 26000, 8)

	receipt, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 3, UnitPrice: decimal.NewFromInt(26000)}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	saleID := receipt.Lines[0].SaleID

	if err := svc.DeleteSale(adminCtx(), saleID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	stock, _ := svc.GetStock(context.Background(), v.ID)
	if stock.Stock != 8 {
		t.Fatalf("expected stock restored to 8, got %d", stock.Stock)
	}
	if _, err := svc.GetSale(context.Background(), saleID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted sale to be gone, got %v", err)
	}
}

func TestReturnRestocksAndRecordsRefund(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Abaya Classic", 6000, 10000, 5)

	receipt, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 3, UnitPrice: decimal.NewFromInt(10000)}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	saleID := receipt.Lines[0].SaleID

	ret, err := svc.ReturnSale(cashierCtx(), saleID, domain.ReturnRequest{CompensateExpense: true})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if !ret.ReturnAmount.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("expected return amount 30000, got %s", ret.ReturnAmount)
	}
	if ret.Status != domain.ReturnStatusReturned {
		t.Fatalf("expected status %q, got %q", domain.ReturnStatusReturned, ret.Status)
	}
	if ret.ProductDetails != "Black (M)" {
		t.Fatalf("expected product details 'Black (M)', got %q", ret.ProductDetails)
	}

	stock, _ := svc.GetStock(context.Background(), v.ID)
	if stock.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", stock.Stock)
	}

	expenses, err := svc.ListExpenses(context.Background(), 10)
	if err != nil {
		t.Fatalf("list expenses failed: %v", err)
	}
	if len(expenses) != 1 {
		t.Fatalf("expected 1 compensating expense, got %d", len(expenses))
	}
	if expenses[0].Category != domain.ExpenseCategoryReturns {
		t.Fatalf("expected expense category %q, got %q", domain.ExpenseCategoryReturns, expenses[0].Category)
	}
	if !expenses[0].Amount.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("expected expense amount 30000, got %s", expenses[0].Amount)
	}
}

func TestSaleCanOnlyBeReturnedOnce(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Abaya Classic", 6000, 10000, 5)

	receipt, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 1, UnitPrice: decimal.NewFromInt(10000)}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	saleID := receipt.Lines[0].SaleID

	if _, err := svc.ReturnSale(cashierCtx(), saleID, domain.ReturnRequest{}); err != nil {
		t.Fatalf("first return failed: %v", err)
	}
	if _, err := svc.ReturnSale(cashierCtx(), saleID, domain.ReturnRequest{}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected second return to fail with ErrValidation, got %v", err)
	}

	stock, _ := svc.GetStock(context.Background(), v.ID)
	if stock.Stock != 5 {
		t.Fatalf("expected stock 5 after single return, got %d", stock.Stock)
	}
}

func TestReturnedSaleIsImmutable(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Abaya Classic", 6000, 10000, 5)

	receipt, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 2, UnitPrice: decimal.NewFromInt(10000)}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	saleID := receipt.Lines[0].SaleID

	if _, err := svc.ReturnSale(cashierCtx(), saleID, domain.ReturnRequest{}); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	_, err = svc.EditSale(adminCtx(), saleID, domain.SaleEditRequest{NewQty: 1, NewTotal: decimal.NewFromInt(10000)})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected edit of returned sale to fail, got %v", err)
	}
	if err := svc.DeleteSale(adminCtx(), saleID); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected delete of returned sale to fail, got %v", err)
	}
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	svc := newTestService()
	v := seedVariant(t, svc, "Evening Dress", 40000, 65000, 5)

	const buyers = 10
	var wg sync.WaitGroup
	results := make(chan error, buyers)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
				CustomerName: fmt.Sprintf("Buyer %d", n),
				Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 1, UnitPrice: decimal.NewFromInt(65000)}},
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	sold, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			sold++
		case errors.Is(err, store.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected checkout error: %v", err)
		}
	}
	if sold != 5 || rejected != 5 {
		t.Fatalf("expected 5 sold / 5 rejected, got %d / %d", sold, rejected)
	}

	stock, _ := svc.GetStock(context.Background(), v.ID)
	if stock.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", stock.Stock)
	}
}

func TestCatalogMutationsRequireAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateVariant(cashierCtx(), domain.VariantCreateRequest{
		Name:  "Abaya Classic",
		Cost:  decimal.NewFromInt(6000),
		Price: decimal.NewFromInt(10000),
		Stock: 5,
	})
	if err == nil {
		t.Fatalf("expected cashier variant create to fail")
	}

	_, err = svc.AdjustStock(cashierCtx(), 1, domain.StockAdjustRequest{Delta: 5})
	if err == nil {
		t.Fatalf("expected cashier stock adjust to fail")
	}
}

// recordingCache tracks invalidations so cache coherence after mutations can
// be asserted without a real Redis.
type recordingCache struct {
	mu          sync.Mutex
	store       map[string][]byte
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{store: map[string][]byte{}}
}

func (c *recordingCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.store[key]
	return payload, ok, nil
}

func (c *recordingCache) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = payload
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.store, key)
		c.invalidated = append(c.invalidated, key)
	}
	return nil
}

func TestCheckoutInvalidatesReadCache(t *testing.T) {
	repo := memory.New()
	rc := newRecordingCache()
	svc := New(repo, rc, invoice.NewAllocator(time.UTC), time.Minute)
	v := seedVariant(t, svc, "Abaya Classic", 6000, 10000, 5)

	// Prime the inventory cache.
	if _, err := svc.ListVariants(context.Background()); err != nil {
		t.Fatalf("list variants failed: %v", err)
	}
	if _, ok := rc.store[cache.KeyInventory]; !ok {
		t.Fatalf("expected inventory cache to be primed")
	}

	if _, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		CustomerName: "Zainab",
		Lines:        []domain.CartLine{{VariantID: v.ID, Qty: 1, UnitPrice: decimal.NewFromInt(10000)}},
	}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if _, ok := rc.store[cache.KeyInventory]; ok {
		t.Fatalf("expected inventory cache invalidated after checkout")
	}

	variants, err := svc.ListVariants(context.Background())
	if err != nil {
		t.Fatalf("list variants failed: %v", err)
	}
	if variants[0].Stock != 4 {
		t.Fatalf("expected fresh stock 4 after invalidation, got %d", variants[0].Stock)
	}
}
