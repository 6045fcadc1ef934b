package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tar002a/boutique-app-v2/internal/cache"
	"github.com/tar002a/boutique-app-v2/internal/domain"
	"github.com/tar002a/boutique-app-v2/internal/invoice"
	"github.com/tar002a/boutique-app-v2/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const defaultListLimit = 100

// Service orchestrates checkout, sale reconciliation and catalog management on
// top of the repository. All multi-row consistency lives in the repository;
// the service resolves identities, allocates invoice ids and keeps the read
// cache coherent after successful mutations.
type Service struct {
	repo     store.Repository
	cache    cache.ReadCache
	invoices *invoice.Allocator
	cacheTTL time.Duration
}

func New(repo store.Repository, readCache cache.ReadCache, invoices *invoice.Allocator, cacheTTL time.Duration) *Service {
	if readCache == nil {
		readCache = cache.NoopReadCache{}
	}
	if invoices == nil {
		invoices = invoice.NewAllocator(nil)
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		cache:    readCache,
		invoices: invoices,
		cacheTTL: cacheTTL,
	}
}

func (s *Service) ListVariants(ctx context.Context) ([]domain.Variant, error) {
	return cachedList(ctx, s, cache.KeyInventory, s.repo.ListVariants)
}

func (s *Service) GetVariant(ctx context.Context, variantID int64) (domain.Variant, error) {
	if variantID < 1 {
		return domain.Variant{}, store.ErrValidation
	}
	variant, err := s.repo.GetVariant(ctx, variantID)
	if err != nil {
		return domain.Variant{}, err
	}
	return *variant, nil
}

func (s *Service) CreateVariant(ctx context.Context, req domain.VariantCreateRequest) (domain.Variant, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Variant{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Color = strings.TrimSpace(req.Color)
	req.Size = strings.TrimSpace(req.Size)
	if req.Name == "" {
		return domain.Variant{}, store.ErrValidation
	}
	if req.Stock < 0 || req.Cost.IsNegative() || req.Price.IsNegative() {
		return domain.Variant{}, store.ErrValidation
	}

	created, err := s.repo.CreateVariant(ctx, domain.Variant{
		Name:  req.Name,
		Color: req.Color,
		Size:  req.Size,
		Cost:  req.Cost,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		return domain.Variant{}, err
	}

	s.invalidate(ctx, cache.KeyInventory)
	return *created, nil
}

func (s *Service) UpdateVariant(ctx context.Context, variantID int64, req domain.VariantUpdateRequest) (domain.Variant, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Variant{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetVariant(ctx, variantID)
	if err != nil {
		return domain.Variant{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Variant{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Color != nil {
		updated.Color = strings.TrimSpace(*req.Color)
	}
	if req.Size != nil {
		updated.Size = strings.TrimSpace(*req.Size)
	}
	if req.Cost != nil {
		if req.Cost.IsNegative() {
			return domain.Variant{}, store.ErrValidation
		}
		updated.Cost = *req.Cost
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Variant{}, store.ErrValidation
		}
		updated.Price = *req.Price
	}

	saved, err := s.repo.UpdateVariant(ctx, updated)
	if err != nil {
		return domain.Variant{}, err
	}

	s.invalidate(ctx, cache.KeyInventory)
	return *saved, nil
}

func (s *Service) GetStock(ctx context.Context, variantID int64) (domain.StockAdjustResponse, error) {
	stock, err := s.repo.GetStock(ctx, variantID)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	return domain.StockAdjustResponse{VariantID: variantID, Stock: stock}, nil
}

// AdjustStock applies a manual delta, for receiving new inventory or writing
// off damaged pieces. Sale, edit and return flows never go through here.
func (s *Service) AdjustStock(ctx context.Context, variantID int64, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.StockAdjustResponse{}, fmt.Errorf("admin role required")
	}
	if req.Delta == 0 {
		return domain.StockAdjustResponse{}, store.ErrValidation
	}

	stock, err := s.repo.AdjustStock(ctx, variantID, req.Delta)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	s.invalidate(ctx, cache.KeyInventory)
	return domain.StockAdjustResponse{VariantID: variantID, Stock: stock}, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return cachedList(ctx, s, cache.KeyCustomers, s.repo.ListCustomers)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	customer, err := s.findOrCreateCustomer(ctx, 0, req.Name, req.Phone, req.Address)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

// findOrCreateCustomer resolves the customer identity for a checkout. A
// positive id must reference an existing customer; otherwise the name is
// matched case-sensitively, and a new customer is created on no match.
func (s *Service) findOrCreateCustomer(ctx context.Context, customerID int64, name string, phone string, address string) (*domain.Customer, error) {
	if customerID > 0 {
		customer, err := s.repo.FindCustomerByID(ctx, customerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("customer %d: %w", customerID, store.ErrCustomerRequired)
			}
			return nil, err
		}
		return customer, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrCustomerRequired
	}

	existing, err := s.repo.FindCustomerByName(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:     name,
		Phone:    strings.TrimSpace(phone),
		Address:  strings.TrimSpace(address),
		Username: name,
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cache.KeyCustomers)
	return created, nil
}

// Checkout commits a cart as one atomic sale. Every line lands with the same
// invoice id, or nothing lands at all.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.Receipt, error) {
	if len(req.Lines) == 0 {
		return domain.Receipt{}, store.ErrEmptyCart
	}
	for _, line := range req.Lines {
		if line.VariantID < 1 || line.Qty < 1 || line.UnitPrice.IsNegative() {
			return domain.Receipt{}, store.ErrValidation
		}
	}

	customer, err := s.findOrCreateCustomer(ctx, req.CustomerID, req.CustomerName, req.CustomerPhone, req.CustomerAddress)
	if err != nil {
		return domain.Receipt{}, err
	}

	now := s.invoices.Now()
	cart := domain.CartCheckout{
		CustomerID:       customer.ID,
		InvoiceID:        s.invoices.Allocate(now),
		Date:             now,
		DeliveryDuration: strings.TrimSpace(req.DeliveryDuration),
		Lines:            req.Lines,
	}

	sales, err := s.repo.CheckoutCart(ctx, cart)
	if err != nil {
		return domain.Receipt{}, err
	}

	s.invalidate(ctx, cache.KeyInventory, cache.KeySales)

	receipt := domain.Receipt{
		InvoiceID:        cart.InvoiceID,
		CustomerID:       customer.ID,
		CustomerName:     customer.Name,
		CustomerAddress:  customer.Address,
		DeliveryDuration: cart.DeliveryDuration,
		Date:             now,
		Lines:            make([]domain.ReceiptLine, 0, len(sales)),
		GrandTotal:       decimal.Zero,
	}
	for _, sale := range sales {
		receipt.Lines = append(receipt.Lines, domain.ReceiptLine{
			SaleID:      sale.ID,
			VariantID:   sale.VariantID,
			ProductName: sale.ProductName,
			Qty:         sale.Qty,
			Total:       sale.Total,
		})
		receipt.GrandTotal = receipt.GrandTotal.Add(sale.Total)
	}
	receipt.Text = buildReceiptText(receipt)

	return receipt, nil
}

func (s *Service) GetSale(ctx context.Context, saleID int64) (domain.SaleLine, error) {
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.SaleLine{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.SaleLine, error) {
	if limit < 1 {
		limit = defaultListLimit
	}
	if limit == defaultListLimit {
		return cachedList(ctx, s, cache.KeySales, func(ctx context.Context) ([]domain.SaleLine, error) {
			return s.repo.ListSales(ctx, defaultListLimit)
		})
	}
	return s.repo.ListSales(ctx, limit)
}

// GetInvoice regroups the sale lines that were committed together at checkout.
func (s *Service) GetInvoice(ctx context.Context, invoiceID string) ([]domain.SaleLine, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, store.ErrValidation
	}
	sales, err := s.repo.ListSalesByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, store.ErrNotFound
	}
	return sales, nil
}

// EditSale changes the quantity and total of a committed sale line and
// reconciles stock by the quantity delta. Profit is rescaled from the per-unit
// profit frozen at sale time, so later catalog cost edits stay irrelevant.
func (s *Service) EditSale(ctx context.Context, saleID int64, req domain.SaleEditRequest) (domain.SaleLine, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.SaleLine{}, fmt.Errorf("admin role required")
	}
	if req.NewQty < 1 || req.NewTotal.IsNegative() {
		return domain.SaleLine{}, store.ErrValidation
	}

	updated, err := s.repo.UpdateSaleQuantity(ctx, saleID, req.NewQty, req.NewTotal)
	if err != nil {
		return domain.SaleLine{}, err
	}

	s.invalidate(ctx, cache.KeyInventory, cache.KeySales)
	return *updated, nil
}

// DeleteSale removes a sale line and restores its quantity to stock.
func (s *Service) DeleteSale(ctx context.Context, saleID int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteSale(ctx, saleID); err != nil {
		return err
	}

	s.invalidate(ctx, cache.KeyInventory, cache.KeySales)
	return nil
}

// ReturnSale restocks a sold quantity and records the refund. With
// CompensateExpense set, the refund is also written into the expense ledger so
// daily cash reports stay balanced.
func (s *Service) ReturnSale(ctx context.Context, saleID int64, req domain.ReturnRequest) (domain.Return, error) {
	ret, err := s.repo.CreateReturn(ctx, saleID, req.CompensateExpense, s.invoices.Now())
	if err != nil {
		return domain.Return{}, err
	}

	keys := []string{cache.KeyInventory, cache.KeySales}
	if req.CompensateExpense {
		keys = append(keys, cache.KeyExpenses)
	}
	s.invalidate(ctx, keys...)

	return *ret, nil
}

func (s *Service) ListReturns(ctx context.Context, limit int) ([]domain.Return, error) {
	if limit < 1 {
		limit = defaultListLimit
	}
	return s.repo.ListReturns(ctx, limit)
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	req.Category = strings.TrimSpace(req.Category)
	if req.Reason == "" || req.Amount.IsNegative() || req.Amount.IsZero() {
		return domain.Expense{}, store.ErrValidation
	}

	created, err := s.repo.CreateExpense(ctx, domain.Expense{
		Amount:   req.Amount,
		Reason:   req.Reason,
		Category: req.Category,
		Date:     s.invoices.Now(),
	})
	if err != nil {
		return domain.Expense{}, err
	}

	s.invalidate(ctx, cache.KeyExpenses)
	return *created, nil
}

func (s *Service) ListExpenses(ctx context.Context, limit int) ([]domain.Expense, error) {
	if limit < 1 {
		limit = defaultListLimit
	}
	if limit == defaultListLimit {
		return cachedList(ctx, s, cache.KeyExpenses, func(ctx context.Context) ([]domain.Expense, error) {
			return s.repo.ListExpenses(ctx, defaultListLimit)
		})
	}
	return s.repo.ListExpenses(ctx, limit)
}

// cachedList is a JSON read-through over a repository list query. Cache
// failures degrade to direct reads; they never fail the request.
func cachedList[T any](ctx context.Context, s *Service, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	if payload, hit, err := s.cache.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: cache get failed key=%s: %v", key, err)
	} else if hit {
		var items []T
		if err := json.Unmarshal(payload, &items); err == nil {
			return items, nil
		}
		log.Printf("[service] WARN: discarding corrupt cache entry key=%s", key)
	}

	items, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(items); err == nil {
		if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
			log.Printf("[service] WARN: cache set failed key=%s: %v", key, err)
		}
	}

	return items, nil
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		log.Printf("[service] WARN: cache invalidation failed keys=%v: %v", keys, err)
	}
}

func buildReceiptText(r domain.Receipt) string {
	lines := []string{
		"Nawaem Boutique",
		"========================",
		"Invoice : " + r.InvoiceID,
		"Customer: " + r.CustomerName,
		"Date    : " + r.Date.Format("2006-01-02 15:04"),
	}
	if r.DeliveryDuration != "" {
		lines = append(lines, "Delivery: "+r.DeliveryDuration)
	}
	lines = append(lines, "------------------------")
	for _, line := range r.Lines {
		lines = append(lines, fmt.Sprintf("%s x%d", line.ProductName, line.Qty))
		lines = append(lines, fmt.Sprintf("  %s IQD", line.Total.StringFixed(0)))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Total   : %s IQD", r.GrandTotal.StringFixed(0)),
		"========================",
		"Thank you for your visit",
		"",
	)
	return strings.Join(lines, "\n")
}
