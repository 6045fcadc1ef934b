package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/tar002a/boutique-app-v2/internal/domain"
	"github.com/tar002a/boutique-app-v2/internal/store"
)

// Store is a mutex-guarded in-memory Repository used by unit tests and demo
// mode. The single mutex gives every mutation the same all-or-nothing
// semantics the Postgres store gets from its transactions.
type Store struct {
	mu              sync.RWMutex
	variants        map[int64]domain.Variant
	customers       map[int64]domain.Customer
	sales           map[int64]domain.SaleLine
	returns         map[int64]domain.Return
	returnsBySale   map[int64]int64
	expenses        map[int64]domain.Expense
	usersByUsername map[string]domain.UserAccount

	nextVariantID  int64
	nextCustomerID int64
	nextSaleID     int64
	nextReturnID   int64
	nextExpenseID  int64
}

func New() *Store {
	return &Store{
		variants:        make(map[int64]domain.Variant),
		customers:       make(map[int64]domain.Customer),
		sales:           make(map[int64]domain.SaleLine),
		returns:         make(map[int64]domain.Return),
		returnsBySale:   make(map[int64]int64),
		expenses:        make(map[int64]domain.Expense),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial staff accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. These are never used in
// production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store pre-loaded with a small boutique catalog and the
// dev staff accounts.
func NewSeeded() *Store {
	s := New()

	seed := []domain.Variant{
		{Name: "Abaya Classic", Color: "Black", Size: "M", Cost: dec(22000), Price: dec(35000), Stock: 12},
		{Name: "Abaya Classic", Color: "Black", Size: "L", Cost: dec(22000), Price: dec(35000), Stock: 9},
		{Name: "Abaya Embroidered", Color: "Navy", Size: "M", Cost: dec(31000), Price: dec(48000), Stock: 6},
		{Name: "Evening Dress", Color: "Rose", Size: "S", Cost: dec(40000), Price: dec(65000), Stock: 4},
		{Name: "Evening Dress", Color: "Rose", Size: "M", Cost: dec(40000), Price: dec(65000), Stock: 5},
		{Name: "Hijab Chiffon", Color: "Beige", Size: "One", Cost: dec(4000), Price: dec(8000), Stock: 40},
		{Name: "Hijab Chiffon", Color: "Dusty Pink", Size: "One", Cost: dec(4000), Price: dec(8000), Stock: 35},
		{Name: "Kimono Cardigan", Color: "Olive", Size: "L", Cost: dec(15000), Price: dec(26000), Stock: 8},
	}
	for _, v := range seed {
		s.nextVariantID++
		v.ID = s.nextVariantID
		s.variants[v.ID] = v
	}

	s.usersByUsername = seedUsers()
	return s
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func (s *Store) ListVariants(_ context.Context) ([]domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	variants := make([]domain.Variant, 0, len(s.variants))
	for _, v := range s.variants {
		variants = append(variants, v)
	}
	sort.Slice(variants, func(i, j int) bool {
		if variants[i].Name != variants[j].Name {
			return variants[i].Name < variants[j].Name
		}
		if variants[i].Color != variants[j].Color {
			return variants[i].Color < variants[j].Color
		}
		return variants[i].Size < variants[j].Size
	})
	return variants, nil
}

func (s *Store) GetVariant(_ context.Context, variantID int64) (*domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.variants[variantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := v
	return &copied, nil
}

func (s *Store) CreateVariant(_ context.Context, variant domain.Variant) (*domain.Variant, error) {
	if variant.Name == "" || variant.Stock < 0 || variant.Cost.IsNegative() || variant.Price.IsNegative() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextVariantID++
	variant.ID = s.nextVariantID
	s.variants[variant.ID] = variant
	created := variant
	return &created, nil
}

func (s *Store) UpdateVariant(_ context.Context, variant domain.Variant) (*domain.Variant, error) {
	if variant.Name == "" || variant.Cost.IsNegative() || variant.Price.IsNegative() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.variants[variant.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	variant.Stock = existing.Stock
	s.variants[variant.ID] = variant
	updated := variant
	return &updated, nil
}

func (s *Store) GetStock(_ context.Context, variantID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.variants[variantID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return v.Stock, nil
}

func (s *Store) AdjustStock(_ context.Context, variantID int64, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[variantID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if delta < 0 && v.Stock < -delta {
		return 0, &store.InsufficientStockError{VariantID: variantID, Requested: -delta, Available: v.Stock}
	}
	v.Stock += delta
	s.variants[variantID] = v
	return v.Stock, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	sort.Slice(customers, func(i, j int) bool {
		return customers[i].Name < customers[j].Name
	})
	return customers, nil
}

func (s *Store) FindCustomerByID(_ context.Context, customerID int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := c
	return &copied, nil
}

func (s *Store) FindCustomerByName(_ context.Context, name string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Customer
	for _, c := range s.customers {
		if c.Name == name && (found == nil || c.ID < found.ID) {
			copied := c
			found = &copied
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrCustomerRequired
	}
	if customer.Username == "" {
		customer.Username = customer.Name
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCustomerID++
	customer.ID = s.nextCustomerID
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) CheckoutCart(_ context.Context, cart domain.CartCheckout) ([]domain.SaleLine, error) {
	if len(cart.Lines) == 0 {
		return nil, store.ErrEmptyCart
	}
	if cart.InvoiceID == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order := make([]int, len(cart.Lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cart.Lines[order[a]].VariantID < cart.Lines[order[b]].VariantID
	})

	// Stage the stock decrements first so a failing line leaves nothing
	// applied, mirroring the Postgres store's transaction-wide rollback.
	staged := make(map[int64]int, len(cart.Lines))
	for _, idx := range order {
		line := cart.Lines[idx]
		if line.Qty < 1 || line.UnitPrice.IsNegative() {
			return nil, store.ErrValidation
		}
		v, ok := s.variants[line.VariantID]
		if !ok {
			return nil, fmt.Errorf("variant %d: %w", line.VariantID, store.ErrValidation)
		}
		remaining := v.Stock - staged[line.VariantID]
		if remaining < line.Qty {
			return nil, &store.InsufficientStockError{VariantID: line.VariantID, Requested: line.Qty, Available: remaining}
		}
		staged[line.VariantID] += line.Qty
	}

	committed := make([]domain.SaleLine, len(cart.Lines))
	for _, idx := range order {
		line := cart.Lines[idx]
		v := s.variants[line.VariantID]
		v.Stock -= line.Qty
		s.variants[line.VariantID] = v

		qty := decimal.NewFromInt(int64(line.Qty))
		s.nextSaleID++
		sale := domain.SaleLine{
			ID:               s.nextSaleID,
			CustomerID:       cart.CustomerID,
			VariantID:        line.VariantID,
			ProductName:      v.Name,
			Qty:              line.Qty,
			Total:            line.UnitPrice.Mul(qty),
			Profit:           line.UnitPrice.Sub(v.Cost).Mul(qty),
			Date:             cart.Date,
			InvoiceID:        cart.InvoiceID,
			DeliveryDuration: cart.DeliveryDuration,
		}
		s.sales[sale.ID] = sale
		committed[idx] = sale
	}

	return committed, nil
}

func (s *Store) GetSaleByID(_ context.Context, saleID int64) (*domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := sale
	return &copied, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.SaleLine, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.SaleLine, 0, len(s.sales))
	for _, sale := range s.sales {
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].Date.Equal(sales[j].Date) {
			return sales[i].Date.After(sales[j].Date)
		}
		return sales[i].ID > sales[j].ID
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) ListSalesByInvoice(_ context.Context, invoiceID string) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.SaleLine, 0, 8)
	for _, sale := range s.sales {
		if sale.InvoiceID == invoiceID {
			sales = append(sales, sale)
		}
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].ID < sales[j].ID })
	return sales, nil
}

func (s *Store) UpdateSaleQuantity(_ context.Context, saleID int64, newQty int, newTotal decimal.Decimal) (*domain.SaleLine, error) {
	if newQty < 1 || newTotal.IsNegative() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, returned := s.returnsBySale[saleID]; returned {
		return nil, fmt.Errorf("sale %d already returned: %w", saleID, store.ErrValidation)
	}

	delta := newQty - sale.Qty
	if delta != 0 {
		v, ok := s.variants[sale.VariantID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if delta > 0 && v.Stock < delta {
			return nil, &store.InsufficientStockError{VariantID: sale.VariantID, Requested: delta, Available: v.Stock}
		}
		v.Stock -= delta
		s.variants[sale.VariantID] = v
	}

	perUnitProfit := sale.Profit.Div(decimal.NewFromInt(int64(sale.Qty)))
	sale.Qty = newQty
	sale.Total = newTotal
	sale.Profit = perUnitProfit.Mul(decimal.NewFromInt(int64(newQty)))
	s.sales[saleID] = sale

	copied := sale
	return &copied, nil
}

func (s *Store) DeleteSale(_ context.Context, saleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return store.ErrNotFound
	}
	if _, returned := s.returnsBySale[saleID]; returned {
		return fmt.Errorf("sale %d already returned: %w", saleID, store.ErrValidation)
	}

	if v, ok := s.variants[sale.VariantID]; ok {
		v.Stock += sale.Qty
		s.variants[sale.VariantID] = v
	}
	delete(s.sales, saleID)
	return nil
}

func (s *Store) CreateReturn(_ context.Context, saleID int64, compensateExpense bool, at time.Time) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, returned := s.returnsBySale[saleID]; returned {
		return nil, fmt.Errorf("sale %d already returned: %w", saleID, store.ErrValidation)
	}
	v, ok := s.variants[sale.VariantID]
	if !ok {
		return nil, fmt.Errorf("variant %d: %w", sale.VariantID, store.ErrValidation)
	}

	v.Stock += sale.Qty
	s.variants[sale.VariantID] = v

	s.nextReturnID++
	ret := domain.Return{
		ID:             s.nextReturnID,
		SaleID:         saleID,
		VariantID:      sale.VariantID,
		CustomerID:     sale.CustomerID,
		ProductName:    sale.ProductName,
		ProductDetails: fmt.Sprintf("%s (%s)", v.Color, v.Size),
		Qty:            sale.Qty,
		ReturnAmount:   sale.Total,
		ReturnDate:     at,
		Status:         domain.ReturnStatusReturned,
	}
	s.returns[ret.ID] = ret
	s.returnsBySale[saleID] = ret.ID

	if compensateExpense {
		s.nextExpenseID++
		s.expenses[s.nextExpenseID] = domain.Expense{
			ID:       s.nextExpenseID,
			Amount:   ret.ReturnAmount,
			Reason:   fmt.Sprintf("return of sale %d (invoice %s)", saleID, sale.InvoiceID),
			Category: domain.ExpenseCategoryReturns,
			Date:     at,
		}
	}

	copied := ret
	return &copied, nil
}

func (s *Store) ListReturns(_ context.Context, limit int) ([]domain.Return, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	returns := make([]domain.Return, 0, len(s.returns))
	for _, ret := range s.returns {
		returns = append(returns, ret)
	}
	sort.Slice(returns, func(i, j int) bool {
		if !returns[i].ReturnDate.Equal(returns[j].ReturnDate) {
			return returns[i].ReturnDate.After(returns[j].ReturnDate)
		}
		return returns[i].ID > returns[j].ID
	})
	if len(returns) > limit {
		returns = returns[:limit]
	}
	return returns, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.Amount.IsNegative() || strings.TrimSpace(expense.Reason) == "" {
		return nil, store.ErrValidation
	}
	if expense.Date.IsZero() {
		expense.Date = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextExpenseID++
	expense.ID = s.nextExpenseID
	s.expenses[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context, limit int) ([]domain.Expense, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, len(s.expenses))
	for _, e := range s.expenses {
		expenses = append(expenses, e)
	}
	sort.Slice(expenses, func(i, j int) bool {
		if !expenses[i].Date.Equal(expenses[j].Date) {
			return expenses[i].Date.After(expenses[j].Date)
		}
		return expenses[i].ID > expenses[j].ID
	})
	if len(expenses) > limit {
		expenses = expenses[:limit]
	}
	return expenses, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}
