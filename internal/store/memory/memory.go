package memory

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasir/backoffice/internal/domain"
	"kasir/backoffice/internal/store"
)

type Store struct {
	mu         sync.RWMutex
	nextID     map[string]int64
	categories map[int64]domain.Category
	products   map[int64]domain.Product
	users      map[int64]domain.User
	customers  map[int64]domain.Customer
	sales      map[int64]domain.Sale
}

func New() *Store {
	return &Store{
		nextID:     make(map[string]int64),
		categories: make(map[int64]domain.Category),
		products:   make(map[int64]domain.Product),
		users:      make(map[int64]domain.User),
		customers:  make(map[int64]domain.Customer),
		sales:      make(map[int64]domain.Sale),
	}
}

// NewSeeded returns a store preloaded with demo data for local runs. The
// admin password comes from SEED_ADMIN_PASSWORD, falling back to a dev
// default with a warning.
func NewSeeded(logger zerolog.Logger) *Store {
	s := New()

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn().Str("component", "memory-store").
			Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	var cashierIDs []int64
	for _, u := range []struct {
		name     string
		email    string
		password string
	}{
		{"Administrator", "admin@kasir.local", adminPwd},
		{"Kasir Satu", "cashier@kasir.local", cashierPwd},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal().Err(err).Str("email", u.email).Msg("failed to hash seed password")
		}
		created, err := s.CreateUser(context.Background(), domain.User{
			Name:      u.name,
			Email:     u.email,
			Password:  string(hash),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("email", u.email).Msg("failed to seed user")
		}
		cashierIDs = append(cashierIDs, created.ID)
	}

	categoryIDs := make(map[string]int64)
	for _, c := range []struct{ name, description string }{
		{"Sembako", "Kebutuhan pokok"},
		{"Minuman", "Minuman kemasan"},
		{"Makanan Ringan", "Snack dan camilan"},
		{"Rumah Tangga", "Perlengkapan rumah"},
	} {
		created := s.AddCategory(domain.Category{
			Name:        c.name,
			Image:       strings.ToLower(strings.ReplaceAll(c.name, " ", "-")) + ".png",
			Description: c.description,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		categoryIDs[c.name] = created.ID
	}

	for _, p := range []struct {
		barcode, title, category string
		buy, sell                int64
		stock                    int
	}{
		{"8991001000011", "Mie Goreng Instan", "Sembako", 2800, 3500, 120},
		{"8991001000028", "Telur 10 Butir", "Sembako", 23000, 26500, 40},
		{"8991001000035", "Gula 1kg", "Sembako", 15500, 17400, 60},
		{"8991001000042", "Susu UHT 1L", "Minuman", 15000, 18900, 48},
		{"8991001000059", "Kopi Sachet", "Minuman", 1800, 2600, 200},
		{"8991001000066", "Teh Celup", "Minuman", 7500, 9800, 75},
		{"8991001000073", "Air Mineral 600ml", "Minuman", 3000, 3900, 150},
		{"8991001000080", "Keripik Singkong", "Makanan Ringan", 8500, 12800, 30},
		{"8991001000097", "Coklat Batang", "Makanan Ringan", 6000, 8600, 45},
		{"8991001000103", "Sabun Mandi", "Rumah Tangga", 5200, 7400, 80},
		{"8991001000110", "Shampoo Sachet", "Rumah Tangga", 2200, 3200, 160},
	} {
		s.AddProduct(domain.Product{
			CategoryID:  categoryIDs[p.category],
			Barcode:     p.barcode,
			Title:       p.title,
			Image:       p.barcode + ".png",
			Description: p.title,
			BuyPrice:    decimal.NewFromInt(p.buy),
			SellPrice:   decimal.NewFromInt(p.sell),
			Stock:       p.stock,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	walkIn := s.AddCustomer(domain.Customer{Name: "Budi"})
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for i, total := range []int64{45000, 12800, 26500, 9800, 67300, 3900} {
		sale := domain.Sale{
			CashierID:  cashierIDs[i%len(cashierIDs)],
			GrandTotal: decimal.NewFromInt(total),
			CreatedAt:  day.Add(-time.Duration(i/2) * 24 * time.Hour).Add(time.Duration(9+i) * time.Hour),
		}
		if i%3 == 0 {
			id := walkIn.ID
			sale.CustomerID = &id
		}
		sale.UpdatedAt = sale.CreatedAt
		s.AddSale(sale)
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) next(kind string) int64 {
	s.nextID[kind]++
	return s.nextID[kind]
}

func (s *Store) AddCategory(c domain.Category) domain.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.next("category")
	s.categories[c.ID] = c
	return c
}

func (s *Store) AddProduct(p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.next("product")
	s.products[p.ID] = p
	return p
}

func (s *Store) AddCustomer(c domain.Customer) domain.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.next("customer")
	s.customers[c.ID] = c
	return c
}

func (s *Store) AddSale(sale domain.Sale) domain.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale.ID = s.next("sale")
	s.sales[sale.ID] = sale
	return sale
}

func (s *Store) FindCategories(_ context.Context, filter store.ListFilter) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if strings.Contains(c.Name, filter.Search) {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	return window(matched, filter), nil
}

func (s *Store) CountCategories(_ context.Context, filter store.ListFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, c := range s.categories {
		if strings.Contains(c.Name, filter.Search) {
			count++
		}
	}
	return count, nil
}

func (s *Store) FindProducts(_ context.Context, filter store.ListFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !strings.Contains(p.Title, filter.Search) {
			continue
		}
		p.Category = domain.CategoryRef{Name: s.categories[p.CategoryID].Name}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	return window(matched, filter), nil
}

func (s *Store) CountProducts(_ context.Context, filter store.ListFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.products {
		if strings.Contains(p.Title, filter.Search) {
			count++
		}
	}
	return count, nil
}

func (s *Store) FindUsers(_ context.Context, filter store.ListFilter) ([]domain.UserSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.UserSummary, 0, len(s.users))
	for _, u := range s.users {
		if strings.Contains(u.Name, filter.Search) {
			matched = append(matched, domain.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	return window(matched, filter), nil
}

func (s *Store) CountUsers(_ context.Context, filter store.ListFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, u := range s.users {
		if strings.Contains(u.Name, filter.Search) {
			count++
		}
	}
	return count, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == user.Email {
			return nil, store.ErrConflict
		}
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	user.ID = s.next("user")
	s.users[user.ID] = user

	created := user
	return &created, nil
}

func (s *Store) FindSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Sale, 0, 16)
	for _, sale := range s.sales {
		if !inRange(sale.CreatedAt, from, to) {
			continue
		}
		cashier := s.users[sale.CashierID]
		sale.Cashier = domain.Party{ID: cashier.ID, Name: cashier.Name}
		if sale.CustomerID != nil {
			if customer, ok := s.customers[*sale.CustomerID]; ok {
				sale.Customer = &domain.Party{ID: customer.ID, Name: customer.Name}
			}
		}
		matched = append(matched, sale)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (s *Store) SumSales(_ context.Context, from time.Time, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, sale := range s.sales {
		if inRange(sale.CreatedAt, from, to) {
			total = total.Add(sale.GrandTotal)
		}
	}
	return total, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func inRange(at, from, to time.Time) bool {
	return !at.Before(from) && !at.After(to)
}

func window[T any](rows []T, filter store.ListFilter) []T {
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Offset >= len(rows) {
		return []T{}
	}
	end := len(rows)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return rows[filter.Offset:end]
}
