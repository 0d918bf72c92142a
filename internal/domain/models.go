package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Money fields are emitted as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

type Category struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Image       string    `json:"image" db:"image"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CategoryRef is the slice of a category embedded in a product listing.
type CategoryRef struct {
	Name string `json:"name"`
}

type Product struct {
	ID          int64           `json:"id"`
	CategoryID  int64           `json:"-"`
	Barcode     string          `json:"barcode"`
	Title       string          `json:"title"`
	Image       string          `json:"image"`
	Description string          `json:"description"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	SellPrice   decimal.Decimal `json:"sell_price"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Category    CategoryRef     `json:"category"`
}

// User is a stored account. Password holds the bcrypt hash and never leaves
// the process in a response body.
type User struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Password  string    `json:"-" db:"password"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UserSummary is the projection used by the user listing.
type UserSummary struct {
	ID    int64  `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
}

type UserCreateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Customer struct {
	ID   int64
	Name string
}

// Party is the id+name projection of a cashier or customer on a sale.
type Party struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Sale struct {
	ID         int64           `json:"id"`
	CashierID  int64           `json:"cashier_id"`
	CustomerID *int64          `json:"customer_id"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Cashier    Party           `json:"cashier"`
	Customer   *Party          `json:"customer"`
}

type SalesReport struct {
	Sales []Sale          `json:"sales"`
	Total decimal.Decimal `json:"total"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID int64
	Email  string
}
