package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kasir/backoffice/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrConflict         = errors.New("already exists")
)

// Failure marks an error raised by the underlying data store (connection
// loss, malformed query, driver error). It is the StoreFailure kind and
// always surfaces as an internal error.
type Failure struct {
	Op  string
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("store %s: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Fail wraps err as a Failure unless it is nil or already carries one of the
// classified kinds.
func Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidParameter) || errors.Is(err, ErrConflict) {
		return err
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	return &Failure{Op: op, Err: err}
}

// InvalidParameter returns an ErrInvalidParameter carrying a field-level
// description.
func InvalidParameter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// ListFilter is the window and search term shared by a find-many query and
// its matching count query.
type ListFilter struct {
	Search string
	Offset int
	Limit  int
}

type Repository interface {
	FindCategories(ctx context.Context, filter ListFilter) ([]domain.Category, error)
	CountCategories(ctx context.Context, filter ListFilter) (int, error)
	FindProducts(ctx context.Context, filter ListFilter) ([]domain.Product, error)
	CountProducts(ctx context.Context, filter ListFilter) (int, error)
	FindUsers(ctx context.Context, filter ListFilter) ([]domain.UserSummary, error)
	CountUsers(ctx context.Context, filter ListFilter) (int, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	FindSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	SumSales(ctx context.Context, from time.Time, to time.Time) (decimal.Decimal, error)
	Ping(ctx context.Context) error
}
