// Package listing holds the pagination contract shared by every list
// endpoint: parsing page/limit/search, running the paired find and count
// queries and computing page metadata.
package listing

import (
	"context"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"kasir/backoffice/internal/store"
)

const (
	DefaultPage  = 1
	DefaultLimit = 5
)

type Params struct {
	Page   int
	Limit  int
	Search string
}

// ParseParams turns raw query values into a validated window. Empty values
// fall back to the defaults; anything non-numeric or below one is rejected
// with store.ErrInvalidParameter, as is a page whose offset would not fit
// in an int. A positive maxLimit caps limit.
func ParseParams(rawPage, rawLimit, search string, maxLimit int) (Params, error) {
	page, err := parsePositive("page", rawPage, DefaultPage)
	if err != nil {
		return Params{}, err
	}
	limit, err := parsePositive("limit", rawLimit, DefaultLimit)
	if err != nil {
		return Params{}, err
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	if page-1 > math.MaxInt/limit {
		return Params{}, store.InvalidParameter("page %d is out of range for limit %d", page, limit)
	}
	return Params{Page: page, Limit: limit, Search: search}, nil
}

func parsePositive(name, raw string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, store.InvalidParameter("%s must be an integer, got %q", name, raw)
	}
	if parsed < 1 {
		return 0, store.InvalidParameter("%s must be at least 1, got %d", name, parsed)
	}
	return parsed, nil
}

func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Filter builds the store filter for this window. An empty search matches
// every row.
func (p Params) Filter() store.ListFilter {
	return store.ListFilter{
		Search: p.Search,
		Offset: p.Offset(),
		Limit:  p.Limit,
	}
}

type Pagination struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	PerPage     int `json:"perPage"`
	Total       int `json:"total"`
}

func NewPagination(p Params, total int) Pagination {
	return Pagination{
		CurrentPage: p.Page,
		TotalPages:  TotalPages(total, p.Limit),
		PerPage:     p.Limit,
		Total:       total,
	}
}

// TotalPages is ceil(total/limit), zero for an empty result.
func TotalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

type Page[T any] struct {
	Items      []T
	Pagination Pagination
}

// Source binds the find-many and count queries of one resource.
type Source[T any] struct {
	Find  func(ctx context.Context, filter store.ListFilter) ([]T, error)
	Count func(ctx context.Context, filter store.ListFilter) (int, error)
}

// Run issues the find and count queries with the same filter concurrently
// and assembles the page.
func Run[T any](ctx context.Context, src Source[T], p Params) (Page[T], error) {
	filter := p.Filter()

	var (
		items []T
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = src.Find(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = src.Count(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return Page[T]{}, err
	}

	if items == nil {
		items = make([]T, 0)
	}
	return Page[T]{Items: items, Pagination: NewPagination(p, total)}, nil
}
