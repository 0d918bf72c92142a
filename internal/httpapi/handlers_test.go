package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"kasir/backoffice/internal/domain"
	"kasir/backoffice/internal/listing"
	"kasir/backoffice/internal/service"
	"kasir/backoffice/internal/store"
	"kasir/backoffice/internal/store/memory"
)

const (
	testAdminEmail    = "admin@kasir.local"
	testAdminPassword = "admin123"
)

type testEnv struct {
	api     *API
	repo    *memory.Store
	handler http.Handler
}

// failingRepo is a memory store whose listing, sales and ping calls fail
// like a dropped database connection. Login still works.
type failingRepo struct {
	*memory.Store
	err error
}

func (f failingRepo) FindCategories(context.Context, store.ListFilter) ([]domain.Category, error) {
	return nil, store.Fail("find categories", f.err)
}

func (f failingRepo) CountCategories(context.Context, store.ListFilter) (int, error) {
	return 0, store.Fail("count categories", f.err)
}

func (f failingRepo) FindSales(context.Context, time.Time, time.Time) ([]domain.Sale, error) {
	return nil, store.Fail("find sales", f.err)
}

func (f failingRepo) Ping(context.Context) error {
	return store.Fail("ping", f.err)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil, Options{AllowedOrigin: "*", MaxListLimit: 100})
}

// newTestEnvWith builds a full API over an in-memory store with one admin
// account. A non-nil wrap replaces the repository seen by the service.
func newTestEnvWith(t *testing.T, wrap func(*memory.Store) store.Repository, opts Options) *testEnv {
	t.Helper()

	repo := memory.New()
	_, err := repo.CreateUser(context.Background(), domain.User{
		Name:     "Administrator",
		Email:    testAdminEmail,
		Password: mustHashPassword(t, testAdminPassword),
	})
	require.NoError(t, err)

	var svcRepo store.Repository = repo
	if wrap != nil {
		svcRepo = wrap(repo)
	}
	svc := service.New(svcRepo, zerolog.Nop(), service.Options{BcryptCost: bcrypt.MinCost})
	auth := NewAuthManager("test-secret-key-at-least-32-chars!!", time.Hour, repo)
	api := New(svc, auth, zerolog.Nop(), opts)

	return &testEnv{api: api, repo: repo, handler: api.Handler()}
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

type envelopeResponse struct {
	Meta       Meta                `json:"meta"`
	Data       json.RawMessage     `json:"data"`
	Pagination *listing.Pagination `json:"pagination"`
	Errors     *ErrorBody          `json:"errors"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelopeResponse {
	t.Helper()
	var env envelopeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return env
}

type requestOpts struct {
	token string
	csrf  string
	body  any
}

func (e *testEnv) do(t *testing.T, method string, path string, opts requestOpts) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if opts.body != nil {
		raw, err := json.Marshal(opts.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}
	if opts.csrf != "" {
		req.Header.Set("X-CSRF-Token", opts.csrf)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", requestOpts{
		body: domain.LoginRequest{Email: testAdminEmail, Password: testAdminPassword},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func (e *testEnv) csrfToken(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/v1/auth/csrf-token", requestOpts{})
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	require.NotEmpty(t, data.CSRFToken)
	return data.CSRFToken
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", requestOpts{})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["at"])
}

func TestHandleHealthReportsStoreDown(t *testing.T) {
	env := newTestEnvWith(t, func(m *memory.Store) store.Repository {
		return failingRepo{Store: m, err: errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")}
	}, Options{})

	rec := env.do(t, http.MethodGet, "/healthz", requestOpts{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestHandleLogin(t *testing.T) {
	env := newTestEnv(t)

	token := env.login(t)
	actor, err := env.api.auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, testAdminEmail, actor.Email)
	assert.Equal(t, int64(1), actor.UserID)
}

func TestHandleLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	for _, req := range []domain.LoginRequest{
		{Email: testAdminEmail, Password: "wrong-pass"},
		{Email: "nobody@kasir.local", Password: testAdminPassword},
		{Email: "", Password: ""},
	} {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", requestOpts{body: req})
		require.Equal(t, http.StatusUnauthorized, rec.Code, "login %+v", req)
		resp := decodeEnvelope(t, rec)
		assert.False(t, resp.Meta.Success)
		assert.Nil(t, resp.Data)
		require.NotNil(t, resp.Errors)
		assert.Equal(t, "unauthorized", resp.Errors.Code)
	}
}

func TestResourceRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/v1/categories", "/api/v1/products", "/api/v1/users", "/api/v1/sales?start_date=2024-01-01&end_date=2024-01-02"} {
		rec := env.do(t, http.MethodGet, path, requestOpts{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)

		rec = env.do(t, http.MethodGet, path, requestOpts{token: "not-a-jwt"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestListCategoriesSecondPage(t *testing.T) {
	env := newTestEnv(t)
	for i := 1; i <= 12; i++ {
		env.repo.AddCategory(domain.Category{Name: fmt.Sprintf("Kategori %02d", i)})
	}
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/v1/categories?page=2&limit=5", requestOpts{token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Meta.Success)
	assert.Equal(t, "Successfully retrieved all categories", resp.Meta.Message)
	assert.Nil(t, resp.Errors)
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, listing.Pagination{CurrentPage: 2, TotalPages: 3, PerPage: 5, Total: 12}, *resp.Pagination)

	var categories []domain.Category
	require.NoError(t, json.Unmarshal(resp.Data, &categories))
	require.Len(t, categories, 5)
	ids := make([]int64, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{7, 6, 5, 4, 3}, ids)
}

func TestListCategoriesDefaultsAndIdempotence(t *testing.T) {
	env := newTestEnv(t)
	for i := 1; i <= 7; i++ {
		env.repo.AddCategory(domain.Category{Name: fmt.Sprintf("Kategori %02d", i)})
	}
	token := env.login(t)

	first := env.do(t, http.MethodGet, "/api/v1/categories", requestOpts{token: token})
	second := env.do(t, http.MethodGet, "/api/v1/categories?search=", requestOpts{token: token})
	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	resp := decodeEnvelope(t, first)
	assert.Equal(t, listing.Pagination{CurrentPage: 1, TotalPages: 2, PerPage: 5, Total: 7}, *resp.Pagination)
}

func TestListProductsIncludesCategoryName(t *testing.T) {
	env := newTestEnv(t)
	drinks := env.repo.AddCategory(domain.Category{Name: "Minuman"})
	env.repo.AddProduct(domain.Product{CategoryID: drinks.ID, Title: "Teh Celup", BuyPrice: decimal.NewFromInt(7500), SellPrice: decimal.RequireFromString("9800.50")})
	env.repo.AddProduct(domain.Product{CategoryID: drinks.ID, Title: "Kopi Sachet", BuyPrice: decimal.NewFromInt(1800), SellPrice: decimal.NewFromInt(2600)})
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/v1/products?search=Teh", requestOpts{token: token})
	require.Equal(t, http.StatusOK, rec.Code)

	var products []map[string]any
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &products))
	require.Len(t, products, 1)
	assert.Equal(t, "Teh Celup", products[0]["title"])
	assert.Equal(t, map[string]any{"name": "Minuman"}, products[0]["category"])
	assert.Equal(t, 9800.5, products[0]["sell_price"])
	assert.NotContains(t, products[0], "CategoryID")
}

func TestListUsersProjectionAndPagination(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/v1/users?limit=10", requestOpts{token: token})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeEnvelope(t, rec)
	assert.Equal(t, listing.Pagination{CurrentPage: 1, TotalPages: 1, PerPage: 10, Total: 1}, *resp.Pagination)

	var users []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &users))
	require.Len(t, users, 1)
	assert.ElementsMatch(t, []string{"id", "name", "email"}, keys(users[0]))
}

func TestListRejectsMalformedPagination(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	for _, query := range []string{"page=0", "page=-1", "limit=0", "page=abc", "limit=1.5", "page=100000000000000000&limit=100"} {
		rec := env.do(t, http.MethodGet, "/api/v1/products?"+query, requestOpts{token: token})
		require.Equal(t, http.StatusBadRequest, rec.Code, query)

		resp := decodeEnvelope(t, rec)
		assert.False(t, resp.Meta.Success)
		assert.Nil(t, resp.Data)
		assert.Nil(t, resp.Pagination)
		require.NotNil(t, resp.Errors)
		assert.Equal(t, "invalid_parameter", resp.Errors.Code)
	}
}

func TestListCapsLimit(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/v1/users?limit=100000", requestOpts{token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, decodeEnvelope(t, rec).Pagination.PerPage)
}

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	csrf := env.csrfToken(t)

	rec := env.do(t, http.MethodPost, "/api/v1/users", requestOpts{
		token: token,
		csrf:  csrf,
		body:  domain.UserCreateRequest{Name: "Sari", Email: "sari@kasir.local", Password: "rahasia1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "$2a$")

	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Meta.Success)
	assert.Nil(t, resp.Pagination)
	var created map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, "sari@kasir.local", created["email"])
	assert.ElementsMatch(t, []string{"id", "name", "email", "created_at", "updated_at"}, keys(created))

	stored, err := env.repo.FindUserByEmail(context.Background(), "sari@kasir.local")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("rahasia1")))

	rec = env.do(t, http.MethodPost, "/api/v1/users", requestOpts{
		token: token,
		csrf:  csrf,
		body:  domain.UserCreateRequest{Name: "Sari 2", Email: "sari@kasir.local", Password: "rahasia1"},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeEnvelope(t, rec).Errors.Code)
}

func TestCreateUserRejectsInvalidBody(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	csrf := env.csrfToken(t)

	rec := env.do(t, http.MethodPost, "/api/v1/users", requestOpts{
		token: token, csrf: csrf,
		body: domain.UserCreateRequest{Name: "Sari", Email: "not-an-email", Password: "rahasia1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/users", requestOpts{
		token: token, csrf: csrf,
		body: map[string]string{"name": "Sari", "email": "sari@kasir.local", "password": "rahasia1", "role": "admin"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", decodeEnvelope(t, rec).Errors.Code)
}

func TestSalesReport(t *testing.T) {
	env := newTestEnv(t)
	customer := env.repo.AddCustomer(domain.Customer{Name: "Budi"})
	env.repo.AddSale(domain.Sale{CashierID: 1, GrandTotal: decimal.NewFromInt(45000), CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), CustomerID: &customer.ID})
	env.repo.AddSale(domain.Sale{CashierID: 1, GrandTotal: decimal.RequireFromString("12800.25"), CreatedAt: time.Date(2024, 3, 2, 23, 59, 59, 999_000_000, time.UTC)})
	env.repo.AddSale(domain.Sale{CashierID: 1, GrandTotal: decimal.NewFromInt(99999), CreatedAt: time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)})
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/v1/sales?start_date=2024-03-01&end_date=2024-03-02", requestOpts{token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeEnvelope(t, rec)
	assert.Equal(t, "Sales data from 2024-03-01 to 2024-03-02 retrieved successfully", resp.Meta.Message)
	assert.Nil(t, resp.Pagination)

	var report struct {
		Sales []struct {
			ID       int64         `json:"id"`
			Cashier  domain.Party  `json:"cashier"`
			Customer *domain.Party `json:"customer"`
		} `json:"sales"`
		Total decimal.Decimal `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	require.Len(t, report.Sales, 2)
	assert.Equal(t, "Administrator", report.Sales[0].Cashier.Name)
	require.NotNil(t, report.Sales[0].Customer)
	assert.Equal(t, "Budi", report.Sales[0].Customer.Name)
	assert.Nil(t, report.Sales[1].Customer)
	assert.True(t, report.Total.Equal(decimal.RequireFromString("57800.25")), "total %s", report.Total)
	assert.Contains(t, string(resp.Data), `"total":57800.25`)
}

func TestSalesReportEmptyRangeTotalsZero(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/v1/sales?start_date=2024-03-01&end_date=2024-03-02", requestOpts{token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sales":[],"total":0}`, string(decodeEnvelope(t, rec).Data))
}

func TestSalesReportRejectsBadDates(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	for _, query := range []string{"", "start_date=2024-03-01", "start_date=kemarin&end_date=2024-03-02", "start_date=2024-03-05&end_date=2024-03-01"} {
		rec := env.do(t, http.MethodGet, "/api/v1/sales?"+query, requestOpts{token: token})
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
		assert.Equal(t, "Failed to retrieve sales data", decodeEnvelope(t, rec).Meta.Message)
	}
}

func TestStoreFailureReturnsGenericInternalError(t *testing.T) {
	env := newTestEnvWith(t, func(m *memory.Store) store.Repository {
		return failingRepo{Store: m, err: errors.New(`pq: relation "categories" does not exist`)}
	}, Options{})
	token := env.login(t)

	for _, path := range []string{"/api/v1/categories", "/api/v1/sales?start_date=2024-03-01&end_date=2024-03-02"} {
		rec := env.do(t, http.MethodGet, path, requestOpts{token: token})
		require.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "relation")

		resp := decodeEnvelope(t, rec)
		assert.False(t, resp.Meta.Success)
		assert.Nil(t, resp.Data)
		assert.Nil(t, resp.Pagination)
		require.NotNil(t, resp.Errors)
		assert.Equal(t, ErrorBody{Code: "internal_error", Message: internalErrorMessage}, *resp.Errors)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/v1/refunds", requestOpts{token: token})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Meta.Success)

	rec = env.do(t, http.MethodDelete, "/api/v1/users", requestOpts{token: token})
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "method_not_allowed"))

	rec = env.do(t, http.MethodGet, "/api/v1/auth/login", requestOpts{})
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.NotNil(t, decodeEnvelope(t, rec).Errors)
	assert.Equal(t, "method_not_allowed", decodeEnvelope(t, rec).Errors.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/refunds", requestOpts{})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
