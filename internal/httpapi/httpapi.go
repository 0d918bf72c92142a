package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"kasir/backoffice/internal/domain"
	"kasir/backoffice/internal/listing"
	"kasir/backoffice/internal/service"
	"kasir/backoffice/internal/throttle"
)

type Options struct {
	AllowedOrigin string
	// MaxListLimit caps the limit query parameter of every listing.
	MaxListLimit int
	// RateLimitRPS and RateLimitBurst size the process-wide token bucket.
	// A non-positive rate disables it.
	RateLimitRPS   float64
	RateLimitBurst int
	// LoginLimiter throttles login attempts per client address. Defaults to
	// five attempts per minute held in process.
	LoginLimiter throttle.Limiter
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           zerolog.Logger
	allowedOrigin string
	maxListLimit  int
	limiter       *rate.Limiter
	loginLimiter  throttle.Limiter
	csrfSecret    []byte
	now           func() time.Time
}

func New(svc *service.Service, auth *AuthManager, logger zerolog.Logger, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		burst := opts.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}

	loginLimiter := opts.LoginLimiter
	if loginLimiter == nil {
		loginLimiter = throttle.NewWindowLimiter(5, time.Minute)
	}

	return &API{
		service:       svc,
		auth:          auth,
		log:           logger.With().Str("component", "httpapi").Logger(),
		allowedOrigin: opts.AllowedOrigin,
		maxListLimit:  opts.MaxListLimit,
		limiter:       limiter,
		loginLimiter:  loginLimiter,
		csrfSecret:    csrfSecret,
		now:           time.Now,
	}
}

func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(a.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(a.handleMethodNotAllowed)

	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/csrf-token", a.handleCSRFToken).Methods(http.MethodGet)

	api.Handle("/categories", a.requireAuth(listHandler(a,
		"Successfully retrieved all categories", "Failed to retrieve categories",
		a.service.ListCategories))).Methods(http.MethodGet)
	api.Handle("/products", a.requireAuth(listHandler(a,
		"Successfully retrieved all products", "Failed to retrieve products",
		a.service.ListProducts))).Methods(http.MethodGet)
	api.Handle("/users", a.requireAuth(listHandler(a,
		"Successfully retrieved all users", "Failed to retrieve users",
		a.service.ListUsers))).Methods(http.MethodGet)
	api.Handle("/users", a.requireAuth(http.HandlerFunc(a.handleCreateUser))).Methods(http.MethodPost)
	api.Handle("/sales", a.requireAuth(http.HandlerFunc(a.handleSales))).Methods(http.MethodGet)

	return a.withMiddleware(r)
}

// withMiddleware wraps h in the cross-cutting stack, outermost first.
func (a *API) withMiddleware(h http.Handler) http.Handler {
	return chain(h,
		a.requestLogging,
		a.recoverPanics,
		securityHeaders,
		corsHandler(a.allowedOrigin),
		rateLimit(a.limiter),
		limitBody,
		a.checkCSRF,
	)
}

// listHandler serves one paginated, searchable resource.
func listHandler[T any](a *API, okMessage string, failMessage string, list func(context.Context, listing.Params) (listing.Page[T], error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params, err := listing.ParseParams(q.Get("page"), q.Get("limit"), q.Get("search"), a.maxListLimit)
		if err != nil {
			a.fail(w, r, failMessage, err)
			return
		}

		page, err := list(r.Context(), params)
		if err != nil {
			a.fail(w, r, failMessage, err)
			return
		}
		writeSuccess(w, http.StatusOK, okMessage, page.Items, &page.Pagination)
	}
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, "Failed to create user", err)
		return
	}

	user, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		a.fail(w, r, "Failed to create user", err)
		return
	}
	writeSuccess(w, http.StatusCreated, "User created successfully", user, nil)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start_date")
	end := r.URL.Query().Get("end_date")

	report, err := a.service.SalesReport(r.Context(), start, end)
	if err != nil {
		a.fail(w, r, "Failed to retrieve sales data", err)
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Sales data from %s to %s retrieved successfully", start, end), report, nil)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	at := a.now().UTC().Format(time.RFC3339)
	if err := a.service.Ping(ctx); err != nil {
		a.logFor(r).Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "at": at})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "at": at})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	allowed, err := a.loginLimiter.Allow(r.Context(), clientKey(r))
	if err != nil {
		// Throttle backend down: let the attempt through, bcrypt still applies.
		a.logFor(r).Warn().Err(err).Msg("login throttle unavailable")
		allowed = true
	}
	if !allowed {
		a.fail(w, r, "Login failed", newHTTPError(http.StatusTooManyRequests, "rate_limited", "too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, "Login failed", err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.fail(w, r, "Login failed", err)
		return
	}
	writeSuccess(w, http.StatusOK, "Login successful", resp, nil)
}

// handleCSRFToken issues the token clients send as X-CSRF-Token on every
// mutating request. It stays valid for one to two hours.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "CSRF token issued", map[string]string{
		"csrf_token": a.generateCSRFToken(),
	}, nil)
}

func (a *API) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Route not found",
		ErrorBody{Code: "not_found", Message: fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path)})
}

func (a *API) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed",
		ErrorBody{Code: "method_not_allowed", Message: fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path)})
}

// fail writes the failure envelope for err. Internal errors are logged with
// their cause; the client only sees a generic message.
func (a *API) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		a.logFor(r).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg(message)
	}
	writeError(w, status, message, body)
}

func (a *API) logFor(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.log
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return newHTTPError(http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return newHTTPError(http.StatusBadRequest, "invalid_body", "request body must be a JSON object: "+err.Error())
	}
	return nil
}
