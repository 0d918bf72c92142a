package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"kasir/backoffice/internal/domain"
	"kasir/backoffice/internal/listing"
	"kasir/backoffice/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const minPasswordLength = 6

type Options struct {
	BcryptCost     int
	ReportLocation *time.Location
}

type Service struct {
	repo       store.Repository
	log        zerolog.Logger
	bcryptCost int
	location   *time.Location
}

func New(repo store.Repository, logger zerolog.Logger, opts Options) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.ReportLocation == nil {
		opts.ReportLocation = time.UTC
	}

	return &Service{
		repo:       repo,
		log:        logger.With().Str("component", "service").Logger(),
		bcryptCost: opts.BcryptCost,
		location:   opts.ReportLocation,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) ListCategories(ctx context.Context, p listing.Params) (listing.Page[domain.Category], error) {
	return listing.Run(ctx, listing.Source[domain.Category]{
		Find:  s.repo.FindCategories,
		Count: s.repo.CountCategories,
	}, p)
}

func (s *Service) ListProducts(ctx context.Context, p listing.Params) (listing.Page[domain.Product], error) {
	return listing.Run(ctx, listing.Source[domain.Product]{
		Find:  s.repo.FindProducts,
		Count: s.repo.CountProducts,
	}, p)
}

func (s *Service) ListUsers(ctx context.Context, p listing.Params) (listing.Page[domain.UserSummary], error) {
	return listing.Run(ctx, listing.Source[domain.UserSummary]{
		Find:  s.repo.FindUsers,
		Count: s.repo.CountUsers,
	}, p)
}

// CreateUser validates the request, hashes the password and stores the
// account. The returned user never carries the hash outward (see
// domain.User).
func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if name == "" {
		return domain.User{}, store.InvalidParameter("name is required")
	}
	if email == "" {
		return domain.User{}, store.InvalidParameter("email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return domain.User{}, store.InvalidParameter("email %q is not a valid address", req.Email)
	}
	if len(req.Password) < minPasswordLength {
		return domain.User{}, store.InvalidParameter("password must be at least %d characters", minPasswordLength)
	}
	if len(req.Password) > 72 {
		return domain.User{}, store.InvalidParameter("password must be at most 72 bytes")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return domain.User{}, err
	}

	created, err := s.repo.CreateUser(ctx, domain.User{
		Name:     name,
		Email:    email,
		Password: string(hash),
	})
	if err != nil {
		return domain.User{}, err
	}

	event := s.log.Info().Int64("user_id", created.ID).Str("email", created.Email)
	if actor, ok := ActorFromContext(ctx); ok {
		event = event.Int64("created_by", actor.UserID)
	}
	event.Msg("user created")

	return *created, nil
}

// SalesReport returns every transaction created between the start of
// rawStart and the last millisecond of rawEnd's calendar day, together with
// the sum of their grand totals.
func (s *Service) SalesReport(ctx context.Context, rawStart string, rawEnd string) (domain.SalesReport, error) {
	from, to, err := ReportRange(rawStart, rawEnd, s.location)
	if err != nil {
		return domain.SalesReport{}, err
	}

	var (
		sales []domain.Sale
		total decimal.Decimal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sales, err = s.repo.FindSales(gctx, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.SumSales(gctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.SalesReport{}, err
	}

	if sales == nil {
		sales = make([]domain.Sale, 0)
	}
	return domain.SalesReport{Sales: sales, Total: total}, nil
}

var dateLayouts = []string{"2006-01-02", time.RFC3339Nano}

// ReportRange parses the report bounds in loc. The end bound is moved to
// 23:59:59.999 of its day so the whole end day is included.
func ReportRange(rawStart string, rawEnd string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	from, err := parseReportDate("start_date", rawStart, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseReportDate("end_date", rawEnd, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	to := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
	if from.After(to) {
		return time.Time{}, time.Time{}, store.InvalidParameter("start_date %s is after end_date %s", rawStart, rawEnd)
	}
	return from, to, nil
}

func parseReportDate(name string, raw string, loc *time.Location) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, store.InvalidParameter("%s is required", name)
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return parsed.In(loc), nil
		}
	}
	return time.Time{}, store.InvalidParameter("%s %q is not a date (want YYYY-MM-DD)", name, raw)
}
