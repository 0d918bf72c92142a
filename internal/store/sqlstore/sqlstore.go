package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kasir/backoffice/internal/domain"
	"kasir/backoffice/internal/store"
)

const (
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db     *sqlx.DB
	driver string
	log    zerolog.Logger
}

// New opens a pool for driver ("pgx" or "mysql") and verifies it with a
// ping. MySQL DSNs need parseTime=true so timestamps scan into time.Time.
func New(ctx context.Context, driver string, databaseURL string, opts Options, logger zerolog.Logger) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, databaseURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 30
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 8
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger = logger.With().Str("component", "sqlstore").Str("driver", driver).Logger()
	logger.Info().Int("max_open_conns", opts.MaxOpenConns).Msg("database pool ready")
	return &Store{db: db, driver: driver, log: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return store.Fail("ping", s.db.PingContext(ctx))
}

// resource describes one listable table: where rows come from, which
// columns are projected and which text column the search term applies to.
type resource struct {
	name         string
	from         string
	countFrom    string
	columns      string
	searchColumn string
	idColumn     string
}

var (
	categoriesResource = resource{
		name:         "categories",
		from:         "categories",
		countFrom:    "categories",
		columns:      "id, name, image, description, created_at, updated_at",
		searchColumn: "name",
		idColumn:     "id",
	}
	productsResource = resource{
		name:      "products",
		from:      "products p LEFT JOIN categories c ON c.id = p.category_id",
		countFrom: "products p",
		columns: `p.id, p.category_id, p.barcode, p.title, p.image, p.description,
			p.buy_price, p.sell_price, p.stock, p.created_at, p.updated_at,
			c.name AS category_name`,
		searchColumn: "p.title",
		idColumn:     "p.id",
	}
	usersResource = resource{
		name:         "users",
		from:         "users",
		countFrom:    "users",
		columns:      "id, name, email",
		searchColumn: "name",
		idColumn:     "id",
	}
)

// findMany selects one window of res into dest, newest id first.
func (s *Store) findMany(ctx context.Context, res resource, filter store.ListFilter, dest any) error {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s LIKE ? ESCAPE '!'
		ORDER BY %s DESC
		LIMIT ? OFFSET ?
	`, res.columns, res.from, res.searchColumn, res.idColumn)

	err := s.db.SelectContext(ctx, dest, s.db.Rebind(query), containsPattern(filter.Search), filter.Limit, filter.Offset)
	return store.Fail("find "+res.name, err)
}

func (s *Store) count(ctx context.Context, res resource, filter store.ListFilter) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s
		WHERE %s LIKE ? ESCAPE '!'
	`, res.countFrom, res.searchColumn)

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(query), containsPattern(filter.Search)); err != nil {
		return 0, store.Fail("count "+res.name, err)
	}
	return total, nil
}

// containsPattern turns a search term into a LIKE pattern matching the term
// as a literal substring. '!' is the escape character on both dialects.
func containsPattern(search string) string {
	replacer := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + replacer.Replace(search) + "%"
}

func (s *Store) FindCategories(ctx context.Context, filter store.ListFilter) ([]domain.Category, error) {
	categories := make([]domain.Category, 0, filter.Limit)
	if err := s.findMany(ctx, categoriesResource, filter, &categories); err != nil {
		return nil, err
	}
	for i := range categories {
		categories[i].CreatedAt = categories[i].CreatedAt.UTC()
		categories[i].UpdatedAt = categories[i].UpdatedAt.UTC()
	}
	return categories, nil
}

func (s *Store) CountCategories(ctx context.Context, filter store.ListFilter) (int, error) {
	return s.count(ctx, categoriesResource, filter)
}

type productRow struct {
	ID           int64           `db:"id"`
	CategoryID   int64           `db:"category_id"`
	Barcode      string          `db:"barcode"`
	Title        string          `db:"title"`
	Image        string          `db:"image"`
	Description  string          `db:"description"`
	BuyPrice     decimal.Decimal `db:"buy_price"`
	SellPrice    decimal.Decimal `db:"sell_price"`
	Stock        int             `db:"stock"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
	CategoryName sql.NullString  `db:"category_name"`
}

func (s *Store) FindProducts(ctx context.Context, filter store.ListFilter) ([]domain.Product, error) {
	rows := make([]productRow, 0, filter.Limit)
	if err := s.findMany(ctx, productsResource, filter, &rows); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, domain.Product{
			ID:          row.ID,
			CategoryID:  row.CategoryID,
			Barcode:     row.Barcode,
			Title:       row.Title,
			Image:       row.Image,
			Description: row.Description,
			BuyPrice:    row.BuyPrice,
			SellPrice:   row.SellPrice,
			Stock:       row.Stock,
			CreatedAt:   row.CreatedAt.UTC(),
			UpdatedAt:   row.UpdatedAt.UTC(),
			Category:    domain.CategoryRef{Name: row.CategoryName.String},
		})
	}
	return products, nil
}

func (s *Store) CountProducts(ctx context.Context, filter store.ListFilter) (int, error) {
	return s.count(ctx, productsResource, filter)
}

func (s *Store) FindUsers(ctx context.Context, filter store.ListFilter) ([]domain.UserSummary, error) {
	users := make([]domain.UserSummary, 0, filter.Limit)
	if err := s.findMany(ctx, usersResource, filter, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) CountUsers(ctx context.Context, filter store.ListFilter) (int, error) {
	return s.count(ctx, usersResource, filter)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(`
		SELECT id, name, email, password, created_at, updated_at
		FROM users
		WHERE email = ?
	`), email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Fail("find user by email", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	insert := `
		INSERT INTO users (name, email, password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	args := []any{user.Name, user.Email, user.Password, user.CreatedAt, user.UpdatedAt}

	var err error
	if s.driver == DriverPostgres {
		err = s.db.QueryRowxContext(ctx, s.db.Rebind(insert+" RETURNING id"), args...).Scan(&user.ID)
	} else {
		var res sql.Result
		res, err = s.db.ExecContext(ctx, insert, args...)
		if err == nil {
			user.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, store.Fail("create user", err)
	}

	created := user
	return &created, nil
}

type saleRow struct {
	ID           int64           `db:"id"`
	CashierID    int64           `db:"cashier_id"`
	CustomerID   sql.NullInt64   `db:"customer_id"`
	GrandTotal   decimal.Decimal `db:"grand_total"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
	CashierName  sql.NullString  `db:"cashier_name"`
	CustomerName sql.NullString  `db:"customer_name"`
}

func (s *Store) FindSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows := make([]saleRow, 0, 64)
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT
			t.id, t.cashier_id, t.customer_id, t.grand_total, t.created_at, t.updated_at,
			u.name AS cashier_name,
			cu.name AS customer_name
		FROM transactions t
		LEFT JOIN users u ON u.id = t.cashier_id
		LEFT JOIN customers cu ON cu.id = t.customer_id
		WHERE t.created_at >= ?
			AND t.created_at <= ?
		ORDER BY t.created_at ASC, t.id ASC
	`), from, to)
	if err != nil {
		return nil, store.Fail("find sales", err)
	}

	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sale := domain.Sale{
			ID:         row.ID,
			CashierID:  row.CashierID,
			GrandTotal: row.GrandTotal,
			CreatedAt:  row.CreatedAt.UTC(),
			UpdatedAt:  row.UpdatedAt.UTC(),
			Cashier:    domain.Party{ID: row.CashierID, Name: row.CashierName.String},
		}
		if row.CustomerID.Valid {
			id := row.CustomerID.Int64
			sale.CustomerID = &id
			sale.Customer = &domain.Party{ID: id, Name: row.CustomerName.String}
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func (s *Store) SumSales(ctx context.Context, from time.Time, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		SELECT COALESCE(SUM(grand_total), 0)
		FROM transactions
		WHERE created_at >= ?
			AND created_at <= ?
	`), from, to).Scan(&total)
	if err != nil {
		return decimal.Zero, store.Fail("sum sales", err)
	}
	return total, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
