package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/voucherhub/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresStore создаёт новое хранилище и инициализирует схему БД через миграции.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// View выполняет fn вне транзакции, напрямую на пуле соединений. Изменяющие методы возвращают ErrReadOnly.
func (s *PostgresStore) View(ctx context.Context, fn func(q Queries) error) error {
	return fn(&pgQueries{db: s.pool, readOnly: true})
}

// Update выполняет fn в транзакции. Читаемые внутри строки блокируются (SELECT ... FOR UPDATE),
// поэтому параллельные передачи одной партии выполняются последовательно.
// Транзакции, прерванные из-за конфликта сериализации или взаимоблокировки, повторяются целиком.
func (s *PostgresStore) Update(ctx context.Context, fn func(q Queries) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgQueries{db: tx, lock: true}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(s.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(s.delays) {
			break
		}

		timer := time.NewTimer(s.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// mapWriteError переводит ошибки ограничений PostgreSQL в ошибки пакета.
func mapWriteError(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			switch pgErr.ConstraintName {
			case "users_username_key":
				return fmt.Errorf("%s: %w", what, ErrUserExists)
			case "vouchers_code_key":
				return fmt.Errorf("%s: %w", what, ErrVoucherCodeExists)
			}
		case pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%s: %w", what, ErrInUse)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type pgQueries struct {
	db       querier
	lock     bool
	readOnly bool
}

func (q *pgQueries) writable() error {
	if q.readOnly {
		return ErrReadOnly
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (q *pgQueries) forUpdate(sql string) string {
	if q.lock {
		return sql + " FOR UPDATE"
	}
	return sql
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func collect[T any](rows pgx.Rows, scan func(scanner) (*T, error)) ([]T, error) {
	defer rows.Close()

	res := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		res = append(res, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

const userColumns = `id, username, password_hash, full_name, role, email, phone, address, created_at`

func scanUser(row scanner) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &role, &u.Email, &u.Phone, &u.Address, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

func (q *pgQueries) CreateUser(ctx context.Context, u *model.User) error {
	if err := q.writable(); err != nil {
		return err
	}

	err := q.db.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, full_name, role, email, phone, address)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		u.Username, u.PasswordHash, u.FullName, string(u.Role), u.Email, u.Phone, u.Address,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return mapWriteError(err, "create user "+u.Username)
	}
	return nil
}

func (q *pgQueries) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return u, nil
}

func (q *pgQueries) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, notFound(err, "user %q", username)
	}
	return u, nil
}

func (q *pgQueries) ListUsers(ctx context.Context, f UserFilter) ([]model.User, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE ($1 = '' OR role = $1)
		 ORDER BY id`,
		string(f.Role),
	)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	return collect(rows, scanUser)
}

func (q *pgQueries) UpdateUser(ctx context.Context, id int64, p model.UserPatch) (*model.User, error) {
	if err := q.writable(); err != nil {
		return nil, err
	}

	u, err := scanUser(q.db.QueryRow(ctx,
		`UPDATE users SET
		   password_hash = COALESCE($2, password_hash),
		   full_name = COALESCE($3, full_name),
		   email = COALESCE($4, email),
		   phone = COALESCE($5, phone),
		   address = COALESCE($6, address)
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, p.PasswordHash, p.FullName, p.Email, p.Phone, p.Address,
	))
	if err != nil {
		return nil, notFound(err, "update user %d", id)
	}
	return u, nil
}

func (q *pgQueries) DeleteUser(ctx context.Context, id int64) (bool, error) {
	if err := q.writable(); err != nil {
		return false, err
	}

	tag, err := q.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, mapWriteError(err, fmt.Sprintf("delete user %d", id))
	}
	return tag.RowsAffected() == 1, nil
}

const voucherColumns = `id, code, type, value, initial_stock, current_stock, expiry_date, created_by, created_at`

func scanVoucher(row scanner) (*model.Voucher, error) {
	var (
		v     model.Voucher
		value int64
	)
	if err := row.Scan(&v.ID, &v.Code, &v.Type, &value, &v.InitialStock, &v.CurrentStock, &v.ExpiryDate, &v.CreatedBy, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.Value = model.FromCents(value)
	return &v, nil
}

func (q *pgQueries) CreateVoucher(ctx context.Context, v *model.Voucher) error {
	if err := q.writable(); err != nil {
		return err
	}

	err := q.db.QueryRow(ctx,
		`INSERT INTO vouchers (code, type, value, initial_stock, current_stock, expiry_date, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		v.Code, v.Type, model.ToCents(v.Value), v.InitialStock, v.CurrentStock, v.ExpiryDate, v.CreatedBy,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return mapWriteError(err, "create voucher "+v.Code)
	}
	return nil
}

func (q *pgQueries) GetVoucher(ctx context.Context, id int64) (*model.Voucher, error) {
	v, err := scanVoucher(q.db.QueryRow(ctx, q.forUpdate(`SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`), id))
	if err != nil {
		return nil, notFound(err, "voucher %d", id)
	}
	return v, nil
}

func (q *pgQueries) ListVouchers(ctx context.Context) ([]model.Voucher, error) {
	rows, err := q.db.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select vouchers: %w", err)
	}
	return collect(rows, scanVoucher)
}

func (q *pgQueries) UpdateVoucher(ctx context.Context, id int64, p model.VoucherPatch) (*model.Voucher, error) {
	if err := q.writable(); err != nil {
		return nil, err
	}

	var value *int64
	if p.Value != nil {
		c := model.ToCents(*p.Value)
		value = &c
	}

	v, err := scanVoucher(q.db.QueryRow(ctx,
		`UPDATE vouchers SET
		   type = COALESCE($2, type),
		   value = COALESCE($3, value),
		   current_stock = COALESCE($4, current_stock),
		   expiry_date = COALESCE($5, expiry_date)
		 WHERE id = $1
		 RETURNING `+voucherColumns,
		id, p.Type, value, p.CurrentStock, p.ExpiryDate,
	))
	if err != nil {
		return nil, notFound(err, "update voucher %d", id)
	}
	return v, nil
}

func (q *pgQueries) DeleteVoucher(ctx context.Context, id int64) (bool, error) {
	if err := q.writable(); err != nil {
		return false, err
	}

	tag, err := q.db.Exec(ctx, `DELETE FROM vouchers WHERE id = $1`, id)
	if err != nil {
		return false, mapWriteError(err, fmt.Sprintf("delete voucher %d", id))
	}
	return tag.RowsAffected() == 1, nil
}

const distributionColumns = `id, owner_id, employee_id, voucher_id, quantity, unit_price, total_price, payment_status, created_at`

func scanDistribution(row scanner) (*model.Distribution, error) {
	var (
		d             model.Distribution
		unit, total   int64
		paymentStatus string
	)
	if err := row.Scan(&d.ID, &d.OwnerID, &d.EmployeeID, &d.VoucherID, &d.Quantity, &unit, &total, &paymentStatus, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.UnitPrice = model.FromCents(unit)
	d.TotalPrice = model.FromCents(total)
	d.PaymentStatus = model.PaymentStatus(paymentStatus)
	return &d, nil
}

func (q *pgQueries) CreateDistribution(ctx context.Context, d *model.Distribution) error {
	if err := q.writable(); err != nil {
		return err
	}

	err := q.db.QueryRow(ctx,
		`INSERT INTO distributions (owner_id, employee_id, voucher_id, quantity, unit_price, total_price, payment_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		d.OwnerID, d.EmployeeID, d.VoucherID, d.Quantity,
		model.ToCents(d.UnitPrice), model.ToCents(d.TotalPrice), string(d.PaymentStatus),
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return mapWriteError(err, "create distribution")
	}
	return nil
}

func (q *pgQueries) ListDistributions(ctx context.Context, f DistributionFilter) ([]model.Distribution, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+distributionColumns+` FROM distributions
		 WHERE ($1 = 0 OR owner_id = $1)
		   AND ($2 = 0 OR employee_id = $2)
		   AND ($3 = 0 OR voucher_id = $3)
		 ORDER BY id`,
		f.OwnerID, f.EmployeeID, f.VoucherID,
	)
	if err != nil {
		return nil, fmt.Errorf("select distributions: %w", err)
	}
	return collect(rows, scanDistribution)
}

func (q *pgQueries) UpdateDistributionPayment(ctx context.Context, id int64, status model.PaymentStatus) (*model.Distribution, error) {
	if err := q.writable(); err != nil {
		return nil, err
	}

	d, err := scanDistribution(q.db.QueryRow(ctx,
		`UPDATE distributions SET payment_status = $2 WHERE id = $1 RETURNING `+distributionColumns,
		id, string(status),
	))
	if err != nil {
		return nil, notFound(err, "update distribution %d", id)
	}
	return d, nil
}

const stockColumns = `id, employee_id, voucher_id, quantity, created_at`

func scanStock(row scanner) (*model.EmployeeStock, error) {
	var es model.EmployeeStock
	if err := row.Scan(&es.ID, &es.EmployeeID, &es.VoucherID, &es.Quantity, &es.CreatedAt); err != nil {
		return nil, err
	}
	return &es, nil
}

func (q *pgQueries) GetEmployeeStock(ctx context.Context, employeeID, voucherID int64) (*model.EmployeeStock, error) {
	es, err := scanStock(q.db.QueryRow(ctx,
		q.forUpdate(`SELECT `+stockColumns+` FROM employee_stock WHERE employee_id = $1 AND voucher_id = $2`),
		employeeID, voucherID,
	))
	if err != nil {
		return nil, notFound(err, "stock of employee %d for voucher %d", employeeID, voucherID)
	}
	return es, nil
}

func (q *pgQueries) CreateEmployeeStock(ctx context.Context, es *model.EmployeeStock) error {
	if err := q.writable(); err != nil {
		return err
	}

	err := q.db.QueryRow(ctx,
		`INSERT INTO employee_stock (employee_id, voucher_id, quantity)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		es.EmployeeID, es.VoucherID, es.Quantity,
	).Scan(&es.ID, &es.CreatedAt)
	if err != nil {
		return mapWriteError(err, "create employee stock")
	}
	return nil
}

func (q *pgQueries) SetEmployeeStockQuantity(ctx context.Context, id int64, quantity int64) error {
	if err := q.writable(); err != nil {
		return err
	}

	tag, err := q.db.Exec(ctx, `UPDATE employee_stock SET quantity = $2 WHERE id = $1`, id, quantity)
	if err != nil {
		return fmt.Errorf("update employee stock %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("employee stock %d: %w", id, ErrNotFound)
	}
	return nil
}

func (q *pgQueries) ListEmployeeStock(ctx context.Context, employeeID int64) ([]model.EmployeeStock, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+stockColumns+` FROM employee_stock WHERE employee_id = $1 ORDER BY id`,
		employeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("select employee stock: %w", err)
	}
	return collect(rows, scanStock)
}

const saleColumns = `id, employee_id, customer_id, voucher_id, quantity, unit_price, total_price, is_online, is_synced, created_at`

func scanSale(row scanner) (*model.Sale, error) {
	var (
		sl          model.Sale
		unit, total int64
	)
	if err := row.Scan(&sl.ID, &sl.EmployeeID, &sl.CustomerID, &sl.VoucherID, &sl.Quantity, &unit, &total, &sl.IsOnline, &sl.IsSynced, &sl.CreatedAt); err != nil {
		return nil, err
	}
	sl.UnitPrice = model.FromCents(unit)
	sl.TotalPrice = model.FromCents(total)
	return &sl, nil
}

func (q *pgQueries) CreateSale(ctx context.Context, sl *model.Sale) error {
	if err := q.writable(); err != nil {
		return err
	}

	err := q.db.QueryRow(ctx,
		`INSERT INTO sales (employee_id, customer_id, voucher_id, quantity, unit_price, total_price, is_online, is_synced)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		sl.EmployeeID, sl.CustomerID, sl.VoucherID, sl.Quantity,
		model.ToCents(sl.UnitPrice), model.ToCents(sl.TotalPrice), sl.IsOnline, sl.IsSynced,
	).Scan(&sl.ID, &sl.CreatedAt)
	if err != nil {
		return mapWriteError(err, "create sale")
	}
	return nil
}

func (q *pgQueries) ListSales(ctx context.Context, f SaleFilter) ([]model.Sale, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+saleColumns+` FROM sales
		 WHERE ($1 = 0 OR employee_id = $1)
		   AND ($2 = 0 OR customer_id = $2)
		 ORDER BY id`,
		f.EmployeeID, f.CustomerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select sales: %w", err)
	}
	return collect(rows, scanSale)
}

const customerVoucherColumns = `id, customer_id, voucher_id, sale_id, is_used, used_at, created_at`

func scanCustomerVoucher(row scanner) (*model.CustomerVoucher, error) {
	var cv model.CustomerVoucher
	if err := row.Scan(&cv.ID, &cv.CustomerID, &cv.VoucherID, &cv.SaleID, &cv.IsUsed, &cv.UsedAt, &cv.CreatedAt); err != nil {
		return nil, err
	}
	return &cv, nil
}

func (q *pgQueries) CreateCustomerVouchers(ctx context.Context, cvs []*model.CustomerVoucher) error {
	if err := q.writable(); err != nil {
		return err
	}

	if len(cvs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, cv := range cvs {
		batch.Queue(
			`INSERT INTO customer_vouchers (customer_id, voucher_id, sale_id, is_used)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			cv.CustomerID, cv.VoucherID, cv.SaleID, cv.IsUsed,
		)
	}

	br := q.db.SendBatch(ctx, batch)
	for _, cv := range cvs {
		if err := br.QueryRow().Scan(&cv.ID, &cv.CreatedAt); err != nil {
			br.Close()
			return mapWriteError(err, "create customer voucher")
		}
	}

	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

func (q *pgQueries) GetCustomerVoucher(ctx context.Context, id int64) (*model.CustomerVoucher, error) {
	cv, err := scanCustomerVoucher(q.db.QueryRow(ctx,
		q.forUpdate(`SELECT `+customerVoucherColumns+` FROM customer_vouchers WHERE id = $1`), id,
	))
	if err != nil {
		return nil, notFound(err, "customer voucher %d", id)
	}
	return cv, nil
}

func (q *pgQueries) MarkCustomerVoucherUsed(ctx context.Context, id int64, usedAt time.Time) error {
	if err := q.writable(); err != nil {
		return err
	}

	tag, err := q.db.Exec(ctx,
		`UPDATE customer_vouchers SET is_used = true, used_at = $2 WHERE id = $1`,
		id, usedAt,
	)
	if err != nil {
		return fmt.Errorf("update customer voucher %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer voucher %d: %w", id, ErrNotFound)
	}
	return nil
}

func (q *pgQueries) ListCustomerVouchers(ctx context.Context, f CustomerVoucherFilter) ([]model.CustomerVoucher, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+customerVoucherColumns+` FROM customer_vouchers
		 WHERE ($1 = 0 OR customer_id = $1)
		   AND ($2 = 0 OR sale_id = $2)
		 ORDER BY id`,
		f.CustomerID, f.SaleID,
	)
	if err != nil {
		return nil, fmt.Errorf("select customer vouchers: %w", err)
	}
	return collect(rows, scanCustomerVoucher)
}
