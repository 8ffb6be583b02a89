package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/addrbook/addrbook/internal/store/migrations"
)

// DBTX is the subset of database/sql used by the repositories. Both *sql.DB
// and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to PostgreSQL through the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

const uniqueViolation = "23505"

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PostgresAccounts implements Accounts on top of PostgreSQL.
type PostgresAccounts struct {
	db DBTX
}

func NewPostgresAccounts(db DBTX) *PostgresAccounts {
	return &PostgresAccounts{db: db}
}

var _ Accounts = (*PostgresAccounts)(nil)

const accountColumns = `id, username, email, password_hash, COALESCE(avatar, ''), confirmed, COALESCE(refresh_token, ''), created_at`

func scanAccount(row *sql.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash,
		&a.Avatar, &a.Confirmed, &a.RefreshToken, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresAccounts) Create(ctx context.Context, acct *Account) (*Account, error) {
	query := `INSERT INTO users (username, email, password_hash, avatar)
	          VALUES ($1, $2, $3, NULLIF($4, ''))
	          RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		acct.Username, acct.Email, acct.PasswordHash, acct.Avatar).
		Scan(&acct.ID, &acct.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return acct, nil
}

func (r *PostgresAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM users WHERE email = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresAccounts) UpdateRefreshToken(ctx context.Context, email, tok string) error {
	query := `UPDATE users SET refresh_token = NULLIF($2, '') WHERE email = $1`

	res, err := r.db.ExecContext(ctx, query, email, tok)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return noneUpdatedToNotFound(res)
}

// RotateRefreshToken relies on a conditional UPDATE for atomicity: the row is
// only touched when the stored token still equals the presented one, so two
// concurrent rotations can never both succeed.
func (r *PostgresAccounts) RotateRefreshToken(ctx context.Context, email, current, next string) error {
	query := `UPDATE users SET refresh_token = $3
	          WHERE email = $1 AND refresh_token = $2`

	res, err := r.db.ExecContext(ctx, query, email, current, next)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing rotated: distinguish a superseded token from a vanished account.
	var exists bool
	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if !exists {
		return ErrAccountNotFound
	}
	return ErrRefreshMismatch
}

func (r *PostgresAccounts) SetConfirmed(ctx context.Context, email string, confirmed bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET confirmed = $2 WHERE email = $1`, email, confirmed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return noneUpdatedToNotFound(res)
}

func (r *PostgresAccounts) UpdateAvatar(ctx context.Context, email, url string) (*Account, error) {
	query := `UPDATE users SET avatar = NULLIF($2, '') WHERE email = $1
	          RETURNING ` + accountColumns
	return scanAccount(r.db.QueryRowContext(ctx, query, email, url))
}

func noneUpdatedToNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// PostgresContacts implements Contacts on top of PostgreSQL.
type PostgresContacts struct {
	db DBTX
}

func NewPostgresContacts(db DBTX) *PostgresContacts {
	return &PostgresContacts{db: db}
}

var _ Contacts = (*PostgresContacts)(nil)

const contactColumns = `id, user_id, firstname, lastname, email, phone_number, date_of_birth, COALESCE(relationship, ''), created_at`

func scanContactRow(row *sql.Row) (*Contact, error) {
	c := &Contact{}
	err := row.Scan(&c.ID, &c.UserID, &c.FirstName, &c.LastName,
		&c.Email, &c.Phone, &c.BirthDate, &c.Relationship, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func scanContacts(rows *sql.Rows) ([]Contact, error) {
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		err := rows.Scan(&c.ID, &c.UserID, &c.FirstName, &c.LastName,
			&c.Email, &c.Phone, &c.BirthDate, &c.Relationship, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresContacts) Create(ctx context.Context, c *Contact) (*Contact, error) {
	query := `INSERT INTO contacts (user_id, firstname, lastname, email, phone_number, date_of_birth, relationship)
	          VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	          RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		c.UserID, c.FirstName, c.LastName, c.Email, c.Phone, c.BirthDate, c.Relationship).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresContacts) Get(ctx context.Context, userID, id string) (*Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1 AND user_id = $2`
	return scanContactRow(r.db.QueryRowContext(ctx, query, id, userID))
}

func (r *PostgresContacts) List(ctx context.Context, userID string, offset, limit int) ([]Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
	          WHERE user_id = $1 ORDER BY created_at, id OFFSET $2 LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanContacts(rows)
}

func (r *PostgresContacts) Update(ctx context.Context, userID, id string, c *Contact) (*Contact, error) {
	query := `UPDATE contacts
	          SET firstname = $3, lastname = $4, email = $5, phone_number = $6,
	              date_of_birth = $7, relationship = NULLIF($8, '')
	          WHERE id = $1 AND user_id = $2
	          RETURNING ` + contactColumns
	return scanContactRow(r.db.QueryRowContext(ctx, query,
		id, userID, c.FirstName, c.LastName, c.Email, c.Phone, c.BirthDate, c.Relationship))
}

func (r *PostgresContacts) Delete(ctx context.Context, userID, id string) (*Contact, error) {
	query := `DELETE FROM contacts WHERE id = $1 AND user_id = $2
	          RETURNING ` + contactColumns
	return scanContactRow(r.db.QueryRowContext(ctx, query, id, userID))
}

func (r *PostgresContacts) Find(ctx context.Context, userID, firstName, lastName, email string) ([]Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
	          WHERE user_id = $1
	            AND ($2 = '' OR firstname ILIKE '%' || $2 || '%')
	            AND ($3 = '' OR lastname ILIKE '%' || $3 || '%')
	            AND ($4 = '' OR email ILIKE '%' || $4 || '%')
	          ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, userID, firstName, lastName, email)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanContacts(rows)
}

func (r *PostgresContacts) UpcomingBirthdays(ctx context.Context, userID string, days int) ([]Contact, error) {
	// Match on month-day so the year of birth is irrelevant; computing the
	// window dates in Go handles the December→January wrap for free.
	keys := birthdayKeys(time.Now(), days)

	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	args = append(args, userID)
	for i, k := range keys {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, k)
	}

	query := `SELECT ` + contactColumns + ` FROM contacts
	          WHERE user_id = $1 AND to_char(date_of_birth, 'MMDD') IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanContacts(rows)
}

// birthdayKeys returns the MMDD strings for today through today+days inclusive.
func birthdayKeys(from time.Time, days int) []string {
	keys := make([]string, 0, days+1)
	for i := 0; i <= days; i++ {
		keys = append(keys, from.AddDate(0, 0, i).Format("0102"))
	}
	return keys
}
