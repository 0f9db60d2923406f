// Package sqlite is the transactional store for the subscription model.
//
// Every mutating operation runs in its own immediate transaction, so
// concurrent writers are serialized by SQLite and a busy database is retried
// with backoff instead of surfacing to the caller.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"

	sublerrs "github.com/jdholdren/subl/internal/errors"
)

const (
	defaultRetries       = 5
	defaultFeedCacheSize = 1024
)

type Repo struct {
	db      *sqlx.DB
	now     func() time.Time
	retries uint64
	feedIDs *lru.Cache[string, string] // feed_url -> id
}

type Option func(*Repo)

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repo) {
		r.now = now
	}
}

// WithRetries sets how many times a transaction is retried while the
// database is busy.
func WithRetries(n uint64) Option {
	return func(r *Repo) {
		r.retries = n
	}
}

// WithFeedCacheSize sets how many feed URL lookups are cached.
func WithFeedCacheSize(n int) Option {
	return func(r *Repo) {
		if n > 0 {
			cache, _ := lru.New[string, string](n)
			r.feedIDs = cache
		}
	}
}

func New(db *sqlx.DB, opts ...Option) Repo {
	cache, _ := lru.New[string, string](defaultFeedCacheSize)
	r := Repo{
		db:      db,
		now:     time.Now,
		retries: defaultRetries,
		feedIDs: cache,
	}
	for _, opt := range opts {
		opt(&r)
	}

	return r
}

const dsnParams = "_txlock=immediate&_time_format=sqlite&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Open opens the database file at path with the settings the store relies
// on: immediate transactions, sortable UTC timestamps, enforced foreign keys.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?%s&_pragma=journal_mode(WAL)", path, dsnParams)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	return dbx, nil
}

// OpenMemory opens a private in-memory database. It is limited to a single
// connection, since every new connection would see an empty database.
func OpenMemory() (*sqlx.DB, error) {
	dbx, err := sqlx.Open("sqlite", ":memory:?"+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	dbx.SetMaxOpenConns(1)
	dbx.SetConnMaxLifetime(0)
	dbx.SetConnMaxIdleTime(0)

	return dbx, nil
}

func (r Repo) clock() time.Time {
	return r.now().UTC()
}

// withTx runs fn in a transaction, retrying the whole of it while the
// database reports it is busy or fn asks for a retry.
func (r Repo) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	backoff := retry.WithMaxRetries(r.retries, retry.NewExponential(10*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				return retry.RetryableError(err)
			}
			return fmt.Errorf("error beginning transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			if isBusy(err) {
				return retry.RetryableError(err)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				return retry.RetryableError(err)
			}
			return fmt.Errorf("error committing transaction: %w", err)
		}

		return nil
	})
}

const (
	codeBusy                 = 5
	codeLocked               = 6
	codeConstraintPrimaryKey = 1555
	codeConstraintUnique     = 2067
)

func sqliteCode(err error) (int, bool) {
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) {
		return sqliteErr.Code(), true
	}

	return 0, false
}

func isUniqueViolation(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == codeConstraintUnique || code == codeConstraintPrimaryKey)
}

func isBusy(err error) bool {
	code, ok := sqliteCode(err)
	// Extended codes keep the primary code in the low byte.
	return ok && (code&0xff == codeBusy || code&0xff == codeLocked)
}

func newID(namespace string) string {
	return uuid.NewString() + namespace
}

func notFound(what, id string) error {
	return sublerrs.E(sublerrs.NotFound, fmt.Sprintf("%s %q", what, id))
}

// getOne fetches a single row into T, mapping a missing row to NotFound.
func getOne[T any](ctx context.Context, q sqlx.QueryerContext, what, id, query string, args ...any) (T, error) {
	var dest T
	err := sqlx.GetContext(ctx, q, &dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return dest, notFound(what, id)
	}
	if err != nil {
		return dest, fmt.Errorf("error fetching %s: %w", what, err)
	}

	return dest, nil
}

// mustExist checks that the row with id exists in table.
func mustExist(ctx context.Context, q sqlx.QueryerContext, table, what, id string) error {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = ?);`, table)

	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, query, id); err != nil {
		return fmt.Errorf("error checking %s: %w", what, err)
	}
	if !exists {
		return notFound(what, id)
	}

	return nil
}

// execOne runs a statement that must touch exactly one row.
func execOne(ctx context.Context, e sqlx.ExecerContext, what, id, query string, args ...any) error {
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error updating %s: %w", what, err)
	}
	if n == 0 {
		return notFound(what, id)
	}

	return nil
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return sublerrs.E(sublerrs.Invalid, fmt.Sprintf("%s is required", field),
			sublerrs.Detail{Field: field, Error: "is required"})
	}

	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
