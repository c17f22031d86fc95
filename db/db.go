package db

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
)

var (
	repeatableRead = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}
	clk            = clock.New()
)

var ErrUnknownColumn = errors.New("unknown column")

const deedColumns = "id, owner_id, name, create_time, notify_time, done_flag"

const createTableQuery = `CREATE TABLE IF NOT EXISTS deeds (
id BIGINT PRIMARY KEY,
owner_id BIGINT NOT NULL,
name TEXT NOT NULL,
create_time TIMESTAMPTZ NOT NULL,
notify_time TIMESTAMPTZ,
done_flag BOOLEAN NOT NULL DEFAULT FALSE
)`

// PgxIface is the subset of pgxpool.Pool the store relies on. pgxmock
// pools satisfy it too.
type PgxIface interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

type Database struct {
	pool PgxIface
}

func NewDatabase(pool PgxIface) *Database {
	return &Database{pool: pool}
}

// Init connects to Postgres and makes sure the deeds table exists.
// connStr should look like postgresql://localhost:5432/notification_bot?user=admn&password=passwd
func Init(ctx context.Context, connStr string) (*Database, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if _, err := pool.Exec(ctx, createTableQuery); err != nil {
		return nil, errors.Wrap(err, "failed to create deeds table")
	}

	return &Database{pool: pool}, nil
}

func (d *Database) Close() {
	d.pool.Close()
}

// Insert writes a new deed and returns its id. The id is max(id)+1 over the
// whole table; the read and the write share one repeatable-read transaction
// so concurrent inserts serialize instead of racing to the same id.
func (d *Database) Insert(ctx context.Context, name string, ownerID int64) (int64, error) {
	tx, err := d.pool.BeginTx(ctx, repeatableRead)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var maxID int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM deeds`).Scan(&maxID); err != nil {
		return 0, errors.Wrap(err, "failed to read max deed id")
	}

	id := maxID + 1
	if _, err := tx.Exec(ctx, `INSERT INTO deeds(id, owner_id, name, create_time, done_flag)
VALUES($1, $2, $3, $4, FALSE)`, id, ownerID, name, clk.Now().UTC()); err != nil {
		return 0, errors.Wrap(err, "failed to insert deed")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "failed to commit")
	}

	return id, nil
}

// GetByFilter returns deeds matching every equality predicate, ordered by id.
func (d *Database) GetByFilter(ctx context.Context, filters map[string]any) ([]Deed, error) {
	where, args, err := buildPredicates(" WHERE ", " AND ", filters, 1)
	if err != nil {
		return nil, err
	}

	rows, err := d.pool.Query(ctx, `SELECT `+deedColumns+` FROM deeds`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying deeds")
	}
	defer rows.Close()

	return scanDeeds(rows)
}

// GetMaxColumnValue returns the maximum value of a numeric column, or 0 for
// an empty table. The zero is a convention, not an error.
func (d *Database) GetMaxColumnValue(ctx context.Context, column string) (int64, error) {
	if !knownColumns[column] {
		return 0, errors.Wrapf(ErrUnknownColumn, "column %q", column)
	}

	var max int64
	query := fmt.Sprintf(`SELECT COALESCE(MAX(%s), 0) FROM deeds`, column)
	if err := d.pool.QueryRow(ctx, query).Scan(&max); err != nil {
		return 0, errors.Wrapf(err, "failed to read max of %q", column)
	}

	return max, nil
}

// UpdateWhere applies changes to every row matching the filters. A filter
// matching no rows is a silent no-op.
func (d *Database) UpdateWhere(ctx context.Context, filters, changes map[string]any) error {
	if len(changes) == 0 {
		return errors.New("nothing to change")
	}

	set, setArgs, err := buildPredicates("", ", ", changes, 1)
	if err != nil {
		return err
	}
	where, whereArgs, err := buildPredicates(" WHERE ", " AND ", filters, 1+len(setArgs))
	if err != nil {
		return err
	}

	tx, err := d.pool.BeginTx(ctx, repeatableRead)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	args := append(setArgs, whereArgs...)
	if _, err := tx.Exec(ctx, `UPDATE deeds SET `+set+where, args...); err != nil {
		return errors.Wrap(err, "failed to update deeds")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit")
	}

	return nil
}

// ListActive returns deeds that still expect a notification: not done and
// with notify_time set. This is the set re-armed into the scheduler at
// startup.
func (d *Database) ListActive(ctx context.Context) ([]Deed, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+deedColumns+` FROM deeds
WHERE done_flag = FALSE AND notify_time IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying active deeds")
	}
	defer rows.Close()

	return scanDeeds(rows)
}

// buildPredicates renders a sorted "col=$n" list. Column names are checked
// against the table's columns, values travel as bind arguments.
func buildPredicates(prefix, sep string, values map[string]any, firstArg int) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, nil
	}

	cols := make([]string, 0, len(values))
	for c := range values {
		if !knownColumns[c] {
			return "", nil, errors.Wrapf(ErrUnknownColumn, "column %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var sb strings.Builder
	args := make([]any, 0, len(cols))
	sb.WriteString(prefix)
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(sep)
		}
		fmt.Fprintf(&sb, "%s=$%d", c, firstArg+i)
		args = append(args, values[c])
	}

	return sb.String(), args, nil
}

func scanDeeds(rows pgx.Rows) ([]Deed, error) {
	var deeds []Deed
	for rows.Next() {
		var deed Deed
		if err := rows.Scan(&deed.ID, &deed.OwnerID, &deed.Name, &deed.CreateTime,
			&deed.NotifyTime, &deed.DoneFlag); err != nil {
			return nil, errors.Wrap(err, "failed scanning deed")
		}
		deeds = append(deeds, deed)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed reading deeds")
	}

	return deeds, nil
}
