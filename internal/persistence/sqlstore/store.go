// Package sqlstore implements persistence.RowStore over database/sql for the
// SQLite (modernc.org/sqlite) and MySQL (go-sql-driver/mysql) backends.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/timeutil"
)

// Dialect names accepted by Open.
const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

type dialect struct {
	name       string
	driver     string
	migrations []migration
}

var dialects = map[string]dialect{
	DialectSQLite: {name: DialectSQLite, driver: "sqlite", migrations: sqliteMigrations},
	DialectMySQL:  {name: DialectMySQL, driver: "mysql", migrations: mysqlMigrations},
}

// PoolConfig tunes the database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a RowStore backed by a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger

	newID func() string
	now   func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the logger used for schema and transaction events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator overrides uuid-based identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithClock overrides the created_at time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// Open connects to dsn using the named dialect and verifies the connection.
// SQLite is limited to a single open connection so in-memory databases and
// write locks behave predictably.
func Open(ctx context.Context, dialectName, dsn string, pool PoolConfig, opts ...Option) (*Store, error) {
	d, ok := dialects[dialectName]
	if !ok {
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", dialectName)
	}
	if d.name == DialectMySQL {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: parse mysql dsn: %w", err)
		}
		dsn = cfg.FormatDSN()
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d.name, err)
	}

	if d.name == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		if pool.MaxOpenConns > 0 {
			db.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.MaxIdleConns > 0 {
			db.SetMaxIdleConns(pool.MaxIdleConns)
		}
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", d.name, mapError(err))
	}

	return newStore(db, d, opts...), nil
}

func newStore(db *sql.DB, d dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: d,
		logger:  slog.Default(),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return mapError(s.db.PingContext(ctx))
}

// Select implements persistence.RowStore.
func (s *Store) Select(ctx context.Context, q persistence.Query) ([]persistence.Row, error) {
	t, ok := tables[q.Table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnknownTable, q.Table)
	}
	query, args, err := buildSelect(t, q)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, s.db, t, query, args)
}

// Insert implements persistence.RowStore. All rows are written in one
// transaction and read back as stored.
func (s *Store) Insert(ctx context.Context, table string, rows []persistence.Row) ([]persistence.Row, error) {
	t, ok := tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnknownTable, table)
	}
	if len(rows) == 0 {
		return []persistence.Row{}, nil
	}

	createdAt := timeutil.FormatInstant(s.now())
	prepared := make([]persistence.Row, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		clone := row.Clone()
		if id, _ := clone["id"].(string); id == "" {
			clone["id"] = s.newID()
		}
		if v, _ := clone["created_at"].(string); v == "" {
			clone["created_at"] = createdAt
		}
		id, ok := clone["id"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: id must be a string", persistence.ErrConstraintViolation)
		}
		ids = append(ids, id)
		prepared = append(prepared, clone)
	}

	var stored []persistence.Row
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		for _, row := range prepared {
			stmt, args, err := buildInsert(t, row)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return mapError(err)
			}
		}

		query, args, err := buildSelect(t, persistence.Query{
			Table:   t.name,
			Filters: []persistence.Filter{persistence.In("id", ids)},
		})
		if err != nil {
			return err
		}
		got, err := s.query(ctx, tx, t, query, args)
		if err != nil {
			return err
		}
		stored = orderByIDs(got, ids)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Delete implements persistence.RowStore.
func (s *Store) Delete(ctx context.Context, table string, filters []persistence.Filter) (int, error) {
	t, ok := tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", persistence.ErrUnknownTable, table)
	}
	where, args, err := buildWhere(t, filters)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+t.name+where, args...)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err)
	}
	return int(n), nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) query(ctx context.Context, q queryer, t table, query string, args []any) ([]persistence.Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]persistence.Row, 0)
	for rows.Next() {
		raw := make([]any, len(t.columns))
		dest := make([]any, len(t.columns))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, mapError(err)
		}
		row := make(persistence.Row, len(t.columns))
		for i, c := range t.columns {
			v, err := decodeValue(c, raw[i])
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", persistence.ErrMalformedRow, t.name, c.name, err)
			}
			row[c.name] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// withTransaction commits when fn succeeds and rolls back otherwise.
func (s *Store) withTransaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WarnContext(ctx, "transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

func buildSelect(t table, q persistence.Query) (string, []any, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(t.columnNames(), ", "))
	b.WriteString(" FROM ")
	b.WriteString(t.name)

	where, args, err := buildWhere(t, q.Filters)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(where)

	if q.Order != nil {
		if _, ok := t.column(q.Order.Column); !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", persistence.ErrUnknownColumn, t.name, q.Order.Column)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(q.Order.Column)
		if q.Order.Descending {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}
	return b.String(), args, nil
}

var sqlOperators = map[persistence.Operator]string{
	persistence.OpEq:  "=",
	persistence.OpLt:  "<",
	persistence.OpLte: "<=",
	persistence.OpGt:  ">",
	persistence.OpGte: ">=",
}

func buildWhere(t table, filters []persistence.Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		c, ok := t.column(f.Column)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", persistence.ErrUnknownColumn, t.name, f.Column)
		}

		if f.Op == persistence.OpIn {
			values, ok := f.Value.([]string)
			if !ok {
				return "", nil, fmt.Errorf("sqlstore: filter %s expects []string", f)
			}
			if len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
			clauses = append(clauses, c.name+" IN ("+marks+")")
			for _, v := range values {
				args = append(args, v)
			}
			continue
		}

		op, ok := sqlOperators[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("sqlstore: unsupported operator %q", f.Op)
		}
		if f.Value == nil && f.Op == persistence.OpEq {
			clauses = append(clauses, c.name+" IS NULL")
			continue
		}
		arg, err := encodeValue(c, f.Value)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, c.name+" "+op+" ?")
		args = append(args, arg)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func buildInsert(t table, row persistence.Row) (string, []any, error) {
	names := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for name := range row {
		if _, ok := t.column(name); !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", persistence.ErrUnknownColumn, t.name, name)
		}
	}
	// Column order follows the table definition so statements are stable.
	for _, c := range t.columns {
		v, ok := row[c.name]
		if !ok {
			continue
		}
		arg, err := encodeValue(c, v)
		if err != nil {
			return "", nil, err
		}
		names = append(names, c.name)
		args = append(args, arg)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt := "INSERT INTO " + t.name + " (" + strings.Join(names, ", ") + ") VALUES (" + marks + ")"
	return stmt, args, nil
}

func encodeValue(c column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.kind {
	case kindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects bool, got %T", persistence.ErrConstraintViolation, c.name, v)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case kindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		}
		return nil, fmt.Errorf("%w: %s expects integer, got %T", persistence.ErrConstraintViolation, c.name, v)
	case kindJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", persistence.ErrConstraintViolation, c.name, err)
		}
		return string(data), nil
	default:
		switch val := v.(type) {
		case string:
			return val, nil
		case time.Time:
			return timeutil.FormatInstant(val), nil
		}
		return nil, fmt.Errorf("%w: %s expects string, got %T", persistence.ErrConstraintViolation, c.name, v)
	}
}

// decodeValue normalises driver values: MySQL's text protocol yields []byte
// for every column while SQLite yields native int64 and string.
func decodeValue(c column, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch c.kind {
	case kindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case []byte:
			return string(v) != "0" && string(v) != "", nil
		}
	case kindInt:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case []byte:
			return strconv.ParseInt(string(v), 10, 64)
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case kindJSON:
		var data []byte
		switch v := raw.(type) {
		case []byte:
			data = v
		case string:
			data = []byte(v)
		default:
			return nil, fmt.Errorf("unexpected %T", raw)
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case time.Time:
			return timeutil.FormatInstant(v), nil
		}
	}
	return nil, fmt.Errorf("unexpected %T", raw)
}

func orderByIDs(rows []persistence.Row, ids []string) []persistence.Row {
	byID := make(map[string]persistence.Row, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(string); ok {
			byID[id] = row
		}
	}
	out := make([]persistence.Row, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out
}
