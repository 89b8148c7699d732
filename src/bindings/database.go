package bindings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Database exposes a prepared-statement API over a pgx pool.
type Database struct {
	pool *pgxpool.Pool
}

func NewDatabase(pool *pgxpool.Pool) *Database {
	return &Database{pool: pool}
}

// Prepare starts a statement. Nothing is sent until a query method runs.
func (d *Database) Prepare(query string) *Statement {
	return &Statement{db: d, query: query}
}

// Batch runs statements in one transaction. Either all results are
// returned or the transaction is rolled back.
func (d *Database) Batch(ctx context.Context, stmts []*Statement) ([]*Result, error) {
	results := make([]*Result, 0, len(stmts))
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		for i, s := range stmts {
			res, err := s.all(ctx, tx)
			if err != nil {
				return fmt.Errorf("batch statement %d: %w", i, err)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ExecResult is returned by Exec.
type ExecResult struct {
	RowsAffected int64         `json:"rows_affected"`
	Duration     time.Duration `json:"duration"`
}

// Exec runs raw SQL without parameters; it may contain several statements.
func (d *Database) Exec(ctx context.Context, query string) (*ExecResult, error) {
	start := time.Now()
	tag, err := d.pool.Exec(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	return &ExecResult{RowsAffected: tag.RowsAffected(), Duration: time.Since(start)}, nil
}

// Ping checks the pool can reach the server.
func (d *Database) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Statement is a query plus its bound parameters.
type Statement struct {
	db    *Database
	query string
	args  []any
}

// Bind returns a copy of the statement with values appended to its
// parameters.
func (s *Statement) Bind(values ...any) *Statement {
	args := make([]any, 0, len(s.args)+len(values))
	args = append(args, s.args...)
	args = append(args, values...)
	return &Statement{db: s.db, query: s.query, args: args}
}

func (s *Statement) Query() string { return s.query }

func (s *Statement) Args() []any { return s.args }

// First returns the first row, or nil when there are no rows.
func (s *Statement) First(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.pool.Query(ctx, s.query, s.args...)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// FirstColumn returns one column of the first row.
func (s *Statement) FirstColumn(ctx context.Context, column string) (any, error) {
	row, err := s.First(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	v, ok := row[column]
	if !ok {
		return nil, fmt.Errorf("column %q not in result", column)
	}
	return v, nil
}

// All runs the statement and collects every row.
func (s *Statement) All(ctx context.Context) (*Result, error) {
	return s.all(ctx, s.db.pool)
}

// Run executes the statement for its side effects.
func (s *Statement) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	tag, err := s.db.pool.Exec(ctx, s.query, s.args...)
	if err != nil {
		return nil, err
	}
	return &Result{Meta: Meta{RowsAffected: tag.RowsAffected(), Duration: time.Since(start)}}, nil
}

// Raw returns rows as positional value slices.
func (s *Statement) Raw(ctx context.Context) ([][]any, error) {
	rows, err := s.db.pool.Query(ctx, s.query, s.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func (s *Statement) all(ctx context.Context, q querier) (*Result, error) {
	start := time.Now()
	rows, err := q.Query(ctx, s.query, s.args...)
	if err != nil {
		return nil, err
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	return &Result{
		Rows: maps,
		Meta: Meta{
			RowsAffected: rows.CommandTag().RowsAffected(),
			Duration:     time.Since(start),
		},
	}, nil
}

// Meta describes how a statement ran.
type Meta struct {
	RowsAffected int64         `json:"rows_affected"`
	Duration     time.Duration `json:"duration"`
}

// Result holds the rows returned by a statement.
type Result struct {
	Rows []map[string]any `json:"results"`
	Meta Meta             `json:"meta"`
}

// Decode copies the rows into dst, which must point to a slice. Columns are
// matched to fields through their json tags.
func (r *Result) Decode(dst any) error {
	rows := r.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
