package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
)

// Builder is the squirrel statement builder with $n placeholders.
var Builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Get runs b and scans exactly one row into T. No row is pgx.ErrNoRows.
func Get[T any](ctx context.Context, q Querier, b sq.Sqlizer) (*T, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var dst T
	if err := pgxscan.Get(ctx, q, &dst, query, args...); err != nil {
		return nil, err
	}
	return &dst, nil
}

// Select runs b and scans every row into a slice of T.
func Select[T any](ctx context.Context, q Querier, b sq.Sqlizer) ([]T, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var dst []T
	if err := pgxscan.Select(ctx, q, &dst, query, args...); err != nil {
		return nil, err
	}
	return dst, nil
}

// Exec runs a statement built with squirrel.
func Exec(ctx context.Context, q Querier, b sq.Sqlizer) (pgconn.CommandTag, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build statement: %w", err)
	}
	return q.Exec(ctx, query, args...)
}

// Count wraps b in SELECT count(*).
func Count(ctx context.Context, q Querier, b sq.SelectBuilder) (int, error) {
	query, args, err := Builder.Select("count(*)").FromSelect(b, "c").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
