package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Result is the tabular outcome of a successful execution.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// RowCount returns the number of returned rows.
func (r *Result) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Execute runs sql and collects its rows. Engine failures, including the
// configured query timeout, come back as *ExecutionError whose message is
// the engine's own text.
func (e *Engine) Execute(ctx context.Context, sql string) (*Result, error) {
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := e.execute(ctx, sql)
	e.metrics.ObserveQuery(time.Since(start), err)

	if err != nil {
		e.logger.Debug("query failed", "error", err)
		return nil, err
	}
	e.logger.Debug("query succeeded", "rows", len(res.Rows), "duration", time.Since(start))
	return res, nil
}

func (e *Engine) execute(ctx context.Context, sql string) (*Result, error) {
	rows, err := e.db.Query(ctx, sql)
	if err != nil {
		return nil, e.executionError(ctx, sql, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, e.executionError(ctx, sql, err)
	}

	res := &Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if e.cfg.MaxRows > 0 && len(res.Rows) >= e.cfg.MaxRows {
			res.Truncated = true
			break
		}

		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, e.executionError(ctx, sql, err)
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, e.executionError(ctx, sql, err)
	}
	return res, nil
}

// executionError strips the adapter's wrapping so the message is exactly
// what the engine reported.
func (e *Engine) executionError(ctx context.Context, sql string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ExecutionError{
			SQL:     sql,
			Message: fmt.Sprintf("query timed out after %s", e.cfg.QueryTimeout),
			Err:     context.DeadlineExceeded,
		}
	}

	cause := err
	if inner := errors.Unwrap(err); inner != nil && strings.HasPrefix(err.Error(), "failed to execute") {
		cause = inner
	}
	return &ExecutionError{SQL: sql, Message: cause.Error(), Err: err}
}

// normalize converts driver values into types that render and encode
// predictably.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case interface{ Float64() float64 }:
		return x.Float64()
	default:
		return v
	}
}
