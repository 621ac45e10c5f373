package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// transaction runs every statement of a on one connection inside a
// database transaction. Parameters are handed out to the statements in
// order, each taking as many as it has placeholders.
func (d *Database) transaction(ctx context.Context, a *Attribute, args []any) (total int64, err error) {
	defer func() { d.metrics.StatementExecuted(KindTransaction.String(), err) }()

	want := 0
	for _, n := range a.counts {
		want += n
	}
	if len(args) < want {
		return 0, fmt.Errorf("transaction %s: %w: want %d values, got %d", a.name, ErrMissingParameter, want, len(args))
	}
	if len(args) > want {
		return 0, fmt.Errorf("transaction %s: want %d values, got %d", a.name, want, len(args))
	}

	conn, err := d.conns.Acquire(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("transaction %s: %w", a.name, err)
	}
	defer d.conns.Release(conn)
	conn.EnterBusy()
	defer conn.LeaveBusy()

	tx, err := conn.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("transaction %s: begin: %w", a.name, err)
	}

	offset := 0
	for i, stmt := range a.statements {
		part := args[offset : offset+a.counts[i]]
		offset += a.counts[i]

		d.statements.observe(stmt, part)
		res, err := tx.ExecContext(ctx, stmt, part...)
		if err == nil {
			var n int64
			n, err = res.RowsAffected()
			total += n
		}
		if err != nil {
			d.statements.observe("ROLLBACK", nil)
			err = fmt.Errorf("transaction %s: statement %d: %w", a.name, i+1, err)
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("transaction %s: commit: %w", a.name, err)
	}
	return total, nil
}

// splitStatements splits a script on semicolons outside quotes.
func splitStatements(script string) []string {
	var out []string
	var quote byte
	start := 0
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			if s := strings.TrimSpace(script[start:i]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(script[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// countPlaceholders returns how many parameters a statement takes: the
// number of ? marks, or the highest $n, outside quotes.
func countPlaceholders(stmt string, style Placeholder) int {
	var quote byte
	count, highest := 0, 0
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			count++
		case c == '$':
			n, j := 0, i+1
			for j < len(stmt) && stmt[j] >= '0' && stmt[j] <= '9' {
				n = n*10 + int(stmt[j]-'0')
				j++
			}
			if n > highest {
				highest = n
			}
			i = j - 1
		}
	}
	if style == PlaceholderDollar {
		return highest
	}
	return count
}
