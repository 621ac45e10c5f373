package model

import "errors"

var (
	// ErrIllegalState is returned when an instance operation does not match
	// its persisted state: Update or Delete on a row that was never stored,
	// Insert on a row that already is. No SQL is executed.
	ErrIllegalState = errors.New("illegal instance state")

	ErrMissingParameter = errors.New("missing parameter")
	ErrMissingKey       = errors.New("missing key value")
	ErrUnknownEntity    = errors.New("unknown entity")
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrUnknownField     = errors.New("unknown field")
	ErrWrongKind        = errors.New("attribute kind does not support this operation")
	ErrNoTable          = errors.New("entity has no table")
	ErrPoolClosed       = errors.New("connection pool closed")
	ErrNoDatabase       = errors.New("no database in application scope")
)
