package model

import (
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3" (cgo)
	_ "modernc.org/sqlite"             // registers "sqlite" (pure Go)
)

// DriverName maps a configured driver onto its database/sql name.
func DriverName(name string) string {
	switch strings.ToLower(name) {
	case "sqlite", "modernc":
		return "sqlite"
	case "sqlite3", "mattn":
		return "sqlite3"
	case "pgx", "postgres", "postgresql":
		return "pgx"
	default:
		return name
	}
}
