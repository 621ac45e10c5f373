package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("server address", func(t *testing.T) {
		t.Setenv("VIEWTOOLS_ADDR", "127.0.0.1:7000")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	})

	t.Run("template paths split on list separator", func(t *testing.T) {
		t.Setenv("VIEWTOOLS_TEMPLATES", "a"+string(listSeparator())+"b")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, []string{"a", "b"}, cfg.Templates.Paths)
	})

	t.Run("database driver and dsn", func(t *testing.T) {
		t.Setenv("VIEWTOOLS_DB_DRIVER", "pgx")
		t.Setenv("VIEWTOOLS_DB_DSN", "postgres://localhost/books")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "pgx", cfg.Model.Driver)
		assert.Equal(t, "postgres://localhost/books", cfg.Model.DSN)
	})

	t.Run("S3 bucket enables the loader", func(t *testing.T) {
		t.Setenv("VIEWTOOLS_S3_BUCKET", "site-templates")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Templates.S3.Enabled)
		assert.Equal(t, "site-templates", cfg.Templates.S3.Bucket)
		require.NoError(t, cfg.Validate())
	})

	t.Run("empty variables leave values alone", func(t *testing.T) {
		t.Setenv("VIEWTOOLS_LOG_LEVEL", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "info", cfg.Logging.Level)
	})
}

func listSeparator() rune {
	return filepath.ListSeparator
}
