package journal

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

// FileDSN converts a filesystem path into an on-disk SQLite DSN with sensible
// defaults. Callers must ensure the path is non-empty.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrDSNRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// MemoryDSN names a shared in-memory SQLite database.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.TrimSpace(name))
}

// Dialector selects the gorm driver for dsn. Postgres URLs and keyword DSNs
// use the postgres driver; everything else is treated as SQLite, with bare
// paths expanded through FileDSN.
func Dialector(dsn string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	if isPostgres(trimmed) {
		return postgres.Open(trimmed), nil
	}
	if !strings.HasPrefix(trimmed, "file:") && trimmed != ":memory:" {
		fileDSN, err := FileDSN(trimmed)
		if err != nil {
			return nil, err
		}
		trimmed = fileDSN
	}
	return sqlite.Open(trimmed), nil
}

func isPostgres(dsn string) bool {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return true
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return true
	}
	return false
}
