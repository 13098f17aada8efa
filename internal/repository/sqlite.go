package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	defaultSQLitePath = "./harrier.db"

	// memorySQLite as the path keeps the store in process memory.
	memorySQLite = ":memory:"

	sqliteBusyTimeout = 5 * time.Second
	sqliteOpenTimeout = 5 * time.Second
)

// openSQLite opens the embedded store with the pure Go modernc driver.
// File databases run in WAL mode so dashboard reads do not block batch writes.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}
	memory := path == memorySQLite

	if !memory {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, memory))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpenTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if !memory {
		var mode string
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err == nil && !strings.EqualFold(mode, "wal") {
			slog.Warn("sqlite is not in WAL mode, result reads may wait on batch writes",
				"path", path,
				"journal_mode", mode,
			)
		}
	}

	return db, nil
}

// sqliteDSN applies the pragmas on every pooled connection. Write transactions
// take the lock up front so concurrent SaveBatch calls queue on busy_timeout
// instead of failing on lock upgrade.
func sqliteDSN(path string, memory bool) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(ON)")
	if !memory {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	q.Set("_txlock", "immediate")

	return "file:" + path + "?" + q.Encode()
}
