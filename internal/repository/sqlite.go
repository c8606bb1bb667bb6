package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opensource-finance/harrier/internal/domain"
)

const memoryPath = ":memory:"

// Pragmas applied on every connection the pool opens.
var (
	basePragmas = []string{"foreign_keys(ON)"}
	filePragmas = []string{"journal_mode(WAL)", "synchronous(NORMAL)", "busy_timeout(5000)"}
)

func sqliteDSN(path string) string {
	pragmas := basePragmas
	target := "file:" + path
	if path == memoryPath {
		target = "file::memory:"
	} else {
		pragmas = append(append([]string{}, filePragmas...), basePragmas...)
	}

	params := make([]string, len(pragmas))
	for i, p := range pragmas {
		params[i] = "_pragma=" + p
	}
	return target + "?" + strings.Join(params, "&")
}

// openSQLite uses the pure Go modernc driver. An in-memory database is private
// to its connection, so the pool is pinned to one.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./harrier.db"
	}

	if path != memoryPath {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}
	return verifyConn(db, "sqlite")
}

// verifyConn pings a freshly opened pool, closing it on failure.
func verifyConn(db *sql.DB, driver string) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s unreachable: %w", driver, err)
	}
	return db, nil
}
