package connection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cyberkid042/distributed-job-queue/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// newDatabase opens the configured sql database and verifies it with a
// ping.
func newDatabase(conf *config.Database) (*sql.DB, error) {
	driverName, err := resolveDriver(conf.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, conf.Source)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open connection: %w", conf.Driver, err)
	}

	if conf.MaxIdleConn > 0 {
		db.SetMaxIdleConns(conf.MaxIdleConn)
	} else {
		db.SetMaxIdleConns(2)
	}

	if conf.MaxOpenConn > 0 {
		db.SetMaxOpenConns(conf.MaxOpenConn)
	} else if driverName == "sqlite3" {
		// SQLite works best with a single writer connection.
		db.SetMaxOpenConns(1)
	}

	if conf.ConnMaxLifeTime > 0 {
		db.SetConnMaxLifetime(conf.ConnMaxLifeTime)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", conf.Driver, err)
	}

	return db, nil
}

func resolveDriver(name string) (string, error) {
	switch name {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "mysql":
		return "mysql", nil
	case "postgres", "postgresql", "pgx":
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", name)
	}
}
