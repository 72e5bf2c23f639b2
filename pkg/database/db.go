package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver
)

const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

type Config struct {
	DSN            string        `env:"URL"`
	Driver         string        `env:"DRIVER" envDefault:"postgres"`
	MaxConns       int           `env:"MAX_CONNS" envDefault:"10"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"5s"`
	TimeZone       string        `env:"TIMEZONE"`
	ClientEncoding string        `env:"CLIENT_ENCODING"`
	RunMigrations  bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
}

// Connect opens a *sql.DB with the configured driver and verifies connectivity with a ping.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPQ
	}
	if driver != DriverPQ && driver != DriverPGX {
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	dsn, err := dsnWithSettings(cfg.DSN, cfg.TimeZone, cfg.ClientEncoding)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// NewSqlx wraps db for the repositories, using the bind style of the driver.
func NewSqlx(db *sql.DB, driver string) *sqlx.DB {
	if driver == "" {
		driver = DriverPQ
	}
	return sqlx.NewDb(db, driver)
}

// dsnWithSettings appends session settings as run-time parameters so every
// pooled connection gets them, not only the first one. Both drivers forward
// unknown URL parameters to the server.
func dsnWithSettings(dsn, timeZone, clientEncoding string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", fmt.Errorf("database url is empty")
	}
	if timeZone == "" && clientEncoding == "" {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("database url must be a postgres:// url to carry session settings")
	}
	q := u.Query()
	if timeZone != "" {
		q.Set("timezone", timeZone)
	}
	if clientEncoding != "" {
		q.Set("client_encoding", clientEncoding)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
