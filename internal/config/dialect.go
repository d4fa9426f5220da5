package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// NormalizeDriver maps driver aliases onto one of the supported names.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	default:
		return "", fmt.Errorf("unsupported store driver %q (want sqlite, postgres or mysql)", driver)
	}
}

// sqlDriverName returns the database/sql driver registered for driver.
func sqlDriverName(driver string) string {
	if driver == DriverPostgres {
		return "pgx"
	}
	return driver
}

// prepareDSN validates dsn for driver and applies the options the store
// relies on.
func prepareDSN(driver, dsn string) (string, error) {
	switch driver {
	case DriverPostgres:
		if _, err := pgx.ParseConfig(dsn); err != nil {
			return "", fmt.Errorf("parse postgres dsn: %w", err)
		}
		return dsn, nil
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return cfg.FormatDSN(), nil
	default:
		if dsn == "" {
			return ":memory:?_journal_mode=WAL", nil
		}
		return dsn, nil
	}
}

// RedactDSN masks the password in a postgres URL or mysql DSN. Values it
// cannot parse are masked entirely.
func RedactDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "********"
		}
		return u.Redacted()
	}
	if strings.Contains(dsn, "@") {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "********"
		}
		if cfg.Passwd != "" {
			cfg.Passwd = "xxxxx"
		}
		return cfg.FormatDSN()
	}
	if strings.Contains(dsn, "password=") {
		return "********"
	}
	return dsn
}

// isUniqueViolation reports whether err came from a unique constraint.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
