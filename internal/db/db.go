package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Connect opens and pings a database for driver.
func Connect(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		conn *sql.DB
		err  error
	)
	switch driver {
	case DriverPostgres:
		conn, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("unable to open database: %w", err)
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(time.Hour)
		conn.SetConnMaxIdleTime(30 * time.Minute)
	case DriverSQLite:
		conn, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("unable to open database: %w", err)
		}
		// One connection keeps in-memory databases alive and serialises writers.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return conn, nil
}

// Migrate applies the embedded migrations for driver.
func Migrate(conn *sql.DB, driver string) error {
	var (
		target database.Driver
		err    error
	)
	switch driver {
	case DriverPostgres:
		target, err = postgres.WithInstance(conn, &postgres.Config{})
	case DriverSQLite:
		target, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("could not create database driver: %w", err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("could not locate migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("could not create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run up migrations: %w", err)
	}
	return nil
}
