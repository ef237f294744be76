package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/config"
)

// Pinger is anything the health check can ping
type Pinger interface {
	PingContext(ctx context.Context) error
}

// maskPassword masks the password in a database URL for safe logging
func maskPassword(url string) string {
	re := regexp.MustCompile(`(postgres(?:ql)?://[^:]+:)([^@]+)(@.+)`)
	return re.ReplaceAllString(url, "${1}****${3}")
}

// NewConnection opens the payment audit database through the pgx stdlib driver
func NewConnection(cfg config.DatabaseConfig, logger *logrus.Logger) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	connectionURL := cfg.URL
	if !strings.Contains(connectionURL, "sslmode") {
		separator := "?"
		if strings.Contains(connectionURL, "?") {
			separator = "&"
		}
		connectionURL = connectionURL + separator + "sslmode=prefer"
	}

	// Transaction-mode poolers (PgBouncer/Supavisor on 6543) cannot hold prepared statements
	usingPooler := strings.Contains(connectionURL, ":6543")

	logger.WithFields(logrus.Fields{
		"url":    maskPassword(connectionURL),
		"pooler": usingPooler,
	}).Info("Connecting to database")

	pgxConfig, err := pgx.ParseConfig(connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if usingPooler {
		pgxConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	db, err := sqlx.Connect("pgx", stdlib.RegisterConnConfig(pgxConfig))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
