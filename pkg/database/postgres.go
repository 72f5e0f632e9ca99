package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/edutrack-api/pkg/config"
)

// Tier selects which store credential a connection authenticates with.
type Tier string

const (
	// TierClient is the restricted role subject to row-level policies.
	TierClient Tier = "client"
	// TierService is the elevated role used for server-side writes.
	TierService Tier = "service"
)

// Pools holds one connection pool per privilege tier.
type Pools struct {
	Reader *sqlx.DB
	Writer *sqlx.DB
}

// Single wraps one handle as both tiers, used by tests and single-role setups.
func Single(db *sqlx.DB) Pools {
	return Pools{Reader: db, Writer: db}
}

// Close releases both pools.
func (p Pools) Close() error {
	var firstErr error
	if p.Reader != nil {
		firstErr = p.Reader.Close()
	}
	if p.Writer != nil && p.Writer != p.Reader {
		if err := p.Writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewPostgres opens the reader (client tier) and writer (service tier) pools.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (Pools, error) {
	writer, err := open(ctx, cfg, TierService)
	if err != nil {
		return Pools{}, fmt.Errorf("open service pool: %w", err)
	}
	reader, err := open(ctx, cfg, TierClient)
	if err != nil {
		_ = writer.Close()
		return Pools{}, fmt.Errorf("open client pool: %w", err)
	}
	return Pools{Reader: reader, Writer: writer}, nil
}

func open(ctx context.Context, cfg config.DatabaseConfig, tier Tier) (*sqlx.DB, error) {
	dsn, err := DSN(cfg, tier)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverName(cfg.Driver), dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// DSN renders the connection string for the given tier. DATABASE_URL wins over
// discrete host settings; the tier's role and key replace any userinfo in it.
func DSN(cfg config.DatabaseConfig, tier Tier) (string, error) {
	user, password := cfg.ServiceRole, cfg.ServiceKey
	if tier == TierClient {
		user, password = cfg.ClientRole, cfg.ClientKey
	}

	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return "", fmt.Errorf("parse DATABASE_URL: %w", err)
		}
		if user != "" {
			u.User = url.UserPassword(user, password)
		}
		if cfg.SSLMode != "" && u.Query().Get("sslmode") == "" {
			q := u.Query()
			q.Set("sslmode", cfg.SSLMode)
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		user,
		password,
		cfg.Name,
		cfg.SSLMode,
	), nil
}

func driverName(driver string) string {
	if driver == "pgx" {
		return "pgx"
	}
	return "postgres"
}
