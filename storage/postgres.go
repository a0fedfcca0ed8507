package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/telgo/smsrouter/sms"
)

const schema = `
CREATE TABLE IF NOT EXISTS sent_messages (
	id         BIGSERIAL PRIMARY KEY,
	dest_addr  TEXT        NOT NULL,
	format     TEXT        NOT NULL,
	pdu        BYTEA       NOT NULL,
	sent_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS premium_permissions (
	package    TEXT PRIMARY KEY,
	permission INT  NOT NULL
);
`

// Postgres persists sent messages and premium permissions in a Postgres
// database.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// Connect creates a connection pool from the given database URL, verifies
// connectivity and ensures the schema exists.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse database URL: %w", err)
	}
	config.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("cannot create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot ping database: %w", err)
	}

	result := &Postgres{pool: pool, log: logger}
	if err := result.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connection established")
	return result, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("cannot ensure schema: %w", err)
	}
	return nil
}

// RecordSent appends the record to the sent log.
func (p *Postgres) RecordSent(ctx context.Context, rec sms.SentRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sent_messages (dest_addr, format, pdu, sent_at) VALUES ($1, $2, $3, $4)`,
		rec.DestAddr, string(rec.Format), rec.PDU, rec.SentAt)
	if err != nil {
		return fmt.Errorf("cannot record sent message: %w", err)
	}
	return nil
}

// PremiumPermission returns the stored permission of the given package.
// Packages that were never seen before get PermissionAskUser.
func (p *Postgres) PremiumPermission(ctx context.Context, pkg string) (sms.Permission, error) {
	var permission int
	err := p.pool.QueryRow(ctx,
		`SELECT permission FROM premium_permissions WHERE package = $1`, pkg).Scan(&permission)
	if err == pgx.ErrNoRows {
		return sms.PermissionAskUser, nil
	}
	if err != nil {
		return sms.PermissionUnknown, fmt.Errorf("cannot read premium permission: %w", err)
	}
	return sms.Permission(permission), nil
}

// SetPremiumPermission stores the permission of the given package.
func (p *Postgres) SetPremiumPermission(ctx context.Context, pkg string, permission sms.Permission) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO premium_permissions (package, permission) VALUES ($1, $2)
		 ON CONFLICT (package) DO UPDATE SET permission = EXCLUDED.permission`,
		pkg, int(permission))
	if err != nil {
		return fmt.Errorf("cannot store premium permission: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
