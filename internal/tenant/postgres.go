package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawler-edge/internal/botclass"
	"github.com/JakeFAU/crawler-edge/internal/fingerprint"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type queryRowCloser interface {
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Postgres reads tenants from a credential table keyed by key_hash:
//
//	key_hash text primary key, tenant_id text, plan text,
//	domains text[], bots jsonb
type Postgres struct {
	pool  queryRowCloser
	query string
}

// PostgresConfig controls the tenant directory connection.
type PostgresConfig struct {
	DSN      string
	Table    string
	MaxConns int32
}

// NewPostgres connects a pool for cfg.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("auth.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p, err := NewPostgresWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresWithPool builds a lookup from an existing pool.
func NewPostgresWithPool(pool queryRowCloser, table string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "tenant_credentials"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{
		pool:  pool,
		query: fmt.Sprintf("SELECT tenant_id, plan, domains, bots FROM %s WHERE key_hash = $1", table),
	}, nil
}

// Name implements Lookup.
func (p *Postgres) Name() string { return "postgres" }

// Find implements Lookup.
func (p *Postgres) Find(ctx context.Context, credential string) (Tenant, bool, error) {
	var (
		t    Tenant
		bots []byte
	)
	err := p.pool.QueryRow(ctx, p.query, fingerprint.HashCredential(credential)).
		Scan(&t.ID, &t.Plan, &t.Domains, &bots)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, false, nil
	}
	if err != nil {
		return Tenant{}, false, fmt.Errorf("query tenant: %w", err)
	}
	if len(bots) > 0 {
		var overrides botclass.Overrides
		if err := json.Unmarshal(bots, &overrides); err == nil {
			t.Bots = overrides
		}
	}
	return t.Normalized(), true, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
