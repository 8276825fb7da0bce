package router

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/credentials"
)

// Client is a live, authenticated handle on one tenant's database. Handlers
// receive a Client from the router and issue tenant-scoped queries through
// it; they never see credentials.
type Client interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// ClientFactory constructs a Client from decrypted tenant credentials.
type ClientFactory interface {
	Connect(ctx context.Context, cred credentials.TenantCredential) (Client, error)
}

// PgxClient wraps a pgx pool pointed at one tenant database.
type PgxClient struct {
	pool *pgxpool.Pool
}

func (c *PgxClient) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *PgxClient) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.pool.Exec(ctx, sql, args...)
	return err
}

func (c *PgxClient) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}

func (c *PgxClient) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.pool.Query(ctx, sql, args...)
}

func (c *PgxClient) Close() {
	c.pool.Close()
}

// Pool exposes the underlying pool for callers that need transactions.
func (c *PgxClient) Pool() *pgxpool.Pool {
	return c.pool
}

// PgxFactory builds PgxClients with a bounded dial timeout so an unreachable
// tenant database fails a request instead of hanging it.
type PgxFactory struct {
	DialTimeout time.Duration
	MaxConns    int32
}

const defaultDialTimeout = 5 * time.Second

func (f *PgxFactory) Connect(ctx context.Context, cred credentials.TenantCredential) (Client, error) {
	dsn, err := cred.Params.DSN()
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse tenant dsn: %w", err)
	}

	dialTimeout := f.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	poolConfig.ConnConfig.ConnectTimeout = dialTimeout
	if f.MaxConns > 0 {
		poolConfig.MaxConns = f.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create tenant pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping tenant database: %w", err)
	}

	return &PgxClient{pool: pool}, nil
}

var (
	_ Client        = (*PgxClient)(nil)
	_ ClientFactory = (*PgxFactory)(nil)
)
