package tenant

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"tessera.dev/internal/ids"
	"tessera.dev/internal/obs"
)

// ContextError is the fatal failure class for tenant binding. It is never
// recovered locally: a request that cannot bind its tenant context must abort,
// because proceeding unscoped risks cross-tenant exposure.
type ContextError struct {
	Reason string
	Err    error
}

func (e *ContextError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tenant: %s: %v", e.Reason, e.Err)
	}
	return "tenant: " + e.Reason
}

func (e *ContextError) Unwrap() error { return e.Err }

// Binder binds a request's tenant identity onto a pooled store connection so
// row access is transparently filtered by the database's row-level policies.
type Binder struct {
	db *sql.DB
}

// NewBinder constructs a Binder over the shared pool.
func NewBinder(db *sql.DB) *Binder {
	return &Binder{db: db}
}

// Bind checks a connection out of the pool and binds the tenant context for
// exactly one request. A nil tenantID binds the unfiltered platform scope —
// explicitly, not by omission. The session variable is always rebound on
// checkout; a connection is never assumed to come back clean from a previous
// request.
func (b *Binder) Bind(ctx context.Context, tenantID *string) (*ScopedConn, error) {
	if tenantID != nil && !ids.Valid(*tenantID) {
		obs.TenantContextFailures.Inc()
		return nil, &ContextError{Reason: fmt.Sprintf("malformed tenant identifier %q", *tenantID)}
	}

	conn, err := b.db.Conn(ctx)
	if err != nil {
		obs.TenantContextFailures.Inc()
		return nil, &ContextError{Reason: "acquire connection", Err: err}
	}

	value := ""
	if tenantID != nil {
		value = *tenantID
	}
	if _, err := conn.ExecContext(ctx, `select set_config('app.tenant_id', $1, false)`, value); err != nil {
		_ = discard(conn)
		obs.TenantContextFailures.Inc()
		return nil, &ContextError{Reason: "bind tenant context", Err: err}
	}
	return &ScopedConn{conn: conn, tenantID: tenantID}, nil
}

// ScopedConn is a connection with a bound tenant context. It is strictly
// request-scoped: create it at request start, close it at request end, never
// hold it past the queries it guards.
type ScopedConn struct {
	conn     *sql.Conn
	tenantID *string
	closed   bool
}

// TenantID returns the bound tenant, nil for the platform scope.
func (c *ScopedConn) TenantID() *string { return c.tenantID }

func (c *ScopedConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *ScopedConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *ScopedConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// Context reads back the session's bound tenant. Debug only; business code
// must carry the tenant through the principal, not read it from the session.
func (c *ScopedConn) Context(ctx context.Context) (string, error) {
	var current sql.NullString
	err := c.conn.QueryRowContext(ctx, `select current_setting('app.tenant_id', true)`).Scan(&current)
	if err != nil {
		return "", err
	}
	return current.String, nil
}

// Close resets the session variable and returns the connection to the pool.
// If the reset fails the connection is discarded rather than returned dirty.
func (c *ScopedConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if _, err := c.conn.ExecContext(context.Background(), `select set_config('app.tenant_id', '', false)`); err != nil {
		obs.TenantContextFailures.Inc()
		return discard(c.conn)
	}
	return c.conn.Close()
}

// discard marks the connection broken so the pool drops it instead of reusing
// a session whose state is unknown.
func discard(conn *sql.Conn) error {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	return conn.Close()
}
