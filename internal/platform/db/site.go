package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Each clinic site keeps its patients in its own schema, site_<id>.

type contextKey string

const (
	SiteIDKey contextKey = "site_id"
	DBConnKey contextKey = "db_conn"
)

var (
	siteIDPattern     = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	siteSchemaPattern = regexp.MustCompile(`^site_[a-zA-Z0-9_]+$`)
)

// SchemaForSite returns the schema name for a site id.
func SchemaForSite(siteID string) (string, error) {
	if !siteIDPattern.MatchString(siteID) {
		return "", fmt.Errorf("invalid site identifier: %q", siteID)
	}
	return "site_" + siteID, nil
}

// SiteMiddleware acquires a connection per request, points its search_path
// at the requested site's schema and stores it in the request context.
func SiteMiddleware(pool *pgxpool.Pool, defaultSite string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			siteID := extractSiteID(c, defaultSite)
			schema, err := SchemaForSite(siteID)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid site identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "site resolution failed")
			}

			ctx = context.WithValue(ctx, SiteIDKey, siteID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("site_id", siteID)

			return next(c)
		}
	}
}

// extractSiteID prefers the token claim, then the X-Site-ID header, then
// the site_id query parameter.
func extractSiteID(c echo.Context, defaultSite string) string {
	if sid, ok := c.Get("jwt_site_id").(string); ok && sid != "" {
		return sid
	}
	if sid := c.Request().Header.Get("X-Site-ID"); sid != "" {
		return sid
	}
	if sid := c.QueryParam("site_id"); sid != "" {
		return sid
	}
	return defaultSite
}

// ConnFromContext retrieves the site-scoped connection, or nil.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

func SiteFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SiteIDKey).(string)
	return sid
}

// CreateSiteSchema creates the site schema and, when m is not nil, applies
// all migrations to it.
func CreateSiteSchema(ctx context.Context, pool *pgxpool.Pool, siteID string, m *Migrator) (string, error) {
	schema, err := SchemaForSite(siteID)
	if err != nil {
		return "", err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return "", fmt.Errorf("create schema %s: %w", schema, err)
	}
	if m != nil {
		if _, err := m.Up(ctx, schema); err != nil {
			return "", fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return schema, nil
}
