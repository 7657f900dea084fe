package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	FacilityIDKey contextKey = "facility_id"
	DBConnKey     contextKey = "db_conn"
	DBTxKey       contextKey = "db_tx"
)

// FacilityHeader selects the facility when no token claim does.
const FacilityHeader = "X-Facility-ID"

var facilityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaFor returns the Postgres schema holding a facility's data.
func SchemaFor(facilityID string) string {
	return "facility_" + facilityID
}

// ValidFacilityID reports whether id is safe to splice into a schema name.
func ValidFacilityID(id string) bool {
	return facilityIDPattern.MatchString(id)
}

// FacilityMiddleware pins a pooled connection to the request and points its
// search_path at the caller's facility schema.
func FacilityMiddleware(pool *pgxpool.Pool, defaultFacility string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			facilityID := extractFacilityID(c, defaultFacility)

			if !ValidFacilityID(facilityID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid facility identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaFor(facilityID))); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "facility resolution failed")
			}
			defer func() {
				_, _ = conn.Exec(context.WithoutCancel(ctx), "RESET search_path")
			}()

			ctx = WithFacility(ctx, facilityID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("facility_id", facilityID)

			return next(c)
		}
	}
}

func extractFacilityID(c echo.Context, defaultFacility string) string {
	if fid, ok := c.Get("jwt_facility_id").(string); ok && fid != "" {
		return fid
	}
	if fid := c.Request().Header.Get(FacilityHeader); fid != "" {
		return fid
	}
	if fid := c.QueryParam("facility_id"); fid != "" {
		return fid
	}
	return defaultFacility
}

// WithFacility stores the facility id on the context.
func WithFacility(ctx context.Context, facilityID string) context.Context {
	return context.WithValue(ctx, FacilityIDKey, facilityID)
}

// ConnFromContext retrieves the facility-scoped connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// FacilityFromContext retrieves the facility id from context.
func FacilityFromContext(ctx context.Context) string {
	fid, _ := ctx.Value(FacilityIDKey).(string)
	return fid
}

// CreateFacilitySchema creates the schema for a facility and applies all
// migrations to it. A nil files skips the migrations.
func CreateFacilitySchema(ctx context.Context, pool *pgxpool.Pool, facilityID string, files fs.FS) error {
	if !ValidFacilityID(facilityID) {
		return fmt.Errorf("invalid facility identifier: %s", facilityID)
	}

	schema := SchemaFor(facilityID)
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if files != nil {
		if _, err := NewMigratorFS(pool, files).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
