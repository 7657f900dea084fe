package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the pool snapshot reported by /health/db.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthReport is the body of the database health endpoint.
type HealthReport struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Schema string    `json:"schema,omitempty"`
	Pool   PoolStats `json:"pool"`
}

func (h HealthReport) code() int {
	if h.Status == "healthy" {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// HealthHandler pings the database and checks that the default facility
// schema has been migrated.
func HealthHandler(pool *pgxpool.Pool, defaultFacility string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		report := HealthReport{Status: "healthy", Schema: SchemaFor(defaultFacility), Pool: GetPoolStats(pool)}
		if err := pool.Ping(ctx); err != nil {
			report.Status = "unhealthy"
			report.Error = err.Error()
			return c.JSON(report.code(), report)
		}

		var migrated bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = '_migrations')`,
			report.Schema).Scan(&migrated)
		switch {
		case err != nil:
			report.Status = "unhealthy"
			report.Error = err.Error()
		case !migrated:
			report.Status = "degraded"
			report.Error = "facility schema not migrated"
		}
		return c.JSON(report.code(), report)
	}
}
