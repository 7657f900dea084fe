package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

// AuditEntry records who touched which admission or invoice, and how.
type AuditEntry struct {
	UserID      string
	Actor       string
	UserRoles   []string
	FacilityID  string
	Route       string
	Operation   string // last static route segment, e.g. "discharge"
	AdmissionID string
	InvoiceID   string
	Action      string // read, create, update, delete
	IPAddress   string
	UserAgent   string
	Path        string
	Method      string
	Timestamp   time.Time
	RequestID   string
	StatusCode  int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request after it completes. Mutations (anything
// but GET/HEAD) log at info, reads at debug. Recorders, when given, also
// receive each entry; a failing recorder never fails the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				UserID:     auth.UserIDFromContext(ctx),
				Actor:      auth.ActorFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				FacilityID: facilityOf(c),
				Route:      c.Path(),
				Operation:  operationOf(c.Path()),
				Action:     httpMethodToAction(req.Method),
				Path:       req.URL.Path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: status,
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			switch {
			case strings.HasPrefix(entry.Route, "/api/v1/admissions/:id"):
				entry.AdmissionID = c.Param("id")
			case strings.HasPrefix(entry.Route, "/api/v1/invoices/:id"):
				entry.InvoiceID = c.Param("id")
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Debug()
			if entry.Action != "read" {
				evt = logger.Info()
			}
			evt.
				Str("type", "billing_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("actor", entry.Actor).
				Strs("user_roles", entry.UserRoles).
				Str("facility_id", entry.FacilityID).
				Str("route", entry.Route).
				Str("operation", entry.Operation).
				Str("admission_id", entry.AdmissionID).
				Str("invoice_id", entry.InvoiceID).
				Str("action", entry.Action).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("audit")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// operationOf returns the last non-parameter segment of a route template:
//   - /api/v1/admissions/:id/discharge -> discharge
//   - /api/v1/invoices/:id             -> invoices
func operationOf(route string) string {
	segments := strings.Split(strings.Trim(route, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		s := segments[i]
		if s != "" && !strings.HasPrefix(s, ":") && s != "*" {
			return s
		}
	}
	return "unknown"
}
