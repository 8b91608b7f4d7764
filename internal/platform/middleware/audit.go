package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pih/dupfinder/internal/platform/auth"
)

// AuditEntry records who looked at which report on which site.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	UserID     string
	UserRoles  []string
	Site       string
	Report     string
	Method     string
	Path       string
	Query      string
	IPAddress  string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every access to a patient report under /api/v1/reports/.
// Duplicate reports list patient names and villages, so each view is kept
// as an access record.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/reports/") {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Method:     req.Method,
				Path:       req.URL.Path,
				Query:      req.URL.RawQuery,
				IPAddress:  c.RealIP(),
				StatusCode: c.Response().Status,
				Report:     c.Param("id"),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Site, _ = c.Get("site_id").(string)

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

			logger.Info().
				Str("type", "report_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("site", entry.Site).
				Str("report", entry.Report).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("query", entry.Query).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("report_access")

			return err
		}
	}
}
