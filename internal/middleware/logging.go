package middleware

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/shinyyama/estate-chat/internal/logctx"
)

// RequestID assigns X-Request-ID (uuid when absent) and threads it into the request logger.
func RequestID() echo.MiddlewareFunc {
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := logctx.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	})
}

// AccessLog writes one structured line per request.
func AccessLog(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		Skipper: func(c echo.Context) bool {
			p := c.Path()
			return p == "/healthz" || p == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if uid, ok := c.Get(ContextKeyUID).(string); ok && uid != "" {
				attrs = append(attrs, "uid", uid)
			}
			switch {
			case v.Error != nil:
				logger.Error("http.request", append(attrs, "err", v.Error.Error())...)
			case v.Status >= 500:
				logger.Error("http.request", attrs...)
			default:
				logger.Info("http.request", attrs...)
			}
			return nil
		},
	})
}
