package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorHandler answers framework errors and recovered panics with the relay's
// {"error": "..."} body instead of Echo's default {"message": "..."}.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = http.StatusText(code)
			if m := fmt.Sprint(he.Message); he.Message != nil && m != "" {
				msg = m
			}
		} else {
			logger.Error("unhandled error", "path", c.Request().URL.Path, "err", err)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, map[string]string{"error": msg})
		}
		if werr != nil {
			logger.Warn("write error response", "err", werr)
		}
	}
}
