package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mamed-gasimov/image-service/internal/modules/images"
)

const apiKeyHeader = "X-API-Key"

type Options struct {
	APIKey         string
	MaxUploadBytes int64
}

// New builds the HTTP surface. Every /api route requires the API key, so the
// ingestion workflow never runs for an unauthenticated request.
func New(imageHandler *images.ImageHandler, opts Options, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e, opts.MaxUploadBytes)

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", health)

	api := e.Group("/api", apiKeyAuth(opts.APIKey))
	{
		api.POST("/upload", imageHandler.UploadImage, middleware.BodyLimit(bodyLimit(opts.MaxUploadBytes)))
		api.GET("/images", imageHandler.ListImages)
		api.GET("/images/:id", imageHandler.GetImage)
	}

	return e
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "image-metadata-api",
	})
}

func apiKeyAuth(apiKey string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + apiKeyHeader,
		Validator: func(key string, c echo.Context) (bool, error) {
			return apiKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			var missing *middleware.ErrKeyAuthMissing
			if errors.As(err, &missing) {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "API key is required",
					"message": "Please provide " + apiKeyHeader + " header",
				})
			}
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
		},
	})
}

// bodyLimit renders a byte count for middleware.BodyLimit, allowing for
// multipart framing around the file itself.
func bodyLimit(maxUploadBytes int64) string {
	const framing = 64 * 1024
	return fmt.Sprintf("%dK", (maxUploadBytes+framing+1023)/1024)
}

func errorHandler(e *echo.Echo, maxUploadBytes int64) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			_ = images.FileTooLarge(c, maxUploadBytes)
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := logger.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				evt = logger.Error().Err(v.Error)
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
