// Package api exposes the Telegram webhook and the health and readiness endpoints over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	secretHeader = "X-Telegram-Bot-Api-Secret-Token"
	maxBodyBytes = 1 << 20
)

// UpdateHandler processes one Telegram update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// Check reports whether one dependency is ready.
type Check func(ctx context.Context) error

type Config struct {
	Token         string
	WebhookSecret string
	Metrics       bool
	// Checks run on /readyz, keyed by dependency name.
	Checks map[string]Check
}

func NewRouter(cfg Config, handler UpdateHandler, logger *zerolog.Logger) *gin.Engine {
	l := logger.With().Str("component", "api").Logger()

	r := gin.New()
	r.Use(requestLogger(&l), recovery(&l))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Бот работает!")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", readiness(cfg.Checks))
	if cfg.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	r.POST("/:token", webhook(cfg, handler, &l))

	return r
}

// webhook answers 200 "OK" to every update it accepts, whatever the handler does
// with it, so Telegram never redelivers.
func webhook(cfg Config, handler UpdateHandler, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("token") != cfg.Token {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		if cfg.WebhookSecret != "" &&
			subtle.ConstantTimeCompare([]byte(c.GetHeader(secretHeader)), []byte(cfg.WebhookSecret)) != 1 {
			logger.Warn().Str("client_ip", c.ClientIP()).Msg("webhook secret mismatch")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			logger.Error().Err(err).Msg("read webhook body")
			c.String(http.StatusOK, "OK")
			return
		}
		var update tgbotapi.Update
		if err := json.Unmarshal(body, &update); err != nil {
			logger.Error().Err(err).Msg("decode update")
			c.String(http.StatusOK, "OK")
			return
		}

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().Interface("panic", rec).Int("update_id", update.UpdateID).Msg("update handler panicked")
				}
			}()
			handler.HandleUpdate(c.Request.Context(), update)
		}()
		c.String(http.StatusOK, "OK")
	}
}

func readiness(checks map[string]Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.String(http.StatusServiceUnavailable, name+" not ready")
				return
			}
		}
		c.String(http.StatusOK, "ready")
	}
}

// requestLogger logs the route pattern rather than the raw path so the bot token
// never reaches the logs.
func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

func recovery(logger *zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		logger.Error().Interface("panic", rec).Str("route", c.FullPath()).Msg("panic recovered")
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
