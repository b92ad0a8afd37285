package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/leadlineai/leadline/internal/auth"
	"github.com/leadlineai/leadline/internal/config"
	"github.com/leadlineai/leadline/internal/gateway"
	"github.com/leadlineai/leadline/internal/handlers"
)

type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer assembles the HTTP surface: the public gateway webhook, the
// internal actions API, and JWT-protected operator endpoints.
func NewServer(cfg config.Config, log *slog.Logger, pingHandler *handlers.PingHandler, authHandler *handlers.AuthHandler, actionsHandler *handlers.ActionsHandler, inspectHandler *handlers.InspectHandler, gatewayHandler *gateway.Handler) *Server {
	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(auth.JWTMiddleware(cfg.Auth.JWTSecret, func(c echo.Context) bool {
		path := c.Request().URL.Path
		switch path {
		case "/ping", "/health", "/auth/login", "/internal/actions":
			return true
		}
		if len(path) >= 9 && path[:9] == "/gateway/" {
			return true
		}
		return false
	}))

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if authHandler != nil {
		authHandler.Register(e)
	}
	if actionsHandler != nil {
		actionsHandler.Register(e)
	}
	if inspectHandler != nil {
		inspectHandler.Register(e)
	}
	if gatewayHandler != nil {
		g := e.Group("/gateway", gatewayRateLimiter(cfg.Gateway))
		gatewayHandler.Register(g)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

// gatewayRateLimiter throttles webhook traffic per tenant.
func gatewayRateLimiter(cfg config.GatewayConfig) echo.MiddlewareFunc {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(rps),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if tenantID := c.Param("tenant_id"); tenantID != "" {
				return tenantID, nil
			}
			return c.RealIP(), nil
		},
	})
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
