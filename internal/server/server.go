package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/cinechat/cinechat/config"
	"github.com/cinechat/cinechat/internal/catalog"
	"github.com/cinechat/cinechat/internal/evaluation"
	"github.com/cinechat/cinechat/internal/pipeline"
	"github.com/cinechat/cinechat/internal/store"
	"github.com/cinechat/cinechat/internal/trace"
)

// Run boots the HTTP server: migrations, store, cache, pipeline, routes.
// It blocks until the listener fails.
func Run(configPath, addr string) error {
	cfg := appconfig.LoadConfig(configPath)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Databases.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Databases.Redis.Addr,
			Password: cfg.Databases.Redis.Password,
			DB:       cfg.Databases.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr, err)
		}
	}

	sink := trace.NewCollector(cfg.Tracing.Endpoint, cfg.Tracing.Timeout)
	retriever := catalog.NewRetriever(st.DB, rdb, cfg.Databases.Redis.CacheTTL)

	var evaluator *evaluation.Evaluator
	if cfg.Evaluation.APIKey != "" {
		evaluator, err = evaluation.New(st, cfg.Evaluation, cfg.LLM, sink)
		if err != nil {
			return err
		}
	} else {
		log.Printf("evaluation.api_key not configured, turns will not be scored")
	}

	p := pipeline.New(st, retriever, cfg.LLM, evaluator, sink)

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	api := e.Group("/api")
	api.GET("/ping", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "pong"})
	})

	auth := &AuthHandler{Store: st, Secret: []byte(secret)}
	auth.Register(api.Group("/auth"))

	configs := &ConfigsHandler{Store: st}
	configs.Register(api.Group("/config"), []byte(secret))

	conversations := &ConversationsHandler{Store: st}
	conversations.Register(api.Group("/conversations"), []byte(secret))

	chat := NewChatHandler(p, []byte(secret), cfg.WebSocket.ReceiveTimeout)
	chat.Register(e)

	janitor, err := NewJanitor(st, cfg.Janitor.Schedule, cfg.Janitor.IdleAfter)
	if err != nil {
		return fmt.Errorf("janitor schedule: %w", err)
	}
	janitor.Start()

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10002"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
