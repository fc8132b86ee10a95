// Command redis-mcp-server exposes Redis data-store tools to MCP clients over
// HTTP and Server-Sent Events.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/redis-mcp-server/auth"
	"github.com/ggoodman/redis-mcp-server/dispatch"
	"github.com/ggoodman/redis-mcp-server/internal/config"
	"github.com/ggoodman/redis-mcp-server/internal/logctx"
	"github.com/ggoodman/redis-mcp-server/internal/redisconn"
	"github.com/ggoodman/redis-mcp-server/mcp"
	"github.com/ggoodman/redis-mcp-server/sessions"
	"github.com/ggoodman/redis-mcp-server/sessions/memory"
	"github.com/ggoodman/redis-mcp-server/sessions/redishost"
	"github.com/ggoodman/redis-mcp-server/ssehttp"
	"github.com/ggoodman/redis-mcp-server/tools/redistools"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = dispatch.DefaultServerInfo.Version

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fl, err := config.ParseFlags(args)
	if err != nil {
		if config.IsHelp(err) {
			fmt.Fprintln(stdout, err)
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	if fl.Version {
		fmt.Fprintln(stdout, version)
		return 0
	}

	cfg, err := config.Load(fl)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	log, err := newLogger(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	if err := serve(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "server.fail", slog.String("err", err.Error()))
		return 1
	}
	return 0
}

func newLogger(c config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch c.Format {
	case config.LogFormatText:
		h = slog.NewTextHandler(w, opts)
	default:
		h = slog.NewJSONHandler(w, opts)
	}
	return logctx.Wrap(slog.New(h)), nil
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	client, err := redisconn.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis client: %w", err)
	}
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.Ping(pingCtx).Err(); err != nil {
		// Tools report connection failures per call; startup proceeds.
		log.WarnContext(ctx, "redis.ping.fail", slog.String("addr", cfg.Redis.Addr()), slog.String("err", err.Error()))
	}
	cancel()

	var registry sessions.Registry
	switch cfg.Sessions.Backend {
	case config.SessionsRedis:
		// Streams park in BLPOP; a separate pool keeps them from starving tool calls.
		sessClient, err := redisconn.New(cfg.SessionRedisConfig())
		if err != nil {
			return fmt.Errorf("session redis client: %w", err)
		}
		defer sessClient.Close()
		registry = redishost.New(sessClient,
			redishost.WithKeyPrefix(cfg.Sessions.KeyPrefix),
			redishost.WithTTL(cfg.Sessions.TTL),
		)
	default:
		registry = memory.New()
	}

	backend := redistools.New(client)
	strategy := auth.Select(ctx, cfg.Auth.Strategy(), log)

	dispatcher := dispatch.New(backend,
		dispatch.WithLogger(log),
		dispatch.WithServerInfo(mcp.ImplementationInfo{Name: dispatch.DefaultServerInfo.Name, Version: version}),
	)

	h, err := ssehttp.New(registry, dispatcher, strategy,
		ssehttp.WithLogger(log),
		ssehttp.WithBasePath(cfg.HTTP.BasePath),
		ssehttp.WithKeepalive(cfg.HTTP.KeepaliveInterval),
		ssehttp.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)
	if err != nil {
		return fmt.Errorf("http handler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	srv.RegisterOnShutdown(h.Close)

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	log.InfoContext(ctx, "server.start",
		slog.String("version", version),
		slog.String("addr", ln.Addr().String()),
		slog.String("auth", strategy.Name()),
		slog.String("sessions", cfg.Sessions.Backend),
		slog.String("redis", cfg.Redis.Addr()),
		slog.Group("endpoints",
			slog.String("health", h.HealthPath()),
			slog.String("sse", h.SSEPath()),
			slog.String("message", h.MessagePath()),
		),
		slog.Any("tools", backend.Names()),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("server.shutdown.start")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server.shutdown.fail", slog.String("err", err.Error()))
		if cerr := srv.Close(); cerr != nil {
			log.Error("server.close.fail", slog.String("err", cerr.Error()))
		}
	}
	log.Info("server.shutdown.ok")
	return nil
}
