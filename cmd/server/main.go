package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andy6609/broadcast-relay/internal/config"
	"github.com/andy6609/broadcast-relay/internal/federation"
	"github.com/andy6609/broadcast-relay/internal/logging"
	"github.com/andy6609/broadcast-relay/internal/ops"
	"github.com/andy6609/broadcast-relay/internal/relay"
	"github.com/andy6609/broadcast-relay/internal/wsgate"
)

func main() {
	cfg := config.FromEnv()

	flag.StringVar(&cfg.Host, "host", cfg.Host, "relay listen host")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "relay listen port")
	flag.IntVar(&cfg.ReadBuffer, "read-buffer", cfg.ReadBuffer, "max bytes per read; one read is one broadcast")
	flag.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "per-read deadline, 0 disables")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-write deadline, 0 disables")
	flag.IntVar(&cfg.SendQueue, "send-queue", cfg.SendQueue, "per-peer outbound queue; chunks for a full queue are dropped")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "ops http listen address (healthz, stats, metrics), empty disables")
	flag.BoolVar(&cfg.WebSocket, "websocket", cfg.WebSocket, "accept websocket peers on /ws of the ops http server")
	wsOrigins := flag.String("ws-origins", strings.Join(cfg.WSOrigins, ","), "comma-separated allowed websocket origins, empty allows any")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for multi-node fan-out, empty disables")
	flag.StringVar(&cfg.RedisChannel, "redis-channel", cfg.RedisChannel, "redis pub/sub channel")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.Parse()
	cfg.WSOrigins = config.SplitList(*wsOrigins)
	cfg = cfg.Sanitize()

	logger, syncLogs := logging.New(cfg.LogLevel)
	defer func() { _ = syncLogs() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := relay.NewServer(cfg, logger)

	if cfg.RedisAddr != "" {
		bus := federation.New(cfg.RedisAddr, cfg.RedisChannel, logger)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := bus.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer bus.Close()

		srv.Broadcaster().SetForwarder(bus)
		go func() {
			err := bus.Run(ctx, func(m relay.Message) { srv.Broadcaster().Deliver(m) })
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("federation stopped", "error", err)
			}
		}()
	}

	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	if cfg.WebSocket && cfg.HTTPAddr == "" {
		logger.Warn("websocket peers need -http-addr; websocket disabled")
	}

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		var gate http.Handler
		if cfg.WebSocket {
			g := wsgate.New(nil, logger, wsgate.Options{
				AllowedOrigins: cfg.WSOrigins,
				ReadBuffer:     cfg.ReadBuffer,
			})
			srv.Serve(g)
			gate = g
		}
		httpSrv = ops.NewServer(cfg.HTTPAddr, ops.NewRouter(srv.Registry(), gate))
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops http failed", "addr", cfg.HTTPAddr, "error", err)
			}
		}()
		logger.Info("ops http listening", "addr", cfg.HTTPAddr, "websocket", cfg.WebSocket)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
	case err := <-srv.Errors():
		logger.Error("accept loop failed", "error", err)
		exitCode = 1
	}

	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	cancel()
	srv.Stop()

	if exitCode != 0 {
		_ = syncLogs()
		os.Exit(exitCode)
	}
}
