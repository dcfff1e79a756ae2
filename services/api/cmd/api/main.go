package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"nutriflow/internal/util"
	"nutriflow/pkg/notify"
	"nutriflow/pkg/storage"
	"nutriflow/services/api/internal/app"
	"nutriflow/services/api/internal/config"
	"nutriflow/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse JWT leeway: %v", err)
	}
	presignTTL, err := config.ParsePresignTTL(cfg.PresignTTL)
	if err != nil {
		log.Fatalf("failed to parse presign TTL: %v", err)
	}
	trusted, err := util.NewTrustedProxies(config.ParseTrustedProxies(cfg.TrustedProxies))
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var notifier notify.Publisher = notify.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init amqp publisher: %v", err)
		}
		defer amqpPublisher.Close()
		notifier = amqpPublisher
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:             cfg.DatabaseURL,
		RedisAddr:               cfg.RedisAddr,
		RedisPassword:           cfg.RedisPassword,
		SessionTTL:              sessionTTL,
		JWTSecret:               cfg.JWTSecret,
		JWTIssuer:               cfg.JWTIssuer,
		JWTAudience:             cfg.JWTAudience,
		JWTLeeway:               jwtLeeway,
		LoginRateLimitPerMinute: cfg.LoginRateLimitPerMinute,
		PresignTTL:              presignTTL,
		Notifier:                notifier,
		Objects:                 objects,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		TrustedProxies: trusted,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// SSE streams stay open; only bound the time to read the request.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", addr, err)
	}
	if cfg.MaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConns)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api server listening", "addr", addr)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
