package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/api"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/auth"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/badge"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/config"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/db"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway/firestore"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway/memory"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway/mongo"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/logger"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/middleware"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/push"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/session"
)

func main() {
	printToken := flag.Bool("print-token", false, "print a bearer token for LANGEX_USER_ID and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	jwtMgr := newJWTManager(cfg)
	if *printToken {
		tok, exp, err := jwtMgr.GenerateToken(cfg.UserID)
		if err != nil {
			log.Fatal("generate token", zap.Error(err))
		}
		fmt.Println(tok)
		log.Info("token issued", zap.String("user_id", cfg.UserID), zap.Time("expires_at", exp))
		return
	}

	if err := run(cfg, jwtMgr, log); err != nil {
		log.Fatal("langex-sync exited", zap.Error(err))
	}
}

func newJWTManager(cfg *config.Config) *auth.JWTManager {
	if len(cfg.JWTKeys) > 0 {
		return auth.NewJWTManagerFromKeys(cfg.JWTKeys, cfg.JWTActiveKID, cfg.TokenTTL)
	}
	return auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
}

// openGateway connects the configured backend. The returned func releases it.
func openGateway(ctx context.Context, cfg *config.Config, log *zap.Logger) (gateway.Gateway, func(), error) {
	switch cfg.Backend {
	case config.BackendMongo:
		client, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect mongo")
		}
		if err := client.CreateIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, nil, errors.Wrap(err, "create indexes")
		}
		return mongo.New(client, log), func() { _ = client.Close(context.Background()) }, nil

	case config.BackendFirestore:
		gw, err := firestore.New(ctx, cfg.FirestoreProject, log)
		if err != nil {
			return nil, nil, err
		}
		return gw, func() { _ = gw.Close() }, nil
	}

	// Local mode starts with just the signed-in user.
	gw := memory.New()
	if cfg.UserID != "" {
		gw.PutUser(&data.User{ID: cfg.UserID, Username: cfg.UserID, CreatedAt: time.Now().UTC()})
	}
	return gw, func() {}, nil
}

func run(cfg *config.Config, jwtMgr *auth.JWTManager, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, closeGateway, err := openGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeGateway()

	identity := auth.NewProvider(cfg.UserID)
	sess := session.New(gw, identity, session.Config{
		RecentConversations: cfg.RecentConversations,
		MessagePageSize:     cfg.MessagePageSize,
		SetupConcurrency:    cfg.SetupConcurrency,
	}, log)

	hub := api.NewConnectionHub()
	if _, err := sess.Subscribe(hub.Publish); err != nil {
		return err
	}

	if cfg.RedisAddr != "" {
		rdb, err := badge.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()

		tracker := badge.NewTracker(badge.NewRedisPublisher(rdb, cfg.BadgeTTL), log)
		if _, err := sess.Subscribe(tracker.Observe); err != nil {
			return err
		}
		go func() { _ = tracker.Run(ctx) }()
	}

	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, cfg.RateLimitBurst, time.Minute)
	defer limiter.Stop()

	uploader := push.NewUploader(gw, identity, log)
	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(sess, uploader, hub, jwtMgr, identity, limiter, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// A failed setup leaves the process serving; POST /setup retries.
	if err := sess.Setup(ctx); err != nil {
		log.Warn("initial setup failed", zap.String("user_id", cfg.UserID), zap.Error(err))
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("backend", cfg.Backend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "http server")
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	return sess.Close(shutdownCtx)
}
