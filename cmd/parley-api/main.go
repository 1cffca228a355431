package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/database"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/internal/realtime"
	"github.com/parleychat/parley/internal/server"
	"github.com/parleychat/parley/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley-api",
		Short: "Parley chat backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("realtime-backend", defaults.GetString("realtime.backend"), "Realtime transport (hub, noop)")
	cmd.PersistentFlags().String("presence-backend", defaults.GetString("presence.backend"), "Presence tracker (memory, redis)")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for the redis presence backend")
	cmd.PersistentFlags().Int("reconcile-interval-minutes", defaults.GetInt("reconcile.interval_minutes"), "Duplicate reconciliation sweep interval in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "realtime.backend", "realtime-backend")
	bindFlag(cmd, "presence.backend", "presence-backend")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "reconcile.interval_minutes", "reconcile-interval-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.New(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.TokenIssuerName,
		Audience:      auth.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})

	var (
		dispatcher *realtime.Dispatcher
		transport  realtime.Transport = realtime.NoopTransport{}
	)
	if appConfig.RealtimeBackend == "hub" {
		dispatcher = realtime.NewDispatcher()
		transport = dispatcher
	}
	broadcaster := realtime.NewBroadcaster(transport, logger)

	idProvider := chat.NewUUIDProvider()

	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Events:     broadcaster,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Events:     broadcaster,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	channelAuthorizer, err := realtime.NewChannelAuthorizer(realtime.ChannelAuthorizerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Memberships:   chatService,
	})
	if err != nil {
		return err
	}

	var presenceTracker presence.Tracker
	switch appConfig.PresenceBackend {
	case "redis":
		redisTracker, err := presence.NewRedisTracker(appConfig.RedisURL, appConfig.PresenceTTL)
		if err != nil {
			return err
		}
		defer redisTracker.Close()
		presenceTracker = redisTracker
	default:
		presenceTracker = presence.NewMemoryTracker(appConfig.PresenceTTL, time.Now)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Users:        usersService,
		Chat:         chatService,
		Channels:     channelAuthorizer,
		Dispatcher:   dispatcher,
		Presence:     presenceTracker,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go chatService.RunReconciliation(signalCtx, appConfig.ReconcileInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
