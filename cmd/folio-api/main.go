package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/collab"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/config"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/database"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/portfolio"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/server"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "folio-api",
		Short: "Folio portfolio collaboration backend",
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
	cmd.PersistentFlags().String("provider-client-id", defaults.GetString("provider.client_id"), "Identity provider OAuth client ID")
	cmd.PersistentFlags().String("provider-jwks-url", defaults.GetString("provider.jwks_url"), "Identity provider JWKS URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().Int("autosave-debounce-ms", defaults.GetInt("collab.autosave_debounce_ms"), "Autosave debounce window in milliseconds")
	cmd.PersistentFlags().Int("heartbeat-interval-s", defaults.GetInt("collab.heartbeat_interval_s"), "Connection heartbeat interval in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "provider.client_id", "provider-client-id")
	bindFlag(cmd, "provider.jwks_url", "provider-jwks-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "collab.autosave_debounce_ms", "autosave-debounce-ms")
	bindFlag(cmd, "collab.heartbeat_interval_s", "heartbeat-interval-s")
	bindFlag(cmd, "log.level", "log-level")
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
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
		Issuer:        "folio-auth",
		Audience:      "folio-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	issuers := appConfig.ProviderIssuers
	if len(issuers) == 0 {
		issuers = []string{"https://accounts.google.com", "accounts.google.com"}
	}
	verifier, err := auth.NewProviderVerifier(auth.ProviderVerifierConfig{
		Audience:       appConfig.ProviderClientID,
		JWKSURL:        appConfig.ProviderJWKSURL,
		AllowedIssuers: issuers,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	portfolioStore, err := portfolio.NewStore(portfolio.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: portfolio.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	engine, err := collab.NewEngine(collab.EngineConfig{
		Store:            portfolioStore,
		AutosaveDebounce: appConfig.AutosaveDebounce,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	gateway, err := collab.NewGateway(collab.GatewayConfig{
		Engine:            engine,
		Tokens:            tokenManager,
		Identities:        usersService,
		HeartbeatInterval: appConfig.HeartbeatInterval,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:     verifier,
		TokenManager: tokenManager,
		Users:        usersService,
		Portfolios:   portfolioStore,
		Gateway:      gateway,
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
