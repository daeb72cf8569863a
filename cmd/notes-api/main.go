package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/config"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/database"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/logging"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/server"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	configFileLoaded bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notes-api",
		Short: "Notes screen state service",
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
	cmd.PersistentFlags().String("config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString(config.KeyHTTPAddress), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString(config.KeyDatabasePath), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString(config.KeyLogLevel), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("page-size", defaults.GetInt(config.KeyPageSize), "Notes per list page")
	cmd.PersistentFlags().Duration("idle-timeout", defaults.GetDuration(config.KeyIdleTimeout), "Close screen sessions idle for this long")

	bindFlag(cmd, config.KeyConfigFile, "config")
	bindFlag(cmd, config.KeyHTTPAddress, "http-address")
	bindFlag(cmd, config.KeyDatabasePath, "database-path")
	bindFlag(cmd, config.KeyLogLevel, "log-level")
	bindFlag(cmd, config.KeyPageSize, "page-size")
	bindFlag(cmd, config.KeyIdleTimeout, "idle-timeout")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	loaded, err := config.ReadFile(viper.GetViper())
	if err != nil {
		return err
	}
	configFileLoaded = loaded
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, logLevel, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if configFileLoaded {
		viper.OnConfigChange(func(event fsnotify.Event) {
			level := logging.ParseLevel(viper.GetString(config.KeyLogLevel))
			if level == logLevel.Level() {
				return
			}
			logLevel.SetLevel(level)
			logger.Info("log level changed", zap.String("file", event.Name), zap.Stringer("level", level))
		})
		viper.WatchConfig()
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	store, err := notes.NewStore(notes.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sessions := server.NewSessionRegistry(server.SessionConfig{
		IdleTimeout: appConfig.IdleTimeout,
		Logger:      logger,
	})
	defer sessions.CloseAll()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Repository: store,
		Sessions:   sessions,
		PageSize:   appConfig.PageSize,
		Logger:     logger,
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
	go sessions.Run(signalCtx, 0)

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
		// Open effect streams end once their screens close.
		sessions.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
