package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenlearn/coursesync/internal/config"
	"github.com/lumenlearn/coursesync/internal/database"
	"github.com/lumenlearn/coursesync/internal/logging"
	"github.com/lumenlearn/coursesync/internal/progress"
	"github.com/lumenlearn/coursesync/internal/remote"
	"github.com/lumenlearn/coursesync/internal/server"
	coursesync "github.com/lumenlearn/coursesync/internal/sync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coursesync",
		Short: "Local-first course enrollment and progress sync engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API for storefront frontends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a one-shot push/pull reconciliation with the remote API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShotSync(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(serveCmd, syncCmd)

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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Remote LMS API base URL")
	cmd.PersistentFlags().String("remote-token", "", "Remote API bearer token (overrides env)")
	cmd.PersistentFlags().Int64("user-id", defaults.GetInt64("user.id"), "Remote user id (0 discovers it from the token)")
	cmd.PersistentFlags().Bool("auto-sync", defaults.GetBool("sync.auto"), "Drain the retry queue on a timer")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Auto-sync interval")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.token", "remote-token")
	bindFlag(cmd, "user.id", "user-id")
	bindFlag(cmd, "sync.auto", "auto-sync")
	bindFlag(cmd, "sync.interval", "sync-interval")
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

type runtime struct {
	config      config.AppConfig
	logger      *zap.Logger
	store       *progress.Store
	coordinator *coursesync.Coordinator
	close       func()
}

func buildRuntime() (*runtime, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	store := progress.NewStore(progress.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})

	credentials := remote.Credentials{
		Token:    appConfig.RemoteToken,
		Nonce:    appConfig.RemoteNonce,
		Username: appConfig.RemoteUsername,
		Password: appConfig.RemotePassword,
	}
	userID := appConfig.UserID
	if userID == 0 {
		userID = credentials.UserID()
	}
	if credentials.Expired(time.Now()) {
		logger.Warn("remote bearer token is expired; remote calls will likely fail")
	}

	var remoteClient coursesync.RemoteAPI
	if appConfig.RemoteBaseURL != "" {
		client, err := remote.NewClient(remote.ClientConfig{
			BaseURL:     appConfig.RemoteBaseURL,
			Credentials: credentials,
			Logger:      logger,
		})
		if err != nil {
			sqlDB.Close() //nolint:errcheck
			return nil, err
		}
		remoteClient = client
	}

	coordinator, err := coursesync.NewCoordinator(coursesync.CoordinatorConfig{
		Store:       store,
		Remote:      remoteClient,
		UserID:      userID,
		Clock:       time.Now,
		Logger:      logger,
		StartOnline: appConfig.StartOnline,
	})
	if err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, err
	}

	return &runtime{
		config:      appConfig,
		logger:      logger,
		store:       store,
		coordinator: coordinator,
		close: func() {
			sqlDB.Close() //nolint:errcheck
			logger.Sync() //nolint:errcheck
		},
	}, nil
}

func runServer(ctx context.Context) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Coordinator: rt.coordinator,
		Store:       rt.store,
		Logger:      rt.logger,
	})
	if err != nil {
		return err
	}

	var scheduler *coursesync.Scheduler
	if rt.config.AutoSync {
		scheduler, err = coursesync.NewScheduler(coursesync.SchedulerConfig{
			Coordinator: rt.coordinator,
			Interval:    rt.config.SyncInterval,
			Logger:      rt.logger,
		})
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() {
			<-scheduler.Stop().Done()
		}()
	}

	httpServer := &http.Server{
		Addr:    rt.config.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("server starting", zap.String("address", rt.config.HTTPAddress))
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

func runOneShotSync(ctx context.Context) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	rt.coordinator.SetOnline(ctx, true)

	pushed := rt.coordinator.SyncToServer(ctx)
	rt.logger.Info("push sync finished",
		zap.Bool("success", pushed.Success),
		zap.String("error", pushed.Error),
		zap.Int("enrollments", pushed.Synced.Enrollments),
		zap.Int("lessons", pushed.Synced.Lessons))

	pulled := rt.coordinator.SyncFromServer(ctx)
	rt.logger.Info("pull sync finished",
		zap.Bool("success", pulled.Success),
		zap.String("error", pulled.Error),
		zap.Int("enrollments", pulled.Synced.Enrollments),
		zap.Int("progress", pulled.Synced.Progress))

	if !pushed.Success || !pulled.Success {
		return fmt.Errorf("sync incomplete: push=%v pull=%v", pushed.Error, pulled.Error)
	}
	return nil
}
