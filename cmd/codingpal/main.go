package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codingpal/agent/internal/app"
	"github.com/codingpal/agent/internal/config"
	"github.com/codingpal/agent/internal/httpapi"
	"github.com/codingpal/agent/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
	verbose bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:           "codingpal",
	Short:         "CodingPal IDE process monitor",
	Long:          `CodingPal - tracks running IDE processes, their peak CPU and memory, and optimizes prompts`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sampler and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("CodingPal v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the config file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.SaveTo(config.Default(), cfgFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user config dir>/CodingPal/codingpal.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warn for one-shot commands")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	addCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Validate()
	return cfg, nil
}

// setupLogging configures the root logger. One-shot commands stay quiet
// unless --verbose is set.
func setupLogging(cfg *config.Config, quiet bool) (io.Closer, error) {
	out, closer, err := logging.Output(cfg.LogFile)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if quiet && !verbose {
		level = "warn"
	}
	logging.Init(cfg.LogFormat, level, out)
	return closer, nil
}

// openApp loads the config and builds the App for one-shot commands.
func openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	closer, err := setupLogging(cfg, true)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			log.Warn("close failed", logging.KeyError, err)
		}
		closer.Close()
	}
	return a, cleanup, nil
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	closer, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	if err := config.Watch(cfgFile, a.ApplyConfig); err != nil {
		log.Info("config hot reload disabled", logging.KeyError, err)
	}

	log.Info("starting codingpal",
		"version", version,
		"listen", cfg.ListenAddr,
		"database", cfg.DatabasePath,
		"intervalMs", cfg.MonitoringIntervalMs,
	)

	samplerDone := make(chan struct{})
	go func() {
		defer close(samplerDone)
		a.Run(ctx)
	}()

	srv := httpapi.NewServer(cfg.ListenAddr, a)
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serveErr:
		log.Error("http server failed", logging.KeyError, err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("http shutdown", logging.KeyError, serr)
	}
	<-samplerDone
	if cerr := a.Close(shutdownCtx); cerr != nil {
		log.Warn("app close", logging.KeyError, cerr)
	}
	return err
}
