package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aisu-os/core/pkg/api"
	"github.com/aisu-os/core/pkg/auth"
	"github.com/aisu-os/core/pkg/beta"
	"github.com/aisu-os/core/pkg/config"
	"github.com/aisu-os/core/pkg/events"
	"github.com/aisu-os/core/pkg/log"
	"github.com/aisu-os/core/pkg/manager"
	"github.com/aisu-os/core/pkg/ratelimit"
	"github.com/aisu-os/core/pkg/runtime"
	"github.com/aisu-os/core/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aisu",
	Short: "Aisu - control plane for browser-delivered personal computers",
	Long: `Aisu provisions an isolated Linux container per user and exposes a
virtual filesystem and a persistent terminal over HTTP and WebSocket,
delivered as a single binary.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Aisu version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Aisu control-plane server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		st, err := store.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		var rt runtime.Runtime
		if cfg.Container.Enabled {
			docker, err := runtime.NewDockerRuntime(cfg.Container.EngineURL, cfg.Container.Network)
			if err != nil {
				return fmt.Errorf("failed to connect to container engine: %w", err)
			}
			defer docker.Close()
			rt = docker
		} else {
			log.Warn("containers disabled, using local filesystem runtime")
			local, err := runtime.NewLocalRuntime(filepath.Join(cfg.DataDir, "local-containers"))
			if err != nil {
				return fmt.Errorf("failed to create local runtime: %w", err)
			}
			rt = local
		}

		limiter := ratelimit.Global(func() ratelimit.Limiter {
			if cfg.RateLimit.Backend == "redis" {
				redis, err := ratelimit.NewRedisLimiter(cfg.RateLimit.RedisURL)
				if err != nil {
					log.Errorf("failed to connect rate limiter, falling back to memory", err)
					return ratelimit.NewMemoryLimiter()
				}
				return redis
			}
			return ratelimit.NewMemoryLimiter()
		})

		broker := events.NewBroker()
		defer broker.Close()

		mgr := manager.NewManager(st, rt, broker, cfg.Container)

		tokens := auth.NewTokenIssuer(cfg.Auth.SigningKey, cfg.Auth.TokenTTLMinutes)
		betaSvc := beta.NewService(st, cfg.Beta.TokenTTLHours)
		authSvc := auth.NewService(st, tokens, betaSvc, cfg)

		server := api.NewServer(cfg, st, authSvc, mgr, rt, limiter)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.Info(fmt.Sprintf("received %s, shutting down", sig))
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serverCmd.Flags().String("config", "", "Path to YAML configuration file")
}
