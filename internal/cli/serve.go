package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thruflo/esprelay/internal/config"
	"github.com/thruflo/esprelay/internal/device"
	"github.com/thruflo/esprelay/internal/logging"
	"github.com/thruflo/esprelay/internal/relay"
	"github.com/thruflo/esprelay/internal/server"
)

var (
	configFile string
	envFile    string
	serveAddr  string
	serveLevel string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay HTTP server",
	Long: `Starts the relay and serves the operator console, the device polling
endpoints and the status API until interrupted.

Environment variables (override file values):
  WEB_USER, WEB_PASS, WEB_PASS_HASH   operator account
  SECRET_KEY                          session signing secret
  DEVICES                             comma separated device allow-list
  DEVICE_KEY                          shared secret devices send in X-Device-Key
  LISTEN_ADDR, STATIC_DIR, LOG_LEVEL
  TOKEN_MAX_AGE, LIVENESS_WINDOW      durations such as 24h or 15s
  PERSISTENCE, STATE_FILE             memory or file backed relay state
  COOKIE_SECURE                       mark the session cookie Secure
  TRUST_PROXY                         take client IPs from X-Forwarded-For`,
	RunE: runServe,
}

func init() {
	addConfigFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// addConfigFlags registers the flags every config-reading command shares.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to esprelay.yaml or esprelay.toml")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "KEY=VALUE file read beneath the environment")
}

// loadConfig loads configuration from the shared flags and the process
// environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Source{File: configFile, EnvFile: envFile})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveLevel != "" {
		cfg.LogLevel = serveLevel
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	srv, svc, err := buildServer(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}

// newLogger returns the process logger at the configured level.
func newLogger(level string) (*logging.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log := logging.Default()
	log.SetLevel(lvl)
	return log, nil
}

// newBackend selects where relay state is kept.
func newBackend(cfg *config.Config) relay.Backend {
	if cfg.Persistence.Backend == config.PersistenceFile {
		return relay.NewFileBackend(cfg.Persistence.StateFile)
	}
	return relay.NewMemoryBackend()
}

// buildServer wires the device registry, relay service and HTTP server
// from configuration.
func buildServer(cfg *config.Config, log *logging.Logger) (*server.Server, *relay.Service, error) {
	if cfg.UsesDefaultCredentials() {
		log.Warn("default operator password or signing secret in use; set WEB_PASS and SECRET_KEY")
	}
	if cfg.Devices.Key == "" {
		log.Info("device endpoints are unauthenticated; set DEVICE_KEY to require X-Device-Key")
	}

	registry, err := device.NewRegistry(cfg.Devices.IDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build device registry: %w", err)
	}

	svc, err := relay.NewService(relay.Config{
		Registry:       registry,
		LivenessWindow: cfg.Devices.LivenessWindow.Std(),
		Backend:        newBackend(cfg),
		Logger:         log,
	})
	if err != nil {
		return nil, nil, err
	}

	srv, err := server.NewServerFromConfig(cfg, svc, log)
	if err != nil {
		svc.Close()
		return nil, nil, err
	}

	log.Info("relay configured",
		"devices", registry.IDs(),
		"persistence", cfg.Persistence.Backend,
		"token_max_age", cfg.Session.MaxAge,
		"liveness_window", cfg.Devices.LivenessWindow,
	)
	return srv, svc, nil
}
