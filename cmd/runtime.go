package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"harbor-bridge/internal/config"
	"harbor-bridge/internal/credentials"
	"harbor-bridge/internal/instrumentation"
	"harbor-bridge/internal/oauth"
	"harbor-bridge/pkg/logging"
)

// shutdownTimeout bounds how long closing the callback listener may take.
const shutdownTimeout = 5 * time.Second

// bridgeRuntime is the OAuth subsystem wired for one CLI invocation.
type bridgeRuntime struct {
	cfg        config.BridgeConfig
	creds      *credentials.Store
	components *oauth.Components
}

// newRuntime loads configuration, initializes logging and wires the OAuth
// subsystem. Flags take precedence over config.yaml and the environment.
func newRuntime(cmd *cobra.Command) (*bridgeRuntime, error) {
	cfg, err := config.LoadConfig(rootStateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if rootLogLevel != "" {
		cfg.Logging.Level = rootLogLevel
	}
	if rootLogFormat != "" {
		cfg.Logging.Format = rootLogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// stdout carries MCP traffic in serve mode, so logs always go to stderr.
	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, cmd.ErrOrStderr())

	creds, err := credentials.NewStore(credentials.StoreConfig{
		Storage: config.NewStorage(cfg.Storage.Dir),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load client credentials: %w", err)
	}

	metrics, err := instrumentation.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	components, err := oauth.Setup(cfg, creds, metrics)
	if err != nil {
		return nil, err
	}

	return &bridgeRuntime{
		cfg:        cfg,
		creds:      creds,
		components: components,
	}, nil
}

func (r *bridgeRuntime) manager() *oauth.Manager {
	return r.components.Manager
}

// close stops the callback listener if this invocation started it.
func (r *bridgeRuntime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.components.Manager.Close(ctx); err != nil {
		logging.Warn("CLI", "Failed to stop callback listener: %v", err)
	}
}

// withRuntime adapts a runtime-aware run function to cobra's RunE.
func withRuntime(run func(cmd *cobra.Command, args []string, rt *bridgeRuntime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.close()
		return run(cmd, args, rt)
	}
}
