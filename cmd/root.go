package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"harbor-bridge/internal/oauth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates a server has no usable tokens.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the browser authorization flow failed.
	ExitCodeAuthFailed = 3
)

// Persistent flags shared by every subcommand.
var (
	rootStateDir  string
	rootLogLevel  string
	rootLogFormat string
)

// rootCmd represents the base command for harbor-bridge.
var rootCmd = &cobra.Command{
	Use:   "harbor-bridge",
	Short: "OAuth bridge for locally launched tool servers",
	Long: `harbor-bridge obtains, stores and refreshes OAuth tokens on behalf of
locally launched tool servers.

It runs the browser authorization flow against a loopback redirect listener,
keeps tokens per server in the state directory (default ~/.harbor) and serves
its operations as MCP tools over stdio for a parent process.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// It is called from main to inject the version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "harbor-bridge version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// authFailedError marks a browser authorization that did not produce tokens.
type authFailedError struct {
	err error
}

func (e *authFailedError) Error() string {
	return "authorization failed: " + e.err.Error()
}

func (e *authFailedError) Unwrap() error {
	return e.err
}

// getExitCode determines the exit code for err so scripts can tell a missing
// login apart from a failed one.
func getExitCode(err error) int {
	if errors.Is(err, oauth.ErrNoTokens) || errors.Is(err, oauth.ErrRefreshUnavailable) {
		return ExitCodeAuthRequired
	}

	var authFailed *authFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}
	if errors.Is(err, oauth.ErrTokenExchangeFailed) ||
		errors.Is(err, oauth.ErrSessionExpired) ||
		errors.Is(err, oauth.ErrInvalidCallback) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootStateDir, "state-dir", "", "State directory holding config.yaml, tokens and credentials (default ~/.harbor, env: HARBOR_STATE_DIR)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level: debug, info, warn, error (env: HARBOR_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&rootLogFormat, "log-format", "", "Log format: text or json (env: HARBOR_LOG_FORMAT)")

	rootCmd.AddCommand(newVersionCmd())
}
