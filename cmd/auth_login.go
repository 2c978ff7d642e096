package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"harbor-bridge/internal/oauth"
	"harbor-bridge/pkg/logging"
)

// DefaultLoginTimeout is how long auth login waits for the browser redirect.
const DefaultLoginTimeout = 5 * time.Minute

// Login-specific flags
var (
	loginProvider  string
	loginServer    string
	loginScopes    []string
	loginTimeout   time.Duration
	loginNoBrowser bool
)

// openBrowser is replaced in tests.
var openBrowser = oauth.OpenBrowser

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize a server with an OAuth provider",
	Long: `Run the browser authorization flow for a server.

The command prints the authorization URL, opens it in the default browser and
waits for the provider to redirect back to the local callback listener. The
resulting tokens are stored under the server id.

Examples:
  harbor-bridge auth login --provider google --server gmail \
    --scope https://www.googleapis.com/auth/gmail.readonly
  harbor-bridge auth login --provider github --server repos --scope repo --no-browser`,
	Args: cobra.NoArgs,
	RunE: withRuntime(runAuthLogin),
}

func init() {
	authLoginCmd.Flags().StringVarP(&loginProvider, "provider", "p", "", "Provider id (google, github)")
	authLoginCmd.Flags().StringVarP(&loginServer, "server", "s", "", "Server id the tokens are stored under")
	authLoginCmd.Flags().StringSliceVar(&loginScopes, "scope", nil, "Scope to request (repeatable or comma separated)")
	authLoginCmd.Flags().DurationVar(&loginTimeout, "timeout", DefaultLoginTimeout, "How long to wait for the browser redirect")
	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the URL without opening a browser")
}

func runAuthLogin(cmd *cobra.Command, _ []string, rt *bridgeRuntime) error {
	ctx := cmd.Context()

	res, err := rt.manager().StartFlow(ctx, loginProvider, loginServer, loginScopes)
	if err != nil {
		return err
	}

	// Subscribe before the browser opens so a fast redirect is not missed.
	outcomes, unsubscribe := rt.components.Callback.Subscribe(res.State)
	defer unsubscribe()

	authPrint(cmd, "Open the following URL to authorize %s:\n\n  %s\n\n", loginServer, res.AuthURL)
	if !loginNoBrowser {
		if err := openBrowser(res.AuthURL); err != nil {
			logging.Warn("CLI", "Could not open browser: %v", err)
			authPrint(cmd, "Could not open a browser, please open the URL manually.\n")
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	var s *spinner.Spinner
	if !authQuiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = " Waiting for authorization in the browser..."
		s.Start()
	}

	var outcome oauth.CallbackOutcome
	select {
	case outcome = <-outcomes:
	case <-waitCtx.Done():
		if s != nil {
			s.Stop()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &authFailedError{err: fmt.Errorf("timed out after %s waiting for the browser redirect", loginTimeout)}
	}
	if s != nil {
		s.Stop()
	}

	if outcome.Err != nil {
		return &authFailedError{err: outcome.Err}
	}

	authPrint(cmd, "Authorized %s with %s.\n", outcome.ServerID, outcome.ProviderID)
	return nil
}
