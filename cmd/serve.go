package cmd

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"harbor-bridge/internal/bridge"
	"harbor-bridge/internal/credentials"
	"harbor-bridge/pkg/logging"
)

// serveNoWatch disables reloading the credentials file when it changes.
var serveNoWatch bool

// serveCmd serves the OAuth operations as MCP tools over stdio.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the OAuth tools over stdio for a parent process",
	Long: `Starts the bridge in stdio mode. The parent process speaks MCP (JSON-RPC 2.0)
on stdin/stdout and calls the oauth_* tools:

  oauth_start_flow              Start a browser authorization flow
  oauth_get_tokens              Get a valid access token, refreshing if needed
  oauth_status                  Report what is stored for a server
  oauth_revoke                  Forget (and revoke) a server's tokens
  oauth_list_providers          List supported providers
  oauth_get_credentials_status  Report which providers have client credentials
  oauth_set_credentials         Store client credentials for a provider
  oauth_remove_credentials      Remove stored client credentials

Logs are written to stderr. The loopback callback listener is started on the
first oauth_start_flow call and stopped on exit.`,
	Args: cobra.NoArgs,
	RunE: withRuntime(runServe),
}

func runServe(cmd *cobra.Command, _ []string, rt *bridgeRuntime) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var wg sync.WaitGroup
	if !serveNoWatch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			credentials.NewWatcher(rt.creds).Run(ctx)
		}()
	}

	srv := bridge.NewServer(rt.manager(), GetVersion())
	err := srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())

	cancel()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	logging.Info("CLI", "Bridge stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not reload the credentials file when it changes")
}
