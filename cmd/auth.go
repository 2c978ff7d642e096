package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"harbor-bridge/internal/oauth"
)

var authQuiet bool

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage OAuth tokens for tool servers",
	Long: `Manage the OAuth tokens harbor-bridge stores for tool servers.

Examples:
  harbor-bridge auth login --provider google --server gmail --scope https://www.googleapis.com/auth/gmail.readonly
  harbor-bridge auth status                 # Show all stored tokens
  harbor-bridge auth status --server gmail  # Show one server
  harbor-bridge auth token --server gmail   # Print a valid access token
  harbor-bridge auth revoke --server gmail  # Forget and revoke tokens`,
}

// Server selection shared by status, token and revoke.
var (
	statusServer string
	tokenServer  string
	revokeServer string
)

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored authentication state",
	Long: `Show what is stored for one server, or a table of every stored server.
Tokens are not refreshed.`,
	Args: cobra.NoArgs,
	RunE: withRuntime(runAuthStatus),
}

var authTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a valid access token for a server",
	Long: `Print a valid access token for a server on stdout, refreshing it first if
it has expired. Exits with code 2 when the server has no tokens or they can
no longer be refreshed.`,
	Args: cobra.NoArgs,
	RunE: withRuntime(runAuthToken),
}

var authRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Forget a server's tokens",
	Long: `Remove a server's tokens from the store and revoke them with the provider
when it supports revocation.`,
	Args: cobra.NoArgs,
	RunE: withRuntime(runAuthRevoke),
}

// authPrint prints output only if the --quiet flag is not set.
func authPrint(cmd *cobra.Command, format string, args ...interface{}) {
	if !authQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authTokenCmd)
	authCmd.AddCommand(authRevokeCmd)

	authCmd.PersistentFlags().BoolVarP(&authQuiet, "quiet", "q", false, "Suppress non-essential output")

	authStatusCmd.Flags().StringVarP(&statusServer, "server", "s", "", "Server id to show")
	authTokenCmd.Flags().StringVarP(&tokenServer, "server", "s", "", "Server id")
	authRevokeCmd.Flags().StringVarP(&revokeServer, "server", "s", "", "Server id")
	_ = authTokenCmd.MarkFlagRequired("server")
	_ = authRevokeCmd.MarkFlagRequired("server")
}

func runAuthStatus(cmd *cobra.Command, _ []string, rt *bridgeRuntime) error {
	if statusServer != "" {
		status, err := rt.manager().Status(statusServer)
		if err != nil {
			return err
		}
		printServerStatus(cmd, statusServer, status)
		return nil
	}

	records := rt.components.Tokens.List()
	if len(records) == 0 {
		authPrint(cmd, "No stored tokens.\n")
		return nil
	}

	t := newTable(cmd)
	t.AppendHeader(table.Row{"Server", "Provider", "Scopes", "Expires", "Refresh"})
	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.ServerID,
			rec.ProviderID,
			strings.Join(rec.Scopes, " "),
			formatExpiry(rec.Tokens.ExpiresAt, rec.Tokens.IsExpired(time.Now())),
			yesNo(rec.Tokens.RefreshToken != ""),
		})
	}
	t.Render()
	return nil
}

func printServerStatus(cmd *cobra.Command, serverID string, status *oauth.StatusInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server:         %s\n", serverID)
	if !status.Authenticated {
		fmt.Fprintf(out, "Status:         %s\n", text.FgYellow.Sprint("Not authenticated"))
		return
	}
	fmt.Fprintf(out, "Status:         %s\n", text.FgGreen.Sprint("Authenticated"))
	fmt.Fprintf(out, "Provider:       %s\n", status.Provider)
	fmt.Fprintf(out, "Scopes:         %s\n", strings.Join(status.Scopes, " "))
	fmt.Fprintf(out, "Expires:        %s\n", formatExpiry(status.ExpiresAt, status.IsExpired))
	fmt.Fprintf(out, "Refresh token:  %s\n", yesNo(status.HasRefreshToken))
}

func runAuthToken(cmd *cobra.Command, _ []string, rt *bridgeRuntime) error {
	info, err := rt.manager().GetTokens(cmd.Context(), tokenServer)
	if err != nil {
		return err
	}
	if !info.HasTokens {
		return fmt.Errorf("%w for server %s. Run 'harbor-bridge auth login' first", oauth.ErrNoTokens, tokenServer)
	}
	fmt.Fprintln(cmd.OutOrStdout(), info.AccessToken)
	return nil
}

func runAuthRevoke(cmd *cobra.Command, _ []string, rt *bridgeRuntime) error {
	res, err := rt.manager().Revoke(cmd.Context(), revokeServer)
	if err != nil {
		return err
	}
	switch {
	case !res.Existed:
		authPrint(cmd, "No tokens stored for %s.\n", revokeServer)
	case res.RemoteRevoked:
		authPrint(cmd, "Removed and revoked tokens for %s.\n", revokeServer)
	default:
		authPrint(cmd, "Removed tokens for %s.\n", revokeServer)
	}
	return nil
}

// formatExpiry renders an epoch-ms expiry for humans.
func formatExpiry(expiresAt *int64, expired bool) string {
	if expiresAt == nil {
		return "never"
	}
	ts := time.UnixMilli(*expiresAt).Local().Format(time.RFC3339)
	if expired {
		return text.FgRed.Sprint(ts + " (expired)")
	}
	return ts
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// newTable returns a plain table writer bound to the command's stdout.
func newTable(cmd *cobra.Command) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatUpper
	return t
}
