package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"harbor-bridge/internal/credentials"
)

var (
	credClientID     string
	credClientSecret string
)

// readSecret prompts for a value without echoing it. Replaced in tests.
var readSecret = func(prompt string) (string, error) {
	rl, err := readline.NewEx(&readline.Config{})
	if err != nil {
		return "", fmt.Errorf("failed to open terminal: %w", err)
	}
	defer rl.Close()

	secret, err := rl.ReadPassword(prompt)
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", errors.New("cancelled")
		}
		return "", err
	}
	return string(secret), nil
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage OAuth client credentials",
	Long: `Manage the OAuth client id and secret harbor-bridge uses for each provider.

Credentials are stored in oauth_credentials.json in the state directory.
HARBOR_<PROVIDER>_CLIENT_ID and HARBOR_<PROVIDER>_CLIENT_SECRET in the
environment take precedence over the file.`,
}

var credentialsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which providers have client credentials",
	Args:  cobra.NoArgs,
	RunE:  withRuntime(runCredentialsStatus),
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Store client credentials for a provider",
	Long: `Store the OAuth client id and secret for a provider.
The secret is prompted for when --client-secret is not given.`,
	Args: cobra.ExactArgs(1),
	RunE: withRuntime(runCredentialsSet),
}

var credentialsRemoveCmd = &cobra.Command{
	Use:   "remove <provider>",
	Short: "Remove stored client credentials for a provider",
	Args:  cobra.ExactArgs(1),
	RunE:  withRuntime(runCredentialsRemove),
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsStatusCmd)
	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsRemoveCmd)

	credentialsSetCmd.Flags().StringVar(&credClientID, "client-id", "", "OAuth client id")
	credentialsSetCmd.Flags().StringVar(&credClientSecret, "client-secret", "", "OAuth client secret (prompted when omitted)")
	_ = credentialsSetCmd.MarkFlagRequired("client-id")
}

func runCredentialsStatus(cmd *cobra.Command, _ []string, rt *bridgeRuntime) error {
	statuses := rt.manager().CredentialsStatus()

	t := newTable(cmd)
	t.AppendHeader(table.Row{"Provider", "Configured", "Source", "Client ID"})
	for _, p := range rt.manager().ListProviders() {
		status := statuses[p.ID]
		source := rt.creds.Source(p.ID)
		if source == credentials.SourceNone {
			source = "-"
		}
		t.AppendRow(table.Row{p.ID, yesNo(status.Configured), source, status.ClientIDPreview})
	}
	t.Render()
	return nil
}

func runCredentialsSet(cmd *cobra.Command, args []string, rt *bridgeRuntime) error {
	provider := args[0]

	secret := credClientSecret
	if strings.TrimSpace(secret) == "" {
		var err error
		secret, err = readSecret(fmt.Sprintf("Client secret for %s: ", provider))
		if err != nil {
			return err
		}
	}

	if err := rt.manager().SetCredentials(provider, credClientID, secret); err != nil {
		return err
	}
	if rt.creds.Source(provider) == credentials.SourceEnv {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved credentials for %s; the environment still takes precedence.\n", provider)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved credentials for %s.\n", provider)
	return nil
}

func runCredentialsRemove(cmd *cobra.Command, args []string, rt *bridgeRuntime) error {
	provider := args[0]
	if err := rt.manager().RemoveCredentials(provider); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed stored credentials for %s.\n", provider)
	return nil
}
