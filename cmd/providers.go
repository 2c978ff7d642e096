package cmd

import (
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported OAuth providers",
	Args:  cobra.NoArgs,
	RunE:  withRuntime(runProviders),
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, _ []string, rt *bridgeRuntime) error {
	t := newTable(cmd)
	t.AppendHeader(table.Row{"ID", "Name", "Configured", "PKCE", "Scopes"})
	for _, p := range rt.manager().ListProviders() {
		scopes := make([]string, 0, len(p.Scopes))
		for scope := range p.Scopes {
			scopes = append(scopes, scope)
		}
		sort.Strings(scopes)
		t.AppendRow(table.Row{p.ID, p.Name, yesNo(p.Configured), yesNo(p.PKCE), strings.Join(scopes, "\n")})
	}
	t.Render()
	return nil
}
