package cli

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hearthlist/wpcache/internal/cache"
)

func newStatsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the entries held by a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server, err := cmd.Flags().GetString("server")
			if err != nil {
				return err
			}
			stats, err := newAdminClient(server).Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, a.p.Info("%d entries", stats.Size))
			table := tablewriter.NewTable(out)
			table.Header([]string{"#", "Category", "Key"})
			for i, key := range stats.Keys {
				if err := table.Append([]string{strconv.Itoa(i + 1), cache.Category(key), key}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
	cmd.Flags().String("server", defaultServer, "base URL of a running wpcache")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the cache of a running instance, optionally one category",
		Example: `wpcache clear
wpcache clear --category properties`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server, err := cmd.Flags().GetString("server")
			if err != nil {
				return err
			}
			category, err := cmd.Flags().GetString("category")
			if err != nil {
				return err
			}
			_, msg, err := newAdminClient(server).Clear(cmd.Context(), category)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.p.Success("%s", msg))
			return nil
		},
	}
	cmd.Flags().String("server", defaultServer, "base URL of a running wpcache")
	cmd.Flags().String("category", "", "only clear entries of this category (e.g. properties)")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML, secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
