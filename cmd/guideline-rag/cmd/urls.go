package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/auditkit/guideline-rag/internal/admin"
	"github.com/auditkit/guideline-rag/internal/retriever"
)

func newURLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urls",
		Short: "Manage the registered guideline URLs",
		Long: `Manage the registry of guideline URLs kept current by the
refresh scheduler.`,
	}

	cmd.AddCommand(newURLsListCmd())
	cmd.AddCommand(newURLsAddCmd())
	cmd.AddCommand(newURLsRemoveCmd())
	cmd.AddCommand(newURLsEnableCmd(true))
	cmd.AddCommand(newURLsEnableCmd(false))

	return cmd
}

// openRegistry wires a registry over the configured blob store.
func openRegistry(ctx context.Context) (*admin.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	ret := retriever.New(cfg, logger)
	if err := ret.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return admin.NewRegistry(ret.BlobStore(), "", logger), nil
}

func newURLsListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered URLs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			urls, err := registry.List(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(urls)
			}

			if len(urls) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No registered URLs")
				return nil
			}
			for _, u := range urls {
				state := "enabled"
				if !u.Enabled {
					state = "disabled"
				}
				status := u.LastIndexStatus
				if status == "" {
					status = admin.StatusPending
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %-8s %s (%s)\n", u.ID, status, state, u.Name, u.URL)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newURLsAddCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Register a URL for scheduled refresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			display := name
			if display == "" {
				display = args[0]
			}
			entry, err := registry.Add(cmd.Context(), display, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as %s\n", entry.URL, entry.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the URL)")

	return cmd
}

func newURLsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a registered URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := registry.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%s)\n", entry.ID, entry.URL)
			return nil
		},
	}
}

func newURLsEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable scheduled refresh for a URL"
	if !enable {
		use, short = "disable <id>", "Disable scheduled refresh for a URL"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			if err := registry.SetEnabled(cmd.Context(), args[0], enable); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", args[0])
			return nil
		},
	}
}
