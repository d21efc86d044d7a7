package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"asset-sync/internal/agent"
)

func syncCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Install and activate the configured manifest once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireValid(); err != nil {
				return err
			}
			storage, release, err := a.openStorage()
			if err != nil {
				return err
			}
			defer release()

			cfg, err := a.agentConfig(storage)
			if err != nil {
				return err
			}
			ag, err := agent.New(cfg, a.agentOptions()...)
			if err != nil {
				return err
			}
			defer ag.Close()

			ctx := cmd.Context()
			if err := ag.Install(ctx); err != nil {
				return err
			}
			report, err := ag.Activate(ctx)
			if err != nil {
				if errors.Is(err, agent.ErrActivationFailed) {
					fmt.Fprintln(cmd.ErrOrStderr(), "activation failed; caches were reset and the next sync starts fresh")
				}
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			mode := "upgrade"
			if report.FirstRun {
				mode = "first run"
			}
			fmt.Fprintf(out, "activated %s (%s): kept=%d evicted=%d promoted=%d\n",
				ag.ManifestID(), mode, report.Kept, len(report.Evicted), report.Promoted)
			if len(report.Evicted) > 0 {
				fmt.Fprintf(out, "evicted: %s\n", strings.Join(report.Evicted, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the activation report as JSON")
	return cmd
}

func offlineCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Prefetch every manifest resource missing from the persistent cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireValid(); err != nil {
				return err
			}
			storage, release, err := a.openStorage()
			if err != nil {
				return err
			}
			defer release()

			cfg, err := a.agentConfig(storage)
			if err != nil {
				return err
			}
			ag, err := agent.New(cfg, a.agentOptions()...)
			if err != nil {
				return err
			}
			defer ag.Close()

			var keys []string
			if dryRun {
				keys, err = ag.Missing(cmd.Context())
			} else {
				keys, err = ag.DownloadOffline(cmd.Context())
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, k := range keys {
				fmt.Fprintln(out, k)
			}
			verb := "added"
			if dryRun {
				verb = "missing"
			}
			fmt.Fprintf(out, "%d resources %s\n", len(keys), verb)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only list what is missing")
	return cmd
}
