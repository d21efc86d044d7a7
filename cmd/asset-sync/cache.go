package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"asset-sync/internal/agent"
	"asset-sync/internal/export"
)

func cacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the cache namespaces",
	}
	cmd.AddCommand(cacheLsCmd(a))
	cmd.AddCommand(cacheExportCmd(a))
	return cmd
}

func cacheLsCmd(a *app) *cobra.Command {
	var keys bool
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List namespaces and their entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			storage, release, err := a.openStorage()
			if err != nil {
				return err
			}
			defer release()

			ctx := cmd.Context()
			names, err := storage.Names(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAMESPACE\tENTRIES")
			listing := map[string][]string{}
			for _, name := range names {
				ns, err := storage.Open(ctx, name)
				if err != nil {
					return err
				}
				ks, err := ns.Keys(ctx)
				if err != nil {
					return err
				}
				listing[name] = ks
				fmt.Fprintf(tw, "%s\t%d\n", name, len(ks))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			published, err := agent.PublishedManifest(ctx, storage, a.cfg.Names)
			if err != nil {
				return err
			}
			if published != nil {
				fmt.Fprintf(out, "published manifest: %s (%d resources)\n", published.ID(), len(published))
			} else {
				fmt.Fprintln(out, "published manifest: none")
			}

			if keys {
				for _, name := range names {
					fmt.Fprintf(out, "\n[%s]\n", name)
					for _, k := range listing[name] {
						fmt.Fprintln(out, k)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keys, "keys", false, "also list every key")
	return cmd
}

func cacheExportCmd(a *app) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "export <out.zip>",
		Short: "Write a namespace to a reproducible zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, release, err := a.openStorage()
			if err != nil {
				return err
			}
			defer release()

			ctx := cmd.Context()
			if namespace == "" {
				namespace = a.cfg.Names.Persistent
			}
			ok, err := storage.Has(ctx, namespace)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("namespace %q does not exist", namespace)
			}
			ns, err := storage.Open(ctx, namespace)
			if err != nil {
				return err
			}

			opts := export.Options{}
			if origin := a.cfg.Origin; origin != "" {
				opts.KeyFunc = func(url string) string { return agent.ResourceKey(origin, url) }
			}
			if opts.Manifest, err = agent.PublishedManifest(ctx, storage, a.cfg.Names); err != nil {
				return err
			}
			entries, err := export.WriteFile(ctx, args[0], ns, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d entries from %s to %s\n", len(entries), namespace, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace to export (default the persistent cache)")
	return cmd
}
