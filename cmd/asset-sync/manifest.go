package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"asset-sync/internal/diff"
	"asset-sync/internal/manifest"
	"asset-sync/internal/validate"
)

func manifestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Build, compare and validate resource manifests",
	}
	cmd.AddCommand(manifestBuildCmd(a))
	cmd.AddCommand(manifestDiffCmd())
	cmd.AddCommand(manifestValidateCmd())
	return cmd
}

func manifestBuildCmd(a *app) *cobra.Command {
	var (
		out        string
		worker     string
		indexFile  string
		ignoreFile string
	)
	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Fingerprint every file of a build output directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Build(args[0], manifest.BuildOptions{
				WorkerScript: worker,
				IndexFile:    indexFile,
				IgnoreFile:   ignoreFile,
			})
			if err != nil {
				return err
			}
			if err := validate.Manifest(m); err != nil {
				return fmt.Errorf("built manifest is invalid:\n%w", err)
			}
			if out == "" || out == "-" {
				_, err := cmd.OutOrStdout().Write(m.EncodeIndent())
				return err
			}
			if err := writeFileAtomic(out, m.EncodeIndent()); err != nil {
				return err
			}
			a.log.Info("manifest written",
				slog.String("path", out),
				slog.Int("resources", len(m)),
				slog.String("id", m.ID()),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&worker, "worker-script", "flutter_service_worker.js", "agent script to leave out of the manifest")
	cmd.Flags().StringVar(&indexFile, "index", "index.html", "document served for the root key")
	cmd.Flags().StringVar(&ignoreFile, "ignore-file", "", "gitignore-style file in <dir> listing paths to skip")
	return cmd
}

func manifestDiffCmd() *cobra.Command {
	var (
		asJSON   bool
		ctxLines int
	)
	cmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Show what changed between two manifests",
		Long: `Show what changed between two manifests: a summary of added, removed,
changed and renamed keys followed by a unified diff. Use "-" as <old> for a
first deployment.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prev manifest.Manifest
			if args[0] != "-" {
				m, err := manifest.Load(args[0])
				if err != nil {
					return err
				}
				prev = m
			}
			curr, err := manifest.Load(args[1])
			if err != nil {
				return err
			}
			d := manifest.Compare(prev, curr)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			writeDeltaSummary(out, d)
			if d.Empty() {
				return nil
			}
			patch, _, err := diff.Manifests(prev, curr, diff.Options{Context: ctxLines})
			if err != nil {
				return err
			}
			_, err = io.WriteString(out, patch)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the delta as JSON")
	cmd.Flags().IntVarP(&ctxLines, "context", "U", 3, "context lines in the unified diff")
	return cmd
}

func writeDeltaSummary(w io.Writer, d manifest.Delta) {
	if d.Empty() {
		fmt.Fprintf(w, "no changes (%d unchanged)\n", d.Unchanged)
		return
	}
	fmt.Fprintf(w, "added=%d removed=%d changed=%d renamed=%d unchanged=%d\n",
		len(d.Added), len(d.Removed), len(d.Changed), len(d.Renamed), d.Unchanged)
	for _, e := range d.Added {
		fmt.Fprintf(w, "  + %s\n", e.Key)
	}
	for _, e := range d.Removed {
		fmt.Fprintf(w, "  - %s\n", e.Key)
	}
	for _, c := range d.Changed {
		fmt.Fprintf(w, "  ~ %s\n", c.Key)
	}
	for _, r := range d.Renamed {
		fmt.Fprintf(w, "  > %s -> %s\n", r.From, r.To)
	}
}

func manifestValidateCmd() *cobra.Command {
	var coreShell string
	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Check a manifest and optionally its core shell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			if err := validate.Manifest(m); err != nil {
				return fmt.Errorf("%s:\n%w", args[0], err)
			}
			if coreShell != "" {
				cs, err := manifest.LoadCoreShell(coreShell)
				if err != nil {
					return err
				}
				if err := validate.CoreShell(cs, m); err != nil {
					return fmt.Errorf("%s:\n%w", coreShell, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d resources, id %s\n", len(m), m.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&coreShell, "core-shell", "", "core shell file to check against the manifest")
	return cmd
}

// writeFileAtomic writes data to a temp file next to path and renames it.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
