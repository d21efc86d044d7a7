// Command asset-sync keeps an offline cache of a versioned front-end build in
// sync with its origin.
//
// Usage:
//
//	asset-sync serve                       front the origin with the active agent
//	asset-sync sync                        install + activate the configured manifest once
//	asset-sync offline                     prefetch every manifest resource not cached yet
//	asset-sync manifest build <dir>        fingerprint a build output directory
//	asset-sync manifest diff <old> <new>   compare two manifests
//	asset-sync manifest validate <file>    check a manifest (and core shell)
//	asset-sync cache ls                    list namespaces
//	asset-sync cache export <out.zip>      archive a namespace
//	asset-sync config show                 print the effective configuration
//
// Configuration comes from --config, ./asset-sync.yaml and ASSET_SYNC_*
// environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "asset-sync",
		Short:         "Offline asset cache synchronization for versioned front-end builds",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./asset-sync.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored log output")

	rootCmd.AddCommand(serveCmd(a))
	rootCmd.AddCommand(syncCmd(a))
	rootCmd.AddCommand(offlineCmd(a))
	rootCmd.AddCommand(manifestCmd(a))
	rootCmd.AddCommand(cacheCmd(a))
	rootCmd.AddCommand(configCmd(a))
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
			return nil
		},
	}
}
