// Command retcond is Retcon's reconciliation daemon: one executable
// exposing create/read/update/delete subcommands that each run one
// pass of the kernel's reconciliation protocol against the configured
// entities and sources (spec §6). Layout mirrors the teacher's
// siblings ardikabs/hibernator and mutagen-io/mutagen: package main,
// a package-level rootCmd, one file per concern wired together in
// init.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/retcond/retcond.conf"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "retcond",
	Short: "Retcon reconciliation daemon",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", fmt.Sprintf("config file (default %q, or $RETCON_CONFIG)", defaultConfigPath))
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(
		newRequestCommand("create"),
		newRequestCommand("read"),
		newRequestCommand("update"),
		newRequestCommand("delete"),
	)
}

// resolveConfigPath implements spec §6's precedence: "RETCON_CONFIG
// overrides --config when the flag is not given."
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("RETCON_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
