package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags; "dev" is the default for
// local builds.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "puppetssl",
	Short: "puppetssl bootstraps an agent's SSL identity against a CA server",
	Long: `puppetssl drives the Puppet agent SSL bootstrap sequence: it fetches the
CA certificate bundle, generates a private key, submits a certificate
signing request, and polls until the CA signs it.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}
