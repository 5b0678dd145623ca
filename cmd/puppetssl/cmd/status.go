package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kboghdady/puppet/journal"
)

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the most recent bootstrap state transitions recorded in this confdir",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&confdir, "confdir", "/etc/puppetssl", "configuration and ssl directory")
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false, "output results as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	j, err := journal.Open(filepath.Join(confdir, "bootstrap.db"))
	if err != nil {
		return fmt.Errorf("opening bootstrap journal: %w", err)
	}
	defer j.Close()

	entries, err := j.Recent(20)
	if err != nil {
		return err
	}

	if statusJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("no bootstrap history recorded")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-16s %-10s %s\n", e.Time.Format("2006-01-02T15:04:05Z07:00"), e.State, e.Outcome, e.Detail)
	}
	return nil
}
