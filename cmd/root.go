package cmd

import (
	"fmt"
	"os"

	"github.com/dbpull/dbpull/cmd/sync"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dbpull",
	Short: "One-directional database synchronization for development environments",
	Long: `dbpull keeps a local development database aligned with a remote source:
it diffs schemas and row data, refuses destructive changes without explicit
consent, and applies the rest transactionally. Data only ever flows from the
source to the local database.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(sync.Command())
}
