// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgscope/pgscope/cmd/pgscope/cmd/flags"
)

// Version is the pgscope version
var Version = "development"

func init() {
	viper.SetEnvPrefix("PGSCOPE")
	viper.AutomaticEnv()

	flags.PgConnectionFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "pgscope",
	Short:        "pgscope discovers the locks, schema changes, and table rewrites a SQL statement causes",
	SilenceUsage: true,
	Version:      Version,
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(inspectCmd())

	return rootCmd.Execute()
}
