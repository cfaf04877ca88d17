package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/edb/cmd/build"
	"github.com/ValentinKolb/edb/cmd/domain"
	"github.com/ValentinKolb/edb/cmd/lock"
	"github.com/ValentinKolb/edb/cmd/query"
	"github.com/ValentinKolb/edb/cmd/serve"
	"github.com/ValentinKolb/edb/cmd/util"
	"github.com/ValentinKolb/edb/cmd/version"
	_ "github.com/ValentinKolb/edb/lib/persistence/engines/all"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "edb",
		Short: "versioned, sharded domain storage",
		Long: fmt.Sprintf(`edb (v%s)

Builds and serves versioned, sharded key-value domains. A domain is a
directory of immutable versions; each version holds a fixed number of
shards written by a pluggable storage engine.

Every flag can also be set as EDB_<FLAG> environment variable
(e.g. EDB_LOG_LEVEL=debug) or in a .env / .env.local file.`, util.Version),
		SilenceUsage: true,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(util.GetCLIConfig().String())
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Flags
	util.SetupCommonFlags(RootCmd)

	// Add Commands
	RootCmd.AddCommand(domain.DomainCommands)
	RootCmd.AddCommand(version.VersionCommands)
	RootCmd.AddCommand(build.BuildCmd)
	RootCmd.AddCommand(query.GetCmd)
	RootCmd.AddCommand(query.DumpCmd)
	RootCmd.AddCommand(query.InspectCmd)
	RootCmd.AddCommand(query.BenchCmd)
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(configCmd)

	_ = viper.BindPFlags(RootCmd.PersistentFlags())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
