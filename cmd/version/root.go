package version

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/edb/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// VersionCommands prints the binary version and groups the commands
	// that manage the versions of a domain
	VersionCommands = &cobra.Command{
		Use:               "version",
		Short:             "Print the version of edb or manage domain versions",
		PersistentPreRunE: bindFlags,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("edb v%s\n", util.Version)
		},
	}

	listCmd = &cobra.Command{
		Use:   "list [root]",
		Short: "List the complete versions of a domain, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}

	cleanupCmd = &cobra.Command{
		Use:   "cleanup [root]",
		Short: "Remove all but the newest versions of a domain",
		Long: `Remove all but the newest --versions-to-keep complete versions of a domain,
together with failed and abandoned in-progress versions. Versions younger than
--cleanup-grace-period are never removed.`,
		Args: cobra.ExactArgs(1),
		RunE: runCleanup,
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [root] [version]",
		Short: "Delete a version of a domain",
		Args:  cobra.ExactArgs(2),
		RunE:  runDelete,
	}
)

func init() {
	VersionCommands.AddCommand(listCmd)
	VersionCommands.AddCommand(cleanupCmd)
	VersionCommands.AddCommand(deleteCmd)
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

func runList(_ *cobra.Command, args []string) error {
	d, err := util.OpenDomain(args[0], nil, "")
	if err != nil {
		return err
	}
	versions, err := d.GetAllVersions()
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Println("no complete versions")
		return nil
	}
	for i, v := range versions {
		latest := ""
		if i == 0 {
			latest = " (latest)"
		}
		fmt.Printf("%-20d %s%s\n", v, time.UnixMilli(v).UTC().Format(time.RFC3339), latest)
	}
	return nil
}

func runCleanup(_ *cobra.Command, args []string) error {
	keep := viper.GetInt("versions-to-keep")
	if keep < 0 {
		return fmt.Errorf("--versions-to-keep (or EDB_VERSIONS_TO_KEEP) must be set for cleanup")
	}
	d, err := util.OpenDomain(args[0], nil, "")
	if err != nil {
		return err
	}
	before, err := d.GetAllVersions()
	if err != nil {
		return err
	}
	if err := d.Cleanup(keep); err != nil {
		return err
	}
	after, err := d.GetAllVersions()
	if err != nil {
		return err
	}
	fmt.Printf("removed %d complete versions, %d left\n", len(before)-len(after), len(after))
	return nil
}

func runDelete(_ *cobra.Command, args []string) error {
	version, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("version must be a number: %w", err)
	}
	d, err := util.OpenDomain(args[0], nil, "")
	if err != nil {
		return err
	}
	if err := d.DeleteVersion(version); err != nil {
		return err
	}
	fmt.Printf("deleted version %d\n", version)
	return nil
}
