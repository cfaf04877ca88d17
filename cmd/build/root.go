package build

import (
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/edb/cmd/util"
	"github.com/ValentinKolb/edb/lib/build"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// BuildCmd writes a new version of a domain from an input file
var BuildCmd = &cobra.Command{
	Use:   "build [root] [input]",
	Short: "Build a new version of a domain",
	Long: `Build a new version of a domain from a JSON lines file (one
{"key": ..., "value": ...} object per line) or a two column CSV file.
Use "-" as input to read from stdin (requires --input-format).

The version becomes visible to readers only after all shards were written.
With --incremental, every shard starts from its state in the latest version.`,
	Args:    cobra.ExactArgs(2),
	PreRunE: processConfig,
	RunE:    run,
}

func init() {
	key := "incremental"
	BuildCmd.Flags().Bool(key, false, util.WrapString("Start from the latest complete version instead of an empty domain"))

	key = "updater"
	BuildCmd.Flags().String(key, "replace", util.WrapString("How records are applied to existing keys (replace, append)"))

	key = "separator"
	BuildCmd.Flags().String(key, "", util.WrapString("Separator placed between appended values (append updater only)"))

	key = "input-format"
	BuildCmd.Flags().String(key, "", util.WrapString("Format of the input (jsonl, csv). Derived from the file extension if empty"))

	key = "cleanup"
	BuildCmd.Flags().Bool(key, false, util.WrapString("Run a version cleanup with --versions-to-keep after a successful build"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

func run(_ *cobra.Command, args []string) error {
	conf := util.GetCLIConfig()

	d, err := util.OpenDomain(args[0], nil, "")
	if err != nil {
		return err
	}

	updater, err := persistence.UpdaterByName(viper.GetString("updater"), []byte(viper.GetString("separator")))
	if err != nil {
		return err
	}

	format := build.InputFormat(viper.GetString("input-format"))
	if format == "" {
		if format, err = build.InputFormatFor(args[1]); err != nil {
			return err
		}
	}

	in := os.Stdin
	if args[1] != "-" {
		if in, err = os.Open(args[1]); err != nil {
			return err
		}
		defer in.Close()
	}
	records, err := build.NewRecordReader(format, in)
	if err != nil {
		return err
	}

	start := time.Now()
	w, err := build.NewWriter(d, &build.Options{
		Incremental:   viper.GetBool("incremental"),
		Updater:       updater,
		TmpDirs:       conf.TmpDirs,
		Parallelism:   conf.Parallelism,
		Lock:          conf.Lock,
		LockTimeout:   conf.LockTimeout,
		ProgressEvery: conf.ProgressEvery,
	})
	if err != nil {
		return err
	}

	n, err := build.Load(w, records)
	if err != nil {
		return multierr.Append(err, w.Abort())
	}
	version, err := w.Commit()
	if err != nil {
		return err
	}
	fmt.Printf("built version %d of %s: %d records in %s\n", version, d.Root(), n, time.Since(start).Round(time.Millisecond))

	if viper.GetBool("cleanup") && conf.VersionsToKeep >= 0 {
		if err := d.Cleanup(conf.VersionsToKeep); err != nil {
			return fmt.Errorf("version %d was built, cleanup failed: %w", version, err)
		}
	}
	return nil
}
