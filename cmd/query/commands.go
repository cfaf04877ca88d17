package query

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ValentinKolb/edb/cmd/util"
	"github.com/ValentinKolb/edb/lib/build"
	"github.com/ValentinKolb/edb/lib/persistence"
	persistenceUtil "github.com/ValentinKolb/edb/lib/persistence/util"
	"github.com/ValentinKolb/edb/lib/store/dstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

var (
	// GetCmd looks up a single key
	GetCmd = &cobra.Command{
		Use:     "get [root] [key]",
		Short:   "Get the value of a key",
		Args:    cobra.ExactArgs(2),
		PreRunE: bindFlags,
		RunE:    runGet,
	}

	// DumpCmd prints every record of a version
	DumpCmd = &cobra.Command{
		Use:     "dump [root]",
		Short:   "Print every record of a version as JSON lines",
		Args:    cobra.ExactArgs(1),
		PreRunE: bindFlags,
		RunE:    runDump,
	}

	// InspectCmd prints per shard statistics of a version
	InspectCmd = &cobra.Command{
		Use:     "inspect [root]",
		Short:   "Print record counts, value sizes and the shard distribution of a version",
		Args:    cobra.ExactArgs(1),
		PreRunE: bindFlags,
		RunE:    runInspect,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{GetCmd, DumpCmd, InspectCmd} {
		cmd.Flags().Int64("version", -1, util.WrapString("Version to read (latest complete version if negative)"))
	}
	GetCmd.Flags().String("key-type", "string", util.WrapString("How the key argument is interpreted (string, int, json)"))
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

func openVersion(root string) (*dstore.DomainStore, int64, error) {
	d, err := util.OpenDomain(root, nil, "")
	if err != nil {
		return nil, 0, err
	}
	version, err := util.ResolveVersion(d, viper.GetInt64("version"))
	if err != nil {
		return nil, 0, err
	}
	return d, version, nil
}

// parseKey converts the key argument to the value that is passed to the
// key codec of the domain.
func parseKey(d *dstore.DomainStore, raw string) (any, error) {
	switch kt := viper.GetString("key-type"); kt {
	case "", "string":
		return raw, nil
	case "int":
		return strconv.ParseInt(raw, 10, 64)
	case "json":
		var v any
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("key is not valid json: %w", err)
		}
		return build.AdaptForCodec(d.KeyCodec().Kind(), v)
	default:
		return nil, fmt.Errorf("invalid key type %s", kt)
	}
}

func runGet(_ *cobra.Command, args []string) (err error) {
	d, version, err := openVersion(args[0])
	if err != nil {
		return err
	}
	key, err := parseKey(d, args[1])
	if err != nil {
		return err
	}

	shards := d.GetShardSet(version)
	shard, err := shards.ShardIndexFor(key)
	if err != nil {
		return err
	}
	encoded, err := d.KeyCodec().Encode(key)
	if err != nil {
		return err
	}

	p, err := shards.OpenForRead(shard)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, p.Close())
	}()
	kv, ok := p.(persistence.IKeyValPersistence)
	if !ok {
		return fmt.Errorf("engine %s does not support point lookups", d.Spec().Engine())
	}

	value, found, err := kv.Get(encoded)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("key %q not found in version %d (shard %d)", args[1], version, shard)
	}
	fmt.Println(util.FormatBytes(value))
	return nil
}

type dumpRecord struct {
	Shard int    `json:"shard"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func runDump(_ *cobra.Command, args []string) error {
	d, version, err := openVersion(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	return build.Export(d, version, util.GetCLIConfig().TmpDirs, func(shard int, doc persistence.Document) error {
		return enc.Encode(dumpRecord{
			Shard: shard,
			Key:   util.FormatBytes(doc.Key),
			Value: util.FormatBytes(doc.Value),
		})
	})
}

func runInspect(_ *cobra.Command, args []string) error {
	d, version, err := openVersion(args[0])
	if err != nil {
		return err
	}

	counts := make([]float64, d.Spec().NumShards())
	sizes := persistenceUtil.NewSizeHistogram()
	err = build.Export(d, version, util.GetCLIConfig().TmpDirs, func(shard int, doc persistence.Document) error {
		counts[shard]++
		sizes.AddSample(len(doc.Value))
		return nil
	})
	if err != nil {
		return err
	}

	stats := persistenceUtil.NewDistributionStats(counts)
	fmt.Printf("Domain:  %s\n", d.Root())
	fmt.Printf("Version: %d\n", version)
	fmt.Printf("Spec:    %s\n\n", d.Spec())

	fmt.Printf("%-8s%12s\n", "SHARD", "RECORDS")
	for shard, n := range counts {
		fmt.Printf("%-8d%12.0f\n", shard, n)
	}

	fmt.Println()
	fmt.Printf("Records:              %d\n", sizes.Count())
	fmt.Printf("Value bytes:          %d\n", sizes.Sum())
	fmt.Printf("Avg value size:       %d\n", sizes.AverageSize())
	fmt.Printf("Median value size:    ~%d\n", sizes.MedianEstimate())
	fmt.Printf("P99 value size:       ~%d\n", sizes.PercentileEstimate(99))
	fmt.Printf("Records per shard:    min %.0f, max %.0f, mean %.1f, stddev %.1f\n",
		stats.Min, stats.Max, stats.Mean, stats.StdDeviation)
	fmt.Printf("Distribution quality: %.3f (1 is perfectly even)\n", stats.DistributionQuality)
	return nil
}
