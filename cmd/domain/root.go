package domain

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/edb/cmd/util"
	"github.com/ValentinKolb/edb/lib/codec"
	"github.com/ValentinKolb/edb/lib/persistence"
	_ "github.com/ValentinKolb/edb/lib/persistence/engines/all"
	"github.com/ValentinKolb/edb/lib/sharding"
	"github.com/ValentinKolb/edb/lib/spec"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// DomainCommands represents the domain command group
	DomainCommands = &cobra.Command{
		Use:               "domain",
		Short:             "Create and describe domains",
		PersistentPreRunE: bindFlags,
	}

	createCmd = &cobra.Command{
		Use:   "create [root]",
		Short: "Create a new domain",
		Long: `Create a new domain in the given directory by writing its domain spec.
If the directory already holds a domain, the command succeeds only if the
given spec equals the stored one.`,
		Args: cobra.ExactArgs(1),
		RunE: runCreate,
	}

	infoCmd = &cobra.Command{
		Use:   "info [root]",
		Short: "Print the spec and the versions of a domain",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}
)

func init() {
	DomainCommands.AddCommand(createCmd)
	DomainCommands.AddCommand(infoCmd)

	key := "shards"
	createCmd.Flags().Int(key, 0, util.WrapString("Number of shards of the domain (required)"))

	key = "engine"
	createCmd.Flags().String(key, string(persistence.KindPebble), util.WrapString(fmt.Sprintf("Storage engine of the shards (%s)", joinKinds(persistence.Kinds()))))

	key = "scheme"
	createCmd.Flags().String(key, string(sharding.KindHashMod), util.WrapString(fmt.Sprintf("Sharding scheme (%s)", joinKinds(sharding.Kinds()))))

	key = "opt"
	createCmd.Flags().StringArray(key, nil, util.WrapString("Engine option as key=value, can be repeated (e.g. --opt compression=zstd)"))

	key = "key-codec"
	createCmd.Flags().String(key, string(codec.KindBinary), util.WrapString(fmt.Sprintf("Codec of the keys (%s)", joinKinds(codec.Kinds()))))

	key = "value-codec"
	createCmd.Flags().String(key, string(codec.KindBinary), util.WrapString(fmt.Sprintf("Codec of the values (%s)", joinKinds(codec.Kinds()))))

	key = "format"
	createCmd.Flags().String(key, string(spec.FormatYAML), util.WrapString("Format of the domain spec file (yaml, toml)"))
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	pairs, err := cmd.Flags().GetStringArray("opt")
	if err != nil {
		return err
	}
	opts, err := util.ParseOptions(pairs)
	if err != nil {
		return err
	}
	format, err := spec.ParseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}

	s, err := spec.New(
		viper.GetInt("shards"),
		persistence.Kind(viper.GetString("engine")),
		sharding.Kind(viper.GetString("scheme")),
		opts,
		spec.WithCodecs(codec.Kind(viper.GetString("key-codec")), codec.Kind(viper.GetString("value-codec"))),
	)
	if err != nil {
		return err
	}

	d, err := util.OpenDomain(args[0], s, format)
	if err != nil {
		return err
	}
	fmt.Printf("domain %s ready\n%s\n", d.Root(), d.Spec())
	return nil
}

func runInfo(_ *cobra.Command, args []string) error {
	d, err := util.OpenDomain(args[0], nil, "")
	if err != nil {
		return err
	}
	versions, err := d.GetAllVersions()
	if err != nil {
		return err
	}

	fmt.Printf("Domain:   %s\n", d.Root())
	fmt.Printf("Spec:     %s\n", d.Spec())
	fmt.Printf("Versions: %d complete\n", len(versions))
	if len(versions) > 0 {
		fmt.Printf("Latest:   %d (%s)\n", versions[0], d.VersionPath(versions[0]))
	}
	return nil
}

func joinKinds[K ~string](kinds []K) string {
	s := make([]string, len(kinds))
	for i, k := range kinds {
		s[i] = string(k)
	}
	return strings.Join(s, ", ")
}
