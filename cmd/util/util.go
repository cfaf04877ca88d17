package util

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ValentinKolb/edb/lib/build"
	"github.com/ValentinKolb/edb/lib/common"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/spec"
	"github.com/ValentinKolb/edb/lib/store/dstore"
	"github.com/ValentinKolb/edb/lib/store/vstore"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// Version is the version of the edb binary
	Version = "0.4.2"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// SetupCommonFlags adds the flags shared by all commands
func SetupCommonFlags(cmd *cobra.Command) {
	key := "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("The level at which logs will be output (debug, info, warn, error)"))

	key = "tmp-dirs"
	cmd.PersistentFlags().StringSlice(key, build.DefaultTmpDirs(), WrapString("Local directories shards are built in and downloaded to (comma-separated)"))

	key = "parallelism"
	cmd.PersistentFlags().Int(key, 4, WrapString("How many shards are finalized or copied concurrently"))

	key = "lock"
	cmd.PersistentFlags().Bool(key, false, WrapString("Take the advisory writer lock of the domain while building"))

	key = "lock-timeout"
	cmd.PersistentFlags().Duration(key, 0, WrapString("After which time a writer lock counts as abandoned (0 for never)"))

	key = "progress-every"
	cmd.PersistentFlags().Int(key, 25000, WrapString("Number of records between two progress log lines"))

	key = "versions-to-keep"
	cmd.PersistentFlags().Int(key, -1, WrapString("How many complete versions cleanup keeps (-1 keeps all)"))

	key = "cleanup-grace-period"
	cmd.PersistentFlags().Duration(key, 0, WrapString("Versions younger than this are never removed by cleanup"))

	key = "cache-size"
	cmd.PersistentFlags().Int(key, 10000, WrapString("Number of lookups cached per domain (negative disables the cache)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("edb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper and sets up the loggers
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// GetCLIConfig reads the configuration from viper
func GetCLIConfig() *common.CLIConfig {
	return &common.CLIConfig{
		LogLevel:           viper.GetString("log-level"),
		TmpDirs:            viper.GetStringSlice("tmp-dirs"),
		Parallelism:        viper.GetInt("parallelism"),
		Lock:               viper.GetBool("lock"),
		LockTimeout:        viper.GetDuration("lock-timeout"),
		ProgressEvery:      viper.GetInt("progress-every"),
		VersionsToKeep:     viper.GetInt("versions-to-keep"),
		CleanupGracePeriod: viper.GetDuration("cleanup-grace-period"),
		CacheSize:          viper.GetInt("cache-size"),
	}
}

// --------------------------------------------------------------------------
// Domain Helper
// --------------------------------------------------------------------------

// OpenDomain opens the domain in root on the local filesystem. s may be nil
// for existing domains.
func OpenDomain(root string, s *spec.DomainSpec, format spec.Format) (*dstore.DomainStore, error) {
	conf := GetCLIConfig()
	return dstore.Open(afero.NewOsFs(), root, s, &dstore.Options{
		Versions: vstore.Options{
			CleanupGracePeriod: conf.CleanupGracePeriod,
		},
		SpecFormat:      format,
		SyncParallelism: conf.Parallelism,
	})
}

// ResolveVersion returns version if it is not negative, the most recent
// complete version of the domain otherwise.
func ResolveVersion(d *dstore.DomainStore, version int64) (int64, error) {
	if version >= 0 {
		ok, err := d.HasVersion(version)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("version %d of %s is not complete", version, d.Root())
		}
		return version, nil
	}
	latest, ok, err := d.MostRecentVersion()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("domain %s has no complete version", d.Root())
	}
	return latest, nil
}

// ParseOptions parses engine options given as key=value pairs. Values are
// read as YAML scalars, so numbers and booleans keep their type.
func ParseOptions(pairs []string) (persistence.Options, error) {
	opts := persistence.Options{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid option %q (expected key=value)", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(v), &value); err != nil || value == nil {
			value = v
		}
		opts[k] = value
	}
	return opts, nil
}

// FormatBytes renders stored bytes for terminal output: valid UTF-8 as is,
// anything else as hex.
func FormatBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return fmt.Sprintf("0x%x", b)
}
