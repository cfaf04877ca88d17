package serve

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/edb/cmd/util"
	"github.com/ValentinKolb/edb/lib/serve"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

var ServeCmd = &cobra.Command{
	Use:   "serve [root]...",
	Short: "Serve lookups from the latest versions of one or more domains",
	Long: `Open the latest version of every given domain and answer lookups read
from stdin, one per line. With a single domain a line is just the key, with
several domains a line is "<domain> <key>" where <domain> is the base name of
the domain directory.

New versions are picked up in the background (see --poll-interval and --watch)
and swapped in without interrupting lookups.`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: processConfig,
	RunE:    run,
}

func init() {
	key := "poll-interval"
	ServeCmd.Flags().Duration(key, 30*time.Second, cmdUtil.WrapString("How often the domains are checked for new versions"))

	key = "watch"
	ServeCmd.Flags().Bool(key, true, cmdUtil.WrapString("Watch the domain directories for new versions instead of only polling"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	return cmdUtil.BindCommandFlags(cmd)
}

func run(_ *cobra.Command, args []string) (err error) {
	conf := cmdUtil.GetCLIConfig()
	registry := serve.NewRegistry()
	defer func() {
		err = multierr.Append(err, registry.Close())
	}()

	for _, root := range args {
		d, err := cmdUtil.OpenDomain(root, nil, "")
		if err != nil {
			return err
		}
		loader, err := serve.NewLoader(d, &serve.Options{
			CacheSize:    conf.CacheSize,
			PollInterval: viper.GetDuration("poll-interval"),
			Watch:        viper.GetBool("watch"),
			TmpDirs:      conf.TmpDirs,
		})
		if err != nil {
			return err
		}
		if err := registry.Register(filepath.Base(d.Root()), loader); err != nil {
			_ = loader.Close()
			return err
		}
	}
	if err := registry.RefreshAll(); err != nil {
		return err
	}
	for _, name := range registry.Names() {
		loader, _ := registry.Get(name)
		if v, ok := loader.Version(); ok {
			fmt.Fprintf(os.Stderr, "serving %s at version %d\n", name, v)
		} else {
			fmt.Fprintf(os.Stderr, "serving %s (no complete version yet)\n", name)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- registry.Run(ctx) }()

	lookupErr := answerLookups(ctx, registry)
	cancel()
	if runErr := <-done; runErr != nil && !errors.Is(runErr, context.Canceled) {
		return multierr.Append(lookupErr, runErr)
	}
	return lookupErr
}

// answerLookups reads lookups from stdin until EOF or ctx is done.
func answerLookups(ctx context.Context, registry *serve.Registry) error {
	names := registry.Names()
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	// unblock the scanner on shutdown
	stop := context.AfterFunc(ctx, func() { _ = os.Stdin.Close() })
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		name, key := names[0], line
		if len(names) > 1 {
			var ok bool
			if name, key, ok = strings.Cut(line, " "); !ok {
				fmt.Fprintf(out, "error: expected \"<domain> <key>\"\n")
				_ = out.Flush()
				continue
			}
		}
		loader, ok := registry.Get(name)
		if !ok {
			fmt.Fprintf(out, "error: unknown domain %q\n", name)
			_ = out.Flush()
			continue
		}

		value, found, err := loader.Get(key)
		switch {
		case err != nil:
			fmt.Fprintf(out, "error: %v\n", err)
		case !found:
			fmt.Fprintln(out, "<not found>")
		default:
			fmt.Fprintln(out, cmdUtil.FormatBytes(value))
		}
		_ = out.Flush()
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}
