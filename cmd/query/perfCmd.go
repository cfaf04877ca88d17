package query

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/ValentinKolb/edb/cmd/util"
	"github.com/ValentinKolb/edb/lib/build"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/serve"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// BenchCmd measures lookup performance against the latest version of a domain
	BenchCmd = &cobra.Command{
		Use:     "bench [root]",
		Short:   "Measure lookup performance of a domain",
		Long:    "Loads the latest version of a domain like a serving process would and measures point lookups of existing and missing keys, with and without the lookup cache.",
		Args:    cobra.ExactArgs(1),
		PreRunE: processPerfConfig,
		RunE:    runBench,
	}
	perfNumThreads = 10
	perfKeySpread  = 1000
)

// errEnoughKeys stops the key sampling export early.
var errEnoughKeys = errors.New("enough keys")

func init() {
	key := "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "keys"
	BenchCmd.Flags().Int(key, 1000, util.WrapString("How many existing keys are sampled from the domain for the tests"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	return nil
}

func runBench(_ *cobra.Command, args []string) error {
	conf := util.GetCLIConfig()
	d, err := util.OpenDomain(args[0], nil, "")
	if err != nil {
		return err
	}
	version, err := util.ResolveVersion(d, -1)
	if err != nil {
		return err
	}

	// sample existing keys
	keys := make([][]byte, 0, perfKeySpread)
	err = build.Export(d, version, conf.TmpDirs, func(_ int, doc persistence.Document) error {
		keys = append(keys, doc.Key)
		if len(keys) >= perfKeySpread {
			return errEnoughKeys
		}
		return nil
	})
	if err != nil && !errors.Is(err, errEnoughKeys) {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("version %d of %s is empty", version, d.Root())
	}
	missing := make([][]byte, len(keys))
	for i := range missing {
		missing[i] = []byte(fmt.Sprintf("__bench-missing-%d", i))
	}

	fmt.Println("Lookup performance of", d.Root())
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Print(conf.String())
	fmt.Printf("\nVersion: %d\nThreads: %d\nKeys:    %d\n\n", version, perfNumThreads, len(keys))

	fmt.Println("starting tests...")
	results := make(map[string]testing.BenchmarkResult)

	for _, tc := range []struct {
		name      string
		cacheSize int
		keys      [][]byte
	}{
		{"get", -1, keys},
		{"get-missing", -1, missing},
		{"get-cached", conf.CacheSize, keys},
	} {
		loader, err := serve.NewLoader(d, &serve.Options{CacheSize: tc.cacheSize, TmpDirs: conf.TmpDirs})
		if err != nil {
			return err
		}
		if _, err := loader.Refresh(); err != nil {
			_ = loader.Close()
			return err
		}

		result := testing.Benchmark(func(b *testing.B) {
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if _, _, err := loader.GetBytes(tc.keys[counter%len(tc.keys)]); err != nil {
						b.Errorf("(%s) - error getting key: %v", tc.name, err)
						return
					}
					counter++
				}
			})
		})
		if err := loader.Close(); err != nil {
			return err
		}

		results[tc.name] = result
		printResult(tc.name, result)
	}

	if path := viper.GetString("csv"); path != "" {
		if err := writeResultsToCSV(path, results, len(keys)); err != nil {
			return err
		}
		fmt.Println("results written to", path)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, keyCount int) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Threads", "Keys Count"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		nsPerOp := math.Max(float64(result.NsPerOp()), 1)
		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(keyCount),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
