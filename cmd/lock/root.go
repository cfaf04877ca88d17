package lock

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/edb/cmd/util"
	"github.com/ValentinKolb/edb/lib/build"
	"github.com/ValentinKolb/edb/lib/lockmgr"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	lockMgr        lockmgr.ILockManager
	acquireTimeout time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:   "lock",
		Short: "Take or release the writer lock of a domain",
		Long: `Take or release the advisory writer lock of a domain by hand, e.g. to
keep builds (edb build --lock) away while a domain is repaired.`,
		PersistentPreRunE: setupLockManager,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [root]",
		Short: "Acquire the writer lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [root] [ownerID]",
		Short: "Release a previously acquired writer lock",
		Long:  "Release the writer lock using the owner ID. The owner ID is the hex string returned by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	acquireCmd.Flags().DurationVar(&acquireTimeout, "timeout", 0, "After which time the lock counts as abandoned (0 for never)")
}

// setupLockManager creates the lock manager for the domain root
func setupLockManager(cmd *cobra.Command, args []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("missing domain root")
	}
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	lockMgr = lockmgr.NewLockManager(afero.NewOsFs(), root)
	return nil
}

// runAcquire handles the acquire lock command
func runAcquire(_ *cobra.Command, args []string) error {
	acquired, ownerID, err := lockMgr.AcquireLock(build.WriterLockKey, acquireTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	if !acquired {
		fmt.Printf("acquired=false\n")
		return nil
	}

	fmt.Printf("acquired=true, ownerId=%s\n", hex.EncodeToString(ownerID))
	return nil
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	ownerID, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid owner ID format: %v", err)
	}

	released, err := lockMgr.ReleaseLock(build.WriterLockKey, ownerID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}

	fmt.Printf("released=%v\n", released)
	return nil
}
