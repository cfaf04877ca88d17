package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// CLI configuration struct
// --------------------------------------------------------------------------

// CLIConfig holds the settings shared by all edb commands. They are read
// from flags, EDB_* environment variables and .env files.
type CLIConfig struct {
	// Logging configuration
	LogLevel string

	// Local scratch directories for shard builds and downloads
	TmpDirs []string

	// Build settings
	Parallelism   int
	Lock          bool
	LockTimeout   time.Duration
	ProgressEvery int

	// Version retention
	VersionsToKeep     int
	CleanupGracePeriod time.Duration

	// Lookup settings
	CacheSize int
}

// String returns a formatted string representation of the configuration
func (c *CLIConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Build")
	addField("Tmp Dirs", strings.Join(c.TmpDirs, ", "))
	addField("Parallelism", strconv.Itoa(c.Parallelism))
	addField("Writer Lock", fmt.Sprintf("%t (timeout %s)", c.Lock, c.LockTimeout))
	addField("Progress Every", fmt.Sprintf("%d records", c.ProgressEvery))

	addSection("Versions")
	if c.VersionsToKeep < 0 {
		addField("Versions To Keep", "all")
	} else {
		addField("Versions To Keep", strconv.Itoa(c.VersionsToKeep))
	}
	addField("Cleanup Grace Period", c.CleanupGracePeriod.String())

	addSection("Lookups")
	addField("Cache Size", strconv.Itoa(c.CacheSize))
	return sb.String()
}
