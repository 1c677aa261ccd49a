package cli

import (
	"os"

	"github.com/mangadox/mangadox/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// MANGADOX_DATA_DIR env var, or ~/.mangadox as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("MANGADOX_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.mangadox"
}

// openStore opens the SQLite store at the resolved data directory.
func openStore() (*store.Store, error) {
	return store.NewStore(resolveDataDir())
}
