//go:build linux

package convert

import (
	"os"
	"path/filepath"
)

// getDefaultDataDir returns the default artifact directory for Linux.
// Uses $XDG_DATA_HOME/<appName>/artifacts/ if set,
// otherwise ~/.local/share/<appName>/artifacts/
func getDefaultDataDir(appName string) (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appName, "artifacts"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", appName, "artifacts"), nil
}
