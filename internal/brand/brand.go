// Package brand centralizes product identity and filesystem locations.
// Keeping these in one place makes renaming or repackaging the product a
// one-file change.
package brand

import (
	"os"
	"path/filepath"
)

const (
	// Name is the product name as shown to users.
	Name = "Rampart"

	// LowerName is the name used for tables, sockets and directories.
	LowerName = "rampart"

	// BinaryName is the installed executable name.
	BinaryName = "rampart"

	// ServiceName is the systemd unit name.
	ServiceName = "rampartd"

	// ConfigFileName is the default daemon configuration file.
	ConfigFileName = "rampart.hcl"

	// PolicyFileName is the default policy document.
	PolicyFileName = "policy.json"

	// DefaultConfigDir holds the daemon config and policy documents.
	DefaultConfigDir = "/etc/rampart"

	// DefaultStateDir holds persistent state such as the LKG baseline.
	DefaultStateDir = "/var/lib/rampart"

	// DefaultRunDir holds the control socket and PID file.
	DefaultRunDir = "/run/rampart"

	// TableName is the nftables table owned by this product. Everything
	// under it is ours to enumerate and delete; nothing outside it is
	// ever touched.
	TableName = LowerName
)

// Version is set at build time via -ldflags. Empty means a dev build.
var Version string

// VersionString returns the version for display.
func VersionString() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// GetConfigDir returns the config directory, honoring RAMPART_CONFIG_DIR.
func GetConfigDir() string {
	if dir := os.Getenv("RAMPART_CONFIG_DIR"); dir != "" {
		return dir
	}
	return DefaultConfigDir
}

// GetStateDir returns the state directory, honoring RAMPART_STATE_DIR.
func GetStateDir() string {
	if dir := os.Getenv("RAMPART_STATE_DIR"); dir != "" {
		return dir
	}
	return DefaultStateDir
}

// GetRunDir returns the runtime directory, honoring RAMPART_RUN_DIR.
func GetRunDir() string {
	if dir := os.Getenv("RAMPART_RUN_DIR"); dir != "" {
		return dir
	}
	return DefaultRunDir
}

// SocketPath returns the control plane socket path.
func SocketPath() string {
	return filepath.Join(GetRunDir(), LowerName+".sock")
}

// PIDFilePath returns the daemon PID file path.
func PIDFilePath() string {
	return filepath.Join(GetRunDir(), LowerName+".pid")
}

// DefaultConfigPath returns the default daemon config file path.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// DefaultPolicyPath returns the default policy document path.
func DefaultPolicyPath() string {
	return filepath.Join(GetConfigDir(), PolicyFileName)
}

// LKGPath returns the default last-known-good baseline path.
func LKGPath() string {
	return filepath.Join(GetStateDir(), "lkg.json")
}
