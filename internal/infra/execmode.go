// Package infra implements infrastructure concerns.
package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the agent.
type ExecMode string

const (
	// ExecModeUser runs as a systemd user service. Kill-only blocking of the user's own processes.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root under a system unit. Processes can be suspended.
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode    ExecMode
	UnitDir string // Where the systemd unit is installed
	DataDir string // Where the encrypted state and key live
	IsRoot  bool   // Whether running as root
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	return execModeFor(os.Geteuid() == 0, GetRealUserHome())
}

func execModeFor(isRoot bool, home string) *ExecModeConfig {
	if isRoot {
		return &ExecModeConfig{
			Mode:    ExecModeSystem,
			UnitDir: "/etc/systemd/system",
			DataDir: "/var/lib/childmon",
			IsRoot:  true,
		}
	}
	return &ExecModeConfig{
		Mode:    ExecModeUser,
		UnitDir: filepath.Join(home, ".config", "systemd", "user"),
		DataDir: filepath.Join(home, ".childmon"),
		IsRoot:  false,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (systemd system unit, root)"
	case ExecModeUser:
		return "user (systemd user unit, non-root)"
	default:
		return "unknown"
	}
}

// ResolveDataDir returns configured when set, else the mode's default data directory.
func (c *ExecModeConfig) ResolveDataDir(configured string) string {
	if configured != "" {
		return configured
	}
	return c.DataDir
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so SUDO_USER is used instead.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
