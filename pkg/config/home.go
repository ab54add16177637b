package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "SETTINGS_RUNNER_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the settings-runner home directory.
//
// Resolution order:
//  1. $SETTINGS_RUNNER_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetLogsDir returns <home>/logs.
func GetLogsDir() string {
	return filepath.Join(GetHome(), "logs")
}

// GetDefaultLogPath returns <home>/logs/settings-runner.log.
func GetDefaultLogPath() string {
	return filepath.Join(GetLogsDir(), "settings-runner.log")
}

// GetDriversDir returns <home>/drivers/<platform>.
func GetDriversDir(platform string) string {
	return filepath.Join(GetHome(), "drivers", platform)
}

func resolveHome() string {
	exe, err := os.Executable()
	if err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
	}
	cwd, _ := os.Getwd()
	return homeFrom(os.Getenv(envHome), exe, cwd)
}

// homeFrom picks the home from the environment value, the executable path
// and the working directory, in that order. An executable counts only when
// it sits in a bin/ directory.
func homeFrom(env, exe, cwd string) string {
	if env != "" {
		return env
	}
	if exe != "" {
		if binDir := filepath.Dir(exe); filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}
	if cwd != "" {
		return cwd
	}
	return "."
}
