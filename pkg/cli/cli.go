// Package cli provides the command-line interface for settings-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"s"},
		Usage:   "adb serial of the device (default: first ready device)",
		EnvVars: []string{"SETTINGS_RUNNER_DEVICE", "ANDROID_SERIAL"},
	},
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Config file (default: settings-runner.yaml in the working directory)",
		EnvVars: []string{"SETTINGS_RUNNER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "own-package",
		Usage:   "Package of the automating app",
		EnvVars: []string{"SETTINGS_RUNNER_OWN_PACKAGE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"SETTINGS_RUNNER_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Log file path (default: <home>/logs/settings-runner.log)",
		EnvVars: []string{"SETTINGS_RUNNER_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:  "mock",
		Usage: "Run against an in-memory device instead of adb",
	},
}

// NewApp builds the settings-runner application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "settings-runner",
		Usage:   "Accessibility automation of the Android Settings app",
		Version: Version,
		Description: `settings-runner drives the Settings app of an adb-connected device
through the UIAutomator2 accessibility tree and returns to the automating
app when it is done.

Examples:
  settings-runner check-access --service eu.example.cleaner/.ACService
  settings-runner snapshot pre.yaml
  settings-runner classify pre.yaml post.yaml
  settings-runner --own-package eu.example.cleaner recover`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			devicesCommand,
			checkAccessCommand,
			waitRootCommand,
			tapCommand,
			recoverCommand,
			snapshotCommand,
			classifyCommand,
			clearCacheCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStatus(err))
	}
}

// exitStatus maps an error to the process exit status by category.
func exitStatus(err error) int {
	switch core.CategoryOf(err) {
	case core.ErrCategoryCancelled:
		return 130
	case core.ErrCategoryTimeout:
		return 124
	case core.ErrCategoryAuthorization:
		return 4
	case core.ErrCategoryConfig:
		return 5
	default:
		return 1
	}
}
