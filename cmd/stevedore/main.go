// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface (CLI) for Stevedore using the
// Cobra library. It defines the root command, subcommands (like fetch,
// verify, dockerfile), flags, and the main entry point for execution.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toeirei/stevedore/internal/config"
	"github.com/toeirei/stevedore/internal/db"
	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/logging"
	"github.com/toeirei/stevedore/internal/tui"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

var cfgFile string
var verbose bool
var showVersionFlag bool

var appConfig config.Config

// main is the entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

// newRootCmd creates and configures a new root cobra command. This function
// is used to create the main application command as well as fresh instances
// for isolated testing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stevedore",
		Short: "Stevedore vendors private git dependencies for container builds.",
		Long: `Stevedore fetches SSH-addressed git dependencies into a project-local
hold, pins them in a lockfile, and generates container build files that
copy the pre-fetched archives instead of SSH keys. The build context
stays self-contained: no agent forwarding, no credentials in layers.

Running without a subcommand will launch the interactive TUI.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if showVersionFlag {
				fmt.Printf("%s\n", compositeVersion())
				os.Exit(0)
			}
			if verbose {
				logging.SetDebug(true)
				db.SetDebug(true)
			}
			return setupServices(cmd, args)
		},
		Run: func(cmd *cobra.Command, args []string) {
			// The index and i18n are already initialized by PersistentPreRunE.
			// Language changes made inside the TUI are written back to the
			// user config.
			tui.SetConfigSaver(func(language string) error {
				appConfig.Language = language
				return config.WriteConfigFile(&appConfig, false)
			})
			tui.Run(appConfig.Hold.Dir)
		},
	}

	cmd.Version = compositeVersion()

	// Define flags
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output (also turns on index query logs)")
	cmd.PersistentFlags().BoolVarP(&showVersionFlag, "version", "V", false, "Print version and exit")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `output language ("en", "de")`)
	cmd.PersistentFlags().String("hold.dir", ".stevedore", "project-local hold directory")
	cmd.PersistentFlags().String("database.type", "sqlite", "Index database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database.dsn", "", "Index database connection string (DSN)")

	// Add subcommand flags. Guarded lookups because the subcommands are
	// package-level and newRootCmd may run more than once in tests; pflag
	// panics on duplicate definitions.
	if fetchCmd.Flags().Lookup("locked") == nil {
		fetchCmd.Flags().BoolVar(&lockedFetch, "locked", false, "Fetch exactly the lockfile pins; fail if the manifest has drifted")
	}
	if dockerfileCmd.Flags().Lookup("multi-stage") == nil {
		dockerfileCmd.Flags().BoolVar(&multiStage, "multi-stage", false, "Generate a multi-stage build keeping only the compiled binary")
		dockerfileCmd.Flags().StringVar(&dockerfileOut, "out", "", "Write the Dockerfile to this path instead of ./Dockerfile")
		dockerfileCmd.Flags().BoolVar(&dockerfileForce, "force", false, "Overwrite an existing Dockerfile")
		dockerfileCmd.Flags().BoolVar(&allowDirty, "allow-dirty", false, "Generate even if the build context has credential findings")
	}
	if auditCmd.Flags().Lookup("mode") == nil {
		auditCmd.Flags().StringVarP(&auditMode, "mode", "m", "strict", "Audit mode: 'strict' (any finding fails) or 'warn' (only errors fail)")
	}
	if seedCmd.PersistentFlags().Lookup("key") == nil {
		seedCmd.PersistentFlags().StringVar(&seedKeyPath, "key", "", "Private key file for the seed host (default: ssh agent)")
		seedCmd.PersistentFlags().StringVar(&seedPassphraseFile, "passphrase-file", "", "File holding the key's passphrase")
	}
	if restoreCmd.Flags().Lookup("full") == nil {
		restoreCmd.Flags().BoolVar(&fullRestore, "full", false, "Perform a full, destructive restore (wipes all existing data first)")
	}

	// Add a lightweight `version` subcommand so users and CI can run
	// `stevedore version`.
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			fmt.Printf("version: %s\n", v)
			fmt.Printf("commit: %s\n", c)
			if d != "" {
				fmt.Printf("built: %s\n", d)
			}
		},
	}

	// Add subcommands to the newly created root command.
	cmd.AddCommand(
		initCmd,
		fetchCmd,
		verifyCmd,
		statusCmd,
		pruneCmd,
		dockerfileCmd,
		auditCmd,
		trustHostCmd,
		seedCmd,
		backupCmd,
		restoreCmd,
		migrateCmd,
		dbMaintainCmd,
		versionCmd,
	)

	return cmd
}

// setupServices loads the configuration and initializes i18n and the index
// database. It runs for every subcommand via PersistentPreRunE.
func setupServices(cmd *cobra.Command, args []string) error {
	optionalConfigPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	appConfig, err = config.LoadConfig[config.Config](cmd, config.Defaults(), optionalConfigPath)
	// A "file not found" report is expected on first run: persist the
	// defaults so configuration is discoverable, and keep going.
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		if writeErr := config.WriteConfigFile(&appConfig, false); writeErr != nil {
			log.Warnf("could not write default config file: %v", writeErr)
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// Guard against empty criticals from a hand-edited config file.
	if appConfig.Hold.Dir == "" {
		appConfig.Hold.Dir = config.Defaults()["hold.dir"].(string)
	}
	if appConfig.Database.Type == "" {
		appConfig.Database.Type = config.Defaults()["database.type"].(string)
	}
	if appConfig.Language == "" {
		appConfig.Language = config.Defaults()["language"].(string)
	}

	i18n.Init(appConfig.Language)

	// The sqlite default DSN lives inside the hold; make sure the directory
	// exists before the driver tries to create the file.
	dsn := appConfig.IndexDSN()
	if appConfig.Database.Type == "sqlite" && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("could not create index directory %s: %w", dir, err)
			}
		}
	}

	if err := db.InitDB(appConfig.Database.Type, dsn); err != nil {
		return errors.New(i18n.T("config.error_init_db", err))
	}
	return nil
}

// getConfigPathFromCli returns the config file path when the user set
// --config explicitly, after checking the file is actually there.
func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If `info` is nil, it reads build info from
// the runtime. This helper is separated to make unit testing straightforward.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := version
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if infoLocal, found := debug.ReadBuildInfo(); found {
			info = infoLocal
		}
	}

	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	return resolvedVersion, resolvedCommit, resolvedDate
}

// compositeVersion renders "version (commit) built: date" with the parts
// that are actually known.
func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out = out + " (" + c + ")"
	}
	if d != "" {
		out = out + " built: " + d
	}
	return out
}

// promptForConfirmation displays a prompt and reads a line from stdin.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}
