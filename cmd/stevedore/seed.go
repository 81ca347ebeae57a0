// Copyright (c) 2025 ToeiRei
// Stevedore - private dependency vendoring for container builds
// This source code is licensed under the MIT license found in the LICENSE file.

// seed.go implements the shared-hold transport commands: trust-host pins a
// remote's SSH key, seed push/pull move archives to and from a seed host.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/toeirei/stevedore/internal/db"
	"github.com/toeirei/stevedore/internal/hold"
	"github.com/toeirei/stevedore/internal/i18n"
	"github.com/toeirei/stevedore/internal/lockfile"
	"github.com/toeirei/stevedore/internal/model"
	"github.com/toeirei/stevedore/internal/seed"
	"github.com/toeirei/stevedore/internal/state"
	"github.com/toeirei/stevedore/util/slicest"
)

// Flags shared by the seed subcommands.
var seedKeyPath string
var seedPassphraseFile string

// trustHostCmd pins a seed host's public key after showing its fingerprint.
var trustHostCmd = &cobra.Command{
	Use:   "trust-host <host>",
	Short: "Pin a seed host's public key in the known hosts index",
	Long: `Connects to a host for the first time, retrieves its public key, and
prompts before pinning it. Seeding refuses hosts that have not been
pinned, and fails loudly when a pinned key changes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := args[0]
		if strings.Contains(target, "@") {
			parts := strings.SplitN(target, "@", 2)
			target = parts[1]
		}
		hostname, _, err := seed.ParseHostPort(target)
		if err != nil {
			log.Fatalf("%s", i18n.T("trust_host.error_get_key", err))
		}

		fmt.Println(i18n.T("trust_host.retrieving_key", target))
		key, err := seed.GetRemoteHostKey(target)
		if err != nil {
			log.Fatalf("%s", i18n.T("trust_host.error_get_key", err))
		}

		fingerprint := ssh.FingerprintSHA256(key)
		fmt.Printf("\n"+i18n.T("trust_host.authenticity_warning_1")+"\n", hostname)
		fmt.Printf(i18n.T("trust_host.authenticity_warning_2")+"\n", key.Type(), fingerprint)

		answer := promptForConfirmation(i18n.T("trust_host.confirm_prompt"))
		if answer != "yes" {
			fmt.Println(i18n.T("trust_host.not_trusted_abort"))
			os.Exit(1)
		}

		// Pinned under the bare hostname; the seed transport strips ports
		// before lookup.
		keyStr := string(ssh.MarshalAuthorizedKey(key))
		if err := db.AddKnownHostKey(hostname, keyStr); err != nil {
			log.Fatalf("%s", i18n.T("trust_host.error_save_key", err))
		}
		_ = db.LogAction("TRUST_HOST", fmt.Sprintf("host: %s, type: %s, fingerprint: %s", hostname, key.Type(), fingerprint))

		fmt.Println(i18n.T("trust_host.added_success", hostname, key.Type()))
	},
}

// seedCmd groups the push/pull transport subcommands.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Copy hold archives to or from a shared seed host",
	Long: `Seeding copies lockfile-referenced archives between the local hold and a
directory on an SFTP host, so other machines (or CI) can populate their
holds without any access to the upstream repositories.`,
}

func init() {
	seedCmd.AddCommand(seedPushCmd)
	seedCmd.AddCommand(seedPullCmd)
}

// seedPushCmd uploads lockfile-referenced archives to the seed host.
var seedPushCmd = &cobra.Command{
	Use:   "push <user@host:path>",
	Short: "Upload hold archives to a seed host",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target, deps := seedTarget(args[0])

		h, err := hold.Open(appConfig.Hold.Dir)
		if err != nil {
			log.Fatalf("%s", i18n.T("seed.cli_error_hold", err))
		}

		seeder := connectSeeder(target)
		defer seeder.Close()

		pushed, err := seeder.Push(h, deps, target.Path)
		if err != nil {
			_ = db.LogAction("SEED_PUSH_FAIL", fmt.Sprintf("host: %s, error: %v", target.Host, err))
			log.Fatalf("%s", i18n.T("seed.cli_error_push", err))
		}
		_ = db.LogAction("SEED_PUSH", fmt.Sprintf("host: %s, path: %s, uploaded: %d", target.Host, target.Path, pushed))
		fmt.Println(i18n.T("seed.cli_push_done", pushed, len(deps)))
	},
}

// seedPullCmd downloads missing archives from the seed host into the hold.
var seedPullCmd = &cobra.Command{
	Use:   "pull <user@host:path>",
	Short: "Download missing archives from a seed host into the hold",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target, deps := seedTarget(args[0])

		h, err := hold.Open(appConfig.Hold.Dir)
		if err != nil {
			log.Fatalf("%s", i18n.T("seed.cli_error_hold", err))
		}
		release, err := h.Lock()
		if err != nil {
			log.Fatalf("%s", i18n.T("seed.cli_error_hold", err))
		}
		defer release()

		seeder := connectSeeder(target)
		defer seeder.Close()

		pulled, err := seeder.Pull(h, deps, target.Path)
		for _, art := range pulled {
			if _, ierr := db.AddArtifact(art); ierr != nil {
				log.Warnf("%s", i18n.T("seed.cli_error_index", art.Name, ierr))
			}
		}
		if err != nil {
			_ = db.LogAction("SEED_PULL_FAIL", fmt.Sprintf("host: %s, error: %v", target.Host, err))
			log.Fatalf("%s", i18n.T("seed.cli_error_pull", err))
		}
		_ = db.LogAction("SEED_PULL", fmt.Sprintf("host: %s, path: %s, pulled: %d", target.Host, target.Path, len(pulled)))
		fmt.Println(i18n.T("seed.cli_pull_done", len(pulled), len(deps)))
	},
}

// seedTarget parses the destination and loads the pins to transport.
// Nothing moves without a lockfile; the pins are what make remote
// archives trustworthy.
func seedTarget(raw string) (seed.Target, []model.LockedDependency) {
	target, err := seed.ParseTarget(raw)
	if err != nil {
		log.Fatalf("%v", err)
	}
	lf, err := lockfile.Read(lockfile.Filename)
	if errors.Is(err, os.ErrNotExist) {
		log.Fatalf("%s", i18n.T("seed.cli_no_lockfile"))
	} else if err != nil {
		log.Fatalf("%s", i18n.T("seed.cli_error_lockfile", err))
	}
	deps := slicest.Map(lf.Packages, func(p lockfile.Package) model.LockedDependency {
		return p.Locked()
	})
	return target, deps
}

// connectSeeder dials the seed host with the configured key (if any) and
// the agent fallback.
func connectSeeder(target seed.Target) *seed.Seeder {
	keyPEM := readSeedKey()
	fmt.Println(i18n.T("seed.cli_connecting", target.User, target.Host))
	seeder, err := seed.NewSeeder(target.Host, target.User, keyPEM)
	if err != nil {
		log.Fatalf("%s", i18n.T("seed.cli_error_connect", seed.ClassifyConnectionError(target.Host, err)))
	}
	return seeder
}

// readSeedKey loads the configured private key and arranges its
// passphrase: from --passphrase-file when given, otherwise by prompting
// when the key turns out to be encrypted.
func readSeedKey() []byte {
	if seedKeyPath == "" {
		return nil
	}
	keyPEM, err := os.ReadFile(seedKeyPath)
	if err != nil {
		log.Fatalf("%s", i18n.T("seed.cli_error_key", seedKeyPath, err))
	}

	if seedPassphraseFile != "" {
		data, err := os.ReadFile(seedPassphraseFile)
		if err != nil {
			log.Fatalf("%s", i18n.T("seed.cli_error_passfile", err))
		}
		state.PassphraseCache.Set(bytes.TrimSpace(data))
		return keyPEM
	}

	if _, err := ssh.ParsePrivateKey(keyPEM); err != nil {
		var pmErr *ssh.PassphraseMissingError
		if errors.As(err, &pmErr) {
			fmt.Print(i18n.T("seed.cli_passphrase_prompt", seedKeyPath))
			pass, rerr := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if rerr != nil {
				log.Fatalf("%s", i18n.T("seed.cli_error_passphrase", rerr))
			}
			state.PassphraseCache.Set(pass)
		}
		// Other parse failures surface from the connection attempt with
		// full context.
	}
	return keyPEM
}
