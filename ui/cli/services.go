// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/keymaster-chatops/internal/config"
	"github.com/toeirei/keymaster-chatops/internal/db"
	"github.com/toeirei/keymaster-chatops/internal/deploy"
	"github.com/toeirei/keymaster-chatops/internal/directory"
	"github.com/toeirei/keymaster-chatops/internal/fleet"
	"github.com/toeirei/keymaster-chatops/internal/i18n"
	"github.com/toeirei/keymaster-chatops/internal/model"
	"github.com/toeirei/keymaster-chatops/internal/router"
	"github.com/toeirei/keymaster-chatops/internal/security"
	"github.com/toeirei/keymaster-chatops/internal/state"
	"github.com/toeirei/keymaster-chatops/internal/sweep"
	"golang.org/x/term"
)

// passphrases keeps a private key passphrase entered at the prompt for the
// rest of the process.
var passphrases state.Mailbox

// newDialer is a package-level variable so tests can swap in a fake fleet.
var newDialer = sshDialer

// stdinIsTerminal gates every interactive prompt.
var stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// services is everything a fleet-facing command needs.
type services struct {
	store   *db.BunStore
	roster  model.Roster
	dir     *directory.Directory
	sweeper sweep.Sweeper
}

func (s *services) Close() {
	_ = s.store.Close()
}

func openStore() (*db.BunStore, error) {
	store, err := db.NewStoreFromDSN(appConfig.Database.Type, appConfig.Database.Dsn)
	if err != nil {
		return nil, errors.New(i18n.T("cli.error_init_db", err))
	}
	return store, nil
}

// buildServices validates the loaded config and wires store, executor and
// directory together.
func buildServices(cmd *cobra.Command) (*services, error) {
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	roster, err := appConfig.Roster()
	if err != nil {
		return nil, err
	}
	dialer, err := newDialer(cmd, appConfig)
	if err != nil {
		return nil, err
	}
	store, err := openStore()
	if err != nil {
		return nil, err
	}

	exec := fleet.New(dialer, fleet.Options{
		Concurrency: appConfig.Fleet.Concurrency,
		HostTimeout: appConfig.Fleet.HostTimeout,
	})
	dir, err := directory.New(store, exec, directory.Config{
		Accounts: appConfig.Accounts,
		Roster:   roster,
		Tag:      appConfig.ManagementTag,
		HomeRoot: appConfig.HomeRoot,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &services{
		store:   store,
		roster:  roster,
		dir:     dir,
		sweeper: sweep.Sweeper{Runner: exec, Roster: roster, Accounts: appConfig.Accounts},
	}, nil
}

func (s *services) router(onRotated func(string, security.Secret)) *router.Router {
	return router.New(s.dir, s.sweeper, router.Options{
		Admins:            router.NewAdminList(appConfig.Admins...),
		AdminCacheTTL:     appConfig.AdminCacheTTL,
		PerMinute:         appConfig.RateLimit.PerMinute,
		Burst:             appConfig.RateLimit.Burst,
		OnPasswordRotated: onRotated,
	})
}

// knownHostsPath returns the configured known_hosts file or the one next to
// the user config file.
func knownHostsPath(cfg config.Config) (string, error) {
	if cfg.SSH.KnownHosts != "" {
		return expandHome(cfg.SSH.KnownHosts), nil
	}
	p, err := config.GetConfigPath(false)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(p), "known_hosts"), nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func sshDialer(cmd *cobra.Command, cfg config.Config) (fleet.Dialer, error) {
	khPath, err := knownHostsPath(cfg)
	if err != nil {
		return nil, err
	}
	dcfg := deploy.Config{
		User:           cfg.SSH.User,
		KnownHostsPath: khPath,
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		Passphrase:     passphrases.Get(),
	}
	defer func() { clear(dcfg.Passphrase) }()

	keyPath := expandHome(cfg.SSH.PrivateKeyPath)
	if keyPath != "" {
		dcfg.PrivateKey, err = os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key %s: %w", keyPath, err)
		}
	}

	d, err := deploy.NewSSHDialer(dcfg)
	if errors.Is(err, deploy.ErrPassphraseRequired) && stdinIsTerminal() {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), i18n.T("cli.passphrase_prompt", keyPath))
		pw, rerr := term.ReadPassword(int(os.Stdin.Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if rerr != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", rerr)
		}
		passphrases.Set(pw)
		clear(pw)
		clear(dcfg.Passphrase)
		dcfg.Passphrase = passphrases.Get()
		d, err = deploy.NewSSHDialer(dcfg)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// promptForConfirmation displays a prompt and reads a line from in.
func promptForConfirmation(in io.Reader, out io.Writer, prompt string) string {
	_, _ = fmt.Fprint(out, prompt)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}
