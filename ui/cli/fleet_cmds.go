// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/toeirei/keymaster-chatops/internal/deploy"
	"github.com/toeirei/keymaster-chatops/internal/i18n"
	"github.com/toeirei/keymaster-chatops/internal/logging"
	"github.com/toeirei/keymaster-chatops/internal/security"
	"golang.org/x/crypto/ssh"
)

// clipboardWrite is a package-level variable so tests can capture copies.
var clipboardWrite = clipboard.WriteAll

// newRunCmd dispatches one chat command, the same way the chat integration
// does, and prints the reply.
func newRunCmd() *cobra.Command {
	var copyPassword bool
	cmd := &cobra.Command{
		Use:   "run <identity> <command> [args...]",
		Short: "Run a chat command on behalf of an identity",
		Long: `Dispatches a chat command (BindAccount, AddNewPublicKey, GenerateNewPassword, ...)
as if <identity> had sent it and prints the reply. Send "Help" for the list.

Example:
  keymaster-chatops run U024BE7LH AddNewPublicKey ssh-rsa AAAA... me@laptop`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			var onRotated func(string, security.Secret)
			if copyPassword {
				onRotated = func(_ string, pw security.Secret) {
					if err := clipboardWrite(pw.Reveal()); err != nil {
						logging.Warnf("could not copy password to clipboard: %v", err)
						return
					}
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.copied"))
				}
			}

			reply, err := svc.router(onRotated).Handle(cmd.Context(), args[0], args[1], args[2:])
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), reply)
			return err
		},
	}
	cmd.Flags().BoolVar(&copyPassword, "copy", false, "Copy a generated password to the clipboard")
	// Everything after the identity belongs to the chat command.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Lock the passwords of every account on every host",
		Long: `Runs 'passwd -l' for every account in the allow-list on every host in the roster.
Intended to be triggered by an external scheduler (cron, systemd timer) so that
passwords handed out by GenerateNewPassword expire.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, i18n.T("cli.sweep_start", len(svc.sweeper.Accounts), svc.roster.Len()))
			outcome, err := svc.sweeper.LockAll(cmd.Context())
			_, _ = fmt.Fprintln(out, i18n.T("cli.sweep_done", outcome.Summary()))
			if err == nil {
				_ = svc.store.LogAction(cmd.Context(), "cli", "SWEEP", outcome.Summary())
			}
			return err
		},
	}
}

func newHostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List the host roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			roster, err := appConfig.Roster()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, h := range roster.Hosts() {
				_, _ = fmt.Fprintf(out, "%s\t%s\n", h.Alias, deploy.CanonicalizeHostPort(h.Address))
			}
			return nil
		},
	}
}

func newTrustHostCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "trust-host <alias>",
		Short: "Add a roster host's public key to known_hosts",
		Long: `Connects to a roster host, retrieves its public key and, after confirmation,
appends it to the known_hosts file used for every fleet connection. This is
required once per host before credentials can be pushed to it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roster, err := appConfig.Roster()
			if err != nil {
				return err
			}
			host, ok := roster.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown host alias %q", args[0])
			}
			khPath, err := knownHostsPath(appConfig)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			addr := deploy.CanonicalizeHostPort(host.Address)
			_, _ = fmt.Fprintln(out, i18n.T("cli.trust_retrieving", addr))
			key, err := deploy.GetRemoteHostKey(cmd.Context(), addr)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "The authenticity of host '%s' can't be established.\n", addr)
			_, _ = fmt.Fprintf(out, "%s key fingerprint is %s.\n", key.Type(), ssh.FingerprintSHA256(key))

			if !yes {
				ans := promptForConfirmation(cmd.InOrStdin(), out, "Are you sure you want to continue connecting (yes/no)? ")
				if ans != "yes" && ans != "y" {
					_, _ = fmt.Fprintln(out, "Cancelled.")
					return nil
				}
			}
			if err := deploy.AppendKnownHost(khPath, addr, key); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, i18n.T("cli.trust_added", addr, key.Type(), khPath))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Trust the key without asking")
	return cmd
}
