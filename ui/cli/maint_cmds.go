// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/keymaster-chatops/internal/config"
	sshcrypto "github.com/toeirei/keymaster-chatops/internal/crypto/ssh"
	"github.com/toeirei/keymaster-chatops/internal/db"
	"github.com/toeirei/keymaster-chatops/internal/i18n"
	"github.com/toeirei/keymaster-chatops/internal/security"
	"golang.org/x/term"
)

func newSystemKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system-key",
		Short: "Manage the key the fleet executor logs in with",
	}
	var comment string
	generate := &cobra.Command{
		Use:   "generate <path>",
		Short: "Generate a new ed25519 system key pair",
		Long: `Writes a new ed25519 private key to <path> and its public half to <path>.pub.
Install the public key for the configured ssh.user on every host, then point
ssh.private_key_path at <path>. When run on a terminal you are asked for an
optional passphrase.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var passphrase security.Secret
			if stdinIsTerminal() {
				_, _ = fmt.Fprint(cmd.ErrOrStderr(), i18n.T("cli.system_key_prompt"))
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				_, _ = fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("failed to read passphrase: %w", err)
				}
				passphrase = security.Secret(b)
				defer passphrase.Zero()
			}

			key, err := sshcrypto.GenerateSystemKey(comment, passphrase)
			if err != nil {
				return err
			}
			defer key.PrivateKey.Zero()
			path := expandHome(args[0])
			if err := key.WriteFiles(path); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, i18n.T("cli.system_key_written", path, path+".pub"))
			_, _ = fmt.Fprintln(out, key.AuthorizedLine)
			return nil
		},
	}
	generate.Flags().StringVar(&comment, "comment", "keymaster-chatops", "Comment stored with the key")
	cmd.AddCommand(generate)
	return cmd
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup [output-file]",
		Short: "Create a compressed (zstd) JSON backup of the database",
		Long: `Dumps every binding record and the audit log into a single Zstandard-compressed
JSON file. '.zst' is appended to the name if missing. Without an argument the
file is named 'keymaster-chatops-backup-YYYY-MM-DD.json.zst'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var outputFile string
			if len(args) == 0 {
				outputFile = fmt.Sprintf("keymaster-chatops-backup-%s.json.zst", time.Now().Format("2006-01-02"))
			} else {
				outputFile = args[0]
				if !strings.HasSuffix(outputFile, ".zst") {
					outputFile += ".zst"
				}
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			data, err := store.ExportRecords(cmd.Context())
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			f, err := os.OpenFile(outputFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("could not create file: %w", err)
			}
			if err := db.WriteBackup(f, data); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.backup_written", outputFile))
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <backup-file.zst>",
		Short: "Restore the database from a compressed JSON backup",
		Long: `Replaces every binding record and the audit log with the contents of a backup
written by 'backup'. WARNING: existing data is wiped first. Use it for disaster
recovery or to move between database backends (e.g. SQLite to PostgreSQL).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("could not open file: %w", err)
			}
			defer func() { _ = f.Close() }()
			data, err := db.ReadBackup(f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !yes {
				ans := promptForConfirmation(cmd.InOrStdin(), out, "This wipes all existing bindings. Continue (yes/no)? ")
				if ans != "yes" && ans != "y" {
					_, _ = fmt.Fprintln(out, "Cancelled.")
					return nil
				}
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.ImportRecords(cmd.Context(), data); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			_ = store.LogAction(cmd.Context(), "cli", "RESTORE", args[0])
			_, _ = fmt.Fprintln(out, i18n.T("cli.restore_done", len(data.Records), args[0]))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newAuditLogCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit-log",
		Short: "Show the most recent audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.AuditLog(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Actor, e.Action, e.Details)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of entries to show (0 for all)")
	return cmd
}

func newDBMaintainCmd() *cobra.Command {
	var timeoutSec int
	cmd := &cobra.Command{
		Use:   "db-maintain",
		Short: "Run database maintenance (VACUUM/OPTIMIZE) for the configured DB",
		Long:  `Runs engine-specific maintenance tasks (VACUUM, OPTIMIZE TABLE, PRAGMA optimize).`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeoutSec > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
				defer cancel()
			}
			if err := db.RunDBMaintenance(ctx, appConfig.Database.Type, appConfig.Database.Dsn); err != nil {
				return fmt.Errorf("maintenance failed: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Maintenance completed successfully")
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Timeout in seconds for maintenance (0 means no timeout)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize configuration",
	}
	var system bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the user (or system) config file",
		Long: `Writes the currently effective configuration (defaults, file, environment and
flags merged) as YAML so it can be edited. Fill in 'accounts' and 'hosts'
before using the fleet commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteConfigFile(&appConfig, system); err != nil {
				return err
			}
			path, _ := config.GetConfigPath(system)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.config_written", path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&system, "system", false, "Write the system-wide config file instead of the user one")
	cmd.AddCommand(initCmd)
	return cmd
}
