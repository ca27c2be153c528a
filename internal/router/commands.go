// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/toeirei/keymaster-chatops/internal/fleet"
	"github.com/toeirei/keymaster-chatops/internal/i18n"
	"github.com/toeirei/keymaster-chatops/internal/sshkey"
)

// Request is one parsed chat command.
type Request struct {
	Identity string
	Args     []string
}

// Handler executes a command and returns the reply text.
type Handler func(ctx context.Context, req Request) (string, error)

// ArgsValidator checks the argument list before the handler runs.
type ArgsValidator func(args []string) error

// Command is one entry of the routing table.
type Command struct {
	Name      string
	Usage     string
	Args      ArgsValidator
	AdminOnly bool
	// Mutating commands change credentials and are rate limited.
	Mutating bool
	Handler  Handler
}

// NoArgs rejects any argument.
func NoArgs(args []string) error {
	if len(args) > 0 {
		return errors.NotValidf("%d arguments, accepts none", len(args))
	}
	return nil
}

// ExactArgs accepts exactly n arguments.
func ExactArgs(n int) ArgsValidator {
	return func(args []string) error {
		if len(args) != n {
			return errors.NotValidf("%d arguments, accepts %d", len(args), n)
		}
		return nil
	}
}

// MinimumArgs accepts n or more arguments.
func MinimumArgs(n int) ArgsValidator {
	return func(args []string) error {
		if len(args) < n {
			return errors.NotValidf("%d arguments, requires at least %d", len(args), n)
		}
		return nil
	}
}

func (r *Router) table() []Command {
	return []Command{
		{Name: "BindAccount", Usage: "BindAccount <account>", Args: ExactArgs(1), Mutating: true, Handler: r.bindAccount},
		{Name: "CheckAccount", Usage: "CheckAccount", Args: NoArgs, Handler: r.checkAccount},
		{Name: "ListAllServers", Usage: "ListAllServers", Args: NoArgs, Handler: r.listAllServers},
		{Name: "GenerateNewPassword", Usage: "GenerateNewPassword", Args: NoArgs, Mutating: true, Handler: r.generateNewPassword},
		{Name: "AddNewPublicKey", Usage: "AddNewPublicKey <public key>", Args: MinimumArgs(1), Mutating: true, Handler: r.addNewPublicKey},
		{Name: "CheckAndUpdatePublicKey", Usage: "CheckAndUpdatePublicKey", Args: NoArgs, Mutating: true, Handler: r.checkAndUpdatePublicKey},
		{Name: "DeletePublicKey", Usage: "DeletePublicKey", Args: func([]string) error { return nil }, Handler: r.deletePublicKey},
		{Name: "ClearUserData", Usage: "ClearUserData <user_id>", Args: ExactArgs(1), AdminOnly: true, Handler: r.clearUserData},
		{Name: "LockAllPasswords", Usage: "LockAllPasswords", Args: NoArgs, AdminOnly: true, Handler: r.lockAllPasswords},
		{Name: "ListBindings", Usage: "ListBindings", Args: NoArgs, AdminOnly: true, Handler: r.listBindings},
		{Name: "Help", Usage: "Help", Args: func([]string) error { return nil }, Handler: r.help},
	}
}

func (r *Router) bindAccount(ctx context.Context, req Request) (string, error) {
	account, err := r.dir.Bind(ctx, req.Identity, req.Args[0], true)
	if err != nil {
		return "", err
	}
	return i18n.T("bind.success", req.Identity, account), nil
}

func (r *Router) checkAccount(ctx context.Context, req Request) (string, error) {
	account, err := r.dir.LookupAccount(ctx, req.Identity)
	if err != nil {
		return "", err
	}
	return i18n.T("check.success", req.Identity, account), nil
}

func (r *Router) listAllServers(_ context.Context, _ Request) (string, error) {
	hosts := r.dir.Roster().Hosts()
	lines := []string{i18n.T("servers.success", len(hosts))}
	for _, h := range hosts {
		lines = append(lines, h.String())
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Router) generateNewPassword(ctx context.Context, req Request) (string, error) {
	pw, err := r.dir.RotatePassword(ctx, req.Identity)
	if len(pw) > 0 && r.onRotated != nil {
		r.onRotated(req.Identity, pw)
	}
	if pf, ok := fleet.AsPartialFailure(err); ok {
		return i18n.T("password.partial", pf, pw.Reveal()), err
	}
	if err != nil {
		return "", err
	}
	return i18n.T("password.success", pw.Reveal()), nil
}

func (r *Router) addNewPublicKey(ctx context.Context, req Request) (string, error) {
	keys, err := r.dir.AppendKey(ctx, req.Identity, strings.Join(req.Args, " "))
	return r.keysReply("keys.added", keys, err)
}

func (r *Router) checkAndUpdatePublicKey(ctx context.Context, req Request) (string, error) {
	keys, err := r.dir.SyncKeys(ctx, req.Identity)
	return r.keysReply("keys.updated", keys, err)
}

func (r *Router) keysReply(successID string, keys []string, err error) (string, error) {
	pf, partial := fleet.AsPartialFailure(err)
	if err != nil && !partial {
		return "", err
	}
	var lines []string
	if partial {
		lines = append(lines, i18n.T("keys.partial", pf))
	} else {
		lines = append(lines, i18n.T(successID))
	}
	if len(keys) == 0 {
		lines = append(lines, i18n.T("keys.none"))
	} else {
		lines = append(lines, i18n.T("keys.current"))
		for i, k := range keys {
			lines = append(lines, keyListing(i+1, k))
		}
	}
	return strings.Join(lines, "\n"), err
}

// keyListing renders one stored key with its fingerprint. Lines that do not
// parse are shown verbatim.
func keyListing(n int, line string) string {
	e, err := sshkey.Entry(line)
	if err != nil {
		return fmt.Sprintf("%d. %s", n, line)
	}
	fp, err := sshkey.Fingerprint(line)
	if err != nil {
		return fmt.Sprintf("%d. %s", n, e)
	}
	return fmt.Sprintf("%d. %s (%s)", n, e, fp)
}

func (r *Router) deletePublicKey(_ context.Context, _ Request) (string, error) {
	return i18n.T("keys.no_delete"), nil
}

func (r *Router) clearUserData(ctx context.Context, req Request) (string, error) {
	target := req.Args[0]
	removed, err := r.dir.UnbindAndPurge(ctx, target)
	if err != nil {
		return "", err
	}
	return i18n.T("clear.success", target, len(removed), strings.Join(removed, "\n")), nil
}

func (r *Router) lockAllPasswords(ctx context.Context, _ Request) (string, error) {
	if r.sweeper == nil {
		return "", errors.NotSupportedf("password sweep")
	}
	outcome, err := r.sweeper.LockAll(ctx)
	if pf, ok := fleet.AsPartialFailure(err); ok {
		return i18n.T("lock.partial", pf), err
	}
	if err != nil {
		return "", err
	}
	return i18n.T("lock.success", outcome.Summary()), nil
}

func (r *Router) listBindings(ctx context.Context, _ Request) (string, error) {
	bindings, err := r.dir.Bindings(ctx)
	if err != nil {
		return "", err
	}
	lines := []string{i18n.T("bindings.header", len(bindings))}
	for _, b := range bindings {
		lines = append(lines, b.Account+": "+b.Identity)
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Router) help(ctx context.Context, req Request) (string, error) {
	admin := r.isAdmin(ctx, req.Identity)
	lines := []string{i18n.T("router.help_header")}
	for _, c := range r.commands {
		if c.AdminOnly && !admin {
			continue
		}
		lines = append(lines, "  "+c.Usage)
	}
	return strings.Join(lines, "\n"), nil
}
