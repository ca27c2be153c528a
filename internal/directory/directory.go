// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package directory is the source of truth binding external chat identities
// to provisionable accounts. It owns each account's public keys and drives
// the fleet whenever credentials change.
//
// Errors follow github.com/juju/errors: NotValid for rejected input,
// AlreadyExists for binding conflicts, NotFound for unbound identities. A
// fleet push that misses hosts returns the committed value together with a
// *fleet.PartialFailure.
package directory // import "github.com/toeirei/keymaster-chatops/internal/directory"

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/im7mortal/kmutex"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/toeirei/keymaster-chatops/internal/crypto/password"
	"github.com/toeirei/keymaster-chatops/internal/db"
	"github.com/toeirei/keymaster-chatops/internal/fleet"
	"github.com/toeirei/keymaster-chatops/internal/logging"
	"github.com/toeirei/keymaster-chatops/internal/model"
	"github.com/toeirei/keymaster-chatops/internal/security"
	"github.com/toeirei/keymaster-chatops/internal/sshkey"
)

// Runner applies an operation to a set of hosts. *fleet.Executor implements it.
type Runner interface {
	Run(ctx context.Context, op fleet.Operation, hosts []model.Host) model.BatchOutcome
}

// PasswordSource generates new passwords.
type PasswordSource interface {
	Generate(length int) (string, error)
}

// Config holds the static inputs of a Directory.
type Config struct {
	// Accounts is the allow-list of provisionable account names.
	Accounts []string
	Roster   model.Roster
	// Tag marks authorized_keys lines owned by this system.
	Tag            string
	HomeRoot       string
	PasswordLength int
	Passwords      PasswordSource
}

// Binding is one identity/account pair.
type Binding struct {
	Identity string
	Account  string
}

// Directory implements the account binding operations.
type Directory struct {
	store     db.Store
	runner    Runner
	allowed   set.Strings
	roster    model.Roster
	tag       string
	homeRoot  string
	pwLength  int
	passwords PasswordSource
	locks     *kmutex.Kmutex
}

// New validates cfg and returns a Directory. An empty allow-list or roster
// is a configuration error.
func New(store db.Store, runner Runner, cfg Config) (*Directory, error) {
	if len(cfg.Accounts) == 0 {
		return nil, errors.NotValidf("empty account allow-list")
	}
	if cfg.Roster.Len() == 0 {
		return nil, errors.NotValidf("empty host roster")
	}
	if !fleet.ValidTag(cfg.Tag) {
		return nil, errors.NotValidf("management tag %q", cfg.Tag)
	}
	d := &Directory{
		store:     store,
		runner:    runner,
		allowed:   set.NewStrings(cfg.Accounts...),
		roster:    cfg.Roster,
		tag:       cfg.Tag,
		homeRoot:  cfg.HomeRoot,
		pwLength:  cfg.PasswordLength,
		passwords: cfg.Passwords,
		locks:     kmutex.New(),
	}
	if d.pwLength == 0 {
		d.pwLength = password.DefaultLength
	}
	if d.passwords == nil {
		d.passwords = password.Generator{}
	}
	return d, nil
}

// Roster returns the fleet roster the directory pushes to.
func (d *Directory) Roster() model.Roster { return d.roster }

// Accounts returns the allow-list, sorted.
func (d *Directory) Accounts() []string { return d.allowed.SortedValues() }

// lockAccount serializes mutations of one account. Identity locks use a
// separate key space and are always taken before account locks.
func (d *Directory) lockAccount(account string) func() {
	key := "account:" + account
	d.locks.Lock(key)
	return func() { d.locks.Unlock(key) }
}

func (d *Directory) lockIdentity(identity string) func() {
	key := "identity:" + identity
	d.locks.Lock(key)
	return func() { d.locks.Unlock(key) }
}

func (d *Directory) audit(ctx context.Context, identity, action, details string) {
	if err := d.store.LogAction(ctx, identity, action, details); err != nil {
		logging.Warnf("directory: failed to write audit entry %s for %s: %v", action, identity, err)
	}
}

// Bind binds identity to account. With strict set, an identity already bound
// to a different account is a conflict; otherwise the old binding is
// released in the same transaction. Binding the same pair again succeeds.
func (d *Directory) Bind(ctx context.Context, identity, account string, strict bool) (string, error) {
	if err := validateIdentity(identity); err != nil {
		return "", err
	}
	if !d.allowed.Contains(account) {
		return "", errors.NotValidf("account %q", account)
	}

	defer d.lockIdentity(identity)()

	// A release deletes the old account's records, so that account is
	// locked too. Account locks are taken in sorted order.
	prior, _, err := d.store.Get(ctx, identity)
	if err != nil {
		return "", errors.Trace(err)
	}
	locked := set.NewStrings(account)
	if prior != "" && !strict {
		locked.Add(prior)
	}
	for _, a := range locked.SortedValues() {
		defer d.lockAccount(a)()
	}

	var released string
	err = d.store.Update(ctx, func(tx db.Tx) error {
		current, bound, err := tx.Get(identity)
		if err != nil {
			return err
		}
		if bound && current == account {
			return tx.Set(accountKey(account), account)
		}
		if bound && strict {
			return errors.AlreadyExistsf("identity %q bound to account %q", identity, current)
		}
		_, taken, err := tx.Get(accountKey(account))
		if err != nil {
			return err
		}
		if taken {
			return errors.AlreadyExistsf("account %q bound to another identity", account)
		}
		if bound {
			if !locked.Contains(current) {
				return errors.Errorf("binding for identity %q changed during bind", identity)
			}
			// The released account's keys go with it; the next owner starts clean.
			if err := tx.Delete(accountKey(current), keysKey(current)); err != nil {
				return err
			}
			released = current
		}
		if err := tx.Set(identity, account); err != nil {
			return err
		}
		return tx.Set(accountKey(account), account)
	})
	if err != nil {
		return "", errors.Trace(err)
	}

	details := "account: " + account
	if released != "" {
		details += ", released: " + released
	}
	d.audit(ctx, identity, "BIND", details)
	return account, nil
}

// LookupAccount returns the account bound to identity.
func (d *Directory) LookupAccount(ctx context.Context, identity string) (string, error) {
	if err := validateIdentity(identity); err != nil {
		return "", err
	}
	account, ok, err := d.store.Get(ctx, identity)
	if err != nil {
		return "", errors.Trace(err)
	}
	if !ok {
		return "", errors.NotFoundf("binding for identity %q", identity)
	}
	return account, nil
}

// ListKeys returns the keys stored for identity's account in insertion order.
func (d *Directory) ListKeys(ctx context.Context, identity string) ([]string, error) {
	account, err := d.LookupAccount(ctx, identity)
	if err != nil {
		return nil, err
	}
	raw, _, err := d.store.Get(ctx, keysKey(account))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return splitKeys(raw), nil
}

// AppendKey adds line to identity's key set and pushes the full set to the
// fleet. The returned list reflects the committed state even when the push
// reports failures.
func (d *Directory) AppendKey(ctx context.Context, identity, line string) ([]string, error) {
	account, err := d.LookupAccount(ctx, identity)
	if err != nil {
		return nil, err
	}
	line = strings.TrimSpace(line)
	if strings.Contains(line, keySeparator) {
		return nil, errors.NotValidf("public key containing %q", keySeparator)
	}
	if strings.ContainsAny(line, "\r\n") || !sshkey.Validate(line) {
		return nil, errors.NotValidf("public key")
	}

	defer d.lockAccount(account)()

	var keys []string
	err = d.store.Update(ctx, func(tx db.Tx) error {
		if current, ok, err := tx.Get(identity); err != nil {
			return err
		} else if !ok || current != account {
			return errors.NotFoundf("binding for identity %q", identity)
		}
		raw, _, err := tx.Get(keysKey(account))
		if err != nil {
			return err
		}
		keys = splitKeys(raw)
		if sshkey.IsDuplicate(keys, line) {
			return errors.AlreadyExistsf("public key")
		}
		keys = append(keys, line)
		return tx.Set(keysKey(account), joinKeys(keys))
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	details := "account: " + account
	if fp, err := sshkey.Fingerprint(line); err == nil {
		details += ", key: " + fp
	}
	d.audit(ctx, identity, "APPEND_KEY", details)

	return keys, d.pushKeys(ctx, account, keys, d.roster.Hosts())
}

// SyncKeys re-pushes identity's current key set to every host.
func (d *Directory) SyncKeys(ctx context.Context, identity string) ([]string, error) {
	return d.SyncKeysOn(ctx, identity, nil)
}

// SyncKeysOn re-pushes identity's current key set to the hosts named by
// aliases, or to every host when aliases is empty. It is the retry path after
// a partial failure.
func (d *Directory) SyncKeysOn(ctx context.Context, identity string, aliases []string) ([]string, error) {
	account, err := d.LookupAccount(ctx, identity)
	if err != nil {
		return nil, err
	}
	hosts := d.roster.Hosts()
	if len(aliases) > 0 {
		var unknown []string
		hosts, unknown = d.roster.Subset(aliases)
		if len(unknown) > 0 {
			return nil, errors.NotValidf("host aliases %s", strings.Join(unknown, ", "))
		}
	}

	defer d.lockAccount(account)()

	raw, _, err := d.store.Get(ctx, keysKey(account))
	if err != nil {
		return nil, errors.Trace(err)
	}
	keys := splitKeys(raw)
	d.audit(ctx, identity, "SYNC_KEYS", fmt.Sprintf("account: %s, keys: %d, hosts: %d", account, len(keys), len(hosts)))
	return keys, d.pushKeys(ctx, account, keys, hosts)
}

func (d *Directory) pushKeys(ctx context.Context, account string, keys []string, hosts []model.Host) error {
	op := fleet.SyncKeys{User: account, HomeRoot: d.homeRoot, Keys: keys, Tag: d.tag}
	outcome := d.runner.Run(ctx, op, hosts)
	if err := fleet.Check(op.Name(), outcome); err != nil {
		logging.Warnf("directory: %v", err)
		return err
	}
	return nil
}

// RotatePassword generates a new password for identity's account and sets it
// on every host. The password is never stored. When some hosts miss the
// update the password is still returned, with a *fleet.PartialFailure naming
// those hosts.
func (d *Directory) RotatePassword(ctx context.Context, identity string) (security.Secret, error) {
	account, err := d.LookupAccount(ctx, identity)
	if err != nil {
		return nil, err
	}
	pw, err := d.passwords.Generate(d.pwLength)
	if err != nil {
		return nil, errors.Annotate(err, "generating password")
	}
	secret := security.FromString(pw)

	defer d.lockAccount(account)()

	op := fleet.SetPassword{User: account, Password: secret}
	outcome := d.runner.Run(ctx, op, d.roster.Hosts())
	d.audit(ctx, identity, "ROTATE_PASSWORD", fmt.Sprintf("account: %s, hosts: %s", account, outcome.Summary()))
	if err := fleet.Check(op.Name(), outcome); err != nil {
		logging.Warnf("directory: %v", err)
		return secret, err
	}
	return secret, nil
}

// UnbindAndPurge removes identity's binding, the reverse pointer and the
// account's keys in one transaction and returns the removed keys.
func (d *Directory) UnbindAndPurge(ctx context.Context, identity string) ([]string, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	defer d.lockIdentity(identity)()

	account, err := d.LookupAccount(ctx, identity)
	if err != nil {
		return nil, err
	}
	defer d.lockAccount(account)()

	var removed []string
	err = d.store.Update(ctx, func(tx db.Tx) error {
		current, ok, err := tx.Get(identity)
		if err != nil {
			return err
		}
		if !ok || current != account {
			return errors.NotFoundf("binding for identity %q", identity)
		}
		raw, _, err := tx.Get(keysKey(account))
		if err != nil {
			return err
		}
		removed = splitKeys(raw)
		return tx.Delete(identity, accountKey(account), keysKey(account))
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	d.audit(ctx, identity, "UNBIND", fmt.Sprintf("account: %s, removed keys: %d", account, len(removed)))
	return removed, nil
}

// Bindings lists every identity/account pair, sorted by account.
func (d *Directory) Bindings(ctx context.Context) ([]Binding, error) {
	keys, err := d.store.Keys(ctx, "")
	if err != nil {
		return nil, errors.Trace(err)
	}
	var identities []string
	for _, k := range keys {
		if !strings.HasPrefix(k, accountPrefix) {
			identities = append(identities, k)
		}
	}
	values, err := d.store.GetMany(ctx, identities...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]Binding, 0, len(values))
	for id, account := range values {
		out = append(out, Binding{Identity: id, Account: account})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}
