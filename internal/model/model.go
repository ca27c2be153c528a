// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the data structures shared by the binding store, the
// fleet executor and the command router.
package model // import "github.com/toeirei/keymaster-chatops/internal/model"

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/collections/set"
)

// PublicKeyEntry is one stored public key. Two entries are the same key when
// Algorithm and KeyData match; the comment does not take part in equality.
type PublicKeyEntry struct {
	Algorithm string
	KeyData   string
	Comment   string
	// Line is the literal line as submitted, minus any management tag.
	Line string
}

// String returns the authorized_keys representation of the key.
func (k PublicKeyEntry) String() string {
	if k.Line != "" {
		return k.Line
	}
	if k.Comment != "" {
		return fmt.Sprintf("%s %s %s", k.Algorithm, k.KeyData, k.Comment)
	}
	return fmt.Sprintf("%s %s", k.Algorithm, k.KeyData)
}

// SameKey reports whether both entries carry the same key material.
func (k PublicKeyEntry) SameKey(o PublicKeyEntry) bool {
	return k.Algorithm == o.Algorithm && k.KeyData == o.KeyData
}

// Host is one member of the fleet roster.
type Host struct {
	Alias   string `mapstructure:"alias" yaml:"alias"`
	Address string `mapstructure:"address" yaml:"address"`
}

// String returns the alias (address) representation.
func (h Host) String() string {
	return fmt.Sprintf("%s (%s)", h.Alias, h.Address)
}

// Roster is the static, ordered list of fleet hosts read once at startup.
type Roster struct {
	hosts   []Host
	byAlias map[string]Host
}

// NewRoster builds a roster. Aliases must be non-empty and unique.
func NewRoster(hosts []Host) (Roster, error) {
	r := Roster{
		hosts:   make([]Host, 0, len(hosts)),
		byAlias: make(map[string]Host, len(hosts)),
	}
	for _, h := range hosts {
		h.Alias = strings.TrimSpace(h.Alias)
		h.Address = strings.TrimSpace(h.Address)
		if h.Alias == "" || h.Address == "" {
			return Roster{}, fmt.Errorf("roster entry %q/%q: alias and address are required", h.Alias, h.Address)
		}
		if _, dup := r.byAlias[h.Alias]; dup {
			return Roster{}, fmt.Errorf("roster alias %q listed twice", h.Alias)
		}
		r.byAlias[h.Alias] = h
		r.hosts = append(r.hosts, h)
	}
	return r, nil
}

// Hosts returns a copy of the roster in its configured order.
func (r Roster) Hosts() []Host {
	out := make([]Host, len(r.hosts))
	copy(out, r.hosts)
	return out
}

// Len returns the number of hosts.
func (r Roster) Len() int { return len(r.hosts) }

// Lookup returns the host with the given alias.
func (r Roster) Lookup(alias string) (Host, bool) {
	h, ok := r.byAlias[alias]
	return h, ok
}

// Subset returns the hosts matching aliases, in roster order. Unknown aliases
// are returned separately.
func (r Roster) Subset(aliases []string) (hosts []Host, unknown []string) {
	want := set.NewStrings(aliases...)
	for _, h := range r.hosts {
		if want.Contains(h.Alias) {
			hosts = append(hosts, h)
			want.Remove(h.Alias)
		}
	}
	return hosts, want.SortedValues()
}

// FailureDetail describes why one host did not apply an operation.
type FailureDetail struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Unreachable is set when the remote-command channel could not be used at
	// all (dial failure, timeout); ExitCode is -1 in that case.
	Unreachable bool
	Err         string
}

// Reason returns a one-line description of the failure.
func (d FailureDetail) Reason() string {
	if d.Unreachable {
		if d.Err != "" {
			return "unreachable: " + d.Err
		}
		return "unreachable"
	}
	if d.Err != "" {
		return "failed: " + d.Err
	}
	msg := fmt.Sprintf("exit code %d", d.ExitCode)
	if s := strings.TrimSpace(d.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// BatchOutcome is the aggregated result of a fleet operation.
type BatchOutcome struct {
	Succeeded set.Strings
	Failed    map[Host]FailureDetail
}

// NewBatchOutcome returns an empty outcome ready to be filled.
func NewBatchOutcome() BatchOutcome {
	return BatchOutcome{
		Succeeded: set.NewStrings(),
		Failed:    make(map[Host]FailureDetail),
	}
}

// OK reports whether every host succeeded.
func (o BatchOutcome) OK() bool { return len(o.Failed) == 0 }

// FailedHosts returns the failing hosts sorted by alias.
func (o BatchOutcome) FailedHosts() []Host {
	out := make([]Host, 0, len(o.Failed))
	for h := range o.Failed {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Summary renders a short human readable report.
func (o BatchOutcome) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d succeeded, %d failed", o.Succeeded.Size(), len(o.Failed))
	for _, h := range o.FailedHosts() {
		fmt.Fprintf(&b, "\n  %s: %s", h.Alias, o.Failed[h].Reason())
	}
	return b.String()
}
