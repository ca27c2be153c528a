// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package router maps chat commands onto directory operations. The routing
// table is built once in New; every reply text comes from the i18n catalog.
package router // import "github.com/toeirei/keymaster-chatops/internal/router"

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/toeirei/keymaster-chatops/internal/directory"
	"github.com/toeirei/keymaster-chatops/internal/i18n"
	"github.com/toeirei/keymaster-chatops/internal/logging"
	"github.com/toeirei/keymaster-chatops/internal/model"
	"github.com/toeirei/keymaster-chatops/internal/security"
	"github.com/toeirei/keymaster-chatops/internal/state"
	"golang.org/x/time/rate"
)

// Directory is the subset of *directory.Directory the router needs.
type Directory interface {
	Roster() model.Roster
	Bind(ctx context.Context, identity, account string, strict bool) (string, error)
	LookupAccount(ctx context.Context, identity string) (string, error)
	AppendKey(ctx context.Context, identity, line string) ([]string, error)
	SyncKeys(ctx context.Context, identity string) ([]string, error)
	RotatePassword(ctx context.Context, identity string) (security.Secret, error)
	UnbindAndPurge(ctx context.Context, identity string) ([]string, error)
	Bindings(ctx context.Context) ([]directory.Binding, error)
}

// Sweeper locks passwords fleet-wide.
type Sweeper interface {
	LockAll(ctx context.Context) (model.BatchOutcome, error)
}

// ErrRateLimited is returned when an identity sends mutating commands faster
// than allowed.
const ErrRateLimited = errors.ConstError("rate limited")

// Options tunes a Router.
type Options struct {
	Admins        AdminChecker
	AdminCacheTTL time.Duration
	// PerMinute mutating commands per identity, with Burst on top. Zero
	// disables rate limiting.
	PerMinute int
	Burst     int
	Clock     clock.Clock
	// OnPasswordRotated, when set, receives every password GenerateNewPassword
	// hands out.
	OnPasswordRotated func(identity string, pw security.Secret)
}

// Router dispatches chat commands.
type Router struct {
	dir      Directory
	sweeper  Sweeper
	commands []Command
	byName   map[string]Command

	checker   AdminChecker
	admins    *state.TTLCache[string, bool]
	onRotated func(identity string, pw security.Secret)

	clock     clock.Clock
	limit     rate.Limit
	burst     int
	limiterMu sync.Mutex
	limiters  *state.TTLCache[string, *rate.Limiter]
}

// New builds the routing table. sweeper may be nil, in which case
// LockAllPasswords reports that the sweep is unavailable.
func New(dir Directory, sweeper Sweeper, opts Options) *Router {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Admins == nil {
		opts.Admins = NewAdminList()
	}
	r := &Router{
		dir:       dir,
		sweeper:   sweeper,
		checker:   opts.Admins,
		admins:    state.NewTTLCache[string, bool](opts.AdminCacheTTL, opts.Clock),
		onRotated: opts.OnPasswordRotated,
		clock:     opts.Clock,
		burst:     opts.Burst,
	}
	idle := time.Minute
	if opts.PerMinute > 0 {
		r.limit = rate.Limit(float64(opts.PerMinute) / 60)
		if r.burst < 1 {
			r.burst = 1
		}
		// A limiter left alone this long has refilled its burst and is
		// indistinguishable from a new one.
		if refill := time.Duration(float64(r.burst) / float64(r.limit) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	r.limiters = state.NewTTLCache[string, *rate.Limiter](idle, opts.Clock)
	r.commands = r.table()
	r.byName = make(map[string]Command, len(r.commands))
	for _, c := range r.commands {
		r.byName[strings.ToLower(c.Name)] = c
	}
	return r
}

// Commands returns the routing table in help order.
func (r *Router) Commands() []Command {
	return append([]Command(nil), r.commands...)
}

// BustAdmins drops cached admin decisions for ids, or all of them when ids
// is empty.
func (r *Router) BustAdmins(ids ...string) {
	r.admins.Bust(ids...)
}

// Handle runs command for identity. The reply is always suitable for showing
// to the user; err carries the typed failure for callers that need it. A
// partial fleet failure yields both a reply and a *fleet.PartialFailure.
func (r *Router) Handle(ctx context.Context, identity, command string, args []string) (string, error) {
	cmd, ok := r.byName[strings.ToLower(strings.TrimSpace(command))]
	if !ok {
		return i18n.T("router.unknown_command", command), errors.NotFoundf("command %q", command)
	}
	if err := cmd.Args(args); err != nil {
		return i18n.T("router.usage", cmd.Usage), err
	}
	if cmd.AdminOnly && !r.isAdmin(ctx, identity) {
		return i18n.T("router.not_admin"), errors.Unauthorizedf("%s for %q", cmd.Name, identity)
	}
	if cmd.Mutating && !r.allow(identity) {
		return i18n.T("router.rate_limited"), ErrRateLimited
	}

	logging.Debugf("router: %s from %s", cmd.Name, identity)
	reply, err := cmd.Handler(ctx, Request{Identity: identity, Args: args})
	if err != nil && reply == "" {
		logging.Infof("router: %s from %s failed: %v", cmd.Name, identity, err)
		reply = i18n.T("router.error", err)
	}
	return reply, err
}

func (r *Router) isAdmin(ctx context.Context, identity string) bool {
	ok, err := r.admins.GetOrLoad(identity, func(id string) (bool, error) {
		r.admins.Prune()
		return r.checker.IsAdmin(ctx, id)
	})
	if err != nil {
		logging.Warnf("router: admin check for %s failed: %v", identity, err)
		return false
	}
	return ok
}

func (r *Router) allow(identity string) bool {
	if r.limit == 0 {
		return true
	}
	r.limiterMu.Lock()
	lim, ok := r.limiters.Get(identity)
	if !ok {
		r.limiters.Prune()
		lim = rate.NewLimiter(r.limit, r.burst)
	}
	// Every use restarts the idle window.
	r.limiters.Set(identity, lim)
	r.limiterMu.Unlock()
	return lim.AllowN(r.clock.Now(), 1)
}
