// Package roster keeps the chat roster aligned with the permission
// groups: whitelisted users are subscribed and tagged, blacklisted users
// are removed, and strangers are tolerated only in open mode.
package roster

import (
	"context"
	"strings"
	"time"

	"scrimbot/internal/chat"
	"scrimbot/internal/metrics"
	"scrimbot/internal/storage"
	"scrimbot/pkg/config"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

const (
	// ConfigWhitelisted switches the bot to strict mode: only admins and
	// whitelisted users may stay on the roster or subscribe.
	ConfigWhitelisted = "bot.whitelisted"
	// ConfigUpdateRate is the pause between roster mutations, in seconds.
	ConfigUpdateRate = "roster.update_rate"

	// FriendsGroup is the roster group whitelisted users are filed under.
	FriendsGroup = "Friends"
)

// Callsigns is the slice of the cache the reconciler reads display names
// from.
type Callsigns interface {
	Callsign(userID string) (string, bool)
}

// Reconciler drives the roster towards the permission state. One pass at
// a time; the scheduler provides the cadence.
type Reconciler struct {
	log       Logger
	cfg       *config.Store
	perms     *storage.Permissions
	callsigns Callsigns
	transport chat.Transport

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func New(cfg *config.Store, perms *storage.Permissions, callsigns Callsigns, transport chat.Transport, log Logger) *Reconciler {
	if err := cfg.Register(ConfigWhitelisted, false); err != nil {
		log.Warn("roster: register %s: %v", ConfigWhitelisted, err)
	}
	if err := cfg.Register(ConfigUpdateRate, 1.0); err != nil {
		log.Warn("roster: register %s: %v", ConfigUpdateRate, err)
	}
	return &Reconciler{
		log:       log,
		cfg:       cfg,
		perms:     perms,
		callsigns: callsigns,
		transport: transport,
		sleep:     time.Sleep,
	}
}

// Reconcile runs one full pass over the roster. Mutations are spaced by
// the update rate so the chat server is never flooded.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	items, err := r.transport.Roster()
	if err != nil {
		return err
	}

	// Working set: whitelisted users we have not seen on the roster yet.
	pending := make(map[string]struct{})
	for _, u := range r.perms.Users(storage.GroupAdmin) {
		pending[u] = struct{}{}
	}
	for _, u := range r.perms.Users(storage.GroupWhitelist) {
		pending[u] = struct{}{}
	}
	strict := r.cfg.GetBool(ConfigWhitelisted)

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		u := item.UserID

		if r.perms.UserIn(storage.GroupBlacklist, u) {
			r.remove(u)
			delete(pending, u)
			continue
		}

		if _, ok := pending[u]; ok {
			delete(pending, u)
			if !item.Subscribed {
				r.subscribe(u)
			}
			r.ensureEntry(item)
			continue
		}

		if strict || !item.Subscribed {
			r.remove(u)
			continue
		}
		r.ensureEntry(item)
	}

	for u := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.subscribe(u)
	}
	return nil
}

// Task adapts Reconcile for the scheduler.
func (r *Reconciler) Task() func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := r.Reconcile(ctx); err != nil {
			r.log.Error("roster: reconcile: %v", err)
		}
	}
}

// ensureEntry pushes an update when the display name or group tag is off.
func (r *Reconciler) ensureEntry(item chat.RosterItem) {
	name, _ := r.callsigns.Callsign(item.UserID)
	changed := false
	if item.Name != name {
		item.Name = name
		changed = true
	}
	if !hasGroup(item.Groups, FriendsGroup) {
		item.Groups = append(item.Groups, FriendsGroup)
		changed = true
	}
	if !changed {
		return
	}
	if err := r.transport.UpdateRosterItem(item); err != nil {
		r.log.Warn("roster: update %s: %v", item.UserID, err)
	}
	r.pace()
}

func (r *Reconciler) subscribe(userID string) {
	if err := r.transport.Subscribe(userID); err != nil {
		r.log.Warn("roster: subscribe %s: %v", userID, err)
	}
	r.pace()
}

func (r *Reconciler) remove(userID string) {
	if err := r.transport.RemoveRosterItem(userID); err != nil {
		r.log.Warn("roster: remove %s: %v", userID, err)
	}
	r.pace()
}

func (r *Reconciler) pace() {
	metrics.RosterMutations.Inc()
	r.sleep(r.cfg.GetDuration(ConfigUpdateRate))
}

// HandleSubscriptionRequest decides whether a remote user may add the
// bot. Blacklist always loses; strangers only get in while the bot is in
// open mode.
func (r *Reconciler) HandleSubscriptionRequest(userID string) {
	if r.accepts(userID) {
		if err := r.transport.AcceptSubscription(userID); err != nil {
			r.log.Warn("roster: accept %s: %v", userID, err)
		}
		return
	}
	r.log.Info("roster: declining subscription from %s", userID)
	if err := r.transport.DeclineSubscription(userID); err != nil {
		r.log.Warn("roster: decline %s: %v", userID, err)
	}
	if err := r.transport.RemoveRosterItem(userID); err != nil {
		r.log.Warn("roster: remove %s: %v", userID, err)
	}
}

func (r *Reconciler) accepts(userID string) bool {
	if r.perms.UserIn(storage.GroupBlacklist, userID) {
		return false
	}
	if !r.cfg.GetBool(ConfigWhitelisted) {
		return true
	}
	return r.perms.UserInAny([]string{storage.GroupAdmin, storage.GroupWhitelist}, userID)
}

func hasGroup(groups []string, want string) bool {
	for _, g := range groups {
		if strings.EqualFold(g, want) {
			return true
		}
	}
	return false
}
