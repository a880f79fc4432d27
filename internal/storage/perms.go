package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"scrimbot/pkg/config"
)

// Reserved permission groups. Plugins register their own on top of these.
const (
	GroupAdmin     = "admin"
	GroupWhitelist = "whitelist"
	GroupBlacklist = "blacklist"
)

const permPrefix = "bot.perms."

// Permissions is the named-group membership store. Group names are
// lowercased on entry; user ids are opaque and compared exact. Membership
// lives in the config store under bot.perms.<group> so it persists with
// the rest of the configuration.
type Permissions struct {
	cfg *config.Store
	mu  sync.Mutex
}

func NewPermissions(cfg *config.Store) *Permissions {
	p := &Permissions{cfg: cfg}
	for _, g := range []string{GroupAdmin, GroupWhitelist, GroupBlacklist} {
		p.RegisterGroup(g)
	}
	return p
}

// RegisterGroup declares a group, creating its backing list if absent.
func (p *Permissions) RegisterGroup(name string) error {
	return p.cfg.Register(permPrefix+strings.ToLower(name), []string{})
}

// Groups lists every registered group name, sorted.
func (p *Permissions) Groups() []string {
	var groups []string
	for _, key := range p.cfg.Keys() {
		if strings.HasPrefix(key, permPrefix) {
			groups = append(groups, strings.TrimPrefix(key, permPrefix))
		}
	}
	sort.Strings(groups)
	return groups
}

// Users returns the members of a group.
func (p *Permissions) Users(group string) []string {
	return p.cfg.GetStringList(permPrefix + strings.ToLower(group))
}

// UserIn reports whether a user id is a member of the group.
func (p *Permissions) UserIn(group, userID string) bool {
	for _, id := range p.Users(group) {
		if id == userID {
			return true
		}
	}
	return false
}

// UserInAny reports whether a user id is in at least one of the groups.
func (p *Permissions) UserInAny(groups []string, userID string) bool {
	for _, g := range groups {
		if p.UserIn(g, userID) {
			return true
		}
	}
	return false
}

// Add inserts a user id into a group. Duplicates are an error.
func (p *Permissions) Add(group, userID string) error {
	group = strings.ToLower(group)
	p.mu.Lock()
	defer p.mu.Unlock()

	users := p.Users(group)
	for _, id := range users {
		if id == userID {
			return fmt.Errorf("perms: user %s already in group %q", userID, group)
		}
	}
	return p.cfg.Set(permPrefix+group, append(users, userID))
}

// Remove deletes a user id from a group. Reports whether it was present.
func (p *Permissions) Remove(group, userID string) bool {
	group = strings.ToLower(group)
	p.mu.Lock()
	defer p.mu.Unlock()

	users := p.Users(group)
	for i, id := range users {
		if id == userID {
			p.cfg.Set(permPrefix+group, append(users[:i], users[i+1:]...))
			return true
		}
	}
	return false
}
