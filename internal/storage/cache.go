package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"scrimbot/internal/models"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Cache is the process-wide JSON-backed store for slow-changing API lookups:
// the callsign/user-id indexes, game globals, and per-plugin namespaces
// addressed by dotted paths ("scrims.parties").
type Cache struct {
	log Logger

	mu       sync.RWMutex
	callsign map[string]string // lowercased callsign -> user id
	guid     map[string]string // user id -> display callsign
	globals  *models.GameGlobals
	extra    map[string]json.RawMessage // dotted path -> raw value
}

func NewCache(log Logger) *Cache {
	return &Cache{
		log:      log,
		callsign: make(map[string]string),
		guid:     make(map[string]string),
		extra:    make(map[string]json.RawMessage),
	}
}

// PutUser records a callsign/user-id pair in both indexes, dropping any
// stale callsign previously held by the same id.
func (c *Cache) PutUser(userID, callsign string) {
	if userID == "" || callsign == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.guid[userID]; ok && !strings.EqualFold(old, callsign) {
		delete(c.callsign, strings.ToLower(old))
	}
	c.callsign[strings.ToLower(callsign)] = userID
	c.guid[userID] = callsign
}

// GUID looks up a user id by callsign, case-insensitively.
func (c *Cache) GUID(callsign string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.callsign[strings.ToLower(callsign)]
	return id, ok
}

// Callsign looks up the display callsign for a user id.
func (c *Cache) Callsign(userID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.guid[userID]
	return name, ok
}

func (c *Cache) Globals() (models.GameGlobals, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.globals == nil {
		return models.GameGlobals{}, false
	}
	return *c.globals, true
}

func (c *Cache) SetGlobals(g models.GameGlobals) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globals = &g
}

// Get decodes the value stored under a dotted path into out. The second
// return distinguishes "absent" from a decode error.
func (c *Cache) Get(path string, out interface{}) (bool, error) {
	c.mu.RLock()
	raw, ok := c.extra[path]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("cache: decode %q: %w", path, err)
	}
	return true, nil
}

// Put stores a JSON-encodable value under a dotted path.
func (c *Cache) Put(path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", path, err)
	}
	c.mu.Lock()
	c.extra[path] = raw
	c.mu.Unlock()
	return nil
}

func (c *Cache) Remove(path string) {
	c.mu.Lock()
	delete(c.extra, path)
	c.mu.Unlock()
}

// Load reads the cache file. The guid index is rebuilt from the callsign
// index; ids reached by more than one callsign keep only the first entry.
func (c *Cache) Load(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cache: read %s: %w", file, err)
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("cache: parse %s: %w", file, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if raw, ok := root["callsign"]; ok {
		if err := json.Unmarshal(raw, &c.callsign); err != nil {
			return fmt.Errorf("cache: parse callsign index: %w", err)
		}
	}
	if raw, ok := root["globals"]; ok {
		if err := json.Unmarshal(raw, &c.globals); err != nil {
			return fmt.Errorf("cache: parse globals: %w", err)
		}
	}

	c.guid = make(map[string]string)
	for name, id := range c.callsign {
		if _, dup := c.guid[id]; dup {
			c.log.Warn("cache: duplicate callsign %q for user %s, dropping", name, id)
			delete(c.callsign, name)
			continue
		}
		c.guid[id] = name
	}

	c.extra = make(map[string]json.RawMessage)
	for key, raw := range root {
		switch key {
		case "callsign", "guid", "globals":
			continue
		}
		flattenRaw(key, raw, c.extra)
	}
	return nil
}

// Save snapshots the cache and writes it atomically. Dotted extra paths
// nest back into objects.
func (c *Cache) Save(file string) error {
	c.mu.RLock()
	root := map[string]interface{}{
		"callsign": copyMap(c.callsign),
		"guid":     copyMap(c.guid),
	}
	if c.globals != nil {
		root["globals"] = *c.globals
	}
	for path, raw := range c.extra {
		nestRaw(root, path, raw)
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cache: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, file); err != nil {
		return fmt.Errorf("cache: rename %s: %w", tmp, err)
	}
	return nil
}

// FlushTask adapts Save for the scheduler's periodic flush.
func (c *Cache) FlushTask(file string) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := c.Save(file); err != nil {
			c.log.Error("cache: periodic flush failed: %v", err)
		}
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// flattenRaw unpacks a top-level namespace object one level deep, so that
// "scrims": {"parties": {...}, "count": 3} loads as the paths
// "scrims.parties" and "scrims.count". Values below that stay opaque.
func flattenRaw(prefix string, raw json.RawMessage, out map[string]json.RawMessage) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) == 0 {
		out[prefix] = raw
		return
	}
	for key, val := range obj {
		out[prefix+"."+key] = val
	}
}

func nestRaw(root map[string]interface{}, path string, raw json.RawMessage) {
	parts := strings.Split(path, ".")
	node := root
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = raw
}
