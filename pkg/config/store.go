package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind tags the value stored under a config path. Every registered path has
// a fixed kind; Set and Load coerce or reject values that do not match.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "nil"
}

type entry struct {
	kind  Kind
	value interface{}
}

// Store is a dotted-path key/value store. Keys like "bot.party.cleanup"
// flatten out of (and nest back into) JSON objects on load and save.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Register declares a config path with its default value. The default's kind
// becomes the path's kind. If the path was already populated by Load, the
// loaded value is kept and only checked against the declared kind.
func (s *Store) Register(path string, def interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPathConflict(path); err != nil {
		return err
	}

	kind, val, err := normalize(def)
	if err != nil {
		return fmt.Errorf("config: register %q: %w", path, err)
	}

	if existing, ok := s.entries[path]; ok {
		coerced, err := coerce(kind, existing.value)
		if err != nil {
			return fmt.Errorf("config: register %q: loaded value is not %s: %w", path, kind, err)
		}
		s.entries[path] = entry{kind: kind, value: coerced}
		return nil
	}

	s.entries[path] = entry{kind: kind, value: val}
	return nil
}

// Set stores a value. Unregistered paths are created with the value's own
// kind so that dynamic namespaces (permission groups, plugin state) work
// without prior registration.
func (s *Store) Set(path string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[path]; ok {
		coerced, err := coerce(existing.kind, v)
		if err != nil {
			return fmt.Errorf("config: set %q: %w", path, err)
		}
		s.entries[path] = entry{kind: existing.kind, value: coerced}
		return nil
	}

	if err := s.checkPathConflict(path); err != nil {
		return err
	}
	kind, val, err := normalize(v)
	if err != nil {
		return fmt.Errorf("config: set %q: %w", path, err)
	}
	s.entries[path] = entry{kind: kind, value: val}
	return nil
}

// Delete removes a path. Missing paths are ignored.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

func (s *Store) Get(path string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (s *Store) GetString(path string) string {
	v, ok := s.Get(path)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

func (s *Store) GetInt(path string) int64 {
	v, ok := s.Get(path)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func (s *Store) GetFloat(path string) float64 {
	v, ok := s.Get(path)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func (s *Store) GetBool(path string) bool {
	v, ok := s.Get(path)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// GetDuration reads a numeric path as a number of seconds.
func (s *Store) GetDuration(path string) time.Duration {
	return time.Duration(s.GetFloat(path) * float64(time.Second))
}

// GetStringList reads a list path, dropping any non-string element.
func (s *Store) GetStringList(path string) []string {
	v, ok := s.Get(path)
	if !ok {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if str, ok := it.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// Keys returns every populated path, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load reads a JSON object file and flattens its nested objects into dotted
// paths. A missing file is not an error; the store starts empty.
func (s *Store) Load(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", file, err)
	}

	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("config: parse %s: %w", file, err)
	}

	flat := make(map[string]interface{})
	flatten("", root, flat)

	s.mu.Lock()
	defer s.mu.Unlock()
	for path, v := range flat {
		kind, val, err := normalize(v)
		if err != nil {
			return fmt.Errorf("config: load %q: %w", path, err)
		}
		s.entries[path] = entry{kind: kind, value: val}
	}
	return nil
}

// Save snapshots the store, nests dotted paths back into objects, and
// writes the file atomically.
func (s *Store) Save(file string) error {
	s.mu.RLock()
	snapshot := make(map[string]interface{}, len(s.entries))
	for path, e := range s.entries {
		snapshot[path] = e.value
	}
	s.mu.RUnlock()

	root := make(map[string]interface{})
	for path, v := range snapshot {
		nest(root, path, v)
	}

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, file); err != nil {
		return fmt.Errorf("config: rename %s: %w", tmp, err)
	}
	return nil
}

// checkPathConflict rejects paths where a leaf and an object would collide
// on save, e.g. "a.b" when "a" is already a value. Caller holds the lock.
func (s *Store) checkPathConflict(path string) error {
	prefix := path + "."
	for existing := range s.entries {
		if existing == path {
			continue
		}
		if strings.HasPrefix(existing, prefix) || strings.HasPrefix(path, existing+".") {
			return fmt.Errorf("config: path %q conflicts with existing path %q", path, existing)
		}
	}
	return nil
}

func flatten(prefix string, obj map[string]interface{}, out map[string]interface{}) {
	for key, v := range obj {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flatten(path, nested, out)
			continue
		}
		out[path] = v
	}
}

func nest(root map[string]interface{}, path string, v interface{}) {
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
	node[parts[len(parts)-1]] = v
}

// normalize maps an arbitrary value onto the store's tagged representation:
// nil, bool, int64, float64, string, []interface{} or map[string]interface{}.
func normalize(v interface{}) (Kind, interface{}, error) {
	switch val := v.(type) {
	case nil:
		return KindNil, nil, nil
	case bool:
		return KindBool, val, nil
	case int:
		return KindInt, int64(val), nil
	case int64:
		return KindInt, val, nil
	case float64:
		if val == float64(int64(val)) {
			return KindInt, int64(val), nil
		}
		return KindFloat, val, nil
	case string:
		return KindString, val, nil
	case []string:
		items := make([]interface{}, len(val))
		for i, s := range val {
			items[i] = s
		}
		return KindList, items, nil
	case []interface{}:
		return KindList, val, nil
	case map[string]interface{}:
		return KindMap, val, nil
	case time.Duration:
		return KindFloat, val.Seconds(), nil
	}
	return KindNil, nil, fmt.Errorf("unsupported value type %T", v)
}

// coerce fits a value to an already-declared kind.
func coerce(kind Kind, v interface{}) (interface{}, error) {
	gotKind, val, err := normalize(v)
	if err != nil {
		return nil, err
	}
	if gotKind == kind {
		return val, nil
	}
	switch {
	case kind == KindFloat && gotKind == KindInt:
		return float64(val.(int64)), nil
	case kind == KindInt && gotKind == KindFloat:
		f := val.(float64)
		if f == float64(int64(f)) {
			return int64(f), nil
		}
	case kind == KindNil:
		return val, nil
	}
	return nil, fmt.Errorf("expected %s, got %s", kind, gotKind)
}
