package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	yaml "go.yaml.in/yaml/v3"

	"hookrouter/internal/types"
)

// ruleNamespace seeds deterministic IDs for file rules without an explicit
// id, so IDs survive reloads.
var ruleNamespace = uuid.MustParse("6f1f6c52-3b0e-4d59-9a43-27c1d1a0b7e4")

const reloadDebounce = 250 * time.Millisecond

// ruleFile is the document shape: either {"rules": [...]} or a bare list.
type ruleFile struct {
	Rules []*types.RoutingRule `json:"rules"`
}

// enabledFlag detects rules that omit "enabled"; those default to on.
type enabledFlag struct {
	Enabled *bool `json:"enabled"`
}

// ParseRules decodes a YAML or JSON rule document. YAML is converted to JSON
// first so both formats share the JSON decoding rules of the API.
func ParseRules(path string, data []byte) ([]*types.RoutingRule, error) {
	jb, err := toJSON(path, data)
	if err != nil {
		return nil, err
	}
	jb = bytes.TrimSpace(jb)
	if len(jb) == 0 || bytes.Equal(jb, []byte("null")) {
		return nil, nil
	}

	var (
		rules []*types.RoutingRule
		flags []enabledFlag
	)
	if jb[0] == '[' {
		err = json.Unmarshal(jb, &rules)
		if err == nil {
			err = json.Unmarshal(jb, &flags)
		}
	} else {
		var doc ruleFile
		dec := json.NewDecoder(bytes.NewReader(jb))
		dec.DisallowUnknownFields()
		err = dec.Decode(&doc)
		rules = doc.Rules
		if err == nil {
			var fdoc struct {
				Rules []enabledFlag `json:"rules"`
			}
			err = json.Unmarshal(jb, &fdoc)
			flags = fdoc.Rules
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	for i, f := range flags {
		if f.Enabled == nil && i < len(rules) && rules[i] != nil {
			rules[i].Enabled = true
		}
	}

	for i, r := range rules {
		if r == nil {
			return nil, fmt.Errorf("rule %d is empty", i)
		}
		if r.ID == "" {
			r.ID = uuid.NewSHA1(ruleNamespace, []byte(r.Name)).String()
		}
		if err := types.ValidateRule(r); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
	}
	return rules, nil
}

// LoadFile reads and parses a rule file.
func LoadFile(path string) ([]*types.RoutingRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(path, data)
}

func toJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

var _ types.RuleStore = (*FileStore)(nil)

// FileStore serves rules from a file. The file is the source of truth, so
// writes through the API are rejected.
type FileStore struct {
	*MemoryStore
	path   string
	logger types.Logger

	mu       sync.Mutex
	lastHash uint64
}

// NewFileStore loads path once. Call Watch to keep it current.
func NewFileStore(path string, clock types.Clock, logger types.Logger) (*FileStore, error) {
	mem, err := NewMemoryStore(clock)
	if err != nil {
		return nil, err
	}
	s := &FileStore{MemoryStore: mem, path: path, logger: logger}
	if _, err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the watched file.
func (s *FileStore) Path() string { return s.path }

// Reload re-reads the file and swaps the rule set when the content changed.
// A file that fails to parse leaves the current rules in place.
func (s *FileStore) Reload(context.Context) (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("read rules: %w", err)
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	sum := h.Sum64()

	s.mu.Lock()
	defer s.mu.Unlock()
	if sum == s.lastHash {
		return false, nil
	}
	rules, err := ParseRules(s.path, data)
	if err != nil {
		return false, err
	}
	if err := s.Replace(rules); err != nil {
		return false, err
	}
	s.lastHash = sum
	s.logger.Info("rules loaded", "path", s.path, "count", len(rules))
	return true, nil
}

// Watch reloads the file on change until ctx is done. It watches the
// directory so editors that replace the file by rename are handled.
func (s *FileStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules watch: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(s.path), filepath.Base(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("rules watch %s: %w", dir, err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	reload := func() {
		if _, err := s.Reload(ctx); err != nil {
			s.logger.Warn("rules reload rejected", "path", s.path, "error", err.Error())
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("rules watcher error", "error", err.Error())
		}
	}
}

func readOnly() error {
	return types.NewAppError(types.ErrCodeValidationInvalidRule, "rules are managed by the rule file and cannot be changed through the API", nil)
}

func (s *FileStore) Create(context.Context, *types.RoutingRule) error { return readOnly() }
func (s *FileStore) Update(context.Context, *types.RoutingRule) error { return readOnly() }
func (s *FileStore) Delete(context.Context, string) error             { return readOnly() }
