// Package preferences holds the per-client UI preferences (compact mode, tabs, composite selection).
package preferences

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/wonny/stocktop/internal/composite"
	"github.com/wonny/stocktop/internal/session"
	"github.com/wonny/stocktop/pkg/logger"
)

// Tabs
const (
	TabComposite    = "composite"
	TabTradingValue = "trading_value"
	TabVolume       = "volume"
	TabFluctuation  = "fluctuation"
	TabInvestor     = "investor"
	TabTheme        = "theme"
	TabNews         = "news"
	TabPaperTrading = "paper_trading"
)

var validTabs = map[string]bool{
	TabComposite:    true,
	TabTradingValue: true,
	TabVolume:       true,
	TabFluctuation:  true,
	TabInvestor:     true,
	TabTheme:        true,
	TabNews:         true,
	TabPaperTrading: true,
}

// KV keys, one entry per preference
const (
	keyCompactMode       = "pref:compactMode"
	keyActiveTab         = "pref:activeTab"
	keyFluctuationSource = "pref:fluctuationSource"
	keyCompositeMode     = "pref:compositeMode"
)

// ErrInvalid is returned for out-of-range preference values
var ErrInvalid = errors.New("invalid preference")

// Preferences are UI-only settings restored on load and written on every change
type Preferences struct {
	CompactMode       bool             `yaml:"compact_mode" json:"compactMode"`
	ActiveTab         string           `yaml:"active_tab" json:"activeTab"`
	FluctuationSource composite.Source `yaml:"fluctuation_source" json:"fluctuationSource"`
	CompositeMode     composite.Mode   `yaml:"composite_mode" json:"compositeMode"`
}

// Default returns the built-in defaults
func Default() Preferences {
	return Preferences{
		CompactMode:       false,
		ActiveTab:         TabComposite,
		FluctuationSource: composite.SourceRecomputed,
		CompositeMode:     composite.ModeAll,
	}
}

// Validate rejects unknown enum values
func (p Preferences) Validate() error {
	if !validTabs[p.ActiveTab] {
		return fmt.Errorf("%w: active tab %q", ErrInvalid, p.ActiveTab)
	}
	if _, err := composite.ParseSource(string(p.FluctuationSource)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := composite.ParseMode(string(p.CompositeMode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// LoadDefaults reads defaults from a YAML file. An empty path returns Default().
// Fields missing from the file keep their built-in value; unknown fields are an error.
func LoadDefaults(path string) (Preferences, error) {
	prefs := Default()
	if path == "" {
		return prefs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Preferences{}, fmt.Errorf("failed to read preferences file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&prefs); err != nil {
		return Preferences{}, fmt.Errorf("failed to parse preferences file: %w", err)
	}

	if err := prefs.Validate(); err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}

// Store persists one client's preferences in its KV
type Store struct {
	kv       session.KV
	defaults Preferences
	logger   *logger.Logger
}

// NewStore creates a preference store falling back to defaults
func NewStore(kv session.KV, defaults Preferences, log *logger.Logger) *Store {
	return &Store{
		kv:       kv,
		defaults: defaults,
		logger:   log,
	}
}

// Load restores preferences. Missing or invalid stored values use the default.
func (s *Store) Load(ctx context.Context) (Preferences, error) {
	prefs := s.defaults

	if v, ok, err := s.kv.Get(ctx, keyCompactMode); err != nil {
		return Preferences{}, err
	} else if ok {
		if b, err := strconv.ParseBool(v); err == nil {
			prefs.CompactMode = b
		} else {
			s.warnInvalid(keyCompactMode, v)
		}
	}

	if v, ok, err := s.kv.Get(ctx, keyActiveTab); err != nil {
		return Preferences{}, err
	} else if ok {
		if validTabs[v] {
			prefs.ActiveTab = v
		} else {
			s.warnInvalid(keyActiveTab, v)
		}
	}

	if v, ok, err := s.kv.Get(ctx, keyFluctuationSource); err != nil {
		return Preferences{}, err
	} else if ok {
		if src, err := composite.ParseSource(v); err == nil {
			prefs.FluctuationSource = src
		} else {
			s.warnInvalid(keyFluctuationSource, v)
		}
	}

	if v, ok, err := s.kv.Get(ctx, keyCompositeMode); err != nil {
		return Preferences{}, err
	} else if ok {
		if mode, err := composite.ParseMode(v); err == nil {
			prefs.CompositeMode = mode
		} else {
			s.warnInvalid(keyCompositeMode, v)
		}
	}

	return prefs, nil
}

// Save validates and writes every preference
func (s *Store) Save(ctx context.Context, prefs Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}

	entries := []struct{ key, value string }{
		{keyCompactMode, strconv.FormatBool(prefs.CompactMode)},
		{keyActiveTab, prefs.ActiveTab},
		{keyFluctuationSource, string(prefs.FluctuationSource)},
		{keyCompositeMode, string(prefs.CompositeMode)},
	}
	for _, e := range entries {
		if err := s.kv.Set(ctx, e.key, e.value); err != nil {
			return fmt.Errorf("failed to save %s: %w", e.key, err)
		}
	}
	return nil
}

// Reset drops stored values so the defaults apply again
func (s *Store) Reset(ctx context.Context) error {
	for _, key := range []string{keyCompactMode, keyActiveTab, keyFluctuationSource, keyCompositeMode} {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to reset %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) warnInvalid(key, value string) {
	s.logger.WithFields(map[string]interface{}{
		"key":   key,
		"value": value,
	}).Warn("Ignoring invalid stored preference")
}
