// Package settings loads and validates the engine's domain settings.
//
// Settings live in the document store as the document with id "settings"
// and may also be loaded from a YAML or JSON file. Every load is checked
// against an embedded CUE schema before it takes effect.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sentinel/internal/model"
)

// Settings is the validated settings document.
type Settings struct {
	Transitions        map[string]bool `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	TokenLogin         TokenLogin      `json:"token_login" yaml:"token_login"`
	AppURL             string          `json:"app_url,omitempty" yaml:"app_url,omitempty"`
	DefaultCountryCode int             `json:"default_country_code,omitempty" yaml:"default_country_code,omitempty"`
}

// TokenLogin holds the token login settings.
type TokenLogin struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	TTL     string `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Enabled reports whether the named transition is switched on.
func (s *Settings) Enabled(name string) bool {
	if s == nil {
		return false
	}
	return s.Transitions[name]
}

// EnabledTransitions returns the names of switched-on transitions, sorted.
func (s *Settings) EnabledTransitions() []string {
	if s == nil {
		return nil
	}
	var names []string
	for name, on := range s.Transitions {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// TokenTTL returns the parsed token lifetime, 0 when unset.
func (s *Settings) TokenTTL() time.Duration {
	if s == nil || s.TokenLogin.TTL == "" {
		return 0
	}
	d, _ := time.ParseDuration(s.TokenLogin.TTL)
	return d
}

// Document returns the settings as a storable document with id "settings".
func (s *Settings) Document() (model.Document, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	doc, err := model.DecodeDocument(data)
	if err != nil {
		return nil, err
	}
	doc[model.FieldID] = model.SettingsDocID
	return doc, nil
}

// LoadFile reads settings from a .yaml, .yml or .json file.
func LoadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return Parse(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported settings file %s: want .yaml, .yml or .json", path)
	}
}

// ParseYAML parses YAML settings.
func ParseYAML(data []byte) (*Settings, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &SchemaError{Errors: []ValidationError{{
			Code:    ErrCodeParse,
			Message: err.Error(),
		}}}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert yaml settings: %w", err)
	}
	return Parse(jsonData)
}

// FromDocument parses the settings document from the document store.
// Document bookkeeping fields (_id, _rev, errors) are ignored.
func FromDocument(doc model.Document) (*Settings, error) {
	body := make(map[string]any, len(doc))
	for k, v := range doc {
		if strings.HasPrefix(k, "_") || k == model.FieldErrors {
			continue
		}
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode settings document: %w", err)
	}
	return Parse(data)
}

// Parse parses JSON settings, validating them against the schema.
// Returns a *SchemaError when the document is structurally invalid.
func Parse(data []byte) (*Settings, error) {
	if verrs := validateSchema(data); len(verrs) > 0 {
		return nil, &SchemaError{Errors: verrs}
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &SchemaError{Errors: []ValidationError{{
			Code:    ErrCodeParse,
			Message: err.Error(),
		}}}
	}

	if s.TokenLogin.TTL != "" {
		d, err := time.ParseDuration(s.TokenLogin.TTL)
		if err != nil || d <= 0 {
			return nil, &SchemaError{Errors: []ValidationError{{
				Field:   "token_login.ttl",
				Code:    ErrCodeInvalidValue,
				Message: fmt.Sprintf("must be a positive duration, got %q", s.TokenLogin.TTL),
			}}}
		}
	}

	return &s, nil
}
