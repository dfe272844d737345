// Package config implements per-installation configuration: the
// languages/extra-languages keys of spec §6, persisted as YAML with
// goccy/go-yaml and written atomically, the way the teacher's
// internal/config/loader.go persists its own resource documents.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/terassyi/depot/internal/depoterr"
)

const (
	KeyLanguages      = "languages"
	KeyExtraLanguages = "extra-languages"

	allLanguagesStar = "*"
	allLanguagesWord = "*all*"
)

var (
	languageCodePattern = regexp.MustCompile(`^[a-z]+$`)
	localeCodePattern   = regexp.MustCompile(`^[a-z]+(_[A-Z][A-Z])?(\.[A-Za-z0-9-]+)?(@[A-Za-z0-9]+)?$`)
)

// doc is the on-disk shape of the config file.
type doc struct {
	Languages      string `yaml:"languages"`
	ExtraLanguages string `yaml:"extra-languages"`
}

// Config holds one installation's language configuration (spec §6 Config
// Keys). Empty Languages/ExtraLanguages mean "unset."
type Config struct {
	path           string
	Languages      []string
	ExtraLanguages []string
	allLanguages   bool
}

// Load reads path, treating a missing file as an empty, unconfigured Config.
func Load(path string) (*Config, error) {
	c := &Config{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var d doc
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.setLanguages(d.Languages); err != nil {
		return nil, err
	}
	if err := c.setExtraLanguages(d.ExtraLanguages); err != nil {
		return nil, err
	}
	return c, nil
}

// AllLanguages reports whether languages was set to `*`/`*all*`.
func (c *Config) AllLanguages() bool { return c.allLanguages }

// Get implements the `config --get KEY` CLI verb.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case KeyLanguages:
		if c.allLanguages {
			return allLanguagesStar, nil
		}
		return strings.Join(c.Languages, ";"), nil
	case KeyExtraLanguages:
		return strings.Join(c.ExtraLanguages, ";"), nil
	default:
		return "", unknownKey(key)
	}
}

// Set implements the `config --set KEY VAL` CLI verb, validating each
// component against spec §6's language/locale code patterns.
func (c *Config) Set(key, value string) error {
	switch key {
	case KeyLanguages:
		return c.setLanguages(value)
	case KeyExtraLanguages:
		return c.setExtraLanguages(value)
	default:
		return unknownKey(key)
	}
}

// Unset implements the `config --unset KEY` CLI verb.
func (c *Config) Unset(key string) error {
	switch key {
	case KeyLanguages:
		c.Languages = nil
		c.allLanguages = false
	case KeyExtraLanguages:
		c.ExtraLanguages = nil
	default:
		return unknownKey(key)
	}
	return nil
}

// List implements the `config --list` CLI verb.
func (c *Config) List() map[string]string {
	langs, _ := c.Get(KeyLanguages)
	extra, _ := c.Get(KeyExtraLanguages)
	return map[string]string{KeyLanguages: langs, KeyExtraLanguages: extra}
}

func (c *Config) setLanguages(value string) error {
	if value == "" {
		c.Languages = nil
		c.allLanguages = false
		return nil
	}
	if value == allLanguagesStar || value == allLanguagesWord {
		c.allLanguages = true
		c.Languages = nil
		return nil
	}
	codes := splitNonEmpty(value)
	for _, code := range codes {
		if code == "C" || code == "POSIX" {
			continue
		}
		if !languageCodePattern.MatchString(code) {
			return depoterr.InvalidConfigValue.WithDetail("key", KeyLanguages).WithDetail("value", code)
		}
	}
	c.allLanguages = false
	c.Languages = codes
	return nil
}

func (c *Config) setExtraLanguages(value string) error {
	codes := splitNonEmpty(value)
	for _, code := range codes {
		if !localeCodePattern.MatchString(code) {
			return depoterr.InvalidConfigValue.WithDetail("key", KeyExtraLanguages).WithDetail("value", code)
		}
	}
	c.ExtraLanguages = codes
	return nil
}

func splitNonEmpty(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ";") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func unknownKey(key string) error {
	return depoterr.InvalidConfigValue.WithDetail("key", key).WithHint("unknown config key")
}

// Save persists the config atomically: write to a sibling temp file, then
// rename over the destination, matching the teacher's
// internal/state/store.go write-then-rename persistence style.
func (c *Config) Save() error {
	langValue, _ := c.Get(KeyLanguages)
	extraValue, _ := c.Get(KeyExtraLanguages)
	raw, err := yaml.Marshal(doc{Languages: langValue, ExtraLanguages: extraValue})
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, c.path)
}
