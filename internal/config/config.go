package config

import (
	"errors"
	"fmt"
	"fragloadd/internal/models"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen                     = ":8080"
	defaultLogLevel                   = "info"
	defaultLoader                     = "http"
	defaultFragLoadingTimeout         = 20 * time.Second
	defaultFragLoadingMaxRetryTimeout = 64 * time.Second
	defaultCacheTTL                   = 2 * time.Minute
)

// Settings holds the fully processed application configuration.
type Settings struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"logLevel"`
	// Loader names the default loader implementation.
	Loader string `yaml:"loader"`
	// FragmentLoader names a custom loader used for fragments instead of Loader.
	FragmentLoader             string        `yaml:"fragmentLoader"`
	FragLoadingTimeout         time.Duration `yaml:"fragLoadingTimeout"`
	FragLoadingMaxRetryTimeout time.Duration `yaml:"fragLoadingMaxRetryTimeout"`
	// CacheTTL is how long loaded payloads are kept for the API.
	CacheTTL time.Duration `yaml:"cacheTTL"`
	// Loaders holds the raw options of each loader, decoded by the loader itself.
	Loaders map[string]map[string]interface{} `yaml:"loaders"`
}

// Default returns the settings used when no file is given.
func Default() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

// LoadConfig reads and parses the configuration file from the given path.
func LoadConfig(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes YAML data, applies defaults and validates the result.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.Listen == "" {
		s.Listen = defaultListen
	}
	if s.LogLevel == "" {
		s.LogLevel = defaultLogLevel
	}
	if s.Loader == "" {
		s.Loader = defaultLoader
	}
	if s.FragLoadingTimeout == 0 {
		s.FragLoadingTimeout = defaultFragLoadingTimeout
	}
	if s.FragLoadingMaxRetryTimeout == 0 {
		s.FragLoadingMaxRetryTimeout = defaultFragLoadingMaxRetryTimeout
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = defaultCacheTTL
	}
	if s.Loaders == nil {
		s.Loaders = make(map[string]map[string]interface{})
	}
}

// Validate reports every invalid option.
func (s *Settings) Validate() error {
	var errs []error
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("option '%s', invalid value '%s'", "logLevel", s.LogLevel))
	}
	if s.FragLoadingTimeout < 0 {
		errs = append(errs, fmt.Errorf("option '%s', invalid value '%v'", "fragLoadingTimeout", s.FragLoadingTimeout))
	}
	if s.FragLoadingMaxRetryTimeout < 0 {
		errs = append(errs, fmt.Errorf("option '%s', invalid value '%v'", "fragLoadingMaxRetryTimeout",
			s.FragLoadingMaxRetryTimeout))
	}
	if s.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("option '%s', invalid value '%v'", "cacheTTL", s.CacheTTL))
	}
	return errors.Join(errs...)
}

// LoadSettings returns the part of the settings applied to each fragment load.
func (s *Settings) LoadSettings() models.LoadSettings {
	return models.LoadSettings{
		Timeout:        s.FragLoadingTimeout,
		MaxRetryDelay:  s.FragLoadingMaxRetryTimeout,
		Loader:         s.Loader,
		FragmentLoader: s.FragmentLoader,
		LoaderOptions:  s.Loaders,
	}
}

// Store holds the current settings; they can be swapped while loads run.
type Store struct {
	current atomic.Pointer[Settings]
}

// NewStore creates a store holding s.
func NewStore(s *Settings) *Store {
	store := &Store{}
	store.Set(s)
	return store
}

// Get returns the current settings.
func (st *Store) Get() *Settings {
	return st.current.Load()
}

// Set replaces the current settings.
func (st *Store) Set(s *Settings) {
	st.current.Store(s)
}

// LoadSettings returns the load settings of the current settings.
func (st *Store) LoadSettings() models.LoadSettings {
	return st.Get().LoadSettings()
}
