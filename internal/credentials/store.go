package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/caarlos0/env/v11"

	"harbor-bridge/internal/config"
	"harbor-bridge/internal/oauth"
	"harbor-bridge/internal/providers"
	"harbor-bridge/pkg/logging"
)

// Source values reported by Store.Source.
const (
	SourceNone = ""
	SourceFile = "file"
	SourceEnv  = "env"
)

// fileLayout is the on-disk format of the credentials file.
type fileLayout struct {
	Providers map[string]oauth.ClientCredentials `json:"providers"`
}

// envCredentials lists the environment overrides. A provider is only taken
// from the environment when both its id and secret are set.
type envCredentials struct {
	GoogleClientID     string `env:"HARBOR_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"HARBOR_GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `env:"HARBOR_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"HARBOR_GITHUB_CLIENT_SECRET"`
}

func (e envCredentials) byProvider() map[string]oauth.ClientCredentials {
	out := make(map[string]oauth.ClientCredentials)
	if e.GoogleClientID != "" && e.GoogleClientSecret != "" {
		out[providers.Google] = oauth.ClientCredentials{ClientID: e.GoogleClientID, ClientSecret: e.GoogleClientSecret}
	}
	if e.GitHubClientID != "" && e.GitHubClientSecret != "" {
		out[providers.GitHub] = oauth.ClientCredentials{ClientID: e.GitHubClientID, ClientSecret: e.GitHubClientSecret}
	}
	return out
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Storage *config.Storage

	// FileName defaults to config.CredentialsFileName.
	FileName string

	// Environment replaces the process environment when non-nil.
	Environment map[string]string
}

// Store holds provider credentials loaded from the credentials file and the
// environment.
type Store struct {
	mu       sync.RWMutex
	fromFile map[string]oauth.ClientCredentials
	fromEnv  map[string]oauth.ClientCredentials

	storage     *config.Storage
	fileName    string
	environment map[string]string
}

// NewStore creates a Store and loads the file and environment. A missing or
// unreadable file is not fatal; an invalid environment is.
func NewStore(cfg StoreConfig) (*Store, error) {
	fileName := cfg.FileName
	if fileName == "" {
		fileName = config.CredentialsFileName
	}

	s := &Store{
		fromFile:    make(map[string]oauth.ClientCredentials),
		fromEnv:     make(map[string]oauth.ClientCredentials),
		storage:     cfg.Storage,
		fileName:    fileName,
		environment: cfg.Environment,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get implements oauth.CredentialProvider.
func (s *Store) Get(providerID string) (oauth.ClientCredentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.fromEnv[providerID]; ok {
		return c, true
	}
	c, ok := s.fromFile[providerID]
	return c, ok
}

// Source reports where the effective credentials for providerID come from.
func (s *Store) Source(providerID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.fromEnv[providerID]; ok {
		return SourceEnv
	}
	if _, ok := s.fromFile[providerID]; ok {
		return SourceFile
	}
	return SourceNone
}

// Configured returns the ids of providers with credentials, sorted.
func (s *Store) Configured() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for id := range s.fromFile {
		seen[id] = true
	}
	for id := range s.fromEnv {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Set stores credentials for providerID in the credentials file.
func (s *Store) Set(providerID string, creds oauth.ClientCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneMap(s.fromFile)
	next[providerID] = creds
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.fromFile = next

	if _, ok := s.fromEnv[providerID]; ok {
		logging.Warn("Credentials", "Saved %s credentials to file, but environment variables still take precedence", providerID)
	}
	return nil
}

// Remove deletes providerID from the credentials file. Environment
// credentials are not affected.
func (s *Store) Remove(providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fromFile[providerID]; !ok {
		return nil
	}

	next := cloneMap(s.fromFile)
	delete(next, providerID)
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.fromFile = next

	if _, ok := s.fromEnv[providerID]; ok {
		logging.Warn("Credentials", "Removed %s credentials from file; environment credentials remain active", providerID)
	}
	return nil
}

// Reload re-reads the credentials file and the environment.
func (s *Store) Reload() error {
	var e envCredentials
	opts := env.Options{}
	if s.environment != nil {
		opts.Environment = s.environment
	}
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return fmt.Errorf("parse credential environment: %w", err)
	}
	fromEnv := e.byProvider()
	fromFile := s.loadFile()

	s.mu.Lock()
	s.fromEnv = fromEnv
	s.fromFile = fromFile
	s.mu.Unlock()

	for id := range fromEnv {
		logging.Debug("Credentials", "Loaded %s OAuth credentials from environment", id)
	}
	logging.Debug("Credentials", "Loaded %d provider credentials from file", len(fromFile))
	return nil
}

// Path returns the credentials file path, or "" without storage.
func (s *Store) Path() string {
	if s.storage == nil {
		return ""
	}
	return s.storage.Path(s.fileName)
}

func (s *Store) loadFile() map[string]oauth.ClientCredentials {
	out := make(map[string]oauth.ClientCredentials)
	if s.storage == nil {
		return out
	}

	data, err := s.storage.Load(s.fileName)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Credentials", "Failed to read credentials file: %v", err)
		}
		return out
	}

	var layout fileLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		logging.Warn("Credentials", "Failed to parse credentials file %s: %v", s.Path(), err)
		return out
	}
	for id, c := range layout.Providers {
		if c.ClientID == "" || c.ClientSecret == "" {
			logging.Warn("Credentials", "Ignoring incomplete credentials for %s", id)
			continue
		}
		out[id] = c
	}
	return out
}

func (s *Store) saveLocked(next map[string]oauth.ClientCredentials) error {
	if s.storage == nil {
		return nil
	}
	data, err := json.MarshalIndent(fileLayout{Providers: next}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := s.storage.Save(s.fileName, data); err != nil {
		return fmt.Errorf("%w: %w", oauth.ErrStorageIO, err)
	}
	logging.Info("Credentials", "Saved credentials to %s", s.Path())
	return nil
}

func cloneMap(in map[string]oauth.ClientCredentials) map[string]oauth.ClientCredentials {
	out := make(map[string]oauth.ClientCredentials, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
