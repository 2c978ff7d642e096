package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/giantswarm/mcp-oauth/security"
	"golang.org/x/sync/singleflight"

	"harbor-bridge/internal/config"
	"harbor-bridge/internal/instrumentation"
	"harbor-bridge/pkg/logging"
)

// Refresher runs refresh_token grants. *FlowManager implements it.
type Refresher interface {
	RefreshTokens(ctx context.Context, refreshToken, providerID string, creds ClientCredentials) (*TokenSet, error)
}

// TokenStoreConfig configures a TokenStore.
type TokenStoreConfig struct {
	// Storage persists the store. Nil keeps tokens in memory only.
	Storage *config.Storage

	// FileName defaults to config.TokensFileName.
	FileName string

	// Encryptor encrypts the file at rest when enabled. Nil stores plaintext.
	Encryptor *security.Encryptor

	Refresher   Refresher
	Credentials CredentialProvider
	Metrics     *instrumentation.Metrics
}

// tokenFile is the on-disk layout. Exactly one of Tokens and Encrypted is set;
// Encrypted holds the AES-GCM sealed JSON of the tokens map.
type tokenFile struct {
	Tokens    map[string]*StoredRecord `json:"tokens,omitempty"`
	Encrypted string                   `json:"encrypted,omitempty"`
}

// TokenStore keeps one StoredRecord per server id and hands out access
// tokens, refreshing them on read.
//
// SECURITY: token values are never logged. The file is written atomically
// with mode 0600 in a 0700 directory.
type TokenStore struct {
	mu      sync.RWMutex
	records map[string]*StoredRecord

	// saveMu orders snapshots so a slower save never overwrites a newer one.
	saveMu sync.Mutex

	// refreshGroup keeps at most one refresh in flight per server id.
	refreshGroup singleflight.Group

	storage     *config.Storage
	fileName    string
	encryptor   *security.Encryptor
	refresher   Refresher
	credentials CredentialProvider
	metrics     *instrumentation.Metrics
	now         func() time.Time
}

// NewTokenStore creates a store and loads any persisted records.
func NewTokenStore(cfg TokenStoreConfig) *TokenStore {
	fileName := cfg.FileName
	if fileName == "" {
		fileName = config.TokensFileName
	}

	s := &TokenStore{
		records:     make(map[string]*StoredRecord),
		storage:     cfg.Storage,
		fileName:    fileName,
		encryptor:   cfg.Encryptor,
		refresher:   cfg.Refresher,
		credentials: cfg.Credentials,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
	s.Load()
	return s
}

// Get returns a copy of the record for serverID.
func (s *TokenStore) Get(serverID string) (StoredRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[serverID]
	if !ok {
		return StoredRecord{}, false
	}
	return copyRecord(rec), true
}

// Set replaces the record for serverID in memory. Call Save to persist.
func (s *TokenStore) Set(serverID string, record StoredRecord) {
	record.ServerID = serverID
	rec := copyRecord(&record)

	s.mu.Lock()
	s.records[serverID] = &rec
	s.mu.Unlock()
}

// Remove deletes the record for serverID in memory and returns it.
// Call Save to persist.
func (s *TokenStore) Remove(serverID string) (StoredRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[serverID]
	if !ok {
		return StoredRecord{}, false
	}
	delete(s.records, serverID)
	return *rec, true
}

// Has reports whether a record exists for serverID.
func (s *TokenStore) Has(serverID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[serverID]
	return ok
}

// IsExpired is true when there is no record or its token expires within
// ExpiryThreshold. A record without an expiry never expires.
func (s *TokenStore) IsExpired(serverID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[serverID]
	if !ok {
		return true
	}
	return rec.Tokens.IsExpired(s.now())
}

// List returns copies of all records ordered by server id.
func (s *TokenStore) List() []StoredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StoredRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// GetAccessToken returns a usable access token for serverID, refreshing it
// first when it is expired. Concurrent callers for the same server share a
// single refresh and observe the same token.
func (s *TokenStore) GetAccessToken(ctx context.Context, serverID string) (string, error) {
	s.mu.RLock()
	rec, ok := s.records[serverID]
	var token string
	var expired bool
	if ok {
		token = rec.Tokens.AccessToken
		expired = rec.Tokens.IsExpired(s.now())
	}
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w for server %s", ErrNoTokens, serverID)
	}
	if !expired {
		return token, nil
	}

	// The refresh outlives any single caller's cancellation; the HTTP client
	// timeout bounds it. A cancelled caller stops waiting and the result is
	// still stored for the next read.
	refreshCtx := context.WithoutCancel(ctx)
	ch := s.refreshGroup.DoChan(serverID, func() (interface{}, error) {
		return s.refresh(refreshCtx, serverID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			logging.Debug("TokenStore", "Shared in-flight refresh for server=%s", serverID)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		logging.Debug("TokenStore", "Caller gave up waiting for refresh of server=%s: %v", serverID, ctx.Err())
		return "", ctx.Err()
	}
}

// refresh runs inside the singleflight group for serverID.
func (s *TokenStore) refresh(ctx context.Context, serverID string) (string, error) {
	// Re-check under the lock: a refresh that finished just before this one
	// started already replaced the token.
	s.mu.RLock()
	rec, ok := s.records[serverID]
	var snapshot StoredRecord
	if ok {
		snapshot = copyRecord(rec)
	}
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w for server %s", ErrNoTokens, serverID)
	}
	if !snapshot.Tokens.IsExpired(s.now()) {
		return snapshot.Tokens.AccessToken, nil
	}
	if snapshot.Tokens.RefreshToken == "" {
		return "", fmt.Errorf("%w for server %s", ErrRefreshUnavailable, serverID)
	}
	if s.credentials == nil || s.refresher == nil {
		return "", notConfigured(snapshot.ProviderID)
	}
	creds, ok := s.credentials.Get(snapshot.ProviderID)
	if !ok {
		return "", notConfigured(snapshot.ProviderID)
	}

	logging.Info("TokenStore", "Access token for server=%s expired, refreshing via %s", serverID, snapshot.ProviderID)
	tokens, err := s.refresher.RefreshTokens(ctx, snapshot.Tokens.RefreshToken, snapshot.ProviderID, creds)
	if err != nil {
		logging.Error("TokenStore", err, "Failed to refresh token for server=%s", serverID)
		return "", fmt.Errorf("refresh for server %s: %w", serverID, err)
	}

	s.mu.Lock()
	current, ok := s.records[serverID]
	switch {
	case !ok:
		// Revoked while the refresh was in flight.
		s.mu.Unlock()
		return "", fmt.Errorf("%w for server %s", ErrNoTokens, serverID)
	case current.Tokens.AccessToken != snapshot.Tokens.AccessToken:
		// A new authorization replaced the record meanwhile; it wins.
		access := current.Tokens.AccessToken
		s.mu.Unlock()
		return access, nil
	}
	current.Tokens = *tokens
	current.UpdatedAt = s.now().UnixMilli()
	s.mu.Unlock()

	logging.Audit("token_refreshed", "server_id", serverID, "provider", snapshot.ProviderID,
		"rotated", tokens.RefreshToken != snapshot.Tokens.RefreshToken)

	if err := s.Save(); err != nil {
		s.metrics.RecordPersistFailure(ctx, "refresh")
		logging.Error("TokenStore", err, "Refreshed token for server=%s could not be persisted", serverID)
	}
	return tokens.AccessToken, nil
}

// RecordOutcome stores the tokens from a completed flow and persists the
// store. created_at is kept when the server already had a record.
func (s *TokenStore) RecordOutcome(outcome CallbackOutcome) error {
	if outcome.Err != nil || outcome.Tokens == nil {
		return nil
	}

	now := s.now().UnixMilli()

	s.mu.Lock()
	rec := &StoredRecord{
		ServerID:   outcome.ServerID,
		ProviderID: outcome.ProviderID,
		Tokens:     *outcome.Tokens,
		Scopes:     append([]string(nil), outcome.Scopes...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, ok := s.records[outcome.ServerID]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	s.records[outcome.ServerID] = rec
	s.mu.Unlock()

	logging.Audit("token_stored", "server_id", outcome.ServerID, "provider", outcome.ProviderID,
		"has_refresh_token", outcome.Tokens.RefreshToken != "")

	if err := s.Save(); err != nil {
		s.metrics.RecordPersistFailure(context.Background(), "callback")
		return err
	}
	return nil
}

// Save writes the whole store to disk.
func (s *TokenStore) Save() error {
	if s.storage == nil {
		return nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	data, err := s.encodeLocked()
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w: encode token store: %w", ErrStorageIO, err)
	}

	if err := s.storage.Save(s.fileName, data); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	return nil
}

// Load replaces the in-memory records with the persisted ones. It never
// fails: a missing file leaves the store empty and an unreadable or corrupt
// file is logged and ignored.
func (s *TokenStore) Load() {
	if s.storage == nil {
		return
	}

	data, err := s.storage.Load(s.fileName)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Error("TokenStore", err, "Failed to read token store, starting empty")
		}
		return
	}

	records, err := s.decode(data)
	if err != nil {
		logging.Error("TokenStore", err, "Token store at %s is corrupt, starting empty", s.storage.Path(s.fileName))
		return
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	logging.Debug("TokenStore", "Loaded %d token records", len(records))
}

func (s *TokenStore) encrypting() bool {
	return s.encryptor != nil && s.encryptor.IsEnabled()
}

func (s *TokenStore) encodeLocked() ([]byte, error) {
	if !s.encrypting() {
		return json.MarshalIndent(tokenFile{Tokens: s.records}, "", "  ")
	}

	plain, err := json.Marshal(s.records)
	if err != nil {
		return nil, err
	}
	sealed, err := s.encryptor.Encrypt(string(plain))
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(tokenFile{Encrypted: sealed}, "", "  ")
}

func (s *TokenStore) decode(data []byte) (map[string]*StoredRecord, error) {
	var file tokenFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	records := file.Tokens
	if file.Encrypted != "" {
		if !s.encrypting() {
			return nil, fmt.Errorf("token store is encrypted but no encryption key is configured")
		}
		plain, err := s.encryptor.Decrypt(file.Encrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt token store: %w", err)
		}
		if err := json.Unmarshal([]byte(plain), &records); err != nil {
			return nil, err
		}
	}

	out := make(map[string]*StoredRecord, len(records))
	for id, rec := range records {
		if rec == nil {
			continue
		}
		if rec.ServerID == "" {
			rec.ServerID = id
		}
		out[id] = rec
	}
	return out, nil
}

func copyRecord(rec *StoredRecord) StoredRecord {
	out := *rec
	out.Scopes = append([]string(nil), rec.Scopes...)
	if rec.Tokens.ExpiresAt != nil {
		exp := *rec.Tokens.ExpiresAt
		out.Tokens.ExpiresAt = &exp
	}
	return out
}
