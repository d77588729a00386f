package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/teemow/sheetsproxy/internal/credentials"
	"github.com/teemow/sheetsproxy/internal/identity"
	"github.com/teemow/sheetsproxy/internal/logging"
)

// DefaultKeyPrefix namespaces every key this package writes.
const DefaultKeyPrefix = "sheetsproxy:"

// Key types.
const (
	keyToken   = "token"
	keyBinding = "binding"
	keyUser    = "user"
	keyEmail   = "email"
)

// Config holds connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// MaxAttempts bounds the startup ping retries. Zero means 5.
	MaxAttempts uint
}

// Store implements credentials.Store and identity.BindingStore.
type Store struct {
	client    goredis.UniversalClient
	keyPrefix string
	enc       *credentials.Encryptor
	now       func() time.Time
}

// NewStore connects to Redis and pings it, retrying with exponential backoff.
func NewStore(ctx context.Context, cfg Config, enc *credentials.Encryptor, logger *slog.Logger) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 5
	}
	logger = logging.WithComponent(logger, "redis")

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable yet", logging.Err(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(attempts),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connection established", slog.Int("db", cfg.DB))
	return NewStoreWithClient(client, cfg.KeyPrefix, enc), nil
}

// NewStoreWithClient wraps an existing client. Tests use it with miniredis.
func NewStoreWithClient(client goredis.UniversalClient, keyPrefix string, enc *credentials.Encryptor) *Store {
	return &Store{
		client:    client,
		keyPrefix: keyPrefix,
		enc:       enc,
		now:       time.Now,
	}
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(kind, id string) string {
	return s.keyPrefix + kind + ":" + id
}

// storedCredential is the JSON document kept per identity.
type storedCredential struct {
	credentials.Credential
	LastUsedAt int64 `json:"last_used_at,omitempty"`
	UpdatedAt  int64 `json:"updated_at"`
}

func (s *Store) getCredential(ctx context.Context, identityID string) (*storedCredential, error) {
	data, err := s.client.Get(ctx, s.key(keyToken, identityID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, credentials.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	var stored storedCredential
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &stored, nil
}

func (s *Store) putCredential(ctx context.Context, identityID string, stored *storedCredential) error {
	stored.UpdatedAt = s.now().Unix()
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	if err := s.client.Set(ctx, s.key(keyToken, identityID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, identityID string) (*credentials.Credential, error) {
	stored, err := s.getCredential(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if stored.Revoked {
		return nil, credentials.ErrNotFound
	}
	opened, err := s.enc.Open(&stored.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return opened, nil
}

func (s *Store) Store(ctx context.Context, identityID string, c *credentials.Credential) error {
	sealed, err := s.enc.Seal(c)
	if err != nil {
		return err
	}
	sealed.Revoked = false
	return s.putCredential(ctx, identityID, &storedCredential{
		Credential: *sealed,
		LastUsedAt: s.now().Unix(),
	})
}

func (s *Store) Update(ctx context.Context, identityID string, u credentials.Update) error {
	stored, err := s.getCredential(ctx, identityID)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stored.Revoked {
		return nil
	}

	if u.AccessToken != nil {
		v, err := s.enc.Encrypt(*u.AccessToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt access token: %w", err)
		}
		u.AccessToken = &v
	}
	if u.RefreshToken != nil {
		v, err := s.enc.Encrypt(*u.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		u.RefreshToken = &v
	}
	u.Apply(&stored.Credential)
	stored.LastUsedAt = s.now().Unix()
	return s.putCredential(ctx, identityID, stored)
}

// Revoke flips the revoked flag and keeps the document.
func (s *Store) Revoke(ctx context.Context, identityID string) error {
	stored, err := s.getCredential(ctx, identityID)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	stored.Revoked = true
	return s.putCredential(ctx, identityID, stored)
}

// storedBinding is the JSON document kept per token hash.
type storedBinding struct {
	UserID    string `json:"user_id"`
	TokenHash string `json:"token_hash"`
	Email     string `json:"email,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func (b storedBinding) toBinding() *identity.Binding {
	return &identity.Binding{
		UserID:    b.UserID,
		TokenHash: b.TokenHash,
		Email:     b.Email,
		Active:    b.Active,
		CreatedAt: time.Unix(b.CreatedAt, 0),
		UpdatedAt: time.Unix(b.UpdatedAt, 0),
	}
}

func (s *Store) getBinding(ctx context.Context, hash string) (*storedBinding, error) {
	data, err := s.client.Get(ctx, s.key(keyBinding, hash)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}
	var stored storedBinding
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal binding: %w", err)
	}
	return &stored, nil
}

func (s *Store) FindActiveByHash(ctx context.Context, hash string) (*identity.Binding, error) {
	stored, err := s.getBinding(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !stored.Active {
		return nil, identity.ErrNotFound
	}
	return stored.toBinding(), nil
}

// UpsertBinding points the hash at b.UserID and retires the user's previous
// hash, so each user and each hash has at most one active binding.
func (s *Store) UpsertBinding(ctx context.Context, b identity.Binding) error {
	now := s.now().Unix()
	userKey := s.key(keyUser, b.UserID)

	previousHash, err := s.client.Get(ctx, userKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to read user binding: %w", err)
	}

	createdAt := now
	if existing, err := s.getBinding(ctx, b.TokenHash); err == nil {
		createdAt = existing.CreatedAt
	}

	data, err := json.Marshal(storedBinding{
		UserID:    b.UserID,
		TokenHash: b.TokenHash,
		Email:     b.Email,
		Active:    true,
		CreatedAt: createdAt,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal binding: %w", err)
	}

	retirePrevious := false
	if previousHash != "" && previousHash != b.TokenHash {
		if prev, err := s.getBinding(ctx, previousHash); err == nil && prev.UserID == b.UserID {
			retirePrevious = true
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if retirePrevious {
			pipe.Del(ctx, s.key(keyBinding, previousHash))
		}
		pipe.Set(ctx, s.key(keyBinding, b.TokenHash), data, 0)
		pipe.Set(ctx, userKey, b.TokenHash, 0)
		if b.Email != "" {
			pipe.Set(ctx, s.key(keyEmail, strings.ToLower(b.Email)), b.TokenHash, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert binding: %w", err)
	}
	return nil
}

func (s *Store) DeactivateByHash(ctx context.Context, hash string) error {
	stored, err := s.getBinding(ctx, hash)
	if errors.Is(err, identity.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	stored.Active = false
	stored.UpdatedAt = s.now().Unix()
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal binding: %w", err)
	}
	if err := s.client.Set(ctx, s.key(keyBinding, hash), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to deactivate binding: %w", err)
	}
	return nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*identity.Binding, error) {
	hash, err := s.client.Get(ctx, s.key(keyEmail, strings.ToLower(email))).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	b, err := s.FindActiveByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(b.Email, email) {
		return nil, identity.ErrNotFound
	}
	return b, nil
}

var (
	_ credentials.Store     = (*Store)(nil)
	_ identity.BindingStore = (*Store)(nil)
)
