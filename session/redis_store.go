package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tokoroten/noveldrive/types"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// RedisStore is the Store implementation for shared deployments. Sessions
// are JSON values; version history is a per-session list.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "noveldrive:"
	}
	return &RedisStore{client: client, keyPrefix: prefix}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) sessionKey(id string) string { return s.keyPrefix + "session:" + id }
func (s *RedisStore) indexKey() string            { return s.keyPrefix + "sessions" }
func (s *RedisStore) versionsKey(id string) string {
	return s.keyPrefix + "versions:" + id
}

func (s *RedisStore) CreateSession(ctx context.Context, sess *types.Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(sess.ID), raw, 0)
	pipe.SAdd(ctx, s.indexKey(), sess.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess types.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *RedisStore) GetAllSessions(ctx context.Context) ([]*types.Session, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err == ErrNotFound {
			// Index entry without a value; skip rather than fail the listing.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sortSessionsByUpdatedAt(out)
	return out, nil
}

func (s *RedisStore) UpdateSession(ctx context.Context, id string, update Update) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	applyUpdate(sess, update)
	sess.UpdatedAt = time.Now()

	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	// Last write wins by design; see the package comment.
	return s.client.Set(ctx, s.sessionKey(id), raw, 0).Err()
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.Del(ctx, s.versionsKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SaveDocumentVersion(ctx context.Context, v *types.DocumentVersion) error {
	if v == nil || v.SessionID == "" {
		return ErrInvalidInput
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode version: %w", err)
	}
	return s.client.RPush(ctx, s.versionsKey(v.SessionID), raw).Err()
}

func (s *RedisStore) GetDocumentVersions(ctx context.Context, sessionID string) ([]*types.DocumentVersion, error) {
	raws, err := s.client.LRange(ctx, s.versionsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*types.DocumentVersion, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var v types.DocumentVersion
		if err := json.Unmarshal([]byte(raws[i]), &v); err != nil {
			return nil, fmt.Errorf("decode version: %w", err)
		}
		out = append(out, &v)
	}
	return out, nil
}

func sortSessionsByUpdatedAt(sessions []*types.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}
