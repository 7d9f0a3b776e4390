// Package session provides persistent storage for sessions and their
// document version history.
//
// A session record is updated with last-write-wins semantics: the
// orchestrator is the single writer for a loaded session, so no merge rule
// is needed, only replacement. Three backends are supported: memory
// (development and tests), SQLite (single-node), and Redis (shared).
package session

import (
	"context"
	"errors"

	"github.com/tokoroten/noveldrive/types"
)

// Common errors.
var (
	ErrNotFound     = errors.New("session not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType selects a storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeSQLite StoreType = "sqlite"
	StoreTypeRedis  StoreType = "redis"
)

// Update is a partial session update. Nil fields are left untouched;
// non-nil fields replace the stored value wholesale.
type Update struct {
	Title           *string
	DocumentContent *string
	Conversation    *[]types.ConversationTurn
	ActiveAgentIDs  *types.Roster
}

// Store is the session persistence contract consumed by the orchestrator.
// UpdateSession is called after every turn (debounced by the caller) and
// SaveDocumentVersion on every successful mutation.
type Store interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	GetAllSessions(ctx context.Context) ([]*types.Session, error)
	UpdateSession(ctx context.Context, id string, update Update) error
	// DeleteSession removes the session and cascades deletion of its
	// version history.
	DeleteSession(ctx context.Context, id string) error

	SaveDocumentVersion(ctx context.Context, v *types.DocumentVersion) error
	// GetDocumentVersions returns versions newest first.
	GetDocumentVersions(ctx context.Context, sessionID string) ([]*types.DocumentVersion, error)

	Ping(ctx context.Context) error
	Close() error
}

func applyUpdate(s *types.Session, update Update) {
	if update.Title != nil {
		s.Title = *update.Title
	}
	if update.DocumentContent != nil {
		s.DocumentContent = *update.DocumentContent
	}
	if update.Conversation != nil {
		s.Conversation = *update.Conversation
	}
	if update.ActiveAgentIDs != nil {
		s.ActiveAgentIDs = *update.ActiveAgentIDs
	}
}
