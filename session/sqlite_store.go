package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tokoroten/noveldrive/types"
)

// sessionRecord is the gorm row for one session. Conversation and roster
// are stored as JSON blobs; the orchestrator always reads and writes whole
// sessions, so relational decomposition of turns buys nothing here.
type sessionRecord struct {
	ID              string `gorm:"primaryKey"`
	Title           string
	DocumentContent string
	Conversation    []byte
	ActiveAgentIDs  []byte
	UpdatedAt       time.Time `gorm:"index"`
}

func (sessionRecord) TableName() string { return "sessions" }

type versionRecord struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	Content   string
	EditedBy  string
	Action    string
	CreatedAt time.Time
}

func (versionRecord) TableName() string { return "document_versions" }

// SQLiteStore is the single-node Store implementation backed by gorm over
// the pure-Go sqlite driver.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&sessionRecord{}, &versionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("component", "sqlite_store")),
	}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *types.Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}
	rec, err := toRecord(sess)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

func (s *SQLiteStore) GetAllSessions(ctx context.Context) ([]*types.Session, error) {
	var recs []sessionRecord
	if err := s.db.WithContext(ctx).Order("updated_at desc").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*types.Session, 0, len(recs))
	for i := range recs {
		sess, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, update Update) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec sessionRecord
		err := tx.First(&rec, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		sess, err := fromRecord(&rec)
		if err != nil {
			return err
		}
		applyUpdate(sess, update)
		sess.UpdatedAt = time.Now()

		next, err := toRecord(sess)
		if err != nil {
			return err
		}
		return tx.Save(next).Error
	})
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&sessionRecord{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Delete(&versionRecord{}, "session_id = ?", id).Error
	})
}

func (s *SQLiteStore) SaveDocumentVersion(ctx context.Context, v *types.DocumentVersion) error {
	if v == nil || v.SessionID == "" {
		return ErrInvalidInput
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	rec := versionRecord{
		ID:        v.ID,
		SessionID: v.SessionID,
		Content:   v.Content,
		EditedBy:  v.EditedBy,
		Action:    v.Action,
		CreatedAt: v.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *SQLiteStore) GetDocumentVersions(ctx context.Context, sessionID string) ([]*types.DocumentVersion, error) {
	var recs []versionRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at desc").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*types.DocumentVersion, 0, len(recs))
	for _, rec := range recs {
		out = append(out, &types.DocumentVersion{
			ID:        rec.ID,
			SessionID: rec.SessionID,
			Content:   rec.Content,
			EditedBy:  rec.EditedBy,
			Action:    rec.Action,
			CreatedAt: rec.CreatedAt,
		})
	}
	return out, nil
}

func toRecord(sess *types.Session) (*sessionRecord, error) {
	conversation, err := json.Marshal(sess.Conversation)
	if err != nil {
		return nil, fmt.Errorf("encode conversation: %w", err)
	}
	roster, err := json.Marshal(sess.ActiveAgentIDs)
	if err != nil {
		return nil, fmt.Errorf("encode roster: %w", err)
	}
	updatedAt := sess.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return &sessionRecord{
		ID:              sess.ID,
		Title:           sess.Title,
		DocumentContent: sess.DocumentContent,
		Conversation:    conversation,
		ActiveAgentIDs:  roster,
		UpdatedAt:       updatedAt,
	}, nil
}

func fromRecord(rec *sessionRecord) (*types.Session, error) {
	sess := &types.Session{
		ID:              rec.ID,
		Title:           rec.Title,
		DocumentContent: rec.DocumentContent,
		UpdatedAt:       rec.UpdatedAt,
	}
	if len(rec.Conversation) > 0 {
		if err := json.Unmarshal(rec.Conversation, &sess.Conversation); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
	}
	if len(rec.ActiveAgentIDs) > 0 {
		if err := json.Unmarshal(rec.ActiveAgentIDs, &sess.ActiveAgentIDs); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
	}
	return sess, nil
}
