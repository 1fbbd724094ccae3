// Package docstore is the key-addressed comment document store: rows scoped by normalized
// resource key, server-assigned timestamps, and an append-only change log that feeds the
// realtime stream.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errInvalidKey        = errors.New("resource key is empty or contains reserved characters")
	errEmptyAuthor       = errors.New("author is required")
	errEmptyBody         = errors.New("body is required")
	errParentMissing     = errors.New("parent comment does not exist")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew  = "docstore.service.new"
	opPush        = "docstore.push"
	opPatch       = "docstore.patch"
	opRemove      = "docstore.remove"
	opFetch       = "docstore.fetch"
	opListChanges = "docstore.list_changes"
	opLatest      = "docstore.latest_sequence"

	fieldResourceKey = "resource_key"
	fieldCommentID   = "comment_id"

	queryKey          = "resource_key = ?"
	queryKeyComment   = "resource_key = ? AND comment_id = ?"
	queryKeyAfterID   = "resource_key = ? AND change_id > ?"
	orderChangeIDAsc  = "change_id ASC"
	orderCreatedAtAsc = "created_at_ms ASC"

	reasonMissingDatabase = "missing_database"
	reasonMissingIDs      = "missing_id_provider"
	reasonInvalidKey      = "invalid_key"
	reasonInvalidInput    = "invalid_input"
	reasonNotFound        = "not_found"
	reasonParentNotFound  = "parent_not_found"
	reasonIDFailed        = "id_generation_failed"
	reasonInsertFailed    = "insert_failed"
	reasonUpdateFailed    = "update_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonSelectFailed    = "select_failed"
	reasonChangeLogFailed = "change_log_failed"
	reasonQueryFailed     = "query_failed"
	reasonDecodeFailed    = "decode_failed"
)

// Publisher receives every committed change.
type Publisher interface {
	Publish(message realtime.Message)
}

// IDProvider issues comment identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  Publisher
	Logger     *zap.Logger
}

// Service stores comment documents and records every write in the change log.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	publisher  Publisher
	logger     *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, comments.NewServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, comments.NewServiceError(opServiceNew, reasonMissingIDs, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		publisher:  cfg.Publisher,
		logger:     logger,
	}, nil
}

// Push stores a new comment under key with a server-assigned creation time and returns its id.
// A reply whose parent is not stored under the same key is rejected with comments.ErrNotFound.
func (s *Service) Push(ctx context.Context, key string, comment comments.Comment) (string, error) {
	if !comments.ValidKey(key) {
		return "", comments.NewServiceError(opPush, reasonInvalidKey, fmt.Errorf("%w: %v", comments.ErrValidation, errInvalidKey))
	}
	if strings.TrimSpace(comment.Author) == "" {
		return "", comments.NewServiceError(opPush, reasonInvalidInput, fmt.Errorf("%w: %v", comments.ErrValidation, errEmptyAuthor))
	}
	if strings.TrimSpace(comment.Body) == "" {
		return "", comments.NewServiceError(opPush, reasonInvalidInput, fmt.Errorf("%w: %v", comments.ErrValidation, errEmptyBody))
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPush, reasonIDFailed, err, zap.String(fieldResourceKey, key))
		return "", comments.NewServiceError(opPush, reasonIDFailed, err)
	}

	appliedAt := s.clock().UTC()
	document := Document{
		ResourceKey:     key,
		CommentID:       commentID,
		Author:          comment.Author,
		Body:            comment.Body,
		OriginalPath:    comment.OriginalPath,
		ParentID:        strings.TrimSpace(comment.ParentID),
		CreatedAtMillis: appliedAt.UnixMilli(),
	}

	var record ChangeRecord
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if document.ParentID != "" {
			var parent Document
			err := tx.Select(fieldCommentID).Where(queryKeyComment, key, document.ParentID).Take(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return comments.NewServiceError(opPush, reasonParentNotFound, fmt.Errorf("%w: %v", comments.ErrNotFound, errParentMissing))
			}
			if err != nil {
				s.logError(opPush, reasonSelectFailed, err, zap.String(fieldResourceKey, key))
				return comments.NewServiceError(opPush, reasonSelectFailed, err)
			}
		}
		if err := tx.Create(&document).Error; err != nil {
			s.logError(opPush, reasonInsertFailed, err, zap.String(fieldResourceKey, key))
			return comments.NewServiceError(opPush, reasonInsertFailed, err)
		}
		var logErr error
		record, logErr = s.appendChange(tx, opPush, document, comments.ChangePut, appliedAt)
		return logErr
	})
	if txErr != nil {
		return "", txErr
	}

	s.publish(record, document, appliedAt)
	return commentID, nil
}

// Patch replaces a comment body and stamps its edit time. Author, creation time and parent are kept.
func (s *Service) Patch(ctx context.Context, key, commentID, body string) error {
	if !comments.ValidKey(key) {
		return comments.NewServiceError(opPatch, reasonInvalidKey, fmt.Errorf("%w: %v", comments.ErrValidation, errInvalidKey))
	}
	if strings.TrimSpace(body) == "" {
		return comments.NewServiceError(opPatch, reasonInvalidInput, fmt.Errorf("%w: %v", comments.ErrValidation, errEmptyBody))
	}

	appliedAt := s.clock().UTC()
	var document Document
	var record ChangeRecord
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryKeyComment, key, commentID).
			Take(&document).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return comments.NewServiceError(opPatch, reasonNotFound, comments.ErrNotFound)
		}
		if err != nil {
			s.logError(opPatch, reasonSelectFailed, err, zap.String(fieldResourceKey, key), zap.String(fieldCommentID, commentID))
			return comments.NewServiceError(opPatch, reasonSelectFailed, err)
		}

		editedAt := appliedAt.UnixMilli()
		document.Body = body
		document.EditedAtMillis = &editedAt
		if err := tx.Model(&Document{}).
			Where(queryKeyComment, key, commentID).
			Updates(map[string]interface{}{"body": body, "edited_at_ms": editedAt}).Error; err != nil {
			s.logError(opPatch, reasonUpdateFailed, err, zap.String(fieldResourceKey, key), zap.String(fieldCommentID, commentID))
			return comments.NewServiceError(opPatch, reasonUpdateFailed, err)
		}
		var logErr error
		record, logErr = s.appendChange(tx, opPatch, document, comments.ChangePut, appliedAt)
		return logErr
	})
	if txErr != nil {
		return txErr
	}

	s.publish(record, document, appliedAt)
	return nil
}

// Remove deletes a single comment. Replies keep their parent reference.
func (s *Service) Remove(ctx context.Context, key, commentID string) error {
	if !comments.ValidKey(key) {
		return comments.NewServiceError(opRemove, reasonInvalidKey, fmt.Errorf("%w: %v", comments.ErrValidation, errInvalidKey))
	}

	appliedAt := s.clock().UTC()
	document := Document{ResourceKey: key, CommentID: commentID}
	var record ChangeRecord
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where(queryKeyComment, key, commentID).Delete(&Document{})
		if result.Error != nil {
			s.logError(opRemove, reasonDeleteFailed, result.Error, zap.String(fieldResourceKey, key), zap.String(fieldCommentID, commentID))
			return comments.NewServiceError(opRemove, reasonDeleteFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return comments.NewServiceError(opRemove, reasonNotFound, comments.ErrNotFound)
		}
		var logErr error
		record, logErr = s.appendChange(tx, opRemove, document, comments.ChangeDelete, appliedAt)
		return logErr
	})
	if txErr != nil {
		return txErr
	}

	s.publish(record, document, appliedAt)
	return nil
}

// Fetch returns every comment stored under key; an unknown key yields an empty collection.
func (s *Service) Fetch(ctx context.Context, key string) (comments.Collection, error) {
	if !comments.ValidKey(key) {
		return nil, comments.NewServiceError(opFetch, reasonInvalidKey, fmt.Errorf("%w: %v", comments.ErrValidation, errInvalidKey))
	}
	var documents []Document
	if err := s.db.WithContext(ctx).
		Where(queryKey, key).
		Order(orderCreatedAtAsc).
		Find(&documents).Error; err != nil {
		s.logError(opFetch, reasonQueryFailed, err, zap.String(fieldResourceKey, key))
		return nil, comments.NewServiceError(opFetch, reasonQueryFailed, err)
	}
	collection := make(comments.Collection, len(documents))
	for _, document := range documents {
		collection[document.CommentID] = document.Comment()
	}
	return collection, nil
}

// ListChanges returns the changes under key committed after afterID, oldest first.
func (s *Service) ListChanges(ctx context.Context, key string, afterID int64) ([]comments.Change, error) {
	if !comments.ValidKey(key) {
		return nil, comments.NewServiceError(opListChanges, reasonInvalidKey, fmt.Errorf("%w: %v", comments.ErrValidation, errInvalidKey))
	}
	var records []ChangeRecord
	if err := s.db.WithContext(ctx).
		Where(queryKeyAfterID, key, afterID).
		Order(orderChangeIDAsc).
		Find(&records).Error; err != nil {
		s.logError(opListChanges, reasonQueryFailed, err, zap.String(fieldResourceKey, key))
		return nil, comments.NewServiceError(opListChanges, reasonQueryFailed, err)
	}
	changes := make([]comments.Change, 0, len(records))
	for _, record := range records {
		change, err := record.Change()
		if err != nil {
			s.logError(opListChanges, reasonDecodeFailed, err, zap.Int64("change_id", record.ChangeID))
			return nil, comments.NewServiceError(opListChanges, reasonDecodeFailed, err)
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// LatestSequence returns the id of the newest change logged under key, or zero when there is none.
func (s *Service) LatestSequence(ctx context.Context, key string) (int64, error) {
	if !comments.ValidKey(key) {
		return 0, comments.NewServiceError(opLatest, reasonInvalidKey, fmt.Errorf("%w: %v", comments.ErrValidation, errInvalidKey))
	}
	var latest int64
	if err := s.db.WithContext(ctx).
		Model(&ChangeRecord{}).
		Where(queryKey, key).
		Select("COALESCE(MAX(change_id), 0)").
		Scan(&latest).Error; err != nil {
		s.logError(opLatest, reasonQueryFailed, err, zap.String(fieldResourceKey, key))
		return 0, comments.NewServiceError(opLatest, reasonQueryFailed, err)
	}
	return latest, nil
}

func (s *Service) appendChange(tx *gorm.DB, operation string, document Document, kind comments.ChangeKind, appliedAt time.Time) (ChangeRecord, error) {
	record := ChangeRecord{
		ResourceKey:     document.ResourceKey,
		CommentID:       document.CommentID,
		Kind:            string(kind),
		AppliedAtMillis: appliedAt.UnixMilli(),
	}
	if kind == comments.ChangePut {
		payload, err := json.Marshal(document.Comment())
		if err != nil {
			return ChangeRecord{}, comments.NewServiceError(operation, reasonChangeLogFailed, err)
		}
		record.PayloadJSON = string(payload)
	}
	if err := tx.Create(&record).Error; err != nil {
		s.logError(operation, reasonChangeLogFailed, err,
			zap.String(fieldResourceKey, document.ResourceKey),
			zap.String(fieldCommentID, document.CommentID))
		return ChangeRecord{}, comments.NewServiceError(operation, reasonChangeLogFailed, err)
	}
	return record, nil
}

func (s *Service) publish(record ChangeRecord, document Document, appliedAt time.Time) {
	if s.publisher == nil {
		return
	}
	message := realtime.Message{
		ResourceKey: record.ResourceKey,
		Kind:        comments.ChangeKind(record.Kind),
		CommentID:   record.CommentID,
		Sequence:    record.ChangeID,
		Timestamp:   appliedAt,
	}
	if message.Kind == comments.ChangePut {
		comment := document.Comment()
		message.Comment = &comment
	}
	s.publisher.Publish(message)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("docstore error", attrs...)
}
