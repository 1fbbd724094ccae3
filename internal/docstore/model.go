package docstore

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
)

// Document is one stored comment under a normalized resource key.
type Document struct {
	ResourceKey     string `gorm:"column:resource_key;primaryKey;size:512;not null"`
	CommentID       string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	Author          string `gorm:"column:author;size:190;not null"`
	Body            string `gorm:"column:body;type:text;not null"`
	OriginalPath    string `gorm:"column:original_path;type:text;not null;default:''"`
	ParentID        string `gorm:"column:parent_id;size:190;not null;default:''"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	EditedAtMillis  *int64 `gorm:"column:edited_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "resource_comments"
}

// Comment converts the stored row into the shared comment shape.
func (d Document) Comment() comments.Comment {
	comment := comments.Comment{
		ID:           d.CommentID,
		Author:       d.Author,
		Body:         d.Body,
		CreatedAt:    comments.TimestampAt(d.CreatedAtMillis),
		ParentID:     d.ParentID,
		OriginalPath: d.OriginalPath,
	}
	if d.EditedAtMillis != nil {
		edited := comments.TimestampAt(*d.EditedAtMillis)
		comment.EditedAt = &edited
	}
	return comment
}

// ChangeRecord is the append-only log of committed writes; ChangeID orders replay.
type ChangeRecord struct {
	ChangeID        int64  `gorm:"column:change_id;primaryKey;autoIncrement"`
	ResourceKey     string `gorm:"column:resource_key;size:512;not null;index:idx_comment_changes_key"`
	CommentID       string `gorm:"column:comment_id;size:190;not null"`
	Kind            string `gorm:"column:kind;size:16;not null"`
	PayloadJSON     string `gorm:"column:payload_json;type:text;not null;default:''"`
	AppliedAtMillis int64  `gorm:"column:applied_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChangeRecord) TableName() string {
	return "comment_changes"
}

// Change decodes the record into the shared change shape.
func (r ChangeRecord) Change() (comments.Change, error) {
	change := comments.Change{
		Kind:      comments.ChangeKind(r.Kind),
		CommentID: r.CommentID,
		Sequence:  r.ChangeID,
	}
	if r.PayloadJSON == "" {
		return change, nil
	}
	var comment comments.Comment
	if err := json.Unmarshal([]byte(r.PayloadJSON), &comment); err != nil {
		return comments.Change{}, err
	}
	change.Comment = &comment
	return change, nil
}
