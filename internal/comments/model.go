package comments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// serverTimestampSentinel is written in place of a timestamp that the store has not assigned yet.
var serverTimestampSentinel = []byte(`{".sv":"timestamp"}`)

// Timestamp is a store-assigned point in time with millisecond precision.
// The zero value is pending: the write was issued but the store has not stamped it.
type Timestamp struct {
	millis   int64
	assigned bool
}

// TimestampAt returns an assigned timestamp for the provided unix milliseconds.
func TimestampAt(millis int64) Timestamp {
	return Timestamp{millis: millis, assigned: true}
}

// TimestampFromTime returns an assigned timestamp for t.
func TimestampFromTime(t time.Time) Timestamp {
	return TimestampAt(t.UnixMilli())
}

// PendingTimestamp returns a timestamp that still awaits server assignment.
func PendingTimestamp() Timestamp {
	return Timestamp{}
}

// Pending reports whether the store has not assigned the timestamp yet.
func (ts Timestamp) Pending() bool {
	return !ts.assigned
}

// Millis exposes the raw unix milliseconds. Pending timestamps report zero.
func (ts Timestamp) Millis() int64 {
	return ts.millis
}

// Time converts the timestamp to a UTC time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(ts.millis).UTC()
}

// After orders timestamps newest-first; a pending timestamp is newer than any assigned one.
func (ts Timestamp) After(other Timestamp) bool {
	switch {
	case ts.Pending() && other.Pending():
		return false
	case ts.Pending():
		return true
	case other.Pending():
		return false
	default:
		return ts.millis > other.millis
	}
}

// MarshalJSON renders assigned timestamps as numbers and pending ones as the server sentinel.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.Pending() {
		return append([]byte(nil), serverTimestampSentinel...), nil
	}
	return json.Marshal(ts.millis)
}

// UnmarshalJSON accepts either unix milliseconds or the server sentinel object.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || trimmed[0] == '{' {
		*ts = PendingTimestamp()
		return nil
	}
	var millis int64
	if err := json.Unmarshal(trimmed, &millis); err != nil {
		return fmt.Errorf("comments: invalid timestamp %s: %w", trimmed, err)
	}
	*ts = TimestampAt(millis)
	return nil
}

// Comment is one note attached to a resource.
type Comment struct {
	ID           string     `json:"id,omitempty"`
	Author       string     `json:"author"`
	Body         string     `json:"body"`
	CreatedAt    Timestamp  `json:"created_at"`
	EditedAt     *Timestamp `json:"edited_at,omitempty"`
	ParentID     string     `json:"parent_id,omitempty"`
	OriginalPath string     `json:"original_path"`
}

// TopLevel reports whether the comment starts its own thread.
func (c Comment) TopLevel() bool {
	return c.ParentID == ""
}

// Edited reports whether the comment body has been changed after creation.
func (c Comment) Edited() bool {
	return c.EditedAt != nil
}

// Collection holds every comment of one resource keyed by comment id.
type Collection map[string]Comment

// Lookup returns the comment stored under id.
func (c Collection) Lookup(id string) (Comment, bool) {
	comment, ok := c[id]
	return comment, ok
}

// IDs returns the set of comment identifiers in the collection.
func (c Collection) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(c))
	for id := range c {
		ids[id] = struct{}{}
	}
	return ids
}

// ChangeKind enumerates the mutations reported by a backend stream.
type ChangeKind string

const (
	// ChangePut reports a record written at an id, either fresh or replacing a prior record.
	ChangePut ChangeKind = "put"
	// ChangeDelete reports a record removed from an id.
	ChangeDelete ChangeKind = "delete"
)

// Change is one notification from a backend stream.
type Change struct {
	Kind      ChangeKind
	CommentID string
	Comment   *Comment
	Sequence  int64
}
