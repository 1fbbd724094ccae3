// Package compose tracks what the local user's next save means: a new comment, an edit, or a reply.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
)

// Mode enumerates the compose states.
type Mode int

const (
	// ModeNew saves the buffer as a new top-level comment.
	ModeNew Mode = iota
	// ModeEditing saves the buffer as the new body of the target comment.
	ModeEditing
	// ModeReplying saves the buffer as a reply to the target comment.
	ModeReplying
)

func (m Mode) String() string {
	switch m {
	case ModeEditing:
		return "editing"
	case ModeReplying:
		return "replying"
	default:
		return "new"
	}
}

// Writer is the subset of the comment store a save dispatches to.
type Writer interface {
	Create(ctx context.Context, resource, author, body, parentID string) error
	Update(ctx context.Context, resource, commentID, body string) error
}

// Machine is the compose state of one session. It is not safe for concurrent use.
type Machine struct {
	user   string
	mode   Mode
	target string
	buffer string
}

// NewMachine returns a machine in ModeNew for the given local user.
func NewMachine(user string) *Machine {
	return &Machine{user: user}
}

// User returns the local identity that owns this machine.
func (m *Machine) User() string {
	return m.user
}

// Mode returns the current state.
func (m *Machine) Mode() Mode {
	return m.mode
}

// Target returns the comment being edited or replied to; empty in ModeNew.
func (m *Machine) Target() string {
	return m.target
}

// Text returns the compose buffer.
func (m *Machine) Text() string {
	return m.buffer
}

// SetText replaces the compose buffer without changing the mode.
func (m *Machine) SetText(text string) {
	m.buffer = text
}

// StartEdit enters ModeEditing for a comment authored by the local user and preloads its body.
func (m *Machine) StartEdit(comment comments.Comment) error {
	if comment.Author != m.user {
		return fmt.Errorf("%w: %s cannot edit a comment by %s", comments.ErrPermissionDenied, m.user, comment.Author)
	}
	m.mode = ModeEditing
	m.target = comment.ID
	m.buffer = comment.Body
	return nil
}

// StartReply enters ModeReplying for any comment and preloads an @author mention.
func (m *Machine) StartReply(comment comments.Comment) {
	m.mode = ModeReplying
	m.target = comment.ID
	m.buffer = MentionPrefix(comment.Author)
}

// AuthorizeDelete reports whether the local user may delete comment. The compose state is untouched.
func (m *Machine) AuthorizeDelete(comment comments.Comment) error {
	if comment.Author != m.user {
		return fmt.Errorf("%w: %s cannot delete a comment by %s", comments.ErrPermissionDenied, m.user, comment.Author)
	}
	return nil
}

// Cancel returns to ModeNew and clears the buffer.
func (m *Machine) Cancel() {
	m.mode = ModeNew
	m.target = ""
	m.buffer = ""
}

// Reset is Cancel under the name used when the active resource changes.
func (m *Machine) Reset() {
	m.Cancel()
}

// Save dispatches the buffer according to the mode and returns to ModeNew on success.
// A blank buffer is rejected before any store call; on failure the state is left unchanged.
func (m *Machine) Save(ctx context.Context, resource string, writer Writer) error {
	body := strings.TrimSpace(m.buffer)
	if body == "" {
		return fmt.Errorf("%w: comment body is empty", comments.ErrValidation)
	}
	if strings.TrimSpace(resource) == "" {
		return fmt.Errorf("%w: no resource selected", comments.ErrValidation)
	}

	var err error
	switch m.mode {
	case ModeEditing:
		err = writer.Update(ctx, resource, m.target, body)
	case ModeReplying:
		err = writer.Create(ctx, resource, m.user, body, m.target)
	default:
		err = writer.Create(ctx, resource, m.user, body, "")
	}
	if err != nil {
		return err
	}
	m.Cancel()
	return nil
}

// MentionPrefix is the text a reply to author starts with.
func MentionPrefix(author string) string {
	return "@" + author + " "
}
