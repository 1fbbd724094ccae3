// Package render draws comment threads and session status for the terminal client.
package render

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/compose"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultIndent    = 4
	defaultWrapWidth = 72
	shortIDLength    = 8
	timestampLayout  = "2006-01-02 15:04:05"
	pendingLabel     = "just saved"
)

// Theme holds the styles used for each part of a rendered comment.
type Theme struct {
	Author    lipgloss.Style
	Timestamp lipgloss.Style
	Edited    lipgloss.Style
	ID        lipgloss.Style
	Body      lipgloss.Style
	Status    lipgloss.Style
	Offline   lipgloss.Style
}

// DefaultTheme is the colored theme for interactive terminals.
func DefaultTheme() Theme {
	return Theme{
		Author:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Edited:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241")),
		ID:        lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Body:      lipgloss.NewStyle(),
		Status:    lipgloss.NewStyle().Foreground(lipgloss.Color("218")),
		Offline:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

// PlainTheme renders without any styling.
func PlainTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{Author: plain, Timestamp: plain, Edited: plain, ID: plain, Body: plain, Status: plain, Offline: plain}
}

// Config describes a Renderer.
type Config struct {
	Theme     *Theme
	Indent    int
	WrapWidth int
	Location  *time.Location
}

// Renderer turns thread trees into terminal text.
type Renderer struct {
	theme     Theme
	indent    int
	wrapWidth int
	location  *time.Location
}

// NewRenderer constructs a Renderer.
func NewRenderer(cfg Config) *Renderer {
	theme := DefaultTheme()
	if cfg.Theme != nil {
		theme = *cfg.Theme
	}
	indent := cfg.Indent
	if indent <= 0 {
		indent = defaultIndent
	}
	wrapWidth := cfg.WrapWidth
	if wrapWidth <= 0 {
		wrapWidth = defaultWrapWidth
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	return &Renderer{theme: theme, indent: indent, wrapWidth: wrapWidth, location: location}
}

// Threads renders roots depth first, indenting replies under their parent.
func (r *Renderer) Threads(roots []comments.ThreadNode) string {
	flat := comments.Flatten(roots)
	if len(flat) == 0 {
		return r.theme.Timestamp.Render("No comments yet.")
	}
	blocks := make([]string, 0, len(flat))
	for _, node := range flat {
		blocks = append(blocks, r.comment(node))
	}
	return strings.Join(blocks, "\n\n")
}

func (r *Renderer) comment(node comments.FlatNode) string {
	comment := node.Comment
	header := []string{
		r.theme.Author.Render(fmt.Sprintf("[%s] %s", Initials(comment.Author), comment.Author)),
		r.theme.Timestamp.Render(r.timestamp(comment.CreatedAt)),
	}
	if comment.Edited() {
		header = append(header, r.theme.Edited.Render("(edited "+r.timestamp(*comment.EditedAt)+")"))
	}
	header = append(header, r.theme.ID.Render("#"+ShortID(comment.ID)))

	body := r.theme.Body.Width(r.wrapWidth).Render(comment.Body)
	block := lipgloss.JoinVertical(lipgloss.Left, strings.Join(header, "  "), body)
	return lipgloss.NewStyle().PaddingLeft(node.Depth * r.indent).Render(block)
}

func (r *Renderer) timestamp(ts comments.Timestamp) string {
	if ts.Pending() {
		return pendingLabel
	}
	return ts.Time().In(r.location).Format(timestampLayout)
}

// Status summarizes the session state in one line.
func (r *Renderer) Status(resource string, online bool, unread int, notifications bool, mode compose.Mode, target string) string {
	parts := []string{}
	if resource == "" {
		parts = append(parts, "no example selected")
	} else {
		parts = append(parts, resource)
	}
	if online {
		parts = append(parts, "online")
	} else {
		parts = append(parts, r.theme.Offline.Render("offline"))
	}
	parts = append(parts, fmt.Sprintf("%d unread", unread))
	if notifications {
		parts = append(parts, "alerts on")
	} else {
		parts = append(parts, "alerts off")
	}
	switch mode {
	case compose.ModeEditing:
		parts = append(parts, "editing #"+ShortID(target))
	case compose.ModeReplying:
		parts = append(parts, "replying to #"+ShortID(target))
	}
	return r.theme.Status.Render(strings.Join(parts, " | "))
}

// Initials returns up to two upper-case initials from the words of name.
func Initials(name string) string {
	var initials []rune
	for _, word := range strings.Fields(name) {
		first, _ := utf8.DecodeRuneInString(word)
		initials = append(initials, unicode.ToUpper(first))
		if len(initials) == 2 {
			break
		}
	}
	if len(initials) == 0 {
		return "?"
	}
	return string(initials)
}

// ShortID abbreviates a comment id for display; the abbreviation is accepted back by ResolveID.
// The tail is used because time-ordered ids share their leading characters.
func ShortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[len(id)-shortIDLength:]
}

// ResolveID finds the comment whose id equals or ends with ref. Ambiguous or unknown
// references resolve to false.
func ResolveID(snapshot comments.Collection, ref string) (string, bool) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if ref == "" {
		return "", false
	}
	if _, ok := snapshot[ref]; ok {
		return ref, true
	}
	match := ""
	for id := range snapshot {
		if strings.HasSuffix(id, ref) {
			if match != "" {
				return "", false
			}
			match = id
		}
	}
	return match, match != ""
}
