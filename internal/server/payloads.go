package server

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"
)

const (
	shareSubjectFallback = "Shared Note"
	shareTextFallback    = "Empty note"
)

type notePayload struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	Starred        bool   `json:"starred"`
	CreatedAtMs    int64  `json:"created_at_ms"`
	UpdatedAtMs    int64  `json:"updated_at_ms"`
	DisplayTitle   string `json:"display_title"`
	ContentPreview string `json:"content_preview"`
}

func newNotePayload(note notes.Note) notePayload {
	return notePayload{
		ID:             note.ID,
		Title:          note.Title,
		Content:        note.Content,
		Starred:        note.Starred,
		CreatedAtMs:    millis(note.CreatedAt),
		UpdatedAtMs:    millis(note.UpdatedAt),
		DisplayTitle:   note.DisplayTitle(),
		ContentPreview: note.ContentPreview(),
	}
}

func newNotePayloads(items []notes.Note) []notePayload {
	payloads := make([]notePayload, 0, len(items))
	for _, note := range items {
		payloads = append(payloads, newNotePayload(note))
	}
	return payloads
}

func millis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UnixMilli()
}

// noteReference is the note carried by list intents that act on a rendered row.
type noteReference struct {
	ID          string `json:"id" binding:"required,max=190"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Starred     bool   `json:"starred"`
	CreatedAtMs int64  `json:"created_at_ms"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

func (r noteReference) toNote() notes.Note {
	note := notes.Note{
		ID:      r.ID,
		Title:   r.Title,
		Content: r.Content,
		Starred: r.Starred,
	}
	if r.CreatedAtMs != 0 {
		note.CreatedAt = time.UnixMilli(r.CreatedAtMs).UTC()
	}
	if r.UpdatedAtMs != 0 {
		note.UpdatedAt = time.UnixMilli(r.UpdatedAtMs).UTC()
	}
	return note
}

type intentPayload struct {
	Type    string         `json:"type" binding:"required"`
	NoteID  string         `json:"note_id" binding:"omitempty,max=190"`
	Title   *string        `json:"title"`
	Content *string        `json:"content"`
	Starred *bool          `json:"starred"`
	Note    *noteReference `json:"note"`
}

type intentResponsePayload struct {
	Intent string `json:"intent"`
}

type openDetailsRequestPayload struct {
	NoteID string `json:"note_id" binding:"omitempty,max=190"`
}

type confirmDeleteRequestPayload struct {
	NoteID string `json:"note_id" binding:"required,max=190"`
}

type sessionResponsePayload struct {
	SessionID string `json:"session_id"`
	Screen    string `json:"screen"`
}

type pagePayload struct {
	Index   int           `json:"index"`
	Notes   []notePayload `json:"notes"`
	HasNext bool          `json:"has_next"`
}

type listStatePayload struct {
	Screen          string       `json:"screen"`
	State           string       `json:"state"`
	Message         string       `json:"message,omitempty"`
	TotalCount      int          `json:"total_count"`
	StarredCount    int          `json:"starred_count"`
	IsEmpty         bool         `json:"is_empty"`
	IsSelectionMode bool         `json:"is_selection_mode"`
	SelectedNote    *notePayload `json:"selected_note"`
	Page            *pagePayload `json:"page,omitempty"`
}

type detailsStatePayload struct {
	Screen                 string       `json:"screen"`
	State                  string       `json:"state"`
	Message                string       `json:"message,omitempty"`
	Note                   *notePayload `json:"note,omitempty"`
	IsDirty                bool         `json:"is_dirty"`
	ShowDeleteConfirmation bool         `json:"show_delete_confirmation"`
}

// eventPayload is one server-sent event: an effect or a rendered state.
type eventPayload struct {
	Event string
	Data  any
}

type messagePayload struct {
	Message string `json:"message"`
}

type noteIDPayload struct {
	NoteID string `json:"note_id"`
}

type deleteConfirmationPayload struct {
	NoteID    string `json:"note_id,omitempty"`
	NoteTitle string `json:"note_title"`
}

type starToggledPayload struct {
	NoteID  string `json:"note_id"`
	Starred bool   `json:"starred"`
}

type notePayloadEnvelope struct {
	Note notePayload `json:"note"`
}

type sharePayload struct {
	Subject string      `json:"subject"`
	Text    string      `json:"text"`
	Note    notePayload `json:"note"`
}

// newSharePayload builds the text handed to a share target for note.
func newSharePayload(note notes.Note) sharePayload {
	var text strings.Builder
	if strings.TrimSpace(note.Title) != "" {
		text.WriteString(note.Title)
		text.WriteString("\n\n")
	}
	if strings.TrimSpace(note.Content) != "" {
		text.WriteString(note.Content)
	}
	shareText := text.String()
	if strings.TrimSpace(shareText) == "" {
		shareText = shareTextFallback
	}

	subject := note.Title
	if strings.TrimSpace(subject) == "" {
		subject = shareSubjectFallback
	}
	return sharePayload{Subject: subject, Text: shareText, Note: newNotePayload(note)}
}
