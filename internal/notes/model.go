package notes

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	displayTitleLength   = 50
	contentPreviewLength = 100
	truncationSuffix     = "..."
)

var (
	// ErrNoteNotFound indicates that no persisted note carries the requested identifier.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrEmptyNote indicates an attempt to persist a note without title or content.
	ErrEmptyNote = errors.New("notes: note is empty")
)

// Note is the sole domain entity. An empty ID means the note was never persisted.
type Note struct {
	ID        string
	Title     string
	Content   string
	Starred   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPersisted reports whether the repository has assigned an identity.
func (n Note) IsPersisted() bool {
	return n.ID != ""
}

// IsEmpty reports whether both title and content are blank.
func (n Note) IsEmpty() bool {
	return strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Content) == ""
}

// DisplayTitle returns the title, falling back to a truncated content prefix.
func (n Note) DisplayTitle() string {
	if strings.TrimSpace(n.Title) != "" {
		return n.Title
	}
	return truncate(n.Content, displayTitleLength)
}

// ContentPreview returns at most the first hundred characters of the content.
func (n Note) ContentPreview() string {
	return truncate(n.Content, contentPreviewLength)
}

// SameAs compares the user-editable fields and identity. Timestamps are ignored.
func (n Note) SameAs(other Note) bool {
	return n.ID == other.ID &&
		n.Title == other.Title &&
		n.Content == other.Content &&
		n.Starred == other.Starred
}

func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit]) + truncationSuffix
}

// NotesTable is the table holding persisted notes.
const NotesTable = "notes"

// noteRecord is the persisted row layout for a note.
type noteRecord struct {
	NoteID          string `gorm:"column:note_id;primaryKey;size:190;not null"`
	Title           string `gorm:"column:title;type:text;not null;default:''"`
	Content         string `gorm:"column:content;type:text;not null;default:''"`
	IsStarred       bool   `gorm:"column:is_starred;not null;default:false;index:idx_notes_starred"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null;index:idx_notes_updated"`
}

// TableName provides the explicit table binding for GORM.
func (noteRecord) TableName() string {
	return NotesTable
}

// Models returns the GORM models owned by this package for schema migration.
func Models() []any {
	return []any{&noteRecord{}}
}

func toRecord(note Note) noteRecord {
	return noteRecord{
		NoteID:          note.ID,
		Title:           note.Title,
		Content:         note.Content,
		IsStarred:       note.Starred,
		CreatedAtMillis: note.CreatedAt.UnixMilli(),
		UpdatedAtMillis: note.UpdatedAt.UnixMilli(),
	}
}

func fromRecord(record noteRecord) Note {
	return Note{
		ID:        record.NoteID,
		Title:     record.Title,
		Content:   record.Content,
		Starred:   record.IsStarred,
		CreatedAt: time.UnixMilli(record.CreatedAtMillis).UTC(),
		UpdatedAt: time.UnixMilli(record.UpdatedAtMillis).UTC(),
	}
}
