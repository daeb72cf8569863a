package notes

import "context"

// DefaultPageSize is the number of notes per page when callers do not choose one.
const DefaultPageSize = 20

// Update carries one value pushed by a watch stream. A non-nil Err ends the stream.
type Update[T any] struct {
	Value T
	Err   error
}

// Page is one slice of the note collection ordered by most recently updated first.
type Page struct {
	Index   int
	Notes   []Note
	HasNext bool
}

// PagedNotes lazily reads the note collection page by page. Every Load observes the
// store as of the call, so a pager stays valid across writes.
type PagedNotes interface {
	PageSize() int
	Load(ctx context.Context, index int) (Page, error)
}

// Repository is the persistence contract consumed by the screen state machines.
// Watch streams emit the current value immediately, then again after every committed
// write, and close once ctx is cancelled.
type Repository interface {
	CreateNote(ctx context.Context, note Note) (Note, error)
	UpdateNote(ctx context.Context, note Note) error
	DeleteNote(ctx context.Context, id string) error
	ToggleStar(ctx context.Context, id string, starred bool) error
	WatchNote(ctx context.Context, id string) <-chan Update[*Note]
	AllNotes(pageSize int) PagedNotes
	WatchNotesCount(ctx context.Context) <-chan Update[int]
	WatchStarredNotesCount(ctx context.Context) <-chan Update[int]
	WatchStarredNotes(ctx context.Context) <-chan Update[[]Note]
}
