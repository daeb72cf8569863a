// Package notestest provides an in-memory notes.Repository for exercising code that
// depends on the repository contract without a database.
package notestest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"
)

// Repository is an in-memory notes.Repository with failure injection and call counters.
type Repository struct {
	mu      sync.Mutex
	notes   map[string]notes.Note
	feed    *notes.ChangeFeed
	clock   func() time.Time
	nextID  int
	calls   map[string]int
	failing map[string]error
}

var _ notes.Repository = (*Repository)(nil)

// Operation names accepted by Fail and Calls.
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpToggleStar = "toggle_star"
	OpWatchNote  = "watch_note"
	OpCount      = "count"
	OpLoadPage   = "load_page"
)

// NewRepository returns an empty repository seeded with the given notes.
func NewRepository(seed ...notes.Note) *Repository {
	repository := &Repository{
		notes:   make(map[string]notes.Note),
		feed:    notes.NewChangeFeed(),
		clock:   func() time.Time { return time.Unix(1700000000, 0).UTC() },
		calls:   make(map[string]int),
		failing: make(map[string]error),
	}
	for _, note := range seed {
		if note.ID == "" {
			repository.nextID++
			note.ID = fmt.Sprintf("note-%d", repository.nextID)
		}
		repository.notes[note.ID] = note
	}
	return repository
}

// Fail makes every later call of operation return err; a nil err clears the failure.
func (r *Repository) Fail(operation string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failing, operation)
		return
	}
	r.failing[operation] = err
}

// Calls reports how many times operation was invoked.
func (r *Repository) Calls(operation string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[operation]
}

// Get returns the stored copy of a note.
func (r *Repository) Get(id string) (notes.Note, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	note, ok := r.notes[id]
	return note, ok
}

func (r *Repository) begin(operation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[operation]++
	return r.failing[operation]
}

func (r *Repository) publish(kind notes.ChangeKind, id string) {
	r.feed.Publish(notes.ChangeEvent{Kind: kind, NoteID: id})
}

func (r *Repository) CreateNote(_ context.Context, note notes.Note) (notes.Note, error) {
	if err := r.begin(OpCreate); err != nil {
		return notes.Note{}, err
	}
	r.mu.Lock()
	r.nextID++
	note.ID = fmt.Sprintf("note-%d", r.nextID)
	note.CreatedAt = r.clock()
	note.UpdatedAt = note.CreatedAt
	r.notes[note.ID] = note
	r.mu.Unlock()

	r.publish(notes.ChangeKindCreated, note.ID)
	return note, nil
}

func (r *Repository) UpdateNote(_ context.Context, note notes.Note) error {
	if err := r.begin(OpUpdate); err != nil {
		return err
	}
	r.mu.Lock()
	if _, ok := r.notes[note.ID]; !ok {
		r.mu.Unlock()
		return notes.ErrNoteNotFound
	}
	r.notes[note.ID] = note
	r.mu.Unlock()

	r.publish(notes.ChangeKindUpdated, note.ID)
	return nil
}

func (r *Repository) DeleteNote(_ context.Context, id string) error {
	if err := r.begin(OpDelete); err != nil {
		return err
	}
	r.mu.Lock()
	_, existed := r.notes[id]
	delete(r.notes, id)
	r.mu.Unlock()

	if existed {
		r.publish(notes.ChangeKindDeleted, id)
	}
	return nil
}

func (r *Repository) ToggleStar(_ context.Context, id string, starred bool) error {
	if err := r.begin(OpToggleStar); err != nil {
		return err
	}
	r.mu.Lock()
	note, ok := r.notes[id]
	if !ok {
		r.mu.Unlock()
		return notes.ErrNoteNotFound
	}
	note.Starred = starred
	r.notes[id] = note
	r.mu.Unlock()

	r.publish(notes.ChangeKindStarred, id)
	return nil
}

func (r *Repository) WatchNote(ctx context.Context, id string) <-chan notes.Update[*notes.Note] {
	relevant := func(event notes.ChangeEvent) bool { return event.Touches(id) }
	return notes.WatchFiltered(ctx, r.feed, relevant, func(context.Context) (*notes.Note, error) {
		if err := r.begin(OpWatchNote); err != nil {
			return nil, err
		}
		note, ok := r.Get(id)
		if !ok {
			return nil, nil
		}
		return &note, nil
	})
}

func (r *Repository) AllNotes(pageSize int) notes.PagedNotes {
	if pageSize <= 0 {
		pageSize = notes.DefaultPageSize
	}
	return &pager{repository: r, pageSize: pageSize}
}

func (r *Repository) WatchNotesCount(ctx context.Context) <-chan notes.Update[int] {
	return notes.Watch(ctx, r.feed, func(context.Context) (int, error) {
		return r.count(func(notes.Note) bool { return true })
	})
}

func (r *Repository) WatchStarredNotesCount(ctx context.Context) <-chan notes.Update[int] {
	return notes.Watch(ctx, r.feed, func(context.Context) (int, error) {
		return r.count(func(note notes.Note) bool { return note.Starred })
	})
}

func (r *Repository) WatchStarredNotes(ctx context.Context) <-chan notes.Update[[]notes.Note] {
	return notes.Watch(ctx, r.feed, func(context.Context) ([]notes.Note, error) {
		var starred []notes.Note
		for _, note := range r.sorted() {
			if note.Starred {
				starred = append(starred, note)
			}
		}
		return starred, nil
	})
}

func (r *Repository) count(match func(notes.Note) bool) (int, error) {
	if err := r.begin(OpCount); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, note := range r.notes {
		if match(note) {
			total++
		}
	}
	return total, nil
}

func (r *Repository) sorted() []notes.Note {
	r.mu.Lock()
	all := make([]notes.Note, 0, len(r.notes))
	for _, note := range r.notes {
		all = append(all, note)
	}
	r.mu.Unlock()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID > all[j].ID
	})
	return all
}

type pager struct {
	repository *Repository
	pageSize   int
}

func (p *pager) PageSize() int {
	return p.pageSize
}

func (p *pager) Load(_ context.Context, index int) (notes.Page, error) {
	if err := p.repository.begin(OpLoadPage); err != nil {
		return notes.Page{}, err
	}
	all := p.repository.sorted()
	start := index * p.pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + p.pageSize
	if end > len(all) {
		end = len(all)
	}
	return notes.Page{Index: index, Notes: all[start:end], HasNext: end < len(all)}, nil
}
