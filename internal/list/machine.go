package list

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/mvi"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"
	"go.uber.org/zap"
)

// ScreenName identifies the list screen in logs and metrics.
const ScreenName = "list"

const (
	notesSubscription  = "notes"
	countsSubscription = "counts"
)

var errMissingRepository = errors.New("list: repository is required")

// Config describes the dependencies of a list Machine.
type Config struct {
	Repository   notes.Repository
	PageSize     int
	Logger       *zap.Logger
	EffectBuffer int
}

// Machine is the list screen state machine.
type Machine struct {
	runtime    *mvi.Runtime[ViewState, Effect]
	repository notes.Repository
	pageSize   int
}

// NewMachine starts a list machine in the Loading state. Nothing is read until
// LoadNotes is dispatched.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = notes.DefaultPageSize
	}
	return &Machine{
		runtime: mvi.NewRuntime[ViewState, Effect](mvi.Config[ViewState]{
			Name:         ScreenName,
			Initial:      Loading{},
			Logger:       cfg.Logger,
			EffectBuffer: cfg.EffectBuffer,
		}),
		repository: cfg.Repository,
		pageSize:   pageSize,
	}, nil
}

// Dispatch queues intent for processing in arrival order.
func (m *Machine) Dispatch(intent Intent) error {
	return m.runtime.Post(func() {
		if err := m.reduce(intent); err != nil {
			m.runtime.Logger().Error("intent rejected", zap.String("intent", mvi.Name(intent)), zap.Error(err))
		}
	})
}

// ConfirmDeleteNote deletes the note after the user accepted the confirmation prompt,
// then reloads the list.
func (m *Machine) ConfirmDeleteNote(noteID string) error {
	return m.runtime.Post(func() {
		m.runtime.LaunchWrite(func(ctx context.Context) func() {
			err := m.repository.DeleteNote(ctx, noteID)
			return func() {
				if err != nil {
					m.runtime.Emit(ShowError{Message: "Failed to delete note: " + err.Error()})
					return
				}
				m.runtime.Emit(NoteDeleted{})
				m.loadNotes()
			}
		})
	})
}

// State returns the current view state.
func (m *Machine) State() ViewState {
	return m.runtime.State()
}

// WatchState streams view states until ctx ends.
func (m *Machine) WatchState(ctx context.Context) <-chan ViewState {
	return m.runtime.WatchState(ctx)
}

// AttachEffects makes the caller the effect observer until ctx ends.
func (m *Machine) AttachEffects(ctx context.Context) <-chan Effect {
	return m.runtime.AttachEffects(ctx)
}

// Close cancels all in-flight work owned by the machine.
func (m *Machine) Close() {
	m.runtime.Close()
}

func (m *Machine) reduce(intent Intent) error {
	switch typed := intent.(type) {
	case LoadNotes, RefreshNotes:
		m.loadNotes()
	case CreateNewNote:
		m.runtime.Emit(NavigateToCreateNote{})
	case NoteClicked:
		m.noteClicked(typed.Note)
	case NoteLongPressed:
		m.enterSelectionMode(typed.Note)
	case ToggleStar:
		m.toggleStar(typed.ID, typed.Starred)
	case DeleteNote:
		m.requestDelete(typed.ID)
	case LoadCounts:
		m.loadCounts()
	case ExitSelectionMode:
		m.exitSelectionMode()
	case ShareSelectedNote:
		if selected := m.selectedNote(); selected != nil {
			m.runtime.Emit(ShareNote{Note: *selected})
		}
	case DeleteSelectedNote:
		if selected := m.selectedNote(); selected != nil {
			m.runtime.Emit(ShowDeleteConfirmation{ID: selected.ID, NoteTitle: selected.DisplayTitle()})
		}
	default:
		return fmt.Errorf("%w: %T", mvi.ErrUnhandledIntent, intent)
	}
	return nil
}

func (m *Machine) loadNotes() {
	m.runtime.SetState(Loading{})
	pager := m.repository.AllNotes(m.pageSize)

	m.runtime.Subscribe(notesSubscription, func(ctx context.Context) {
		m.followCounts(ctx, func(snapshot counts, err error) {
			if err != nil {
				m.runtime.SetState(ErrorState{Message: "Failed to load notes: " + err.Error()})
				return
			}
			m.runtime.SetState(Content{
				Notes:        pager,
				TotalCount:   snapshot.total,
				StarredCount: snapshot.starred,
				IsEmpty:      snapshot.total == 0,
			})
		})
	})
}

func (m *Machine) loadCounts() {
	m.runtime.Subscribe(countsSubscription, func(ctx context.Context) {
		m.followCounts(ctx, func(snapshot counts, err error) {
			if err != nil {
				m.runtime.Logger().Warn("note counts unavailable", zap.Error(err))
				return
			}
			content, ok := m.runtime.State().(Content)
			if !ok {
				return
			}
			content.TotalCount = snapshot.total
			content.StarredCount = snapshot.starred
			content.IsEmpty = snapshot.total == 0
			m.runtime.SetState(content)
		})
	})
}

type counts struct {
	total   int
	starred int
}

// followCounts combines the latest total and starred counts and applies each
// combination on the loop. It returns after the first failure or when ctx ends.
func (m *Machine) followCounts(ctx context.Context, apply func(counts, error)) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	totals := m.repository.WatchNotesCount(watchCtx)
	starred := m.repository.WatchStarredNotesCount(watchCtx)

	var snapshot counts
	haveTotal, haveStarred := false, false
	for totals != nil || starred != nil {
		var update notes.Update[int]
		var ok bool
		select {
		case <-ctx.Done():
			return
		case update, ok = <-totals:
			if !ok {
				totals = nil
				continue
			}
			snapshot.total, haveTotal = update.Value, true
		case update, ok = <-starred:
			if !ok {
				starred = nil
				continue
			}
			snapshot.starred, haveStarred = update.Value, true
		}

		if update.Err != nil {
			err := update.Err
			_ = m.runtime.Deliver(ctx, func() { apply(counts{}, err) })
			return
		}
		if !haveTotal || !haveStarred {
			continue
		}
		current := snapshot
		if err := m.runtime.Deliver(ctx, func() { apply(current, nil) }); err != nil {
			return
		}
	}
}

func (m *Machine) noteClicked(note notes.Note) {
	if content, ok := m.runtime.State().(Content); ok && content.IsSelectionMode {
		m.exitSelectionMode()
		return
	}
	m.runtime.Emit(NavigateToDetails{ID: note.ID})
}

func (m *Machine) enterSelectionMode(note notes.Note) {
	content, ok := m.runtime.State().(Content)
	if !ok {
		return
	}
	selected := note
	content.IsSelectionMode = true
	content.SelectedNote = &selected
	m.runtime.SetState(content)
}

func (m *Machine) exitSelectionMode() {
	content, ok := m.runtime.State().(Content)
	if !ok {
		return
	}
	content.IsSelectionMode = false
	content.SelectedNote = nil
	m.runtime.SetState(content)
}

func (m *Machine) selectedNote() *notes.Note {
	content, ok := m.runtime.State().(Content)
	if !ok {
		return nil
	}
	return content.SelectedNote
}

func (m *Machine) toggleStar(noteID string, starred bool) {
	m.runtime.LaunchWrite(func(ctx context.Context) func() {
		err := m.repository.ToggleStar(ctx, noteID, starred)
		return func() {
			if err != nil {
				m.runtime.Emit(ShowError{Message: "Failed to toggle star: " + err.Error()})
				return
			}
			m.runtime.Emit(NoteStarToggled{ID: noteID, Starred: starred})
		}
	})
}

// requestDelete looks the note up once to build the prompt; deletion itself waits for
// ConfirmDeleteNote.
func (m *Machine) requestDelete(noteID string) {
	m.runtime.Launch(func(ctx context.Context) func() {
		lookupCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		update, ok := <-m.repository.WatchNote(lookupCtx, noteID)
		if !ok {
			return nil
		}
		return func() {
			if update.Err != nil {
				m.runtime.Emit(ShowError{Message: "Failed to load note details: " + update.Err.Error()})
				return
			}
			if update.Value == nil {
				return
			}
			m.runtime.Emit(ShowDeleteConfirmation{ID: noteID, NoteTitle: update.Value.DisplayTitle()})
		}
	})
}
