// Package details implements the state machine behind the note details screen: it owns
// the draft being created or edited, tracks whether it differs from the last persisted
// version, and runs the save, star, delete and discard flows.
package details

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/mvi"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"
	"go.uber.org/zap"
)

// ScreenName identifies the details screen in logs and metrics.
const ScreenName = "details"

const (
	emptyNoteMessage    = "Cannot save empty note. Please add a title or content."
	noteNotFoundMessage = "Note not found"

	noteSubscription = "note"
)

var errMissingRepository = errors.New("details: repository is required")

// Config describes the dependencies of a details Machine.
type Config struct {
	Repository   notes.Repository
	Clock        func() time.Time
	Logger       *zap.Logger
	EffectBuffer int
}

// Machine is the details screen state machine. Intents are its only mutation entry point.
type Machine struct {
	runtime    *mvi.Runtime[ViewState, Effect]
	repository notes.Repository
	clock      func() time.Time

	// draft and baseline are only touched on the runtime loop.
	draft    *notes.Note
	baseline *notes.Note
}

// NewMachine starts a details machine in the Loading state.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Machine{
		runtime: mvi.NewRuntime[ViewState, Effect](mvi.Config[ViewState]{
			Name:         ScreenName,
			Initial:      Loading{},
			Logger:       cfg.Logger,
			EffectBuffer: cfg.EffectBuffer,
		}),
		repository: cfg.Repository,
		clock:      clock,
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
	case LoadNote:
		m.loadNote(typed.ID)
	case CreateNewNote:
		m.createNewNote()
	case TitleChanged:
		m.editDraft(func(draft *notes.Note) { draft.Title = typed.Title })
	case ContentChanged:
		m.editDraft(func(draft *notes.Note) { draft.Content = typed.Content })
	case SaveNote:
		m.saveNote()
	case ToggleStar:
		m.toggleStar()
	case DeleteNote:
		m.requestDelete()
	case ConfirmDelete:
		m.confirmDelete()
	case CancelDelete:
		m.cancelDelete()
	case NavigateBack:
		m.navigateBack()
	case DiscardChanges:
		m.runtime.Emit(NavigateBackEffect{})
	default:
		return fmt.Errorf("%w: %T", mvi.ErrUnhandledIntent, intent)
	}
	return nil
}

func (m *Machine) loadNote(noteID string) {
	m.runtime.SetState(Loading{})
	m.watchNote(noteID)
}

func (m *Machine) watchNote(noteID string) {
	m.runtime.Subscribe(noteSubscription, func(ctx context.Context) {
		for update := range m.repository.WatchNote(ctx, noteID) {
			if err := m.runtime.Deliver(ctx, func() { m.applyLoaded(update) }); err != nil {
				return
			}
		}
	})
}

// applyLoaded refreshes the baseline from the store. The draft follows the store only
// while it has no unsaved edits and none of its writes are still in flight.
func (m *Machine) applyLoaded(update notes.Update[*notes.Note]) {
	if update.Err != nil {
		m.runtime.SetState(ErrorState{Message: "Failed to load note: " + update.Err.Error()})
		return
	}
	if update.Value == nil {
		m.runtime.SetState(ErrorState{Message: noteNotFoundMessage})
		return
	}

	loaded := *update.Value
	keepDraft := m.draft != nil && m.draft.ID == loaded.ID &&
		(m.isDirty() || m.runtime.PendingWrites() > 0)
	m.baseline = &loaded
	if !keepDraft {
		draft := loaded
		m.draft = &draft
	}

	showConfirmation := false
	if content, ok := m.runtime.State().(Content); ok {
		showConfirmation = content.ShowDeleteConfirmation
	}
	m.runtime.SetState(Content{
		Note:                   *m.draft,
		IsDirty:                m.isDirty(),
		ShowDeleteConfirmation: showConfirmation,
	})
}

func (m *Machine) createNewNote() {
	m.runtime.Unsubscribe(noteSubscription)
	m.draft = &notes.Note{}
	m.baseline = &notes.Note{}
	m.runtime.SetState(CreatingNewNote{})
}

func (m *Machine) editDraft(edit func(draft *notes.Note)) {
	if m.draft == nil {
		return
	}
	edit(m.draft)
	m.publishDraft()
}

// publishDraft re-renders the draft when the screen is showing it.
func (m *Machine) publishDraft() {
	showConfirmation := false
	switch current := m.runtime.State().(type) {
	case Content:
		showConfirmation = current.ShowDeleteConfirmation
	case CreatingNewNote:
	default:
		return
	}
	m.runtime.SetState(Content{
		Note:                   *m.draft,
		IsDirty:                m.isDirty(),
		ShowDeleteConfirmation: showConfirmation,
	})
}

func (m *Machine) isDirty() bool {
	if m.draft == nil || m.baseline == nil {
		return false
	}
	return !m.draft.SameAs(*m.baseline)
}

func (m *Machine) saveNote() {
	if m.draft == nil {
		return
	}
	if m.draft.IsEmpty() {
		m.runtime.Emit(ShowError{Message: emptyNoteMessage})
		return
	}

	pending := *m.draft
	pending.UpdatedAt = m.clock().UTC()

	m.runtime.LaunchWrite(func(ctx context.Context) func() {
		saved := pending
		var err error
		if pending.IsPersisted() {
			err = m.repository.UpdateNote(ctx, pending)
		} else {
			saved, err = m.repository.CreateNote(ctx, pending)
		}
		return func() {
			if err != nil {
				m.runtime.Emit(ShowError{Message: "Failed to save note: " + err.Error()})
				return
			}
			draft, baseline := saved, saved
			m.draft = &draft
			m.baseline = &baseline
			m.runtime.Emit(NoteSaved{Note: saved})
			m.runtime.SetState(Content{Note: saved, IsDirty: false})
			m.runtime.Emit(NavigateBackEffect{})
		}
	})
}

// toggleStar flips the flag optimistically and rolls it back if persisting fails.
// A draft that was never saved carries the flag into its first save instead.
func (m *Machine) toggleStar() {
	if m.draft == nil {
		return
	}
	previous := m.draft.Starred
	m.draft.Starred = !previous
	m.draft.UpdatedAt = m.clock().UTC()
	m.publishDraft()

	if !m.draft.IsPersisted() {
		return
	}
	noteID, starred := m.draft.ID, m.draft.Starred

	m.runtime.LaunchWrite(func(ctx context.Context) func() {
		err := m.repository.ToggleStar(ctx, noteID, starred)
		return func() {
			if m.draft == nil || m.draft.ID != noteID {
				return
			}
			if err != nil {
				m.draft.Starred = previous
				m.publishDraft()
				m.runtime.Emit(ShowError{Message: "Failed to toggle star: " + err.Error()})
				return
			}
			if m.baseline != nil {
				m.baseline.Starred = starred
			}
			m.publishDraft()
		}
	})
}

func (m *Machine) requestDelete() {
	content, ok := m.runtime.State().(Content)
	if !ok {
		return
	}
	content.ShowDeleteConfirmation = true
	m.runtime.SetState(content)
	if m.draft != nil {
		m.runtime.Emit(ShowDeleteConfirmation{NoteTitle: m.draft.DisplayTitle()})
	}
}

func (m *Machine) confirmDelete() {
	if m.draft == nil {
		return
	}
	if !m.draft.IsPersisted() {
		m.runtime.Emit(NavigateBackEffect{})
		return
	}

	noteID := m.draft.ID
	// Stop following the note so its removal does not surface as "not found".
	m.runtime.Unsubscribe(noteSubscription)
	m.runtime.LaunchWrite(func(ctx context.Context) func() {
		err := m.repository.DeleteNote(ctx, noteID)
		return func() {
			if err != nil {
				m.watchNote(noteID)
				m.runtime.Emit(ShowError{Message: "Failed to delete note: " + err.Error()})
				return
			}
			m.runtime.Emit(NoteDeleted{})
		}
	})
}

func (m *Machine) cancelDelete() {
	content, ok := m.runtime.State().(Content)
	if !ok || !content.ShowDeleteConfirmation {
		return
	}
	content.ShowDeleteConfirmation = false
	m.runtime.SetState(content)
}

func (m *Machine) navigateBack() {
	if content, ok := m.runtime.State().(Content); ok && content.IsDirty {
		m.runtime.Emit(ShowDiscardChangesDialog{})
		return
	}
	m.runtime.Emit(NavigateBackEffect{})
}
