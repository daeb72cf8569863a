package details

import "github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"

// ViewState is what the details screen currently renders.
type ViewState interface {
	isViewState()
}

// Loading is the initial state while an existing note is fetched.
type Loading struct{}

// Content shows the draft being edited.
type Content struct {
	Note                   notes.Note
	IsDirty                bool
	ShowDeleteConfirmation bool
}

// CreatingNewNote is shown for a fresh, untouched draft.
type CreatingNewNote struct{}

// ErrorState replaces the screen when the note cannot be shown.
type ErrorState struct {
	Message string
}

func (Loading) isViewState()         {}
func (Content) isViewState()         {}
func (CreatingNewNote) isViewState() {}
func (ErrorState) isViewState()      {}

// Intent is a user action on the details screen.
type Intent interface {
	isIntent()
}

type (
	LoadNote       struct{ ID string }
	CreateNewNote  struct{}
	TitleChanged   struct{ Title string }
	ContentChanged struct{ Content string }
	SaveNote       struct{}
	ToggleStar     struct{}
	DeleteNote     struct{}
	ConfirmDelete  struct{}
	CancelDelete   struct{}
	NavigateBack   struct{}
	DiscardChanges struct{}
)

func (LoadNote) isIntent()       {}
func (CreateNewNote) isIntent()  {}
func (TitleChanged) isIntent()   {}
func (ContentChanged) isIntent() {}
func (SaveNote) isIntent()       {}
func (ToggleStar) isIntent()     {}
func (DeleteNote) isIntent()     {}
func (ConfirmDelete) isIntent()  {}
func (CancelDelete) isIntent()   {}
func (NavigateBack) isIntent()   {}
func (DiscardChanges) isIntent() {}

// Effect is a one-shot signal to the presentation layer.
type Effect interface {
	isEffect()
}

type (
	// NavigateBackEffect asks the presentation layer to leave the screen.
	NavigateBackEffect       struct{}
	ShowError                struct{ Message string }
	ShowDeleteConfirmation   struct{ NoteTitle string }
	NoteSaved                struct{ Note notes.Note }
	NoteDeleted              struct{}
	ShowDiscardChangesDialog struct{}
)

func (NavigateBackEffect) isEffect()       {}
func (ShowError) isEffect()                {}
func (ShowDeleteConfirmation) isEffect()   {}
func (NoteSaved) isEffect()                {}
func (NoteDeleted) isEffect()              {}
func (ShowDiscardChangesDialog) isEffect() {}
