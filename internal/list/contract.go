package list

import "github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"

// ViewState is what the note list screen currently renders.
type ViewState interface {
	isViewState()
}

// Loading is the initial state until the first counts arrive.
type Loading struct{}

// Content shows the note collection. Notes is read page by page by the renderer.
type Content struct {
	Notes           notes.PagedNotes
	TotalCount      int
	StarredCount    int
	IsEmpty         bool
	IsSelectionMode bool
	SelectedNote    *notes.Note
}

// ErrorState replaces the list when it cannot be loaded.
type ErrorState struct {
	Message string
}

func (Loading) isViewState()    {}
func (Content) isViewState()    {}
func (ErrorState) isViewState() {}

// Intent is a user action on the list screen.
type Intent interface {
	isIntent()
}

type (
	LoadNotes       struct{}
	RefreshNotes    struct{}
	CreateNewNote   struct{}
	NoteClicked     struct{ Note notes.Note }
	NoteLongPressed struct{ Note notes.Note }
	ToggleStar      struct {
		ID      string
		Starred bool
	}
	DeleteNote         struct{ ID string }
	LoadCounts         struct{}
	ExitSelectionMode  struct{}
	ShareSelectedNote  struct{}
	DeleteSelectedNote struct{}
)

func (LoadNotes) isIntent()          {}
func (RefreshNotes) isIntent()       {}
func (CreateNewNote) isIntent()      {}
func (NoteClicked) isIntent()        {}
func (NoteLongPressed) isIntent()    {}
func (ToggleStar) isIntent()         {}
func (DeleteNote) isIntent()         {}
func (LoadCounts) isIntent()         {}
func (ExitSelectionMode) isIntent()  {}
func (ShareSelectedNote) isIntent()  {}
func (DeleteSelectedNote) isIntent() {}

// Effect is a one-shot signal to the presentation layer.
type Effect interface {
	isEffect()
}

type (
	NavigateToDetails      struct{ ID string }
	NavigateToCreateNote   struct{}
	ShowDeleteConfirmation struct {
		ID        string
		NoteTitle string
	}
	ShowError       struct{ Message string }
	NoteDeleted     struct{}
	NoteStarToggled struct {
		ID      string
		Starred bool
	}
	ShareNote struct{ Note notes.Note }
)

func (NavigateToDetails) isEffect()      {}
func (NavigateToCreateNote) isEffect()   {}
func (ShowDeleteConfirmation) isEffect() {}
func (ShowError) isEffect()              {}
func (NoteDeleted) isEffect()            {}
func (NoteStarToggled) isEffect()        {}
func (ShareNote) isEffect()              {}
