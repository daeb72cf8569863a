package list

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes/notestest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type harness struct {
	machine *Machine
	states  <-chan ViewState
	effects <-chan Effect
}

func newHarness(t *testing.T, repository notes.Repository) *harness {
	t.Helper()
	machine, err := NewMachine(Config{Repository: repository, PageSize: 2})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		machine.Close()
	})
	return &harness{
		machine: machine,
		states:  machine.WatchState(ctx),
		effects: machine.AttachEffects(ctx),
	}
}

func (h *harness) dispatch(t *testing.T, intents ...Intent) {
	t.Helper()
	for _, intent := range intents {
		require.NoError(t, h.machine.Dispatch(intent))
	}
}

func (h *harness) waitFor(t *testing.T, describe string, match func(ViewState) bool) ViewState {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case state := <-h.states:
			if match(state) {
				return state
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; last state %#v", describe, h.machine.State())
		}
	}
}

func (h *harness) waitContent(t *testing.T, match func(Content) bool) Content {
	t.Helper()
	state := h.waitFor(t, "content", func(state ViewState) bool {
		content, ok := state.(Content)
		return ok && match(content)
	})
	return state.(Content)
}

func (h *harness) nextEffect(t *testing.T) Effect {
	t.Helper()
	select {
	case effect := <-h.effects:
		return effect
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for effect")
	}
	return nil
}

func (h *harness) expectNoEffect(t *testing.T) {
	t.Helper()
	select {
	case effect := <-h.effects:
		t.Fatalf("unexpected effect %#v", effect)
	case <-time.After(100 * time.Millisecond):
	}
}

func (h *harness) loaded(t *testing.T) Content {
	t.Helper()
	h.dispatch(t, LoadNotes{})
	return h.waitContent(t, func(Content) bool { return true })
}

func seededNotes() []notes.Note {
	base := time.Unix(1700000000, 0).UTC()
	return []notes.Note{
		{ID: "note-a", Title: "Alpha", Content: "first", Starred: true, CreatedAt: base, UpdatedAt: base.Add(1 * time.Second)},
		{ID: "note-b", Title: "", Content: "beta body", Starred: true, CreatedAt: base, UpdatedAt: base.Add(2 * time.Second)},
		{ID: "note-c", Title: "Gamma", Content: "third", CreatedAt: base, UpdatedAt: base.Add(3 * time.Second)},
	}
}

func TestNewMachineRequiresRepository(t *testing.T) {
	_, err := NewMachine(Config{})
	require.Error(t, err)
}

func TestMachineStartsLoadingWithoutReading(t *testing.T) {
	repository := notestest.NewRepository(seededNotes()...)
	h := newHarness(t, repository)

	assert.Equal(t, Loading{}, h.machine.State())
	h.expectNoEffect(t)
	assert.Zero(t, repository.Calls(notestest.OpCount))
}

func TestLoadCountsReportsTotalsAndStarred(t *testing.T) {
	h := newHarness(t, notestest.NewRepository(seededNotes()...))

	h.dispatch(t, LoadNotes{}, LoadCounts{})
	content := h.waitContent(t, func(content Content) bool { return content.TotalCount == 3 })

	assert.Equal(t, 2, content.StarredCount)
	assert.False(t, content.IsEmpty)
	assert.False(t, content.IsSelectionMode)
	assert.Nil(t, content.SelectedNote)
}

func TestLoadNotesPagesByRecency(t *testing.T) {
	h := newHarness(t, notestest.NewRepository(seededNotes()...))
	content := h.loaded(t)

	require.NotNil(t, content.Notes)
	assert.Equal(t, 2, content.Notes.PageSize())

	first, err := content.Notes.Load(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, first.Notes, 2)
	assert.Equal(t, "note-c", first.Notes[0].ID)
	assert.Equal(t, "note-b", first.Notes[1].ID)
	assert.True(t, first.HasNext)

	second, err := content.Notes.Load(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, second.Notes, 1)
	assert.Equal(t, "note-a", second.Notes[0].ID)
	assert.False(t, second.HasNext)
}

func TestLoadNotesOnEmptyRepository(t *testing.T) {
	h := newHarness(t, notestest.NewRepository())
	content := h.loaded(t)

	assert.True(t, content.IsEmpty)
	assert.Zero(t, content.TotalCount)
	assert.Zero(t, content.StarredCount)
}

func TestLoadNotesFailureShowsError(t *testing.T) {
	repository := notestest.NewRepository(seededNotes()...)
	repository.Fail(notestest.OpCount, errors.New("disk unavailable"))
	h := newHarness(t, repository)

	h.dispatch(t, LoadNotes{})
	state := h.waitFor(t, "error", func(state ViewState) bool {
		_, ok := state.(ErrorState)
		return ok
	})
	assert.Equal(t, ErrorState{Message: "Failed to load notes: disk unavailable"}, state)
}

func TestRefreshAfterFailureRecovers(t *testing.T) {
	repository := notestest.NewRepository(seededNotes()...)
	repository.Fail(notestest.OpCount, errors.New("disk unavailable"))
	h := newHarness(t, repository)

	h.dispatch(t, LoadNotes{})
	h.waitFor(t, "error", func(state ViewState) bool {
		_, ok := state.(ErrorState)
		return ok
	})

	repository.Fail(notestest.OpCount, nil)
	h.dispatch(t, RefreshNotes{})
	content := h.waitContent(t, func(content Content) bool { return content.TotalCount == 3 })
	assert.Equal(t, 2, content.StarredCount)
}

func TestCountsFollowRepositoryWrites(t *testing.T) {
	repository := notestest.NewRepository(seededNotes()...)
	h := newHarness(t, repository)
	h.loaded(t)

	_, err := repository.CreateNote(context.Background(), notes.Note{Title: "Delta"})
	require.NoError(t, err)

	content := h.waitContent(t, func(content Content) bool { return content.TotalCount == 4 })
	assert.Equal(t, 2, content.StarredCount)
}

func TestCreateNewNoteNavigates(t *testing.T) {
	h := newHarness(t, notestest.NewRepository())
	h.dispatch(t, CreateNewNote{})
	assert.Equal(t, NavigateToCreateNote{}, h.nextEffect(t))
}

func TestNoteClickedNavigatesToDetails(t *testing.T) {
	h := newHarness(t, notestest.NewRepository(seededNotes()...))
	h.loaded(t)

	h.dispatch(t, NoteClicked{Note: seededNotes()[0]})
	assert.Equal(t, NavigateToDetails{ID: "note-a"}, h.nextEffect(t))
}

func TestNoteClickedInSelectionModeExitsSelection(t *testing.T) {
	h := newHarness(t, notestest.NewRepository(seededNotes()...))
	h.loaded(t)
	note := seededNotes()[0]

	h.dispatch(t, NoteLongPressed{Note: note})
	h.waitContent(t, func(content Content) bool { return content.IsSelectionMode })

	h.dispatch(t, NoteClicked{Note: note})
	content := h.waitContent(t, func(content Content) bool { return !content.IsSelectionMode })
	assert.Nil(t, content.SelectedNote)
	h.expectNoEffect(t)
}

func TestLongPressReplacesSelection(t *testing.T) {
	seed := seededNotes()
	h := newHarness(t, notestest.NewRepository(seed...))
	h.loaded(t)

	h.dispatch(t, NoteLongPressed{Note: seed[0]}, NoteLongPressed{Note: seed[1]})
	content := h.waitContent(t, func(content Content) bool {
		return content.SelectedNote != nil && content.SelectedNote.ID == "note-b"
	})
	assert.True(t, content.IsSelectionMode)
	assert.Equal(t, seed[1], *content.SelectedNote)
}

func TestLongPressWhileLoadingIsIgnored(t *testing.T) {
	h := newHarness(t, notestest.NewRepository(seededNotes()...))

	h.dispatch(t, NoteLongPressed{Note: seededNotes()[0]}, ShareSelectedNote{})
	h.expectNoEffect(t)
	assert.Equal(t, Loading{}, h.machine.State())
}

func TestExitSelectionModeClearsSelection(t *testing.T) {
	h := newHarness(t, notestest.NewRepository(seededNotes()...))
	h.loaded(t)

	h.dispatch(t, NoteLongPressed{Note: seededNotes()[2]})
	h.waitContent(t, func(content Content) bool { return content.IsSelectionMode })

	h.dispatch(t, ExitSelectionMode{})
	content := h.waitContent(t, func(content Content) bool { return !content.IsSelectionMode })
	assert.Nil(t, content.SelectedNote)
}

func TestShareSelectedNote(t *testing.T) {
	seed := seededNotes()
	h := newHarness(t, notestest.NewRepository(seed...))
	h.loaded(t)

	h.dispatch(t, ShareSelectedNote{})
	h.expectNoEffect(t)

	h.dispatch(t, NoteLongPressed{Note: seed[2]}, ShareSelectedNote{})
	assert.Equal(t, ShareNote{Note: seed[2]}, h.nextEffect(t))
}

func TestDeleteSelectedNoteAsksForConfirmation(t *testing.T) {
	seed := seededNotes()
	repository := notestest.NewRepository(seed...)
	h := newHarness(t, repository)
	h.loaded(t)

	h.dispatch(t, NoteLongPressed{Note: seed[1]}, DeleteSelectedNote{})
	assert.Equal(t, ShowDeleteConfirmation{ID: "note-b", NoteTitle: "beta body"}, h.nextEffect(t))
	assert.Zero(t, repository.Calls(notestest.OpDelete))
}

func TestLoadCountsKeepsSelection(t *testing.T) {
	seed := seededNotes()
	repository := notestest.NewRepository(seed...)
	h := newHarness(t, repository)
	h.loaded(t)

	h.dispatch(t, NoteLongPressed{Note: seed[0]})
	h.waitContent(t, func(content Content) bool { return content.IsSelectionMode })

	h.dispatch(t, LoadCounts{})
	require.Eventually(t, func() bool {
		return repository.Calls(notestest.OpCount) >= 4
	}, waitTimeout, 10*time.Millisecond)

	h.dispatch(t, ShareSelectedNote{})
	assert.Equal(t, ShareNote{Note: seed[0]}, h.nextEffect(t))
	content, ok := h.machine.State().(Content)
	require.True(t, ok)
	assert.Equal(t, 3, content.TotalCount)
}

func TestToggleStarReportsOutcome(t *testing.T) {
	repository := notestest.NewRepository(seededNotes()...)
	h := newHarness(t, repository)
	h.loaded(t)

	h.dispatch(t, ToggleStar{ID: "note-c", Starred: true})
	assert.Equal(t, NoteStarToggled{ID: "note-c", Starred: true}, h.nextEffect(t))

	content := h.waitContent(t, func(content Content) bool { return content.StarredCount == 3 })
	assert.Equal(t, 3, content.TotalCount)
}

type slowStarRepository struct {
	*notestest.Repository
	delay time.Duration
}

func (r *slowStarRepository) ToggleStar(ctx context.Context, id string, starred bool) error {
	if starred {
		time.Sleep(r.delay)
	}
	return r.Repository.ToggleStar(ctx, id, starred)
}

func TestToggleStarWritesFollowIntentOrder(t *testing.T) {
	repository := &slowStarRepository{Repository: notestest.NewRepository(seededNotes()...), delay: 100 * time.Millisecond}
	h := newHarness(t, repository)
	h.loaded(t)

	h.dispatch(t, ToggleStar{ID: "note-c", Starred: true}, ToggleStar{ID: "note-c", Starred: false})

	assert.Equal(t, NoteStarToggled{ID: "note-c", Starred: true}, h.nextEffect(t))
	assert.Equal(t, NoteStarToggled{ID: "note-c", Starred: false}, h.nextEffect(t))
	stored, _ := repository.Get("note-c")
	assert.False(t, stored.Starred)
}

func TestToggleStarFailureShowsError(t *testing.T) {
	repository := notestest.NewRepository(seededNotes()...)
	repository.Fail(notestest.OpToggleStar, errors.New("read-only"))
	h := newHarness(t, repository)
	h.loaded(t)

	h.dispatch(t, ToggleStar{ID: "note-c", Starred: true})
	assert.Equal(t, ShowError{Message: "Failed to toggle star: read-only"}, h.nextEffect(t))
}

func TestDeleteNoteOnlyPrompts(t *testing.T) {
	repository := notestest.NewRepository(seededNotes()...)
	h := newHarness(t, repository)
	h.loaded(t)

	h.dispatch(t, DeleteNote{ID: "note-a"})
	assert.Equal(t, ShowDeleteConfirmation{ID: "note-a", NoteTitle: "Alpha"}, h.nextEffect(t))
	assert.Zero(t, repository.Calls(notestest.OpDelete))
	_, stillThere := repository.Get("note-a")
	assert.True(t, stillThere)
}

func TestDeleteMissingNoteDoesNothing(t *testing.T) {
	h := newHarness(t, notestest.NewRepository(seededNotes()...))
	h.loaded(t)

	h.dispatch(t, DeleteNote{ID: "note-missing"})
	h.expectNoEffect(t)
}

func TestDeleteNoteLookupFailure(t *testing.T) {
	repository := notestest.NewRepository(seededNotes()...)
	repository.Fail(notestest.OpWatchNote, errors.New("locked"))
	h := newHarness(t, repository)
	h.loaded(t)

	h.dispatch(t, DeleteNote{ID: "note-a"})
	assert.Equal(t, ShowError{Message: "Failed to load note details: locked"}, h.nextEffect(t))
}

func TestConfirmDeleteNoteDeletesAndReloads(t *testing.T) {
	repository := notestest.NewRepository(seededNotes()...)
	h := newHarness(t, repository)
	h.loaded(t)

	require.NoError(t, h.machine.ConfirmDeleteNote("note-b"))
	assert.Equal(t, NoteDeleted{}, h.nextEffect(t))

	content := h.waitContent(t, func(content Content) bool { return content.TotalCount == 2 })
	assert.Equal(t, 1, content.StarredCount)
	_, stillThere := repository.Get("note-b")
	assert.False(t, stillThere)
}

func TestConfirmDeleteNoteFailure(t *testing.T) {
	repository := notestest.NewRepository(seededNotes()...)
	repository.Fail(notestest.OpDelete, errors.New("constraint failed"))
	h := newHarness(t, repository)
	h.loaded(t)

	require.NoError(t, h.machine.ConfirmDeleteNote("note-b"))
	assert.Equal(t, ShowError{Message: "Failed to delete note: constraint failed"}, h.nextEffect(t))
	_, stillThere := repository.Get("note-b")
	assert.True(t, stillThere)
}

func TestDispatchAfterCloseFails(t *testing.T) {
	h := newHarness(t, notestest.NewRepository())
	h.machine.Close()

	assert.Error(t, h.machine.Dispatch(LoadNotes{}))
	assert.Error(t, h.machine.ConfirmDeleteNote("note-a"))
}
