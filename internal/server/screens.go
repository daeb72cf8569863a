package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/details"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/list"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/mvi"
	"go.uber.org/zap"
)

const (
	stateLoading         = "loading"
	stateContent         = "content"
	stateCreatingNewNote = "creating_new_note"
	stateError           = "error"

	eventState = "state"
)

var (
	errUnknownIntent        = errors.New("unknown intent")
	errMissingIntentField   = errors.New("missing intent field")
	errUnsupportedOperation = errors.New("operation not supported by screen")
)

func missingField(name string) error {
	return fmt.Errorf("%w: %s", errMissingIntentField, name)
}

// forwardEffects encodes effects from source until it closes or ctx ends. delivered, when
// set, runs after each effect has been handed to the reader.
func forwardEffects[E any](ctx context.Context, source <-chan E, encode func(E) eventPayload, delivered func(E)) <-chan eventPayload {
	out := make(chan eventPayload)
	go func() {
		defer close(out)
		for effect := range source {
			select {
			case out <- encode(effect):
			case <-ctx.Done():
				return
			}
			if delivered != nil {
				delivered(effect)
			}
		}
	}()
	return out
}

// forwardStates renders each state from source as a state event until source closes or
// ctx ends. States that fail to render are logged and skipped.
func forwardStates[S any](ctx context.Context, source <-chan S, render func(S) (any, error), logger *zap.Logger) <-chan eventPayload {
	out := make(chan eventPayload)
	go func() {
		defer close(out)
		for state := range source {
			payload, err := render(state)
			if err != nil {
				logger.Warn("failed to render screen state", zap.Error(err))
				continue
			}
			select {
			case out <- eventPayload{Event: eventState, Data: payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type listScreen struct {
	machine *list.Machine
	logger  *zap.Logger
}

func (s *listScreen) screen() string {
	return list.ScreenName
}

func (s *listScreen) dispatch(request intentPayload) (string, error) {
	intent, err := parseListIntent(request)
	if err != nil {
		return "", err
	}
	return mvi.Name(intent), s.machine.Dispatch(intent)
}

func (s *listScreen) confirmDelete(noteID string) error {
	return s.machine.ConfirmDeleteNote(noteID)
}

func (s *listScreen) view(ctx context.Context, page int) (any, error) {
	return s.render(ctx, s.machine.State(), page)
}

func (s *listScreen) states(ctx context.Context) <-chan eventPayload {
	render := func(state list.ViewState) (any, error) { return s.render(ctx, state, 0) }
	return forwardStates(ctx, s.machine.WatchState(ctx), render, s.logger)
}

func (s *listScreen) render(ctx context.Context, current list.ViewState, page int) (any, error) {
	payload := listStatePayload{Screen: list.ScreenName}
	switch state := current.(type) {
	case list.Loading:
		payload.State = stateLoading
	case list.ErrorState:
		payload.State = stateError
		payload.Message = state.Message
	case list.Content:
		payload.State = stateContent
		payload.TotalCount = state.TotalCount
		payload.StarredCount = state.StarredCount
		payload.IsEmpty = state.IsEmpty
		payload.IsSelectionMode = state.IsSelectionMode
		if state.SelectedNote != nil {
			selected := newNotePayload(*state.SelectedNote)
			payload.SelectedNote = &selected
		}
		if state.Notes != nil {
			loaded, err := state.Notes.Load(ctx, page)
			if err != nil {
				return nil, err
			}
			payload.Page = &pagePayload{
				Index:   loaded.Index,
				Notes:   newNotePayloads(loaded.Notes),
				HasNext: loaded.HasNext,
			}
		}
	default:
		return nil, fmt.Errorf("unexpected list state %T", state)
	}
	return payload, nil
}

func (s *listScreen) effects(ctx context.Context) <-chan eventPayload {
	return forwardEffects(ctx, s.machine.AttachEffects(ctx), encodeListEffect, s.delivered)
}

// delivered leaves selection mode once the share target has the shared note.
func (s *listScreen) delivered(effect list.Effect) {
	if _, ok := effect.(list.ShareNote); !ok {
		return
	}
	if err := s.machine.Dispatch(list.ExitSelectionMode{}); err != nil {
		s.logger.Error("failed to leave selection mode after share", zap.Error(err))
	}
}

func (s *listScreen) close() {
	s.machine.Close()
}

func parseListIntent(request intentPayload) (list.Intent, error) {
	switch request.Type {
	case "load_notes":
		return list.LoadNotes{}, nil
	case "refresh_notes":
		return list.RefreshNotes{}, nil
	case "create_new_note":
		return list.CreateNewNote{}, nil
	case "note_clicked":
		if request.Note == nil {
			return nil, missingField("note")
		}
		return list.NoteClicked{Note: request.Note.toNote()}, nil
	case "note_long_pressed":
		if request.Note == nil {
			return nil, missingField("note")
		}
		return list.NoteLongPressed{Note: request.Note.toNote()}, nil
	case "toggle_star":
		if request.NoteID == "" {
			return nil, missingField("note_id")
		}
		if request.Starred == nil {
			return nil, missingField("starred")
		}
		return list.ToggleStar{ID: request.NoteID, Starred: *request.Starred}, nil
	case "delete_note":
		if request.NoteID == "" {
			return nil, missingField("note_id")
		}
		return list.DeleteNote{ID: request.NoteID}, nil
	case "load_counts":
		return list.LoadCounts{}, nil
	case "exit_selection_mode":
		return list.ExitSelectionMode{}, nil
	case "share_selected_note":
		return list.ShareSelectedNote{}, nil
	case "delete_selected_note":
		return list.DeleteSelectedNote{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownIntent, request.Type)
	}
}

func encodeListEffect(effect list.Effect) eventPayload {
	switch typed := effect.(type) {
	case list.NavigateToDetails:
		return eventPayload{Event: "navigate_to_details", Data: noteIDPayload{NoteID: typed.ID}}
	case list.NavigateToCreateNote:
		return eventPayload{Event: "navigate_to_create_note", Data: struct{}{}}
	case list.ShowDeleteConfirmation:
		return eventPayload{Event: "show_delete_confirmation", Data: deleteConfirmationPayload{NoteID: typed.ID, NoteTitle: typed.NoteTitle}}
	case list.ShowError:
		return eventPayload{Event: "show_error", Data: messagePayload{Message: typed.Message}}
	case list.NoteDeleted:
		return eventPayload{Event: "note_deleted", Data: struct{}{}}
	case list.NoteStarToggled:
		return eventPayload{Event: "note_star_toggled", Data: starToggledPayload{NoteID: typed.ID, Starred: typed.Starred}}
	case list.ShareNote:
		return eventPayload{Event: "share_note", Data: newSharePayload(typed.Note)}
	default:
		return eventPayload{Event: "unknown", Data: struct{}{}}
	}
}

type detailsScreen struct {
	machine *details.Machine
	logger  *zap.Logger
}

func (s *detailsScreen) screen() string {
	return details.ScreenName
}

func (s *detailsScreen) dispatch(request intentPayload) (string, error) {
	intent, err := parseDetailsIntent(request)
	if err != nil {
		return "", err
	}
	return mvi.Name(intent), s.machine.Dispatch(intent)
}

func (s *detailsScreen) confirmDelete(string) error {
	return errUnsupportedOperation
}

func (s *detailsScreen) view(context.Context, int) (any, error) {
	return s.render(s.machine.State())
}

func (s *detailsScreen) states(ctx context.Context) <-chan eventPayload {
	return forwardStates(ctx, s.machine.WatchState(ctx), s.render, s.logger)
}

func (s *detailsScreen) render(current details.ViewState) (any, error) {
	payload := detailsStatePayload{Screen: details.ScreenName}
	switch state := current.(type) {
	case details.Loading:
		payload.State = stateLoading
	case details.CreatingNewNote:
		payload.State = stateCreatingNewNote
	case details.ErrorState:
		payload.State = stateError
		payload.Message = state.Message
	case details.Content:
		note := newNotePayload(state.Note)
		payload.State = stateContent
		payload.Note = &note
		payload.IsDirty = state.IsDirty
		payload.ShowDeleteConfirmation = state.ShowDeleteConfirmation
	default:
		return nil, fmt.Errorf("unexpected details state %T", state)
	}
	return payload, nil
}

func (s *detailsScreen) effects(ctx context.Context) <-chan eventPayload {
	return forwardEffects(ctx, s.machine.AttachEffects(ctx), encodeDetailsEffect, nil)
}

func (s *detailsScreen) close() {
	s.machine.Close()
}

func parseDetailsIntent(request intentPayload) (details.Intent, error) {
	switch request.Type {
	case "load_note":
		if request.NoteID == "" {
			return nil, missingField("note_id")
		}
		return details.LoadNote{ID: request.NoteID}, nil
	case "create_new_note":
		return details.CreateNewNote{}, nil
	case "title_changed":
		if request.Title == nil {
			return nil, missingField("title")
		}
		return details.TitleChanged{Title: *request.Title}, nil
	case "content_changed":
		if request.Content == nil {
			return nil, missingField("content")
		}
		return details.ContentChanged{Content: *request.Content}, nil
	case "save_note":
		return details.SaveNote{}, nil
	case "toggle_star":
		return details.ToggleStar{}, nil
	case "delete_note":
		return details.DeleteNote{}, nil
	case "confirm_delete":
		return details.ConfirmDelete{}, nil
	case "cancel_delete":
		return details.CancelDelete{}, nil
	case "navigate_back":
		return details.NavigateBack{}, nil
	case "discard_changes":
		return details.DiscardChanges{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownIntent, request.Type)
	}
}

func encodeDetailsEffect(effect details.Effect) eventPayload {
	switch typed := effect.(type) {
	case details.NavigateBackEffect:
		return eventPayload{Event: "navigate_back", Data: struct{}{}}
	case details.ShowError:
		return eventPayload{Event: "show_error", Data: messagePayload{Message: typed.Message}}
	case details.ShowDeleteConfirmation:
		return eventPayload{Event: "show_delete_confirmation", Data: deleteConfirmationPayload{NoteTitle: typed.NoteTitle}}
	case details.NoteSaved:
		return eventPayload{Event: "note_saved", Data: notePayloadEnvelope{Note: newNotePayload(typed.Note)}}
	case details.NoteDeleted:
		return eventPayload{Event: "note_deleted", Data: struct{}{}}
	case details.ShowDiscardChangesDialog:
		return eventPayload{Event: "show_discard_changes_dialog", Data: struct{}{}}
	default:
		return eventPayload{Event: "unknown", Data: struct{}{}}
	}
}
