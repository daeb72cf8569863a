package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code around the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew         = "notes.store.new"
	opCreateNote       = "notes.create_note"
	opUpdateNote       = "notes.update_note"
	opDeleteNote       = "notes.delete_note"
	opToggleStar       = "notes.toggle_star"
	opGetNote          = "notes.get_note"
	opLoadPage         = "notes.load_page"
	opCountNotes       = "notes.count_notes"
	opCountStarred     = "notes.count_starred"
	opListStarredNotes = "notes.list_starred"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Feed       *ChangeFeed
	Logger     *zap.Logger
}

// Store persists notes through GORM and implements Repository.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	feed       *ChangeFeed
	logger     *zap.Logger
}

var _ Repository = (*Store)(nil)

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	feed := cfg.Feed
	if feed == nil {
		feed = NewChangeFeed()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		feed:       feed,
		logger:     logger,
	}, nil
}

// CreateNote assigns an identity and both timestamps, then inserts the note.
func (s *Store) CreateNote(ctx context.Context, note Note) (Note, error) {
	defer metrics.TrackStoreOperation(opCreateNote).ObserveDuration()

	if note.IsEmpty() {
		return Note{}, newServiceError(opCreateNote, "empty_note", ErrEmptyNote)
	}
	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNote, "id_generation_failed", err)
		return Note{}, newServiceError(opCreateNote, "id_generation_failed", err)
	}

	now := s.now()
	note.ID = noteID
	note.CreatedAt = now
	note.UpdatedAt = now

	record := toRecord(note)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateNote, "insert_failed", err, zap.String("note_id", noteID))
		return Note{}, newServiceError(opCreateNote, "insert_failed", err)
	}

	s.publish(ChangeKindCreated, noteID)
	return note, nil
}

// UpdateNote overwrites the editable fields of an existing note and stamps updated-at.
func (s *Store) UpdateNote(ctx context.Context, note Note) error {
	defer metrics.TrackStoreOperation(opUpdateNote).ObserveDuration()

	noteID, err := validateNoteID(note.ID)
	if err != nil {
		return newServiceError(opUpdateNote, "invalid_note_id", err)
	}
	if note.IsEmpty() {
		return newServiceError(opUpdateNote, "empty_note", ErrEmptyNote)
	}

	result := s.db.WithContext(ctx).
		Model(&noteRecord{}).
		Where("note_id = ?", noteID).
		Updates(map[string]any{
			"title":         note.Title,
			"content":       note.Content,
			"is_starred":    note.Starred,
			"updated_at_ms": s.now().UnixMilli(),
		})
	if result.Error != nil {
		s.logError(opUpdateNote, "update_failed", result.Error, zap.String("note_id", noteID))
		return newServiceError(opUpdateNote, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdateNote, "not_found", ErrNoteNotFound)
	}

	s.publish(ChangeKindUpdated, noteID)
	return nil
}

// DeleteNote removes the note. Deleting an unknown identifier is a no-op.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	defer metrics.TrackStoreOperation(opDeleteNote).ObserveDuration()

	noteID, err := validateNoteID(id)
	if err != nil {
		return newServiceError(opDeleteNote, "invalid_note_id", err)
	}

	result := s.db.WithContext(ctx).Where("note_id = ?", noteID).Delete(&noteRecord{})
	if result.Error != nil {
		s.logError(opDeleteNote, "delete_failed", result.Error, zap.String("note_id", noteID))
		return newServiceError(opDeleteNote, "delete_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		s.publish(ChangeKindDeleted, noteID)
	}
	return nil
}

// ToggleStar sets the starred flag and stamps updated-at.
func (s *Store) ToggleStar(ctx context.Context, id string, starred bool) error {
	defer metrics.TrackStoreOperation(opToggleStar).ObserveDuration()

	noteID, err := validateNoteID(id)
	if err != nil {
		return newServiceError(opToggleStar, "invalid_note_id", err)
	}

	result := s.db.WithContext(ctx).
		Model(&noteRecord{}).
		Where("note_id = ?", noteID).
		Updates(map[string]any{
			"is_starred":    starred,
			"updated_at_ms": s.now().UnixMilli(),
		})
	if result.Error != nil {
		s.logError(opToggleStar, "update_failed", result.Error, zap.String("note_id", noteID))
		return newServiceError(opToggleStar, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opToggleStar, "not_found", ErrNoteNotFound)
	}

	s.publish(ChangeKindStarred, noteID)
	return nil
}

// WatchNote streams the note with the given identifier; a nil value means it does not exist.
func (s *Store) WatchNote(ctx context.Context, id string) <-chan Update[*Note] {
	return WatchFiltered(ctx, s.feed, func(event ChangeEvent) bool { return event.Touches(id) }, func(queryCtx context.Context) (*Note, error) {
		return s.getNote(queryCtx, id)
	})
}

// AllNotes returns a pager over every note, most recently updated first.
func (s *Store) AllNotes(pageSize int) PagedNotes {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &storePager{store: s, pageSize: pageSize}
}

// WatchNotesCount streams the total number of notes.
func (s *Store) WatchNotesCount(ctx context.Context) <-chan Update[int] {
	return Watch(ctx, s.feed, func(queryCtx context.Context) (int, error) {
		return s.count(opCountNotes, s.db.WithContext(queryCtx).Model(&noteRecord{}))
	})
}

// WatchStarredNotesCount streams the number of starred notes.
func (s *Store) WatchStarredNotesCount(ctx context.Context) <-chan Update[int] {
	return Watch(ctx, s.feed, func(queryCtx context.Context) (int, error) {
		return s.count(opCountStarred, s.db.WithContext(queryCtx).Model(&noteRecord{}).Where("is_starred = ?", true))
	})
}

// WatchStarredNotes streams every starred note, most recently updated first.
func (s *Store) WatchStarredNotes(ctx context.Context) <-chan Update[[]Note] {
	return Watch(ctx, s.feed, func(queryCtx context.Context) ([]Note, error) {
		defer metrics.TrackStoreOperation(opListStarredNotes).ObserveDuration()
		var records []noteRecord
		if err := s.db.WithContext(queryCtx).
			Where("is_starred = ?", true).
			Order("updated_at_ms DESC").
			Order("note_id DESC").
			Find(&records).Error; err != nil {
			s.logError(opListStarredNotes, "query_failed", err)
			return nil, newServiceError(opListStarredNotes, "query_failed", err)
		}
		return fromRecords(records), nil
	})
}

func (s *Store) getNote(ctx context.Context, id string) (*Note, error) {
	defer metrics.TrackStoreOperation(opGetNote).ObserveDuration()

	noteID, err := validateNoteID(id)
	if err != nil {
		return nil, newServiceError(opGetNote, "invalid_note_id", err)
	}

	var record noteRecord
	err = s.db.WithContext(ctx).Where("note_id = ?", noteID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opGetNote, "query_failed", err, zap.String("note_id", noteID))
		return nil, newServiceError(opGetNote, "query_failed", err)
	}
	note := fromRecord(record)
	return &note, nil
}

func (s *Store) count(operation string, query *gorm.DB) (int, error) {
	defer metrics.TrackStoreOperation(operation).ObserveDuration()

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logError(operation, "query_failed", err)
		return 0, newServiceError(operation, "query_failed", err)
	}
	return int(total), nil
}

func (s *Store) now() time.Time {
	return time.UnixMilli(s.clock().UnixMilli()).UTC()
}

func (s *Store) publish(kind ChangeKind, noteID string) {
	s.feed.Publish(ChangeEvent{Kind: kind, NoteID: noteID})
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes store error", attrs...)
}

type storePager struct {
	store    *Store
	pageSize int
}

func (p *storePager) PageSize() int {
	return p.pageSize
}

func (p *storePager) Load(ctx context.Context, index int) (Page, error) {
	defer metrics.TrackStoreOperation(opLoadPage).ObserveDuration()

	if index < 0 {
		index = 0
	}
	var records []noteRecord
	if err := p.store.db.WithContext(ctx).
		Order("updated_at_ms DESC").
		Order("note_id DESC").
		Offset(index * p.pageSize).
		Limit(p.pageSize + 1).
		Find(&records).Error; err != nil {
		p.store.logError(opLoadPage, "query_failed", err, zap.Int("page", index))
		return Page{}, newServiceError(opLoadPage, "query_failed", err)
	}

	hasNext := len(records) > p.pageSize
	if hasNext {
		records = records[:p.pageSize]
	}
	return Page{Index: index, Notes: fromRecords(records), HasNext: hasNext}, nil
}

func fromRecords(records []noteRecord) []Note {
	result := make([]Note, 0, len(records))
	for _, record := range records {
		result = append(result, fromRecord(record))
	}
	return result
}

// Watch runs query, then re-runs it after every event on feed until ctx is cancelled,
// pushing each result. The feed subscription is taken before the first query so no
// write between them is missed. A failed query ends the stream.
func Watch[T any](ctx context.Context, feed *ChangeFeed, query func(context.Context) (T, error)) <-chan Update[T] {
	return WatchFiltered(ctx, feed, nil, query)
}

// WatchFiltered is Watch that only re-runs query for events relevant reports true for.
// A nil relevant accepts every event.
func WatchFiltered[T any](ctx context.Context, feed *ChangeFeed, relevant func(ChangeEvent) bool, query func(context.Context) (T, error)) <-chan Update[T] {
	out := make(chan Update[T], 1)
	events, cleanup := feed.Subscribe(ctx)
	go func() {
		defer close(out)
		defer cleanup()
		for {
			value, err := query(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- Update[T]{Value: value, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
			if !awaitRelevant(ctx, events, relevant) {
				return
			}
		}
	}()
	return out
}

func awaitRelevant(ctx context.Context, events <-chan ChangeEvent, relevant func(ChangeEvent) bool) bool {
	for {
		select {
		case event := <-events:
			if relevant == nil || relevant(event) {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}
