package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type timestampRow struct {
	NoteID          string `gorm:"column:note_id"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms"`
}

func TestApplyMigrationsBackfillsTimestamps(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	models := append(notes.Models(), &migrationRecord{})
	if err := database.AutoMigrate(models...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	insert := "INSERT INTO notes (note_id, title, content, is_starred, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?, ?, ?)"
	rows := [][]any{
		{"missing-created", "a", "", false, 0, 1700000000000},
		{"missing-updated", "b", "", false, 1600000000000, 0},
		{"complete", "c", "", true, 1500000000000, 1550000000000},
	}
	for _, row := range rows {
		if err := database.Exec(insert, row...).Error; err != nil {
			testContext.Fatalf("failed to insert note: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	expected := map[string][2]int64{
		"missing-created": {1700000000000, 1700000000000},
		"missing-updated": {1600000000000, 1600000000000},
		"complete":        {1500000000000, 1550000000000},
	}
	var stored []timestampRow
	if err := database.Table(notes.NotesTable).Find(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload notes: %v", err)
	}
	if len(stored) != len(expected) {
		testContext.Fatalf("expected %d notes, got %d", len(expected), len(stored))
	}
	for _, row := range stored {
		want := expected[row.NoteID]
		if row.CreatedAtMillis != want[0] || row.UpdatedAtMillis != want[1] {
			testContext.Fatalf("note %s: got created=%d updated=%d", row.NoteID, row.CreatedAtMillis, row.UpdatedAtMillis)
		}
	}

	for _, name := range []string{migrationBackfillCreatedAt, migrationBackfillUpdatedAt} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set")
		}
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "once.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	testContext.Cleanup(func() { _ = Close(database) })

	if err := database.Exec("INSERT INTO notes (note_id, title, content, is_starred, created_at_ms, updated_at_ms) VALUES ('late', 'x', '', false, 0, 42)").Error; err != nil {
		testContext.Fatalf("failed to insert note: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}

	var row timestampRow
	if err := database.Table(notes.NotesTable).Where("note_id = ?", "late").Take(&row).Error; err != nil {
		testContext.Fatalf("failed to reload note: %v", err)
	}
	if row.CreatedAtMillis != 0 {
		testContext.Fatalf("expected applied migration to be skipped, got created=%d", row.CreatedAtMillis)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if count != 2 {
		testContext.Fatalf("expected 2 migration records, got %d", count)
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
