package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsEnforcesOneHeadAndDraftPerBranch(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(append(revisions.Models(), &migrationRecord{})...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	existing := []revisions.Revision{
		{ID: "head-1", BranchID: "branch-1", IsHead: true},
		{ID: "draft-1", BranchID: "branch-1", IsDraft: true},
		{ID: "old-1", BranchID: "branch-1"},
		{ID: "head-2", BranchID: "branch-2", IsHead: true},
		{ID: "draft-2", BranchID: "branch-2", IsDraft: true},
	}
	for _, revision := range existing {
		if err := database.Create(&revision).Error; err != nil {
			testContext.Fatalf("failed to insert revision %s: %v", revision.ID, err)
		}
	}

	duplicates := []revisions.Revision{
		{ID: "head-1b", BranchID: "branch-1", IsHead: true},
		{ID: "draft-1b", BranchID: "branch-1", IsDraft: true},
	}
	for _, revision := range duplicates {
		if err := database.Create(&revision).Error; err == nil {
			testContext.Fatalf("expected a second %s on branch-1 to be rejected", revision.ID)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationUniqueBranchHeadAndDraft).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected reapplying migrations to be a no-op: %v", err)
	}
}
