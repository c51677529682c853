package transaction

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/oshokin/pkgdeploy/internal/logger"
)

// rollback restores the pre-run state from the journal.
// It never fails: every problem is logged and the next entry is processed.
func (t *Transaction) rollback(ctx context.Context) {
	if len(t.installedFiles) == 0 && len(t.deletedFiles) == 0 &&
		len(t.createdFolders) == 0 && len(t.compensations) == 0 {
		t.clear()

		return
	}

	logger.WarnKV(ctx, "Rolling back changes",
		"installed_files", len(t.installedFiles),
		"deleted_files", len(t.deletedFiles),
		"created_folders", len(t.createdFolders))

	t.removeInstalledFiles(ctx)
	t.restoreDeletedFiles(ctx)
	t.removeCreatedFolders(ctx)
	t.runCompensations(ctx)

	t.clear()
}

func (t *Transaction) removeInstalledFiles(ctx context.Context) {
	for _, file := range t.installedFiles {
		exists, err := afero.Exists(t.fs, file)
		if err != nil || !exists {
			continue
		}

		logger.DebugKV(ctx, "Rolling back file copy", "path", file)

		if err = t.fs.Remove(file); err != nil {
			logger.WarnKV(ctx, "Unable to remove installed file", "path", file, "error", err)
		}
	}
}

// restoreDeletedFiles walks the records newest first so that a file deleted
// twice ends up with its oldest backup, which is the pre-run content.
func (t *Transaction) restoreDeletedFiles(ctx context.Context) {
	for i := len(t.deletedFiles) - 1; i >= 0; i-- {
		record := t.deletedFiles[i]

		if record.installed {
			logger.DebugKV(ctx, "Skipping restore of a file installed by this run", "path", record.original)
			continue
		}

		logger.DebugKV(ctx, "Rolling back file deletion", "path", record.original)

		exists, err := afero.Exists(t.fs, record.backup)
		if err != nil || !exists {
			logger.WarnKV(ctx, "Backup file not found", "path", record.original, "backup", record.backup)
			continue
		}

		folder := filepath.Dir(record.original)
		if err = t.fs.MkdirAll(folder, folderMode); err != nil {
			logger.WarnKV(ctx, "Unable to recreate folder", "path", folder, "error", err)
			continue
		}

		if err = t.copyFile(record.backup, record.original, true); err != nil {
			logger.WarnKV(ctx, "Unable to restore file", "path", record.original, "error", err)
		}
	}
}

// removeCreatedFolders walks deepest folders first so nested ones can go too.
func (t *Transaction) removeCreatedFolders(ctx context.Context) {
	for i := len(t.createdFolders) - 1; i >= 0; i-- {
		folder := t.createdFolders[i]

		empty, err := afero.IsEmpty(t.fs, folder)
		if err != nil || !empty {
			continue
		}

		logger.DebugKV(ctx, "Rolling back folder creation", "path", folder)

		if err = t.fs.Remove(folder); err != nil {
			logger.WarnKV(ctx, "Unable to remove created folder", "path", folder, "error", err)
		}
	}
}

func (t *Transaction) runCompensations(ctx context.Context) {
	for i := len(t.compensations) - 1; i >= 0; i-- {
		c := t.compensations[i]

		logger.DebugKV(ctx, "Running rollback compensation", "name", c.name)

		if err := c.fn(ctx); err != nil {
			logger.WarnKV(ctx, "Rollback compensation failed", "name", c.name, "error", err)
		}
	}
}
