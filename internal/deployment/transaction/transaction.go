package transaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/logger"
)

const (
	// backupFolderPrefix names the per-transaction folder inside the backup root.
	backupFolderPrefix = "pkgdeploy-tx-"

	// folderMode is used for every folder the transaction creates.
	folderMode os.FileMode = 0o755
)

var errClosed = errors.New("transaction is closed")

// fileRecord pairs a deleted file with its backup copy.
type fileRecord struct {
	original string
	backup   string
	// installed marks files that this transaction put in place itself.
	installed bool
}

// compensation undoes a change made outside the filesystem.
type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// Summary counts the journaled changes of a transaction.
type Summary struct {
	InstalledFiles int
	DeletedFiles   int
	CreatedFolders int
}

// Transaction journals the disk changes of one deployment run.
type Transaction struct {
	fs           afero.Fs
	backupRoot   string
	backupFolder string
	protected    map[string]struct{}
	closed       bool

	installedFiles []string
	deletedFiles   []fileRecord
	createdFolders []string
	compensations  []compensation

	deletedPackages   []deployment.PackageID
	installedPackages []deployment.ProductPackageInfo
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithFs replaces the OS filesystem, mainly for tests.
func WithFs(fs afero.Fs) Option {
	return func(t *Transaction) {
		if fs != nil {
			t.fs = fs
		}
	}
}

// WithBackupRoot sets the folder that will hold the transaction's backup folder.
func WithBackupRoot(root string) Option {
	return func(t *Transaction) {
		t.backupRoot = root
	}
}

// WithProtectedFolders lists folders that are never removed when they become empty.
func WithProtectedFolders(paths ...string) Option {
	return func(t *Transaction) {
		for _, p := range paths {
			if p != "" {
				t.protected[filepath.Clean(p)] = struct{}{}
			}
		}
	}
}

// New creates a transaction and its private backup folder.
func New(ctx context.Context, opts ...Option) (*Transaction, error) {
	t := &Transaction{
		fs:        afero.NewOsFs(),
		protected: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.backupRoot == "" {
		t.backupRoot = os.TempDir()
	}

	if err := t.fs.MkdirAll(t.backupRoot, folderMode); err != nil {
		return nil, deployment.NewError(deployment.KindIO, "create backup root", t.backupRoot, err)
	}

	folder, err := afero.TempDir(t.fs, t.backupRoot, backupFolderPrefix)
	if err != nil {
		return nil, deployment.NewError(deployment.KindIO, "create backup folder", t.backupRoot, err)
	}

	t.backupFolder = folder
	logger.DebugKV(ctx, "Transaction opened", "backup_folder", folder)

	return t, nil
}

// BackupFolder returns the private folder holding backups of deleted files.
func (t *Transaction) BackupFolder() string {
	return t.backupFolder
}

// CreateFolder creates the folder and any missing parents.
// Only folders that did not exist before are journaled.
func (t *Transaction) CreateFolder(ctx context.Context, path string) error {
	if t.closed {
		return errClosed
	}

	missing, err := t.missingFolders(path)
	if err != nil {
		return deployment.NewError(deployment.KindIO, "create folder", path, err)
	}

	if len(missing) == 0 {
		return nil
	}

	logger.DebugKV(ctx, "Creating folder", "path", path)
	mkdirErr := t.fs.MkdirAll(path, folderMode)

	// Journal ancestors first so rollback can walk the list backwards.
	for i := len(missing) - 1; i >= 0; i-- {
		if exists, _ := afero.DirExists(t.fs, missing[i]); exists {
			t.createdFolders = append(t.createdFolders, missing[i])
		}
	}

	if mkdirErr != nil {
		return deployment.NewError(deployment.KindIO, "create folder", path, mkdirErr)
	}

	return nil
}

// missingFolders returns the folders of path that do not exist, deepest first.
func (t *Transaction) missingFolders(path string) ([]string, error) {
	var missing []string

	for dir := filepath.Clean(path); ; {
		exists, err := afero.DirExists(t.fs, dir)
		if err != nil {
			return nil, err
		}

		if exists {
			break
		}

		missing = append(missing, dir)

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return missing, nil
}

// DeleteFile backs the file up, deletes it and prunes its parent folder if empty.
// If the backup cannot be made the original is left untouched and nothing is journaled.
func (t *Transaction) DeleteFile(ctx context.Context, path string) error {
	if t.closed {
		return errClosed
	}

	path = filepath.Clean(path)

	info, err := t.fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return deployment.NewError(deployment.KindMissingSource, "delete", path, err)
		}

		return deployment.NewError(deployment.KindIO, "delete", path, err)
	}

	if info.IsDir() {
		return deployment.NewError(deployment.KindIO, "delete", path, fmt.Errorf("%s is a folder", path))
	}

	backup := filepath.Join(t.backupFolder, uuid.NewString()+"-"+filepath.Base(path))
	if err = t.copyFile(path, backup, false); err != nil {
		_ = t.fs.Remove(backup)

		return deployment.NewError(deployment.KindIO, "back up", path, err)
	}

	logger.DebugKV(ctx, "Deleting file", "path", path, "backup", backup)

	if err = t.fs.Remove(path); err != nil {
		_ = t.fs.Remove(backup)

		return deployment.NewError(deployment.KindIO, "delete", path, err)
	}

	t.deletedFiles = append(t.deletedFiles, fileRecord{
		original:  path,
		backup:    backup,
		installed: t.isInstalled(path),
	})

	folder := filepath.Dir(path)
	if t.isProtected(folder) {
		return nil
	}

	empty, err := afero.IsEmpty(t.fs, folder)
	if err != nil || !empty {
		return nil
	}

	logger.DebugKV(ctx, "Removing empty folder", "path", folder)

	if err = t.fs.Remove(folder); err != nil {
		return deployment.NewError(deployment.KindIO, "remove folder", folder, err)
	}

	return nil
}

// InstallFile copies the package file to its target, applying the conflict policy
// when the target already exists.
func (t *Transaction) InstallFile(ctx context.Context, file deployment.PackageFileDeploymentInfo) error {
	if t.closed {
		return errClosed
	}

	target := filepath.Clean(file.Target)

	logger.DebugKV(ctx, "Installing file", "source", file.Source, "target", target)

	exists, err := afero.Exists(t.fs, target)
	if err != nil {
		return deployment.NewError(deployment.KindIO, "install", target, err)
	}

	if exists {
		decision := deployment.ResolveConflict(file.Conflict)
		logger.DebugKV(ctx, "Conflict resolved", "target", target, "decision", decision.String())

		switch decision {
		case deployment.DecisionKeep:
			return nil
		case deployment.DecisionFail:
			return deployment.NewError(deployment.KindConflict, "install", target,
				fmt.Errorf("%s already exists", target))
		case deployment.DecisionOverwrite:
		}
	}

	if _, err = t.fs.Stat(file.Source); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return deployment.NewError(deployment.KindMissingSource, "install", file.Source, err)
		}

		return deployment.NewError(deployment.KindIO, "install", file.Source, err)
	}

	if exists {
		if err = t.DeleteFile(ctx, target); err != nil {
			return err
		}
	}

	if err = t.CreateFolder(ctx, filepath.Dir(target)); err != nil {
		return err
	}

	if err = t.copyFile(file.Source, target, false); err != nil {
		_ = t.fs.Remove(target)

		return deployment.NewError(deployment.KindIO, "install", target, err)
	}

	t.installedFiles = append(t.installedFiles, target)

	return nil
}

// TrackDeletedPackage records that the package was uninstalled by this run.
func (t *Transaction) TrackDeletedPackage(id deployment.PackageID) {
	t.deletedPackages = append(t.deletedPackages, id)
}

// TrackInstalledPackage records the package configuration and its product-relative files.
func (t *Transaction) TrackInstalledPackage(cfg deployment.PackageConfiguration, files []deployment.PackageFileInfo) {
	t.installedPackages = append(t.installedPackages, deployment.ProductPackageInfo{
		Configuration: cfg,
		Files:         append([]deployment.PackageFileInfo(nil), files...),
	})
}

// OnRollback registers a compensation for a change made outside the filesystem.
// Compensations run after the file changes are undone, newest first.
func (t *Transaction) OnRollback(name string, fn func(ctx context.Context) error) {
	t.compensations = append(t.compensations, compensation{name: name, fn: fn})
}

// DeletedPackages returns the packages uninstalled by this run.
func (t *Transaction) DeletedPackages() []deployment.PackageID {
	return append([]deployment.PackageID(nil), t.deletedPackages...)
}

// InstalledPackages returns the packages installed by this run.
func (t *Transaction) InstalledPackages() []deployment.ProductPackageInfo {
	result := make([]deployment.ProductPackageInfo, 0, len(t.installedPackages))
	for i := range t.installedPackages {
		result = append(result, *t.installedPackages[i].Clone())
	}

	return result
}

// Summary reports how many changes are currently journaled.
func (t *Transaction) Summary() Summary {
	return Summary{
		InstalledFiles: len(t.installedFiles),
		DeletedFiles:   len(t.deletedFiles),
		CreatedFolders: len(t.createdFolders),
	}
}

// Commit makes the changes permanent by forgetting the journal.
// It does not touch the disk.
func (t *Transaction) Commit(ctx context.Context) {
	logger.DebugKV(ctx, "Committing transaction",
		"installed_files", len(t.installedFiles),
		"deleted_files", len(t.deletedFiles),
		"created_folders", len(t.createdFolders))

	t.clear()
}

func (t *Transaction) clear() {
	t.installedFiles = nil
	t.deletedFiles = nil
	t.createdFolders = nil
	t.compensations = nil
	t.deletedPackages = nil
	t.installedPackages = nil
}

// Close undoes any uncommitted changes and removes the backup folder.
// It is safe to call more than once.
func (t *Transaction) Close(ctx context.Context) error {
	t.rollback(ctx)
	t.closed = true

	if t.backupFolder == "" {
		return nil
	}

	exists, err := afero.DirExists(t.fs, t.backupFolder)
	if err != nil || !exists {
		return nil
	}

	if err = t.fs.RemoveAll(t.backupFolder); err != nil {
		return deployment.NewError(deployment.KindIO, "remove backup folder", t.backupFolder, err)
	}

	logger.DebugKV(ctx, "Backup folder removed", "path", t.backupFolder)

	return nil
}

func (t *Transaction) isInstalled(path string) bool {
	for _, installed := range t.installedFiles {
		if installed == path {
			return true
		}
	}

	return false
}

func (t *Transaction) isProtected(folder string) bool {
	_, ok := t.protected[filepath.Clean(folder)]

	return ok
}

// copyFile copies src to dst keeping the permission bits of src.
// When overwrite is false an existing dst is an error.
func (t *Transaction) copyFile(src, dst string, overwrite bool) error {
	in, err := t.fs.Open(src)
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	out, err := t.fs.OpenFile(dst, flags, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	if err = out.Close(); err != nil {
		return err
	}

	return t.fs.Chmod(dst, info.Mode().Perm())
}
