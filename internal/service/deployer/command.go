package deployer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/pkgdeploy/internal/config"
	"github.com/oshokin/pkgdeploy/internal/deployment/action"
	"github.com/oshokin/pkgdeploy/internal/deployment/transaction"
	"github.com/oshokin/pkgdeploy/internal/domain/deployment"
	"github.com/oshokin/pkgdeploy/internal/feed"
	"github.com/oshokin/pkgdeploy/internal/logger"
	"github.com/oshokin/pkgdeploy/internal/metrics"
	"github.com/oshokin/pkgdeploy/internal/repository/history"
	"github.com/oshokin/pkgdeploy/internal/repository/product"
	"github.com/oshokin/pkgdeploy/internal/service/process"
	"github.com/oshokin/pkgdeploy/internal/strategy"
)

var errFeedNotConfigured = errors.New("feed URL must be configured to download packages")

// Options are inputs accepted by the deployer entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// Install lists the requested packages as name@version.
	Install []string
	// Uninstall lists the names of packages to remove.
	Uninstall []string
	// DryRun prints the plan without changing anything.
	DryRun bool
	// Output receives the plan of a dry run. Defaults to stdout.
	Output io.Writer
	// LogLevel overrides the log level from the settings file.
	LogLevel string
}

// Result describes a finished run.
type Result struct {
	// RunID identifies the run in the history database, empty when history is off.
	RunID string
	// Steps is the executed plan.
	Steps []Step
	// Summary counts the committed changes.
	Summary transaction.Summary
	// Installed lists the packages installed by the run.
	Installed []deployment.PackageID
	// Deleted lists the packages removed by the run.
	Deleted []deployment.PackageID
}

// runner holds the collaborators of a single deployment run.
type runner struct {
	cfg      *config.Config
	products *product.FileRepository
	history  *history.Store
	metrics  *metrics.Metrics
	output   io.Writer
	started  time.Time
}

// Run plans and executes one deployment run. It is the public entry point for the CLI.
// Any failure rolls the product back to its state before the run.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "deployer")

	r, err := newRunner(opts)
	if err != nil {
		return nil, err
	}

	defer r.cleanup(ctx)

	result, err := r.run(ctx, opts)
	if err != nil {
		logger.ErrorKV(ctx, "Deployment failed", "error", err)

		return result, err
	}

	return result, nil
}

func newRunner(opts *Options) (*runner, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.LogLevel == "" && cfg.LogLevel != "" {
		lvl, _ := logger.ParseLogLevel(cfg.LogLevel)
		logger.SetLevel(lvl)
	}

	if cfg.ProductPath, err = filepath.Abs(cfg.ProductPath); err != nil {
		return nil, fmt.Errorf("resolve product path: %w", err)
	}

	r := &runner{
		cfg:      cfg,
		products: product.NewFileRepository(cfg.StateFile),
		output:   opts.Output,
		started:  time.Now(),
	}

	if r.output == nil {
		r.output = os.Stdout
	}

	if cfg.MetricsFile != "" {
		r.metrics = metrics.New()
	}

	return r, nil
}

func (r *runner) run(ctx context.Context, opts *Options) (*Result, error) {
	install := make([]deployment.PackageID, 0, len(opts.Install))

	for _, ref := range opts.Install {
		id, err := deployment.ParsePackageRef(ref)
		if err != nil {
			return nil, err
		}

		install = append(install, id)
	}

	installed, err := r.products.ListPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list installed packages: %w", err)
	}

	steps, err := Plan(installed, install, opts.Uninstall)
	if err != nil {
		return nil, err
	}

	result := &Result{Steps: steps}

	if opts.DryRun {
		return result, printPlan(r.output, steps)
	}

	if len(steps) == 0 {
		logger.Info(ctx, "Nothing to do, the requested packages are installed")

		return result, nil
	}

	if r.cfg.HistoryDB != "" {
		if result.RunID, err = r.startHistory(ctx, steps); err != nil {
			return result, err
		}

		ctx = logger.WithKV(ctx, "run_id", result.RunID)
	}

	err = r.deploy(ctx, installed, steps, result)
	r.finish(ctx, result, err)

	return result, err
}

func (r *runner) deploy(ctx context.Context, installed []*deployment.ProductPackageInfo,
	steps []Step, result *Result,
) error {
	actx, err := r.actionContext(ctx, steps)
	if err != nil {
		return err
	}

	if r.cfg.StopProcesses {
		if err = r.stopProcesses(ctx, installed, steps); err != nil {
			return err
		}
	}

	return r.execute(ctx, actx, steps, result)
}

// execute runs the actions inside one transaction. The deferred Close rolls back
// everything that was not committed and removes the backup folder on every path.
func (r *runner) execute(ctx context.Context, actx *action.Context, steps []Step, result *Result) error {
	if err := os.MkdirAll(r.cfg.ProductPath, 0o755); err != nil {
		return fmt.Errorf("create product folder: %w", err)
	}

	tx, err := transaction.New(ctx,
		transaction.WithBackupRoot(r.cfg.BackupRoot),
		transaction.WithProtectedFolders(r.cfg.ProductPath))
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := tx.Close(ctx); closeErr != nil {
			logger.WarnKV(ctx, "Unable to close transaction", "error", closeErr)
		}
	}()

	logger.InfoKV(ctx, "Starting deployment", "actions", len(steps), "product_path", r.cfg.ProductPath)

	if err = action.RunAll(ctx, tx, buildActions(actx, steps)); err != nil {
		return err
	}

	if err = r.saveRecords(ctx, tx); err != nil {
		return err
	}

	result.Summary = tx.Summary()
	result.Deleted = tx.DeletedPackages()

	for _, p := range tx.InstalledPackages() {
		result.Installed = append(result.Installed, p.ID())
	}

	tx.Commit(ctx)

	logger.InfoKV(ctx, "Deployment committed",
		"installed_files", result.Summary.InstalledFiles,
		"deleted_files", result.Summary.DeletedFiles)

	return nil
}

// saveRecords persists the records of the installed packages.
// Each save is journaled so a failure before commit removes the records again.
func (r *runner) saveRecords(ctx context.Context, tx *transaction.Transaction) error {
	now := time.Now()

	for _, p := range tx.InstalledPackages() {
		id := p.ID()

		tx.OnRollback("remove record of "+id.String(), func(ctx context.Context) error {
			_, err := r.products.RemovePackage(ctx, id)

			return err
		})

		p.InstalledAt = now
		if err := r.products.SavePackage(ctx, &p); err != nil {
			return fmt.Errorf("save record of %s: %w", id, err)
		}
	}

	return nil
}

func (r *runner) actionContext(ctx context.Context, steps []Step) (*action.Context, error) {
	actx := &action.Context{
		ProductPath: r.cfg.ProductPath,
		StagingPath: r.cfg.StagingPath,
		Strategy: &strategy.DirectoryStrategy{
			ProductPath:     r.cfg.ProductPath,
			DefaultConflict: r.cfg.Conflict(),
		},
		PackageConfigs:       strategy.ManifestConfigurationProvider{},
		Products:             r.products,
		Events:               r.events(),
		JournalConfiguration: r.cfg.JournalsConfiguration(),
	}

	if !needsFeed(steps) {
		return actx, nil
	}

	if r.cfg.FeedURL == "" {
		return nil, errFeedNotConfigured
	}

	if r.cfg.FeedHealthAddress != "" {
		if err := feed.CheckHealth(ctx, r.cfg.FeedHealthAddress, r.cfg.Timeout); err != nil {
			return nil, err
		}

		logger.InfoKV(ctx, "Package feed is serving", "address", r.cfg.FeedHealthAddress)
	}

	source, err := feed.NewHTTPSource(r.cfg.FeedURL,
		feed.WithTimeout(r.cfg.Timeout),
		feed.WithWorkers(r.cfg.DownloadWorkers))
	if err != nil {
		return nil, err
	}

	actx.Source = source

	return actx, nil
}

func (r *runner) events() *action.EventBus {
	bus := action.NewEventBus()
	bus.OnAfter(func(ctx context.Context, e action.Event) error {
		logger.InfoKV(ctx, "Package event",
			"event", e.Kind.String(), "package", e.Package.String(), "update", e.IsUpdate)

		switch e.Kind {
		case action.EventAfterDownload:
			r.metrics.RecordAction(action.KindDownload.String())
		case action.EventAfterInstall:
			r.metrics.RecordAction(action.KindInstall.String())
		case action.EventAfterUninstall:
			r.metrics.RecordAction(action.KindDelete.String())
		case action.EventBeforeInstall, action.EventBeforeUninstall:
		}

		return nil
	})

	return bus
}

// stopProcesses kills running executables of the packages about to be deleted or replaced.
func (r *runner) stopProcesses(ctx context.Context, installed []*deployment.ProductPackageInfo, steps []Step) error {
	deleting := make(map[deployment.PackageID]struct{})

	for _, s := range steps {
		if s.Kind == action.KindDelete {
			deleting[s.Package] = struct{}{}
		}
	}

	var files []string

	for _, p := range installed {
		if _, ok := deleting[p.ID()]; !ok {
			continue
		}

		for _, f := range p.Files {
			files = append(files, f.Resolve(r.cfg.ProductPath))
		}
	}

	killed, err := process.NewTerminator().Terminate(ctx, files)
	if err != nil {
		return fmt.Errorf("stop product processes: %w", err)
	}

	if killed > 0 {
		logger.InfoKV(ctx, "Stopped product processes", "count", killed)
	}

	return nil
}

func (r *runner) startHistory(ctx context.Context, steps []Step) (string, error) {
	store, err := history.Open(ctx, r.cfg.HistoryDB)
	if err != nil {
		return "", err
	}

	r.history = store

	records := make([]history.ActionRecord, 0, len(steps))
	for _, s := range steps {
		records = append(records, history.ActionRecord{
			Kind:     s.Kind.String(),
			Package:  s.Package.Name,
			Version:  s.Package.Version,
			IsUpdate: s.IsUpdate,
		})
	}

	return store.StartRun(ctx, records)
}

// finish records the outcome in history and metrics. Failures here are logged only.
func (r *runner) finish(ctx context.Context, result *Result, runErr error) {
	status := history.StatusCommitted
	if runErr != nil {
		status = history.StatusRolledBack
	}

	if r.history != nil && result.RunID != "" {
		err := r.history.FinishRun(ctx, result.RunID, status,
			result.Summary.InstalledFiles, result.Summary.DeletedFiles, runErr)
		if err != nil {
			logger.WarnKV(ctx, "Unable to record run", "error", err)
		}
	}

	if r.metrics == nil {
		return
	}

	r.metrics.RecordRun(string(status), time.Since(r.started), time.Now())
	r.metrics.RecordFiles(result.Summary.InstalledFiles, result.Summary.DeletedFiles)

	if packages, err := r.products.ListPackages(ctx); err == nil {
		r.metrics.SetPackagesInstalled(len(packages))
	}

	if err := r.metrics.WriteTextfile(r.cfg.MetricsFile); err != nil {
		logger.WarnKV(ctx, "Unable to write metrics", "error", err)
	}
}

// cleanup releases the resources held by the run.
func (r *runner) cleanup(ctx context.Context) {
	if r.history == nil {
		return
	}

	if err := r.history.Close(); err != nil {
		logger.WarnKV(ctx, "Unable to close history", "error", err)
	}
}
