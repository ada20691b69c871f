package cli

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/merge"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/vcs/gitrepo"
)

// runtime bundles the wired components every command needs.
type runtime struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   *store.Store
	Backend *gitrepo.Backend
	Policy  *merge.StaticPolicy
}

// openRuntime loads configuration, builds the logger, and opens the store.
func openRuntime(opts *RootOptions) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger, err := buildLogger(cfg.Log, opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	return &runtime{
		Config:  cfg,
		Logger:  logger,
		Store:   st,
		Backend: gitrepo.New(opts.ReposDir),
		Policy:  cfg.MergePolicy(),
	}, nil
}

func (r *runtime) Close() {
	_ = r.Logger.Sync()
	_ = r.Store.Close()
}

// post wires a post-merge orchestration with no external collaborators.
// The CLI has no notification or CI integrations attached; those steps
// are skipped by construction.
func (r *runtime) post() *merge.PostMergeService {
	return merge.NewPostMergeService(
		r.Store, r.Backend, r.Policy, merge.SystemClock{}, merge.Collaborators{}, r.Logger)
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

func buildLogger(cfg config.LogConfig, verbose bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
