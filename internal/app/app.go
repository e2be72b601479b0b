// Package app assembles a workspace from configuration: the model, the
// transaction log, the full-text index, the trigger pipeline, the
// notification triggers and the email delivery worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/txcore/internal/config"
	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/fs"
	"github.com/calvinalkan/txcore/pkg/fulltext"
	"github.com/calvinalkan/txcore/pkg/fulltext/sqlitefts"
	"github.com/calvinalkan/txcore/pkg/modelfile"
	"github.com/calvinalkan/txcore/pkg/notify"
	"github.com/calvinalkan/txcore/pkg/pipeline"
	"github.com/calvinalkan/txcore/pkg/storage"
	"github.com/calvinalkan/txcore/pkg/storage/badgerlog"
	"github.com/calvinalkan/txcore/pkg/storage/filelog"
	"github.com/calvinalkan/txcore/pkg/storage/sqlitelog"
)

// ErrUnknownAccount is returned when the configured account does not exist.
var ErrUnknownAccount = errors.New("unknown account")

// badgerDir is the BadgerDB directory inside the data directory.
const badgerDir = "badger"

// App is an open workspace.
type App struct {
	Config   config.Config
	Engine   *pipeline.Engine
	Store    *storage.LogStore
	Ops      *core.TxOperations
	Logger   zerolog.Logger
	Registry *prometheus.Registry

	notifier  *notify.Notifier
	stop      context.CancelFunc
	workers   *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// Option configures [Open].
type Option func(*options)

type options struct {
	fsys      fs.FS
	logger    zerolog.Logger
	sender    notify.Sender
	hasSender bool
	notify    []notify.Option
}

// WithFS sets the filesystem used for model files and the file log.
func WithFS(fsys fs.FS) Option {
	return func(o *options) { o.fsys = fsys }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSender overrides the email sender chosen by the configuration. A nil
// sender leaves emails queued.
func WithSender(s notify.Sender) Option {
	return func(o *options) {
		o.sender = s
		o.hasSender = true
	}
}

// WithNotifyOptions passes extra options (presenters, type matches) to the
// notifier.
func WithNotifyOptions(opts ...notify.Option) Option {
	return func(o *options) { o.notify = append(o.notify, opts...) }
}

// NewLogger returns a JSON logger writing to w at level.
func NewLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	return zerolog.New(zerolog.SyncWriter(w)).Level(lvl).With().Timestamp().Logger(), nil
}

// Model declares the base and notification models and then every model file
// of cfg, in order.
func Model(cfg config.Config, fsys fs.FS) (*core.Builder, error) {
	b := core.NewBuilder()
	core.BaseModel(b)
	notify.Model(b)

	err := modelfile.LoadInto(b, fsys, cfg.ModelFilesAbs...)
	if err != nil {
		return nil, err
	}

	return b, nil
}

// Open opens the workspace described by cfg.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{fsys: fs.NewReal(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	b, err := Model(cfg, o.fsys)
	if err != nil {
		return nil, err
	}

	h, err := b.Hierarchy()
	if err != nil {
		return nil, err
	}

	if cfg.Storage != config.StorageMemory {
		err = o.fsys.MkdirAll(cfg.DataDirAbs, 0o750)
		if err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	log, err := openLog(ctx, cfg, o)
	if err != nil {
		return nil, err
	}

	store := storage.NewLogStore(core.NewModelDb(h), log, storage.WithLogger(o.logger))

	err = store.Init(ctx, b.Txes())
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	adapter, rebuild, err := openFullText(ctx, cfg, o.fsys)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	index := fulltext.New(h, adapter, store, fulltext.WithLogger(o.logger))

	if rebuild {
		n, rebuildErr := index.Rebuild(ctx)
		if rebuildErr != nil {
			return nil, errors.Join(rebuildErr, store.Close(), adapter.Close())
		}

		o.logger.Info().Int("docs", n).Msg("full-text index rebuilt")
	}

	reg := prometheus.NewRegistry()

	sender := o.sender
	if !o.hasSender && cfg.Email == config.EmailLog {
		sender = notify.LogSender{Logger: o.logger}
	}

	notifyOpts := []notify.Option{notify.WithRegisterer(reg), notify.WithLogger(o.logger)}
	if sender != nil {
		notifyOpts = append(notifyOpts, notify.WithSender(sender))
	}

	notifier := notify.New(append(notifyOpts, o.notify...)...)

	engine := pipeline.New(store,
		pipeline.WithIndex(index),
		pipeline.WithTriggers(notifier.Triggers()...),
		pipeline.WithMaxDepth(cfg.MaxTriggerDepth),
		pipeline.WithLogger(o.logger),
		pipeline.WithRegisterer(reg),
	)

	account := core.AccountSystem
	if cfg.Account != "" {
		account = core.Ref(cfg.Account)

		acc, findErr := engine.FindOne(ctx, core.ClassAccount, core.Query{core.FieldID: cfg.Account})
		if findErr != nil || acc == nil {
			return nil, errors.Join(fmt.Errorf("%w: %s", ErrUnknownAccount, cfg.Account), findErr, engine.Close())
		}
	}

	// The worker outlives the ctx of Open and stops in Close.
	workerCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	workers, workerCtx := errgroup.WithContext(workerCtx)

	workers.Go(func() error { return notifier.Run(workerCtx, engine) })

	return &App{
		Config:   cfg,
		Engine:   engine,
		Store:    store,
		Ops:      core.NewTxOperations(engine, account),
		Logger:   o.logger,
		Registry: reg,
		notifier: notifier,
		stop:     stop,
		workers:  workers,
	}, nil
}

// FlushEmail delivers every queued email now and returns how many were
// recorded as sent or failed.
func (a *App) FlushEmail(ctx context.Context) (int, error) {
	return a.notifier.DeliverPending(ctx, a.Engine)
}

// Close stops the delivery worker, delivers what is still queued and closes
// the engine, its log and its index. Later calls return the first result.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.stop()

		err := a.workers.Wait()

		_, flushErr := a.FlushEmail(context.Background())

		a.closeErr = errors.Join(err, flushErr, a.Engine.Close())
	})

	return a.closeErr
}

func openLog(ctx context.Context, cfg config.Config, o options) (storage.Log, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return storage.NewMemoryLog(), nil
	case config.StorageFile:
		return filelog.Open(ctx, cfg.DataDirAbs, filelog.Options{FS: o.fsys, Logger: &o.logger})
	case config.StorageSQLite:
		return sqlitelog.Open(ctx, cfg.DataDirAbs)
	case config.StorageBadger:
		return badgerlog.Open(badgerlog.Config{Path: filepath.Join(cfg.DataDirAbs, badgerDir), Logger: &o.logger})
	}

	return nil, fmt.Errorf("%w: storage=%s", config.ErrConfigInvalid, cfg.Storage)
}

// openFullText opens the configured adapter. rebuild reports whether the
// index must be rebuilt from the store: always for the in-memory adapter,
// and for SQLite when its schema was recreated or it is new.
func openFullText(ctx context.Context, cfg config.Config, fsys fs.FS) (fulltext.Adapter, bool, error) {
	if cfg.FullText == config.FullTextMemory || cfg.Storage == config.StorageMemory {
		return fulltext.NewMemory(), true, nil
	}

	path := filepath.Join(cfg.DataDirAbs, sqlitefts.FileName)

	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, false, fmt.Errorf("stat full-text index: %w", err)
	}

	adapter, err := sqlitefts.OpenPath(ctx, path)
	if err != nil {
		return nil, false, err
	}

	return adapter, !exists || adapter.Recreated(), nil
}
