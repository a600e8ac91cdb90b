// Package services assembles the server's long-lived components from the
// environment configuration.
package services

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/quatton/qci/pkg/db"
	"github.com/quatton/qci/pkg/kv"
	"github.com/quatton/qci/pkg/qapi/config"
	"github.com/quatton/qci/pkg/qapi/services/iam"
	"github.com/quatton/qci/pkg/qart"
	"github.com/quatton/qci/pkg/qauth"
	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qlog"
	"github.com/quatton/qci/pkg/qpipelines"
	"github.com/quatton/qci/pkg/qrunner"
)

type Services struct {
	IAM        *iam.IAMService
	Runner     *qrunner.Runner
	Dispatcher *qevents.Dispatcher
	Scheduler  *qevents.Scheduler
	Pipelines  *qpipelines.Registrar
	Tracker    kv.Store
	Artifacts  qart.Store

	closers []io.Closer
}

// NewServices connects the configured backends and registers the pipeline
// handlers. The scheduler is not started.
func NewServices(ctx context.Context, cfg *config.EnvConfig, logger *qlog.Logger) (_ *Services, err error) {
	svcs := &Services{}
	defer func() {
		if err != nil {
			svcs.closeAll()
		}
	}()

	signer, err := qauth.NewSigner(cfg.AuthSecret)
	if err != nil {
		return nil, err
	}
	svcs.IAM = iam.NewIAMService(signer, logger.With("component", "iam"))

	platform, err := newPlatform(cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := platform.(io.Closer); ok {
		svcs.closers = append(svcs.closers, c)
	}

	store, err := svcs.newRunStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.S3Enabled() {
		s3, err := qart.NewS3Store(cfg.S3Config())
		if err != nil {
			return nil, fmt.Errorf("failed to create artifact store: %w", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		svcs.Artifacts = s3
	}

	if cfg.ValkeyURL != "" {
		valkey, err := kv.NewValkeyStoreFromURL(cfg.ValkeyURL)
		if err != nil {
			return nil, err
		}
		svcs.Tracker = valkey
	} else {
		svcs.Tracker = kv.NewMemoryStore()
	}
	svcs.closers = append(svcs.closers, svcs.Tracker)

	runnerOpts := []qrunner.Option{
		qrunner.WithDataDir(cfg.DataDir),
		qrunner.WithStore(store),
		qrunner.WithLogger(logger.With("component", "runner")),
		qrunner.WithDefaultTimeout(cfg.DefaultTimeout),
	}
	if svcs.Artifacts != nil {
		runnerOpts = append(runnerOpts, qrunner.WithArtifactStore(svcs.Artifacts))
	}
	svcs.Runner = qrunner.NewRunner(platform, runnerOpts...)

	set, err := qpipelines.Load(cfg.PipelineFiles...)
	if err != nil {
		return nil, err
	}

	svcs.Dispatcher = qevents.NewDispatcher(
		qevents.WithDedup(svcs.Tracker, cfg.DedupTTL),
		qevents.WithLogger(logger.With("component", "dispatcher")),
	)
	svcs.Scheduler = qevents.NewScheduler(svcs.Dispatcher, logger.With("component", "scheduler"))

	svcs.Pipelines, err = qpipelines.Register(svcs.Dispatcher, svcs.Runner, set,
		qpipelines.WithTracker(svcs.Tracker),
		qpipelines.WithScheduler(svcs.Scheduler),
		qpipelines.WithLogger(logger.With("component", "pipelines")),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("services ready",
		"platform", platform.Name(),
		"pipelines", set.Len(),
		"event_types", len(svcs.Dispatcher.Types()),
		"schedules", svcs.Scheduler.Len(),
	)
	return svcs, nil
}

func newPlatform(cfg *config.EnvConfig) (qrunner.Platform, error) {
	switch cfg.Platform {
	case "docker":
		return qrunner.NewDockerPlatform(qrunner.DefaultContainerConfig())
	case "k8s":
		return qrunner.NewK8sPlatform(cfg.Kubeconfig, cfg.K8sNamespace, qrunner.DefaultContainerConfig())
	default:
		return qrunner.NewLocalPlatform(qrunner.WithWorkDir(filepath.Join(cfg.DataDir, "workspaces"))), nil
	}
}

func (s *Services) newRunStore(ctx context.Context, cfg *config.EnvConfig, logger *qlog.Logger) (qrunner.RunStore, error) {
	if cfg.RunStore != "postgres" {
		return qrunner.NewFileStore(filepath.Join(cfg.DataDir, "runs")), nil
	}

	database, err := db.New(ctx, cfg.DBConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.closers = append(s.closers, closerFunc(func() error { return database.Close() }))

	if err := db.Migrate(ctx, database, logger.With("component", "migrate")); err != nil {
		return nil, err
	}
	return db.NewRunStore(database), nil
}

// Close stops the scheduler, drains in-flight events, then releases the
// backends.
func (s *Services) Close(ctx context.Context) error {
	var result *multierror.Error
	if s.Scheduler != nil {
		if err := s.Scheduler.Stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.Dispatcher != nil {
		if err := s.Dispatcher.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.closeAll(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *Services) closeAll() error {
	var result *multierror.Error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.closers = nil
	return result.ErrorOrNil()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
