package jitstress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/jit-stress/cache"
	"github.com/ethereum-optimism/infra/jit-stress/jitorder"
	"github.com/ethereum-optimism/infra/jit-stress/metrics"
	"github.com/ethereum-optimism/infra/jit-stress/registry"
	"github.com/ethereum-optimism/infra/jit-stress/reporting"
	"github.com/ethereum-optimism/infra/jit-stress/runner"
	"github.com/ethereum-optimism/infra/jit-stress/service"
	"github.com/ethereum-optimism/infra/jit-stress/sink"
	"github.com/ethereum-optimism/infra/jit-stress/types"
)

var _ cliapp.Lifecycle = &Stress{}

// Stress runs one stress pass over the selected tests and implements
// cliapp.Lifecycle.
type Stress struct {
	config  *Config
	version string
	service *service.Service
	result  *runner.RunResult

	running atomic.Bool

	shutdownCallback func(error)
}

func New(config *Config, version string, shutdownCallback func(error)) (*Stress, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("logger is required")
	}
	if config.Out == nil {
		config.Out = io.Discard
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	s := &Stress{
		config:           config,
		version:          version,
		shutdownCallback: shutdownCallback,
	}
	if config.Service != nil {
		s.service = service.New(config.Log, *config.Service)
	}
	return s, nil
}

// Start runs the tests once. Failed tests are reported as a
// TestFailureError, everything that prevents a trustworthy result as a
// RuntimeError.
func (s *Stress) Start(ctx context.Context) error {
	s.running.Store(true)
	if s.service != nil {
		if err := s.service.Start(ctx); err != nil {
			return NewRuntimeError(err)
		}
	}

	s.config.Log.Info("Starting jit-stress", "version", s.version)
	result, err := s.Run(ctx)
	s.result = result
	if err != nil {
		return err
	}
	if result.HasFailures() {
		s.config.Log.Warn("Run completed with failures, returning exit code 1")
		return NewTestFailureError(result.Summary)
	}

	go s.shutdownCallback(nil)
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (s *Stress) Stop(ctx context.Context) error {
	if !s.running.Swap(false) {
		return nil
	}
	s.config.Log.Info("Stopping jit-stress")
	if s.service != nil {
		return s.service.Shutdown(ctx)
	}
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (s *Stress) Stopped() bool {
	return !s.running.Load()
}

// Result returns the result of the last run, nil before Start.
func (s *Stress) Result() *runner.RunResult {
	return s.result
}

// Run executes or replays the tests, prints the summary, then writes the
// cache, the stability report and the upload. The summary is printed even
// when the run is cut short.
func (s *Stress) Run(ctx context.Context) (*runner.RunResult, error) {
	result, err := s.execute(ctx)
	if result == nil {
		return nil, NewRuntimeError(err)
	}

	fmt.Fprint(s.config.Out, reporting.FormatResultTable(result, s.config.ShowAllTests))
	fmt.Fprintln(s.config.Out, result.String())

	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	if err := s.report(result); err != nil {
		errs = append(errs, err)
	}
	if err := s.upload(ctx, result); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return result, NewRuntimeError(errors.Join(errs...))
	}
	return result, nil
}

func (s *Stress) execute(ctx context.Context) (*runner.RunResult, error) {
	if s.config.ReuseCache && cache.Exists(s.config.CachePath) {
		records, err := cache.Load(s.config.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to replay cache: %w", err)
		}
		result := runner.AggregateRecords(records)
		result.RunID = runner.NewRunID()
		s.config.Log.Info("Replayed cached results", "path", s.config.CachePath, "records", len(records), "run_id", result.RunID)
		return result, nil
	}

	reg, err := registry.NewRegistry(registry.Config{
		Log:            s.config.Log,
		ManifestPath:   s.config.Manifest,
		Roots:          s.config.TestDirs,
		Launcher:       s.config.Launcher,
		Excludes:       s.config.Excludes,
		Filter:         s.config.Filter,
		EnvFile:        s.config.EnvFile,
		Overlay:        s.overlay(),
		DefaultTimeout: s.config.DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	execCfg := runner.ExecutorConfig{
		Log:            s.config.Log,
		BaseOverlay:    reg.BaseOverlay(),
		DefaultTimeout: s.config.DefaultTimeout,
		GracePeriod:    s.config.GracePeriod,
		OutputLimit:    s.config.OutputLimit,
		SpawnRate:      s.config.SpawnRate,
	}
	if s.config.JitOrder {
		execCfg.NewExtractor = func() runner.LineExtractor { return jitorder.NewExtractor() }
	}
	executor, err := runner.NewExecutor(execCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	engine, err := runner.NewEngine(runner.Config{
		Log:      s.config.Log,
		Executor: executor,
		Policy: runner.NewPolicy(runner.PolicyConfig{
			Configurations:       reg.Configurations(),
			MaxAttempts:          s.config.MaxAttempts,
			LongRunningThreshold: s.config.LongRunningThreshold,
		}),
		Workers:  s.config.Concurrency,
		Progress: runner.NewConsoleProgressIndicator(s.config.Log, s.config.Out, s.config.ShowProgress, s.config.ProgressInterval),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	tests := reg.Tests()
	result, runErr := engine.Run(ctx, tests)
	if result == nil {
		return nil, runErr
	}

	if s.config.CachePath != "" {
		if err := cache.Save(s.config.CachePath, result.Records()); err != nil {
			s.config.Log.Error("Failed to save cache", "path", s.config.CachePath, "err", err)
			metrics.RecordErrorDetails("cache save", err)
			runErr = errors.Join(runErr, err)
		} else {
			s.config.Log.Info("Saved results cache", "path", s.config.CachePath)
		}
	}
	return result, runErr
}

// overlay holds the environment derived from flags.
func (s *Stress) overlay() types.Overlay {
	overlay := types.Overlay{}
	if s.config.CoreRoot != "" {
		overlay[types.EnvCoreRoot] = s.config.CoreRoot
	}
	if s.config.JitOrder {
		overlay[types.EnvJitOrder] = "1"
	}
	return overlay
}

func (s *Stress) report(result *runner.RunResult) error {
	if s.config.ReportDir == "" {
		return nil
	}
	report := reporting.BuildStabilityReport(result.RunID, result.Records())
	files, err := reporting.SaveStabilityReport(report, s.config.ReportDir)
	for _, f := range files {
		s.config.Log.Info("Saved stability report", "file", f)
	}
	fmt.Fprint(s.config.Out, reporting.FormatStabilityTable(report, s.config.ShowAllTests))
	if err != nil {
		return fmt.Errorf("failed to save stability report: %w", err)
	}
	return nil
}

func (s *Stress) upload(ctx context.Context, result *runner.RunResult) error {
	if s.config.SinkURL == "" {
		return nil
	}
	dest, err := sink.Open(ctx, s.config.SinkURL, s.config.Log)
	if err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}
	defer func() {
		if err := dest.Close(); err != nil {
			s.config.Log.Warn("Failed to close sink", "err", err)
		}
	}()

	info := sink.NewRunInfo(ctx, result.RunID, s.config.RepoDir)
	info.StartedAt = time.Now().Add(-result.Duration).UTC()
	info.Duration = result.Duration
	info.Tests = result.Summary.Tests
	info.Passed = result.Summary.Passed
	info.Failed = result.Summary.Failed
	info.Flaky = result.Summary.Flaky
	info.Skipped = result.Summary.Skipped

	var opts []sink.Option
	if s.config.BatchSize > 0 {
		opts = append(opts, sink.WithBatchSize(s.config.BatchSize))
	}
	uploader := sink.NewUploader(dest, s.config.Log, opts...)
	retained := result.Retained()
	if err := uploader.Upload(ctx, info, retained); err != nil {
		metrics.RecordErrorDetails("upload", err)
		return fmt.Errorf("failed to upload results: %w", err)
	}
	s.config.Log.Info("Uploaded results", "run_id", result.RunID, "records", len(retained))
	return nil
}
