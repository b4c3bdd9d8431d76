package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

var _ Executor = (*processExecutor)(nil)

// ErrResourceExhausted is returned when the host cannot spawn processes at
// all. It is the only executor error that aborts the whole run.
var ErrResourceExhausted = errors.New("cannot spawn test process")

// Executor runs a single attempt of a test and reports it as a RunRecord.
type Executor interface {
	// Run launches the test with its private environment and blocks until it
	// exits or times out. A process that cannot be launched is reported as a
	// failed record, not as an error.
	Run(ctx context.Context, req RunRequest) (types.RunRecord, error)
}

// RunRequest describes one attempt.
type RunRequest struct {
	Unit    types.TestUnit
	Config  string
	Attempt int
	Overlay types.Overlay
}

// ExecutorConfig configures NewExecutor.
type ExecutorConfig struct {
	Log log.Logger
	// BaseEnv is the inherited environment. When nil, os.Environ() is
	// snapshotted once at construction.
	BaseEnv []string
	// BaseOverlay is applied to every run before the run's own overlay.
	BaseOverlay types.Overlay
	// DefaultTimeout applies to units that do not declare their own.
	DefaultTimeout time.Duration
	// GracePeriod is the delay between SIGTERM and SIGKILL on timeout.
	GracePeriod time.Duration
	// OutputLimit caps the stdout and stderr kept per record.
	OutputLimit int
	// Markers are sentinel strings recorded when seen in stdout.
	Markers []string
	// NewExtractor, when set, builds a fresh extractor for every run.
	NewExtractor func() LineExtractor
	// SpawnRate limits process launches per second. Zero is unlimited.
	SpawnRate float64
}

// processExecutor implements Executor with os/exec
type processExecutor struct {
	log          log.Logger
	baseEnv      []string
	baseOverlay  types.Overlay
	timeout      time.Duration
	gracePeriod  time.Duration
	outputLimit  int
	markers      []string
	newExtractor func() LineExtractor
	spawnLimiter *rate.Limiter
}

// NewExecutor creates a new process executor
func NewExecutor(cfg ExecutorConfig) (Executor, error) {
	if cfg.DefaultTimeout < 0 {
		return nil, fmt.Errorf("default timeout cannot be negative")
	}
	if cfg.GracePeriod < 0 {
		return nil, fmt.Errorf("grace period cannot be negative")
	}
	if cfg.SpawnRate < 0 {
		return nil, fmt.Errorf("spawn rate cannot be negative")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}

	baseEnv := cfg.BaseEnv
	if baseEnv == nil {
		baseEnv = os.Environ()
	}
	snapshot := make([]string, len(baseEnv))
	copy(snapshot, baseEnv)

	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = DefaultTestTimeout
	}
	grace := cfg.GracePeriod
	if grace == 0 {
		grace = DefaultGracePeriod
	}
	limit := cfg.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	markers := cfg.Markers
	if markers == nil {
		markers = []string{types.SkipMarker}
	}

	var limiter *rate.Limiter
	if cfg.SpawnRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SpawnRate), max(1, int(cfg.SpawnRate)))
	}

	return &processExecutor{
		log:          cfg.Log.New("component", "executor"),
		baseEnv:      snapshot,
		baseOverlay:  cfg.BaseOverlay.Clone(),
		timeout:      timeout,
		gracePeriod:  grace,
		outputLimit:  limit,
		markers:      markers,
		newExtractor: cfg.NewExtractor,
		spawnLimiter: limiter,
	}, nil
}

func (e *processExecutor) Run(ctx context.Context, req RunRequest) (types.RunRecord, error) {
	if ctx == nil {
		return types.RunRecord{}, fmt.Errorf("context cannot be nil")
	}
	if len(req.Unit.Command) == 0 {
		return types.RunRecord{}, fmt.Errorf("test %q has no command", req.Unit.Name)
	}

	timeout := req.Unit.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	overlay := e.baseOverlay.Merge(req.Overlay)

	record := types.RunRecord{
		ID:      uuid.New().String(),
		Test:    req.Unit.Name,
		Command: req.Unit.CommandLine(),
		Config:  req.Config,
		Attempt: req.Attempt,
		Overlay: overlay,
	}

	if e.spawnLimiter != nil {
		if err := e.spawnLimiter.Wait(ctx); err != nil {
			record.ExitStatus = -1
			return record, fmt.Errorf("run of %s interrupted: %w", req.Unit.Name, err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, req.Unit.Command[0], req.Unit.Command[1:]...)
	cmd.Dir = req.Unit.Dir
	cmd.Env = overlay.Apply(e.baseEnv)
	cmd.WaitDelay = e.gracePeriod
	configureProcessGroup(cmd)

	var extractor LineExtractor
	if e.newExtractor != nil {
		extractor = e.newExtractor()
	}
	stdout := newOutputCapture(e.outputLimit, e.markers, extractor)
	stderr := newCappedBuffer(e.outputLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.log.Debug("Running test", "test", req.Unit.Name, "config", req.Config, "attempt", req.Attempt, "timeout", timeout)

	record.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		record.Duration = time.Since(record.StartedAt)
		if isResourceExhausted(err) {
			return record, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
		}
		e.log.Warn("Failed to launch test", "test", req.Unit.Name, "err", err)
		record.ExitStatus = -1
		record.LaunchError = err.Error()
		return record, nil
	}

	waitErr := cmd.Wait()
	record.Duration = time.Since(record.StartedAt)
	// Sweep anything the test left behind in its process group.
	killProcessGroup(cmd)
	_ = stdout.Close()

	record.Output = stdout.String()
	record.Stderr = stderr.String()
	record.Truncated = stdout.Truncated()
	record.Markers = stdout.Markers()
	if extractor != nil {
		record.Methods = extractor.Methods()
	}

	if ctx.Err() != nil {
		record.ExitStatus = -1
		return record, fmt.Errorf("run of %s interrupted: %w", req.Unit.Name, context.Cause(ctx))
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		e.log.Warn("Test timed out", "test", req.Unit.Name, "config", req.Config, "timeout", timeout)
		record.TimedOut = true
		record.ExitStatus = -1
		record.Passed = false
		return record, nil
	}

	record.ExitStatus = -1
	if cmd.ProcessState != nil {
		record.ExitStatus = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		e.log.Warn("Test wait failed", "test", req.Unit.Name, "err", waitErr)
	}
	record.Passed = record.ExitStatus == 0
	return record, nil
}

// isResourceExhausted matches the errors that mean no process can be started.
func isResourceExhausted(err error) bool {
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.EAGAIN, syscall.ENOMEM} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
