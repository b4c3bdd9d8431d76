package jitstress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/jit-stress/flags"
	"github.com/ethereum-optimism/infra/jit-stress/service"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// Config holds the application configuration
type Config struct {
	Manifest string   // Optional YAML or TOML manifest
	TestDirs []string // Roots discovered in addition to the manifest
	Launcher string
	Excludes []string
	Filter   []string
	EnvFile  string
	CoreRoot string
	JitOrder bool // Collect the JIT order table of every run

	Concurrency          int // 0 = auto-determine
	MaxAttempts          int
	LongRunningThreshold time.Duration
	DefaultTimeout       time.Duration
	GracePeriod          time.Duration
	OutputLimit          int
	SpawnRate            float64

	CachePath  string
	ReuseCache bool // Replay CachePath instead of running when it exists
	SinkURL    string
	BatchSize  int
	RepoDir    string
	ReportDir  string

	ShowProgress     bool
	ProgressInterval time.Duration
	ShowAllTests     bool

	// Service configures the healthz and metrics servers, nil for none.
	Service *service.Config
	Out     io.Writer
	Log     log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	manifest, err := absPath(ctx.String(flags.Manifest.Name))
	if err != nil {
		return nil, err
	}
	var testDirs []string
	for _, dir := range ctx.StringSlice(flags.TestDir.Name) {
		abs, err := absPath(dir)
		if err != nil {
			return nil, err
		}
		testDirs = append(testDirs, abs)
	}
	envFile, err := absPath(ctx.String(flags.EnvFile.Name))
	if err != nil {
		return nil, err
	}
	cachePath, err := absPath(ctx.String(flags.Cache.Name))
	if err != nil {
		return nil, err
	}
	reportDir, err := absPath(ctx.String(flags.ReportDir.Name))
	if err != nil {
		return nil, err
	}

	if ctx.Bool(flags.ReuseCache.Name) && cachePath == "" {
		return nil, fmt.Errorf("--%s requires --%s", flags.ReuseCache.Name, flags.Cache.Name)
	}
	if ctx.Int(flags.Concurrency.Name) < 0 {
		return nil, fmt.Errorf("concurrency cannot be negative")
	}
	if ctx.Int(flags.BatchSize.Name) <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	return &Config{
		Manifest:             manifest,
		TestDirs:             testDirs,
		Launcher:             ctx.String(flags.Launcher.Name),
		Excludes:             ctx.StringSlice(flags.Exclude.Name),
		Filter:               ctx.StringSlice(flags.Filter.Name),
		EnvFile:              envFile,
		CoreRoot:             ctx.String(flags.CoreRoot.Name),
		JitOrder:             ctx.Bool(flags.JitOrder.Name),
		Concurrency:          ctx.Int(flags.Concurrency.Name),
		MaxAttempts:          ctx.Int(flags.MaxAttempts.Name),
		LongRunningThreshold: ctx.Duration(flags.LongRunningThreshold.Name),
		DefaultTimeout:       ctx.Duration(flags.DefaultTimeout.Name),
		GracePeriod:          ctx.Duration(flags.GracePeriod.Name),
		OutputLimit:          ctx.Int(flags.OutputLimit.Name),
		SpawnRate:            ctx.Float64(flags.SpawnRate.Name),
		CachePath:            cachePath,
		ReuseCache:           ctx.Bool(flags.ReuseCache.Name),
		SinkURL:              ctx.String(flags.Sink.Name),
		BatchSize:            ctx.Int(flags.BatchSize.Name),
		RepoDir:              ctx.String(flags.RepoDir.Name),
		ReportDir:            reportDir,
		ShowProgress:         ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval:     ctx.Duration(flags.ProgressInterval.Name),
		ShowAllTests:         ctx.Bool(flags.ShowAllTests.Name),
		Service: &service.Config{
			HealthzAddr:    service.HealthzHost,
			HealthzPort:    service.HealthzPort,
			MetricsEnabled: metricsCfg.Enabled,
			MetricsAddr:    metricsCfg.ListenAddr,
			MetricsPort:    metricsCfg.ListenPort,
		},
		Out: os.Stdout,
		Log: log,
	}, nil
}

func absPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for '%s': %w", p, err)
	}
	return abs, nil
}
