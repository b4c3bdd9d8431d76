package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "JIT_STRESS"

var (
	Manifest = &cli.StringFlag{
		Name:    "manifest",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MANIFEST"),
		Usage:   "Path to a YAML or TOML test manifest",
	}
	TestDir = &cli.StringSliceFlag{
		Name:    "testdir",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTDIR"),
		Usage:   "Directory to discover <dir>/<name>/<name>.sh tests in. May be repeated.",
	}
	Launcher = &cli.StringFlag{
		Name:    "launcher",
		Value:   "bash",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LAUNCHER"),
		Usage:   "Program used to launch discovered test scripts",
	}
	Exclude = &cli.StringSliceFlag{
		Name:    "exclude",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXCLUDE"),
		Usage:   "Exclude tests whose name contains this string. May be repeated.",
	}
	Filter = &cli.StringSliceFlag{
		Name:    "filter",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FILTER"),
		Usage:   "Only run tests matching this glob or substring. May be repeated.",
	}
	EnvFile = &cli.StringFlag{
		Name:    "env-file",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENV_FILE"),
		Usage:   "Environment overlay file, JSON [{\"name\",\"value\"}] or dotenv",
	}
	CoreRoot = &cli.StringFlag{
		Name:    "core-root",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CORE_ROOT"),
		Usage:   "CORE_ROOT passed to every test run",
	}
	JitOrder = &cli.BoolFlag{
		Name:    "jit-order",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JIT_ORDER"),
		Usage:   "Enable COMPlus_JitOrder and collect the per method compilation table",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of tests run in parallel (0 = number of CPUs)",
	}
	MaxAttempts = &cli.IntFlag{
		Name:    "max-attempts",
		Value:   10,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_ATTEMPTS"),
		Usage:   "Maximum runs of a test per configuration",
	}
	LongRunningThreshold = &cli.DurationFlag{
		Name:    "long-running-threshold",
		Value:   10 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LONG_RUNNING_THRESHOLD"),
		Usage:   "Tests whose first run takes longer are accepted without repetition",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   10 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEFAULT_TIMEOUT"),
		Usage:   "Timeout of a single test run unless the manifest sets one",
	}
	GracePeriod = &cli.DurationFlag{
		Name:    "grace-period",
		Value:   5 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GRACE_PERIOD"),
		Usage:   "Delay between SIGTERM and SIGKILL for timed out runs",
	}
	OutputLimit = &cli.IntFlag{
		Name:    "output-limit",
		Value:   2048,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT_LIMIT"),
		Usage:   "Bytes of stdout and stderr kept per run",
	}
	SpawnRate = &cli.Float64Flag{
		Name:    "spawn-rate",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SPAWN_RATE"),
		Usage:   "Maximum test processes launched per second (0 = unlimited)",
	}
	Cache = &cli.StringFlag{
		Name:    "cache",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CACHE"),
		Usage:   "Path of the JSON result cache written after the run",
	}
	ReuseCache = &cli.BoolFlag{
		Name:    "reuse-cache",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REUSE_CACHE"),
		Usage:   "Replay the cache instead of running tests when it exists",
	}
	Sink = &cli.StringFlag{
		Name:    "sink",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SINK"),
		Usage:   "Upload destination: postgres://, clickhouse://, redis://, file:// or a directory",
	}
	BatchSize = &cli.IntFlag{
		Name:    "batch-size",
		Value:   1000,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BATCH_SIZE"),
		Usage:   "Rows per sink flush",
	}
	ReportDir = &cli.StringFlag{
		Name:    "report-dir",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORT_DIR"),
		Usage:   "Directory for the stability report (JSON and HTML)",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Print a progress line for every run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between summaries of running tests",
	}
	ShowAllTests = &cli.BoolFlag{
		Name:    "show-all-tests",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_ALL_TESTS"),
		Usage:   "List passing tests in the results table too",
	}
	RepoDir = &cli.StringFlag{
		Name:    "repo-dir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPO_DIR"),
		Usage:   "Git checkout whose commit is recorded with uploaded runs",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Manifest,
	TestDir,
	Launcher,
	Exclude,
	Filter,
	EnvFile,
	CoreRoot,
	JitOrder,
	Concurrency,
	MaxAttempts,
	LongRunningThreshold,
	DefaultTimeout,
	GracePeriod,
	OutputLimit,
	SpawnRate,
	Cache,
	ReuseCache,
	Sink,
	BatchSize,
	ReportDir,
	ShowProgress,
	ProgressInterval,
	ShowAllTests,
	RepoDir,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

// CheckRequired verifies that a test source is configured.
func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	if ctx.String(Manifest.Name) == "" && len(ctx.StringSlice(TestDir.Name)) == 0 {
		return fmt.Errorf("one of --%s or --%s is required", Manifest.Name, TestDir.Name)
	}
	return nil
}
