package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/jit-stress/types"
)

// RunInfo is the header row of a run.
type RunInfo struct {
	RunID         string
	Host          string
	OS            string
	Arch          string
	CPUs          int
	GitCommit     string
	GitCommitDate string
	StartedAt     time.Time
	Duration      time.Duration

	Tests   int
	Passed  int
	Failed  int
	Flaky   int
	Skipped int
}

// NewRunInfo describes the current host. The commit is read from the git
// checkout at repoDir when there is one.
func NewRunInfo(ctx context.Context, runID string, repoDir string) RunInfo {
	host, _ := os.Hostname()
	info := RunInfo{
		RunID:     runID,
		Host:      host,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		CPUs:      runtime.NumCPU(),
		StartedAt: time.Now().UTC(),
	}
	if repoDir != "" {
		info.GitCommit = gitOutput(ctx, repoDir, "rev-parse", "HEAD")
		info.GitCommitDate = gitOutput(ctx, repoDir, "log", "-1", "--format=%cI")
	}
	return info
}

func gitOutput(ctx context.Context, dir string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Uploader writes a run to a sink: one header row, one row per record, the
// environment overlay of every record and the methods it compiled.
type Uploader struct {
	sink Sink
	log  log.Logger
	opts []Option
}

func NewUploader(s Sink, logger log.Logger, opts ...Option) *Uploader {
	if logger == nil {
		logger = log.New()
	}
	l := logger.New("component", "uploader")
	return &Uploader{
		sink: s,
		log:  l,
		opts: append([]Option{WithLogger(l)}, opts...),
	}
}

func (u *Uploader) Upload(ctx context.Context, run RunInfo, records []types.RunRecord) error {
	if creator, ok := u.sink.(SchemaCreator); ok {
		for _, t := range Tables {
			if err := creator.EnsureTable(ctx, t); err != nil {
				return err
			}
		}
	}

	var errs []error
	write := func(table Table, fill func(w *BatchWriter) error) {
		err := WithBatchWriter(ctx, u.sink, table.Name, table.ColumnNames(), fill, u.opts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("uploading %s: %w", table.Name, err))
		}
	}

	write(TestRunsTable, func(w *BatchWriter) error {
		return w.Add(ctx, testRunRow(run))
	})
	write(RunsTable, func(w *BatchWriter) error {
		for _, r := range records {
			if err := w.Add(ctx, runRow(run.RunID, r)); err != nil {
				return err
			}
		}
		return nil
	})
	write(RunEnvTable, func(w *BatchWriter) error {
		for _, r := range records {
			for _, name := range r.Overlay.Keys() {
				if err := w.Add(ctx, Row{run.RunID, r.ID, name, r.Overlay[name]}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	write(MethodsTable, func(w *BatchWriter) error {
		for _, r := range records {
			for _, m := range r.Methods {
				if err := w.Add(ctx, methodRow(run.RunID, r.ID, m)); err != nil {
					return err
				}
			}
		}
		return nil
	})

	if err := errors.Join(errs...); err != nil {
		return err
	}
	u.log.Info("Uploaded run", "run_id", run.RunID, "records", len(records))
	return nil
}

func testRunRow(run RunInfo) Row {
	return Row{
		run.RunID,
		run.Host,
		run.OS,
		run.Arch,
		int64(run.CPUs),
		run.GitCommit,
		run.GitCommitDate,
		run.StartedAt,
		run.Duration.Milliseconds(),
		int64(run.Tests),
		int64(run.Passed),
		int64(run.Failed),
		int64(run.Flaky),
		int64(run.Skipped),
	}
}

func runRow(runID string, r types.RunRecord) Row {
	return Row{
		runID,
		r.ID,
		r.Test,
		r.Command,
		r.Config,
		int64(r.Attempt),
		r.StartedAt,
		r.Duration.Milliseconds(),
		int64(r.ExitStatus),
		r.Passed,
		r.TimedOut,
		string(r.Status()),
		r.Output,
		r.LaunchError,
	}
}

func methodRow(runID, recordID string, m types.MethodEvent) Row {
	return Row{
		runID,
		recordID,
		m.MethodID,
		m.Annotation,
		m.Region,
		m.ProfileCallCount,
		m.HasEH,
		m.FrameType,
		m.HasLoops,
		m.CallCount,
		m.IndirectCallCount,
		m.BasicBlockCount,
		m.LocalVarCount,
		m.AssertionPropCount,
		m.CSECount,
		m.RegisterAllocator,
		m.ILBytes,
		m.HotCodeSize,
		m.ColdCodeSize,
		int64(m.Tier),
		m.MethodName,
	}
}
