package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/ecuflash/cmd/cpeer-flash/app/options"
	"github.com/autopeer-io/ecuflash/internal/pkg/metrics"
	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/internal/updater/notify"
	"github.com/autopeer-io/ecuflash/internal/updater/orchestrator"
	"github.com/autopeer-io/ecuflash/internal/updater/pkgload"
	"github.com/autopeer-io/ecuflash/internal/updater/report"
	"github.com/autopeer-io/ecuflash/internal/updater/result"
	"github.com/autopeer-io/ecuflash/internal/updater/sequence"
	"github.com/autopeer-io/ecuflash/internal/updater/task"
	"github.com/autopeer-io/ecuflash/pkg/app"
	"github.com/autopeer-io/ecuflash/pkg/log"
)

const updateDesc = `Run one update: load the package, open the bus, bring every active
node into its flashloader, optionally skip applications that are
already installed, write the content and reset the system.`

func newUpdateApp(h core.HAL) *app.App {
	opts := options.NewUpdateOptions()
	return app.NewApp(
		"update",
		"Update the system described by an update package",
		app.WithDescription(updateDesc),
		app.WithExample(h.ExampleUsage()),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithEnvPrefix("CPEER_FLASH"),
		app.WithRunFunc(runUpdate(h, opts)),
	)
}

func runUpdate(h core.HAL, opts *options.UpdateOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()
		start := time.Now()
		runID := uuid.NewString()

		logFile := opts.LogFile(h.DefaultLogLocation(), start)
		if err := initRunLog(opts.Log, logFile); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n%v\n", result.LogInitFailed.Error(), err)
			return result.LogInitFailed
		}
		defer log.Sync()

		logger := log.WithValues("run", runID)
		logger.Info("cpeer-flash started", "version", h.Version(), "logFile", logFile)

		code := newUpdate(ctx, h, opts, runID, logger).run()
		if code != result.Success {
			return code
		}
		return nil
	}
}

func initRunLog(opts *log.Options, file string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err
	}
	opts.OutputPaths = append(slices.Clone(opts.OutputPaths), file)
	return log.Init(opts)
}

// update wires the collaborators of one update run.
type update struct {
	ctx    context.Context
	hal    core.HAL
	opts   *options.UpdateOptions
	runID  string
	logger log.Logger
	out    io.Writer

	recorder *metrics.Recorder
	notifier *notify.Notifier
	runner   *task.Runner
	closers  []func()
}

func newUpdate(ctx context.Context, h core.HAL, opts *options.UpdateOptions, runID string, logger log.Logger) *update {
	return &update{
		ctx:      ctx,
		hal:      h,
		opts:     opts,
		runID:    runID,
		logger:   logger,
		out:      os.Stdout,
		recorder: metrics.NewRecorder(),
	}
}

func (u *update) run() result.Code {
	start := time.Now()

	req, err := u.opts.Request()
	if err != nil {
		u.logger.Error(err, "Password could not be read")
		return u.fail(result.PackageAuthFailed, start)
	}

	if !slices.Contains(sequence.Names(), u.opts.Sequence.Name) {
		fmt.Fprintf(u.out, "Unknown sequence %q, registered: %s\n", u.opts.Sequence.Name, strings.Join(sequence.Names(), ", "))
		return u.fail(result.UnknownSequence, start)
	}

	var fetcher pkgload.Fetcher
	if u.opts.S3.Enabled() {
		if fetcher, err = pkgload.NewS3Fetcher(u.opts.S3); err != nil {
			u.logger.Error(err, "Object store client could not be created")
			return u.fail(result.PackageFetchFailed, start)
		}
	}

	if u.opts.Mqtt.Enabled() {
		u.connectNotifier()
	}
	if u.notifier != nil {
		u.notifier.Started(req.Package.Path)
	}

	if u.opts.Async {
		u.runner = task.NewRunner(u.logger)
	}

	orch := orchestrator.New(orchestrator.Config{
		HAL:    u.hal,
		Loader: pkgload.NewLoader(u.logger, fetcher),
		NewSequence: func() (core.Sequence, error) {
			return sequence.New(u.opts.Sequence.Name, u.opts.SequenceConfig())
		},
		Reporter: u.reporter(),
		Logger:   u.logger,
	})

	work := func() result.Code { return orch.Run(u.ctx, req) }

	var code result.Code
	if u.runner != nil {
		code = poll(u.runner, work, u.out, u.opts.PollInterval)
	} else {
		code = work()
	}
	return u.finish(code, start)
}

func (u *update) connectNotifier() {
	host, _ := os.Hostname()
	n, closeFn, err := notify.Connect(u.ctx, u.opts.Mqtt, u.runID, host, u.logger)
	if err != nil {
		u.logger.Warn("Run notifications disabled", "error", err.Error())
		return
	}
	u.notifier = n
	u.closers = append(u.closers, closeFn)
}

func (u *update) reporter() *report.Reporter {
	console := u.out
	ropts := []report.Option{
		report.WithQuiet(u.opts.Quiet),
		report.WithStepHook(u.recorder.ObserveStep),
	}
	if u.notifier != nil {
		ropts = append(ropts, report.WithProgressHook(u.notifier.Progress))
	}
	if u.runner != nil {
		// The poller prints what the worker produced.
		console = io.Discard
		runner := u.runner
		quiet := u.opts.Quiet
		ropts = append(ropts,
			report.WithProgressHook(runner.SetProgress),
			report.WithLineHook(func(line string, isError bool) {
				if !quiet || isError {
					runner.AddLine(line)
				}
			}),
		)
	}
	return report.New(u.logger, console, ropts...)
}

// fail ends a run that never reached the orchestrator.
func (u *update) fail(code result.Code, start time.Time) result.Code {
	report.New(u.logger, u.out, report.WithQuiet(u.opts.Quiet)).Summary(code, time.Since(start))
	return u.finish(code, start)
}

// finish records the outcome everywhere it is published.
func (u *update) finish(code result.Code, start time.Time) result.Code {
	elapsed := time.Since(start)

	u.recorder.ObserveRun(code, elapsed)
	if path := u.opts.Metrics.Textfile; path != "" {
		if err := u.recorder.WriteTextfile(path); err != nil {
			u.logger.Warn("Metrics file not written", "path", path, "error", err.Error())
		}
	}

	if u.notifier != nil {
		u.notifier.Finished(code, elapsed)
	}
	for _, c := range u.closers {
		c()
	}

	u.logger.Info("cpeer-flash finished", "code", int(code), "result", code.String(), "elapsed", elapsed)
	return code
}

// poll runs work on the task runner and prints its lines until the result is in.
func poll(runner *task.Runner, work task.Work, out io.Writer, interval time.Duration) result.Code {
	if code := runner.Start(work); code != result.Success {
		return code
	}

	drain := func() {
		for {
			line, ok := runner.GetNextLine()
			if !ok {
				return
			}
			fmt.Fprintln(out, line)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		drain()
		code, _ := runner.CheckResult()
		if code != result.TaskInProgress {
			drain()
			return code
		}
		<-ticker.C
	}
}
