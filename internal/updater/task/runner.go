package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/ecuflash/internal/pkg/util/fsm"
	"github.com/autopeer-io/ecuflash/internal/updater/result"
	"github.com/autopeer-io/ecuflash/pkg/log"
)

const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateFinished = "finished"
)

const (
	// EventStart spawns the worker.
	EventStart = "event_start"
	// EventFinish is raised by the poller once the worker signalled completion.
	EventFinish = "event_finish"
	// EventCollect hands the result out and returns to idle.
	EventCollect = "event_collect"
)

// Work is the blocking part of a run. It is executed on the worker goroutine.
type Work func() result.Code

// Runner executes one update at a time on a worker goroutine. Start,
// CheckResult and GetNextLine are meant to be called from one controlling goroutine.
// AddLine and SetProgress are called by the worker.
type Runner struct {
	logger log.Logger

	mu      sync.Mutex
	machine *fsm.FSM
	done    chan struct{}

	result   atomic.Int32
	progress atomic.Int32

	linesMu sync.Mutex
	lines   []string
	cursor  int
}

// NewRunner creates an idle Runner.
func NewRunner(logger log.Logger) *Runner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &Runner{logger: logger.WithName("task")}

	r.machine = fsm.NewFSM(StateIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StateIdle, StateFinished}, Dst: StateRunning},
			{Name: EventFinish, Src: []string{StateRunning}, Dst: StateFinished},
			{Name: EventCollect, Src: []string{StateFinished}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_" + StateRunning: fsmutil.WrapEvent(r.actionEnterRunning),
		},
	)
	return r
}

// actionEnterRunning clears everything the previous run left behind.
func (r *Runner) actionEnterRunning(_ context.Context, _ *fsm.Event) error {
	r.progress.Store(0)
	r.result.Store(int32(result.TaskInProgress))

	r.linesMu.Lock()
	r.lines = nil
	r.cursor = 0
	r.linesMu.Unlock()
	return nil
}

// Start launches work on a new worker goroutine. It returns Success once the
// worker exists, TaskAlreadyRunning while a run is active, and
// TaskWorkerInitFailed when there is nothing to run. An uncollected result of
// a finished run is discarded.
func (r *Runner) Start(work Work) result.Code {
	if work == nil {
		return result.TaskWorkerInitFailed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.observeDone() {
		return result.TaskAlreadyRunning
	}
	if err := r.machine.Event(context.Background(), EventStart); fsmutil.IsRealError(err) || !r.machine.Is(StateRunning) {
		r.logger.Error(err, "Worker could not be started", "state", r.machine.Current())
		return result.TaskWorkerInitFailed
	}

	done := make(chan struct{})
	r.done = done

	go func() {
		code := result.InternalError
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error(fmt.Errorf("%v", p), "Update worker panicked")
				r.AddLine(fmt.Sprintf("Update worker stopped unexpectedly: %v", p))
			}
			r.result.Store(int32(code))
			close(done)
		}()
		code = work()
	}()

	r.logger.Info("Update worker started")
	return result.Success
}

// CheckResult polls the run. While the worker is busy it returns TaskInProgress.
// The first call after completion returns the run's result and moves back to idle;
// later calls return TaskNoActivity. The second value is the progress in percent.
func (r *Runner) CheckResult() (result.Code, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	progress := int(r.progress.Load())

	if !r.observeDone() {
		return result.TaskInProgress, progress
	}

	if r.machine.Is(StateFinished) {
		code := result.Code(r.result.Load())
		if err := r.machine.Event(context.Background(), EventCollect); fsmutil.IsRealError(err) {
			r.logger.Error(err, "Unexpected task state transition")
		}
		r.done = nil
		return code, int(r.progress.Load())
	}

	return result.TaskNoActivity, progress
}

// observeDone moves a running task whose worker has completed to finished.
// It returns false while the worker is still busy. r.mu must be held.
func (r *Runner) observeDone() bool {
	if !r.machine.Is(StateRunning) {
		return true
	}
	select {
	case <-r.done:
		if err := r.machine.Event(context.Background(), EventFinish); fsmutil.IsRealError(err) {
			r.logger.Error(err, "Unexpected task state transition")
		}
		return true
	default:
		return false
	}
}

// State returns the current lifecycle state.
func (r *Runner) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.Current()
}

// GetNextLine returns the oldest line not yet read.
func (r *Runner) GetNextLine() (string, bool) {
	r.linesMu.Lock()
	defer r.linesMu.Unlock()

	if r.cursor >= len(r.lines) {
		return "", false
	}
	line := r.lines[r.cursor]
	r.cursor++
	return line, true
}

// AddLine appends a line to the buffer read by GetNextLine.
func (r *Runner) AddLine(line string) {
	r.linesMu.Lock()
	r.lines = append(r.lines, line)
	r.linesMu.Unlock()
}

// SetProgress stores the completion of the running update.
func (r *Runner) SetProgress(percent int) {
	r.progress.Store(int32(min(max(percent, 0), 100)))
}
