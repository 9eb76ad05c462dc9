package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/internal/updater/step"
	"github.com/autopeer-io/ecuflash/pkg/log"
)

// suppressed holds info texts that are sent once per data block by the legacy protocol.
var suppressed = map[string]struct{}{
	step.InfoLegacyBlockSent:   {},
	step.InfoLegacyEraseWait:   {},
	step.InfoLegacyBlockCRC:    {},
	step.InfoLegacyAddressSent: {},
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithQuiet limits console output to errors.
func WithQuiet(quiet bool) Option {
	return func(r *Reporter) { r.quiet = quiet }
}

// WithLineHook registers a callback for every formatted line.
func WithLineHook(fn func(line string, isError bool)) Option {
	return func(r *Reporter) { r.lineHooks = append(r.lineHooks, fn) }
}

// WithProgressHook registers a callback for progress updates.
func WithProgressHook(fn func(percent int)) Option {
	return func(r *Reporter) { r.progressHooks = append(r.progressHooks, fn) }
}

// WithStepHook registers a callback for every classified step, suppressed ones included.
func WithStepHook(fn func(s step.Step, isError bool)) Option {
	return func(r *Reporter) { r.stepHooks = append(r.stepHooks, fn) }
}

// Reporter turns sequence events into log and console lines and keeps the device inventory.
type Reporter struct {
	logger  log.Logger
	console io.Writer
	quiet   bool

	lineHooks     []func(string, bool)
	progressHooks []func(int)
	stepHooks     []func(step.Step, bool)

	mu        sync.Mutex
	percent   int
	inventory core.Inventory
}

var _ core.Observer = (*Reporter)(nil)

// New creates a Reporter writing to the given log sink and console.
func New(logger log.Logger, console io.Writer, opts ...Option) *Reporter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if console == nil {
		console = io.Discard
	}

	r := &Reporter{logger: logger, console: console}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Format builds one report line: name: [Result: <sub> ](Bus <b> Node <n> )<info>.
// A line without details is the name alone.
func Format(name string, isError bool, subResult int, server *core.ServerID, info string) string {
	var parts []string
	if isError {
		parts = append(parts, fmt.Sprintf("Result: %d", subResult))
	}
	if server != nil {
		parts = append(parts, fmt.Sprintf("Bus %d Node %d", server.Bus, server.Node))
	}
	if info != "" {
		parts = append(parts, info)
	}
	if len(parts) == 0 {
		return name
	}
	return name + ": " + strings.Join(parts, " ")
}

// Report implements core.Observer. It never requests an abort.
func (r *Reporter) Report(s step.Step, subResult int, info string, server *core.ServerID) bool {
	isError, name := step.Classify(s)
	if !step.Known(s) {
		r.logger.Error(nil, "Sequence reported an unclassified step", "step", int(s), "subResult", subResult, "info", info)
	}

	for _, fn := range r.stepHooks {
		fn(s, isError)
	}

	if _, drop := suppressed[info]; drop {
		return false
	}

	line := Format(name, isError, subResult, server, info)
	if isError {
		r.logger.Error(nil, line)
	} else {
		r.logger.Info(line)
	}

	r.mu.Lock()
	if !r.quiet || isError {
		fmt.Fprintln(r.console, line)
	}
	r.mu.Unlock()

	for _, fn := range r.lineHooks {
		fn(line, isError)
	}

	return false
}

// Progress implements core.Observer.
func (r *Reporter) Progress(percent int) {
	percent = min(max(percent, 0), 100)

	r.mu.Lock()
	r.percent = percent
	r.mu.Unlock()

	for _, fn := range r.progressHooks {
		fn(percent)
	}
}

// Percent returns the last reported progress.
func (r *Reporter) Percent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.percent
}

// ReportDeviceInfo implements core.Observer.
func (r *Reporter) ReportDeviceInfo(family core.Family, info core.DeviceInfo) {
	r.mu.Lock()
	r.inventory.Add(family, info)
	r.mu.Unlock()

	r.logger.Info("Device found", "family", string(family), "node", info.NodeIndex,
		"server", info.Server, "device", info.DeviceName, "applications", len(info.Apps))
}

// ResetInventory clears the device inventory before a new scan.
func (r *Reporter) ResetInventory() {
	r.mu.Lock()
	r.inventory.Reset()
	r.mu.Unlock()
}

// Inventory returns a copy of the scanned devices.
func (r *Reporter) Inventory() core.Inventory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inventory.Clone()
}

// Println writes an informational line to the log and, unless quiet, to the console.
func (r *Reporter) Println(line string) {
	r.logger.Info(line)

	r.mu.Lock()
	if !r.quiet {
		fmt.Fprintln(r.console, line)
	}
	r.mu.Unlock()

	for _, fn := range r.lineHooks {
		fn(line, false)
	}
}
