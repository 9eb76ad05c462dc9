package orchestrator

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/internal/updater/diff"
	"github.com/autopeer-io/ecuflash/internal/updater/pkgload"
	"github.com/autopeer-io/ecuflash/internal/updater/report"
	"github.com/autopeer-io/ecuflash/internal/updater/result"
	"github.com/autopeer-io/ecuflash/internal/updater/transport"
	"github.com/autopeer-io/ecuflash/pkg/log"
)

// Loader turns a package source into a loaded package.
type Loader interface {
	Load(ctx context.Context, src pkgload.Source, sec pkgload.Security) (*core.Package, error)
}

// SequenceFactory creates the device access sequence of one run.
type SequenceFactory func() (core.Sequence, error)

// Request describes one update run.
type Request struct {
	Package   pkgload.Source
	Security  pkgload.Security
	CertDir   string
	Transport transport.Config
	// CheckForChanges skips applications that are already installed.
	CheckForChanges bool
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	HAL         core.HAL
	Loader      Loader
	NewSequence SequenceFactory
	Reporter    *report.Reporter
	Logger      log.Logger
}

// Orchestrator runs the update pipeline and turns every outcome into one result code.
type Orchestrator struct {
	hal         core.HAL
	loader      Loader
	newSequence SequenceFactory
	reporter    *report.Reporter
	logger      log.Logger
}

// New creates an Orchestrator. Missing reporter and logger are replaced by silent ones.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = report.New(logger, io.Discard)
	}

	return &Orchestrator{
		hal:         cfg.HAL,
		loader:      cfg.Loader,
		newSequence: cfg.NewSequence,
		reporter:    reporter,
		logger:      logger.WithName("orchestrator"),
	}
}

// run carries the state of one pipeline pass.
type run struct {
	*Orchestrator

	req    Request
	pkg    *core.Package
	handle *transport.Handle
	seq    core.Sequence

	activationAttempted bool
	activation          core.Status
	updated             bool
}

// Run executes one update. Cleanup runs on every exit path and never changes the result.
func (o *Orchestrator) Run(ctx context.Context, req Request) result.Code {
	start := time.Now()
	r := &run{Orchestrator: o, req: req}

	code := r.execute(ctx)

	o.reporter.Summary(code, time.Since(start))
	return code
}

func (r *run) execute(ctx context.Context) result.Code {
	r.logger.Info("Update started", "package", r.req.Package.Path, "platform", r.hal.Version())

	if err := pkgload.ValidatePath(r.req.Package); err != nil {
		return r.fail(loadCode(err), err)
	}

	pkg, err := r.loader.Load(ctx, r.req.Package, r.req.Security)
	if err != nil {
		return r.fail(loadCode(err), err)
	}
	r.pkg = pkg

	bus, ok := pkg.System.Bus(pkg.ActiveBus)
	if !ok {
		return r.fail(result.PackageCorrupt, errors.New("active bus is not part of the system definition"))
	}

	r.handle, err = transport.Open(ctx, r.hal, bus, r.req.Transport)
	if err != nil {
		return r.fail(transportCode(bus.Type, err), err)
	}
	defer r.closeTransport()
	r.logger.Info("Bus opened", "bus", bus.Name, "type", string(bus.Type))

	certs, err := pkgload.LoadCertificates(r.req.CertDir)
	if err != nil {
		return r.fail(result.CertificateLoadFailed, err)
	}

	r.seq, err = r.newSequence()
	if err != nil {
		return r.fail(result.SetupConfiguration, err)
	}
	defer r.cleanup()

	session := &core.Session{
		System:       pkg.System,
		ActiveBus:    pkg.ActiveBus,
		ActiveNodes:  pkg.ActiveNodes,
		Transport:    r.handle.Transport(),
		Certificates: certs,
		Observer:     r.reporter,
	}
	if st := r.seq.Init(ctx, session); st != core.StatusOK {
		return r.failStatus(setupCodes, st)
	}

	r.activationAttempted = true
	r.activation = r.seq.ActivateFlashloader()
	if r.activation != core.StatusOK {
		return r.failStatus(activationCodes, r.activation)
	}

	if r.req.CheckForChanges {
		if code := r.detectChanges(); code != result.Success {
			return code
		}
	}

	if st := r.seq.UpdateSystem(pkg.Plan); st != core.StatusOK {
		return r.failStatus(updateCodes, st)
	}
	r.updated = true

	return result.Success
}

func (r *run) detectChanges() result.Code {
	det := diff.NewDetector(r.logger.Logr(), r.seq, r.reporter, r.reporter)

	outcome, st := det.Run(r.pkg)
	if st != core.StatusOK {
		return r.fail(result.DeviceInfoReadFailed, errors.New("device scan reported "+st.String()))
	}
	r.reporter.PrintInventory()

	r.logger.Info("Change detection finished", "disabled", outcome.Disabled,
		"filesSkipped", outcome.FilesSkipped, "nodesRemoved", outcome.NodesRemoved)
	return result.Success
}

// resetOwed reports whether the devices may have left their applications.
func (r *run) resetOwed() bool {
	if r.updated {
		return true
	}
	if !r.activationAttempted {
		return false
	}
	return r.activation != core.StatusCommunication && r.activation != core.StatusConfiguration
}

func (r *run) cleanup() {
	if !r.resetOwed() {
		return
	}
	if st := r.seq.ResetSystem(); st != core.StatusOK {
		r.logger.Warn("System reset failed", "status", st.String())
	}
}

func (r *run) closeTransport() {
	if err := r.handle.Close(); err != nil {
		r.logger.Warn("Transport could not be closed", "error", err.Error())
	}
}

func (r *run) fail(code result.Code, err error) result.Code {
	activity, message := result.Describe(code)
	r.logger.Error(err, message, "activity", activity, "code", int(code))
	return code
}

func (r *run) failStatus(codes map[core.Status]result.Code, st core.Status) result.Code {
	code, ok := codes[st]
	if !ok {
		code = result.InternalError
	}
	activity, message := result.Describe(code)
	r.logger.Error(nil, message, "activity", activity, "code", int(code), "status", st.String())
	return code
}
