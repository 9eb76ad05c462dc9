package diff

import (
	"fmt"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/autopeer-io/ecuflash/internal/updater/appid"
	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/internal/updater/step"
)

// Scanner is the part of a device access sequence the detector needs.
type Scanner interface {
	ReadDeviceInformation() core.Status
}

// InventorySource owns the inventory filled while the scanner runs.
type InventorySource interface {
	ResetInventory()
	Inventory() core.Inventory
}

// IdentityParser reads the identity of a candidate file.
type IdentityParser func(path string) (core.AppIdentity, error)

// Class is how a node takes part in change detection.
type Class int

const (
	NotCheckable Class = iota
	AddressBased
	FileBased
)

func (c Class) String() string {
	switch c {
	case AddressBased:
		return "address-based"
	case FileBased:
		return "file-based"
	}
	return "not-checkable"
}

// Outcome summarizes one detection pass.
type Outcome struct {
	// Disabled is set when the scan order did not match the plan and nothing was filtered.
	Disabled     bool
	FilesSkipped int
	NodesRemoved []int
}

// Detector removes already installed applications from an update plan.
type Detector struct {
	logger   logr.Logger
	scanner  Scanner
	source   InventorySource
	observer core.Observer
	parse    IdentityParser
}

// NewDetector creates a Detector. observer may be nil.
func NewDetector(logger logr.Logger, scanner Scanner, source InventorySource, observer core.Observer) *Detector {
	return &Detector{
		logger:   logger.WithName("diff"),
		scanner:  scanner,
		source:   source,
		observer: observer,
		parse:    appid.Parse,
	}
}

// WithParser replaces the identity parser.
func (d *Detector) WithParser(p IdentityParser) *Detector {
	d.parse = p
	return d
}

// Run scans the devices and filters the plan of pkg in place.
// A failed scan is returned as its status and leaves the plan untouched.
func (d *Detector) Run(pkg *core.Package) (Outcome, core.Status) {
	d.report(step.DiffStart, 0, "", nil)

	d.source.ResetInventory()
	if st := d.scanner.ReadDeviceInformation(); st != core.StatusOK {
		d.logger.Info("Reading device information failed", "status", st.String())
		return Outcome{}, st
	}

	inv := d.source.Inventory()
	out := Filter(d.logger, pkg, inv, d.parse, d.observer)

	d.report(step.DiffFinished, 0, fmt.Sprintf("%d file(s) already installed, %d node(s) up to date",
		out.FilesSkipped, len(out.NodesRemoved)), nil)
	return out, core.StatusOK
}

func (d *Detector) report(s step.Step, sub int, info string, server *core.ServerID) {
	if d.observer != nil {
		d.observer.Report(s, sub, info, server)
	}
}

// Classify decides how a node takes part in change detection.
func Classify(node core.Node) Class {
	if node.Family != core.FamilyService && node.Family != core.FamilyLegacy {
		return NotCheckable
	}
	if node.Kind == core.KindFile {
		return FileBased
	}
	return AddressBased
}

// CheckOrder verifies that every scanned node is active and that each family's scan
// order is a subsequence of the update order.
func CheckOrder(pkg *core.Package, inv core.Inventory) error {
	for _, family := range []core.Family{core.FamilyService, core.FamilyLegacy} {
		var planned []int
		for _, idx := range pkg.Plan.Order {
			if n, ok := pkg.System.Node(idx); ok && n.Family == family {
				planned = append(planned, idx)
			}
		}

		pos := 0
		for _, dev := range inv.Of(family) {
			if !pkg.IsActive(dev.NodeIndex) {
				return fmt.Errorf("%s scan reported inactive node %d", family, dev.NodeIndex)
			}
			for pos < len(planned) && planned[pos] != dev.NodeIndex {
				pos++
			}
			if pos == len(planned) {
				return fmt.Errorf("%s scan reported node %d out of plan order", family, dev.NodeIndex)
			}
			pos++
		}
	}
	return nil
}

// Filter drops files whose identity already matches the device at the same position,
// and removes nodes with nothing left to write from the update order.
func Filter(logger logr.Logger, pkg *core.Package, inv core.Inventory, parse IdentityParser, observer core.Observer) Outcome {
	report := func(s step.Step, info string, server *core.ServerID) {
		if observer != nil {
			observer.Report(s, 0, info, server)
		}
	}

	if err := CheckOrder(pkg, inv); err != nil {
		logger.Info("Change detection disabled, performing a full update", "reason", err.Error())
		report(step.DiffOrderMismatch, err.Error(), nil)
		return Outcome{Disabled: true}
	}

	var out Outcome
	order := append([]int(nil), pkg.Plan.Order...)

	for _, idx := range order {
		node, ok := pkg.System.Node(idx)
		if !ok {
			continue
		}
		plan := pkg.Plan.Node(idx)
		if plan == nil {
			continue
		}
		server := serverOf(node, pkg.ActiveBus)
		log := logger.WithValues("node", node.Name, "index", idx)

		switch Classify(node) {
		case NotCheckable:
			report(step.DiffNodeNotCheckable, node.Name, server)
			continue
		case FileBased:
			report(step.DiffNodeFileBased, node.Name, server)
			continue
		}

		installed, found := inv.Lookup(node.Family, idx)
		if !found {
			log.Info("Node was not scanned, updating all files")
			continue
		}

		candidates, err := parseAll(plan.Files, pkg.Dir, parse)
		if err != nil {
			log.Info("Change detection disabled for node", "reason", err.Error())
			report(step.DiffIdentityParseError, err.Error(), server)
			continue
		}

		kept := plan.Files[:0:0]
		for i, f := range plan.Files {
			if f.Position < len(installed) && candidates[i].SameApp(installed[f.Position]) {
				out.FilesSkipped++
				report(step.DiffFileUnchanged, candidates[i].String(), server)
				log.V(1).Info("File already installed", "file", f.Path, "app", candidates[i].String())
				continue
			}
			report(step.DiffFileChanged, candidates[i].String(), server)
			kept = append(kept, f)
		}
		plan.Files = kept

		if plan.Empty() {
			pkg.Plan.RemoveFromOrder(idx)
			out.NodesRemoved = append(out.NodesRemoved, idx)
			report(step.DiffNodeRemoved, node.Name, server)
			log.Info("Node is up to date and removed from the update order")
		}
	}

	return out
}

func parseAll(files []core.PlanFile, dir string, parse IdentityParser) ([]core.AppIdentity, error) {
	ids := make([]core.AppIdentity, len(files))
	for i, f := range files {
		path := f.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		id, err := parse(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func serverOf(node core.Node, bus uint8) *core.ServerID {
	if i, ok := node.InterfaceOn(bus); ok {
		return &core.ServerID{Bus: bus, Node: i.NodeID}
	}
	return nil
}
