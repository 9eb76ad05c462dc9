package diff

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
)

type fakeScanner struct {
	status core.Status
	inv    core.Inventory
	target *fakeSource
	calls  int
}

func (s *fakeScanner) ReadDeviceInformation() core.Status {
	s.calls++
	if s.status == core.StatusOK {
		s.target.inv = s.inv.Clone()
	}
	return s.status
}

type fakeSource struct {
	inv    core.Inventory
	resets int
}

func (s *fakeSource) ResetInventory()           { s.resets++; s.inv.Reset() }
func (s *fakeSource) Inventory() core.Inventory { return s.inv.Clone() }

func ids(m map[string]core.AppIdentity) IdentityParser {
	return func(path string) (core.AppIdentity, error) {
		id, ok := m[filepath.Base(path)]
		if !ok {
			return core.AppIdentity{}, errors.New("unreadable")
		}
		return id, nil
	}
}

func app(name, version string) core.AppIdentity {
	return core.AppIdentity{Name: name, Version: version}
}

func files(paths ...string) []core.PlanFile {
	out := make([]core.PlanFile, len(paths))
	for i, p := range paths {
		out[i] = core.PlanFile{Path: p, Position: i}
	}
	return out
}

// newPackage builds three active nodes: 0 service, 1 legacy, 2 service file-based.
func newPackage() *core.Package {
	return &core.Package{
		Dir: "/pkg",
		System: &core.SystemDefinition{
			Nodes: []core.Node{
				{Name: "A", Index: 0, Family: core.FamilyService, Kind: core.KindAddress, Interfaces: []core.NodeInterface{{Bus: 0, NodeID: 1}}},
				{Name: "B", Index: 1, Family: core.FamilyLegacy, Kind: core.KindAddress, Interfaces: []core.NodeInterface{{Bus: 0, NodeID: 2}}},
				{Name: "C", Index: 2, Family: core.FamilyService, Kind: core.KindFile, Interfaces: []core.NodeInterface{{Bus: 0, NodeID: 3}}},
				{Name: "D", Index: 3, Family: core.FamilyNone, Kind: core.KindAddress},
			},
		},
		ActiveNodes: []bool{true, true, true, false},
		Plan: &core.UpdatePlan{
			Nodes: []core.NodePlan{
				{NodeIndex: 0, Files: files("a1.hex", "a2.hex")},
				{NodeIndex: 1, Files: files("b1.hex"), ParamSets: files("b.psi")},
				{NodeIndex: 2, Files: files("c.tar")},
				{NodeIndex: 3},
			},
			Order: []int{0, 1, 2},
		},
	}
}

var parser = ids(map[string]core.AppIdentity{
	"a1.hex": app("Boot", "1.0"),
	"a2.hex": app("Main", "2.0"),
	"b1.hex": app("Legacy", "5"),
	"c.tar":  app("Data", "1"),
})

func TestFilterDropsMatchingFiles(t *testing.T) {
	pkg := newPackage()
	inv := core.Inventory{
		Service: []core.DeviceInfo{
			{NodeIndex: 0, Apps: []core.AppIdentity{app("Boot", "1.0"), app("Main", "2.0")}},
			{NodeIndex: 2, Apps: []core.AppIdentity{app("Data", "1")}},
		},
		Legacy: []core.DeviceInfo{
			{NodeIndex: 1, Apps: []core.AppIdentity{app("Legacy", "5")}},
		},
	}

	out := Filter(logr.Discard(), pkg, inv, parser, nil)

	assert.False(t, out.Disabled)
	assert.Equal(t, 2+1, out.FilesSkipped)
	assert.Equal(t, []int{0}, out.NodesRemoved)

	// Node 1 keeps its parameter set, so it stays in the order.
	assert.Empty(t, pkg.Plan.Nodes[1].Files)
	assert.Len(t, pkg.Plan.Nodes[1].ParamSets, 1)
	// File based nodes are always updated in full.
	assert.Len(t, pkg.Plan.Nodes[2].Files, 1)
	assert.Equal(t, []int{1, 2}, pkg.Plan.Order)
	// Removed nodes stay active.
	assert.True(t, pkg.IsActive(0))
}

func TestFilterPositional(t *testing.T) {
	pkg := newPackage()
	inv := core.Inventory{
		Service: []core.DeviceInfo{
			// Same applications, swapped positions.
			{NodeIndex: 0, Apps: []core.AppIdentity{app("Main", "2.0"), app("Boot", "1.0")}},
		},
	}

	out := Filter(logr.Discard(), pkg, inv, parser, nil)

	assert.Zero(t, out.FilesSkipped)
	assert.Len(t, pkg.Plan.Nodes[0].Files, 2)
	assert.Equal(t, []int{0, 1, 2}, pkg.Plan.Order)
}

func TestFilterComparison(t *testing.T) {
	tests := []struct {
		name      string
		installed core.AppIdentity
		dropped   bool
	}{
		{"identical", app("Boot", "1.0"), true},
		{"whitespace", app(" Boot ", "1.0  "), true},
		{"build date ignored", core.AppIdentity{Name: "Boot", Version: "1.0", BuildDate: "x"}, true},
		{"case sensitive", app("boot", "1.0"), false},
		{"other version", app("Boot", "1.1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := newPackage()
			inv := core.Inventory{Service: []core.DeviceInfo{{NodeIndex: 0, Apps: []core.AppIdentity{tt.installed}}}}

			Filter(logr.Discard(), pkg, inv, parser, nil)

			remaining := pkg.Plan.Nodes[0].Files
			if tt.dropped {
				require.Len(t, remaining, 1)
				assert.Equal(t, "a2.hex", remaining[0].Path)
			} else {
				assert.Len(t, remaining, 2)
			}
		})
	}
}

func TestFilterParseFailureIsPerNode(t *testing.T) {
	pkg := newPackage()
	pkg.Plan.Nodes[0].Files = files("a1.hex", "broken.hex")
	inv := core.Inventory{
		Service: []core.DeviceInfo{{NodeIndex: 0, Apps: []core.AppIdentity{app("Boot", "1.0")}}},
		Legacy:  []core.DeviceInfo{{NodeIndex: 1, Apps: []core.AppIdentity{app("Legacy", "5")}}},
	}

	out := Filter(logr.Discard(), pkg, inv, parser, nil)

	assert.Len(t, pkg.Plan.Nodes[0].Files, 2, "node with unreadable file is updated in full")
	assert.Empty(t, pkg.Plan.Nodes[1].Files, "other nodes are still filtered")
	assert.Equal(t, 1, out.FilesSkipped)
}

func TestFilterIdempotent(t *testing.T) {
	pkg := newPackage()
	pkg.Plan.Nodes[0].Files = files("a1.hex", "a1.hex")
	inv := core.Inventory{
		Service: []core.DeviceInfo{{NodeIndex: 0, Apps: []core.AppIdentity{app("Boot", "1.0"), app("Other", "9")}}},
	}

	Filter(logr.Discard(), pkg, inv, parser, nil)
	first := append([]core.PlanFile(nil), pkg.Plan.Nodes[0].Files...)
	firstOrder := append([]int(nil), pkg.Plan.Order...)

	Filter(logr.Discard(), pkg, inv, parser, nil)

	assert.Equal(t, first, pkg.Plan.Nodes[0].Files)
	assert.Equal(t, firstOrder, pkg.Plan.Order)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].Position)
}

func TestFilterOrderMismatchDisables(t *testing.T) {
	tests := []struct {
		name string
		inv  core.Inventory
	}{
		{"reversed", core.Inventory{Service: []core.DeviceInfo{{NodeIndex: 2}, {NodeIndex: 0}}}},
		{"inactive node", core.Inventory{Service: []core.DeviceInfo{{NodeIndex: 3}}}},
		{"wrong family", core.Inventory{Legacy: []core.DeviceInfo{{NodeIndex: 0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := newPackage()
			out := Filter(logr.Discard(), pkg, tt.inv, parser, nil)

			assert.True(t, out.Disabled)
			assert.Len(t, pkg.Plan.Nodes[0].Files, 2)
			assert.Equal(t, []int{0, 1, 2}, pkg.Plan.Order)
		})
	}
}

func TestDetectorRun(t *testing.T) {
	source := &fakeSource{inv: core.Inventory{Service: []core.DeviceInfo{{NodeIndex: 9}}}}
	scanner := &fakeScanner{
		target: source,
		inv: core.Inventory{Service: []core.DeviceInfo{
			{NodeIndex: 0, Apps: []core.AppIdentity{app("Boot", "1.0"), app("Main", "2.0")}},
		}},
	}

	pkg := newPackage()
	out, st := NewDetector(logr.Discard(), scanner, source, nil).WithParser(parser).Run(pkg)

	require.Equal(t, core.StatusOK, st)
	assert.Equal(t, 1, source.resets)
	assert.Equal(t, []int{0}, out.NodesRemoved)
	assert.Equal(t, []int{1, 2}, pkg.Plan.Order)
}

func TestDetectorRunScanFailure(t *testing.T) {
	source := &fakeSource{}
	scanner := &fakeScanner{target: source, status: core.StatusCommunication}

	pkg := newPackage()
	_, st := NewDetector(logr.Discard(), scanner, source, nil).WithParser(parser).Run(pkg)

	assert.Equal(t, core.StatusCommunication, st)
	assert.Equal(t, []int{0, 1, 2}, pkg.Plan.Order)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, NotCheckable, Classify(core.Node{Family: core.FamilyNone}))
	assert.Equal(t, AddressBased, Classify(core.Node{Family: core.FamilyLegacy, Kind: core.KindAddress}))
	assert.Equal(t, FileBased, Classify(core.Node{Family: core.FamilyService, Kind: core.KindFile}))
}

func TestFilterAuthFileKeepsNode(t *testing.T) {
	inv := core.Inventory{
		Service: []core.DeviceInfo{{NodeIndex: 0, Apps: []core.AppIdentity{app("Boot", "1.0"), app("Main", "2.0")}}},
	}

	tests := []struct {
		name      string
		authFile  string
		wantOrder []int
		removed   []int
	}{
		{"auth file left", "a.key", []int{0, 1, 2}, nil},
		{"nothing left", "", []int{1, 2}, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := newPackage()
			pkg.Plan.Nodes[0].AuthFile = tt.authFile

			out := Filter(logr.Discard(), pkg, inv, parser, nil)

			assert.Equal(t, 2, out.FilesSkipped)
			assert.Empty(t, pkg.Plan.Nodes[0].Files)
			assert.Empty(t, pkg.Plan.Nodes[0].ParamSets)
			assert.Equal(t, tt.removed, out.NodesRemoved)
			assert.Equal(t, tt.wantOrder, pkg.Plan.Order)
			assert.Equal(t, tt.authFile, pkg.Plan.Nodes[0].AuthFile)

			// A second pass over the filtered plan changes nothing.
			again := Filter(logr.Discard(), pkg, inv, parser, nil)
			assert.Zero(t, again.FilesSkipped)
			assert.Empty(t, again.NodesRemoved)
			assert.Equal(t, tt.wantOrder, pkg.Plan.Order)
			assert.Equal(t, tt.authFile, pkg.Plan.Nodes[0].AuthFile)
		})
	}
}
