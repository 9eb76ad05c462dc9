package sequence

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/ecuflash/internal/updater/appid"
	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/internal/updater/step"
)

type fakeTransport struct{ typ core.BusType }

func (f fakeTransport) Type() core.BusType { return f.typ }
func (f fakeTransport) Name() string       { return "fake" }
func (f fakeTransport) Close() error       { return nil }

type event struct {
	step step.Step
	info string
}

type recorder struct {
	mu       sync.Mutex
	events   []event
	percent  []int
	devices  map[core.Family][]core.DeviceInfo
	abortsOn step.Step
}

func newRecorder() *recorder {
	return &recorder{devices: map[core.Family][]core.DeviceInfo{}, abortsOn: -1}
}

func (r *recorder) Report(s step.Step, _ int, info string, _ *core.ServerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{s, info})
	return s == r.abortsOn
}

func (r *recorder) Progress(p int) { r.percent = append(r.percent, p) }

func (r *recorder) ReportDeviceInfo(f core.Family, info core.DeviceInfo) {
	r.devices[f] = append(r.devices[f], info)
}

func (r *recorder) saw(s step.Step) bool {
	for _, e := range r.events {
		if e.step == s {
			return true
		}
	}
	return false
}

func (r *recorder) infos() map[string]int {
	m := map[string]int{}
	for _, e := range r.events {
		m[e.info]++
	}
	return m
}

func testSystem() *core.SystemDefinition {
	return &core.SystemDefinition{
		Name:  "bench rig",
		Buses: []core.Bus{{Name: "CAN1", Index: 0, Type: core.BusCAN}},
		Nodes: []core.Node{
			{Name: "gateway", Index: 0, Family: core.FamilyService, Kind: core.KindAddress, NVMSupported: true, Interfaces: []core.NodeInterface{{Bus: 0, NodeID: 1}}},
			{Name: "io", Index: 1, Family: core.FamilyLegacy, Kind: core.KindAddress, Interfaces: []core.NodeInterface{{Bus: 0, NodeID: 2}}},
		},
	}
}

func session(obs core.Observer) *core.Session {
	return &core.Session{
		System:      testSystem(),
		ActiveNodes: []bool{true, true},
		Transport:   fakeTransport{typ: core.BusCAN},
		Observer:    obs,
	}
}

func writeHex(t *testing.T, dir, name string, size int, id core.AppIdentity) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, appid.WriteHex(f, 0x8000, make([]byte, size), id))
	return p
}

func newSim(t *testing.T, params map[string]string, stateDir string) *Simulator {
	t.Helper()
	seq, err := New(SimulatorName, Config{StateDir: stateDir, Params: params})
	require.NoError(t, err)
	return seq.(*Simulator)
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Names(), SimulatorName)

	_, err := New("does-not-exist", Config{})
	assert.ErrorIs(t, err, ErrUnknown)

	assert.Panics(t, func() { Register(SimulatorName, NewSimulator) })
	assert.Panics(t, func() { Register("nil-factory", nil) })
}

func TestNewSimulator_BadParams(t *testing.T) {
	for _, params := range []map[string]string{
		{ParamFail: "activate"},
		{ParamFail: "activate=exploded"},
		{ParamFail: "dance=io"},
		{ParamOffline: "one"},
		{ParamDelay: "soon"},
	} {
		_, err := NewSimulator(Config{Params: params})
		assert.Error(t, err, "%v", params)
	}
}

func TestSimulator_Init(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *core.Session)
		want   core.Status
	}{
		{"ok", func(*core.Session) {}, core.StatusOK},
		{"no system", func(s *core.Session) { s.System = nil }, core.StatusConfiguration},
		{"unknown bus", func(s *core.Session) { s.ActiveBus = 3 }, core.StatusInvalidParameter},
		{"active set size", func(s *core.Session) { s.ActiveNodes = []bool{true} }, core.StatusInvalidParameter},
		{"transport type", func(s *core.Session) { s.Transport = fakeTransport{typ: core.BusEthernet} }, core.StatusTransportInit},
		{"no transport", func(s *core.Session) { s.Transport = nil }, core.StatusTransportInit},
		{"unknown protocol", func(s *core.Session) { s.System.Nodes[1].Family = core.FamilyNone }, core.StatusUnknownProtocol},
		{"no route", func(s *core.Session) { s.System.Nodes[0].Interfaces = nil }, core.StatusRouting},
		{"inactive node is not checked", func(s *core.Session) {
			s.System.Nodes[1].Family = core.FamilyNone
			s.ActiveNodes[1] = false
		}, core.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := session(nil)
			tt.mutate(sess)
			assert.Equal(t, tt.want, newSim(t, nil, "").Init(context.Background(), sess))
		})
	}
}

func TestSimulator_NotInitialized(t *testing.T) {
	sim := newSim(t, nil, "")
	assert.Equal(t, core.StatusNoSystemDefinition, sim.ActivateFlashloader())
	assert.Equal(t, core.StatusNoSystemDefinition, sim.ReadDeviceInformation())
	assert.Equal(t, core.StatusNoSystemDefinition, sim.UpdateSystem(&core.UpdatePlan{}))
	assert.Equal(t, core.StatusNoSystemDefinition, sim.ResetSystem())
}

func TestSimulator_UpdateAndRescan(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "state")
	gwApp := core.AppIdentity{Name: "gateway-app", Version: "2.1.0"}
	gwData := core.AppIdentity{Name: "gateway-data", Version: "7"}
	ioApp := core.AppIdentity{Name: "io-app", Version: "1.4"}

	plan := &core.UpdatePlan{
		Nodes: []core.NodePlan{
			{NodeIndex: 0, Files: []core.PlanFile{
				{Path: writeHex(t, dir, "gw.hex", 300, gwApp), Position: 0},
				{Path: writeHex(t, dir, "gwdata.hex", 10, gwData), Position: 2},
			}},
			{NodeIndex: 1, Files: []core.PlanFile{{Path: writeHex(t, dir, "io.hex", 600, ioApp), Position: 0}}},
		},
		Order: []int{0, 1},
	}

	rec := newRecorder()
	sim := newSim(t, nil, state)
	require.Equal(t, core.StatusOK, sim.Init(context.Background(), session(rec)))
	require.Equal(t, core.StatusOK, sim.ActivateFlashloader())
	require.Equal(t, core.StatusOK, sim.ReadDeviceInformation())
	assert.Empty(t, rec.devices[core.FamilyService][0].Apps)

	require.Equal(t, core.StatusOK, sim.UpdateSystem(plan))
	assert.Equal(t, 100, rec.percent[len(rec.percent)-1])
	assert.True(t, rec.saw(step.UpdateFinished))

	infos := rec.infos()
	assert.Equal(t, 1, infos[step.InfoLegacyAddressSent])
	assert.Equal(t, 3, infos[step.InfoLegacyBlockSent], "legacy image is sent in blocks")
	assert.Equal(t, 3, infos[step.InfoLegacyBlockCRC])

	assert.Equal(t, []core.AppIdentity{gwApp, {}, gwData}, sim.Installed(0))
	require.Equal(t, core.StatusOK, sim.ResetSystem())

	// a new run sees what the previous one installed
	rec = newRecorder()
	sim = newSim(t, nil, state)
	require.Equal(t, core.StatusOK, sim.Init(context.Background(), session(rec)))
	require.Equal(t, core.StatusOK, sim.ReadDeviceInformation())

	require.Len(t, rec.devices[core.FamilyService], 1)
	assert.Equal(t, "gateway", rec.devices[core.FamilyService][0].DeviceName)
	assert.Equal(t, core.ServerID{Bus: 0, Node: 1}, rec.devices[core.FamilyService][0].Server)
	assert.Equal(t, []core.AppIdentity{ioApp}, rec.devices[core.FamilyLegacy][0].Apps)
}

func TestSimulator_UpdateFailures(t *testing.T) {
	dir := t.TempDir()
	hex := writeHex(t, dir, "app.hex", 32, core.AppIdentity{Name: "a", Version: "1"})
	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	broken := filepath.Join(dir, "broken.hex")
	require.NoError(t, os.WriteFile(broken, []byte(":zz\n"), 0o644))
	params := filepath.Join(dir, "p.syde_psi")
	require.NoError(t, os.WriteFile(params, []byte("x"), 0o644))

	tests := []struct {
		name    string
		params  map[string]string
		mutate  func(s *core.Session)
		plan    core.NodePlan
		node    int
		want    core.Status
		errStep step.Step
	}{
		{name: "missing file", node: 0, plan: core.NodePlan{Files: []core.PlanFile{{Path: filepath.Join(dir, "nope.hex")}}}, want: core.StatusIO, errStep: step.UpdateServiceHexOpenError},
		{name: "empty image", node: 0, plan: core.NodePlan{Files: []core.PlanFile{{Path: empty}}}, want: core.StatusSizeMismatch, errStep: step.UpdateServiceAreaTransferDataError},
		{name: "broken hex", node: 1, plan: core.NodePlan{Files: []core.PlanFile{{Path: broken}}}, want: core.StatusChecksum, errStep: step.UpdateLegacyHexOpenError},
		{name: "nvm not supported", node: 0, mutate: func(s *core.Session) { s.System.Nodes[0].NVMSupported = false },
			plan: core.NodePlan{ParamSets: []core.PlanFile{{Path: params}}}, want: core.StatusMissingNVM, errStep: step.UpdateServiceNvmNotSupported},
		{name: "legacy parameter sets", node: 1, plan: core.NodePlan{ParamSets: []core.PlanFile{{Path: params}}}, want: core.StatusMissingNVM, errStep: step.UpdateLegacyFlashError},
		{name: "missing auth file", node: 0, plan: core.NodePlan{AuthFile: filepath.Join(dir, "nope.key")}, want: core.StatusAuthentication, errStep: step.UpdateServiceSecurityKeyError},
		{name: "offline node", node: 1, params: map[string]string{ParamOffline: "1"}, plan: core.NodePlan{Files: []core.PlanFile{{Path: hex}}}, want: core.StatusNoAction, errStep: step.UpdateLegacyWakeupError},
		{name: "injected", node: 0, params: map[string]string{ParamFail: "update=communication"}, plan: core.NodePlan{Files: []core.PlanFile{{Path: hex}}}, want: core.StatusCommunication, errStep: step.UpdateRoutingError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			sess := session(rec)
			if tt.mutate != nil {
				tt.mutate(sess)
			}
			sim := newSim(t, tt.params, "")
			require.Equal(t, core.StatusOK, sim.Init(context.Background(), sess))

			plan := &core.UpdatePlan{Nodes: make([]core.NodePlan, 2), Order: []int{tt.node}}
			tt.plan.NodeIndex = tt.node
			plan.Nodes[tt.node] = tt.plan

			assert.Equal(t, tt.want, sim.UpdateSystem(plan))
			assert.True(t, rec.saw(tt.errStep), "expected %s", tt.errStep)
			isErr, _ := step.Classify(tt.errStep)
			assert.True(t, isErr)
		})
	}
}

func TestSimulator_SkippedNodesAndAbort(t *testing.T) {
	hex := writeHex(t, t.TempDir(), "app.hex", 32, core.AppIdentity{Name: "a", Version: "1"})

	rec := newRecorder()
	sim := newSim(t, nil, "")
	require.Equal(t, core.StatusOK, sim.Init(context.Background(), session(rec)))

	plan := &core.UpdatePlan{Nodes: []core.NodePlan{{NodeIndex: 0, Files: []core.PlanFile{{Path: hex}}}, {NodeIndex: 1}}, Order: []int{0}}
	require.Equal(t, core.StatusOK, sim.UpdateSystem(plan))
	assert.True(t, rec.saw(step.UpdateNodeSkipped))

	rec = newRecorder()
	rec.abortsOn = step.UpdateServiceStart
	sim = newSim(t, nil, "")
	require.Equal(t, core.StatusOK, sim.Init(context.Background(), session(rec)))
	assert.Equal(t, core.StatusAborted, sim.UpdateSystem(plan))
}

func TestSimulator_ActivationAndReset(t *testing.T) {
	rec := newRecorder()
	sim := newSim(t, map[string]string{ParamOffline: "1"}, "")
	require.Equal(t, core.StatusOK, sim.Init(context.Background(), session(rec)))

	assert.Equal(t, core.StatusPartial, sim.ActivateFlashloader())
	assert.True(t, rec.saw(step.ActivateLegacyNodeNotFound))
	assert.Equal(t, core.StatusCommunication, sim.ReadDeviceInformation())
	assert.Equal(t, core.StatusCommunication, sim.ResetSystem())
	assert.True(t, rec.saw(step.ResetLegacyResetError))

	sim = newSim(t, map[string]string{ParamFail: "activate=configuration;reset=io"}, "")
	require.Equal(t, core.StatusOK, sim.Init(context.Background(), session(newRecorder())))
	assert.Equal(t, core.StatusConfiguration, sim.ActivateFlashloader())
	assert.Equal(t, core.StatusIO, sim.ResetSystem())

	sim = newSim(t, map[string]string{ParamFail: "init=buffer-overflow"}, "")
	assert.Equal(t, core.StatusBufferOverflow, sim.Init(context.Background(), session(nil)))
}
