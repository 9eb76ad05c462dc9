package sequence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/marcinbor85/gohex"
	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/ecuflash/internal/updater/appid"
	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/internal/updater/step"
)

// SimulatorName is the registry name of the built-in simulator.
const SimulatorName = "simulator"

// Simulator parameters.
const (
	// ParamFail injects statuses per operation: "activate=communication;update=checksum".
	ParamFail = "fail"
	// ParamOffline lists node indices that do not answer: "1;3".
	ParamOffline = "offline"
	// ParamDelay is slept once per transferred block: "5ms".
	ParamDelay = "delay"

	// listSep separates the entries of one parameter value.
	listSep = ";"
)

const (
	opInit     = "init"
	opActivate = "activate"
	opRead     = "read"
	opUpdate   = "update"
	opReset    = "reset"

	blockSize = 256
)

func init() {
	Register(SimulatorName, NewSimulator)
}

type nodeState struct {
	DeviceName string             `yaml:"deviceName"`
	Apps       []core.AppIdentity `yaml:"apps"`
}

type simState struct {
	Nodes map[int]*nodeState `yaml:"nodes"`
}

// Simulator is a device access sequence without hardware. Installed
// applications are kept per node in a YAML file below the state directory.
type Simulator struct {
	stateDir string
	faults   map[string]core.Status
	offline  map[int]bool
	delay    time.Duration

	session  *core.Session
	observer core.Observer
	bus      core.Bus
	state    simState
}

// NewSimulator is the Factory of the simulator.
func NewSimulator(cfg Config) (core.Sequence, error) {
	s := &Simulator{
		stateDir: cfg.StateDir,
		faults:   make(map[string]core.Status),
		offline:  make(map[int]bool),
	}

	if v := cfg.Params[ParamFail]; v != "" {
		for _, pair := range strings.Split(v, listSep) {
			op, name, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				return nil, fmt.Errorf("simulator: fault %q is not op=status", pair)
			}
			st, ok := core.ParseStatus(name)
			if !ok {
				return nil, fmt.Errorf("simulator: unknown status %q", name)
			}
			switch op {
			case opInit, opActivate, opRead, opUpdate, opReset:
				s.faults[op] = st
			default:
				return nil, fmt.Errorf("simulator: unknown operation %q", op)
			}
		}
	}

	if v := cfg.Params[ParamOffline]; v != "" {
		for _, f := range strings.Split(v, listSep) {
			idx, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, fmt.Errorf("simulator: offline node %q: %w", f, err)
			}
			s.offline[idx] = true
		}
	}

	if v := cfg.Params[ParamDelay]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("simulator: delay: %w", err)
		}
		s.delay = d
	}

	return s, nil
}

// Init checks the session the way a protocol stack would before touching the bus.
func (s *Simulator) Init(_ context.Context, sess *core.Session) core.Status {
	if st, ok := s.faults[opInit]; ok {
		return st
	}
	if sess == nil || sess.System == nil {
		return core.StatusConfiguration
	}

	bus, ok := sess.System.Bus(sess.ActiveBus)
	if !ok || len(sess.ActiveNodes) != len(sess.System.Nodes) {
		return core.StatusInvalidParameter
	}
	if sess.Transport == nil || sess.Transport.Type() != bus.Type {
		return core.StatusTransportInit
	}

	for i, n := range sess.System.Nodes {
		if !sess.ActiveNodes[i] {
			continue
		}
		if n.Family != core.FamilyService && n.Family != core.FamilyLegacy {
			return core.StatusUnknownProtocol
		}
		if _, ok := n.InterfaceOn(sess.ActiveBus); !ok {
			return core.StatusRouting
		}
	}

	s.session = sess
	s.bus = bus
	s.observer = sess.Observer
	if s.observer == nil {
		s.observer = nopObserver{}
	}

	if err := s.load(); err != nil {
		return core.StatusConfiguration
	}
	return core.StatusOK
}

func (s *Simulator) ActivateFlashloader() core.Status {
	if s.session == nil {
		return core.StatusNoSystemDefinition
	}

	s.report(step.ActivateStart, 0, s.bus.Name, nil)
	if st, ok := s.faults[opActivate]; ok {
		s.report(step.ActivateRoutingError, int(st), "injected "+st.String(), nil)
		return st
	}

	partial := false

	if services := s.active(core.FamilyService); len(services) > 0 {
		for _, st := range []step.Step{
			step.ActivateServiceBroadcastRequestProgrammingStart,
			step.ActivateServiceBroadcastEcuResetStart,
			step.ActivateServiceBroadcastEnterPreProgrammingStart,
			step.ActivateServiceBroadcastReadSerialStart,
		} {
			s.report(st, 0, "", nil)
			s.wait()
		}
		for _, n := range services {
			if s.offline[n.Index] {
				s.report(step.ActivateServiceReconnectError, 1, n.Name, s.server(n))
				partial = true
			}
		}
	}

	for _, n := range s.active(core.FamilyLegacy) {
		srv := s.server(n)
		s.report(step.ActivateLegacyResetRequestSent, 0, n.Name, srv)
		s.report(step.ActivateLegacyWaitForFlashloaderStart, 0, "", srv)
		s.wait()
		if s.offline[n.Index] {
			s.report(step.ActivateLegacyNodeNotFound, 1, n.Name, srv)
			partial = true
			continue
		}
		s.report(step.ActivateLegacyFlashloaderReached, 0, n.Name, srv)
	}

	s.report(step.ActivateFinished, 0, "", nil)

	if partial {
		return core.StatusPartial
	}
	return core.StatusOK
}

// ReadDeviceInformation scans the active nodes in ascending index order, service nodes first.
func (s *Simulator) ReadDeviceInformation() core.Status {
	if s.session == nil {
		return core.StatusNoSystemDefinition
	}

	s.report(step.ReadInfoStart, 0, "", nil)
	if st, ok := s.faults[opRead]; ok {
		s.report(step.ReadInfoRoutingError, int(st), "injected "+st.String(), nil)
		return st
	}

	status := core.StatusOK
	scan := func(family core.Family, start, reconnectErr, finished step.Step) {
		nodes := s.active(family)
		if len(nodes) == 0 {
			return
		}
		s.report(start, 0, "", nil)
		for _, n := range nodes {
			srv := s.server(n)
			if s.offline[n.Index] {
				s.report(reconnectErr, 1, n.Name, srv)
				status = core.StatusCommunication
				continue
			}
			ns := s.node(n)
			s.observer.ReportDeviceInfo(family, core.DeviceInfo{
				NodeIndex:  n.Index,
				Server:     *srv,
				DeviceName: ns.DeviceName,
				Apps:       append([]core.AppIdentity(nil), ns.Apps...),
			})
			s.wait()
		}
		s.report(finished, 0, "", nil)
	}

	scan(core.FamilyService, step.ReadInfoServiceStart, step.ReadInfoServiceReconnectError, step.ReadInfoServiceFinished)
	scan(core.FamilyLegacy, step.ReadInfoLegacyStart, step.ReadInfoLegacyWakeupError, step.ReadInfoLegacyFinished)

	s.report(step.ReadInfoFinished, 0, "", nil)
	return status
}

func (s *Simulator) UpdateSystem(plan *core.UpdatePlan) core.Status {
	if s.session == nil {
		return core.StatusNoSystemDefinition
	}
	if plan == nil {
		return core.StatusConfiguration
	}

	if s.report(step.UpdateStart, 0, "", nil) {
		return core.StatusAborted
	}
	if st, ok := s.faults[opUpdate]; ok {
		s.report(step.UpdateRoutingError, int(st), "injected "+st.String(), nil)
		return st
	}

	for i, active := range s.session.ActiveNodes {
		if active && !slices.Contains(plan.Order, i) {
			n := s.session.System.Nodes[i]
			s.report(step.UpdateNodeSkipped, 0, n.Name, s.server(n))
		}
	}

	p := &progress{observer: s.observer}
	for _, idx := range plan.Order {
		if np := plan.Node(idx); np != nil {
			p.total += len(np.Files) + len(np.ParamSets)
			if np.AuthFile != "" {
				p.total++
			}
		}
	}

	for _, idx := range plan.Order {
		n, ok := s.session.System.Node(idx)
		np := plan.Node(idx)
		if !ok || np == nil || idx >= len(s.session.ActiveNodes) || !s.session.ActiveNodes[idx] {
			s.report(step.UpdateRoutingError, 1, fmt.Sprintf("node %d", idx), nil)
			return core.StatusRouting
		}

		var st core.Status
		switch n.Family {
		case core.FamilyService:
			st = s.updateService(n, np, p)
		default:
			st = s.updateLegacy(n, np, p)
		}
		if st != core.StatusOK {
			return st
		}

		if err := s.save(); err != nil {
			s.report(step.UpdateRoutingError, 1, err.Error(), s.server(n))
			return core.StatusIO
		}
	}

	s.observer.Progress(100)
	s.report(step.UpdateFinished, 0, "", nil)
	return core.StatusOK
}

func (s *Simulator) updateService(n core.Node, np *core.NodePlan, p *progress) core.Status {
	srv := s.server(n)
	if s.report(step.UpdateServiceStart, 0, n.Name, srv) {
		return core.StatusAborted
	}
	if s.offline[n.Index] {
		s.report(step.UpdateServiceReconnectError, 1, n.Name, srv)
		return core.StatusNoAction
	}
	s.report(step.UpdateServiceCheckDeviceNameStart, 0, s.node(n).DeviceName, srv)

	for _, f := range np.Files {
		name := filepath.Base(f.Path)
		img, st := readImage(f.Path)

		if n.Kind == core.KindFile {
			if st == core.StatusIO {
				s.report(step.UpdateServiceFileOpenError, 1, name, srv)
				return st
			}
			s.report(step.UpdateServiceFileRequestTransferStart, 0, name, srv)
			if st != core.StatusOK {
				s.report(step.UpdateServiceFileTransferDataError, int(st), name, srv)
				return st
			}
			s.report(step.UpdateServiceFileTransferDataStart, 0, name, srv)
			s.transfer(img, nil)
			s.report(step.UpdateServiceFileTransferExitStart, 0, name, srv)
			s.report(step.UpdateServiceFileFinished, 0, name, srv)
		} else {
			s.report(step.UpdateServiceHexOpenStart, 0, name, srv)
			switch st {
			case core.StatusOK:
			case core.StatusIO, core.StatusChecksum:
				s.report(step.UpdateServiceHexOpenError, int(st), name, srv)
				return st
			default:
				s.report(step.UpdateServiceAreaTransferDataError, int(st), name, srv)
				return st
			}
			for _, seg := range img.segments {
				area := fmt.Sprintf("0x%08X (%d bytes)", seg.Address, len(seg.Data))
				s.report(step.UpdateServiceAreaRequestDownloadStart, 0, area, srv)
				s.report(step.UpdateServiceAreaTransferDataStart, 0, area, srv)
				s.transfer(img, nil)
				s.report(step.UpdateServiceAreaTransferExitStart, 0, area, srv)
			}
			s.report(step.UpdateServiceAreaFinished, 0, name, srv)
		}

		s.install(n, f.Position, img.identity)
		p.advance()
	}

	for _, f := range np.ParamSets {
		name := filepath.Base(f.Path)
		s.report(step.UpdateServiceNvmWriteStart, 0, name, srv)
		if !n.NVMSupported {
			s.report(step.UpdateServiceNvmNotSupported, 1, name, srv)
			return core.StatusMissingNVM
		}
		if _, err := os.Stat(f.Path); err != nil {
			s.report(step.UpdateServiceNvmOpenFileError, 1, name, srv)
			return core.StatusIO
		}
		s.wait()
		s.report(step.UpdateServiceNvmWriteFinished, 0, name, srv)
		p.advance()
	}

	if np.AuthFile != "" {
		name := filepath.Base(np.AuthFile)
		s.report(step.UpdateServiceSecurityKeyStart, 0, name, srv)
		if data, err := os.ReadFile(np.AuthFile); err != nil || len(data) == 0 {
			s.report(step.UpdateServiceSecurityKeyError, 1, name, srv)
			return core.StatusAuthentication
		}
		p.advance()
	}

	s.report(step.UpdateServiceFinished, 0, n.Name, srv)
	return core.StatusOK
}

func (s *Simulator) updateLegacy(n core.Node, np *core.NodePlan, p *progress) core.Status {
	srv := s.server(n)
	if s.report(step.UpdateLegacyStart, 0, n.Name, srv) {
		return core.StatusAborted
	}
	if s.offline[n.Index] {
		s.report(step.UpdateLegacyWakeupError, 1, n.Name, srv)
		return core.StatusNoAction
	}
	if n.Kind == core.KindFile || np.AuthFile != "" {
		s.report(step.UpdateLegacyFlashError, 1, "file based content is not supported by the legacy protocol", srv)
		return core.StatusConfiguration
	}
	if len(np.ParamSets) > 0 {
		s.report(step.UpdateLegacyFlashError, 1, "parameter sets are not supported by the legacy protocol", srv)
		return core.StatusMissingNVM
	}

	for _, f := range np.Files {
		name := filepath.Base(f.Path)
		img, st := readImage(f.Path)
		switch st {
		case core.StatusOK:
		case core.StatusIO, core.StatusChecksum:
			s.report(step.UpdateLegacyHexOpenError, int(st), name, srv)
			return st
		default:
			s.report(step.UpdateLegacyFlashError, int(st), name, srv)
			return st
		}

		s.report(step.UpdateLegacyFlashStart, 0, name, srv)
		aborted := s.transfer(img, func(info string) bool {
			return s.report(step.UpdateLegacyFlashProgress, 0, info, srv)
		})
		if aborted {
			return core.StatusAborted
		}
		s.report(step.UpdateLegacyFlashProgress, 0, fmt.Sprintf("%d bytes written", img.size()), srv)

		s.install(n, f.Position, img.identity)
		p.advance()
	}

	s.report(step.UpdateLegacyFinished, 0, n.Name, srv)
	return core.StatusOK
}

func (s *Simulator) ResetSystem() core.Status {
	if s.session == nil {
		return core.StatusNoSystemDefinition
	}

	s.report(step.ResetStart, 0, "", nil)
	if st, ok := s.faults[opReset]; ok {
		s.report(step.ResetServiceBroadcastEcuResetError, int(st), "injected "+st.String(), nil)
		return st
	}

	status := core.StatusOK
	for _, n := range s.active(core.FamilyService) {
		if s.offline[n.Index] {
			s.report(step.ResetServiceEcuResetError, 1, n.Name, s.server(n))
			status = core.StatusCommunication
		}
	}
	for _, n := range s.active(core.FamilyLegacy) {
		if s.offline[n.Index] {
			s.report(step.ResetLegacyResetError, 1, n.Name, s.server(n))
			status = core.StatusCommunication
		}
	}

	s.report(step.ResetFinished, 0, "", nil)
	return status
}

// Installed returns the applications the simulator holds for a node.
func (s *Simulator) Installed(index int) []core.AppIdentity {
	if ns, ok := s.state.Nodes[index]; ok {
		return append([]core.AppIdentity(nil), ns.Apps...)
	}
	return nil
}

func (s *Simulator) report(st step.Step, sub int, info string, server *core.ServerID) bool {
	return s.observer.Report(st, sub, info, server)
}

func (s *Simulator) wait() {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
}

// transfer walks the image block by block. emit receives the per block info texts.
func (s *Simulator) transfer(img *image, emit func(info string) bool) bool {
	for _, seg := range img.segments {
		if emit != nil && (emit(step.InfoLegacyAddressSent) || emit(step.InfoLegacyEraseWait)) {
			return true
		}
		for off := 0; off < len(seg.Data); off += blockSize {
			s.wait()
			if emit != nil && (emit(step.InfoLegacyBlockSent) || emit(step.InfoLegacyBlockCRC)) {
				return true
			}
		}
	}
	return false
}

func (s *Simulator) active(family core.Family) []core.Node {
	var nodes []core.Node
	for i, n := range s.session.System.Nodes {
		if s.session.ActiveNodes[i] && n.Family == family {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func (s *Simulator) server(n core.Node) *core.ServerID {
	i, _ := n.InterfaceOn(s.session.ActiveBus)
	return &core.ServerID{Bus: s.session.ActiveBus, Node: i.NodeID}
}

func (s *Simulator) node(n core.Node) *nodeState {
	ns, ok := s.state.Nodes[n.Index]
	if !ok {
		ns = &nodeState{DeviceName: n.Name}
		s.state.Nodes[n.Index] = ns
	}
	return ns
}

func (s *Simulator) install(n core.Node, position int, id core.AppIdentity) {
	ns := s.node(n)
	for len(ns.Apps) <= position {
		ns.Apps = append(ns.Apps, core.AppIdentity{})
	}
	ns.Apps[position] = id
}

func (s *Simulator) statePath() string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s.session.System.Name)
	if name == "" {
		name = "system"
	}
	return filepath.Join(s.stateDir, name+".yaml")
}

func (s *Simulator) load() error {
	s.state = simState{Nodes: make(map[int]*nodeState)}
	if s.stateDir == "" {
		return nil
	}

	raw, err := os.ReadFile(s.statePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, &s.state); err != nil {
		return fmt.Errorf("simulator state %s: %w", s.statePath(), err)
	}
	if s.state.Nodes == nil {
		s.state.Nodes = make(map[int]*nodeState)
	}
	return nil
}

func (s *Simulator) save() error {
	if s.stateDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.stateDir, 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(&s.state)
	if err != nil {
		return err
	}
	return os.WriteFile(s.statePath(), raw, 0o644)
}

type image struct {
	identity core.AppIdentity
	segments []gohex.DataSegment
}

func (i *image) size() int {
	n := 0
	for _, seg := range i.segments {
		n += len(seg.Data)
	}
	return n
}

// readImage loads a HEX or raw image. Images without identity block are named after the file.
func readImage(path string) (*image, core.Status) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, core.StatusIO
	}

	img := &image{}
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		mem := gohex.NewMemory()
		if err := mem.ParseIntelHex(bytes.NewReader(raw)); err != nil {
			return nil, core.StatusChecksum
		}
		img.segments = mem.GetDataSegments()
	} else {
		img.segments = []gohex.DataSegment{{Address: 0, Data: raw}}
	}

	if img.size() == 0 {
		return nil, core.StatusSizeMismatch
	}

	img.identity = core.AppIdentity{Name: filepath.Base(path)}
	for _, seg := range img.segments {
		if id, err := appid.Decode(seg.Data); err == nil {
			img.identity = id
			break
		}
	}
	return img, core.StatusOK
}

type progress struct {
	observer    core.Observer
	done, total int
}

// advance counts one written item. Progress never reports 100 before the update finished.
func (p *progress) advance() {
	p.done++
	if p.total > 0 {
		p.observer.Progress(min(p.done*100/p.total, 99))
	}
}

type nopObserver struct{}

func (nopObserver) Report(step.Step, int, string, *core.ServerID) bool { return false }
func (nopObserver) Progress(int)                                        {}
func (nopObserver) ReportDeviceInfo(core.Family, core.DeviceInfo)       {}
