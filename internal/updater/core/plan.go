package core

// PlanFile is one file scheduled for a node.
type PlanFile struct {
	Path string `json:"path" yaml:"path"`
	// Position is the index of the file within the node's list as packaged.
	// It stays stable when other entries are dropped.
	Position int `json:"position" yaml:"position"`
}

// NodePlan lists what will be written to one node.
type NodePlan struct {
	NodeIndex int        `json:"nodeIndex"`
	Files     []PlanFile `json:"files,omitempty"`
	ParamSets []PlanFile `json:"paramSets,omitempty"`
	AuthFile  string     `json:"authFile,omitempty"`
}

// Empty reports whether nothing is left to write to the node.
func (p *NodePlan) Empty() bool {
	return len(p.Files) == 0 && len(p.ParamSets) == 0 && p.AuthFile == ""
}

// UpdatePlan is the per-node write plan plus the order nodes are processed in.
type UpdatePlan struct {
	// Nodes is indexed by absolute node index.
	Nodes []NodePlan `json:"nodes"`
	// Order holds node indices. A node may be active and still be absent here.
	Order []int `json:"order"`
}

// Node returns the plan of a node index, or nil.
func (p *UpdatePlan) Node(index int) *NodePlan {
	if index < 0 || index >= len(p.Nodes) {
		return nil
	}
	return &p.Nodes[index]
}

// RemoveFromOrder drops a node index from the update order.
func (p *UpdatePlan) RemoveFromOrder(index int) bool {
	for i, n := range p.Order {
		if n == index {
			p.Order = append(p.Order[:i], p.Order[i+1:]...)
			return true
		}
	}
	return false
}

// Package is a loaded update package.
type Package struct {
	// Dir is the directory all plan paths are resolved against.
	Dir         string
	System      *SystemDefinition
	ActiveBus   uint8
	ActiveNodes []bool
	Plan        *UpdatePlan
}

// IsActive reports whether a node index takes part in the update.
func (p *Package) IsActive(index int) bool {
	return index >= 0 && index < len(p.ActiveNodes) && p.ActiveNodes[index]
}

// DeviceInfo is what a device scan reports about one node.
type DeviceInfo struct {
	NodeIndex  int           `json:"nodeIndex"`
	Server     ServerID      `json:"server"`
	DeviceName string        `json:"deviceName"`
	Apps       []AppIdentity `json:"apps"`
}

// Inventory holds the scanned devices of both protocol families in discovery order.
type Inventory struct {
	Service []DeviceInfo
	Legacy  []DeviceInfo
}

// Add appends a scanned device to the list of its family.
func (inv *Inventory) Add(family Family, info DeviceInfo) {
	switch family {
	case FamilyService:
		inv.Service = append(inv.Service, info)
	case FamilyLegacy:
		inv.Legacy = append(inv.Legacy, info)
	}
}

// Reset clears both lists.
func (inv *Inventory) Reset() {
	inv.Service = nil
	inv.Legacy = nil
}

// Of returns the list of a family.
func (inv *Inventory) Of(family Family) []DeviceInfo {
	switch family {
	case FamilyService:
		return inv.Service
	case FamilyLegacy:
		return inv.Legacy
	}
	return nil
}

// Lookup finds the scanned applications of a node.
func (inv *Inventory) Lookup(family Family, nodeIndex int) ([]AppIdentity, bool) {
	for _, d := range inv.Of(family) {
		if d.NodeIndex == nodeIndex {
			return d.Apps, true
		}
	}
	return nil, false
}

// Clone returns a deep copy.
func (inv *Inventory) Clone() Inventory {
	cp := func(in []DeviceInfo) []DeviceInfo {
		if in == nil {
			return nil
		}
		out := make([]DeviceInfo, len(in))
		for i, d := range in {
			d.Apps = append([]AppIdentity(nil), d.Apps...)
			out[i] = d
		}
		return out
	}
	return Inventory{Service: cp(inv.Service), Legacy: cp(inv.Legacy)}
}
