package core

import (
	"fmt"
	"strings"
)

// ServerID addresses one node on one bus.
type ServerID struct {
	Bus  uint8 `json:"bus" yaml:"bus"`
	Node uint8 `json:"node" yaml:"node"`
}

func (s ServerID) String() string {
	return fmt.Sprintf("Bus %d Node %d", s.Bus, s.Node)
}

// Family is the flashloader protocol family of a node.
type Family string

const (
	FamilyNone    Family = "none"
	FamilyService Family = "service"
	FamilyLegacy  Family = "legacy"
)

// Kind tells how a node receives its content.
type Kind string

const (
	// KindAddress nodes get HEX files written to flash addresses.
	KindAddress Kind = "address"
	// KindFile nodes get opaque files written to a file system.
	KindFile Kind = "file"
)

// BusType is the physical kind of a bus.
type BusType string

const (
	BusCAN      BusType = "can"
	BusEthernet BusType = "ethernet"
)

// AppIdentity is the name/version/build identity of one application.
type AppIdentity struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	BuildDate string `json:"buildDate,omitempty" yaml:"buildDate,omitempty"`
	BuildTime string `json:"buildTime,omitempty" yaml:"buildTime,omitempty"`
}

// Normalize trims surrounding whitespace from every field.
func (a AppIdentity) Normalize() AppIdentity {
	return AppIdentity{
		Name:      strings.TrimSpace(a.Name),
		Version:   strings.TrimSpace(a.Version),
		BuildDate: strings.TrimSpace(a.BuildDate),
		BuildTime: strings.TrimSpace(a.BuildTime),
	}
}

// SameApp reports whether two identities carry the same name and version.
// Comparison is case-sensitive after trimming; build date and time are ignored.
func (a AppIdentity) SameApp(b AppIdentity) bool {
	x, y := a.Normalize(), b.Normalize()
	return x.Name == y.Name && x.Version == y.Version
}

func (a AppIdentity) String() string {
	return fmt.Sprintf("%s %s", a.Name, a.Version)
}

// Bus describes one bus of the system definition.
type Bus struct {
	Name    string  `json:"name" yaml:"name"`
	Index   uint8   `json:"index" yaml:"index"`
	Type    BusType `json:"type" yaml:"type"`
	Bitrate uint32  `json:"bitrate,omitempty" yaml:"bitrate,omitempty"`
}

// NodeInterface is the connection of a node to a bus.
type NodeInterface struct {
	Bus    uint8  `json:"bus" yaml:"bus"`
	NodeID uint8  `json:"nodeId" yaml:"nodeId"`
	IP     string `json:"ip,omitempty" yaml:"ip,omitempty"`
}

// Node describes one device of the system definition.
type Node struct {
	Name         string          `json:"name" yaml:"name"`
	Index        int             `json:"index" yaml:"index"`
	Family       Family          `json:"protocol" yaml:"protocol"`
	Kind         Kind            `json:"kind" yaml:"kind"`
	NVMSupported bool            `json:"nvmSupported,omitempty" yaml:"nvmSupported,omitempty"`
	Interfaces   []NodeInterface `json:"interfaces" yaml:"interfaces"`
}

// InterfaceOn returns the node's connection to the given bus.
func (n Node) InterfaceOn(bus uint8) (NodeInterface, bool) {
	for _, i := range n.Interfaces {
		if i.Bus == bus {
			return i, true
		}
	}
	return NodeInterface{}, false
}

// SystemDefinition is the description of every bus and node of a system.
type SystemDefinition struct {
	Name  string `json:"name" yaml:"name"`
	Buses []Bus  `json:"buses" yaml:"buses"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
}

// Bus returns the bus with the given index.
func (s *SystemDefinition) Bus(index uint8) (Bus, bool) {
	for _, b := range s.Buses {
		if b.Index == index {
			return b, true
		}
	}
	return Bus{}, false
}

// Node returns the node with the given absolute index.
func (s *SystemDefinition) Node(index int) (Node, bool) {
	for _, n := range s.Nodes {
		if n.Index == index {
			return n, true
		}
	}
	return Node{}, false
}
