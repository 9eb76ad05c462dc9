package pkgload

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
)

const (
	// Extension is the file extension of packed update packages.
	Extension = ".ecupkg"

	// ManifestName is the manifest file at the root of every package.
	ManifestName = "package.yaml"

	// SignatureName holds the detached signature of the manifest.
	SignatureName = "package.yaml.sig"

	// EncryptedSuffix marks node content sealed with the package password.
	EncryptedSuffix = ".enc"

	// FormatVersion is the only manifest layout this loader understands.
	FormatVersion = 1
)

// Manifest is the on-disk description of an update package.
type Manifest struct {
	FormatVersion int                   `yaml:"formatVersion"`
	System        core.SystemDefinition `yaml:"system"`
	ActiveBus     uint8                 `yaml:"activeBus"`
	Nodes         []ManifestNode        `yaml:"nodes"`
	// Order lists node indices in update order. Defaults to all active nodes ascending.
	Order      []int       `yaml:"order,omitempty"`
	Encryption *Encryption `yaml:"encryption,omitempty"`
}

// ManifestNode is the content packaged for one node.
type ManifestNode struct {
	Index     int            `yaml:"index"`
	Active    bool           `yaml:"active"`
	Files     []ManifestFile `yaml:"files,omitempty"`
	ParamSets []ManifestFile `yaml:"paramSets,omitempty"`
	AuthFile  string         `yaml:"authFile,omitempty"`
}

// ManifestFile is one packaged file. Skipped entries keep their position but are not written.
type ManifestFile struct {
	Path string `yaml:"path"`
	Skip bool   `yaml:"skip,omitempty"`
}

// Encryption describes password protection of node content.
type Encryption struct {
	Salt       string `yaml:"salt"`
	Iterations int    `yaml:"iterations"`
	// Check is a sealed known value used to tell a wrong password from corrupt content.
	Check string `yaml:"check"`
	Nodes []int  `yaml:"nodes"`
}

// ReadManifest parses the manifest of an unpacked package.
func ReadManifest(dir string) (*Manifest, []byte, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	if m.FormatVersion != FormatVersion {
		return nil, nil, fmt.Errorf("%w: manifest format %d is not supported", ErrCorrupt, m.FormatVersion)
	}
	return &m, raw, nil
}

// WriteManifest stores a manifest at the root of dir.
func WriteManifest(dir string, m *Manifest) ([]byte, error) {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}
	return raw, os.WriteFile(filepath.Join(dir, ManifestName), raw, 0o644)
}

// Validate checks the manifest against its own system definition.
func (m *Manifest) Validate() error {
	for i, n := range m.System.Nodes {
		if n.Index != i {
			return fmt.Errorf("%w: node %q has index %d, expected %d", ErrCorrupt, n.Name, n.Index, i)
		}
	}

	if _, ok := m.System.Bus(m.ActiveBus); !ok {
		return fmt.Errorf("%w: active bus %d is not defined", ErrCorrupt, m.ActiveBus)
	}

	seen := make(map[int]bool, len(m.Nodes))
	for _, n := range m.Nodes {
		if _, ok := m.System.Node(n.Index); !ok {
			return fmt.Errorf("%w: node %d is not defined", ErrCorrupt, n.Index)
		}
		if seen[n.Index] {
			return fmt.Errorf("%w: node %d listed twice", ErrCorrupt, n.Index)
		}
		seen[n.Index] = true
	}

	for _, idx := range m.Order {
		if !m.isActive(idx) {
			return fmt.Errorf("%w: update order names inactive node %d", ErrCorrupt, idx)
		}
	}
	return nil
}

func (m *Manifest) isActive(index int) bool {
	for _, n := range m.Nodes {
		if n.Index == index {
			return n.Active
		}
	}
	return false
}

func (m *Manifest) node(index int) *ManifestNode {
	for i := range m.Nodes {
		if m.Nodes[i].Index == index {
			return &m.Nodes[i]
		}
	}
	return nil
}

// updateOrder returns the explicit order or all active nodes ascending.
func (m *Manifest) updateOrder() []int {
	if len(m.Order) > 0 {
		return append([]int(nil), m.Order...)
	}
	var order []int
	for _, n := range m.Nodes {
		if n.Active {
			order = append(order, n.Index)
		}
	}
	sort.Ints(order)
	return order
}
