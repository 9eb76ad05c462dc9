package pack

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
)

// Project is the authoring description of a system and the packages built from it.
type Project struct {
	System core.SystemDefinition `yaml:"system"`
	Views  []View                `yaml:"views"`

	// dir resolves relative file references.
	dir string
}

// View selects what one package contains.
type View struct {
	Name      string `yaml:"name"`
	ActiveBus uint8  `yaml:"activeBus"`
	// Order lists node names in update order. Empty means ascending node index.
	Order []string   `yaml:"order,omitempty"`
	Nodes []ViewNode `yaml:"nodes"`
}

// ViewNode is the content of one active node.
type ViewNode struct {
	Node      string        `yaml:"node"`
	Files     []ProjectFile `yaml:"files,omitempty"`
	ParamSets []ProjectFile `yaml:"paramSets,omitempty"`
	AuthFile  string        `yaml:"authFile,omitempty"`
}

// ProjectFile is a file reference. It is written either as a plain path or as a
// mapping with path and skip.
type ProjectFile struct {
	Path string `yaml:"path"`
	Skip bool   `yaml:"skip,omitempty"`
}

// UnmarshalYAML accepts the scalar shorthand.
func (f *ProjectFile) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		f.Path = value.Value
		f.Skip = false
		return nil
	}

	type plain ProjectFile
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*f = ProjectFile(p)
	return nil
}

// LoadProject reads a project file.
func LoadProject(path string) (*Project, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProjectLoad, err)
	}

	var p Project
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProjectLoad, filepath.Base(path), err)
	}
	if len(p.System.Nodes) == 0 {
		return nil, fmt.Errorf("%w: %s defines no nodes", ErrProjectLoad, filepath.Base(path))
	}

	p.dir = filepath.Dir(path)
	return &p, nil
}

// View returns the view with the given name.
func (p *Project) View(name string) (*View, error) {
	for i := range p.Views {
		if p.Views[i].Name == name {
			return &p.Views[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrViewNotFound, name)
}

func (p *Project) resolve(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.dir, rel)
}
