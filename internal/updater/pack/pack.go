package pack

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/mholt/archiver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/internal/updater/pkgload"
	"github.com/autopeer-io/ecuflash/pkg/log"
)

// Options describes one package to create.
type Options struct {
	ProjectFile string
	View        string
	// Output is the .ecupkg file or, with Directory, the package directory.
	Output    string
	Directory bool
	// Force replaces an existing output.
	Force bool

	// Password seals the content of EncryptNodes, or of every active node when
	// EncryptNodes is empty.
	Password     string
	EncryptNodes []string

	// SigningKeyFile is a PEM private key used to sign the manifest.
	SigningKeyFile string
}

// Packer builds update packages from a project.
type Packer struct {
	logger log.Logger
}

// NewPacker creates a Packer.
func NewPacker(logger log.Logger) *Packer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Packer{logger: logger.WithName("pack")}
}

// staged is one file copied into the package.
type staged struct {
	src, rel string
	seal     bool
}

// Create writes the package described by opts and returns its manifest.
func (p *Packer) Create(ctx context.Context, opts Options) (*pkgload.Manifest, error) {
	if err := checkOutput(opts); err != nil {
		return nil, err
	}

	project, err := LoadProject(opts.ProjectFile)
	if err != nil {
		return nil, err
	}
	view, err := project.View(opts.View)
	if err != nil {
		return nil, err
	}

	m, files, err := plan(project, view, opts)
	if err != nil {
		return nil, err
	}

	var key []byte
	if opts.Password != "" {
		m.Encryption, key, err = pkgload.NewEncryption(opts.Password, encryptedNodes(files))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	staging, err := os.MkdirTemp(filepath.Dir(opts.Output), ".cpeer-pack-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer os.RemoveAll(staging)

	if err := p.stage(ctx, staging, files, key); err != nil {
		return nil, err
	}

	raw, err := pkgload.WriteManifest(staging, m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if opts.SigningKeyFile != "" {
		if err := sign(staging, raw, opts.SigningKeyFile); err != nil {
			return nil, err
		}
	}

	if err := publish(staging, opts); err != nil {
		return nil, err
	}

	p.logger.Info("Package created", "output", opts.Output, "view", view.Name,
		"nodes", len(files), "encrypted", m.Encryption != nil, "signed", opts.SigningKeyFile != "")
	return m, nil
}

func checkOutput(opts Options) error {
	if strings.TrimSpace(opts.Output) == "" {
		return fmt.Errorf("%w: no output path", ErrInvalidConfiguration)
	}
	if !opts.Directory && !strings.EqualFold(filepath.Ext(opts.Output), pkgload.Extension) {
		return fmt.Errorf("%w: output must end with %s", ErrInvalidConfiguration, pkgload.Extension)
	}
	if _, err := os.Stat(opts.Output); err == nil && !opts.Force {
		return fmt.Errorf("%w: %s already exists", ErrIO, opts.Output)
	}
	return nil
}

// plan validates the view and builds the manifest plus the per-node file lists.
func plan(project *Project, view *View, opts Options) (*pkgload.Manifest, map[int][]staged, error) {
	system := project.System
	for i, n := range system.Nodes {
		if n.Index != i {
			return nil, nil, fmt.Errorf("%w: node %q has index %d, expected %d", ErrInvalidConfiguration, n.Name, n.Index, i)
		}
	}
	if _, ok := system.Bus(view.ActiveBus); !ok {
		return nil, nil, fmt.Errorf("%w: bus %d is not defined", ErrInvalidConfiguration, view.ActiveBus)
	}

	byName := make(map[string]core.Node, len(system.Nodes))
	for _, n := range system.Nodes {
		byName[n.Name] = n
	}

	for _, name := range opts.EncryptNodes {
		if !slices.ContainsFunc(view.Nodes, func(vn ViewNode) bool { return vn.Node == name }) {
			return nil, nil, fmt.Errorf("%w: node %q to encrypt is not part of the view", ErrInvalidConfiguration, name)
		}
	}
	sealNode := func(name string) bool {
		return opts.Password != "" && (len(opts.EncryptNodes) == 0 || slices.Contains(opts.EncryptNodes, name))
	}

	m := &pkgload.Manifest{
		FormatVersion: pkgload.FormatVersion,
		System:        system,
		ActiveBus:     view.ActiveBus,
	}
	files := map[int][]staged{}
	var missing []string

	for _, vn := range view.Nodes {
		node, ok := byName[vn.Node]
		if !ok {
			return nil, nil, fmt.Errorf("%w: node %q is not defined", ErrInvalidConfiguration, vn.Node)
		}
		if _, dup := files[node.Index]; dup {
			return nil, nil, fmt.Errorf("%w: node %q listed twice", ErrInvalidConfiguration, vn.Node)
		}
		if _, ok := node.InterfaceOn(view.ActiveBus); !ok {
			return nil, nil, fmt.Errorf("%w: node %q is not connected to bus %d", ErrInvalidConfiguration, node.Name, view.ActiveBus)
		}

		seal := sealNode(node.Name)
		dir := path.Join("nodes", fmt.Sprintf("%d_%s", node.Index, sanitize(node.Name)))
		names := map[string]bool{}
		list := []staged{}

		add := func(ref string) (string, error) {
			base := filepath.Base(ref)
			if names[base] {
				return "", fmt.Errorf("%w: node %q references %s twice", ErrInvalidConfiguration, node.Name, base)
			}
			names[base] = true

			src := project.resolve(ref)
			if _, err := os.Stat(src); err != nil {
				missing = append(missing, ref)
			}
			rel := path.Join(dir, base)
			if seal {
				rel += pkgload.EncryptedSuffix
			}
			list = append(list, staged{src: src, rel: rel, seal: seal})
			return rel, nil
		}

		mn := pkgload.ManifestNode{Index: node.Index, Active: true}
		for _, f := range vn.Files {
			if err := checkKind(node, f.Path); err != nil {
				return nil, nil, err
			}
			if f.Skip {
				mn.Files = append(mn.Files, pkgload.ManifestFile{Path: path.Join(dir, filepath.Base(f.Path)), Skip: true})
				continue
			}
			rel, err := add(f.Path)
			if err != nil {
				return nil, nil, err
			}
			mn.Files = append(mn.Files, pkgload.ManifestFile{Path: rel})
		}
		for _, f := range vn.ParamSets {
			if f.Skip {
				mn.ParamSets = append(mn.ParamSets, pkgload.ManifestFile{Path: path.Join(dir, filepath.Base(f.Path)), Skip: true})
				continue
			}
			rel, err := add(f.Path)
			if err != nil {
				return nil, nil, err
			}
			mn.ParamSets = append(mn.ParamSets, pkgload.ManifestFile{Path: rel})
		}
		if vn.AuthFile != "" {
			rel, err := add(vn.AuthFile)
			if err != nil {
				return nil, nil, err
			}
			mn.AuthFile = rel
		}

		m.Nodes = append(m.Nodes, mn)
		files[node.Index] = list
	}

	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: missing files: %s", ErrInvalidConfiguration, strings.Join(missing, ", "))
	}

	// Inactive nodes are listed so the manifest describes the whole system.
	for _, n := range system.Nodes {
		if _, ok := files[n.Index]; !ok {
			m.Nodes = append(m.Nodes, pkgload.ManifestNode{Index: n.Index})
		}
	}
	sort.Slice(m.Nodes, func(i, j int) bool { return m.Nodes[i].Index < m.Nodes[j].Index })

	for _, name := range view.Order {
		node, ok := byName[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: update order names unknown node %q", ErrInvalidConfiguration, name)
		}
		if _, ok := files[node.Index]; !ok {
			return nil, nil, fmt.Errorf("%w: update order names node %q outside the view", ErrInvalidConfiguration, name)
		}
		m.Order = append(m.Order, node.Index)
	}

	if err := m.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return m, files, nil
}

// checkKind rejects content the node cannot receive.
func checkKind(node core.Node, ref string) error {
	isHex := strings.EqualFold(filepath.Ext(ref), ".hex")
	switch {
	case node.Kind == core.KindFile && isHex:
		return fmt.Errorf("%w: node %q receives files, not HEX images (%s)", ErrInvalidConfiguration, node.Name, ref)
	case node.Kind == core.KindAddress && !isHex:
		return fmt.Errorf("%w: node %q needs HEX images (%s)", ErrInvalidConfiguration, node.Name, ref)
	}
	return nil
}

func encryptedNodes(files map[int][]staged) []int {
	var nodes []int
	for idx, list := range files {
		if len(list) > 0 && list[0].seal {
			nodes = append(nodes, idx)
		}
	}
	sort.Ints(nodes)
	return nodes
}

// stage copies every node's content into dir, one worker per node.
func (p *Packer) stage(ctx context.Context, dir string, files map[int][]staged, key []byte) error {
	g, ctx := errgroup.WithContext(ctx)
	for idx, list := range files {
		g.Go(func() error {
			for _, f := range list {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := copyFile(f, dir, key); err != nil {
					return err
				}
			}
			p.logger.Debug("Node staged", "node", idx, "files", len(list))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func copyFile(f staged, dir string, key []byte) error {
	data, err := os.ReadFile(f.src)
	if err != nil {
		return err
	}
	if f.seal {
		if data, err = pkgload.Seal(key, data); err != nil {
			return err
		}
	}

	dst := filepath.Join(dir, filepath.FromSlash(f.rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func sign(dir string, manifest []byte, keyFile string) error {
	key, err := pkgload.LoadPrivateKey(keyFile)
	if err != nil {
		return fmt.Errorf("%w: signing key: %v", ErrInvalidConfiguration, err)
	}
	sig, err := pkgload.Sign(key, manifest)
	if err != nil {
		return fmt.Errorf("%w: signing: %v", ErrInvalidConfiguration, err)
	}
	if err := os.WriteFile(filepath.Join(dir, pkgload.SignatureName), sig, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// publish moves the staging tree to the output, zipped unless Directory is set.
func publish(staging string, opts Options) error {
	if opts.Force {
		if err := os.RemoveAll(opts.Output); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	if opts.Directory {
		if err := os.Rename(staging, opts.Output); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		return nil
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	sources := make([]string, 0, len(entries))
	for _, e := range entries {
		sources = append(sources, filepath.Join(staging, e.Name()))
	}

	tmp := staging + ".zip"
	defer os.Remove(tmp)

	z := archiver.NewZip()
	if err := z.Archive(sources, tmp); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.Rename(tmp, opts.Output); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
