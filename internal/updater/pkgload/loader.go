package pkgload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/mholt/archiver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/pkg/log"
)

// Source names the package to load.
type Source struct {
	Path string
	// Directory declares an unpacked package. A trailing path separator implies it.
	Directory bool
	// WorkDir receives unpacked, downloaded and decrypted content. It is erased first.
	WorkDir string
}

// IsDirectory reports the declared kind of the source.
func (s Source) IsDirectory() bool {
	return s.Directory || strings.HasSuffix(s.Path, "/") || strings.HasSuffix(s.Path, string(filepath.Separator))
}

func (s Source) workDir() string {
	if s.WorkDir != "" {
		return s.WorkDir
	}
	return filepath.Join(os.TempDir(), "cpeer-flash")
}

// Security holds the shared secrets of a package.
type Security struct {
	Password      string
	PublicKeyFile string
}

// ValidatePath checks the path and its declared kind without touching the file system.
func ValidatePath(src Source) error {
	if strings.TrimSpace(src.Path) == "" {
		return ErrNoPath
	}
	if src.IsDirectory() {
		return nil
	}
	if ext := filepath.Ext(src.Path); !strings.EqualFold(ext, Extension) {
		return fmt.Errorf("%w: %q, expected %s", ErrWrongExtension, ext, Extension)
	}
	return nil
}

// Loader turns an update package into a core.Package.
type Loader struct {
	logger  log.Logger
	fetcher Fetcher
}

// NewLoader creates a Loader. fetcher may be nil when remote sources are not configured.
func NewLoader(logger log.Logger, fetcher Fetcher) *Loader {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Loader{logger: logger.WithName("pkgload"), fetcher: fetcher}
}

// Load validates, unpacks, authenticates and decrypts a package.
func (l *Loader) Load(ctx context.Context, src Source, sec Security) (*core.Package, error) {
	if err := ValidatePath(src); err != nil {
		return nil, err
	}

	work := src.workDir()
	path := src.Path

	if IsRemote(path) {
		if l.fetcher == nil {
			return nil, fmt.Errorf("%w: no remote storage configured for %s", ErrFetch, path)
		}
		local, err := l.fetcher.Fetch(ctx, path, filepath.Join(work, "download"))
		if err != nil {
			return nil, err
		}
		l.logger.Info("Package downloaded", "source", path, "local", local)
		path = local
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	for _, sub := range []string{"unpacked", "plain"} {
		if err := os.RemoveAll(filepath.Join(work, sub)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrErase, err)
		}
	}

	dir := path
	if src.IsDirectory() {
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrCorrupt, path)
		}
	} else {
		dir = filepath.Join(work, "unpacked")
		if err := unpack(path, dir); err != nil {
			return nil, err
		}
		l.logger.Info("Package extracted", "archive", path, "dir", dir)
	}

	m, raw, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	if err := l.verifySignature(dir, raw, sec.PublicKeyFile); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	if err := checkFiles(dir, m); err != nil {
		return nil, err
	}

	plain := map[string]string{}
	if m.Encryption != nil {
		plain, err = decrypt(ctx, dir, filepath.Join(work, "plain"), m, sec.Password)
		if err != nil {
			return nil, err
		}
		l.logger.Info("Package content decrypted", "nodes", len(m.Encryption.Nodes))
	} else if err := rejectSealed(m); err != nil {
		return nil, err
	}

	return buildPackage(dir, m, plain), nil
}

func unpack(archive, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrErase, err)
	}

	z := archiver.NewZip()
	z.OverwriteExisting = true
	if err := z.Unarchive(archive, dir); err != nil {
		return fmt.Errorf("%w: %v", ErrUnzip, err)
	}
	return nil
}

func (l *Loader) verifySignature(dir string, manifest []byte, publicKeyFile string) error {
	sigPath := filepath.Join(dir, SignatureName)

	if publicKeyFile == "" {
		if _, err := os.Stat(sigPath); err == nil {
			l.logger.Warn("Package is signed but no public key was given, signature not checked")
		}
		return nil
	}

	pub, err := LoadPublicKey(publicKeyFile)
	if err != nil {
		return &AuthError{Reason: fmt.Sprintf("public key: %v", err)}
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return &AuthError{Reason: "the package carries no signature"}
	}
	return Verify(pub, manifest, sig)
}

// checkFiles reports every referenced file of an active node that is not present.
func checkFiles(dir string, m *Manifest) error {
	var missing []string
	check := func(rel string) {
		if rel == "" {
			return
		}
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			missing = append(missing, rel)
		}
	}

	for _, n := range m.Nodes {
		if !n.Active {
			continue
		}
		for _, f := range n.Files {
			if !f.Skip {
				check(f.Path)
			}
		}
		for _, f := range n.ParamSets {
			if !f.Skip {
				check(f.Path)
			}
		}
		check(n.AuthFile)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFiles, strings.Join(missing, ", "))
	}
	return nil
}

// rejectSealed fails when sealed content appears in a package without encryption header.
func rejectSealed(m *Manifest) error {
	for _, n := range m.Nodes {
		for _, rel := range nodePaths(n) {
			if strings.HasSuffix(rel, EncryptedSuffix) {
				return &AuthError{Reason: fmt.Sprintf("node %d carries encrypted content but the package has no encryption header", n.Index)}
			}
		}
	}
	return nil
}

func nodePaths(n ManifestNode) []string {
	var paths []string
	for _, f := range n.Files {
		if !f.Skip {
			paths = append(paths, f.Path)
		}
	}
	for _, f := range n.ParamSets {
		if !f.Skip {
			paths = append(paths, f.Path)
		}
	}
	if n.AuthFile != "" {
		paths = append(paths, n.AuthFile)
	}
	return paths
}

// decrypt opens the sealed content of every encrypted node. It returns relative path to plain file path.
func decrypt(ctx context.Context, dir, out string, m *Manifest, password string) (map[string]string, error) {
	enc := m.Encryption

	for _, idx := range enc.Nodes {
		n := m.node(idx)
		if n == nil || !n.Active {
			return nil, &AuthError{Reason: fmt.Sprintf("node list mismatch: encrypted node %d is not active in the package", idx)}
		}
	}
	for _, n := range m.Nodes {
		if !n.Active || slices.Contains(enc.Nodes, n.Index) {
			continue
		}
		for _, rel := range nodePaths(n) {
			if strings.HasSuffix(rel, EncryptedSuffix) {
				return nil, &AuthError{Reason: fmt.Sprintf("node list mismatch: node %d has encrypted content but is not listed", n.Index)}
			}
		}
	}

	key, err := enc.unlock(password)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		plain = map[string]string{}
	)

	g, _ := errgroup.WithContext(ctx)
	for _, idx := range enc.Nodes {
		n := m.node(idx)
		g.Go(func() error {
			for _, rel := range nodePaths(*n) {
				if !strings.HasSuffix(rel, EncryptedSuffix) {
					continue
				}
				target := filepath.Join(out, fmt.Sprint(n.Index), strings.TrimSuffix(rel, EncryptedSuffix))
				if err := openFile(key, filepath.Join(dir, rel), target); err != nil {
					return err
				}
				mu.Lock()
				plain[rel] = target
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return plain, nil
}

func openFile(key []byte, src, dst string) error {
	sealed, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingFiles, err)
	}
	data, err := Open(key, sealed)
	if err != nil {
		return fmt.Errorf("%w: %s could not be decrypted", ErrCorrupt, filepath.Base(src))
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrErase, err)
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrErase, err)
	}
	return nil
}

func buildPackage(dir string, m *Manifest, plain map[string]string) *core.Package {
	system := m.System
	count := len(system.Nodes)

	resolve := func(rel string) string {
		if p, ok := plain[rel]; ok {
			return p
		}
		return filepath.Join(dir, rel)
	}

	pkg := &core.Package{
		Dir:         dir,
		System:      &system,
		ActiveBus:   m.ActiveBus,
		ActiveNodes: make([]bool, count),
		Plan: &core.UpdatePlan{
			Nodes: make([]core.NodePlan, count),
			Order: m.updateOrder(),
		},
	}

	for i := range pkg.Plan.Nodes {
		pkg.Plan.Nodes[i].NodeIndex = i
	}

	for _, n := range m.Nodes {
		if n.Index < 0 || n.Index >= count || !n.Active {
			continue
		}
		pkg.ActiveNodes[n.Index] = true

		np := &pkg.Plan.Nodes[n.Index]
		for i, f := range n.Files {
			if !f.Skip {
				np.Files = append(np.Files, core.PlanFile{Path: resolve(f.Path), Position: i})
			}
		}
		for i, f := range n.ParamSets {
			if !f.Skip {
				np.ParamSets = append(np.ParamSets, core.PlanFile{Path: resolve(f.Path), Position: i})
			}
		}
		if n.AuthFile != "" {
			np.AuthFile = resolve(n.AuthFile)
		}
	}

	return pkg
}
