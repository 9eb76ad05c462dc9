package pack

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/ecuflash/internal/updater/pkgload"
	"github.com/autopeer-io/ecuflash/internal/updater/result"
)

const projectYAML = `
system:
  name: bench
  buses:
    - {name: CAN1, index: 0, type: can, bitrate: 500000}
    - {name: ETH1, index: 1, type: ethernet}
  nodes:
    - name: gateway
      index: 0
      protocol: service
      kind: address
      interfaces: [{bus: 0, nodeId: 1}, {bus: 1, nodeId: 1, ip: 10.0.0.1}]
    - name: io
      index: 1
      protocol: legacy
      kind: address
      interfaces: [{bus: 0, nodeId: 2}]
    - name: display
      index: 2
      protocol: service
      kind: file
      interfaces: [{bus: 1, nodeId: 3, ip: 10.0.0.3}]
views:
  - name: full
    activeBus: 0
    order: [io, gateway]
    nodes:
      - node: gateway
        files:
          - fw/gateway.hex
          - {path: fw/boot.hex, skip: true}
        authFile: keys/gateway.auth
      - node: io
        files: [fw/io.hex]
        paramSets: [fw/io.psi]
  - name: display-only
    activeBus: 1
    nodes:
      - node: display
        files: [fw/ui.bin]
  - name: hex-on-file-node
    activeBus: 1
    nodes:
      - node: display
        files: [fw/gateway.hex]
  - name: missing
    activeBus: 0
    nodes:
      - node: io
        files: [fw/absent.hex]
  - name: wrong-bus
    activeBus: 0
    nodes:
      - node: display
        files: [fw/ui.bin]
  - name: unknown-node
    activeBus: 0
    nodes:
      - node: dashboard
        files: [fw/io.hex]
`

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"project.yaml":      projectYAML,
		"fw/gateway.hex":    ":00000001FF\n",
		"fw/io.hex":         ":00000001FF\n",
		"fw/io.psi":         "speed=3\n",
		"fw/ui.bin":         "ui",
		"keys/gateway.auth": "token",
	}
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return filepath.Join(dir, "project.yaml")
}

func load(t *testing.T, src pkgload.Source, sec pkgload.Security) (*pkgload.Manifest, error) {
	t.Helper()
	if src.WorkDir == "" {
		src.WorkDir = filepath.Join(t.TempDir(), "work")
	}
	pkg, err := pkgload.NewLoader(nil, nil).Load(context.Background(), src, sec)
	if err != nil {
		return nil, err
	}
	m, _, err := pkgload.ReadManifest(pkg.Dir)
	require.NoError(t, err)
	return m, nil
}

func TestCreate_Archive(t *testing.T) {
	project := writeProject(t)
	out := filepath.Join(t.TempDir(), "bench"+pkgload.Extension)

	m, err := NewPacker(nil).Create(context.Background(), Options{ProjectFile: project, View: "full", Output: out})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 0}, m.Order)
	require.Len(t, m.Nodes, 3)
	assert.True(t, m.Nodes[0].Active)
	assert.True(t, m.Nodes[0].Files[1].Skip)
	assert.NotEmpty(t, m.Nodes[0].AuthFile)
	assert.False(t, m.Nodes[2].Active)
	assert.Nil(t, m.Encryption)

	loaded, err := load(t, pkgload.Source{Path: out}, pkgload.Security{})
	require.NoError(t, err)
	assert.Equal(t, m.Order, loaded.Order)

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging content is removed")
}

func TestCreate_Directory(t *testing.T) {
	project := writeProject(t)
	out := filepath.Join(t.TempDir(), "display")

	_, err := NewPacker(nil).Create(context.Background(), Options{ProjectFile: project, View: "display-only", Output: out, Directory: true})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(out, pkgload.ManifestName))
	loaded, err := load(t, pkgload.Source{Path: out, Directory: true}, pkgload.Security{})
	require.NoError(t, err)
	assert.Equal(t, uint8(1), loaded.ActiveBus)
}

func TestCreate_ExistingOutput(t *testing.T) {
	project := writeProject(t)
	out := filepath.Join(t.TempDir(), "bench"+pkgload.Extension)
	require.NoError(t, os.WriteFile(out, []byte("old"), 0o644))

	_, err := NewPacker(nil).Create(context.Background(), Options{ProjectFile: project, View: "full", Output: out})
	assert.Equal(t, result.CreateIO, Code(err))

	_, err = NewPacker(nil).Create(context.Background(), Options{ProjectFile: project, View: "full", Output: out, Force: true})
	require.NoError(t, err)
	_, err = load(t, pkgload.Source{Path: out}, pkgload.Security{})
	assert.NoError(t, err)
}

func TestCreate_Encrypted(t *testing.T) {
	project := writeProject(t)
	out := filepath.Join(t.TempDir(), "bench"+pkgload.Extension)

	m, err := NewPacker(nil).Create(context.Background(), Options{
		ProjectFile:  project,
		View:         "full",
		Output:       out,
		Password:     "s3cret",
		EncryptNodes: []string{"io"},
	})
	require.NoError(t, err)
	require.NotNil(t, m.Encryption)
	assert.Equal(t, []int{1}, m.Encryption.Nodes)
	assert.Equal(t, pkgload.EncryptedSuffix, filepath.Ext(m.Nodes[1].Files[0].Path))
	assert.NotEqual(t, pkgload.EncryptedSuffix, filepath.Ext(m.Nodes[0].Files[0].Path))

	_, err = load(t, pkgload.Source{Path: out}, pkgload.Security{Password: "s3cret"})
	assert.NoError(t, err)

	_, err = load(t, pkgload.Source{Path: out}, pkgload.Security{Password: "guess"})
	assert.ErrorIs(t, err, pkgload.ErrAuth)
}

func TestCreate_Signed(t *testing.T) {
	project := writeProject(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "bench"+pkgload.Extension)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	keys := t.TempDir()
	privFile := filepath.Join(keys, "sign.pem")
	pubFile := filepath.Join(keys, "verify.pem")
	require.NoError(t, os.WriteFile(privFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600))
	require.NoError(t, os.WriteFile(pubFile, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644))

	_, err = NewPacker(nil).Create(context.Background(), Options{ProjectFile: project, View: "full", Output: out, SigningKeyFile: privFile})
	require.NoError(t, err)

	_, err = load(t, pkgload.Source{Path: out}, pkgload.Security{PublicKeyFile: pubFile})
	assert.NoError(t, err)
}

func TestCreate_Failures(t *testing.T) {
	project := writeProject(t)

	tests := []struct {
		name string
		opts Options
		want result.Code
	}{
		{"no project", Options{ProjectFile: filepath.Join(t.TempDir(), "absent.yaml"), View: "full"}, result.CreateProjectLoadFailed},
		{"unknown view", Options{ProjectFile: project, View: "nightly"}, result.CreateViewNotFound},
		{"hex on file node", Options{ProjectFile: project, View: "hex-on-file-node"}, result.CreateInvalidConfiguration},
		{"missing file", Options{ProjectFile: project, View: "missing"}, result.CreateInvalidConfiguration},
		{"node not on bus", Options{ProjectFile: project, View: "wrong-bus"}, result.CreateInvalidConfiguration},
		{"unknown node", Options{ProjectFile: project, View: "unknown-node"}, result.CreateInvalidConfiguration},
		{"encrypt node outside view", Options{ProjectFile: project, View: "display-only", Password: "x", EncryptNodes: []string{"io"}}, result.CreateInvalidConfiguration},
		{"bad signing key", Options{ProjectFile: project, View: "full", SigningKeyFile: project}, result.CreateInvalidConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Output = filepath.Join(t.TempDir(), "out"+pkgload.Extension)
			_, err := NewPacker(nil).Create(context.Background(), tt.opts)
			require.Error(t, err)
			assert.Equal(t, tt.want, Code(err))
			assert.NoFileExists(t, tt.opts.Output)
		})
	}

	_, err := NewPacker(nil).Create(context.Background(), Options{ProjectFile: project, View: "full", Output: filepath.Join(t.TempDir(), "out.zip")})
	assert.Equal(t, result.CreateInvalidConfiguration, Code(err))
}

func TestProjectFile_Shorthand(t *testing.T) {
	p, err := LoadProject(writeProject(t))
	require.NoError(t, err)

	v, err := p.View("full")
	require.NoError(t, err)
	assert.Equal(t, ProjectFile{Path: "fw/gateway.hex"}, v.Nodes[0].Files[0])
	assert.Equal(t, ProjectFile{Path: "fw/boot.hex", Skip: true}, v.Nodes[0].Files[1])
}
