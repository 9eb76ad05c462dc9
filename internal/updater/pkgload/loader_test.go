package pkgload

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mholt/archiver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
)

func testSystem() core.SystemDefinition {
	return core.SystemDefinition{
		Name:  "bench",
		Buses: []core.Bus{{Name: "CAN1", Index: 0, Type: core.BusCAN, Bitrate: 500000}},
		Nodes: []core.Node{
			{Name: "gateway", Index: 0, Family: core.FamilyService, Kind: core.KindAddress, Interfaces: []core.NodeInterface{{Bus: 0, NodeID: 1}}},
			{Name: "io", Index: 1, Family: core.FamilyLegacy, Kind: core.KindAddress, Interfaces: []core.NodeInterface{{Bus: 0, NodeID: 2}}},
			{Name: "display", Index: 2, Family: core.FamilyService, Kind: core.KindFile, Interfaces: []core.NodeInterface{{Bus: 0, NodeID: 3}}},
		},
	}
}

func testManifest() *Manifest {
	return &Manifest{
		FormatVersion: FormatVersion,
		System:        testSystem(),
		Nodes: []ManifestNode{
			{Index: 0, Active: true, Files: []ManifestFile{{Path: "gateway/app.hex"}, {Path: "gateway/boot.hex", Skip: true}, {Path: "gateway/data.hex"}}},
			{Index: 1, Active: true, Files: []ManifestFile{{Path: "io/app.hex"}}, ParamSets: []ManifestFile{{Path: "io/params.syde_psi"}}},
			{Index: 2, Active: false, Files: []ManifestFile{{Path: "display/ui.bin"}}},
		},
	}
}

func writeFiles(t *testing.T, dir string, m *Manifest) {
	t.Helper()
	for _, n := range m.Nodes {
		for _, rel := range nodePaths(n) {
			p := filepath.Join(dir, rel)
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
			require.NoError(t, os.WriteFile(p, []byte("content of "+rel), 0o644))
		}
	}
}

func writeDirPackage(t *testing.T, m *Manifest) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "pkg")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeFiles(t, dir, m)
	_, err := WriteManifest(dir, m)
	require.NoError(t, err)
	return dir
}

func zipPackage(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sources []string
	for _, e := range entries {
		sources = append(sources, filepath.Join(dir, e.Name()))
	}

	out := t.TempDir()
	tmp := filepath.Join(out, "bench.zip")
	require.NoError(t, archiver.NewZip().Archive(sources, tmp))
	target := filepath.Join(out, "bench"+Extension)
	require.NoError(t, os.Rename(tmp, target))
	return target
}

func load(t *testing.T, src Source, sec Security) (*core.Package, error) {
	t.Helper()
	if src.WorkDir == "" {
		src.WorkDir = t.TempDir()
	}
	return NewLoader(nil, nil).Load(context.Background(), src, sec)
}

func TestValidatePath(t *testing.T) {
	assert.ErrorIs(t, ValidatePath(Source{}), ErrNoPath)
	assert.ErrorIs(t, ValidatePath(Source{Path: "  "}), ErrNoPath)
	assert.ErrorIs(t, ValidatePath(Source{Path: "update.zip"}), ErrWrongExtension)
	assert.NoError(t, ValidatePath(Source{Path: "update.ECUPKG"}))
	assert.NoError(t, ValidatePath(Source{Path: "some/dir/"}))
	assert.NoError(t, ValidatePath(Source{Path: "some/dir", Directory: true}))
}

func TestLoad_Directory(t *testing.T) {
	m := testManifest()
	dir := writeDirPackage(t, m)

	pkg, err := load(t, Source{Path: dir, Directory: true}, Security{})
	require.NoError(t, err)

	assert.Equal(t, []bool{true, true, false}, pkg.ActiveNodes)
	assert.Equal(t, []int{0, 1}, pkg.Plan.Order)

	gw := pkg.Plan.Node(0)
	require.Len(t, gw.Files, 2)
	assert.Equal(t, filepath.Join(dir, "gateway/app.hex"), gw.Files[0].Path)
	assert.Equal(t, 0, gw.Files[0].Position)
	assert.Equal(t, 2, gw.Files[1].Position, "skipped entries keep the positions of later files")

	io := pkg.Plan.Node(1)
	require.Len(t, io.ParamSets, 1)
	assert.True(t, pkg.Plan.Node(2).Empty())
}

func TestLoad_Archive(t *testing.T) {
	m := testManifest()
	m.Order = []int{1, 0}
	archive := zipPackage(t, writeDirPackage(t, m))

	work := t.TempDir()
	pkg, err := load(t, Source{Path: archive, WorkDir: work}, Security{})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(work, "unpacked"), pkg.Dir)
	assert.Equal(t, []int{1, 0}, pkg.Plan.Order)
	data, err := os.ReadFile(pkg.Plan.Node(1).Files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "content of io/app.hex", string(data))

	// a second load erases the previous unpack directory first
	require.NoError(t, os.WriteFile(filepath.Join(work, "unpacked", "stale"), nil, 0o644))
	_, err = load(t, Source{Path: archive, WorkDir: work}, Security{})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(work, "unpacked", "stale"))
}

func TestLoad_Failures(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		_, err := load(t, Source{Path: filepath.Join(t.TempDir(), "missing"+Extension)}, Security{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not a zip", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "broken"+Extension)
		require.NoError(t, os.WriteFile(p, []byte("not a zip archive"), 0o644))
		_, err := load(t, Source{Path: p}, Security{})
		assert.ErrorIs(t, err, ErrUnzip)
	})

	t.Run("missing manifest", func(t *testing.T) {
		_, err := load(t, Source{Path: t.TempDir(), Directory: true}, Security{})
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("unsupported format", func(t *testing.T) {
		m := testManifest()
		m.FormatVersion = 7
		_, err := load(t, Source{Path: writeDirPackage(t, m), Directory: true}, Security{})
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("undefined bus", func(t *testing.T) {
		m := testManifest()
		m.ActiveBus = 4
		_, err := load(t, Source{Path: writeDirPackage(t, m), Directory: true}, Security{})
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("order names inactive node", func(t *testing.T) {
		m := testManifest()
		m.Order = []int{2}
		_, err := load(t, Source{Path: writeDirPackage(t, m), Directory: true}, Security{})
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("missing files", func(t *testing.T) {
		m := testManifest()
		dir := writeDirPackage(t, m)
		require.NoError(t, os.Remove(filepath.Join(dir, "io/app.hex")))
		_, err := load(t, Source{Path: dir, Directory: true}, Security{})
		assert.ErrorIs(t, err, ErrMissingFiles)
		assert.Contains(t, err.Error(), "io/app.hex")
	})

	t.Run("files of inactive nodes are not required", func(t *testing.T) {
		m := testManifest()
		dir := writeDirPackage(t, m)
		require.NoError(t, os.Remove(filepath.Join(dir, "display/ui.bin")))
		_, err := load(t, Source{Path: dir, Directory: true}, Security{})
		assert.NoError(t, err)
	})

	t.Run("remote without fetcher", func(t *testing.T) {
		_, err := load(t, Source{Path: "s3://firmware/bench" + Extension}, Security{})
		assert.ErrorIs(t, err, ErrFetch)
	})
}

type fakeFetcher struct {
	archive string
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, uri, dir string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.archive)
	if err != nil {
		return "", err
	}
	local := filepath.Join(dir, filepath.Base(uri))
	return local, os.WriteFile(local, data, 0o644)
}

func TestLoad_Remote(t *testing.T) {
	archive := zipPackage(t, writeDirPackage(t, testManifest()))

	l := NewLoader(nil, &fakeFetcher{archive: archive})
	pkg, err := l.Load(context.Background(), Source{Path: "s3://firmware/bench" + Extension, WorkDir: t.TempDir()}, Security{})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, pkg.Plan.Order)

	l = NewLoader(nil, &fakeFetcher{err: ErrFetch})
	_, err = l.Load(context.Background(), Source{Path: "s3://firmware/bench" + Extension, WorkDir: t.TempDir()}, Security{})
	assert.ErrorIs(t, err, ErrFetch)
}

func TestParseRemote(t *testing.T) {
	bucket, key, err := ParseRemote("s3://releases/v2/bench.ecupkg", "firmware")
	require.NoError(t, err)
	assert.Equal(t, "releases", bucket)
	assert.Equal(t, "v2/bench.ecupkg", key)

	_, _, err = ParseRemote("s3://releases", "firmware")
	assert.ErrorIs(t, err, ErrFetch)

	_, _, err = ParseRemote("http://releases/x", "firmware")
	assert.ErrorIs(t, err, ErrFetch)
}

func encryptedPackage(t *testing.T, password string, nodes []int) (*Manifest, string) {
	t.Helper()
	m := testManifest()
	enc, key, err := NewEncryption(password, nodes)
	require.NoError(t, err)
	m.Encryption = enc

	dir := filepath.Join(t.TempDir(), "pkg")
	for _, idx := range nodes {
		n := m.node(idx)
		for i := range n.Files {
			n.Files[i].Path += EncryptedSuffix
		}
		for i := range n.ParamSets {
			n.ParamSets[i].Path += EncryptedSuffix
		}
	}
	for _, n := range m.Nodes {
		for _, rel := range nodePaths(n) {
			data := []byte("content of " + rel)
			if filepath.Ext(rel) == EncryptedSuffix {
				plain := rel[:len(rel)-len(EncryptedSuffix)]
				data, err = Seal(key, []byte("content of "+plain))
				require.NoError(t, err)
			}
			p := filepath.Join(dir, rel)
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
			require.NoError(t, os.WriteFile(p, data, 0o644))
		}
	}
	_, err = WriteManifest(dir, m)
	require.NoError(t, err)
	return m, dir
}

func TestLoad_Encrypted(t *testing.T) {
	_, dir := encryptedPackage(t, "s3cret", []int{0, 1})

	work := t.TempDir()
	pkg, err := load(t, Source{Path: dir, Directory: true, WorkDir: work}, Security{Password: "s3cret"})
	require.NoError(t, err)

	p := pkg.Plan.Node(1).ParamSets[0].Path
	assert.Equal(t, filepath.Join(work, "plain", "1", "io", "params.syde_psi"), p)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "content of io/params.syde_psi", string(data))

	t.Run("wrong password", func(t *testing.T) {
		_, err := load(t, Source{Path: dir, Directory: true}, Security{Password: "guess"})
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "wrong password", authErr.Reason)
		assert.ErrorIs(t, err, ErrAuth)
	})

	t.Run("missing password", func(t *testing.T) {
		_, err := load(t, Source{Path: dir, Directory: true}, Security{})
		assert.ErrorIs(t, err, ErrAuth)
	})
}

func TestLoad_EncryptedNodeMismatch(t *testing.T) {
	m, dir := encryptedPackage(t, "s3cret", []int{0, 1})
	m.Encryption.Nodes = []int{0}
	_, err := WriteManifest(dir, m)
	require.NoError(t, err)

	_, err = load(t, Source{Path: dir, Directory: true}, Security{Password: "s3cret"})
	assert.ErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "node list mismatch")

	m.Encryption.Nodes = []int{0, 1, 2}
	_, err = WriteManifest(dir, m)
	require.NoError(t, err)
	_, err = load(t, Source{Path: dir, Directory: true}, Security{Password: "s3cret"})
	assert.ErrorIs(t, err, ErrAuth)
}

func TestLoad_SealedWithoutHeader(t *testing.T) {
	m, dir := encryptedPackage(t, "s3cret", []int{1})
	m.Encryption = nil
	_, err := WriteManifest(dir, m)
	require.NoError(t, err)

	_, err = load(t, Source{Path: dir, Directory: true}, Security{})
	assert.ErrorIs(t, err, ErrAuth)
}

func writePublicKey(t *testing.T, key *ecdsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "signer.pub")
	require.NoError(t, os.WriteFile(p, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o644))
	return p
}

func TestLoad_Signature(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubFile := writePublicKey(t, key)

	m := testManifest()
	dir := writeDirPackage(t, m)
	raw, err := os.ReadFile(filepath.Join(dir, ManifestName))
	require.NoError(t, err)

	t.Run("unsigned package with key", func(t *testing.T) {
		_, err := load(t, Source{Path: dir, Directory: true}, Security{PublicKeyFile: pubFile})
		assert.ErrorIs(t, err, ErrAuth)
	})

	sig, err := Sign(key, raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, SignatureName), sig, 0o644))

	t.Run("valid", func(t *testing.T) {
		_, err := load(t, Source{Path: dir, Directory: true}, Security{PublicKeyFile: pubFile})
		assert.NoError(t, err)
	})

	t.Run("signed package without key", func(t *testing.T) {
		_, err := load(t, Source{Path: dir, Directory: true}, Security{})
		assert.NoError(t, err)
	})

	t.Run("tampered manifest", func(t *testing.T) {
		m.Order = []int{1}
		_, err := WriteManifest(dir, m)
		require.NoError(t, err)
		_, err = load(t, Source{Path: dir, Directory: true}, Security{PublicKeyFile: pubFile})
		assert.ErrorIs(t, err, ErrAuth)
	})
}

func TestLoadCertificates(t *testing.T) {
	certs, err := LoadCertificates("")
	require.NoError(t, err)
	assert.Empty(t, certs)

	_, err = LoadCertificates(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrCertificate)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pem"), []byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"), 0o644))
	_, err = LoadCertificates(dir)
	assert.True(t, errors.Is(err, ErrCertificate))
}
