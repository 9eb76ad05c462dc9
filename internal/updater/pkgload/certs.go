package pkgload

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var certExtensions = map[string]bool{".pem": true, ".crt": true, ".cer": true, ".der": true}

// LoadCertificates parses every certificate file in dir. An empty dir yields no certificates.
func LoadCertificates(dir string) ([]*x509.Certificate, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificate, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var certs []*x509.Certificate
	for _, e := range entries {
		if e.IsDir() || !certExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}

		path := filepath.Join(dir, e.Name())
		parsed, err := parseCertificateFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCertificate, path, err)
		}
		certs = append(certs, parsed...)
	}
	return certs, nil
}

func parseCertificateFile(path string) ([]*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if !strings.Contains(string(raw), "-----BEGIN") {
		c, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, err
		}
		return []*x509.Certificate{c}, nil
	}

	var certs []*x509.Certificate
	for rest := raw; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate in PEM data")
	}
	return certs, nil
}
