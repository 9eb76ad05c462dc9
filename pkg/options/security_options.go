package options

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SecurityOptions)(nil)

// SecurityOptions holds the secrets used to open and trust packages.
type SecurityOptions struct {
	// Password decrypts encrypted package content.
	Password string `json:"password" mapstructure:"password"`
	// PasswordFile is read instead of Password when set.
	PasswordFile string `json:"password-file" mapstructure:"password-file"`
	// CertDir holds the certificates passed to the device sequence.
	CertDir string `json:"cert-dir" mapstructure:"cert-dir"`
	// PublicKeyFile verifies the manifest signature.
	PublicKeyFile string `json:"public-key" mapstructure:"public-key"`
}

func NewSecurityOptions() *SecurityOptions {
	return &SecurityOptions{}
}

func (o *SecurityOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Password != "" && o.PasswordFile != "" {
		errs = append(errs, errors.New("security.password and security.password-file are mutually exclusive"))
	}
	if o.CertDir != "" {
		if fi, err := os.Stat(o.CertDir); err != nil || !fi.IsDir() {
			errs = append(errs, fmt.Errorf("security.cert-dir %q is not a directory", o.CertDir))
		}
	}

	return errs
}

// ResolvePassword returns the password, reading PasswordFile when set.
// A single trailing line break of the file is dropped.
func (o *SecurityOptions) ResolvePassword() (string, error) {
	if o.PasswordFile == "" {
		return o.Password, nil
	}
	raw, err := os.ReadFile(o.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("security.password-file: %w", err)
	}
	return strings.TrimSuffix(strings.TrimSuffix(string(raw), "\n"), "\r"), nil
}

func (o *SecurityOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Password, "security.password", o.Password, "Password of encrypted packages.")
	fs.StringVar(&o.PasswordFile, "security.password-file", o.PasswordFile, "File holding the password of encrypted packages.")
	fs.StringVar(&o.CertDir, "security.cert-dir", o.CertDir, "Directory of certificates handed to the devices.")
	fs.StringVar(&o.PublicKeyFile, "security.public-key", o.PublicKeyFile, "PEM public key the package manifest signature is checked with.")
}
