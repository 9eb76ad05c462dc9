package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*PackageOptions)(nil)

// PackageOptions names the update package of a run.
type PackageOptions struct {
	// Path is a .ecupkg file, an unpacked package directory or an s3:// URI.
	Path      string `json:"path" mapstructure:"path"`
	Directory bool   `json:"dir" mapstructure:"dir"`
	// WorkDir receives unpacked and decrypted content. Empty uses the system temp directory.
	WorkDir string `json:"work-dir" mapstructure:"work-dir"`
	// CheckForChanges skips applications already installed on the devices.
	CheckForChanges bool `json:"check-changes" mapstructure:"check-changes"`
}

func NewPackageOptions() *PackageOptions {
	return &PackageOptions{}
}

// Validate leaves the path to the orchestrator, which reports its problems as result codes.
func (o *PackageOptions) Validate() []error {
	return nil
}

func (o *PackageOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "package.path", o.Path, "Update package: a .ecupkg file, a package directory or s3://bucket/key.ecupkg.")
	fs.BoolVar(&o.Directory, "package.dir", o.Directory, "Treat --package.path as an unpacked package directory.")
	fs.StringVar(&o.WorkDir, "package.work-dir", o.WorkDir, "Directory for unpacked content. It is erased before use.")
	fs.BoolVar(&o.CheckForChanges, "package.check-changes", o.CheckForChanges, "Skip applications that are already installed.")
}
