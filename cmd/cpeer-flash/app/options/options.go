package options

import (
	"fmt"
	"path/filepath"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/ecuflash/internal/updater/orchestrator"
	"github.com/autopeer-io/ecuflash/internal/updater/pkgload"
	"github.com/autopeer-io/ecuflash/internal/updater/sequence"
	"github.com/autopeer-io/ecuflash/internal/updater/transport"
	"github.com/autopeer-io/ecuflash/pkg/app"
	"github.com/autopeer-io/ecuflash/pkg/log"
	"github.com/autopeer-io/ecuflash/pkg/options"
)

// UpdateOptions are the options of the update command.
type UpdateOptions struct {
	Package   *options.PackageOptions   `json:"package" mapstructure:"package"`
	Transport *options.TransportOptions `json:"transport" mapstructure:"transport"`
	Security  *options.SecurityOptions  `json:"security" mapstructure:"security"`
	Sequence  *options.SequenceOptions  `json:"sequence" mapstructure:"sequence"`
	S3        *options.S3Options        `json:"s3" mapstructure:"s3"`
	Mqtt      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	Metrics   *options.MetricsOptions   `json:"metrics" mapstructure:"metrics"`
	Log       *log.Options              `json:"log" mapstructure:"log"`

	// LogDir receives the log file of each run. Empty uses the platform default.
	LogDir string `json:"log-dir" mapstructure:"log-dir"`
	// Quiet prints errors and the summary only.
	Quiet bool `json:"quiet" mapstructure:"quiet"`
	// Async runs the update on a worker and polls it.
	Async        bool          `json:"async" mapstructure:"async"`
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`
}

var _ app.NamedFlagSetOptions = (*UpdateOptions)(nil)

func NewUpdateOptions() *UpdateOptions {
	return &UpdateOptions{
		Package:      options.NewPackageOptions(),
		Transport:    options.NewTransportOptions(),
		Security:     options.NewSecurityOptions(),
		Sequence:     options.NewSequenceOptions(),
		S3:           options.NewS3Options(),
		Mqtt:         options.NewMqttOptions(),
		Metrics:      options.NewMetricsOptions(),
		Log:          log.NewOptions(),
		PollInterval: 50 * time.Millisecond,
	}
}

func (o *UpdateOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.Package.AddFlags(fss.FlagSet("package"))
	o.Transport.AddFlags(fss.FlagSet("transport"))
	o.Security.AddFlags(fss.FlagSet("security"))
	o.Sequence.AddFlags(fss.FlagSet("sequence"))
	o.S3.AddFlags(fss.FlagSet("s3"))
	o.Mqtt.AddFlags(fss.FlagSet("mqtt"))
	o.Metrics.AddFlags(fss.FlagSet("metrics"))
	o.Log.AddFlags(fss.FlagSet("log"))

	fs := fss.FlagSet("run")
	fs.StringVar(&o.LogDir, "log-dir", o.LogDir, "Directory for the run log file. Defaults to the user cache directory.")
	fs.BoolVar(&o.Quiet, "quiet", o.Quiet, "Print errors and the final summary only.")
	fs.BoolVar(&o.Async, "async", o.Async, "Run the update on a background worker and poll for its result.")
	fs.DurationVar(&o.PollInterval, "poll-interval", o.PollInterval, "Poll interval of --async.")
	return fss
}

func (o *UpdateOptions) Complete() error {
	if o.Sequence.Params == nil {
		o.Sequence.Params = map[string]string{}
	}
	return nil
}

func (o *UpdateOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.Package.Validate()...)
	errs = append(errs, o.Transport.Validate()...)
	errs = append(errs, o.Security.Validate()...)
	errs = append(errs, o.Sequence.Validate()...)
	errs = append(errs, o.S3.Validate()...)
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.Metrics.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if o.Async && o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll-interval must be positive"))
	}
	return utilerrors.NewAggregate(errs)
}

// LogFile returns the log file path of a run started at t.
func (o *UpdateOptions) LogFile(defaultDir string, t time.Time) string {
	dir := o.LogDir
	if dir == "" {
		dir = defaultDir
	}
	return filepath.Join(dir, "cpeer-flash_"+t.Format("2006-01-02_15-04-05")+".log")
}

// Request builds the orchestrator request. It fails when the password file cannot be read.
func (o *UpdateOptions) Request() (orchestrator.Request, error) {
	password, err := o.Security.ResolvePassword()
	if err != nil {
		return orchestrator.Request{}, err
	}

	return orchestrator.Request{
		Package: pkgload.Source{
			Path:      o.Package.Path,
			Directory: o.Package.Directory,
			WorkDir:   o.Package.WorkDir,
		},
		Security: pkgload.Security{
			Password:      password,
			PublicKeyFile: o.Security.PublicKeyFile,
		},
		CertDir: o.Security.CertDir,
		Transport: transport.Config{
			CANDriver:         o.Transport.CANDriver,
			EthernetInterface: o.Transport.EthernetInterface,
			EthernetPort:      o.Transport.EthernetPort,
		},
		CheckForChanges: o.Package.CheckForChanges,
	}, nil
}

// SequenceConfig returns the configuration handed to the sequence factory.
func (o *UpdateOptions) SequenceConfig() sequence.Config {
	return sequence.Config{
		StateDir: o.Sequence.StateDir,
		Params:   o.Sequence.Params,
	}
}

// PackOptions are the options of the pack command.
type PackOptions struct {
	Project        string   `json:"project" mapstructure:"project"`
	View           string   `json:"view" mapstructure:"view"`
	Output         string   `json:"output" mapstructure:"output"`
	Directory      bool     `json:"dir" mapstructure:"dir"`
	Force          bool     `json:"force" mapstructure:"force"`
	EncryptNodes   []string `json:"encrypt-nodes" mapstructure:"encrypt-nodes"`
	SigningKeyFile string   `json:"signing-key" mapstructure:"signing-key"`

	Security *options.SecurityOptions `json:"security" mapstructure:"security"`
	Log      *log.Options             `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*PackOptions)(nil)

func NewPackOptions() *PackOptions {
	return &PackOptions{
		Security: options.NewSecurityOptions(),
		Log:      log.NewOptions(),
	}
}

func (o *PackOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}

	fs := fss.FlagSet("pack")
	fs.StringVar(&o.Project, "project", o.Project, "Project file holding the system definition and its views.")
	fs.StringVar(&o.View, "view", o.View, "Name of the view to package.")
	fs.StringVar(&o.Output, "output", o.Output, "Package file (.ecupkg) or, with --dir, package directory.")
	fs.BoolVar(&o.Directory, "dir", o.Directory, "Write an unpacked package directory.")
	fs.BoolVar(&o.Force, "force", o.Force, "Replace an existing output.")
	fs.StringSliceVar(&o.EncryptNodes, "encrypt-nodes", o.EncryptNodes, "Nodes to encrypt. Empty encrypts every node when a password is given.")
	fs.StringVar(&o.SigningKeyFile, "signing-key", o.SigningKeyFile, "PEM private key the manifest is signed with.")

	o.Security.AddFlags(fss.FlagSet("security"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *PackOptions) Complete() error {
	return nil
}

func (o *PackOptions) Validate() error {
	errs := []error{}
	if o.Project == "" {
		errs = append(errs, fmt.Errorf("--project is required"))
	}
	if o.View == "" {
		errs = append(errs, fmt.Errorf("--view is required"))
	}
	if o.Output == "" {
		errs = append(errs, fmt.Errorf("--output is required"))
	}
	if len(o.EncryptNodes) > 0 && o.Security.Password == "" && o.Security.PasswordFile == "" {
		errs = append(errs, fmt.Errorf("--encrypt-nodes needs a password"))
	}
	errs = append(errs, o.Security.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}
