package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"
)

// NamedFlagSetOptions is implemented by the options of every command.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section for help output.
	Flags() cliflag.NamedFlagSets
	// Complete fills values derived from other options.
	Complete() error
	// Validate checks the options after Complete.
	Validate() error
}

// RunFunc is the body of a command.
type RunFunc func() error

// ErrConfigFile marks a config file that could not be read or decoded.
var ErrConfigFile = errors.New("config file invalid")

// ExitCoder is an error that selects the process exit code.
type ExitCoder interface {
	ExitCode() int
}

// ExitCode returns the process exit code for an error returned by Run.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 1
}

// App is a cobra command assembled from options.
type App struct {
	name        string
	shortDesc   string
	description string
	example     string
	version     string
	envPrefix   string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	args        cobra.PositionalArgs
	subApps     []*App

	cmd *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithOptions sets the options parsed from flags, the config file and the environment.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithRunFunc sets the command body.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDescription sets the long description.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithExample sets the usage example shown in help.
func WithExample(example string) Option {
	return func(a *App) { a.example = example }
}

// WithVersion enables --version.
func WithVersion(version string) Option {
	return func(a *App) { a.version = version }
}

// WithEnvPrefix binds every flag to an environment variable, e.g. PREFIX_LOG_LEVEL for --log.level.
func WithEnvPrefix(prefix string) Option {
	return func(a *App) { a.envPrefix = prefix }
}

// WithSubCommands adds child commands.
func WithSubCommands(apps ...*App) Option {
	return func(a *App) { a.subApps = append(a.subApps, apps...) }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// NewApp creates an App.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{name: name, shortDesc: shortDesc}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the underlying cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run parses the command line and executes the selected command.
func (a *App) Run() error {
	return a.cmd.Execute()
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		Example:       a.example,
		Version:       a.version,
		Args:          a.args,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = false

	var configFile string
	if a.options != nil {
		fss := a.options.Flags()
		fs := cmd.Flags()
		for _, f := range fss.FlagSets {
			fs.AddFlagSet(f)
		}
		fs.StringVarP(&configFile, "config", "c", "", "Read options from a YAML config file. Flags take precedence.")

		cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
		cliflag.SetUsageAndHelpFunc(cmd, fss, cols)
	}

	if a.runFunc != nil {
		cmd.RunE = func(cmd *cobra.Command, _ []string) error {
			if a.options != nil {
				if err := a.loadOptions(cmd, configFile); err != nil {
					return err
				}
			}
			return a.runFunc()
		}
	}

	for _, sub := range a.subApps {
		cmd.AddCommand(sub.cmd)
	}
	a.cmd = cmd
}

// loadOptions merges config file and environment into the options, then completes and validates them.
func (a *App) loadOptions(cmd *cobra.Command, configFile string) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if a.envPrefix != "" {
		v.SetEnvPrefix(a.envPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfigFile, configFile, err)
		}
	}

	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigFile, err)
	}
	if err := a.options.Complete(); err != nil {
		return err
	}
	return a.options.Validate()
}
