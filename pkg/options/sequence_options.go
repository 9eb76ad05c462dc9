package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*SequenceOptions)(nil)

// SequenceOptions selects the device access sequence.
type SequenceOptions struct {
	Name     string            `json:"name" mapstructure:"name"`
	StateDir string            `json:"state-dir" mapstructure:"state-dir"`
	Params   map[string]string `json:"params" mapstructure:"params"`
}

func NewSequenceOptions() *SequenceOptions {
	return &SequenceOptions{
		Name:   "simulator",
		Params: map[string]string{},
	}
}

// Validate leaves unknown names to the registry lookup.
func (o *SequenceOptions) Validate() []error {
	return nil
}

func (o *SequenceOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Name, "sequence.name", o.Name, "Registered device access sequence.")
	fs.StringVar(&o.StateDir, "sequence.state-dir", o.StateDir, "Directory the sequence keeps device state in.")
	fs.StringToStringVar(&o.Params, "sequence.params", o.Params, "Sequence specific parameters (key=value,...).")
}
