package options

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"
)

var _ IOptions = (*MetricsOptions)(nil)

// MetricsOptions configures the metrics file written after each run.
type MetricsOptions struct {
	// Textfile is written in the Prometheus text format for the node exporter textfile collector.
	Textfile string `json:"textfile" mapstructure:"textfile"`
}

func NewMetricsOptions() *MetricsOptions {
	return &MetricsOptions{}
}

func (o *MetricsOptions) Validate() []error {
	if o == nil || o.Textfile == "" {
		return nil
	}

	errs := []error{}

	if filepath.Ext(o.Textfile) != ".prom" {
		errs = append(errs, fmt.Errorf("metrics.textfile %q must end with .prom", o.Textfile))
	}

	return errs
}

func (o *MetricsOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Textfile, "metrics.textfile", o.Textfile, "Write run metrics to this .prom file.")
}
