package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*TransportOptions)(nil)

// TransportOptions selects the host interfaces the active bus is opened on.
type TransportOptions struct {
	// CANDriver is a network interface name (can0) or the path of a driver library.
	CANDriver         string `json:"can-driver" mapstructure:"can-driver"`
	EthernetInterface string `json:"eth-interface" mapstructure:"eth-interface"`
	EthernetPort      int    `json:"eth-port" mapstructure:"eth-port"`
}

func NewTransportOptions() *TransportOptions {
	return &TransportOptions{
		CANDriver: "can0",
	}
}

func (o *TransportOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.EthernetPort < 0 || o.EthernetPort > 65535 {
		errs = append(errs, fmt.Errorf("transport.eth-port %d out of range", o.EthernetPort))
	}

	return errs
}

func (o *TransportOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.CANDriver, "transport.can-driver", o.CANDriver, "CAN interface (e.g. can0) or path of the CAN driver library.")
	fs.StringVar(&o.EthernetInterface, "transport.eth-interface", o.EthernetInterface, "Network interface used when the active bus is Ethernet.")
	fs.IntVar(&o.EthernetPort, "transport.eth-port", o.EthernetPort, "Local UDP port for Ethernet transports. 0 uses the default.")
}
