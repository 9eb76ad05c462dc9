package options

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every option group.
type IOptions interface {
	// Validate returns every problem of the group.
	Validate() []error

	// AddFlags binds the group to a flag set.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks a host or host:port address.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is empty")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// A bare host is fine.
		host, port = addr, ""
	}
	if host == "" {
		return fmt.Errorf("%q: host is empty", addr)
	}
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("%q: invalid port %q", addr, port)
		}
	}
	return nil
}
