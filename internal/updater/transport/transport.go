package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
)

// ErrUnknownBusType is returned for buses that are neither CAN nor Ethernet.
var ErrUnknownBusType = errors.New("unknown bus type")

// Config holds the local side of the transports.
type Config struct {
	CANDriver         string
	EthernetInterface string
	EthernetPort      int
}

// Handle owns exactly one opened transport for the lifetime of a run.
type Handle struct {
	bus core.Bus
	t   core.Transport

	once     sync.Once
	closeErr error
}

// Open opens the transport matching the bus type through the platform HAL.
// The returned error wraps ErrUnknownBusType or one of the core transport errors.
func Open(ctx context.Context, h core.HAL, bus core.Bus, cfg Config) (*Handle, error) {
	var (
		t   core.Transport
		err error
	)

	switch bus.Type {
	case core.BusCAN:
		t, err = h.OpenCAN(ctx, core.CANConfig{Driver: cfg.CANDriver, Bitrate: bus.Bitrate})
	case core.BusEthernet:
		t, err = h.OpenEthernet(ctx, core.EthernetConfig{Interface: cfg.EthernetInterface, Port: cfg.EthernetPort})
	default:
		return nil, fmt.Errorf("%w: %q on bus %s", ErrUnknownBusType, bus.Type, bus.Name)
	}
	if err != nil {
		return nil, err
	}

	return &Handle{bus: bus, t: t}, nil
}

// Bus returns the bus the handle was opened for.
func (h *Handle) Bus() core.Bus { return h.bus }

// Transport returns the opened device. It must not be closed by the caller.
func (h *Handle) Transport() core.Transport { return h.t }

// Close releases the transport. Later calls return the first result.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.closeErr = h.t.Close()
	})
	return h.closeErr
}
