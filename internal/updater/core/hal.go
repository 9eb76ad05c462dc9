package core

import (
	"context"
	"errors"
	"io"
)

var (
	ErrDriverNotFound    = errors.New("driver not found")
	ErrDriverLoad        = errors.New("driver could not be loaded")
	ErrInterfaceNotFound = errors.New("interface not found")
	ErrTransportInit     = errors.New("transport initialization failed")
)

// Transport is an opened bus connection owned by the update run.
type Transport interface {
	io.Closer

	Type() BusType
	Name() string
}

// CANConfig selects the CAN driver and bitrate.
type CANConfig struct {
	// Driver is an interface name (can0) or the path of a driver library.
	Driver  string
	Bitrate uint32
}

// EthernetConfig selects the local interface used to reach the nodes.
type EthernetConfig struct {
	Interface string
	Port      int
}

// HAL (Hardware Abstraction Layer) is the platform specific part of the updater.
type HAL interface {
	// OpenCAN opens the CAN driver. It returns ErrDriverNotFound, ErrDriverLoad
	// or ErrTransportInit wrapped with detail.
	OpenCAN(ctx context.Context, cfg CANConfig) (Transport, error)

	// OpenEthernet binds to a local interface. It returns ErrInterfaceNotFound
	// or ErrTransportInit wrapped with detail.
	OpenEthernet(ctx context.Context, cfg EthernetConfig) (Transport, error)

	Version() string
	DefaultLogLocation() string
	ExampleUsage() string
}
