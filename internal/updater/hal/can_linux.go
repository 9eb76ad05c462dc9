//go:build linux

package hal

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"go.einride.tech/can/pkg/socketcan"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/pkg/log"
)

const exampleUsage = `  cpeer-flash update --package.path ./bench.ecupkg --transport.can-driver can0
  cpeer-flash update --package.path ./bench/ --transport.eth-interface eth0 --security.password-file ./pw.txt`

// OpenCAN dials a SocketCAN interface. The bitrate is owned by the interface
// configuration (ip link) and is only checked against it when available.
func (h *platformHAL) OpenCAN(ctx context.Context, cfg core.CANConfig) (core.Transport, error) {
	name := cfg.Driver
	if strings.ContainsRune(name, os.PathSeparator) {
		if _, err := os.Stat(name); err != nil {
			return nil, fmt.Errorf("%w: %s", core.ErrDriverNotFound, name)
		}
		return nil, fmt.Errorf("%w: %s: driver libraries are not supported, use a SocketCAN interface name", core.ErrDriverLoad, name)
	}

	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: CAN interface %s", core.ErrDriverNotFound, name)
	}
	if iface.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("%w: CAN interface %s is down", core.ErrTransportInit, name)
	}

	if cfg.Bitrate != 0 {
		if actual, ok := readBitrate(name); ok && actual != cfg.Bitrate {
			log.Warn("CAN interface bitrate differs from the system definition", "interface", name, "configured", actual, "expected", cfg.Bitrate)
		}
	}

	conn, err := socketcan.DialContext(ctx, "can", name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrDriverLoad, name, err)
	}

	log.Info("CAN transport opened", "interface", name, "bitrate", cfg.Bitrate)
	return &canTransport{
		name:        name,
		conn:        conn,
		Transmitter: socketcan.NewTransmitter(conn),
		Receiver:    socketcan.NewReceiver(conn),
	}, nil
}

func readBitrate(name string) (uint32, bool) {
	data, err := os.ReadFile("/sys/class/net/" + name + "/can_bittiming/bitrate")
	if err != nil {
		return 0, false
	}
	var v uint32
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &v); err != nil {
		return 0, false
	}
	return v, true
}

type canTransport struct {
	name string
	conn net.Conn

	Transmitter *socketcan.Transmitter
	Receiver    *socketcan.Receiver
}

func (t *canTransport) Type() core.BusType { return core.BusCAN }
func (t *canTransport) Name() string       { return t.name }

func (t *canTransport) Close() error {
	return t.conn.Close()
}
