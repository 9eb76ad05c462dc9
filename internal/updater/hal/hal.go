package hal

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/pkg/log"
)

// DefaultEthernetPort is the UDP port the flashloaders listen on.
const DefaultEthernetPort = 11111

// platformHAL holds the parts shared by every OS. CAN access is per OS.
type platformHAL struct {
	version string
}

// NewHAL returns the capability set of the running platform.
func NewHAL(version string) core.HAL {
	return &platformHAL{version: version}
}

func (h *platformHAL) Version() string {
	return fmt.Sprintf("%s (%s/%s)", h.version, runtime.GOOS, runtime.GOARCH)
}

func (h *platformHAL) DefaultLogLocation() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "cpeer-flash", "logs")
	}
	return filepath.Join(os.TempDir(), "cpeer-flash", "logs")
}

func (h *platformHAL) ExampleUsage() string {
	return exampleUsage
}

// OpenEthernet binds a UDP socket to the first IPv4 address of the interface.
// An empty interface name binds to all interfaces.
func (h *platformHAL) OpenEthernet(ctx context.Context, cfg core.EthernetConfig) (core.Transport, error) {
	port := cfg.Port
	if port == 0 {
		port = DefaultEthernetPort
	}

	host := ""
	if cfg.Interface != "" {
		ip, err := interfaceAddress(cfg.Interface)
		if err != nil {
			return nil, err
		}
		host = ip.String()
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransportInit, err)
	}

	log.Info("Ethernet transport opened", "interface", cfg.Interface, "local", conn.LocalAddr().String())
	return &ethernetTransport{name: cfg.Interface, conn: conn}, nil
}

func interfaceAddress(name string) (net.IP, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrInterfaceNotFound, name)
	}
	if iface.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("%w: interface %s is down", core.ErrTransportInit, name)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransportInit, err)
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			return ipnet.IP, nil
		}
	}
	return nil, fmt.Errorf("%w: interface %s has no IPv4 address", core.ErrTransportInit, name)
}

type ethernetTransport struct {
	name string
	conn net.PacketConn
}

func (t *ethernetTransport) Type() core.BusType { return core.BusEthernet }

func (t *ethernetTransport) Name() string {
	if t.name == "" {
		return t.conn.LocalAddr().String()
	}
	return t.name
}

// Conn exposes the socket to protocol stacks.
func (t *ethernetTransport) Conn() net.PacketConn { return t.conn }

func (t *ethernetTransport) Close() error {
	return t.conn.Close()
}
