//go:build !linux

package hal

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
)

const exampleUsage = `  cpeer-flash update --package.path ./bench.ecupkg --transport.eth-interface eth0
  cpeer-flash update --package.path ./bench/ --transport.eth-interface eth0 --security.password-file ./pw.txt`

// OpenCAN reports CAN as unavailable. SocketCAN exists on Linux only.
func (h *platformHAL) OpenCAN(_ context.Context, cfg core.CANConfig) (core.Transport, error) {
	if strings.ContainsRune(cfg.Driver, os.PathSeparator) {
		if _, err := os.Stat(cfg.Driver); err != nil {
			return nil, fmt.Errorf("%w: %s", core.ErrDriverNotFound, cfg.Driver)
		}
	}
	return nil, fmt.Errorf("%w: CAN is not supported on this platform", core.ErrDriverLoad)
}
