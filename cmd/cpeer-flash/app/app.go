package app

import (
	"github.com/autopeer-io/ecuflash/internal/updater/hal"
	"github.com/autopeer-io/ecuflash/pkg/app"
)

const (
	commandName = "cpeer-flash"
	commandDesc = `cpeer-flash writes firmware, parameter sets and files to the ECUs
of a vehicle or test bench over CAN or Ethernet. An update package
describes the system and the content of every node; the result of a
run is reported as exit code.`
)

// Version is stamped at build time.
var Version = "dev"

func NewApp() *app.App {
	h := hal.NewHAL(Version)
	return app.NewApp(
		commandName,
		"Update the ECUs of a system from an update package",
		app.WithDescription(commandDesc),
		app.WithVersion(h.Version()),
		app.WithSubCommands(
			newUpdateApp(h),
			newPackApp(),
			newCodesApp(),
		),
	)
}
