package report

import (
	"fmt"
	"time"

	"github.com/gosuri/uitable"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/internal/updater/result"
)

// InventoryTable renders the scanned devices of both families.
func InventoryTable(inv core.Inventory) string {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("FAMILY", "NODE", "SERVER", "DEVICE", "APPLICATION", "VERSION", "BUILD")

	add := func(family core.Family, devices []core.DeviceInfo) {
		for _, d := range devices {
			if len(d.Apps) == 0 {
				table.AddRow(family, d.NodeIndex, d.Server, d.DeviceName, "-", "-", "-")
				continue
			}
			for _, app := range d.Apps {
				build := app.BuildDate
				if app.BuildTime != "" {
					build += " " + app.BuildTime
				}
				table.AddRow(family, d.NodeIndex, d.Server, d.DeviceName, app.Name, app.Version, build)
			}
		}
	}

	add(core.FamilyService, inv.Service)
	add(core.FamilyLegacy, inv.Legacy)

	return table.String()
}

// PrintInventory writes the inventory table to the console unless quiet.
func (r *Reporter) PrintInventory() {
	inv := r.Inventory()
	if len(inv.Service)+len(inv.Legacy) == 0 {
		return
	}

	table := InventoryTable(inv)
	r.logger.Info("Installed applications\n" + table)

	r.mu.Lock()
	if !r.quiet {
		fmt.Fprintln(r.console, table)
	}
	r.mu.Unlock()

	for _, fn := range r.lineHooks {
		fn(table, false)
	}
}

// Summary writes the final line of a run. Failures reach the console even in quiet mode.
func (r *Reporter) Summary(code result.Code, elapsed time.Duration) {
	if code == result.Success {
		line := fmt.Sprintf("Update finished successfully after %s.", elapsed.Round(time.Millisecond))
		r.logger.Info(line, "code", int(code))

		r.mu.Lock()
		if !r.quiet {
			fmt.Fprintln(r.console, line)
		}
		r.mu.Unlock()

		for _, fn := range r.lineHooks {
			fn(line, false)
		}
		return
	}

	activity, message := result.Describe(code)
	if message == "" {
		return
	}

	line := fmt.Sprintf("Update failed. %s: %s (code %d)", activity, message, int(code))
	r.logger.Error(nil, line, "code", int(code), "result", code.String())

	r.mu.Lock()
	fmt.Fprintln(r.console, line)
	r.mu.Unlock()

	for _, fn := range r.lineHooks {
		fn(line, true)
	}
}
