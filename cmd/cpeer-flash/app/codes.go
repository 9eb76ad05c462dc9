package app

import (
	"fmt"
	"os"

	"github.com/gosuri/uitable"

	"github.com/autopeer-io/ecuflash/internal/updater/result"
	"github.com/autopeer-io/ecuflash/pkg/app"
)

func newCodesApp() *app.App {
	return app.NewApp(
		"codes",
		"List the exit codes of cpeer-flash",
		app.WithDefaultValidArgs(),
		app.WithRunFunc(func() error {
			fmt.Fprintln(os.Stdout, codesTable())
			return nil
		}),
	)
}

func codesTable() string {
	table := uitable.New()
	table.MaxColWidth = 60
	table.Wrap = true
	table.AddRow("CODE", "NAME", "ACTIVITY", "MESSAGE")
	for _, c := range result.All() {
		activity, message := result.Describe(c)
		table.AddRow(c.ExitCode(), c.String(), activity, message)
	}
	return table.String()
}
