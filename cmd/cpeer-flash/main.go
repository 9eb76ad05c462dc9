package main

import (
	"errors"
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/ecuflash/cmd/cpeer-flash/app"
	"github.com/autopeer-io/ecuflash/internal/updater/result"
	pkgapp "github.com/autopeer-io/ecuflash/pkg/app"
)

func main() {
	if err := app.NewApp().Run(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode prints errors the commands did not report themselves.
func exitCode(err error) int {
	var code result.Code
	switch {
	case errors.As(err, &code):
	case errors.Is(err, pkgapp.ErrConfigFile):
		fmt.Fprintln(os.Stderr, "Error:", err)
		return result.ConfigFileInvalid.ExitCode()
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return pkgapp.ExitCode(err)
}
