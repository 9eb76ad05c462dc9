package app

import (
	"fmt"
	"os"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/ecuflash/cmd/cpeer-flash/app/options"
	"github.com/autopeer-io/ecuflash/internal/updater/pack"
	"github.com/autopeer-io/ecuflash/internal/updater/result"
	"github.com/autopeer-io/ecuflash/pkg/app"
	"github.com/autopeer-io/ecuflash/pkg/log"
)

const packDesc = `Create an update package from a project file. The view selects the
active bus and the content of every node. Content can be encrypted
with a password and the manifest signed with a private key.`

func newPackApp() *app.App {
	opts := options.NewPackOptions()
	return app.NewApp(
		"pack",
		"Create an update package",
		app.WithDescription(packDesc),
		app.WithExample("  cpeer-flash pack --project bench.yaml --view full --output bench.ecupkg"),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithEnvPrefix("CPEER_FLASH"),
		app.WithRunFunc(runPack(opts)),
	)
}

func runPack(opts *options.PackOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		if err := log.Init(opts.Log); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return result.LogInitFailed
		}
		defer log.Sync()

		password, err := opts.Security.ResolvePassword()
		if err != nil {
			log.Error(err, "Password could not be read")
			return result.CreateInvalidConfiguration
		}

		m, err := pack.NewPacker(log.Std()).Create(ctx, pack.Options{
			ProjectFile:    opts.Project,
			View:           opts.View,
			Output:         opts.Output,
			Directory:      opts.Directory,
			Force:          opts.Force,
			Password:       password,
			EncryptNodes:   opts.EncryptNodes,
			SigningKeyFile: opts.SigningKeyFile,
		})
		if err != nil {
			code := pack.Code(err)
			log.Error(err, "Package not created", "code", int(code))
			fmt.Fprintln(os.Stderr, code.Error())
			return code
		}

		active := 0
		for _, n := range m.Nodes {
			if n.Active {
				active++
			}
		}
		fmt.Fprintf(os.Stdout, "Package %s created for system %q with %d active node(s).\n", opts.Output, m.System.Name, active)
		return nil
	}
}
