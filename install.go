package main

import (
	"context"

	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig/toolchain"
	"github.com/swdunlop/zugzug-go"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: `install`, Use: "Installs the rustup target and cargo tools needed to build and serve the game",
			Fn: installTools, Settings: settings(targetSettings, logSettings)},
	}...)
}

func installTools(ctx context.Context) error {
	if err := configureLogging(); err != nil {
		return err
	}
	ret, err := toolchain.Install(ctx, runner, toolchain.Tools(wasmTarget)...)
	if err != nil {
		return err
	}
	hog.From(ctx).Info().Int(`installed`, len(ret.Installed)).Int(`present`, len(ret.Present)).Msg(`toolchain ready`)
	return nil
}
