package main

import (
	"context"

	"github.com/swdunlop/wasmrig-go/rig/stage"
	"github.com/swdunlop/zugzug-go"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: `debug`, Use: "Compiles the game without optimizations and stages it as a static site", Fn: stageDebug,
			Settings: settings(stageSettings, targetSettings, logSettings)},
		{Name: `build`, Use: "Compiles the game with optimizations and stages it as a static site", Fn: stageRelease,
			Settings: settings(stageSettings, targetSettings, logSettings)},
	}...)
}

func stageDebug(ctx context.Context) error   { return stageProfile(ctx, stage.Debug) }
func stageRelease(ctx context.Context) error { return stageProfile(ctx, stage.Release) }

func stageProfile(ctx context.Context, profile stage.Profile) error {
	if err := configureLogging(); err != nil {
		return err
	}
	_, err := pipeline(nil).Run(ctx, profile)
	return err
}
