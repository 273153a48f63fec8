package main

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/swdunlop/wasmrig-go/rig/stage"
	"github.com/swdunlop/wasmrig-go/rig/tool"
	"github.com/swdunlop/zugzug-go"
)

var (
	crateName      = stage.DefaultCrate
	outName        string
	wasmTarget     = stage.DefaultTarget
	cargoTargetDir = stage.DefaultTargetDir
	stageDir       = stage.DefaultStageDir
	indexFile      = stage.DefaultIndexFile
	assetsDir      = stage.DefaultAssetsDir
	minifyLoader   bool
	verifyWasm     bool
	logLevel       = `info`

	// runner runs cargo, rustup and wasm-bindgen for every task.
	runner = tool.Console()
)

var logSettings = zugzug.Settings{
	{Var: &logLevel, Name: `LOG_LEVEL`,
		Use: "Minimum level of log messages: trace, debug, info, warn or error"},
}

var targetSettings = zugzug.Settings{
	{Var: &wasmTarget, Name: `WASM_TARGET`,
		Use: "Rust target triple for the WebAssembly build"},
}

var stageSettings = zugzug.Settings{
	{Var: &crateName, Name: `CRATE_NAME`,
		Use: "Cargo package name of the game"},
	{Var: &outName, Name: `OUT_NAME`,
		Use: "Base name of the staged loader and binary (default: CRATE_NAME)"},
	{Var: &cargoTargetDir, Name: `CARGO_TARGET_DIR`,
		Use: "Directory where cargo writes build artifacts"},
	{Var: &stageDir, Name: `STAGE_DIR`,
		Use: "Directory that is replaced with the staged site on every build"},
	{Var: &indexFile, Name: `INDEX_FILE`,
		Use: "Entry point document copied into the staging directory"},
	{Var: &assetsDir, Name: `ASSETS_DIR`,
		Use: "Asset directory copied into the staging directory"},
	{Var: &minifyLoader, Name: `MINIFY_LOADER`,
		Use: "Minifies the generated JavaScript loader with esbuild"},
	{Var: &verifyWasm, Name: `VERIFY_WASM`,
		Use: "Validates the staged WebAssembly binary with wazero"},
}

// settings combines groups of settings for a task.
func settings(groups ...zugzug.Settings) zugzug.Settings {
	var ret zugzug.Settings
	for _, group := range groups {
		ret = append(ret, group...)
	}
	return ret
}

// configureLogging applies LOG_LEVEL; tasks call this first since settings are only resolved once a task is chosen.
func configureLogging() error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf(`%w in LOG_LEVEL`, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func layout() stage.Layout {
	return stage.Layout{
		Crate:     crateName,
		Name:      outName,
		Target:    wasmTarget,
		TargetDir: cargoTargetDir,
		StageDir:  stageDir,
		IndexFile: indexFile,
		AssetsDir: assetsDir,
	}
}

// pipeline returns the pipeline described by the settings, write locking gate while it restages if gate is not nil.
func pipeline(gate *sync.RWMutex) *stage.Pipeline {
	return &stage.Pipeline{
		Layout: layout(),
		Runner: runner,
		Gate:   gate,
		Minify: minifyLoader,
		Verify: verifyWasm,
	}
}
