// Package stage turns a Rust crate into a static site that loads it as WebAssembly.  A Pipeline compiles the crate
// with cargo, generates a JavaScript loader with wasm-bindgen, and copies the entry point document and assets next
// to it in a staging directory that is rebuilt from scratch on every run.
package stage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig/esbuild"
	"github.com/swdunlop/wasmrig-go/rig/tool"
	"github.com/swdunlop/wasmrig-go/rig/wasm"
)

// A Pipeline builds and stages a crate.  The zero value is not usable, at least Layout must be provided.
type Pipeline struct {
	Layout Layout

	// Runner runs cargo and wasm-bindgen, defaulting to tool.Console.
	Runner tool.Runner

	// Gate, if not nil, is write locked while the staging directory is being replaced.  Readers of the staging
	// directory should hold its read lock.
	Gate *sync.RWMutex

	Minify bool // minify the loader with esbuild
	Verify bool // validate the staged binary with wazero
}

// A Report describes a pipeline run.
type Report struct {
	Profile string        `json:"profile"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`
	Err     string        `json:"error,omitempty"`
	Files   Manifest      `json:"files,omitempty"`
}

// OK is true if the run succeeded.
func (rep *Report) OK() bool { return rep.Err == `` }

// Run compiles and stages the crate with the given profile, halting at the first step that fails.
func (pl *Pipeline) Run(ctx context.Context, profile Profile) (Report, error) {
	rep := Report{Profile: profile.String(), Started: time.Now()}
	files, err := pl.run(ctx, profile)
	rep.Took = time.Since(rep.Started)
	if err != nil {
		rep.Err = err.Error()
		hog.From(ctx).Error().Err(err).Str(`profile`, rep.Profile).Dur(`took`, rep.Took).Msg(`staging failed`)
		return rep, err
	}
	rep.Files = files
	hog.From(ctx).Info().
		Str(`profile`, rep.Profile).
		Str(`dir`, pl.Layout.StageDir).
		Int(`files`, len(files)).
		Int64(`bytes`, files.Size()).
		Dur(`took`, rep.Took).
		Msg(`staged`)
	return rep, nil
}

func (pl *Pipeline) run(ctx context.Context, profile Profile) (Manifest, error) {
	lay := &pl.Layout
	if err := lay.Validate(); err != nil {
		return nil, err
	}
	runner := pl.Runner
	if runner == nil {
		runner = tool.Console()
	}
	log := hog.From(ctx)

	log.Debug().Str(`profile`, profile.String()).Msg(`compiling`)
	if err := runner.Run(ctx, `cargo`, lay.CargoArgs(profile)...); err != nil {
		return nil, errors.Wrap(err, `compile`)
	}

	if pl.Gate != nil {
		pl.Gate.Lock()
		defer pl.Gate.Unlock()
	}

	// RemoveAll does not report a missing directory, anything else is left for bindgen to trip over.
	if err := os.RemoveAll(lay.StageDir); err != nil {
		log.Warn().Err(err).Str(`dir`, lay.StageDir).Msg(`could not remove staging directory`)
	}

	if err := runner.Run(ctx, `wasm-bindgen`, lay.BindgenArgs(profile)...); err != nil {
		return nil, errors.Wrap(err, `generate bindings`)
	}
	if err := os.MkdirAll(lay.StageDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, `creating %q`, lay.StageDir)
	}

	index := filepath.Join(lay.StageDir, filepath.Base(lay.IndexFile))
	if err := copyFile(lay.IndexFile, index); err != nil {
		return nil, errors.Wrapf(err, `copying %q`, lay.IndexFile)
	}
	assets := filepath.Join(lay.StageDir, filepath.Base(filepath.Clean(lay.AssetsDir)))
	if err := copyTree(lay.AssetsDir, assets); err != nil {
		return nil, errors.Wrapf(err, `copying %q`, lay.AssetsDir)
	}

	if pl.Minify {
		if err := esbuild.MinifyFile(lay.Loader()); err != nil {
			return nil, errors.Wrap(err, `minify loader`)
		}
	}
	if pl.Verify {
		info, err := wasm.Inspect(ctx, lay.Binary())
		if err != nil {
			return nil, errors.Wrap(err, `verify binary`)
		}
		log.Info().
			Int(`size`, info.Size).
			Int(`imports`, len(info.Imports)).
			Int(`exports`, len(info.Exports)).
			Msg(`verified binary`)
	}

	files, err := Scan(lay.StageDir)
	if err != nil {
		return nil, errors.Wrapf(err, `scanning %q`, lay.StageDir)
	}
	if evt := log.Debug(); evt.Enabled() {
		evt.Strs(`files`, files.Paths()).Str(`digest`, files.Digest()).Msg(`manifest`)
	}
	return files, nil
}
