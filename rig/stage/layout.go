package stage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// A Profile selects the optimization level of a build and where cargo puts the compiled module.
type Profile int

const (
	Debug Profile = iota
	Release
)

// String returns "debug" or "release".
func (p Profile) String() string { return p.Dir() }

// Dir returns the directory cargo uses for the profile under the target triple directory.
func (p Profile) Dir() string {
	if p == Release {
		return `release`
	}
	return `debug`
}

// ParseProfile parses the output of Profile.String.
func ParseProfile(str string) (Profile, error) {
	switch str {
	case `debug`, `dev`:
		return Debug, nil
	case `release`:
		return Release, nil
	}
	return Debug, fmt.Errorf(`unknown profile %q`, str)
}

// Default values for a Layout.
const (
	DefaultCrate     = `mygame`
	DefaultTarget    = `wasm32-unknown-unknown`
	DefaultTargetDir = `target`
	DefaultStageDir  = `target/www`
	DefaultIndexFile = `index.html`
	DefaultAssetsDir = `assets`
)

// A Layout describes where the pipeline finds its inputs and where it puts its outputs, relative to the crate root.
type Layout struct {
	Crate     string // cargo package name
	Name      string // base name for the loader and binary, defaults to Crate
	Target    string // rustc target triple
	TargetDir string // cargo target directory
	StageDir  string // the staging directory that becomes the site root
	IndexFile string // entry point document copied into the staging root
	AssetsDir string // asset tree copied into the staging directory
}

// DefaultLayout returns the layout of a Bevy crate named "mygame" with an index.html and assets directory next to
// its Cargo.toml.
func DefaultLayout() Layout {
	return Layout{
		Crate:     DefaultCrate,
		Target:    DefaultTarget,
		TargetDir: DefaultTargetDir,
		StageDir:  DefaultStageDir,
		IndexFile: DefaultIndexFile,
		AssetsDir: DefaultAssetsDir,
	}
}

// Validate checks that the layout is complete, that cleaning the staging directory cannot remove any of its inputs and
// that copying the assets cannot copy the staging directory into itself.
func (lay *Layout) Validate() error {
	switch {
	case lay.Crate == ``:
		return errors.New(`no crate name specified`)
	case lay.Target == ``:
		return errors.New(`no target specified`)
	case lay.IndexFile == ``:
		return errors.New(`no index file specified`)
	case lay.AssetsDir == ``:
		return errors.New(`no assets directory specified`)
	case lay.StageDir == ``:
		return errors.New(`no staging directory specified`)
	}
	stage := filepath.Clean(lay.StageDir)
	switch stage {
	case `.`, `/`, `..`:
		return fmt.Errorf(`refusing to use %q as the staging directory`, lay.StageDir)
	}
	for _, input := range []string{lay.IndexFile, lay.AssetsDir} {
		if within(stage, filepath.Clean(input)) {
			return fmt.Errorf(`staging directory %q contains input %q`, lay.StageDir, input)
		}
	}
	if within(filepath.Clean(lay.AssetsDir), stage) {
		return fmt.Errorf(`staging directory %q is inside assets directory %q`, lay.StageDir, lay.AssetsDir)
	}
	return nil
}

// within is true if path is dir or below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == `.` || (rel != `..` && !strings.HasPrefix(rel, `..`+string(filepath.Separator)))
}

// Module returns the path to the module cargo produces for the profile.  Cargo replaces dashes in crate names with
// underscores when naming artifacts.
func (lay *Layout) Module(p Profile) string {
	file := strings.ReplaceAll(lay.Crate, `-`, `_`) + `.wasm`
	return filepath.Join(lay.targetDir(), lay.Target, p.Dir(), file)
}

// Loader returns the path of the JavaScript loader produced by bindings generation.
func (lay *Layout) Loader() string { return filepath.Join(lay.StageDir, lay.name()+`.js`) }

// Binary returns the path of the WebAssembly binary produced by bindings generation.
func (lay *Layout) Binary() string { return filepath.Join(lay.StageDir, lay.name()+`_bg.wasm`) }

// CargoArgs returns the arguments for cargo that compile the crate for the profile.
func (lay *Layout) CargoArgs(p Profile) []string {
	args := []string{`build`, `--target`, lay.Target}
	if p == Release {
		args = append(args, `--release`)
	}
	if dir := lay.targetDir(); dir != DefaultTargetDir {
		args = append(args, `--target-dir`, dir)
	}
	return args
}

// BindgenArgs returns the arguments for wasm-bindgen that turn the module compiled for the profile into a loader and
// binary in the staging directory.
func (lay *Layout) BindgenArgs(p Profile) []string {
	return []string{
		`--no-typescript`,
		`--target`, `web`,
		`--out-name`, lay.name(),
		`--out-dir`, lay.StageDir,
		lay.Module(p),
	}
}

func (lay *Layout) name() string {
	if lay.Name != `` {
		return lay.Name
	}
	return lay.Crate
}

func (lay *Layout) targetDir() string {
	if lay.TargetDir != `` {
		return lay.TargetDir
	}
	return DefaultTargetDir
}
