// Package toolchain provisions the external tools needed to build and serve a WebAssembly game.  Installation is
// idempotent: tools that are already present are left alone.
package toolchain

import (
	"bufio"
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig/tool"
)

// A Tool is something Install can provision.
type Tool struct {
	Kind string // "target" for a rustup target, "crate" for a cargo binary crate
	Name string
}

func (t Tool) String() string { return t.Kind + ` ` + t.Name }

// Tools returns the tools needed to compile for the given target, generate bindings, run a development server and watch
// for changes.
func Tools(target string) []Tool {
	return []Tool{
		{Kind: `target`, Name: target},
		{Kind: `crate`, Name: `wasm-server-runner`},
		{Kind: `crate`, Name: `wasm-bindgen-cli`},
		{Kind: `crate`, Name: `cargo-watch`},
	}
}

// A Result lists what Install did.
type Result struct {
	Installed []Tool `json:"installed"`
	Present   []Tool `json:"present"`
}

// Install installs each tool that is missing, stopping at the first failure.  The runner defaults to tool.Console.
func Install(ctx context.Context, runner tool.Runner, tools ...Tool) (Result, error) {
	var ret Result
	if runner == nil {
		runner = tool.Console()
	}
	log := hog.From(ctx)
	var targets, crates map[string]bool
	for _, it := range tools {
		var (
			present bool
			err     error
		)
		switch it.Kind {
		case `target`:
			if targets == nil {
				targets, err = installedTargets(ctx, runner)
			}
			present = targets[it.Name]
		case `crate`:
			if crates == nil {
				crates, err = installedCrates(ctx, runner)
			}
			present = crates[it.Name]
		default:
			err = errors.Errorf(`unsupported tool kind %q`, it.Kind)
		}
		if err != nil {
			return ret, err
		}
		if present {
			log.Info().Stringer(`tool`, it).Msg(`already installed`)
			ret.Present = append(ret.Present, it)
			continue
		}
		log.Info().Stringer(`tool`, it).Msg(`installing`)
		if it.Kind == `target` {
			err = runner.Run(ctx, `rustup`, `target`, `add`, it.Name)
		} else {
			err = runner.Run(ctx, `cargo`, `install`, it.Name)
		}
		if err != nil {
			return ret, errors.Wrapf(err, `installing %v`, it)
		}
		ret.Installed = append(ret.Installed, it)
	}
	return ret, nil
}

// installedTargets parses `rustup target list --installed`, which lists one target per line.
func installedTargets(ctx context.Context, runner tool.Runner) (map[string]bool, error) {
	out, err := runner.Eval(ctx, `rustup`, `target`, `list`, `--installed`)
	if err != nil {
		return nil, errors.Wrap(err, `listing rustup targets`)
	}
	set := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != `` {
			set[line] = true
		}
	}
	return set, nil
}

// installedCrates parses `cargo install --list`, which lists each crate as "name vX.Y.Z:" followed by its binaries
// indented on the lines after it.
func installedCrates(ctx context.Context, runner tool.Runner) (map[string]bool, error) {
	out, err := runner.Eval(ctx, `cargo`, `install`, `--list`)
	if err != nil {
		return nil, errors.Wrap(err, `listing cargo crates`)
	}
	set := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if line == `` || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		if name, _, ok := strings.Cut(line, ` `); ok {
			set[name] = true
		}
	}
	return set, nil
}
