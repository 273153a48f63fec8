// Package wasm inspects WebAssembly binaries before they are published, using wazero to decode and validate them.
package wasm

import (
	"context"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
)

// Info summarizes a validated module.
type Info struct {
	Size    int      `json:"size"`
	Imports []string `json:"imports"` // "module.name" of each imported function
	Exports []string `json:"exports"` // names of exported functions, sorted
	Memory  bool     `json:"memory"`  // true if the module exports or imports a memory
}

// Inspect reads and validates the module at path.
func Inspect(ctx context.Context, path string) (Info, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	info, err := Decode(ctx, bin)
	return info, errors.Wrapf(err, `inspecting %q`, path)
}

// Decode validates the module in bin without instantiating it, so its imports do not need to be satisfied.
func Decode(ctx context.Context, bin []byte) (Info, error) {
	info := Info{Size: len(bin)}
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)
	mod, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return info, err
	}
	defer mod.Close(ctx)
	for _, fn := range mod.ImportedFunctions() {
		module, name, _ := fn.Import()
		info.Imports = append(info.Imports, module+`.`+name)
	}
	for name := range mod.ExportedFunctions() {
		info.Exports = append(info.Exports, name)
	}
	sort.Strings(info.Exports)
	info.Memory = len(mod.ImportedMemories()) > 0 || len(mod.ExportedMemories()) > 0
	return info, nil
}
