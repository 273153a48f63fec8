// Package esbuild minifies the JavaScript loaders produced by wasm-bindgen using the esbuild transform API.
package esbuild

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/pkg/errors"
)

// Minify returns a minified copy of the ES module in src.  The name is only used in error messages.
func Minify(name string, src []byte, options ...Option) ([]byte, error) {
	cfg := config{transform: esbuild.TransformOptions{
		Loader:            esbuild.LoaderJS,
		Format:            esbuild.FormatESModule,
		Target:            esbuild.ES2020,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: true,
		Sourcefile:        name,
		LogLevel:          esbuild.LogLevelSilent,
	}}
	for _, option := range options {
		option(&cfg)
	}
	ret := esbuild.Transform(string(src), cfg.transform)
	if len(ret.Errors) > 0 {
		return nil, fmt.Errorf(`esbuild: %s`, formatMessages(ret.Errors))
	}
	return ret.Code, nil
}

// MinifyFile replaces the ES module at path with a minified copy.
func MinifyFile(path string, options ...Option) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out, err := Minify(path, src, options...)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, out, info.Mode().Perm()), `writing %q`, path)
}

// An Option adjusts the esbuild transform.
type Option func(*config)

type config struct {
	transform esbuild.TransformOptions
}

// KeepNames preserves function and class names, which helps when reading stack traces from the browser.
func KeepNames() Option {
	return func(cfg *config) { cfg.transform.KeepNames = true }
}

// TransformOption returns an option that can manipulate the esbuild API transform options structure.
// See https://esbuild.github.io/api for information on how to use esbuild options.
func TransformOption(fn func(*esbuild.TransformOptions)) Option {
	return func(cfg *config) { fn(&cfg.transform) }
}

func formatMessages(messages []esbuild.Message) string {
	var buf bytes.Buffer
	for i, msg := range messages {
		if i > 0 {
			buf.WriteString("\n   ")
		}
		if msg.Location != nil {
			fmt.Fprintf(&buf, "%s:%d:%d: ", msg.Location.File, msg.Location.Line, msg.Location.Column)
		}
		buf.WriteString(strings.ReplaceAll(msg.Text, "\n", "\n   "))
	}
	return buf.String()
}
