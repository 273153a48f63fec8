package esbuild

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loader = `
let wasm;

export function greet(name) {
    const message = "hello, " + name;
    return message;
}

async function __wbg_init(module_or_path) {
    if (wasm !== undefined) return wasm;
    return wasm;
}

export default __wbg_init;
`

func TestMinify(t *testing.T) {
	out, err := Minify(`mygame.js`, []byte(loader))
	require.NoError(t, err)
	assert.Less(t, len(out), len(loader))
	assert.Contains(t, string(out), `export`)
	assert.Contains(t, string(out), `greet`)
	assert.NotContains(t, string(out), `    `)

	again, err := Minify(`mygame.js`, []byte(loader))
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestMinifySyntaxError(t *testing.T) {
	_, err := Minify(`broken.js`, []byte(`export function (`))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), `esbuild: `))
	assert.Contains(t, err.Error(), `broken.js`)
}

func TestMinifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), `mygame.js`)
	require.NoError(t, os.WriteFile(path, []byte(loader), 0o644))
	require.NoError(t, MinifyFile(path, KeepNames()))
	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Less(t, len(out), len(loader))
}

func TestMinifyFileMissing(t *testing.T) {
	err := MinifyFile(filepath.Join(t.TempDir(), `missing.js`))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
