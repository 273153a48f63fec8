package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func project(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{`src`, `assets/textures`, `target/www`} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	return dir
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(time.Now().String()), 0o644))
}

func expectAlert(t *testing.T, wr Interface) {
	t.Helper()
	select {
	case <-wr.Alert():
	case <-time.After(5 * time.Second):
		t.Fatal(`expected an alert`)
	}
}

func expectQuiet(t *testing.T, wr Interface, d time.Duration) {
	t.Helper()
	select {
	case <-wr.Alert():
		t.Fatal(`unexpected alert`)
	case <-time.After(d):
	}
}

func TestAlertOnIncludedChange(t *testing.T) {
	dir := project(t)
	wr, err := Start(Directory(dir), Include(`**.rs`, `**/assets/**`), Prune(`**/target`))
	require.NoError(t, err)
	defer wr.Shutdown()

	touch(t, filepath.Join(dir, `src`, `main.rs`))
	expectAlert(t, wr)

	touch(t, filepath.Join(dir, `assets`, `textures`, `star.png`))
	expectAlert(t, wr)
}

func TestIgnoresExcludedAndPruned(t *testing.T) {
	dir := project(t)
	wr, err := Start(Directory(dir), Include(`**.rs`), Exclude(`**/.*`, `**~`), Prune(`**/target`))
	require.NoError(t, err)
	defer wr.Shutdown()

	touch(t, filepath.Join(dir, `src`, `notes.txt`))
	touch(t, filepath.Join(dir, `src`, `.main.rs.swp`))
	touch(t, filepath.Join(dir, `src`, `main.rs~`))
	touch(t, filepath.Join(dir, `target`, `www`, `mygame.rs`))
	expectQuiet(t, wr, 300*time.Millisecond)
}

func TestWatchesNewDirectories(t *testing.T) {
	dir := project(t)
	wr, err := Start(Directory(dir), Include(`**.rs`))
	require.NoError(t, err)
	defer wr.Shutdown()

	sub := filepath.Join(dir, `src`, `systems`)
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond) // let the watcher add the directory
	touch(t, filepath.Join(sub, `star.rs`))
	expectAlert(t, wr)
}

func TestAlertOnMovedDirectory(t *testing.T) {
	dir := project(t)
	wr, err := Start(Directory(dir), Include(`**/assets/**`), Settle(20*time.Millisecond))
	require.NoError(t, err)
	defer wr.Shutdown()

	outside := filepath.Join(t.TempDir(), `sprites`)
	require.NoError(t, os.MkdirAll(outside, 0o755))
	touch(t, filepath.Join(outside, `star.png`))
	require.NoError(t, os.Rename(outside, filepath.Join(dir, `assets`, `sprites`)))
	expectAlert(t, wr)

	empty := filepath.Join(t.TempDir(), `empty`)
	require.NoError(t, os.Mkdir(empty, 0o755))
	require.NoError(t, os.Rename(empty, filepath.Join(dir, `src`, `empty`)))
	expectQuiet(t, wr, 300*time.Millisecond)
}

func TestSettleCoalescesBursts(t *testing.T) {
	dir := project(t)
	wr, err := Start(Directory(dir), Include(`**.rs`), Settle(150*time.Millisecond))
	require.NoError(t, err)
	defer wr.Shutdown()

	for i := 0; i < 5; i++ {
		touch(t, filepath.Join(dir, `src`, `main.rs`))
		time.Sleep(10 * time.Millisecond)
	}
	expectAlert(t, wr)
	expectQuiet(t, wr, 400*time.Millisecond)
}

func TestShutdownTwice(t *testing.T) {
	wr, err := Start(Directory(project(t)))
	require.NoError(t, err)
	wr.Shutdown()
	wr.Shutdown()
}

func TestBadOptions(t *testing.T) {
	_, err := Start(Include(`[`))
	assert.Error(t, err)
	_, err = Start(Settle(-time.Second))
	assert.Error(t, err)
	_, err = Start(Directory(filepath.Join(t.TempDir(), `missing`)))
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, `src/main.rs`, normalize(`./src/main.rs`))
	assert.Equal(t, `index.html`, normalize(`./index.html`))
}
