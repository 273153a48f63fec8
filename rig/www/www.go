// Package www serves a staging directory as a static site.  Every request reads the file from disk, and responses carry
// an entity tag derived from the file's content so browsers revalidate instead of reusing a stale build.
package www

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig/api"
)

// API returns an api.Option that serves the files in dir at the given pattern, such as "GET /".
func API(pattern, dir string, options ...Option) api.Option {
	h, err := Handler(dir, options...)
	if err != nil {
		return api.Fail(err)
	}
	return api.Handle(pattern, h)
}

// Handler returns a http.Handler that serves the files in dir.
func Handler(dir string, options ...Option) (http.Handler, error) {
	cfg := &config{dir: dir, index: `index.html`, tagCacheSize: 1024}
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}
	var err error
	cfg.tags, err = lru.New[tagKey, string](cfg.tagCacheSize)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// An Option configures the handler.
type Option func(*config) error

// Gate specifies a lock that is held while each request opens its file, this is normally the read side of the lock a
// build holds while it replaces the directory.
func Gate(lock sync.Locker) Option {
	return func(cfg *config) error {
		cfg.gate = lock
		return nil
	}
}

// Index specifies the document served for a directory, defaults to index.html.
func Index(name string) Option {
	return func(cfg *config) error {
		if name == `` || strings.ContainsRune(name, '/') {
			return errors.New(`index must be a file name`)
		}
		cfg.index = name
		return nil
	}
}

// TagCacheSize specifies how many entity tags are remembered, defaults to 1024.
func TagCacheSize(n int) Option {
	return func(cfg *config) error {
		cfg.tagCacheSize = n
		return nil
	}
}

type config struct {
	dir          string
	index        string
	gate         sync.Locker
	tagCacheSize int
	tags         *lru.Cache[tagKey, string]
}

// tagKey identifies a version of a file without reading it.
type tagKey struct {
	path    string
	size    int64
	modTime int64
}

func (cfg *config) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean(`/` + r.URL.Path)
	if strings.HasSuffix(r.URL.Path, `/`) {
		name = path.Join(name, cfg.index)
	}
	f, info, tag, err := cfg.prepare(filepath.Join(cfg.dir, filepath.FromSlash(name)))
	if err != nil {
		cfg.fail(w, r, err)
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set(`ETag`, tag)
	h.Set(`Cache-Control`, `no-cache`)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// prepare opens and tags the named file while holding the gate.  The gate is released before the response is written,
// an open file keeps its content even if a build removes it, so a slow client never holds up a build.
func (cfg *config) prepare(name string) (*os.File, fs.FileInfo, string, error) {
	if cfg.gate != nil {
		cfg.gate.Lock()
		defer cfg.gate.Unlock()
	}
	f, info, err := cfg.open(name)
	if err != nil {
		return nil, nil, ``, err
	}
	tag, err := cfg.tag(f, info)
	if err != nil {
		_ = f.Close()
		return nil, nil, ``, err
	}
	return f, info, tag, nil
}

// open opens the named file, or the index of the named directory.
func (cfg *config) open(name string) (*os.File, fs.FileInfo, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if !info.IsDir() {
		return f, info, nil
	}
	_ = f.Close()
	return cfg.open(filepath.Join(name, cfg.index))
}

// tag returns a strong entity tag for the content of f, leaving f at its start.
func (cfg *config) tag(f *os.File, info fs.FileInfo) (string, error) {
	key := tagKey{f.Name(), info.Size(), info.ModTime().UnixNano()}
	if tag, ok := cfg.tags.Get(key); ok {
		return tag, nil
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ``, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return ``, err
	}
	tag := `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`
	cfg.tags.Add(key, tag)
	return tag, nil
}

func (cfg *config) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.NotFound(w, r)
	case errors.Is(err, fs.ErrPermission):
		http.Error(w, `403 forbidden`, http.StatusForbidden)
	default:
		hog.For(r).Error().Err(err).Msg(`could not serve file`)
		http.Error(w, `500 internal server error`, http.StatusInternalServerError)
	}
}
