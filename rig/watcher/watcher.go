// Package watcher recursively watches directories for changes to files matching glob patterns, coalescing bursts of
// changes into a single alert.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// Start a watcher with the provided options.
func Start(options ...Option) (Interface, error) {
	wr := &watcher{}
	for _, option := range options {
		err := option(wr)
		if err != nil {
			return nil, err
		}
	}
	err := wr.start()
	if err != nil {
		return nil, err
	}
	return wr, nil
}

// An Option is a function that can manipulate a watcher during construction
type Option func(*watcher) error

// Include specifies one or more file patterns to include in the watch.
// If no patterns are specified, all files not starting with a dot are included.
// Patterns are matched against slash separated paths relative to the watched directory, so "*.rs" only matches
// files at the top and "**.rs" matches them at any depth.
func Include(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.includes, err = appendPatterns(wr.includes, patterns...)
		return
	}
}

// Exclude specifies one or more file patterns to exclude from the watch.
// If no patterns are specified, only files starting with a dot are excluded.
// If a file matches both an include and an exclude pattern, it is excluded.
func Exclude(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.excludes, err = appendPatterns(wr.excludes, patterns...)
		return
	}
}

// Prune specifies patterns for directories that are never watched, such as build output.  Pruned directories are
// matched the same way as Include and Exclude patterns.
func Prune(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.prunes, err = appendPatterns(wr.prunes, patterns...)
		return
	}
}

// Settle specifies how long the watcher waits for changes to stop before raising an alert.  Editors and compilers
// often touch several files at once, this lets them finish.  Defaults to zero, which alerts on every change.
func Settle(d time.Duration) Option {
	return func(wr *watcher) error {
		if d < 0 {
			return fmt.Errorf(`negative settle duration %v`, d)
		}
		wr.settle = d
		return nil
	}
}

// OnError specifies a function that is called with errors reported by the operating system while watching.
func OnError(fn func(error)) Option {
	return func(wr *watcher) error {
		wr.onError = fn
		return nil
	}
}

func appendPatterns(seq []glob.Glob, patterns ...string) ([]glob.Glob, error) {
	for _, pattern := range patterns {
		rx, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf(`%w in %q`, err, pattern)
		}
		seq = append(seq, rx)
	}
	return seq, nil
}

// Directory specifies one or more directories to watch recursively.
// If no directories are specified, the current working directory is watched.
func Directory(paths ...string) Option {
	return func(wr *watcher) error {
		wr.directories = append(wr.directories, paths...)
		return nil
	}
}

// Interface describes the watcher interface
type Interface interface {
	// Alert returns a channel that receives a value after changes settle.  Changes that occur before the alert is
	// received are folded into it.
	Alert() <-chan struct{}

	// Shutdown stops watching and releases the watcher's resources; it is safe to call more than once.
	Shutdown()
}

type watcher struct {
	includes    []glob.Glob
	excludes    []glob.Glob
	prunes      []glob.Glob
	directories []string
	settle      time.Duration
	onError     func(error)

	fsnotify   *fsnotify.Watcher
	alertCh    chan struct{} // sent when the watcher has observed a change
	shutdownCh chan struct{} // sent when the watcher should shut down
	doneCh     chan struct{} // closed when the watcher is done
}

func (wr *watcher) start() (err error) {
	wr.fsnotify, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if len(wr.directories) == 0 {
		wr.directories = []string{`.`}
	}
	if len(wr.excludes) == 0 {
		wr.excludes = []glob.Glob{glob.MustCompile(`.*`, '/'), glob.MustCompile(`**/.*`, '/')}
	}
	for _, dir := range wr.directories {
		_, err := wr.addTree(dir)
		if err != nil {
			wr.fsnotify.Close()
			return err
		}
	}
	wr.alertCh = make(chan struct{}, 1)
	wr.shutdownCh = make(chan struct{})
	wr.doneCh = make(chan struct{})
	go wr.process()
	return nil
}

// addTree watches dir and every directory below it that is not pruned, reporting if it found any included files.
func (wr *watcher) addTree(dir string) (found bool, err error) {
	err = filepath.WalkDir(dir, func(path string, info fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			found = found || wr.shouldInclude(path)
			return nil
		}
		if path != dir && wr.shouldPrune(path) {
			return filepath.SkipDir
		}
		return wr.fsnotify.Add(path)
	})
	return found, err
}

func (wr *watcher) Alert() <-chan struct{} {
	return wr.alertCh
}

func (wr *watcher) Shutdown() {
	select {
	case wr.shutdownCh <- struct{}{}:
		<-wr.doneCh
	case <-wr.doneCh:
	}
}

func (wr *watcher) process() {
	defer close(wr.doneCh)
	defer wr.fsnotify.Close()

	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-wr.shutdownCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-wr.fsnotify.Events:
			if !ok {
				return
			}
			if !wr.processNotification(event) {
				continue
			}
			if wr.settle == 0 {
				wr.issueAlert()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(wr.settle)
			} else {
				timer.Reset(wr.settle)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			wr.issueAlert()
		case err, ok := <-wr.fsnotify.Errors:
			if !ok {
				return
			}
			if wr.onError != nil {
				wr.onError(err)
			}
		}
	}
}

// processNotification updates the watch list for the event and reports if it describes a change worth an alert.
func (wr *watcher) processNotification(event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err != nil {
			return false
		}
		if info.IsDir() {
			if wr.shouldPrune(event.Name) {
				return false
			}
			// a directory moved or copied into the tree arrives with its files, which raise no events of their own.
			found, _ := wr.addTree(event.Name)
			return found
		}
		return wr.shouldInclude(event.Name)
	}

	switch {
	case event.Has(fsnotify.Write):
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// renamed or removed directories drop out of the watch list, we can ignore the error for files.
		_ = wr.fsnotify.Remove(event.Name)
	default:
		return false
	}
	return wr.shouldInclude(event.Name)
}

func (wr *watcher) issueAlert() {
	select {
	case wr.alertCh <- struct{}{}:
	default: // an alert is already pending.
	}
}

func (wr *watcher) shouldInclude(name string) bool {
	name = normalize(name)
	included := len(wr.includes) == 0
	for _, rx := range wr.includes {
		if rx.Match(name) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, rx := range wr.excludes {
		if rx.Match(name) {
			return false
		}
	}
	return true
}

func (wr *watcher) shouldPrune(name string) bool {
	name = normalize(name)
	for _, rx := range wr.prunes {
		if rx.Match(name) {
			return true
		}
	}
	return false
}

// normalize converts a path reported by fsnotify to a clean, slash separated form, turning "./src/main.rs" into
// "src/main.rs".
func normalize(name string) string {
	return filepath.ToSlash(filepath.Clean(name))
}
