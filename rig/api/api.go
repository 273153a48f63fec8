// Package api assembles HTTP handlers and middleware into a rig option.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/swdunlop/wasmrig-go/rig"
)

// Rig returns a rig option that configures a rig to serve the handlers described by the options.
func Rig(options ...Option) rig.Option {
	var cfg config
	cfg.apply(options...)
	return cfg.rigOption
}

// Use returns an option that applies the given middleware to all subsequent handlers.  You can stack middleware multiple times, the
// earliest middleware added will be the outermost layer and therefore will be run first.
//
// Any Go middleware that takes a http.Handler and returns a http.Handler can be used with this function, such as
// hog.Middleware.
func Use(fn func(http.Handler) http.Handler) Option {
	return func(cfg *config) error {
		cfg.middleware = append(cfg.middleware, fn)
		return nil
	}
}

// HandleFunc accepts a http.ServeMux pattern and a handler function.
func HandleFunc(pattern string, fn func(w http.ResponseWriter, r *http.Request)) Option {
	var handler http.Handler = http.HandlerFunc(fn)
	return Handle(pattern, handler)
}

// Handle accepts a http.ServeMux pattern and a http.Handler.
func Handle(pattern string, handler http.Handler) Option {
	return func(cfg *config) error {
		if pattern == `` || handler == nil {
			return errors.New(`handlers need a pattern and a handler`)
		}
		for i := len(cfg.middleware) - 1; i >= 0; i-- {
			handler = cfg.middleware[i](handler)
		}
		cfg.patternHandlers = append(cfg.patternHandlers, patternHandler{
			pattern: pattern,
			handler: handler,
		})
		return nil
	}
}

// Fail returns an option that fails with err, for option constructors that detect a problem early.
func Fail(err error) Option {
	return func(*config) error { return err }
}

// Group organizes a group of options into a single option.  This is useful for isolating a set of handlers and middleware so that
// the middleware does not affect handlers outside of the group.
func Group(options ...Option) Option {
	return func(cfg *config) error {
		old := struct {
			middleware []func(http.Handler) http.Handler
		}{cfg.middleware}
		defer func() { cfg.middleware = old.middleware }()
		for _, option := range options {
			err := option(cfg)
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// An Option adds handlers or middleware to an API.
type Option func(*config) error

type config struct {
	middleware      []func(http.Handler) http.Handler
	patternHandlers []patternHandler
	err             error
}

// RigMux adds the configured handlers to the provided ServeMux, implementing the hook.Mux interface.
func (cfg *config) RigMux(mux *http.ServeMux) {
	for _, it := range cfg.patternHandlers {
		mux.Handle(it.pattern, it.handler)
	}
}

type patternHandler struct {
	pattern string
	handler http.Handler
}

func (cfg *config) apply(options ...Option) {
	for _, option := range options {
		if cfg.err != nil {
			return
		}
		cfg.err = option(cfg)
	}
}

func (cfg *config) rigOption(r *rig.Config) error {
	if cfg.err != nil {
		return cfg.err
	}
	if err := cfg.check(); err != nil {
		return err
	}
	r.Hook(cfg)
	return nil
}

// check registers the handlers with a scratch ServeMux, which panics on malformed or conflicting patterns.
func (cfg *config) check() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf(`%v`, r)
		}
	}()
	cfg.RigMux(http.NewServeMux())
	return nil
}
