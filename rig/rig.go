// Package rig manages a configuration of HTTP handlers rigged together with a build that may be rerun while the rig
// is serving.  Web applications can observe each build by subscribing to server sent events at /_rig/build.
package rig

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig/hook"
	sse "github.com/tmaxmax/go-sse"
)

func init() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: `2006-01-02 15:04:05`}).With().Timestamp().Logger()
	zlog.Logger = log
	zerolog.DefaultContextLogger = &log
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
}

// BuildPath is where clients subscribe to build events.
const BuildPath = `/_rig/build`

// Timeouts applied to every server before hooks see it.
const (
	ReadHeaderTimeout = 10 * time.Second
	IdleTimeout       = 2 * time.Minute
)

// Serve will serve a rig with the given options at the specified address until the context is cancelled.
func Serve(ctx context.Context, address string, options ...Option) error {
	cfg, err := New(options...)
	if err != nil {
		return err
	}
	return cfg.Serve(ctx, address)
}

// New returns a new rig configuration.
func New(options ...Option) (*Config, error) {
	cfg := new(Config)
	err := cfg.Apply(options...)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// A Config is a rig configuration.
type Config struct {
	control sync.Mutex
	serve   bool            // true once Serve has been called
	serving bool            // true after Serve has been called and before it returns
	hooks   []any           // hooks to apply
	done    <-chan struct{} // closed when the rig starts to shut down
	events  *sse.Server     // non-nil once Announce has been applied
}

// Done returns a channel that will be closed when the rig starts to shut down.  This is nil unless the rig is serving.
func (cfg *Config) Done() <-chan struct{} {
	cfg.control.Lock()
	defer cfg.control.Unlock()
	return cfg.done
}

// Hook adds hooks to the configuration, see the hook package for interfaces that hooks can implement.  This is
// normally done by various options.
func (cfg *Config) Hook(hooks ...any) {
	cfg.hooks = append(cfg.hooks, hooks...)
}

// Apply applies the given options to the config; should not be called after Serve.
func (cfg *Config) Apply(options ...Option) error {
	cfg.control.Lock()
	serve, serving := cfg.serve, cfg.serving
	cfg.control.Unlock()
	if serving {
		return errors.New(`cannot apply options while a rig is running`)
	} else if serve {
		return errors.New(`cannot apply options after a rig has been run`)
	}

	for _, option := range options {
		err := option(cfg)
		if err != nil {
			return err
		}
	}
	return nil
}

// Announce returns an option that registers BuildPath, where clients can subscribe to events sent with Publish.
func Announce() Option {
	return func(cfg *Config) error {
		if cfg.events == nil {
			cfg.events = &sse.Server{}
			cfg.Hook(announcer{cfg.events})
		}
		return nil
	}
}

type announcer struct{ events *sse.Server }

// RigMux implements hook.Mux.
func (a announcer) RigMux(mux *http.ServeMux) { mux.Handle(`GET `+BuildPath, a.events) }

// RigServer implements hook.Server so subscribers are disconnected when the server shuts down.
func (a announcer) RigServer(svr *http.Server) {
	svr.RegisterOnShutdown(func() { _ = a.events.Shutdown(context.Background()) })
}

// Provides implements hook.Provider.
func (announcer) Provides() []string { return []string{`announce`} }

// Publish sends an event of the given type with data encoded as JSON to every client subscribed to BuildPath.  This
// does nothing if Announce was not applied.
func (cfg *Config) Publish(eventType string, data any) error {
	if cfg.events == nil {
		return nil
	}
	js, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg := &sse.Message{Type: sse.Type(eventType)}
	msg.AppendData(string(js))
	return cfg.events.Publish(msg)
}

// Serve will run the configured rig as a server until the context is cancelled.  If a hook implements hook.Listen, it
// provides the listener; otherwise the rig listens for TCP connections at the address.
func (cfg *Config) Serve(ctx context.Context, address string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg.control.Lock()
	if cfg.serving {
		cfg.control.Unlock()
		return errors.New(`rig is already serving`)
	}
	cfg.serve, cfg.serving = true, true
	cfg.done = ctx.Done()
	cfg.control.Unlock()
	defer func() {
		cfg.control.Lock()
		cfg.done, cfg.serving = nil, false
		cfg.control.Unlock()
	}()

	hooks, err := hook.Order(cfg.hooks...)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	for _, it := range hooks {
		if impl, ok := it.(hook.Mux); ok {
			impl.RigMux(mux)
		}
	}

	var svr http.Server
	svr.Handler = mux
	// No write timeout: build events and RPC sockets stay open as long as their clients do.
	svr.ReadHeaderTimeout = ReadHeaderTimeout
	svr.IdleTimeout = IdleTimeout
	svr.BaseContext = func(net.Listener) context.Context { return ctx }
	for _, it := range hooks {
		if impl, ok := it.(hook.Server); ok {
			impl.RigServer(&svr)
		}
	}

	lr, err := cfg.listen(ctx, hooks, address)
	if err != nil {
		return err
	}
	// no need to defer lr.Close, svr.Shutdown will close it

	go func() {
		<-ctx.Done()
		svr.Shutdown(context.Background())
	}()

	hog.From(ctx).Info().Str(`address`, lr.Addr().String()).Msg(`starting HTTP service`)
	err = svr.Serve(lr)
	hog.From(ctx).Info().Err(err).Msg(`HTTP service stopped`)
	if err == http.ErrServerClosed {
		return nil
	}
	_ = lr.Close() // just in case, since we did not have a shutdown or server close.
	return err
}

func (cfg *Config) listen(ctx context.Context, hooks []any, address string) (net.Listener, error) {
	for _, it := range hooks {
		if impl, ok := it.(hook.Listen); ok {
			return impl.Listen(ctx)
		}
	}
	if address == `` {
		return nil, errors.New(`no listener configured and no address specified`)
	}
	var lcf net.ListenConfig
	for _, it := range hooks {
		if impl, ok := it.(hook.Listener); ok {
			impl.RigListener(&lcf)
		}
	}
	return lcf.Listen(ctx, `tcp`, address)
}

// An Option is a function that modifies a Config before it is served.
type Option func(*Config) error

// Apply combines options into a single option.
func Apply(options ...Option) Option {
	return func(cfg *Config) error {
		for _, option := range options {
			if err := option(cfg); err != nil {
				return err
			}
		}
		return nil
	}
}
