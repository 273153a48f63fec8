// Package local provides a rig option that listens on a local network address, such as the loopback port a browser
// uses to load a staged game.
package local

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/swdunlop/wasmrig-go/rig"
	"github.com/swdunlop/wasmrig-go/rig/hook"
)

// Rig returns a rig.Option that configures a network listener.
func Rig(options ...Option) rig.Option {
	return func(r *rig.Config) error {
		var cfg config
		for _, option := range options {
			err := option(&cfg)
			if err != nil {
				return err
			}
		}
		return cfg.rig(r)
	}
}

// An Option is a function that configures a local listener.
type Option func(*config) error

type config struct {
	listen struct {
		network string
		address string
		config  net.ListenConfig
	}
	ready func(net.Addr)
}

// TCP returns an Option that sets the listener to a TCP socket on the provided address.
func TCP(address string) Option {
	return Listen(`tcp`, address)
}

// Unix returns an Option that sets the listener to a Unix socket on the provided path.
func Unix(path string) Option {
	return Listen(`unix`, path)
}

// Listen returns an Option that sets the listener to the provided network and address.
func Listen(network, address string) Option {
	return func(cfg *config) error {
		cfg.listen.network = network
		cfg.listen.address = address
		return nil
	}
}

// KeepAlive specifies the keepalive duration for connections accepted by the listener.
func KeepAlive(keepalive time.Duration) Option {
	return func(cfg *config) error {
		cfg.listen.config.KeepAlive = keepalive
		return nil
	}
}

// ListenConfig returns an Option that adjusts the net.ListenConfig used to create local listeners.
func ListenConfig(options ...func(*net.ListenConfig)) Option {
	return func(cfg *config) error {
		for _, option := range options {
			option(&cfg.listen.config)
		}
		return nil
	}
}

// Ready returns an Option that calls fn with the address of the listener once it is listening.  This is useful
// when listening on port 0.
func Ready(fn func(net.Addr)) Option {
	return func(cfg *config) error {
		cfg.ready = fn
		return nil
	}
}

// Listen implements hook.Listen by returning a net.Listener for the configured network and address.
func (cfg *config) Listen(ctx context.Context) (net.Listener, error) {
	lr, err := cfg.listen.config.Listen(ctx, cfg.listen.network, cfg.listen.address)
	if err != nil {
		return nil, err
	}
	if cfg.ready != nil {
		cfg.ready(lr.Addr())
	}
	return lr, nil
}

var _ hook.Listen = (*config)(nil)

func (cfg *config) rig(r *rig.Config) error {
	if cfg.listen.network == `` || cfg.listen.address == `` {
		return errors.New(`local listeners must configure both network and address`)
	}
	r.Hook(cfg)
	return nil
}
