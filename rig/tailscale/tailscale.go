// Package tailscale provides a rig option that listens on a Tailscale network instead of a local port, so a staged
// game can be loaded from phones and other machines on the same tailnet.
package tailscale

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig"
	"github.com/swdunlop/wasmrig-go/rig/hook"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// Rig returns a rig.Option that configures a Tailscale server listening at the address, such as ":443".
func Rig(address string, options ...Option) rig.Option {
	return func(r *rig.Config) error {
		var cfg config
		cfg.listen = address
		for _, option := range options {
			err := option(&cfg)
			if err != nil {
				return err
			}
		}
		return cfg.rig(r)
	}
}

type config struct {
	tsnet   tsnet.Server
	funnel  bool
	noTLS   bool
	upHooks []func(*tsnet.Server, *ipnstate.Status) error
	listen  string
}

func (cfg *config) rig(r *rig.Config) error {
	if cfg.funnel && cfg.noTLS {
		return errors.New(`funnels are required to use TLS by Tailscale`)
	}
	if cfg.listen == `` {
		return errors.New(`no Tailscale listening address specified`)
	}
	r.Hook(cfg)
	return nil
}

// Listen implements hook.Listen, bringing up the Tailscale node before listening on it.
func (cfg *config) Listen(ctx context.Context) (net.Listener, error) {
	status, err := cfg.tsnet.Up(ctx)
	if err != nil {
		return nil, err
	}
	for _, fn := range cfg.upHooks {
		err = fn(&cfg.tsnet, status)
		if err != nil {
			_ = cfg.tsnet.Close()
			return nil, err
		}
	}
	if status.Self != nil {
		hog.From(ctx).Info().Str(`url`, URL(status, !cfg.noTLS)).Msg(`serving on tailnet`)
	}
	switch {
	case cfg.funnel:
		return cfg.tsnet.ListenFunnel(`tcp`, cfg.listen)
	case cfg.noTLS:
		return cfg.tsnet.Listen(`tcp`, cfg.listen)
	default:
		return cfg.tsnet.ListenTLS(`tcp`, cfg.listen)
	}
}

var _ hook.Listen = (*config)(nil)

// URL returns the URL of the node described by status, using https if tls is true.
func URL(status *ipnstate.Status, tls bool) string {
	if status == nil || status.Self == nil {
		return ``
	}
	scheme := `http://`
	if tls {
		scheme = `https://`
	}
	return scheme + strings.TrimSuffix(status.Self.DNSName, `.`) + `/`
}

// An Option configures the Tailscale node.
type Option func(*config) error

// Dir specifies the state directory for the Tailscale node.  Defaults to a directory under the user's configuration
// directory named after the program.
func Dir(dir string) Option {
	return func(cfg *config) error {
		cfg.tsnet.Dir = dir
		return nil
	}
}

// Hostname specifies the name of your Tailscale host.  Defaults to the system hostname.
func Hostname(hostname string) Option {
	return func(cfg *config) error {
		cfg.tsnet.Hostname = hostname
		return nil
	}
}

// Funnel tells Tailscale to allow public IPs to connect to your service.
func Funnel() Option {
	return func(cfg *config) error {
		cfg.funnel = true
		return nil
	}
}

// NoTLS tells Tailscale to not use TLS.  This is incompatible with Funnel.
func NoTLS() Option {
	return func(cfg *config) error {
		cfg.noTLS = true
		return nil
	}
}

// Logf sets the logging function for the Tailscale server.  Tailscale is EXTREMELY chatty.
// The default is to log to the standard logger.
func Logf(f func(format string, args ...any)) Option {
	return func(cfg *config) error {
		cfg.tsnet.Logf = f
		return nil
	}
}

// HookUp adds a function that will be called when the Tailscale connection is established and authorized.  If the
// hook returns an error, the Tailscale connection will be closed.
func HookUp(fn func(*tsnet.Server, *ipnstate.Status) error) Option {
	return func(cfg *config) error {
		cfg.upHooks = append(cfg.upHooks, fn)
		return nil
	}
}
