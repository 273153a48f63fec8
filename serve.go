package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig"
	"github.com/swdunlop/wasmrig-go/rig/api"
	"github.com/swdunlop/wasmrig-go/rig/jrpc"
	"github.com/swdunlop/wasmrig-go/rig/local"
	"github.com/swdunlop/wasmrig-go/rig/mrpc"
	"github.com/swdunlop/wasmrig-go/rig/stage"
	"github.com/swdunlop/wasmrig-go/rig/tailscale"
	"github.com/swdunlop/wasmrig-go/rig/watcher"
	"github.com/swdunlop/wasmrig-go/rig/www"
	"github.com/swdunlop/zugzug-go"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: `serve`, Use: "Stages the game, serves it over HTTP and restages it when its sources change",
			Fn: serveGame, Settings: settings(stageSettings, targetSettings, logSettings, zugzug.Settings{
				{Var: &settle, Name: `SETTLE`,
					Use: "How long changes must be quiet before a rebuild starts"},

				{Var: &listenNetwork, Name: `LISTEN_NETWORK`,
					Use: "Listening network for the address (default: \"tcp\" if Tailscale not used)"},
				{Var: &listenAddress, Name: `LISTEN_ADDRESS`,
					Use: "Listening address for the service  (default: localhost:4000 if TCP used)"},

				{Var: &tailscaleHostname, Name: `TAILSCALE_HOSTNAME`,
					Use: "Specifies the hostname on your Tailscale network"},
				{Var: &tailscaleFunnel, Name: `TAILSCALE_FUNNEL`,
					Use: "Enables internet access via a Tailscale funnel"},
				{Var: &tailscaleListen, Name: `TAILSCALE_LISTEN`,
					Use: "Listening address for clients from your Tailscale network (default: \":443\" or \":80\")"},
				{Var: &tailscaleDir, Name: `TAILSCALE_DIR`,
					Use: "State directory for Tailscale"},
				{Var: &noTailscaleTLS, Name: `NO_TAILSCALE_TLS`,
					Use: "Disables TLS for Tailscale"},
			})},
	}...)
}

var (
	settle = `200ms`

	listenNetwork string
	listenAddress string

	tailscaleFunnel   bool
	tailscaleHostname string
	tailscaleListen   string
	tailscaleDir      string
	noTailscaleTLS    bool
)

// Where clients connect to query and control the build, using JSON or MessagePack.
const (
	rpcPath  = `/_rig/rpc`
	mrpcPath = `/_rig/mrpc`
)

func serveGame(ctx context.Context) error {
	if err := configureLogging(); err != nil {
		return err
	}
	d, err := time.ParseDuration(settle)
	if err != nil {
		return fmt.Errorf(`%w in SETTLE`, err)
	}
	lay := layout()
	if err := lay.Validate(); err != nil {
		return err
	}
	listener, err := listenOption()
	if err != nil {
		return err
	}

	b := newBuilder()
	b.pipeline = pipeline(&b.gate)

	wr, err := watcher.Start(watchOptions(lay, d, func(err error) {
		hog.From(ctx).Warn().Err(err).Msg(`watcher error`)
	})...)
	if err != nil {
		return err
	}
	defer wr.Shutdown()

	cfg, err := rig.New(
		listener,
		rig.Announce(),
		api.Rig(
			api.Use(hog.Middleware()),
			b.API(),
			b.MessagePackAPI(),
			www.API(`GET /`, lay.StageDir,
				www.Gate(b.gate.RLocker()),
				www.Index(filepath.Base(lay.IndexFile)),
			),
		),
	)
	if err != nil {
		return err
	}
	b.publish = func(rep stage.Report) error { return cfg.Publish(`build`, rep) }

	var group sync.WaitGroup
	defer group.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group.Add(1)
	go func() {
		defer group.Done()
		b.loop(ctx, wr.Alert())
	}()
	return cfg.Serve(ctx, ``)
}

// A builder serializes pipeline runs requested by the watcher and RPC clients and remembers the latest report.
type builder struct {
	pipeline *stage.Pipeline
	gate     sync.RWMutex
	requests chan chan stage.Report
	publish  func(stage.Report) error

	control  sync.Mutex
	latest   stage.Report
	watchers map[chan stage.Report]struct{}
}

func newBuilder() *builder {
	return &builder{requests: make(chan chan stage.Report)}
}

// loop builds once, then again after every alert or request, until the context is cancelled.
func (b *builder) loop(ctx context.Context, alerts <-chan struct{}) {
	b.build(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-alerts:
			b.build(ctx)
		case reply := <-b.requests:
			reply <- b.build(ctx)
		}
	}
}

func (b *builder) build(ctx context.Context) stage.Report {
	// Run logs failures, the report carries them to clients.
	rep, _ := b.pipeline.Run(ctx, stage.Debug)
	b.control.Lock()
	b.latest = rep
	for ch := range b.watchers {
		select {
		case <-ch: // a slow watcher only needs the latest report
		default:
		}
		ch <- rep
	}
	b.control.Unlock()
	if b.publish != nil {
		if err := b.publish(rep); err != nil {
			hog.From(ctx).Warn().Err(err).Msg(`could not announce build`)
		}
	}
	return rep
}

// Status returns the report of the latest build, which is empty until the first build finishes.
func (b *builder) Status() stage.Report {
	b.control.Lock()
	defer b.control.Unlock()
	return b.latest
}

// watch returns a channel that receives the report of every build until stop is called.
func (b *builder) watch() (reports <-chan stage.Report, stop func()) {
	ch := make(chan stage.Report, 1)
	b.control.Lock()
	if b.watchers == nil {
		b.watchers = make(map[chan stage.Report]struct{})
	}
	b.watchers[ch] = struct{}{}
	b.control.Unlock()
	return ch, func() {
		b.control.Lock()
		delete(b.watchers, ch)
		b.control.Unlock()
	}
}

// Rebuild queues a build and returns its report once it finishes.
func (b *builder) Rebuild(ctx context.Context) (stage.Report, error) {
	reply := make(chan stage.Report, 1)
	select {
	case b.requests <- reply:
	case <-ctx.Done():
		return stage.Report{}, ctx.Err()
	}
	select {
	case rep := <-reply:
		return rep, nil
	case <-ctx.Done():
		return stage.Report{}, ctx.Err()
	}
}

// API exposes Status and Rebuild as the "status" and "rebuild" RPC functions.
func (b *builder) API() api.Option {
	return jrpc.API(`GET `+rpcPath,
		jrpc.Fn(`status`, func(ctx *jrpc.Scope, _ struct{}) (stage.Report, error) {
			return b.Status(), nil
		}),
		jrpc.Fn(`rebuild`, func(ctx *jrpc.Scope, _ struct{}) (stage.Report, error) {
			return b.Rebuild(ctx)
		}),
	)
}

// MessagePackAPI exposes the same functions as API over MessagePack, plus a "watch" stream that yields the latest
// report and then the report of every build until the client goes away.
func (b *builder) MessagePackAPI() api.Option {
	return mrpc.API(`GET `+mrpcPath,
		mrpc.CallFn(`status`, func(ctx *mrpc.Scope, _ mrpc.Nil) (stage.Report, error) {
			return b.Status(), nil
		}),
		mrpc.CallFn(`rebuild`, func(ctx *mrpc.Scope, _ mrpc.Nil) (stage.Report, error) {
			return b.Rebuild(ctx)
		}),
		mrpc.StartFn(`watch`, func(ctx *mrpc.Scope, _ mrpc.Nil) error {
			reports, stop := b.watch()
			defer stop()
			if rep := b.Status(); !rep.Started.IsZero() {
				if err := ctx.Yield(&rep); err != nil {
					return err
				}
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case rep := <-reports:
					if err := ctx.Yield(&rep); err != nil {
						return err
					}
				}
			}
		}),
	)
}

// watchOptions watches the crate's sources, the index document and the assets from the working directory, skipping
// cargo's output and hidden directories.
func watchOptions(lay stage.Layout, settle time.Duration, onError func(error)) []watcher.Option {
	return []watcher.Option{
		watcher.Directory(`.`),
		watcher.Include(
			`**.rs`, `**Cargo.toml`, `**Cargo.lock`,
			watchPattern(lay.IndexFile),
			watchPattern(lay.AssetsDir)+`/**`,
		),
		watcher.Exclude(`.*`, `**/.*`, `**~`),
		watcher.Prune(
			`.*`, `**/.*`,
			watchPattern(stage.DefaultTargetDir),
			watchPattern(lay.TargetDir),
			watchPattern(lay.StageDir),
		),
		watcher.Settle(settle),
		watcher.OnError(onError),
	}
}

func watchPattern(path string) string {
	path = filepath.ToSlash(filepath.Clean(path))
	return glob.QuoteMeta(strings.TrimPrefix(path, `./`))
}

// listenOption picks a Tailscale listener if any Tailscale setting is present, otherwise a local one.
func listenOption() (rig.Option, error) {
	var tailscaleOptions []tailscale.Option
	useTailscale := false
	listen := tailscaleListen
	if tailscaleFunnel {
		if noTailscaleTLS {
			return nil, errors.New("Tailscale funnel requires TLS")
		}
		if listen != `` {
			return nil, errors.New("You cannot combine TAILSCALE_FUNNEL with TAILSCALE_LISTEN")
		}
		listen = `:443`
		useTailscale = true
		tailscaleOptions = append(tailscaleOptions, tailscale.Funnel())
	} else if listen != `` {
		useTailscale = true
	} else if noTailscaleTLS {
		listen = `:80`
	} else {
		listen = `:443`
	}
	if tailscaleHostname != `` {
		useTailscale = true
		tailscaleOptions = append(tailscaleOptions, tailscale.Hostname(tailscaleHostname))
	}
	if noTailscaleTLS {
		tailscaleOptions = append(tailscaleOptions, tailscale.NoTLS())
	}
	if tailscaleDir != `` {
		tailscaleOptions = append(tailscaleOptions, tailscale.Dir(tailscaleDir))
	}
	if useTailscale {
		return tailscale.Rig(listen, tailscaleOptions...), nil
	}

	network, address := listenNetwork, listenAddress
	if network == `` {
		network = `tcp`
	}
	if address == `` {
		if network != `tcp` {
			return nil, fmt.Errorf(`LISTEN_ADDRESS must be specified for LISTEN_NETWORK other than "tcp"`)
		}
		address = `localhost:4000`
	}
	return local.Rig(local.Listen(network, address)), nil
}
