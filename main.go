package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/wasmrig-go/rig/tool"
	"github.com/swdunlop/zugzug-go"
	"github.com/swdunlop/zugzug-go/zug"
)

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: `2006-01-02 15:04:05`}).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log
	zlog.Logger = log
}

var tasks = zugzug.Tasks{}

func main() {
	// A missing .env is normal, and variables already in the environment win.
	_ = godotenv.Load()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:]...)
	cancel()
	os.Exit(code)
}

// run runs the tasks named by args and returns the exit code for the process, which is the exit code of the failing
// external tool if there was one.
func run(ctx context.Context, args ...string) int {
	cfg, err := zugzug.New(tasks)
	if err == nil {
		err = cfg.Run(ctx, args...)
	}
	if err == nil {
		return 0
	}
	var task zug.Error
	if errors.As(err, &task) {
		err = task.Err
	}
	var exit zugzug.Exit
	if errors.As(err, &exit) {
		return int(exit)
	}
	evt := hog.From(ctx).Error().Err(err)
	if task.Task != `` {
		evt = evt.Str(`task`, task.Task)
	}
	evt.Msg(`failed`)
	return tool.ExitCode(err)
}
