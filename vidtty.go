// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package vidtty

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"vidtty/pkg/log"
	"vidtty/pkg/storage"
)

const usage = `usage: vidtty [OPTIONS] FILE

Plays FILE in the terminal. FILE is a .vidtxt file or any
video ffmpeg can read, including URLs.

options:
`

// Errors.
var (
	ErrNoFile       = errors.New("missing FILE argument")
	ErrInvalidSize  = errors.New("invalid size, expected COLUMNSxLINES")
	ErrModeConflict = errors.New("only one of --dump, --info and --list may be used")
)

type options struct {
	dump    bool
	info    bool
	list    bool
	noAudio bool
	debug   bool

	size    string
	columns uint
	lines   uint

	config string
	tty    string
	file   string
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("vidtty", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usage)
		fs.PrintDefaults()
	}

	boolFlag := func(p *bool, short, long, usage string) {
		fs.BoolVar(p, short, false, usage)
		fs.BoolVar(p, long, false, "same as -"+short)
	}
	boolFlag(&o.dump, "d", "dump", "convert FILE to a .vidtxt file")
	boolFlag(&o.info, "i", "info", "print information about a .vidtxt file")
	boolFlag(&o.list, "l", "list", "list converted files")
	boolFlag(&o.noAudio, "m", "no-audio", "play or convert without audio")
	boolFlag(&o.debug, "b", "debug-mode", "draw a status line and print debug logs")

	fs.StringVar(&o.size, "s", "", "output size as COLUMNSxLINES, default is the terminal size")
	fs.StringVar(&o.size, "size", "", "same as -s")
	fs.UintVar(&o.columns, "columns", 0, "output columns, overrides --size")
	fs.UintVar(&o.columns, "width", 0, "same as --columns")
	fs.UintVar(&o.lines, "lines", 0, "output lines, overrides --size")
	fs.UintVar(&o.lines, "height", 0, "same as --lines")
	fs.StringVar(&o.tty, "t", "", "draw to another terminal or file instead of stdout")
	fs.StringVar(&o.tty, "tty", "", "same as -t")
	fs.StringVar(&o.config, "config", "", "path to vidtty.yaml")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	modes := 0
	for _, mode := range []bool{o.dump, o.info, o.list} {
		if mode {
			modes++
		}
	}
	if modes > 1 {
		return nil, ErrModeConflict
	}

	if o.list {
		return &o, nil
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, ErrNoFile
	}
	o.file = fs.Arg(0)
	return &o, nil
}

// parseSize parses "COLUMNSxLINES".
func parseSize(s string) (uint32, uint32, error) {
	c, l, found := strings.Cut(strings.ToLower(s), "x")
	if !found {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	columns, err := strconv.ParseUint(c, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	lines, err := strconv.ParseUint(l, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return uint32(columns), uint32(lines), nil
}

// openTTY opens an existing terminal or file for drawing.
func openTTY(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open tty: %w", err)
	}
	return file, nil
}

// Run .
func Run() error {
	err := run(os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func run(args []string, stdout *os.File, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	envPath := opts.config
	if envPath == "" {
		if envPath, err = storage.DefaultConfigPath(); err != nil {
			return err
		}
	}
	env, err := storage.LoadConfigEnv(envPath)
	if err != nil {
		return fmt.Errorf("could not get environment config: %w", err)
	}

	tty := stdout
	if opts.tty != "" {
		if tty, err = openTTY(opts.tty); err != nil {
			return err
		}
		defer tty.Close()
	}

	wg := &sync.WaitGroup{}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		wg.Wait()
	}()

	logger := log.NewLogger(wg)
	logger.Start(ctx)
	level := env.Level()
	if opts.debug {
		level = log.LevelDebug
	}
	logger.LogToWriter(ctx, stderr, level)

	app := newApp(*opts, env, logger, wg, stdout, tty)

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err = <-fatal:
	case sig := <-stop:
		logger.Debug().Src("app").Msgf("received %v, stopping", sig)
		cancel()
		err = <-fatal
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	}
	return err
}
