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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"vidtty/pkg/ascii"
	"vidtty/pkg/audio/mp3"
	"vidtty/pkg/catalog"
	"vidtty/pkg/convert"
	"vidtty/pkg/ffmpeg"
	"vidtty/pkg/log"
	"vidtty/pkg/player"
	"vidtty/pkg/storage"
	"vidtty/pkg/system"
	"vidtty/pkg/term"
	"vidtty/pkg/video/vidtxt"
)

type app struct {
	opts   options
	env    *storage.ConfigEnv
	log    *log.Logger
	wg     *sync.WaitGroup
	stdout io.Writer

	// Frames are drawn to tty, its size is the terminal size.
	tty  io.Writer
	size term.SizeFunc

	ff     *ffmpeg.FFMPEG
	glyphs *ascii.Converter
}

func newApp(
	opts options,
	env *storage.ConfigEnv,
	logger *log.Logger,
	wg *sync.WaitGroup,
	stdout *os.File,
	tty *os.File,
) *app {
	// The ramp is validated by NewConfigEnv.
	glyphs, _ := ascii.NewConverter(env.Glyphs)

	return &app{
		opts:   opts,
		env:    env,
		log:    logger,
		wg:     wg,
		stdout: stdout,
		tty:    tty,
		size:   term.NewSizeFunc(int(tty.Fd())),
		ff:     ffmpeg.New(env.FFmpegBin, env.FFprobeBin),
		glyphs: glyphs,
	}
}

func (a *app) run(ctx context.Context) error {
	switch {
	case a.opts.list:
		return a.list(ctx)
	case a.opts.info:
		return a.info()
	case a.opts.dump:
		return a.dump(ctx)
	}
	return a.play(ctx)
}

// resolution returns the output size from the flags,
// unset values are taken from the terminal.
func (a *app) resolution() (uint32, uint32, error) {
	var columns, lines uint32
	if a.opts.size != "" {
		var err error
		columns, lines, err = parseSize(a.opts.size)
		if err != nil {
			return 0, 0, err
		}
	}
	if a.opts.columns != 0 {
		columns = uint32(a.opts.columns)
	}
	if a.opts.lines != 0 {
		lines = uint32(a.opts.lines)
	}

	if columns == 0 || lines == 0 {
		c, l, err := a.size()
		if err != nil {
			return 0, 0, fmt.Errorf("could not get terminal size, use --size: %w", err)
		}
		if columns == 0 {
			columns = uint32(c)
		}
		if lines == 0 {
			lines = uint32(l)
		}
	}

	if columns < vidtxt.MinResolution || lines < vidtxt.MinResolution {
		return 0, 0, fmt.Errorf("%w: %dx%d", vidtxt.ErrInvalidResolution, columns, lines)
	}
	return columns, lines, nil
}

func (a *app) warnLegacy(path string, h vidtxt.Header) {
	if h.LegacyByteOrder() {
		a.log.Warn().Src("app").File(path).
			Msg("framerate is stored in little-endian byte order, the file was written by an old version")
	}
}

func (a *app) info() error {
	r, err := vidtxt.Open(a.opts.file, a.env.ByteOrderPolicy())
	if err != nil {
		return err
	}
	defer r.Close()

	a.warnLegacy(a.opts.file, r.Header())
	return writeInfo(a.stdout, a.opts.file, r)
}

func writeInfo(w io.Writer, name string, r *vidtxt.Reader) error {
	var b strings.Builder
	fmt.Fprintf(&b, "VIDTXT Video Information for %s:\n", name)
	fmt.Fprintf(&b, "Dimensions (columns x lines): %dx%d characters\n", r.Columns(), r.Lines())
	fmt.Fprintf(&b, "Framerate: %f\n", r.FPS())
	fmt.Fprintf(&b, "Total Frames: %d\n", r.TotalFrames())
	fmt.Fprintf(&b, "Duration: %s\n", vidtxt.FormatDuration(r.Duration()))
	fmt.Fprintf(&b, "Audio Size: %d bytes\n", r.AudioSize())

	if r.AudioSize() != 0 {
		if h, err := mp3.Probe(r.AudioRegion()); err == nil {
			fmt.Fprintf(&b, "Audio Format: %v\n", h)
			if d, err := h.Duration(int64(r.AudioSize())); err == nil {
				fmt.Fprintf(&b, "Audio Duration: %s (estimated)\n", vidtxt.FormatDuration(d.Seconds()))
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// ErrCatalogDisabled catalog disabled in the config.
var ErrCatalogDisabled = errors.New("catalog is disabled in the config")

func (a *app) openCatalog(ctx context.Context) (*catalog.DB, error) {
	if err := a.env.PrepareEnvironment(); err != nil {
		return nil, err
	}
	db := catalog.NewDB(a.env.CatalogPath(), a.wg)
	if err := db.Init(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func (a *app) list(ctx context.Context) error {
	if !a.env.Catalog {
		return ErrCatalogDisabled
	}
	db, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	records, err := db.List()
	if err != nil {
		return err
	}
	return writeList(a.stdout, records)
}

func writeList(w io.Writer, records []catalog.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tFPS\tFRAMES\tDURATION\tAUDIO\tCREATED\tSOURCE")
	for _, r := range records {
		path := r.Path
		if !storage.FileExist(path) {
			path += " (missing)"
		}
		fmt.Fprintf(tw, "%s\t%dx%d\t%.3f\t%d\t%s\t%d\t%s\t%s\n",
			path,
			r.Columns, r.Lines,
			r.FPS,
			r.Frames,
			vidtxt.FormatDuration(vidtxt.Duration(r.Frames, r.FPS)),
			r.AudioSize,
			r.Created.Local().Format(time.RFC3339),
			r.Source,
		)
	}
	return tw.Flush()
}

func (a *app) requireFFmpeg() error {
	if err := storage.RequireBin(a.env.FFmpegBin); err != nil {
		return err
	}
	return storage.RequireBin(a.env.FFprobeBin)
}

func (a *app) dump(ctx context.Context) error {
	if err := a.requireFFmpeg(); err != nil {
		return err
	}
	columns, lines, err := a.resolution()
	if err != nil {
		return err
	}

	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	dst := storage.OutputPath(dir, a.opts.file, storage.FileExist)

	var recorder convert.Recorder
	if a.env.Catalog {
		db, err := a.openCatalog(ctx)
		if err != nil {
			a.log.Warn().Src("app").Msgf("could not open catalog: %v", err)
		} else {
			recorder = db
		}
	}

	cfg := convert.Config{
		Src:        a.opts.file,
		Dst:        dst,
		Columns:    columns,
		Lines:      lines,
		NoAudio:    a.opts.noAudio,
		SpillLimit: system.New(a.log).SpillLimit(a.env.AudioSpillBytes),
		TempDir:    filepath.Dir(dst),
	}
	a.log.Info().Src("app").Msgf("writing %dx%d to %v", columns, lines, dst)

	result, err := convert.New(a.ff, a.glyphs, recorder, a.log).Dump(ctx, cfg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, result.Path)
	return err
}

func (a *app) playerConfig() player.Config {
	return player.Config{
		NoAudio: a.opts.noAudio,
		Debug:   a.opts.debug,
	}
}

func (a *app) newPlayer() *player.Player {
	return player.New(a.env.PlayerBin, a.ff, a.tty, a.size, a.log)
}

func (a *app) play(ctx context.Context) error {
	src := a.opts.file
	if !ffmpeg.IsURL(src) {
		isVidtxt, err := vidtxt.IsVidtxtFile(src)
		if err != nil {
			return err
		}
		if isVidtxt {
			return a.playFile(ctx, src)
		}
	}
	return a.playDirect(ctx, src)
}

func (a *app) audioPlayerAvailable() bool {
	if err := storage.RequireBin(a.env.PlayerBin); err != nil {
		a.log.Warn().Src("app").Msgf("playing without audio: %v", err)
		return false
	}
	return true
}

func (a *app) playFile(ctx context.Context, path string) error {
	r, err := vidtxt.Open(path, a.env.ByteOrderPolicy())
	if err != nil {
		return err
	}
	defer r.Close()
	a.warnLegacy(path, r.Header())

	cfg := a.playerConfig()
	if r.AudioSize() != 0 && !cfg.NoAudio && !a.audioPlayerAvailable() {
		cfg.NoAudio = true
	}

	stats, err := a.newPlayer().PlayFile(ctx, r, cfg)
	a.logStats(path, stats)
	return err
}

func (a *app) playDirect(ctx context.Context, src string) error {
	if err := a.requireFFmpeg(); err != nil {
		return err
	}
	columns, lines, err := a.resolution()
	if err != nil {
		return err
	}

	probe, err := a.ff.Probe(ctx, src)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	source, err := player.NewLiveSource(ctx, a.ff.DecodeFrames, src, *probe, columns, lines, a.glyphs)
	if err != nil {
		return err
	}
	defer source.Close()

	cfg := a.playerConfig()
	if probe.HasAudio && !cfg.NoAudio && !a.audioPlayerAvailable() {
		cfg.NoAudio = true
	}

	stats, err := a.newPlayer().PlayDirect(ctx, source, src, probe.HasAudio, cfg)
	a.logStats(src, stats)
	return err
}

func (a *app) logStats(path string, stats player.Stats) {
	a.log.Debug().Src("app").File(path).
		Msgf("drew %d frames, dropped %d", stats.Drawn, stats.Dropped)
}
