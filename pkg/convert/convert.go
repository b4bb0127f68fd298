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

// Package convert converts videos to vidtxt files.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"vidtty/pkg/ascii"
	"vidtty/pkg/catalog"
	"vidtty/pkg/ffmpeg"
	"vidtty/pkg/log"
	"vidtty/pkg/video/vidtxt"

	"golang.org/x/sync/errgroup"
)

// Config conversion config.
type Config struct {
	Src string
	Dst string

	Columns uint32
	Lines   uint32
	NoAudio bool

	// Encoded audio larger than SpillLimit bytes is
	// buffered in a temporary file in TempDir.
	SpillLimit int64
	TempDir    string
}

// Recorder saves finished conversions.
type Recorder interface {
	Put(catalog.Record) error
}

// Result of a finished conversion.
type Result struct {
	Path   string
	Header vidtxt.Header
	Frames int64
}

// Converter converts videos using ffmpeg.
type Converter struct {
	probe        ffmpeg.ProbeFunc
	encodeAudio  ffmpeg.EncodeAudioFunc
	decodeFrames ffmpeg.DecodeFramesFunc

	glyphs   *ascii.Converter
	recorder Recorder // May be nil.
	log      *log.Logger

	now              func() time.Time
	progressInterval time.Duration
}

// New returns a converter. recorder may be nil.
func New(ff *ffmpeg.FFMPEG, glyphs *ascii.Converter, recorder Recorder, logger *log.Logger) *Converter {
	return &Converter{
		probe:        ff.Probe,
		encodeAudio:  ff.EncodeAudio,
		decodeFrames: ff.DecodeFrames,

		glyphs:   glyphs,
		recorder: recorder,
		log:      logger,

		now:              time.Now,
		progressInterval: 1 * time.Second,
	}
}

// Number of converted frames that may wait for the writer.
const frameQueueSize = 8

// Dump converts cfg.Src and writes the result to cfg.Dst.
// Nothing is left at cfg.Dst on failure.
func (c *Converter) Dump(ctx context.Context, cfg Config) (*Result, error) {
	w, err := vidtxt.Begin(cfg.Dst, cfg.Columns, cfg.Lines)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	probe, err := c.probe(ctx, cfg.Src)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	c.log.Info().Src("convert").File(cfg.Dst).Msgf(
		"converting %v: %.3f fps, %d frames, %dx%d",
		cfg.Src, probe.FPS, probe.Frames, cfg.Columns, cfg.Lines)

	if err := w.WriteHeaderPlaceholder(probe.FPS); err != nil {
		return nil, err
	}

	withAudio := !cfg.NoAudio && probe.HasAudio
	if err := c.writeAudio(ctx, w, cfg, withAudio); err != nil {
		return nil, err
	}

	if err := c.writeFrames(ctx, w, cfg, probe.Frames); err != nil {
		return nil, err
	}

	if err := w.Finalize(); err != nil {
		return nil, err
	}

	frames := w.FramesWritten()
	if frames != probe.Frames {
		c.log.Debug().Src("convert").File(cfg.Dst).Msgf(
			"wrote %d frames, probe reported %d", frames, probe.Frames)
	}
	c.log.Info().Src("convert").File(cfg.Dst).Msgf("finished, %d frames", frames)

	result := &Result{
		Path:   cfg.Dst,
		Header: w.Header(),
		Frames: frames,
	}
	c.record(cfg, result)
	return result, nil
}

func (c *Converter) writeAudio(
	ctx context.Context,
	w *vidtxt.Writer,
	cfg Config,
	withAudio bool,
) error {
	if !withAudio {
		return w.WriteAudioRegion(nil)
	}

	buf := newSpillBuffer(cfg.SpillLimit, cfg.TempDir)
	defer buf.Close()

	progress := func(d time.Duration) {
		c.log.Debug().Src("convert").File(cfg.Dst).Msgf("audio: encoded %v", d)
	}
	c.log.Info().Src("convert").File(cfg.Dst).Msg("encoding audio")
	if err := c.encodeAudio(ctx, cfg.Src, buf, progress); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Src("convert").File(cfg.Dst).
			Msgf("could not encode audio, continuing without audio: %v", err)
		if err := buf.Reset(); err != nil {
			return err
		}
		return w.WriteAudioRegion(nil)
	}
	if buf.Spilled() {
		c.log.Debug().Src("convert").File(cfg.Dst).
			Msgf("audio spilled to disk: %d bytes", buf.Size())
	}

	r, err := buf.Reader()
	if err != nil {
		return err
	}
	return w.WriteAudioRegionFrom(r, uint64(buf.Size()))
}

// writeFrames decodes and converts frames in one goroutine
// while another writes them.
func (c *Converter) writeFrames(
	ctx context.Context,
	w *vidtxt.Writer,
	cfg Config,
	total int64,
) error {
	header := w.Header()
	width, height := header.PrintColumns(), header.PrintLines()

	frames, err := c.decodeFrames(ctx, cfg.Src, width, height)
	if err != nil {
		return fmt.Errorf("decode frames: %w", err)
	}
	defer frames.Close()

	g, ctx2 := errgroup.WithContext(ctx)
	converted := make(chan []byte, frameQueueSize)

	g.Go(func() error {
		defer close(converted)
		rgb := make([]byte, width*height*3)
		for {
			if err := frames.ReadFrame(rgb); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("decode frames: %w", err)
			}
			frame := make([]byte, width*height)
			if err := c.glyphs.Convert(frame, rgb); err != nil {
				return err
			}
			select {
			case converted <- frame:
			case <-ctx2.Done():
				return ctx2.Err()
			}
		}
	})

	g.Go(func() error {
		p := newProgress(total, c.now())
		ticker := time.NewTicker(c.progressInterval)
		defer ticker.Stop()

		for frame := range converted {
			if err := w.WriteFrame(frame); err != nil {
				return err
			}
			select {
			case <-ticker.C:
				c.log.Info().Src("convert").File(cfg.Dst).
					Msg(p.String(w.FramesWritten(), c.now()))
			default:
			}
		}
		return nil
	})

	return g.Wait()
}

func (c *Converter) record(cfg Config, result *Result) {
	if c.recorder == nil {
		return
	}
	path, err := filepath.Abs(result.Path)
	if err != nil {
		path = result.Path
	}
	source := cfg.Src
	if !ffmpeg.IsURL(source) {
		if abs, err := filepath.Abs(source); err == nil {
			source = abs
		}
	}

	r := catalog.NewRecord(path, source, result.Header, result.Frames, c.now())
	if err := c.recorder.Put(r); err != nil {
		c.log.Warn().Src("convert").File(cfg.Dst).Msgf("could not update catalog: %v", err)
	}
}

type progress struct {
	total int64
	start time.Time
}

func newProgress(total int64, start time.Time) progress {
	return progress{total: total, start: start}
}

// String formats the progress after n frames.
func (p progress) String(n int64, now time.Time) string {
	elapsed := now.Sub(p.start).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(n) / elapsed
	}
	if p.total <= 0 {
		return fmt.Sprintf("frame %d, %.1f fps", n, rate)
	}

	percent := float64(n) / float64(p.total) * 100
	eta := "unknown"
	if rate > 0 && n <= p.total {
		remaining := time.Duration(float64(p.total-n) / rate * float64(time.Second))
		eta = remaining.Round(time.Second).String()
	}
	return fmt.Sprintf("frame %d/%d (%.1f%%), %.1f fps, ETA %v",
		n, p.total, percent, rate, eta)
}
