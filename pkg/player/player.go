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

// Package player plays text frames in a terminal with audio.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"vidtty/pkg/ffmpeg"
	"vidtty/pkg/log"
	"vidtty/pkg/term"
	"vidtty/pkg/video/vidtxt"

	"golang.org/x/sync/errgroup"
)

// Config playback config.
type Config struct {
	NoAudio bool

	// Debug draws a status line.
	Debug bool
}

// Stats playback statistics.
type Stats struct {
	Drawn   int64
	Dropped int64
}

// Player draws frames to a terminal while the audio
// is played by an external player.
type Player struct {
	playerBin  string
	decodeWAV  ffmpeg.DecodeAudioWAVFunc
	newProcess ffmpeg.NewProcessFunc

	out  io.Writer
	size term.SizeFunc
	log  *log.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New returns a player that writes to out.
func New(
	playerBin string,
	ff *ffmpeg.FFMPEG,
	out io.Writer,
	size term.SizeFunc,
	logger *log.Logger,
) *Player {
	return &Player{
		playerBin:  playerBin,
		decodeWAV:  ff.DecodeAudioWAV,
		newProcess: ffmpeg.NewProcess,

		out:  out,
		size: size,
		log:  logger,

		now:   time.Now,
		sleep: sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// audio describes where the audio comes from.
type audio struct {
	// mp3 stream, used when src is empty.
	stream io.Reader
	src    string
}

// PlayFile plays a vidtxt file and its audio region.
func (p *Player) PlayFile(ctx context.Context, r *vidtxt.Reader, cfg Config) (Stats, error) {
	var a *audio
	if r.AudioSize() != 0 && !cfg.NoAudio {
		a = &audio{stream: r.AudioRegion()}
	}
	var source FrameSource = r
	if r.TotalFrames() == 0 {
		source = noFrames{r}
	}
	return p.play(ctx, source, a, cfg)
}

// noFrames is a file without a single whole frame. No frame
// buffer is allocated for it.
type noFrames struct {
	FrameSource
}

func (noFrames) PrintColumns() int          { return 0 }
func (noFrames) PrintLines() int            { return 0 }
func (noFrames) ReadFrameInto([]byte) error { return io.EOF }

// PlayDirect plays frames that are decoded from src while playing.
// The audio is read from src directly.
func (p *Player) PlayDirect(
	ctx context.Context,
	source FrameSource,
	src string,
	hasAudio bool,
	cfg Config,
) (Stats, error) {
	var a *audio
	if hasAudio && !cfg.NoAudio {
		a = &audio{src: src}
	}
	return p.play(ctx, source, a, cfg)
}

func (p *Player) play(ctx context.Context, source FrameSource, a *audio, cfg Config) (Stats, error) {
	screen := term.NewScreen(p.out)
	if err := screen.Enter(); err != nil {
		return Stats{}, err
	}
	defer screen.Leave() //nolint:errcheck

	// Audio is stopped when the video ends.
	ctx2, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx3 := errgroup.WithContext(ctx2)

	var stats Stats
	g.Go(func() error {
		defer cancel()
		var err error
		stats, err = p.playVideo(ctx3, source, cfg)
		return err
	})

	if a != nil {
		g.Go(func() error {
			err := p.playAudio(ctx3, *a)
			if err != nil && ctx3.Err() == nil {
				p.log.Warn().Src("player").Msgf("audio: %v", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		err = nil
	}
	return stats, err
}

func (p *Player) playVideo(ctx context.Context, source FrameSource, cfg Config) (Stats, error) {
	fps := source.FPS()
	if fps <= 0 {
		return Stats{}, fmt.Errorf("%w: %v", vidtxt.ErrInvalidFPS, fps)
	}
	interval := time.Duration(float64(time.Second) / fps)

	columns, lines := source.PrintColumns(), source.PrintLines()
	r := newRenderer(p.out, p.size)
	buf := make([]byte, columns*lines)

	var stats Stats
	var frameNum int64
	start := p.now()
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		err := source.ReadFrameInto(buf)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read frame: %w", err)
		}

		due := start.Add(time.Duration(float64(frameNum) * float64(time.Second) / fps))
		frameNum++

		lag := p.now().Sub(due)
		if lag > interval {
			stats.Dropped++
			continue
		}
		if err := p.sleep(ctx, -lag); err != nil {
			return stats, err
		}

		var status statusFunc
		if cfg.Debug {
			n := frameNum
			status = func(width int) string {
				return statusLine(width, n, source.TotalFrames(), fps)
			}
		}
		if err := r.draw(buf, columns, lines, status); err != nil {
			return stats, fmt.Errorf("draw: %w", err)
		}
		stats.Drawn++
	}
}

func (p *Player) isFFplay() bool {
	return strings.HasPrefix(filepath.Base(p.playerBin), "ffplay")
}

// playAudio plays the audio with ffplay, other players
// are fed WAV on stdin.
func (p *Player) playAudio(ctx context.Context, a audio) error {
	if p.isFFplay() {
		args := []string{"-nodisp", "-autoexit", "-loglevel", "error"}
		cmd := exec.Command(p.playerBin)
		if a.src == "" {
			args = append(args, "-i", "pipe:0")
			cmd.Stdin = a.stream
		} else {
			args = append(args, "-i", a.src)
		}
		cmd.Args = append(cmd.Args, args...)
		return p.runPlayer(ctx, cmd)
	}

	g, ctx2 := errgroup.WithContext(ctx)
	pr, pw := io.Pipe()

	g.Go(func() error {
		var stdin io.Reader
		if a.src == "" {
			stdin = a.stream
		}
		err := p.decodeWAV(ctx2, a.src, stdin, pw)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		cmd := exec.Command(p.playerBin)
		cmd.Stdin = pr
		err := p.runPlayer(ctx2, cmd)
		pr.CloseWithError(io.ErrClosedPipe)
		return err
	})
	return g.Wait()
}

func (p *Player) runPlayer(ctx context.Context, cmd *exec.Cmd) error {
	logFunc := func(msg string) {
		p.log.Debug().Src("player").Msgf("%v: %v", filepath.Base(p.playerBin), msg)
	}
	p.log.Debug().Src("player").Msgf("starting audio: %v", cmd)
	process := p.newProcess(cmd).StderrLogger(logFunc)
	if err := process.Start(ctx); err != nil {
		return fmt.Errorf("%v: %w", filepath.Base(p.playerBin), err)
	}
	return nil
}
