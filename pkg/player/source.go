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

package player

import (
	"context"
	"fmt"

	"vidtty/pkg/ascii"
	"vidtty/pkg/ffmpeg"
	"vidtty/pkg/video/vidtxt"
)

// FrameSource is a sequence of equally sized text frames.
// *vidtxt.Reader implements FrameSource.
type FrameSource interface {
	PrintColumns() int
	PrintLines() int
	FPS() float64

	// TotalFrames may be an estimate, zero if unknown.
	TotalFrames() int64

	// ReadFrameInto reads the next frame. Returns io.EOF after the last frame.
	ReadFrameInto(buf []byte) error

	Close() error
}

// liveSource converts frames while the source is being decoded.
type liveSource struct {
	frames  ffmpeg.FrameReader
	glyphs  *ascii.Converter
	rgb     []byte
	columns int
	lines   int
	fps     float64
	total   int64
}

// NewLiveSource starts decoding src at the print size of a
// columns x lines terminal.
func NewLiveSource(
	ctx context.Context,
	decode ffmpeg.DecodeFramesFunc,
	src string,
	probe ffmpeg.ProbeResult,
	columns uint32,
	lines uint32,
	glyphs *ascii.Converter,
) (FrameSource, error) {
	if columns < 2 || lines < 2 {
		return nil, fmt.Errorf("%w: %dx%d", vidtxt.ErrInvalidResolution, columns, lines)
	}
	width, height := int(columns)-1, int(lines)-1

	frames, err := decode(ctx, src, width, height)
	if err != nil {
		return nil, fmt.Errorf("decode frames: %w", err)
	}
	return &liveSource{
		frames:  frames,
		glyphs:  glyphs,
		rgb:     make([]byte, width*height*3),
		columns: width,
		lines:   height,
		fps:     probe.FPS,
		total:   probe.Frames,
	}, nil
}

func (s *liveSource) PrintColumns() int  { return s.columns }
func (s *liveSource) PrintLines() int    { return s.lines }
func (s *liveSource) FPS() float64       { return s.fps }
func (s *liveSource) TotalFrames() int64 { return s.total }

func (s *liveSource) ReadFrameInto(buf []byte) error {
	if err := s.frames.ReadFrame(s.rgb); err != nil {
		return err
	}
	return s.glyphs.Convert(buf, s.rgb)
}

func (s *liveSource) Close() error {
	return s.frames.Close()
}
