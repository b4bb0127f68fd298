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
	"bytes"
	"fmt"
	"io"
	"strings"

	"vidtty/pkg/term"
	"vidtty/pkg/video/vidtxt"
)

// renderer draws frames clipped to the terminal size.
// The last terminal line is kept free for the status line.
type renderer struct {
	w    io.Writer
	size term.SizeFunc

	buf         bytes.Buffer
	lastColumns int
	lastLines   int
}

func newRenderer(w io.Writer, size term.SizeFunc) *renderer {
	return &renderer{w: w, size: size}
}

// draw draws a frame of frameColumns x frameLines glyphs,
// status is drawn on the last line if not empty.
func (r *renderer) draw(frame []byte, frameColumns, frameLines int, status statusFunc) error {
	columns, lines, err := r.size()
	if err != nil {
		columns, lines = frameColumns+1, frameLines+1
	}

	r.buf.Reset()
	if columns != r.lastColumns || lines != r.lastLines {
		r.buf.WriteString(term.ClearScreen)
		r.lastColumns, r.lastLines = columns, lines
	}
	r.buf.WriteString(term.CursorHome)

	width := min(frameColumns, columns-1)
	height := min(frameLines, lines-1)
	for y := 0; y < height; y++ {
		row := frame[y*frameColumns : y*frameColumns+frameColumns]
		r.buf.Write(row[:max(width, 0)])
		r.buf.WriteString("\r\n")
	}

	if status != nil && lines > 0 {
		fmt.Fprintf(&r.buf, "\x1b[%d;1H", lines)
		r.buf.WriteString(term.ClearLine)
		r.buf.WriteString(status(columns - 1))
	}

	_, err = r.w.Write(r.buf.Bytes())
	return err
}

type statusFunc func(width int) string

const (
	reverseVideo = "\x1b[7m"
	resetStyle   = "\x1b[0m"
)

// statusLine formats the debug status line. The played part of the
// line is drawn in reverse video.
func statusLine(width int, frame, total int64, fps float64) string {
	if width <= 0 {
		return ""
	}
	var percent int64
	if total > 0 {
		percent = 100 * frame / total
	}
	prefix := fmt.Sprintf("[Frame: %d, %s]",
		frame, vidtxt.FormatDuration(vidtxt.Duration(frame, fps)))
	suffix := fmt.Sprintf("[%s, %d Frames, %d%%]",
		vidtxt.FormatDuration(vidtxt.Duration(total, fps)), total, percent)

	var text string
	if pad := width - len(prefix) - len(suffix); pad > 0 {
		text = prefix + strings.Repeat(" ", pad) + suffix
	} else {
		text = prefix + " " + suffix
		if len(text) > width {
			text = text[:width]
		}
	}

	var played int
	if total > 0 {
		played = int(int64(width) * frame / total)
	}
	played = min(max(played, 0), len(text))
	return reverseVideo + text[:played] + resetStyle + text[played:]
}
