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
	"bytes"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidtty/pkg/catalog"
	"vidtty/pkg/log"
	"vidtty/pkg/storage"
	"vidtty/pkg/term"
	"vidtty/pkg/video/vidtxt"

	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	t.Run("play", func(t *testing.T) {
		o, err := parseFlags([]string{"a.vidtxt"}, io.Discard)
		require.NoError(t, err)
		require.Equal(t, options{file: "a.vidtxt"}, *o)
	})
	t.Run("short", func(t *testing.T) {
		o, err := parseFlags([]string{"-d", "-m", "-b", "-s", "80x24", "a.mp4"}, io.Discard)
		require.NoError(t, err)
		expected := options{
			dump:    true,
			noAudio: true,
			debug:   true,
			size:    "80x24",
			file:    "a.mp4",
		}
		require.Equal(t, expected, *o)
	})
	t.Run("long", func(t *testing.T) {
		args := []string{
			"--info", "--no-audio", "--debug-mode", "--size", "80x24",
			"--columns", "100", "--lines", "30", "--config", "/a.yaml", "a.vidtxt",
		}
		o, err := parseFlags(args, io.Discard)
		require.NoError(t, err)
		expected := options{
			info:    true,
			noAudio: true,
			debug:   true,
			size:    "80x24",
			columns: 100,
			lines:   30,
			config:  "/a.yaml",
			file:    "a.vidtxt",
		}
		require.Equal(t, expected, *o)
	})
	t.Run("tty", func(t *testing.T) {
		o, err := parseFlags([]string{"-t", "/dev/pts/3", "a.vidtxt"}, io.Discard)
		require.NoError(t, err)
		require.Equal(t, options{tty: "/dev/pts/3", file: "a.vidtxt"}, *o)

		o, err = parseFlags([]string{"--tty", "/dev/pts/4", "a.vidtxt"}, io.Discard)
		require.NoError(t, err)
		require.Equal(t, "/dev/pts/4", o.tty)
	})
	t.Run("widthHeight", func(t *testing.T) {
		o, err := parseFlags([]string{"--width", "100", "--height", "30", "a.mp4"}, io.Discard)
		require.NoError(t, err)
		require.Equal(t, options{columns: 100, lines: 30, file: "a.mp4"}, *o)
	})
	t.Run("list", func(t *testing.T) {
		o, err := parseFlags([]string{"--list"}, io.Discard)
		require.NoError(t, err)
		require.True(t, o.list)
	})
	t.Run("noFile", func(t *testing.T) {
		var out bytes.Buffer
		_, err := parseFlags([]string{"-d"}, &out)
		require.ErrorIs(t, err, ErrNoFile)
		require.True(t, strings.HasPrefix(out.String(), "usage: vidtty"))
	})
	t.Run("tooManyFiles", func(t *testing.T) {
		_, err := parseFlags([]string{"a", "b"}, io.Discard)
		require.ErrorIs(t, err, ErrNoFile)
	})
	t.Run("modeConflict", func(t *testing.T) {
		_, err := parseFlags([]string{"-d", "-i", "a.mp4"}, io.Discard)
		require.ErrorIs(t, err, ErrModeConflict)
	})
	t.Run("help", func(t *testing.T) {
		_, err := parseFlags([]string{"-h"}, io.Discard)
		require.ErrorIs(t, err, flag.ErrHelp)
	})
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		input   string
		columns uint32
		lines   uint32
		err     error
	}{
		{"80x24", 80, 24, nil},
		{"80X24", 80, 24, nil},
		{"1x1", 1, 1, nil},
		{"80", 0, 0, ErrInvalidSize},
		{"ax24", 0, 0, ErrInvalidSize},
		{"80x", 0, 0, ErrInvalidSize},
		{"-1x24", 0, 0, ErrInvalidSize},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			columns, lines, err := parseSize(tc.input)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.columns, columns)
			require.Equal(t, tc.lines, lines)
		})
	}
}

func TestResolution(t *testing.T) {
	terminal := func() (int, int, error) { return 120, 40, nil }
	noTerminal := func() (int, int, error) { return 0, 0, errors.New("mock") }

	cases := []struct {
		name    string
		opts    options
		size    func() (int, int, error)
		columns uint32
		lines   uint32
		err     error
	}{
		{"terminal", options{}, terminal, 120, 40, nil},
		{"size", options{size: "80x24"}, noTerminal, 80, 24, nil},
		{"override", options{size: "80x24", lines: 10}, noTerminal, 80, 10, nil},
		{"partial", options{columns: 50}, terminal, 50, 40, nil},
		{"invalid", options{size: "1x24"}, noTerminal, 0, 0, vidtxt.ErrInvalidResolution},
		{"parseErr", options{size: "x"}, terminal, 0, 0, ErrInvalidSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &app{opts: tc.opts, size: tc.size}
			columns, lines, err := a.resolution()
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.columns, columns)
			require.Equal(t, tc.lines, lines)
		})
	}
	t.Run("noTerminal", func(t *testing.T) {
		a := &app{size: noTerminal}
		_, _, err := a.resolution()
		require.Error(t, err)
	})
}

// writeTestFile writes a 3x3 25 fps file with two frames.
func writeTestFile(t *testing.T, dir string, audio []byte) string {
	path := filepath.Join(dir, "x.vidtxt")
	w, err := vidtxt.Begin(path, 3, 3)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeaderPlaceholder(25))
	require.NoError(t, w.WriteAudioRegion(audio))
	require.NoError(t, w.WriteFrame([]byte("abcd")))
	require.NoError(t, w.WriteFrame([]byte("efgh")))
	require.NoError(t, w.Finalize())
	return path
}

func TestWriteInfo(t *testing.T) {
	t.Run("mp3", func(t *testing.T) {
		audio := append([]byte{0xff, 0xfb, 0x90, 0x00}, make([]byte, 412)...)
		path := writeTestFile(t, t.TempDir(), audio)

		r, err := vidtxt.Open(path, vidtxt.StrictByteOrder)
		require.NoError(t, err)
		defer r.Close()

		var out bytes.Buffer
		require.NoError(t, writeInfo(&out, "x.vidtxt", r))

		expected := "VIDTXT Video Information for x.vidtxt:\n" +
			"Dimensions (columns x lines): 3x3 characters\n" +
			"Framerate: 25.000000\n" +
			"Total Frames: 2\n" +
			"Duration: 00:00:00.080\n" +
			"Audio Size: 416 bytes\n" +
			"Audio Format: MPEG-1 Layer III, 128 kbps, 44100 Hz, Stereo\n" +
			"Audio Duration: 00:00:00.026 (estimated)\n"
		require.Equal(t, expected, out.String())
	})
	t.Run("unknownAudio", func(t *testing.T) {
		path := writeTestFile(t, t.TempDir(), []byte{1, 2, 3})

		r, err := vidtxt.Open(path, vidtxt.StrictByteOrder)
		require.NoError(t, err)
		defer r.Close()

		var out bytes.Buffer
		require.NoError(t, writeInfo(&out, "x.vidtxt", r))
		require.True(t, strings.HasSuffix(out.String(), "Audio Size: 3 bytes\n"))
	})
}

func TestWriteList(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, nil)
	created := time.Unix(1600000000, 0)

	records := []catalog.Record{
		{
			Path:    filepath.Join(dir, "gone.vidtxt"),
			Source:  "https://example.com/gone.mp4",
			Columns: 80,
			Lines:   24,
			FPS:     30,
			Frames:  300,
			Created: created,
		},
		{
			Path:      path,
			Source:    "/videos/x.mp4",
			Columns:   3,
			Lines:     3,
			FPS:       25,
			AudioSize: 7,
			Frames:    2,
			Created:   created,
		},
	}

	var out bytes.Buffer
	require.NoError(t, writeList(&out, records))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "PATH"))

	require.Contains(t, lines[1], "gone.vidtxt (missing)")
	require.Contains(t, lines[1], "80x24")
	require.Contains(t, lines[1], "00:00:10.000")
	require.Contains(t, lines[1], "https://example.com/gone.mp4")

	require.NotContains(t, lines[2], "(missing)")
	require.Contains(t, lines[2], "25.000")
	require.Contains(t, lines[2], created.Local().Format(time.RFC3339))
}

func newTestConfig(t *testing.T, yaml string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "vidtty.yaml")
	yaml = "stateDir: " + filepath.Join(dir, "state") + "\n" + yaml
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func runTest(t *testing.T, args ...string) (string, error) {
	stdout, err := os.Create(filepath.Join(t.TempDir(), "stdout"))
	require.NoError(t, err)
	defer stdout.Close()

	runErr := run(args, stdout, io.Discard)

	out, err := os.ReadFile(stdout.Name())
	require.NoError(t, err)
	return string(out), runErr
}

func TestRun(t *testing.T) {
	t.Run("info", func(t *testing.T) {
		path := writeTestFile(t, t.TempDir(), nil)
		config := newTestConfig(t, "")

		out, err := runTest(t, "--config", config, "-i", path)
		require.NoError(t, err)
		require.Contains(t, out, "Total Frames: 2\n")
	})
	t.Run("infoNotVidtxt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "a.mp4")
		require.NoError(t, os.WriteFile(path, []byte("not a vidtxt file"), 0o600))
		config := newTestConfig(t, "")

		_, err := runTest(t, "--config", config, "-i", path)
		require.ErrorIs(t, err, vidtxt.ErrNotVidtxt)
	})
	t.Run("list", func(t *testing.T) {
		config := newTestConfig(t, "")

		out, err := runTest(t, "--config", config, "-l")
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(out, "PATH"))
	})
	t.Run("catalogDisabled", func(t *testing.T) {
		config := newTestConfig(t, "catalog: false\n")

		_, err := runTest(t, "--config", config, "-l")
		require.ErrorIs(t, err, ErrCatalogDisabled)
	})
	t.Run("invalidConfig", func(t *testing.T) {
		config := newTestConfig(t, "logLevel: loud\n")

		_, err := runTest(t, "--config", config, "-l")
		require.ErrorIs(t, err, log.ErrInvalidLevel)
	})
	t.Run("tty", func(t *testing.T) {
		path := writeTestFile(t, t.TempDir(), nil)
		config := newTestConfig(t, "")
		tty := filepath.Join(t.TempDir(), "tty")
		require.NoError(t, os.WriteFile(tty, []byte("old"), 0o600))

		out, err := runTest(t, "--config", config, "--no-audio", "--tty", tty, path)
		require.NoError(t, err)
		require.Empty(t, out)

		drawn, err := os.ReadFile(tty)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(string(drawn), term.AltScreenEnter))
		require.Contains(t, string(drawn), "ab\r\ncd\r\n")
		require.True(t, strings.HasSuffix(string(drawn), term.AltScreenLeave))
	})
	t.Run("ttyNotExist", func(t *testing.T) {
		path := writeTestFile(t, t.TempDir(), nil)
		config := newTestConfig(t, "")

		_, err := runTest(t, "--config", config, "-t", filepath.Join(t.TempDir(), "nil"), path)
		require.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("missingFFmpeg", func(t *testing.T) {
		config := newTestConfig(t, "ffmpegBin: /nil/ffmpeg\n")

		_, err := runTest(t, "--config", config, "-d", "a.mp4")
		require.ErrorIs(t, err, storage.ErrBinNotFound)
	})
}
