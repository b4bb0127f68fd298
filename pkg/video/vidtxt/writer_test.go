package vidtxt

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 3, 3)
	require.NoError(t, err)
	require.Equal(t, 4, w.FrameSize())

	require.NoError(t, w.WriteHeaderPlaceholder(25))
	require.Len(t, buf.Bytes(), 24)

	require.NoError(t, w.WriteAudioRegion([]byte{7, 8}))
	require.NoError(t, w.WriteFrame([]byte("abcd")))
	require.NoError(t, w.WriteFrame([]byte("efgh")))
	require.NoError(t, w.Finalize())
	require.Equal(t, int64(2), w.FramesWritten())

	expected := []byte{
		'V', 'I', 'D', 'T', 'X', 'T', // Magic.
		0, 0, // Reserved.
		0, 0, 0, 3, // Columns.
		0, 0, 0, 3, // Lines.
		0x40, 0x39, 0, 0, 0, 0, 0, 0, // FPS.
		0, 0, 0, 0, 0, 0, 0, 2, // Audio size.
		0, 0, 0, 0, 0, 0, 0, 0, // Reserved.
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,

		7, 8, // Audio.

		'a', 'b', 'c', 'd', // Frame1.
		'e', 'f', 'g', 'h', // Frame2.
	}
	require.Equal(t, expected, buf.Bytes())

	header := w.Header()
	require.Equal(t, uint64(2), header.AudioSize)
	require.Equal(t, float64(25), header.FPS)
}

func TestWriterRoundTrip(t *testing.T) {
	cases := []struct {
		columns uint32
		lines   uint32
		fps     float64
		audio   []byte
		frames  int
	}{
		{2, 2, 30, nil, 0},
		{2, 2, 30, nil, 5},
		{80, 24, 29.97, bytes.Repeat([]byte{0xff, 0xfb}, 500), 3},
		{120, 40, 23.976, []byte{1}, 1},
		{3, 3, 0.5, []byte("ID3"), 10},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, tc.columns, tc.lines)
		require.NoError(t, err)
		require.NoError(t, w.WriteHeaderPlaceholder(tc.fps))
		require.NoError(t, w.WriteAudioRegion(tc.audio))

		var frames [][]byte
		for i := 0; i < tc.frames; i++ {
			frame := bytes.Repeat([]byte{byte('A' + i)}, w.FrameSize())
			frames = append(frames, frame)
			require.NoError(t, w.WriteFrame(frame))
		}
		require.NoError(t, w.Finalize())

		r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()), StrictByteOrder)
		require.NoError(t, err)
		require.Equal(t, tc.columns, r.Columns())
		require.Equal(t, tc.lines, r.Lines())
		require.Equal(t, tc.fps, r.FPS())
		require.Equal(t, uint64(len(tc.audio)), r.AudioSize())
		require.Equal(t, int64(tc.frames), r.TotalFrames())

		audio, err := io.ReadAll(r.AudioRegion())
		require.NoError(t, err)
		require.Equal(t, len(tc.audio), len(audio))
		if len(tc.audio) != 0 {
			require.Equal(t, tc.audio, audio)
		}

		for _, frame := range frames {
			actual, err := r.ReadFrame()
			require.NoError(t, err)
			require.Equal(t, frame, actual)
		}
		_, err = r.ReadFrame()
		require.ErrorIs(t, err, io.EOF)
	}
}

func TestWriterFile(t *testing.T) {
	t.Run("finalize", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "out.vidtxt")

		w, err := Begin(path, 3, 3)
		require.NoError(t, err)
		require.Equal(t, path, w.Path())

		require.NoError(t, w.WriteHeaderPlaceholder(30))
		require.NoError(t, w.WriteAudioRegion(nil))
		require.NoError(t, w.WriteFrame([]byte("abcd")))

		// Nothing at the destination until finalized.
		_, err = os.Stat(path)
		require.ErrorIs(t, err, os.ErrNotExist)

		require.NoError(t, w.Finalize())
		require.NoError(t, w.Close())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "out.vidtxt", entries[0].Name())

		r, err := Open(path, StrictByteOrder)
		require.NoError(t, err)
		defer r.Close()
		require.Equal(t, int64(1), r.TotalFrames())
	})
	t.Run("abort", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "out.vidtxt")

		w, err := Begin(path, 3, 3)
		require.NoError(t, err)
		require.NoError(t, w.WriteHeaderPlaceholder(30))
		require.NoError(t, w.Close())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries)

		require.ErrorIs(t, w.WriteAudioRegion(nil), ErrWriterState)
	})
	t.Run("missingDir", func(t *testing.T) {
		_, err := Begin(filepath.Join(t.TempDir(), "x", "out.vidtxt"), 3, 3)
		var ioErr *IOError
		require.ErrorAs(t, err, &ioErr)
		require.Equal(t, "create", ioErr.Op)
	})
}

func TestWriterErrors(t *testing.T) {
	t.Run("invalidResolution", func(t *testing.T) {
		_, err := NewWriter(io.Discard, 1, 3)
		require.ErrorIs(t, err, ErrInvalidResolution)

		_, err = Begin(filepath.Join(t.TempDir(), "x"), 3, 0)
		require.ErrorIs(t, err, ErrInvalidResolution)
	})
	t.Run("invalidFPS", func(t *testing.T) {
		w, err := NewWriter(io.Discard, 3, 3)
		require.NoError(t, err)
		require.ErrorIs(t, w.WriteHeaderPlaceholder(0), ErrInvalidFPS)

		// The writer is still usable.
		require.NoError(t, w.WriteHeaderPlaceholder(30))
	})
	t.Run("order", func(t *testing.T) {
		w, err := NewWriter(io.Discard, 3, 3)
		require.NoError(t, err)

		require.ErrorIs(t, w.WriteAudioRegion(nil), ErrWriterState)
		require.ErrorIs(t, w.WriteFrame([]byte("abcd")), ErrWriterState)
		require.ErrorIs(t, w.Finalize(), ErrWriterState)

		require.NoError(t, w.WriteHeaderPlaceholder(30))
		require.ErrorIs(t, w.WriteHeaderPlaceholder(30), ErrWriterState)
		require.ErrorIs(t, w.WriteFrame([]byte("abcd")), ErrWriterState)

		require.NoError(t, w.WriteAudioRegion(nil))
		require.ErrorIs(t, w.WriteAudioRegion(nil), ErrWriterState)

		require.NoError(t, w.Finalize())
		require.ErrorIs(t, w.WriteFrame([]byte("abcd")), ErrWriterState)
	})
	t.Run("frameSize", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, 3, 3)
		require.NoError(t, err)
		require.NoError(t, w.WriteHeaderPlaceholder(30))
		require.NoError(t, w.WriteAudioRegion(nil))

		require.ErrorIs(t, w.WriteFrame([]byte("abc")), ErrFrameSize)
		require.ErrorIs(t, w.WriteFrame([]byte("abcde")), ErrFrameSize)
		require.Equal(t, HeaderSize, buf.Len())

		// A rejected frame does not fail the writer.
		require.NoError(t, w.WriteFrame([]byte("abcd")))
	})
	t.Run("shortAudio", func(t *testing.T) {
		w, err := NewWriter(io.Discard, 3, 3)
		require.NoError(t, err)
		require.NoError(t, w.WriteHeaderPlaceholder(30))

		err = w.WriteAudioRegionFrom(strings.NewReader("abc"), 10)
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
		require.ErrorIs(t, w.WriteFrame([]byte("abcd")), ErrWriterState)
	})
	t.Run("writeFailure", func(t *testing.T) {
		w, err := NewWriter(&failingWriter{}, 3, 3)
		require.NoError(t, err)

		err = w.WriteHeaderPlaceholder(30)
		require.ErrorIs(t, err, errWrite)
		require.False(t, IsFormatError(err))
		require.ErrorIs(t, w.WriteHeaderPlaceholder(30), ErrWriterState)
	})
}

func TestWriterAudioFrom(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 3, 3)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeaderPlaceholder(25))
	require.NoError(t, w.WriteAudioRegionFrom(bytes.NewReader([]byte{7, 8, 9, 10}), 2))
	require.NoError(t, w.WriteFrame([]byte("abcd")))
	require.NoError(t, w.Finalize())

	require.Equal(t, Encode(3, 3, 25, 2), buf.Bytes()[:HeaderSize])
	require.Equal(t, []byte{7, 8, 'a', 'b', 'c', 'd'}, buf.Bytes()[HeaderSize:])
}

var errWrite = errors.New("mock")

type failingWriter struct{}

func (*failingWriter) Write([]byte) (int, error) {
	return 0, errWrite
}
