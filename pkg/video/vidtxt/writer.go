package vidtxt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type writerState uint8

const (
	stateBegun writerState = iota
	stateVideoParams
	stateFrames
	stateFinalized
	stateFailed
)

// Writer writes videos in the vidtxt format.
//
// Calls must follow the order WriteHeaderPlaceholder, WriteAudioRegion,
// WriteFrame..., Finalize.
type Writer struct {
	out io.Writer // Output file.

	// Only set by Begin.
	file    *os.File
	tmpPath string
	path    string

	columns uint32
	lines   uint32
	video   VideoHeader
	header  Header
	state   writerState

	framesWritten int64
}

// Begin validates the resolution and creates a temporary file next to
// path. The file is moved to path by Finalize.
func Begin(path string, columns, lines uint32) (*Writer, error) {
	if !validResolution(columns, lines) {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidResolution, columns, lines)
	}

	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	file, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return nil, &IOError{Op: "create", Err: err}
	}

	return &Writer{
		out:     file,
		file:    file,
		tmpPath: file.Name(),
		path:    path,
		columns: columns,
		lines:   lines,
	}, nil
}

// NewWriter creates a Writer that writes to out.
func NewWriter(out io.Writer, columns, lines uint32) (*Writer, error) {
	if !validResolution(columns, lines) {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidResolution, columns, lines)
	}
	return &Writer{
		out:     out,
		columns: columns,
		lines:   lines,
	}, nil
}

// FrameSize size of a single frame in bytes.
func (w *Writer) FrameSize() int {
	return int(frameSize(w.columns, w.lines))
}

// Header returns the completed header, valid after WriteAudioRegion.
func (w *Writer) Header() Header {
	return w.header
}

// FramesWritten number of frames written so far.
func (w *Writer) FramesWritten() int64 {
	return w.framesWritten
}

// Path final output path, empty for writers created by NewWriter.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) expect(state writerState, op string) error {
	if w.state == stateFailed {
		return fmt.Errorf("%s: %w: writer failed", op, ErrWriterState)
	}
	if w.state != state {
		return fmt.Errorf("%s: %w", op, ErrWriterState)
	}
	return nil
}

func (w *Writer) write(p []byte, op string) error {
	if _, err := w.out.Write(p); err != nil {
		w.state = stateFailed
		return &IOError{Op: op, Err: err}
	}
	return nil
}

// WriteHeaderPlaceholder writes the magic, resolution and fps.
// The audio size is written by WriteAudioRegion.
func (w *Writer) WriteHeaderPlaceholder(fps float64) error {
	if err := w.expect(stateBegun, "write header"); err != nil {
		return err
	}

	video, err := NewHeaderBuilder().WithVideoParams(w.columns, w.lines, fps)
	if err != nil {
		return err
	}
	if err := w.write(video.MarshalPlaceholder(), "write header"); err != nil {
		return err
	}

	w.video = video
	w.state = stateVideoParams
	return nil
}

// WriteAudioRegion completes the header and writes the audio payload.
// audio may be empty.
func (w *Writer) WriteAudioRegion(audio []byte) error {
	if err := w.expect(stateVideoParams, "write audio"); err != nil {
		return err
	}

	final := w.video.WithAudioPayload(audio)
	if err := w.write(final.marshalCompletion(), "write header"); err != nil {
		return err
	}
	if len(audio) != 0 {
		if err := w.write(audio, "write audio"); err != nil {
			return err
		}
	}

	w.header = final.Header()
	w.state = stateFrames
	return nil
}

// WriteAudioRegionFrom is WriteAudioRegion for a payload of size bytes
// that is read from r, for audio that was spilled to disk.
func (w *Writer) WriteAudioRegionFrom(r io.Reader, size uint64) error {
	if err := w.expect(stateVideoParams, "write audio"); err != nil {
		return err
	}

	final := w.video.WithAudioSize(size)
	if err := w.write(final.marshalCompletion(), "write header"); err != nil {
		return err
	}

	n, err := io.CopyN(w.out, r, int64(size))
	if err != nil {
		w.state = stateFailed
		if errors.Is(err, io.EOF) {
			return &IOError{
				Op:  "write audio",
				Err: fmt.Errorf("payload ended after %d of %d bytes: %w", n, size, io.ErrUnexpectedEOF),
			}
		}
		return &IOError{Op: "write audio", Err: err}
	}

	w.header = final.Header()
	w.state = stateFrames
	return nil
}

// WriteFrame appends a single frame. The frame must be exactly
// FrameSize bytes, frames are not length prefixed.
func (w *Writer) WriteFrame(frame []byte) error {
	if err := w.expect(stateFrames, "write frame"); err != nil {
		return err
	}
	if int64(len(frame)) != w.video.FrameSize() {
		return fmt.Errorf("%w: got %d, expected %d", ErrFrameSize, len(frame), w.video.FrameSize())
	}
	if err := w.write(frame, "write frame"); err != nil {
		return err
	}
	w.framesWritten++
	return nil
}

// Finalize flushes the file and moves it into place.
// A file without audio and frames is still valid.
func (w *Writer) Finalize() error {
	if err := w.expect(stateFrames, "finalize"); err != nil {
		return err
	}

	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			w.abort()
			return &IOError{Op: "sync", Err: err}
		}
		if err := w.file.Close(); err != nil {
			w.abort()
			return &IOError{Op: "close", Err: err}
		}
		if err := os.Rename(w.tmpPath, w.path); err != nil {
			w.abort()
			return &IOError{Op: "rename", Err: err}
		}
	}

	w.state = stateFinalized
	return nil
}

// Close discards the output unless Finalize succeeded.
func (w *Writer) Close() error {
	if w.state == stateFinalized {
		return nil
	}
	w.abort()
	return nil
}

func (w *Writer) abort() {
	w.state = stateFailed
	if w.file == nil {
		return
	}
	w.file.Close()
	os.Remove(w.tmpPath)
}
